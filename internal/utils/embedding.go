package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/singleflight"

	"github.com/user/moviereviews/internal/config"
	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/metrics"
)

// ErrEmptyEmbedding 向量服务返回了空向量
var ErrEmptyEmbedding = errors.New("embedding service returned an empty vector")

// Embedder 文本转向量
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingClient 基于 langchaingo 的向量客户端，带熔断、超时、LRU 缓存和请求合并
type EmbeddingClient struct {
	provider string
	embedder embeddings.Embedder
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker[[]float32]
	cache    *SearchCache[[]float32]
	group    singleflight.Group
}

// NewEmbeddingClient 按配置创建 openai 或 ollama 客户端
func NewEmbeddingClient(cfg config.EmbeddingConfig) (*EmbeddingClient, error) {
	var (
		embedder embeddings.Embedder
		err      error
	)
	switch cfg.Provider {
	case "ollama":
		embedder, err = newOllamaEmbedder(cfg)
	case "openai", "":
		embedder, err = newOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewEmbeddingClientWith(cfg.Provider, embedder, cfg.Timeout, cfg.CacheSize, cfg.CacheTTL), nil
}

// NewEmbeddingClientWith 使用已有的 langchaingo Embedder 构造客户端
func NewEmbeddingClientWith(provider string, embedder embeddings.Embedder, timeout time.Duration, cacheSize int, cacheTTL time.Duration) *EmbeddingClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cacheSize <= 0 {
		cacheSize = 512
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	name := "embedding-" + provider
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[Embedding] 熔断器状态变化")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &EmbeddingClient{
		provider: provider,
		embedder: embedder,
		timeout:  timeout,
		cb:       cb,
		cache:    NewSearchCache[[]float32](cacheSize, cacheTTL),
	}
}

func newOpenAIEmbedder(cfg config.EmbeddingConfig) (embeddings.Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY required for openai provider", config.ErrInvalidConfig)
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}

func newOllamaEmbedder(cfg config.EmbeddingConfig) (embeddings.Embedder, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}

// Embed 生成单条文本的向量，相同文本命中缓存，并发的相同请求只调用一次
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if vec, ok := c.cache.Get(key); ok {
		metrics.RecordEmbedding(c.provider, "cache_hit")
		return cloneVector(vec), nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		vec, err := c.cb.Execute(func() ([]float32, error) {
			// 共享调用不随单个请求取消
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
			defer cancel()
			vec, err := c.embedder.EmbedQuery(callCtx, key)
			if err != nil {
				return nil, err
			}
			if len(vec) == 0 {
				return nil, ErrEmptyEmbedding
			}
			return vec, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				metrics.RecordEmbedding(c.provider, "rejected")
			} else {
				metrics.RecordEmbedding(c.provider, "failure")
			}
			return nil, err
		}
		metrics.RecordEmbedding(c.provider, "success")
		c.cache.Set(key, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneVector(res.Val.([]float32)), nil
	}
}

// Provider 当前向量服务名称
func (c *EmbeddingClient) Provider() string {
	return c.provider
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
