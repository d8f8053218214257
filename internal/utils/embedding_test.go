package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/moviereviews/internal/config"
)

type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	vec   []float32
	err   error
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := s.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestEmbeddingClient_Cache(t *testing.T) {
	stub := &stubEmbedder{vec: []float32{0.1, 0.2}}
	client := NewEmbeddingClientWith("test-cache", stub, time.Second, 8, time.Minute)

	v1, err := client.Embed(context.Background(), "space opera")
	require.NoError(t, err)
	v1[0] = 99

	v2, err := client.Embed(context.Background(), "  space opera ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, v2)
	assert.Equal(t, 1, stub.Calls())
	assert.Equal(t, "test-cache", client.Provider())
}

func TestEmbeddingClient_EmptyVector(t *testing.T) {
	stub := &stubEmbedder{}
	client := NewEmbeddingClientWith("test-empty", stub, time.Second, 8, time.Minute)

	_, err := client.Embed(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestEmbeddingClient_BreakerOpens(t *testing.T) {
	boom := errors.New("upstream down")
	stub := &stubEmbedder{err: boom}
	client := NewEmbeddingClientWith("test-breaker", stub, time.Second, 8, time.Minute)

	for i := 0; i < 5; i++ {
		_, err := client.Embed(context.Background(), "query")
		require.ErrorIs(t, err, boom)
	}

	_, err := client.Embed(context.Background(), "query")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, stub.Calls())
}

func TestNewEmbeddingClient_OpenAIRequiresKey(t *testing.T) {
	_, err := NewEmbeddingClient(config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Timeout: time.Second})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewEmbeddingClient(config.EmbeddingConfig{Provider: "cohere"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

type blockingEmbedder struct {
	stubEmbedder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.stubEmbedder.EmbedQuery(ctx, text)
}

func TestEmbeddingClient_CollapsesConcurrentPrompts(t *testing.T) {
	stub := &blockingEmbedder{
		stubEmbedder: stubEmbedder{vec: []float32{0.3, 0.4}},
		started:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	client := NewEmbeddingClientWith("test-collapse", stub, 5*time.Second, 8, time.Minute)

	const n = 8
	results := make([][]float32, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Embed(context.Background(), "a quiet western")
		}(i)
	}

	<-stub.started
	time.Sleep(50 * time.Millisecond)
	close(stub.release)
	wg.Wait()

	assert.Equal(t, 1, stub.Calls())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []float32{0.3, 0.4}, results[i])
	}

	// 每个调用方拿到独立的切片
	results[0][0] = 42
	for i := 1; i < n; i++ {
		assert.Equal(t, float32(0.3), results[i][0])
	}
}
