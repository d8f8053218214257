package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/metrics"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/utils"
)

// 推荐相关错误
var (
	ErrEmptyPrompt          = errors.New("prompt is empty")
	ErrNoCandidates         = errors.New("no movie with a usable embedding")
	ErrZeroVector           = errors.New("prompt embedding is zero or not finite")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// 跳过原因
const (
	skipMalformed = "malformed"
	skipDimension = "dimension"
	skipZero      = "zero"
)

// EmbeddedMovieLister 读取带向量的电影
type EmbeddedMovieLister interface {
	ListWithEmbeddings(ctx context.Context) ([]*model.Movie, error)
}

// Recommendation 推荐结果
type Recommendation struct {
	Movie      *model.Movie `json:"movie"`
	Similarity float64      `json:"similarity"`
	Skipped    int          `json:"skipped"`
}

// Score 页面展示的相似度
func (r *Recommendation) Score() string {
	return fmt.Sprintf("%.4f", r.Similarity)
}

// BestMatch 线性扫描，返回与 query 余弦相似度最高的电影
// 相同分数保留先出现的；向量损坏（含 NaN/Inf）、维度不一致或为零向量的行被跳过并计数
func BestMatch(query []float32, movies []*model.Movie) (*Recommendation, error) {
	if !utils.IsFinite(query) {
		return nil, fmt.Errorf("%w: %w", ErrZeroVector, utils.ErrNonFinite)
	}
	if utils.Magnitude(query) == 0 {
		return nil, ErrZeroVector
	}

	var (
		best    *model.Movie
		maxSim  float64
		skipped int
	)
	skip := func(m *model.Movie, reason string, err error) {
		skipped++
		metrics.RecordSkippedRow(reason)
		logging.Warn().Int("movie_id", m.ID).Str("title", m.Title).Str("reason", reason).Err(err).
			Msg("[Recommend] 跳过向量不可用的电影")
	}

	for _, m := range movies {
		vec, err := utils.DecodeEmbedding(m.Emb)
		if err != nil || len(vec) == 0 {
			skip(m, skipMalformed, err)
			continue
		}
		sim, err := utils.CosineSimilarity(query, vec)
		if err != nil {
			switch {
			case errors.Is(err, utils.ErrDimensionMismatch):
				skip(m, skipDimension, err)
			case errors.Is(err, utils.ErrNonFinite):
				skip(m, skipMalformed, err)
			default:
				skip(m, skipZero, err)
			}
			continue
		}
		if best == nil || sim > maxSim {
			best = m
			maxSim = sim
		}
	}

	if best == nil {
		return nil, ErrNoCandidates
	}
	return &Recommendation{Movie: best, Similarity: maxSim, Skipped: skipped}, nil
}

// RecommendationService 根据描述推荐电影
type RecommendationService struct {
	movies   EmbeddedMovieLister
	embedder utils.Embedder
}

// NewRecommendationService embedder 为 nil 时所有推荐返回 ErrEmbeddingUnavailable
func NewRecommendationService(movies EmbeddedMovieLister, embedder utils.Embedder) *RecommendationService {
	return &RecommendationService{
		movies:   movies,
		embedder: embedder,
	}
}

// Recommend 生成 prompt 向量并在全部电影中查找最相似的一部
func (s *RecommendationService) Recommend(ctx context.Context, prompt string) (*Recommendation, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding client configured", ErrEmbeddingUnavailable)
	}

	start := time.Now()
	defer func() { metrics.RecommendDuration.Observe(time.Since(start).Seconds()) }()

	query, err := s.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	movies, err := s.movies.ListWithEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading movies: %w", err)
	}

	rec, err := BestMatch(query, movies)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Int("movie_id", rec.Movie.ID).Float64("similarity", rec.Similarity).
		Int("scanned", len(movies)).Int("skipped", rec.Skipped).Msg("[Recommend] 推荐完成")
	return rec, nil
}
