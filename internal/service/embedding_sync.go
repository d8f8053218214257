package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/utils"
)

// MovieEmbeddingStore 向量回填需要的数据访问
type MovieEmbeddingStore interface {
	ListForEmbedding(ctx context.Context, force bool) ([]*model.Movie, error)
	UpdateEmbedding(ctx context.Context, id int, emb []byte) error
}

// EmbeddingSyncReport 回填结果
type EmbeddingSyncReport struct {
	Embedded  int
	Failed    int
	Dimension int
}

// EmbeddingSyncService 为电影生成并保存向量
type EmbeddingSyncService struct {
	store    MovieEmbeddingStore
	embedder utils.Embedder
	out      io.Writer
}

// NewEmbeddingSyncService out 为 nil 时不输出进度
func NewEmbeddingSyncService(store MovieEmbeddingStore, embedder utils.Embedder, out io.Writer) *EmbeddingSyncService {
	if out == nil {
		out = io.Discard
	}
	return &EmbeddingSyncService{store: store, embedder: embedder, out: out}
}

// Run 为缺少向量的电影生成向量，force 为 true 时全部重新生成
// 单部失败只记录，不中断
func (s *EmbeddingSyncService) Run(ctx context.Context, force bool) (*EmbeddingSyncReport, error) {
	if s.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	movies, err := s.store.ListForEmbedding(ctx, force)
	if err != nil {
		return nil, fmt.Errorf("loading movies: %w", err)
	}

	report := &EmbeddingSyncReport{}
	for _, m := range movies {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		vec, err := s.embedder.Embed(ctx, m.EmbeddingText())
		if err != nil {
			report.Failed++
			logging.Warn().Err(err).Int("movie_id", m.ID).Msg("[EmbeddingSync] 生成向量失败")
			continue
		}
		if report.Dimension == 0 {
			report.Dimension = len(vec)
		} else if len(vec) != report.Dimension {
			report.Failed++
			logging.Warn().Int("movie_id", m.ID).Int("dim", len(vec)).Int("expected", report.Dimension).
				Msg("[EmbeddingSync] 向量维度不一致，跳过")
			continue
		}
		if err := s.store.UpdateEmbedding(ctx, m.ID, utils.EncodeEmbedding(vec)); err != nil {
			report.Failed++
			logging.Error().Err(err).Int("movie_id", m.ID).Msg("[EmbeddingSync] 保存向量失败")
			continue
		}
		report.Embedded++
		fmt.Fprintf(s.out, "已生成向量: %s (%d)\n", m.Title, len(vec))
	}

	logging.Info().Int("embedded", report.Embedded).Int("failed", report.Failed).Msg("[EmbeddingSync] 向量回填完成")
	return report, nil
}

// Start 按固定间隔在后台回填缺失的向量，ctx 取消后退出
func (s *EmbeddingSyncService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.embedder == nil {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx, false); err != nil {
					logging.Error().Err(err).Msg("[EmbeddingSync] 定时回填失败")
				}
			}
		}
	}()
}

// EmbeddingPreview 输出电影标题、向量维度和前 n 个分量
func EmbeddingPreview(m *model.Movie, n int) (string, error) {
	vec, err := utils.DecodeEmbedding(m.Emb)
	if err != nil {
		return "", err
	}
	if n > len(vec) {
		n = len(vec)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("% .4f", vec[i])
	}
	return fmt.Sprintf("电影: %s\n维度: %d\n前 %d 个分量: %s", m.Title, len(vec), n, strings.Join(parts, " | ")), nil
}
