package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/utils"
)

// ErrMissingColumn CSV 缺少必需列
var ErrMissingColumn = errors.New("missing required column")

// MovieUpserter 按标题写入电影
type MovieUpserter interface {
	UpsertByTitle(ctx context.Context, movie *model.Movie) (bool, error)
}

// ImportReport 导入结果
type ImportReport struct {
	Created int
	Updated int
	Skipped int
}

// Importer CSV 导入，表头 title,genre,year,description[,image]
type Importer struct {
	store MovieUpserter
}

// NewImporter 创建导入器
func NewImporter(store MovieUpserter) *Importer {
	return &Importer{store: store}
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return idx
}

func field(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Import 逐行导入，无标题或年份非法的行跳过
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx := headerIndex(header)
	if _, ok := idx["title"]; !ok {
		return nil, fmt.Errorf("%w: title", ErrMissingColumn)
	}

	report := &ImportReport{}
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return report, fmt.Errorf("line %d: %w", line, err)
		}

		movie := &model.Movie{
			Title:       field(row, idx, "title"),
			Genre:       field(row, idx, "genre"),
			Description: field(row, idx, "description"),
			Image:       field(row, idx, "image"),
		}
		if movie.Title == "" {
			report.Skipped++
			continue
		}
		if y := field(row, idx, "year"); y != "" {
			year, err := strconv.Atoi(y)
			if err != nil {
				report.Skipped++
				logging.Warn().Int("line", line).Str("year", y).Msg("[Import] 年份格式错误，跳过")
				continue
			}
			if year != 0 {
				movie.Year = &year
			}
		}

		created, err := im.store.UpsertByTitle(ctx, movie)
		if err != nil {
			return report, fmt.Errorf("line %d: saving %q: %w", line, movie.Title, err)
		}
		if created {
			report.Created++
		} else {
			report.Updated++
		}
	}

	utils.InvalidateStatistics()
	logging.Info().Int("created", report.Created).Int("updated", report.Updated).Int("skipped", report.Skipped).
		Msg("[Import] 导入完成")
	return report, nil
}
