package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/golang/freetype/truetype"
	"github.com/wcharczuk/go-chart/v2"
	"golang.org/x/sync/errgroup"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/metrics"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/utils"
)

// NoneLabel 缺失年份或类型的分组名
const NoneLabel = "None"

// chartCacheTTL 统计图缓存时间
const chartCacheTTL = 5 * time.Minute

// ErrNoData 没有可绘制的数据
var ErrNoData = errors.New("no data to chart")

// Count 分组计数
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Counts 统计结果
type Counts struct {
	Total   int     `json:"total"`
	ByYear  []Count `json:"by_year"`
	ByGenre []Count `json:"by_genre"`
}

// Charts base64 编码的 PNG
type Charts struct {
	Year  string
	Genre string
}

// ChartLabels 统计图标题和坐标轴名称
type ChartLabels struct {
	Title  string
	XLabel string
	YLabel string
}

// 内置字体只有拉丁字形，配置了中文字体才使用中文标签
var (
	yearLabels       = ChartLabels{Title: "Movies per Year", XLabel: "Year", YLabel: "Number of movies"}
	genreLabels      = ChartLabels{Title: "Movies per Genre", XLabel: "Genre", YLabel: "Number of movies"}
	yearLabelsLocal  = ChartLabels{Title: "每年电影数量", XLabel: "年份", YLabel: "电影数量"}
	genreLabelsLocal = ChartLabels{Title: "各类型电影数量", XLabel: "类型", YLabel: "电影数量"}
)

// LoadChartFont 读取 TTF 字体
func LoadChartFont(path string) (*truetype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chart font: %w", err)
	}
	font, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing chart font %s: %w", path, err)
	}
	return font, nil
}

// MovieLister 读取全部电影
type MovieLister interface {
	ListAll(ctx context.Context) ([]*model.Movie, error)
}

// StatisticsService 电影统计
type StatisticsService struct {
	movies MovieLister
	font   *truetype.Font
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(movies MovieLister) *StatisticsService {
	return &StatisticsService{movies: movies}
}

// SetFont 设置统计图字体，nil 表示使用内置字体
func (s *StatisticsService) SetFont(font *truetype.Font) {
	s.font = font
}

// labels 年份图和类型图的标签
func (s *StatisticsService) labels() (year, genre ChartLabels) {
	if s.font != nil {
		return yearLabelsLocal, genreLabelsLocal
	}
	return yearLabels, genreLabels
}

// CountMovies 按年份和第一个类型分组计数
// 年份升序，None 排最后；类型按数量降序，数量相同按名称
func CountMovies(movies []*model.Movie) *Counts {
	years := map[string]int{}
	genres := map[string]int{}
	for _, m := range movies {
		years[m.YearLabel()]++
		g := m.PrimaryGenre()
		if g == "" {
			g = NoneLabel
		}
		genres[g]++
	}

	byYear := toCounts(years)
	sort.SliceStable(byYear, func(i, j int) bool {
		a, b := byYear[i].Label, byYear[j].Label
		if a == NoneLabel || b == NoneLabel {
			return b == NoneLabel && a != NoneLabel
		}
		ya, _ := strconv.Atoi(a)
		yb, _ := strconv.Atoi(b)
		return ya < yb
	})

	byGenre := toCounts(genres)
	sort.SliceStable(byGenre, func(i, j int) bool {
		if byGenre[i].Count != byGenre[j].Count {
			return byGenre[i].Count > byGenre[j].Count
		}
		return byGenre[i].Label < byGenre[j].Label
	})

	return &Counts{Total: len(movies), ByYear: byYear, ByGenre: byGenre}
}

func toCounts(m map[string]int) []Count {
	res := make([]Count, 0, len(m))
	for k, v := range m {
		res = append(res, Count{Label: k, Count: v})
	}
	return res
}

// Counts 统计计数（带缓存）
func (s *StatisticsService) Counts(ctx context.Context) (*Counts, error) {
	if v, ok := utils.CacheGet(utils.CacheKeyStatisticsCounts); ok {
		return v.(*Counts), nil
	}
	movies, err := s.movies.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading movies: %w", err)
	}
	counts := CountMovies(movies)
	utils.CacheSet(utils.CacheKeyStatisticsCounts, counts, chartCacheTTL)
	return counts, nil
}

// Charts 生成年份和类型两张柱状图，空库返回 nil
func (s *StatisticsService) Charts(ctx context.Context) (*Charts, *Counts, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return nil, nil, err
	}
	if counts.Total == 0 {
		return nil, counts, nil
	}

	if v, ok := utils.CacheGet(utils.CacheKeyStatisticsCharts); ok {
		metrics.ChartCacheHits.Inc()
		return v.(*Charts), counts, nil
	}
	metrics.ChartCacheMisses.Inc()

	charts := &Charts{}
	yl, gl := s.labels()
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := RenderBarChart(counts.ByYear, yl, s.font)
		charts.Year = img
		return err
	})
	g.Go(func() error {
		img, err := RenderBarChart(counts.ByGenre, gl, s.font)
		charts.Genre = img
		return err
	})
	if err := g.Wait(); err != nil {
		logging.Error().Err(err).Msg("[Statistics] 生成统计图失败")
		return nil, counts, err
	}

	utils.CacheSet(utils.CacheKeyStatisticsCharts, charts, chartCacheTTL)
	return charts, counts, nil
}

// RenderBarChart 绘制柱状图并返回 base64 编码的 PNG，font 为 nil 时使用内置字体
func RenderBarChart(counts []Count, labels ChartLabels, font *truetype.Font) (string, error) {
	if len(counts) == 0 {
		return "", ErrNoData
	}

	bars := make([]chart.Value, 0, len(counts))
	maxCount := 0
	for _, c := range counts {
		bars = append(bars, chart.Value{Value: float64(c.Count), Label: c.Label})
		if c.Count > maxCount {
			maxCount = c.Count
		}
	}

	barWidth := 600 / len(bars)
	if barWidth > 40 {
		barWidth = 40
	}
	if barWidth < 4 {
		barWidth = 4
	}

	const width, height = 800, 420
	graph := chart.BarChart{
		Title:    labels.Title,
		Font:     font,
		Width:    width,
		Height:   height,
		BarWidth: barWidth,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Bottom: 40},
		},
		XAxis: chart.Style{
			TextRotationDegrees: 90,
		},
		YAxis: chart.YAxis{
			Name: labels.YLabel,
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: float64(maxCount) + 1,
			},
		},
		Bars:     bars,
		Elements: []chart.Renderable{xAxisName(labels.XLabel, height)},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return "", fmt.Errorf("rendering %q chart: %w", labels.Title, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// xAxisName 在图底部居中绘制 X 轴名称
func xAxisName(name string, height int) chart.Renderable {
	return func(r chart.Renderer, canvasBox chart.Box, defaults chart.Style) {
		style := chart.Style{
			Font:      defaults.Font,
			FontSize:  chart.DefaultAxisFontSize,
			FontColor: chart.DefaultTextColor,
		}
		tb := chart.Draw.MeasureText(r, name, style)
		x := canvasBox.Left + (canvasBox.Width()-tb.Width())/2
		chart.Draw.Text(r, name, x, height-12, style)
	}
}
