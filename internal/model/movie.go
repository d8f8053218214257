package model

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// Movie 电影模型
type Movie struct {
	ID          int       `json:"id" db:"id" gorm:"primaryKey"`
	Title       string    `json:"title" db:"title" gorm:"size:255;not null;index"`
	Year        *int      `json:"year" db:"year" gorm:"index"`
	Genre       string    `json:"genre" db:"genre"` // 逗号分隔，如 "Drama, Crime"
	Description string    `json:"description" db:"description"`
	Image       string    `json:"image" db:"image"` // 相对 MEDIA_ROOT 的路径
	Emb         []byte    `json:"-" db:"emb"`       // 小端 float32 原始字节，无头部
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultImage 未匹配到海报时使用的默认图片
const DefaultImage = "movie/images/default.png"

// Genres 拆分类型列表
func (m *Movie) Genres() []string {
	if m.Genre == "" {
		return nil
	}
	res := []string{}
	for _, p := range strings.Split(m.Genre, ",") {
		if s := strings.TrimSpace(p); s != "" {
			res = append(res, s)
		}
	}
	return res
}

// PrimaryGenre 第一个类型（统计图使用）
func (m *Movie) PrimaryGenre() string {
	if m.Genre == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(m.Genre, ",")[0])
}

// HasEmbedding 是否已生成向量
func (m *Movie) HasEmbedding() bool {
	return len(m.Emb) > 0
}

// YearLabel 年份展示文本，没有年份或年份为 0 时为 "None"
func (m *Movie) YearLabel() string {
	if m.Year == nil || *m.Year == 0 {
		return "None"
	}
	return strconv.Itoa(*m.Year)
}

// ImageURL 海报的访问地址
func (m *Movie) ImageURL(mediaURL string) string {
	img := m.Image
	if img == "" {
		img = DefaultImage
	}
	if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img
	}
	if mediaURL == "" {
		mediaURL = "/media/"
	}
	return strings.TrimSuffix(mediaURL, "/") + "/" + path.Clean(strings.TrimPrefix(img, "/"))
}

// EmbeddingText 生成向量时使用的文本
func (m *Movie) EmbeddingText() string {
	if m.Description == "" {
		return m.Title
	}
	return m.Title + ": " + m.Description
}
