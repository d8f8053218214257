package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/user/moviereviews/internal/logging"
	"github.com/user/moviereviews/internal/model"
	"github.com/user/moviereviews/internal/utils"
)

// DefaultImagesDir 海报目录（相对工作目录）
const DefaultImagesDir = "media/movie/images"

// imageDirURL 写入数据库的海报路径前缀（相对 MEDIA_ROOT）
const imageDirURL = "movie/images"

// ImagesDir MEDIA_ROOT 下的海报目录，mediaRoot 为空时使用 DefaultImagesDir
func ImagesDir(mediaRoot string) string {
	if mediaRoot == "" {
		return DefaultImagesDir
	}
	return filepath.Join(mediaRoot, filepath.FromSlash(imageDirURL))
}

// ErrImagesDirMissing 海报目录不存在
var ErrImagesDirMissing = errors.New("images directory does not exist")

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// IsImageFile 扩展名是否为支持的图片格式（不区分大小写）
func IsImageFile(filename string) bool {
	_, ext := utils.SplitExt(filename)
	return imageExts[strings.ToLower(ext)]
}

// ImageIndex 归一化文件名到文件名的索引，保留插入顺序
type ImageIndex struct {
	keys  []string
	files map[string]string
}

// NewImageIndex 从文件名列表构建索引，重复键保留首次出现的位置、最后出现的文件名
func NewImageIndex(filenames []string) *ImageIndex {
	idx := &ImageIndex{files: make(map[string]string, len(filenames))}
	for _, name := range filenames {
		key := utils.FileKey(name)
		if _, ok := idx.files[key]; !ok {
			idx.keys = append(idx.keys, key)
		}
		idx.files[key] = name
	}
	return idx
}

// BuildImageIndex 扫描目录中的图片文件（只看普通文件）
func BuildImageIndex(dir string) (*ImageIndex, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrImagesDirMissing, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !IsImageFile(e.Name()) {
			continue
		}
		// 跟随符号链接判断是否为普通文件
		fi, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	return NewImageIndex(names), nil
}

// Len 索引条数
func (idx *ImageIndex) Len() int {
	return len(idx.keys)
}

// Match 先精确匹配，再按插入顺序做双向包含匹配
func (idx *ImageIndex) Match(title string) (string, bool) {
	norm := utils.NormalizeTitle(title)
	if norm == "" {
		return "", false
	}
	if f, ok := idx.files[norm]; ok {
		return f, true
	}
	for _, key := range idx.keys {
		if key == "" {
			continue
		}
		if strings.Contains(norm, key) || strings.Contains(key, norm) {
			return idx.files[key], true
		}
	}
	return "", false
}

// MovieImageStore 海报更新需要的数据访问
type MovieImageStore interface {
	ListByID(ctx context.Context) ([]*model.Movie, error)
	UpdateImage(ctx context.Context, id int, image string) error
}

// ImageUpdateReport 更新结果
type ImageUpdateReport struct {
	Matched   int
	Unmatched int
	Failed    int
}

// ImageUpdater 按文件名为电影分配海报
type ImageUpdater struct {
	store  MovieImageStore
	dir    string
	stdout io.Writer
	stderr io.Writer
}

// NewImageUpdater 创建海报更新器，dir 为空时使用 DefaultImagesDir
func NewImageUpdater(store MovieImageStore, dir string, stdout, stderr io.Writer) *ImageUpdater {
	if dir == "" {
		dir = DefaultImagesDir
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &ImageUpdater{store: store, dir: dir, stdout: stdout, stderr: stderr}
}

// Run 遍历所有电影：匹配到的使用对应图片，否则使用默认图片
// 目录不存在时只输出提示，不返回错误
func (u *ImageUpdater) Run(ctx context.Context) (*ImageUpdateReport, error) {
	report := &ImageUpdateReport{}

	idx, err := BuildImageIndex(u.dir)
	if err != nil {
		if errors.Is(err, ErrImagesDirMissing) {
			fmt.Fprintf(u.stderr, "目录不存在: %s\n", u.dir)
			return report, nil
		}
		return nil, err
	}

	movies, err := u.store.ListByID(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading movies: %w", err)
	}

	for _, m := range movies {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		chosen, ok := idx.Match(m.Title)
		image := model.DefaultImage
		if ok {
			image = path.Join(imageDirURL, chosen)
		}
		if err := u.store.UpdateImage(ctx, m.ID, image); err != nil {
			report.Failed++
			logging.Error().Err(err).Int("movie_id", m.ID).Msg("[Images] 保存海报失败")
			fmt.Fprintf(u.stderr, "保存失败: %s (%v)\n", m.Title, err)
			continue
		}

		if ok {
			report.Matched++
			fmt.Fprintf(u.stdout, "已分配图片: %s → %s\n", m.Title, chosen)
		} else {
			report.Unmatched++
			fmt.Fprintf(u.stderr, "未找到图片: %s，已使用默认图片\n", m.Title)
		}
	}

	fmt.Fprintf(u.stdout, "共更新电影: %d\n", report.Matched)
	logging.Info().Int("matched", report.Matched).Int("unmatched", report.Unmatched).Int("indexed", idx.Len()).
		Msg("[Images] 海报更新完成")
	return report, nil
}
