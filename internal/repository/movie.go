package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/moviereviews/internal/model"
)

// 空向量与 NULL 同样视为没有向量
const (
	hasEmbedding = "emb IS NOT NULL AND LENGTH(emb) > 0"
	noEmbedding  = "emb IS NULL OR LENGTH(emb) = 0"
)

// listColumns 列表查询不取向量列
var listColumns = []string{"id", "title", "year", "genre", "description", "image", "created_at", "updated_at"}

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// escapeLike 转义 LIKE 通配符
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Search 标题包含 term（不区分大小写），term 为空时返回全部
func (r *MovieRepository) Search(ctx context.Context, term string) ([]*model.Movie, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return r.ListAll(ctx)
	}
	var movies []*model.Movie
	err := r.db.WithContext(ctx).
		Select(listColumns).
		Where(`LOWER(title) LIKE LOWER(?) ESCAPE '\'`, "%"+escapeLike(term)+"%").
		Order("title ASC").Order("id ASC").
		Find(&movies).Error
	return movies, err
}

// ListAll 按标题排序的全部电影（不含向量）
func (r *MovieRepository) ListAll(ctx context.Context) ([]*model.Movie, error) {
	var movies []*model.Movie
	err := r.db.WithContext(ctx).
		Select(listColumns).
		Order("title ASC").Order("id ASC").
		Find(&movies).Error
	return movies, err
}

// ListByID 按 ID 升序的全部电影（不含向量）
func (r *MovieRepository) ListByID(ctx context.Context) ([]*model.Movie, error) {
	var movies []*model.Movie
	err := r.db.WithContext(ctx).
		Select(listColumns).
		Order("id ASC").
		Find(&movies).Error
	return movies, err
}

// ListWithEmbeddings 有向量的电影，按 ID 升序
func (r *MovieRepository) ListWithEmbeddings(ctx context.Context) ([]*model.Movie, error) {
	var movies []*model.Movie
	err := r.db.WithContext(ctx).
		Where(hasEmbedding).
		Order("id ASC").
		Find(&movies).Error
	return movies, err
}

// ListForEmbedding 需要生成向量的电影，force 为 true 时返回全部
func (r *MovieRepository) ListForEmbedding(ctx context.Context, force bool) ([]*model.Movie, error) {
	var movies []*model.Movie
	q := r.db.WithContext(ctx).Select(listColumns).Order("id ASC")
	if !force {
		q = q.Where(noEmbedding)
	}
	err := q.Find(&movies).Error
	return movies, err
}

// FindByID 根据 ID 查找电影
func (r *MovieRepository) FindByID(ctx context.Context, id int) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.WithContext(ctx).First(&movie, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// FindByTitle 根据标题精确查找（多条时取 ID 最小的）
func (r *MovieRepository) FindByTitle(ctx context.Context, title string) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.WithContext(ctx).Where("title = ?", title).Order("id ASC").First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// RandomWithEmbedding 随机取一部有向量的电影
func (r *MovieRepository) RandomWithEmbedding(ctx context.Context) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.WithContext(ctx).
		Where(hasEmbedding).
		Order(clause.Expr{SQL: "RANDOM()"}).
		First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// Create 创建电影
func (r *MovieRepository) Create(ctx context.Context, movie *model.Movie) error {
	return r.db.WithContext(ctx).Create(movie).Error
}

// Update 更新基础信息（不改动向量）
func (r *MovieRepository) Update(ctx context.Context, movie *model.Movie) error {
	movie.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Model(&model.Movie{ID: movie.ID}).
		Select("title", "year", "genre", "description", "image", "updated_at").
		Updates(movie).Error
}

// UpdateImage 更新海报路径
func (r *MovieRepository) UpdateImage(ctx context.Context, id int, image string) error {
	return r.db.WithContext(ctx).Model(&model.Movie{}).Where("id = ?", id).
		Updates(map[string]interface{}{"image": image, "updated_at": time.Now()}).Error
}

// UpdateEmbedding 写入向量字节
func (r *MovieRepository) UpdateEmbedding(ctx context.Context, id int, emb []byte) error {
	return r.db.WithContext(ctx).Model(&model.Movie{}).Where("id = ?", id).
		Updates(map[string]interface{}{"emb": emb, "updated_at": time.Now()}).Error
}

// Delete 删除电影
func (r *MovieRepository) Delete(ctx context.Context, id int) error {
	return r.db.WithContext(ctx).Delete(&model.Movie{}, id).Error
}

// Count 电影总数
func (r *MovieRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Movie{}).Count(&count).Error
	return count, err
}

// UpsertByTitle 按标题创建或更新，返回是否为新建
func (r *MovieRepository) UpsertByTitle(ctx context.Context, movie *model.Movie) (bool, error) {
	existing, err := r.FindByTitle(ctx, movie.Title)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, r.Create(ctx, movie)
	}
	movie.ID = existing.ID
	if movie.Image == "" {
		movie.Image = existing.Image
	}
	return false, r.Update(ctx, movie)
}
