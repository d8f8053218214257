package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/user/moviereviews/internal/model"
)

type NewsRepository struct {
	db *gorm.DB
}

func NewNewsRepository(db *gorm.DB) *NewsRepository {
	return &NewsRepository{db: db}
}

// List 按日期倒序，limit <= 0 表示全部
func (r *NewsRepository) List(ctx context.Context, limit int) ([]*model.News, error) {
	var items []*model.News
	q := r.db.WithContext(ctx).Order("date DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// FindByID 不存在返回 nil, nil
func (r *NewsRepository) FindByID(ctx context.Context, id int) (*model.News, error) {
	var n model.News
	err := r.db.WithContext(ctx).First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NewsRepository) Create(ctx context.Context, n *model.News) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// Delete 删除新闻，返回是否存在
func (r *NewsRepository) Delete(ctx context.Context, id int) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&model.News{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
