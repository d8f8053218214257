package model

import "time"

// News 站点新闻
type News struct {
	ID        int       `json:"id" db:"id" gorm:"primaryKey"`
	Headline  string    `json:"headline" db:"headline" gorm:"size:200;not null"`
	Body      string    `json:"body" db:"body"`
	Date      time.Time `json:"date" db:"date" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DateLabel 发布日期
func (n *News) DateLabel() string {
	return n.Date.Format("2006-01-02")
}
