package model

import (
	"time"
)

// 用户角色
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 用户模型
type User struct {
	ID           int       `json:"id" db:"id" gorm:"primaryKey"`
	Email        string    `json:"email" db:"email" gorm:"size:255;uniqueIndex;not null"`
	Username     string    `json:"username" db:"username" gorm:"size:150;uniqueIndex;not null"`
	PasswordHash string    `json:"-" db:"password_hash" gorm:"not null"`
	Role         string    `json:"role" db:"role" gorm:"size:20;default:user"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// IsAdmin 是否管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session 转换为 Session 存储结构
func (u *User) Session() SessionUser {
	return SessionUser{ID: u.ID, Email: u.Email, Username: u.Username, Role: u.Role}
}

// SessionUser 专门用于 Session 存储的用户信息结构
type SessionUser struct {
	ID       int
	Email    string
	Username string
	Role     string
}
