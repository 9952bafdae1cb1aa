package model

import "time"

// User 账号主体（认证相关字段不在本服务）
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Username  string    `json:"username" gorm:"type:varchar(64);uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// UserProfile 用户资料，历史用户可能没有，按需创建
type UserProfile struct {
	UserID    string    `json:"user_id" gorm:"primaryKey;type:varchar(36)"`
	Nickname  string    `json:"nickname" gorm:"type:varchar(64)"`
	AvatarURL string    `json:"avatar_url" gorm:"type:varchar(255)"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string { return "user_profiles" }
