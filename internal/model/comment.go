package model

import "time"

// Comment 只能评论 tweet
type Comment struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID     string    `json:"user_id" gorm:"type:varchar(36);not null"`
	TweetID    string    `json:"tweet_id" gorm:"type:varchar(36);index:idx_comment_tweet_created;not null"`
	Content    string    `json:"content" gorm:"type:varchar(140);not null"`
	LikesCount int64     `json:"likes_count" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"index:idx_comment_tweet_created"`
}

func (Comment) TableName() string { return "comments" }
