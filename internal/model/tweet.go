package model

import "time"

// Tweet 推文；计数字段由点赞/评论写路径维护
type Tweet struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID        string    `json:"user_id" gorm:"type:varchar(36);index:idx_tweet_user_created;not null"`
	Content       string    `json:"content" gorm:"type:varchar(255);not null"`
	LikesCount    int64     `json:"likes_count" gorm:"not null;default:0"`
	CommentsCount int64     `json:"comments_count" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at" gorm:"index:idx_tweet_user_created;not null"`
}

func (Tweet) TableName() string { return "tweets" }

// Ref 作者时间线中的条目，id 即 tweet id
func (t *Tweet) Ref() FeedRef {
	return FeedRef{ID: t.ID, TweetID: t.ID, Score: NormalizeTime(t.CreatedAt).UnixMicro()}
}
