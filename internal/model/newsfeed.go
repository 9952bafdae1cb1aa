package model

import (
	"time"

	"github.com/google/uuid"
)

// feedNamespace 用于派生确定性的 newsfeed id，重试写入时 id 不变
var feedNamespace = uuid.MustParse("6f1c6f4e-3b0a-4d8e-9a57-0e4a2c1d9b21")

// NewsFeed 时间线项：tweet 出现在 user 的 feed 中，按 user_id 切分。
// Score 为 tweet 创建时间的 unix 微秒，是排序与游标的唯一依据。
type NewsFeed struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);uniqueIndex:ux_newsfeed_user_tweet;index:idx_newsfeed_user_score,priority:1;not null"`
	TweetID   string    `json:"tweet_id" gorm:"type:varchar(36);uniqueIndex:ux_newsfeed_user_tweet;index:idx_newsfeed_tweet;not null"`
	Score     int64     `json:"score" gorm:"index:idx_newsfeed_user_score,priority:2;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (NewsFeed) TableName() string { return "newsfeeds" }

// NewNewsFeed 构造 owner 的 feed 项，时间取自 tweet 而不是当前时间
func NewNewsFeed(ownerID string, tweet *Tweet) NewsFeed {
	ts := NormalizeTime(tweet.CreatedAt)
	return NewsFeed{
		ID:        FeedID(ownerID, tweet.ID),
		UserID:    ownerID,
		TweetID:   tweet.ID,
		Score:     ts.UnixMicro(),
		CreatedAt: ts,
	}
}

// FeedID 由 (owner, tweet) 派生
func FeedID(ownerID, tweetID string) string {
	return uuid.NewSHA1(feedNamespace, []byte(ownerID+"/"+tweetID)).String()
}

// Ref 缓存中保存的最小投影
func (f NewsFeed) Ref() FeedRef {
	return FeedRef{ID: f.ID, TweetID: f.TweetID, Score: f.Score}
}

// FeedRef newsfeed 的最小投影，字段顺序即缓存 member 的编码顺序
type FeedRef struct {
	ID      string `json:"id"`
	TweetID string `json:"tweet_id"`
	Score   int64  `json:"score"`
}

// CreatedAt 由 Score 还原时间
func (r FeedRef) CreatedAt() time.Time {
	return time.UnixMicro(r.Score).UTC()
}

// Less 按 (score, id) 比较，newsfeed 全局以该顺序倒序排列
func (r FeedRef) Less(o FeedRef) bool {
	if r.Score != o.Score {
		return r.Score < o.Score
	}
	return r.ID < o.ID
}

// NormalizeTime 统一为 UTC 微秒精度，保证库与缓存中的时间可比
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FeedBounds 游标范围（开区间），0 表示该侧不限。
// 同一 score 可能有多条，带上 id 时按 (score, id) 比较，翻页不会跳过或重复同分条目。
type FeedBounds struct {
	Before   int64  // score < Before，对应 created_at__lt
	BeforeID string // 非空时 (score, id) < (Before, BeforeID)
	After    int64  // score > After，对应 created_at__gt
	AfterID  string // 非空时 (score, id) > (After, AfterID)
}

// Contains 判断 ref 是否落在范围内
func (b FeedBounds) Contains(r FeedRef) bool {
	if b.Before != 0 && !r.Less(FeedRef{Score: b.Before, ID: b.BeforeID}) {
		return false
	}
	if b.After == 0 {
		return true
	}
	if b.AfterID == "" {
		return r.Score > b.After
	}
	return FeedRef{Score: b.After, ID: b.AfterID}.Less(r)
}
