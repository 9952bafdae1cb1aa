package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedfanout/internal/model"
)

// NewsFeedStore newsfeed 持久化接口，单库与分库分表两种实现可互换
type NewsFeedStore interface {
	// BulkInsert 批量写入，(user_id, tweet_id) 已存在的行被忽略，返回实际新增行数
	BulkInsert(ctx context.Context, feeds []model.NewsFeed) (int64, error)

	// Range 按 score DESC, id DESC 返回 owner 在 bounds 内的前 limit 条
	Range(ctx context.Context, ownerID string, bounds model.FeedBounds, limit int) ([]model.NewsFeed, error)

	// Count 统计某用户的 newsfeed 数量
	Count(ctx context.Context, ownerID string) (int64, error)

	// CountAll 统计全部 newsfeed
	CountAll(ctx context.Context) (int64, error)

	// InitSchema 初始化表结构
	InitSchema() error

	// Close 释放 store 自己持有的连接
	Close() error
}

const insertBatchSize = 500

// NewNewsFeedStore 按 backend 选择实现；single 复用主库，sharded 使用独立分库
func NewNewsFeedStore(backend string, main *gorm.DB, shards []*gorm.DB, tables int) (NewsFeedStore, error) {
	switch backend {
	case "", "single":
		return NewSingleNewsFeedStore(main), nil
	case "sharded":
		return NewShardedNewsFeedStore(shards, tables)
	default:
		return nil, fmt.Errorf("unknown feed store backend %q", backend)
	}
}

func applyBounds(q *gorm.DB, bounds model.FeedBounds) *gorm.DB {
	if bounds.Before != 0 {
		if bounds.BeforeID != "" {
			q = q.Where("(score < ? OR (score = ? AND id < ?))", bounds.Before, bounds.Before, bounds.BeforeID)
		} else {
			q = q.Where("score < ?", bounds.Before)
		}
	}
	if bounds.After != 0 {
		if bounds.AfterID != "" {
			q = q.Where("(score > ? OR (score = ? AND id > ?))", bounds.After, bounds.After, bounds.AfterID)
		} else {
			q = q.Where("score > ?", bounds.After)
		}
	}
	return q
}
