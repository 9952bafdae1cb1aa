package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedfanout/internal/model"
)

// SingleNewsFeedStore 单库实现，newsfeeds 与其它表共用主库
type SingleNewsFeedStore struct {
	db *gorm.DB
}

// NewSingleNewsFeedStore 主库连接由调用方管理
func NewSingleNewsFeedStore(db *gorm.DB) *SingleNewsFeedStore {
	return &SingleNewsFeedStore{db: db}
}

func (s *SingleNewsFeedStore) BulkInsert(ctx context.Context, feeds []model.NewsFeed) (int64, error) {
	if len(feeds) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&feeds, insertBatchSize)
	return res.RowsAffected, res.Error
}

func (s *SingleNewsFeedStore) Range(ctx context.Context, ownerID string, bounds model.FeedBounds, limit int) ([]model.NewsFeed, error) {
	var feeds []model.NewsFeed
	q := applyBounds(s.db.WithContext(ctx).Where("user_id = ?", ownerID), bounds)
	err := q.Order("score DESC, id DESC").Limit(limit).Find(&feeds).Error
	return feeds, err
}

func (s *SingleNewsFeedStore) Count(ctx context.Context, ownerID string) (int64, error) {
	var cnt int64
	err := s.db.WithContext(ctx).Model(&model.NewsFeed{}).Where("user_id = ?", ownerID).Count(&cnt).Error
	return cnt, err
}

func (s *SingleNewsFeedStore) CountAll(ctx context.Context) (int64, error) {
	var cnt int64
	err := s.db.WithContext(ctx).Model(&model.NewsFeed{}).Count(&cnt).Error
	return cnt, err
}

func (s *SingleNewsFeedStore) InitSchema() error {
	if err := s.db.AutoMigrate(&model.NewsFeed{}); err != nil {
		return fmt.Errorf("failed to migrate newsfeeds table: %w", err)
	}
	return nil
}

func (s *SingleNewsFeedStore) Close() error { return nil }
