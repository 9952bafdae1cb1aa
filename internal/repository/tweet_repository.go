package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedfanout/internal/model"
)

type TweetRepository interface {
	Get(ctx context.Context, id string) (*model.Tweet, error)
	GetMany(ctx context.Context, ids []string) ([]*model.Tweet, error)
	// RangeByUser 作者时间线，按 created_at DESC, id DESC，bounds 与 newsfeed 游标同义
	RangeByUser(ctx context.Context, userID string, bounds model.FeedBounds, limit int) ([]*model.Tweet, error)
	IncrLikes(ctx context.Context, id string, delta int) error
	IncrComments(ctx context.Context, id string, delta int) error
	Delete(ctx context.Context, id string) error
}

type tweetRepository struct{ db *gorm.DB }

func NewTweetRepository(db *gorm.DB) TweetRepository { return &tweetRepository{db: db} }

func (r *tweetRepository) Get(ctx context.Context, id string) (*model.Tweet, error) {
	var t model.Tweet
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// GetMany 不存在的 id 直接缺席，不报错
func (r *tweetRepository) GetMany(ctx context.Context, ids []string) ([]*model.Tweet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []*model.Tweet
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

func (r *tweetRepository) RangeByUser(ctx context.Context, userID string, bounds model.FeedBounds, limit int) ([]*model.Tweet, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if bounds.Before != 0 {
		before := time.UnixMicro(bounds.Before).UTC()
		if bounds.BeforeID != "" {
			q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before, before, bounds.BeforeID)
		} else {
			q = q.Where("created_at < ?", before)
		}
	}
	if bounds.After != 0 {
		after := time.UnixMicro(bounds.After).UTC()
		if bounds.AfterID != "" {
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", after, after, bounds.AfterID)
		} else {
			q = q.Where("created_at > ?", after)
		}
	}
	var res []*model.Tweet
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&res).Error
	return res, err
}

func (r *tweetRepository) IncrLikes(ctx context.Context, id string, delta int) error {
	return r.incr(ctx, id, "likes_count", delta)
}

func (r *tweetRepository) IncrComments(ctx context.Context, id string, delta int) error {
	return r.incr(ctx, id, "comments_count", delta)
}

func (r *tweetRepository) incr(ctx context.Context, id, column string, delta int) error {
	res := r.db.WithContext(ctx).
		Model(&model.Tweet{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除 tweet；指向它的 newsfeed 留给读路径过滤
func (r *tweetRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Tweet{}).Error
}
