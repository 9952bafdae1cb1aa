package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedfanout/internal/model"
)

// FanRepository 粉丝冗余表，扇出的粉丝来源
type FanRepository interface {
	Create(ctx context.Context, userID, fanID string) error
	Delete(ctx context.Context, userID, fanID string) error
	ListFanIDs(ctx context.Context, userID string, offset, limit int) ([]string, error)
	Count(ctx context.Context, userID string) (int64, error)
	// ForEachFanBatch 按 fan_id 升序 keyset 分页遍历粉丝，不会一次性加载全部粉丝
	ForEachFanBatch(ctx context.Context, userID string, batchSize int, fn func(fanIDs []string) error) error
}

type fanRepository struct{ db *gorm.DB }

func NewFanRepository(db *gorm.DB) FanRepository { return &fanRepository{db: db} }

func (r *fanRepository) Create(ctx context.Context, userID, fanID string) error {
	f := &model.Fan{ID: uuid.NewString(), UserID: userID, FanID: fanID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error
}

func (r *fanRepository) Delete(ctx context.Context, userID, fanID string) error {
	return r.db.WithContext(ctx).Where("user_id = ? AND fan_id = ?", userID, fanID).Delete(&model.Fan{}).Error
}

func (r *fanRepository) ListFanIDs(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Fan{}).
		Where("user_id = ?", userID).
		Order("created_at DESC, fan_id").
		Offset(offset).Limit(limit).
		Pluck("fan_id", &ids).Error
	return ids, err
}

func (r *fanRepository) Count(ctx context.Context, userID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Fan{}).Where("user_id = ?", userID).Count(&cnt).Error
	return cnt, err
}

func (r *fanRepository) ForEachFanBatch(ctx context.Context, userID string, batchSize int, fn func(fanIDs []string) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	after := ""
	for {
		var ids []string
		err := r.db.WithContext(ctx).
			Model(&model.Fan{}).
			Where("user_id = ? AND fan_id > ?", userID, after).
			Order("fan_id").
			Limit(batchSize).
			Pluck("fan_id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := fn(ids); err != nil {
			return err
		}
		if len(ids) < batchSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}
