package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedfanout/internal/model"
)

// FanoutRepository 扇出任务与批次的持久化队列
type FanoutRepository interface {
	// CreateTask 可以传入事务 db，与 tweet 同事务落地
	CreateTask(ctx context.Context, tx *gorm.DB, task *model.FanoutTask) error
	GetTaskByTweet(ctx context.Context, tweetID string) (*model.FanoutTask, error)
	ClaimPendingTasks(ctx context.Context, limit int) ([]model.FanoutTask, error)
	// CreateBatches (task_id, seq) 已存在的批次被忽略，重新规划不会产生重复批次
	CreateBatches(ctx context.Context, batches []model.FanoutBatch) error
	MarkTaskPlanned(ctx context.Context, taskID string, batchCount int, followerCount int64) error
	// ReleaseTask 规划失败时放回 pending，等待下一轮
	ReleaseTask(ctx context.Context, taskID string) error
	ClaimPendingBatches(ctx context.Context, limit int) ([]model.FanoutBatch, error)
	MarkBatchDone(ctx context.Context, batchID string) error
	// MarkBatchFailed 记录一次失败；达到 maxAttempts 后批次进入 failed，返回 true
	MarkBatchFailed(ctx context.Context, batchID string, cause error, maxAttempts int) (bool, error)
	// ReleaseBatch 停机中断的批次放回 pending，不计入 attempts
	ReleaseBatch(ctx context.Context, batchID string) error
	// ReapStale 把 cutoff 之前被领取但未完成的任务与批次放回 pending
	ReapStale(ctx context.Context, cutoff time.Time) (tasks int64, batches int64, err error)
	ListBatches(ctx context.Context, taskID string) ([]model.FanoutBatch, error)
	CountBatchesByStatus(ctx context.Context, status string) (int64, error)
}

type fanoutRepository struct{ db *gorm.DB }

func NewFanoutRepository(db *gorm.DB) FanoutRepository { return &fanoutRepository{db: db} }

func (r *fanoutRepository) CreateTask(ctx context.Context, tx *gorm.DB, task *model.FanoutTask) error {
	if tx == nil {
		tx = r.db
	}
	if task.Status == "" {
		task.Status = model.FanoutTaskPending
	}
	return tx.WithContext(ctx).Create(task).Error
}

func (r *fanoutRepository) GetTaskByTweet(ctx context.Context, tweetID string) (*model.FanoutTask, error) {
	var t model.FanoutTask
	if err := r.db.WithContext(ctx).Where("tweet_id = ?", tweetID).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// ClaimPendingTasks 先挑候选再逐条条件更新，并发的 planner 不会领到同一任务
func (r *fanoutRepository) ClaimPendingTasks(ctx context.Context, limit int) ([]model.FanoutTask, error) {
	var candidates []model.FanoutTask
	err := r.db.WithContext(ctx).
		Where("status = ?", model.FanoutTaskPending).
		Order("created_at").
		Limit(limit).
		Find(&candidates).Error
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	now := time.Now()
	claimed := candidates[:0]
	for _, t := range candidates {
		res := r.db.WithContext(ctx).
			Model(&model.FanoutTask{}).
			Where("id = ? AND status = ?", t.ID, model.FanoutTaskPending).
			Updates(map[string]any{"status": model.FanoutTaskPlanning, "claimed_at": now})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 1 {
			t.Status = model.FanoutTaskPlanning
			t.ClaimedAt = &now
			claimed = append(claimed, t)
		}
	}
	return claimed, nil
}

func (r *fanoutRepository) CreateBatches(ctx context.Context, batches []model.FanoutBatch) error {
	if len(batches) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "seq"}},
			DoNothing: true,
		}).
		CreateInBatches(&batches, 100).Error
}

func (r *fanoutRepository) MarkTaskPlanned(ctx context.Context, taskID string, batchCount int, followerCount int64) error {
	return r.db.WithContext(ctx).
		Model(&model.FanoutTask{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"status":         model.FanoutTaskPlanned,
			"batch_count":    batchCount,
			"follower_count": followerCount,
			"claimed_at":     nil,
		}).Error
}

func (r *fanoutRepository) ReleaseTask(ctx context.Context, taskID string) error {
	return r.db.WithContext(ctx).
		Model(&model.FanoutTask{}).
		Where("id = ? AND status = ?", taskID, model.FanoutTaskPlanning).
		Updates(map[string]any{"status": model.FanoutTaskPending, "claimed_at": nil}).Error
}

func (r *fanoutRepository) ClaimPendingBatches(ctx context.Context, limit int) ([]model.FanoutBatch, error) {
	var candidates []model.FanoutBatch
	err := r.db.WithContext(ctx).
		Where("status = ?", model.FanoutBatchPending).
		Order("created_at, seq").
		Limit(limit).
		Find(&candidates).Error
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	now := time.Now()
	claimed := candidates[:0]
	for _, b := range candidates {
		res := r.db.WithContext(ctx).
			Model(&model.FanoutBatch{}).
			Where("id = ? AND status = ?", b.ID, model.FanoutBatchPending).
			Updates(map[string]any{"status": model.FanoutBatchProcessing, "claimed_at": now})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 1 {
			b.Status = model.FanoutBatchProcessing
			b.ClaimedAt = &now
			claimed = append(claimed, b)
		}
	}
	return claimed, nil
}

func (r *fanoutRepository) MarkBatchDone(ctx context.Context, batchID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.FanoutBatch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{"status": model.FanoutBatchDone, "done_at": now, "claimed_at": nil, "last_error": ""}).Error
}

func (r *fanoutRepository) MarkBatchFailed(ctx context.Context, batchID string, cause error, maxAttempts int) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	exhausted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b model.FanoutBatch
		if err := tx.Where("id = ?", batchID).First(&b).Error; err != nil {
			return translate(err)
		}
		attempts := b.Attempts + 1
		status := model.FanoutBatchPending
		if maxAttempts > 0 && attempts >= maxAttempts {
			status = model.FanoutBatchFailed
			exhausted = true
		}
		return tx.Model(&model.FanoutBatch{}).
			Where("id = ?", batchID).
			Updates(map[string]any{
				"status":     status,
				"attempts":   attempts,
				"last_error": msg,
				"claimed_at": nil,
			}).Error
	})
	return exhausted, err
}

func (r *fanoutRepository) ReleaseBatch(ctx context.Context, batchID string) error {
	return r.db.WithContext(ctx).
		Model(&model.FanoutBatch{}).
		Where("id = ? AND status = ?", batchID, model.FanoutBatchProcessing).
		Updates(map[string]any{"status": model.FanoutBatchPending, "claimed_at": nil}).Error
}

func (r *fanoutRepository) ReapStale(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	tres := r.db.WithContext(ctx).
		Model(&model.FanoutTask{}).
		Where("status = ? AND claimed_at < ?", model.FanoutTaskPlanning, cutoff).
		Updates(map[string]any{"status": model.FanoutTaskPending, "claimed_at": nil})
	if tres.Error != nil {
		return 0, 0, tres.Error
	}
	bres := r.db.WithContext(ctx).
		Model(&model.FanoutBatch{}).
		Where("status = ? AND claimed_at < ?", model.FanoutBatchProcessing, cutoff).
		Updates(map[string]any{"status": model.FanoutBatchPending, "claimed_at": nil})
	return tres.RowsAffected, bres.RowsAffected, bres.Error
}

func (r *fanoutRepository) ListBatches(ctx context.Context, taskID string) ([]model.FanoutBatch, error) {
	var res []model.FanoutBatch
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("seq").Find(&res).Error
	return res, err
}

func (r *fanoutRepository) CountBatchesByStatus(ctx context.Context, status string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.FanoutBatch{}).Where("status = ?", status).Count(&cnt).Error
	return cnt, err
}
