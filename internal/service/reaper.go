package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/pkg/logger"
)

const reapTimeout = time.Minute

// FanoutReaper 定时把超时未完成的任务与批次放回 pending。
// 批次的执行上限是 staleAfter，超过它的 processing 批次其 worker 已经放弃。
type FanoutReaper struct {
	repo       repository.FanoutRepository
	staleAfter time.Duration
	cron       *cron.Cron
	onReap     func() // 放回后唤醒引擎
}

func NewFanoutReaper(repo repository.FanoutRepository, staleAfter time.Duration, spec string, onReap func()) (*FanoutReaper, error) {
	r := &FanoutReaper{
		repo:       repo,
		staleAfter: staleAfter,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		onReap:     onReap,
	}
	if _, err := r.cron.AddFunc(spec, r.tick); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FanoutReaper) Start() func(context.Context) error {
	r.cron.Start()
	return func(ctx context.Context) error {
		select {
		case <-r.cron.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *FanoutReaper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()
	if _, _, err := r.ReapOnce(ctx, time.Now()); err != nil {
		logger.Warn("fanout reap failed", zap.Error(err))
	}
}

// ReapOnce 以 now-staleAfter 为界回收
func (r *FanoutReaper) ReapOnce(ctx context.Context, now time.Time) (int64, int64, error) {
	tasks, batches, err := r.repo.ReapStale(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, 0, err
	}
	if tasks > 0 || batches > 0 {
		logger.Info("fanout reaped stale work", zap.Int64("tasks", tasks), zap.Int64("batches", batches))
		if r.onReap != nil {
			r.onReap()
		}
	}
	return tasks, batches, nil
}
