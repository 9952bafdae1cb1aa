package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/feedfanout/config"
	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/pkg/alert"
	"github.com/d60-Lab/feedfanout/pkg/logger"
	"github.com/d60-Lab/feedfanout/pkg/tracing"
)

// FanoutOptions 扇出引擎参数
type FanoutOptions struct {
	Workers          int
	BatchSize        int
	ClaimLimit       int
	PollInterval     time.Duration
	TaskTimeLimit    time.Duration
	MaxAttempts      int
	BatchesPerSecond float64
}

func FanoutOptionsFromConfig(cfg config.FanoutConfig) FanoutOptions {
	return FanoutOptions{
		Workers:          cfg.Workers,
		BatchSize:        cfg.BatchSize,
		ClaimLimit:       cfg.ClaimLimit,
		PollInterval:     cfg.PollInterval,
		TaskTimeLimit:    cfg.TaskTimeLimit,
		MaxAttempts:      cfg.MaxAttempts,
		BatchesPerSecond: cfg.BatchesPerSecond,
	}
}

func (o *FanoutOptions) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.ClaimLimit <= 0 {
		o.ClaimLimit = 64
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.TaskTimeLimit <= 0 {
		o.TaskTimeLimit = time.Hour
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
}

// FanoutEngine 从 fanout_tasks 领取任务拆成批次，再由 worker 并发处理批次。
// 批次写入按 (user_id, tweet_id) 去重，任意批次可以整体重试。
type FanoutEngine struct {
	tasks  repository.FanoutRepository
	fans   repository.FanRepository
	store  repository.NewsFeedStore
	lists  *cache.FeedListCache
	opts   FanoutOptions
	limit  *rate.Limiter
	planCh chan struct{}
	workCh chan struct{}

	metricsCh chan time.Duration // tweet 创建 -> 批次完成
}

func NewFanoutEngine(tasks repository.FanoutRepository, fans repository.FanRepository, store repository.NewsFeedStore, lists *cache.FeedListCache, opts FanoutOptions) *FanoutEngine {
	opts.applyDefaults()
	e := &FanoutEngine{
		tasks:     tasks,
		fans:      fans,
		store:     store,
		lists:     lists,
		opts:      opts,
		planCh:    make(chan struct{}, 1),
		workCh:    make(chan struct{}, opts.Workers),
		metricsCh: make(chan time.Duration, 65536),
	}
	if opts.BatchesPerSecond > 0 {
		e.limit = rate.NewLimiter(rate.Limit(opts.BatchesPerSecond), 1)
	}
	return e
}

func (e *FanoutEngine) Metrics() <-chan time.Duration { return e.metricsCh }

// Kick 通知 planner 有新任务，不阻塞
func (e *FanoutEngine) Kick() {
	select {
	case e.planCh <- struct{}{}:
	default:
	}
}

func (e *FanoutEngine) wakeWorkers() {
	for i := 0; i < e.opts.Workers; i++ {
		select {
		case e.workCh <- struct{}{}:
		default:
			return
		}
	}
}

// Start 启动 1 个 planner 与 Workers 个批次 worker；返回停止函数。
// 停止时在途批次被取消并放回 pending，不消耗重试次数
func (e *FanoutEngine) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.loop(ctx, e.planCh, func() {
			if _, err := e.planOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("fanout plan failed", zap.Error(err))
			}
		})
	}()

	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.loop(ctx, e.workCh, func() {
				for ctx.Err() == nil {
					n, err := e.processOnce(ctx, 1)
					if err != nil {
						if ctx.Err() == nil {
							logger.Warn("fanout claim failed", zap.Error(err))
						}
						return
					}
					if n == 0 {
						return
					}
				}
			})
		}()
	}

	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (e *FanoutEngine) loop(ctx context.Context, wake <-chan struct{}, fn func()) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		case <-wake:
			fn()
		}
	}
}

// Drain 同步跑完当前所有待处理任务与批次（测试与压测用）
func (e *FanoutEngine) Drain(ctx context.Context) error {
	for {
		planned, err := e.planOnce(ctx)
		if err != nil {
			return err
		}
		processed, err := e.processOnce(ctx, e.opts.ClaimLimit)
		if err != nil {
			return err
		}
		if planned == 0 && processed == 0 {
			return nil
		}
	}
}

// planOnce 领取待规划任务并拆批，返回领取的任务数；规划失败的任务放回 pending
func (e *FanoutEngine) planOnce(ctx context.Context) (int, error) {
	tasks, err := e.tasks.ClaimPendingTasks(ctx, e.opts.ClaimLimit)
	if err != nil {
		return 0, err
	}
	var errs []error
	for i := range tasks {
		task := &tasks[i]
		if err := e.planTask(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("task %s (tweet %s): %w", task.ID, task.TweetID, err))
			if rerr := e.tasks.ReleaseTask(context.WithoutCancel(ctx), task.ID); rerr != nil {
				logger.Warn("release fanout task failed", zap.String("task", task.ID), zap.Error(rerr))
			}
		}
	}
	return len(tasks), errors.Join(errs...)
}

func (e *FanoutEngine) planTask(ctx context.Context, task *model.FanoutTask) error {
	ctx, span := tracing.Tracer().Start(ctx, "fanout.plan")
	defer span.End()
	span.SetAttributes(attribute.String("tweet.id", task.TweetID), attribute.String("author.id", task.AuthorID))

	tweet := &model.Tweet{ID: task.TweetID, UserID: task.AuthorID, CreatedAt: task.TweetAt}

	// 作者自己的条目必须先于任何批次存在
	if _, err := e.store.BulkInsert(ctx, []model.NewsFeed{model.NewNewsFeed(task.AuthorID, tweet)}); err != nil {
		return fmt.Errorf("ensure author entry: %w", err)
	}

	seq := 0
	var followers int64
	err := e.fans.ForEachFanBatch(ctx, task.AuthorID, e.opts.BatchSize, func(ids []string) error {
		batch := model.FanoutBatch{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			Seq:         seq,
			TweetID:     task.TweetID,
			TweetAt:     task.TweetAt,
			FollowerIDs: append([]string(nil), ids...),
			Status:      model.FanoutBatchPending,
		}
		if err := e.tasks.CreateBatches(ctx, []model.FanoutBatch{batch}); err != nil {
			return fmt.Errorf("create batch %d: %w", seq, err)
		}
		seq++
		followers += int64(len(ids))
		e.wakeWorkers()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int("fanout.batches", seq), attribute.Int64("fanout.followers", followers))
	if err := e.tasks.MarkTaskPlanned(ctx, task.ID, seq, followers); err != nil {
		return fmt.Errorf("mark planned: %w", err)
	}
	logger.Debug("fanout planned", zap.String("tweet", task.TweetID), zap.Int("batches", seq), zap.Int64("followers", followers))
	return nil
}

// processOnce 领取最多 limit 个批次并依次处理，返回领取数
func (e *FanoutEngine) processOnce(ctx context.Context, limit int) (int, error) {
	batches, err := e.tasks.ClaimPendingBatches(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i := range batches {
		e.runBatch(ctx, &batches[i])
	}
	return len(batches), nil
}

func (e *FanoutEngine) runBatch(ctx context.Context, b *model.FanoutBatch) {
	err := e.processBatch(ctx, b)
	// 状态更新不受批次超时影响
	bookkeeping := context.WithoutCancel(ctx)
	if err == nil {
		if err := e.tasks.MarkBatchDone(bookkeeping, b.ID); err != nil {
			logger.Warn("mark batch done failed", zap.String("batch", b.ID), zap.Error(err))
		}
		select {
		case e.metricsCh <- time.Since(b.TweetAt):
		default:
		}
		return
	}

	// 引擎停止导致的取消不算失败
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		if rerr := e.tasks.ReleaseBatch(bookkeeping, b.ID); rerr != nil {
			logger.Warn("release batch failed", zap.String("batch", b.ID), zap.Error(rerr))
		}
		return
	}

	exhausted, merr := e.tasks.MarkBatchFailed(bookkeeping, b.ID, err, e.opts.MaxAttempts)
	if merr != nil {
		logger.Warn("mark batch failed failed", zap.String("batch", b.ID), zap.Error(merr))
		return
	}
	if exhausted {
		logger.Error("fanout batch gave up",
			zap.String("batch", b.ID),
			zap.String("tweet", b.TweetID),
			zap.Int("attempts", b.Attempts+1),
			zap.Error(err))
		alert.Capture(err, map[string]string{"component": "fanout", "tweet_id": b.TweetID, "batch_id": b.ID})
		return
	}
	logger.Warn("fanout batch failed, will retry", zap.String("batch", b.ID), zap.Int("attempt", b.Attempts+1), zap.Error(err))
}

// processBatch 一次批量写入，然后逐个推入粉丝的缓存列表
func (e *FanoutEngine) processBatch(ctx context.Context, b *model.FanoutBatch) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.TaskTimeLimit)
	defer cancel()
	ctx, span := tracing.Tracer().Start(ctx, "fanout.batch")
	defer span.End()
	span.SetAttributes(attribute.String("tweet.id", b.TweetID), attribute.Int("batch.seq", b.Seq), attribute.Int("batch.size", len(b.FollowerIDs)))

	if e.limit != nil {
		if err := e.limit.Wait(ctx); err != nil {
			return err
		}
	}

	tweet := &model.Tweet{ID: b.TweetID, CreatedAt: b.TweetAt}
	feeds := make([]model.NewsFeed, len(b.FollowerIDs))
	for i, fid := range b.FollowerIDs {
		feeds[i] = model.NewNewsFeed(fid, tweet)
	}
	if _, err := e.store.BulkInsert(ctx, feeds); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("bulk insert %d feeds: %w", len(feeds), err)
	}
	e.pushAll(ctx, feeds)
	return nil
}

func (e *FanoutEngine) pushAll(ctx context.Context, feeds []model.NewsFeed) {
	if e.lists == nil {
		return
	}
	for _, f := range feeds {
		e.lists.Push(ctx, f.UserID, f.Ref())
	}
}

// FanoutResult 同步扇出结果
type FanoutResult struct {
	Batches   int
	Followers int64
	Inserted  int64
}

// Fanout 不经过任务队列，直接在当前 goroutine 组内完成扇出（压测对照用）。
// 批次并发数受 Workers 限制。
func (e *FanoutEngine) Fanout(ctx context.Context, tweet *model.Tweet) (FanoutResult, error) {
	var res FanoutResult
	author := model.NewNewsFeed(tweet.UserID, tweet)
	n, err := e.store.BulkInsert(ctx, []model.NewsFeed{author})
	if err != nil {
		return res, fmt.Errorf("insert author entry: %w", err)
	}
	res.Inserted += n
	e.pushAll(ctx, []model.NewsFeed{author})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	err = e.fans.ForEachFanBatch(ctx, tweet.UserID, e.opts.BatchSize, func(ids []string) error {
		ids = append([]string(nil), ids...)
		res.Batches++
		res.Followers += int64(len(ids))
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, e.opts.TaskTimeLimit)
			defer cancel()
			feeds := make([]model.NewsFeed, len(ids))
			for i, id := range ids {
				feeds[i] = model.NewNewsFeed(id, tweet)
			}
			inserted, err := e.store.BulkInsert(bctx, feeds)
			if err != nil {
				return err
			}
			mu.Lock()
			res.Inserted += inserted
			mu.Unlock()
			e.pushAll(bctx, feeds)
			return nil
		})
		return nil
	})
	werr := g.Wait()
	return res, errors.Join(err, werr)
}
