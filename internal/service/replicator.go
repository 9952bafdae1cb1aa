package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/pkg/logger"
)

const (
	replicateTimeout  = 5 * time.Second
	replicateAttempts = 3
	// 队列满时入队最多等待这么久，超时改为调用方同步写
	enqueueWait = 200 * time.Millisecond
)

type replicateAction int

const (
	actionAdd replicateAction = iota + 1
	actionRemove
)

func (a replicateAction) String() string {
	if a == actionAdd {
		return "add"
	}
	return "remove"
}

type replicateJob struct {
	action replicateAction
	userID string
	fanID  string
	enqAt  time.Time
}

// FanReplicator 异步维护粉丝冗余表。关注边写入后粉丝表最终一致，
// 在复制完成前发出的 tweet 不会扇出给这个新粉丝。
// 队列满或已停止时不丢任务，退化为同步写入。
type FanReplicator struct {
	fanRepo   repository.FanRepository
	ch        chan replicateJob
	metricsCh chan time.Duration
	wait      time.Duration

	mu      sync.RWMutex
	stopped bool
}

func NewFanReplicator(fanRepo repository.FanRepository, queueSize int) *FanReplicator {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &FanReplicator{fanRepo: fanRepo, ch: make(chan replicateJob, queueSize), metricsCh: make(chan time.Duration, 65536), wait: enqueueWait}
}

// Start 返回的停止函数会先处理完已入队的任务，ctx 到期则放弃剩余任务
func (r *FanReplicator) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-r.ch:
					r.apply(job)
				case <-stopCh:
					for {
						select {
						case job := <-r.ch:
							r.apply(job)
						default:
							return
						}
					}
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		// 之后的入队直接同步写，不会落进无人消费的队列
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(stopCh)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			logger.Warn("replicator stopped with pending jobs", zap.Int("pending", len(r.ch)))
			return ctx.Err()
		}
	}
}

func (r *FanReplicator) apply(job replicateJob) {
	ctx, cancel := context.WithTimeout(context.Background(), replicateTimeout)
	defer cancel()
	var err error
	for attempt := 1; attempt <= replicateAttempts; attempt++ {
		if err = r.write(ctx, job); err == nil {
			break
		}
		if attempt < replicateAttempts {
			select {
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			case <-ctx.Done():
			}
		}
	}
	if err != nil {
		logger.Error("replicate fan failed",
			zap.String("action", job.action.String()),
			zap.String("user", job.userID),
			zap.String("fan", job.fanID),
			zap.Error(err))
		return
	}
	select {
	case r.metricsCh <- time.Since(job.enqAt):
	default:
	}
}

func (r *FanReplicator) write(ctx context.Context, job replicateJob) error {
	if job.action == actionAdd {
		return r.fanRepo.Create(ctx, job.userID, job.fanID)
	}
	return r.fanRepo.Delete(ctx, job.userID, job.fanID)
}

func (r *FanReplicator) EnqueueAdd(userID, fanID string) {
	r.enqueue(replicateJob{action: actionAdd, userID: userID, fanID: fanID, enqAt: time.Now()})
}

func (r *FanReplicator) EnqueueRemove(userID, fanID string) {
	r.enqueue(replicateJob{action: actionRemove, userID: userID, fanID: fanID, enqAt: time.Now()})
}

// enqueue 队列满时有界等待，仍然满则在调用方 goroutine 里同步写
func (r *FanReplicator) enqueue(job replicateJob) {
	if r.offer(job) {
		return
	}
	logger.Warn("replicator queue full or stopped, write inline",
		zap.String("action", job.action.String()), zap.String("user", job.userID), zap.String("fan", job.fanID))
	r.apply(job)
}

func (r *FanReplicator) offer(job replicateJob) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}
	select {
	case r.ch <- job:
		return true
	default:
	}
	timer := time.NewTimer(r.wait)
	defer timer.Stop()
	select {
	case r.ch <- job:
		return true
	case <-timer.C:
		return false
	}
}

// Metrics 复制落地耗时，每成功一条发送一次
func (r *FanReplicator) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 当前队列长度（采样值）
func (r *FanReplicator) QueueLen() int { return len(r.ch) }
