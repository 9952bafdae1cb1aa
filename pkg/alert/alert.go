// Package alert forwards unrecoverable background failures to Sentry.
package alert

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/feedfanout/config"
)

var enabled atomic.Bool

// Init 配置 sentry；DSN 为空时 Capture 为空操作
func Init(cfg config.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	}); err != nil {
		return err
	}
	enabled.Store(true)
	return nil
}

// Capture 上报错误并附带标签
func Capture(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Flush 进程退出前等待事件发送完成
func Flush(timeout time.Duration) {
	if enabled.Load() {
		sentry.Flush(timeout)
	}
}
