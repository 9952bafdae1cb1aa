package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feedfanout/config"
	"github.com/d60-Lab/feedfanout/internal/api"
	"github.com/d60-Lab/feedfanout/internal/api/handler"
	"github.com/d60-Lab/feedfanout/internal/app"
	"github.com/d60-Lab/feedfanout/pkg/alert"
	"github.com/d60-Lab/feedfanout/pkg/logger"
	"github.com/d60-Lab/feedfanout/pkg/tracing"
)

const tokenTTL = 7 * 24 * time.Hour

// @title feedfanout API
// @version 1.0
// @description 推模式时间线：发帖扇出、有界缓存列表与游标分页
// @BasePath /
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		// logger 可能尚未初始化
		fmt.Fprintln(os.Stderr, "server exited:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	defer func() {
		if err != nil {
			logger.Error("server exited", zap.Error(err))
		}
	}()

	if err := alert.Init(cfg.Sentry); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer alert.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx, nil); err != nil {
		_ = a.Close(context.Background())
		return err
	}

	h := handler.NewHandler(handler.Services{
		Feeds:     a.Feeds,
		Tweets:    a.Tweets,
		Users:     a.Users,
		Likes:     a.Likes,
		Comments:  a.Comments,
		Relations: a.Relations,
	}, handler.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, TTL: tokenTTL})

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.RouterConfig{
			Mode:        cfg.Server.Mode,
			ServiceName: cfg.Tracing.ServiceName,
			JWTSecret:   cfg.JWT.Secret,
			JWTIssuer:   cfg.JWT.Issuer,
		}, h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("feed_store", cfg.FeedStore.Backend),
			zap.Bool("async_fans", cfg.Relation.AsyncFans))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先停入口，再停后台扇出，最后关连接
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
	}
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	return errors.Join(errs...)
}
