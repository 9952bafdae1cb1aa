// Package app 按配置装配存储、缓存、扇出引擎和各个服务，供 server 与压测程序共用。
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedfanout/config"
	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/notify"
	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/internal/service"
	"github.com/d60-Lab/feedfanout/pkg/database"
	"github.com/d60-Lab/feedfanout/pkg/logger"
	"github.com/d60-Lab/feedfanout/pkg/redisclient"
)

const notifyBuffer = 1024

type stopFunc struct {
	name string
	stop func(context.Context) error
}

// App 持有所有长生命周期组件
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  redis.UniversalClient

	Store     repository.NewsFeedStore
	Lists     *cache.FeedListCache
	Timelines *cache.FeedListCache
	Objects   *cache.ObjectCache

	Follows repository.FollowRepository
	Fans    repository.FanRepository
	Tasks   repository.FanoutRepository

	Engine     *service.FanoutEngine
	Reaper     *service.FanoutReaper
	Replicator *service.FanReplicator // relation.async_fans=false 时为 nil
	Bus        *notify.Bus

	Users     *service.UserService
	Tweets    *service.TweetService
	Feeds     *service.NewsFeedService
	Likes     *service.LikeService
	Comments  *service.CommentService
	Relations service.RelationshipService

	pubsub    *gochannel.GoChannel
	ownsDB    bool
	ownsRedis bool
	stops     []stopFunc
}

// Option 覆盖默认装配
type Option func(*App)

// WithRedis 使用外部传入的 redis 客户端，App 不负责关闭它
func WithRedis(rdb redis.UniversalClient) Option {
	return func(a *App) { a.Redis = rdb }
}

// WithDB 使用外部传入的主库连接，App 不负责关闭它
func WithDB(db *gorm.DB) Option {
	return func(a *App) { a.DB = db }
}

// New 打开连接、迁移表结构并构造服务；后台组件要等 Start 才运行
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.open(ctx); err != nil {
		if a.ownsDB {
			_ = database.Close(a.DB)
		}
		return nil, err
	}
	a.wire()
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config
	if a.DB == nil {
		db, err := database.InitDB(cfg)
		if err != nil {
			return err
		}
		a.DB = db
		a.ownsDB = true
	}
	if err := model.AutoMigrate(a.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var shards []*gorm.DB
	if cfg.FeedStore.Backend == "sharded" {
		var err error
		if shards, err = database.InitShards(cfg); err != nil {
			return err
		}
	}
	store, err := repository.NewNewsFeedStore(cfg.FeedStore.Backend, a.DB, shards, cfg.Shards.Tables)
	if err != nil {
		for _, db := range shards {
			_ = database.Close(db)
		}
		return err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return fmt.Errorf("init feed store: %w", err)
	}
	a.Store = store

	if a.Redis == nil {
		rdb, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			_ = store.Close()
			return err
		}
		a.Redis = rdb
		a.ownsRedis = true
	}
	return nil
}

func (a *App) wire() {
	cfg := a.Config
	a.Lists = cache.NewFeedListCache(a.Redis, cfg.Feed.ListLimit)
	a.Timelines = cache.NewBoundedListCache(a.Redis, "user_tweets", cfg.Feed.ListLimit)
	a.Objects = cache.NewObjectCache(a.Redis, cfg.Redis.ObjectTTL)

	a.Follows = repository.NewFollowRepository(a.DB)
	a.Fans = repository.NewFanRepository(a.DB)
	a.Tasks = repository.NewFanoutRepository(a.DB)

	a.pubsub = notify.NewGoChannel(notifyBuffer)
	a.Bus = notify.NewBus(a.pubsub)

	a.Engine = service.NewFanoutEngine(a.Tasks, a.Fans, a.Store, a.Lists, service.FanoutOptionsFromConfig(cfg.Fanout))
	if cfg.Relation.AsyncFans {
		a.Replicator = service.NewFanReplicator(a.Fans, cfg.Relation.QueueSize)
	}

	a.Users = service.NewUserService(repository.NewUserRepository(a.DB), a.Objects)
	a.Tweets = service.NewTweetService(a.DB, repository.NewTweetRepository(a.DB), a.Tasks, a.Store, a.Lists, a.Timelines, a.Objects, a.Engine, a.Bus)
	a.Likes = service.NewLikeService(a.DB, a.Objects, a.Bus)
	a.Feeds = service.NewNewsFeedService(a.Store, a.Lists, a.Tweets, a.Users, a.Likes, cfg.Feed.DefaultPageSize, cfg.Feed.MaxPageSize)
	a.Comments = service.NewCommentService(a.DB, a.Objects, a.Bus)
	a.Relations = service.NewRelationshipService(a.Follows, a.Fans, a.Replicator, a.Bus)
}

// Start 启动通知消费、粉丝复制、扇出引擎和回收定时器
func (a *App) Start(ctx context.Context, onNotify func(notify.Event)) error {
	if onNotify == nil {
		onNotify = notify.LogHandler
	}
	reaper, err := service.NewFanoutReaper(a.Tasks, a.Config.Fanout.TaskTimeLimit, a.Config.Fanout.ReapSpec, a.Engine.Kick)
	if err != nil {
		return fmt.Errorf("fanout reaper: %w", err)
	}
	a.Reaper = reaper

	drainCtx, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	if err := notify.Drain(drainCtx, a.pubsub, onNotify); err != nil {
		cancelDrain()
		return fmt.Errorf("subscribe notifications: %w", err)
	}
	a.push("notify", func(context.Context) error {
		cancelDrain()
		return nil
	})

	if a.Replicator != nil {
		a.push("replicator", a.Replicator.Start(a.Config.Relation.Workers))
	}
	a.push("fanout", a.Engine.Start())
	a.push("reaper", reaper.Start())
	return nil
}

func (a *App) push(name string, stop func(context.Context) error) {
	a.stops = append(a.stops, stopFunc{name: name, stop: stop})
}

// Close 逆序停止后台组件后关闭连接，只关闭 App 自己打开的连接
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.stops) - 1; i >= 0; i-- {
		s := a.stops[i]
		if err := s.stop(ctx); err != nil {
			logger.Warn("stop component failed", zap.String("component", s.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	a.stops = nil

	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("feed store: %w", err))
		}
	}
	if a.ownsRedis && a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.ownsDB {
		if err := database.Close(a.DB); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
