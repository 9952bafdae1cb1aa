package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/notify"
	"github.com/d60-Lab/feedfanout/internal/pagination"
	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/pkg/logger"
	"github.com/d60-Lab/feedfanout/pkg/tracing"
)

const maxTweetLength = 255

var (
	ErrEmptyContent   = errors.New("content is empty")
	ErrContentTooLong = errors.New("content is too long")
	ErrTweetNotFound  = errors.New("tweet not found")
	ErrNotTweetAuthor = errors.New("only the author can delete a tweet")
)

// Kicker 唤醒扇出引擎
type Kicker interface {
	Kick()
}

// TweetService 发帖写路径：事务内写 tweet 与扇出任务，提交后同步写作者自己的 feed
type TweetService struct {
	db       *gorm.DB
	tweets   repository.TweetRepository
	tasks    repository.FanoutRepository
	store    repository.NewsFeedStore
	lists    *cache.FeedListCache
	timeline *cache.FeedListCache // user_tweets:<user_id>
	objects  *cache.ObjectCache
	kicker   Kicker
	notifier notify.Notifier
	now      func() time.Time
}

func NewTweetService(db *gorm.DB, tweets repository.TweetRepository, tasks repository.FanoutRepository, store repository.NewsFeedStore,
	lists, timeline *cache.FeedListCache, objects *cache.ObjectCache, kicker Kicker, notifier notify.Notifier) *TweetService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &TweetService{
		db:       db,
		tweets:   tweets,
		tasks:    tasks,
		store:    store,
		lists:    lists,
		timeline: timeline,
		objects:  objects,
		kicker:   kicker,
		notifier: notifier,
		now:      time.Now,
	}
}

// Create 返回时作者自己的 feed 已可见，粉丝的扇出在后台进行
func (s *TweetService) Create(ctx context.Context, userID, content string) (*model.Tweet, error) {
	ctx, span := tracing.Tracer().Start(ctx, "tweet.create")
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > maxTweetLength {
		return nil, ErrContentTooLong
	}

	tweet := &model.Tweet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		CreatedAt: model.NormalizeTime(s.now()),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tweet).Error; err != nil {
			return err
		}
		task := &model.FanoutTask{
			ID:       uuid.NewString(),
			TweetID:  tweet.ID,
			AuthorID: userID,
			TweetAt:  tweet.CreatedAt,
			Status:   model.FanoutTaskPending,
		}
		return s.tasks.CreateTask(ctx, tx, task)
	})
	if err != nil {
		return nil, fmt.Errorf("create tweet: %w", err)
	}
	s.timeline.Push(ctx, userID, tweet.Ref())

	// feed store 可能在独立的库中，无法与上面的事务合并；失败时任务仍会补写
	author := model.NewNewsFeed(userID, tweet)
	if _, err := s.store.BulkInsert(ctx, []model.NewsFeed{author}); err != nil {
		return nil, fmt.Errorf("write author feed: %w", err)
	}
	s.lists.Push(ctx, userID, author.Ref())

	if s.kicker != nil {
		s.kicker.Kick()
	}
	s.notifier.Notify(ctx, notify.Event{
		Verb:    notify.VerbTweetCreated,
		ActorID: userID,
		Target:  model.Target{Kind: model.TargetTweet, ID: tweet.ID},
	})
	logger.Debug("tweet created", zap.String("tweet", tweet.ID), zap.String("user", userID))
	return tweet, nil
}

func (s *TweetService) Get(ctx context.Context, id string) (*model.Tweet, error) {
	t, err := cache.Through(ctx, s.objects, cache.KindTweet, id, func(ctx context.Context) (*model.Tweet, error) {
		return s.tweets.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTweetNotFound
	}
	return t, err
}

// GetMany 已删除的 tweet 不出现在结果中
func (s *TweetService) GetMany(ctx context.Context, ids []string) (map[string]*model.Tweet, error) {
	return cache.ThroughMany(ctx, s.objects, cache.KindTweet, ids, func(ctx context.Context, missing []string) (map[string]*model.Tweet, error) {
		rows, err := s.tweets.GetMany(ctx, missing)
		if err != nil {
			return nil, err
		}
		out := make(map[string]*model.Tweet, len(rows))
		for _, t := range rows {
			out[t.ID] = t
		}
		return out, nil
	})
}

// Delete 只删 tweet 本身；各 feed 中指向它的条目在读时跳过
func (s *TweetService) Delete(ctx context.Context, userID, id string) error {
	t, err := s.tweets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTweetNotFound
		}
		return err
	}
	if t.UserID != userID {
		return ErrNotTweetAuthor
	}
	if err := s.tweets.Delete(ctx, id); err != nil {
		return err
	}
	s.objects.Invalidate(ctx, cache.KindTweet, id)
	s.timeline.Invalidate(ctx, userID)
	return nil
}

// Timeline 作者自己发过的 tweet，先看 user_tweets 有界列表，无法证明完整时查 tweets 表
func (s *TweetService) Timeline(ctx context.Context, userID string, q pagination.Query, size int) (pagination.Page, bool, error) {
	refs, err := s.timeline.Load(ctx, userID, func(ctx context.Context, limit int) ([]model.FeedRef, error) {
		rows, err := s.tweets.RangeByUser(ctx, userID, model.FeedBounds{}, limit)
		if err != nil {
			return nil, err
		}
		return tweetRefs(rows), nil
	})
	if err != nil {
		return pagination.Page{}, false, fmt.Errorf("load cached timeline: %w", err)
	}
	if p, ok := pagination.FromCache(refs, s.timeline.Limit(), q, size); ok {
		return p, true, nil
	}

	rows, err := s.tweets.RangeByUser(ctx, userID, q.Bounds(), size+1)
	if err != nil {
		return pagination.Page{}, false, fmt.Errorf("range timeline: %w", err)
	}
	return pagination.FromRefs(tweetRefs(rows), size), false, nil
}

func tweetRefs(rows []*model.Tweet) []model.FeedRef {
	out := make([]model.FeedRef, len(rows))
	for i, t := range rows {
		out[i] = t.Ref()
	}
	return out
}
