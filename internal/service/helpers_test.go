package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/notify"
	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/internal/testutil"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore BulkInsert 在 fail 置位时返回错误；hold 置位时阻塞到 ctx 结束
type flakyStore struct {
	repository.NewsFeedStore
	fail    atomic.Bool
	hold    atomic.Bool
	entered chan struct{}
}

func (s *flakyStore) BulkInsert(ctx context.Context, feeds []model.NewsFeed) (int64, error) {
	if s.fail.Load() {
		return 0, errStoreDown
	}
	if s.hold.Load() {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.NewsFeedStore.BulkInsert(ctx, feeds)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) byVerb(v notify.Verb) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Verb == v {
			out = append(out, ev)
		}
	}
	return out
}

type env struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	store    *flakyStore
	lists    *cache.FeedListCache
	timeline *cache.FeedListCache
	objects  *cache.ObjectCache
	fans     repository.FanRepository
	tasks    repository.FanoutRepository
	engine   *FanoutEngine
	users    *UserService
	tweets   *TweetService
	feeds    *NewsFeedService
	likes    *LikeService
	comment  *CommentService
	events   *recordingNotifier

	clock time.Time
}

type envOption func(*FanoutOptions, *int)

func withBatchSize(n int) envOption {
	return func(o *FanoutOptions, _ *int) { o.BatchSize = n }
}

func withMaxAttempts(n int) envOption {
	return func(o *FanoutOptions, _ *int) { o.MaxAttempts = n }
}

func withListLimit(n int) envOption {
	return func(_ *FanoutOptions, l *int) { *l = n }
}

func newEnv(t testing.TB, opts ...envOption) *env {
	t.Helper()
	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)

	fo := FanoutOptions{Workers: 4, BatchSize: 1000, ClaimLimit: 64, MaxAttempts: 3}
	listLimit := 200
	for _, o := range opts {
		o(&fo, &listLimit)
	}

	e := &env{
		db:       db,
		mr:       mr,
		store:    &flakyStore{NewsFeedStore: repository.NewSingleNewsFeedStore(db), entered: make(chan struct{}, 1)},
		lists:    cache.NewFeedListCache(rdb, listLimit),
		timeline: cache.NewBoundedListCache(rdb, "user_tweets", listLimit),
		objects:  cache.NewObjectCache(rdb, 0),
		fans:     repository.NewFanRepository(db),
		tasks:    repository.NewFanoutRepository(db),
		events:   &recordingNotifier{},
		clock:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	e.engine = NewFanoutEngine(e.tasks, e.fans, e.store, e.lists, fo)
	e.users = NewUserService(repository.NewUserRepository(db), e.objects)
	e.tweets = NewTweetService(db, repository.NewTweetRepository(db), e.tasks, e.store, e.lists, e.timeline, e.objects, e.engine, e.events)
	e.tweets.now = func() time.Time { return e.clock }
	e.likes = NewLikeService(db, e.objects, e.events)
	e.feeds = NewNewsFeedService(e.store, e.lists, e.tweets, e.users, e.likes, 20, 100)
	e.comment = NewCommentService(db, e.objects, e.events)
	return e
}

// post 每次发帖时钟前进一秒
func (e *env) post(t testing.TB, userID, content string) *model.Tweet {
	t.Helper()
	e.clock = e.clock.Add(time.Second)
	tw, err := e.tweets.Create(context.Background(), userID, content)
	require.NoError(t, err)
	return tw
}

func (e *env) addFans(t testing.TB, userID string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	rows := make([]model.Fan, n)
	for i := range rows {
		ids[i] = fmt.Sprintf("%s-fan-%05d", userID, i)
		rows[i] = model.Fan{ID: fmt.Sprintf("%s-f%05d", userID, i), UserID: userID, FanID: ids[i]}
	}
	require.NoError(t, e.db.CreateInBatches(&rows, 500).Error)
	return ids
}

func (e *env) loader(owner string) cache.Loader {
	return func(ctx context.Context, limit int) ([]model.FeedRef, error) {
		rows, err := e.store.Range(ctx, owner, model.FeedBounds{}, limit)
		if err != nil {
			return nil, err
		}
		refs := make([]model.FeedRef, len(rows))
		for i, r := range rows {
			refs[i] = r.Ref()
		}
		return refs, nil
	}
}

// warm 给 owner 一条旧条目并载入缓存，空列表不会被缓存
func (e *env) warm(t testing.TB, owner string) {
	t.Helper()
	ctx := context.Background()
	old := &model.Tweet{ID: "seed-" + owner, UserID: "seed", CreatedAt: e.clock.Add(-time.Hour)}
	_, err := e.store.BulkInsert(ctx, []model.NewsFeed{model.NewNewsFeed(owner, old)})
	require.NoError(t, err)
	_, err = e.lists.Load(ctx, owner, e.loader(owner))
	require.NoError(t, err)
	_, ok := e.lists.Cached(ctx, owner)
	require.True(t, ok)
}

func tweetIDsOf(refs []model.FeedRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.TweetID
	}
	return out
}
