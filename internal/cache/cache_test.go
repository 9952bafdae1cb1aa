package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/testutil"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type snapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func refAt(owner string, i int) model.FeedRef {
	tw := &model.Tweet{ID: fmt.Sprintf("t%03d", i), CreatedAt: t0.Add(time.Duration(i) * time.Second)}
	return model.NewNewsFeed(owner, tw).Ref()
}

// newest first
func refsDesc(owner string, n int) []model.FeedRef {
	out := make([]model.FeedRef, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, refAt(owner, i))
	}
	return out
}

func staticLoader(refs []model.FeedRef, calls *atomic.Int32) Loader {
	return func(_ context.Context, limit int) ([]model.FeedRef, error) {
		calls.Add(1)
		if len(refs) > limit {
			return refs[:limit], nil
		}
		return refs, nil
	}
}

func assertDescending(t *testing.T, refs []model.FeedRef) {
	t.Helper()
	for i := 1; i < len(refs); i++ {
		assert.True(t, refs[i].Less(refs[i-1]), "position %d out of order", i)
	}
}

func TestObjectCache_ThroughLoadsOnce(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewObjectCache(rdb, 0)
	ctx := context.Background()

	var loads atomic.Int32
	load := func(context.Context) (snapshot, error) {
		loads.Add(1)
		return snapshot{ID: "u1", Name: "alice"}, nil
	}

	v, err := Through(ctx, c, KindUser, "u1", load)
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Name)

	v, err = Through(ctx, c, KindUser, "u1", load)
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Name)
	assert.EqualValues(t, 1, loads.Load())

	c.Invalidate(ctx, KindUser, "u1")
	_, err = Through(ctx, c, KindUser, "u1", load)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loads.Load())
}

func TestObjectCache_ThroughDoesNotCacheErrors(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewObjectCache(rdb, 0)
	ctx := context.Background()

	boom := errors.New("not found")
	_, err := Through(ctx, c, KindTweet, "t1", func(context.Context) (snapshot, error) { return snapshot{}, boom })
	assert.ErrorIs(t, err, boom)

	var dst snapshot
	assert.False(t, c.Get(ctx, KindTweet, "t1", &dst))
}

func TestObjectCache_BackendDownIsMiss(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	c := NewObjectCache(rdb, 0)
	ctx := context.Background()

	c.Set(ctx, KindUser, "u1", snapshot{ID: "u1", Name: "alice"})
	mr.SetError("ERR cache down")

	var dst snapshot
	assert.False(t, c.Get(ctx, KindUser, "u1", &dst))

	v, err := Through(ctx, c, KindUser, "u1", func(context.Context) (snapshot, error) {
		return snapshot{ID: "u1", Name: "from-store"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-store", v.Name)

	mr.SetError("")
	assert.True(t, c.Get(ctx, KindUser, "u1", &dst))
	assert.Equal(t, "alice", dst.Name)
}

func TestObjectCache_ThroughManyLoadsOnlyMissing(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewObjectCache(rdb, time.Minute)
	ctx := context.Background()

	c.Set(ctx, KindTweet, "a", snapshot{ID: "a", Name: "cached"})

	var asked []string
	got, err := ThroughMany(ctx, c, KindTweet, []string{"a", "b", "gone"}, func(_ context.Context, ids []string) (map[string]snapshot, error) {
		asked = ids
		return map[string]snapshot{"b": {ID: "b", Name: "loaded"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "gone"}, asked)
	assert.Len(t, got, 2)
	assert.Equal(t, "cached", got["a"].Name)
	assert.Equal(t, "loaded", got["b"].Name)

	var dst snapshot
	assert.True(t, c.Get(ctx, KindTweet, "b", &dst))
	assert.False(t, c.Get(ctx, KindTweet, "gone", &dst))
}

func TestObjectCache_ConcurrentMissesShareLoad(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewObjectCache(rdb, 0)
	ctx := context.Background()

	release := make(chan struct{})
	var loads atomic.Int32
	load := func(context.Context) (snapshot, error) {
		loads.Add(1)
		<-release
		return snapshot{ID: "u1"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Through(ctx, c, KindUser, "u1", load)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, loads.Load(), int32(2))
}

func TestFeedListCache_LoadTrimsToLimit(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	all := refsDesc("owner", 150)
	var calls atomic.Int32
	refs, err := c.Load(ctx, "owner", staticLoader(all, &calls))
	require.NoError(t, err)
	assert.Len(t, refs, 20)
	assert.Equal(t, all[:20], refs)

	cached, ok := c.Cached(ctx, "owner")
	require.True(t, ok)
	assert.Equal(t, all[:20], cached)
	assertDescending(t, cached)

	_, err = c.Load(ctx, "owner", staticLoader(all, &calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFeedListCache_EmptyIsNotCached(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	var calls atomic.Int32
	refs, err := c.Load(ctx, "owner", staticLoader(nil, &calls))
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, ok := c.Cached(ctx, "owner")
	assert.False(t, ok)
}

func TestFeedListCache_PushIsNoopWhenAbsent(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	assert.False(t, c.Push(ctx, "owner", refAt("owner", 1)))
	assert.False(t, mr.Exists("newsfeeds:owner"))
}

func TestFeedListCache_PushDuringColdLoadIsMerged(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	older := refsDesc("owner", 3)
	fresh := refAt("owner", 9)
	// loader 读完 store 之后、回填之前，扇出推入了一条新条目
	refs, err := c.Load(ctx, "owner", func(ctx context.Context, limit int) ([]model.FeedRef, error) {
		assert.True(t, c.Push(ctx, "owner", fresh))
		return older, nil
	})
	require.NoError(t, err)
	assert.Equal(t, older, refs)

	cur, ok := c.Cached(ctx, "owner")
	require.True(t, ok)
	require.Len(t, cur, 4)
	assert.Equal(t, fresh, cur[0])
	assert.Equal(t, older, cur[1:])
	assert.False(t, mr.Exists("newsfeeds:owner:loading"))
	assert.Zero(t, mr.TTL("newsfeeds:owner"))
}

func TestFeedListCache_FailedLoadDropsPartialList(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	loaderErr := errors.New("store down")
	_, err := c.Load(ctx, "owner", func(ctx context.Context, limit int) ([]model.FeedRef, error) {
		assert.True(t, c.Push(ctx, "owner", refAt("owner", 9)))
		return nil, loaderErr
	})
	require.ErrorIs(t, err, loaderErr)

	_, ok := c.Cached(ctx, "owner")
	assert.False(t, ok)
	assert.False(t, mr.Exists("newsfeeds:owner:loading"))
	assert.False(t, c.Push(ctx, "owner", refAt("owner", 10)))
}

func TestFeedListCache_InterruptedLoadExpires(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	// 载入方在回填前退出，只留下标记
	mr.Set("newsfeeds:owner:loading", "1")
	mr.SetTTL("newsfeeds:owner:loading", loadingTTL)
	require.True(t, c.Push(ctx, "owner", refAt("owner", 1)))
	assert.Positive(t, mr.TTL("newsfeeds:owner"))

	mr.FastForward(loadingTTL + time.Second)
	_, ok := c.Cached(ctx, "owner")
	assert.False(t, ok)
}

func TestBoundedListCache_PrefixIsolatesKeys(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	feeds := NewFeedListCache(rdb, 10)
	timeline := NewBoundedListCache(rdb, "user_tweets", 10)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := timeline.Load(ctx, "alice", staticLoader(refsDesc("alice", 2), &calls))
	require.NoError(t, err)
	assert.True(t, mr.Exists("user_tweets:alice"))
	_, ok := feeds.Cached(ctx, "alice")
	assert.False(t, ok)
}

func TestFeedListCache_PushKeepsBoundAndOrder(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 5)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := c.Load(ctx, "owner", staticLoader(refsDesc("owner", 3), &calls))
	require.NoError(t, err)

	for i := 3; i < 10; i++ {
		prev, _ := c.Cached(ctx, "owner")
		require.True(t, c.Push(ctx, "owner", refAt("owner", i)))
		cur, ok := c.Cached(ctx, "owner")
		require.True(t, ok)
		assert.Len(t, cur, min(5, len(prev)+1))
		assert.Equal(t, refAt("owner", i), cur[0])
		assertDescending(t, cur)
	}

	cur, _ := c.Cached(ctx, "owner")
	assert.Equal(t, refsDesc("owner", 10)[:5], cur)
}

func TestFeedListCache_PushIsIdempotent(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 10)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := c.Load(ctx, "owner", staticLoader(refsDesc("owner", 2), &calls))
	require.NoError(t, err)

	ref := refAt("owner", 5)
	require.True(t, c.Push(ctx, "owner", ref))
	require.True(t, c.Push(ctx, "owner", ref))

	cur, _ := c.Cached(ctx, "owner")
	assert.Len(t, cur, 3)
}

func TestFeedListCache_OutOfOrderPushesStaySorted(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 50)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := c.Load(ctx, "owner", staticLoader(refsDesc("owner", 1), &calls))
	require.NoError(t, err)

	// 不同作者的扇出以任意顺序到达
	order := []int{7, 3, 9, 1, 5, 2, 8, 4, 6}
	var wg sync.WaitGroup
	for _, i := range order {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Push(ctx, "owner", refAt("owner", i))
		}(i)
	}
	wg.Wait()

	cur, ok := c.Cached(ctx, "owner")
	require.True(t, ok)
	assert.Equal(t, refsDesc("owner", 10), cur)
}

func TestFeedListCache_EqualScoresOrderedByID(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 10)
	ctx := context.Background()

	a := model.NewNewsFeed("owner", &model.Tweet{ID: "ta", CreatedAt: t0}).Ref()
	b := model.NewNewsFeed("owner", &model.Tweet{ID: "tb", CreatedAt: t0}).Ref()
	var calls atomic.Int32
	_, err := c.Load(ctx, "owner", staticLoader([]model.FeedRef{a}, &calls))
	require.NoError(t, err)
	require.True(t, c.Push(ctx, "owner", b))

	cur, _ := c.Cached(ctx, "owner")
	require.Len(t, cur, 2)
	assert.Greater(t, cur[0].ID, cur[1].ID)
}

func TestFeedListCache_BackendDownFallsBackToLoader(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	mr.SetError("ERR cache down")
	var calls atomic.Int32
	refs, err := c.Load(ctx, "owner", staticLoader(refsDesc("owner", 3), &calls))
	require.NoError(t, err)
	assert.Len(t, refs, 3)
	assert.False(t, c.Push(ctx, "owner", refAt("owner", 10)))

	loaderErr := errors.New("store down")
	_, err = c.Load(ctx, "owner", func(context.Context, int) ([]model.FeedRef, error) { return nil, loaderErr })
	assert.ErrorIs(t, err, loaderErr)
}

func TestFeedListCache_Invalidate(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	var calls atomic.Int32
	_, err := c.Load(ctx, "owner", staticLoader(refsDesc("owner", 3), &calls))
	require.NoError(t, err)
	c.Invalidate(ctx, "owner")
	_, ok := c.Cached(ctx, "owner")
	assert.False(t, ok)
}

func TestFeedListCache_CorruptedListIsReloaded(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	c := NewFeedListCache(rdb, 20)
	ctx := context.Background()

	_, err := mr.ZAdd("newsfeeds:owner", 1, "not-json")
	require.NoError(t, err)

	var calls atomic.Int32
	refs, err := c.Load(ctx, "owner", staticLoader(refsDesc("owner", 2), &calls))
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	cur, ok := c.Cached(ctx, "owner")
	require.True(t, ok)
	assert.Equal(t, refsDesc("owner", 2), cur)
}
