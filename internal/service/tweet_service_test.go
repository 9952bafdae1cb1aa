package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/pagination"
)

// walkTimeline 沿复合游标翻完作者时间线
func walkTimeline(t *testing.T, e *env, userID string, size int) walkResult {
	t.Helper()
	var res walkResult
	q := pagination.Query{PageSize: size}
	for {
		page, fromCache, err := e.tweets.Timeline(context.Background(), userID, q, size)
		require.NoError(t, err)
		res.pageCount++
		res.fromCache = append(res.fromCache, fromCache)
		res.tweetIDs = append(res.tweetIDs, tweetIDsOf(page.Refs)...)
		cursor, id, ok := page.NextCursor()
		if !ok {
			return res
		}
		q.Before, q.BeforeID = cursor, id
		require.Less(t, res.pageCount, 100)
	}
}

func TestTweetTimeline_PushAfterLoadAndStoreFallback(t *testing.T) {
	e := newEnv(t, withListLimit(5))
	ctx := context.Background()

	var posted []string
	for i := 0; i < 3; i++ {
		posted = append(posted, e.post(t, "alice", "early").ID)
	}
	// 列表尚未载入，发帖不会建出不完整的列表
	_, ok := e.timeline.Cached(ctx, "alice")
	assert.False(t, ok)

	page, fromCache, err := e.tweets.Timeline(ctx, "alice", pagination.Query{}, 10)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, []string{posted[2], posted[1], posted[0]}, tweetIDsOf(page.Refs))

	for i := 0; i < 9; i++ {
		posted = append(posted, e.post(t, "alice", "late").ID)
	}
	refs, ok := e.timeline.Cached(ctx, "alice")
	require.True(t, ok)
	require.Len(t, refs, 5)
	assert.Equal(t, posted[len(posted)-1], refs[0].TweetID)

	want := make([]string, 0, len(posted))
	for i := len(posted) - 1; i >= 0; i-- {
		want = append(want, posted[i])
	}
	res := walkTimeline(t, e, "alice", 4)
	assert.Equal(t, want, res.tweetIDs)
	assert.Equal(t, 3, res.pageCount)
	assert.True(t, res.fromCache[0])
	assert.False(t, res.fromCache[1])

	// 其他作者的 tweet 不会混入
	e.post(t, "bob", "mine")
	res = walkTimeline(t, e, "alice", 20)
	assert.Len(t, res.tweetIDs, len(posted))
}

func TestTweetTimeline_SameInstantTweetsAcrossPages(t *testing.T) {
	e := newEnv(t, withListLimit(3))
	ctx := context.Background()

	// 时钟不前进，全部 tweet 同一时刻
	seen := map[string]bool{}
	for i := 0; i < 7; i++ {
		tw, err := e.tweets.Create(ctx, "alice", "burst")
		require.NoError(t, err)
		seen[tw.ID] = true
	}

	res := walkTimeline(t, e, "alice", 2)
	require.Len(t, res.tweetIDs, 7)
	for _, id := range res.tweetIDs {
		assert.True(t, seen[id])
		delete(seen, id)
	}
	assert.Empty(t, seen)
}

func TestTweetTimeline_DeleteDropsCachedList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	keep := e.post(t, "alice", "keep")
	drop := e.post(t, "alice", "drop")

	_, _, err := e.tweets.Timeline(ctx, "alice", pagination.Query{}, 10)
	require.NoError(t, err)
	require.NoError(t, e.tweets.Delete(ctx, "alice", drop.ID))

	page, fromCache, err := e.tweets.Timeline(ctx, "alice", pagination.Query{}, 10)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, []string{keep.ID}, tweetIDsOf(page.Refs))
}

func TestTweetViews_HasLikedFollowsViewer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u, err := e.users.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, e.fans.Create(ctx, u.ID, "bob"))

	liked := e.post(t, u.ID, "like me")
	other := e.post(t, u.ID, "ignore me")
	require.NoError(t, e.engine.Drain(ctx))
	_, err = e.likes.Like(ctx, "bob", model.Target{Kind: model.TargetTweet, ID: liked.ID})
	require.NoError(t, err)

	hasLiked := func(page *FeedPage) map[string]bool {
		out := map[string]bool{}
		for _, item := range page.Results {
			out[item.Tweet.ID] = item.Tweet.HasLiked
		}
		return out
	}

	feed, err := e.feeds.List(ctx, "bob", pagination.Query{})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{liked.ID: true, other.ID: false}, hasLiked(feed))

	byBob, err := e.feeds.UserTweets(ctx, "bob", u.ID, pagination.Query{})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{liked.ID: true, other.ID: false}, hasLiked(byBob))

	anon, err := e.feeds.UserTweets(ctx, "", u.ID, pagination.Query{})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{liked.ID: false, other.ID: false}, hasLiked(anon))
	assert.Equal(t, "alice", anon.Results[0].Tweet.User.Username)

	view, err := e.feeds.Tweet(ctx, "bob", liked.ID)
	require.NoError(t, err)
	assert.True(t, view.HasLiked)
	assert.EqualValues(t, 1, view.LikesCount)

	view, err = e.feeds.Tweet(ctx, "carol", liked.ID)
	require.NoError(t, err)
	assert.False(t, view.HasLiked)

	_, err = e.feeds.Tweet(ctx, "bob", "missing")
	assert.ErrorIs(t, err, ErrTweetNotFound)
}
