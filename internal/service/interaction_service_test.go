package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/notify"
	"github.com/d60-Lab/feedfanout/internal/pagination"
	"github.com/d60-Lab/feedfanout/internal/repository"
)

func TestLike_CountersAndInvalidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tw := e.post(t, "alice", "like me")

	// 预热对象缓存
	got, err := e.tweets.Get(ctx, tw.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.LikesCount)
	assert.True(t, e.mr.Exists(cache.Key(cache.KindTweet, tw.ID)))

	target := model.Target{Kind: model.TargetTweet, ID: tw.ID}
	created, err := e.likes.Like(ctx, "bob", target)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, e.mr.Exists(cache.Key(cache.KindTweet, tw.ID)))

	got, err = e.tweets.Get(ctx, tw.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.LikesCount)

	created, err = e.likes.Like(ctx, "bob", target)
	require.NoError(t, err)
	assert.False(t, created)
	got, err = e.tweets.Get(ctx, tw.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.LikesCount)

	liked := e.events.byVerb(notify.VerbLiked)
	require.Len(t, liked, 1)
	assert.Equal(t, "alice", liked[0].RecipientID)
	assert.Equal(t, "bob", liked[0].ActorID)

	removed, err := e.likes.Unlike(ctx, "bob", target)
	require.NoError(t, err)
	assert.True(t, removed)
	got, err = e.tweets.Get(ctx, tw.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.LikesCount)

	removed, err = e.likes.Unlike(ctx, "bob", target)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLike_FeedShowsFreshCounters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tw := e.post(t, "alice", "counted")
	require.NoError(t, e.engine.Drain(ctx))

	page, err := e.feeds.List(ctx, "alice", pagination.Query{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.EqualValues(t, 0, page.Results[0].Tweet.LikesCount)

	_, err = e.likes.Like(ctx, "bob", model.Target{Kind: model.TargetTweet, ID: tw.ID})
	require.NoError(t, err)
	_, err = e.comment.Create(ctx, "carol", tw.ID, "nice")
	require.NoError(t, err)

	page, err = e.feeds.List(ctx, "alice", pagination.Query{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Results[0].Tweet.LikesCount)
	assert.EqualValues(t, 1, page.Results[0].Tweet.CommentsCount)
}

func TestLike_CommentTarget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tw := e.post(t, "alice", "thread")
	c, err := e.comment.Create(ctx, "bob", tw.ID, "first!")
	require.NoError(t, err)

	created, err := e.likes.Like(ctx, "alice", model.Target{Kind: model.TargetComment, ID: c.ID})
	require.NoError(t, err)
	assert.True(t, created)

	stored, err := repository.NewCommentRepository(e.db).Get(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.LikesCount)

	liked := e.events.byVerb(notify.VerbLiked)
	require.Len(t, liked, 1)
	assert.Equal(t, "bob", liked[0].RecipientID)
}

func TestLike_InvalidTargets(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.likes.Like(ctx, "bob", model.Target{Kind: "retweet", ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = e.likes.Like(ctx, "bob", model.Target{Kind: model.TargetTweet})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = e.likes.Like(ctx, "bob", model.Target{Kind: model.TargetTweet, ID: "missing"})
	assert.ErrorIs(t, err, ErrTargetNotFound)
	_, err = e.likes.Unlike(ctx, "bob", model.Target{Kind: "retweet", ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestComment_Create(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tw := e.post(t, "alice", "discuss")

	_, err := e.tweets.Get(ctx, tw.ID)
	require.NoError(t, err)

	c, err := e.comment.Create(ctx, "bob", tw.ID, "  agreed  ")
	require.NoError(t, err)
	assert.Equal(t, "agreed", c.Content)
	assert.False(t, e.mr.Exists(cache.Key(cache.KindTweet, tw.ID)))

	got, err := e.tweets.Get(ctx, tw.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.CommentsCount)

	commented := e.events.byVerb(notify.VerbCommented)
	require.Len(t, commented, 1)
	assert.Equal(t, "alice", commented[0].RecipientID)

	_, err = e.comment.Create(ctx, "bob", "missing", "hello")
	assert.ErrorIs(t, err, ErrTweetNotFound)
	_, err = e.comment.Create(ctx, "bob", tw.ID, " ")
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = e.comment.Create(ctx, "bob", tw.ID, strings.Repeat("x", maxCommentLength+1))
	assert.ErrorIs(t, err, ErrCommentTooLong)
}

func TestUser_ProfileInvalidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u, err := e.users.Create(ctx, "alice")
	require.NoError(t, err)

	p, err := e.users.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, p.Nickname)
	assert.True(t, e.mr.Exists(cache.Key(cache.KindProfile, u.ID)))

	_, err = e.users.UpdateProfile(ctx, u.ID, "Ally", "")
	require.NoError(t, err)
	assert.False(t, e.mr.Exists(cache.Key(cache.KindProfile, u.ID)))

	views, err := e.users.Views(ctx, []string{u.ID, "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "Ally", views[u.ID].Nickname)
	assert.Equal(t, "alice", views[u.ID].Username)
	assert.Equal(t, UserView{ID: "ghost"}, views["ghost"])

	require.NoError(t, e.users.UpdateUsername(ctx, u.ID, "alice2"))
	got, err := e.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Username)

	assert.ErrorIs(t, e.users.UpdateUsername(ctx, "ghost", "x"), ErrUserNotFound)
	_, err = e.users.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = e.users.Create(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyUsername)
}

func TestUser_ViewsHitCacheOnSecondRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u, err := e.users.Create(ctx, "alice")
	require.NoError(t, err)
	// 没有资料行的用户每次都会回源，先建资料
	_, err = e.users.UpdateProfile(ctx, u.ID, "Ally", "")
	require.NoError(t, err)

	_, err = e.users.Views(ctx, []string{u.ID})
	require.NoError(t, err)
	e.objects.ResetStats()

	_, err = e.users.Views(ctx, []string{u.ID})
	require.NoError(t, err)
	st := e.objects.Stats()
	assert.EqualValues(t, 0, st.Loads)
	assert.EqualValues(t, 0, st.Misses)
}
