package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/notify"
	"github.com/d60-Lab/feedfanout/internal/repository"
)

func TestRelationship_FollowSyncWritesFanSide(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	svc := NewRelationshipService(repository.NewFollowRepository(e.db), e.fans, nil, e.events)

	assert.ErrorIs(t, svc.Follow(ctx, "bob", "bob"), ErrFollowSelf)

	require.NoError(t, svc.Follow(ctx, "bob", "alice"))
	require.NoError(t, svc.Follow(ctx, "bob", "alice"))
	require.NoError(t, svc.Follow(ctx, "carol", "alice"))

	fans, err := svc.ListFans(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, fans)
	following, err := svc.ListFollowing(ctx, "bob", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, following)

	followed := e.events.byVerb(notify.VerbFollowed)
	require.Len(t, followed, 2)
	assert.Equal(t, "alice", followed[0].RecipientID)

	// 新粉丝收到之后发出的 tweet
	tw := e.post(t, "alice", "hi fans")
	require.NoError(t, e.engine.Drain(ctx))
	rows, err := e.store.Range(ctx, "carol", model.FeedBounds{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, tw.ID, rows[0].TweetID)

	require.NoError(t, svc.Unfollow(ctx, "bob", "alice"))
	n, err := svc.FanCount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRelationship_AsyncReplication(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rep := NewFanReplicator(e.fans, 16)
	// 单 worker 保证同一关系的 add/remove 按入队顺序执行
	stop := rep.Start(1)
	svc := NewRelationshipService(repository.NewFollowRepository(e.db), e.fans, rep, nil)

	require.NoError(t, svc.Follow(ctx, "bob", "alice"))
	require.NoError(t, svc.Follow(ctx, "carol", "alice"))

	select {
	case d := <-rep.Metrics():
		assert.GreaterOrEqual(t, d, time.Duration(0))
	case <-time.After(5 * time.Second):
		t.Fatal("replication did not finish")
	}

	require.NoError(t, svc.Unfollow(ctx, "carol", "alice"))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))
	assert.Zero(t, rep.QueueLen())

	n, err := svc.FanCount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestFanReplicator_FullQueueWritesInline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rep := NewFanReplicator(e.fans, 1)
	rep.wait = 10 * time.Millisecond

	// 未启动 worker，第一条占满队列，其余同步写入
	rep.EnqueueAdd("alice", "bob")
	rep.EnqueueAdd("alice", "carol")
	rep.EnqueueAdd("alice", "dave")
	assert.Equal(t, 1, rep.QueueLen())
	n, err := e.fans.Count(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	stop := rep.Start(1)
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, stop(stopCtx))
	assert.Zero(t, rep.QueueLen())

	// 停止后的入队同样落库
	rep.EnqueueAdd("alice", "erin")
	rep.EnqueueRemove("alice", "carol")
	assert.Zero(t, rep.QueueLen())

	fans, err := e.fans.ListFanIDs(ctx, "alice", 0, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "dave", "erin"}, fans)
}
