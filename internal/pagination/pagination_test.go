package pagination

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedfanout/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func feed(i int) model.NewsFeed {
	return model.NewNewsFeed("owner", &model.Tweet{ID: fmt.Sprintf("t%03d", i), CreatedAt: t0.Add(time.Duration(i) * time.Minute)})
}

// n 条，最新在前
func feeds(n int) []model.NewsFeed {
	out := make([]model.NewsFeed, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, feed(i))
	}
	return out
}

func refs(fs []model.NewsFeed) []model.FeedRef {
	out := make([]model.FeedRef, len(fs))
	for i, f := range fs {
		out[i] = f.Ref()
	}
	return out
}

func TestQuerySize(t *testing.T) {
	assert.Equal(t, 20, Query{}.Size(0, 0))
	assert.Equal(t, 5, Query{PageSize: 5}.Size(20, 100))
	assert.Equal(t, 100, Query{PageSize: 1000}.Size(20, 100))
	assert.Equal(t, 10, Query{PageSize: -3}.Size(10, 100))
}

func TestParamsQuery(t *testing.T) {
	q, err := Params{CreatedAtLt: "2024-05-01T12:00:00.000123Z", PageSize: "7"}.Query()
	require.NoError(t, err)
	assert.Equal(t, 7, q.PageSize)
	assert.Equal(t, t0.Add(123*time.Microsecond).UnixMicro(), q.Bounds().Before)
	assert.Empty(t, q.Bounds().BeforeID)
	assert.Zero(t, q.Bounds().After)

	q, err = Params{CreatedAtLt: "2024-05-01T12:00:00Z", IDLt: "f-1", CreatedAtGt: "2024-05-01T11:00:00Z", IDGt: "f-0"}.Query()
	require.NoError(t, err)
	assert.Equal(t, "f-1", q.Bounds().BeforeID)
	assert.Equal(t, "f-0", q.Bounds().AfterID)

	_, err = Params{CreatedAtLt: "yesterday"}.Query()
	assert.Error(t, err)
	_, err = Params{PageSize: "many"}.Query()
	assert.Error(t, err)
	_, err = Params{IDLt: "f-1"}.Query()
	assert.Error(t, err)
}

func TestFromCache_FirstPage(t *testing.T) {
	cached := refs(feeds(50))
	p, ok := FromCache(cached, 50, Query{}, 20)
	require.True(t, ok)
	assert.Len(t, p.Refs, 20)
	assert.True(t, p.HasNext)
	assert.Equal(t, cached[:20], p.Refs)
}

func TestFromCache_NotFullIsComplete(t *testing.T) {
	cached := refs(feeds(30))
	p, ok := FromCache(cached, 200, Query{Before: cached[19].CreatedAt()}, 20)
	require.True(t, ok)
	assert.Equal(t, cached[20:], p.Refs)
	assert.False(t, p.HasNext)

	// 恰好一整页且没有更早的条目
	p, ok = FromCache(cached[:20], 200, Query{}, 20)
	require.True(t, ok)
	assert.Len(t, p.Refs, 20)
	assert.False(t, p.HasNext)
}

func TestFromCache_FullCacheFallsBack(t *testing.T) {
	cached := refs(feeds(150)[:20])

	// 第一页可以，但恰好用完缓存时无法判断是否还有下一页
	_, ok := FromCache(cached, 20, Query{}, 20)
	assert.False(t, ok)

	p, ok := FromCache(cached, 20, Query{}, 10)
	require.True(t, ok)
	assert.True(t, p.HasNext)

	_, ok = FromCache(cached, 20, Query{Before: cached[15].CreatedAt()}, 10)
	assert.False(t, ok)

	_, ok = FromCache(cached, 20, Query{Before: cached[19].CreatedAt()}, 10)
	assert.False(t, ok)
}

func TestFromCache_AfterInsideWindow(t *testing.T) {
	cached := refs(feeds(150)[:20])

	p, ok := FromCache(cached, 20, Query{After: cached[5].CreatedAt()}, 20)
	require.True(t, ok)
	assert.Equal(t, cached[:5], p.Refs)
	assert.False(t, p.HasNext)

	p, ok = FromCache(cached, 20, Query{After: cached[10].CreatedAt()}, 4)
	require.True(t, ok)
	assert.Equal(t, cached[:4], p.Refs)
	assert.True(t, p.HasNext)

	// 下界早于缓存窗口，窗口之外可能还有条目
	older := feeds(150)[40].CreatedAt
	_, ok = FromCache(cached, 20, Query{After: older}, 50)
	assert.False(t, ok)
}

func TestFromStore(t *testing.T) {
	rows := feeds(11)
	p := FromStore(rows, 10)
	assert.True(t, p.HasNext)
	assert.Len(t, p.Refs, 10)
	cur, id, ok := p.NextCursor()
	require.True(t, ok)
	assert.True(t, rows[9].CreatedAt.Equal(cur))
	assert.Equal(t, rows[9].ID, id)

	p = FromStore(rows[:10], 10)
	assert.False(t, p.HasNext)
	_, _, ok = p.NextCursor()
	assert.False(t, ok)
}

// sameSecond n 条同一时间的条目，按 (score, id) 倒序
func sameSecond(n int) []model.NewsFeed {
	out := make([]model.NewsFeed, n)
	for i := range out {
		out[i] = model.NewNewsFeed("owner", &model.Tweet{ID: fmt.Sprintf("tie%02d", i), CreatedAt: t0})
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Ref().Less(out[i].Ref()) })
	return out
}

func TestFromCache_TiesAcrossPageBoundary(t *testing.T) {
	// feeds(3) 中最旧的一条同样落在 t0
	all := append(feeds(3), sameSecond(5)...)
	sort.Slice(all, func(i, j int) bool { return all[j].Ref().Less(all[i].Ref()) })
	cached := refs(all)

	var got []model.FeedRef
	q := Query{}
	for i := 0; i < 10; i++ {
		p, ok := FromCache(cached, 200, q, 3)
		require.True(t, ok)
		got = append(got, p.Refs...)
		cur, id, ok := p.NextCursor()
		if !ok {
			break
		}
		q.Before, q.BeforeID = cur, id
	}
	assert.Equal(t, cached, got)

	// 只带时间的游标会跳过同一时刻剩余的条目
	p, ok := FromCache(cached, 200, Query{Before: cached[4].CreatedAt()}, 10)
	require.True(t, ok)
	assert.Empty(t, p.Refs)
}

func TestFromCache_AfterWithIDInsideWindow(t *testing.T) {
	cached := refs(sameSecond(6))

	p, ok := FromCache(cached, 6, Query{After: cached[3].CreatedAt(), AfterID: cached[3].ID}, 10)
	require.True(t, ok)
	assert.Equal(t, cached[:3], p.Refs)

	// 缓存已满且下界在最旧一条之后才能确认完整
	_, ok = FromCache(cached, 6, Query{After: cached[5].CreatedAt(), AfterID: "0"}, 10)
	assert.False(t, ok)
}
