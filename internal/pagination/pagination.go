// Package pagination 时间线游标分页：优先从有界缓存列表取页，缓存不能证明完整时回退到 store。
package pagination

import (
	"fmt"
	"strconv"
	"time"

	"github.com/d60-Lab/feedfanout/internal/model"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query 对应 created_at__lt / created_at__gt / page_size。
// BeforeID/AfterID 为可选的条目 id，与时间组成 (created_at, id) 复合游标。
type Query struct {
	Before   time.Time // 严格早于，翻下一页
	BeforeID string
	After    time.Time // 严格晚于，下拉刷新
	AfterID  string
	PageSize int
}

// Params HTTP 查询参数，时间为 RFC3339（可带小数秒）
type Params struct {
	CreatedAtLt string `form:"created_at__lt"`
	IDLt        string `form:"id__lt"`
	CreatedAtGt string `form:"created_at__gt"`
	IDGt        string `form:"id__gt"`
	PageSize    string `form:"page_size"`
}

func (p Params) Query() (Query, error) {
	q := Query{BeforeID: p.IDLt, AfterID: p.IDGt}
	var err error
	if p.CreatedAtLt != "" {
		if q.Before, err = time.Parse(time.RFC3339Nano, p.CreatedAtLt); err != nil {
			return q, fmt.Errorf("invalid created_at__lt: %w", err)
		}
	}
	if p.CreatedAtGt != "" {
		if q.After, err = time.Parse(time.RFC3339Nano, p.CreatedAtGt); err != nil {
			return q, fmt.Errorf("invalid created_at__gt: %w", err)
		}
	}
	if q.BeforeID != "" && q.Before.IsZero() {
		return q, fmt.Errorf("id__lt requires created_at__lt")
	}
	if q.AfterID != "" && q.After.IsZero() {
		return q, fmt.Errorf("id__gt requires created_at__gt")
	}
	if p.PageSize != "" {
		if q.PageSize, err = strconv.Atoi(p.PageSize); err != nil {
			return q, fmt.Errorf("invalid page_size: %w", err)
		}
	}
	return q, nil
}

// Size 归一化后的页大小
func (q Query) Size(def, max int) int {
	if def <= 0 {
		def = DefaultPageSize
	}
	if max <= 0 {
		max = MaxPageSize
	}
	switch {
	case q.PageSize <= 0:
		return def
	case q.PageSize > max:
		return max
	default:
		return q.PageSize
	}
}

func (q Query) Bounds() model.FeedBounds {
	var b model.FeedBounds
	if !q.Before.IsZero() {
		b.Before = model.NormalizeTime(q.Before).UnixMicro()
		b.BeforeID = q.BeforeID
	}
	if !q.After.IsZero() {
		b.After = model.NormalizeTime(q.After).UnixMicro()
		b.AfterID = q.AfterID
	}
	return b
}

// Page 一页 feed 引用，HasNext 表示范围内还有更早的条目
type Page struct {
	Refs    []model.FeedRef
	HasNext bool
}

// FromCache 用缓存列表 refs（降序，最多 listLimit 条）组页。
// 返回 false 表示缓存无法证明这一页完整，调用方必须查 store。
func FromCache(refs []model.FeedRef, listLimit int, q Query, size int) (Page, bool) {
	bounds := q.Bounds()
	filtered := make([]model.FeedRef, 0, size+1)
	for _, r := range refs {
		if !bounds.Contains(r) {
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) > size {
			return Page{Refs: filtered[:size], HasNext: true}, true
		}
	}

	// 未满说明缓存就是全集
	if len(refs) < listLimit {
		return Page{Refs: filtered}, true
	}
	// 缓存已满：只有下界落在缓存窗口内时，范围内的条目才全部在缓存里
	if bounds.After != 0 && len(refs) > 0 && afterCovers(bounds, refs[len(refs)-1]) {
		return Page{Refs: filtered}, true
	}
	return Page{}, false
}

// afterCovers 下界不早于缓存中最旧的一条
func afterCovers(b model.FeedBounds, oldest model.FeedRef) bool {
	if b.AfterID == "" {
		return b.After >= oldest.Score
	}
	return !model.FeedRef{Score: b.After, ID: b.AfterID}.Less(oldest)
}

// FromStore rows 按 size+1 查询，多出的一条只用于判断 HasNext
func FromStore(rows []model.NewsFeed, size int) Page {
	refs := make([]model.FeedRef, len(rows))
	for i, r := range rows {
		refs[i] = r.Ref()
	}
	return FromRefs(refs, size)
}

// FromRefs 同 FromStore，输入已是引用
func FromRefs(refs []model.FeedRef, size int) Page {
	p := Page{Refs: refs, HasNext: len(refs) > size}
	if p.HasNext {
		p.Refs = refs[:size]
	}
	return p
}

// NextCursor 下一页的 created_at__lt 与 id__lt
func (p Page) NextCursor() (time.Time, string, bool) {
	if !p.HasNext || len(p.Refs) == 0 {
		return time.Time{}, "", false
	}
	last := p.Refs[len(p.Refs)-1]
	return last.CreatedAt(), last.ID, true
}
