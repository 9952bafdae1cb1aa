// Package cache holds the redis-backed object cache and the bounded per-owner feed list.
// Both degrade to "absent" on any backend error; the store stays authoritative.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/d60-Lab/feedfanout/pkg/logger"
)

// Kind 缓存对象类型
type Kind string

const (
	KindUser    Kind = "user"
	KindProfile Kind = "profile"
	KindTweet   Kind = "tweet"
)

// Key 对象缓存 key：<kind>:<id>
func Key(kind Kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// ObjectCache 通用对象缓存。写路径只做失效，不做就地更新。
type ObjectCache struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
}

// NewObjectCache ttl 为 0 表示不过期
func NewObjectCache(rdb redis.UniversalClient, ttl time.Duration) *ObjectCache {
	return &ObjectCache{rdb: rdb, ttl: ttl}
}

// Get 命中时把 JSON 解到 dst；后端错误与解码错误都视为未命中
func (c *ObjectCache) Get(ctx context.Context, kind Kind, id string, dst any) bool {
	data, err := c.rdb.Get(ctx, Key(kind, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("object cache get failed", zap.String("key", Key(kind, id)), zap.Error(err))
		}
		c.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logger.Warn("object cache decode failed", zap.String("key", Key(kind, id)), zap.Error(err))
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	return true
}

func (c *ObjectCache) Set(ctx context.Context, kind Kind, id string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Warn("object cache encode failed", zap.String("key", Key(kind, id)), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, Key(kind, id), payload, c.ttl).Err(); err != nil {
		logger.Warn("object cache set failed", zap.String("key", Key(kind, id)), zap.Error(err))
	}
}

func (c *ObjectCache) Invalidate(ctx context.Context, kind Kind, id string) {
	if err := c.rdb.Del(ctx, Key(kind, id)).Err(); err != nil {
		logger.Warn("object cache invalidate failed", zap.String("key", Key(kind, id)), zap.Error(err))
	}
}

// Through 读穿透：未命中时调用 load 并回填，同一 key 的并发未命中只加载一次
func Through[T any](ctx context.Context, c *ObjectCache, kind Kind, id string, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c.Get(ctx, kind, id, &v) {
		return v, nil
	}
	res, err, _ := c.group.Do(Key(kind, id), func() (any, error) {
		c.loads.Add(1)
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, kind, id, loaded)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// ThroughMany 批量读穿透：一次 MGET，只为缺失的 id 调用 load。
// load 返回的 map 中缺席的 id 视为不存在，结果中同样缺席。
func ThroughMany[T any](ctx context.Context, c *ObjectCache, kind Kind, ids []string, load func(context.Context, []string) (map[string]T, error)) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(kind, id)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("object cache mget failed", zap.String("kind", string(kind)), zap.Error(err))
		vals = nil
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(str), &item); err == nil {
			out[ids[i]] = item
		}
	}

	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	c.hits.Add(int64(len(ids) - len(missing)))
	c.misses.Add(int64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	c.loads.Add(1)
	loaded, err := load(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, item := range loaded {
		out[id] = item
		c.Set(ctx, kind, id, item)
	}
	return out, nil
}

// Stats 命中统计（压测观察用）
type Stats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

func (c *ObjectCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Loads: c.loads.Load()}
}

func (c *ObjectCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.loads.Store(0)
}
