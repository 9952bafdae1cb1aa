package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/pkg/logger"
)

// pushScript 列表或载入标记存在时插入，随后裁剪到 ARGV[3] 条。
// 载入期间先到的 push 建出的列表继承标记的 TTL，载入中断时随标记一起过期。
// member 相同（同一 feed id）时 ZADD 只会覆盖，重试推送是幂等的。
var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  local ttl = redis.call('PTTL', KEYS[2])
  if ttl <= 0 then
    return 0
  end
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
  redis.call('PEXPIRE', KEYS[1], ttl)
  return 1
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(tonumber(ARGV[3]) + 1))
return 1
`)

// loadingTTL 载入标记的存活时间，需覆盖一次 loader 调用
const loadingTTL = 30 * time.Second

// Loader 从 store 读取 owner 最新的 limit 条，按 score DESC, id DESC
type Loader func(ctx context.Context, limit int) ([]model.FeedRef, error)

// FeedListCache 每个 owner 一个 sorted set，score 为 feed score，最多保留 limit 条。
// 同 score 的 member 按字典序排列，JSON 编码以 id 开头，因此整体顺序与 store 的 (score, id) 一致。
type FeedListCache struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
}

// NewFeedListCache 订阅流缓存，key 为 newsfeeds:<owner>
func NewFeedListCache(rdb redis.UniversalClient, limit int) *FeedListCache {
	return NewBoundedListCache(rdb, "newsfeeds", limit)
}

// NewBoundedListCache 以 prefix 区分 key 空间的有界列表，例如 user_tweets
func NewBoundedListCache(rdb redis.UniversalClient, prefix string, limit int) *FeedListCache {
	if limit <= 0 {
		limit = 200
	}
	return &FeedListCache{rdb: rdb, prefix: prefix, limit: limit}
}

// Limit 缓存容量 L
func (c *FeedListCache) Limit() int { return c.limit }

func (c *FeedListCache) key(ownerID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, ownerID)
}

func (c *FeedListCache) loadingKey(ownerID string) string {
	return fmt.Sprintf("%s:%s:loading", c.prefix, ownerID)
}

// Cached 只读缓存；key 不存在、后端错误或成员损坏都返回 false
func (c *FeedListCache) Cached(ctx context.Context, ownerID string) ([]model.FeedRef, bool) {
	members, err := c.rdb.ZRevRange(ctx, c.key(ownerID), 0, -1).Result()
	if err != nil {
		logger.Warn("feed list read failed", zap.String("owner", ownerID), zap.Error(err))
		return nil, false
	}
	if len(members) == 0 {
		return nil, false
	}
	refs := make([]model.FeedRef, len(members))
	for i, m := range members {
		if err := json.Unmarshal([]byte(m), &refs[i]); err != nil {
			logger.Warn("feed list member corrupted", zap.String("owner", ownerID), zap.Error(err))
			// 回填是合并写入，损坏的列表要先丢弃
			c.Invalidate(ctx, ownerID)
			return nil, false
		}
	}
	return refs, true
}

// Load 命中直接返回；未命中时先写载入标记，再用 loader 读取最新 L 条合并回填。
// 载入期间到达的 push 写进同一个 key，合并后不会丢失。空列表不缓存。
func (c *FeedListCache) Load(ctx context.Context, ownerID string, loader Loader) ([]model.FeedRef, error) {
	if refs, ok := c.Cached(ctx, ownerID); ok {
		return refs, nil
	}
	marked := true
	if err := c.rdb.Set(ctx, c.loadingKey(ownerID), 1, loadingTTL).Err(); err != nil {
		logger.Warn("feed list mark loading failed", zap.String("owner", ownerID), zap.Error(err))
		marked = false
	}
	refs, err := loader(ctx, c.limit)
	if err != nil {
		if marked {
			c.abort(ctx, ownerID)
		}
		return nil, err
	}
	if len(refs) > c.limit {
		refs = refs[:c.limit]
	}
	if marked {
		c.populate(ctx, ownerID, refs)
	}
	return refs, nil
}

// populate 不删除已有成员，与载入期间的 push 合并后裁剪
func (c *FeedListCache) populate(ctx context.Context, ownerID string, refs []model.FeedRef) {
	members := make([]redis.Z, 0, len(refs))
	for _, r := range refs {
		payload, err := json.Marshal(r)
		if err != nil {
			c.abort(ctx, ownerID)
			return
		}
		members = append(members, redis.Z{Score: float64(r.Score), Member: payload})
	}
	key := c.key(ownerID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
			pipe.ZRemRangeByRank(ctx, key, 0, int64(-(c.limit + 1)))
		}
		pipe.Persist(ctx, key)
		pipe.Del(ctx, c.loadingKey(ownerID))
		return nil
	})
	if err != nil {
		logger.Warn("feed list populate failed", zap.String("owner", ownerID), zap.Error(err))
		c.abort(ctx, ownerID)
	}
}

// abort 丢弃载入期间 push 建出的不完整列表
func (c *FeedListCache) abort(ctx context.Context, ownerID string) {
	if err := c.rdb.Del(ctx, c.key(ownerID), c.loadingKey(ownerID)).Err(); err != nil {
		logger.Warn("feed list abort load failed", zap.String("owner", ownerID), zap.Error(err))
	}
}

// Push 把 ref 插入 owner 已存在（或正在载入）的列表并裁剪；否则不做任何事。
// 返回是否真正写入。失败只记录日志，下一次冷读会从 store 恢复。
func (c *FeedListCache) Push(ctx context.Context, ownerID string, ref model.FeedRef) bool {
	payload, err := json.Marshal(ref)
	if err != nil {
		return false
	}
	n, err := pushScript.Run(ctx, c.rdb, []string{c.key(ownerID), c.loadingKey(ownerID)}, ref.Score, payload, c.limit).Int()
	if err != nil {
		logger.Warn("feed list push failed", zap.String("owner", ownerID), zap.String("feed", ref.ID), zap.Error(err))
		return false
	}
	return n == 1
}

func (c *FeedListCache) Invalidate(ctx context.Context, ownerID string) {
	if err := c.rdb.Del(ctx, c.key(ownerID)).Err(); err != nil {
		logger.Warn("feed list invalidate failed", zap.String("owner", ownerID), zap.Error(err))
	}
}
