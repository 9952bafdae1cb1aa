package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedfanout/internal/model"
)

// shardFeedRow 分表行结构，索引按表名单独创建，避免同库多表索引重名
type shardFeedRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"type:varchar(36);not null"`
	TweetID   string    `gorm:"type:varchar(36);not null"`
	Score     int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// ShardedNewsFeedStore 分库分表实现：同一用户的 newsfeed 落在同一张表，
// 用户维度的 Range 只访问一张分表
type ShardedNewsFeedStore struct {
	// shards[dbIndex] = *gorm.DB，每个库 tables 张分表
	shards []*gorm.DB
	tables int
}

// NewShardedNewsFeedStore 接管 dbs 的生命周期
func NewShardedNewsFeedStore(dbs []*gorm.DB, tables int) (*ShardedNewsFeedStore, error) {
	if len(dbs) == 0 {
		return nil, errors.New("sharded feed store needs at least one database")
	}
	if tables <= 0 {
		return nil, fmt.Errorf("invalid table count %d", tables)
	}
	return &ShardedNewsFeedStore{shards: dbs, tables: tables}, nil
}

// Route 根据 owner 路由：哈希低位定库，高位定表
func (s *ShardedNewsFeedStore) Route(ownerID string) (dbIndex, tableIndex int) {
	h := xxhash.Sum64String(ownerID)
	dbIndex = int(h % uint64(len(s.shards)))
	tableIndex = int((h / uint64(len(s.shards))) % uint64(s.tables))
	return
}

func shardTableName(tableIndex int) string {
	return fmt.Sprintf("newsfeeds_%d", tableIndex)
}

func toShardRows(feeds []model.NewsFeed) []shardFeedRow {
	rows := make([]shardFeedRow, len(feeds))
	for i, f := range feeds {
		rows[i] = shardFeedRow(f)
	}
	return rows
}

func (s *ShardedNewsFeedStore) BulkInsert(ctx context.Context, feeds []model.NewsFeed) (int64, error) {
	if len(feeds) == 0 {
		return 0, nil
	}

	type route struct{ db, table int }
	groups := make(map[route][]model.NewsFeed)
	for _, f := range feeds {
		d, t := s.Route(f.UserID)
		groups[route{d, t}] = append(groups[route{d, t}], f)
	}

	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for rt, group := range groups {
		rows := toShardRows(group)
		db := s.shards[rt.db]
		table := shardTableName(rt.table)
		g.Go(func() error {
			res := db.WithContext(gctx).
				Table(table).
				Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(&rows, insertBatchSize)
			if res.Error != nil {
				return fmt.Errorf("insert into %s: %w", table, res.Error)
			}
			inserted.Add(res.RowsAffected)
			return nil
		})
	}
	err := g.Wait()
	return inserted.Load(), err
}

func (s *ShardedNewsFeedStore) Range(ctx context.Context, ownerID string, bounds model.FeedBounds, limit int) ([]model.NewsFeed, error) {
	dbIdx, tblIdx := s.Route(ownerID)
	var rows []shardFeedRow
	q := s.shards[dbIdx].WithContext(ctx).Table(shardTableName(tblIdx)).Where("user_id = ?", ownerID)
	err := applyBounds(q, bounds).Order("score DESC, id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	feeds := make([]model.NewsFeed, len(rows))
	for i, r := range rows {
		feeds[i] = model.NewsFeed(r)
	}
	return feeds, nil
}

func (s *ShardedNewsFeedStore) Count(ctx context.Context, ownerID string) (int64, error) {
	dbIdx, tblIdx := s.Route(ownerID)
	var cnt int64
	err := s.shards[dbIdx].WithContext(ctx).Table(shardTableName(tblIdx)).Where("user_id = ?", ownerID).Count(&cnt).Error
	return cnt, err
}

// CountAll 需要扫描所有分片
func (s *ShardedNewsFeedStore) CountAll(ctx context.Context) (int64, error) {
	counts := make([]int64, len(s.shards)*s.tables)
	g, gctx := errgroup.WithContext(ctx)
	for di := range s.shards {
		for ti := 0; ti < s.tables; ti++ {
			slot := di*s.tables + ti
			db := s.shards[di]
			g.Go(func() error {
				return db.WithContext(gctx).Table(shardTableName(ti)).Count(&counts[slot]).Error
			})
		}
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// InitSchema 在每个库中创建全部分表及其索引
func (s *ShardedNewsFeedStore) InitSchema() error {
	for dbIdx, db := range s.shards {
		for tblIdx := 0; tblIdx < s.tables; tblIdx++ {
			table := shardTableName(tblIdx)
			if err := db.Table(table).AutoMigrate(&shardFeedRow{}); err != nil {
				return fmt.Errorf("failed to migrate table %s in db %d: %w", table, dbIdx, err)
			}
			stmts := []string{
				fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS ux_%s_user_tweet ON %s (user_id, tweet_id)", table, table),
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user_score ON %s (user_id, score)", table, table),
			}
			for _, stmt := range stmts {
				if err := db.Exec(stmt).Error; err != nil {
					return fmt.Errorf("create index on %s in db %d: %w", table, dbIdx, err)
				}
			}
		}
	}
	return nil
}

// Close 关闭所有分库连接
func (s *ShardedNewsFeedStore) Close() error {
	var errs []error
	for _, db := range s.shards {
		sqlDB, err := db.DB()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Distribution 返回每个 (库, 表) 的行数，下标为 dbIndex*tables+tableIndex（压测观察倾斜用）
func (s *ShardedNewsFeedStore) Distribution(ctx context.Context) ([]int64, error) {
	out := make([]int64, len(s.shards)*s.tables)
	for di, db := range s.shards {
		for ti := 0; ti < s.tables; ti++ {
			if err := db.WithContext(ctx).Table(shardTableName(ti)).Count(&out[di*s.tables+ti]).Error; err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
