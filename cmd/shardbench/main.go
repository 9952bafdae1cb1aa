package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/feedfanout/config"
	bu "github.com/d60-Lab/feedfanout/internal/benchutil"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/pkg/database"
)

type BenchResult struct {
	Name           string
	Duration       time.Duration
	TotalRequests  int64
	FailedRequests int64
	QPS            float64
	Latencies      []time.Duration
}

type params struct {
	users       int
	perUser     int
	batch       int
	concurrency int
	duration    time.Duration
	page        int
}

func main() {
	ctx := context.Background()
	cfg := bu.Must(config.Load())
	p := params{
		users:       bu.EnvInt("USERS", 10000),
		perUser:     bu.EnvInt("PER_USER", 20),
		batch:       bu.EnvInt("BATCH", 500),
		concurrency: bu.EnvInt("CONC", 50),
		duration:    time.Duration(bu.EnvInt("SECONDS", 10)) * time.Second,
		page:        bu.EnvInt("PAGE", cfg.Feed.DefaultPageSize),
	}

	fmt.Println("===== newsfeed 单库 vs 分库分表压测 =====")
	fmt.Printf("用户数: %d 每用户条目: %d 总条目: %d\n", p.users, p.perUser, p.users*p.perUser)
	fmt.Printf("查询并发: %d 每场景时长: %v 页大小: %d\n\n", p.concurrency, p.duration, p.page)

	owners, feeds := generateFeeds(p)

	fmt.Println(">>> 单库")
	mainDB := bu.Must(database.InitDB(cfg))
	defer database.Close(mainDB)
	single := repository.NewSingleNewsFeedStore(mainDB)
	mustDo(single.InitSchema())
	singleInsert := benchInsert(ctx, single, feeds, p, "单库-写入")
	singleRange := benchRange(ctx, single, owners, p, "单库-按用户分页")
	printBenchResult(singleInsert)
	printBenchResult(singleRange)

	if len(cfg.Shards.DSNs) == 0 {
		fmt.Println("\n未配置 shards.dsns，跳过分库压测")
		return
	}

	fmt.Println("\n>>> 分库分表")
	sharded := bu.Must(repository.NewShardedNewsFeedStore(bu.Must(database.InitShards(cfg)), cfg.Shards.Tables))
	defer sharded.Close()
	mustDo(sharded.InitSchema())
	shardInsert := benchInsert(ctx, sharded, feeds, p, "分库-写入")
	shardRange := benchRange(ctx, sharded, owners, p, "分库-按用户分页")
	printBenchResult(shardInsert)
	printBenchResult(shardRange)

	printComparison("写入", singleInsert, shardInsert)
	printComparison("按用户分页", singleRange, shardRange)

	// 跨分片的全量统计需要扇出到所有 (库, 表)
	st := time.Now()
	total := bu.Must(sharded.CountAll(ctx))
	fmt.Printf("\n分库 CountAll (scatter %d 库 x %d 表): %v total=%d\n", len(cfg.Shards.DSNs), cfg.Shards.Tables, time.Since(st), total)
	st = time.Now()
	total = bu.Must(single.CountAll(ctx))
	fmt.Printf("单库 CountAll: %v total=%d\n", time.Since(st), total)

	dist := bu.Must(sharded.Distribution(ctx))
	lo, hi := dist[0], dist[0]
	for _, n := range dist {
		lo, hi = min(lo, n), max(hi, n)
	}
	fmt.Printf("分表行数分布: tables=%d min=%d max=%d\n", len(dist), lo, hi)
}

func generateFeeds(p params) ([]string, []model.NewsFeed) {
	run := bu.RunID()
	base := time.Now()
	owners := make([]string, p.users)
	feeds := make([]model.NewsFeed, 0, p.users*p.perUser)
	for i := range owners {
		owners[i] = fmt.Sprintf("sb-%s-%06d", run, i)
		for j := 0; j < p.perUser; j++ {
			tweet := &model.Tweet{ID: uuid.NewString(), CreatedAt: base.Add(-time.Duration(j) * time.Minute)}
			feeds = append(feeds, model.NewNewsFeed(owners[i], tweet))
		}
	}
	rand.Shuffle(len(feeds), func(i, j int) { feeds[i], feeds[j] = feeds[j], feeds[i] })
	return owners, feeds
}

func benchInsert(ctx context.Context, store repository.NewsFeedStore, feeds []model.NewsFeed, p params, name string) *BenchResult {
	fmt.Printf("  写入 %d 条...\n", len(feeds))
	chunks := make(chan []model.NewsFeed, len(feeds)/p.batch+1)
	for i := 0; i < len(feeds); i += p.batch {
		chunks <- feeds[i:min(i+p.batch, len(feeds))]
	}
	close(chunks)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		failed    atomic.Int64
		latencies []time.Duration
	)
	st := time.Now()
	for w := 0; w < p.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunks {
				t := time.Now()
				if _, err := store.BulkInsert(ctx, chunk); err != nil {
					failed.Add(1)
					continue
				}
				d := time.Since(t)
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return calculateResult(name, time.Since(st), int64(len(latencies))+failed.Load(), failed.Load(), latencies)
}

func benchRange(ctx context.Context, store repository.NewsFeedStore, owners []string, p params, name string) *BenchResult {
	fmt.Printf("  分页查询 %v...\n", p.duration)
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		total     atomic.Int64
		failed    atomic.Int64
		latencies []time.Duration
	)
	deadline := time.Now().Add(p.duration)
	st := time.Now()
	for w := 0; w < p.concurrency; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			local := make([]time.Duration, 0, 1024)
			for time.Now().Before(deadline) {
				owner := owners[rng.Intn(len(owners))]
				t := time.Now()
				rows, err := store.Range(ctx, owner, model.FeedBounds{}, p.page)
				total.Add(1)
				if err != nil || len(rows) == 0 {
					failed.Add(1)
					continue
				}
				// 翻到第二页
				if _, err := store.Range(ctx, owner, model.FeedBounds{Before: rows[len(rows)-1].Score, BeforeID: rows[len(rows)-1].ID}, p.page); err != nil {
					failed.Add(1)
					continue
				}
				local = append(local, time.Since(t))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(int64(w))
	}
	wg.Wait()
	return calculateResult(name, time.Since(st), total.Load(), failed.Load(), latencies)
}

func calculateResult(name string, duration time.Duration, total, failed int64, latencies []time.Duration) *BenchResult {
	r := &BenchResult{
		Name:           name,
		Duration:       duration,
		TotalRequests:  total,
		FailedRequests: failed,
		Latencies:      latencies,
	}
	if duration > 0 {
		r.QPS = float64(total-failed) / duration.Seconds()
	}
	return r
}

func printBenchResult(r *BenchResult) {
	fmt.Printf("[%s] 耗时=%v 请求=%d 失败=%d QPS=%.0f %s\n",
		r.Name, r.Duration.Round(time.Millisecond), r.TotalRequests, r.FailedRequests, r.QPS, bu.Summary(r.Latencies))
}

func printComparison(operation string, single, sharded *BenchResult) {
	if single.QPS == 0 {
		return
	}
	fmt.Printf("%s: QPS 分库/单库 = %.2fx, P99 单库=%v 分库=%v\n", operation,
		sharded.QPS/single.QPS, bu.Pct(single.Latencies, 0.99), bu.Pct(sharded.Latencies, 0.99))
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
