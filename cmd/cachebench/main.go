package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/d60-Lab/feedfanout/config"
	"github.com/d60-Lab/feedfanout/internal/app"
	bu "github.com/d60-Lab/feedfanout/internal/benchutil"
	"github.com/d60-Lab/feedfanout/internal/cache"
	"github.com/d60-Lab/feedfanout/internal/pagination"
)

type scenarioResult struct {
	first     []time.Duration
	deep      []time.Duration
	stats     cache.Stats
	cacheKeys int64
	memBytes  int64
}

// 读路径：READERS 个读者各关注 AUTHORS 个作者，逐页翻 DEPTH 页，对比冷/热缓存
func main() {
	ctx := context.Background()
	cfg := bu.Must(config.Load())

	READERS := bu.EnvInt("READERS", 200)
	AUTHORS := bu.EnvInt("AUTHORS", 20)
	POSTS := bu.EnvInt("POSTS", 30)
	PAGE := bu.EnvInt("PAGE", cfg.Feed.DefaultPageSize)
	DEPTH := bu.EnvInt("DEPTH", 5)

	a := bu.Must(app.New(ctx, cfg))
	defer a.Close(context.Background())

	fmt.Println("Setting up test data...")
	run := bu.RunID()
	readers := bu.Must(bu.SeedUsers(a.DB, "rd-"+run, READERS))
	authors := bu.Must(bu.SeedUsers(a.DB, "au-"+run, AUTHORS))
	for _, au := range authors {
		if err := bu.SeedFans(a.DB, au, readers); err != nil {
			panic(err)
		}
	}
	for i := 0; i < POSTS; i++ {
		for _, au := range authors {
			_ = bu.Must(a.Tweets.Create(ctx, au, fmt.Sprintf("post %d", i)))
		}
	}
	if err := a.Engine.Drain(ctx); err != nil {
		panic(err)
	}
	fmt.Printf("Test data ready: %d readers x %d entries\n", READERS, AUTHORS*POSTS)

	walk := func() scenarioResult {
		var res scenarioResult
		a.Objects.ResetStats()
		for _, r := range readers {
			q := pagination.Query{PageSize: PAGE}
			for d := 0; d < DEPTH; d++ {
				st := time.Now()
				page := bu.Must(a.Feeds.List(ctx, r, q))
				if d == 0 {
					res.first = append(res.first, time.Since(st))
				} else {
					res.deep = append(res.deep, time.Since(st))
				}
				if !page.HasNextPage || len(page.Results) == 0 {
					break
				}
				q.Before = page.Results[len(page.Results)-1].CreatedAt
			}
		}
		res.stats = a.Objects.Stats()
		res.cacheKeys, _ = a.Redis.DBSize(ctx).Result()
		if info, err := a.Redis.Info(ctx, "memory").Result(); err == nil {
			res.memBytes = usedMemory(info)
		}
		return res
	}

	if err := a.Redis.FlushDB(ctx).Err(); err != nil {
		panic(err)
	}
	cold := walk()
	warm := walk()

	fmt.Printf("\nNewsfeed read latency (READERS=%d PAGE=%d DEPTH=%d LIST_LIMIT=%d store=%s)\n",
		READERS, PAGE, DEPTH, cfg.Feed.ListLimit, cfg.FeedStore.Backend)
	for _, s := range []struct {
		name string
		res  scenarioResult
	}{{"Cold cache", cold}, {"Warm cache", warm}} {
		fmt.Printf("%-11s first page: %s\n", s.name, bu.Summary(s.res.first))
		fmt.Printf("%-11s deep pages: %s\n", s.name, bu.Summary(s.res.deep))
		fmt.Printf("%-11s object cache hits=%d misses=%d loads=%d keys=%d mem=%s\n", s.name,
			s.res.stats.Hits, s.res.stats.Misses, s.res.stats.Loads, s.res.cacheKeys, formatBytes(s.res.memBytes))
	}
}

func usedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(b)/float64(div), "KMGTPE"[exp])
}
