package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/feedfanout/config"
	"github.com/d60-Lab/feedfanout/internal/app"
	bu "github.com/d60-Lab/feedfanout/internal/benchutil"
	"github.com/d60-Lab/feedfanout/internal/model"
	"github.com/d60-Lab/feedfanout/internal/pagination"
)

// 写路径：一个作者 N 个粉丝，连续发 POSTS 条，统计发帖延迟与扇出落地延迟
func main() {
	ctx := context.Background()
	cfg := bu.Must(config.Load())

	N := bu.EnvInt("N", 20000)
	POSTS := bu.EnvInt("POSTS", 100)
	cfg.Fanout.Workers = bu.EnvInt("WORKERS", cfg.Fanout.Workers)
	cfg.Fanout.BatchSize = bu.EnvInt("BATCH", cfg.Fanout.BatchSize)
	cfg.Fanout.ClaimLimit = bu.EnvInt("CLAIM", cfg.Fanout.ClaimLimit)

	a := bu.Must(app.New(ctx, cfg))
	defer a.Close(context.Background())

	run := bu.RunID()
	author := bu.Must(a.Users.Create(ctx, "author-"+run))
	fans := bu.Must(bu.SeedUsers(a.DB, "tl-"+run, N))
	if err := bu.SeedFans(a.DB, author.ID, fans); err != nil {
		panic(err)
	}
	// 预热一个粉丝的列表缓存，观察推送路径
	if len(fans) > 0 {
		_ = bu.Must(a.Feeds.List(ctx, fans[0], pagination.Query{}))
	}

	if err := a.Start(ctx, nil); err != nil {
		panic(err)
	}

	pub := make([]time.Duration, 0, POSTS)
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		_ = bu.Must(a.Tweets.Create(ctx, author.ID, fmt.Sprintf("hello %d", i)))
		pub = append(pub, time.Since(st))
	}

	// 每个批次完成上报一次 tweet 创建 -> 批次落地
	batchesPerPost := (N + cfg.Fanout.BatchSize - 1) / cfg.Fanout.BatchSize
	want := POSTS * batchesPerPost
	land := make([]time.Duration, 0, want)
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < want {
		select {
		case d := <-a.Engine.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for fanout metrics: got=%d want=%d\n", len(land), want)
			break collect
		}
	}

	fmt.Printf("N=%d POSTS=%d WORKERS=%d BATCH=%d CLAIM=%d store=%s\n",
		N, POSTS, cfg.Fanout.Workers, cfg.Fanout.BatchSize, cfg.Fanout.ClaimLimit, cfg.FeedStore.Backend)
	fmt.Printf("Tweet create latency: %s\n", bu.Summary(pub))
	fmt.Printf("Fanout landing (tweet -> batch done): %s\n", bu.Summary(land))

	// 同步扇出对照：不经过任务表
	tweet := &model.Tweet{ID: uuid.NewString(), UserID: author.ID, Content: "sync", CreatedAt: time.Now()}
	if err := a.DB.Create(tweet).Error; err != nil {
		panic(err)
	}
	st := time.Now()
	res := bu.Must(a.Engine.Fanout(ctx, tweet))
	fmt.Printf("Sync fanout: %v batches=%d followers=%d inserted=%d\n", time.Since(st), res.Batches, res.Followers, res.Inserted)

	if len(fans) > 0 {
		st := time.Now()
		page := bu.Must(a.Feeds.List(ctx, fans[0], pagination.Query{PageSize: 50}))
		fmt.Printf("Warm timeline read (fan0, size=50): %v rows=%d\n", time.Since(st), len(page.Results))

		a.Lists.Invalidate(ctx, fans[len(fans)-1])
		st = time.Now()
		page = bu.Must(a.Feeds.List(ctx, fans[len(fans)-1], pagination.Query{PageSize: 50}))
		fmt.Printf("Cold timeline read (fanN, size=50): %v rows=%d\n", time.Since(st), len(page.Results))
	}
}
