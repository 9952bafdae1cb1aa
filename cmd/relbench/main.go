package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/d60-Lab/feedfanout/config"
	bu "github.com/d60-Lab/feedfanout/internal/benchutil"
	"github.com/d60-Lab/feedfanout/internal/repository"
	"github.com/d60-Lab/feedfanout/internal/service"
	"github.com/d60-Lab/feedfanout/pkg/database"
)

// 关注写路径：粉丝表异步冗余 vs 同步双写，以及关系分页查询
func main() {
	ctx := context.Background()
	cfg := bu.Must(config.Load())
	db := bu.Must(database.InitDB(cfg))
	defer database.Close(db)

	N := bu.EnvInt("N", 10000)
	CONC := bu.EnvInt("CONC", 1)
	PAGE := bu.EnvInt("PAGE", 50)
	WORKERS := bu.EnvInt("WORKERS", cfg.Relation.Workers)

	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	replicator := service.NewFanReplicator(fanRepo, N+1)
	stop := replicator.Start(WORKERS)
	asyncSvc := service.NewRelationshipService(followRepo, fanRepo, replicator, nil)
	syncSvc := service.NewRelationshipService(followRepo, fanRepo, nil, nil)

	// 两个大 V 分别承接异步与同步两轮关注
	run := bu.RunID()
	celeb := bu.Must(bu.SeedUsers(db, "celeb-"+run, 2))
	users := bu.Must(bu.SeedUsers(db, "rel-"+run, N))

	repRecs := make([]time.Duration, 0, N)
	doneRep := make(chan struct{})
	repDone := make(chan struct{})
	go func() {
		defer close(repDone)
		for {
			select {
			case d := <-replicator.Metrics():
				repRecs = append(repRecs, d)
			case <-doneRep:
				return
			}
		}
	}()

	maxQ := 0
	quitSample := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q := replicator.QueueLen(); q > maxQ {
					maxQ = q
				}
			case <-quitSample:
				return
			}
		}
	}()

	follow := func(svc service.RelationshipService, target string) ([]time.Duration, time.Duration) {
		workers := min(CONC, N)
		feed := make(chan int, N)
		for i := 0; i < N; i++ {
			feed <- i
		}
		close(feed)

		var mu sync.Mutex
		var wg sync.WaitGroup
		recs := make([]time.Duration, 0, N)
		t0 := time.Now()
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range feed {
					st := time.Now()
					_ = svc.Follow(ctx, users[i], target)
					d := time.Since(st)
					mu.Lock()
					recs = append(recs, d)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		return recs, time.Since(t0)
	}

	asyncRecs, asyncDur := follow(asyncSvc, celeb[0])
	close(quitSample)
	<-sampled

	drainStart := time.Now()
	_ = stop(context.Background())
	drainDur := time.Since(drainStart)
	close(doneRep)
	<-repDone

	syncRecs, syncDur := follow(syncSvc, celeb[1])

	q0 := time.Now()
	_, _ = fanRepo.ListFanIDs(ctx, celeb[0], 0, PAGE)
	fansDur := time.Since(q0)
	q1 := time.Now()
	_, _ = followRepo.ListFolloweeIDs(ctx, users[0], 0, PAGE)
	follDur := time.Since(q1)
	fanCount, _ := fanRepo.Count(ctx, celeb[0])

	fmt.Printf("N=%d CONC=%d PAGE=%d WORKERS=%d\n", N, CONC, PAGE, WORKERS)
	fmt.Printf("Async follow: total=%v %s\n", asyncDur, bu.Summary(asyncRecs))
	fmt.Printf("Sync follow (2 writes): total=%v %s\n", syncDur, bu.Summary(syncRecs))
	fmt.Printf("Replication landing: %s maxQueue=%d drain=%v fans=%d\n", bu.Summary(repRecs), maxQ, drainDur, fanCount)
	fmt.Printf("Query fans(%d): %v\n", PAGE, fansDur)
	fmt.Printf("Query following(%d): %v\n", PAGE, follDur)
}
