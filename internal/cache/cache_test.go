package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"local_review/internal/cache"
	"local_review/internal/clock"
	"local_review/internal/testutil"

	"github.com/rs/zerolog"
)

type shop struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func TestQueryWithPassThrough(t *testing.T) {
	t.Parallel()

	t.Run("caches null marker for missing rows", func(t *testing.T) {
		mr, rdb := testutil.NewTestRedis(t)
		c := cache.New(rdb, zerolog.Nop(), nil, 2)
		t.Cleanup(c.Close)

		var loads atomic.Int32
		load := func(context.Context) (shop, error) {
			loads.Add(1)
			return shop{}, cache.ErrNotFound
		}

		for i := 0; i < 3; i++ {
			_, err := cache.QueryWithPassThrough(context.Background(), c, "cache:shop:404", load, time.Minute)
			if !errors.Is(err, cache.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		}
		if loads.Load() != 1 {
			t.Fatalf("expected 1 load, got %d", loads.Load())
		}
		if ttl := mr.TTL("cache:shop:404"); ttl != 2*time.Minute {
			t.Fatalf("expected null ttl 2m, got %v", ttl)
		}
	})

	t.Run("caches found value with ttl", func(t *testing.T) {
		mr, rdb := testutil.NewTestRedis(t)
		c := cache.New(rdb, zerolog.Nop(), nil, 2)
		t.Cleanup(c.Close)

		var loads atomic.Int32
		load := func(context.Context) (shop, error) {
			loads.Add(1)
			return shop{ID: 1, Name: "Tea House"}, nil
		}

		for i := 0; i < 3; i++ {
			got, err := cache.QueryWithPassThrough(context.Background(), c, "cache:shop:1", load, 30*time.Minute)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got.Name != "Tea House" {
				t.Fatalf("unexpected value %+v", got)
			}
		}
		if loads.Load() != 1 {
			t.Fatalf("expected 1 load, got %d", loads.Load())
		}
		if ttl := mr.TTL("cache:shop:1"); ttl != 30*time.Minute {
			t.Fatalf("expected ttl 30m, got %v", ttl)
		}
	})

	t.Run("loader failure is not cached", func(t *testing.T) {
		mr, rdb := testutil.NewTestRedis(t)
		c := cache.New(rdb, zerolog.Nop(), nil, 2)
		t.Cleanup(c.Close)

		boom := errors.New("db down")
		_, err := cache.QueryWithPassThrough(context.Background(), c, "cache:shop:2", func(context.Context) (shop, error) {
			return shop{}, boom
		}, time.Minute)
		if !errors.Is(err, boom) {
			t.Fatalf("expected loader error, got %v", err)
		}
		if mr.Exists("cache:shop:2") {
			t.Fatalf("expected nothing cached after loader failure")
		}
	})

	t.Run("shared load survives first caller cancel", func(t *testing.T) {
		_, rdb := testutil.NewTestRedis(t)
		c := cache.New(rdb, zerolog.Nop(), nil, 2)
		t.Cleanup(c.Close)

		started := make(chan struct{})
		release := make(chan struct{})
		var loads atomic.Int32
		load := func(ctx context.Context) (shop, error) {
			if loads.Add(1) == 1 {
				close(started)
			}
			<-release
			if err := ctx.Err(); err != nil {
				return shop{}, err
			}
			return shop{ID: 1, Name: "Tea House"}, nil
		}

		ctxA, cancelA := context.WithCancel(context.Background())
		errA := make(chan error, 1)
		go func() {
			_, err := cache.QueryWithPassThrough(ctxA, c, "cache:shop:1", load, time.Minute)
			errA <- err
		}()
		<-started

		type result struct {
			v   shop
			err error
		}
		resB := make(chan result, 1)
		go func() {
			v, err := cache.QueryWithPassThrough(context.Background(), c, "cache:shop:1", load, time.Minute)
			resB <- result{v, err}
		}()
		// 等 B 挂到同一次回源上
		time.Sleep(50 * time.Millisecond)

		cancelA()
		if err := <-errA; !errors.Is(err, context.Canceled) {
			t.Fatalf("expected caller A canceled, got %v", err)
		}
		close(release)

		got := <-resB
		if got.err != nil || got.v.Name != "Tea House" {
			t.Fatalf("expected caller B to get the value, got %+v (%v)", got.v, got.err)
		}
		if loads.Load() != 1 {
			t.Fatalf("expected 1 shared load, got %d", loads.Load())
		}
	})
}

func TestQueryWithLogicalExpire_MissWithoutPreheat(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewTestRedis(t)
	c := cache.New(rdb, zerolog.Nop(), nil, 2)
	t.Cleanup(c.Close)

	var loads atomic.Int32
	_, err := cache.QueryWithLogicalExpire(context.Background(), c, "cache:shop:1", func(context.Context) (shop, error) {
		loads.Add(1)
		return shop{ID: 1}, nil
	}, 20*time.Second)
	if !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if loads.Load() != 0 {
		t.Fatalf("logical expire must not load on a cold miss")
	}
}

func TestQueryWithLogicalExpire_FreshHitDoesNotLoad(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewTestRedis(t)
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(rdb, zerolog.Nop(), clk, 2)
	t.Cleanup(c.Close)
	ctx := context.Background()

	if err := c.SetWithLogicalExpire(ctx, "cache:shop:1", shop{ID: 1, Name: "v1"}, 20*time.Second); err != nil {
		t.Fatalf("preheat: %v", err)
	}
	clk.Advance(10 * time.Second)

	got, err := cache.QueryWithLogicalExpire(ctx, c, "cache:shop:1", func(context.Context) (shop, error) {
		t.Errorf("loader must not run for a fresh entry")
		return shop{}, nil
	}, 20*time.Second)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Name != "v1" {
		t.Fatalf("expected v1, got %+v", got)
	}
}

func TestQueryWithLogicalExpire_SingleRebuildUnderConcurrency(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewTestRedis(t)
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(rdb, zerolog.Nop(), clk, 10)
	ctx := context.Background()

	if err := c.SetWithLogicalExpire(ctx, "cache:shop:1", shop{ID: 1, Name: "v1"}, 20*time.Second); err != nil {
		t.Fatalf("preheat: %v", err)
	}
	clk.Advance(30 * time.Second)

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (shop, error) {
		loads.Add(1)
		<-release
		return shop{ID: 1, Name: "v2"}, nil
	}

	const n = 50
	results := make([]shop, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			got, err := cache.QueryWithLogicalExpire(ctx, c, "cache:shop:1", load, 20*time.Second)
			if err != nil {
				t.Errorf("read %d: %v", idx, err)
				return
			}
			results[idx] = got
		}(i)
	}
	wg.Wait()

	// 重建还卡在回源上，所有读都已返回旧值
	for i, r := range results {
		if r.Name != "v1" {
			t.Fatalf("read %d: expected stale v1, got %+v", i, r)
		}
	}
	if !mr.Exists("lock:cache:shop:1") {
		t.Fatalf("expected rebuild lock held during rebuild")
	}

	close(release)
	c.Close()

	if loads.Load() != 1 {
		t.Fatalf("expected exactly 1 rebuild load, got %d", loads.Load())
	}
	if mr.Exists("lock:cache:shop:1") {
		t.Fatalf("expected rebuild lock released")
	}
	if ttl := mr.TTL("cache:shop:1"); ttl != 0 {
		t.Fatalf("rebuilt entry must have no physical ttl, got %v", ttl)
	}

	got, err := cache.QueryWithLogicalExpire(ctx, c, "cache:shop:1", load, 20*time.Second)
	if err != nil {
		t.Fatalf("read after rebuild: %v", err)
	}
	if got.Name != "v2" {
		t.Fatalf("expected refreshed v2, got %+v", got)
	}
}

func TestQueryWithLogicalExpire_RebuildFailureKeepsStale(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewTestRedis(t)
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(rdb, zerolog.Nop(), clk, 2)
	ctx := context.Background()

	if err := c.SetWithLogicalExpire(ctx, "cache:shop:1", shop{ID: 1, Name: "v1"}, time.Second); err != nil {
		t.Fatalf("preheat: %v", err)
	}
	clk.Advance(time.Minute)

	got, err := cache.QueryWithLogicalExpire(ctx, c, "cache:shop:1", func(context.Context) (shop, error) {
		return shop{}, errors.New("db down")
	}, time.Second)
	if err != nil || got.Name != "v1" {
		t.Fatalf("expected stale v1, got %+v err=%v", got, err)
	}
	c.Close()

	if mr.Exists("lock:cache:shop:1") {
		t.Fatalf("expected lock released after failed rebuild")
	}
	if !mr.Exists("cache:shop:1") {
		t.Fatalf("expected stale entry kept")
	}
}

func TestQueryWithLogicalExpire_RebuildDropsVanishedRow(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewTestRedis(t)
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(rdb, zerolog.Nop(), clk, 2)
	ctx := context.Background()

	if err := c.SetWithLogicalExpire(ctx, "cache:shop:9", shop{ID: 9}, time.Second); err != nil {
		t.Fatalf("preheat: %v", err)
	}
	clk.Advance(time.Minute)

	if _, err := cache.QueryWithLogicalExpire(ctx, c, "cache:shop:9", func(context.Context) (shop, error) {
		return shop{}, cache.ErrNotFound
	}, time.Second); err != nil {
		t.Fatalf("expected stale read, got %v", err)
	}
	c.Close()

	if mr.Exists("cache:shop:9") {
		t.Fatalf("expected entry removed after row vanished")
	}
}

func TestQueryWithLogicalExpire_SaturatedPoolServesStale(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewTestRedis(t)
	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(rdb, zerolog.Nop(), clk, 1)
	ctx := context.Background()

	for _, key := range []string{"cache:shop:1", "cache:shop:2"} {
		if err := c.SetWithLogicalExpire(ctx, key, shop{Name: "old"}, time.Second); err != nil {
			t.Fatalf("preheat %s: %v", key, err)
		}
	}
	clk.Advance(time.Minute)

	release := make(chan struct{})
	if _, err := cache.QueryWithLogicalExpire(ctx, c, "cache:shop:1", func(context.Context) (shop, error) {
		<-release
		return shop{Name: "new"}, nil
	}, time.Minute); err != nil {
		t.Fatalf("read key 1: %v", err)
	}

	var loads atomic.Int32
	got, err := cache.QueryWithLogicalExpire(ctx, c, "cache:shop:2", func(context.Context) (shop, error) {
		loads.Add(1)
		return shop{Name: "new"}, nil
	}, time.Minute)
	if err != nil || got.Name != "old" {
		t.Fatalf("expected stale old, got %+v err=%v", got, err)
	}
	if mr.Exists("lock:cache:shop:2") {
		t.Fatalf("expected lock released when rebuild could not be scheduled")
	}

	close(release)
	c.Close()
	if loads.Load() != 0 {
		t.Fatalf("expected no rebuild for key 2, got %d", loads.Load())
	}
}

func TestQueryWithMutex_SingleLoad(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewTestRedis(t)
	c := cache.New(rdb, zerolog.Nop(), nil, 2, cache.WithRetryInterval(5*time.Millisecond))
	t.Cleanup(c.Close)

	var loads atomic.Int32
	load := func(context.Context) (shop, error) {
		loads.Add(1)
		time.Sleep(50 * time.Millisecond)
		return shop{ID: 3, Name: "Noodles"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			got, err := cache.QueryWithMutex(ctx, c, "cache:shop:3", load, time.Minute)
			if err != nil {
				t.Errorf("query: %v", err)
				return
			}
			if got.Name != "Noodles" {
				t.Errorf("unexpected value %+v", got)
			}
		}()
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Fatalf("expected 1 load, got %d", loads.Load())
	}
}

func TestQueryWithMutex_ContextCanceledWhileWaiting(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewTestRedis(t)
	c := cache.New(rdb, zerolog.Nop(), nil, 2, cache.WithRetryInterval(5*time.Millisecond))
	t.Cleanup(c.Close)

	// 模拟其他实例持有重建锁
	if err := mr.Set("lock:cache:shop:5", "someone-else"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := cache.QueryWithMutex(ctx, c, "cache:shop:5", func(context.Context) (shop, error) {
		return shop{}, nil
	}, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGet_DispatchesByPolicy(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewTestRedis(t)
	c := cache.New(rdb, zerolog.Nop(), nil, 2)
	t.Cleanup(c.Close)
	ctx := context.Background()
	load := func(context.Context) (shop, error) { return shop{ID: 1, Name: "x"}, nil }

	got, err := cache.Get(ctx, c, "cache:shop:1", load, cache.Policy{Mode: cache.PassThrough, TTL: time.Minute})
	if err != nil || got.Name != "x" {
		t.Fatalf("pass through: %+v %v", got, err)
	}
	if _, err := cache.Get(ctx, c, "cache:shop:7", load, cache.Policy{Mode: cache.LogicalExpire, Window: time.Minute}); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("logical expire cold miss: expected ErrNotFound, got %v", err)
	}
	if _, err := cache.Get(ctx, c, "cache:shop:1", load, cache.Policy{Mode: cache.Mode(99)}); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
