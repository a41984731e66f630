package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"local_review/internal/testutil"
)

func TestMutex_TryLockIsExclusive(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewTestRedis(t)
	m := NewMutex(rdb)
	ctx := context.Background()

	token, ok, err := m.TryLock(ctx, "lock:shop:1", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if ttl := mr.TTL("lock:shop:1"); ttl != 10*time.Second {
		t.Fatalf("expected ttl 10s, got %v", ttl)
	}

	_, ok, err = m.TryLock(ctx, "lock:shop:1", 10*time.Second)
	if err != nil {
		t.Fatalf("expected contention without error, got %v", err)
	}
	if ok {
		t.Fatalf("expected second lock to fail while held")
	}

	released, err := m.Unlock(ctx, "lock:shop:1", token)
	if err != nil || !released {
		t.Fatalf("expected release, released=%v err=%v", released, err)
	}
	if _, ok, _ := m.TryLock(ctx, "lock:shop:1", time.Second); !ok {
		t.Fatalf("expected lock to be free after release")
	}
}

func TestMutex_StaleUnlockDoesNotStealLease(t *testing.T) {
	t.Parallel()
	mr, rdb := testutil.NewTestRedis(t)
	m := NewMutex(rdb)
	ctx := context.Background()

	first, ok, err := m.TryLock(ctx, "lock:order:7", time.Second)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}

	// 第一个持有者超时，第二个持有者拿到锁。
	mr.FastForward(2 * time.Second)
	second, ok, err := m.TryLock(ctx, "lock:order:7", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("second lock: ok=%v err=%v", ok, err)
	}

	released, err := m.Unlock(ctx, "lock:order:7", first)
	if err != nil {
		t.Fatalf("stale unlock: %v", err)
	}
	if released {
		t.Fatalf("stale token must not release the new holder's lease")
	}
	got, err := mr.Get("lock:order:7")
	if err != nil {
		t.Fatalf("lease disappeared: %v", err)
	}
	if got != second {
		t.Fatalf("expected lease value %q, got %q", second, got)
	}
}

func TestMutex_ConcurrentTryLockSingleWinner(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewTestRedis(t)
	m := NewMutex(rdb)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.TryLock(context.Background(), "lock:hot", 10*time.Second)
			if err != nil {
				t.Errorf("try lock: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins.Load())
	}
}

func TestMutex_RejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()
	_, rdb := testutil.NewTestRedis(t)
	if _, _, err := NewMutex(rdb).TryLock(context.Background(), "lock:x", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
