package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalLocker_Serializes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "acct-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most 1 holder, saw %d", maxSeen)
	}
	if len(l.slots) != 0 {
		t.Errorf("expected slots to be released, got %d", len(l.slots))
	}
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r1()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	r2, err := l.Acquire(ctx2, "b")
	if err != nil {
		t.Fatalf("expected other key to be free, got %v", err)
	}
	r2()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	release, _ := l.Acquire(context.Background(), "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	release()
	release() // second call is a no-op

	r, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("expected lock free after release, got %v", err)
	}
	r()
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLocker(rdb, ttl), mr
}

func TestRedisLocker_ExtendsHeldLock(t *testing.T) {
	l, mr := newRedisLocker(t, 300*time.Millisecond)

	release, err := l.Acquire(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Leave 100ms on the key, then let one renewal run.
	mr.FastForward(200 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	if !mr.Exists("lock:acct-1") {
		t.Fatal("expected the key to survive past its original ttl")
	}
	if ttl := mr.TTL("lock:acct-1"); ttl <= 100*time.Millisecond {
		t.Errorf("expected a renewed ttl, got %s", ttl)
	}

	if err := release(); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if mr.Exists("lock:acct-1") {
		t.Error("expected the key to be deleted on release")
	}
	if err := release(); err != nil {
		t.Errorf("expected second release to be a no-op, got %v", err)
	}
}

func TestRedisLocker_Excludes(t *testing.T) {
	l, _ := newRedisLocker(t, time.Second)

	release, err := l.Acquire(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "acct-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	release()
	r, err := l.Acquire(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("expected lock free after release, got %v", err)
	}
	r()
}

func TestRedisLocker_ReleaseAfterTakeover(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)

	release, err := l.Acquire(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mr.Set("lock:acct-1", "someone-else")

	if err := release(); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld, got %v", err)
	}
	if v, _ := mr.Get("lock:acct-1"); v != "someone-else" {
		t.Errorf("expected the other holder's key to survive, got %q", v)
	}
}
