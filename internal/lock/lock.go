// Package lock serializes work on one account. A single process uses
// LocalLocker; replicas sharing a Redis use RedisLocker.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/portana/ledger-engine/internal/metrics"
)

// ErrNotHeld is returned when releasing a lock that expired or was taken over.
var ErrNotHeld = errors.New("lock: not held")

// Locker acquires a named exclusive lock. The returned release func must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func() error, err error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func() error, error) {
	start := time.Now()

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
		return nil
	}, nil
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's expiry only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared by every replica. A held lock is
// extended every ttl/3 until it is released, so runs may outlast ttl; ttl only
// bounds how long a crashed holder blocks others.
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	retry  time.Duration
	prefix string
}

// NewRedisLocker creates a Redis lock whose keys expire after ttl unless
// renewed. A non-positive ttl selects 30s.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: 100 * time.Millisecond, prefix: "lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func() error, error) {
	start := time.Now()
	k := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(k, token, stop, done)

	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			close(stop)
			<-done
			err = l.release(k, token)
		})
		return err
	}, nil
}

// renew extends k every ttl/3 until stop is closed or the token is gone.
func (l *RedisLocker) renew(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := max(l.ttl/3, time.Millisecond)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := renewScript.Run(ctx, l.rdb, []string{k}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			slog.Warn("lock renewal failed", "key", k, "err", err)
			continue
		}
		if n == 0 {
			slog.Warn("lock lost while held", "key", k)
			return
		}
	}
}

func (l *RedisLocker) release(k, token string) error {
	n, err := releaseScript.Run(context.Background(), l.rdb, []string{k}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", k, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, k)
	}
	return nil
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
