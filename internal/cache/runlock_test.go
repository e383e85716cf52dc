package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestLocalRunLock_ExcludesSameKey(t *testing.T) {
	lock := NewLocalRunLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "course-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := lock.Acquire(ctx, "course-1"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}

	otherRelease, err := lock.Acquire(ctx, "course-2")
	if err != nil {
		t.Errorf("expected other key to be free, got %v", err)
	}
	otherRelease()

	release()
	release() // second release is a no-op

	again, err := lock.Acquire(ctx, "course-1")
	if err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
	again()
}

func TestLocalRunLock_ConcurrentAcquire(t *testing.T) {
	lock := NewLocalRunLock()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lock.Acquire(ctx, "course-1"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func newRedisLock(t *testing.T) (*RedisRunLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := NewRedisRunLock(client, time.Minute, zerolog.Nop())
	t.Cleanup(func() { lock.Close() })
	return lock, mr
}

func TestRedisRunLock_ExcludesSameKey(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()
	key := lockKeyPrefix + "course-1"

	release, err := lock.Acquire(ctx, "course-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists(key) {
		t.Fatalf("expected %s to be set", key)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", ttl)
	}

	if _, err := lock.Acquire(ctx, "course-1"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}

	otherRelease, err := lock.Acquire(ctx, "course-2")
	if err != nil {
		t.Errorf("expected other key to be free, got %v", err)
	}
	otherRelease()

	release()
	release()
	if mr.Exists(key) {
		t.Errorf("expected %s to be deleted on release", key)
	}

	again, err := lock.Acquire(ctx, "course-1")
	if err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
	again()
}

func TestRedisRunLock_ReleaseChecksToken(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()
	key := lockKeyPrefix + "course-1"

	stale, err := lock.Acquire(ctx, "course-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// the first holder outlives its ttl and a second replica takes over
	mr.FastForward(2 * time.Minute)
	if mr.Exists(key) {
		t.Fatalf("expected %s to expire", key)
	}
	other := NewRedisRunLock(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, zerolog.Nop())
	defer other.Close()
	current, err := other.Acquire(ctx, "course-1")
	if err != nil {
		t.Fatalf("expected expired lock to be free, got %v", err)
	}
	holder, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to read lock: %v", err)
	}

	stale()
	if got, _ := mr.Get(key); got != holder {
		t.Errorf("expected stale release to keep token %s, got %q", holder, got)
	}

	current()
	if mr.Exists(key) {
		t.Errorf("expected %s to be deleted by its holder", key)
	}
}

func TestRedisRunLock_ConnectionError(t *testing.T) {
	lock, mr := newRedisLock(t)
	mr.Close()

	_, err := lock.Acquire(context.Background(), "course-1")
	if err == nil {
		t.Fatal("expected an error when redis is down")
	}
	if errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected a connection error, got %v", err)
	}
}

func TestNewRunLock_UsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	lock := NewRunLock(context.Background(), mr.Addr(), "", time.Second, zerolog.Nop())
	redisLock, ok := lock.(*RedisRunLock)
	if !ok {
		t.Fatalf("expected *RedisRunLock, got %T", lock)
	}
	if redisLock.ttl != time.Second {
		t.Errorf("expected ttl 1s, got %v", redisLock.ttl)
	}
	if err := lock.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestNewRunLock_FallsBackToLocal(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"no address", ""},
		{"unreachable", "127.0.0.1:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lock := NewRunLock(context.Background(), tt.addr, "", time.Second, zerolog.Nop())
			if _, ok := lock.(*LocalRunLock); !ok {
				t.Errorf("expected *LocalRunLock, got %T", lock)
			}
		})
	}
}
