package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	lockKeyPrefix  = "leaddesk:lock:"
	DefaultLockTTL = 2 * time.Minute
)

// ErrRunInProgress is returned when another holder owns the lock
var ErrRunInProgress = errors.New("a distribution run is already in progress")

// RunLock serializes distribution runs per key
type RunLock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
	Close() error
}

// LocalRunLock holds locks in process. Used when Redis is not configured.
type LocalRunLock struct {
	held map[string]struct{}
	mu   sync.Mutex
}

// NewLocalRunLock creates an in-process run lock
func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{held: make(map[string]struct{})}
}

func (l *LocalRunLock) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrRunInProgress
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

func (l *LocalRunLock) Close() error { return nil }

// only the token holder may delete the key
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisRunLock shares locks between replicas through Redis
type RedisRunLock struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisRunLock wraps an existing client
func NewRedisRunLock(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisRunLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisRunLock{client: client, ttl: ttl, logger: logger}
}

func (l *RedisRunLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release even if the request context is already done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn().Err(err).Str("key", key).Msg("failed to release run lock, it will expire")
			}
		})
	}, nil
}

// Close closes the underlying Redis client
func (l *RedisRunLock) Close() error {
	return l.client.Close()
}

// NewRunLock connects to Redis when addr is set and falls back to an
// in-process lock when it is empty or unreachable
func NewRunLock(ctx context.Context, addr, password string, ttl time.Duration, logger zerolog.Logger) RunLock {
	logger = logger.With().Str("component", "runlock").Logger()
	if addr == "" {
		logger.Info().Msg("REDIS_ADDR not set, using in-process run lock")
		return NewLocalRunLock()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		logger.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, using in-process run lock")
		return NewLocalRunLock()
	}

	logger.Info().Str("addr", addr).Dur("ttl", ttl).Msg("redis run lock initialized")
	return NewRedisRunLock(client, ttl, logger)
}
