package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultLockKey = "credit-ledger:batch-refresh"
	DefaultLockTTL = 30 * time.Minute
)

// releaseScript deletes the key only while it still holds our token
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker makes one replica at a time run a batch refresh
type RedisLocker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	token  func() string
}

type RedisLockerOption func(*RedisLocker)

func WithLockKey(key string) RedisLockerOption {
	return func(l *RedisLocker) { l.key = key }
}

func WithLockToken(token func() string) RedisLockerOption {
	return func(l *RedisLocker) { l.token = token }
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration, opts ...RedisLockerOption) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	l := &RedisLocker{
		client: client,
		key:    DefaultLockKey,
		ttl:    ttl,
		token:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes the lock with SETNX. An unreachable Redis is treated as a held lock.
func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := l.token()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunLocked, err)
	}
	if !ok {
		return nil, ErrRunLocked
	}

	zap.L().Debug("Acquired batch refresh lock",
		zap.String("key", l.key),
		zap.Duration("ttl", l.ttl))

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", l.key, err)
		}
		return nil
	}
	return release, nil
}
