package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	token := func() string { return "token-1" }

	t.Run("acquire and release", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		locker := NewRedisLocker(client, time.Minute, WithLockToken(token))

		mock.ExpectSetNX(DefaultLockKey, "token-1", time.Minute).SetVal(true)
		mock.ExpectEval(releaseScript, []string{DefaultLockKey}, "token-1").SetVal(int64(1))

		release, err := locker.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, release(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held by another replica", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		locker := NewRedisLocker(client, time.Minute, WithLockToken(token), WithLockKey("custom"))

		mock.ExpectSetNX("custom", "token-1", time.Minute).SetVal(false)

		_, err := locker.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunLocked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis unavailable", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		locker := NewRedisLocker(client, 0, WithLockToken(token))

		mock.ExpectSetNX(DefaultLockKey, "token-1", DefaultLockTTL).SetErr(errors.New("dial tcp: connection refused"))

		_, err := locker.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunLocked)
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("release failure is reported", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		locker := NewRedisLocker(client, time.Minute, WithLockToken(token))

		mock.ExpectSetNX(DefaultLockKey, "token-1", time.Minute).SetVal(true)
		mock.ExpectEval(releaseScript, []string{DefaultLockKey}, "token-1").SetErr(errors.New("timeout"))

		release, err := locker.Acquire(ctx)
		require.NoError(t, err)
		assert.ErrorContains(t, release(ctx), "timeout")
	})
}
