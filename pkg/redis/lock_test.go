package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/Ramsey-B/heather/internal/testutil"
	"github.com/Ramsey-B/heather/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportLockKey(t *testing.T) {
	assert.Equal(t, "heather:lock:import:catalog", redis.ImportLockKey("catalog"))
}

func TestLocker(t *testing.T) {
	client := testutil.Redis(t)
	locker := redis.NewLocker(client)
	ctx := context.Background()

	t.Run("should let one holder in at a time", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "catalog", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "heather:lock:import:catalog", lock.Key())

		_, err = locker.Acquire(ctx, "catalog", time.Minute)
		assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

		other, err := locker.Acquire(ctx, "availability", time.Minute)
		require.NoError(t, err)
		require.NoError(t, other.Release(ctx))

		require.NoError(t, lock.Release(ctx))
		again, err := locker.Acquire(ctx, "catalog", time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("should not release a lock taken over after expiry", func(t *testing.T) {
		stale, err := locker.Acquire(ctx, "expiring", 100*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(200 * time.Millisecond)
		fresh, err := locker.Acquire(ctx, "expiring", time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, stale.Release(ctx), redis.ErrLockNotHeld)
		assert.ErrorIs(t, stale.Extend(ctx, time.Minute), redis.ErrLockNotHeld)
		require.NoError(t, fresh.Release(ctx))
	})

	t.Run("should keep the lock alive past its ttl", func(t *testing.T) {
		ttl := 300 * time.Millisecond
		lock, err := locker.Acquire(ctx, "long-run", ttl)
		require.NoError(t, err)

		keepAliveCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			lock.KeepAlive(keepAliveCtx, ttl)
			close(done)
		}()

		time.Sleep(3 * ttl)
		_, err = locker.Acquire(ctx, "long-run", ttl)
		assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

		cancel()
		<-done
		require.NoError(t, lock.Release(ctx))
	})

	t.Run("should answer ping", func(t *testing.T) {
		assert.NoError(t, client.Ping(ctx))
	})
}
