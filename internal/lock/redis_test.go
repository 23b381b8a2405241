package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLock(t *testing.T, cfg RedisConfig) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestRedis_MutualExclusion(t *testing.T) {
	l, mr := newTestRedisLock(t, RedisConfig{TTL: 5 * time.Second, RetryMin: time.Millisecond, RetryMax: 5 * time.Millisecond})

	assert.Equal(t, int32(1), exerciseMutualExclusion(t, l, 10))
	assert.False(t, mr.Exists("lock:cart:c1"), "lock key is released")
}

func TestRedis_HoldsKeyWithTTLDuringFn(t *testing.T) {
	l, mr := newTestRedisLock(t, DefaultRedisConfig())

	err := l.WithLock(context.Background(), "cart:c1", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:cart:c1"))
		assert.Equal(t, 5*time.Second, mr.TTL("lock:cart:c1"))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "fn runs under the lease deadline")
		return nil
	})

	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:cart:c1"))
}

func TestRedis_TimesOutWhileHeldElsewhere(t *testing.T) {
	l, mr := newTestRedisLock(t, RedisConfig{TTL: time.Minute, RetryMin: time.Millisecond, RetryMax: 5 * time.Millisecond})
	require.NoError(t, mr.Set("lock:cart:c1", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.WithLock(ctx, "cart:c1", func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})

	assert.ErrorIs(t, err, ErrNotAcquired)
	got, _ := mr.Get("lock:cart:c1")
	assert.Equal(t, "someone-else", got, "a foreign lock is never released")
}

func TestRedis_DoesNotReleaseForeignToken(t *testing.T) {
	l, mr := newTestRedisLock(t, DefaultRedisConfig())

	err := l.WithLock(context.Background(), "cart:c1", func(ctx context.Context) error {
		// Our lease lapsed and another replica took the lock.
		require.NoError(t, mr.Set("lock:cart:c1", "other-token"))
		return nil
	})

	require.NoError(t, err)
	got, err := mr.Get("lock:cart:c1")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestRedis_PropagatesFnError(t *testing.T) {
	l, mr := newTestRedisLock(t, DefaultRedisConfig())
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "cart:c1", func(ctx context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:cart:c1"))
}

func TestRedis_AcquireFailsWhenRedisDown(t *testing.T) {
	l, mr := newTestRedisLock(t, DefaultRedisConfig())
	mr.Close()

	err := l.WithLock(context.Background(), "cart:c1", func(ctx context.Context) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire lock")
}
