package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose lock expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig controls lock lease and polling.
type RedisConfig struct {
	// TTL bounds how long a crashed holder blocks others.
	TTL time.Duration
	// RetryMin and RetryMax bound the wait between acquire attempts.
	RetryMin time.Duration
	RetryMax time.Duration
}

// DefaultRedisConfig returns a 5s lease polled every 10ms to 200ms.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		TTL:      5 * time.Second,
		RetryMin: 10 * time.Millisecond,
		RetryMax: 200 * time.Millisecond,
	}
}

// Redis is a lease lock shared by every replica using the same Redis:
// SET key token NX PX ttl to acquire, compare-and-delete to release.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger *slog.Logger
}

// NewRedis creates a Redis-backed locker.
func NewRedis(client redis.UniversalClient, cfg RedisConfig, logger *slog.Logger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisConfig().TTL
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = DefaultRedisConfig().RetryMin
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = cfg.RetryMin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, cfg: cfg, logger: logger}
}

// WithLock polls until the lock is free or ctx ends. fn runs under a context
// that expires with the lease.
func (l *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, lockKey, token); err != nil {
		return err
	}
	defer func() {
		// Release even when the request context is already canceled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{lockKey}, token).Err(); err != nil {
			l.logger.WarnContext(ctx, "failed to release lock",
				slog.String("key", lockKey),
				slog.String("error", err.Error()),
			)
		}
	}()

	fctx, cancel := context.WithTimeout(ctx, l.cfg.TTL)
	defer cancel()
	return fn(fctx)
}

func (l *Redis) acquire(ctx context.Context, lockKey, token string) error {
	wait := l.cfg.RetryMin
	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.cfg.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("acquire lock %s: %w", lockKey, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
		if wait > l.cfg.RetryMax {
			wait = l.cfg.RetryMax
		}
	}
}
