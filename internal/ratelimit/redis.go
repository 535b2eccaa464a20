package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter keeps counters in Redis so limits hold across processes
// and restarts. Cooldowns use SET NX with a TTL, quotas an INCR and
// EXPIREAT in one MULTI on a key per fixed window.
type RedisLimiter struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{redis: rdb, now: time.Now}
}

func (l *RedisLimiter) TryAcquire(ctx context.Context, action, actor string, p Policy) (Decision, error) {
	d := Decision{Allowed: true}
	now := l.now()

	if p.Cooldown > 0 {
		key := cooldownKey(action, actor)
		ok, err := l.redis.SetNX(ctx, key, 1, p.Cooldown).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("cooldown check failed: %w", err)
		}
		if !ok {
			ttl, err := l.redis.PTTL(ctx, key).Result()
			if err != nil || ttl < 0 {
				ttl = p.Cooldown
			}
			return Decision{Scope: ScopeCooldown, RetryAfter: ttl}, nil
		}
		d.cooldownKey = key
	}

	if p.Quota > 0 && p.Window > 0 {
		start, end := windowBounds(now, p.Window)
		key := windowKey(action, actor, start)

		// The window end is reapplied on every increment so a key that
		// lost its expiry heals on the next call.
		var incr *redis.IntCmd
		_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireAt(ctx, key, end)
			return nil
		})
		if err != nil {
			if incr != nil && incr.Err() == nil {
				d.windowKey = key
			}
			l.undo(ctx, d)
			return Decision{}, fmt.Errorf("quota check failed: %w", err)
		}
		d.windowKey = key
		if incr.Val() > int64(p.Quota) {
			l.undo(ctx, d)
			return Decision{Scope: ScopeQuota, RetryAfter: end.Sub(now)}, nil
		}
	}

	return d, nil
}

func (l *RedisLimiter) Release(ctx context.Context, d Decision) error {
	if !d.Allowed {
		return nil
	}
	return l.undo(ctx, d)
}

func (l *RedisLimiter) undo(ctx context.Context, d Decision) error {
	var firstErr error
	if d.windowKey != "" {
		if err := l.redis.Decr(ctx, d.windowKey).Err(); err != nil {
			log.Printf("[RATELIMIT] Failed to refund %s: %v", d.windowKey, err)
			firstErr = err
		}
	}
	if d.cooldownKey != "" {
		if err := l.redis.Del(ctx, d.cooldownKey).Err(); err != nil {
			log.Printf("[RATELIMIT] Failed to clear %s: %v", d.cooldownKey, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
