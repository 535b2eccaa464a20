package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowCount struct {
	count   int
	expires time.Time
}

// MemoryLimiter has the same semantics as RedisLimiter but only within a
// single process. It is used when Redis is unavailable.
type MemoryLimiter struct {
	mu        sync.Mutex
	cooldowns map[string]time.Time
	windows   map[string]*windowCount
	now       func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		cooldowns: make(map[string]time.Time),
		windows:   make(map[string]*windowCount),
		now:       time.Now,
	}
}

func (l *MemoryLimiter) TryAcquire(_ context.Context, action, actor string, p Policy) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	d := Decision{Allowed: true}

	if p.Cooldown > 0 {
		key := cooldownKey(action, actor)
		if until, ok := l.cooldowns[key]; ok && now.Before(until) {
			return Decision{Scope: ScopeCooldown, RetryAfter: until.Sub(now)}, nil
		}
		d.cooldownKey = key
	}

	if p.Quota > 0 && p.Window > 0 {
		start, end := windowBounds(now, p.Window)
		key := windowKey(action, actor, start)
		w, ok := l.windows[key]
		if !ok {
			w = &windowCount{expires: end}
			l.windows[key] = w
		}
		if w.count >= p.Quota {
			return Decision{Scope: ScopeQuota, RetryAfter: end.Sub(now)}, nil
		}
		w.count++
		d.windowKey = key
	}

	if d.cooldownKey != "" {
		l.cooldowns[d.cooldownKey] = now.Add(p.Cooldown)
	}
	return d, nil
}

func (l *MemoryLimiter) Release(_ context.Context, d Decision) error {
	if !d.Allowed {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[d.windowKey]; ok && w.count > 0 {
		w.count--
	}
	delete(l.cooldowns, d.cooldownKey)
	return nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, until := range l.cooldowns {
		if !now.Before(until) {
			delete(l.cooldowns, k)
		}
	}
	for k, w := range l.windows {
		if !now.Before(w.expires) {
			delete(l.windows, k)
		}
	}
}
