// Package ratelimit throttles per-actor actions with a cooldown between
// consecutive actions and a quota per fixed window.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

const (
	ScopeCooldown = "cooldown"
	ScopeQuota    = "quota"
)

// Policy describes one throttled action. A zero Cooldown or Quota
// disables that throttle.
type Policy struct {
	Cooldown time.Duration
	Quota    int
	Window   time.Duration
}

// Decision is the outcome of TryAcquire. A denied decision carries the
// scope that denied it and how long the actor should wait.
type Decision struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration

	cooldownKey string
	windowKey   string
}

// Limiter grants or denies throttled actions. Implementations must make
// the check and the increment a single atomic step per actor.
type Limiter interface {
	TryAcquire(ctx context.Context, action, actor string, p Policy) (Decision, error)
	// Release refunds an allowed decision whose action was not carried out.
	Release(ctx context.Context, d Decision) error
}

func cooldownKey(action, actor string) string {
	return fmt.Sprintf("ratelimit:%s:%s:cooldown", action, actor)
}

func windowKey(action, actor string, start time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", action, actor, start.Unix())
}

// windowBounds aligns now to a fixed window boundary.
func windowBounds(now time.Time, window time.Duration) (time.Time, time.Time) {
	start := now.UTC().Truncate(window)
	return start, start.Add(window)
}
