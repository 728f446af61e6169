// Package ratelimit bounds repeated requests per caller inside a fixed
// window. Counters live in the shared kv store so the budget holds
// across processes; increments are atomic, never read-then-write.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"trafficgate/internal/kv"
	"trafficgate/internal/observability"
)

type Limiter struct {
	store  kv.Store
	limit  int64
	window time.Duration
	now    func() time.Time
}

func New(store kv.Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: int64(limit), window: window, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Allow counts this request against the caller's active window and
// reports whether it is still within budget. A backend failure fails
// open: legitimate traffic is never dropped because the counter store
// is down, but the event is security-relevant and logged as such.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	windowStart := l.now().Truncate(l.window).Unix()
	counterKey := fmt.Sprintf("rl:%s:%d", key, windowStart)

	// TTL slightly past the window boundary so counters expire on their
	// own even if the store has no cleanup.
	count, err := l.store.Incr(ctx, counterKey, l.window+time.Second)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("rate limiter backend unavailable, failing open")
		return true
	}
	if count > l.limit {
		observability.RateLimited.Inc()
		return false
	}
	return true
}
