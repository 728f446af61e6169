// Package kv abstracts the shared key-value store backing the rate
// limiter, the decision cache, and the geo cache. The backend is an
// interchangeable implementation detail: Redis in production, an
// in-process map for tests and single-node deployments.
package kv

import (
	"context"
	"time"
)

type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value with a TTL; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr atomically increments a counter, applying ttl on first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}
