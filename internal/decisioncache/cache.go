// Package decisioncache memoizes recent decisions keyed by campaign and
// visitor signature. Hits return the prior decision unchanged even if
// rules changed in the interim; the short TTL bounds that staleness.
package decisioncache

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"trafficgate/internal/kv"
)

type Cache struct {
	store kv.Store
	ttl   time.Duration
}

func New(store kv.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Signature condenses the visitor identity to a stable key component.
func Signature(ip, fingerprintHash string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(ip+"|"+fingerprintHash))
}

func key(campaignID int64, signature string) string {
	return fmt.Sprintf("dc:%d:%s", campaignID, signature)
}

// Get returns the cached decision payload, if any. Lookup errors are
// treated as misses.
func (c *Cache) Get(ctx context.Context, campaignID int64, signature string) (string, bool) {
	val, ok, err := c.store.Get(ctx, key(campaignID, signature))
	if err != nil {
		log.Warn().Err(err).Msg("decision cache read failed")
		return "", false
	}
	return val, ok
}

// Put stores the decision payload. Write failures are logged and
// swallowed; the caller already has its decision.
func (c *Cache) Put(ctx context.Context, campaignID int64, signature, payload string) {
	if err := c.store.Set(ctx, key(campaignID, signature), payload, c.ttl); err != nil {
		log.Warn().Err(err).Msg("decision cache write failed")
	}
}
