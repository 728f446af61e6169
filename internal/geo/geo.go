// Package geo maps client IP addresses to coarse geography. Lookups go
// through a read-through cache before hitting the configured Provider,
// and never fail the hot path: anything unresolvable comes back as the
// Unknown sentinel.
package geo

import (
	"context"
	"encoding/json"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"

	"trafficgate/internal/kv"
)

// Location is resolved geography for an IP. Zero value means unknown.
type Location struct {
	Country string `json:"country"` // ISO-3166-1 alpha-2, upper case
	Region  string `json:"region"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

// Unknown is the sentinel for unresolvable addresses.
var Unknown = Location{}

func (l Location) Known() bool { return l.Country != "" }

// Provider is a swappable read-only geography source.
type Provider interface {
	Lookup(ip netip.Addr) (Location, error)
}

type Resolver struct {
	provider Provider
	cache    kv.Store
	ttl      time.Duration
}

func NewResolver(p Provider, cache kv.Store, ttl time.Duration) *Resolver {
	return &Resolver{provider: p, cache: cache, ttl: ttl}
}

// Resolve never returns an error: malformed, private, and reserved
// addresses short-circuit to Unknown, and provider failures fail open.
func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Unknown
	}
	if !routable(addr) {
		return Unknown
	}

	key := "geo:" + addr.String()
	if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		var loc Location
		if json.Unmarshal([]byte(cached), &loc) == nil {
			return loc
		}
	}

	if r.provider == nil {
		return Unknown
	}
	loc, err := r.provider.Lookup(addr)
	if err != nil {
		log.Debug().Err(err).Str("ip", addr.String()).Msg("geo lookup miss")
		return Unknown
	}

	if raw, err := json.Marshal(loc); err == nil {
		if err := r.cache.Set(ctx, key, string(raw), r.ttl); err != nil {
			log.Warn().Err(err).Msg("geo cache write failed")
		}
	}
	return loc
}

// routable filters private/loopback/reserved ranges before any dataset
// lookup. These can never resolve to a real geography.
func routable(addr netip.Addr) bool {
	return !(addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified())
}
