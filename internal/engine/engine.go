// Package engine orchestrates the decision cascade: hard gates
// (rate limit, time window, referrer) > explicit rules > reputation
// default > A/B split. Campaign metadata lives in an atomically swapped
// snapshot rebuilt from storage on change notifications.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"trafficgate/internal/cache"
	"trafficgate/internal/decisioncache"
	"trafficgate/internal/fingerprint"
	"trafficgate/internal/geo"
	"trafficgate/internal/observability"
	"trafficgate/internal/ratelimit"
	"trafficgate/internal/reputation"
	"trafficgate/internal/rules"
	"trafficgate/internal/storage"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrNoDestination    = errors.New("no destination url producible")
)

// CampaignLoader is the storage surface the snapshot is built from.
type CampaignLoader interface {
	LoadCampaigns(ctx context.Context) ([]storage.CampaignRow, error)
}

type snapshot struct {
	byID   map[int64]*Campaign
	bySlug map[string]*Campaign
}

type Engine struct {
	snap cache.Snapshot[snapshot]

	geo          *geo.Resolver
	reputation   *reputation.Detector
	fingerprints fingerprint.Store
	limiter      *ratelimit.Limiter
	decisions    *decisioncache.Cache
}

func New(g *geo.Resolver, rep *reputation.Detector, fp fingerprint.Store,
	limiter *ratelimit.Limiter, decisions *decisioncache.Cache) *Engine {
	return &Engine{geo: g, reputation: rep, fingerprints: fp, limiter: limiter, decisions: decisions}
}

// BuildSnapshot loads campaigns and rules, parses settings, compiles
// rule rows into typed matchers, and swaps the result in atomically.
func (e *Engine) BuildSnapshot(ctx context.Context, loader CampaignLoader) error {
	rows, err := loader.LoadCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("load campaigns: %w", err)
	}

	snap := snapshot{
		byID:   make(map[int64]*Campaign, len(rows)),
		bySlug: make(map[string]*Campaign, len(rows)),
	}
	for _, row := range rows {
		c := compileCampaign(row)
		snap.byID[c.ID] = c
		snap.bySlug[c.Slug] = c
	}
	e.snap.Store(snap)
	log.Info().Int("campaigns", len(rows)).Msg("campaign snapshot rebuilt")
	return nil
}

func compileCampaign(row storage.CampaignRow) *Campaign {
	set := row.Settings

	tz := time.UTC
	if set.Timezone != "" {
		loc, err := time.LoadLocation(set.Timezone)
		if err != nil {
			log.Warn().Str("campaign", row.Slug).Str("tz", set.Timezone).Msg("unknown timezone, using UTC")
		} else {
			tz = loc
		}
	}

	c := &Campaign{
		ID:       row.ID,
		Slug:     row.Slug,
		Name:     row.Name,
		Mode:     Mode(row.Mode),
		SafeURL:  row.SafeURL,
		MoneyURL: row.MoneyURL,
		Status:   row.Status,
		Settings: Settings{
			ABEnabled:        set.ABEnabled,
			ABPercent:        set.ABPercent,
			PixelID:          set.PixelID,
			RedirectDelay:    set.RedirectDelay,
			ReferrerPolicy:   set.ReferrerPolicy,
			AllowedReferrers: set.AllowedReferrers,
			GeoAllow:         tokenSet(set.GeoAllow),
			DeviceAllow:      tokenSet(set.DeviceAllow),
			TZ:               tz,
		},
	}
	if c.Mode == "" {
		c.Mode = ModeRedirect
	}

	if set.TimeWindow != "" {
		from, to, err := rules.ParseWindow(set.TimeWindow)
		if err != nil {
			log.Warn().Str("campaign", row.Slug).Str("window", set.TimeWindow).
				Msg("unparseable time window, targeting disabled")
		} else {
			c.Settings.HasTimeWindow = true
			c.Settings.WindowFrom, c.Settings.WindowTo = from, to
		}
	}

	ruleRows := make([]rules.Rule, 0, len(row.Rules))
	for _, r := range row.Rules {
		ruleRows = append(ruleRows, rules.Rule{
			ID:        r.ID,
			Type:      r.Type,
			Condition: r.Condition,
			Param:     r.Param,
			Value:     r.Value,
			Action:    rules.Action(r.Action),
			Priority:  r.Priority,
			Status:    r.Status,
		})
	}
	c.Rules = rules.Compile(ruleRows, tz)
	return c
}

func tokenSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// CampaignBySlug resolves the public slug to the snapshot campaign.
func (e *Engine) CampaignBySlug(slug string) (*Campaign, bool) {
	s, ok := e.snap.Load()
	if !ok {
		return nil, false
	}
	c, ok := s.bySlug[slug]
	return c, ok
}

func (e *Engine) campaignByID(id int64) (*Campaign, bool) {
	s, ok := e.snap.Load()
	if !ok {
		return nil, false
	}
	c, ok := s.byID[id]
	return c, ok
}

// Decide runs the full cascade for one request and returns the routing
// decision. It performs no blocking work beyond the geo/reputation
// lookups and one fingerprint read; storage problems along the way
// degrade the inputs instead of failing the redirect.
func (e *Engine) Decide(ctx context.Context, campaignID int64, rc *rules.RequestContext) (Decision, error) {
	start := time.Now()

	c, ok := e.campaignByID(campaignID)
	if !ok {
		return Decision{}, ErrCampaignNotFound
	}
	if rc.Now.IsZero() {
		rc.Now = time.Now()
	}

	// Paused campaigns always serve the safe destination.
	if c.Status != "active" {
		return e.finish(c, Decision{Action: rules.ActionSafe}, start)
	}

	// Rate limit is the outermost hard gate.
	if !e.limiter.Allow(ctx, rc.IP+"|"+rc.FingerprintHash) {
		return e.finish(c, Decision{Action: rules.ActionBlock}, start)
	}

	// Recent identical visitor: reuse the prior decision as-is.
	sig := decisioncache.Signature(rc.IP, rc.FingerprintHash)
	if payload, hit := e.decisions.Get(ctx, c.ID, sig); hit {
		var d Decision
		if json.Unmarshal([]byte(payload), &d) == nil {
			observability.CacheHits.WithLabelValues("hit").Inc()
			observability.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
			return d, nil
		}
	}
	observability.CacheHits.WithLabelValues("miss").Inc()

	// Assemble the remaining signals.
	rc.Geo = e.geo.Resolve(ctx, rc.IP)
	rc.Reputation = e.reputation.Check(rc.IP, rc.UserAgent, rc.Headers)
	if rc.FingerprintHash != "" {
		rc.RiskScore = e.fingerprints.RiskScoreOf(ctx, rc.FingerprintHash)
	}

	d := e.decide(c, rc)

	final, err := e.finish(c, d, start)
	if err != nil {
		return Decision{}, err
	}
	if payload, err := json.Marshal(final); err == nil {
		e.decisions.Put(ctx, c.ID, sig, string(payload))
	}
	return final, nil
}

// decide applies the cascade below the cache: hard gates, explicit
// rules, reputation default, A/B split.
func (e *Engine) decide(c *Campaign, rc *rules.RequestContext) Decision {
	set := c.Settings

	// Time targeting is a hard gate: outside the window nothing else
	// can force money.
	if set.HasTimeWindow && !rules.InWindow(rc.Now, set.WindowFrom, set.WindowTo, set.TZ) {
		return Decision{Action: rules.ActionSafe}
	}

	if !referrerAllowed(set, rc.Referrer) {
		return Decision{Action: rules.ActionSafe}
	}

	// Campaign-level geo/device targeting sits ahead of explicit rules.
	if set.GeoAllow != nil {
		if _, ok := set.GeoAllow[strings.ToLower(rc.Geo.Country)]; !ok {
			return Decision{Action: rules.ActionSafe}
		}
	}
	if set.DeviceAllow != nil {
		if _, ok := set.DeviceAllow[strings.ToLower(rc.Device)]; !ok {
			return Decision{Action: rules.ActionSafe}
		}
	}

	// Explicit rules: first match in priority order wins.
	if m, matched := rules.Evaluate(rc, c.Rules); matched {
		return Decision{Action: m.Action, MatchedRuleID: m.RuleID}
	}

	// Default policy: any reputation flag or a suspicious fingerprint
	// forces safe.
	if rc.Reputation.Flagged() || rc.RiskScore >= fingerprint.SuspiciousThreshold {
		return Decision{Action: rules.ActionSafe}
	}

	// A/B split on the stable visitor bucket.
	if set.ABEnabled && Bucket(rc.IP, rc.FingerprintHash) >= set.ABPercent {
		return Decision{Action: rules.ActionSafe}
	}

	return Decision{Action: rules.ActionMoney}
}

// finish fills in destination, mode, and delay, and records metrics.
func (e *Engine) finish(c *Campaign, d Decision, start time.Time) (Decision, error) {
	d.Mode = c.Mode
	switch d.Action {
	case rules.ActionMoney:
		d.URL = c.MoneyURL
		d.PixelID = c.Settings.PixelID
	default:
		d.URL = c.SafeURL
	}
	if d.URL == "" {
		return Decision{}, fmt.Errorf("campaign %s: %w", c.Slug, ErrNoDestination)
	}

	if delay := c.Settings.RedirectDelay; delay > 0 && c.Mode == ModeRedirect {
		d.Delay = delay
		d.UseIntermediatePage = true
	}

	observability.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	observability.DecisionLatency.Observe(time.Since(start).Seconds())
	return d, nil
}

// referrerAllowed applies the campaign referrer policy as a hard gate.
func referrerAllowed(set Settings, referrer string) bool {
	switch set.ReferrerPolicy {
	case "allow_list":
		if referrer == "" {
			return false
		}
		ref := strings.ToLower(referrer)
		for _, allowed := range set.AllowedReferrers {
			if allowed = strings.ToLower(strings.TrimSpace(allowed)); allowed != "" && strings.Contains(ref, allowed) {
				return true
			}
		}
		return false
	case "block_empty":
		return referrer != ""
	default:
		return true
	}
}

// Bucket maps a visitor identity to a stable 0-99 bucket so the same
// (IP, fingerprint) pair always lands on the same side of an A/B split.
func Bucket(ip, fingerprintHash string) int {
	return int(xxhash.Sum64String(ip+"|"+fingerprintHash) % 100)
}
