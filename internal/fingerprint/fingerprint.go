// Package fingerprint keeps per-visitor records keyed by the
// client-computed fingerprint hash. Records accumulate behavioral
// counters across submissions and carry a deterministic risk score read
// by the decision pipeline.
package fingerprint

import (
	"context"
	"time"
)

// Attributes is the client-reported device attribute bag.
type Attributes struct {
	Screen      string `json:"screen"`
	Viewport    string `json:"viewport"`
	Timezone    string `json:"timezone"`
	Platform    string `json:"platform"`
	Language    string `json:"language"`
	CanvasHash  string `json:"canvas_hash"`
	WebGLHash   string `json:"webgl_hash"`
	Fonts       string `json:"fonts"`
	TouchPoints int    `json:"touch_points"`
}

// Behavior is the per-submission behavioral counter delta. Counters
// only ever grow; negative deltas are ignored.
type Behavior struct {
	MouseMoves   int64 `json:"mouse_moves"`
	Clicks       int64 `json:"clicks"`
	KeyPresses   int64 `json:"key_presses"`
	ScrollEvents int64 `json:"scroll_events"`
}

func (b Behavior) total() int64 {
	return b.MouseMoves + b.Clicks + b.KeyPresses + b.ScrollEvents
}

// Record is the stored per-visitor state.
type Record struct {
	VisitorID  string
	Hash       string
	Attributes Attributes
	Behavior   Behavior
	FirstSeen  time.Time
	LastSeen   time.Time
	VisitCount int64
	Suspicious bool
	RiskScore  int
	Active     bool
}

// UpsertResult reports the outcome of one ingestion.
type UpsertResult struct {
	VisitorID  string `json:"visitor_id"`
	VisitCount int64  `json:"visit_count"`
	Created    bool   `json:"-"`
}

// Store is the fingerprint persistence surface. Upsert is fed by the
// client-reported endpoint; RiskScoreOf is the only read the decision
// pipeline performs.
type Store interface {
	Upsert(ctx context.Context, hash string, attrs Attributes, behavior Behavior) (UpsertResult, error)
	RiskScoreOf(ctx context.Context, hash string) int
}
