package fingerprint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used in tests and single-node
// deployments without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *MemoryStore) Upsert(_ context.Context, hash string, attrs Attributes, behavior Behavior) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	r, ok := s.records[hash]
	if !ok {
		r = &Record{
			VisitorID:  uuid.NewString(),
			Hash:       hash,
			Attributes: attrs,
			FirstSeen:  now,
			Active:     true,
		}
		s.records[hash] = r
	}

	r.VisitCount++
	r.LastSeen = now
	mergeBehavior(&r.Behavior, behavior)
	if ok {
		mergeAttributes(&r.Attributes, attrs)
	}
	r.RiskScore = scoreRecord(r)
	r.Suspicious = r.RiskScore >= SuspiciousThreshold

	return UpsertResult{VisitorID: r.VisitorID, VisitCount: r.VisitCount, Created: !ok}, nil
}

func (s *MemoryStore) RiskScoreOf(_ context.Context, hash string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[hash]; ok {
		return r.RiskScore
	}
	return 0
}

// Get returns a copy of the stored record. Test helper.
func (s *MemoryStore) Get(hash string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[hash]; ok {
		return *r, true
	}
	return Record{}, false
}

// mergeBehavior adds non-negative deltas; counters never reset.
func mergeBehavior(dst *Behavior, delta Behavior) {
	if delta.MouseMoves > 0 {
		dst.MouseMoves += delta.MouseMoves
	}
	if delta.Clicks > 0 {
		dst.Clicks += delta.Clicks
	}
	if delta.KeyPresses > 0 {
		dst.KeyPresses += delta.KeyPresses
	}
	if delta.ScrollEvents > 0 {
		dst.ScrollEvents += delta.ScrollEvents
	}
}

// mergeAttributes fills blanks from later submissions without
// overwriting what a visitor already reported.
func mergeAttributes(dst *Attributes, in Attributes) {
	if dst.Screen == "" {
		dst.Screen = in.Screen
	}
	if dst.Viewport == "" {
		dst.Viewport = in.Viewport
	}
	if dst.Timezone == "" {
		dst.Timezone = in.Timezone
	}
	if dst.Platform == "" {
		dst.Platform = in.Platform
	}
	if dst.Language == "" {
		dst.Language = in.Language
	}
	if dst.CanvasHash == "" {
		dst.CanvasHash = in.CanvasHash
	}
	if dst.WebGLHash == "" {
		dst.WebGLHash = in.WebGLHash
	}
	if dst.Fonts == "" {
		dst.Fonts = in.Fonts
	}
	if dst.TouchPoints == 0 {
		dst.TouchPoints = in.TouchPoints
	}
}
