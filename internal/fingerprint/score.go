package fingerprint

import "strings"

// Risk weights. Tunable policy; the load-bearing invariants are that
// scoring is deterministic for a given record and monotonic in the
// suspicion signals.
const (
	weightNoBehaviorRepeat = 40 // repeat visitor, zero interaction
	weightNoBehaviorHeavy  = 20 // ten+ visits, still zero interaction
	weightTouchMismatch    = 25 // mobile platform reporting no touch support
	weightNoScreen         = 10 // attribute bag missing screen geometry
	weightHighFrequency    = 15 // very high visit count
)

// SuspiciousThreshold is the risk score at which a visitor is marked
// suspicious. The decision pipeline treats scores at or above it like
// a reputation flag.
const SuspiciousThreshold = 60

// scoreRecord computes the record's risk score from accumulated
// signals. Same record state always yields the same score, and adding
// a suspicion signal never lowers it.
func scoreRecord(r *Record) int {
	score := 0

	if r.VisitCount >= 3 && r.Behavior.total() == 0 {
		score += weightNoBehaviorRepeat
		if r.VisitCount >= 10 {
			score += weightNoBehaviorHeavy
		}
	}

	if mobilePlatform(r.Attributes.Platform) && r.Attributes.TouchPoints == 0 {
		score += weightTouchMismatch
	}

	if r.Attributes.Screen == "" {
		score += weightNoScreen
	}

	if r.VisitCount >= 50 {
		score += weightHighFrequency
	}

	if score > 100 {
		score = 100
	}
	return score
}

func mobilePlatform(platform string) bool {
	p := strings.ToLower(platform)
	return strings.Contains(p, "iphone") ||
		strings.Contains(p, "ipad") ||
		strings.Contains(p, "android") ||
		strings.Contains(p, "arm") && strings.Contains(p, "linux")
}
