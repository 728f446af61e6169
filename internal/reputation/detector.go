// Package reputation classifies a request's network origin and
// User-Agent against known bot signatures, datacenter IP ranges, and
// anonymization-network exits. Detection fails open: with no dataset
// loaded all flags stay false so the user-facing redirect never breaks.
package reputation

import (
	"net/http"
	"net/netip"
	"regexp"
	"strings"
	"sync"
)

// Verdict is the combined classification of a request's origin.
// Flags are additive, not exclusive.
type Verdict struct {
	IsBot            bool   `json:"is_bot"`
	IsDatacenter     bool   `json:"is_datacenter"`
	IsAnonymized     bool   `json:"is_anonymized"`
	MatchedSignature string `json:"matched_signature,omitempty"`
	Score            int    `json:"score"` // 0-100 aggregate risk contribution
}

func (v Verdict) Flagged() bool { return v.IsBot || v.IsDatacenter || v.IsAnonymized }

const (
	botWeight        = 45
	datacenterWeight = 30
	anonymizedWeight = 35
)

type Detector struct {
	mu         sync.RWMutex
	signatures []string // lower-cased UA substrings
	datacenter []netip.Prefix
	anonymizer []netip.Prefix
	headers    []headerCheck
}

// headerCheck is one compiled header-anomaly pattern.
type headerCheck struct {
	name   string
	re     *regexp.Regexp
	weight int
}

// NewDetector starts with the compiled-in signature set. LoadFile can
// replace it at startup or on reload.
func NewDetector() *Detector {
	d := &Detector{}
	d.apply(defaultDataset)
	return d
}

func (d *Detector) apply(ds Dataset) {
	sigs := make([]string, 0, len(ds.BotSignatures))
	for _, s := range ds.BotSignatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			sigs = append(sigs, s)
		}
	}

	checks := make([]headerCheck, 0, len(ds.HeaderPatterns))
	for _, hp := range ds.HeaderPatterns {
		re, err := regexp.Compile(hp.Pattern)
		if err != nil || hp.Name == "" || hp.Weight <= 0 {
			continue
		}
		checks = append(checks, headerCheck{name: hp.Name, re: re, weight: hp.Weight})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.signatures = sigs
	d.datacenter = parsePrefixes(ds.DatacenterRanges)
	d.anonymizer = parsePrefixes(ds.AnonymizerRanges)
	d.headers = checks
}

// parsePrefixes tolerates bare addresses alongside CIDR notation and
// drops anything unparseable.
func parsePrefixes(raw []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			if addr, err := netip.ParseAddr(s); err == nil {
				out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			}
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Check classifies the request origin. An unparseable IP limits the
// verdict to the User-Agent and header checks; a nil header set skips
// the anomaly patterns.
func (d *Detector) Check(ip, userAgent string, headers http.Header) Verdict {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var v Verdict

	ua := strings.ToLower(userAgent)
	for _, sig := range d.signatures {
		if strings.Contains(ua, sig) {
			v.IsBot = true
			v.MatchedSignature = sig
			v.Score += botWeight
			break
		}
	}

	if addr, err := netip.ParseAddr(ip); err == nil {
		if containsAddr(d.datacenter, addr) {
			v.IsDatacenter = true
			v.Score += datacenterWeight
		}
		if containsAddr(d.anonymizer, addr) {
			v.IsAnonymized = true
			v.Score += anonymizedWeight
		}
	}

	// Header anomalies: real browsers send accept headers; scripted
	// clients often send none or bare wildcards.
	if len(headers) > 0 {
		for _, hc := range d.headers {
			if hc.re.MatchString(headers.Get(hc.name)) {
				v.Score += hc.weight
			}
		}
	}

	if v.Score > 100 {
		v.Score = 100
	}
	return v
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
