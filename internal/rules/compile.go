package rules

import (
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CompiledRule pairs a rule's identity with its typed matcher.
type CompiledRule struct {
	ID       int64
	Action   Action
	Priority int
	matcher  matcher
}

type matcher interface {
	match(rc *RequestContext) bool
}

// Compile turns stored rule rows into an evaluation-ready set: inactive
// rows are dropped, values are parsed into typed payloads, and the
// result is sorted by ascending priority. Rows whose condition cannot
// be applied are skipped with a warning so one bad rule never blocks a
// campaign.
func Compile(rows []Rule, tz *time.Location) []CompiledRule {
	if tz == nil {
		tz = time.UTC
	}
	out := make([]CompiledRule, 0, len(rows))
	for _, r := range rows {
		if r.Status != "" && r.Status != "active" {
			continue
		}
		m, err := buildMatcher(r, tz)
		if err != nil {
			log.Warn().Int64("rule_id", r.ID).Str("type", r.Type).Str("condition", r.Condition).
				Err(err).Msg("skipping rule that cannot be applied")
			continue
		}
		out = append(out, CompiledRule{ID: r.ID, Action: r.Action, Priority: r.Priority, matcher: m})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func buildMatcher(r Rule, tz *time.Location) (matcher, error) {
	typ := strings.ToLower(r.Type)
	cond := strings.ToLower(r.Condition)

	switch typ {
	case TypeBot, TypeVPN:
		return buildReputationMatcher(typ, cond, r.Value)
	case TypeTime:
		if cond != CondBetween {
			return nil, fmt.Errorf("time rules support between, got %q", cond)
		}
		return buildTimeMatcher(r.Value, tz)
	case TypeIP:
		if cond == CondInList || cond == CondEquals || cond == CondNotEquals {
			return buildCIDRMatcher(r.Value, cond == CondNotEquals)
		}
	}

	extract := extractorFor(typ, r.Param)
	if extract == nil {
		return nil, fmt.Errorf("unknown rule type %q", r.Type)
	}

	switch cond {
	case CondEquals, CondNotEquals, CondContains, CondNotContains, CondStartsWith, CondEndsWith:
		return &stringMatcher{extract: extract, cond: cond, value: strings.ToLower(strings.TrimSpace(r.Value))}, nil
	case CondMatches:
		re, err := regexp.Compile(r.Value)
		if err != nil {
			return nil, fmt.Errorf("regex: %w", err)
		}
		return &regexMatcher{extract: extract, re: re}, nil
	case CondInList:
		return &listMatcher{extract: extract, set: splitList(r.Value)}, nil
	case CondGreaterThan, CondLessThan:
		n, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("numeric value: %w", err)
		}
		return &numericMatcher{extract: extract, cond: cond, lo: n}, nil
	case CondBetween:
		lo, hi, err := parseRange(r.Value)
		if err != nil {
			return nil, err
		}
		return &numericMatcher{extract: extract, cond: cond, lo: lo, hi: hi}, nil
	}
	return nil, fmt.Errorf("unknown condition %q", r.Condition)
}

// extractorFor maps a rule type to the context attribute it reads.
func extractorFor(typ, param string) func(*RequestContext) (string, bool) {
	switch typ {
	case TypeGeo:
		return func(rc *RequestContext) (string, bool) { return rc.Geo.Country, rc.Geo.Known() }
	case TypeDevice:
		return func(rc *RequestContext) (string, bool) { return rc.Device, rc.Device != "" }
	case TypeBrowser:
		return func(rc *RequestContext) (string, bool) { return rc.Browser, rc.Browser != "" }
	case TypeOS:
		return func(rc *RequestContext) (string, bool) { return rc.OS, rc.OS != "" }
	case TypeIP:
		return func(rc *RequestContext) (string, bool) { return rc.IP, rc.IP != "" }
	case TypeReferrer:
		return func(rc *RequestContext) (string, bool) { return rc.Referrer, true }
	case TypeLanguage:
		return func(rc *RequestContext) (string, bool) { return rc.Language, rc.Language != "" }
	case TypeISP:
		return func(rc *RequestContext) (string, bool) { return rc.Geo.ISP, rc.Geo.ISP != "" }
	case TypeURLParam:
		return func(rc *RequestContext) (string, bool) {
			if rc.Query == nil {
				return "", false
			}
			return rc.Query.Get(param), rc.Query.Has(param)
		}
	case TypeCookie:
		return func(rc *RequestContext) (string, bool) { v, ok := rc.Cookies[param]; return v, ok }
	case TypeHeader:
		return func(rc *RequestContext) (string, bool) {
			if rc.Headers == nil {
				return "", false
			}
			v := rc.Headers.Get(param)
			return v, v != ""
		}
	}
	return nil
}

func buildReputationMatcher(typ, cond, value string) (matcher, error) {
	flag := func(rc *RequestContext) bool { return rc.Reputation.IsBot }
	if typ == TypeVPN {
		flag = func(rc *RequestContext) bool { return rc.Reputation.IsAnonymized }
	}

	switch cond {
	case CondEquals, CondNotEquals:
		want, err := parseBoolToken(value)
		if err != nil {
			return nil, err
		}
		if cond == CondNotEquals {
			want = !want
		}
		return &boolMatcher{flag: flag, want: want}, nil
	case CondGreaterThan, CondLessThan:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("numeric value: %w", err)
		}
		score := func(rc *RequestContext) (string, bool) {
			return strconv.Itoa(rc.Reputation.Score), true
		}
		return &numericMatcher{extract: score, cond: cond, lo: n}, nil
	}
	return nil, fmt.Errorf("%s rules take a boolean token or score comparison, got %q", typ, cond)
}

func parseBoolToken(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("boolean token %q", s)
}

func splitList(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}

func parseRange(s string) (float64, float64, error) {
	sep := "-"
	if strings.Contains(s, ",") {
		sep = ","
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("range value %q", s)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("range lower bound: %w", err)
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("range upper bound: %w", err)
	}
	return lo, hi, nil
}

func buildCIDRMatcher(value string, negate bool) (matcher, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("cidr %q: %w", part, err)
			}
			prefixes = append(prefixes, p)
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("ip %q: %w", part, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("empty ip list")
	}
	return &cidrMatcher{prefixes: prefixes, negate: negate}, nil
}

// buildTimeMatcher parses an "HH:MM-HH:MM" window. Windows that cross
// midnight (22:00-06:00) are honored.
func buildTimeMatcher(value string, tz *time.Location) (matcher, error) {
	from, to, err := ParseWindow(value)
	if err != nil {
		return nil, err
	}
	return &timeMatcher{from: from, to: to, tz: tz}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
