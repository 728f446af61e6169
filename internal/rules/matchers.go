package rules

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type stringMatcher struct {
	extract func(*RequestContext) (string, bool)
	cond    string
	value   string // lower-cased at compile time
}

func (m *stringMatcher) match(rc *RequestContext) bool {
	raw, ok := m.extract(rc)
	if !ok && m.cond != CondNotEquals && m.cond != CondNotContains {
		return false
	}
	got := strings.ToLower(strings.TrimSpace(raw))
	switch m.cond {
	case CondEquals:
		return got == m.value
	case CondNotEquals:
		return got != m.value
	case CondContains:
		return m.value != "" && strings.Contains(got, m.value)
	case CondNotContains:
		return !strings.Contains(got, m.value)
	case CondStartsWith:
		return m.value != "" && strings.HasPrefix(got, m.value)
	case CondEndsWith:
		return m.value != "" && strings.HasSuffix(got, m.value)
	}
	return false
}

type listMatcher struct {
	extract func(*RequestContext) (string, bool)
	set     map[string]struct{}
}

func (m *listMatcher) match(rc *RequestContext) bool {
	raw, ok := m.extract(rc)
	if !ok {
		return false
	}
	_, hit := m.set[strings.ToLower(strings.TrimSpace(raw))]
	return hit
}

type regexMatcher struct {
	extract func(*RequestContext) (string, bool)
	re      *regexp.Regexp
}

func (m *regexMatcher) match(rc *RequestContext) bool {
	raw, ok := m.extract(rc)
	return ok && m.re.MatchString(raw)
}

type numericMatcher struct {
	extract func(*RequestContext) (string, bool)
	cond    string
	lo, hi  float64
}

func (m *numericMatcher) match(rc *RequestContext) bool {
	raw, ok := m.extract(rc)
	if !ok {
		return false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return false
	}
	switch m.cond {
	case CondGreaterThan:
		return n > m.lo
	case CondLessThan:
		return n < m.lo
	case CondBetween:
		return n >= m.lo && n <= m.hi
	}
	return false
}

type cidrMatcher struct {
	prefixes []netip.Prefix
	negate   bool
}

func (m *cidrMatcher) match(rc *RequestContext) bool {
	addr, err := netip.ParseAddr(rc.IP)
	if err != nil {
		return false
	}
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return !m.negate
		}
	}
	return m.negate
}

type boolMatcher struct {
	flag func(*RequestContext) bool
	want bool
}

func (m *boolMatcher) match(rc *RequestContext) bool { return m.flag(rc) == m.want }

// timeMatcher holds an inclusive minute-of-day window evaluated in the
// campaign's timezone.
type timeMatcher struct {
	from, to int
	tz       *time.Location
}

func (m *timeMatcher) match(rc *RequestContext) bool {
	return InWindow(rc.Now, m.from, m.to, m.tz)
}

// InWindow reports whether t falls inside the [from, to] minute-of-day
// window, wrapping across midnight when from > to.
func InWindow(t time.Time, from, to int, tz *time.Location) bool {
	local := t.In(tz)
	minute := local.Hour()*60 + local.Minute()
	if from <= to {
		return minute >= from && minute <= to
	}
	return minute >= from || minute <= to
}

// ParseWindow exposes the "HH:MM-HH:MM" grammar for campaign-level time
// targeting, which shares it with time rules.
func ParseWindow(value string) (from, to int, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), "-", 2)
	if len(parts) != 2 {
		return 0, 0, errBadWindow(value)
	}
	if from, err = parseClock(parts[0]); err != nil {
		return 0, 0, err
	}
	if to, err = parseClock(parts[1]); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

type errBadWindow string

func (e errBadWindow) Error() string { return "time window " + strconv.Quote(string(e)) }
