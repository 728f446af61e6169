package rules

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficgate/internal/geo"
	"trafficgate/internal/reputation"
)

func testContext() *RequestContext {
	return &RequestContext{
		IP:        "8.8.8.8",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		Device:    "desktop",
		Browser:   "Chrome",
		OS:        "Windows",
		Referrer:  "https://www.facebook.com/ads/123",
		Language:  "en",
		Headers:   http.Header{"X-Campaign-Src": []string{"newsletter"}},
		Cookies:   map[string]string{"session": "abc123"},
		Query:     url.Values{"utm_source": []string{"fb"}},
		Now:       time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		Geo:       geo.Location{Country: "US", Region: "California", City: "Mountain View", ISP: "Google LLC"},
	}
}

func TestEvaluate_Conditions(t *testing.T) {
	tests := []struct {
		name      string
		rule      Rule
		wantMatch bool
	}{
		{"geo equals hit", Rule{Type: "geo", Condition: "equals", Value: "us", Action: ActionMoney}, true},
		{"geo equals case-insensitive", Rule{Type: "geo", Condition: "equals", Value: "US", Action: ActionMoney}, true},
		{"geo equals miss", Rule{Type: "geo", Condition: "equals", Value: "DE", Action: ActionMoney}, false},
		{"geo not_equals", Rule{Type: "geo", Condition: "not_equals", Value: "DE", Action: ActionSafe}, true},
		{"geo in_list hit", Rule{Type: "geo", Condition: "in_list", Value: "US,CA", Action: ActionMoney}, true},
		{"geo in_list miss", Rule{Type: "geo", Condition: "in_list", Value: "GB,DE", Action: ActionMoney}, false},
		{"device equals", Rule{Type: "device", Condition: "equals", Value: "desktop", Action: ActionMoney}, true},
		{"browser contains", Rule{Type: "browser", Condition: "contains", Value: "chrom", Action: ActionMoney}, true},
		{"os starts_with", Rule{Type: "os", Condition: "starts_with", Value: "win", Action: ActionMoney}, true},
		{"referrer ends_with", Rule{Type: "referrer", Condition: "ends_with", Value: "/123", Action: ActionSafe}, true},
		{"referrer contains miss", Rule{Type: "referrer", Condition: "contains", Value: "google.com", Action: ActionSafe}, false},
		{"referrer matches regex", Rule{Type: "referrer", Condition: "matches", Value: `facebook\.com/ads/\d+`, Action: ActionSafe}, true},
		{"ip in_list cidr", Rule{Type: "ip", Condition: "in_list", Value: "8.8.8.0/24,1.1.1.1", Action: ActionBlock}, true},
		{"ip in_list miss", Rule{Type: "ip", Condition: "in_list", Value: "10.0.0.0/8", Action: ActionBlock}, false},
		{"ip equals bare address", Rule{Type: "ip", Condition: "equals", Value: "8.8.8.8", Action: ActionBlock}, true},
		{"ip not_equals", Rule{Type: "ip", Condition: "not_equals", Value: "1.2.3.4", Action: ActionMoney}, true},
		{"language in_list", Rule{Type: "language", Condition: "in_list", Value: "en,es", Action: ActionMoney}, true},
		{"isp contains", Rule{Type: "isp", Condition: "contains", Value: "google", Action: ActionSafe}, true},
		{"url_param equals", Rule{Type: "url_param", Condition: "equals", Param: "utm_source", Value: "fb", Action: ActionMoney}, true},
		{"url_param absent", Rule{Type: "url_param", Condition: "equals", Param: "gclid", Value: "x", Action: ActionMoney}, false},
		{"cookie equals", Rule{Type: "cookie", Condition: "equals", Param: "session", Value: "abc123", Action: ActionMoney}, true},
		{"header equals", Rule{Type: "header", Condition: "equals", Param: "X-Campaign-Src", Value: "newsletter", Action: ActionMoney}, true},
		{"time between inside", Rule{Type: "time", Condition: "between", Value: "09:00-17:00", Action: ActionMoney}, true},
		{"time between outside", Rule{Type: "time", Condition: "between", Value: "18:00-22:00", Action: ActionMoney}, false},
		{"time window over midnight", Rule{Type: "time", Condition: "between", Value: "22:00-15:00", Action: ActionMoney}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.ID = 1
			compiled := Compile([]Rule{tt.rule}, time.UTC)
			require.Len(t, compiled, 1, "rule should compile")

			m, matched := Evaluate(testContext(), compiled)
			assert.Equal(t, tt.wantMatch, matched)
			if tt.wantMatch {
				assert.Equal(t, int64(1), m.RuleID)
				assert.Equal(t, tt.rule.Action, m.Action)
			}
		})
	}
}

func TestEvaluate_ReputationRules(t *testing.T) {
	rc := testContext()
	rc.Reputation = reputation.Verdict{IsBot: true, IsAnonymized: false, Score: 45}

	botRule := Compile([]Rule{{ID: 1, Type: "bot", Condition: "equals", Value: "true", Action: ActionSafe}}, time.UTC)
	m, matched := Evaluate(rc, botRule)
	require.True(t, matched)
	assert.Equal(t, ActionSafe, m.Action)

	vpnRule := Compile([]Rule{{ID: 2, Type: "vpn", Condition: "equals", Value: "true", Action: ActionSafe}}, time.UTC)
	_, matched = Evaluate(rc, vpnRule)
	assert.False(t, matched, "anonymization flag is not set")

	scoreRule := Compile([]Rule{{ID: 3, Type: "bot", Condition: "greater_than", Value: "40", Action: ActionBlock}}, time.UTC)
	m, matched = Evaluate(rc, scoreRule)
	require.True(t, matched)
	assert.Equal(t, ActionBlock, m.Action)
}

func TestEvaluate_PriorityOrderAndShortCircuit(t *testing.T) {
	rows := []Rule{
		{ID: 10, Type: "geo", Condition: "equals", Value: "US", Action: ActionSafe, Priority: 5},
		{ID: 20, Type: "geo", Condition: "in_list", Value: "US,CA", Action: ActionMoney, Priority: 1},
		{ID: 30, Type: "device", Condition: "equals", Value: "desktop", Action: ActionBlock, Priority: 3},
	}
	compiled := Compile(rows, time.UTC)
	require.Len(t, compiled, 3)

	// Priority 1 matches first even though rule 10 and 30 also match.
	m, matched := Evaluate(testContext(), compiled)
	require.True(t, matched)
	assert.Equal(t, int64(20), m.RuleID)
	assert.Equal(t, ActionMoney, m.Action)
}

func TestCompile_SkipsBrokenAndInactiveRules(t *testing.T) {
	rows := []Rule{
		{ID: 1, Type: "referrer", Condition: "matches", Value: "([unclosed", Action: ActionSafe, Priority: 1},
		{ID: 2, Type: "nonsense", Condition: "equals", Value: "x", Action: ActionSafe, Priority: 2},
		{ID: 3, Type: "geo", Condition: "equals", Value: "US", Action: ActionMoney, Priority: 3, Status: "inactive"},
		{ID: 4, Type: "time", Condition: "between", Value: "25:99-12:00", Action: ActionSafe, Priority: 4},
		{ID: 5, Type: "ip", Condition: "in_list", Value: "not-an-ip", Action: ActionBlock, Priority: 5},
		{ID: 6, Type: "time", Condition: "equals", Value: "09:00-17:00", Action: ActionMoney, Priority: 6},
		{ID: 7, Type: "geo", Condition: "equals", Value: "US", Action: ActionMoney, Priority: 7, Status: "active"},
	}
	compiled := Compile(rows, time.UTC)
	require.Len(t, compiled, 1, "only the last rule is usable")

	// The bad rules are non-matching, not fatal: the good rule still wins.
	m, matched := Evaluate(testContext(), compiled)
	require.True(t, matched)
	assert.Equal(t, int64(7), m.RuleID)
}

func TestEvaluate_NoMatchSentinel(t *testing.T) {
	compiled := Compile([]Rule{
		{ID: 1, Type: "geo", Condition: "equals", Value: "DE", Action: ActionMoney, Priority: 1},
	}, time.UTC)

	_, matched := Evaluate(testContext(), compiled)
	assert.False(t, matched)
}

func TestParseWindow(t *testing.T) {
	from, to, err := ParseWindow("09:00-17:30")
	require.NoError(t, err)
	assert.Equal(t, 9*60, from)
	assert.Equal(t, 17*60+30, to)

	_, _, err = ParseWindow("whenever")
	assert.Error(t, err)
}

func TestInWindow_Timezone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 08:30 UTC is 09:30 in Berlin (winter): inside a 09:00-17:00 window.
	at := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)
	assert.True(t, InWindow(at, 9*60, 17*60, berlin))
	assert.False(t, InWindow(at, 9*60, 17*60, time.UTC))
}
