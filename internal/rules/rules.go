// Package rules evaluates a campaign's ordered targeting rules against
// a request context. Stringly-typed rule rows are compiled once, at
// snapshot build time, into typed matchers; evaluation on the hot path
// is then just an ordered scan with no parsing.
package rules

// Rule type tags as authored in the admin surface.
const (
	TypeGeo      = "geo"
	TypeDevice   = "device"
	TypeBrowser  = "browser"
	TypeOS       = "os"
	TypeIP       = "ip"
	TypeReferrer = "referrer"
	TypeLanguage = "language"
	TypeISP      = "isp"
	TypeBot      = "bot"
	TypeVPN      = "vpn"
	TypeTime     = "time"
	TypeURLParam = "url_param"
	TypeCookie   = "cookie"
	TypeHeader   = "header"
)

// Condition operators.
const (
	CondEquals      = "equals"
	CondNotEquals   = "not_equals"
	CondContains    = "contains"
	CondNotContains = "not_contains"
	CondStartsWith  = "starts_with"
	CondEndsWith    = "ends_with"
	CondMatches     = "matches"
	CondGreaterThan = "greater_than"
	CondLessThan    = "less_than"
	CondBetween     = "between"
	CondInList      = "in_list"
)

// Action is the routing outcome a matched rule forces.
type Action string

const (
	ActionSafe  Action = "safe"
	ActionMoney Action = "money"
	ActionBlock Action = "block"
)

// Rule is one marketer-authored targeting rule as stored. Param carries
// the attribute name for url_param/cookie/header types and is empty
// otherwise. Values are pre-validated at write time; Compile still
// skips anything it cannot apply so one bad row never blocks a
// campaign.
type Rule struct {
	ID        int64
	Type      string
	Condition string
	Param     string
	Value     string
	Action    Action
	Priority  int
	Status    string // active | inactive
}

// Match reports the winning rule of an evaluation.
type Match struct {
	RuleID int64
	Action Action
}

// Evaluate scans compiled rules in priority order and returns the first
// one whose condition holds. Short-circuits on the first hit.
func Evaluate(rc *RequestContext, ruleset []CompiledRule) (Match, bool) {
	for _, cr := range ruleset {
		if cr.matcher.match(rc) {
			return Match{RuleID: cr.ID, Action: cr.Action}, true
		}
	}
	return Match{}, false
}
