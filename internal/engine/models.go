package engine

import (
	"time"

	"trafficgate/internal/rules"
)

// Mode is the campaign's declarative cloaking mode. The decision never
// carries executable content, only a destination and these flags.
type Mode string

const (
	ModeRedirect Mode = "redirect"
	ModeProxy    Mode = "proxy"
	ModeIframe   Mode = "iframe"
)

// Campaign is the snapshot-resident, evaluation-ready campaign:
// settings parsed and rules compiled at snapshot build time.
type Campaign struct {
	ID       int64
	Slug     string
	Name     string
	Mode     Mode
	SafeURL  string
	MoneyURL string
	Status   string // active | paused (drafts never reach the snapshot)
	Settings Settings
	Rules    []rules.CompiledRule
}

// Settings are campaign-level knobs applied around the explicit rules.
type Settings struct {
	ABEnabled     bool
	ABPercent     int // share of default traffic routed to money, 0-100
	PixelID       string
	RedirectDelay int // seconds

	ReferrerPolicy   string // "" | any | allow_list | block_empty
	AllowedReferrers []string

	GeoAllow    map[string]struct{} // empty = no campaign-level geo gate
	DeviceAllow map[string]struct{}

	HasTimeWindow        bool
	WindowFrom, WindowTo int // minutes of day, inclusive
	TZ                   *time.Location
}

// Decision is the immutable outcome of one pipeline run.
type Decision struct {
	Action              rules.Action `json:"action"`
	Mode                Mode         `json:"mode"`
	URL                 string       `json:"url"`
	Delay               int          `json:"delay,omitempty"`
	UseIntermediatePage bool         `json:"use_intermediate_page,omitempty"`
	MatchedRuleID       int64        `json:"matched_rule_id,omitempty"`
	PixelID             string       `json:"pixel_id,omitempty"`
}
