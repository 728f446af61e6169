package rules

import (
	"net/http"
	"net/url"
	"time"

	"trafficgate/internal/geo"
	"trafficgate/internal/reputation"
)

// RequestContext is the assembled view of one inbound click. It is
// owned by a single decision invocation and never shared.
type RequestContext struct {
	IP        string
	UserAgent string
	Device    string // desktop | mobile | tablet | bot
	Browser   string
	OS        string
	Referrer  string
	Language  string // primary Accept-Language tag
	Headers   http.Header
	Cookies   map[string]string
	Query     url.Values
	Now       time.Time

	FingerprintHash string

	Geo        geo.Location
	Reputation reputation.Verdict
	RiskScore  int // fingerprint store contribution, 0 if unseen
}
