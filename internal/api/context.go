package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"trafficgate/internal/rules"
)

// fingerprint hash carriers, set by the client collector
const (
	fpCookie = "_tgfp"
	fpParam  = "fp"
)

// ContextFromRequest assembles the per-decision view of an inbound
// request. chi's RealIP middleware has already folded X-Forwarded-For /
// X-Real-IP into RemoteAddr; only the port needs stripping here.
func ContextFromRequest(r *http.Request) *rules.RequestContext {
	ua := useragent.New(r.UserAgent())
	browser, _ := ua.Browser()

	rc := &rules.RequestContext{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Browser:   browser,
		OS:        ua.OSInfo().Name,
		Device:    deviceClass(ua),
		Referrer:  r.Referer(),
		Language:  primaryLanguage(r.Header.Get("Accept-Language")),
		Headers:   r.Header,
		Cookies:   cookieMap(r),
		Query:     r.URL.Query(),
		Now:       time.Now(),
	}

	if v := r.URL.Query().Get(fpParam); v != "" {
		rc.FingerprintHash = v
	} else if c, err := r.Cookie(fpCookie); err == nil {
		rc.FingerprintHash = c.Value
	}
	return rc
}

func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func deviceClass(ua *useragent.UserAgent) string {
	switch {
	case ua.Bot():
		return "bot"
	case strings.Contains(strings.ToLower(ua.Platform()), "ipad"),
		strings.Contains(strings.ToLower(ua.OS()), "tablet"):
		return "tablet"
	case ua.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}

// primaryLanguage extracts the first tag's primary subtag:
// "en-US,en;q=0.9" -> "en".
func primaryLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	first, _, _ = strings.Cut(strings.TrimSpace(first), "-")
	return strings.ToLower(first)
}

func cookieMap(r *http.Request) map[string]string {
	cookies := r.Cookies()
	if len(cookies) == 0 {
		return nil
	}
	m := make(map[string]string, len(cookies))
	for _, c := range cookies {
		m[c.Name] = c.Value
	}
	return m
}
