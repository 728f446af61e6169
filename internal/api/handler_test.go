package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficgate/internal/decisioncache"
	"trafficgate/internal/engine"
	"trafficgate/internal/fingerprint"
	"trafficgate/internal/geo"
	"trafficgate/internal/kv"
	"trafficgate/internal/ratelimit"
	"trafficgate/internal/reputation"
	"trafficgate/internal/storage"
)

type mockLoader struct {
	rows []storage.CampaignRow
}

func (m *mockLoader) LoadCampaigns(context.Context) ([]storage.CampaignRow, error) {
	return m.rows, nil
}

const (
	cleanUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	botUA   = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func testRouter(t *testing.T, rows []storage.CampaignRow) http.Handler {
	t.Helper()

	store := kv.NewMemory()
	eng := engine.New(
		geo.NewResolver(geo.StaticFromMap(map[string]geo.Location{
			"8.8.8.0/24": {Country: "US", City: "Mountain View"},
		}), store, time.Hour),
		reputation.NewDetector(),
		fingerprint.NewMemoryStore(),
		ratelimit.New(store, 1000, time.Minute),
		decisioncache.New(store, 30*time.Second),
	)
	require.NoError(t, eng.BuildSnapshot(context.Background(), &mockLoader{rows: rows}))
	return Router(NewHandler(eng, fingerprint.NewMemoryStore()))
}

func campaign(mode string) storage.CampaignRow {
	return storage.CampaignRow{
		ID:       1,
		Slug:     "spring-sale",
		Name:     "Spring Sale",
		Mode:     mode,
		SafeURL:  "https://example.com/blog",
		MoneyURL: "https://offers.example.com/spring",
		Status:   "active",
	}
}

func get(router http.Handler, path, ip, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":50000"
	req.Header.Set("User-Agent", ua)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRedirect_BotGoesToSafePage(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	rec := get(router, "/c/spring-sale", "8.8.8.8", botUA)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/blog", rec.Header().Get("Location"))
}

func TestRedirect_CleanVisitorGoesToMoneyPage(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	rec := get(router, "/c/spring-sale", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://offers.example.com/spring", rec.Header().Get("Location"))
}

func TestRedirect_UnknownSlug(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	rec := get(router, "/c/nope", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedirect_IntermediatePageWithPixel(t *testing.T) {
	c := campaign("redirect")
	c.Settings.RedirectDelay = 2
	c.Settings.PixelID = "fb-123"
	router := testRouter(t, []storage.CampaignRow{c})

	rec := get(router, "/c/spring-sale", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `content="2;url=https://offers.example.com/spring"`)
	assert.Contains(t, body, `/px/fb-123.gif`)
}

func TestRedirect_IframeMode(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("iframe")})

	rec := get(router, "/c/spring-sale", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<iframe src="https://offers.example.com/spring">`)
}

func TestRedirect_DestinationURLIsEscaped(t *testing.T) {
	c := campaign("redirect")
	c.Settings.RedirectDelay = 2
	c.MoneyURL = `https://offers.example.com/s?q="><script>alert(1)</script>`
	router := testRouter(t, []storage.CampaignRow{c})

	rec := get(router, "/c/spring-sale", "8.8.8.8", cleanUA)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")

	c2 := campaign("iframe")
	c2.ID = 2
	c2.Slug = "framed"
	c2.MoneyURL = `https://offers.example.com/s?q="></iframe><script>alert(1)</script>`
	router = testRouter(t, []storage.CampaignRow{c2})

	rec = get(router, "/c/framed", "8.8.4.4", cleanUA)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}

func TestRedirect_DecisionErrorIsGeneric(t *testing.T) {
	c := campaign("redirect")
	c.SafeURL = "" // bot traffic has nowhere to go
	router := testRouter(t, []storage.CampaignRow{c})

	rec := get(router, "/c/spring-sale", "8.8.8.8", botUA)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Something went wrong")
	assert.NotContains(t, body, "bot", "error pages leak nothing about detection")
}

func TestDecide_JSON(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	rec := get(router, "/v1/decisions?campaign_id=1", "8.8.8.8", botUA)
	require.Equal(t, http.StatusOK, rec.Code)

	var d engine.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "safe", string(d.Action))
	assert.Equal(t, "https://example.com/blog", d.URL)
}

func TestDecide_BadAndUnknownCampaign(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	rec := get(router, "/v1/decisions", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(router, "/v1/decisions?campaign_id=42", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestFingerprint(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	payload := `{"hash":"abc123","attributes":{"screen":"1920x1080","platform":"Win32"},"behavior":{"mouse_moves":12,"clicks":1}}`

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/fingerprints", strings.NewReader(payload))
		req.RemoteAddr = "8.8.8.8:50000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post()
	require.Equal(t, http.StatusOK, rec.Code)
	var first map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "created", first["status"])
	assert.Equal(t, float64(1), first["visit_count"])
	assert.NotEmpty(t, first["visitor_id"])

	rec = post()
	require.Equal(t, http.StatusOK, rec.Code)
	var second map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "updated", second["status"])
	assert.Equal(t, float64(2), second["visit_count"])
	assert.Equal(t, first["visitor_id"], second["visitor_id"])
}

func TestIngestFingerprint_Validation(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	for name, body := range map[string]string{
		"invalid json": "{not json",
		"missing hash": `{"attributes":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/fingerprints", strings.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPixel(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	rec := get(router, "/px/fb-123.gif", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, byte('G'), rec.Body.Bytes()[0])
}

func TestHealthz(t *testing.T) {
	router := testRouter(t, []storage.CampaignRow{campaign("redirect")})

	rec := get(router, "/healthz", "8.8.8.8", cleanUA)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestContextFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/c/x?fp=deadbeef&utm_source=fb", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	req.Header.Set("User-Agent", cleanUA)
	req.Header.Set("Referer", "https://facebook.com/ads")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.8")
	req.AddCookie(&http.Cookie{Name: "session", Value: "s1"})

	rc := ContextFromRequest(req)
	assert.Equal(t, "8.8.8.8", rc.IP)
	assert.Equal(t, "desktop", rc.Device)
	assert.Equal(t, "Chrome", rc.Browser)
	assert.Equal(t, "en", rc.Language)
	assert.Equal(t, "https://facebook.com/ads", rc.Referrer)
	assert.Equal(t, "deadbeef", rc.FingerprintHash)
	assert.Equal(t, "fb", rc.Query.Get("utm_source"))
	assert.Equal(t, "s1", rc.Cookies["session"])
	assert.False(t, rc.Now.IsZero())
}

func TestContextFromRequest_FingerprintCookieFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/c/x", nil)
	req.AddCookie(&http.Cookie{Name: fpCookie, Value: "cafe01"})
	assert.Equal(t, "cafe01", ContextFromRequest(req).FingerprintHash)
}

func TestDeviceClass(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{cleanUA, "desktop"},
		{botUA, "bot"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1", "mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1", "tablet"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/c/x", nil)
		req.Header.Set("User-Agent", tt.ua)
		assert.Equal(t, tt.want, ContextFromRequest(req).Device, tt.ua)
	}
}
