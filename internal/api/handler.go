package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"trafficgate/internal/engine"
	"trafficgate/internal/fingerprint"
)

type Handler struct {
	eng          *engine.Engine
	fingerprints fingerprint.Store
	proxyClient  *http.Client
}

func NewHandler(eng *engine.Engine, fp fingerprint.Store) *Handler {
	return &Handler{
		eng:          eng,
		fingerprints: fp,
		// Inline proxy fetches must never hang the redirect.
		proxyClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// genericError hides every internal detail, including which detection
// signal fired. Adversaries read error pages too.
func genericError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = io.WriteString(w, "<!doctype html><html><body><p>Something went wrong. Please try again later.</p></body></html>")
}

// Redirect is the public click entry point: GET /c/{slug}.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.eng.CampaignBySlug(chi.URLParam(r, "slug"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	rc := ContextFromRequest(r)
	d, err := h.eng.Decide(r.Context(), c.ID, rc)
	if err != nil {
		log.Error().Err(err).Str("campaign", c.Slug).Msg("decision failed")
		genericError(w)
		return
	}

	switch d.Mode {
	case engine.ModeProxy:
		h.serveProxy(w, r, d)
	case engine.ModeIframe:
		h.serveIframe(w, d)
	default:
		h.serveRedirect(w, r, d)
	}
}

func (h *Handler) serveRedirect(w http.ResponseWriter, r *http.Request, d engine.Decision) {
	if d.UseIntermediatePage && d.Delay > 0 {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!doctype html><html><head><meta http-equiv="refresh" content="%d;url=%s"></head><body>%s</body></html>`,
			d.Delay, html.EscapeString(d.URL), pixelTag(d.PixelID))
		return
	}
	http.Redirect(w, r, d.URL, http.StatusFound)
}

// serveProxy fetches the destination inline and relays the body. Any
// fetch problem degrades to a plain redirect.
func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request, d engine.Decision) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, d.URL, nil)
	if err != nil {
		http.Redirect(w, r, d.URL, http.StatusFound)
		return
	}
	req.Header.Set("User-Agent", r.UserAgent())

	resp, err := h.proxyClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("proxy fetch failed, falling back to redirect")
		http.Redirect(w, r, d.URL, http.StatusFound)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) serveIframe(w http.ResponseWriter, d engine.Decision) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html><html><head><style>body,html{margin:0;height:100%%}iframe{border:0;width:100%%;height:100%%}</style></head><body><iframe src="%s"></iframe>%s</body></html>`,
		html.EscapeString(d.URL), pixelTag(d.PixelID))
}

func pixelTag(pixelID string) string {
	if pixelID == "" {
		return ""
	}
	return fmt.Sprintf(`<img src="/px/%s.gif" width="1" height="1" alt="">`, html.EscapeString(pixelID))
}

// ingestPayload is the client collector's report.
type ingestPayload struct {
	Hash       string                 `json:"hash"`
	Attributes fingerprint.Attributes `json:"attributes"`
	Behavior   fingerprint.Behavior   `json:"behavior"`
}

// IngestFingerprint handles POST /v1/fingerprints. A pure upsert: it
// never influences the submitting visitor's routing synchronously.
func (h *Handler) IngestFingerprint(w http.ResponseWriter, r *http.Request) {
	var payload ingestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if payload.Hash == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hash is required"})
		return
	}

	res, err := h.fingerprints.Upsert(r.Context(), payload.Hash, payload.Attributes, payload.Behavior)
	if err != nil {
		log.Warn().Err(err).Msg("fingerprint upsert failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "try again"})
		return
	}

	status := "updated"
	if res.Created {
		status = "created"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"visitor_id":  res.VisitorID,
		"visit_count": res.VisitCount,
		"status":      status,
	})
}

// Decide handles GET /v1/decisions?campaign_id=N for internal callers
// that want the raw decision instead of the acted-on redirect.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("campaign_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "campaign_id is required"})
		return
	}

	rc := ContextFromRequest(r)
	d, err := h.eng.Decide(r.Context(), id, rc)
	if err != nil {
		if errors.Is(err, engine.ErrCampaignNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown campaign"})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "decision unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Pixel serves the 1x1 tracking gif referenced from intermediate and
// iframe pages.
func (h *Handler) Pixel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(transparentGIF)
}

var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}
