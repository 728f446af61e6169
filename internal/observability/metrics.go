package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloak_decisions_total",
			Help: "Routing decisions by action",
		}, []string{"action"},
	)
	DecisionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloak_decision_duration_seconds",
		Help:    "Decision pipeline latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	RequestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloak_request_duration_seconds",
		Help:    "HTTP request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cloak_in_flight",
		Help: "In-flight HTTP requests",
	})
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloak_decision_cache_total",
			Help: "Decision cache lookups by result",
		}, []string{"result"},
	)
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloak_rate_limited_total",
		Help: "Requests over the rate-limit budget",
	})
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloak_requests_total",
			Help: "Total HTTP requests by code",
		}, []string{"code"},
	)
)

func init() {
	prometheus.MustRegister(DecisionsTotal, DecisionLatency, RequestLatency, InFlight, CacheHits, RateLimited, RequestsTotal)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		RequestLatency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
