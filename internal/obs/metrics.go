package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Gateway metrics. The denial counter carries no account label: account
// identifiers must not leak into metrics.
var (
	FieldReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "field_reads_total",
			Help: "Decrypted sensitive-field reads, by field name.",
		},
		[]string{"field"},
	)

	AccessDenialsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "field_access_denials_total",
		Help: "Field reads refused for lack of an active grant.",
	})

	DecryptFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kms_decrypt_fallbacks_total",
		Help: "Remote KMS failures that fell back to local decryption.",
	})

	AuditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_dropped_total",
		Help: "Audit events dropped because the recorder buffer was full or the sink failed.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		FieldReadsTotal, AccessDenialsTotal, DecryptFallbacksTotal, AuditDroppedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses resource identifiers so that metrics cardinality
// stays bounded (and no account or request IDs end up in label values).
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[1] == "v1" && parts[2] == "accounts":
		return "/v1/accounts/:id"
	case len(parts) == 5 && parts[1] == "v1" && parts[2] == "requests":
		// /v1/requests/:id/approve, /v1/requests/:id/reject
		return "/v1/requests/:id/" + parts[4]
	}
	return path
}

// statusWriter records the response code written by downstream handlers.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}
