package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	// Authorization-flow counters. Labels stay low-cardinality: outcome only,
	// never user or client identifiers.
	codesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authorization_codes_issued_total",
		Help: "Authorization codes minted by the issuer.",
	})
	codesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authorization_codes_consumed_total",
		Help: "Authorization codes successfully exchanged.",
	})
	exchangeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_exchange_failures_total",
			Help: "Failed code exchanges by cause.",
		},
		[]string{"cause"},
	)
	authorizeDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_requests_denied_total",
			Help: "Authorization requests refused before code issuance.",
		},
		[]string{"cause"},
	)
	auditVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_chain_verifications_total",
			Help: "Audit chain integrity verifications by result.",
		},
		[]string{"result"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		codesIssued, codesConsumed, exchangeFailures, authorizeDenied,
		auditVerifications,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CodeIssued increments the issued-code counter.
func CodeIssued() { codesIssued.Inc() }

// CodeConsumed increments the consumed-code counter.
func CodeConsumed() { codesConsumed.Inc() }

// ExchangeFailed records a failed exchange with its cause label.
func ExchangeFailed(cause string) { exchangeFailures.WithLabelValues(cause).Inc() }

// AuthorizeDenied records a refused authorization request with its cause label.
func AuthorizeDenied(cause string) { authorizeDenied.WithLabelValues(cause).Inc() }

// AuditVerified records the outcome of an integrity verification.
func AuditVerified(ok bool) {
	result := "ok"
	if !ok {
		result = "tampered"
	}
	auditVerifications.WithLabelValues(result).Inc()
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

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(segments) >= 3 && segments[0] == "v1" && segments[1] == "clients":
		segments[2] = ":id"
	case len(segments) >= 3 && segments[0] == "v1" && segments[1] == "groups":
		segments[2] = ":id"
	case len(segments) >= 3 && segments[0] == "v1" && segments[1] == "users":
		segments[2] = ":id"
	}
	return "/" + strings.Join(segments, "/")
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
