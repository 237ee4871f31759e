package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics plus counters for the authentication pipeline.
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

	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_login_attempts_total",
			Help: "Login attempts by outcome (success, unauthenticated, tfa_required, wrong_tfa_code, banned, throttled).",
		},
		[]string{"result"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_refresh_total",
			Help: "Refresh-token rotations by outcome (success, invalid, reuse_rejected).",
		},
		[]string{"result"},
	)

	tokenVerifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sso_token_verify_failures_total",
		Help: "Access or refresh tokens that failed verification.",
	})

	apiKeyAuthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_apikey_auth_total",
			Help: "API-key authentications by outcome (success, unauthenticated, conflict).",
		},
		[]string{"result"},
	)
)

// Init registers all metrics with the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginTotal, refreshTotal, tokenVerifyFailures, apiKeyAuthTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncLogin records a login attempt outcome.
func IncLogin(result string) { loginTotal.WithLabelValues(result).Inc() }

// IncRefresh records a refresh rotation outcome.
func IncRefresh(result string) { refreshTotal.WithLabelValues(result).Inc() }

// IncTokenVerifyFailure records a failed token verification.
func IncTokenVerifyFailure() { tokenVerifyFailures.Inc() }

// IncAPIKeyAuth records an api-key authentication outcome.
func IncAPIKeyAuth(result string) { apiKeyAuthTotal.WithLabelValues(result).Inc() }

// Instrument wraps a handler with request counting and latency histograms.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
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

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
