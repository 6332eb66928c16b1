package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics counts API requests and observes their latency per route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	gatherer prometheus.Gatherer
}

// NewHTTPMetrics registers the collectors on reg. A nil reg uses a private registry.
func NewHTTPMetrics(reg *prometheus.Registry) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bazaar",
		Subsystem: "ledger",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bazaar",
		Subsystem: "ledger",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route", "method"})

	reg.MustRegister(requests, latency)
	return &HTTPMetrics{requests: requests, latency: latency, gatherer: reg}
}

// Middleware records one observation per request using the matched chi route pattern.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := newResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		route := SanitizeRoute(routePattern(r))
		method := SanitizeMethod(r.Method)
		m.requests.WithLabelValues(route, method, strconv.Itoa(recorder.Status())).Inc()
		m.latency.WithLabelValues(route, method).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// Handler exposes the registered collectors in the Prometheus text format.
func (m *HTTPMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
