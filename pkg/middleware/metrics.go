package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status code.",
		},
		[]string{"service", "method", "route", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route pattern and status code.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"service", "method", "route", "code"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "storefront",
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		},
		[]string{"service"},
	)
)

// PrometheusMetrics records request count, latency and in-flight gauge per
// chi route pattern, so /items/{itemId} is one series rather than one per id.
// Requests that match no route are labelled "unmatched".
func PrometheusMetrics(serviceName string) func(next http.Handler) http.Handler {
	svc := prometheus.Labels{"service": serviceName}
	requests := httpRequestsTotal.MustCurryWith(svc)
	latency := httpRequestDuration.MustCurryWith(svc)
	inFlight := httpRequestsInFlight.WithLabelValues(serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inFlight.Inc()
			defer inFlight.Dec()

			rec := recordStatus(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r, "unmatched")
			code := strconv.Itoa(rec.Status())
			requests.WithLabelValues(r.Method, route, code).Inc()
			latency.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
		})
	}
}
