package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wtsi-hgi/irobot/pkg/metrics"
)

// HTTPMetrics records request counts and latency for the gateway's HTTP
// core, following the same CounterVec/HistogramVec shape as the teacher's
// cache metrics but labelled by method and status instead of cache type.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics constructs the HTTP collectors, or returns nil if metrics
// are disabled. Middleware is nil-receiver safe, so callers can always
// chain it in without a conditional.
func NewHTTPMetrics() *HTTPMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &HTTPMetrics{
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "irobot_http_requests_total",
			Help: "Total HTTP requests, by method and status code.",
		}, []string{"method", "status"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irobot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by method.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method"}),
	}
}

// Middleware wraps next, recording request count and duration on every
// response.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.requests.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		m.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
