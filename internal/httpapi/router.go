package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wtsi-hgi/irobot/internal/httpapi/auth"
	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/internal/precache/manager"
	"github.com/wtsi-hgi/irobot/pkg/metrics"
	irobotmetrics "github.com/wtsi-hgi/irobot/pkg/metrics/prometheus"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Manager        *manager.Manager
	AuthChain      *auth.Chain
	MaxConnections int64
	RequestTimeout time.Duration
	ConfigSnapshot func() any
}

// NewRouter builds the full chi router: ambient request-id/real-ip/access
// logging, then the four spec-mandated stages in order -- connection
// accounting, catch-500, per-request timeout, authentication -- followed
// by the data-object and admin routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	conns := NewConnCounter(cfg.MaxConnections)
	admin := NewAdminHandler(cfg.Manager, conns, cfg.ConfigSnapshot)
	dataObject := NewDataObjectHandler(cfg.Manager)
	httpMetrics := irobotmetrics.NewHTTPMetrics()
	irobotmetrics.RegisterPrecacheCollectors(cfg.Manager)
	cfg.Manager.SetEventRecorder(irobotmetrics.NewEventCounters())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(httpMetrics.Middleware)
	r.Use(conns.Middleware)
	r.Use(Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(Timeout(cfg.RequestTimeout))
	}
	r.Use(AuthMiddleware(cfg.AuthChain))

	r.Get("/_status", admin.Status)
	r.Head("/_status", admin.Status)
	r.Get("/_config", admin.Config)
	r.Head("/_config", admin.Config)
	r.Get("/_precache", admin.Precache)
	r.Head("/_precache", admin.Precache)
	r.Get("/_metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP)

	r.Handle("/*", dataObject)

	return r
}

// requestLogger logs each request's method, path, status and duration via
// the structured logger, matching the teacher's pkg/api/router.go access
// log middleware.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			slog.String(logger.KeyMethod, r.Method),
			logger.Path(r.URL.Path),
			slog.Int(logger.KeyStatus, ww.Status()),
			slog.Float64(logger.KeyDurationMs, logger.Duration(start)),
		)
	})
}
