package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/linkstats/pkg/httputil"
	"github.com/platinummonkey/linkstats/pkg/observability"
)

// MaxBodyBytes bounds click and pixel request bodies
const MaxBodyBytes = 64 * 1024

// NewRouter builds the public API router with the standard middleware stack
func NewRouter(h *Handlers, logger *observability.Logger, metrics *observability.Metrics) *mux.Router {
	if logger == nil {
		logger = observability.NopLogger()
	}

	r := mux.NewRouter()
	r.Use(
		httputil.RequestIDMiddleware,
		mux.MiddlewareFunc(httputil.LoggingMiddleware(logger)),
		mux.MiddlewareFunc(httputil.RecoveryMiddleware(logger)),
		mux.MiddlewareFunc(httputil.MaxBytesMiddleware(MaxBodyBytes)),
		observability.HTTPMetricsMiddleware(metrics),
	)
	h.RegisterRoutes(r)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})
	return r
}

// NewHealthRouter serves liveness, readiness and, when registry is set,
// Prometheus metrics. It runs on its own port.
func NewHealthRouter(checker *observability.HealthChecker, registry *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()
	observability.RegisterHealthRoutes(r, checker)
	if registry != nil {
		r.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	return r
}
