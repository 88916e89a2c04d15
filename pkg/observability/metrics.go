package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Job metrics
	JobRunsTotal    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobLastSuccess  *prometheus.GaugeVec
	SubjectsTotal   *prometheus.CounterVec
	PrunedRowsTotal *prometheus.CounterVec
	PruneErrors     *prometheus.CounterVec

	// Event metrics
	ClicksRecordedTotal *prometheus.CounterVec
	ViewsRecordedTotal  *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge

	// Redis pool metrics
	RedisPoolTotalConns prometheus.Gauge
	RedisPoolIdleConns  prometheus.Gauge
	RedisPoolHits       prometheus.Gauge
	RedisPoolMisses     prometheus.Gauge
	RedisPoolTimeouts   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkstats_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_job_runs_total",
				Help: "Total number of scheduled job runs",
			},
			[]string{"job", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkstats_job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"job"},
		),
		JobLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linkstats_job_last_success_timestamp_seconds",
				Help: "Unix time of the last successful job run",
			},
			[]string{"job"},
		),
		SubjectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_aggregation_subjects_total",
				Help: "Link pages processed by the daily view aggregation, by outcome",
			},
			[]string{"outcome"},
		),
		PrunedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_pruned_rows_total",
				Help: "Rows deleted by retention pruning",
			},
			[]string{"table"},
		),
		PruneErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_prune_errors_total",
				Help: "Failed retention deletes",
			},
			[]string{"table"},
		),

		ClicksRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_clicks_recorded_total",
				Help: "Link click events recorded",
			},
			[]string{"status"},
		),
		ViewsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_views_recorded_total",
				Help: "Page views added to the cumulative counter",
			},
			[]string{"status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkstats_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		RedisPoolTotalConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_redis_pool_total_conns",
				Help: "Number of connections in the Redis pool",
			},
		),
		RedisPoolIdleConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_redis_pool_idle_conns",
				Help: "Number of idle connections in the Redis pool",
			},
		),
		RedisPoolHits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_redis_pool_hits",
				Help: "Times a free connection was found in the Redis pool",
			},
		),
		RedisPoolMisses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_redis_pool_misses",
				Help: "Times a free connection was not found in the Redis pool",
			},
		),
		RedisPoolTimeouts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkstats_redis_pool_timeouts",
				Help: "Times a wait for a Redis pool connection timed out",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.JobRunsTotal,
		m.JobDuration,
		m.JobLastSuccess,
		m.SubjectsTotal,
		m.PrunedRowsTotal,
		m.PruneErrors,
		m.ClicksRecordedTotal,
		m.ViewsRecordedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWait,
		m.RedisPoolTotalConns,
		m.RedisPoolIdleConns,
		m.RedisPoolHits,
		m.RedisPoolMisses,
		m.RedisPoolTimeouts,
	)

	return m
}

// ObserveJob records the outcome and duration of one scheduled job run
func (m *Metrics) ObserveJob(job string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.JobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveSubject counts one aggregation outcome: written, unchanged or failed
func (m *Metrics) ObserveSubject(outcome string) {
	if m == nil {
		return
	}
	m.SubjectsTotal.WithLabelValues(outcome).Inc()
}

// ObservePrune records the result of one table delete
func (m *Metrics) ObservePrune(table string, deleted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PruneErrors.WithLabelValues(table).Inc()
		return
	}
	m.PrunedRowsTotal.WithLabelValues(table).Add(float64(deleted))
}

// ObserveClick counts a click write
func (m *Metrics) ObserveClick(err error) {
	if m == nil {
		return
	}
	m.ClicksRecordedTotal.WithLabelValues(statusLabel(err)).Inc()
}

// ObserveView counts a counter increment
func (m *Metrics) ObserveView(err error) {
	if m == nil {
		return
	}
	m.ViewsRecordedTotal.WithLabelValues(statusLabel(err)).Inc()
}

// ObserveCache counts a cache lookup
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
}

// UpdateRedisPoolStats copies Redis pool statistics into the gauges
func (m *Metrics) UpdateRedisPoolStats(stats *redis.PoolStats) {
	if m == nil || stats == nil {
		return
	}
	m.RedisPoolTotalConns.Set(float64(stats.TotalConns))
	m.RedisPoolIdleConns.Set(float64(stats.IdleConns))
	m.RedisPoolHits.Set(float64(stats.Hits))
	m.RedisPoolMisses.Set(float64(stats.Misses))
	m.RedisPoolTimeouts.Set(float64(stats.Timeouts))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled with
// the matched mux route template so link page IDs don't explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
