package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if metrics.JobRunsTotal == nil || metrics.SubjectsTotal == nil || metrics.PrunedRowsTotal == nil {
		t.Fatal("job metrics not initialized")
	}

	t.Run("double registration panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on duplicate registration")
			}
		}()
		NewMetrics(registry)
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveJob("aggregate-views", nil, time.Second)
	m.ObserveSubject("written")
	m.ObservePrune("link_page_daily_views", 3, nil)
	m.ObserveClick(nil)
	m.ObserveView(errors.New("x"))
	m.ObserveCache("pixel", true)
	m.UpdateDBStats(sql.DBStats{})
	m.UpdateRedisPoolStats(&redis.PoolStats{})
}

func TestMetrics_UpdateRedisPoolStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.UpdateRedisPoolStats(&redis.PoolStats{TotalConns: 4, IdleConns: 3, Hits: 10, Misses: 2, Timeouts: 1})

	if got := testutil.ToFloat64(m.RedisPoolTotalConns); got != 4 {
		t.Errorf("total conns = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.RedisPoolIdleConns); got != 3 {
		t.Errorf("idle conns = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.RedisPoolHits); got != 10 {
		t.Errorf("hits = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.RedisPoolMisses); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RedisPoolTimeouts); got != 1 {
		t.Errorf("timeouts = %v, want 1", got)
	}

	m.UpdateRedisPoolStats(nil)
	if got := testutil.ToFloat64(m.RedisPoolTotalConns); got != 4 {
		t.Errorf("nil stats changed total conns to %v", got)
	}
}

func TestMetrics_ObserveJob(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveJob("prune", nil, 2*time.Second)
	m.ObserveJob("prune", errors.New("failed"), time.Second)

	if got := testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("prune", "success")); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("prune", "error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobLastSuccess.WithLabelValues("prune")); got == 0 {
		t.Error("last success timestamp not set")
	}
}

func TestMetrics_ObservePrune(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObservePrune("link_page_daily_views", 5, nil)
	m.ObservePrune("link_page_daily_views", 2, nil)
	m.ObservePrune("link_page_daily_link_clicks", 0, errors.New("locked"))

	if got := testutil.ToFloat64(m.PrunedRowsTotal.WithLabelValues("link_page_daily_views")); got != 7 {
		t.Errorf("pruned rows = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.PruneErrors.WithLabelValues("link_page_daily_link_clicks")); got != 1 {
		t.Errorf("prune errors = %v, want 1", got)
	}
}

func TestMetrics_Events(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveClick(nil)
	m.ObserveClick(errors.New("db down"))
	m.ObserveView(nil)
	m.ObserveSubject("written")
	m.ObserveCache("pixel", false)

	if got := testutil.ToFloat64(m.ClicksRecordedTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("click errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ViewsRecordedTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("views = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SubjectsTotal.WithLabelValues("written")); got != 1 {
		t.Errorf("written subjects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("pixel")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	r := mux.NewRouter()
	r.Use(HTTPMetricsMiddleware(m))
	r.HandleFunc("/api/v1/link-pages/{id}/clicks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/link-pages/17/clicks", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/link-pages/{id}/clicks", "204"))
	if got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.ObserveSubject("unchanged")

	rr := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `linkstats_aggregation_subjects_total{outcome="unchanged"} 1`) {
		t.Errorf("metrics output missing subject counter:\n%s", rr.Body.String())
	}
}
