package analytics

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(store *memStore) *Aggregator {
	return NewAggregator(store, store, store, observability.NopLogger(), nil)
}

func TestRunDailyAggregation_WritesIncrement(t *testing.T) {
	store := newMemStore()
	store.subjects = []int64{7}
	store.counters[7] = 120
	store.setView(7, day("2026-10-13"), 60)
	store.setView(7, day("2026-10-14"), 40)

	result := newTestAggregator(store).RunDailyAggregation(context.Background(), day("2026-10-15"))

	assert.Equal(t, 1, result.Written)
	assert.Equal(t, int64(20), store.views[7][day("2026-10-15")])
	assert.NoError(t, result.Err())
}

func TestRunDailyAggregation_IdempotentSameDay(t *testing.T) {
	store := newMemStore()
	store.subjects = []int64{1, 2}
	store.counters[1] = 15
	store.counters[2] = 3
	store.setView(1, day("2026-10-14"), 10)

	agg := newTestAggregator(store)
	today := day("2026-10-15")

	first := agg.RunDailyAggregation(context.Background(), today)
	snapshot := map[int64]int64{1: store.views[1][today], 2: store.views[2][today]}
	second := agg.RunDailyAggregation(context.Background(), today)

	assert.Equal(t, first.Written, second.Written)
	assert.Equal(t, snapshot[1], store.views[1][today])
	assert.Equal(t, snapshot[2], store.views[2][today])
	assert.Equal(t, int64(5), store.views[1][today])
	assert.Equal(t, int64(3), store.views[2][today])
	assert.Equal(t, 2, store.rowCount(1), "rerun must overwrite, not add a row")
}

func TestRunDailyAggregation_RerunPicksUpNewViews(t *testing.T) {
	store := newMemStore()
	store.subjects = []int64{1}
	store.counters[1] = 10
	today := day("2026-10-15")
	agg := newTestAggregator(store)

	agg.RunDailyAggregation(context.Background(), today)
	store.counters[1] = 14
	agg.RunDailyAggregation(context.Background(), today)

	assert.Equal(t, int64(14), store.views[1][today], "today's row is replaced with the full increment")
}

func TestRunDailyAggregation_NoWriteOnNonPositiveIncrement(t *testing.T) {
	tests := []struct {
		name    string
		current int64
	}{
		{"counter decreased", 90},
		{"no new views", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.subjects = []int64{3}
			store.counters[3] = tt.current
			store.setView(3, day("2026-10-14"), 100)

			result := newTestAggregator(store).RunDailyAggregation(context.Background(), day("2026-10-15"))

			assert.Equal(t, 0, result.Written)
			assert.Equal(t, 1, result.Unchanged)
			assert.Equal(t, 0, store.upserts)
			_, exists := store.views[3][day("2026-10-15")]
			assert.False(t, exists)
			assert.Equal(t, int64(100), store.views[3][day("2026-10-14")], "history is never corrected downward")
		})
	}
}

func TestRunDailyAggregation_TodayRowExcludedFromHistory(t *testing.T) {
	store := newMemStore()
	store.subjects = []int64{5}
	store.counters[5] = 30
	store.setView(5, day("2026-10-14"), 10)
	store.setView(5, day("2026-10-15"), 8)

	newTestAggregator(store).RunDailyAggregation(context.Background(), day("2026-10-15"))

	assert.Equal(t, int64(20), store.views[5][day("2026-10-15")])
}

func TestRunDailyAggregation_FailureIsolation(t *testing.T) {
	store := newMemStore()
	store.subjects = []int64{1, 2, 3, 4}
	for _, id := range store.subjects {
		store.counters[id] = 10
	}
	store.failCounter[1] = errors.New("redis timeout")
	store.failHistorical[2] = errors.New("replica gone")
	store.failUpsert[3] = errors.New("deadlock detected")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	agg := NewAggregator(store, store, store, observability.NopLogger(), metrics)

	result := agg.RunDailyAggregation(context.Background(), day("2026-10-15"))

	assert.Equal(t, 4, result.Subjects)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, int64(10), store.views[4][day("2026-10-15")])
	require.Error(t, result.Err())
	assert.Contains(t, result.Err().Error(), "3 of 4")

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.SubjectsTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SubjectsTotal.WithLabelValues(OutcomeWritten)))
}

func TestRunDailyAggregation_ListFailure(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("connection refused")

	result := newTestAggregator(store).RunDailyAggregation(context.Background(), day("2026-10-15"))

	assert.Equal(t, 0, result.Subjects)
	require.Error(t, result.Err())
	assert.Contains(t, result.Err().Error(), "connection refused")
}

func TestRunDailyAggregation_MissingCounterReadsZero(t *testing.T) {
	store := newMemStore()
	store.subjects = []int64{9}

	result := newTestAggregator(store).RunDailyAggregation(context.Background(), day("2026-10-15"))

	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 0, store.upserts)
}

func TestRunDailyAggregation_SummaryLog(t *testing.T) {
	var buf bytes.Buffer
	store := newMemStore()
	store.subjects = []int64{1, 2}
	store.counters[1] = 4

	agg := NewAggregator(store, store, store, observability.NewLogger(observability.InfoLevel, &buf), nil)
	agg.RunDailyAggregation(context.Background(), day("2026-10-15"))

	out := buf.String()
	assert.True(t, strings.Contains(out, "Aggregated daily views for 1 link pages"), out)
	assert.Contains(t, out, `"stat_date":"2026-10-15"`)
}
