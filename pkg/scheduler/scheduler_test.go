package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/storage"
	"github.com/platinummonkey/linkstats/pkg/storage/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeStore records the days each job was asked to process
type fakeStore struct {
	mu sync.Mutex

	subjects   []int64
	counters   map[int64]int64
	upserts    []time.Time
	rollups    []time.Time
	cutoffs    []time.Time
	panicOnGet bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{subjects: []int64{1}, counters: map[int64]int64{1: 10}}
}

func (f *fakeStore) ListSubjects(ctx context.Context) ([]int64, error) {
	return f.subjects, nil
}

func (f *fakeStore) CurrentTotal(ctx context.Context, id int64) (int64, error) {
	if f.panicOnGet {
		panic("counter store exploded")
	}
	return f.counters[id], nil
}

func (f *fakeStore) HistoricalViews(ctx context.Context, id int64, before time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStore) UpsertDailyViews(ctx context.Context, id int64, day time.Time, count int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, day)
	return nil
}

func (f *fakeStore) RollupDailyClicks(ctx context.Context, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollups = append(f.rollups, day)
	return 1, nil
}

func (f *fakeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, nil
}

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func day(s string) time.Time {
	d, err := analytics.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestScheduler(t *testing.T, store *fakeStore, config Config) (*Scheduler, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	aggregator := analytics.NewAggregator(store, store, store, nil, metrics)
	rollup := analytics.NewClickRollup(store, nil)
	pruner := analytics.NewPruner(nil, metrics, analytics.PruneTarget{Table: "daily_views", DeleteBefore: store.DeleteBefore})

	if config.AggregateSchedule == "" {
		config.AggregateSchedule = DefaultAggregateSchedule
	}
	if config.PruneSchedule == "" {
		config.PruneSchedule = DefaultPruneSchedule
	}
	if config.ClickRollupSchedule == "" {
		config.ClickRollupSchedule = DefaultClickRollupSchedule
	}
	s := New(config, aggregator, rollup, pruner, nil, metrics)
	s.WithClock(func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) })
	return s, metrics
}

func TestRunOnce_TodayInConfiguredTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	store := newFakeStore()
	s, metrics := newTestScheduler(t, store, Config{Location: ny, RetentionDays: 90})
	// 02:00 UTC on the 16th is still the 15th in New York
	s.WithClock(func() time.Time { return time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC) })

	require.NoError(t, s.RunOnce(context.Background(), JobAggregateViews, time.Time{}))

	require.Len(t, store.upserts, 1)
	assert.Equal(t, day("2026-10-15"), store.upserts[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(JobAggregateViews, "success")))
}

func TestRunOnce_Backfill(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestScheduler(t, store, Config{RetentionDays: 30, ClickRollupEnabled: true})
	ctx := context.Background()

	require.NoError(t, s.RunOnce(ctx, JobRollupClicks, day("2026-09-01")))
	require.NoError(t, s.RunOnce(ctx, JobPrune, day("2026-09-01")))

	assert.Equal(t, []time.Time{day("2026-08-31")}, store.rollups, "roll-up covers the last complete day")
	assert.Equal(t, []time.Time{day("2026-08-02")}, store.cutoffs)
}

func TestRunOnce_AggregateViewsRejectsPastDay(t *testing.T) {
	store := newFakeStore()
	s, metrics := newTestScheduler(t, store, Config{})
	ctx := context.Background()

	err := s.RunOnce(ctx, JobAggregateViews, day("2026-10-14"))
	require.ErrorIs(t, err, ErrNotToday)
	assert.Contains(t, err.Error(), "2026-10-14")
	assert.Empty(t, store.upserts, "a past day would absorb the views of every later day")
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(JobAggregateViews, "error")))

	// Naming today explicitly is the same as a zero day
	require.NoError(t, s.RunOnce(ctx, JobAggregateViews, day("2026-10-15")))
	assert.Equal(t, []time.Time{day("2026-10-15")}, store.upserts)
}

func TestRunOnce_AggregateViewsTodayFollowsTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	store := newFakeStore()
	s, _ := newTestScheduler(t, store, Config{Location: ny})
	// 02:00 UTC on the 16th is still the 15th in New York
	s.WithClock(func() time.Time { return time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC) })

	assert.ErrorIs(t, s.RunOnce(context.Background(), JobAggregateViews, day("2026-10-16")), ErrNotToday)
	require.NoError(t, s.RunOnce(context.Background(), JobAggregateViews, day("2026-10-15")))
	assert.Equal(t, []time.Time{day("2026-10-15")}, store.upserts)
}

func TestDefaultSchedules_ViewsAndClicksShareTheDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	aggregateAt, err := cron.ParseStandard(DefaultAggregateSchedule)
	require.NoError(t, err)
	rollupAt, err := cron.ParseStandard(DefaultClickRollupSchedule)
	require.NoError(t, err)

	store := newFakeStore()
	s, _ := newTestScheduler(t, store, Config{
		Location:            ny,
		AggregateSchedule:   DefaultAggregateSchedule,
		ClickRollupSchedule: DefaultClickRollupSchedule,
		ClickRollupEnabled:  true,
	})
	ctx := context.Background()

	// First aggregation after the morning of the 15th fires late on the 15th
	fire := aggregateAt.Next(time.Date(2026, 10, 15, 9, 0, 0, 0, ny))
	assert.Equal(t, 15, fire.In(ny).Day())
	s.WithClock(func() time.Time { return fire })
	require.NoError(t, s.RunOnce(ctx, JobAggregateViews, time.Time{}))

	// The next roll-up covers the same calendar day
	rollupFire := rollupAt.Next(fire)
	s.WithClock(func() time.Time { return rollupFire })
	require.NoError(t, s.RunOnce(ctx, JobRollupClicks, time.Time{}))

	assert.Equal(t, []time.Time{day("2026-10-15")}, store.upserts, "views seen on the 15th are filed under the 15th")
	assert.Equal(t, []time.Time{day("2026-10-15")}, store.rollups)
}

func TestRunOnce_DefaultRetention(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestScheduler(t, store, Config{})

	require.NoError(t, s.RunOnce(context.Background(), JobPrune, day("2026-10-15")))
	assert.Equal(t, []time.Time{day("2026-07-17")}, store.cutoffs)
}

func TestRunOnce_UnknownJob(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeStore(), Config{})

	err := s.RunOnce(context.Background(), JobRollupClicks, time.Time{})
	assert.ErrorIs(t, err, ErrUnknownJob, "roll-up is not registered when disabled")
	assert.Equal(t, []string{JobAggregateViews, JobPrune}, s.Jobs())
}

func TestRunOnce_PanicIsRecovered(t *testing.T) {
	store := newFakeStore()
	store.panicOnGet = true
	s, metrics := newTestScheduler(t, store, Config{})

	err := s.RunOnce(context.Background(), JobAggregateViews, day("2026-10-15"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(JobAggregateViews, "error")))
}

func setupLocker(t *testing.T) (*postgres.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := postgres.NewRedisClient(storage.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRunOnce_LockHeldSkips(t *testing.T) {
	locker, _ := setupLocker(t)
	store := newFakeStore()
	s, _ := newTestScheduler(t, store, Config{})
	s.WithLocker(locker)

	release, err := locker.AcquireLock(context.Background(), JobAggregateViews, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background(), JobAggregateViews, day("2026-10-15")))
	assert.Empty(t, store.upserts)

	release()
	require.NoError(t, s.RunOnce(context.Background(), JobAggregateViews, day("2026-10-15")))
	assert.Len(t, store.upserts, 1)
}

func TestRunOnce_LockReleased(t *testing.T) {
	locker, mr := setupLocker(t)
	s, _ := newTestScheduler(t, newFakeStore(), Config{})
	s.WithLocker(locker)

	require.NoError(t, s.RunOnce(context.Background(), JobPrune, day("2026-10-15")))
	assert.False(t, mr.Exists("linkstats:lock:"+JobPrune))
}

type brokenLocker struct{}

func (brokenLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	return nil, errors.New("connection refused")
}

func TestRunOnce_LockStoreDownStillRuns(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestScheduler(t, store, Config{})
	s.WithLocker(brokenLocker{})

	require.NoError(t, s.RunOnce(context.Background(), JobAggregateViews, day("2026-10-15")))
	assert.Len(t, store.upserts, 1)
}

func TestStart_RunsOnSchedule(t *testing.T) {
	store := newFakeStore()
	s, _ := newTestScheduler(t, store, Config{AggregateSchedule: "@every 1s"})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start is rejected")

	require.Eventually(t, func() bool { return store.upsertCount() > 0 }, 5*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}

func TestStart_InvalidSchedule(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeStore(), Config{PruneSchedule: "not a schedule"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to schedule prune")
}

func TestRunOnce_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	store := newFakeStore()
	store.panicOnGet = true
	s, _ := newTestScheduler(t, store, Config{Location: time.UTC, RetentionDays: 90})

	require.Error(t, s.RunOnce(context.Background(), JobAggregateViews, day("2026-10-15")))
	require.NoError(t, s.RunOnce(context.Background(), JobPrune, day("2026-10-15")))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "job "+JobAggregateViews, spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("linkstats.run_day", "2026-10-15"))
	assert.Equal(t, "job "+JobPrune, spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}
