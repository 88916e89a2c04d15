package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/storage/postgres"
)

// Job names, also used as metric labels and lock names
const (
	JobAggregateViews = "aggregate-views"
	JobRollupClicks   = "rollup-clicks"
	JobPrune          = "prune"
)

// Default schedules. Views are aggregated just before midnight so each run
// files the day's views under that same day; the roll-up and prune run
// once the day is complete.
const (
	DefaultAggregateSchedule   = "55 23 * * *"
	DefaultClickRollupSchedule = "15 0 * * *"
	DefaultPruneSchedule       = "30 0 * * *"
)

// DefaultLockTTL bounds how long a crashed instance can hold a job lock
const DefaultLockTTL = 30 * time.Minute

// ErrUnknownJob is returned by RunOnce for an unregistered job name
var ErrUnknownJob = errors.New("unknown job")

// ErrNotToday is returned by RunOnce when a job that only reconciles the
// current day is given another day. The view increment is measured against
// the live counter, so a past day would absorb every later day's views.
var ErrNotToday = errors.New("job only runs for the current day")

// Locker serializes job runs across instances
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// Config holds the schedules and run inputs of the daily jobs
type Config struct {
	Location            *time.Location
	RetentionDays       int
	AggregateSchedule   string
	PruneSchedule       string
	ClickRollupSchedule string
	ClickRollupEnabled  bool
	LockTTL             time.Duration
}

type job struct {
	name      string
	schedule  string
	// todayOnly jobs reject an explicit run day other than today
	todayOnly bool
	run       func(ctx context.Context, run analytics.RunConfig) error
}

// Scheduler runs the view aggregation, click roll-up and prune jobs on
// their cron schedules
type Scheduler struct {
	config  Config
	cron    *cron.Cron
	jobs    map[string]job
	locker  Locker
	now     analytics.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. rollup may be nil when click roll-up is disabled.
func New(config Config, aggregator *analytics.Aggregator, rollup *analytics.ClickRollup, pruner *analytics.Pruner, logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	cronLogger := observability.NewCronLogger(logger)
	s := &Scheduler{
		config: config,
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		jobs:    make(map[string]job),
		now:     time.Now,
		logger:  logger.WithField("component", "scheduler"),
		metrics: metrics,
	}
	if otelMetrics, err := observability.NewOTelMetrics(); err != nil {
		s.logger.WithError(err).Warn("Failed to create OpenTelemetry job metrics")
	} else {
		s.otel = otelMetrics
	}

	s.jobs[JobAggregateViews] = job{
		name:      JobAggregateViews,
		schedule:  config.AggregateSchedule,
		todayOnly: true,
		run: func(ctx context.Context, run analytics.RunConfig) error {
			return aggregator.RunDailyAggregation(ctx, run.Today).Err()
		},
	}
	if config.ClickRollupEnabled && rollup != nil {
		s.jobs[JobRollupClicks] = job{
			name:     JobRollupClicks,
			schedule: config.ClickRollupSchedule,
			run: func(ctx context.Context, run analytics.RunConfig) error {
				// Roll up the last complete day
				_, err := rollup.AggregateDailyClicks(ctx, run.Yesterday())
				return err
			},
		}
	}
	s.jobs[JobPrune] = job{
		name:     JobPrune,
		schedule: config.PruneSchedule,
		run: func(ctx context.Context, run analytics.RunConfig) error {
			return pruner.PruneOlderThan(ctx, run.RetentionDays, run.Today).Err()
		},
	}

	return s
}

// WithClock overrides the time source used to compute the run day
func (s *Scheduler) WithClock(now analytics.Clock) *Scheduler {
	s.now = now
	return s
}

// WithLocker makes every run take a named lock first; runs whose lock is
// held elsewhere are skipped
func (s *Scheduler) WithLocker(locker Locker) *Scheduler {
	s.locker = locker
	return s
}

// Jobs returns the registered job names
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start registers every job with cron and starts it. Job runs use a context
// derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	for _, name := range s.Jobs() {
		j := s.jobs[name]
		if _, err := s.cron.AddFunc(j.schedule, func() { s.runScheduled(j) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		s.logger.WithField("job", j.name).WithField("schedule", j.schedule).Info("Scheduled job")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.WithField("timezone", s.config.Location.String()).Info("Scheduler started")
	return nil
}

// Stop stops scheduling new runs and cancels running ones. The returned
// context is done once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	return done
}

// RunOnce runs a job immediately. A zero day means today in the scheduler's
// timezone; otherwise day is used as the run day, which backfills that day.
// The view aggregation only accepts today.
func (s *Scheduler) RunOnce(ctx context.Context, name string, day time.Time) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q (have %v)", ErrUnknownJob, name, s.Jobs())
	}

	run := s.runConfig()
	if !day.IsZero() {
		day = analytics.DayOf(day)
		if j.todayOnly && !day.Equal(run.Today) {
			return fmt.Errorf("%w: %s was asked for %s, today is %s",
				ErrNotToday, name, analytics.FormatDay(day), analytics.FormatDay(run.Today))
		}
		run.Today = day
	}
	return s.execute(ctx, j, run)
}

func (s *Scheduler) runScheduled(j job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	// Failures are logged and counted by execute
	_ = s.execute(ctx, j, s.runConfig())
}

func (s *Scheduler) runConfig() analytics.RunConfig {
	return analytics.NewRunConfig(s.now(), s.config.Location, s.config.RetentionDays)
}

// execute runs one job under its lock, recording duration and outcome
func (s *Scheduler) execute(ctx context.Context, j job, run analytics.RunConfig) (err error) {
	log := s.logger.WithField("job", j.name).WithField("run_day", analytics.FormatDay(run.Today))

	if s.locker != nil {
		release, lockErr := s.locker.AcquireLock(ctx, j.name, s.config.LockTTL)
		switch {
		case errors.Is(lockErr, postgres.ErrLockHeld):
			log.Info("Job is running on another instance, skipping")
			return nil
		case lockErr != nil:
			// Jobs are idempotent; run without the lock
			log.WithError(lockErr).Warn("Failed to acquire job lock, running unlocked")
		default:
			defer release()
		}
	}

	ctx, span := observability.Tracer().Start(ctx, "job "+j.name)
	span.SetAttributes(
		attribute.String("linkstats.job", j.name),
		attribute.String("linkstats.run_day", analytics.FormatDay(run.Today)),
	)
	log = observability.WithTraceContext(ctx, log)

	start := time.Now()
	defer func() {
		if perr := observability.RecoverToError(log, j.name, recover()); perr != nil {
			err = perr
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job failed")
		}
		span.End()
		s.metrics.ObserveJob(j.name, err, time.Since(start))
		s.otel.RecordJob(ctx, j.name, err, time.Since(start))
	}()

	log.Info("Starting job")
	err = j.run(ctx, run)
	if err != nil {
		log.WithError(err).Warn("Job finished with errors")
		return err
	}
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Job finished")
	return nil
}
