package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/linkstats/pkg/observability"
)

// Subject outcomes reported to metrics
const (
	OutcomeWritten   = "written"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Aggregator turns the lifetime view counter of each link page into a
// series of daily increments.
type Aggregator struct {
	subjects SubjectLister
	counters CounterReader
	stats    ViewStatStore
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAggregator creates a new aggregator. metrics may be nil.
func NewAggregator(subjects SubjectLister, counters CounterReader, stats ViewStatStore, logger *observability.Logger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Aggregator{
		subjects: subjects,
		counters: counters,
		stats:    stats,
		logger:   logger.WithField("job", "aggregate-views"),
		metrics:  metrics,
	}
}

// AggregationResult summarizes one aggregation run
type AggregationResult struct {
	Day       time.Time
	Subjects  int
	Written   int
	Unchanged int
	Failed    int

	listErr error
}

// Err reports whether the run was incomplete. Per-subject failures never stop
// a run; this exists so the scheduler can label the run in metrics.
func (r AggregationResult) Err() error {
	if r.listErr != nil {
		return fmt.Errorf("list link pages: %w", r.listErr)
	}
	if r.Failed > 0 {
		return fmt.Errorf("%d of %d link pages failed to aggregate", r.Failed, r.Subjects)
	}
	return nil
}

// RunDailyAggregation computes today's view increment for every link page.
//
// For each page the increment is the lifetime counter minus the sum of all
// daily rows before today. A positive increment replaces today's row; zero or
// negative increments write nothing, so a counter that went backwards is
// left unreconciled. Re-running on the same day with an unchanged counter
// yields the same row.
func (a *Aggregator) RunDailyAggregation(ctx context.Context, today time.Time) AggregationResult {
	today = DayOf(today)
	result := AggregationResult{Day: today}
	log := a.logger.WithField("stat_date", FormatDay(today))

	ids, err := a.subjects.ListSubjects(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list link pages for daily view aggregation")
		result.listErr = err
		return result
	}
	result.Subjects = len(ids)

	for _, id := range ids {
		written, err := a.aggregateSubject(ctx, id, today)
		switch {
		case err != nil:
			result.Failed++
			a.metrics.ObserveSubject(OutcomeFailed)
			log.WithField("subject_id", id).WithError(err).Error("Daily view aggregation failed for link page")
		case written:
			result.Written++
			a.metrics.ObserveSubject(OutcomeWritten)
		default:
			result.Unchanged++
			a.metrics.ObserveSubject(OutcomeUnchanged)
		}
	}

	log.WithFields(map[string]interface{}{
		"subjects":  result.Subjects,
		"unchanged": result.Unchanged,
		"failed":    result.Failed,
	}).Infof("Aggregated daily views for %d link pages", result.Written)

	return result
}

func (a *Aggregator) aggregateSubject(ctx context.Context, id int64, today time.Time) (bool, error) {
	current, err := a.counters.CurrentTotal(ctx, id)
	if err != nil {
		return false, fmt.Errorf("read view counter: %w", err)
	}

	historical, err := a.stats.HistoricalViews(ctx, id, today)
	if err != nil {
		return false, fmt.Errorf("sum historical views: %w", err)
	}

	increment := current - historical
	if increment <= 0 {
		if increment < 0 {
			a.logger.WithFields(map[string]interface{}{
				"subject_id": id,
				"current":    current,
				"historical": historical,
			}).Debug("View counter below historical total, skipping")
		}
		return false, nil
	}

	if err := a.stats.UpsertDailyViews(ctx, id, today, increment); err != nil {
		return false, fmt.Errorf("upsert daily views: %w", err)
	}
	return true, nil
}
