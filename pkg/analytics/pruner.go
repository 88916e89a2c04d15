package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/linkstats/pkg/observability"
)

// PruneTarget is one table the retention pruner deletes from
type PruneTarget struct {
	Table string
	// DeleteBefore removes rows with stat_date strictly before cutoff and
	// returns how many were deleted
	DeleteBefore func(ctx context.Context, cutoff time.Time) (int64, error)
}

// TablePruneResult is the outcome for one table
type TablePruneResult struct {
	Table   string
	Deleted int64
	Err     error
}

// PruneResult summarizes one pruning run
type PruneResult struct {
	Cutoff time.Time
	Tables []TablePruneResult
}

// Deleted returns the deleted-row count for table
func (r PruneResult) Deleted(table string) int64 {
	for _, t := range r.Tables {
		if t.Table == table {
			return t.Deleted
		}
	}
	return 0
}

// Err joins the per-table failures
func (r PruneResult) Err() error {
	var errs []error
	for _, t := range r.Tables {
		if t.Err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", t.Table, t.Err))
		}
	}
	return errors.Join(errs...)
}

// Pruner deletes daily rows that fell out of the retention window
type Pruner struct {
	targets []PruneTarget
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPruner creates a pruner over the given tables. Tables are pruned in order.
func NewPruner(logger *observability.Logger, metrics *observability.Metrics, targets ...PruneTarget) *Pruner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Pruner{
		targets: targets,
		logger:  logger.WithField("job", "prune"),
		metrics: metrics,
	}
}

// PruneOlderThan deletes rows with stat_date before today minus cutoffDays.
// Each table is deleted independently: a failure on one is logged and the
// next table is still attempted. There is no transaction across tables.
func (p *Pruner) PruneOlderThan(ctx context.Context, cutoffDays int, today time.Time) PruneResult {
	cutoff := RetentionCutoff(today, cutoffDays)
	result := PruneResult{
		Cutoff: cutoff,
		Tables: make([]TablePruneResult, 0, len(p.targets)),
	}

	for _, target := range p.targets {
		log := p.logger.WithFields(map[string]interface{}{
			"table":  target.Table,
			"cutoff": FormatDay(cutoff),
		})

		deleted, err := target.DeleteBefore(ctx, cutoff)
		p.metrics.ObservePrune(target.Table, deleted, err)
		if err != nil {
			log.WithError(err).Errorf("Error pruning %s", target.Table)
			result.Tables = append(result.Tables, TablePruneResult{Table: target.Table, Err: err})
			continue
		}

		log.WithField("deleted", deleted).Infof("Pruned %d rows from %s", deleted, target.Table)
		result.Tables = append(result.Tables, TablePruneResult{Table: target.Table, Deleted: deleted})
	}

	return result
}
