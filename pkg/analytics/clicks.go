package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/linkstats/pkg/observability"
)

// ClickRollup folds raw click events into the daily per-URL click series.
// A day is recomputed from its events on every run, so re-running it
// replaces rather than adds.
type ClickRollup struct {
	store  ClickRollupStore
	logger *observability.Logger
}

// NewClickRollup creates a click roll-up job
func NewClickRollup(store ClickRollupStore, logger *observability.Logger) *ClickRollup {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ClickRollup{
		store:  store,
		logger: logger.WithField("job", "rollup-clicks"),
	}
}

// AggregateDailyClicks recomputes the click series for one calendar day and
// returns the number of (link page, url) rows written
func (c *ClickRollup) AggregateDailyClicks(ctx context.Context, day time.Time) (int64, error) {
	day = DayOf(day)
	log := c.logger.WithField("stat_date", FormatDay(day))

	rows, err := c.store.RollupDailyClicks(ctx, day)
	if err != nil {
		log.WithError(err).Error("Error rolling up daily link clicks")
		return 0, fmt.Errorf("rollup clicks for %s: %w", FormatDay(day), err)
	}

	log.WithField("rows", rows).Infof("Rolled up daily link clicks into %d rows", rows)
	return rows, nil
}
