// Package analytics provides view and click analytics for link pages.
//
// # Overview
//
// Page views are counted in a lifetime counter per link page. Once a day the
// Aggregator converts that counter into a daily series:
//
//	increment = lifetime counter - sum(daily rows before today)
//
// A positive increment replaces today's row. Running the aggregation again on
// the same day with no new views produces the same row, so duplicate or
// overlapping runs converge.
//
// Clicks are recorded one event at a time by the EventTracker and rolled up
// per (link page, url, day) by ClickRollup.
//
// The Pruner deletes daily rows older than the retention window (90 days by
// default), one table at a time.
//
// # Usage Example
//
//	agg := analytics.NewAggregator(store, counters, store, logger, metrics)
//	today := analytics.Today(time.Now(), loc)
//	result := agg.RunDailyAggregation(ctx, today)
//
//	pruner := analytics.NewPruner(logger, metrics,
//		analytics.PruneTarget{Table: "link_page_daily_views", DeleteBefore: store.DeleteViewsBefore},
//		analytics.PruneTarget{Table: "link_page_daily_link_clicks", DeleteBefore: store.DeleteClicksBefore},
//	)
//	pruner.PruneOlderThan(ctx, 90, today)
//
// Neither job returns errors to its caller: failures are logged and counted,
// and the remaining work continues.
//
// # Related Packages
//
//   - pkg/storage/postgres: SQL and Redis implementations of the store interfaces
//   - pkg/scheduler: daily cron wiring
package analytics
