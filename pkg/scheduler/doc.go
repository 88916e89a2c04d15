// Package scheduler runs the daily analytics jobs on cron schedules.
//
// Three jobs are registered:
//
//	aggregate-views  daily view increments for the run day
//	rollup-clicks    per-URL click counts for the day before the run day
//	prune            delete daily rows older than the retention window
//
// The run day is computed from an injectable clock in the configured
// timezone and handed to each job as an analytics.RunConfig. Runs are
// wrapped in panic recovery, overlap protection (cron.SkipIfStillRunning)
// and, when a Locker is set, a cross-instance lock.
//
//	s := scheduler.New(cfg, aggregator, rollup, pruner, logger, metrics).
//		WithLocker(redisClient)
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	defer func() { <-s.Stop().Done() }()
//
// RunOnce runs a single job immediately, which is how backfills work:
//
//	err := s.RunOnce(ctx, scheduler.JobRollupClicks, day)
//
// The view aggregation cannot be backfilled. Its increment is the live
// counter minus the history before the run day, so it only runs for today
// and RunOnce returns ErrNotToday for any other day.
package scheduler
