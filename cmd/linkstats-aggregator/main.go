package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/api"
	"github.com/platinummonkey/linkstats/pkg/config"
	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/scheduler"
	"github.com/platinummonkey/linkstats/pkg/storage/postgres"
)

// version is set at build time
var version = "dev"

var (
	runOnce = flag.Bool("run-once", false, "Run the jobs once and exit (for backfills and testing)")
	jobName = flag.String("job", "", "Job to run with -run-once: aggregate-views, rollup-clicks or prune (default: all)")
	runDate = flag.String("date", "", "Run day (YYYY-MM-DD) for -run-once. If empty, uses today in the configured timezone. aggregate-views only accepts today")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.Level(), cfg.Observability.Format(), os.Stdout).
		WithField("service", "linkstats-aggregator").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Aggregator exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel("linkstats-aggregator", version), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	defer func() {
		if err := shutdown.Shutdown(); err != nil {
			logger.WithError(err).Error("Shutdown finished with errors")
		}
	}()

	loc := cfg.Analytics.Location()
	backend, err := postgres.OpenBackend(cfg.Storage, loc, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	shutdown.Register("storage", func(context.Context) error { return backend.Close() })

	if _, err := postgres.EnsureSchema(ctx, backend.Conns.Primary(), logger); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	aggregator := analytics.NewAggregator(backend.Stats, backend.Counters, backend.Stats, logger, metrics)
	rollup := analytics.NewClickRollup(backend.Stats, logger)
	pruner := analytics.NewPruner(logger, metrics,
		analytics.PruneTarget{Table: postgres.DailyViewsTable, DeleteBefore: backend.Stats.DeleteViewsBefore},
		analytics.PruneTarget{Table: postgres.DailyClicksTable, DeleteBefore: backend.Stats.DeleteClicksBefore},
	)

	sched := scheduler.New(scheduler.Config{
		Location:            loc,
		RetentionDays:       cfg.Analytics.RetentionDays,
		AggregateSchedule:   cfg.Analytics.AggregateSchedule,
		PruneSchedule:       cfg.Analytics.PruneSchedule,
		ClickRollupSchedule: cfg.Analytics.ClickRollupSchedule,
		ClickRollupEnabled:  cfg.Analytics.ClickRollupEnabled,
	}, aggregator, rollup, pruner, logger, metrics)
	if backend.Redis != nil {
		sched.WithLocker(backend.Redis)
	}

	if *runOnce {
		return runJobsOnce(ctx, sched, logger)
	}

	// Health and metrics server
	checker := backend.HealthChecker(version)
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           api.NewHealthRouter(checker, registry),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
			stop()
		}
	}()
	shutdown.Register("health-server", healthServer.Shutdown)

	backend.StartHealthCheckRoutine(ctx, 30*time.Second)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("jobs still running: %w", ctx.Err())
		}
	})
	logger.Info("Link page analytics aggregator started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	return nil
}

// runJobsOnce runs -job (or every job in order) for -date
func runJobsOnce(ctx context.Context, sched *scheduler.Scheduler, logger *observability.Logger) error {
	var day time.Time
	if *runDate != "" {
		var err error
		day, err = analytics.ParseDay(*runDate)
		if err != nil {
			return err
		}
	}

	jobs := []string{scheduler.JobAggregateViews, scheduler.JobRollupClicks, scheduler.JobPrune}
	if *jobName != "" {
		jobs = []string{*jobName}
	}

	var errs []error
	for _, name := range jobs {
		err := sched.RunOnce(ctx, name, day)
		if errors.Is(err, scheduler.ErrUnknownJob) && *jobName == "" {
			// Optional job that is disabled
			continue
		}
		if errors.Is(err, scheduler.ErrNotToday) && *jobName == "" {
			logger.WithField("job", name).Warn("Skipping job that only runs for today")
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("Run-once completed successfully")
	return nil
}
