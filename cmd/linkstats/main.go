package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/api"
	"github.com/platinummonkey/linkstats/pkg/config"
	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/pixel"
	"github.com/platinummonkey/linkstats/pkg/storage/postgres"
)

// version is set at build time
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.Level(), cfg.Observability.Format(), os.Stdout).
		WithField("service", "linkstats").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
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

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel("linkstats", version), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	loc := cfg.Analytics.Location()
	backend, err := postgres.OpenBackend(cfg.Storage, loc, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	if _, err := postgres.EnsureSchema(ctx, backend.Conns.Primary(), logger); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	// Stats reads go through Redis when it is available
	var stats analytics.StatsReader = backend.Stats
	if backend.Redis != nil {
		stats = postgres.NewRedisCache(backend.Stats, backend.Redis.GetClient(), cfg.Storage.CacheTTL, metrics)
	}

	handlers := api.NewHandlers(
		analytics.NewEventTracker(backend.Clicks, backend.Counters, metrics),
		analytics.NewService(stats, loc),
		pixel.NewService(backend.Pixels, cfg.Storage.CacheSize, cfg.Storage.CacheTTL, metrics),
		logger,
	).WithTrustedProxy(cfg.Server.TrustProxyHeaders)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(api.NewRouter(handlers, logger, metrics), "linkstats-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           api.NewHealthRouter(backend.HealthChecker(version), registry),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("health-server", healthServer.Shutdown)
	shutdown.Register("api-server", apiServer.Shutdown)

	backend.StartHealthCheckRoutine(ctx, 30*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, "API", logger) })
	g.Go(func() error { return serve(healthServer, "Health", logger) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		return shutdown.Shutdown()
	})

	return g.Wait()
}

func serve(server *http.Server, name string, logger *observability.Logger) error {
	logger.Infof("%s server listening on %s", name, server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
