// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// export, and health checks.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("job", "aggregate-views").Infof("Aggregated daily views for %d link pages", n)
//
// The logger also satisfies robfig/cron's Logger through NewCronLogger.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveJob("prune", err, time.Since(start))
//
// A nil *Metrics is accepted everywhere and records nothing, which keeps
// unit tests free of registry plumbing.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "localhost:4317",
//		ServiceName: "linkstats-aggregator",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(context.Background(), providers, logger)
//
// Spans are started from Tracer(). WithTraceContext adds trace_id and
// span_id to a logger.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// redisClient is any Pinger. A failing Pinger degrades readiness; a failing
// database makes it unhealthy.
package observability
