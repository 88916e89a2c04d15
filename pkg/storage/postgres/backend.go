package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/storage"
)

// Backend bundles the stores the API server and the aggregator share
type Backend struct {
	Conns    *ConnectionManager
	Redis    *RedisClient // nil when no Redis URL is configured
	Stats    *StatStore
	Counters storage.CounterStore
	Clicks   *ClickEventStore
	Pixels   *PixelStore

	logger  *observability.Logger
	metrics *observability.Metrics
}

// OpenBackend connects to PostgreSQL and, when configured, Redis. Day
// windows of the click roll-up are computed in loc.
func OpenBackend(cfg storage.Config, loc *time.Location, logger *observability.Logger, metrics *observability.Metrics) (*Backend, error) {
	conns, err := NewConnectionManager(ConnectionConfigFrom(cfg), logger)
	if err != nil {
		return nil, err
	}
	conns.WithMetrics(metrics)

	if logger == nil {
		logger = observability.NopLogger()
	}
	b := &Backend{Conns: conns, logger: logger, metrics: metrics}
	if cfg.RedisURL != "" {
		b.Redis, err = NewRedisClient(cfg)
		if err != nil {
			conns.Close()
			return nil, err
		}
	}

	b.Counters, err = NewCounterStore(cfg.CounterBackend, conns.Primary(), b.Redis)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Stats = NewStatStore(conns, loc)
	b.Clicks = NewClickEventStore(conns.Primary())
	b.Pixels = NewPixelStore(conns)
	return b, nil
}

// NewCounterStore picks the cumulative view counter implementation
func NewCounterStore(backend string, db *sql.DB, redis *RedisClient) (storage.CounterStore, error) {
	switch backend {
	case storage.CounterBackendRedis:
		if redis == nil {
			return nil, fmt.Errorf("counter backend %q requires a redis url", backend)
		}
		return redis, nil
	case storage.CounterBackendPostgres, "":
		return NewPostgresCounters(db), nil
	default:
		return nil, fmt.Errorf("unknown counter backend %q", backend)
	}
}

// HealthChecker builds the readiness checker over the primary pool and, when
// configured, Redis.
func (b *Backend) HealthChecker(version string) *observability.HealthChecker {
	if b.Redis == nil {
		return observability.NewHealthChecker(b.Conns.Primary(), nil, version)
	}
	return observability.NewHealthChecker(b.Conns.Primary(), b.Redis, version)
}

// PublishRedisStats copies the Redis pool statistics into the metrics
func (b *Backend) PublishRedisStats() {
	if b.Redis == nil {
		return
	}
	b.metrics.UpdateRedisPoolStats(b.Redis.GetPoolStats())
}

// StartHealthCheckRoutine runs the database health routine and publishes
// Redis pool statistics every interval until ctx is done.
func (b *Backend) StartHealthCheckRoutine(ctx context.Context, interval time.Duration) {
	b.Conns.StartHealthCheckRoutine(ctx, interval)
	if b.Redis == nil {
		return
	}
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(b.logger, "redis pool stats")

		for {
			select {
			case <-ticker.C:
				b.PublishRedisStats()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes Redis and every database pool
func (b *Backend) Close() error {
	var errs []error
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if b.Conns != nil {
		if err := b.Conns.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}
