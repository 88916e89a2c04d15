package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/linkstats/pkg/analytics"
)

// Counter backends
const (
	CounterBackendRedis    = "redis"
	CounterBackendPostgres = "postgres"
)

// CounterStore is the cumulative view counter. Both the aggregation (read)
// and the view endpoint (increment) use it.
type CounterStore interface {
	analytics.CounterReader
	analytics.CounterIncrementer
}

// StatStore is the daily series store the jobs and the stats endpoints use
type StatStore interface {
	analytics.SubjectLister
	analytics.ViewStatStore
	analytics.ClickRollupStore
	analytics.StatsReader

	DeleteViewsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteClicksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PixelStore persists the Meta Pixel ID of a link page
type PixelStore interface {
	GetPixelID(ctx context.Context, subjectID int64) (string, error)
	SetPixelID(ctx context.Context, subjectID int64, pixelID string) error
}

// Config for storage backend
type Config struct {
	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs []string      `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`
	PostgresMaxLifetime time.Duration `yaml:"postgres_max_lifetime"`
	PostgresMaxIdleTime time.Duration `yaml:"postgres_max_idle_time"`

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// CounterBackend selects where the cumulative view counters live
	CounterBackend string `yaml:"counter_backend"`

	// Pixel settings cache
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		CounterBackend:      CounterBackendPostgres,
		CacheSize:           1024,
		CacheTTL:            5 * time.Minute,
	}
}

// Validate checks the storage settings
func (c Config) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres url is required")
	}
	if c.PostgresMaxConns <= 0 {
		return fmt.Errorf("postgres max conns must be positive")
	}
	if c.PostgresMinConns > c.PostgresMaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.PostgresMinConns, c.PostgresMaxConns)
	}
	switch c.CounterBackend {
	case CounterBackendPostgres:
	case CounterBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis counter backend")
		}
	default:
		return fmt.Errorf("unknown counter backend %q", c.CounterBackend)
	}
	return nil
}
