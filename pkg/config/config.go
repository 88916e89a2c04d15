package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/scheduler"
	"github.com/platinummonkey/linkstats/pkg/storage"
	"github.com/platinummonkey/linkstats/pkg/storage/postgres"
)

// ConfigFileEnv names the optional YAML file loaded before the environment
const ConfigFileEnv = "LINKSTATS_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Analytics job configuration
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server on its own port for k8s liveness and readiness checks
	HealthPort string `yaml:"health_port"`

	// Take client addresses from X-Forwarded-For / X-Real-IP. Only safe
	// behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// AnalyticsConfig holds the schedules and retention of the daily jobs.
// Schedules are standard five-field cron expressions evaluated in Timezone.
type AnalyticsConfig struct {
	RetentionDays       int    `yaml:"retention_days"`
	Timezone            string `yaml:"timezone"`
	AggregateSchedule   string `yaml:"aggregate_schedule"`
	PruneSchedule       string `yaml:"prune_schedule"`
	ClickRollupSchedule string `yaml:"click_rollup_schedule"`
	ClickRollupEnabled  bool   `yaml:"click_rollup_enabled"`
}

// Location resolves Timezone; callers run Validate first
func (a AnalyticsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// OpenTelemetry OTLP/gRPC export
	OTelEnabled     bool    `yaml:"otel_enabled"`
	OTelEndpoint    string  `yaml:"otel_endpoint"`
	OTelInsecure    bool    `yaml:"otel_insecure"`
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the OpenTelemetry settings for a service
func (o ObservabilityConfig) OTel(serviceName, version string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Format returns the log handler format
func (o ObservabilityConfig) Format() observability.LogFormat {
	if strings.ToLower(o.LogFormat) == string(observability.TextFormat) {
		return observability.TextFormat
	}
	return observability.JSONFormat
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Analytics: AnalyticsConfig{
			RetentionDays:       analytics.DefaultRetentionDays,
			Timezone:            "UTC",
			AggregateSchedule:   scheduler.DefaultAggregateSchedule,
			PruneSchedule:       scheduler.DefaultPruneSchedule,
			ClickRollupSchedule: scheduler.DefaultClickRollupSchedule,
			ClickRollupEnabled:  true,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      string(observability.JSONFormat),
			MetricsEnabled: true,
			OTelEndpoint:   "localhost:4317",
			OTelInsecure:   true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by LINKSTATS_CONFIG_FILE, and LINKSTATS_* environment variables, in
// that order of precedence (environment wins).
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv(ConfigFileEnv, ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file onto cfg; keys missing from the file keep
// their current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.applyServerEnv()
	c.applyStorageEnv()
	c.applyAnalyticsEnv()
	c.applyObservabilityEnv()
}

func (c *Config) applyServerEnv() {
	s := &c.Server
	s.Host = getEnv("LINKSTATS_HOST", s.Host)
	s.Port = getEnv("LINKSTATS_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("LINKSTATS_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("LINKSTATS_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("LINKSTATS_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("LINKSTATS_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("LINKSTATS_HEALTH_PORT", s.HealthPort)
	s.TrustProxyHeaders = getEnvBool("LINKSTATS_TRUST_PROXY_HEADERS", s.TrustProxyHeaders)
}

func (c *Config) applyStorageEnv() {
	cfg := &c.Storage

	// PostgreSQL config
	cfg.PostgresURL = getEnv("LINKSTATS_POSTGRES_URL", cfg.PostgresURL)
	if replicaURLs := getEnv("LINKSTATS_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = postgres.ParseReplicaURLs(replicaURLs)
	}
	if maxConns := getEnvInt("LINKSTATS_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("LINKSTATS_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("LINKSTATS_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("LINKSTATS_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("LINKSTATS_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("LINKSTATS_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("LINKSTATS_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("LINKSTATS_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	cfg.CounterBackend = strings.ToLower(getEnv("LINKSTATS_COUNTER_BACKEND", cfg.CounterBackend))

	// Cache config
	if cacheSize := getEnvInt("LINKSTATS_CACHE_SIZE", 0); cacheSize > 0 {
		cfg.CacheSize = cacheSize
	}
	if cacheTTL := getEnvDuration("LINKSTATS_CACHE_TTL", 0); cacheTTL > 0 {
		cfg.CacheTTL = cacheTTL
	}
}

func (c *Config) applyAnalyticsEnv() {
	a := &c.Analytics
	a.RetentionDays = getEnvInt("LINKSTATS_RETENTION_DAYS", a.RetentionDays)
	a.Timezone = getEnv("LINKSTATS_TIMEZONE", a.Timezone)
	a.AggregateSchedule = getEnv("LINKSTATS_AGGREGATE_SCHEDULE", a.AggregateSchedule)
	a.PruneSchedule = getEnv("LINKSTATS_PRUNE_SCHEDULE", a.PruneSchedule)
	a.ClickRollupSchedule = getEnv("LINKSTATS_CLICK_ROLLUP_SCHEDULE", a.ClickRollupSchedule)
	a.ClickRollupEnabled = getEnvBool("LINKSTATS_CLICK_ROLLUP_ENABLED", a.ClickRollupEnabled)
}

func (c *Config) applyObservabilityEnv() {
	o := &c.Observability
	o.LogLevel = getEnv("LINKSTATS_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("LINKSTATS_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("LINKSTATS_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("LINKSTATS_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("LINKSTATS_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelInsecure = getEnvBool("LINKSTATS_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("LINKSTATS_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	// Validate analytics config
	a := c.Analytics
	if a.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", a.RetentionDays)
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", a.Timezone, err)
	}
	schedules := map[string]string{
		"aggregate schedule": a.AggregateSchedule,
		"prune schedule":     a.PruneSchedule,
	}
	if a.ClickRollupEnabled {
		schedules["click rollup schedule"] = a.ClickRollupSchedule
	}
	for name, spec := range schedules {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	switch strings.ToLower(c.Observability.LogFormat) {
	case "", string(observability.JSONFormat), string(observability.TextFormat):
	default:
		return fmt.Errorf("invalid log format %q (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("otel endpoint is required when otel is enabled")
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("otel sample ratio must be between 0 and 1, got %v", r)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
