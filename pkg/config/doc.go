// Package config provides application configuration management.
//
// # Overview
//
// Configuration is built in three layers, later layers winning:
//
//  1. defaults (Default)
//  2. an optional YAML file named by LINKSTATS_CONFIG_FILE
//  3. LINKSTATS_* environment variables
//
// # Environment
//
// Server settings:
//
//	LINKSTATS_HOST="0.0.0.0"
//	LINKSTATS_PORT="8080"
//	LINKSTATS_HEALTH_PORT="9090"
//	LINKSTATS_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	LINKSTATS_POSTGRES_URL="postgres://localhost/linkstats"
//	LINKSTATS_POSTGRES_REPLICA_URLS="postgres://replica1/linkstats,postgres://replica2/linkstats"
//	LINKSTATS_COUNTER_BACKEND="redis"  # redis, postgres
//	LINKSTATS_REDIS_URL="redis://localhost:6379"
//
// Analytics settings:
//
//	LINKSTATS_RETENTION_DAYS="90"
//	LINKSTATS_TIMEZONE="America/New_York"
//	LINKSTATS_AGGREGATE_SCHEDULE="55 23 * * *"
//	LINKSTATS_PRUNE_SCHEDULE="30 0 * * *"
//	LINKSTATS_CLICK_ROLLUP_SCHEDULE="15 0 * * *"
//	LINKSTATS_CLICK_ROLLUP_ENABLED="true"
//
// Observability settings:
//
//	LINKSTATS_LOG_LEVEL="info"  # debug, info, warn, error
//	LINKSTATS_LOG_FORMAT="json" # json, text
//	LINKSTATS_METRICS_ENABLED="true"
//
// # YAML
//
// The file uses the same sections in snake_case:
//
//	storage:
//	  postgres_url: postgres://localhost/linkstats
//	analytics:
//	  timezone: Europe/Berlin
//	  retention_days: 120
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	loc := cfg.Analytics.Location()
package config
