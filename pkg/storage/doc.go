// Package storage defines the persistence contracts and settings for linkstats.
//
// # Overview
//
// Two kinds of data back the analytics jobs:
//
//   - the cumulative view counter of each link page (CounterStore), kept in
//     either Redis or a PostgreSQL table depending on Config.CounterBackend
//   - the daily series (StatStore): one row per link page per day for views,
//     and one row per link page, day and URL for clicks
//
// The postgres subpackage implements both, plus raw click events, the Meta
// Pixel setting and the schema bootstrap.
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://linkstats@localhost:5432/linkstats?sslmode=disable"
//	cfg.CounterBackend = storage.CounterBackendRedis
//	cfg.RedisURL = "redis://localhost:6379/0"
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// # Days
//
// Every day crossing this boundary is a calendar day represented as midnight
// UTC (see analytics.DayOf). Stores bind days as YYYY-MM-DD strings.
package storage
