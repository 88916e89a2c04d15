package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/linkstats/pkg/observability"
)

// Table names
const (
	LinkPagesTable     = "link_pages"
	CountersTable      = "link_page_view_counters"
	DailyViewsTable    = "link_page_daily_views"
	DailyClicksTable   = "link_page_daily_link_clicks"
	ClickEventsTable   = "link_page_click_events"
	SchemaVersionTable = "linkstats_schema_version"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create link page and daily stat tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS link_pages (
					id BIGSERIAL PRIMARY KEY,
					slug VARCHAR(255) UNIQUE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS link_page_daily_views (
					view_id BIGSERIAL PRIMARY KEY,
					link_page_id BIGINT NOT NULL,
					stat_date DATE NOT NULL,
					view_count BIGINT NOT NULL DEFAULT 0 CHECK (view_count >= 0),
					CONSTRAINT unique_daily_view UNIQUE (link_page_id, stat_date)
				);

				CREATE TABLE IF NOT EXISTS link_page_daily_link_clicks (
					click_id BIGSERIAL PRIMARY KEY,
					link_page_id BIGINT NOT NULL,
					stat_date DATE NOT NULL,
					link_url VARCHAR(2083) NOT NULL,
					click_count BIGINT NOT NULL DEFAULT 0 CHECK (click_count >= 0),
					CONSTRAINT unique_daily_link_click UNIQUE (link_page_id, stat_date, link_url)
				);

				CREATE INDEX IF NOT EXISTS idx_daily_link_clicks_page_date
					ON link_page_daily_link_clicks(link_page_id, stat_date);
			`,
		},
		{
			Version:     2,
			Description: "Create view counters and click events",
			SQL: `
				CREATE TABLE IF NOT EXISTS link_page_view_counters (
					link_page_id BIGINT PRIMARY KEY,
					total_views BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS link_page_click_events (
					id UUID PRIMARY KEY,
					link_page_id BIGINT NOT NULL,
					link_url VARCHAR(2083) NOT NULL,
					user_ip VARCHAR(45) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					referer TEXT NOT NULL DEFAULT '',
					clicked_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_click_events_clicked_at
					ON link_page_click_events(clicked_at);
			`,
		},
		{
			Version:     3,
			Description: "Add meta pixel id to link pages",
			SQL: `
				ALTER TABLE link_pages ADD COLUMN IF NOT EXISTS meta_pixel_id VARCHAR(32) NOT NULL DEFAULT '';
			`,
		},
	}
}

// EnsureSchema applies every migration newer than the recorded schema
// version. Each migration runs in its own transaction together with its
// version row, so a failed migration leaves the previous version in place.
func EnsureSchema(ctx context.Context, db *sql.DB, logger *observability.Logger) (int, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS linkstats_schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema version table: %w", err)
	}

	var current int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM linkstats_schema_version`).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	applied := 0
	for _, migration := range GetMigrations() {
		if migration.Version <= current {
			continue
		}

		log := logger.WithField("version", migration.Version)
		log.Infof("Running migration %d: %s", migration.Version, migration.Description)

		if err := applyMigration(ctx, db, migration); err != nil {
			log.WithError(err).Error("Migration failed")
			return applied, err
		}
		applied++
	}

	if applied == 0 {
		logger.WithField("version", current).Debug("Schema is up to date")
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO linkstats_schema_version (version, description) VALUES ($1, $2)`,
		migration.Version, migration.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
