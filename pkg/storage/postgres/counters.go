package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresCounters keeps the lifetime view counter of each link page in
// link_page_view_counters
type PostgresCounters struct {
	db *sql.DB
}

// NewPostgresCounters creates a table-backed counter store
func NewPostgresCounters(db *sql.DB) *PostgresCounters {
	return &PostgresCounters{db: db}
}

// CurrentTotal returns the lifetime views of a link page; no row reads as zero
func (c *PostgresCounters) CurrentTotal(ctx context.Context, subjectID int64) (int64, error) {
	var total int64
	err := c.db.QueryRowContext(ctx,
		`SELECT total_views FROM link_page_view_counters WHERE link_page_id = $1`,
		subjectID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read view counter: %w", err)
	}
	return total, nil
}

// Increment adds delta to the counter and returns the new total
func (c *PostgresCounters) Increment(ctx context.Context, subjectID int64, delta int64) (int64, error) {
	query := `
		INSERT INTO link_page_view_counters (link_page_id, total_views)
		VALUES ($1, $2)
		ON CONFLICT (link_page_id)
		DO UPDATE SET total_views = link_page_view_counters.total_views + EXCLUDED.total_views,
			updated_at = NOW()
		RETURNING total_views
	`

	var total int64
	if err := c.db.QueryRowContext(ctx, query, subjectID, delta).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to increment view counter: %w", err)
	}
	return total, nil
}
