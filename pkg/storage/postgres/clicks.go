package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/linkstats/pkg/analytics"
)

// ClickEventStore appends raw link click events
type ClickEventStore struct {
	db *sql.DB
}

// NewClickEventStore creates a click event store writing to db
func NewClickEventStore(db *sql.DB) *ClickEventStore {
	return &ClickEventStore{db: db}
}

// InsertClick stores one click event
func (s *ClickEventStore) InsertClick(ctx context.Context, event analytics.ClickEvent) error {
	query := `
		INSERT INTO link_page_click_events (id, link_page_id, link_url, user_ip, user_agent, referer, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID.String(),
		event.SubjectID,
		event.LinkURL,
		event.ClientIP,
		event.UserAgent,
		event.Referrer,
		event.ClickedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert click event: %w", err)
	}
	return nil
}
