package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PixelStore reads and writes link_pages.meta_pixel_id
type PixelStore struct {
	dbs DBProvider
}

// NewPixelStore creates a pixel store
func NewPixelStore(dbs DBProvider) *PixelStore {
	return &PixelStore{dbs: dbs}
}

// GetPixelID returns the stored pixel ID, empty when tracking is off
func (s *PixelStore) GetPixelID(ctx context.Context, subjectID int64) (string, error) {
	var pixelID string
	err := s.dbs.Replica().QueryRowContext(ctx,
		`SELECT meta_pixel_id FROM link_pages WHERE id = $1`,
		subjectID,
	).Scan(&pixelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("failed to get pixel id: %w", err)
	}
	return pixelID, nil
}

// SetPixelID stores the pixel ID; the caller validates it
func (s *PixelStore) SetPixelID(ctx context.Context, subjectID int64, pixelID string) error {
	result, err := s.dbs.Primary().ExecContext(ctx,
		`UPDATE link_pages SET meta_pixel_id = $2 WHERE id = $1`,
		subjectID, pixelID,
	)
	if err != nil {
		return fmt.Errorf("failed to set pixel id: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set pixel id: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
