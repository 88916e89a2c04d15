package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/linkstats/pkg/analytics"
)

// ErrNotFound is returned when a link page does not exist
var ErrNotFound = errors.New("postgres: not found")

// DBProvider hands out the write and read connections. ConnectionManager
// implements it; SingleDB wraps one pool for both.
type DBProvider interface {
	Primary() *sql.DB
	Replica() *sql.DB
}

type singleDB struct{ db *sql.DB }

func (s singleDB) Primary() *sql.DB { return s.db }
func (s singleDB) Replica() *sql.DB { return s.db }

// SingleDB uses db for both reads and writes
func SingleDB(db *sql.DB) DBProvider {
	return singleDB{db: db}
}

// StatStore implements the daily view and click series on PostgreSQL.
// Days are bound as YYYY-MM-DD strings and cast to DATE in SQL, so the
// session time zone never shifts a day.
type StatStore struct {
	dbs DBProvider
	loc *time.Location
}

// NewStatStore creates a stat store. loc is the zone calendar days are cut in
// when raw click events are rolled up.
func NewStatStore(dbs DBProvider, loc *time.Location) *StatStore {
	if loc == nil {
		loc = time.UTC
	}
	return &StatStore{dbs: dbs, loc: loc}
}

// ListSubjects returns the ID of every link page
func (s *StatStore) ListSubjects(ctx context.Context) ([]int64, error) {
	rows, err := s.dbs.Replica().QueryContext(ctx, `SELECT id FROM link_pages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list link pages: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan link page id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate link pages: %w", err)
	}
	return ids, nil
}

// HistoricalViews sums view_count for stat_date strictly before the given day
func (s *StatStore) HistoricalViews(ctx context.Context, subjectID int64, before time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(view_count), 0)
		FROM link_page_daily_views
		WHERE link_page_id = $1
		AND stat_date < $2::date
	`

	var total int64
	err := s.dbs.Replica().QueryRowContext(ctx, query, subjectID, analytics.FormatDay(before)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum historical views: %w", err)
	}
	return total, nil
}

// UpsertDailyViews writes count for (subject, day) in one statement,
// replacing any existing value for that day
func (s *StatStore) UpsertDailyViews(ctx context.Context, subjectID int64, day time.Time, count int64) error {
	query := `
		INSERT INTO link_page_daily_views (link_page_id, stat_date, view_count)
		VALUES ($1, $2::date, $3)
		ON CONFLICT (link_page_id, stat_date)
		DO UPDATE SET view_count = EXCLUDED.view_count
	`

	_, err := s.dbs.Primary().ExecContext(ctx, query, subjectID, analytics.FormatDay(day), count)
	if err != nil {
		return fmt.Errorf("failed to upsert daily views: %w", err)
	}
	return nil
}

// RollupDailyClicks recounts one day of click events into the daily per-URL
// series. Existing counts for that day are replaced.
func (s *StatStore) RollupDailyClicks(ctx context.Context, day time.Time) (int64, error) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)

	query := `
		INSERT INTO link_page_daily_link_clicks (link_page_id, stat_date, link_url, click_count)
		SELECT link_page_id, $1::date, link_url, COUNT(*)
		FROM link_page_click_events
		WHERE clicked_at >= $2 AND clicked_at < $3
		GROUP BY link_page_id, link_url
		ON CONFLICT (link_page_id, stat_date, link_url)
		DO UPDATE SET click_count = EXCLUDED.click_count
	`

	result, err := s.dbs.Primary().ExecContext(ctx, query, analytics.FormatDay(day), start.UTC(), end.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to roll up daily clicks: %w", err)
	}
	return result.RowsAffected()
}

// DeleteViewsBefore deletes daily view rows with stat_date < cutoff
func (s *StatStore) DeleteViewsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM link_page_daily_views WHERE stat_date < $1::date`, cutoff)
}

// DeleteClicksBefore deletes daily link click rows with stat_date < cutoff
func (s *StatStore) DeleteClicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM link_page_daily_link_clicks WHERE stat_date < $1::date`, cutoff)
}

func (s *StatStore) deleteBefore(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	result, err := s.dbs.Primary().ExecContext(ctx, query, analytics.FormatDay(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DailyViews returns the view rows of a link page in [from, to] ordered by day
func (s *StatStore) DailyViews(ctx context.Context, subjectID int64, from, to time.Time) ([]analytics.DailyStat, error) {
	query := `
		SELECT to_char(stat_date, 'YYYY-MM-DD'), view_count
		FROM link_page_daily_views
		WHERE link_page_id = $1
		AND stat_date BETWEEN $2::date AND $3::date
		ORDER BY stat_date
	`

	rows, err := s.dbs.Replica().QueryContext(ctx, query, subjectID, analytics.FormatDay(from), analytics.FormatDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily views: %w", err)
	}
	defer rows.Close()

	stats := []analytics.DailyStat{}
	for rows.Next() {
		var date string
		var count int64
		if err := rows.Scan(&date, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily views: %w", err)
		}
		day, err := analytics.ParseDay(date)
		if err != nil {
			return nil, err
		}
		stats = append(stats, analytics.DailyStat{SubjectID: subjectID, StatDate: day, Date: date, Count: count})
	}
	return stats, rows.Err()
}

// DailyClicks returns the per-URL click rows of a link page in [from, to]
func (s *StatStore) DailyClicks(ctx context.Context, subjectID int64, from, to time.Time) ([]analytics.DailyLinkClick, error) {
	query := `
		SELECT to_char(stat_date, 'YYYY-MM-DD'), link_url, click_count
		FROM link_page_daily_link_clicks
		WHERE link_page_id = $1
		AND stat_date BETWEEN $2::date AND $3::date
		ORDER BY stat_date, click_count DESC, link_url
	`

	rows, err := s.dbs.Replica().QueryContext(ctx, query, subjectID, analytics.FormatDay(from), analytics.FormatDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily clicks: %w", err)
	}
	defer rows.Close()

	clicks := []analytics.DailyLinkClick{}
	for rows.Next() {
		var c analytics.DailyLinkClick
		if err := rows.Scan(&c.Date, &c.LinkURL, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily clicks: %w", err)
		}
		day, err := analytics.ParseDay(c.Date)
		if err != nil {
			return nil, err
		}
		c.SubjectID = subjectID
		c.StatDate = day
		clicks = append(clicks, c)
	}
	return clicks, rows.Err()
}
