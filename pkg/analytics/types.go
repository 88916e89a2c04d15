package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultRetentionDays is how long daily rows are kept when no window is configured
const DefaultRetentionDays = 90

// DayLayout is the wire and storage format for calendar days
const DayLayout = "2006-01-02"

var (
	// ErrInvalidSubject is returned for non-positive link page IDs
	ErrInvalidSubject = errors.New("analytics: invalid link page id")
	// ErrInvalidURL is returned when a clicked link cannot be recorded
	ErrInvalidURL = errors.New("analytics: invalid link url")
	// ErrInvalidRange is returned when a stats query range is unusable
	ErrInvalidRange = errors.New("analytics: invalid date range")
)

// Clock returns the current time
type Clock func() time.Time

// RunConfig is the explicit input of one scheduled run. Jobs never read the
// wall clock or global settings themselves.
type RunConfig struct {
	Today         time.Time
	RetentionDays int
}

// NewRunConfig builds a run for the calendar day of now in loc
func NewRunConfig(now time.Time, loc *time.Location, retentionDays int) RunConfig {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return RunConfig{Today: Today(now, loc), RetentionDays: retentionDays}
}

// Yesterday is the last complete day before the run day
func (c RunConfig) Yesterday() time.Time {
	return c.Today.AddDate(0, 0, -1)
}

// DailyStat is one row of the daily view series
type DailyStat struct {
	SubjectID int64     `json:"link_page_id"`
	StatDate  time.Time `json:"-"`
	Date      string    `json:"date"`
	Count     int64     `json:"view_count"`
}

// DailyLinkClick is one row of the daily per-URL click series
type DailyLinkClick struct {
	SubjectID int64     `json:"link_page_id"`
	StatDate  time.Time `json:"-"`
	Date      string    `json:"date"`
	LinkURL   string    `json:"link_url"`
	Count     int64     `json:"click_count"`
}

// SubjectLister enumerates every link page the aggregation covers
type SubjectLister interface {
	ListSubjects(ctx context.Context) ([]int64, error)
}

// CounterReader reads the lifetime view counter of a link page. A missing
// counter reads as zero.
type CounterReader interface {
	CurrentTotal(ctx context.Context, subjectID int64) (int64, error)
}

// CounterIncrementer bumps the lifetime view counter and returns the new total
type CounterIncrementer interface {
	Increment(ctx context.Context, subjectID int64, delta int64) (int64, error)
}

// ViewStatStore persists the daily view series
type ViewStatStore interface {
	// HistoricalViews sums view_count for stat_date strictly before the given day
	HistoricalViews(ctx context.Context, subjectID int64, before time.Time) (int64, error)
	// UpsertDailyViews writes count for (subject, day), replacing any existing value
	UpsertDailyViews(ctx context.Context, subjectID int64, day time.Time, count int64) error
}

// ClickRollupStore folds one day of click events into the daily click series
type ClickRollupStore interface {
	RollupDailyClicks(ctx context.Context, day time.Time) (int64, error)
}

// ClickSink appends raw click events
type ClickSink interface {
	InsertClick(ctx context.Context, event ClickEvent) error
}

// StatsReader serves range queries over the daily series
type StatsReader interface {
	DailyViews(ctx context.Context, subjectID int64, from, to time.Time) ([]DailyStat, error)
	DailyClicks(ctx context.Context, subjectID int64, from, to time.Time) ([]DailyLinkClick, error)
}

// DayOf returns the calendar day of t (in t's own location) as midnight UTC.
// Days are compared and stored as UTC midnights so a day never shifts when it
// crosses a driver boundary.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar day in loc
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DayOf(now.In(loc))
}

// FormatDay renders a day as YYYY-MM-DD
func FormatDay(day time.Time) string {
	return day.Format(DayLayout)
}

// ParseDay parses YYYY-MM-DD
func ParseDay(s string) (time.Time, error) {
	day, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return day, nil
}

// RetentionCutoff returns the first day that is kept for a retention window.
// Rows strictly before it are eligible for deletion.
func RetentionCutoff(today time.Time, retentionDays int) time.Time {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return DayOf(today).AddDate(0, 0, -retentionDays)
}
