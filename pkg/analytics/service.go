package analytics

import (
	"context"
	"fmt"
	"time"
)

// MaxRangeDays bounds stats queries; nothing older than the retention window survives anyway
const MaxRangeDays = 366

// Service serves the daily view and click series for dashboards
type Service struct {
	reader StatsReader
	now    Clock
	loc    *time.Location
}

// NewService creates a new analytics service. Default ranges are computed in loc.
func NewService(reader StatsReader, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{reader: reader, now: time.Now, loc: loc}
}

// ViewSeries is the daily view series of a link page
type ViewSeries struct {
	SubjectID int64       `json:"link_page_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Total     int64       `json:"total"`
	Days      []DailyStat `json:"days"`
}

// ClickSeries is the daily per-URL click series of a link page
type ClickSeries struct {
	SubjectID int64            `json:"link_page_id"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Total     int64            `json:"total"`
	ByURL     map[string]int64 `json:"by_url"`
	Days      []DailyLinkClick `json:"days"`
}

// ResolveRange fills in a missing bound and validates the result. An empty
// range means the last 30 days ending today.
func (s *Service) ResolveRange(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = Today(s.now(), s.loc)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -29)
	}
	from, to = DayOf(from), DayOf(to)

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, FormatDay(from), FormatDay(to))
	}
	if to.Sub(from) > MaxRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: more than %d days", ErrInvalidRange, MaxRangeDays)
	}
	return from, to, nil
}

// GetViewSeries returns daily view rows in [from, to]
func (s *Service) GetViewSeries(ctx context.Context, subjectID int64, from, to time.Time) (*ViewSeries, error) {
	if subjectID <= 0 {
		return nil, ErrInvalidSubject
	}
	from, to, err := s.ResolveRange(from, to)
	if err != nil {
		return nil, err
	}

	days, err := s.reader.DailyViews(ctx, subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load daily views: %w", err)
	}

	series := &ViewSeries{
		SubjectID: subjectID,
		From:      FormatDay(from),
		To:        FormatDay(to),
		Days:      days,
	}
	for _, d := range days {
		series.Total += d.Count
	}
	return series, nil
}

// GetClickSeries returns daily click rows in [from, to] with per-URL totals
func (s *Service) GetClickSeries(ctx context.Context, subjectID int64, from, to time.Time) (*ClickSeries, error) {
	if subjectID <= 0 {
		return nil, ErrInvalidSubject
	}
	from, to, err := s.ResolveRange(from, to)
	if err != nil {
		return nil, err
	}

	days, err := s.reader.DailyClicks(ctx, subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load daily clicks: %w", err)
	}

	series := &ClickSeries{
		SubjectID: subjectID,
		From:      FormatDay(from),
		To:        FormatDay(to),
		ByURL:     make(map[string]int64),
		Days:      days,
	}
	for _, d := range days {
		series.Total += d.Count
		series.ByURL[d.LinkURL] += d.Count
	}
	return series, nil
}
