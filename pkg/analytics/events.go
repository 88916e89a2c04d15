package analytics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/linkstats/pkg/observability"
)

// MaxLinkURLLength matches the link_url column width
const MaxLinkURLLength = 2083

var allowedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"mailto": true,
	"tel":    true,
	"sms":    true,
	"ftp":    true,
	"webcal": true,
}

// ClickEvent is one click on a link of a link page
type ClickEvent struct {
	ID        uuid.UUID
	SubjectID int64
	LinkURL   string
	ClientIP  string
	UserAgent string
	Referrer  string
	ClickedAt time.Time
}

// EventTracker records raw analytics events: clicks go to the click event
// table, views bump the cumulative counter the daily aggregation reads.
type EventTracker struct {
	clicks  ClickSink
	views   CounterIncrementer
	now     Clock
	metrics *observability.Metrics
}

// NewEventTracker creates a new event tracker. views may be nil when the
// counter is fed by another system.
func NewEventTracker(clicks ClickSink, views CounterIncrementer, metrics *observability.Metrics) *EventTracker {
	return &EventTracker{
		clicks:  clicks,
		views:   views,
		now:     time.Now,
		metrics: metrics,
	}
}

// WithClock overrides the timestamp source
func (t *EventTracker) WithClock(now Clock) *EventTracker {
	t.now = now
	return t
}

// TrackClick validates and appends a click event. ID and ClickedAt are
// always assigned here; caller-supplied values are ignored.
func (t *EventTracker) TrackClick(ctx context.Context, event ClickEvent) (ClickEvent, error) {
	if event.SubjectID <= 0 {
		return ClickEvent{}, ErrInvalidSubject
	}
	link, err := NormalizeLinkURL(event.LinkURL)
	if err != nil {
		return ClickEvent{}, err
	}

	event.LinkURL = link
	event.ID = uuid.New()
	event.ClickedAt = t.now().UTC()

	err = t.clicks.InsertClick(ctx, event)
	t.metrics.ObserveClick(err)
	if err != nil {
		return ClickEvent{}, fmt.Errorf("record click: %w", err)
	}
	return event, nil
}

// TrackView adds one view to the cumulative counter and returns the new total
func (t *EventTracker) TrackView(ctx context.Context, subjectID int64) (int64, error) {
	if subjectID <= 0 {
		return 0, ErrInvalidSubject
	}
	if t.views == nil {
		return 0, fmt.Errorf("record view: no counter store configured")
	}

	total, err := t.views.Increment(ctx, subjectID, 1)
	t.metrics.ObserveView(err)
	if err != nil {
		return 0, fmt.Errorf("record view: %w", err)
	}
	return total, nil
}

// NormalizeLinkURL cleans a clicked URL for storage. Scheme-less links are
// treated as http, and only link-like schemes are accepted.
func NormalizeLinkURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", fmt.Errorf("%w: contains whitespace", ErrInvalidURL)
	}
	if !strings.Contains(raw, ":") {
		raw = "http://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedSchemes[scheme] {
		return "", fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}
	if (scheme == "http" || scheme == "https") && u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Scheme = scheme

	normalized := u.String()
	if len(normalized) > MaxLinkURLLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidURL, MaxLinkURLLength)
	}
	return normalized, nil
}
