package api

import (
	"context"
	"database/sql/driver"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/httputil"
	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/pixel"
	"github.com/platinummonkey/linkstats/pkg/storage/postgres"
)

// EventTracker records clicks and views
type EventTracker interface {
	TrackClick(ctx context.Context, event analytics.ClickEvent) (analytics.ClickEvent, error)
	TrackView(ctx context.Context, subjectID int64) (int64, error)
}

// StatsService serves the daily series
type StatsService interface {
	GetViewSeries(ctx context.Context, subjectID int64, from, to time.Time) (*analytics.ViewSeries, error)
	GetClickSeries(ctx context.Context, subjectID int64, from, to time.Time) (*analytics.ClickSeries, error)
}

// PixelService reads and writes Meta Pixel settings
type PixelService interface {
	Settings(ctx context.Context, subjectID int64) (pixel.Settings, error)
	SetPixelID(ctx context.Context, subjectID int64, id string) (pixel.Settings, error)
}

// Handlers provides the link page analytics endpoints
type Handlers struct {
	events EventTracker
	stats  StatsService
	pixels PixelService
	logger *observability.Logger

	trustProxy bool
}

// NewHandlers creates the handlers. pixels may be nil to leave the pixel
// routes unregistered.
func NewHandlers(events EventTracker, stats StatsService, pixels PixelService, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{
		events: events,
		stats:  stats,
		pixels: pixels,
		logger: logger,
	}
}

// WithTrustedProxy makes click recording take the client address from
// X-Forwarded-For or X-Real-IP. Only enable it behind a proxy that sets them.
func (h *Handlers) WithTrustedProxy(trust bool) *Handlers {
	h.trustProxy = trust
	return h
}

// ViewResponse is returned after a view is recorded
type ViewResponse struct {
	SubjectID  int64 `json:"link_page_id"`
	TotalViews int64 `json:"total_views"`
}

// RegisterRoutes registers the link page routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	pages := r.PathPrefix("/api/v1/link-pages/{id:[0-9]+}").Subrouter()

	// Event intake
	pages.HandleFunc("/clicks", h.recordClick).Methods(http.MethodPost)
	pages.HandleFunc("/views", h.recordView).Methods(http.MethodPost)

	// Daily series
	pages.HandleFunc("/stats/views", h.getViewStats).Methods(http.MethodGet)
	pages.HandleFunc("/stats/clicks", h.getClickStats).Methods(http.MethodGet)

	if h.pixels != nil {
		pages.HandleFunc("/pixel", h.getPixel).Methods(http.MethodGet)
		pages.HandleFunc("/pixel", h.putPixel).Methods(http.MethodPut)
	}
}

// recordClick handles POST /api/v1/link-pages/{id}/clicks
// Body: link_url as a form field or JSON property
func (h *Handlers) recordClick(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	link, err := httputil.FormOrJSONValue(r, "link_url")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if link == "" {
		httputil.WriteBadRequest(w, "link_url is required")
		return
	}

	_, err = h.events.TrackClick(r.Context(), analytics.ClickEvent{
		SubjectID: id,
		LinkURL:   link,
		ClientIP:  httputil.ClientIP(r, h.trustProxy),
		UserAgent: r.UserAgent(),
		Referrer:  httputil.Referrer(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// recordView handles POST /api/v1/link-pages/{id}/views
func (h *Handlers) recordView(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	total, err := h.events.TrackView(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, ViewResponse{SubjectID: id, TotalViews: total})
}

// getViewStats handles GET /api/v1/link-pages/{id}/stats/views
// Query params:
//   - from: first day, YYYY-MM-DD (default: 29 days before to)
//   - to: last day, YYYY-MM-DD (default: today)
func (h *Handlers) getViewStats(w http.ResponseWriter, r *http.Request) {
	id, from, to, ok := parseRangeRequest(w, r)
	if !ok {
		return
	}

	series, err := h.stats.GetViewSeries(r.Context(), id, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, series)
}

// getClickStats handles GET /api/v1/link-pages/{id}/stats/clicks
// Same query params as getViewStats
func (h *Handlers) getClickStats(w http.ResponseWriter, r *http.Request) {
	id, from, to, ok := parseRangeRequest(w, r)
	if !ok {
		return
	}

	series, err := h.stats.GetClickSeries(r.Context(), id, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, series)
}

// getPixel handles GET /api/v1/link-pages/{id}/pixel
func (h *Handlers) getPixel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	settings, err := h.pixels.Settings(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, settings)
}

// putPixel handles PUT /api/v1/link-pages/{id}/pixel
// Body: pixel_id as a form field or JSON property; empty disables tracking
func (h *Handlers) putPixel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	pixelID, err := httputil.FormOrJSONValue(r, "pixel_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	settings, err := h.pixels.SetPixelID(r.Context(), id, pixelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, settings)
}

func parseRangeRequest(w http.ResponseWriter, r *http.Request) (int64, time.Time, time.Time, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, time.Time{}, time.Time{}, false
	}
	from, err := httputil.ParseQueryDay(r, "from")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, time.Time{}, time.Time{}, false
	}
	to, err := httputil.ParseQueryDay(r, "to")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return 0, time.Time{}, time.Time{}, false
	}
	return id, from, to, true
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and hidden from the client.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidSubject),
		errors.Is(err, analytics.ErrInvalidURL),
		errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, pixel.ErrInvalidPixelID):
		httputil.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, postgres.ErrNotFound):
		httputil.WriteNotFoundError(w, "link page not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, driver.ErrBadConn):
		h.logger.WithError(err).
			WithField("path", r.URL.Path).
			Warn("storage unavailable")
		httputil.WriteServiceUnavailable(w, "storage temporarily unavailable")
	default:
		h.logger.WithError(err).
			WithField("path", r.URL.Path).
			WithField("request_id", observability.GetRequestID(r.Context())).
			Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}
