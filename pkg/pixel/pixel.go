package pixel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/platinummonkey/linkstats/pkg/observability"
	"github.com/platinummonkey/linkstats/pkg/storage"
)

// Meta Pixel IDs are 15 or 16 digit numbers
const (
	MinIDLength = 15
	MaxIDLength = 16
)

// ErrInvalidPixelID is returned when a pixel ID is not 15-16 digits
var ErrInvalidPixelID = errors.New("invalid meta pixel id")

// cacheName labels the pixel cache in the cache metrics
const cacheName = "pixel"

// Settings is the pixel configuration of one link page
type Settings struct {
	PixelID string `json:"pixel_id"`
	Enabled bool   `json:"is_enabled"`
	Valid   bool   `json:"is_valid"`
}

// ValidateID reports whether id is usable. An empty ID is valid and means
// tracking is off.
func ValidateID(id string) bool {
	if id == "" {
		return true
	}
	if len(id) < MinIDLength || len(id) > MaxIDLength {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SettingsFor derives the settings of a stored pixel ID
func SettingsFor(id string) Settings {
	valid := ValidateID(id)
	return Settings{
		PixelID: id,
		Enabled: id != "" && valid,
		Valid:   valid,
	}
}

// Service reads and writes pixel settings through an expiring LRU
type Service struct {
	store   storage.PixelStore
	cache   *lru.LRU[int64, Settings]
	metrics *observability.Metrics
}

// NewService creates a pixel service. size and ttl bound the settings cache.
func NewService(store storage.PixelStore, size int, ttl time.Duration, metrics *observability.Metrics) *Service {
	if size <= 0 {
		size = 1
	}
	return &Service{
		store:   store,
		cache:   lru.NewLRU[int64, Settings](size, nil, ttl),
		metrics: metrics,
	}
}

// Settings returns the pixel settings of a link page
func (s *Service) Settings(ctx context.Context, subjectID int64) (Settings, error) {
	if subjectID <= 0 {
		return Settings{}, analytics.ErrInvalidSubject
	}

	if settings, ok := s.cache.Get(subjectID); ok {
		s.metrics.ObserveCache(cacheName, true)
		return settings, nil
	}
	s.metrics.ObserveCache(cacheName, false)

	id, err := s.store.GetPixelID(ctx, subjectID)
	if err != nil {
		return Settings{}, err
	}

	settings := SettingsFor(id)
	s.cache.Add(subjectID, settings)
	return settings, nil
}

// SetPixelID validates and stores a pixel ID. An empty ID turns tracking off.
func (s *Service) SetPixelID(ctx context.Context, subjectID int64, id string) (Settings, error) {
	if subjectID <= 0 {
		return Settings{}, analytics.ErrInvalidSubject
	}

	id = strings.TrimSpace(id)
	if !ValidateID(id) {
		return Settings{}, fmt.Errorf("%w: must be %d-%d digits", ErrInvalidPixelID, MinIDLength, MaxIDLength)
	}

	if err := s.store.SetPixelID(ctx, subjectID, id); err != nil {
		return Settings{}, err
	}

	s.cache.Remove(subjectID)
	return SettingsFor(id), nil
}
