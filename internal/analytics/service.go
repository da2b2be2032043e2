package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/media"
)

// Window is one of the fixed rollup windows callers may request.
type Window string

const (
	WindowDay     Window = "24h"
	WindowWeek    Window = "7d"
	WindowMonth   Window = "30d"
	WindowQuarter Window = "90d"
	WindowYear    Window = "1y"

	// topAssetLimit bounds how many assets a rollup ranks.
	topAssetLimit = 10
)

var (
	ErrUnknownWindow    = errors.New("unknown analytics window")
	ErrUnknownEventType = errors.New("unknown analytics event type")

	windowDurations = map[Window]time.Duration{
		WindowDay:     24 * time.Hour,
		WindowWeek:    7 * 24 * time.Hour,
		WindowMonth:   30 * 24 * time.Hour,
		WindowQuarter: 90 * 24 * time.Hour,
		WindowYear:    365 * 24 * time.Hour,
	}
)

type (
	// EventStore is the aggregation surface the service reads from.
	EventStore interface {
		Insert(db database.Queryable, mediaID uuid.UUID, eventType EventType, actor ActorContext) error
		CountSince(db database.Queryable, since time.Time) (int64, error)
		CountsByTypeSince(db database.Queryable, since time.Time) ([]TypeCount, error)
		TopAssetsSince(db database.Queryable, since time.Time, limit int) ([]AssetCount, error)
	}

	// MediaStore is the slice of the media store the aggregator touches:
	// the usage counter bump on each event and the storage breakdown.
	MediaStore interface {
		RecordAccess(db database.Queryable, id uuid.UUID) error
		StorageStats(db database.Queryable) ([]media.CategoryStats, error)
	}

	// Rollup is the windowed aggregate view handed back to callers.
	Rollup struct {
		Window      Window                `json:"window"`
		Since       time.Time             `json:"since"`
		TotalEvents int64                 `json:"total_events"`
		ByType      []TypeCount           `json:"by_type"`
		TopAssets   []AssetCount          `json:"top_assets"`
		Storage     []media.CategoryStats `json:"storage"`
	}

	// Service records interaction events and serves windowed rollups.
	Service struct {
		db         database.Queryable
		store      EventStore
		mediaStore MediaStore
	}
)

func New(db database.Queryable, store EventStore, mediaStore MediaStore) *Service {
	return &Service{db: db, store: store, mediaStore: mediaStore}
}

// TrackEvent appends one event for the asset and bumps its usage counter
// and access timestamp in the same breath. The counter bump is what
// shields the asset from the retention sweep.
func (service *Service) TrackEvent(mediaID uuid.UUID, eventType EventType, actor ActorContext) error {
	switch eventType {
	case VIEW, DOWNLOAD, DELETE:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if err := service.mediaStore.RecordAccess(service.db, mediaID); err != nil {
		return fmt.Errorf("failed to record access for media %s: %w", mediaID, err)
	}

	return service.store.Insert(service.db, mediaID, eventType, actor)
}

// Rollup aggregates the requested window: total event count, per-type
// breakdown, the most active assets and the storage footprint per media
// category.
func (service *Service) Rollup(window Window) (*Rollup, error) {
	duration, found := windowDurations[window]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWindow, window)
	}

	since := time.Now().Add(-duration)
	rollup := &Rollup{Window: window, Since: since}

	var err error
	if rollup.TotalEvents, err = service.store.CountSince(service.db, since); err != nil {
		return nil, err
	}
	if rollup.ByType, err = service.store.CountsByTypeSince(service.db, since); err != nil {
		return nil, err
	}
	if rollup.TopAssets, err = service.store.TopAssetsSince(service.db, since, topAssetLimit); err != nil {
		return nil, err
	}
	if rollup.Storage, err = service.mediaStore.StorageStats(service.db); err != nil {
		return nil, err
	}

	return rollup, nil
}
