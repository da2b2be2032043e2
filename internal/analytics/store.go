package analytics

import (
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/database"
)

type (
	// EventType enumerates the discrete interactions recorded per asset.
	EventType string

	// ActorContext is the coarse, non-identifying context captured with
	// each event. All fields are optional.
	ActorContext struct {
		UserAgent string `json:"user_agent"`
		Referrer  string `json:"referrer"`
		Location  string `json:"location"`
	}

	// TypeCount is one row of a per-event-type breakdown.
	TypeCount struct {
		EventType EventType `db:"event_type" json:"event_type"`
		Count     int64     `db:"count" json:"count"`
	}

	// AssetCount ranks one asset by how many events it attracted.
	AssetCount struct {
		MediaID uuid.UUID `db:"media_id" json:"media_id"`
		Count   int64     `db:"count" json:"count"`
	}

	// Store persists and aggregates the append-only media_events table.
	Store struct{}
)

const (
	VIEW     EventType = "view"
	DOWNLOAD EventType = "download"
	DELETE   EventType = "delete"
)

func NewStore() *Store { return &Store{} }

// Insert appends one event row. Events are never updated or removed
// individually; they only disappear when the owning asset row cascades.
func (store *Store) Insert(db database.Queryable, mediaID uuid.UUID, eventType EventType, actor ActorContext) error {
	_, err := db.Exec(db.Rebind(`
		INSERT INTO media_events(media_id, event_type, user_agent, referrer, location, recorded_at)
		VALUES (?, ?, ?, ?, ?, current_timestamp)
	`), mediaID, eventType, actor.UserAgent, actor.Referrer, actor.Location)
	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}

	return nil
}

// CountSince returns the total number of events recorded at or after the
// given instant.
func (store *Store) CountSince(db database.Queryable, since time.Time) (int64, error) {
	var count int64
	if err := db.Get(&count, db.Rebind(`SELECT COUNT(*) FROM media_events WHERE recorded_at >= ?`), since); err != nil {
		return 0, fmt.Errorf("failed to count analytics events: %w", err)
	}

	return count, nil
}

// CountsByTypeSince breaks the window down per event type.
func (store *Store) CountsByTypeSince(db database.Queryable, since time.Time) ([]TypeCount, error) {
	var counts []TypeCount
	err := db.Select(&counts, db.Rebind(`
		SELECT event_type, COUNT(*) AS count
		FROM media_events
		WHERE recorded_at >= ?
		GROUP BY event_type
		ORDER BY count DESC
	`), since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate analytics events by type: %w", err)
	}

	return counts, nil
}

// TopAssetsSince ranks assets by event count inside the window, most
// active first.
func (store *Store) TopAssetsSince(db database.Queryable, since time.Time, limit int) ([]AssetCount, error) {
	query, args, err := squirrel.
		Select("media_id", "COUNT(*) AS count").
		From("media_events").
		Where("recorded_at >= ?", since).
		GroupBy("media_id").
		OrderBy("count DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct top assets query: %w", err)
	}

	var counts []AssetCount
	if err := db.Select(&counts, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to rank assets by event count: %w", err)
	}

	return counts, nil
}
