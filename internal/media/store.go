package media

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/pkg/logger"
)

var (
	ErrMediaNotFound = errors.New("media asset does not exist")

	// ErrHashConflict is returned by Save when another row already owns
	// the content hash; callers should re-fetch by hash and treat the
	// upload as a duplicate of the winning row.
	ErrHashConflict = errors.New("content hash already persisted")

	log = logger.Get("MediaStore")
)

// sortColumns whitelists the columns a search may be ordered by; anything
// else silently falls back to upload time.
var sortColumns = map[string]string{
	"uploaded_at":   "uploaded_at",
	"updated_at":    "updated_at",
	"file_size":     "file_size",
	"usage_count":   "usage_count",
	"original_name": "original_name",
}

type (
	// mediaModel combines the media table columns with JSON representations
	// of the structured columns. We use a separate struct as part of the
	// public API of this store to hide the use of the JsonColumn container.
	mediaModel struct {
		modelBase
		Variants database.JsonColumn[[]VariantDescriptor] `db:"variants"`
		Metadata database.JsonColumn[Metadata]            `db:"metadata"`
		Tags     database.JsonColumn[[]string]            `db:"tags"`
	}

	SearchParams struct {
		Text           string
		Tags           []string
		MimePrefix     string
		UploadedAfter  *time.Time
		UploadedBefore *time.Time

		Offset   int
		Limit    int
		SortBy   string
		SortDesc bool
	}

	CategoryStats struct {
		Category   Category `db:"category"`
		Count      int64    `db:"count"`
		TotalBytes int64    `db:"total_bytes"`
		AvgBytes   float64  `db:"avg_bytes"`
	}

	Store struct{}
)

func NewStore() *Store { return &Store{} }

// Save inserts the asset provided. The media table carries a uniqueness
// constraint over the content hash which acts as the authoritative dedup
// guard: if another writer won a race for the same content, ErrHashConflict
// is returned and no row is written.
func (store *Store) Save(db database.Queryable, m *Media) error {
	if m.Variants == nil {
		m.Variants = []VariantDescriptor{}
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}

	_, err := db.Exec(db.Rebind(`
		INSERT INTO media(id, content_hash, original_name, file_name, source_path, mime_type, file_size,
			width, height, duration, format, variants, metadata, tags, alt_text, caption,
			usage_count, last_accessed, cdn_url, processing_status, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, ?, current_timestamp, current_timestamp)
	`),
		m.ID, m.ContentHash, m.OriginalName, m.FileName, m.SourcePath, m.MimeType, m.FileSize,
		m.Width, m.Height, m.Duration, m.Format,
		database.NewJsonColumn(&m.Variants), database.NewJsonColumn(m.Metadata), database.NewJsonColumn(&m.Tags),
		m.AltText, m.Caption, m.State,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			log.Debugf("Insert of media %s lost a dedup race (constraint %s)\n", m.ID, pqErr.Constraint)
			return ErrHashConflict
		}

		return fmt.Errorf("failed to insert media asset: %w", err)
	}

	return nil
}

func (store *Store) GetByID(db database.Queryable, id uuid.UUID) (*Media, error) {
	return store.getWhere(db, "id=?", id)
}

func (store *Store) GetByHash(db database.Queryable, hash string) (*Media, error) {
	return store.getWhere(db, "content_hash=?", hash)
}

func (store *Store) getWhere(db database.Queryable, pred string, arg any) (*Media, error) {
	query, args, err := selectMediaBuilder().Where(pred, arg).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select media query: %w", err)
	}

	var model mediaModel
	if err := db.Get(&model, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaNotFound
		}

		return nil, err
	}

	return modelToMedia(&model), nil
}

// Search returns the page of assets matching the filters provided, along
// with the total number of rows the filters match (for paging UIs).
func (store *Store) Search(db database.Queryable, params SearchParams) ([]*Media, int, error) {
	applyFilters := func(builder squirrel.SelectBuilder) squirrel.SelectBuilder {
		if params.Text != "" {
			pattern := "%" + params.Text + "%"
			builder = builder.Where(
				squirrel.Or{
					squirrel.Expr("original_name ILIKE ?", pattern),
					squirrel.Expr("alt_text ILIKE ?", pattern),
					squirrel.Expr("caption ILIKE ?", pattern),
				})
		}
		if params.MimePrefix != "" {
			builder = builder.Where("mime_type LIKE ?", params.MimePrefix+"%")
		}
		for _, tag := range params.Tags {
			// JSONB containment argument; marshalled so tags holding
			// quotes or backslashes still form valid JSON.
			arg, _ := json.Marshal([]string{tag})
			builder = builder.Where("tags @> ?", string(arg))
		}
		if params.UploadedAfter != nil {
			builder = builder.Where("uploaded_at >= ?", *params.UploadedAfter)
		}
		if params.UploadedBefore != nil {
			builder = builder.Where("uploaded_at <= ?", *params.UploadedBefore)
		}

		return builder
	}

	countQuery, countArgs, err := applyFilters(squirrel.Select("COUNT(*)").From("media")).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to construct count media query: %w", err)
	}

	var total int
	if err := db.Get(&total, db.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, err
	}

	sortCol, ok := sortColumns[params.SortBy]
	if !ok {
		sortCol = "uploaded_at"
	}
	direction := "ASC"
	if params.SortDesc {
		direction = "DESC"
	}

	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query, args, err := applyFilters(selectMediaBuilder()).
		OrderBy(fmt.Sprintf("%s %s", sortCol, direction)).
		Offset(uint64(max(params.Offset, 0))).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to construct search media query: %w", err)
	}

	var models []mediaModel
	if err := db.Select(&models, db.Rebind(query), args...); err != nil {
		return nil, 0, err
	}

	results := make([]*Media, len(models))
	for k, v := range models {
		v := v
		results[k] = modelToMedia(&v)
	}

	return results, total, nil
}

func (store *Store) UpdateTags(db database.Queryable, id uuid.UUID, tags []string) error {
	if tags == nil {
		tags = []string{}
	}

	return store.updateOne(db,
		`UPDATE media SET tags=?, updated_at=current_timestamp WHERE id=?`,
		database.NewJsonColumn(&tags), id)
}

func (store *Store) UpdateDetails(db database.Queryable, id uuid.UUID, altText *string, caption *string) error {
	return store.updateOne(db, `
		UPDATE media SET
			alt_text=COALESCE(?, alt_text),
			caption=COALESCE(?, caption),
			updated_at=current_timestamp
		WHERE id=?`, altText, caption, id)
}

// RecordAccess bumps the usage counter and access timestamp for the asset;
// called by the analytics aggregator whenever an event is tracked.
func (store *Store) RecordAccess(db database.Queryable, id uuid.UUID) error {
	return store.updateOne(db,
		`UPDATE media SET usage_count=usage_count+1, last_accessed=current_timestamp WHERE id=?`, id)
}

func (store *Store) SetCDNUrl(db database.Queryable, id uuid.UUID, url string) error {
	return store.updateOne(db,
		`UPDATE media SET cdn_url=?, updated_at=current_timestamp WHERE id=?`, url, id)
}

func (store *Store) Delete(db database.Queryable, id uuid.UUID) error {
	result, err := db.Exec(db.Rebind(`DELETE FROM media WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete media asset %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrMediaNotFound
	}

	return nil
}

// ListPendingCDNSync returns settled assets which have not yet been
// pushed to the distribution network, oldest first. The CDN agent uses
// this both for its initial catch-up and its periodic retry pass.
func (store *Store) ListPendingCDNSync(db database.Queryable, limit int) ([]*Media, error) {
	query, args, err := selectMediaBuilder().
		Where("cdn_url IS NULL").
		Where("processing_status = ?", COMPLETE).
		OrderBy("uploaded_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct pending CDN sync query: %w", err)
	}

	var models []mediaModel
	if err := db.Select(&models, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	results := make([]*Media, len(models))
	for k, v := range models {
		v := v
		results[k] = modelToMedia(&v)
	}

	return results, nil
}

// ListRetentionCandidates returns settled assets which have never been
// accessed and were uploaded before the cutoff provided. Assets with a
// nonzero usage count are never candidates, regardless of age.
func (store *Store) ListRetentionCandidates(db database.Queryable, cutoff time.Time) ([]*Media, error) {
	query, args, err := selectMediaBuilder().
		Where("usage_count = 0").
		Where("processing_status = ?", COMPLETE).
		Where("uploaded_at < ?", cutoff).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct retention query: %w", err)
	}

	var models []mediaModel
	if err := db.Select(&models, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	results := make([]*Media, len(models))
	for k, v := range models {
		v := v
		results[k] = modelToMedia(&v)
	}

	return results, nil
}

// AllFilePaths builds the set of every storage-root-relative file path
// referenced by any persisted asset. The orphan sweep treats any stored
// file outside this set (and outside the in-flight reservations) as garbage.
func (store *Store) AllFilePaths(db database.Queryable) (map[string]struct{}, error) {
	query, args, err := selectMediaBuilder().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct media paths query: %w", err)
	}

	var models []mediaModel
	if err := db.Select(&models, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	paths := make(map[string]struct{})
	for _, v := range models {
		v := v
		for _, p := range modelToMedia(&v).FilePaths() {
			paths[p] = struct{}{}
		}
	}

	return paths, nil
}

// StorageStats groups persisted assets by coarse category and reports
// count, total and average storage consumption per group.
func (store *Store) StorageStats(db database.Queryable) ([]CategoryStats, error) {
	var stats []CategoryStats
	err := db.Select(&stats, `
		SELECT
			CASE
				WHEN mime_type LIKE 'image/%' THEN 'image'
				WHEN mime_type LIKE 'video/%' THEN 'video'
				WHEN mime_type LIKE 'audio/%' THEN 'audio'
				ELSE 'document'
			END AS category,
			COUNT(*) AS count,
			COALESCE(SUM(file_size), 0) AS total_bytes,
			COALESCE(AVG(file_size), 0) AS avg_bytes
		FROM media
		GROUP BY category
		ORDER BY total_bytes DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query storage stats: %w", err)
	}

	return stats, nil
}

func (store *Store) updateOne(db database.Queryable, query string, args ...any) error {
	result, err := db.Exec(db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update media asset: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrMediaNotFound
	}

	return nil
}

func selectMediaBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select(
			"id", "content_hash", "original_name", "file_name", "source_path", "mime_type",
			"file_size", "width", "height", "duration", "format", "variants", "metadata",
			"tags", "alt_text", "caption", "usage_count", "last_accessed", "cdn_url",
			"processing_status", "uploaded_at", "updated_at").
		From("media")
}

func modelToMedia(model *mediaModel) *Media {
	out := &Media{modelBase: model.modelBase, Metadata: model.Metadata.Get()}
	if variants := model.Variants.Get(); variants != nil {
		out.Variants = *variants
	}
	if tags := model.Tags.Get(); tags != nil {
		out.Tags = *tags
	}

	return out
}

