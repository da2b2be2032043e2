package janitor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/internal/media"
	"github.com/lumenworks/lumen/pkg/logger"
)

var log = logger.Get("Janitor")

type (
	Config struct {
		SweepIntervalMinutes  int `yaml:"sweep_interval_minutes" env:"JANITOR_SWEEP_INTERVAL_MINUTES" env-default:"60"`
		RetentionDays         int `yaml:"retention_days" env:"JANITOR_RETENTION_DAYS" env-default:"0"`
		MinimumFileAgeMinutes int `yaml:"minimum_file_age_minutes" env:"JANITOR_MINIMUM_FILE_AGE_MINUTES" env-default:"10"`
	}

	// Store is the slice of the media store the janitor sweeps against.
	Store interface {
		AllFilePaths(db database.Queryable) (map[string]struct{}, error)
		ListRetentionCandidates(db database.Queryable, cutoff time.Time) ([]*media.Media, error)
		Delete(db database.Queryable, id uuid.UUID) error
	}

	// Reservations answers whether a file belongs to an in-flight upload.
	Reservations interface {
		IsReserved(path string) bool
	}

	// Service keeps the storage tree and the database consistent with one
	// another: the orphan sweep removes files no asset row references, and
	// the retention sweep removes aged assets which were never accessed.
	Service struct {
		config       Config
		rootDir      string
		db           database.Queryable
		store        Store
		reservations Reservations
		eventBus     event.EventDispatcher
	}
)

func New(config Config, rootDir string, db database.Queryable, store Store, reservations Reservations, eventBus event.EventDispatcher) *Service {
	return &Service{
		config:       config,
		rootDir:      rootDir,
		db:           db,
		store:        store,
		reservations: reservations,
		eventBus:     eventBus,
	}
}

// Run performs both sweeps on the configured interval until the context
// is cancelled. The first sweep runs one interval after startup rather
// than immediately, giving in-flight work from a previous run a chance to
// settle.
func (service *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(service.config.SweepIntervalMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			service.Sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs the retention sweep followed by the orphan sweep. Retention
// runs first so the files of any just-deleted asset are collected in the
// same pass.
func (service *Service) Sweep(ctx context.Context) {
	service.sweepRetention(ctx)
	service.sweepOrphans(ctx)
}

// sweepRetention removes assets which were uploaded before the retention
// cutoff and have never been accessed. Any recorded access permanently
// shields an asset from this sweep.
func (service *Service) sweepRetention(ctx context.Context) {
	if service.config.RetentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -service.config.RetentionDays)
	candidates, err := service.store.ListRetentionCandidates(service.db, cutoff)
	if err != nil {
		log.Errorf("Retention sweep failed to list candidates: %v\n", err)
		return
	}

	for _, asset := range candidates {
		if ctx.Err() != nil {
			return
		}

		if err := service.store.Delete(service.db, asset.ID); err != nil {
			log.Errorf("Retention sweep failed to delete media %s: %v\n", asset.ID, err)
			continue
		}

		for _, relative := range asset.FilePaths() {
			service.removeFile(relative)
		}

		log.Infof("Retention sweep removed unused media %s (uploaded %s)\n", asset.ID, asset.UploadedAt.Format(time.RFC3339))
		service.eventBus.Dispatch(event.DeleteMediaEvent, asset.ID)
	}
}

// sweepOrphans walks the storage tree and removes any file which no
// persisted asset references. Files reserved by in-flight uploads are
// skipped, as is anything younger than the minimum age; the age guard
// covers the window where a pipeline has written a file but its upload
// has not yet reserved or persisted it.
func (service *Service) sweepOrphans(ctx context.Context) {
	known, err := service.store.AllFilePaths(service.db)
	if err != nil {
		log.Errorf("Orphan sweep failed to build the known file set: %v\n", err)
		return
	}

	minimumAge := time.Duration(service.config.MinimumFileAgeMinutes) * time.Minute
	removed := 0

	err = filepath.WalkDir(service.rootDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if entry.IsDir() {
			return nil
		}

		relative, err := filepath.Rel(service.rootDir, path)
		if err != nil {
			return err
		}

		if _, found := known[relative]; found {
			return nil
		}
		if service.reservations.IsReserved(relative) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if time.Since(info.ModTime()) < minimumAge {
			return nil
		}

		service.removeFile(relative)
		removed++
		return nil
	})
	if err != nil {
		log.Errorf("Orphan sweep aborted: %v\n", err)
		return
	}

	if removed > 0 {
		log.Infof("Orphan sweep removed %d unreferenced file(s)\n", removed)
	}
}

func (service *Service) removeFile(relativePath string) {
	if err := os.Remove(filepath.Join(service.rootDir, relativePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to remove file %s: %v\n", relativePath, err)
	}
}
