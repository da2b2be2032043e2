package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/analytics"
	"github.com/lumenworks/lumen/internal/cdn"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/internal/image"
	"github.com/lumenworks/lumen/internal/ingest"
	"github.com/lumenworks/lumen/internal/janitor"
	"github.com/lumenworks/lumen/internal/media"
	"github.com/lumenworks/lumen/internal/progress"
	"github.com/lumenworks/lumen/internal/transcode"
	"github.com/lumenworks/lumen/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// Lumen is the top-level object for the pipeline: it owns the event
	// bus, database connection, stores and services, and exposes the
	// management operations callers use once assets are persisted.
	Lumen struct {
		config   LumenConfig
		eventBus event.EventCoordinator

		dbManager  database.Manager
		db         database.Queryable
		mediaStore *media.Store

		reservations  *ingest.ReservationSet
		tracker       *progress.Tracker
		imagePipeline *image.Pipeline
		videoPipeline *transcode.Pipeline
		ingestService *ingest.Service
		bulk          *ingest.BulkCoordinator
		analytics     *analytics.Service
		cdnService    *cdn.Service
		janitor       *janitor.Service
	}
)

func New(config LumenConfig) *Lumen {
	return &Lumen{
		config:   config,
		eventBus: event.New(),
	}
}

// Run brings up the database connection and every service, then blocks
// until the provided context is cancelled or a service crashes. Video
// support degrades to outright rejection of video uploads when no ffmpeg
// install is detected.
func (lumen *Lumen) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	lumen.dbManager = database.New()
	if err := lumen.dbManager.Connect(lumen.config.Database); err != nil {
		return err
	}
	lumen.db = lumen.dbManager.GetSqlxDb()
	lumen.mediaStore = media.NewStore()

	if err := lumen.initialiseServices(ctx); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	lumen.spawnAsyncService(ctx, wg, lumen.tracker, "progress-tracker", crashHandler)
	lumen.spawnAsyncService(ctx, wg, lumen.bulk, "bulk-coordinator", crashHandler)
	lumen.spawnAsyncService(ctx, wg, lumen.imagePipeline, "image-pipeline", crashHandler)
	lumen.spawnAsyncService(ctx, wg, lumen.janitor, "storage-janitor", crashHandler)
	if lumen.cdnService != nil {
		lumen.spawnAsyncService(ctx, wg, lumen.cdnService, "cdn-sync", crashHandler)
	}
	log.Emit(logger.SUCCESS, "Lumen services spawned!\n")

	wg.Wait()
	return nil
}

func (lumen *Lumen) initialiseServices(ctx context.Context) error {
	lumen.reservations = ingest.NewReservationSet()
	lumen.tracker = progress.NewTracker(lumen.eventBus, time.Duration(lumen.config.ProgressSessionTTLMinutes)*time.Minute)

	imagePipeline, err := image.New(lumen.config.Image, lumen.config.Ingest.StorageRootPath)
	if err != nil {
		return fmt.Errorf("failed to construct image pipeline: %w", err)
	}
	lumen.imagePipeline = imagePipeline

	var videoPipeline ingest.VideoPipeline
	if transcoder, err := transcode.DetectFfmpeg(lumen.config.Transcode.FfmpegBinaryPath, lumen.config.Transcode.FfprobeBinaryPath); err == nil {
		lumen.videoPipeline = transcode.NewPipeline(transcoder, lumen.config.Transcode, lumen.config.Ingest.StorageRootPath)
		videoPipeline = lumen.videoPipeline
	} else if errors.Is(err, transcode.ErrTranscoderUnavailable) {
		log.Warnf("No usable ffmpeg install detected; video uploads will be rejected\n")
	} else {
		return fmt.Errorf("failed to initialise transcoder: %w", err)
	}

	lumen.ingestService = ingest.New(
		lumen.config.Ingest,
		lumen.db,
		lumen.mediaStore,
		lumen.imagePipeline,
		videoPipeline,
		lumen.tracker,
		lumen.eventBus,
		lumen.reservations,
	)
	lumen.bulk = ingest.NewBulkCoordinator(lumen.ingestService, lumen.eventBus, time.Duration(lumen.config.ProgressSessionTTLMinutes)*time.Minute)
	lumen.analytics = analytics.New(lumen.db, analytics.NewStore(), lumen.mediaStore)
	lumen.janitor = janitor.New(lumen.config.Janitor, lumen.config.Ingest.StorageRootPath, lumen.db, lumen.mediaStore, lumen.reservations, lumen.eventBus)

	if lumen.config.CDN.Enabled {
		uploader, err := cdn.NewS3Uploader(ctx, lumen.config.CDN)
		if err != nil {
			return fmt.Errorf("failed to construct CDN uploader: %w", err)
		}

		lumen.cdnService = cdn.New(lumen.config.CDN, lumen.config.Ingest.StorageRootPath, lumen.db, lumen.mediaStore, uploader, lumen.eventBus)
	}

	return nil
}

// spawnAsyncService runs the provided service as its own goroutine,
// keeping the service waitgroup updated and routing crashes (including
// panics) through the crash handler.
func (lumen *Lumen) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				crashHandler(serviceLabel, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crashHandler(serviceLabel, err)
		}
	}()
}

// EventBus exposes the coordinator so outer surfaces (HTTP gateways,
// socket broadcasters) can subscribe to pipeline events.
func (lumen *Lumen) EventBus() event.EventCoordinator { return lumen.eventBus }

// Upload ingests a single payload; see ingest.Service.Upload.
func (lumen *Lumen) Upload(ctx context.Context, request ingest.UploadRequest) (*ingest.UploadOutcome, error) {
	return lumen.ingestService.Upload(ctx, request)
}

// UploadBatch ingests a batch of payloads sequentially, reporting
// per-item outcomes.
func (lumen *Lumen) UploadBatch(ctx context.Context, requests []ingest.UploadRequest) (*ingest.BatchProgress, error) {
	return lumen.bulk.UploadBatch(ctx, requests)
}

// BatchProgress returns the current view of a bulk upload batch.
func (lumen *Lumen) BatchProgress(batchID uuid.UUID) (*ingest.BatchProgress, error) {
	return lumen.bulk.Progress(batchID)
}

// UploadProgress returns the session for an in-flight (or recently
// finished) upload.
func (lumen *Lumen) UploadProgress(uploadID uuid.UUID) (progress.Session, error) {
	return lumen.tracker.Get(uploadID)
}

// GetMedia fetches a single persisted asset by ID.
func (lumen *Lumen) GetMedia(id uuid.UUID) (*media.Media, error) {
	return lumen.mediaStore.GetByID(lumen.db, id)
}

// SearchMedia runs a filtered, paginated search and returns the page
// along with the total number of matches.
func (lumen *Lumen) SearchMedia(params media.SearchParams) ([]*media.Media, int, error) {
	return lumen.mediaStore.Search(lumen.db, params)
}

// TagMedia replaces the asset's tag set.
func (lumen *Lumen) TagMedia(id uuid.UUID, tags []string) error {
	return lumen.mediaStore.UpdateTags(lumen.db, id, tags)
}

// UpdateMediaDetails updates the descriptive fields of an asset. Nil
// arguments leave the corresponding field untouched.
func (lumen *Lumen) UpdateMediaDetails(id uuid.UUID, altText *string, caption *string) error {
	return lumen.mediaStore.UpdateDetails(lumen.db, id, altText, caption)
}

// DeleteMedia removes the asset row and all of its stored files, then
// announces the deletion. The row delete comes first so a failure there
// leaves the asset fully intact.
func (lumen *Lumen) DeleteMedia(id uuid.UUID) error {
	asset, err := lumen.mediaStore.GetByID(lumen.db, id)
	if err != nil {
		return err
	}

	if err := lumen.mediaStore.Delete(lumen.db, id); err != nil {
		return err
	}

	lumen.removeAssetFiles(asset)
	lumen.eventBus.Dispatch(event.DeleteMediaEvent, id)
	return nil
}

// TrackEvent records an interaction event against an asset.
func (lumen *Lumen) TrackEvent(mediaID uuid.UUID, eventType analytics.EventType, actor analytics.ActorContext) error {
	return lumen.analytics.TrackEvent(mediaID, eventType, actor)
}

// GetAnalytics returns the rollup for one of the fixed windows.
func (lumen *Lumen) GetAnalytics(window analytics.Window) (*analytics.Rollup, error) {
	return lumen.analytics.Rollup(window)
}

func (lumen *Lumen) removeAssetFiles(asset *media.Media) {
	for _, relative := range asset.FilePaths() {
		err := os.Remove(filepath.Join(lumen.config.Ingest.StorageRootPath, relative))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Failed to remove file %s for deleted media %s: %v\n", relative, asset.ID, err)
		}
	}
}
