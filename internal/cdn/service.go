package cdn

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/internal/media"
	"github.com/lumenworks/lumen/pkg/logger"
)

var log = logger.Get("CDN")

// retryBatchSize caps how many un-synced assets a single retry pass
// attempts; stragglers are picked up by the next tick.
const retryBatchSize = 25

type (
	// Store is the slice of the media store the sync agent reads and
	// updates.
	Store interface {
		GetByID(db database.Queryable, id uuid.UUID) (*media.Media, error)
		SetCDNUrl(db database.Queryable, id uuid.UUID, url string) error
		ListPendingCDNSync(db database.Queryable, limit int) ([]*media.Media, error)
	}

	// Service mirrors persisted assets to the distribution network. It
	// reacts to new-media events as they happen and sweeps for stragglers
	// on an interval, so a failed push is retried rather than lost.
	Service struct {
		config   Config
		rootDir  string
		db       database.Queryable
		store    Store
		uploader Uploader
		eventBus event.EventCoordinator

		mediaEvents event.HandlerChannel
	}
)

func New(config Config, rootDir string, db database.Queryable, store Store, uploader Uploader, eventBus event.EventCoordinator) *Service {
	service := &Service{
		config:      config,
		rootDir:     rootDir,
		db:          db,
		store:       store,
		uploader:    uploader,
		eventBus:    eventBus,
		mediaEvents: make(event.HandlerChannel, 64),
	}

	eventBus.RegisterHandlerChannel(service.mediaEvents, event.NewMediaEvent)
	return service
}

// Run consumes new-media notifications and runs the periodic retry pass
// until the context is cancelled. The retry pass doubles as the initial
// catch-up for assets persisted while the agent was down.
func (service *Service) Run(ctx context.Context) error {
	service.retryPending(ctx)

	ticker := time.NewTicker(time.Duration(service.config.RetryIntervalMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case message := <-service.mediaEvents:
			mediaID, ok := message.Payload.(uuid.UUID)
			if !ok {
				log.Errorf("Ignoring %s event with unexpected payload %T\n", message.Event, message.Payload)
				continue
			}

			if err := service.syncByID(ctx, mediaID); err != nil {
				log.Warnf("Sync of media %s failed (will retry): %v\n", mediaID, err)
			}
		case <-ticker.C:
			service.retryPending(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (service *Service) syncByID(ctx context.Context, mediaID uuid.UUID) error {
	asset, err := service.store.GetByID(service.db, mediaID)
	if err != nil {
		return fmt.Errorf("failed to fetch media for sync: %w", err)
	}

	return service.sync(ctx, asset)
}

// sync pushes the stored original and every derived file for the asset,
// then records the public URL of the original. The URL write is last so a
// partially pushed asset stays eligible for retry.
func (service *Service) sync(ctx context.Context, asset *media.Media) error {
	for _, relative := range asset.FilePaths() {
		if err := service.pushFile(ctx, relative); err != nil {
			return err
		}
	}

	url := service.uploader.PublicURL(filepath.ToSlash(asset.SourcePath))
	if err := service.store.SetCDNUrl(service.db, asset.ID, url); err != nil {
		return fmt.Errorf("failed to record CDN URL: %w", err)
	}

	log.Infof("Media %s pushed to distribution network (%d files)\n", asset.ID, len(asset.FilePaths()))
	service.eventBus.Dispatch(event.CDNCompleteEvent, asset.ID)
	return nil
}

func (service *Service) pushFile(ctx context.Context, relativePath string) error {
	file, err := os.Open(filepath.Join(service.rootDir, relativePath))
	if err != nil {
		return fmt.Errorf("failed to open %s for sync: %w", relativePath, err)
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(relativePath))
	return service.uploader.Upload(ctx, filepath.ToSlash(relativePath), file, contentType)
}

func (service *Service) retryPending(ctx context.Context) {
	pending, err := service.store.ListPendingCDNSync(service.db, retryBatchSize)
	if err != nil {
		log.Errorf("Failed to list assets pending CDN sync: %v\n", err)
		return
	}

	for _, asset := range pending {
		if ctx.Err() != nil {
			return
		}

		if err := service.sync(ctx, asset); err != nil {
			log.Warnf("Retry sync of media %s failed: %v\n", asset.ID, err)
		}
	}
}
