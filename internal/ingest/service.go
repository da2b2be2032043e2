package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/internal/image"
	"github.com/lumenworks/lumen/internal/media"
	"github.com/lumenworks/lumen/internal/transcode"
	"github.com/lumenworks/lumen/pkg/logger"
)

var log = logger.Get("Ingest")

type (
	// Store is the subset of the media store the ingestion service relies
	// on for dedup lookups and final persistence.
	Store interface {
		Save(db database.Queryable, m *media.Media) error
		GetByHash(db database.Queryable, hash string) (*media.Media, error)
	}

	// ImagePipeline produces the variant ladder for image uploads.
	ImagePipeline interface {
		Process(ctx context.Context, sourcePath string, baseName string) *image.Result
	}

	// VideoPipeline probes and transcodes video uploads. A nil pipeline
	// (no usable ffmpeg install) causes video uploads to be rejected
	// outright rather than accepted and left unprocessed.
	VideoPipeline interface {
		Process(ctx context.Context, sourcePath string, baseName string) (*transcode.Result, error)
	}

	// ProgressTracker receives the lifecycle milestones of each upload.
	ProgressTracker interface {
		Begin() uuid.UUID
		SetProcessing(uploadID uuid.UUID, percent int) error
		SetSaving(uploadID uuid.UUID) error
		Complete(uploadID uuid.UUID, mediaID uuid.UUID) error
		Duplicate(uploadID uuid.UUID, existingMediaID uuid.UUID) error
		Fail(uploadID uuid.UUID, reason string) error
	}

	// UploadRequest is one inbound payload plus the caller-supplied
	// descriptive fields persisted verbatim alongside it.
	UploadRequest struct {
		Reader       io.Reader
		OriginalName string
		MimeType     string
		AltText      string
		Caption      string
		Tags         []string
	}

	// UploadOutcome reports where an upload ended up. Duplicate outcomes
	// carry the pre-existing asset rather than a freshly created one.
	UploadOutcome struct {
		UploadID  uuid.UUID
		Media     *media.Media
		Duplicate bool
	}

	// Service owns the ingestion flow: content hashing, deduplication,
	// placement in the storage tree, pipeline dispatch and persistence.
	// Uploads run on the caller's goroutine; the service itself holds no
	// background loop.
	Service struct {
		config       Config
		db           database.Queryable
		store        Store
		images       ImagePipeline
		videos       VideoPipeline
		tracker      ProgressTracker
		eventBus     event.EventDispatcher
		reservations *ReservationSet
	}
)

func New(
	config Config,
	db database.Queryable,
	store Store,
	images ImagePipeline,
	videos VideoPipeline,
	tracker ProgressTracker,
	eventBus event.EventDispatcher,
	reservations *ReservationSet,
) *Service {
	return &Service{
		config:       config,
		db:           db,
		store:        store,
		images:       images,
		videos:       videos,
		tracker:      tracker,
		eventBus:     eventBus,
		reservations: reservations,
	}
}

// Upload ingests a single payload end to end. The returned outcome always
// carries the upload session ID; on failure the session is marked errored
// and a structured Error explains which stage gave up. Partial artefacts
// written before a failure are removed before returning.
func (service *Service) Upload(ctx context.Context, request UploadRequest) (*UploadOutcome, error) {
	uploadID := service.tracker.Begin()
	outcome := &UploadOutcome{UploadID: uploadID}

	if err := service.validate(request); err != nil {
		service.tracker.Fail(uploadID, err.Error())
		return outcome, err
	}

	tempDir := filepath.Join(service.config.StorageRootPath, service.config.TempDirectoryName)
	contentHash, size, tempPath, err := spoolAndHash(request.Reader, service.config.MaxFileSizeBytes, tempDir)
	if err != nil {
		reason := ReasonHashing
		if errors.Is(err, errPayloadTooLarge) || errors.Is(err, errPayloadEmpty) {
			reason = ReasonValidation
		}

		wrapped := newError(reason, err)
		service.tracker.Fail(uploadID, wrapped.Error())
		return outcome, wrapped
	}

	if existing, err := service.store.GetByHash(service.db, contentHash); err == nil {
		os.Remove(tempPath)
		service.tracker.Duplicate(uploadID, existing.ID)

		log.Debugf("Upload %s matched existing asset %s by content hash, skipping processing\n", uploadID, existing.ID)
		outcome.Media = existing
		outcome.Duplicate = true
		return outcome, nil
	} else if !errors.Is(err, media.ErrMediaNotFound) {
		os.Remove(tempPath)
		wrapped := newError(ReasonPersistence, err)
		service.tracker.Fail(uploadID, wrapped.Error())
		return outcome, wrapped
	}

	asset, err := service.processUpload(ctx, uploadID, request, contentHash, size, tempPath)
	if err != nil {
		service.tracker.Fail(uploadID, err.Error())
		return outcome, err
	}
	if asset == nil {
		// Lost the persistence race to a concurrent identical upload.
		winner, err := service.store.GetByHash(service.db, contentHash)
		if err != nil {
			wrapped := newError(ReasonPersistence, err)
			service.tracker.Fail(uploadID, wrapped.Error())
			return outcome, wrapped
		}

		service.tracker.Duplicate(uploadID, winner.ID)
		outcome.Media = winner
		outcome.Duplicate = true
		return outcome, nil
	}

	service.tracker.Complete(uploadID, asset.ID)
	service.eventBus.Dispatch(event.NewMediaEvent, asset.ID)

	outcome.Media = asset
	return outcome, nil
}

// validate applies the accept rules which need no payload bytes: the MIME
// accept list and the availability of a pipeline able to handle the
// category.
func (service *Service) validate(request UploadRequest) error {
	if strings.TrimSpace(request.OriginalName) == "" {
		return newError(ReasonValidation, errors.New("upload has no file name"))
	}
	if !service.config.MimeTypeAllowed(request.MimeType) {
		return newError(ReasonValidation, fmt.Errorf("mime type %q is not accepted", request.MimeType))
	}
	if media.CategoryOf(request.MimeType) == media.VIDEO && service.videos == nil {
		return newError(ReasonTranscoderUnavailable, errors.New("no transcoder is available to process video uploads"))
	}

	return nil
}

// processUpload performs everything between a successful hash and the
// terminal tracker transition: placement of the original, pipeline
// dispatch and the row insert. A nil, nil return means the insert lost the
// dedup race and the caller should resolve the winning row.
func (service *Service) processUpload(
	ctx context.Context,
	uploadID uuid.UUID,
	request UploadRequest,
	contentHash string,
	size int64,
	tempPath string,
) (*media.Media, error) {
	category := media.CategoryOf(request.MimeType)
	storedName := storageSafeName(request.OriginalName, contentHash)
	relativePath := filepath.Join(string(category), storedName)
	absolutePath := filepath.Join(service.config.StorageRootPath, relativePath)

	service.reservations.Reserve(relativePath)
	ownedPaths := []string{relativePath}
	defer func() { service.reservations.Release(ownedPaths...) }()

	if err := os.MkdirAll(filepath.Dir(absolutePath), 0o755); err != nil {
		os.Remove(tempPath)
		return nil, newError(ReasonProcessing, fmt.Errorf("failed to create category directory: %w", err))
	}
	if err := os.Rename(tempPath, absolutePath); err != nil {
		os.Remove(tempPath)
		return nil, newError(ReasonProcessing, fmt.Errorf("failed to move upload in to storage: %w", err))
	}

	service.tracker.SetProcessing(uploadID, 20)

	asset := &media.Media{}
	asset.ID = uuid.New()
	asset.ContentHash = contentHash
	asset.OriginalName = request.OriginalName
	asset.FileName = storedName
	asset.SourcePath = relativePath
	asset.MimeType = request.MimeType
	asset.FileSize = size
	asset.AltText = request.AltText
	asset.Caption = request.Caption
	asset.Tags = request.Tags
	asset.State = media.COMPLETE

	if format := strings.TrimPrefix(filepath.Ext(storedName), "."); format != "" {
		asset.Format = &format
	}

	baseName := strings.TrimSuffix(storedName, filepath.Ext(storedName))
	if err := service.runPipeline(ctx, category, asset, absolutePath, baseName); err != nil {
		service.removeOwnedFiles(ownedPaths)
		return nil, err
	}

	ownedPaths = asset.FilePaths()
	service.reservations.Reserve(ownedPaths...)

	service.tracker.SetProcessing(uploadID, 80)
	service.tracker.SetSaving(uploadID)

	if err := service.store.Save(service.db, asset); err != nil {
		service.removeOwnedFiles(ownedPaths)
		if errors.Is(err, media.ErrHashConflict) {
			return nil, nil
		}

		return nil, newError(ReasonPersistence, err)
	}

	return asset, nil
}

// runPipeline dispatches the stored original to the pipeline matching its
// category and folds the result in to the asset. Audio and document
// uploads carry no derived variants and pass straight through.
func (service *Service) runPipeline(ctx context.Context, category media.Category, asset *media.Media, absolutePath string, baseName string) error {
	switch category {
	case media.IMAGE:
		result := service.images.Process(ctx, absolutePath, baseName)
		asset.Width = &result.Width
		asset.Height = &result.Height
		asset.Variants = result.Variants
		asset.Metadata = &media.Metadata{
			Placeholder: result.Placeholder,
			Palette:     result.Palette,
		}
	case media.VIDEO:
		result, err := service.videos.Process(ctx, absolutePath, baseName)
		if err != nil {
			return newError(ReasonProcessing, err)
		}

		asset.Width = &result.Width
		asset.Height = &result.Height
		asset.Duration = &result.Duration
		asset.Variants = result.Variants
		asset.Metadata = &media.Metadata{
			Codec:     result.Codec,
			FrameRate: result.FrameRate,
			PosterURL: result.PosterURL,
		}
	}

	return nil
}

// removeOwnedFiles deletes the given storage-relative paths, tolerating
// files which were never written.
func (service *Service) removeOwnedFiles(relativePaths []string) {
	for _, relative := range relativePaths {
		if err := os.Remove(filepath.Join(service.config.StorageRootPath, relative)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Failed to remove file %s while rolling back an upload: %v\n", relative, err)
		}
	}
}
