package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/event"
)

type (
	// BulkItemResult is the outcome of one item in a batch. Exactly one of
	// MediaID or Error is meaningful depending on Success; duplicates are
	// treated as successes and resolve to the surviving asset.
	BulkItemResult struct {
		OriginalName string    `json:"original_name"`
		Success      bool      `json:"success"`
		Duplicate    bool      `json:"duplicate"`
		MediaID      uuid.UUID `json:"media_id,omitempty"`
		Error        string    `json:"error,omitempty"`
	}

	// BatchProgress is a point-in-time view of a running (or finished)
	// batch, safe to hand out to pollers.
	BatchProgress struct {
		BatchID   uuid.UUID        `json:"batch_id"`
		Total     int              `json:"total"`
		Completed int              `json:"completed"`
		Results   []BulkItemResult `json:"results"`
		Finished  bool             `json:"finished"`
	}

	batchRecord struct {
		BatchProgress
		finishedAt *time.Time
	}

	// BulkCoordinator runs batches of uploads through the ingestion
	// service one at a time. Items run sequentially so a batch of heavy
	// videos cannot saturate the pipelines all at once; the per-item
	// results feed a progress view keyed by batch ID. Finished batches
	// linger for late pollers and are evicted after the retention TTL
	// to bound memory.
	BulkCoordinator struct {
		mutex    sync.Mutex
		service  *Service
		eventBus event.EventDispatcher
		batches  map[uuid.UUID]*batchRecord
		ttl      time.Duration
	}
)

const (
	// DefaultBatchTTL is how long a finished batch remains pollable
	// before eviction.
	DefaultBatchTTL = time.Minute * 5

	batchEvictionInterval = time.Second * 30
)

func NewBulkCoordinator(service *Service, eventBus event.EventDispatcher, ttl time.Duration) *BulkCoordinator {
	if ttl <= 0 {
		ttl = DefaultBatchTTL
	}

	return &BulkCoordinator{
		service:  service,
		eventBus: eventBus,
		batches:  make(map[uuid.UUID]*batchRecord),
		ttl:      ttl,
	}
}

// Run blocks until the context is cancelled, periodically evicting
// batches which finished longer than the TTL ago.
func (coordinator *BulkCoordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(batchEvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			coordinator.EvictExpired()
		case <-ctx.Done():
			return nil
		}
	}
}

// UploadBatch ingests each request in order, recording each item's outcome
// as it lands and announcing batch progress after every item. One item
// failing never aborts the remainder; a cancelled context does.
func (coordinator *BulkCoordinator) UploadBatch(ctx context.Context, requests []UploadRequest) (*BatchProgress, error) {
	batchID := uuid.New()
	coordinator.mutex.Lock()
	coordinator.batches[batchID] = &batchRecord{BatchProgress: BatchProgress{
		BatchID: batchID,
		Total:   len(requests),
		Results: make([]BulkItemResult, 0, len(requests)),
	}}
	coordinator.mutex.Unlock()

	for _, request := range requests {
		if err := ctx.Err(); err != nil {
			coordinator.finish(batchID)
			return coordinator.Progress(batchID)
		}

		item := BulkItemResult{OriginalName: request.OriginalName}
		if outcome, err := coordinator.service.Upload(ctx, request); err != nil {
			item.Error = err.Error()
		} else {
			item.Success = true
			item.Duplicate = outcome.Duplicate
			item.MediaID = outcome.Media.ID
		}

		coordinator.record(batchID, item)
		coordinator.eventBus.Dispatch(event.BulkProgressEvent, batchID)
	}

	coordinator.finish(batchID)
	return coordinator.Progress(batchID)
}

// Progress returns a copy of the batch state, or ErrBatchNotFound if the
// batch ID is unknown.
func (coordinator *BulkCoordinator) Progress(batchID uuid.UUID) (*BatchProgress, error) {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()

	batch, found := coordinator.batches[batchID]
	if !found {
		return nil, ErrBatchNotFound
	}

	view := batch.BatchProgress
	view.Results = append([]BulkItemResult(nil), batch.Results...)
	return &view, nil
}

// EvictExpired removes batches which finished longer than the TTL ago.
// Batches still running are never evicted.
func (coordinator *BulkCoordinator) EvictExpired() {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()

	for id, batch := range coordinator.batches {
		if batch.finishedAt != nil && time.Since(*batch.finishedAt) > coordinator.ttl {
			delete(coordinator.batches, id)
		}
	}
}

func (coordinator *BulkCoordinator) record(batchID uuid.UUID, item BulkItemResult) {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()

	if batch, found := coordinator.batches[batchID]; found {
		batch.Results = append(batch.Results, item)
		batch.Completed++
	}
}

func (coordinator *BulkCoordinator) finish(batchID uuid.UUID) {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()

	if batch, found := coordinator.batches[batchID]; found && !batch.Finished {
		batch.Finished = true
		now := time.Now()
		batch.finishedAt = &now
	}
}
