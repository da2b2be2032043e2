package progress_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/internal/progress"
	"github.com/stretchr/testify/assert"
)

// A default event bus which should be used as a NOOP event bus. DO NOT subscribe to this
// inside of a test as the subscribers are not removed between tests.
var defaultEventBus = event.New()

func TestUploadSessionLifecycle(t *testing.T) {
	tracker := progress.NewTracker(defaultEventBus, progress.DefaultTTL)
	uploadID := tracker.Begin()

	session, err := tracker.Get(uploadID)
	assert.Nil(t, err)
	assert.Equal(t, progress.STARTING, session.Status)
	assert.Equal(t, 0, session.ProgressPercent)

	assert.Nil(t, tracker.SetProcessing(uploadID, 40))
	session, _ = tracker.Get(uploadID)
	assert.Equal(t, progress.PROCESSING, session.Status)
	assert.Equal(t, 40, session.ProgressPercent)

	assert.Nil(t, tracker.SetSaving(uploadID))
	session, _ = tracker.Get(uploadID)
	assert.Equal(t, progress.SAVING, session.Status)
	assert.Equal(t, 90, session.ProgressPercent)

	mediaID := uuid.New()
	assert.Nil(t, tracker.Complete(uploadID, mediaID))
	session, _ = tracker.Get(uploadID)
	assert.Equal(t, progress.COMPLETE, session.Status)
	assert.Equal(t, 100, session.ProgressPercent)
	assert.Equal(t, mediaID, *session.MediaID)
}

func TestTerminalSessionsRejectFurtherTransitions(t *testing.T) {
	tracker := progress.NewTracker(defaultEventBus, progress.DefaultTTL)

	uploadID := tracker.Begin()
	assert.Nil(t, tracker.Fail(uploadID, "PROCESSING_FAILED: boom"))

	assert.ErrorIs(t, tracker.SetProcessing(uploadID, 50), progress.ErrIllegalTransition)
	assert.ErrorIs(t, tracker.Complete(uploadID, uuid.New()), progress.ErrIllegalTransition)

	session, err := tracker.Get(uploadID)
	assert.Nil(t, err)
	assert.Equal(t, progress.ERRORED, session.Status)
	assert.Equal(t, "PROCESSING_FAILED: boom", session.Error)
}

func TestDuplicateIsTerminal(t *testing.T) {
	tracker := progress.NewTracker(defaultEventBus, progress.DefaultTTL)

	uploadID := tracker.Begin()
	existing := uuid.New()
	assert.Nil(t, tracker.Duplicate(uploadID, existing))

	session, err := tracker.Get(uploadID)
	assert.Nil(t, err)
	assert.Equal(t, progress.DUPLICATE, session.Status)
	assert.Equal(t, existing, *session.MediaID)
	assert.Equal(t, 100, session.ProgressPercent)

	assert.ErrorIs(t, tracker.SetSaving(uploadID), progress.ErrIllegalTransition)
}

func TestSkippingSavingIsNotAllowed(t *testing.T) {
	tracker := progress.NewTracker(defaultEventBus, progress.DefaultTTL)

	uploadID := tracker.Begin()
	assert.Nil(t, tracker.SetProcessing(uploadID, 20))
	assert.ErrorIs(t, tracker.Complete(uploadID, uuid.New()), progress.ErrIllegalTransition)
}

func TestProgressPercentIsClamped(t *testing.T) {
	tracker := progress.NewTracker(defaultEventBus, progress.DefaultTTL)

	uploadID := tracker.Begin()
	assert.Nil(t, tracker.SetProcessing(uploadID, 250))
	session, _ := tracker.Get(uploadID)
	assert.Equal(t, 100, session.ProgressPercent)

	assert.Nil(t, tracker.SetProcessing(uploadID, -10))
	session, _ = tracker.Get(uploadID)
	assert.Equal(t, 0, session.ProgressPercent)
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	tracker := progress.NewTracker(defaultEventBus, progress.DefaultTTL)

	_, err := tracker.Get(uuid.New())
	assert.ErrorIs(t, err, progress.ErrSessionNotFound)
	assert.ErrorIs(t, tracker.SetProcessing(uuid.New(), 10), progress.ErrSessionNotFound)
}

func TestTerminalSessionsAreEvictedAfterTTL(t *testing.T) {
	tracker := progress.NewTracker(defaultEventBus, time.Millisecond*10)

	finished := tracker.Begin()
	assert.Nil(t, tracker.Fail(finished, "boom"))
	inflight := tracker.Begin()

	time.Sleep(time.Millisecond * 20)
	tracker.EvictExpired()

	_, err := tracker.Get(finished)
	assert.ErrorIs(t, err, progress.ErrSessionNotFound)

	// Non-terminal sessions are never evicted, regardless of age.
	_, err = tracker.Get(inflight)
	assert.Nil(t, err)
}
