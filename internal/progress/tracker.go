package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/pkg/logger"
)

var (
	log = logger.Get("Progress")

	ErrSessionNotFound   = errors.New("no upload session found")
	ErrIllegalTransition = errors.New("illegal upload session transition")
)

type (
	Status string

	// Session is the externally visible state of one upload. Sessions are
	// created at ingest start and mutated only by the owning pipeline run;
	// consumers receive copies.
	Session struct {
		UploadID        uuid.UUID
		MediaID         *uuid.UUID
		Status          Status
		ProgressPercent int
		Error           string
	}

	session struct {
		Session
		terminalAt *time.Time
	}

	// Tracker owns the per-upload state machines, publishes lifecycle
	// notifications on the event bus and evicts terminal sessions after a
	// bounded retention window to bound memory. Each upload's transitions
	// are independent; one mutex guards only the map itself.
	Tracker struct {
		mu       sync.Mutex
		sessions map[uuid.UUID]*session
		eventBus event.EventDispatcher
		ttl      time.Duration
	}
)

const (
	STARTING   Status = "starting"
	PROCESSING Status = "processing"
	SAVING     Status = "saving"
	COMPLETE   Status = "complete"
	DUPLICATE  Status = "duplicate"
	ERRORED    Status = "error"

	// DefaultTTL is how long terminal sessions linger for late pollers
	// before eviction.
	DefaultTTL = time.Minute * 5

	evictionInterval = time.Second * 30
)

// legalTransitions encodes the session state machine:
// starting -> processing -> saving -> {complete | duplicate | error}.
// The error state is reachable from anywhere; terminal states go nowhere.
var legalTransitions = map[Status][]Status{
	STARTING:   {PROCESSING, SAVING, DUPLICATE, ERRORED},
	PROCESSING: {PROCESSING, SAVING, ERRORED},
	SAVING:     {COMPLETE, DUPLICATE, ERRORED},
}

func NewTracker(eventBus event.EventDispatcher, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Tracker{
		sessions: make(map[uuid.UUID]*session),
		eventBus: eventBus,
		ttl:      ttl,
	}
}

// Run blocks until the context is cancelled, periodically evicting
// sessions which reached a terminal state longer than the TTL ago.
func (tracker *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tracker.EvictExpired()
		case <-ctx.Done():
			return nil
		}
	}
}

// Begin creates a new session in the 'starting' state and announces it
// on the event bus. The returned ID identifies the session for all
// subsequent transitions.
func (tracker *Tracker) Begin() uuid.UUID {
	uploadID := uuid.New()

	tracker.mu.Lock()
	tracker.sessions[uploadID] = &session{Session: Session{
		UploadID: uploadID,
		Status:   STARTING,
	}}
	tracker.mu.Unlock()

	tracker.eventBus.Dispatch(event.UploadStartEvent, uploadID)
	return uploadID
}

// SetProcessing moves the session in to the processing state, updating
// the coarse progress percentage.
func (tracker *Tracker) SetProcessing(uploadID uuid.UUID, percent int) error {
	return tracker.transition(uploadID, PROCESSING, func(s *session) {
		s.ProgressPercent = clampPercent(percent)
	})
}

func (tracker *Tracker) SetSaving(uploadID uuid.UUID) error {
	return tracker.transition(uploadID, SAVING, func(s *session) {
		s.ProgressPercent = 90
	})
}

func (tracker *Tracker) Complete(uploadID uuid.UUID, mediaID uuid.UUID) error {
	err := tracker.transition(uploadID, COMPLETE, func(s *session) {
		s.MediaID = &mediaID
		s.ProgressPercent = 100
	})
	if err != nil {
		return err
	}

	tracker.eventBus.Dispatch(event.UploadCompleteEvent, uploadID)
	return nil
}

func (tracker *Tracker) Duplicate(uploadID uuid.UUID, existingMediaID uuid.UUID) error {
	err := tracker.transition(uploadID, DUPLICATE, func(s *session) {
		s.MediaID = &existingMediaID
		s.ProgressPercent = 100
	})
	if err != nil {
		return err
	}

	tracker.eventBus.Dispatch(event.UploadDuplicateEvent, uploadID)
	return nil
}

func (tracker *Tracker) Fail(uploadID uuid.UUID, reason string) error {
	err := tracker.transition(uploadID, ERRORED, func(s *session) {
		s.Error = reason
	})
	if err != nil {
		return err
	}

	tracker.eventBus.Dispatch(event.UploadErrorEvent, uploadID)
	return nil
}

// Get returns a copy of the session with the ID provided.
func (tracker *Tracker) Get(uploadID uuid.UUID) (Session, error) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	s, ok := tracker.sessions[uploadID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	return s.Session, nil
}

func (tracker *Tracker) transition(uploadID uuid.UUID, to Status, mutate func(*session)) error {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	s, ok := tracker.sessions[uploadID]
	if !ok {
		return ErrSessionNotFound
	}

	if !transitionAllowed(s.Status, to) {
		log.Warnf("Refusing illegal session transition %s -> %s for upload %s\n", s.Status, to, uploadID)
		return ErrIllegalTransition
	}

	s.Status = to
	mutate(s)

	if isTerminal(to) {
		now := time.Now()
		s.terminalAt = &now
	}

	return nil
}

// EvictExpired removes sessions which reached a terminal state longer
// than the TTL ago. In-flight sessions are never evicted.
func (tracker *Tracker) EvictExpired() {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	for id, s := range tracker.sessions {
		if s.terminalAt != nil && time.Since(*s.terminalAt) > tracker.ttl {
			log.Verbosef("Evicting expired upload session %s (%s)\n", id, s.Status)
			delete(tracker.sessions, id)
		}
	}
}

func transitionAllowed(from Status, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func isTerminal(status Status) bool {
	return status == COMPLETE || status == DUPLICATE || status == ERRORED
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}

	return percent
}
