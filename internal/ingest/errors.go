package ingest

import (
	"errors"
	"fmt"
)

// ErrBatchNotFound is returned when polling a bulk batch ID which was
// never started or has been forgotten.
var ErrBatchNotFound = errors.New("no batch was found with that ID")

// Reason is the stable code attached to every upload failure; callers
// receive exactly one structured error and can branch on this without
// string matching.
type Reason string

const (
	// ReasonValidation covers disallowed types and oversize payloads,
	// rejected before any processing with no side effects.
	ReasonValidation Reason = "VALIDATION_FAILED"

	// ReasonHashing covers I/O failures while fingerprinting the input;
	// the upload aborts before any record or file is created.
	ReasonHashing Reason = "HASHING_FAILED"

	// ReasonTranscoderUnavailable is raised for video uploads when the
	// transcoder capability was not detected at startup. Feature-level
	// and fatal, unlike per-tier rendition failures.
	ReasonTranscoderUnavailable Reason = "TRANSCODING_UNAVAILABLE"

	// ReasonProcessing covers pipeline-level transform failures (e.g. a
	// video that cannot even be probed). Per-variant failures never
	// surface here; they only degrade the manifest.
	ReasonProcessing Reason = "PROCESSING_FAILED"

	// ReasonPersistence covers failures writing the asset record; any
	// partially written files are rolled back before this is returned.
	ReasonPersistence Reason = "PERSISTENCE_FAILED"
)

// Error is the single structured error shape the ingest pipeline
// surfaces to callers.
type Error struct {
	Reason Reason
	cause  error
}

func newError(reason Reason, cause error) *Error {
	return &Error{Reason: reason, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Reason)
	}

	return fmt.Sprintf("%s: %s", e.Reason, e.cause.Error())
}

func (e *Error) Unwrap() error { return e.cause }
