package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageSessionStart  Stage = "SESSION_START"
	StageSessionDone   Stage = "SESSION_DONE"
	StageFetched       Stage = "DOC_FETCHED"
	StageSkipped       Stage = "DOC_SKIPPED"
	StageDuplicate     Stage = "DOC_DUPLICATE"
	StageInsubstantial Stage = "DOC_INSUBSTANTIAL"
	StageChunked       Stage = "DOC_CHUNKED"
	StageDelivered     Stage = "DOC_DELIVERED"
	StageFailed        Stage = "DOC_FAILED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes for fetch events.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one pipeline milestone for a document or session.
type Event struct {
	// SessionID identifies the ingest session in 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC time the event was emitted.
	TS    time.Time
	Stage Stage
	// URL of the document; empty for session events.
	URL      string
	Category string
	// Bytes is the fetched body size.
	Bytes       int64
	StatusClass StatusClass
	// Chunks is set on DOC_CHUNKED.
	Chunks int
	// Similarity is set on DOC_DUPLICATE.
	Similarity float64
	// Dur is fetch latency for DOC_FETCHED and session runtime for
	// SESSION_DONE.
	Dur time.Duration
	// Note carries the duplicate reason or error text.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone:
	case StageFetched:
		if e.URL == "" {
			return errors.New("fetched event requires url")
		}
		if e.StatusClass == "" {
			return errors.New("fetched event requires status class")
		}
	case StageSkipped, StageDuplicate, StageInsubstantial, StageChunked, StageDelivered, StageFailed:
		if e.URL == "" {
			return fmt.Errorf("%s event requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Chunks < 0 {
		return errors.New("chunks must be >= 0")
	}
	return nil
}

// SessionUUID returns the session ID as a uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes. Zero means the body did not come
// over HTTP and is reported as 2xx.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return Status2xx
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
