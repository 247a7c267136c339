// Package event defines the event domain model shared by the ingestion
// service and the worker pool.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for structural validation failures.
var (
	ErrNilEvent           = errors.New("event cannot be nil")
	ErrInvalidKind        = errors.New("invalid kind")
	ErrInvalidFingerprint = errors.New("fingerprint must be a valid UUID")
	ErrMalformedPayload   = errors.New("malformed event payload")
)

// Kind identifies the business meaning of an event.
type Kind string

// Supported event kinds.
const (
	KindPurchase   Kind = "purchase"
	KindUserSignup Kind = "user_signup"
	KindPageView   Kind = "page_view"
	KindCustom     Kind = "custom"
)

// IsValid reports whether the kind is one of the supported values.
func (k Kind) IsValid() bool {
	switch k {
	case KindPurchase, KindUserSignup, KindPageView, KindCustom:
		return true
	}

	return false
}

// String returns the kind as a plain string.
func (k Kind) String() string {
	return string(k)
}

// Event is one submitted fact flowing through the pipeline.
//
// The fingerprint is the unit of idempotency: supplied by the producer or
// synthesized at ingestion, and never changed downstream. It doubles as the
// correlation id on every log record emitted for this event.
type Event struct {
	Fingerprint uuid.UUID              `json:"fingerprint"`
	Kind        Kind                   `json:"kind"`
	SubjectID   string                 `json:"subject_id,omitempty"` //nolint: tagliatelle
	OccurredAt  time.Time              `json:"occurred_at"`          //nolint: tagliatelle
	Properties  map[string]interface{} `json:"properties"`
}

// CorrelationID returns the identifier carried across all log records for
// this event. It is always equal to the fingerprint.
func (e *Event) CorrelationID() string {
	return e.Fingerprint.String()
}

// Validate checks structural invariants: a recognized kind and a non-nil
// fingerprint. Kind-specific business rules are applied later by the worker.
func (e *Event) Validate() error {
	if e == nil {
		return ErrNilEvent
	}

	if !e.Kind.IsValid() {
		return fmt.Errorf(
			"%w: %q (valid: purchase, user_signup, page_view, custom)",
			ErrInvalidKind, e.Kind,
		)
	}

	if e.Fingerprint == uuid.Nil {
		return ErrInvalidFingerprint
	}

	return nil
}

// Normalize fills in defaults for fields a producer may omit: a synthesized
// fingerprint, a server-clock occurred-at, and a non-nil properties map.
func (e *Event) Normalize(now time.Time) {
	if e.Fingerprint == uuid.Nil {
		e.Fingerprint = uuid.New()
	}

	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}

	if e.Properties == nil {
		e.Properties = make(map[string]interface{})
	}
}

// Encode serializes the event for the queue entry payload. Raw and processed
// records reconstruct the original submission from this payload.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	return data, nil
}

// Decode parses a queue entry payload back into an event.
// Undecodable payloads are reported as ErrMalformedPayload so the worker can
// dead-letter them without retrying.
func Decode(payload []byte) (*Event, error) {
	var e Event

	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	return &e, nil
}
