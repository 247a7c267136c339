package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eventflow-io/eventflow/internal/config"
)

// Sentinel errors for event storage operations.
var (
	// ErrDuplicateRaw is returned when a raw insert hits the fingerprint unique index.
	// The producer replayed a submission before receiving its first response.
	ErrDuplicateRaw = errors.New("raw event already recorded for fingerprint")

	// ErrDuplicateProcessed is returned when a processed insert hits the
	// fingerprint unique index. Another worker won the race; the caller treats
	// the delivery as a duplicate and acknowledges it.
	ErrDuplicateProcessed = errors.New("processed event already recorded for fingerprint")
)

// uniqueViolation is the PostgreSQL error code for unique-constraint violations.
const uniqueViolation = "23505"

type (
	// RawRecord is the immutable audit record of an accepted submission.
	RawRecord struct {
		Fingerprint uuid.UUID
		Payload     []byte
		ReceivedAt  time.Time
	}

	// ProcessedRecord is the terminal success record for a fingerprint.
	ProcessedRecord struct {
		Fingerprint uuid.UUID
		Kind        string
		SubjectID   string
		OccurredAt  time.Time
		Properties  map[string]interface{}
		ProcessedAt time.Time
		Status      string
		Enrichment  map[string]interface{}
		RetryCount  int
	}

	// FailedRecord is one dead-letter entry for a permanently rejected delivery.
	FailedRecord struct {
		Fingerprint uuid.UUID
		Payload     []byte
		ErrorMsg    string
		FailedAt    time.Time
		RetryCount  int
	}
)

// EventStore implements transactional writes and dedup reads over the
// raw_events, processed_events, and failed_events tables.
//
// Ownership: the ingestion service calls InsertRaw exclusively; workers call
// ExistsProcessed, InsertProcessed, and InsertFailed exclusively.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEventStore creates a PostgreSQL-backed event store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewEventStore(conn *Connection) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("EVENTFLOW_LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the underlying connection is ready to serve requests.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// Close releases no resources of its own: the connection is managed
// externally via dependency injection and closed by the caller.
func (s *EventStore) Close() error {
	return nil
}

// InsertRaw appends the audit record for an accepted submission.
// A fingerprint collision on the unique index is reported as ErrDuplicateRaw.
func (s *EventStore) InsertRaw(ctx context.Context, record *RawRecord) error {
	opCtx, cancel := s.conn.OpContext(ctx)
	defer cancel()

	query := `
		INSERT INTO raw_events (fingerprint, payload, received_at)
		VALUES ($1, $2, $3)
	`

	if _, err := s.conn.DB().ExecContext(opCtx, query, record.Fingerprint, record.Payload, record.ReceivedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRaw, record.Fingerprint)
		}

		return fmt.Errorf("failed to insert raw event: %w", err)
	}

	return nil
}

// ExistsProcessed reports whether a terminal success record exists for the
// fingerprint. Point lookup on the unique index.
func (s *EventStore) ExistsProcessed(ctx context.Context, fingerprint uuid.UUID) (bool, error) {
	opCtx, cancel := s.conn.OpContext(ctx)
	defer cancel()

	query := `SELECT EXISTS (SELECT 1 FROM processed_events WHERE fingerprint = $1)`

	var exists bool

	if err := s.conn.DB().QueryRowContext(opCtx, query, fingerprint).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}

	return exists, nil
}

// InsertProcessed writes the terminal success record in a fresh transaction.
// A unique-index violation means another worker already persisted this
// fingerprint; it is reported as ErrDuplicateProcessed so the caller can
// treat the delivery as a duplicate.
func (s *EventStore) InsertProcessed(ctx context.Context, record *ProcessedRecord) error {
	properties, err := json.Marshal(record.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	enrichment, err := json.Marshal(record.Enrichment)
	if err != nil {
		return fmt.Errorf("failed to encode enrichment: %w", err)
	}

	opCtx, cancel := s.conn.OpContext(ctx)
	defer cancel()

	query := `
		INSERT INTO processed_events
			(fingerprint, kind, subject_id, occurred_at, properties, processed_at, status, enrichment, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.conn.DB().ExecContext(opCtx, query,
		record.Fingerprint,
		record.Kind,
		nullableString(record.SubjectID),
		record.OccurredAt,
		properties,
		record.ProcessedAt,
		record.Status,
		enrichment,
		record.RetryCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateProcessed, record.Fingerprint)
		}

		return fmt.Errorf("failed to insert processed event: %w", err)
	}

	return nil
}

// InsertFailed appends a dead-letter record. No uniqueness: a fingerprint may
// fail repeatedly before eventually succeeding. Payloads that are not valid
// JSON (the malformed-payload path) are wrapped in a base64 envelope so the
// JSONB column accepts them and the dead-letter write itself cannot fail on
// the very bytes it is recording.
func (s *EventStore) InsertFailed(ctx context.Context, record *FailedRecord) error {
	payload, err := jsonSafePayload(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter payload: %w", err)
	}

	opCtx, cancel := s.conn.OpContext(ctx)
	defer cancel()

	query := `
		INSERT INTO failed_events (fingerprint, payload, error_message, failed_at, retry_count)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.conn.DB().ExecContext(opCtx, query,
		record.Fingerprint,
		payload,
		record.ErrorMsg,
		record.FailedAt,
		record.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead-letter record: %w", err)
	}

	return nil
}

// CountProcessed returns the number of processed records for a fingerprint.
// Used by operational queries and tests asserting the dedup invariant.
func (s *EventStore) CountProcessed(ctx context.Context, fingerprint uuid.UUID) (int, error) {
	opCtx, cancel := s.conn.OpContext(ctx)
	defer cancel()

	query := `SELECT COUNT(*) FROM processed_events WHERE fingerprint = $1`

	var count int

	if err := s.conn.DB().QueryRowContext(opCtx, query, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count processed events: %w", err)
	}

	return count, nil
}

// IsTransient classifies a store error as retriable. Duplicate-key outcomes
// are terminal business results, never retried; everything else (connection
// loss, timeouts, pool exhaustion) is assumed transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDuplicateRaw) || errors.Is(err, ErrDuplicateProcessed) {
		return false
	}

	return true
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}

	return false
}

// nullableString maps an empty string to SQL NULL.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// jsonSafePayload returns the payload in a form the JSONB column accepts.
// Valid JSON passes through untouched; anything else becomes
// {"raw":"<base64>"} so the original bytes survive for inspection.
func jsonSafePayload(payload []byte) ([]byte, error) {
	if json.Valid(payload) {
		return payload, nil
	}

	return json.Marshal(map[string]string{"raw": base64.StdEncoding.EncodeToString(payload)})
}
