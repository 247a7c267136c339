// Package processor implements the per-event state machine: dedup lookup,
// business validation, enrichment, and persistence with bounded retries.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/eventflow-io/eventflow/internal/config"
	"github.com/eventflow-io/eventflow/internal/event"
	"github.com/eventflow-io/eventflow/internal/metrics"
	"github.com/eventflow-io/eventflow/internal/storage"
)

// Outcome is the terminal classification of one delivery.
type Outcome string

// Terminal outcomes. Every outcome except OutcomeUnknown means the delivery
// is finished and the entry can be acknowledged.
const (
	OutcomeUnknown    Outcome = ""
	OutcomeProcessed  Outcome = "processed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeRejected   Outcome = "rejected"
	OutcomeDeadLetter Outcome = "dead_letter"
)

// statusCompleted is the terminal status written to processed records.
const statusCompleted = "completed"

// Failure reason labels for the events_failed_total counter.
const (
	reasonValidation = "validation"
	reasonPersist    = "persist"
	reasonMalformed  = "malformed"
)

// kindUnknown labels metrics for payloads whose kind never decoded.
const kindUnknown = "unknown"

// Store is the persistence surface the state machine needs.
type Store interface {
	ExistsProcessed(ctx context.Context, fingerprint uuid.UUID) (bool, error)
	InsertProcessed(ctx context.Context, record *storage.ProcessedRecord) error
	InsertFailed(ctx context.Context, record *storage.FailedRecord) error
}

// Processor drives one delivery through the state machine. Safe for
// concurrent use: all per-delivery state lives on the stack.
type Processor struct {
	store   Store
	metrics *metrics.Metrics
	cfg     *Config
	rules   *Rules
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a processor, loading the enrichment rules overlay when one is
// configured.
func New(store Store, m *metrics.Metrics, cfg *Config) (*Processor, error) {
	if store == nil {
		return nil, storage.ErrNoDatabaseConnection
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor configuration: %w", err)
	}

	var rules *Rules

	if cfg.RulesFile != "" {
		loaded, err := LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}

		rules = loaded
	}

	return &Processor{
		store:   store,
		metrics: m,
		cfg:     cfg,
		rules:   rules,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("EVENTFLOW_LOG_LEVEL", slog.LevelInfo),
		})).With("worker_id", cfg.WorkerID),
		now: time.Now,
	}, nil
}

// threshold resolves the purchase cutoff, preferring the rules overlay.
func (p *Processor) threshold() float64 {
	if p.rules != nil && p.rules.HighValueThreshold != nil {
		return *p.rules.HighValueThreshold
	}

	return p.cfg.HighValueThreshold
}

// Process runs one delivery through dedup, validation, enrichment, and
// persistence. The payload is the original queue entry body, kept verbatim
// for dead-letter records.
//
// A terminal outcome with a nil error means the delivery is settled and must
// be acknowledged. OutcomeUnknown with an error means nothing durable was
// decided; the caller leaves the entry pending so redelivery retries it.
func (p *Processor) Process(ctx context.Context, ev *event.Event, payload []byte) (Outcome, error) {
	if ev == nil {
		return OutcomeUnknown, event.ErrNilEvent
	}

	start := p.now()
	logger := p.logger.With("correlation_id", ev.CorrelationID(), "kind", ev.Kind.String())

	exists, err := p.store.ExistsProcessed(ctx, ev.Fingerprint)
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("dedup lookup failed: %w", err)
	}

	if exists {
		logger.Info("duplicate event skipped")
		p.metrics.EventsDuplicate.WithLabelValues(ev.Kind.String()).Inc()

		return OutcomeDuplicate, nil
	}

	if err := validate(ev, start); err != nil {
		if dlqErr := p.deadLetter(ctx, ev.Fingerprint, payload, err, 0); dlqErr != nil {
			return OutcomeUnknown, dlqErr
		}

		logger.Warn("event rejected", "error", err)
		p.metrics.EventsFailed.WithLabelValues(ev.Kind.String(), reasonValidation).Inc()

		return OutcomeRejected, nil
	}

	enrichment := enrich(ev, p.cfg.WorkerID, p.threshold(), p.rules, start)

	retries, err := p.persist(ctx, ev, enrichment, logger)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateProcessed) {
			// Another worker persisted this fingerprint first.
			logger.Info("lost persist race, treating as duplicate")
			p.metrics.EventsDuplicate.WithLabelValues(ev.Kind.String()).Inc()

			return OutcomeDuplicate, nil
		}

		if ctx.Err() != nil {
			// Shutdown or timeout interrupted the retry schedule. Leave the
			// entry pending instead of dead-lettering a healthy event.
			return OutcomeUnknown, fmt.Errorf("persist interrupted: %w", err)
		}

		if dlqErr := p.deadLetter(ctx, ev.Fingerprint, payload, err, retries); dlqErr != nil {
			return OutcomeUnknown, dlqErr
		}

		logger.Error("event dead-lettered after retries", "error", err, "retries", retries)
		p.metrics.EventsFailed.WithLabelValues(ev.Kind.String(), reasonPersist).Inc()

		return OutcomeDeadLetter, nil
	}

	elapsed := p.now().Sub(start)
	logger.Info("event processed", "retries", retries, "duration_ms", elapsed.Milliseconds())
	p.metrics.EventsProcessed.WithLabelValues(ev.Kind.String()).Inc()
	p.metrics.ProcessingDuration.WithLabelValues(ev.Kind.String()).Observe(elapsed.Seconds())

	return OutcomeProcessed, nil
}

// DeadLetterMalformed records a queue payload that never decoded into an
// event. There is no fingerprint to correlate on and nothing to retry, so the
// record is appended once and the caller acknowledges the entry.
func (p *Processor) DeadLetterMalformed(ctx context.Context, payload []byte, cause error) error {
	if err := p.deadLetter(ctx, uuid.Nil, payload, cause, 0); err != nil {
		return err
	}

	p.logger.Warn("malformed payload dead-lettered", "error", cause)
	p.metrics.EventsFailed.WithLabelValues(kindUnknown, reasonMalformed).Inc()

	return nil
}

// persist writes the terminal success record, retrying transient store errors
// on an exponential schedule. Returns the number of retries performed.
func (p *Processor) persist(ctx context.Context, ev *event.Event, enrichment map[string]interface{}, logger *slog.Logger) (int, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.cfg.RetryBase
	expo.MaxInterval = p.cfg.RetryMax
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.cfg.MaxRetries-1)), ctx)

	retries := 0

	operation := func() error {
		record := &storage.ProcessedRecord{
			Fingerprint: ev.Fingerprint,
			Kind:        ev.Kind.String(),
			SubjectID:   ev.SubjectID,
			OccurredAt:  ev.OccurredAt,
			Properties:  ev.Properties,
			ProcessedAt: p.now().UTC(),
			Status:      statusCompleted,
			Enrichment:  enrichment,
			RetryCount:  retries,
		}

		err := p.store.InsertProcessed(ctx, record)
		if err == nil {
			return nil
		}

		if !storage.IsTransient(err) {
			return backoff.Permanent(err)
		}

		retries++
		logger.Warn("persist attempt failed", "error", err, "attempt", retries)

		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return retries, err
	}

	return retries, nil
}

// deadLetter appends a dead-letter record. A failure here is transient by
// definition (the append has no unique constraints), so the caller propagates
// it and lets redelivery try again.
func (p *Processor) deadLetter(ctx context.Context, fingerprint uuid.UUID, payload []byte, cause error, retries int) error {
	record := &storage.FailedRecord{
		Fingerprint: fingerprint,
		Payload:     payload,
		ErrorMsg:    cause.Error(),
		FailedAt:    p.now().UTC(),
		RetryCount:  retries,
	}

	if err := p.store.InsertFailed(ctx, record); err != nil {
		return fmt.Errorf("failed to dead-letter event: %w", err)
	}

	return nil
}
