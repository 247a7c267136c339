// Package worker runs the consumer side of the pipeline: a pool of stream
// consumers that drive each delivery through the processing state machine.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/eventflow-io/eventflow/internal/event"
	"github.com/eventflow-io/eventflow/internal/metrics"
	"github.com/eventflow-io/eventflow/internal/processor"
	"github.com/eventflow-io/eventflow/internal/queue"
)

// consumeErrorBackoff is the pause after a failed consume or reclaim call so
// a broken queue connection does not spin the loop.
const consumeErrorBackoff = time.Second

// unknownCorrelation is logged when a payload is too mangled to carry a
// fingerprint.
const unknownCorrelation = "unknown"

// Queue is the stream surface a worker consumes from.
type Queue interface {
	Consume(ctx context.Context, consumerID string, count int64, block time.Duration) ([]queue.Entry, error)
	ReclaimStale(ctx context.Context, consumerID string, minIdle time.Duration) ([]queue.Entry, error)
	Ack(ctx context.Context, entryID string) error
	PendingCount(ctx context.Context) (int64, error)
	Length(ctx context.Context) (int64, error)
}

// Worker is one consumer in the group. Each cycle it reclaims stale entries
// abandoned by crashed consumers, then reads new ones, and settles every
// delivery it receives.
type Worker struct {
	id      string
	queue   Queue
	proc    *processor.Processor
	metrics *metrics.Metrics
	qcfg    *queue.Config
	cfg     *Config
	logger  *slog.Logger
	now     func() time.Time

	// drainStart marks when this worker first observed cancellation with
	// deliveries still in hand. Only touched from the worker's own goroutine.
	drainStart time.Time
}

// NewWorker creates a single consumer with the given consumer id.
func NewWorker(id string, q Queue, proc *processor.Processor, m *metrics.Metrics, qcfg *queue.Config, cfg *Config, logger *slog.Logger) *Worker {
	return &Worker{
		id:      id,
		queue:   q,
		proc:    proc,
		metrics: m,
		qcfg:    qcfg,
		cfg:     cfg,
		logger:  logger.With("consumer_id", id),
		now:     time.Now,
	}
}

// Run consumes until ctx is cancelled. Consume and reclaim calls use ctx so
// cancellation interrupts the blocking read; deliveries already in hand get
// the shutdown grace period to settle, and whatever remains after that is
// left un-acked for reclaim.
func (w *Worker) Run(ctx context.Context) {
	w.metrics.ActiveWorkers.Inc()
	defer w.metrics.ActiveWorkers.Dec()

	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")

			return
		default:
		}

		w.cycle(ctx)
	}
}

// cycle performs one reclaim-then-consume pass and refreshes the queue gauges.
func (w *Worker) cycle(ctx context.Context) {
	w.refreshGauges(ctx)

	reclaimed, err := w.queue.ReclaimStale(ctx, w.id, w.qcfg.IdleReclaim)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		w.logger.Error("failed to reclaim stale entries", "error", err)
		w.pause(ctx)

		return
	}

	for _, entry := range reclaimed {
		w.logger.Info("reclaimed stale entry",
			"entry_id", entry.ID, "correlation_id", entryCorrelation(entry.Payload))
	}

	w.settleBatch(ctx, reclaimed)

	entries, err := w.queue.Consume(ctx, w.id, int64(w.qcfg.BatchSize), w.qcfg.BlockTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		w.logger.Error("failed to consume entries", "error", err)
		w.pause(ctx)

		return
	}

	w.settleBatch(ctx, entries)
}

// settleBatch drives each delivery to a terminal outcome. Once the run
// context is cancelled the batch must settle within the shutdown grace
// period; entries left over are abandoned un-acked and redelivered through
// reclaim.
func (w *Worker) settleBatch(ctx context.Context, entries []queue.Entry) {
	for i, entry := range entries {
		if w.drainExpired(ctx) {
			w.logger.Warn("shutdown grace period exhausted, abandoning entries for reclaim",
				"abandoned", len(entries)-i)

			return
		}

		w.handle(ctx, entry)
	}
}

// drainExpired reports whether the shutdown grace period has run out,
// starting the clock the first time cancellation is observed.
func (w *Worker) drainExpired(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}

	if w.drainStart.IsZero() {
		w.drainStart = w.now()
	}

	return w.now().Sub(w.drainStart) >= w.cfg.ShutdownTimeout
}

// handle settles one delivery. The processing context is detached from the
// run context so cancellation does not interrupt a half-settled entry, but
// during a drain its deadline is capped by what remains of the grace period.
func (w *Worker) handle(runCtx context.Context, entry queue.Entry) {
	timeout := w.cfg.ProcessingTimeout
	if runCtx.Err() != nil && !w.drainStart.IsZero() {
		if remaining := w.cfg.ShutdownTimeout - w.now().Sub(w.drainStart); remaining < timeout {
			timeout = remaining
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	w.observeQueueWait(entry.ID)

	ev, err := event.Decode(entry.Payload)
	if err != nil {
		if errors.Is(err, event.ErrMalformedPayload) {
			if dlqErr := w.proc.DeadLetterMalformed(ctx, entry.Payload, err); dlqErr != nil {
				// Redelivery retries the dead-letter write.
				w.logger.Error("failed to dead-letter malformed payload",
					"entry_id", entry.ID, "correlation_id", unknownCorrelation, "error", dlqErr)

				return
			}

			w.ack(ctx, entry.ID, unknownCorrelation)
		}

		return
	}

	outcome, err := w.proc.Process(ctx, ev, entry.Payload)
	if err != nil {
		// Nothing durable was decided; the entry stays pending and a later
		// reclaim redelivers it.
		w.logger.Error("processing failed, leaving entry pending",
			"entry_id", entry.ID, "correlation_id", ev.CorrelationID(), "error", err)

		return
	}

	w.logger.Debug("delivery settled",
		"entry_id", entry.ID, "correlation_id", ev.CorrelationID(), "outcome", string(outcome))
	w.ack(ctx, entry.ID, ev.CorrelationID())
}

// ack acknowledges a settled entry. Best-effort: on failure the entry is
// redelivered later and the processed-side dedup absorbs the replay.
func (w *Worker) ack(ctx context.Context, entryID, correlationID string) {
	if err := w.queue.Ack(ctx, entryID); err != nil {
		w.logger.Warn("failed to ack entry",
			"entry_id", entryID, "correlation_id", correlationID, "error", err)
	}
}

// refreshGauges samples queue depth and pending count once per cycle.
func (w *Worker) refreshGauges(ctx context.Context) {
	if length, err := w.queue.Length(ctx); err == nil {
		w.metrics.QueueDepth.Set(float64(length))
	}

	if pending, err := w.queue.PendingCount(ctx); err == nil {
		w.metrics.PendingMessages.Set(float64(pending))
	}
}

// observeQueueWait records how long the entry sat in the stream, derived from
// the millisecond timestamp Redis encodes in auto-generated entry ids.
func (w *Worker) observeQueueWait(entryID string) {
	ms, ok := entryTimestamp(entryID)
	if !ok {
		return
	}

	wait := w.now().Sub(time.UnixMilli(ms))
	if wait < 0 {
		wait = 0
	}

	w.metrics.QueueWaitTime.Observe(wait.Seconds())
}

// pause sleeps briefly after a queue error, returning early on cancellation.
func (w *Worker) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(consumeErrorBackoff):
	}
}

// entryCorrelation extracts the fingerprint from an entry payload for log
// correlation. Undecodable payloads have no fingerprint to report.
func entryCorrelation(payload []byte) string {
	ev, err := event.Decode(payload)
	if err != nil {
		return unknownCorrelation
	}

	return ev.CorrelationID()
}

// entryTimestamp extracts the millisecond part of a stream entry id
// ("1526919030474-0"). Explicit ids chosen by a producer may not carry one.
func entryTimestamp(entryID string) (int64, bool) {
	idx := strings.IndexByte(entryID, '-')
	if idx <= 0 {
		return 0, false
	}

	ms, err := strconv.ParseInt(entryID[:idx], 10, 64)
	if err != nil {
		return 0, false
	}

	return ms, true
}
