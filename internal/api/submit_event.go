package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eventflow-io/eventflow/internal/api/middleware"
	"github.com/eventflow-io/eventflow/internal/event"
	"github.com/eventflow-io/eventflow/internal/storage"
)

// SubmissionAck is the 202 Accepted body: processing happens asynchronously,
// so the producer gets the fingerprint to correlate on, not a result.
type SubmissionAck struct {
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status"`
	ReceivedAt  time.Time `json:"received_at"` //nolint: tagliatelle
}

// handleSubmitEvent accepts one event submission: normalize, validate
// structurally, record the raw audit row, and publish to the stream.
//
// Kind-specific business rules are deliberately not applied here; the worker
// owns them so a rejected event still leaves an audit trail.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var ev event.Event

	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, NewProblemDetail(
				http.StatusRequestEntityTooLarge,
				"Request Entity Too Large",
				"Request body exceeds the maximum allowed size",
			))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Request body is not valid JSON: "+err.Error()))

		return
	}

	receivedAt := time.Now().UTC()
	ev.Normalize(receivedAt)

	if err := ev.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	// From here on the fingerprint is the correlation id for this event.
	logger := s.logger.With(
		slog.String("correlation_id", ev.CorrelationID()),
		slog.String("kind", ev.Kind.String()),
	)

	payload, err := ev.Encode()
	if err != nil {
		logger.Error("Failed to encode event payload", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode event"))

		return
	}

	record := &storage.RawRecord{
		Fingerprint: ev.Fingerprint,
		Payload:     payload,
		ReceivedAt:  receivedAt,
	}

	if err := s.store.InsertRaw(r.Context(), record); err != nil {
		if errors.Is(err, storage.ErrDuplicateRaw) {
			logger.Warn("Duplicate submission rejected")
			WriteErrorResponse(w, r, s.logger, Conflict(
				"An event with fingerprint "+ev.Fingerprint.String()+" was already submitted",
			))

			return
		}

		logger.Error("Failed to record raw event", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to record event"))

		return
	}

	entryID, err := s.queue.Publish(r.Context(), payload)
	if err != nil {
		// The audit row exists but the event never reached the stream. The
		// producer must retry; the replay is rejected as a duplicate until an
		// operator requeues the raw record.
		logger.Error("Failed to publish event to queue", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to queue event"))

		return
	}

	s.metrics.EventsReceived.WithLabelValues(ev.Kind.String()).Inc()
	logger.Info("Event accepted",
		slog.String("entry_id", entryID),
		slog.String("request_correlation_id", correlationID),
	)

	s.writeJSON(w, r, http.StatusAccepted, SubmissionAck{
		Fingerprint: ev.Fingerprint.String(),
		Status:      "accepted",
		ReceivedAt:  receivedAt,
	})
}
