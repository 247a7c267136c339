package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eventflow-io/eventflow/internal/api/middleware"
)

const (
	serviceName    = "eventflow"
	serviceVersion = "v1.0.0"

	healthCheckTimeout = 2 * time.Second
)

type (
	// HealthStatus represents the health check response structure. Component
	// entries name each dependency with "healthy" or the failure detail.
	HealthStatus struct {
		Status      string            `json:"status"`
		ServiceName string            `json:"serviceName"`
		Version     string            `json:"version"`
		Uptime      string            `json:"uptime,omitempty"`
		Components  map[string]string `json:"components"`
	}

	// QueueSummary reports stream depth for operational dashboards.
	QueueSummary struct {
		QueueLength     int64 `json:"queue_length"`     //nolint: tagliatelle
		PendingMessages int64 `json:"pending_messages"` //nolint: tagliatelle
	}

	// ServiceInfo is the root endpoint descriptor.
	ServiceInfo struct {
		Service   string   `json:"service"`
		Version   string   `json:"version"`
		Endpoints []string `json:"endpoints"`
	}
)

// setupRoutes sets up all HTTP routes for the ingestion server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)              // K8s liveness probe
	mux.HandleFunc("GET /health", s.handleHealth)          // Dependency health with 503 on failure
	mux.HandleFunc("GET /metrics/summary", s.handleQueueSummary)
	mux.HandleFunc("POST /events", s.handleSubmitEvent)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("/", s.handleNotFound) // Catch-all handler for 404 responses
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleRoot returns the service descriptor.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, ServiceInfo{
		Service: serviceName,
		Version: serviceVersion,
		Endpoints: []string{
			"POST /events",
			"GET /health",
			"GET /metrics/summary",
			"GET /ping",
		},
	})
}

// handleHealth probes every dependency and reports per-component status.
// Any unhealthy component degrades the whole response to 503 so load
// balancers stop routing submissions here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]string{
		"store": componentStatus(s.store.HealthCheck(ctx)),
		"queue": componentStatus(s.queue.HealthCheck(ctx)),
	}

	status := "healthy"
	code := http.StatusOK

	for _, v := range components {
		if v != "healthy" {
			status = "degraded"
			code = http.StatusServiceUnavailable

			break
		}
	}

	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, code, HealthStatus{
		Status:      status,
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
		Components:  components,
	})
}

// handleQueueSummary reports current stream depth and unacknowledged entries.
func (s *Server) handleQueueSummary(w http.ResponseWriter, r *http.Request) {
	length, err := s.queue.Length(r.Context())
	if err != nil {
		s.logger.Error("Failed to read queue length",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to read queue state"))

		return
	}

	pending, err := s.queue.PendingCount(r.Context())
	if err != nil {
		s.logger.Error("Failed to read pending count",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to read queue state"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, QueueSummary{QueueLength: length, PendingMessages: pending})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals v and writes it with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// componentStatus renders a health probe result for the components map.
func componentStatus(err error) string {
	if err != nil {
		return "unhealthy: " + err.Error()
	}

	return "healthy"
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
