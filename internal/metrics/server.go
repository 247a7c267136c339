package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventflow-io/eventflow/internal/config"
)

const (
	defaultMetricsPort     = 9091
	defaultReadTimeout     = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// ServerConfig holds configuration for the Prometheus scrape endpoint.
// The endpoint listens on a port distinct from the ingestion HTTP surface.
type ServerConfig struct {
	Port int
}

// LoadServerConfig loads the metrics endpoint configuration from environment
// variables with fallback to defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: config.GetEnvInt("EVENTFLOW_METRICS_PORT", defaultMetricsPort),
	}
}

// Server exposes a Metrics registry in Prometheus text format on /metrics.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a metrics HTTP server for the given collectors.
func NewServer(cfg *ServerConfig, m *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     mux,
			ReadTimeout: defaultReadTimeout,
		},
		logger: logger,
	}
}

// Start begins serving scrapes in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting metrics endpoint", slog.String("address", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics endpoint failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the scrape endpoint gracefully.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics endpoint shutdown failed: %w", err)
	}

	return nil
}
