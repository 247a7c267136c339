package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/eventflow-io/eventflow/internal/config"
)

const (
	defaultWorkerCount       = 3
	defaultProcessingTimeout = 30 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
)

var (
	// ErrInvalidWorkerCount is returned when the pool size is not positive.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")

	// ErrInvalidProcessingTimeout is returned when the per-entry deadline is not positive.
	ErrInvalidProcessingTimeout = errors.New("processing timeout must be positive")

	// ErrInvalidShutdownTimeout is returned when the drain grace period is not positive.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// Config holds the worker pool configuration.
type Config struct {
	Count             int           // Concurrent consumers in the group
	ProcessingTimeout time.Duration // Per-entry deadline
	ShutdownTimeout   time.Duration // Grace period to settle in-flight entries after cancellation
}

// LoadConfig loads worker configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Count:             config.GetEnvInt("EVENTFLOW_WORKER_COUNT", defaultWorkerCount),
		ProcessingTimeout: config.GetEnvDuration("EVENTFLOW_PROCESSING_TIMEOUT", defaultProcessingTimeout),
		ShutdownTimeout:   config.GetEnvDuration("EVENTFLOW_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
}

// Validate checks if the worker configuration is valid.
func (c *Config) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, c.Count)
	}

	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidProcessingTimeout, c.ProcessingTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}
