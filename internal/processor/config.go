package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/eventflow-io/eventflow/internal/config"
)

const (
	defaultWorkerID           = "worker-1"
	defaultMaxRetries         = 3
	defaultRetryBase          = 2 * time.Second
	defaultRetryMax           = 10 * time.Second
	defaultHighValueThreshold = 1000
)

var (
	// ErrInvalidMaxRetries is returned when the persist attempt budget is not positive.
	ErrInvalidMaxRetries = errors.New("max retries must be positive")

	// ErrInvalidRetryWindow is returned when the backoff window is inverted.
	ErrInvalidRetryWindow = errors.New("retry base must not exceed retry max")
)

// Config holds the processing state machine configuration.
type Config struct {
	WorkerID           string
	MaxRetries         int           // Total persist attempts per delivery
	RetryBase          time.Duration // Initial backoff interval
	RetryMax           time.Duration // Backoff interval ceiling
	HighValueThreshold float64       // Purchase enrichment tag cutoff
	RulesFile          string        // Optional YAML enrichment rules overlay
}

// LoadConfig loads processor configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		WorkerID:           config.GetEnvStr("EVENTFLOW_WORKER_ID", defaultWorkerID),
		MaxRetries:         config.GetEnvInt("EVENTFLOW_MAX_RETRIES", defaultMaxRetries),
		RetryBase:          config.GetEnvDuration("EVENTFLOW_RETRY_BASE", defaultRetryBase),
		RetryMax:           config.GetEnvDuration("EVENTFLOW_RETRY_MAX", defaultRetryMax),
		HighValueThreshold: config.GetEnvFloat("EVENTFLOW_HIGH_VALUE_THRESHOLD", defaultHighValueThreshold),
		RulesFile:          config.GetEnvStr("EVENTFLOW_RULES_FILE", ""),
	}
}

// Validate checks if the processor configuration is valid.
func (c *Config) Validate() error {
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRetries, c.MaxRetries)
	}

	if c.RetryBase > c.RetryMax {
		return fmt.Errorf("%w: base %v, max %v", ErrInvalidRetryWindow, c.RetryBase, c.RetryMax)
	}

	return nil
}
