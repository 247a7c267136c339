package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/eventflow-io/eventflow/internal/config"
)

const (
	defaultRedisURL      = "redis://localhost:6379"
	defaultStreamName    = "event_queue"
	defaultConsumerGroup = "event_processors"
	defaultBlockTimeout  = 5 * time.Second
	defaultIdleReclaim   = 60 * time.Second
	defaultBatchSize     = 10
)

var (
	// ErrRedisURLEmpty is returned when the queue endpoint is an empty string.
	ErrRedisURLEmpty = errors.New("redis URL cannot be empty")

	// ErrStreamNameEmpty is returned when the stream name is an empty string.
	ErrStreamNameEmpty = errors.New("stream name cannot be empty")

	// ErrConsumerGroupEmpty is returned when the consumer group is an empty string.
	ErrConsumerGroupEmpty = errors.New("consumer group cannot be empty")
)

// Config holds the Redis Streams queue configuration.
//
// BlockTimeout bounds every consume call so shutdown latency stays bounded.
// IdleReclaim is the redelivery threshold: entries pending longer than this
// are eligible to be claimed by another consumer.
type Config struct {
	redisURL      string
	StreamName    string
	ConsumerGroup string
	BlockTimeout  time.Duration
	IdleReclaim   time.Duration
	BatchSize     int
}

// LoadConfig loads queue configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		redisURL:      config.GetEnvStr("REDIS_URL", defaultRedisURL),
		StreamName:    config.GetEnvStr("EVENTFLOW_STREAM_NAME", defaultStreamName),
		ConsumerGroup: config.GetEnvStr("EVENTFLOW_CONSUMER_GROUP", defaultConsumerGroup),
		BlockTimeout:  config.GetEnvDuration("EVENTFLOW_BLOCK_TIMEOUT", defaultBlockTimeout),
		IdleReclaim:   config.GetEnvDuration("EVENTFLOW_IDLE_RECLAIM", defaultIdleReclaim),
		BatchSize:     config.GetEnvInt("EVENTFLOW_BATCH_SIZE", defaultBatchSize),
	}
}

// RedisURL returns the raw queue endpoint for opening connections.
func (c *Config) RedisURL() string {
	return c.redisURL
}

// Validate checks if the queue configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.redisURL) == "" {
		return ErrRedisURLEmpty
	}

	if strings.TrimSpace(c.StreamName) == "" {
		return ErrStreamNameEmpty
	}

	if strings.TrimSpace(c.ConsumerGroup) == "" {
		return ErrConsumerGroupEmpty
	}

	return nil
}
