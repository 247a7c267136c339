// Package queue presents a uniform at-least-once consumer interface over a
// Redis Stream with consumer groups.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// payloadField is the stream entry field carrying the serialized event.
const payloadField = "data"

// ErrEmptyPayload is returned for stream entries missing the payload field.
var ErrEmptyPayload = errors.New("queue entry has no payload")

// Entry is one delivery handle: a queue-assigned monotonic id plus the
// serialized event submission it carries.
type Entry struct {
	ID      string
	Payload []byte
}

// Queue wraps a Redis client with the stream, group, publish, consume,
// reclaim, and acknowledgment operations the pipeline needs.
//
// The adapter tolerates concurrent Consume calls by distinct consumer ids in
// the same group; go-redis connections are pooled and safe for concurrent use.
type Queue struct {
	client *redis.Client
	stream string
	group  string
}

// New connects to Redis using the given configuration and verifies
// connectivity before returning.
func New(cfg *Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue configuration: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Queue{client: client, stream: cfg.StreamName, group: cfg.ConsumerGroup}, nil
}

// NewFromClient wraps an existing Redis client. Used by tests (miniredis).
func NewFromClient(client *redis.Client, stream, group string) *Queue {
	return &Queue{client: client, stream: stream, group: group}
}

// Publish appends a payload to the stream and returns the server-assigned
// entry id.
func (q *Queue) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", q.stream, err)
	}

	return id, nil
}

// EnsureGroup creates the consumer group if absent, positioned at the stream
// head so existing entries are delivered. Idempotent: a BUSYGROUP response
// from a concurrent creation is not an error.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group %s: %w", q.group, err)
	}

	return nil
}

// Consume reads up to count NEW entries delivered to this consumer, blocking
// up to block when the stream is idle. Returns an empty slice after the block
// timeout elapses without new entries.
func (q *Queue) Consume(ctx context.Context, consumerID string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumerID,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		// redis.Nil signals the block timeout expired with nothing to read
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to consume from stream %s: %w", q.stream, err)
	}

	var entries []Entry

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			entries = append(entries, toEntry(msg))
		}
	}

	return entries, nil
}

// ReclaimStale transfers ownership of entries that have been pending in the
// group longer than minIdle to the calling consumer and returns them.
// Ordering of returned entries is unspecified. Calling repeatedly before any
// work occurs is safe: reclaimed entries remain valid for ack.
func (q *Queue) ReclaimStale(ctx context.Context, consumerID string, minIdle time.Duration) ([]Entry, error) {
	messages, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumerID,
		MinIdle:  minIdle,
		Start:    "0-0",
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to reclaim stale entries: %w", err)
	}

	entries := make([]Entry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, toEntry(msg))
	}

	return entries, nil
}

// Ack removes an entry from the group's pending set. Idempotent on
// already-acked entries.
func (q *Queue) Ack(ctx context.Context, entryID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, entryID).Err(); err != nil {
		return fmt.Errorf("failed to ack entry %s: %w", entryID, err)
	}

	return nil
}

// PendingCount returns the number of delivered-but-unacknowledged entries in
// the group.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		// A missing stream or group means nothing has been published yet
		if isNoGroup(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read pending count: %w", err)
	}

	return pending.Count, nil
}

// Length returns the current stream length.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	length, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}

	return length, nil
}

// HealthCheck verifies Redis connectivity.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue health check failed: %w", err)
	}

	return nil
}

// Close releases the underlying Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// toEntry extracts the payload field from a stream message.
// Entries without the field carry a nil payload; the worker dead-letters them.
func toEntry(msg redis.XMessage) Entry {
	entry := Entry{ID: msg.ID}

	if raw, ok := msg.Values[payloadField]; ok {
		if s, ok := raw.(string); ok {
			entry.Payload = []byte(s)
		}
	}

	return entry
}

// isBusyGroup reports whether err is the BUSYGROUP response Redis returns
// when the consumer group already exists.
func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// isNoGroup reports whether err is the NOGROUP response Redis returns when
// the stream or group does not exist yet.
func isNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}
