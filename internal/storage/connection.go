// Package storage provides PostgreSQL persistence for the EventFlow pipeline.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for connection handling.
var (
	// ErrNoDatabaseConnection is returned when a store is created without a connection.
	ErrNoDatabaseConnection = errors.New("database connection is required")
)

const connectTimeout = 5 * time.Second

// Connection wraps a pooled *sql.DB and applies a per-attempt deadline to
// every store operation, distinct from the worker's retry wait schedule.
type Connection struct {
	db        *sql.DB
	opTimeout time.Duration
}

// NewConnection opens a PostgreSQL connection pool from the given configuration
// and verifies connectivity before returning.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db, opTimeout: cfg.OpTimeout}, nil
}

// NewConnectionFromDB wraps an existing *sql.DB. Used by tests that manage
// their own database lifecycle (testcontainers).
func NewConnectionFromDB(db *sql.DB, opTimeout time.Duration) *Connection {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}

	return &Connection{db: db, opTimeout: opTimeout}
}

// DB exposes the underlying pool for store implementations.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// OpContext derives a context bounded by the per-attempt operation deadline.
// Store methods wrap each round-trip with it; the caller must invoke the
// returned cancel function once the operation (including row scanning) ends.
func (c *Connection) OpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// HealthCheck verifies the database connection is healthy and ready to serve requests.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrNoDatabaseConnection
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.db.PingContext(opCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}
