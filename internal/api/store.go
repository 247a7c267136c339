package api

import (
	"context"

	"github.com/eventflow-io/eventflow/internal/storage"
)

type (
	// EventStore is the persistence surface the ingestion server needs: the
	// raw audit insert plus a health probe. Workers own the other tables.
	EventStore interface {
		InsertRaw(ctx context.Context, record *storage.RawRecord) error
		HealthCheck(ctx context.Context) error
	}

	// EventQueue is the queue surface the ingestion server needs: publishing
	// accepted submissions and sampling depth for the summary endpoint.
	EventQueue interface {
		Publish(ctx context.Context, payload []byte) (string, error)
		Length(ctx context.Context) (int64, error)
		PendingCount(ctx context.Context) (int64, error)
		HealthCheck(ctx context.Context) error
	}
)
