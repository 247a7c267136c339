// Package main provides the EventFlow worker service.
//
// The service runs a pool of stream consumers that drive each queued event
// through deduplication, validation, enrichment, and persistence.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/eventflow-io/eventflow/internal/metrics"
	"github.com/eventflow-io/eventflow/internal/processor"
	"github.com/eventflow-io/eventflow/internal/queue"
	"github.com/eventflow-io/eventflow/internal/storage"
	"github.com/eventflow-io/eventflow/internal/worker"
)

// Version information.
const (
	version = "1.0.0"
	name    = "eventflow-worker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Starting EventFlow worker service",
		slog.String("service", name),
		slog.String("version", version),
	)

	workerConfig := worker.LoadConfig()

	storageConfig := storage.LoadConfig()

	// Each consumer needs a connection for its own work plus headroom for
	// concurrent retries and health checks.
	if wanted := 2*workerConfig.Count + 2; storageConfig.MaxOpenConns < wanted {
		storageConfig.MaxOpenConns = wanted
	}

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	eventStore, err := storage.NewEventStore(dbConn)
	if err != nil {
		logger.Error("Failed to create event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("Event store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	queueConfig := queue.LoadConfig()

	eventQueue, err := queue.New(queueConfig)
	if err != nil {
		logger.Error("Failed to connect to queue", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = eventQueue.Close()
	}()

	logger.Info("Event queue initialized",
		slog.String("stream", queueConfig.StreamName),
		slog.String("consumer_group", queueConfig.ConsumerGroup),
		slog.Duration("block_timeout", queueConfig.BlockTimeout),
		slog.Duration("idle_reclaim", queueConfig.IdleReclaim),
		slog.Int("batch_size", queueConfig.BatchSize),
	)

	m := metrics.New()

	metricsServer := metrics.NewServer(metrics.LoadServerConfig(), m, logger)
	metricsServer.Start()

	defer func() {
		_ = metricsServer.Shutdown()
	}()

	processorConfig := processor.LoadConfig()

	proc, err := processor.New(eventStore, m, processorConfig)
	if err != nil {
		logger.Error("Failed to create processor", slog.String("error", err.Error()))

		_ = eventQueue.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Processor initialized",
		slog.String("worker_id", processorConfig.WorkerID),
		slog.Int("max_retries", processorConfig.MaxRetries),
		slog.Float64("high_value_threshold", processorConfig.HighValueThreshold),
	)

	pool, err := worker.NewPool(eventQueue, proc, m, queueConfig, workerConfig, logger)
	if err != nil {
		logger.Error("Failed to create worker pool", slog.String("error", err.Error()))

		_ = eventQueue.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	// Stop consuming on SIGINT/SIGTERM; workers settle in-flight deliveries
	// within the shutdown grace period and leave the rest for reclaim.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pool.Run(ctx); err != nil {
		logger.Error("Worker pool failed", slog.String("error", err.Error()))

		_ = eventQueue.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("EventFlow worker service stopped")
}
