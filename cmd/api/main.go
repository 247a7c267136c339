// Package main provides the EventFlow ingestion service.
//
// The service accepts event submissions over HTTP, records a raw audit copy,
// and publishes each accepted event to the processing stream. Processing
// itself happens asynchronously in the worker service.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/eventflow-io/eventflow/internal/api"
	"github.com/eventflow-io/eventflow/internal/api/middleware"
	"github.com/eventflow-io/eventflow/internal/metrics"
	"github.com/eventflow-io/eventflow/internal/queue"
	"github.com/eventflow-io/eventflow/internal/storage"
)

// Version information.
const (
	version = "1.0.0"
	name    = "eventflow-api"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting EventFlow ingestion service",
		slog.String("service", name),
		slog.String("version", version),
	)

	rateLimiter := middleware.NewInMemoryRateLimiter(&middleware.RateLimitConfig{
		GlobalRPS: serverConfig.GlobalRPS,
		ClientRPS: serverConfig.ClientRPS,
	})

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", serverConfig.GlobalRPS),
		slog.Int("client_rps", serverConfig.ClientRPS),
	)

	storageConfig := storage.LoadConfig()

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
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
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
	)

	m := metrics.New()

	metricsServer := metrics.NewServer(metrics.LoadServerConfig(), m, logger)
	metricsServer.Start()

	defer func() {
		_ = metricsServer.Shutdown()
	}()

	server := api.NewServer(serverConfig, eventStore, eventQueue, m, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("EventFlow ingestion service stopped")
}
