package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eventflow-io/eventflow/internal/metrics"
	"github.com/eventflow-io/eventflow/internal/processor"
	"github.com/eventflow-io/eventflow/internal/queue"
)

// consumerPrefix names the consumers a pool registers in the group:
// worker-1 through worker-N.
const consumerPrefix = "worker"

// GroupQueue extends Queue with the one-time group bootstrap the pool
// performs before spawning consumers.
type GroupQueue interface {
	Queue
	EnsureGroup(ctx context.Context) error
}

// Pool runs a fixed set of workers against one consumer group.
type Pool struct {
	queue   GroupQueue
	workers []*Worker
	cfg     *Config
	logger  *slog.Logger
}

// NewPool creates a pool of cfg.Count workers sharing one processor and queue.
func NewPool(q GroupQueue, proc *processor.Processor, m *metrics.Metrics, qcfg *queue.Config, cfg *Config, logger *slog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker configuration: %w", err)
	}

	workers := make([]*Worker, cfg.Count)
	for i := range workers {
		id := fmt.Sprintf("%s-%d", consumerPrefix, i+1)
		workers[i] = NewWorker(id, q, proc, m, qcfg, cfg, logger)
	}

	return &Pool{queue: q, workers: workers, cfg: cfg, logger: logger}, nil
}

// Run bootstraps the consumer group and blocks until every worker has exited.
// After ctx is cancelled each worker settles its in-flight batch within
// cfg.ShutdownTimeout and abandons the rest un-acked for reclaim.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.queue.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap consumer group: %w", err)
	}

	p.logger.Info("worker pool starting",
		"workers", len(p.workers), "shutdown_timeout", p.cfg.ShutdownTimeout)

	var wg sync.WaitGroup

	for _, w := range p.workers {
		wg.Add(1)

		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	wg.Wait()
	p.logger.Info("worker pool stopped")

	return nil
}
