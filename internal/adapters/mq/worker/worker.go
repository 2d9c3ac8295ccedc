// Package worker runs the ingest shards. Every session hashes to exactly one
// shard, so a session's batches are handled by one goroutine in arrival
// order.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/feedtrace/internal/adapters/mq/queue"
	"github.com/okian/feedtrace/pkg/logger"
	"github.com/okian/feedtrace/pkg/metrics"
)

const (
	defaultShardCapacity  = 1024
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Handler processes one batch. Errors are logged and counted; the batch is
// not retried.
type Handler func(ctx context.Context, b queue.Batch) error

// shardWorker drains one shard queue.
type shardWorker struct {
	id      int
	queue   *queue.InMemoryQueue
	handler Handler
	active  *atomic.Int64
	done    chan struct{}
	logger  logger.Logger
}

func (w *shardWorker) run(ctx context.Context) {
	defer close(w.done)

	batches := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			if err := w.process(ctx, b); err != nil {
				w.logger.Error(ctx, "error processing batch", logger.Error(err))
			}
		}
	}
}

func (w *shardWorker) process(ctx context.Context, b queue.Batch) error { //nolint:gocritic // hugeParam: batches travel by value
	start := time.Now()
	metrics.UpdateWorkerActiveCount(int(w.active.Add(1)))
	defer func() {
		metrics.UpdateWorkerActiveCount(int(w.active.Add(-1)))
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := w.handler(ctx, b); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handler_error")
		return fmt.Errorf("batch %s of session %s: %w", b.BatchID, b.SessionID, err)
	}
	return nil
}

// Pool owns the shards and their workers.
type Pool struct {
	shards        []*shardWorker
	shardCapacity int
	handler       Handler
	active        atomic.Int64

	cancel   context.CancelFunc
	shutdown chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// NewPool creates a pool with one worker per shard. The shard count defaults
// to runtime.NumCPU().
func NewPool(handler Handler, opts ...Option) *Pool {
	p := &Pool{
		handler:       handler,
		shardCapacity: defaultShardCapacity,
		shutdown:      make(chan struct{}),
		logger:        logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.shards) == 0 {
		p.shards = make([]*shardWorker, runtime.NumCPU())
	}

	for i := range p.shards {
		p.shards[i] = &shardWorker{
			id:      i,
			queue:   queue.NewInMemoryQueue(queue.WithCapacity(p.shardCapacity)),
			handler: handler,
			active:  &p.active,
			done:    make(chan struct{}),
			logger:  p.logger.Named("shard-" + strconv.Itoa(i)),
		}
	}

	metrics.UpdateWorkerCount(len(p.shards))
	metrics.UpdateQueueCapacity(p.Capacity())
	return p
}

// Shards returns the number of shards.
func (p *Pool) Shards() int { return len(p.shards) }

// Capacity returns the combined bound of all shard queues.
func (p *Pool) Capacity() int { return len(p.shards) * p.shardCapacity }

// ShardFor maps a session id to its shard.
func (p *Pool) ShardFor(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(p.shards))) //nolint:gosec // shard count is small and positive
}

// Submit routes b to the shard owning its session. It returns false when
// that shard is full or the pool is shutting down; it never blocks.
func (p *Pool) Submit(ctx context.Context, b queue.Batch) bool { //nolint:gocritic // hugeParam: batches travel by value
	return p.shards[p.ShardFor(b.SessionID)].queue.Enqueue(ctx, b)
}

// Len returns the number of batches waiting across all shards.
func (p *Pool) Len(ctx context.Context) int {
	n := 0
	for _, s := range p.shards {
		n += s.queue.Len(ctx)
	}
	return n
}

// Start launches one worker per shard. Cancelling ctx stops the workers
// without draining; use Shutdown to drain.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, s := range p.shards {
		go s.run(runCtx)
	}
	go p.startMetricsUpdater(runCtx)
	p.logger.Info(ctx, "worker pool started", logger.Int("shards", len(p.shards)))
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics(ctx)
		}
	}
}

func (p *Pool) updateMetrics(ctx context.Context) {
	size := p.Len(ctx)
	metrics.UpdateQueueSize(size)
	if c := p.Capacity(); c > 0 {
		metrics.UpdateQueueUtilization(float64(size) / float64(c))
	}
}

// Shutdown stops accepting batches, lets every shard drain what it already
// holds, and waits for the workers until ctx or the pool timeout expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.shutdown)
		for _, s := range p.shards {
			if cerr := s.queue.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing shard queue", logger.Int("shard", s.id), logger.Error(cerr))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()

		for _, s := range p.shards {
			select {
			case <-s.done:
			case <-shutdownCtx.Done():
				p.logger.Warn(ctx, "shard shutdown timed out", logger.Int("shard", s.id))
				err = fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
			}
			if err != nil {
				break
			}
		}
		if p.cancel != nil {
			p.cancel()
		}
	})
	return err
}
