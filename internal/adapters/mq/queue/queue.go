// Package queue carries event batches from the HTTP edge to the workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/feedtrace/internal/domain/event"
	"github.com/okian/feedtrace/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Batch is one upload of a session's events.
type Batch struct {
	BatchID    string
	SessionID  string
	Events     []event.Event
	ReceivedAt time.Time
	// Beacon marks a best-effort page-hide flush.
	Beacon bool
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a batch. It returns false when the queue is full or
	// closed; it never blocks.
	Enqueue(ctx context.Context, b Batch) bool

	// Dequeue returns a channel of batches, closed once the queue is closed
	// and drained or ctx is done.
	Dequeue(ctx context.Context) <-chan Batch

	Len(ctx context.Context) int

	// Close stops accepting batches. Queued batches can still be drained.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	batches  chan Batch
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a bounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.batches = make(chan Batch, q.capacity)
	return q
}

// Capacity returns the configured bound.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

func (q *InMemoryQueue) Enqueue(ctx context.Context, b Batch) bool { //nolint:gocritic // hugeParam: batches travel by value
	start := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.batches <- b:
		metrics.RecordQueueEnqueue()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Batch {
	out := make(chan Batch)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-q.batches:
				if !ok {
					return
				}
				select {
				case out <- b:
					metrics.RecordQueueDequeue()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) Len(context.Context) int {
	return len(q.batches)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.batches)
	q.closed = true
	return nil
}

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
