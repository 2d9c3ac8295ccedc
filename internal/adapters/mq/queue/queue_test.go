package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func batch(id string) Batch {
	return Batch{BatchID: id, SessionID: "s1", ReceivedAt: time.Now()}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, batch("b1")) {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.BatchID != "b1" {
		t.Errorf("expected b1, got %v", got.BatchID)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, batch("b1")) || !q.Enqueue(ctx, batch("b2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, batch("b3")) {
		t.Error("expected enqueue to fail when full")
	}
	if q.Capacity() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Capacity())
	}
}

func TestInMemoryQueue_PreservesOrder(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		q.Enqueue(ctx, batch(fmt.Sprintf("b%d", i)))
	}
	out := q.Dequeue(ctx)
	for i := 0; i < 5; i++ {
		if got := (<-out).BatchID; got != fmt.Sprintf("b%d", i) {
			t.Fatalf("position %d: got %s", i, got)
		}
	}
}

func TestInMemoryQueue_CloseDrains(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	q.Enqueue(ctx, batch("b1"))
	q.Enqueue(ctx, batch("b2"))
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, batch("b3")) {
		t.Error("expected enqueue on closed queue to fail")
	}

	var n int
	for range q.Dequeue(ctx) {
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 drained batches, got %d", n)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	out := q.Dequeue(ctx)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected no batch after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue channel not closed after cancel")
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(ctx, batch(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	if l := q.Len(ctx); l != 500 {
		t.Errorf("expected 500 batches, got %d", l)
	}
}
