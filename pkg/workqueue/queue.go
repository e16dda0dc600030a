// Package workqueue provides a bounded FIFO queue of deferred work items
// and the single long-lived worker that drains it. Enqueue applies
// back-pressure: when the queue is full, producers block until space frees
// rather than dropping or failing work.
package workqueue

import (
	"context"
	"sync/atomic"
)

// Item is a deferred, cancellation-aware unit of work. Items are executed
// exactly once by the worker, with the worker's shutdown signal as context.
type Item func(ctx context.Context) error

// Queue is a bounded FIFO channel of work items.
type Queue struct {
	ch    chan Item
	depth atomic.Int64
}

// defaultCapacity bounds the queue when no capacity is configured.
const defaultCapacity = 64

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		ch: make(chan Item, capacity),
	}
}

// Enqueue adds an item, blocking while the queue is full. The producer's
// context bounds the wait: on cancellation the item is not enqueued and the
// context error is returned. This is the system's only back-pressure
// mechanism; items are never silently dropped.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	select {
	case q.ch <- item:
		q.depth.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest item, blocking while the queue is empty. On
// context cancellation it returns the context error.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	select {
	case item := <-q.ch:
		q.depth.Add(-1)
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth returns the current number of queued items.
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int {
	return cap(q.ch)
}
