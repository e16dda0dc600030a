package workqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Worker is the single long-lived consumer of a Queue. Items run in strict
// FIFO order, one at a time; a failing or panicking item is logged and never
// stops the loop.
type Worker struct {
	queue *Queue

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewWorker creates a worker over the queue. Start must be called before
// items are consumed.
func NewWorker(queue *Queue) *Worker {
	return &Worker{queue: queue}
}

// Start launches the consumer loop. Subsequent calls are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		w.wg.Add(1)
		go w.run(ctx)
	})
}

// Stop signals the loop to exit and waits for it. The in-flight item
// observes the cancelled context; items still queued are discarded.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
			w.wg.Wait()
		}
	})
}

// Processed returns the number of items executed, failures included.
func (w *Worker) Processed() uint64 {
	return w.processed.Load()
}

// Failed returns the number of items that returned an error or panicked.
func (w *Worker) Failed() uint64 {
	return w.failed.Load()
}

// run drains the queue until the context is cancelled.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	slog.Debug("workqueue: worker started", "capacity", w.queue.Capacity())

	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			slog.Debug("workqueue: worker stopped", "processed", w.processed.Load())
			return
		}
		w.execute(ctx, item)
	}
}

// execute runs one item in isolation. The item receives the worker's
// context so long-running jobs abort at shutdown. Errors and panics are
// logged at the point of execution and never propagate to the producer.
func (w *Worker) execute(ctx context.Context, item Item) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			slog.Error("workqueue: work item panicked", "panic", fmt.Sprintf("%v", r))
		}
		w.processed.Add(1)
	}()

	if err := item(ctx); err != nil {
		w.failed.Add(1)
		slog.Error("workqueue: work item failed", "error", err)
	}
}
