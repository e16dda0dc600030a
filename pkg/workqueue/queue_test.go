package workqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	queueTestCapacity = 3
	queueTestWait     = 100 * time.Millisecond
)

func noop(context.Context) error { return nil }

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue(queueTestCapacity)
	ctx := context.Background()

	var order []string
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, q.Enqueue(ctx, func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}

	for range 3 {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, item(ctx))
	}

	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	q := NewQueue(queueTestCapacity)
	ctx := context.Background()

	for range queueTestCapacity {
		require.NoError(t, q.Enqueue(ctx, noop))
	}

	// The capacity+1-th enqueue must suspend, not drop or fail.
	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(ctx, noop)
	}()

	select {
	case err := <-blocked:
		t.Fatalf("enqueue on a full queue returned early: %v", err)
	case <-time.After(queueTestWait):
	}

	// Freeing one slot unblocks the producer.
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	select {
	case err := <-blocked:
		assert.NoError(t, err)
	case <-time.After(queueTestWait):
		t.Fatal("enqueue did not resume after space freed")
	}
}

func TestQueue_EnqueueHonorsContext(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, noop))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := q.Enqueue(cancelled, noop)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Depth(), "cancelled enqueue must not add the item")
}

func TestQueue_DequeueBlocksWhenEmpty(t *testing.T) {
	q := NewQueue(queueTestCapacity)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Depth(t *testing.T) {
	q := NewQueue(queueTestCapacity)
	ctx := context.Background()

	assert.Equal(t, 0, q.Depth())
	require.NoError(t, q.Enqueue(ctx, noop))
	assert.Equal(t, 1, q.Depth())
	assert.Equal(t, queueTestCapacity, q.Capacity())
}

func TestWorker_ExecutesInOrder(t *testing.T) {
	q := NewQueue(queueTestCapacity)
	ctx := context.Background()

	results := make(chan string, 3)
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, q.Enqueue(ctx, func(context.Context) error {
			results <- name
			return nil
		}))
	}

	w := NewWorker(q)
	w.Start(ctx)
	defer w.Stop()

	var got []string
	for range 3 {
		select {
		case name := <-results:
			got = append(got, name)
		case <-time.After(time.Second):
			t.Fatal("worker did not drain the queue")
		}
	}
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestWorker_FailureDoesNotStopLoop(t *testing.T) {
	q := NewQueue(queueTestCapacity)
	ctx := context.Background()

	executed := make(chan struct{})
	require.NoError(t, q.Enqueue(ctx, func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, q.Enqueue(ctx, func(context.Context) error {
		panic("worse boom")
	}))
	require.NoError(t, q.Enqueue(ctx, func(context.Context) error {
		close(executed)
		return nil
	}))

	w := NewWorker(q)
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("worker loop died after a failing item")
	}

	assert.Eventually(t, func() bool {
		return w.Processed() == 3 && w.Failed() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_StopCancelsInFlightItem(t *testing.T) {
	q := NewQueue(queueTestCapacity)
	ctx := context.Background()

	var sawCancel atomic.Bool
	started := make(chan struct{})
	require.NoError(t, q.Enqueue(ctx, func(itemCtx context.Context) error {
		close(started)
		<-itemCtx.Done()
		sawCancel.Store(true)
		return itemCtx.Err()
	}))

	w := NewWorker(q)
	w.Start(ctx)

	<-started
	w.Stop()

	assert.True(t, sawCancel.Load(), "in-flight item should observe shutdown cancellation")
}

func TestWorker_StopDiscardsQueuedItems(t *testing.T) {
	q := NewQueue(queueTestCapacity)
	ctx := context.Background()

	w := NewWorker(q)
	w.Start(ctx)
	w.Stop()

	// Items enqueued after shutdown are never executed.
	var ran atomic.Bool
	require.NoError(t, q.Enqueue(ctx, func(context.Context) error {
		ran.Store(true)
		return nil
	}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.NotPanics(t, w.Stop, "Stop is idempotent")
}
