package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snapfeed/postshot/internal/capture"
)

func TestQueueEnqueueBatchDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	tasks := []capture.Task{
		{JobID: "j1", Index: 0, Platform: capture.PlatformThreads},
		{JobID: "j1", Index: 1, Platform: capture.PlatformThreads},
	}
	require.NoError(t, q.EnqueueBatch(context.Background(), tasks))

	for i := 0; i < len(tasks); i++ {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, "j1", got.JobID)
		require.Equal(t, i, got.Index)
	}
}

func TestQueueCancellationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	// A full queue respects cancellation on enqueue too.
	full := NewQueue(1)
	require.NoError(t, full.EnqueueBatch(context.Background(), []capture.Task{{JobID: "primed"}}))
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = full.EnqueueBatch(ctx, []capture.Task{{JobID: "blocked"}})
	require.ErrorContains(t, err, "enqueue canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, capture.ErrQueueClosed)
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseDrainsBufferedTasks(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	require.NoError(t, q.EnqueueBatch(context.Background(), []capture.Task{
		{JobID: "j1", Index: 0},
		{JobID: "j1", Index: 1},
	}))
	q.Close()

	for i := 0; i < 2; i++ {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, got.Index)
	}
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, capture.ErrQueueClosed)
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	err := q.EnqueueBatch(context.Background(), []capture.Task{{JobID: "late"}})
	require.ErrorIs(t, err, capture.ErrQueueClosed)

	// A blocked enqueue must unblock with an error, not panic, when the
	// queue closes underneath it.
	full := NewQueue(1)
	require.NoError(t, full.EnqueueBatch(context.Background(), []capture.Task{{JobID: "primed"}}))
	errCh := make(chan error, 1)
	go func() {
		errCh <- full.EnqueueBatch(context.Background(), []capture.Task{{JobID: "blocked"}})
	}()
	time.Sleep(10 * time.Millisecond)
	full.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, capture.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock after close")
	}
}
