// Package memory provides the in-process capture task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/snapfeed/postshot/internal/capture"
)

// Queue is a bounded in-memory task queue with context-aware operations.
// Each dequeued task is delivered to exactly one worker.
type Queue struct {
	ch        chan capture.Task
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan capture.Task, capacity),
		done: make(chan struct{}),
	}
}

// EnqueueBatch schedules one capture task per item. Tasks enter the queue
// in order; consumption order across workers is unspecified. Returns
// capture.ErrQueueClosed after Close.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []capture.Task) error {
	for _, task := range tasks {
		select {
		case <-q.done:
			return fmt.Errorf("enqueue: %w", capture.ErrQueueClosed)
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case q.ch <- task:
		}
	}
	return nil
}

// Dequeue pops the next task, respecting context cancellation. Tasks
// buffered before Close are still delivered; once the buffer drains a
// closed queue returns capture.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (capture.Task, error) {
	select {
	case task := <-q.ch:
		return task, nil
	case <-q.done:
		select {
		case task := <-q.ch:
			return task, nil
		default:
			return capture.Task{}, capture.ErrQueueClosed
		}
	case <-ctx.Done():
		return capture.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Close stops the queue. The task channel itself is never closed, so an
// enqueue racing shutdown gets an error instead of a send panic.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
