// Package dispatcher manages worker fan-out over the capture queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/snapfeed/postshot/internal/capture"
	"github.com/snapfeed/postshot/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   capture.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue capture.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// EnqueueBatch proxies to the underlying queue.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, tasks []capture.Task) error {
	if err := d.queue.EnqueueBatch(ctx, tasks); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
