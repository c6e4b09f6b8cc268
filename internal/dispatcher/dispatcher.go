// Package dispatcher manages worker fan-out over the work queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
	"github.com/JakeFAU/corpus-refinery/internal/worker"
)

// Queue is a work queue that producers can close.
type Queue interface {
	corpus.Queue
	Close()
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has returned, which
// happens once the queue is closed and drained or ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item corpus.WorkItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Drain runs the workers over items and returns when all of them have been
// processed. The queue is closed afterwards and cannot be reused.
func (d *Dispatcher) Drain(ctx context.Context, items []corpus.WorkItem) error {
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	var enqueueErr error
	for _, item := range items {
		if err := d.Enqueue(ctx, item); err != nil {
			enqueueErr = err
			break
		}
	}
	d.queue.Close()
	<-done
	return enqueueErr
}
