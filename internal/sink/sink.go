// Package sink delivers the chunk sequence of each accepted document to a
// downstream consumer: an in-memory list, a JSONL object in a blob store or
// a message on a publish topic.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/corpus-refinery/internal/corpus"
)

// Memory keeps deliveries in arrival order.
type Memory struct {
	mu         sync.RWMutex
	deliveries []corpus.Delivery
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Deliver implements corpus.ChunkSink.
func (m *Memory) Deliver(_ context.Context, d corpus.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

// Deliveries returns a copy of everything delivered so far.
func (m *Memory) Deliveries() []corpus.Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]corpus.Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// ChunkCount sums the chunks over all deliveries.
func (m *Memory) ChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.deliveries {
		n += len(d.Chunks)
	}
	return n
}

// Fanout delivers to every sink and joins their errors.
type Fanout []corpus.ChunkSink

// Deliver implements corpus.ChunkSink.
func (f Fanout) Deliver(ctx context.Context, d corpus.Delivery) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
