package progress

import "context"

// Sink consumes batches of events. Implementations must honor ctx deadlines
// and tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes single events. Hub implements it; the pipeline depends
// only on this interface.
type Emitter interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close does nothing.
func (SinkFunc) Close(context.Context) error {
	return nil
}

// Discard is an Emitter that drops every event.
type Discard struct{}

// Emit drops evt.
func (Discard) Emit(Event) {}
