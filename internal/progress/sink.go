package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently. A
// failing sink never affects the crawl itself.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// workers can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// Nop is an Emitter that discards everything. It stands in when progress
// reporting is disabled.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
