// Package emit provides the StatusEmitter port (spec.md §6.2) and a handful
// of implementations: a plain-text/JSON log writer, a zerolog-backed
// structured logger, an OpenTelemetry span emitter, and in-memory
// buffered/null emitters for tests. Adapted from the teacher's graph/emit
// package, whose Emitter/Event shape and EmitBatch/Flush methods survive
// unchanged — only the field names and Msg vocabulary change to match the
// engine's event kinds.
package emit

import "context"

// Emitter is the StatusEmitter port: the engine's only way of telling the
// outside world that something happened. It never blocks execution on
// delivery failures — Emit is fire-and-forget by design; EmitBatch and
// Flush exist for implementations that want to batch or need an explicit
// drain point (e.g. before process shutdown).
type Emitter interface {
	// Emit notifies of a single event. Implementations must not block the
	// caller on slow downstream delivery; buffer internally if needed.
	Emit(event Event)
	// EmitBatch notifies of multiple events in one call, for
	// implementations that can amortize overhead across a batch.
	EmitBatch(ctx context.Context, events []Event) error
	// Flush drains any buffered events. A no-op for emitters with no
	// internal buffering.
	Flush(ctx context.Context) error
}
