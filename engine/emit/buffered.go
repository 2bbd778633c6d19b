package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, organized by execution ID, for
// test assertions and debugging dashboards. Adapted from the teacher's
// emit.BufferedEmitter, trimmed to the one filter this engine's event
// vocabulary actually needs (by kind).
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter returns an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		b.Emit(e)
	}
	return nil
}

func (b *BufferedEmitter) Flush(_ context.Context) error { return nil }

// History returns a copy of every event recorded for executionID, in
// emission order.
func (b *BufferedEmitter) History(executionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.events[executionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// HistoryByKind filters History(executionID) to events of the given kind.
func (b *BufferedEmitter) HistoryByKind(executionID, kind string) []Event {
	var out []Event
	for _, e := range b.History(executionID) {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes buffered events for executionID, or everything if
// executionID is empty.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if executionID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, executionID)
}
