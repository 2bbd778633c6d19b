package emit

import "context"

// NullEmitter discards every event. Useful when a caller wants to run the
// engine without wiring any observability backend.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event)                                 {}
func (n *NullEmitter) EmitBatch(context.Context, []Event) error   { return nil }
func (n *NullEmitter) Flush(context.Context) error                { return nil }
