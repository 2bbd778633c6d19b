package emit

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologEmitter is the ambient structured-logging implementation of
// Emitter, grounded on r3e-network-service_layer's pkg/logger wrapper
// pattern (a thin struct around the ecosystem logger, constructed once and
// reused) but built on zerolog rather than logrus — see DESIGN.md's "Open
// decisions" entry for why.
//
// Each event becomes one zerolog structured log line at Info level (Warn
// for dlq_added), with execution_id/node_id/kind as fields and payload
// entries flattened alongside them.
type ZerologEmitter struct {
	logger zerolog.Logger
}

// NewZerologEmitter wraps logger. Callers configure level, output, and
// sampling on the zerolog.Logger before passing it in.
func NewZerologEmitter(logger zerolog.Logger) *ZerologEmitter {
	return &ZerologEmitter{logger: logger.With().Str("component", "engine").Logger()}
}

func (z *ZerologEmitter) Emit(event Event) {
	level := zerolog.InfoLevel
	if event.Kind == "dlq_added" {
		level = zerolog.WarnLevel
	}
	evt := z.logger.WithLevel(level).
		Str("execution_id", event.ExecutionID).
		Str("kind", event.Kind)
	if event.NodeID != "" {
		evt = evt.Str("node_id", event.NodeID)
	}
	for k, v := range event.Payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg("workflow event")
}

func (z *ZerologEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		z.Emit(e)
	}
	return nil
}

// Flush is a no-op: zerolog writes are synchronous to its underlying
// io.Writer, which owns any buffering of its own.
func (z *ZerologEmitter) Flush(_ context.Context) error { return nil }
