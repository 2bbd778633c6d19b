package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing one line per event to a writer,
// text or JSON. Adapted from the teacher's emit.LogEmitter almost
// unchanged — it is pure stdlib by design in the teacher too, so no
// ecosystem dependency is dropped by keeping it that way.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		ExecutionID string         `json:"execution_id"`
		NodeID      string         `json:"node_id,omitempty"`
		Kind        string         `json:"kind"`
		Payload     map[string]any `json:"payload,omitempty"`
	}{event.ExecutionID, event.NodeID, event.Kind, event.Payload})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] execution=%s node=%s", event.Kind, event.ExecutionID, event.NodeID)
	if len(event.Payload) > 0 {
		if b, err := json.Marshal(event.Payload); err == nil {
			_, _ = fmt.Fprintf(l.writer, " payload=%s", b)
		} else {
			_, _ = fmt.Fprintf(l.writer, " payload=%v", event.Payload)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal
// buffering. Wrap writer in a bufio.Writer and flush that directly if
// buffered output is desired.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
