package emit

import "time"

// Event is the wire shape StatusEmitter implementations consume, adapted
// from the teacher's emit.Event to the execution/node/kind vocabulary
// spec.md §3 defines. The same typed Kind values that travel on the
// durable execution:{id}:events stream (workflow_started, node_started,
// node_completed, node_failed, node_cached, node_skipped, node_retried,
// workflow_completed/failed/cancelled, dlq_added, task_completed) are
// forwarded here rather than collapsed to a separate status-changed kind.
type Event struct {
	ExecutionID string
	NodeID      string // empty for workflow-level events
	Kind        string
	Payload     map[string]any
	EmittedAt   time.Time
}
