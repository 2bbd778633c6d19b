// Package engine provides the fault-tolerant execution core for
// user-defined workflows expressed as DAGs of typed nodes: planning,
// concurrent dispatch, result caching, distributed locking, heartbeat
// recovery, retry with dead-letter quarantine, and conditional branching.
//
// The engine has no opinion about what a node actually does — callers
// register NodeHandler implementations by node type. The node-handler
// catalog, the graph editor, credential/config/CLI plumbing, and the
// realtime transport all live outside this package; the engine only
// talks to the world through Store, NodeHandler, and StatusEmitter.
package engine

import "time"

// Status is the lifecycle state of an execution or a single node.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled" // claimed by a decide round, about to transition to running
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting" // reserved: no engine transition currently enters this state
	StatusSucceeded Status = "succeeded"
	StatusCached    Status = "cached" // result served from the result cache rather than re-executed
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// ExecutionContext is the durable record of one workflow run.
type ExecutionContext struct {
	ExecutionID     string         `json:"execution_id"`
	WorkflowID      string         `json:"workflow_id"`
	SessionID       string         `json:"session_id,omitempty"`
	Status          Status         `json:"status"`
	Input           map[string]any `json:"input"`
	Outputs         map[string]any `json:"outputs"`
	ExecutionOrder  []string       `json:"execution_order"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Error           string         `json:"error,omitempty"`
	Cancelled       bool           `json:"cancelled"`
	CancelRequested bool           `json:"cancel_requested"`
}

// ExecutionError is one entry in the ordered failure list a snapshot
// reports alongside an execution's header (GetExecution). It is derived
// from the durable event stream, not stored on ExecutionContext itself,
// since node failures are reported by concurrently running goroutines
// within a single decide round and the stream is the only write-safe
// record of them.
type ExecutionError struct {
	NodeID  string    `json:"node_id,omitempty"`
	Message string    `json:"message"`
	Attempt int       `json:"attempt,omitempty"`
	At      time.Time `json:"at"`
}

// NodeExecution is the durable record of one node's attempt history within
// a run.
type NodeExecution struct {
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	Status      Status         `json:"status"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	Input       map[string]any `json:"input"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
}

// CacheEntry is a previously computed, cacheable node result keyed by
// stable input digest.
type CacheEntry struct {
	NodeType  string         `json:"node_type"`
	InputHash string         `json:"input_hash"`
	Output    map[string]any `json:"output"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Event is a point-in-time notification emitted through StatusEmitter.
type Event struct {
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Kind        EventKind      `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	EmittedAt   time.Time      `json:"emitted_at"`
}

// EventKind enumerates the notification kinds the engine emits, both on
// the durable execution:{id}:events stream and through StatusEmitter —
// the two surfaces share one vocabulary rather than each keeping its own
// set of kind strings.
type EventKind string

const (
	EventWorkflowStarted   EventKind = "workflow_started"
	EventWorkflowCompleted EventKind = "workflow_completed"
	EventWorkflowFailed    EventKind = "workflow_failed"
	EventWorkflowCancelled EventKind = "workflow_cancelled"

	EventNodeStarted   EventKind = "node_started"
	EventNodeCompleted EventKind = "node_completed"
	EventNodeFailed    EventKind = "node_failed"
	EventNodeCached    EventKind = "node_cached"
	EventNodeSkipped   EventKind = "node_skipped"
	EventNodeRetried   EventKind = "node_retried"

	EventDLQAdded      EventKind = "dlq_added"
	EventTaskCompleted EventKind = "task_completed"
)

// Heartbeat records that a worker is still actively executing a node.
type Heartbeat struct {
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	WorkerID    string    `json:"worker_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DLQEntry is a node that exhausted its retry budget, quarantined for
// manual inspection or replay.
type DLQEntry struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	Input       map[string]any `json:"input"`
	Error       string         `json:"error"`
	ErrorKind   string         `json:"error_kind"`
	Attempts    int            `json:"attempts"`
	AddedAt     time.Time      `json:"added_at"`
	LastErrorAt time.Time      `json:"last_error_at"`
}

// LockInfo describes a held distributed lock: its key, owner token and
// expiry. Lock.Acquire returns a *Held rather than a LockInfo.
type LockInfo struct {
	Key      string
	Owner    string
	ExpireAt time.Time
}
