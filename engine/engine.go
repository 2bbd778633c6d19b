package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/corewf/flowengine/engine/emit"
	"github.com/corewf/flowengine/engine/store"
)

// Engine is the public facade (spec.md §6.3): the one type application
// code constructs and calls. It owns the Cache, Lock, handler registry,
// retry policy table, and the workflow definitions registered with it.
//
// Grounded on the teacher's graph/engine.go Engine[S] facade and on
// other_examples' linkflow-go Orchestrator (the executors map, the
// pending-workflow bookkeeping, the background monitor loop) — adapted
// from the teacher's generic-state Run() model to this spec's
// durable-decide-loop model.
type Engine struct {
	store    store.Store
	cache    *Cache
	lock     *Lock
	handlers *HandlerRegistry
	emitter  emit.Emitter
	metrics  *Metrics
	opts     Options
	policies *PolicyTable
	limiter  *rate.Limiter

	mu        sync.RWMutex
	workflows map[string]*WorkflowDef
	planners  map[string]*Planner

	recovery *Recovery
}

// New constructs an Engine. st backs the Cache/Lock; handlers is the
// NodeHandler registry callers populate before or after construction;
// emitter receives every StatusEmitter notification.
func New(st store.Store, handlers *HandlerRegistry, emitter emit.Emitter, opts ...Option) (*Engine, error) {
	o, err := applyOptions(opts...)
	if err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	cache := NewCache(st, o.ResultCacheTTL, o.HeartbeatStale, o.EventsMaxLen)
	policies := NewPolicyTable()
	for nodeType, p := range o.RetryOverrides {
		policies.Set(nodeType, p)
	}

	e := &Engine{
		store:     st,
		cache:     cache,
		lock:      NewLock(st),
		handlers:  handlers,
		emitter:   emitter,
		metrics:   o.Metrics,
		opts:      o,
		policies:  policies,
		workflows: make(map[string]*WorkflowDef),
		planners:  make(map[string]*Planner),
		limiter:   o.Limiter,
	}
	e.recovery = NewRecovery(e)
	return e, nil
}

// RegisterWorkflow makes wf known to the engine under wf.ID, computing and
// caching its Planner. Must be called before StartExecution references
// wf.ID.
func (e *Engine) RegisterWorkflow(wf *WorkflowDef) error {
	planner := NewPlanner(wf)
	if _, err := planner.ExecutionOrder(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[wf.ID] = wf
	e.planners[wf.ID] = planner
	return nil
}

// StartExecution creates a new ExecutionContext for workflowID, computes
// its execution order, marks it active, and kicks off the first decide
// iteration.
func (e *Engine) StartExecution(ctx context.Context, workflowID string, input map[string]any, sessionID string) (*ExecutionContext, error) {
	e.mu.RLock()
	wf, ok := e.workflows[workflowID]
	planner := e.planners[workflowID]
	e.mu.RUnlock()
	if !ok {
		return nil, newError(KindInvalidWorkflow, "workflow "+workflowID+" is not registered", nil)
	}

	order, err := planner.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ec := &ExecutionContext{
		ExecutionID:    uuid.NewString(),
		WorkflowID:     workflowID,
		SessionID:      sessionID,
		Status:         StatusRunning,
		Input:          input,
		Outputs:        map[string]any{},
		ExecutionOrder: order,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, n := range wf.Nodes {
		ne := &NodeExecution{
			ExecutionID: ec.ExecutionID,
			NodeID:      n.ID,
			NodeType:    n.Type,
			Status:      StatusPending,
			MaxAttempts: e.policies.For(n.Type).MaxAttempts,
		}
		if err := e.cache.SaveNode(ctx, ne); err != nil {
			return nil, err
		}
	}

	if err := e.cache.MarkActive(ctx, ec.ExecutionID); err != nil {
		return nil, err
	}
	if err := e.commitWorkflow(ctx, ec, EventWorkflowStarted, nil); err != nil {
		return nil, err
	}

	go e.Decide(detach(ctx), ec.ExecutionID)

	return ec, nil
}

// Resume re-enters the decide loop for executionID: useful after a
// process restart, or any time a caller wants a specific execution to
// make progress immediately rather than waiting for Recovery's next sweep
// or a DLQ replay to trigger it. A no-op if the execution is already
// terminal.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	ec, err := e.cache.LoadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if isTerminalExecution(ec.Status) {
		return nil
	}
	go e.Decide(detach(ctx), executionID)
	return nil
}

// ExecutionSnapshot is the current state snapshot GetExecution returns:
// the execution header, every node's current state, its recorded outputs,
// and the ordered list of failures observed so far.
type ExecutionSnapshot struct {
	*ExecutionContext
	Nodes   map[string]*NodeExecution `json:"nodes"`
	Outputs map[string]map[string]any `json:"outputs"`
	Errors  []ExecutionError          `json:"errors"`
}

// GetExecution returns the current state snapshot for executionID: its
// header, every node's execution record, recorded outputs, and the
// ordered failure list derived from the event stream.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*ExecutionSnapshot, error) {
	ec, err := e.cache.LoadExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.cache.LoadAllNodes(ctx, executionID)
	if err != nil {
		return nil, err
	}
	outputs, err := e.cache.LoadOutputs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	errs, err := e.cache.LoadErrors(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &ExecutionSnapshot{ExecutionContext: ec, Nodes: nodes, Outputs: outputs, Errors: errs}, nil
}

// ListActive returns every currently active execution ID.
func (e *Engine) ListActive(ctx context.Context) ([]string, error) {
	return e.cache.ActiveExecutions(ctx)
}

// Cancel marks an execution cancelled: status becomes CANCELLED, it is
// removed from the active set, and workflow_cancelled is emitted. Handler
// calls already in flight are not signalled to abort (cancelRunning is a
// no-op); they run to completion, their results are still written but no
// longer affect execution status, and no further nodes are scheduled.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	ec, err := e.cache.LoadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if isTerminalExecution(ec.Status) {
		return nil
	}
	ec.Status = StatusCancelled
	ec.Cancelled = true
	ec.UpdatedAt = time.Now()
	if err := e.cache.MarkInactive(ctx, executionID); err != nil {
		return err
	}
	e.cancelRunning(executionID)
	return e.commitWorkflow(ctx, ec, EventWorkflowCancelled, nil)
}

func isTerminalExecution(s Status) bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ReplayDLQ invokes the handler of a quarantined node once more with the
// entry's stored input. It makes a single attempt: there is no retry loop,
// no per-node timeout and no heartbeat, and a failed replay returns the
// handler's error and leaves the entry in place. On success it marks the
// node succeeded, removes the DLQ entry, reopens the execution if it had
// ended FAILED, and re-enters the decide loop.
func (e *Engine) ReplayDLQ(ctx context.Context, entryID string) error {
	entry, err := e.cache.GetDLQ(ctx, entryID)
	if err != nil {
		return err
	}
	ec, err := e.cache.LoadExecution(ctx, entry.ExecutionID)
	if err != nil {
		return err
	}
	outputs, err := e.cache.LoadOutputs(ctx, entry.ExecutionID)
	if err != nil {
		return err
	}
	view := CtxView{WorkflowID: ec.WorkflowID, SessionID: ec.SessionID, ExecutionID: ec.ExecutionID, UpstreamOutputs: outputs}
	output, runErr := e.runOnce(ctx, entry.NodeID, entry.NodeType, entry.Input, view)
	if runErr != nil {
		return runErr
	}
	if err := e.cache.SaveOutput(ctx, entry.ExecutionID, entry.NodeID, output); err != nil {
		return err
	}
	ne, err := e.cache.LoadNode(ctx, entry.ExecutionID, entry.NodeID)
	if err == nil {
		ne.Status = StatusSucceeded
		ne.Output = output
		ne.Error = ""
		ne.ErrorKind = ""
		if err := e.commitNode(ctx, ne, EventNodeCompleted, map[string]any{"output": output}); err != nil {
			return err
		}
	}
	if err := e.cache.RemoveDLQ(ctx, entryID); err != nil {
		return err
	}
	if err := e.recordEvent(ctx, entry.ExecutionID, entry.NodeID, EventTaskCompleted, map[string]any{"dlq_entry_id": entry.ID}); err != nil {
		return err
	}
	if ec.Status == StatusFailed {
		ec.Status = StatusRunning
		ec.Error = ""
		ec.CompletedAt = nil
		ec.UpdatedAt = time.Now()
		if err := e.cache.SaveExecution(ctx, ec); err != nil {
			return err
		}
		if err := e.cache.MarkActive(ctx, ec.ExecutionID); err != nil {
			return err
		}
	}
	go e.Decide(detach(ctx), entry.ExecutionID)
	return nil
}

// ListDLQ returns quarantined entries, optionally narrowed to workflowID
// and/or nodeType (either may be left empty), oldest first and capped at
// limit when > 0.
func (e *Engine) ListDLQ(ctx context.Context, workflowID, nodeType string, limit int) ([]*DLQEntry, error) {
	return e.cache.ListDLQFiltered(ctx, workflowID, nodeType, limit)
}

func (e *Engine) GetDLQ(ctx context.Context, id string) (*DLQEntry, error) {
	return e.cache.GetDLQ(ctx, id)
}

func (e *Engine) RemoveDLQ(ctx context.Context, id string) error { return e.cache.RemoveDLQ(ctx, id) }

// PurgeDLQ removes quarantined entries matching the given filters
// (workflowID, nodeType, and olderThan — all optional; a zero olderThan
// applies no age cutoff) and returns the number removed.
func (e *Engine) PurgeDLQ(ctx context.Context, workflowID, nodeType string, olderThan time.Duration) (int, error) {
	return e.cache.PurgeDLQFiltered(ctx, workflowID, nodeType, olderThan)
}

func (e *Engine) StatsDLQ(ctx context.Context) (*DLQStats, error) { return e.cache.StatsDLQ(ctx) }

// StartRecovery starts the background sweeper and performs one
// synchronous startup sweep, per spec.md §4.7.
func (e *Engine) StartRecovery(ctx context.Context) error {
	return e.recovery.Start(ctx)
}

// Close stops the recovery sweeper and releases the Store.
func (e *Engine) Close() error {
	e.recovery.Stop()
	return e.store.Close()
}

// commitNode persists ne, appends the durable Event for this transition,
// and forwards it to the StatusEmitter — durable record first, so the
// emitter (best-effort, in-process only) can never report something that
// didn't make it into the event stream.
func (e *Engine) commitNode(ctx context.Context, ne *NodeExecution, kind EventKind, payload map[string]any) error {
	if err := e.cache.CommitNodeOutcome(ctx, ne, kind, payload); err != nil {
		return err
	}
	e.emitter.Emit(emit.Event{ExecutionID: ne.ExecutionID, NodeID: ne.NodeID, Kind: string(kind), Payload: payload, EmittedAt: time.Now()})
	return nil
}

// commitWorkflow is commitNode's workflow-header counterpart.
func (e *Engine) commitWorkflow(ctx context.Context, ec *ExecutionContext, kind EventKind, payload map[string]any) error {
	if err := e.cache.CommitWorkflowOutcome(ctx, ec, kind, payload); err != nil {
		return err
	}
	e.emitter.Emit(emit.Event{ExecutionID: ec.ExecutionID, Kind: string(kind), Payload: payload, EmittedAt: time.Now()})
	return nil
}

// recordEvent appends a durable Event with no accompanying state write
// (dlq_added, task_completed — the ExecutionContext/NodeExecution record
// involved was already committed separately) and forwards it to the
// StatusEmitter.
func (e *Engine) recordEvent(ctx context.Context, executionID, nodeID string, kind EventKind, payload map[string]any) error {
	if err := e.cache.AppendEvent(ctx, &Event{ExecutionID: executionID, NodeID: nodeID, Kind: kind, Payload: payload, EmittedAt: time.Now()}); err != nil {
		return err
	}
	e.emitter.Emit(emit.Event{ExecutionID: executionID, NodeID: nodeID, Kind: string(kind), Payload: payload, EmittedAt: time.Now()})
	return nil
}

// detach returns a fresh background context that inherits neither deadline
// nor cancellation from ctx, and that nothing else cancels — the decide
// loop's tail-call continuations must outlive the HTTP request (or
// similar) that triggered StartExecution.
func detach(ctx context.Context) context.Context {
	return context.Background()
}
