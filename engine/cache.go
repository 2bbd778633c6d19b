package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/corewf/flowengine/engine/store"
)

// Cache implements the key-space invariants of spec.md §4.2 on top of
// Store. It is not responsible for serializing decide loops (that is
// Lock's job) but its writes are idempotent so a retried decide iteration
// after a crash reaches the same final state. Grounded on the teacher's
// store.Store interface shape, adapted from state-snapshot semantics to
// this spec's explicit key table.
type Cache struct {
	st                store.Store
	defaultResultTTL  time.Duration
	heartbeatTTL      time.Duration
	eventsMaxLen      int64
}

// NewCache wraps st. resultTTL is the default TTL for cached handler
// outputs (spec default 3600s); heartbeatTTL should be >= 3x the
// heartbeat interval (spec.md §4.2); eventsMaxLen caps the per-execution
// event stream length (0 disables capping).
func NewCache(st store.Store, resultTTL, heartbeatTTL time.Duration, eventsMaxLen int64) *Cache {
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &Cache{st: st, defaultResultTTL: resultTTL, heartbeatTTL: heartbeatTTL, eventsMaxLen: eventsMaxLen}
}

func keyExecState(id string) string    { return "execution:" + id + ":state" }
func keyExecNodes(id string) string    { return "execution:" + id + ":nodes" }
func keyExecOutputs(id string) string  { return "execution:" + id + ":outputs" }
func keyExecEvents(id string) string   { return "execution:" + id + ":events" }
func keyResult(execID, nodeID, hash string) string {
	return "result:" + execID + ":" + nodeID + ":" + hash
}
func keyHeartbeat(execID, nodeID string) string { return "heartbeat:" + execID + ":" + nodeID }
func keyDecideLock(execID string) string        { return "execution:" + execID + ":decide" }
func keyActiveSet() string                      { return "executions:active" }
func keyDLQEntry(id string) string              { return "dlq:entries:" + id }
func keyDLQByWorkflow(wf string) string          { return "dlq:workflow:" + wf }
func keyDLQByNodeType(t string) string           { return "dlq:node_type:" + t }
func keyDLQAll() string                          { return "dlq:all" }

// SaveExecution persists the ExecutionContext header.
func (c *Cache) SaveExecution(ctx context.Context, ec *ExecutionContext) error {
	b, err := json.Marshal(ec)
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to marshal execution context", err)
	}
	return c.st.Set(ctx, keyExecState(ec.ExecutionID), b, 0)
}

// LoadExecution returns the ExecutionContext for id, or ErrNotFound.
func (c *Cache) LoadExecution(ctx context.Context, id string) (*ExecutionContext, error) {
	b, err := c.st.Get(ctx, keyExecState(id))
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ec ExecutionContext
	if err := json.Unmarshal(b, &ec); err != nil {
		return nil, newError(KindInvalidWorkflow, "failed to unmarshal execution context", err)
	}
	return &ec, nil
}

// SaveNode writes one node's execution record into the per-execution
// nodes hash.
func (c *Cache) SaveNode(ctx context.Context, ne *NodeExecution) error {
	b, err := json.Marshal(ne)
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to marshal node execution", err)
	}
	return c.st.HSet(ctx, keyExecNodes(ne.ExecutionID), ne.NodeID, b)
}

// LoadNode reads one node's execution record, or ErrNotFound.
func (c *Cache) LoadNode(ctx context.Context, executionID, nodeID string) (*NodeExecution, error) {
	b, err := c.st.HGet(ctx, keyExecNodes(executionID), nodeID)
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ne NodeExecution
	if err := json.Unmarshal(b, &ne); err != nil {
		return nil, newError(KindInvalidWorkflow, "failed to unmarshal node execution", err)
	}
	return &ne, nil
}

// LoadAllNodes returns every node execution record for executionID.
func (c *Cache) LoadAllNodes(ctx context.Context, executionID string) (map[string]*NodeExecution, error) {
	raw, err := c.st.HGetAll(ctx, keyExecNodes(executionID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]*NodeExecution, len(raw))
	for nodeID, b := range raw {
		var ne NodeExecution
		if err := json.Unmarshal(b, &ne); err != nil {
			return nil, newError(KindInvalidWorkflow, "failed to unmarshal node execution", err)
		}
		out[nodeID] = &ne
	}
	return out, nil
}

// SaveOutput records a node's output in the per-execution outputs hash.
func (c *Cache) SaveOutput(ctx context.Context, executionID, nodeID string, output map[string]any) error {
	b, err := json.Marshal(output)
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to marshal node output", err)
	}
	return c.st.HSet(ctx, keyExecOutputs(executionID), nodeID, b)
}

// LoadOutputs returns every recorded node output for executionID.
func (c *Cache) LoadOutputs(ctx context.Context, executionID string) (map[string]map[string]any, error) {
	raw, err := c.st.HGetAll(ctx, keyExecOutputs(executionID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(raw))
	for nodeID, b := range raw {
		var output map[string]any
		if err := json.Unmarshal(b, &output); err != nil {
			return nil, newError(KindInvalidWorkflow, "failed to unmarshal node output", err)
		}
		out[nodeID] = output
	}
	return out, nil
}

// SaveResult caches a handler's output keyed by stable input digest.
// Only success outputs are ever cached (spec.md §9's documented choice).
func (c *Cache) SaveResult(ctx context.Context, executionID, nodeID, inputHash string, output map[string]any) error {
	b, err := json.Marshal(output)
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to marshal cached result", err)
	}
	return c.st.Set(ctx, keyResult(executionID, nodeID, inputHash), b, c.defaultResultTTL)
}

// LoadResult returns a previously cached result, or ErrNotFound on a cache
// miss.
func (c *Cache) LoadResult(ctx context.Context, executionID, nodeID, inputHash string) (map[string]any, error) {
	b, err := c.st.Get(ctx, keyResult(executionID, nodeID, inputHash))
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var output map[string]any
	if err := json.Unmarshal(b, &output); err != nil {
		return nil, newError(KindInvalidWorkflow, "failed to unmarshal cached result", err)
	}
	return output, nil
}

// AppendEvent appends ev to the execution's event stream. Per spec.md
// §4.2's write-ordering rule, callers must write state/node-hash updates
// before calling AppendEvent for the corresponding transition.
func (c *Cache) AppendEvent(ctx context.Context, ev *Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to marshal event", err)
	}
	return c.st.StreamAppend(ctx, keyExecEvents(ev.ExecutionID), b, c.eventsMaxLen)
}

// LoadEvents returns up to limit events for executionID starting after
// cursor, along with the cursor to resume from.
func (c *Cache) LoadEvents(ctx context.Context, executionID, cursor string, limit int64) ([]*Event, string, error) {
	raw, next, err := c.st.StreamRange(ctx, keyExecEvents(executionID), cursor, limit)
	if err != nil {
		return nil, cursor, err
	}
	out := make([]*Event, 0, len(raw))
	for _, b := range raw {
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, cursor, newError(KindInvalidWorkflow, "failed to unmarshal event", err)
		}
		out = append(out, &ev)
	}
	return out, next, nil
}

// CommitNodeOutcome persists ne and appends the Event recording this
// transition, state before stream write per the §4.2 ordering rule: a
// crash between the two leaves the event stream momentarily behind the
// authoritative node record, never ahead of it.
func (c *Cache) CommitNodeOutcome(ctx context.Context, ne *NodeExecution, kind EventKind, payload map[string]any) error {
	if err := c.SaveNode(ctx, ne); err != nil {
		return err
	}
	return c.AppendEvent(ctx, &Event{
		ExecutionID: ne.ExecutionID,
		NodeID:      ne.NodeID,
		Kind:        kind,
		Payload:     payload,
		EmittedAt:   time.Now(),
	})
}

// CommitWorkflowOutcome persists ec and appends the corresponding
// workflow-level Event, same ordering rule as CommitNodeOutcome.
func (c *Cache) CommitWorkflowOutcome(ctx context.Context, ec *ExecutionContext, kind EventKind, payload map[string]any) error {
	if err := c.SaveExecution(ctx, ec); err != nil {
		return err
	}
	return c.AppendEvent(ctx, &Event{
		ExecutionID: ec.ExecutionID,
		Kind:        kind,
		Payload:     payload,
		EmittedAt:   time.Now(),
	})
}

// LoadErrors derives the ordered failure list ExecutionContext.errors
// names by scanning the event stream for node_failed and workflow_failed
// events — the stream, not a mutable struct field, is the write-safe
// record of failures, since sibling nodes in one decide round fail from
// concurrently running goroutines.
func (c *Cache) LoadErrors(ctx context.Context, executionID string) ([]ExecutionError, error) {
	var out []ExecutionError
	cursor := ""
	for {
		events, next, err := c.LoadEvents(ctx, executionID, cursor, 500)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			switch ev.Kind {
			case EventNodeFailed:
				out = append(out, ExecutionError{
					NodeID:  ev.NodeID,
					Message: stringPayload(ev.Payload, "error"),
					Attempt: intPayload(ev.Payload, "attempt"),
					At:      ev.EmittedAt,
				})
			case EventWorkflowFailed:
				out = append(out, ExecutionError{
					Message: stringPayload(ev.Payload, "reason"),
					At:      ev.EmittedAt,
				})
			}
		}
		if next == cursor {
			break
		}
		cursor = next
	}
	return out, nil
}

func stringPayload(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func intPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Heartbeat records that worker is actively executing nodeID within
// executionID.
func (c *Cache) Heartbeat(ctx context.Context, executionID, nodeID, workerID string) error {
	hb := Heartbeat{ExecutionID: executionID, NodeID: nodeID, WorkerID: workerID, UpdatedAt: time.Now()}
	b, err := json.Marshal(hb)
	if err != nil {
		return newError(KindInvalidWorkflow, "failed to marshal heartbeat", err)
	}
	return c.st.Set(ctx, keyHeartbeat(executionID, nodeID), b, c.heartbeatTTL)
}

// LoadHeartbeat returns the last heartbeat for (executionID, nodeID), or
// ErrNotFound if it has expired or never existed — callers treat either as
// "the runner is presumed dead."
func (c *Cache) LoadHeartbeat(ctx context.Context, executionID, nodeID string) (*Heartbeat, error) {
	b, err := c.st.Get(ctx, keyHeartbeat(executionID, nodeID))
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var hb Heartbeat
	if err := json.Unmarshal(b, &hb); err != nil {
		return nil, newError(KindInvalidWorkflow, "failed to unmarshal heartbeat", err)
	}
	return &hb, nil
}

// ClearHeartbeat removes the heartbeat for (executionID, nodeID), called
// once a node finishes so a stale TTL never causes a false recovery hit
// after completion.
func (c *Cache) ClearHeartbeat(ctx context.Context, executionID, nodeID string) error {
	return c.st.Delete(ctx, keyHeartbeat(executionID, nodeID))
}

// MarkActive adds executionID to the active-executions set.
func (c *Cache) MarkActive(ctx context.Context, executionID string) error {
	return c.st.SAdd(ctx, keyActiveSet(), executionID)
}

// MarkInactive removes executionID from the active-executions set.
func (c *Cache) MarkInactive(ctx context.Context, executionID string) error {
	return c.st.SRem(ctx, keyActiveSet(), executionID)
}

// ActiveExecutions returns every currently active execution ID.
func (c *Cache) ActiveExecutions(ctx context.Context) ([]string, error) {
	return c.st.SMembers(ctx, keyActiveSet())
}

// DecideLockTTL is the TTL used for the per-execution decide-loop lock.
const DecideLockTTL = 60 * time.Second
