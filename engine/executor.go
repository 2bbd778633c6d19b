package engine

import (
	"context"
	"time"
)

// Decide runs one iteration of the execution's decide loop (spec.md §4.5).
// It is safe to call concurrently for the same executionID from multiple
// goroutines or processes: only the caller that acquires the decide lock
// does any work, everyone else returns immediately. Grounded on the
// teacher's graph/engine.go step-loop shape (acquire → load → compute
// frontier → dispatch → persist → release → maybe continue), generalized
// from the teacher's in-process run loop to this spec's crash-safe,
// lock-serialized, tail-recursive decide cycle.
func (e *Engine) Decide(ctx context.Context, executionID string) error {
	held, err := e.lock.Acquire(ctx, keyDecideLock(executionID), e.opts.DecideLockTTL)
	if err != nil {
		e.metrics.incLockUnavailable(executionID)
		return nil // a concurrent decider already owns this round
	}
	released := false
	defer func() {
		if !released {
			held.Release(ctx)
		}
	}()

	ec, err := e.cache.LoadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if isTerminalExecution(ec.Status) {
		return nil
	}

	e.mu.RLock()
	wf := e.workflows[ec.WorkflowID]
	planner := e.planners[ec.WorkflowID]
	e.mu.RUnlock()
	if wf == nil || planner == nil {
		return newError(KindInvalidWorkflow, "workflow "+ec.WorkflowID+" is no longer registered", nil)
	}

	nodes, err := e.cache.LoadAllNodes(ctx, executionID)
	if err != nil {
		return err
	}
	outputs, err := e.cache.LoadOutputs(ctx, executionID)
	if err != nil {
		return err
	}
	states := make(map[string]NodeState, len(nodes))
	for id, ne := range nodes {
		states[id] = NodeState{Status: ne.Status, Output: outputs[id]}
	}

	// FindReady propagates skips one hop per call, so it is repeated until
	// a node is ready or no further node is newly skipped.
	var ready, skippedNow []string
	for {
		r, s, err := planner.FindReady(states)
		if err != nil {
			return err
		}
		for _, nodeID := range s {
			ne := nodes[nodeID]
			ne.Status = StatusSkipped
			if err := e.commitNode(ctx, ne, EventNodeSkipped, nil); err != nil {
				return err
			}
			states[nodeID] = NodeState{Status: StatusSkipped}
		}
		ready = r
		skippedNow = append(skippedNow, s...)
		if len(r) > 0 || len(s) == 0 {
			break
		}
	}

	if len(ready) == 0 {
		return e.finishOrStall(ctx, ec, nodes, skippedNow)
	}

	nodeDefs := make(map[string]NodeDef, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeDefs[n.ID] = n
	}

	for _, nodeID := range ready {
		ne := nodes[nodeID]
		ne.Status = StatusScheduled // claimed for this round; runNodeWithRetry transitions it to running
		if err := e.cache.SaveNode(ctx, ne); err != nil {
			return err
		}
	}

	if err := e.runBatch(ctx, ec, nodeDefs, ready); err != nil {
		return err
	}

	// Reload rather than persist the ec loaded at the top of this call: a
	// concurrent Cancel may have finalized the execution while runBatch was
	// dispatching handlers, and writing back the stale in-memory copy would
	// resurrect an execution that the store already considers terminal.
	latest, err := e.cache.LoadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if isTerminalExecution(latest.Status) {
		if _, err := held.Release(ctx); err != nil {
			return err
		}
		released = true
		return nil
	}
	latest.UpdatedAt = time.Now()
	if err := e.cache.SaveExecution(ctx, latest); err != nil {
		return err
	}

	if _, err := held.Release(ctx); err != nil {
		return err
	}
	released = true

	final, err := e.cache.LoadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if !isTerminalExecution(final.Status) {
		go e.Decide(detach(ctx), executionID)
	}
	return nil
}

// finishOrStall handles the spec.md §4.5 step-4 case: no node is ready.
// If every node reached a terminal status, the execution itself completes
// (succeeded or failed); otherwise no node will ever become ready again
// and the execution is stuck.
func (e *Engine) finishOrStall(ctx context.Context, ec *ExecutionContext, nodes map[string]*NodeExecution, skippedNow []string) error {
	allTerminal := true
	anyFailed := false
	for _, ne := range nodes {
		switch ne.Status {
		case StatusSucceeded, StatusCached, StatusSkipped:
		case StatusFailed:
			anyFailed = true
		default:
			allTerminal = false
		}
	}

	now := time.Now()
	if allTerminal {
		if anyFailed {
			ec.Status = StatusFailed
		} else {
			ec.Status = StatusSucceeded
		}
		ec.CompletedAt = &now
		ec.UpdatedAt = now
		if err := e.cache.MarkInactive(ctx, ec.ExecutionID); err != nil {
			return err
		}
		kind := EventWorkflowCompleted
		if anyFailed {
			kind = EventWorkflowFailed
		}
		return e.commitWorkflow(ctx, ec, kind, nil)
	}

	// Stuck: some node is still non-terminal but FindReady found nothing
	// ready and nothing newly skippable. This happens only if every
	// remaining PENDING node is blocked on a source that will never
	// reach a terminal status, which should not occur given the planner's
	// invariants — surfaced as workflow_failed(reason=stuck) rather than
	// left to spin forever.
	ec.Status = StatusFailed
	ec.Error = "stuck: no ready nodes and execution is not complete"
	ec.UpdatedAt = now
	ec.CompletedAt = &now
	if err := e.cache.MarkInactive(ctx, ec.ExecutionID); err != nil {
		return err
	}
	return e.commitWorkflow(ctx, ec, EventWorkflowFailed, map[string]any{"reason": "stuck"})
}
