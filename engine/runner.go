package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// runBatch dispatches every ready node concurrently and waits for all of
// them to finish, per spec.md §4.6. Grounded on the teacher's
// graph/engine.go executeParallel/runConcurrent (errgroup fan-out,
// one goroutine per ready node) — generalized from the teacher's
// single-pass node execution to this spec's full retry-with-cache
// pipeline per node. In ExecutorSequential mode nodes run one at a time
// on the calling goroutine instead, for callers that want a deterministic
// single-threaded trace (e.g. tests).
func (e *Engine) runBatch(ctx context.Context, ec *ExecutionContext, nodeDefs map[string]NodeDef, ready []string) error {
	e.metrics.setQueueDepth(len(ready))

	if e.opts.ExecutorMode == ExecutorSequential {
		for _, nodeID := range ready {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := e.runNodeWithRetry(ctx, ec, nodeDefs[nodeID]); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, nodeID := range ready {
		nodeID := nodeID
		g.Go(func() error {
			if e.limiter != nil {
				if err := e.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			return e.runNodeWithRetry(gctx, ec, nodeDefs[nodeID])
		})
	}
	return g.Wait()
}

// runNodeWithRetry implements spec.md §4.6's per-node pipeline:
//
//  1. Resolve {{node.path}} templates in the node's declared input against
//     prior node outputs.
//  2. Compute the stable input digest and check the result cache; a hit
//     short-circuits straight to CACHED without invoking the handler.
//  3. Otherwise loop up to policy.MaxAttempts: run the handler with a
//     heartbeat goroutine and a per-attempt timeout; a success persists
//     the output and caches it; an error that policy.Retryable (IsRetryable
//     when unset) rejects, or retry-budget exhaustion, quarantines the node
//     to the DLQ; a retryable error sleeps BackoffFor(attempt+1) and tries
//     again.
//
// Failures other than the handler's own are returned to the caller
// (runBatch / errgroup) so a store outage aborts the whole batch rather
// than silently dropping a node's result.
func (e *Engine) runNodeWithRetry(ctx context.Context, ec *ExecutionContext, nodeDef NodeDef) error {
	executionID := ec.ExecutionID
	nodeID := nodeDef.ID

	ne, err := e.cache.LoadNode(ctx, executionID, nodeID)
	if err != nil {
		return err
	}

	outputs, err := e.cache.LoadOutputs(ctx, executionID)
	if err != nil {
		return err
	}
	resolved, ok := ResolveTemplates(nodeDef.Input, outputs).(map[string]any)
	if !ok {
		resolved = map[string]any{}
	}
	ne.Input = resolved

	inputHash, err := StableDigest(nodeDef.Type, resolved)
	if err != nil {
		return err
	}

	if cached, err := e.cache.LoadResult(ctx, executionID, nodeID, inputHash); err == nil {
		return e.finishNode(ctx, ne, StatusCached, cached, "", "", EventNodeCached, nil)
	} else if err != ErrNotFound {
		return err
	}

	policy := e.policies.For(nodeDef.Type)
	ne.MaxAttempts = policy.MaxAttempts
	ne.Status = StatusRunning
	if err := e.cache.SaveNode(ctx, ne); err != nil {
		return err
	}

	view := CtxView{
		WorkflowID:      ec.WorkflowID,
		SessionID:       ec.SessionID,
		ExecutionID:     executionID,
		UpstreamOutputs: outputs,
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		ne.Attempt = attempt
		now := time.Now()
		ne.StartedAt = &now
		if err := e.cache.SaveNode(ctx, ne); err != nil {
			return err
		}

		startKind := EventNodeStarted
		if attempt > 1 {
			startKind = EventNodeRetried
		}
		if err := e.recordEvent(ctx, executionID, nodeID, startKind, map[string]any{"attempt": attempt}); err != nil {
			return err
		}

		output, runErr := e.runAttempt(ctx, executionID, nodeID, nodeDef.Type, resolved, view, policy)
		ended := time.Now()
		ne.EndedAt = &ended
		e.metrics.recordLatency(nodeDef.Type, ended.Sub(now), statusLabel(runErr))

		if runErr == nil {
			if err := e.cache.SaveResult(ctx, executionID, nodeID, inputHash, output); err != nil {
				return err
			}
			return e.finishNode(ctx, ne, StatusSucceeded, output, "", "", EventNodeCompleted, nil)
		}

		lastErr = runErr
		retryable := policy.Retryable
		if retryable == nil {
			retryable = IsRetryable
		}
		if !retryable(runErr) || attempt == policy.MaxAttempts {
			break
		}

		e.metrics.incRetries(nodeDef.Type, errorKindOf(runErr))
		delay := policy.BackoffFor(attempt + 1)
		ne.NextRetryAt = ptrTime(time.Now().Add(delay))
		if err := e.cache.SaveNode(ctx, ne); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return e.quarantine(ctx, ec, ne, nodeDef, resolved, lastErr)
}

// runAttempt runs one handler invocation with a heartbeat goroutine and a
// per-node timeout, per spec.md §4.6 step 3's sub-steps.
func (e *Engine) runAttempt(ctx context.Context, executionID, nodeID, nodeType string, input map[string]any, view CtxView, policy RetryPolicy) (map[string]any, error) {
	timeout := policy.TimeoutFor(e.opts.NodeDefaultTimeout)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hbDone := make(chan struct{})
	workerID := uuid.NewString()
	go e.heartbeatLoop(attemptCtx, executionID, nodeID, workerID, hbDone)
	defer func() {
		close(hbDone)
		_ = e.cache.ClearHeartbeat(context.Background(), executionID, nodeID)
	}()

	output, err := e.runOnce(attemptCtx, nodeID, nodeType, input, view)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindHandlerTimeout, "node "+nodeID+" exceeded its timeout", err)
		}
		return nil, err
	}
	return output, nil
}

// runOnce invokes the registered handler for nodeType exactly once,
// with no retry or timeout handling of its own — the caller (runAttempt,
// or ReplayDLQ for a manual replay) supplies the context deadline.
func (e *Engine) runOnce(ctx context.Context, nodeID, nodeType string, input map[string]any, view CtxView) (map[string]any, error) {
	handler, err := e.handlers.Lookup(nodeType)
	if err != nil {
		return nil, newError(KindHandlerPermanent, "no handler registered for node type "+nodeType, err)
	}
	return handler.Execute(ctx, nodeID, nodeType, input, view)
}

func (e *Engine) heartbeatLoop(ctx context.Context, executionID, nodeID, workerID string, done <-chan struct{}) {
	interval := e.opts.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	_ = e.cache.Heartbeat(ctx, executionID, nodeID, workerID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.cache.Heartbeat(ctx, executionID, nodeID, workerID)
		}
	}
}

// finishNode persists a node's terminal outcome, records its output when
// it has one, and commits the corresponding durable + in-process event.
func (e *Engine) finishNode(ctx context.Context, ne *NodeExecution, status Status, output map[string]any, errMsg, errKind string, kind EventKind, extra map[string]any) error {
	ne.Status = status
	ne.Output = output
	ne.Error = errMsg
	ne.ErrorKind = errKind

	payload := extra
	if output != nil {
		if err := e.cache.SaveOutput(ctx, ne.ExecutionID, ne.NodeID, output); err != nil {
			return err
		}
		if payload == nil {
			payload = map[string]any{}
		}
		payload["output"] = output
	}
	return e.commitNode(ctx, ne, kind, payload)
}

// quarantine records a node's terminal failure and adds it to the DLQ
// once its retry budget is exhausted or its error is not retryable
// (spec.md §4.8).
func (e *Engine) quarantine(ctx context.Context, ec *ExecutionContext, ne *NodeExecution, nodeDef NodeDef, resolved map[string]any, cause error) error {
	kind := errorKindOf(cause)
	if err := e.finishNode(ctx, ne, StatusFailed, nil, cause.Error(), kind, EventNodeFailed, map[string]any{
		"error":      cause.Error(),
		"error_kind": kind,
		"attempt":    ne.Attempt,
	}); err != nil {
		return err
	}
	e.metrics.incDLQ(nodeDef.Type)
	entry := &DLQEntry{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		NodeID:      nodeDef.ID,
		NodeType:    nodeDef.Type,
		Input:       resolved,
		Error:       cause.Error(),
		ErrorKind:   kind,
		Attempts:    ne.Attempt,
		LastErrorAt: time.Now(),
	}
	if err := e.cache.AddDLQ(ctx, entry); err != nil {
		return err
	}
	return e.recordEvent(ctx, ec.ExecutionID, nodeDef.ID, EventDLQAdded, map[string]any{"entry_id": entry.ID, "error": cause.Error()})
}

func errorKindOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return string(ee.Kind)
	}
	return string(KindHandlerTransient)
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

func ptrTime(t time.Time) *time.Time { return &t }

// cancelRunning does nothing: attempts run with contexts derived from the
// per-Decide-call ctx and the engine keeps no per-execution registry of
// them, so no abort signal reaches in-flight handlers. Cancellation takes
// effect when the next Decide iteration observes ExecutionContext.Status ==
// CANCELLED and stops scheduling further nodes. Nodes already dispatched
// in the current batch run to completion.
func (e *Engine) cancelRunning(executionID string) {}
