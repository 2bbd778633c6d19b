package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corewf/flowengine/engine/emit"
	"github.com/corewf/flowengine/engine/store"
)

// TestRunNodeWithRetryServesSecondCallFromResultCache exercises the
// cache-hit branch of runNodeWithRetry directly: re-running the same
// (execution, node, input) must short-circuit to CACHED without invoking
// the handler a second time, per the engine's re-invocation-safety
// contract on NodeHandler.Execute.
func TestRunNodeWithRetryServesSecondCallFromResultCache(t *testing.T) {
	st := store.NewMemStore()
	var calls int32
	handlers := NewHandlerRegistry()
	handlers.Register("work", NodeHandlerFunc(func(_ context.Context, _, _ string, _ map[string]any, _ CtxView) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{"done": true}, nil
	}))

	e, err := New(st, handlers, emit.NewNullEmitter(), WithNodeDefaultTimeout(time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	ec := &ExecutionContext{ExecutionID: "exec-1", WorkflowID: "wf-1", Status: StatusRunning}
	nodeDef := NodeDef{ID: "n1", Type: "work", Input: map[string]any{"x": 1}}

	ne := &NodeExecution{ExecutionID: ec.ExecutionID, NodeID: nodeDef.ID, NodeType: nodeDef.Type, Status: StatusPending, MaxAttempts: 3}
	if err := e.cache.SaveNode(ctx, ne); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}

	if err := e.runNodeWithRetry(ctx, ec, nodeDef); err != nil {
		t.Fatalf("first runNodeWithRetry: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("handler called %d times after first run, want 1", got)
	}
	first, err := e.cache.LoadNode(ctx, ec.ExecutionID, nodeDef.ID)
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if first.Status != StatusSucceeded {
		t.Fatalf("status after first run = %v, want succeeded", first.Status)
	}

	if err := e.runNodeWithRetry(ctx, ec, nodeDef); err != nil {
		t.Fatalf("second runNodeWithRetry: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("handler called %d times after second run, want still 1 (cache hit)", got)
	}
	second, err := e.cache.LoadNode(ctx, ec.ExecutionID, nodeDef.ID)
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if second.Status != StatusCached {
		t.Fatalf("status after second run = %v, want cached", second.Status)
	}
}
