package engine

import (
	"context"
	"testing"
	"time"

	"github.com/corewf/flowengine/engine/emit"
	"github.com/corewf/flowengine/engine/store"
)

// TestRecoverySweepResetsStaleHeartbeatToPending simulates a crashed
// worker directly at the cache layer (a node left RUNNING with no
// heartbeat record) since an in-process test has no way to actually kill
// a worker process mid-attempt.
func TestRecoverySweepResetsStaleHeartbeatToPending(t *testing.T) {
	st := store.NewMemStore()
	handlers := NewHandlerRegistry()
	e, err := New(st, handlers, emit.NewNullEmitter(), WithSweeperInterval(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	executionID := "exec-crashed"
	ec := &ExecutionContext{ExecutionID: executionID, WorkflowID: "wf-1", Status: StatusRunning}
	if err := e.cache.SaveExecution(ctx, ec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}
	if err := e.cache.MarkActive(ctx, executionID); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	ne := &NodeExecution{ExecutionID: executionID, NodeID: "stuck", NodeType: "crashable", Status: StatusRunning, Attempt: 1, MaxAttempts: 3}
	if err := e.cache.SaveNode(ctx, ne); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}
	// No heartbeat recorded at all — LoadHeartbeat returns ErrNotFound,
	// which sweepExecution treats as stale regardless of HeartbeatStale.

	if err := e.recovery.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	reset, err := e.cache.LoadNode(ctx, executionID, "stuck")
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if reset.Status != StatusPending {
		t.Fatalf("status after sweep = %v, want pending", reset.Status)
	}
	if reset.Error != "" || reset.ErrorKind != "" {
		t.Errorf("sweep should clear Error/ErrorKind, got %q/%q", reset.Error, reset.ErrorKind)
	}
}

// TestRecoverySweepLeavesFreshHeartbeatAlone confirms a node whose
// heartbeat is recent is left RUNNING.
func TestRecoverySweepLeavesFreshHeartbeatAlone(t *testing.T) {
	st := store.NewMemStore()
	handlers := NewHandlerRegistry()
	e, err := New(st, handlers, emit.NewNullEmitter(), WithHeartbeatStale(time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	executionID := "exec-healthy"
	ec := &ExecutionContext{ExecutionID: executionID, WorkflowID: "wf-1", Status: StatusRunning}
	if err := e.cache.SaveExecution(ctx, ec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}
	if err := e.cache.MarkActive(ctx, executionID); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
	ne := &NodeExecution{ExecutionID: executionID, NodeID: "busy", NodeType: "slow", Status: StatusRunning, Attempt: 1, MaxAttempts: 3}
	if err := e.cache.SaveNode(ctx, ne); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}
	if err := e.cache.Heartbeat(ctx, executionID, "busy", "worker-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if err := e.recovery.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	still, err := e.cache.LoadNode(ctx, executionID, "busy")
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if still.Status != StatusRunning {
		t.Fatalf("status after sweep = %v, want running (fresh heartbeat)", still.Status)
	}
}
