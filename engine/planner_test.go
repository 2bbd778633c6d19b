package engine_test

import (
	"testing"

	"github.com/corewf/flowengine/engine"
	"github.com/corewf/flowengine/engine/condition"
)

func linearWorkflow() *engine.WorkflowDef {
	return &engine.WorkflowDef{
		ID: "wf-linear",
		Nodes: []engine.NodeDef{
			{ID: "a", Type: "noop"},
			{ID: "b", Type: "noop"},
			{ID: "c", Type: "noop"},
		},
		Edges: []engine.EdgeDef{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
	}
}

func TestExecutionOrderLinear(t *testing.T) {
	p := engine.NewPlanner(linearWorkflow())
	order, err := p.ExecutionOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestExecutionOrderCycleIsRejected(t *testing.T) {
	wf := &engine.WorkflowDef{
		ID:    "wf-cycle",
		Nodes: []engine.NodeDef{{ID: "a"}, {ID: "b"}},
		Edges: []engine.EdgeDef{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	p := engine.NewPlanner(wf)
	if _, err := p.ExecutionOrder(); err == nil {
		t.Fatal("expected a cyclic-graph error, got nil")
	}
}

func TestFindReadyRespectsConditions(t *testing.T) {
	wf := &engine.WorkflowDef{
		ID: "wf-branch",
		Nodes: []engine.NodeDef{
			{ID: "check"},
			{ID: "on-ok"},
			{ID: "on-fail"},
		},
		Edges: []engine.EdgeDef{
			{From: "check", To: "on-ok", Condition: &condition.Condition{Field: "status", Op: "eq", Value: "ok"}},
			{From: "check", To: "on-fail", Condition: &condition.Condition{Field: "status", Op: "eq", Value: "fail"}},
		},
	}
	p := engine.NewPlanner(wf)

	states := map[string]engine.NodeState{
		"check":   {Status: engine.StatusSucceeded, Output: map[string]any{"status": "ok"}},
		"on-ok":   {Status: engine.StatusPending},
		"on-fail": {Status: engine.StatusPending},
	}

	ready, skipped, err := p.FindReady(states)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 1 || ready[0] != "on-ok" {
		t.Fatalf("ready = %v, want [on-ok]", ready)
	}
	if len(skipped) != 1 || skipped[0] != "on-fail" {
		t.Fatalf("skipped = %v, want [on-fail]", skipped)
	}
}

func TestFindReadyBlocksOnNonTerminalSource(t *testing.T) {
	wf := &engine.WorkflowDef{
		ID:    "wf-blocked",
		Nodes: []engine.NodeDef{{ID: "a"}, {ID: "b"}},
		Edges: []engine.EdgeDef{{From: "a", To: "b"}},
	}
	p := engine.NewPlanner(wf)

	states := map[string]engine.NodeState{
		"a": {Status: engine.StatusRunning},
		"b": {Status: engine.StatusPending},
	}
	ready, skipped, err := p.FindReady(states)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ready) != 0 || len(skipped) != 0 {
		t.Fatalf("expected b to be blocked, got ready=%v skipped=%v", ready, skipped)
	}
}
