package engine

import (
	"sort"

	"github.com/corewf/flowengine/engine/condition"
)

// NodeDef is one node in a workflow definition.
type NodeDef struct {
	ID   string
	Type string
	// Input is the raw input tree for this node, possibly containing
	// {{node.path}} template references resolved against prior outputs.
	Input map[string]any
}

// EdgeDef is one edge in a workflow definition, with an optional
// condition evaluated against the source node's output.
type EdgeDef struct {
	From      string
	To        string
	Condition *condition.Condition
}

// WorkflowDef is the DAG a Planner computes an execution order for.
type WorkflowDef struct {
	ID    string
	Nodes []NodeDef
	Edges []EdgeDef
}

// Planner computes execution_order via Kahn's algorithm at execution
// creation time and determines which nodes are ready to run at each decide
// iteration, per spec.md §4.3.
//
// Grounded on the teacher's determinism discipline in graph/scheduler.go
// (Frontier/computeOrderKey) and on script-weaver's topological validation
// approach; Planner itself holds no execution state — FindReady is given
// the current node statuses and outputs each call.
type Planner struct {
	wf       *WorkflowDef
	incoming map[string][]EdgeDef // nodeID -> edges pointing at it
	outgoing map[string][]EdgeDef // nodeID -> edges leaving it
}

// NewPlanner indexes wf's edges for repeated FindReady calls.
func NewPlanner(wf *WorkflowDef) *Planner {
	p := &Planner{
		wf:       wf,
		incoming: make(map[string][]EdgeDef),
		outgoing: make(map[string][]EdgeDef),
	}
	for _, e := range wf.Edges {
		p.incoming[e.To] = append(p.incoming[e.To], e)
		p.outgoing[e.From] = append(p.outgoing[e.From], e)
	}
	return p
}

// ExecutionOrder computes a topological layering of wf's nodes via Kahn's
// algorithm: nodes with no unsatisfied incoming edges form layer 0,
// removing them yields layer 1, and so on. Returns ErrCyclicGraph wrapped
// as KindInvalidWorkflow if a cycle remains once no more nodes can be
// removed.
func (p *Planner) ExecutionOrder() ([]string, error) {
	inDegree := make(map[string]int, len(p.wf.Nodes))
	for _, n := range p.wf.Nodes {
		inDegree[n.ID] = len(p.incoming[n.ID])
	}

	var order []string
	for len(order) < len(p.wf.Nodes) {
		var layer []string
		for _, n := range p.wf.Nodes {
			if inDegree[n.ID] == 0 {
				layer = append(layer, n.ID)
			}
		}
		if len(layer) == 0 {
			return nil, newError(KindInvalidWorkflow, "workflow graph has a cycle", ErrCyclicGraph)
		}
		// Deterministic tie-break within a layer, independent of map
		// iteration order: declaration order among wf.Nodes.
		sort.SliceStable(layer, func(i, j int) bool {
			return p.declOrder(layer[i]) < p.declOrder(layer[j])
		})
		order = append(order, layer...)
		for _, id := range layer {
			inDegree[id] = -1 // mark removed
			for _, e := range p.outgoing[id] {
				if inDegree[e.To] > 0 {
					inDegree[e.To]--
				}
			}
		}
	}
	return order, nil
}

func (p *Planner) declOrder(nodeID string) int {
	for i, n := range p.wf.Nodes {
		if n.ID == nodeID {
			return i
		}
	}
	return len(p.wf.Nodes)
}

// NodeState is the minimal per-node status/output view FindReady needs.
type NodeState struct {
	Status Status
	Output map[string]any
}

// isTerminalSatisfying reports whether s is one of the terminal statuses
// spec.md §4.3 step 2 requires of an incoming edge's source node.
func isTerminalSatisfying(s Status) bool {
	return s == StatusSucceeded || s == StatusCached || s == StatusSkipped
}

// FindReady implements spec.md §4.3's FindReady algorithm: candidates are
// PENDING nodes whose incoming edges are all either satisfied (source
// terminal and condition true) or dead (source terminal and condition
// false). A candidate with every incoming edge dead is reported as skipped
// instead of ready; its downstream nodes become transitively skipped in
// later calls once this one's SKIPPED status is recorded.
func (p *Planner) FindReady(states map[string]NodeState) (ready []string, skipped []string, err error) {
	for _, n := range p.wf.Nodes {
		st, ok := states[n.ID]
		if !ok || st.Status != StatusPending {
			continue
		}

		edges := p.incoming[n.ID]
		if len(edges) == 0 {
			ready = append(ready, n.ID)
			continue
		}

		allDead := true
		blocked := false
		for _, e := range edges {
			srcState, ok := states[e.From]
			if !ok || !isTerminalSatisfying(srcState.Status) {
				blocked = true
				break
			}
			// A SKIPPED source produced no output, so any edge leaving it is
			// dead regardless of its own condition — otherwise an
			// unconditional edge out of a SKIPPED node would be treated as
			// trivially satisfied and the skip would fail to propagate
			// transitively to its downstream nodes.
			satisfied := srcState.Status != StatusSkipped
			if satisfied && e.Condition != nil {
				satisfied, err = condition.Eval(*e.Condition, srcState.Output)
				if err != nil {
					return nil, nil, newError(KindInvalidWorkflow, "condition evaluation failed for edge into "+n.ID, err)
				}
			}
			if satisfied {
				allDead = false
			}
		}
		if blocked {
			continue
		}
		if allDead {
			skipped = append(skipped, n.ID)
			continue
		}
		ready = append(ready, n.ID)
	}
	return ready, skipped, nil
}
