package engine

import (
	"context"
	"sync"
)

// CtxView is the read-only view of execution state a NodeHandler receives
// alongside its resolved inputs (spec.md §6.1). Handlers use
// UpstreamOutputs to look at prior node results directly rather than
// re-parsing templates, and honor ctx.Done() (the Go-idiomatic stand-in
// for the spec's cancellation_token) as their cooperative cancellation
// point.
type CtxView struct {
	WorkflowID       string
	SessionID        string
	ExecutionID      string
	UpstreamOutputs  map[string]map[string]any
}

// NodeHandler is the sole extension point the engine exposes for node
// behavior. The engine never knows what a node "does" — it only knows how
// to invoke the handler registered for a node's type and interpret the
// result. Concrete handlers (HTTP calls, LLM calls, messaging, filesystem,
// device I/O) live outside this package.
type NodeHandler interface {
	// Execute runs one node attempt against resolvedInputs and returns its
	// output. A returned error's ErrorKind (via errors.As into
	// *EngineError) determines whether the retry wrapper treats it as
	// transient or permanent; an unclassified error defaults to transient.
	// Execute must be safe to invoke more than once for the same
	// (execution_id, node_id, input_hash): the engine may re-invoke it if
	// it crashes after a successful call but before the cache write became
	// observable (spec.md §6.1).
	Execute(ctx context.Context, nodeID, nodeType string, resolvedInputs map[string]any, view CtxView) (map[string]any, error)
}

// NodeHandlerFunc adapts a plain function to NodeHandler.
type NodeHandlerFunc func(ctx context.Context, nodeID, nodeType string, resolvedInputs map[string]any, view CtxView) (map[string]any, error)

func (f NodeHandlerFunc) Execute(ctx context.Context, nodeID, nodeType string, resolvedInputs map[string]any, view CtxView) (map[string]any, error) {
	return f(ctx, nodeID, nodeType, resolvedInputs, view)
}

// HandlerRegistry maps a node type name to the handler that executes it.
// Registration is expected at startup, before any execution begins; lookups
// during execution take a read lock so handlers may still be registered
// concurrently from init-time goroutines in tests.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]NodeHandler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]NodeHandler)}
}

// Register associates nodeType with handler, overwriting any previous
// registration.
func (r *HandlerRegistry) Register(nodeType string, handler NodeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[nodeType] = handler
}

// Lookup returns the handler registered for nodeType, or ErrUnknownNode.
func (r *HandlerRegistry) Lookup(nodeType string) (NodeHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, ErrUnknownNode
	}
	return h, nil
}
