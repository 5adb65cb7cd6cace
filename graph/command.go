package graph

import "context"

// Node is the computation every graph step runs: a pure function from
// current state to one of the return shapes normalizeNodeResult understands.
// It may additionally read an opaque invocation context via NodeContext,
// and may suspend by returning the error from Interrupt unchanged.
type Node func(ctx context.Context, state map[string]any) (any, error)

// NodeFunc adapts a zero-context function to the Node contract, for
// authors who never need the context argument. This is the convenience
// wrapper called for in place of parameter-count introspection.
func NodeFunc(fn func(state map[string]any) (any, error)) Node {
	return func(_ context.Context, state map[string]any) (any, error) {
		return fn(state)
	}
}

// Command is a node's return value when it needs to both update state and
// explicitly choose its successor(s) in addition to the node's static
// edges: Goto targets are placed ahead of edge-derived targets in the next
// frontier, and the static edges still apply. Goto is nil, a string, or a
// []string.
type Command struct {
	Update map[string]any
	Goto   any
}

// Send requests fan-out execution of Node with an alternate state payload
// supplied wholesale, instead of the global state. A routing function
// returns a []Send to trigger this; results of Send executions are
// discarded and never merged into the running state. This is a deliberate,
// surprising simplification carried over unchanged: see DESIGN.md.
type Send struct {
	Node  string
	State map[string]any
}

// RouteFunc computes the next node(s) for a conditional edge given the
// post-step state. It returns one of: a string (a single node name, or a
// mapping key when the edge has a Mapping), a []string (node names, no
// mapping lookup applied), or a []Send (dynamic fan-out; see Send).
type RouteFunc func(ctx context.Context, state map[string]any) (any, error)

// normalizeNodeResult turns a Node's raw return value into a state update
// and any additional goto targets the routing resolver must honor ahead of
// static edges.
func normalizeNodeResult(result any) (update map[string]any, gotos []string, err error) {
	switch v := result.(type) {
	case nil:
		return nil, nil, nil
	case map[string]any:
		return v, nil, nil
	case Command:
		return v.Update, normalizeGoto(v.Goto), nil
	case *Command:
		return v.Update, normalizeGoto(v.Goto), nil
	default:
		return nil, nil, &RoutingError{Value: result}
	}
}

func normalizeGoto(g any) []string {
	switch v := g.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	default:
		return nil
	}
}
