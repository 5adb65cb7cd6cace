package graph

import (
	"context"
	"fmt"
)

// Start and End are the two distinguished pseudo-node names. Start is never
// executed; it is only ever the source of edges defining the initial
// frontier. End, when present in a resolved frontier, terminates the loop.
const (
	Start = "__start__"
	End   = "__end__"
)

// ConditionalEdge pairs a routing function with the node it fires from and
// an optional mapping translating single-name route results to node names.
type ConditionalEdge struct {
	From    string
	Route   RouteFunc
	Mapping map[string]string
}

// Graph is a mutable draft: nodes, fixed edges and conditional edges
// accumulate here under AddNode/AddEdge/AddConditionalEdges until Compile
// freezes them into a CompiledGraph. The zero value is not usable; use
// NewGraph.
type Graph struct {
	schema           Schema
	nodes            map[string]Node
	edges            map[string][]string
	conditionalEdges map[string][]ConditionalEdge
}

// NewGraph starts a draft over the given schema.
func NewGraph(schema Schema) *Graph {
	return &Graph{
		schema:           schema,
		nodes:            make(map[string]Node),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string][]ConditionalEdge),
	}
}

// AddNode registers a named node function. Registering the same name twice
// replaces the earlier function.
func (g *Graph) AddNode(name string, fn Node) *Graph {
	g.nodes[name] = fn
	return g
}

// AddSubgraphNode wraps a compiled graph as a node: invoking it runs the
// child's own complete execution over the state it is handed, and its
// final state becomes this node's update, to be merged by the parent's own
// reducers. The child's reducers never apply to the parent's state.
//
// A child interrupt is not propagated as a parent interrupt: the child's
// paused state is used as the node's update and the suspension is
// otherwise dropped. This mirrors a known quirk in the system this engine
// is modeled on and is preserved deliberately rather than guessed at; see
// DESIGN.md.
func (g *Graph) AddSubgraphNode(name string, child *CompiledGraph) *Graph {
	g.nodes[name] = func(ctx context.Context, state map[string]any) (any, error) {
		result, err := Invoke(ctx, child, state, nil)
		if err != nil {
			return nil, err
		}
		// A child interrupt is swallowed rather than propagated: the
		// paused child state becomes the update as-is. See the
		// AddSubgraphNode doc comment.
		return result.State, nil
	}
	return g
}

// AddEdge appends to to the outgoing fixed-edge list of from, preserving
// insertion order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddSequence is sugar for pairwise AddEdge across n1 -> n2 -> ... -> nk.
func (g *Graph) AddSequence(names ...string) *Graph {
	for i := 0; i+1 < len(names); i++ {
		g.AddEdge(names[i], names[i+1])
	}
	return g
}

// AddConditionalEdges registers a routing function fired after from runs.
// mapping may be nil.
func (g *Graph) AddConditionalEdges(from string, route RouteFunc, mapping map[string]string) *Graph {
	g.conditionalEdges[from] = append(g.conditionalEdges[from], ConditionalEdge{
		From:    from,
		Route:   route,
		Mapping: mapping,
	})
	return g
}

// CompileOptions configures a compiled graph.
type CompileOptions struct {
	// Checkpointer, when set, is used by Invoke/Stream to persist and
	// resume state across invocations keyed by thread id.
	Checkpointer CheckpointStore
}

// CompiledGraph is an immutable, freely shareable snapshot of a Graph.
type CompiledGraph struct {
	initial          map[string]any
	reducers         map[string]Reducer
	nodes            map[string]Node
	edges            map[string][]string
	conditionalEdges map[string][]ConditionalEdge
	checkpointer     CheckpointStore
}

// Compile validates and freezes the draft. Validation failures are fatal:
// __start__ must have at least one outgoing fixed or conditional edge, and
// every fixed-edge endpoint must be a defined node or one of __start__/__end__.
// Conditional edges are not statically validated against mapping values;
// an unknown routing result fails at runtime with a *RoutingError.
func (g *Graph) Compile(opts CompileOptions) (*CompiledGraph, error) {
	if len(g.edges[Start]) == 0 && len(g.conditionalEdges[Start]) == 0 {
		return nil, ErrNoEntryEdge
	}

	isKnown := func(name string) bool {
		if name == Start || name == End {
			return true
		}
		_, ok := g.nodes[name]
		return ok
	}

	for from, targets := range g.edges {
		if from != Start && !isKnown(from) {
			return nil, fmt.Errorf("%w: edge source %q", ErrUndefinedNode, from)
		}
		for _, to := range targets {
			if !isKnown(to) {
				return nil, fmt.Errorf("%w: %q -> %q", ErrUndefinedNode, from, to)
			}
		}
	}

	initial, reducers := g.schema.Parse()

	nodes := make(map[string]Node, len(g.nodes))
	for k, v := range g.nodes {
		nodes[k] = v
	}
	edges := make(map[string][]string, len(g.edges))
	for k, v := range g.edges {
		cp := make([]string, len(v))
		copy(cp, v)
		edges[k] = cp
	}
	conditionalEdges := make(map[string][]ConditionalEdge, len(g.conditionalEdges))
	for k, v := range g.conditionalEdges {
		cp := make([]ConditionalEdge, len(v))
		copy(cp, v)
		conditionalEdges[k] = cp
	}

	return &CompiledGraph{
		initial:          initial,
		reducers:         reducers,
		nodes:            nodes,
		edges:            edges,
		conditionalEdges: conditionalEdges,
		checkpointer:     opts.Checkpointer,
	}, nil
}

// KnownNodes returns the set of defined node names. On resume, the node
// field of a persisted pending interrupt is checked against this set before
// that node is run; persisted next_nodes are not read back by the engine.
func (c *CompiledGraph) KnownNodes() map[string]bool {
	out := make(map[string]bool, len(c.nodes))
	for name := range c.nodes {
		out[name] = true
	}
	return out
}
