// Package graph implements a bulk-synchronous-parallel execution engine
// for stateful, multi-step workflows built as directed graphs.
//
// A caller declares a state schema (keys, defaults, and optional per-key
// reducers), adds named nodes and edges to a Graph, and compiles it into a
// CompiledGraph. Invoke drives the graph one super-step at a time: the
// active frontier of nodes runs (in parallel when more than one node is
// scheduled), their updates fold into the running state through the
// schema's reducers, the routing resolver computes the next frontier, and
// the loop repeats until __end__ is reached, a node cooperatively
// interrupts, or the recursion limit is hit.
package graph
