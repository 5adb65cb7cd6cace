package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors. ErrNoEntryEdge and ErrUndefinedNode are returned from
// Compile (ErrUndefinedNode also at run time, wrapped, when a frontier or a
// resumed interrupt names a node the graph does not define);
// ErrNoPendingInterrupt is returned by Invoke and Stream when a resume
// finds no pending interrupt.
var (
	ErrNoEntryEdge        = errors.New("graph: __start__ has no outgoing edge")
	ErrUndefinedNode      = errors.New("graph: edge targets an undefined node")
	ErrNoPendingInterrupt = errors.New("graph: resume requested but no pending interrupt was found")
)

// RoutingError is a fatal runtime error: a conditional edge's routing
// function produced a value the resolver could not turn into a frontier
// entry (an unmapped atom, or a shape that is neither a name, a list of
// names, nor a sequence of sends).
type RoutingError struct {
	Node  string
	Value any
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("graph: routing at node %q: unknown branch %v", e.Node, e.Value)
}

// RecursionLimitError reports that the engine stopped after reaching the
// configured step bound. The caller may raise the limit and re-invoke from
// the last checkpoint.
type RecursionLimitError struct {
	Limit    int
	Step     int
	Frontier []string
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("graph: recursion limit (%d) exceeded at step %d, frontier %v", e.Limit, e.Step, e.Frontier)
}

// NodeCrashError wraps the reason a node task exited abnormally (panic or
// returned a non-interrupt error) during a super-step.
type NodeCrashError struct {
	Node   string
	Reason error
}

func (e *NodeCrashError) Error() string {
	return fmt.Sprintf("graph: node %q crashed: %v", e.Node, e.Reason)
}

func (e *NodeCrashError) Unwrap() error {
	return e.Reason
}

// NodeInterrupt is the cooperative suspension signal a node body raises by
// calling Interrupt. It is caught only by the engine frame that invoked the
// node; a node must never catch it itself.
type NodeInterrupt struct {
	Node    string
	Payload any
}

func (e *NodeInterrupt) Error() string {
	return fmt.Sprintf("interrupt at node %s: %v", e.Node, e.Payload)
}
