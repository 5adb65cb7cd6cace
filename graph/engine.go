package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arigraph/stepgraph/log"
)

// DefaultRecursionLimit bounds super-steps, not nodes executed or edges
// traversed, when an invocation does not specify one.
const DefaultRecursionLimit = 25

// Config carries the per-invocation identity the checkpoint store needs.
type Config struct {
	ThreadID     string
	Configurable map[string]any
}

// Options configures one Invoke/Stream call.
type Options struct {
	RecursionLimit int
	Config         Config
	// Context is an opaque value node bodies may recover via NodeContext.
	Context any
	// Logger receives step boundary, routing, interrupt, and checkpoint
	// failure events. A nil Logger is treated as a no-op.
	Logger log.Logger
}

func (o *Options) logger() log.Logger {
	if o == nil || o.Logger == nil {
		return log.Discard{}
	}
	return o.Logger
}

func (o *Options) recursionLimit() int {
	if o == nil || o.RecursionLimit == 0 {
		return DefaultRecursionLimit
	}
	return o.RecursionLimit
}

func (o *Options) threadID() string {
	if o == nil {
		return ""
	}
	return o.Config.ThreadID
}

// ResumeCommand is the input shape that asks Invoke/Stream to continue a
// previously interrupted, checkpointed execution rather than start fresh.
type ResumeCommand struct {
	Value any
}

// Resume builds the input for resuming an interrupted invocation.
func Resume(value any) ResumeCommand {
	return ResumeCommand{Value: value}
}

// Result is the terminal, tagged outcome of a successful or paused
// invocation. Interrupts are reported here, not as an error: they are a
// first-class outcome.
type Result struct {
	State       map[string]any
	Interrupted bool
	Payload     any
}

type nodeOutcome struct {
	name        string
	update      map[string]any
	gotos       []string
	interrupted bool
	payload     any
	err         error
}

// runNode invokes one node, translating a *NodeInterrupt into the
// outcome's interrupted fields instead of propagating it as an error.
func (c *CompiledGraph) runNode(ctx context.Context, name string, state map[string]any) nodeOutcome {
	fn, ok := c.nodes[name]
	if !ok {
		return nodeOutcome{name: name, err: fmt.Errorf("%w: %q", ErrUndefinedNode, name)}
	}

	result, err := fn(ctx, state)
	if err != nil {
		var interrupt *NodeInterrupt
		if errors.As(err, &interrupt) {
			interrupt.Node = name
			return nodeOutcome{name: name, interrupted: true, payload: interrupt.Payload}
		}
		return nodeOutcome{name: name, err: err}
	}

	update, gotos, err := normalizeNodeResult(result)
	if err != nil {
		return nodeOutcome{name: name, err: err}
	}
	return nodeOutcome{name: name, update: update, gotos: gotos}
}

// executeStep runs the active set: a singleton runs directly on the
// caller's goroutine (the "singleton fast path"); two or more nodes fork
// one task each onto goroutines not linked to the engine, so a crashing
// node cannot take the engine down with it.
func (c *CompiledGraph) executeStep(ctx context.Context, frontier []string, state map[string]any) []nodeOutcome {
	if len(frontier) == 1 {
		return []nodeOutcome{c.runNode(ctx, frontier[0], state)}
	}

	outcomes := make([]nodeOutcome, len(frontier))
	var wg sync.WaitGroup
	for i, name := range frontier {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = nodeOutcome{name: name, err: fmt.Errorf("node %q panicked: %v", name, r)}
				}
			}()
			outcomes[i] = c.runNode(ctx, name, state)
		}(i, name)
	}
	wg.Wait()
	return outcomes
}

// runSend executes a dynamic Send as an isolated node invocation; its
// result (update, gotos, even an interrupt) is discarded entirely, as
// required by Send fan-out semantics. Only a genuine crash is surfaced,
// since that reflects a bug in the node body rather than routing.
func (c *CompiledGraph) runSend(ctx context.Context, s Send) error {
	outcome := c.runNode(ctx, s.Node, s.State)
	if outcome.err != nil {
		return fmt.Errorf("send to %q: %w", s.Node, outcome.err)
	}
	return nil
}

// resolveFrontier implements the routing resolver (component D): command
// gotos precede edge-derived targets; fixed edges of a node precede its
// conditional edges; results are de-duplicated preserving first-occurrence
// order.
func (c *CompiledGraph) resolveFrontier(ctx context.Context, executed []string, state map[string]any, commandGotos []string) ([]string, error) {
	var frontier []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			frontier = append(frontier, name)
		}
	}

	for _, g := range commandGotos {
		add(g)
	}

	for _, n := range executed {
		for _, to := range c.edges[n] {
			add(to)
		}
		for _, ce := range c.conditionalEdges[n] {
			route, err := ce.Route(ctx, state)
			if err != nil {
				loggerFrom(ctx).RoutingFailed(n, err)
				return nil, fmt.Errorf("routing at node %q: %w", n, err)
			}
			switch v := route.(type) {
			case []Send:
				for _, s := range v {
					if err := c.runSend(ctx, s); err != nil {
						return nil, err
					}
				}
			case string:
				target := v
				if ce.Mapping != nil {
					mapped, ok := ce.Mapping[v]
					if !ok {
						return nil, &RoutingError{Node: n, Value: v}
					}
					target = mapped
				}
				add(target)
			case []string:
				for _, name := range v {
					add(name)
				}
			default:
				return nil, &RoutingError{Node: n, Value: route}
			}
		}
	}
	return frontier, nil
}

func removeEnd(frontier []string) []string {
	out := frontier[:0:0]
	for _, n := range frontier {
		if n != End {
			out = append(out, n)
		}
	}
	return out
}

// loopState is the mutable accumulator threaded through super-steps,
// shared only by the engine fiber driving the loop.
type loopState struct {
	state map[string]any
	step  int
	// outcomes holds the just-completed step's per-node results, in
	// task-completion order, so an instrumented walk (Stream) can report
	// each node's own update. Empty after an interrupted step.
	outcomes []nodeOutcome
	// lastCheckpointID links each persisted checkpoint to its
	// predecessor within the thread. Seeded from a loaded checkpoint on
	// continuation or resume, empty on a fresh run.
	lastCheckpointID string
}

// Invoke drives the BSP loop to completion, interrupt, or failure.
//
// If input is a ResumeCommand, opts.Config.ThreadID must name a thread
// whose latest checkpoint has a pending interrupt; the engine resumes
// exactly that node. Otherwise input is treated as a plain state update
// merged onto the thread's latest checkpoint (or the schema's initial
// state, if none is configured or found, or if the latest checkpoint still
// has a pending interrupt), and the engine starts from __start__.
func Invoke(ctx context.Context, c *CompiledGraph, input any, opts *Options) (*Result, error) {
	limit := opts.recursionLimit()
	threadID := opts.threadID()
	logger := log.NewStepLogger(opts.logger())
	ctx = withNodeContext(ctx, optsContext(opts))
	ctx = withLogger(ctx, opts.logger())

	ls, frontier, resumeNode, resumeValue, err := c.entry(ctx, input, threadID)
	if err != nil {
		return nil, err
	}

	if resumeNode != "" {
		logger.Resuming(resumeNode, threadID)
		result, nextFrontier, err := c.runResumeStep(ctx, ls, resumeNode, resumeValue, threadID, limit)
		if err != nil {
			logger.ResumeFailed(err)
			return result, err
		}
		if result != nil {
			return result, nil
		}
		frontier = nextFrontier
		ls.step++
	}

	for {
		frontier = removeEnd(frontier)
		if len(frontier) == 0 {
			logger.StepDone(ls.step)
			return &Result{State: ls.state}, nil
		}
		if ls.step >= limit {
			logger.RecursionLimitExceeded(limit, ls.step, frontier)
			return nil, &RecursionLimitError{Limit: limit, Step: ls.step, Frontier: frontier}
		}

		logger.StepStart(ls.step, frontier)
		result, nextFrontier, err := c.runStep(ctx, ls, frontier, threadID, limit)
		if err != nil {
			logger.StepFailed(ls.step, err)
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		frontier = nextFrontier
		ls.step++
	}
}

func optsContext(opts *Options) any {
	if opts == nil {
		return nil
	}
	return opts.Context
}

// entry implements the invocation-entry algorithm (component H): deciding
// between a resume pass and a fresh/continued run from __start__.
func (c *CompiledGraph) entry(ctx context.Context, input any, threadID string) (*loopState, []string, string, any, error) {
	if resume, ok := input.(ResumeCommand); ok {
		if c.checkpointer == nil || threadID == "" {
			return nil, nil, "", nil, ErrNoPendingInterrupt
		}
		cp, err := c.checkpointer.Load(ctx, CheckpointConfig{ThreadID: threadID})
		if err != nil {
			return nil, nil, "", nil, fmt.Errorf("loading checkpoint: %w", err)
		}
		if cp == nil || len(cp.PendingInterrupts) == 0 {
			return nil, nil, "", nil, ErrNoPendingInterrupt
		}
		head := cp.PendingInterrupts[0]
		if !c.KnownNodes()[head.Node] {
			return nil, nil, "", nil, fmt.Errorf("%w: resume node %q", ErrUndefinedNode, head.Node)
		}
		return &loopState{state: cloneState(cp.State), step: cp.Step, lastCheckpointID: cp.CheckpointID}, nil, head.Node, resume.Value, nil
	}

	update, _ := input.(map[string]any)

	base := cloneState(c.initial)
	var parentID string
	if c.checkpointer != nil && threadID != "" {
		cp, err := c.checkpointer.Load(ctx, CheckpointConfig{ThreadID: threadID})
		if err != nil {
			return nil, nil, "", nil, fmt.Errorf("loading checkpoint: %w", err)
		}
		if cp != nil && len(cp.PendingInterrupts) == 0 {
			base = cloneState(cp.State)
			parentID = cp.CheckpointID
		}
	}

	merged, err := ApplyUpdate(base, update, c.reducers)
	if err != nil {
		return nil, nil, "", nil, err
	}

	frontier, err := c.resolveFrontier(ctx, []string{Start}, merged, nil)
	if err != nil {
		return nil, nil, "", nil, err
	}
	return &loopState{state: merged, step: 0, lastCheckpointID: parentID}, frontier, "", nil, nil
}

// runResumeStep executes exactly the interrupted node with its resume
// value bracketed into context, then folds and persists like any other
// step. It returns a non-nil *Result only if this single-node step itself
// produced a terminal outcome (a fresh interrupt or reaching __end__ with
// no onward edges is handled by the normal loop instead, so in practice
// this only returns early on a repeat interrupt).
func (c *CompiledGraph) runResumeStep(ctx context.Context, ls *loopState, node string, resumeValue any, threadID string, limit int) (*Result, []string, error) {
	preStep := ls.state
	injected := injectManaged(ls.state, ls.step, limit)

	resumeCtx := withResumeValue(ctx, resumeValue)
	outcome := c.runNode(resumeCtx, node, injected)

	if outcome.err != nil {
		return nil, nil, &NodeCrashError{Node: node, Reason: outcome.err}
	}
	if outcome.interrupted {
		result, err := c.onInterrupt(ctx, ls, preStep, node, outcome.payload, threadID)
		return result, nil, err
	}

	folded, err := ApplyUpdate(injected, outcome.update, c.reducers)
	if err != nil {
		return nil, nil, err
	}
	folded = stripManaged(folded)
	ls.state = folded
	ls.outcomes = []nodeOutcome{outcome}

	nextFrontier, err := c.resolveFrontier(ctx, []string{node}, folded, outcome.gotos)
	if err != nil {
		return nil, nil, err
	}

	if c.checkpointer != nil && threadID != "" {
		if err := c.persist(ctx, ls, threadID, folded, nextFrontier, nil); err != nil {
			return nil, nil, err
		}
	}
	return nil, nextFrontier, nil
}

// runStep executes one super-step over an active frontier of two or more
// (or exactly one) nodes and returns either a terminal *Result (on
// interrupt) or the next frontier to continue the loop with.
func (c *CompiledGraph) runStep(ctx context.Context, ls *loopState, frontier []string, threadID string, limit int) (*Result, []string, error) {
	preStep := ls.state
	injected := injectManaged(ls.state, ls.step, limit)
	ls.outcomes = nil

	outcomes := c.executeStep(ctx, frontier, injected)

	for _, o := range outcomes {
		if o.interrupted {
			result, err := c.onInterrupt(ctx, ls, preStep, o.name, o.payload, threadID)
			return result, nil, err
		}
	}
	for _, o := range outcomes {
		if o.err != nil {
			return nil, nil, &NodeCrashError{Node: o.name, Reason: o.err}
		}
	}

	folded := injected
	var gotos []string
	executed := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		executed = append(executed, o.name)
		gotos = append(gotos, o.gotos...)
		var err error
		folded, err = ApplyUpdate(folded, o.update, c.reducers)
		if err != nil {
			return nil, nil, err
		}
	}
	folded = stripManaged(folded)
	ls.state = folded
	ls.outcomes = outcomes

	nextFrontier, err := c.resolveFrontier(ctx, executed, folded, gotos)
	if err != nil {
		return nil, nil, err
	}

	if c.checkpointer != nil && threadID != "" {
		if err := c.persist(ctx, ls, threadID, folded, nextFrontier, nil); err != nil {
			return nil, nil, err
		}
	}

	return nil, nextFrontier, nil
}

func (c *CompiledGraph) onInterrupt(ctx context.Context, ls *loopState, preStepState map[string]any, node string, payload any, threadID string) (*Result, error) {
	loggerFrom(ctx).NodeInterrupted(node, threadID)
	stripped := stripManaged(preStepState)
	if c.checkpointer != nil && threadID != "" {
		pending := []PendingInterrupt{{Value: payload, Node: node}}
		if err := c.persist(ctx, ls, threadID, stripped, []string{node}, pending); err != nil {
			return nil, err
		}
	}
	return &Result{State: stripped, Interrupted: true, Payload: payload}, nil
}

func (c *CompiledGraph) persist(ctx context.Context, ls *loopState, threadID string, state map[string]any, nextNodes []string, pending []PendingInterrupt) error {
	id, err := NewCheckpointID()
	if err != nil {
		return fmt.Errorf("generating checkpoint id: %w", err)
	}
	var parentID *string
	if ls.lastCheckpointID != "" {
		parent := ls.lastCheckpointID
		parentID = &parent
	}
	cp := &Checkpoint{
		ThreadID:          threadID,
		CheckpointID:      id,
		ParentID:          parentID,
		State:             state,
		NextNodes:         nextNodes,
		Step:              ls.step,
		Metadata:          map[string]any{},
		PendingInterrupts: pending,
		CreatedAt:         time.Now().UTC(),
	}
	if err := c.checkpointer.Save(ctx, CheckpointConfig{ThreadID: threadID}, cp); err != nil {
		loggerFrom(ctx).CheckpointSaveFailed(threadID, err)
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	ls.lastCheckpointID = id
	return nil
}

func cloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
