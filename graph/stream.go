package graph

import (
	"context"
	"time"
)

// DefaultIdleTimeout is how long the stream waits for the next event
// before giving up on an unresponsive producer and closing with the
// last-seen state.
const DefaultIdleTimeout = 5 * time.Second

// StreamEventType discriminates StreamEvent.Type.
type StreamEventType string

const (
	EventStepStart StreamEventType = "step_start"
	EventNodeStart StreamEventType = "node_start"
	EventNodeEnd   StreamEventType = "node_end"
	EventStepEnd   StreamEventType = "step_end"
	EventDone      StreamEventType = "done"
)

// StreamEvent is one item of the lazy sequence Stream produces.
type StreamEvent struct {
	Type        StreamEventType
	Step        int
	ActiveNodes []string
	Node        string
	Update      map[string]any
	State       map[string]any
	Result      *Result
	Err         error
}

// streamingEngine re-runs the same loop as Invoke but pushes an event at
// every point component G requires, instead of only returning a terminal
// Result. It is a separate, instrumented walk rather than a shared
// internal helper with Invoke: the two have different enough control flow
// (event emission vs direct return) that folding them together would
// obscure both paths.
type streamingEngine struct {
	c    *CompiledGraph
	emit func(StreamEvent) bool
}

func (se *streamingEngine) run(ctx context.Context, input any, opts *Options) {
	c := se.c
	limit := opts.recursionLimit()
	threadID := opts.threadID()
	ctx = withNodeContext(ctx, optsContext(opts))
	ctx = withLogger(ctx, opts.logger())

	ls, frontier, resumeNode, resumeValue, err := c.entry(ctx, input, threadID)
	if err != nil {
		se.emit(StreamEvent{Type: EventDone, Err: err})
		return
	}

	if resumeNode != "" {
		if !se.emit(StreamEvent{Type: EventStepStart, Step: ls.step, ActiveNodes: []string{resumeNode}}) {
			return
		}
		if !se.emit(StreamEvent{Type: EventNodeStart, Node: resumeNode}) {
			return
		}
		result, nextFrontier, err := c.runResumeStep(ctx, ls, resumeNode, resumeValue, threadID, limit)
		if err != nil {
			se.emit(StreamEvent{Type: EventDone, Err: err})
			return
		}
		if result != nil {
			se.emit(StreamEvent{Type: EventDone, Result: result, State: ls.state})
			return
		}
		for _, o := range ls.outcomes {
			se.emit(StreamEvent{Type: EventNodeEnd, Node: o.name, Update: o.update, State: ls.state})
		}
		se.emit(StreamEvent{Type: EventStepEnd, Step: ls.step, State: ls.state})
		frontier = nextFrontier
		ls.step++
	}

	for {
		frontier = removeEnd(frontier)
		if len(frontier) == 0 {
			result := &Result{State: ls.state}
			se.emit(StreamEvent{Type: EventDone, Result: result})
			return
		}
		if ls.step >= limit {
			se.emit(StreamEvent{Type: EventDone, Err: &RecursionLimitError{Limit: limit, Step: ls.step, Frontier: frontier}})
			return
		}

		if !se.emit(StreamEvent{Type: EventStepStart, Step: ls.step, ActiveNodes: frontier}) {
			return
		}
		for _, n := range frontier {
			if !se.emit(StreamEvent{Type: EventNodeStart, Node: n}) {
				return
			}
		}

		result, nextFrontier, err := c.runStep(ctx, ls, frontier, threadID, limit)
		if err != nil {
			se.emit(StreamEvent{Type: EventDone, Err: err})
			return
		}
		if result != nil {
			// An interrupted step emits no node_end: the suspended node
			// did not complete and sibling results were discarded.
			se.emit(StreamEvent{Type: EventDone, Result: result, State: ls.state})
			return
		}
		for _, o := range ls.outcomes {
			se.emit(StreamEvent{Type: EventNodeEnd, Node: o.name, Update: o.update, State: ls.state})
		}
		se.emit(StreamEvent{Type: EventStepEnd, Step: ls.step, State: ls.state})
		frontier = nextFrontier
		ls.step++
	}
}

// Stream wraps an invocation as a lazy, single-consumer, finite event
// sequence. Cancelling ctx stops the consumer-facing channel and halts the
// producing engine at its next emission point; cancellation does not reach
// into a node body already running, which completes on its own.
//
// If the producer goes idle (no event forwarded) for longer than
// DefaultIdleTimeout, the stream is closed early with a synthetic "done"
// event carrying the last-seen state.
func Stream(ctx context.Context, c *CompiledGraph, input any, opts *Options) <-chan StreamEvent {
	raw := make(chan StreamEvent, 16)
	out := make(chan StreamEvent, 16)

	se := &streamingEngine{c: c}
	se.emit = func(ev StreamEvent) bool {
		select {
		case raw <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(raw)
		se.run(ctx, input, opts)
	}()

	go func() {
		defer close(out)
		var lastState map[string]any
		timer := time.NewTimer(DefaultIdleTimeout)
		defer timer.Stop()
		for {
			select {
			case ev, ok := <-raw:
				if !ok {
					return
				}
				if ev.State != nil {
					lastState = ev.State
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(DefaultIdleTimeout)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Type == EventDone {
					return
				}
			case <-timer.C:
				select {
				case out <- StreamEvent{Type: EventDone, State: lastState}:
				case <-ctx.Done():
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
