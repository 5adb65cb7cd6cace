package graph

import "context"

// resumeSlotKey is the ambient, per-invocation slot a resumed node reads
// its resume value from. It is process-local: the engine writes into it
// exactly once, brackets exactly the resumed node's call, and clears it
// immediately after.
type resumeSlotKey struct{}

// resumeSlot holds the resume value separately from the fact that one was
// set at all, so a caller resuming with a nil value is still recognized
// as resuming.
type resumeSlot struct {
	value any
}

// withResumeValue returns a context carrying value as the resume slot's
// content. Only the engine calls this, immediately before invoking the
// node that is being resumed.
func withResumeValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeSlotKey{}, resumeSlot{value: value})
}

// resumeValueFrom reports the resume slot's content and whether the
// context carries one at all.
func resumeValueFrom(ctx context.Context) (any, bool) {
	slot, ok := ctx.Value(resumeSlotKey{}).(resumeSlot)
	return slot.value, ok
}

// Interrupt is the operation node bodies call to cooperatively pause. If
// the context carries a resume value (because this call is the resumed
// invocation of the same node), Interrupt returns that value — nil
// included — and the node continues past the call. Otherwise it returns a
// *NodeInterrupt error that must be propagated unchanged back to the
// engine; the node must not recover or otherwise swallow it.
func Interrupt(ctx context.Context, payload any) (any, error) {
	if v, ok := resumeValueFrom(ctx); ok {
		return v, nil
	}
	return nil, &NodeInterrupt{Payload: payload}
}

// nodeContextKey stashes the invocation-level opaque context value (the
// Options.Context field) so node bodies can recover it without a second
// parameter; this keeps the Node signature fixed regardless of whether a
// caller supplies one.
type nodeContextKey struct{}

func withNodeContext(ctx context.Context, value any) context.Context {
	if value == nil {
		return ctx
	}
	return context.WithValue(ctx, nodeContextKey{}, value)
}

// NodeContext recovers the opaque context value an invocation was started
// with, if any.
func NodeContext(ctx context.Context) any {
	return ctx.Value(nodeContextKey{})
}
