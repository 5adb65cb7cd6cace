package log

// StepLogger names the events the super-step engine actually emits —
// step boundaries, resume/interrupt transitions, routing failures, and
// checkpoint outcomes — so engine call sites state which event they
// observed instead of assembling ad hoc format strings. Each method
// fixes the event's level and message shape in one place and forwards a
// single Logf call to the underlying sink.
type StepLogger struct {
	sink Logger
}

// NewStepLogger wraps l. A nil l logs nothing.
func NewStepLogger(l Logger) StepLogger {
	if l == nil {
		l = Discard{}
	}
	return StepLogger{sink: l}
}

// StepStart reports the frontier about to be executed for step.
func (s StepLogger) StepStart(step int, frontier []string) {
	s.sink.Logf(LevelDebug, "step %d: frontier=%v", step, frontier)
}

// StepDone reports the invocation reaching an empty frontier at step.
func (s StepLogger) StepDone(step int) {
	s.sink.Logf(LevelDebug, "invocation complete at step %d", step)
}

// StepFailed reports a super-step aborting on a node crash or fold error.
func (s StepLogger) StepFailed(step int, err error) {
	s.sink.Logf(LevelError, "step %d failed: %v", step, err)
}

// RecursionLimitExceeded reports the engine stopping before executing step
// because it has reached limit.
func (s StepLogger) RecursionLimitExceeded(limit, step int, frontier []string) {
	s.sink.Logf(LevelWarn, "recursion limit (%d) exceeded at step %d, frontier %v", limit, step, frontier)
}

// Resuming reports a resume command selecting node on threadID.
func (s StepLogger) Resuming(node, threadID string) {
	s.sink.Logf(LevelDebug, "resuming node %q (thread %q)", node, threadID)
}

// ResumeFailed reports the single-node resume step itself failing.
func (s StepLogger) ResumeFailed(err error) {
	s.sink.Logf(LevelError, "resume step failed: %v", err)
}

// NodeInterrupted reports node suspending execution on threadID.
// Interrupts are a first-class outcome, not a failure, so this logs at
// Info rather than Warn/Error.
func (s StepLogger) NodeInterrupted(node, threadID string) {
	s.sink.Logf(LevelInfo, "node %q interrupted (thread %q)", node, threadID)
}

// RoutingFailed reports a conditional edge's routing function at node
// returning an error.
func (s StepLogger) RoutingFailed(node string, err error) {
	s.sink.Logf(LevelError, "routing at node %q failed: %v", node, err)
}

// CheckpointSaveFailed reports a checkpoint store rejecting a save for
// threadID.
func (s StepLogger) CheckpointSaveFailed(threadID string, err error) {
	s.sink.Logf(LevelError, "checkpoint save failed (thread %q): %v", threadID, err)
}
