// Package log carries the execution engine's observability events to a
// caller-supplied sink.
//
// The contract is a single method: Logf(level, format, args...). A sink
// implementation decides formatting and destination; the engine decides
// level and message. Three sinks ship here: Discard (drops everything,
// the default when an invocation configures no logger), TextLogger
// (single-line "[LEVEL] message" output via the standard library), and
// GologLogger (github.com/kataras/golog, for callers that want its
// formatting and output configuration).
//
//	logger := log.NewTextLogger(os.Stderr, log.LevelInfo)
//	result, err := graph.Invoke(ctx, compiled, input, &graph.Options{Logger: logger})
//
// Engine code itself never calls Logf. It speaks through StepLogger,
// which names each engine event — StepStart, StepDone,
// RecursionLimitExceeded, Resuming, NodeInterrupted, RoutingFailed,
// CheckpointSaveFailed — and fixes that event's level and message shape
// in one place. Authors of a new sink only ever implement Logf.
package log
