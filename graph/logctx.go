package graph

import (
	"context"

	"github.com/arigraph/stepgraph/log"
)

// loggerKey stashes the invocation's Logger so internal helpers that only
// carry a context (resolveFrontier, persist) can log without threading an
// extra parameter through every call.
type loggerKey struct{}

func withLogger(ctx context.Context, l log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, log.NewStepLogger(l))
}

func loggerFrom(ctx context.Context) log.StepLogger {
	if l, ok := ctx.Value(loggerKey{}).(log.StepLogger); ok {
		return l
	}
	return log.NewStepLogger(nil)
}
