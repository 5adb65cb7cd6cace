package log

import (
	"fmt"

	"github.com/kataras/golog"
)

// GologLogger routes this package's leveled events onto a
// github.com/kataras/golog logger, for callers that want golog's
// formatting and output configuration.
type GologLogger struct {
	logger *golog.Logger
	min    Level
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger wraps an existing golog.Logger, logging at LevelInfo
// until SetLevel is called.
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return &GologLogger{
		logger: logger,
		min:    LevelInfo,
	}
}

// NewGologLoggerWithPrefix builds a fresh golog.Logger prefixed for one
// component of this engine (e.g. "engine", "checkpoint") at the given
// minimum level, so a caller running several subsystems through golog can
// tell their log lines apart without threading a label through every call
// site.
func NewGologLoggerWithPrefix(component string, min Level) *GologLogger {
	g := golog.New()
	g.SetPrefix(fmt.Sprintf("[stepgraph:%s] ", component))
	l := NewGologLogger(g)
	l.SetLevel(min)
	return l
}

// Logf implements Logger. The printf-style message is resolved here
// before golog sees it: golog's own leveled methods join their arguments
// with fmt.Sprint rather than substituting format verbs.
func (l *GologLogger) Logf(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		l.logger.Debug(msg)
	case LevelInfo:
		l.logger.Info(msg)
	case LevelWarn:
		l.logger.Warn(msg)
	default:
		l.logger.Error(msg)
	}
}

// SetLevel sets the minimum level, mirroring it onto the underlying
// golog.Logger so golog's own level-gated handlers (e.g. a JSON sink
// wired up by the caller) stay in sync with this wrapper's gate.
func (l *GologLogger) SetLevel(min Level) {
	l.min = min

	gologLevel := "info"
	switch min {
	case LevelDebug:
		gologLevel = "debug"
	case LevelInfo:
		gologLevel = "info"
	case LevelWarn:
		gologLevel = "warn"
	case LevelError:
		gologLevel = "error"
	case LevelOff:
		gologLevel = "disable"
	}

	l.logger.SetLevel(gologLevel)
}

// GetLevel returns the current minimum level.
func (l *GologLogger) GetLevel() Level {
	return l.min
}
