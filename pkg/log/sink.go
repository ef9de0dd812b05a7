package log

// Logger receives protocol capture events.
// Pass nil or NoopLogger to disable capture.
type Logger interface {
	// Log records one event. It is called on the I/O path, so it must be
	// safe for concurrent use and return quickly.
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// Tee returns a Logger that forwards each event to every non-nil logger,
// for example a FileLogger for later analysis plus a ZerologAdapter for
// the console. With no loggers it returns NoopLogger; with one, that
// logger itself.
func Tee(loggers ...Logger) Logger {
	var live tee
	for _, l := range loggers {
		if l != nil {
			live = append(live, l)
		}
	}
	switch len(live) {
	case 0:
		return NoopLogger{}
	case 1:
		return live[0]
	}
	return live
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, l := range t {
		l.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = tee(nil)
)
