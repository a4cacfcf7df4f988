package projector

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// verbosityLogger drops messages below the session's verbosity threshold.
// Warnings and errors always pass.
type verbosityLogger struct {
	next    Logger
	verbose Verbosity
}

func newVerbosityLogger(next Logger, v Verbosity) Logger {
	if next == nil {
		return nopLogger{}
	}
	return &verbosityLogger{next: next, verbose: v}
}

func (l *verbosityLogger) Debug(msg string, kv ...any) {
	if l.verbose == VerbosityDebug {
		l.next.Debug(msg, kv...)
	}
}

func (l *verbosityLogger) Info(msg string, kv ...any) {
	if l.verbose != VerbosityQuiet {
		l.next.Info(msg, kv...)
	}
}

func (l *verbosityLogger) Warn(msg string, kv ...any)  { l.next.Warn(msg, kv...) }
func (l *verbosityLogger) Error(msg string, kv ...any) { l.next.Error(msg, kv...) }
