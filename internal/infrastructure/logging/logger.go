package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/gray-logic-projector/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "graylogic-projector"

// Logger is a slog.Logger whose level can be raised or lowered at runtime.
// Loggers derived with With share the level and the output file.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New builds a logger from the logging section. Every entry carries the
// service name and version.
func New(cfg config.LoggingConfig, version string) *Logger {
	out, closer := destination(cfg)
	l := newWithWriter(cfg, version, out)
	l.closer = closer
	return l
}

func newWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(h), level: level}
}

// destination picks the writer: the console stream, a rotating file, or
// both when a file path is set alongside stdout or stderr.
func destination(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	output := strings.ToLower(cfg.Output)
	if cfg.File.Path == "" {
		if output == "stderr" {
			return os.Stderr, nil
		}
		return os.Stdout, nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    cfg.File.MaxSize,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAge,
		Compress:   cfg.File.Compress,
	}
	switch output {
	case "file":
		return file, file
	case "stderr":
		return io.MultiWriter(os.Stderr, file), file
	default:
		return io.MultiWriter(os.Stdout, file), file
	}
}

// parseLevel maps debug, info, warn and error onto slog levels. Anything
// else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// SetLevel changes the minimum level for this logger and all its children.
func (l *Logger) SetLevel(level slog.Level) {
	if l.level != nil {
		l.level.Set(level)
	}
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	if l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// Close releases the log file, if any. Children need no Close.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default is the JSON info logger used before config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
