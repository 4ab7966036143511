// Package log provides the structured logging system for weft components.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Field is one structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Str builds a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds a 64-bit integer field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Dur builds a duration field.
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Err builds an error field.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Logger defines the core logging interface for weft components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With adds fields to every entry written through the child logger.
	With(fields ...Field) Logger

	// WithComponent tags logs with a component name.
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Config is the file/env-facing logger configuration.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text|json
}

// Option configures a BaseLogger.
type Option func(*BaseLogger)

// WithLevel sets the minimum log level.
func WithLevel(level Level) Option {
	return func(l *BaseLogger) { l.level.Store(int32(level)) }
}

// WithJSONFormat switches output to JSON.
func WithJSONFormat() Option {
	return func(l *BaseLogger) { l.json = true }
}

// WithWriter redirects output; defaults to stderr.
func WithWriter(w io.Writer) Option {
	return func(l *BaseLogger) { l.w = w }
}

// BaseLogger implements Logger over log/slog.
type BaseLogger struct {
	level  *atomic.Int32
	json   bool
	w      io.Writer
	attrs  []slog.Attr
	handle *slog.Logger
}

// NewLogger creates a logger with the given options.
func NewLogger(options ...Option) Logger {
	l := &BaseLogger{level: &atomic.Int32{}, w: os.Stderr}
	l.level.Store(int32(InfoLevel))
	for _, opt := range options {
		opt(l)
	}
	l.rebuild()
	return l
}

// ApplyConfig builds a logger from a Config.
func ApplyConfig(cfg Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithLevel(level)}
	if strings.EqualFold(cfg.Format, "json") {
		opts = append(opts, WithJSONFormat())
	}
	return NewLogger(opts...), nil
}

// NewNop returns a logger that discards everything; used in tests.
func NewNop() Logger {
	return NewLogger(WithWriter(io.Discard), WithLevel(ErrorLevel))
}

func (l *BaseLogger) rebuild() {
	opts := &slog.HandlerOptions{Level: levelVar{l.level}}
	var h slog.Handler
	if l.json {
		h = slog.NewJSONHandler(l.w, opts)
	} else {
		h = slog.NewTextHandler(l.w, opts)
	}
	if len(l.attrs) > 0 {
		h = h.WithAttrs(l.attrs)
	}
	l.handle = slog.New(h)
}

// levelVar adapts the shared atomic level to slog.Leveler so SetLevel
// takes effect on child loggers without rebuilding handlers.
type levelVar struct{ v *atomic.Int32 }

func (lv levelVar) Level() slog.Level { return Level(lv.v.Load()).slogLevel() }

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if Level(l.level.Load()) > level {
		return
	}
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	l.handle.Log(nil, level.slogLevel(), msg, args...)
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// With returns a child logger carrying the extra fields.
func (l *BaseLogger) With(fields ...Field) Logger {
	child := &BaseLogger{level: l.level, json: l.json, w: l.w}
	child.attrs = append(append([]slog.Attr(nil), l.attrs...), toAttrs(fields)...)
	child.rebuild()
	return child
}

// WithComponent tags the logger with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Str("component", component))
}

// SetLevel sets the minimum log level, shared with child loggers.
func (l *BaseLogger) SetLevel(level Level) { l.level.Store(int32(level)) }

// GetLevel returns the current minimum log level.
func (l *BaseLogger) GetLevel() Level { return Level(l.level.Load()) }

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}
