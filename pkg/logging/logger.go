// Package logging provides the structured logger used by the exercise
// clients and servers. It keeps a small Field based API and writes through
// zap. Output always goes to stderr by default since stdout is reserved for
// the stdio JSON-RPC stream.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
)

// Level represents the severity of a log message
type Level int

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of a log level
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
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func levelFromZap(l zapcore.Level) Level {
	switch l {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	case zapcore.FatalLevel, zapcore.PanicLevel, zapcore.DPanicLevel:
		return FatalLevel
	default:
		return InfoLevel
	}
}

// ParseLevel converts a config string such as "debug" or "WARN" to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField creates an error field
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func (f Field) zap() zap.Field {
	switch v := f.Value.(type) {
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case error:
		return zap.NamedError(f.Key, v)
	case nil:
		return zap.Skip()
	default:
		return zap.Any(f.Key, v)
	}
}

// Logger is the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process
	Fatal(msg string, fields ...Field)

	// WithFields returns a new logger with additional fields
	WithFields(fields ...Field) Logger
	// WithContext returns a new logger carrying the request id found in ctx
	WithContext(ctx context.Context) Logger
	// WithError returns a new logger annotated with err and, for MCP
	// errors, its code, category and context
	WithError(err error) Logger

	SetLevel(level Level)
	GetLevel() Level

	// Sync flushes buffered entries
	Sync() error
}

// Config controls how New builds a logger
type Config struct {
	// Level is the minimum level written
	Level Level
	// Format is "console" (default) or "json"
	Format string
	// Role names the process side, "server" or "client"
	Role string
	// Output defaults to os.Stderr
	Output io.Writer
}

type zapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New creates a logger writing through zap
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level := zap.NewAtomicLevelAt(cfg.Level.zapLevel())
	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(out), level)

	z := zap.New(core)
	if cfg.Role != "" {
		z = z.Named(strings.ToUpper(cfg.Role))
	}
	return &zapLogger{z: z, level: level}
}

// NewFromZap wraps an existing zap logger. The level reported by GetLevel
// starts at the level z is enabled for, but SetLevel only affects loggers
// created by New.
func NewFromZap(z *zap.Logger) Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if z.Core().Enabled(zapcore.DebugLevel) {
		level.SetLevel(zapcore.DebugLevel)
	}
	return &zapLogger{z: z, level: level}
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

func convert(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.zap())
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, convert(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field) { l.z.Info(msg, convert(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field) { l.z.Warn(msg, convert(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, convert(fields)...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, convert(fields)...) }

func (l *zapLogger) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &zapLogger{z: l.z.With(convert(fields)...), level: l.level}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		return l.WithFields(String("request_id", requestID))
	}
	return l
}

func (l *zapLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	fields := []Field{ErrorField(err)}

	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		fields = append(fields,
			Int("error_code", mcpErr.Code()),
			String("error_category", string(mcpErr.Category())),
			String("error_severity", string(mcpErr.Severity())),
		)
		if ctx := mcpErr.Context(); ctx != nil {
			if ctx.RequestID != "" {
				fields = append(fields, String("request_id", ctx.RequestID))
			}
			if ctx.Tool != "" {
				fields = append(fields, String("tool", ctx.Tool))
			}
			if ctx.Component != "" {
				fields = append(fields, String("component", ctx.Component))
			}
			if ctx.Operation != "" {
				fields = append(fields, String("operation", ctx.Operation))
			}
		}
	}

	return l.WithFields(fields...)
}

func (l *zapLogger) SetLevel(level Level) { l.level.SetLevel(level.zapLevel()) }
func (l *zapLogger) GetLevel() Level { return levelFromZap(l.level.Level()) }
func (l *zapLogger) Sync() error { return l.z.Sync() }

type contextKey string

const requestIDKey contextKey = "request_id"

// ContextWithRequestID returns a context with a request ID
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from a context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}
