package logging

import (
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// TimestampFormat is used by both encoders
const TimestampFormat = "2006-01-02 15:04:05"

// Formats accepted in Config.Format
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// newEncoder returns the zap encoder for format. A console line reads
// "[2025-01-02 15:04:05] INFO SERVER message {fields}".
func newEncoder(format string) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "role",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(TimestampFormat),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	if strings.EqualFold(format, FormatJSON) {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}

	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + t.Format(TimestampFormat) + "]")
	}
	return zapcore.NewConsoleEncoder(cfg)
}
