package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is a structured logger on top of slog.Logger that writes JSON
// lines.
//
// The zero value drops every record, create one with NewLogger or
// NewLeveledLogger.
type Logger struct {
	slogger *slog.Logger
}

// NewLogger creates a Logger at info level that writes to writer.
func NewLogger(writer io.Writer) Logger {
	return NewLeveledLogger(writer, slog.LevelInfo)
}

// NewLeveledLogger creates a Logger that drops records below level.
func NewLeveledLogger(writer io.Writer, level slog.Level) Logger {
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	return Logger{
		slogger: slog.New(handler),
	}
}

// NewDiscardLogger returns a Logger that writes nothing, useful in tests.
func NewDiscardLogger() Logger {
	return NewLogger(io.Discard)
}

// ParseLevel parses one of debug, info, warn or error.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf(
		"invalid log level %q, valid values are: debug, info, warn, error", level,
	)
}

func (l *Logger) log(level slog.Level, msg string, args []any) {
	if l.slogger == nil {
		return
	}
	switch level {
	case slog.LevelDebug:
		l.slogger.Debug(msg, args...)
	case slog.LevelWarn:
		l.slogger.Warn(msg, args...)
	case slog.LevelError:
		l.slogger.Error(msg, args...)
	default:
		l.slogger.Info(msg, args...)
	}
}

// Info logs a message with an optional set of key-value pairs. Only the
// first KV is used.
func (l *Logger) Info(msg string, keyVals ...KV) {
	l.log(slog.LevelInfo, msg, kvToArgs(keyVals...))
}

// InfoNs is Info with a namespace, logged as the first "ns" pair so logs
// from different parts of the harness can be told apart.
func (l *Logger) InfoNs(namespace string, msg string, keyVals ...KV) {
	l.log(slog.LevelInfo, msg, kvToArgsNs(namespace, keyVals...))
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyVals ...KV) {
	l.log(slog.LevelDebug, msg, kvToArgs(keyVals...))
}

// DebugNs logs a namespaced debug message.
func (l *Logger) DebugNs(namespace string, msg string, keyVals ...KV) {
	l.log(slog.LevelDebug, msg, kvToArgsNs(namespace, keyVals...))
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, keyVals ...KV) {
	l.log(slog.LevelWarn, msg, kvToArgs(keyVals...))
}

// WarnNs logs a namespaced warning.
func (l *Logger) WarnNs(namespace string, msg string, keyVals ...KV) {
	l.log(slog.LevelWarn, msg, kvToArgsNs(namespace, keyVals...))
}

// Error logs an error message.
func (l *Logger) Error(msg string, keyVals ...KV) {
	l.log(slog.LevelError, msg, kvToArgs(keyVals...))
}

// ErrorNs logs a namespaced error message.
func (l *Logger) ErrorNs(namespace string, msg string, keyVals ...KV) {
	l.log(slog.LevelError, msg, kvToArgsNs(namespace, keyVals...))
}
