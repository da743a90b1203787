// Package logging provides component-scoped structured loggers used across
// the store, event pipeline, and gateway.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Logger is the minimal logging surface used throughout this module.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

var level = new(slog.LevelVar)

var base = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

// SetLevel adjusts the process-wide minimum log level.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// componentLogger wraps an slog.Logger pinned to one component name.
type componentLogger struct {
	slog *slog.Logger
	name string
}

// NewComponentLogger returns a Logger that tags every record with
// component=name.
func NewComponentLogger(name string) Logger {
	return &componentLogger{slog: base.With("component", name), name: name}
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelDebug, fmtMsg(format, args...))
}

func (l *componentLogger) Info(format string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelInfo, fmtMsg(format, args...))
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelWarn, fmtMsg(format, args...))
}

func (l *componentLogger) Error(format string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelError, fmtMsg(format, args...))
}

func fmtMsg(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
