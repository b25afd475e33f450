// Package logging provides a tiny abstraction over slog so the training
// packages can depend on a minimal interface while allowing callers to plug
// in any structured logger.
package logging

import (
	"log/slog"
	"os"
)

// Logger is the minimal logging interface consumed by the estimator and its
// event handlers. *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewDefault returns a Logger writing text records to stderr.
func NewDefault() Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// NewSlogAdapter wraps an existing *slog.Logger as a Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return logger
}

// NoOp discards all log messages. Useful for tests or when logging is
// disabled.
type NoOp struct{}

// Debug discards the message.
func (NoOp) Debug(string, ...any) {}

// Info discards the message.
func (NoOp) Info(string, ...any) {}

// Warn discards the message.
func (NoOp) Warn(string, ...any) {}

// Error discards the message.
func (NoOp) Error(string, ...any) {}
