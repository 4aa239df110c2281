package oteladapters

import (
	"log/slog"

	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/postgresengine"
	"github.com/circulib/lending-engine-go/scheduler"
)

// SlogLogger implements the plain (non-contextual) logger interfaces of the
// lending core, the scheduler, and the Postgres engine on top of a standard
// slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps the given slog.Logger. A nil logger falls back to
// slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogLogger{logger: logger}
}

// Debug logs a debug message.
func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs an info message.
func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a warning message.
func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message.
func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// Ensure SlogLogger implements all three logger interfaces.
var (
	_ lending.Logger        = (*SlogLogger)(nil)
	_ scheduler.Logger      = (*SlogLogger)(nil)
	_ postgresengine.Logger = (*SlogLogger)(nil)
)
