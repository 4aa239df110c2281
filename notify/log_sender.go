package notify

import "context"

// Logger is the minimal logging interface LogSender writes to.
type Logger interface {
	Info(msg string, args ...any)
}

// LogSender is a Sender that records notifications in the log instead of
// delivering them. Useful for development deployments without an SMTP
// integration and as the default sender of the worker daemon.
type LogSender struct {
	logger Logger
}

// NewLogSender creates a LogSender writing to the given logger.
func NewLogSender(logger Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notification and reports success.
func (s *LogSender) Send(_ context.Context, recipient string, template TemplateKind, params map[string]string) error {
	args := []any{"recipient", recipient, "template", string(template)}
	for key, val := range params {
		args = append(args, key, val)
	}

	s.logger.Info("notification sent", args...)

	return nil
}
