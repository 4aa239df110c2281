package scheduler

import (
	"context"
	"errors"
	"time"
)

// Clock supplies the current time; substitutable for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Logger interface for operational logging, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting scheduler performance and
// operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and
// updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information
// from job executions.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

var (
	// ErrInvalidWorkerCount is returned when the worker count is not positive.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")

	// ErrInvalidPollInterval is returned when the poll interval is not positive.
	ErrInvalidPollInterval = errors.New("poll interval must be positive")

	// ErrInvalidLeaseTTL is returned when the lease TTL is not positive.
	ErrInvalidLeaseTTL = errors.New("lease TTL must be positive")

	// ErrInvalidMaxAttempts is returned when the attempt ceiling is not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

const (
	defaultWorkerCount    = 4
	defaultPollInterval   = time.Second
	defaultLeaseTTL       = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = 15 * time.Second
	defaultRetryMaxDelay  = 10 * time.Minute
	defaultJitterFactor   = 0.2
)

type config struct {
	workerCount    int
	pollInterval   time.Duration
	leaseTTL       time.Duration
	maxAttempts    int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	jitterFactor   float64
}

func defaultConfig() config {
	return config{
		workerCount:    defaultWorkerCount,
		pollInterval:   defaultPollInterval,
		leaseTTL:       defaultLeaseTTL,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		retryMaxDelay:  defaultRetryMaxDelay,
		jitterFactor:   defaultJitterFactor,
	}
}

// Option defines a functional option for configuring a Scheduler.
type Option func(*Scheduler) error

// WithWorkerCount sets the number of worker goroutines pulling claimable jobs.
func WithWorkerCount(count int) Option {
	return func(s *Scheduler) error {
		if count <= 0 {
			return ErrInvalidWorkerCount
		}

		s.cfg.workerCount = count

		return nil
	}
}

// WithPollInterval sets how long an idle worker sleeps before polling again.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) error {
		if interval <= 0 {
			return ErrInvalidPollInterval
		}

		s.cfg.pollInterval = interval

		return nil
	}
}

// WithLeaseTTL sets the exclusive claim duration. A worker renews its lease
// at half-TTL intervals while a handler runs; a crashed worker's claim
// becomes reclaimable once the lease expires.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Scheduler) error {
		if ttl <= 0 {
			return ErrInvalidLeaseTTL
		}

		s.cfg.leaseTTL = ttl

		return nil
	}
}

// WithMaxAttempts sets the attempt ceiling after which a one-shot job is
// parked as Failed.
func WithMaxAttempts(attempts int) Option {
	return func(s *Scheduler) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		s.cfg.maxAttempts = attempts

		return nil
	}
}

// WithRetryDelays sets the base and maximum delay for exponential backoff.
// Actual delays: baseDelay, baseDelay*2, baseDelay*4, ... capped at maxDelay.
func WithRetryDelays(baseDelay time.Duration, maxDelay time.Duration) Option {
	return func(s *Scheduler) error {
		s.cfg.retryBaseDelay = baseDelay
		s.cfg.retryMaxDelay = maxDelay

		return nil
	}
}

// WithJitterFactor sets the jitter fraction added to backoff delays.
// Valid range: 0.0 (no jitter) to 1.0 (100% jitter).
func WithJitterFactor(factor float64) Option {
	return func(s *Scheduler) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		s.cfg.jitterFactor = factor

		return nil
	}
}

// WithClock substitutes the clock, enabling deterministic tests.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) error {
		s.clock = clock
		return nil
	}
}

// WithLogger sets the logger for the Scheduler.
func WithLogger(logger Logger) Option {
	return func(s *Scheduler) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector; it receives per-kind execution
// counts and durations.
func WithMetrics(collector MetricsCollector) Option {
	return func(s *Scheduler) error {
		s.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector; every job execution is wrapped in
// a span labeled with the job kind and id.
func WithTracing(collector TracingCollector) Option {
	return func(s *Scheduler) error {
		s.tracing = collector
		return nil
	}
}
