package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle field of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

var (
	// ErrJobNotFound is returned when a job id does not exist in the store.
	ErrJobNotFound = errors.New("scheduled job not found")

	// ErrPermanent marks a handler failure as not eligible for retry.
	// Handlers wrap (errors.Join) their error with this sentinel to make
	// the scheduler transition the job straight to Failed.
	ErrPermanent = errors.New("permanent job failure")

	// ErrNoHandlerForKind is recorded as lastError when a claimed job has
	// no registered handler.
	ErrNoHandlerForKind = errors.New("no handler registered for job kind")

	// ErrEmptyJobKind is returned when enqueueing a job without a kind.
	ErrEmptyJobKind = errors.New("job kind must not be empty")
)

// Job is one unit of durable, time-deferred work. Jobs are owned exclusively
// by the scheduler; business code only ever enqueues them.
//
// A one-shot job has an empty Schedule and runs once at RunAt. A recurring
// job carries a cron expression in Schedule and is rescheduled to its next
// activation after every completed run.
type Job struct {
	ID             uuid.UUID
	Kind           string
	Payload        []byte
	Schedule       string
	RunAt          time.Time
	Status         Status
	Attempts       int
	LastError      string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Handler executes one job attempt. Implementations must be idempotent and
// should honor ctx cancellation on blocking work.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}
