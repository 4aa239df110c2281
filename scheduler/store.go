package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStore is the durable queue behind the scheduler. Implementations must
// make ClaimDue an atomic status transition visible to all workers - the
// claim is the isolation mechanism that keeps a job from being executed by
// two workers at once.
type JobStore interface {
	// Enqueue persists a new Pending job.
	Enqueue(ctx context.Context, job Job) error

	// EnsureRecurring persists the recurring job unless a recurring job
	// of the same kind already exists, and returns the id of whichever
	// row ends up representing the recurrence. Keeps daemon restarts from
	// duplicating recurring jobs.
	EnsureRecurring(ctx context.Context, job Job) (uuid.UUID, error)

	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (Job, error)

	// ClaimDue atomically transitions up to limit claimable jobs to
	// Running with a lease expiring at leaseUntil, and returns them.
	// Claimable are Pending/Retrying jobs with RunAt <= now, plus Running
	// jobs whose lease has expired (a crashed worker's claim being
	// reclaimed). A job never appears in two concurrent claims.
	ClaimDue(ctx context.Context, now time.Time, leaseUntil time.Time, limit int) ([]Job, error)

	// ExtendLease pushes the lease expiry of a Running job to until.
	ExtendLease(ctx context.Context, id uuid.UUID, until time.Time) error

	// MarkSucceeded finishes a one-shot job.
	MarkSucceeded(ctx context.Context, id uuid.UUID, now time.Time) error

	// MarkFailed parks the job as Failed with the final attempt count and
	// error; failed jobs stay listable for operator visibility.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, now time.Time) error

	// MarkRetrying re-schedules a failed attempt for runAt with the
	// incremented attempt count.
	MarkRetrying(ctx context.Context, id uuid.UUID, attempts int, lastError string, runAt time.Time, now time.Time) error

	// Reschedule resets a recurring job to Pending for its next
	// activation, zeroing the attempt count while keeping lastError from
	// the previous cycle visible.
	Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string, now time.Time) error

	// ListByStatus returns up to limit jobs in the given status, oldest
	// RunAt first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error)
}
