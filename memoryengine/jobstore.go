package memoryengine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/circulib/lending-engine-go/scheduler"
)

// JobStore is the in-memory scheduler.JobStore. Claims are exclusive under
// the store mutex, mirroring the atomic status transition of the Postgres
// engine.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]scheduler.Job
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]scheduler.Job)}
}

// Enqueue persists a new job.
func (s *JobStore) Enqueue(_ context.Context, job scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job

	return nil
}

// EnsureRecurring persists the recurring job unless one of the same kind
// already exists.
func (s *JobStore) EnsureRecurring(_ context.Context, job scheduler.Job) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.Kind == job.Kind && existing.Schedule != "" {
			return existing.ID, nil
		}
	}

	s.jobs[job.ID] = job

	return job.ID, nil
}

// Get returns the job or scheduler.ErrJobNotFound.
func (s *JobStore) Get(_ context.Context, id uuid.UUID) (scheduler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return scheduler.Job{}, scheduler.ErrJobNotFound
	}

	return job, nil
}

// ClaimDue atomically claims up to limit due jobs, including Running jobs
// whose lease has expired.
func (s *JobStore) ClaimDue(_ context.Context, now time.Time, leaseUntil time.Time, limit int) ([]scheduler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimable := make([]scheduler.Job, 0)
	for _, job := range s.jobs {
		if s.isClaimable(job, now) {
			claimable = append(claimable, job)
		}
	}

	sort.Slice(claimable, func(i, j int) bool {
		return claimable[i].RunAt.Before(claimable[j].RunAt)
	})

	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}

	lease := leaseUntil
	claimed := make([]scheduler.Job, 0, len(claimable))

	for _, job := range claimable {
		job.Status = scheduler.StatusRunning
		job.LeaseExpiresAt = &lease
		job.UpdatedAt = now
		s.jobs[job.ID] = job
		claimed = append(claimed, job)
	}

	return claimed, nil
}

func (s *JobStore) isClaimable(job scheduler.Job, now time.Time) bool {
	switch job.Status {
	case scheduler.StatusPending, scheduler.StatusRetrying:
		return !job.RunAt.After(now)
	case scheduler.StatusRunning:
		return job.LeaseExpiresAt != nil && !job.LeaseExpiresAt.After(now)
	default:
		return false
	}
}

// ExtendLease pushes the lease expiry of a Running job.
func (s *JobStore) ExtendLease(_ context.Context, id uuid.UUID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return scheduler.ErrJobNotFound
	}

	if job.Status == scheduler.StatusRunning {
		job.LeaseExpiresAt = &until
		s.jobs[id] = job
	}

	return nil
}

// MarkSucceeded finishes a one-shot job.
func (s *JobStore) MarkSucceeded(_ context.Context, id uuid.UUID, now time.Time) error {
	return s.update(id, func(job *scheduler.Job) {
		job.Status = scheduler.StatusSucceeded
		job.LeaseExpiresAt = nil
		job.LastError = ""
		job.UpdatedAt = now
	})
}

// MarkFailed parks the job as Failed.
func (s *JobStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastError string, now time.Time) error {
	return s.update(id, func(job *scheduler.Job) {
		job.Status = scheduler.StatusFailed
		job.Attempts = attempts
		job.LastError = lastError
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now
	})
}

// MarkRetrying re-schedules a failed attempt.
func (s *JobStore) MarkRetrying(_ context.Context, id uuid.UUID, attempts int, lastError string, runAt time.Time, now time.Time) error {
	return s.update(id, func(job *scheduler.Job) {
		job.Status = scheduler.StatusRetrying
		job.Attempts = attempts
		job.LastError = lastError
		job.RunAt = runAt
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now
	})
}

// Reschedule resets a recurring job to Pending for its next activation.
func (s *JobStore) Reschedule(_ context.Context, id uuid.UUID, runAt time.Time, lastError string, now time.Time) error {
	return s.update(id, func(job *scheduler.Job) {
		job.Status = scheduler.StatusPending
		job.Attempts = 0
		job.LastError = lastError
		job.RunAt = runAt
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now
	})
}

// ListByStatus returns up to limit jobs in the given status, oldest RunAt first.
func (s *JobStore) ListByStatus(_ context.Context, status scheduler.Status, limit int) ([]scheduler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]scheduler.Job, 0)
	for _, job := range s.jobs {
		if job.Status == status {
			matches = append(matches, job)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].RunAt.Before(matches[j].RunAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

func (s *JobStore) update(id uuid.UUID, mutate func(*scheduler.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return scheduler.ErrJobNotFound
	}

	mutate(&job)
	s.jobs[id] = job

	return nil
}
