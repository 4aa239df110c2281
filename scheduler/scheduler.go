package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"
)

const (
	logMsgWorkerStarted        = "scheduler worker started"
	logMsgWorkerStopped        = "scheduler worker stopped"
	logMsgClaimFailed          = "failed to claim due jobs"
	logMsgJobSucceeded         = "job succeeded"
	logMsgJobFailed            = "job failed permanently"
	logMsgJobRetryScheduled    = "job attempt failed, retry scheduled"
	logMsgJobRescheduled       = "recurring job rescheduled"
	logMsgRecurringExhausted   = "recurring job exhausted its attempts, rescheduling to next activation"
	logMsgNoHandlerForKind     = "claimed job has no registered handler"
	logMsgLeaseRenewalFailed   = "failed to extend job lease"
	logMsgOutcomeRecordFailed  = "failed to record job outcome"
	logMsgInvalidCronSchedule  = "recurring job carries an invalid cron schedule"
	logAttrJobID               = "job_id"
	logAttrJobKind             = "job_kind"
	logAttrWorker              = "worker"
	logAttrAttempts            = "attempts"
	logAttrRunAt               = "run_at"
	logAttrDurationMS          = "duration_ms"
	logAttrError               = "error"
	metricJobsTotal            = "scheduler_jobs_total"
	metricJobDuration          = "scheduler_job_duration"
	metricLabelKind            = "kind"
	metricLabelOutcome         = "outcome"
	outcomeSucceeded           = "succeeded"
	outcomeFailed              = "failed"
	outcomeRetrying            = "retrying"
	spanNameExecute            = "scheduler.execute"
	spanStatusOK               = "ok"
	spanStatusError            = "error"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Scheduler drives a pool of workers that pull claimable jobs from the
// JobStore and dispatch them to the registered handlers. Register all
// handlers before calling Run; the handler map is not synchronized.
type Scheduler struct {
	store    JobStore
	handlers map[string]Handler
	cfg      config
	clock    Clock
	logger   Logger
	metrics  MetricsCollector
	tracing  TracingCollector
}

// New creates a Scheduler over the given store with optional configuration.
func New(store JobStore, options ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:    store,
		handlers: make(map[string]Handler),
		cfg:      defaultConfig(),
		clock:    systemClock{},
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// RegisterHandler binds a handler to a job kind.
func (s *Scheduler) RegisterHandler(kind string, handler Handler) {
	s.handlers[kind] = handler
}

// Enqueue persists a one-shot job claimable immediately.
func (s *Scheduler) Enqueue(ctx context.Context, kind string, payload any) (uuid.UUID, error) {
	return s.EnqueueAt(ctx, kind, payload, s.clock.Now())
}

// EnqueueAt persists a one-shot job that will not be invoked before runAt.
// It may run later than runAt; there is no hard real-time bound.
func (s *Scheduler) EnqueueAt(ctx context.Context, kind string, payload any, runAt time.Time) (uuid.UUID, error) {
	job, err := s.buildJob(kind, payload, runAt, "")
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.store.Enqueue(ctx, job); err != nil {
		return uuid.Nil, err
	}

	return job.ID, nil
}

// EnqueueRecurring registers a recurring job driven by a cron expression
// (five-field cron or a descriptor such as "@hourly"). Registration is
// idempotent per kind: re-registering on daemon restart reuses the existing
// recurrence instead of duplicating it.
func (s *Scheduler) EnqueueRecurring(ctx context.Context, kind string, payload any, cronSchedule string) (uuid.UUID, error) {
	schedule, err := cron.ParseStandard(cronSchedule)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse cron schedule %q: %w", cronSchedule, err)
	}

	job, err := s.buildJob(kind, payload, schedule.Next(s.clock.Now()), cronSchedule)
	if err != nil {
		return uuid.Nil, err
	}

	return s.store.EnsureRecurring(ctx, job)
}

func (s *Scheduler) buildJob(kind string, payload any, runAt time.Time, cronSchedule string) (Job, error) {
	if kind == "" {
		return Job{}, ErrEmptyJobKind
	}

	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return Job{}, err
	}

	now := s.clock.Now()

	return Job{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   payloadJSON,
		Schedule:  cronSchedule,
		RunAt:     runAt,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}

	payloadJSON, err := jsonCodec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	return payloadJSON, nil
}

// UnmarshalPayload decodes a job payload into target; the counterpart of the
// encoding applied by Enqueue for use inside handlers.
func UnmarshalPayload(payload []byte, target any) error {
	return jsonCodec.Unmarshal(payload, target)
}

// Run starts the worker pool and blocks until ctx is canceled. It always
// returns nil after a clean shutdown; store errors inside the loop are
// logged and retried on the next poll, never fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < s.cfg.workerCount; i++ {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()
			s.workerLoop(ctx, worker)
		}(i)
	}

	wg.Wait()

	return nil
}

// workerLoop claims and executes one job at a time until ctx is canceled.
func (s *Scheduler) workerLoop(ctx context.Context, worker int) {
	s.logDebug(logMsgWorkerStarted, logAttrWorker, worker)
	defer s.logDebug(logMsgWorkerStopped, logAttrWorker, worker)

	for {
		if ctx.Err() != nil {
			return
		}

		now := s.clock.Now()

		claimed, err := s.store.ClaimDue(ctx, now, now.Add(s.cfg.leaseTTL), 1)
		if err != nil {
			if ctx.Err() == nil {
				s.logError(logMsgClaimFailed, logAttrWorker, worker, logAttrError, err.Error())
			}
			s.idle(ctx)
			continue
		}

		if len(claimed) == 0 {
			s.idle(ctx)
			continue
		}

		s.execute(ctx, claimed[0])
	}
}

// idle sleeps for the poll interval with a little jitter so the workers do
// not hit the store in lockstep.
func (s *Scheduler) idle(ctx context.Context) {
	jitter := time.Duration(rand.Float64() * float64(s.cfg.pollInterval) * s.cfg.jitterFactor) //nolint:gosec // math/rand is sufficient for jitter

	timer := time.NewTimer(s.cfg.pollInterval + jitter)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// execute runs one claimed job: renew the lease while the handler works,
// then record the outcome (success, retry with backoff, permanent failure,
// or reschedule for recurring jobs).
func (s *Scheduler) execute(ctx context.Context, job Job) {
	execCtx, span := s.startSpan(ctx, job)

	handler, registered := s.handlers[job.Kind]
	if !registered {
		s.logError(logMsgNoHandlerForKind, logAttrJobID, job.ID.String(), logAttrJobKind, job.Kind)
		s.recordOutcome(ctx, job, job.Attempts+1, errors.Join(ErrPermanent, ErrNoHandlerForKind))
		s.finishSpan(span, spanStatusError)
		s.countJob(job.Kind, outcomeFailed)
		return
	}

	stopRenewal := s.keepLeaseAlive(execCtx, job.ID)

	start := s.clock.Now()
	handlerErr := handler.Handle(execCtx, job.Payload)
	duration := s.clock.Now().Sub(start)

	stopRenewal()

	s.recordDuration(job.Kind, duration)

	outcome := s.recordOutcome(ctx, job, job.Attempts+1, handlerErr)
	s.countJob(job.Kind, outcome)

	if handlerErr != nil {
		s.finishSpan(span, spanStatusError)
		return
	}

	s.finishSpan(span, spanStatusOK)

	s.logInfo(logMsgJobSucceeded,
		logAttrJobID, job.ID.String(),
		logAttrJobKind, job.Kind,
		logAttrDurationMS, duration.Milliseconds())
}

// recordOutcome persists the job's next state and returns the outcome label.
func (s *Scheduler) recordOutcome(ctx context.Context, job Job, attempts int, handlerErr error) string {
	now := s.clock.Now()

	switch {
	case handlerErr == nil:
		if job.Schedule != "" {
			return s.rescheduleRecurring(ctx, job, "", now)
		}

		if err := s.store.MarkSucceeded(ctx, job.ID, now); err != nil {
			s.logOutcomeRecordFailure(job, err)
		}

		return outcomeSucceeded

	case errors.Is(handlerErr, ErrPermanent):
		s.logError(logMsgJobFailed,
			logAttrJobID, job.ID.String(),
			logAttrJobKind, job.Kind,
			logAttrAttempts, attempts,
			logAttrError, handlerErr.Error())

		if err := s.store.MarkFailed(ctx, job.ID, attempts, handlerErr.Error(), now); err != nil {
			s.logOutcomeRecordFailure(job, err)
		}

		return outcomeFailed

	case attempts >= s.cfg.maxAttempts:
		if job.Schedule != "" {
			// A recurring job must not stop recurring; the exhausted
			// cycle is surfaced through the log and lastError instead.
			s.logError(logMsgRecurringExhausted,
				logAttrJobID, job.ID.String(),
				logAttrJobKind, job.Kind,
				logAttrAttempts, attempts,
				logAttrError, handlerErr.Error())

			return s.rescheduleRecurring(ctx, job, handlerErr.Error(), now)
		}

		s.logError(logMsgJobFailed,
			logAttrJobID, job.ID.String(),
			logAttrJobKind, job.Kind,
			logAttrAttempts, attempts,
			logAttrError, handlerErr.Error())

		if err := s.store.MarkFailed(ctx, job.ID, attempts, handlerErr.Error(), now); err != nil {
			s.logOutcomeRecordFailure(job, err)
		}

		return outcomeFailed

	default:
		runAt := now.Add(retryDelay(attempts, s.cfg.retryBaseDelay, s.cfg.retryMaxDelay, s.cfg.jitterFactor))

		s.logWarn(logMsgJobRetryScheduled,
			logAttrJobID, job.ID.String(),
			logAttrJobKind, job.Kind,
			logAttrAttempts, attempts,
			logAttrRunAt, runAt,
			logAttrError, handlerErr.Error())

		if err := s.store.MarkRetrying(ctx, job.ID, attempts, handlerErr.Error(), runAt, now); err != nil {
			s.logOutcomeRecordFailure(job, err)
		}

		return outcomeRetrying
	}
}

// rescheduleRecurring moves a recurring job to its next cron activation.
func (s *Scheduler) rescheduleRecurring(ctx context.Context, job Job, lastError string, now time.Time) string {
	schedule, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		s.logError(logMsgInvalidCronSchedule,
			logAttrJobID, job.ID.String(),
			logAttrJobKind, job.Kind,
			logAttrError, err.Error())

		if markErr := s.store.MarkFailed(ctx, job.ID, job.Attempts, err.Error(), now); markErr != nil {
			s.logOutcomeRecordFailure(job, markErr)
		}

		return outcomeFailed
	}

	next := schedule.Next(now)

	if err := s.store.Reschedule(ctx, job.ID, next, lastError, now); err != nil {
		s.logOutcomeRecordFailure(job, err)
	}

	s.logDebug(logMsgJobRescheduled,
		logAttrJobID, job.ID.String(),
		logAttrJobKind, job.Kind,
		logAttrRunAt, next)

	return outcomeSucceeded
}

// keepLeaseAlive renews the job's lease at half-TTL intervals until the
// returned stop function is called, so a long-running handler does not lose
// its exclusive claim to another worker.
func (s *Scheduler) keepLeaseAlive(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})

	var once sync.Once
	stop := func() {
		once.Do(func() { close(done) })
	}

	go func() {
		ticker := time.NewTicker(s.cfg.leaseTTL / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.store.ExtendLease(ctx, jobID, s.clock.Now().Add(s.cfg.leaseTTL)); err != nil {
					s.logWarn(logMsgLeaseRenewalFailed, logAttrJobID, jobID.String(), logAttrError, err.Error())
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return stop
}

func (s *Scheduler) startSpan(ctx context.Context, job Job) (context.Context, SpanContext) {
	if s.tracing == nil {
		return ctx, nil
	}

	return s.tracing.StartSpan(ctx, spanNameExecute, map[string]string{
		logAttrJobKind: job.Kind,
		logAttrJobID:   job.ID.String(),
	})
}

func (s *Scheduler) finishSpan(span SpanContext, status string) {
	if s.tracing == nil || span == nil {
		return
	}

	s.tracing.FinishSpan(span, status, nil)
}

func (s *Scheduler) countJob(kind string, outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementCounter(metricJobsTotal, map[string]string{
			metricLabelKind:    kind,
			metricLabelOutcome: outcome,
		})
	}
}

func (s *Scheduler) recordDuration(kind string, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordDuration(metricJobDuration, duration, map[string]string{metricLabelKind: kind})
	}
}

func (s *Scheduler) logOutcomeRecordFailure(job Job, err error) {
	s.logError(logMsgOutcomeRecordFailed,
		logAttrJobID, job.ID.String(),
		logAttrJobKind, job.Kind,
		logAttrError, err.Error())
}

func (s *Scheduler) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Scheduler) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scheduler) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Scheduler) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
