package postgresengine

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/circulib/lending-engine-go/postgresengine/internal/adapters"
	"github.com/circulib/lending-engine-go/scheduler"
)

const (
	colJobID          = "id"
	colKind           = "kind"
	colPayload        = "payload"
	colSchedule       = "schedule"
	colRunAt          = "run_at"
	colStatus         = "status"
	colAttempts       = "attempts"
	colLastError      = "last_error"
	colLeaseExpiresAt = "lease_expires_at"
	colCreatedAt      = "created_at"
	colUpdatedAt      = "updated_at"

	aliasExistingCount = "existing_count"
)

const (
	opEnqueueJob      = "enqueue job"
	opEnsureRecurring = "ensure recurring job"
	opGetJob          = "get job"
	opClaimDue        = "claim due jobs"
	opExtendLease     = "extend lease"
	opMarkSucceeded   = "mark succeeded"
	opMarkFailed      = "mark failed"
	opMarkRetrying    = "mark retrying"
	opReschedule      = "reschedule"
	opListByStatus    = "list jobs by status"
)

// JobStore is the PostgreSQL scheduler.JobStore. ClaimDue selects claimable
// rows with FOR UPDATE SKIP LOCKED and flips them to Running in the same
// statement, so concurrent workers never claim the same job and never block
// each other polling.
type JobStore struct {
	engine
}

// NewJobStoreFromPGXPool creates a JobStore using a pgx pool.
func NewJobStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*JobStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newJobStore(adapters.NewPGXAdapter(db), options...)
}

// NewJobStoreFromSQLDB creates a JobStore using a sql.DB.
func NewJobStoreFromSQLDB(db *sql.DB, options ...Option) (*JobStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newJobStore(adapters.NewSQLAdapter(db), options...)
}

// NewJobStoreFromSQLX creates a JobStore using a sqlx.DB.
func NewJobStoreFromSQLX(db *sqlx.DB, options ...Option) (*JobStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newJobStore(adapters.NewSQLXAdapter(db), options...)
}

func newJobStore(db adapters.DBAdapter, options ...Option) (*JobStore, error) {
	e, err := newEngine(db, options...)
	if err != nil {
		return nil, err
	}

	return &JobStore{engine: e}, nil
}

// Enqueue persists a new job.
func (s *JobStore) Enqueue(ctx context.Context, job scheduler.Job) error {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Insert(tableJobs).
		Rows(jobRecord(job)).
		ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	_, err := s.exec(ctx, sqlQuery, tableJobs, opEnqueueJob)

	return err
}

// EnsureRecurring persists the recurring job unless one of the same kind
// already exists, and returns the id of whichever job ends up registered.
// The insert is guarded by a CTE counting existing recurring jobs of the
// kind; the partial unique index backs the guard under concurrent starts.
func (s *JobStore) EnsureRecurring(ctx context.Context, job scheduler.Job) (uuid.UUID, error) {
	builder := goqu.Dialect(dialectPostgres)

	existing := builder.From(tableJobs).
		Select(goqu.COUNT(goqu.Star()).As(aliasExistingCount)).
		Where(
			goqu.Ex{colKind: job.Kind},
			goqu.C(colSchedule).Neq(""),
		)

	insertStmt := builder.Insert(tableJobs).
		Cols(colJobID, colKind, colPayload, colSchedule, colRunAt, colStatus, colAttempts, colLastError, colCreatedAt, colUpdatedAt).
		With(cteContext, existing).
		FromQuery(builder.From(cteContext).
			Select(
				goqu.V(job.ID.String()),
				goqu.V(job.Kind),
				goqu.L(castJsonb, payloadJSON(job.Payload)),
				goqu.V(job.Schedule),
				goqu.V(job.RunAt),
				goqu.V(string(job.Status)),
				goqu.V(job.Attempts),
				goqu.V(job.LastError),
				goqu.V(job.CreatedAt),
				goqu.V(job.UpdatedAt),
			).
			Where(goqu.COALESCE(goqu.C(aliasExistingCount), 0).Eq(goqu.V(0))))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return uuid.Nil, toSQLErr
	}

	rowsAffected, err := s.exec(ctx, sqlQuery, tableJobs, opEnsureRecurring)
	if err != nil {
		return uuid.Nil, err
	}

	if rowsAffected == 1 {
		return job.ID, nil
	}

	return s.findRecurring(ctx, job.Kind)
}

func (s *JobStore) findRecurring(ctx context.Context, kind string) (uuid.UUID, error) {
	sqlQuery, _, toSQLErr := s.selectJobs().
		Where(
			goqu.Ex{colKind: kind},
			goqu.C(colSchedule).Neq(""),
		).
		Limit(1).
		ToSQL()
	if toSQLErr != nil {
		return uuid.Nil, toSQLErr
	}

	jobs, err := s.queryJobs(ctx, sqlQuery, opEnsureRecurring, false)
	if err != nil {
		return uuid.Nil, err
	}

	if len(jobs) == 0 {
		return uuid.Nil, scheduler.ErrJobNotFound
	}

	return jobs[0].ID, nil
}

// Get returns the job or scheduler.ErrJobNotFound.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (scheduler.Job, error) {
	sqlQuery, _, toSQLErr := s.selectJobs().
		Where(goqu.Ex{colJobID: id.String()}).
		ToSQL()
	if toSQLErr != nil {
		return scheduler.Job{}, toSQLErr
	}

	jobs, err := s.queryJobs(ctx, sqlQuery, opGetJob, false)
	if err != nil {
		return scheduler.Job{}, err
	}

	if len(jobs) == 0 {
		return scheduler.Job{}, scheduler.ErrJobNotFound
	}

	return jobs[0], nil
}

// ClaimDue atomically claims up to limit due jobs, including Running jobs
// whose lease has expired, and returns them already flipped to Running.
func (s *JobStore) ClaimDue(ctx context.Context, now time.Time, leaseUntil time.Time, limit int) ([]scheduler.Job, error) {
	builder := goqu.Dialect(dialectPostgres)

	claimable := builder.From(tableJobs).
		Select(colJobID).
		Where(goqu.Or(
			goqu.And(
				goqu.C(colStatus).In(string(scheduler.StatusPending), string(scheduler.StatusRetrying)),
				goqu.C(colRunAt).Lte(now),
			),
			goqu.And(
				goqu.C(colStatus).Eq(string(scheduler.StatusRunning)),
				goqu.C(colLeaseExpiresAt).IsNotNull(),
				goqu.C(colLeaseExpiresAt).Lte(now),
			),
		)).
		Order(goqu.I(colRunAt).Asc()).
		ForUpdate(exp.SkipLocked)

	if limit > 0 {
		claimable = claimable.Limit(uint(limit))
	}

	updateStmt := builder.Update(tableJobs).
		Set(goqu.Record{
			colStatus:         string(scheduler.StatusRunning),
			colLeaseExpiresAt: leaseUntil,
			colUpdatedAt:      now,
		}).
		Where(goqu.C(colJobID).In(claimable)).
		Returning(colJobID, colKind, colPayload, colSchedule, colRunAt, colStatus, colAttempts, colLastError, colLeaseExpiresAt, colCreatedAt, colUpdatedAt)

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return nil, toSQLErr
	}

	return s.queryJobs(ctx, sqlQuery, opClaimDue, true)
}

// ExtendLease pushes the lease expiry of a Running job.
func (s *JobStore) ExtendLease(ctx context.Context, id uuid.UUID, until time.Time) error {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableJobs).
		Set(goqu.Record{colLeaseExpiresAt: until}).
		Where(
			goqu.Ex{colJobID: id.String()},
			goqu.C(colStatus).Eq(string(scheduler.StatusRunning)),
		).
		ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	_, err := s.exec(ctx, sqlQuery, tableJobs, opExtendLease)

	return err
}

// MarkSucceeded finishes a one-shot job.
func (s *JobStore) MarkSucceeded(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.updateJob(ctx, id, goqu.Record{
		colStatus:         string(scheduler.StatusSucceeded),
		colLeaseExpiresAt: nil,
		colLastError:      "",
		colUpdatedAt:      now,
	}, opMarkSucceeded)
}

// MarkFailed parks the job as Failed.
func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, now time.Time) error {
	return s.updateJob(ctx, id, goqu.Record{
		colStatus:         string(scheduler.StatusFailed),
		colAttempts:       attempts,
		colLastError:      lastError,
		colLeaseExpiresAt: nil,
		colUpdatedAt:      now,
	}, opMarkFailed)
}

// MarkRetrying re-schedules a failed attempt.
func (s *JobStore) MarkRetrying(ctx context.Context, id uuid.UUID, attempts int, lastError string, runAt time.Time, now time.Time) error {
	return s.updateJob(ctx, id, goqu.Record{
		colStatus:         string(scheduler.StatusRetrying),
		colAttempts:       attempts,
		colLastError:      lastError,
		colRunAt:          runAt,
		colLeaseExpiresAt: nil,
		colUpdatedAt:      now,
	}, opMarkRetrying)
}

// Reschedule resets a recurring job to Pending for its next activation.
func (s *JobStore) Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string, now time.Time) error {
	return s.updateJob(ctx, id, goqu.Record{
		colStatus:         string(scheduler.StatusPending),
		colAttempts:       0,
		colLastError:      lastError,
		colRunAt:          runAt,
		colLeaseExpiresAt: nil,
		colUpdatedAt:      now,
	}, opReschedule)
}

// ListByStatus returns up to limit jobs in the given status, oldest RunAt first.
func (s *JobStore) ListByStatus(ctx context.Context, status scheduler.Status, limit int) ([]scheduler.Job, error) {
	stmt := s.selectJobs().
		Where(goqu.Ex{colStatus: string(status)}).
		Order(goqu.I(colRunAt).Asc())

	if limit > 0 {
		stmt = stmt.Limit(uint(limit))
	}

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		return nil, toSQLErr
	}

	return s.queryJobs(ctx, sqlQuery, opListByStatus, false)
}

func (s *JobStore) updateJob(ctx context.Context, id uuid.UUID, record goqu.Record, operation string) error {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableJobs).
		Set(record).
		Where(goqu.Ex{colJobID: id.String()}).
		ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	rowsAffected, err := s.exec(ctx, sqlQuery, tableJobs, operation)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return scheduler.ErrJobNotFound
	}

	return nil
}

func (s *JobStore) selectJobs() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(tableJobs).
		Select(colJobID, colKind, colPayload, colSchedule, colRunAt, colStatus, colAttempts, colLastError, colLeaseExpiresAt, colCreatedAt, colUpdatedAt)
}

func (s *JobStore) queryJobs(ctx context.Context, sqlQuery, operation string, mutating bool) ([]scheduler.Job, error) {
	var (
		rows adapters.DBRows
		err  error
	)

	if mutating {
		rows, err = s.queryPrimary(ctx, sqlQuery, tableJobs, operation)
	} else {
		rows, err = s.query(ctx, sqlQuery, tableJobs, operation)
	}

	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	jobs := make([]scheduler.Job, 0)

	for rows.Next() {
		var (
			job            scheduler.Job
			status         string
			runAt          time.Time
			leaseExpiresAt sql.NullTime
			createdAt      time.Time
			updatedAt      time.Time
		)

		if scanErr := rows.Scan(
			&job.ID,
			&job.Kind,
			&job.Payload,
			&job.Schedule,
			&runAt,
			&status,
			&job.Attempts,
			&job.LastError,
			&leaseExpiresAt,
			&createdAt,
			&updatedAt,
		); scanErr != nil {
			return nil, scanErr
		}

		job.Status = scheduler.Status(status)
		job.RunAt = runAt.UTC()
		job.CreatedAt = createdAt.UTC()
		job.UpdatedAt = updatedAt.UTC()

		if leaseExpiresAt.Valid {
			t := leaseExpiresAt.Time.UTC()
			job.LeaseExpiresAt = &t
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}

func jobRecord(job scheduler.Job) goqu.Record {
	return goqu.Record{
		colJobID:     job.ID.String(),
		colKind:      job.Kind,
		colPayload:   goqu.L(castJsonb, payloadJSON(job.Payload)),
		colSchedule:  job.Schedule,
		colRunAt:     job.RunAt,
		colStatus:    string(job.Status),
		colAttempts:  job.Attempts,
		colLastError: job.LastError,
		colCreatedAt: job.CreatedAt,
		colUpdatedAt: job.UpdatedAt,
	}
}

func payloadJSON(payload []byte) string {
	if len(payload) == 0 {
		return "null"
	}

	return string(payload)
}
