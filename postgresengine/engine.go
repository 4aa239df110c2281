package postgresengine

import (
	"context"
	"errors"
	"time"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import

	"github.com/circulib/lending-engine-go/postgresengine/internal/adapters"
)

const (
	dialectPostgres = "postgres"

	tableItems = "items"
	tableLoans = "loans"
	tableJobs  = "scheduled_jobs"

	cteContext = "context"

	castNumeric   = "?::numeric"
	castJsonb     = "?::jsonb"
	castTimestamp = "?::timestamp with time zone"
)

const (
	logMsgSQLExecuted = "executed sql for: "
	logAttrError      = "error"
	logAttrQuery      = "query"
	logAttrDurationMS = "duration_ms"

	metricSQLDuration = "lending_sql_duration"
	labelTable        = "table"
	labelOperation    = "operation"
)

var (
	// ErrNilDatabaseConnection is returned by the constructors when the
	// database handle is nil.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrQueryFailed wraps driver errors from row-returning statements.
	ErrQueryFailed = errors.New("database query execution failed")

	// ErrExecFailed wraps driver errors from mutating statements.
	ErrExecFailed = errors.New("database execution failed")
)

// Logger interface for SQL query logging, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting storage performance metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// engine bundles the database adapter with the observability hooks shared by
// all three stores.
type engine struct {
	db      adapters.DBAdapter
	logger  Logger
	metrics MetricsCollector
}

// Option defines a functional option shared by all store constructors.
type Option func(*engine) error

// WithLogger sets the logger. It receives SQL statements with execution
// timing at debug level and operational warnings and errors above that.
func WithLogger(logger Logger) Option {
	return func(e *engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector. It receives per-statement
// durations labeled with table and operation.
func WithMetrics(collector MetricsCollector) Option {
	return func(e *engine) error {
		e.metrics = collector
		return nil
	}
}

func newEngine(db adapters.DBAdapter, options ...Option) (engine, error) {
	e := engine{db: db}

	for _, option := range options {
		if err := option(&e); err != nil {
			return engine{}, err
		}
	}

	return e, nil
}

// query runs a row-returning statement, preferring a replica when one is
// configured on the adapter.
func (e engine) query(ctx context.Context, sqlQuery, table, operation string) (adapters.DBRows, error) {
	start := time.Now()
	rows, err := e.db.Query(ctx, sqlQuery)
	e.observe(sqlQuery, table, operation, time.Since(start))

	if err != nil {
		e.logError(operation, err, sqlQuery)
		return nil, errors.Join(ErrQueryFailed, err)
	}

	return rows, nil
}

// queryPrimary runs a row-returning statement that mutates state and must
// therefore hit the primary.
func (e engine) queryPrimary(ctx context.Context, sqlQuery, table, operation string) (adapters.DBRows, error) {
	start := time.Now()
	rows, err := e.db.QueryPrimary(ctx, sqlQuery)
	e.observe(sqlQuery, table, operation, time.Since(start))

	if err != nil {
		e.logError(operation, err, sqlQuery)
		return nil, errors.Join(ErrExecFailed, err)
	}

	return rows, nil
}

// exec runs a mutating statement and returns the affected row count.
func (e engine) exec(ctx context.Context, sqlQuery, table, operation string) (int64, error) {
	start := time.Now()
	result, err := e.db.Exec(ctx, sqlQuery)
	e.observe(sqlQuery, table, operation, time.Since(start))

	if err != nil {
		e.logError(operation, err, sqlQuery)
		return 0, errors.Join(ErrExecFailed, err)
	}

	rowsAffected, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		e.logError(operation, affectedErr, sqlQuery)
		return 0, errors.Join(ErrExecFailed, affectedErr)
	}

	return rowsAffected, nil
}

func (e engine) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil && e.logger != nil {
		e.logger.Warn("failed to close database rows", logAttrError, closeErr.Error())
	}
}

func (e engine) observe(sqlQuery, table, operation string, duration time.Duration) {
	if e.logger != nil {
		e.logger.Debug(logMsgSQLExecuted+operation,
			logAttrQuery, sqlQuery,
			logAttrDurationMS, float64(duration.Microseconds())/1000.0)
	}

	if e.metrics != nil {
		e.metrics.RecordDuration(metricSQLDuration, duration, map[string]string{
			labelTable:     table,
			labelOperation: operation,
		})
	}
}

func (e engine) logError(operation string, err error, sqlQuery string) {
	if e.logger != nil {
		e.logger.Error("statement failed: "+operation, logAttrError, err.Error(), logAttrQuery, sqlQuery)
	}
}

func (e engine) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}
