// Package postgresengine provides the PostgreSQL implementations of the
// lending store contracts (lending.InventoryLedger, lending.LoanStore) and
// the scheduler queue (scheduler.JobStore).
//
// All invariants are enforced in single SQL statements so they hold under
// concurrent access without client-side locking: copy reservation is a
// conditional decrement, loan transitions are conditional updates from the
// legal source states, the per-borrower loan limit is a count-guarded insert,
// and job claims use FOR UPDATE SKIP LOCKED so two workers never claim the
// same job.
//
// Each store works with pgxpool.Pool, sql.DB, or sqlx.DB through dedicated
// constructors; the SQL is built with goqu and fully interpolated before it
// reaches the driver.
package postgresengine
