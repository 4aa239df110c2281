// Package adapters provides database adapter implementations for the
// PostgreSQL storage engine.
//
// The engine builds fully interpolated SQL and hands it to a DBAdapter, so
// the same store code runs against pgxpool.Pool, sql.DB, and sqlx.DB. The
// adapters handle the specifics of each database library while presenting a
// unified interface for query execution and result handling.
package adapters
