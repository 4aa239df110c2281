package postgresengine

import _ "embed"

//go:embed schema.sql
var schemaDDL string

// Schema returns the DDL for all tables and indexes the engine needs. The
// statements are idempotent (IF NOT EXISTS) and safe to run on every start.
func Schema() string {
	return schemaDDL
}
