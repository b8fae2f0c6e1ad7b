// Package dialect names the supported backends and defines the minimal
// execution interfaces the adapters drive their connections through.
package dialect

import "context"

// Backend tags. The three SQL tags double as database/sql driver names for
// the drivers this module wires in (modernc sqlite, go-sql-driver/mysql,
// lib/pq registered as "postgres").
const (
	// SQLite is the embedded file-backed SQL backend.
	SQLite = "sqlite"
	// MySQL is the mysql-style network SQL backend.
	MySQL = "mysql"
	// Postgres is the postgres-style network SQL backend.
	Postgres = "postgres"
	// MongoDB is the document backend.
	MongoDB = "mongodb"
)

// IsSQL reports whether the backend tag names one of the SQL families.
func IsSQL(backend string) bool {
	return backend == SQLite || backend == MySQL || backend == Postgres
}

// ExecQuerier is the exec/query surface adapters run statements through.
// The args value is a []any parameter vector; v receives *sql.Result for
// Exec and *sql.Rows (via the sql package's Rows wrapper) for Query.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the database abstraction a pool worker owns. Exactly one worker
// drives a Driver at a time; drivers are never handed to callers.
type Driver interface {
	ExecQuerier
	// Close releases the underlying connection.
	Close() error
	// Dialect returns the backend tag.
	Dialect() string
}
