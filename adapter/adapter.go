// Package adapter translates the abstract database operations into
// driver calls for each of the four backends, and back again into the
// shared value model.
package adapter

import (
	"context"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/dialect"
	"github.com/syssam/unidb/schema"
)

// Conn is one backend connection, owned by exactly one pool worker.
// Adapters type-assert the concrete connection they were built for.
type Conn interface {
	// Ping probes connection liveness.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}

// Adapter is the uniform operation contract every backend implements.
// Implementations are stateful per pool: they remember which tables the
// auto-DDL path has already ensured.
type Adapter interface {
	// Backend returns the backend tag.
	Backend() string

	// Connect establishes one new connection from the configuration.
	Connect(ctx context.Context, cfg *unidb.DatabaseConfig) (Conn, error)

	Create(ctx context.Context, conn Conn, table string, data unidb.Record) (unidb.Value, error)
	FindByID(ctx context.Context, conn Conn, table string, id unidb.Value) (unidb.Record, bool, error)
	Find(ctx context.Context, conn Conn, table string, conds []unidb.Condition, opts unidb.QueryOptions) ([]unidb.Record, error)
	FindWithGroups(ctx context.Context, conn Conn, table string, group unidb.Group, opts unidb.QueryOptions) ([]unidb.Record, error)
	Update(ctx context.Context, conn Conn, table string, conds []unidb.Condition, data unidb.Record) (int64, error)
	UpdateByID(ctx context.Context, conn Conn, table string, id unidb.Value, data unidb.Record) (bool, error)
	Delete(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (int64, error)
	DeleteByID(ctx context.Context, conn Conn, table string, id unidb.Value) (bool, error)
	Count(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (uint64, error)
	Exists(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (bool, error)

	CreateTable(ctx context.Context, conn Conn, ts *schema.TableSchema) error
	CreateIndex(ctx context.Context, conn Conn, table, name string, fields []string, unique bool) error
	TableExists(ctx context.Context, conn Conn, table string) (bool, error)
	DropTable(ctx context.Context, conn Conn, table string) error
}

// New returns a fresh adapter for the backend tag.
func New(backend string) (Adapter, error) {
	switch backend {
	case dialect.SQLite, dialect.Postgres, dialect.MySQL:
		return newSQLAdapter(backend), nil
	case dialect.MongoDB:
		return newMongoAdapter(), nil
	default:
		return nil, unidb.NewUnsupportedDatabaseError(backend)
	}
}
