package pool

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/adapter"
	"github.com/syssam/unidb/cache"
	"github.com/syssam/unidb/dialect"
)

// Pool is the submission contract both worker designs satisfy. A pool
// exclusively owns its connections; submitting hands an operation to one of
// them and the reply handle carries the outcome.
type Pool interface {
	// Submit enqueues the operation. It returns an error only when the
	// operation could not be accepted (no capacity, closed pool);
	// execution outcomes arrive on the operation's reply handle.
	Submit(op *Operation) error
	// HealthCheck attempts a trivial operation against the backend.
	HealthCheck(ctx context.Context) bool
	// Maintain recycles expired workers; the manager calls it
	// periodically.
	Maintain(ctx context.Context)
	// Stats returns a snapshot of the pool counters.
	Stats() Stats
	// Cache returns the pool's cache manager, or nil.
	Cache() *cache.Manager
	// Backend returns the backend tag.
	Backend() string
	// Close tears the pool down. Workers finish their current operation
	// and exit; outstanding reply handles resolve to a connection error.
	Close()
}

// Stats is a snapshot of a pool's operation counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	InFlight  int64
}

// counters is the shared mutable statistics block.
type counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		InFlight:  c.inFlight.Load(),
	}
}

// New builds the pool for one alias: a single serializer worker for the
// embedded backend, a bounded worker set for the network backends. The
// adapter is wrapped with the cached decorator when the alias enables a
// cache.
func New(cfg *unidb.DatabaseConfig, logger *slog.Logger) (Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("alias", cfg.Alias, "backend", cfg.Backend)
	ad, err := adapter.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	cm, err := cache.NewManager(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	ad = adapter.NewCached(ad, cm)
	norm := *cfg
	norm.Pool = cfg.Pool.WithDefaults()
	if cfg.Backend == dialect.SQLite {
		return newSerializerPool(&norm, ad, cm, logger)
	}
	return newBoundedPool(&norm, ad, cm, logger)
}

// execute dispatches one operation to the adapter on the worker's
// connection. The context carries the per-operation timeout; it is derived
// from the pool, never from the caller, because dropping a reply handle
// does not cancel in-flight driver calls.
func execute(ctx context.Context, ad adapter.Adapter, conn adapter.Conn, op *Operation) Result {
	switch op.Kind {
	case OpCreate:
		id, err := ad.Create(ctx, conn, op.Table, op.Data)
		return Result{Value: id, Err: err}
	case OpFindByID:
		rec, found, err := ad.FindByID(ctx, conn, op.Table, op.ID)
		return Result{Value: FindResult{Record: rec, Found: found}, Err: err}
	case OpFind:
		recs, err := ad.Find(ctx, conn, op.Table, op.Conds, op.Opts)
		return Result{Value: recs, Err: err}
	case OpFindWithGroups:
		var g unidb.Group
		if op.Group != nil {
			g = *op.Group
		}
		recs, err := ad.FindWithGroups(ctx, conn, op.Table, g, op.Opts)
		return Result{Value: recs, Err: err}
	case OpUpdate:
		n, err := ad.Update(ctx, conn, op.Table, op.Conds, op.Data)
		return Result{Value: n, Err: err}
	case OpUpdateByID:
		ok, err := ad.UpdateByID(ctx, conn, op.Table, op.ID, op.Data)
		return Result{Value: ok, Err: err}
	case OpDelete:
		n, err := ad.Delete(ctx, conn, op.Table, op.Conds)
		return Result{Value: n, Err: err}
	case OpDeleteByID:
		ok, err := ad.DeleteByID(ctx, conn, op.Table, op.ID)
		return Result{Value: ok, Err: err}
	case OpCount:
		n, err := ad.Count(ctx, conn, op.Table, op.Conds)
		return Result{Value: n, Err: err}
	case OpExists:
		ok, err := ad.Exists(ctx, conn, op.Table, op.Conds)
		return Result{Value: ok, Err: err}
	case OpCreateTable:
		return Result{Err: ad.CreateTable(ctx, conn, op.Schema)}
	case OpCreateIndex:
		return Result{Err: ad.CreateIndex(ctx, conn, op.Table, op.Index.Name, op.Index.Fields, op.Index.Unique)}
	case OpTableExists:
		ok, err := ad.TableExists(ctx, conn, op.Table)
		return Result{Value: ok, Err: err}
	case OpDropTable:
		return Result{Err: ad.DropTable(ctx, conn, op.Table)}
	case OpRawScript:
		return Result{Err: runRawScript(ctx, conn, op.Script)}
	case OpBeginTransaction, OpCommitTransaction, OpRollbackTransaction:
		return Result{Err: unidb.NewQueryError("transactions are not supported", nil)}
	}
	return Result{Err: unidb.NewQueryError("unknown operation kind", nil)}
}

// runRawScript executes a migration script verbatim. Only the SQL backends
// accept raw scripts.
func runRawScript(ctx context.Context, conn adapter.Conn, script string) error {
	ex, ok := conn.(interface {
		Exec(ctx context.Context, query string, args, v any) error
	})
	if !ok {
		return unidb.NewQueryError("raw scripts are only supported on SQL backends", nil)
	}
	if err := ex.Exec(ctx, script, []any{}, nil); err != nil {
		return unidb.NewQueryError(err.Error(), err)
	}
	return nil
}

// opTimeout resolves the driver timeout for one operation.
func opTimeout(cfg *unidb.DatabaseConfig, op *Operation) (context.Context, context.CancelFunc) {
	timeout := cfg.Pool.OperationTimeout
	if op.Opts.Timeout > 0 {
		timeout = op.Opts.Timeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
