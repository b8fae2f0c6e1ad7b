// Package pool implements the per-alias worker runtimes that own backend
// connections, and the manager that registers them under aliases. Callers
// never hold a connection; they submit operations paired with single-shot
// reply handles and await the reply.
package pool

import (
	"context"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/schema"
)

// OpKind discriminates the operation variants.
type OpKind int

const (
	// OpCreate inserts one record and replies with the stored ID.
	OpCreate OpKind = iota + 1
	// OpFindByID replies with an optional record.
	OpFindByID
	// OpFind replies with a record list for a flat condition list.
	OpFind
	// OpFindWithGroups replies with a record list for a group tree.
	OpFindWithGroups
	// OpUpdate replies with the affected-row count.
	OpUpdate
	// OpUpdateByID replies with a bool.
	OpUpdateByID
	// OpDelete replies with the affected-row count.
	OpDelete
	// OpDeleteByID replies with a bool.
	OpDeleteByID
	// OpCount replies with a uint64.
	OpCount
	// OpExists replies with a bool.
	OpExists
	// OpCreateTable replies with no value.
	OpCreateTable
	// OpCreateIndex replies with no value.
	OpCreateIndex
	// OpTableExists replies with a bool.
	OpTableExists
	// OpDropTable replies with no value.
	OpDropTable
	// OpRawScript executes a user-authored migration script.
	OpRawScript
	// OpBeginTransaction is part of the reserved transaction surface.
	OpBeginTransaction
	// OpCommitTransaction is part of the reserved transaction surface.
	OpCommitTransaction
	// OpRollbackTransaction is part of the reserved transaction surface.
	OpRollbackTransaction
)

// String returns the operation name.
func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpFindByID:
		return "find_by_id"
	case OpFind:
		return "find"
	case OpFindWithGroups:
		return "find_with_groups"
	case OpUpdate:
		return "update"
	case OpUpdateByID:
		return "update_by_id"
	case OpDelete:
		return "delete"
	case OpDeleteByID:
		return "delete_by_id"
	case OpCount:
		return "count"
	case OpExists:
		return "exists"
	case OpCreateTable:
		return "create_table"
	case OpCreateIndex:
		return "create_index"
	case OpTableExists:
		return "table_exists"
	case OpDropTable:
		return "drop_table"
	case OpRawScript:
		return "raw_script"
	case OpBeginTransaction:
		return "begin_transaction"
	case OpCommitTransaction:
		return "commit_transaction"
	case OpRollbackTransaction:
		return "rollback_transaction"
	default:
		return "unknown"
	}
}

// FindResult is the reply payload of OpFindByID.
type FindResult struct {
	Record unidb.Record
	Found  bool
}

// IndexSpec carries an OpCreateIndex request.
type IndexSpec struct {
	Name   string
	Fields []string
	Unique bool
}

// Result is one operation outcome. Value's dynamic type depends on the
// operation kind.
type Result struct {
	Value any
	Err   error
}

// Reply is the single-shot value sink paired with a submitted operation.
// The caller owns it for the duration of one operation; abandoning it
// orphans the result, which the worker then discards.
type Reply struct {
	ch chan Result
}

// NewReply returns a fresh reply handle.
func NewReply() *Reply {
	return &Reply{ch: make(chan Result, 1)}
}

// Resolve delivers the result. The channel is buffered and single-producer,
// so delivery never blocks the worker; an abandoned handle simply holds the
// discarded result until collected.
func (r *Reply) Resolve(res Result) {
	select {
	case r.ch <- res:
	default:
	}
}

// Await blocks until the result arrives, the context expires, or the pool
// closes the handle without a value.
func (r *Reply) Await(ctx context.Context) (any, error) {
	select {
	case res, ok := <-r.ch:
		if !ok {
			return nil, unidb.NewConnectionError("pool response timeout", nil)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Value, nil
	case <-ctx.Done():
		return nil, unidb.NewConnectionError("pool response timeout", ctx.Err())
	}
}

// Operation is one request the pool executes against one of its owned
// connections. Table names every variant; the remaining fields are set per
// kind.
type Operation struct {
	Kind  OpKind
	Table string

	ID     unidb.Value
	Data   unidb.Record
	Conds  []unidb.Condition
	Group  *unidb.Group
	Opts   unidb.QueryOptions
	Schema *schema.TableSchema
	Index  IndexSpec
	Script string

	// Reply receives the outcome. It must not be nil.
	Reply *Reply
}
