// Package odm is the request-object front door: it routes each call into
// the appropriate pool's operation channel and awaits the reply. The
// foreign-language bridge drives the same surface with string-encoded
// payloads.
package odm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/pool"
	"github.com/syssam/unidb/schema"
	"github.com/syssam/unidb/schema/field"
	"github.com/syssam/unidb/schema/index"
)

// request is one unit of work for the dispatcher loop.
type request struct {
	alias string
	op    *pool.Operation
}

// ODM is the single entry point callers use. It owns a dedicated dispatch
// task so a caller blocked awaiting a reply never occupies a pool slot.
type ODM struct {
	manager *pool.Manager
	schemas *schema.Manager
	logger  *slog.Logger

	mu           sync.RWMutex
	defaultAlias string

	requests chan request
	done     chan struct{}
	wg       sync.WaitGroup
	shutOnce sync.Once
}

// Option configures the ODM.
type Option func(*ODM)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *ODM) { o.logger = l }
}

// WithDefaultAlias declares the caller-level default alias, consulted
// after an explicit per-call alias and before the manager's default.
func WithDefaultAlias(alias string) Option {
	return func(o *ODM) { o.defaultAlias = alias }
}

// New returns an ODM over the given pool manager and schema manager, with
// its dispatch loop running.
func New(manager *pool.Manager, schemas *schema.Manager, opts ...Option) *ODM {
	o := &ODM{
		manager:  manager,
		schemas:  schemas,
		logger:   slog.Default(),
		requests: make(chan request, 128),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.wg.Add(1)
	go o.dispatchLoop()
	return o
}

// SetDefaultAlias changes the caller-level default alias.
func (o *ODM) SetDefaultAlias(alias string) {
	o.mu.Lock()
	o.defaultAlias = alias
	o.mu.Unlock()
}

// Manager returns the underlying pool manager.
func (o *ODM) Manager() *pool.Manager { return o.manager }

// Schemas returns the schema manager.
func (o *ODM) Schemas() *schema.Manager { return o.schemas }

// Shutdown stops the dispatch loop and shuts the pool manager down.
func (o *ODM) Shutdown() {
	o.shutOnce.Do(func() {
		close(o.done)
		o.wg.Wait()
		o.manager.Shutdown()
	})
}

// dispatchLoop forwards requests into their target pools. Submission
// failures resolve the reply immediately so callers never hang.
func (o *ODM) dispatchLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case req := <-o.requests:
			p, err := o.manager.Get(req.alias)
			if err != nil {
				req.op.Reply.Resolve(pool.Result{Err: err})
				continue
			}
			if err := p.Submit(req.op); err != nil {
				req.op.Reply.Resolve(pool.Result{Err: err})
			}
		}
	}
}

// resolveAlias applies the resolution order: explicit argument, then the
// caller's declared default, then the manager's default.
func (o *ODM) resolveAlias(opts *unidb.OperationOptions) (string, error) {
	explicit := ""
	if opts != nil {
		explicit = opts.Alias
	}
	if explicit == "" {
		o.mu.RLock()
		explicit = o.defaultAlias
		o.mu.RUnlock()
	}
	return o.manager.ResolveAlias(explicit)
}

// call routes one operation and awaits its reply.
func (o *ODM) call(ctx context.Context, alias string, op *pool.Operation) (any, error) {
	op.Reply = pool.NewReply()
	select {
	case o.requests <- request{alias: alias, op: op}:
	case <-o.done:
		return nil, unidb.NewConnectionError("operation channel closed", nil)
	case <-ctx.Done():
		return nil, unidb.NewConnectionError("operation channel closed", ctx.Err())
	}
	return op.Reply.Await(ctx)
}

// ensureSchema creates a registered table and its indexes before first use.
// Failures are logged but do not block the call; the adapter's auto-DDL
// path will try again.
func (o *ODM) ensureSchema(ctx context.Context, alias, table string) {
	if o.schemas == nil {
		return
	}
	ddl := &ddlRunner{odm: o, alias: alias}
	if err := o.schemas.EnsureTableAndIndexes(ctx, ddl, alias, table); err != nil {
		o.logger.Warn("ensure table and indexes failed", "alias", alias, "table", table, "error", err)
	}
}

// RegisterModel records a model schema. Table names are the caller's
// choice; schema.TableName derives one from a model name conventionally.
func (o *ODM) RegisterModel(meta *schema.ModelMeta) error {
	if o.schemas == nil {
		return unidb.NewConfigError("no schema manager configured")
	}
	return o.schemas.Register(meta)
}

// Create inserts one record and returns the stored ID. Client-side ID
// strategies generate the ID before insert; a caller-provided id is
// validated against the alias's declared strategy first.
func (o *ODM) Create(ctx context.Context, table string, data unidb.Record, opts *unidb.OperationOptions) (unidb.Value, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return unidb.Null(), err
	}
	gen, err := o.manager.Generator(alias)
	if err != nil {
		return unidb.Null(), err
	}
	if id, ok := data["id"]; ok {
		if err := gen.Validate(id); err != nil {
			return unidb.Null(), err
		}
	} else if gen.Strategy() != unidb.IDAutoIncrement {
		id, err := gen.Generate()
		if err != nil {
			return unidb.Null(), err
		}
		clone := make(unidb.Record, len(data)+1)
		for k, v := range data {
			clone[k] = v
		}
		clone["id"] = id
		data = clone
	}
	if o.schemas != nil {
		if err := o.schemas.ValidateRecord(alias, table, data); err != nil {
			return unidb.Null(), err
		}
	}
	o.ensureSchema(ctx, alias, table)
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpCreate,
		Table: table,
		Data:  data,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return unidb.Null(), err
	}
	return unwrapID(res), nil
}

// unwrapID extracts the ID from a create reply: either the raw ID value or
// an object carrying an id or _id field.
func unwrapID(res any) unidb.Value {
	v, ok := res.(unidb.Value)
	if !ok {
		return unidb.Null()
	}
	if obj, isObj := v.AsObject(); isObj {
		if id, ok := obj["id"]; ok {
			return id
		}
		if id, ok := obj["_id"]; ok {
			return id
		}
	}
	return v
}

// callOpts converts operation options into query options for timeout
// propagation.
func callOpts(opts *unidb.OperationOptions) unidb.QueryOptions {
	if opts == nil {
		return unidb.QueryOptions{}
	}
	return unidb.QueryOptions{Timeout: opts.Timeout}
}

// FindByID returns the record with the given ID, if present.
func (o *ODM) FindByID(ctx context.Context, table string, id unidb.Value, opts *unidb.OperationOptions) (unidb.Record, bool, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return nil, false, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpFindByID,
		Table: table,
		ID:    id,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return nil, false, err
	}
	fr, ok := res.(pool.FindResult)
	if !ok {
		return nil, false, unidb.NewSerializationError(fmt.Sprintf("unexpected reply type %T", res), nil)
	}
	return fr.Record, fr.Found, nil
}

// Find returns the records matching a flat condition list.
func (o *ODM) Find(ctx context.Context, table string, conds []unidb.Condition, qopts unidb.QueryOptions, opts *unidb.OperationOptions) ([]unidb.Record, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return nil, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpFind,
		Table: table,
		Conds: conds,
		Opts:  qopts,
	})
	if err != nil {
		return nil, err
	}
	recs, _ := res.([]unidb.Record)
	return recs, nil
}

// FindWithGroups returns the records matching a condition group tree.
func (o *ODM) FindWithGroups(ctx context.Context, table string, group unidb.Group, qopts unidb.QueryOptions, opts *unidb.OperationOptions) ([]unidb.Record, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return nil, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpFindWithGroups,
		Table: table,
		Group: &group,
		Opts:  qopts,
	})
	if err != nil {
		return nil, err
	}
	recs, _ := res.([]unidb.Record)
	return recs, nil
}

// Update applies the value map to every matching record and returns the
// affected count.
func (o *ODM) Update(ctx context.Context, table string, conds []unidb.Condition, data unidb.Record, opts *unidb.OperationOptions) (int64, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return 0, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpUpdate,
		Table: table,
		Conds: conds,
		Data:  data,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	return n, nil
}

// UpdateByID applies the value map to the record with the given ID.
func (o *ODM) UpdateByID(ctx context.Context, table string, id unidb.Value, data unidb.Record, opts *unidb.OperationOptions) (bool, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return false, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpUpdateByID,
		Table: table,
		ID:    id,
		Data:  data,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// Delete removes every matching record and returns the affected count.
func (o *ODM) Delete(ctx context.Context, table string, conds []unidb.Condition, opts *unidb.OperationOptions) (int64, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return 0, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpDelete,
		Table: table,
		Conds: conds,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	return n, nil
}

// DeleteByID removes the record with the given ID.
func (o *ODM) DeleteByID(ctx context.Context, table string, id unidb.Value, opts *unidb.OperationOptions) (bool, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return false, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpDeleteByID,
		Table: table,
		ID:    id,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// Count returns the number of matching records.
func (o *ODM) Count(ctx context.Context, table string, conds []unidb.Condition, opts *unidb.OperationOptions) (uint64, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return 0, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpCount,
		Table: table,
		Conds: conds,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return 0, err
	}
	n, _ := res.(uint64)
	return n, nil
}

// Exists reports whether any record matches.
func (o *ODM) Exists(ctx context.Context, table string, conds []unidb.Condition, opts *unidb.OperationOptions) (bool, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return false, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpExists,
		Table: table,
		Conds: conds,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// CreateTable creates a table from declared field definitions.
func (o *ODM) CreateTable(ctx context.Context, table string, fields map[string]*field.Descriptor, opts *unidb.OperationOptions) error {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return err
	}
	_, err = o.call(ctx, alias, &pool.Operation{
		Kind:   pool.OpCreateTable,
		Table:  table,
		Schema: schema.FromFields(table, fields),
		Opts:   callOpts(opts),
	})
	return err
}

// CreateIndex creates a secondary index.
func (o *ODM) CreateIndex(ctx context.Context, table string, idx index.Descriptor, opts *unidb.OperationOptions) error {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return err
	}
	name := idx.Name
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", table, strings.Join(idx.Fields, "_"))
	}
	_, err = o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpCreateIndex,
		Table: table,
		Index: pool.IndexSpec{Name: name, Fields: idx.Fields, Unique: idx.Unique},
		Opts:  callOpts(opts),
	})
	return err
}

// TableExists reports whether the table is present.
func (o *ODM) TableExists(ctx context.Context, table string, opts *unidb.OperationOptions) (bool, error) {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return false, err
	}
	res, err := o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpTableExists,
		Table: table,
		Opts:  callOpts(opts),
	})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// DropTable removes the table.
func (o *ODM) DropTable(ctx context.Context, table string, opts *unidb.OperationOptions) error {
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return err
	}
	_, err = o.call(ctx, alias, &pool.Operation{
		Kind:  pool.OpDropTable,
		Table: table,
		Opts:  callOpts(opts),
	})
	return err
}

// MigrateTo walks the table's version log to the target version,
// executing recorded scripts through the alias's pool.
func (o *ODM) MigrateTo(ctx context.Context, table string, target int, opts *unidb.OperationOptions) error {
	if o.schemas == nil {
		return unidb.NewConfigError("no schema manager configured")
	}
	alias, err := o.resolveAlias(opts)
	if err != nil {
		return err
	}
	runner := &ddlRunner{odm: o, alias: alias}
	return o.schemas.Versions(table).MigrateTo(ctx, runner, target)
}

// ddlRunner adapts the dispatcher to the schema manager's DDL and Runner
// contracts by routing operations through the target pool.
type ddlRunner struct {
	odm   *ODM
	alias string
}

// TableExists implements schema.DDL.
func (d *ddlRunner) TableExists(ctx context.Context, table string) (bool, error) {
	res, err := d.odm.call(ctx, d.alias, &pool.Operation{Kind: pool.OpTableExists, Table: table})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// CreateTable implements schema.DDL.
func (d *ddlRunner) CreateTable(ctx context.Context, ts *schema.TableSchema) error {
	_, err := d.odm.call(ctx, d.alias, &pool.Operation{Kind: pool.OpCreateTable, Table: ts.Table, Schema: ts})
	return err
}

// CreateIndex implements schema.DDL.
func (d *ddlRunner) CreateIndex(ctx context.Context, table, name string, fields []string, unique bool) error {
	_, err := d.odm.call(ctx, d.alias, &pool.Operation{
		Kind:  pool.OpCreateIndex,
		Table: table,
		Index: pool.IndexSpec{Name: name, Fields: fields, Unique: unique},
	})
	return err
}

// RunScript implements schema.Runner.
func (d *ddlRunner) RunScript(ctx context.Context, script string, _ schema.ScriptKind) error {
	_, err := d.odm.call(ctx, d.alias, &pool.Operation{Kind: pool.OpRawScript, Script: script})
	return err
}
