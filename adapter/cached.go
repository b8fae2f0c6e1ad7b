package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/cache"
	"github.com/syssam/unidb/schema"
)

// maxCachedQueryBytes is the ceiling above which query results are not
// memoised.
const maxCachedQueryBytes = 256 << 10

// Cached wraps a backend adapter with read-through caching and
// write-through invalidation. The adapter and the cache manager know
// nothing about each other; the decorator owns both arrows.
type Cached struct {
	inner Adapter
	cache *cache.Manager
}

// NewCached decorates inner with the given cache manager. A nil manager
// returns inner unchanged.
func NewCached(inner Adapter, m *cache.Manager) Adapter {
	if m == nil {
		return inner
	}
	return &Cached{inner: inner, cache: m}
}

var _ Adapter = (*Cached)(nil)

// Backend returns the wrapped adapter's backend tag.
func (c *Cached) Backend() string { return c.inner.Backend() }

// Connect passes through.
func (c *Cached) Connect(ctx context.Context, cfg *unidb.DatabaseConfig) (Conn, error) {
	return c.inner.Connect(ctx, cfg)
}

// recordKey addresses a single record: {tag}:{table}:record:{id}.
func (c *Cached) recordKey(table string, id unidb.Value) string {
	return fmt.Sprintf("%s:%s:record:%s", c.inner.Backend(), table, id.String())
}

// queryKey addresses one query shape: {tag}:{table}:query:{signature}.
func (c *Cached) queryKey(table, signature string) string {
	return fmt.Sprintf("%s:%s:query:%s", c.inner.Backend(), table, signature)
}

func (c *Cached) recordPrefix(table string) string {
	return fmt.Sprintf("%s:%s:record:", c.inner.Backend(), table)
}

func (c *Cached) queryPrefix(table string) string {
	return fmt.Sprintf("%s:%s:query:", c.inner.Backend(), table)
}

// querySignature is stable across equal queries: pagination, sort,
// projection and the canonical hash of the condition tree.
func querySignature(group unidb.Group, opts unidb.QueryOptions) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("p%d_%d", opts.Skip, opts.Limit))
	if len(opts.Sort) > 0 {
		var sb strings.Builder
		sb.WriteString("s")
		for i, s := range opts.Sort {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(s.Field)
			if s.Direction == unidb.Desc {
				sb.WriteString("d")
			} else {
				sb.WriteString("a")
			}
		}
		parts = append(parts, sb.String())
	}
	if len(opts.Fields) > 0 {
		parts = append(parts, "f"+strings.Join(opts.Fields, ","))
	}
	parts = append(parts, fmt.Sprintf("h%016x", group.Hash()))
	return strings.Join(parts, "_")
}

// Create passes through; stale query results for the table are dropped
// while record entries are retained.
func (c *Cached) Create(ctx context.Context, conn Conn, table string, data unidb.Record) (unidb.Value, error) {
	id, err := c.inner.Create(ctx, conn, table, data)
	if err != nil {
		return id, err
	}
	c.cache.ClearByPrefix(c.queryPrefix(table))
	return id, nil
}

// FindByID consults the record key before touching the backend; misses are
// memoised with a negative entry.
func (c *Cached) FindByID(ctx context.Context, conn Conn, table string, id unidb.Value) (unidb.Record, bool, error) {
	key := c.recordKey(table, id)
	if hit, payload := c.cache.Get(key); hit {
		if payload == nil {
			return nil, false, nil
		}
		var rec unidb.Record
		if err := msgpack.Unmarshal(payload, &rec); err == nil {
			return rec, true, nil
		}
		// A corrupt entry degrades to a miss.
		c.cache.Delete(key)
	}
	rec, found, err := c.inner.FindByID(ctx, conn, table, id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		c.cache.Set(key, nil, 0)
		return nil, false, nil
	}
	if payload, err := msgpack.Marshal(rec); err == nil {
		c.cache.Set(key, payload, 0)
	}
	return rec, true, nil
}

// Find consults the query key derived from the flat condition list.
func (c *Cached) Find(ctx context.Context, conn Conn, table string, conds []unidb.Condition, opts unidb.QueryOptions) ([]unidb.Record, error) {
	return c.findCached(table, unidb.GroupOf(conds), opts, func() ([]unidb.Record, error) {
		return c.inner.Find(ctx, conn, table, conds, opts)
	})
}

// FindWithGroups consults the query key derived from the group tree.
func (c *Cached) FindWithGroups(ctx context.Context, conn Conn, table string, group unidb.Group, opts unidb.QueryOptions) ([]unidb.Record, error) {
	return c.findCached(table, group, opts, func() ([]unidb.Record, error) {
		return c.inner.FindWithGroups(ctx, conn, table, group, opts)
	})
}

func (c *Cached) findCached(table string, group unidb.Group, opts unidb.QueryOptions, exec func() ([]unidb.Record, error)) ([]unidb.Record, error) {
	key := c.queryKey(table, querySignature(group, opts))
	if hit, payload := c.cache.Get(key); hit && payload != nil {
		var recs []unidb.Record
		if err := msgpack.Unmarshal(payload, &recs); err == nil {
			return recs, nil
		}
		c.cache.Delete(key)
	}
	recs, err := exec()
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		if payload, err := msgpack.Marshal(recs); err == nil && len(payload) <= maxCachedQueryBytes {
			c.cache.Set(key, payload, 0)
		}
	}
	return recs, nil
}

// Update passes through; affected rows invalidate the table's query keys.
func (c *Cached) Update(ctx context.Context, conn Conn, table string, conds []unidb.Condition, data unidb.Record) (int64, error) {
	n, err := c.inner.Update(ctx, conn, table, conds, data)
	if err != nil {
		return n, err
	}
	if n > 0 {
		c.cache.ClearByPrefix(c.queryPrefix(table))
	}
	return n, nil
}

// UpdateByID passes through; success invalidates the specific record key
// and the table's query keys.
func (c *Cached) UpdateByID(ctx context.Context, conn Conn, table string, id unidb.Value, data unidb.Record) (bool, error) {
	ok, err := c.inner.UpdateByID(ctx, conn, table, id, data)
	if err != nil {
		return ok, err
	}
	if ok {
		c.cache.Delete(c.recordKey(table, id))
		c.cache.ClearByPrefix(c.queryPrefix(table))
	}
	return ok, nil
}

// Delete passes through; affected rows invalidate both key spaces.
func (c *Cached) Delete(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (int64, error) {
	n, err := c.inner.Delete(ctx, conn, table, conds)
	if err != nil {
		return n, err
	}
	if n > 0 {
		c.cache.ClearByPrefix(c.recordPrefix(table))
		c.cache.ClearByPrefix(c.queryPrefix(table))
	}
	return n, nil
}

// DeleteByID passes through; success invalidates the specific record key
// and the table's query keys.
func (c *Cached) DeleteByID(ctx context.Context, conn Conn, table string, id unidb.Value) (bool, error) {
	ok, err := c.inner.DeleteByID(ctx, conn, table, id)
	if err != nil {
		return ok, err
	}
	if ok {
		c.cache.Delete(c.recordKey(table, id))
		c.cache.ClearByPrefix(c.queryPrefix(table))
	}
	return ok, nil
}

// Count passes through without caching: cheap, and prone to staleness
// after writes.
func (c *Cached) Count(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (uint64, error) {
	return c.inner.Count(ctx, conn, table, conds)
}

// Exists passes through without caching.
func (c *Cached) Exists(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (bool, error) {
	return c.inner.Exists(ctx, conn, table, conds)
}

// CreateTable passes through.
func (c *Cached) CreateTable(ctx context.Context, conn Conn, ts *schema.TableSchema) error {
	return c.inner.CreateTable(ctx, conn, ts)
}

// CreateIndex passes through.
func (c *Cached) CreateIndex(ctx context.Context, conn Conn, table, name string, fields []string, unique bool) error {
	return c.inner.CreateIndex(ctx, conn, table, name, fields, unique)
}

// TableExists passes through.
func (c *Cached) TableExists(ctx context.Context, conn Conn, table string) (bool, error) {
	return c.inner.TableExists(ctx, conn, table)
}

// DropTable passes through; both key spaces for the table are dropped.
func (c *Cached) DropTable(ctx context.Context, conn Conn, table string) error {
	if err := c.inner.DropTable(ctx, conn, table); err != nil {
		return err
	}
	c.cache.ClearByPrefix(c.recordPrefix(table))
	c.cache.ClearByPrefix(c.queryPrefix(table))
	return nil
}
