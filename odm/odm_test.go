package odm_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/dialect"
	"github.com/syssam/unidb/odm"
	"github.com/syssam/unidb/pool"
	"github.com/syssam/unidb/schema"
	"github.com/syssam/unidb/schema/field"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestODM registers one embedded-file alias named "default" with the
// auto-increment strategy.
func newTestODM(t *testing.T, cache *unidb.CacheConfig) *odm.ODM {
	t.Helper()
	mgr := pool.NewManager(testLogger())
	cfg := &unidb.DatabaseConfig{
		Alias:   "default",
		Backend: dialect.SQLite,
		Connection: unidb.ConnectionSpec{
			SQLite: &unidb.SQLiteSpec{
				Path:            filepath.Join(t.TempDir(), "t1.db"),
				CreateIfMissing: true,
			},
		},
		IDStrategy: unidb.IDAutoIncrement,
		Cache:      cache,
	}
	require.NoError(t, mgr.Add(cfg))
	o := odm.New(mgr, schema.NewManager(), odm.WithLogger(testLogger()))
	t.Cleanup(o.Shutdown)
	return o
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return c
}

// TestCreateAndFindByID is scenario S1: create returns id 1 and the read
// back record remaps the boolean-conventional integer column.
func TestCreateAndFindByID(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	id, err := o.Create(c, "users", unidb.Record{
		"name":   unidb.String("a"),
		"active": unidb.Bool(true),
	}, nil)
	require.NoError(t, err)
	assert.True(t, id.Equal(unidb.Int(1)), "first auto-increment id is 1, got %s", id)

	rec, found, err := o.FindByID(c, "users", id, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec["id"].Equal(unidb.Int(1)))
	assert.True(t, rec["name"].Equal(unidb.String("a")))
	assert.True(t, rec["active"].Equal(unidb.Bool(true)), "integer 1 under a boolean-conventional name reads back as a boolean")
}

// TestFindWithConditions is scenario S2.
func TestFindWithConditions(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	_, err := o.Create(c, "users", unidb.Record{"name": unidb.String("a"), "active": unidb.Bool(true)}, nil)
	require.NoError(t, err)
	// Later writes may omit fields the first write carried.
	_, err = o.Create(c, "users", unidb.Record{"name": unidb.String("b")}, nil)
	require.NoError(t, err)

	recs, err := o.Find(c, "users",
		[]unidb.Condition{unidb.Field("name").Contains("a")},
		unidb.QueryOptions{Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0]["name"].Equal(unidb.String("a")))
}

func TestFindWithGroups(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		_, err := o.Create(c, "users", unidb.Record{"name": unidb.String(name)}, nil)
		require.NoError(t, err)
	}

	group := unidb.OrGroup(
		unidb.Leaf(unidb.Field("name").EQ(unidb.String("alpha"))),
		unidb.Leaf(unidb.Field("name").EQ(unidb.String("gamma"))),
	)
	recs, err := o.FindWithGroups(c, "users", group, unidb.QueryOptions{
		Sort: []unidb.SortField{{Field: "name", Direction: unidb.Asc}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0]["name"].Equal(unidb.String("alpha")))
	assert.True(t, recs[1]["name"].Equal(unidb.String("gamma")))

	// An empty top-level AND group matches all rows.
	recs, err = o.FindWithGroups(c, "users", unidb.AndGroup(), unidb.QueryOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	// An empty OR group matches none.
	recs, err = o.FindWithGroups(c, "users", unidb.OrGroup(), unidb.QueryOptions{}, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUpdateAndDelete(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	id, err := o.Create(c, "users", unidb.Record{"name": unidb.String("a"), "age": unidb.Int(20)}, nil)
	require.NoError(t, err)

	ok, err := o.UpdateByID(c, "users", id, unidb.Record{"age": unidb.Int(21)}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	rec, found, err := o.FindByID(c, "users", id, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec["age"].Equal(unidb.Int(21)))

	n, err := o.Update(c, "users",
		[]unidb.Condition{unidb.Field("age").GTE(unidb.Int(21))},
		unidb.Record{"age": unidb.Int(30)}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cnt, err := o.Count(c, "users", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cnt)

	exists, err := o.Exists(c, "users", []unidb.Condition{unidb.Field("age").EQ(unidb.Int(30))}, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	ok, err = o.DeleteByID(c, "users", id, nil)
	require.NoError(t, err)
	require.True(t, ok)

	_, found, err = o.FindByID(c, "users", id, nil)
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = o.DeleteByID(c, "users", id, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestValueRoundTrip is the universal round-trip property over the
// embedded backend.
func TestValueRoundTrip(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)
	now := time.Date(2024, 5, 1, 12, 30, 45, 123000000, time.UTC)

	tests := map[string]unidb.Value{
		"s":  unidb.String("héllo"),
		"i":  unidb.Int(-42),
		"f":  unidb.Float(3.25),
		"dt": unidb.DateTime(now),
		"js": unidb.JSON(map[string]any{"k": "v"}),
	}
	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			table := "rt_" + name
			id, err := o.Create(c, table, unidb.Record{"v": v}, nil)
			require.NoError(t, err)
			rec, found, err := o.FindByID(c, table, id, nil)
			require.NoError(t, err)
			require.True(t, found)
			got := rec["v"]
			if v.Type() == unidb.TypeDateTime {
				want, _ := v.AsDateTime()
				have, ok := got.AsDateTime()
				require.True(t, ok)
				assert.WithinDuration(t, want, have, time.Millisecond)
				return
			}
			assert.True(t, v.Equal(got), "want %s, got %s", v, got)
		})
	}
}

// TestCacheCoherence is scenario S4 run over a cache-enabled alias.
func TestCacheCoherence(t *testing.T) {
	o := newTestODM(t, &unidb.CacheConfig{
		Enabled:  true,
		Strategy: unidb.CacheLRU,
		L1:       unidb.L1Config{MaxCapacity: 128},
	})
	c := ctx(t)

	id, err := o.Create(c, "users", unidb.Record{"name": unidb.String("a")}, nil)
	require.NoError(t, err)

	p, err := o.Manager().Get("default")
	require.NoError(t, err)
	cm := p.Cache()
	require.NotNil(t, cm)

	_, found, err := o.FindByID(c, "users", id, nil)
	require.NoError(t, err)
	require.True(t, found)

	before := cm.Stats()
	rec, found, err := o.FindByID(c, "users", id, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec["name"].Equal(unidb.String("a")))
	after := cm.Stats()
	assert.Equal(t, before.Hits+1, after.Hits, "second read is a cache hit")
	assert.Equal(t, before.Misses, after.Misses)

	// Mutation invalidates; the next read misses and sees the update.
	ok, err := o.UpdateByID(c, "users", id, unidb.Record{"name": unidb.String("b")}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	beforeMiss := cm.Stats()
	rec, found, err = o.FindByID(c, "users", id, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec["name"].Equal(unidb.String("b")))
	assert.Equal(t, beforeMiss.Misses+1, cm.Stats().Misses)
}

func TestAliasResolution(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	// Unknown explicit alias fails without consuming pool capacity.
	_, err := o.Create(c, "users", unidb.Record{"name": unidb.String("a")},
		&unidb.OperationOptions{Alias: "ghost"})
	require.Error(t, err)
	assert.True(t, unidb.IsAliasNotFound(err))

	// The manager default serves unqualified calls.
	_, err = o.Create(c, "users", unidb.Record{"name": unidb.String("a")}, nil)
	require.NoError(t, err)
}

func TestIDValidationBeforeIO(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	// The alias declares auto-increment; a non-positive explicit id is
	// rejected at validate time.
	_, err := o.Create(c, "users", unidb.Record{
		"id":   unidb.Int(-1),
		"name": unidb.String("a"),
	}, nil)
	require.Error(t, err)
	assert.True(t, unidb.IsValidationError(err))
}

func TestRegisteredSchemaValidation(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	require.NoError(t, o.RegisterModel(&schema.ModelMeta{
		Table: "accounts",
		Alias: "default",
		Fields: map[string]*field.Descriptor{
			"name": field.String("name").Required().MaxLen(8).Descriptor(),
		},
	}))

	_, err := o.Create(c, "accounts", unidb.Record{"name": unidb.String("far-too-long-name")},
		&unidb.OperationOptions{Alias: "default"})
	require.Error(t, err)
	assert.True(t, unidb.IsValidationError(err))

	id, err := o.Create(c, "accounts", unidb.Record{"name": unidb.String("ok")},
		&unidb.OperationOptions{Alias: "default"})
	require.NoError(t, err)
	_, found, err := o.FindByID(c, "accounts", id, nil)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTableLifecycle(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	exists, err := o.TableExists(c, "widgets", nil)
	require.NoError(t, err)
	assert.False(t, exists)

	fields := map[string]*field.Descriptor{
		"name": field.String("name").Required().Descriptor(),
	}
	require.NoError(t, o.CreateTable(c, "widgets", fields, nil))

	exists, err = o.TableExists(c, "widgets", nil)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, o.DropTable(c, "widgets", nil))
	exists, err = o.TableExists(c, "widgets", nil)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMigration(t *testing.T) {
	o := newTestODM(t, nil)
	c := ctx(t)

	log := o.Schemas().Versions("events")
	require.NoError(t, log.Record(schema.Version{
		Number: 1,
		Migration: &schema.Migration{
			Kind: schema.ScriptDDL,
			Up:   "CREATE TABLE events (id INTEGER PRIMARY KEY AUTOINCREMENT, kind TEXT)",
			Down: "DROP TABLE events",
		},
	}))

	require.NoError(t, o.MigrateTo(c, "events", 1, nil))
	exists, err := o.TableExists(c, "events", nil)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, log.Current())
}
