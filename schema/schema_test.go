package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/schema"
	"github.com/syssam/unidb/schema/field"
	"github.com/syssam/unidb/schema/index"
)

func TestInferFromData(t *testing.T) {
	s := schema.InferFromData("users", unidb.Record{
		"name":   unidb.String("a"),
		"bio":    unidb.String(string(make([]byte, 300))),
		"age":    unidb.Int(30),
		"score":  unidb.Float(1.5),
		"active": unidb.Bool(true),
		"tags":   unidb.Array(unidb.String("x")),
	})
	require.NotNil(t, s)

	// No id in the data: an auto-increment primary key is prepended.
	id := s.Columns[0]
	assert.Equal(t, "id", id.Name)
	assert.Equal(t, schema.ColBigInt, id.Type)
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.AutoIncrement)

	byName := map[string]schema.ColumnType{}
	for _, c := range s.Columns {
		byName[c.Name] = c.Type
	}
	assert.Equal(t, schema.ColString, byName["name"])
	assert.Equal(t, schema.ColText, byName["bio"])
	assert.Equal(t, schema.ColBigInt, byName["age"])
	assert.Equal(t, schema.ColDouble, byName["score"])
	assert.Equal(t, schema.ColBool, byName["active"])
	assert.Equal(t, schema.ColJSON, byName["tags"])
}

func TestInferFromDataExplicitID(t *testing.T) {
	s := schema.InferFromData("users", unidb.Record{
		"id":   unidb.String("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		"name": unidb.String("a"),
	})
	id := s.Column("id")
	require.NotNil(t, id)
	assert.True(t, id.PrimaryKey)
	// String ids never auto-increment.
	assert.False(t, id.AutoIncrement)
}

func TestInferLongText(t *testing.T) {
	long := string(make([]byte, 70000))
	s := schema.InferFromData("posts", unidb.Record{"body": unidb.String(long)})
	assert.Equal(t, schema.ColLongText, s.Column("body").Type)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "user_profiles", schema.TableName("UserProfile"))
	assert.Equal(t, "orders", schema.TableName("Order"))
}

func TestValidate(t *testing.T) {
	fields := map[string]*field.Descriptor{
		"name":  field.String("name").Required().MinLen(2).MaxLen(8).Descriptor(),
		"age":   field.Int("age").Range(0, 150).Descriptor(),
		"email": field.String("email").Match(`^[^@]+@[^@]+$`).Descriptor(),
	}

	ok := unidb.Record{
		"name":  unidb.String("ann"),
		"age":   unidb.Int(30),
		"email": unidb.String("a@b.c"),
	}
	require.NoError(t, schema.Validate(fields, ok))

	tests := []struct {
		name string
		rec  unidb.Record
	}{
		{"missing_required", unidb.Record{"age": unidb.Int(1)}},
		{"too_short", unidb.Record{"name": unidb.String("a")}},
		{"too_long", unidb.Record{"name": unidb.String("abcdefghij")}},
		{"below_min", unidb.Record{"name": unidb.String("ann"), "age": unidb.Int(-1)}},
		{"above_max", unidb.Record{"name": unidb.String("ann"), "age": unidb.Int(200)}},
		{"pattern", unidb.Record{"name": unidb.String("ann"), "email": unidb.String("nope")}},
		{"wrong_kind", unidb.Record{"name": unidb.Int(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(fields, tt.rec)
			require.Error(t, err)
			assert.True(t, unidb.IsValidationError(err))
		})
	}
}

// fakeDDL records ensure-path calls.
type fakeDDL struct {
	exists       bool
	createdTable *schema.TableSchema
	indexes      []string
	existsCalls  int
}

func (f *fakeDDL) TableExists(ctx context.Context, table string) (bool, error) {
	f.existsCalls++
	return f.exists, nil
}

func (f *fakeDDL) CreateTable(ctx context.Context, ts *schema.TableSchema) error {
	f.createdTable = ts
	f.exists = true
	return nil
}

func (f *fakeDDL) CreateIndex(ctx context.Context, table, name string, fields []string, unique bool) error {
	f.indexes = append(f.indexes, name)
	return nil
}

func TestEnsureTableAndIndexes(t *testing.T) {
	m := schema.NewManager()
	require.NoError(t, m.Register(&schema.ModelMeta{
		Table: "users",
		Alias: "default",
		Fields: map[string]*field.Descriptor{
			"name":  field.String("name").Required().Descriptor(),
			"email": field.String("email").Unique().Descriptor(),
			"city":  field.String("city").Indexed().Descriptor(),
		},
		Indexes: []index.Descriptor{
			index.Fields("name", "city").Name("idx_users_name_city").Descriptor(),
		},
	}))

	ddl := &fakeDDL{}
	require.NoError(t, m.EnsureTableAndIndexes(context.Background(), ddl, "default", "users"))
	require.NotNil(t, ddl.createdTable)
	assert.Contains(t, ddl.indexes, "idx_users_name_city")
	assert.Contains(t, ddl.indexes, "idx_users_city")

	// The ensure path runs at most once per alias and table.
	require.NoError(t, m.EnsureTableAndIndexes(context.Background(), ddl, "default", "users"))
	assert.Equal(t, 1, ddl.existsCalls)

	// Unregistered tables are ignored.
	require.NoError(t, m.EnsureTableAndIndexes(context.Background(), ddl, "default", "unknown"))
	assert.Equal(t, 1, ddl.existsCalls)
}

func TestRegisterDuplicate(t *testing.T) {
	m := schema.NewManager()
	meta := &schema.ModelMeta{Table: "users", Alias: "a", Fields: map[string]*field.Descriptor{}}
	require.NoError(t, m.Register(meta))
	err := m.Register(meta)
	require.Error(t, err)
	assert.True(t, unidb.IsConfigError(err))

	// The same table under another alias is a distinct registration.
	require.NoError(t, m.Register(&schema.ModelMeta{Table: "users", Alias: "b"}))
}

func TestFieldBuilders(t *testing.T) {
	d := field.String("email").Required().Unique().MaxLen(128).Match(`@`).Comment("login email").Descriptor()
	assert.Equal(t, "email", d.Name)
	assert.Equal(t, field.TypeString, d.Type)
	assert.True(t, d.Required)
	assert.True(t, d.Unique)
	require.NotNil(t, d.MaxLen)
	assert.Equal(t, 128, *d.MaxLen)
	assert.Equal(t, "login email", d.Comment)

	arr := field.Array("tags", field.String("tag").MaxLen(32)).Descriptor()
	assert.Equal(t, field.TypeArray, arr.Type)
	require.NotNil(t, arr.Elem)
	assert.Equal(t, field.TypeString, arr.Elem.Type)

	obj := field.Object("address", field.String("city"), field.String("zip")).Descriptor()
	assert.Equal(t, field.TypeObject, obj.Type)
	assert.Len(t, obj.Fields, 2)

	ref := field.Ref("owner_id", "users").Descriptor()
	assert.Equal(t, field.TypeRef, ref.Type)
	assert.Equal(t, "users", ref.RefTable)
}
