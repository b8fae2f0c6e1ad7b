package sql_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/dialect"
	sql "github.com/syssam/unidb/dialect/sql"
)

func args(vals []unidb.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.Native()
	}
	return out
}

func TestSelectConditionGroupPostgres(t *testing.T) {
	// OR(a=1, AND(b>2, c<3)) keeps explicit grouping and numbers the
	// parameters in traversal order.
	group := unidb.OrGroup(
		unidb.Leaf(unidb.Field("a").EQ(unidb.Int(1))),
		unidb.Nested(unidb.AndGroup(
			unidb.Leaf(unidb.Field("b").GT(unidb.Int(2))),
			unidb.Leaf(unidb.Field("c").LT(unidb.Int(3))),
		)),
	)
	query, vals, err := sql.New(dialect.Postgres).Select("items").WhereGroup(group).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM items WHERE (a = $1 OR (b > $2 AND c < $3))", query)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, args(vals))
}

func TestPlaceholderStyles(t *testing.T) {
	conds := []unidb.Condition{
		unidb.Field("a").EQ(unidb.Int(1)),
		unidb.Field("b").NE(unidb.Int(2)),
	}
	query, _, err := sql.New(dialect.Postgres).Select("t").Where(conds).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE (a = $1 AND b != $2)", query)

	for _, d := range []string{dialect.MySQL, dialect.SQLite} {
		query, _, err := sql.New(d).Select("t").Where(conds).Build()
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM t WHERE (a = ? AND b != ?)", query, d)
	}
}

func TestInsertParameterOrdering(t *testing.T) {
	// Columns are emitted in sorted name order and the parameter vector
	// matches exactly.
	values := map[string]unidb.Value{
		"name":   unidb.String("a"),
		"active": unidb.Bool(true),
		"score":  unidb.Float(1.5),
	}
	query, vals, err := sql.New(dialect.Postgres).Insert("users").Values(values).Returning("id").Build()
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (active, name, score) VALUES ($1, $2, $3) RETURNING id", query)
	assert.Equal(t, []any{true, "a", 1.5}, args(vals))
}

func TestInsertReturningRefusedForMySQL(t *testing.T) {
	_, _, err := sql.New(dialect.MySQL).Insert("users").
		Values(map[string]unidb.Value{"name": unidb.String("a")}).
		Returning("id").
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETURNING")
}

func TestUpdatePlaceholderOrdering(t *testing.T) {
	// SET parameters come first, WHERE parameters continue the numbering.
	query, vals, err := sql.New(dialect.Postgres).Update("users").
		Values(map[string]unidb.Value{"name": unidb.String("b"), "age": unidb.Int(30)}).
		Where([]unidb.Condition{unidb.Field("id").EQ(unidb.Int(7))}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET age = $1, name = $2 WHERE id = $3", query)
	assert.Equal(t, []any{int64(30), "b", int64(7)}, args(vals))
}

func TestDelete(t *testing.T) {
	query, vals, err := sql.New(dialect.SQLite).Delete("users").
		Where([]unidb.Condition{unidb.Field("age").LT(unidb.Int(18))}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE age < ?", query)
	assert.Equal(t, []any{int64(18)}, args(vals))
}

func TestLikeOperators(t *testing.T) {
	tests := []struct {
		cond unidb.Condition
		want string
	}{
		{unidb.Field("name").Contains("an"), "%an%"},
		{unidb.Field("name").StartsWith("an"), "an%"},
		{unidb.Field("name").EndsWith("an"), "%an"},
	}
	for _, tt := range tests {
		query, vals, err := sql.New(dialect.SQLite).Select("t").Where([]unidb.Condition{tt.cond}).Build()
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM t WHERE name LIKE ?", query)
		require.Len(t, vals, 1)
		s, _ := vals[0].AsString()
		assert.Equal(t, tt.want, s)
	}
}

func TestRegexOperator(t *testing.T) {
	cond := []unidb.Condition{unidb.Field("name").Regex("^a.*z$")}

	query, _, err := sql.New(dialect.Postgres).Select("t").Where(cond).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE name ~* $1", query)

	for _, d := range []string{dialect.MySQL, dialect.SQLite} {
		query, _, err := sql.New(d).Select("t").Where(cond).Build()
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM t WHERE name REGEXP ?", query, d)
	}
}

func TestInExpansion(t *testing.T) {
	cond := []unidb.Condition{unidb.Field("id").In(unidb.Int(1), unidb.Int(2), unidb.Int(3))}
	query, vals, err := sql.New(dialect.Postgres).Select("t").Where(cond).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE id IN ($1, $2, $3)", query)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, args(vals))

	// Zero-element membership is statically false.
	query, vals, err = sql.New(dialect.Postgres).Select("t").
		Where([]unidb.Condition{unidb.Field("id").In()}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1 = 0", query)
	assert.Empty(t, vals)

	query, _, err = sql.New(dialect.Postgres).Select("t").
		Where([]unidb.Condition{unidb.Field("id").NotIn()}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1 = 1", query)
}

func TestNullOperators(t *testing.T) {
	query, vals, err := sql.New(dialect.SQLite).Select("t").
		Where([]unidb.Condition{
			unidb.Field("a").IsNull(),
			unidb.Field("b").IsNotNull(),
			unidb.Field("c").Exists(),
		}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE (a IS NULL AND b IS NOT NULL AND c IS NOT NULL)", query)
	assert.Empty(t, vals)
}

func TestEmptyGroups(t *testing.T) {
	// An empty top-level AND group matches all rows.
	query, vals, err := sql.New(dialect.Postgres).Select("t").WhereGroup(unidb.AndGroup()).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t", query)
	assert.Empty(t, vals)

	// An empty top-level OR group matches none.
	query, _, err = sql.New(dialect.Postgres).Select("t").WhereGroup(unidb.OrGroup()).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1 = 0", query)

	// Empty child groups are dropped as the parent's identity.
	group := unidb.AndGroup(
		unidb.Leaf(unidb.Field("a").EQ(unidb.Int(1))),
		unidb.Nested(unidb.OrGroup()),
	)
	query, _, err = sql.New(dialect.Postgres).Select("t").WhereGroup(group).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1", query)
}

func TestSortAndPagination(t *testing.T) {
	query, _, err := sql.New(dialect.Postgres).Select("t").
		OrderBy([]unidb.SortField{
			{Field: "created_at", Direction: unidb.Desc},
			{Field: "name", Direction: unidb.Asc},
		}).
		Skip(20).
		Limit(10).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t ORDER BY created_at DESC, name ASC LIMIT 10 OFFSET 20", query)

	// SQLite needs a LIMIT sentinel to express OFFSET alone.
	query, _, err = sql.New(dialect.SQLite).Select("t").Skip(5).Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t LIMIT -1 OFFSET 5", query)
}

func TestProjectionAndCount(t *testing.T) {
	query, _, err := sql.New(dialect.Postgres).Select("t").Columns("id", "name").Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name FROM t", query)

	query, _, err = sql.New(dialect.Postgres).Select("t").CountAll().
		Where([]unidb.Condition{unidb.Field("a").EQ(unidb.Int(1))}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM t WHERE a = $1", query)
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, sql.ValidIdentifier("users"))
	assert.True(t, sql.ValidIdentifier("public.users"))
	assert.True(t, sql.ValidIdentifier("_private"))
	assert.False(t, sql.ValidIdentifier(""))
	assert.False(t, sql.ValidIdentifier("1users"))
	assert.False(t, sql.ValidIdentifier("users; DROP TABLE users"))
	assert.False(t, sql.ValidIdentifier("na me"))
}
