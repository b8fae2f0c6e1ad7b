package unidb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb"
)

func TestFieldHelpers(t *testing.T) {
	c := unidb.Field("age").GTE(unidb.Int(18))
	assert.Equal(t, "age", c.Field)
	assert.Equal(t, unidb.OpGTE, c.Operator)

	c = unidb.Field("name").Contains("an")
	assert.Equal(t, unidb.OpContains, c.Operator)
	s, _ := c.Value.AsString()
	assert.Equal(t, "an", s)

	c = unidb.Field("status").In(unidb.String("a"), unidb.String("b"))
	arr, ok := c.Value.AsArray()
	require.True(t, ok)
	assert.Len(t, arr, 2)

	c = unidb.Field("deleted_at").IsNull()
	assert.Equal(t, unidb.OpIsNull, c.Operator)
	assert.True(t, c.Value.IsNull())
}

func TestParseOperator(t *testing.T) {
	for _, name := range []string{
		"eq", "ne", "gt", "gte", "lt", "lte", "contains", "starts_with",
		"ends_with", "in", "not_in", "regex", "exists", "is_null", "is_not_null",
	} {
		op, err := unidb.ParseOperator(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, op.String())
	}

	// Dash forms parse to the same operators.
	op, err := unidb.ParseOperator("starts-with")
	require.NoError(t, err)
	assert.Equal(t, unidb.OpStartsWith, op)

	_, err = unidb.ParseOperator("between")
	assert.Error(t, err)
}

func TestGroupHashStable(t *testing.T) {
	build := func() unidb.Group {
		return unidb.OrGroup(
			unidb.Leaf(unidb.Field("a").EQ(unidb.Int(1))),
			unidb.Nested(unidb.AndGroup(
				unidb.Leaf(unidb.Field("b").GT(unidb.Int(2))),
				unidb.Leaf(unidb.Field("c").LT(unidb.Int(3))),
			)),
		)
	}
	assert.Equal(t, build().Hash(), build().Hash())

	// Different operand, different hash.
	other := unidb.OrGroup(
		unidb.Leaf(unidb.Field("a").EQ(unidb.Int(2))),
		unidb.Nested(unidb.AndGroup(
			unidb.Leaf(unidb.Field("b").GT(unidb.Int(2))),
			unidb.Leaf(unidb.Field("c").LT(unidb.Int(3))),
		)),
	)
	assert.NotEqual(t, build().Hash(), other.Hash())

	// AND and OR over the same children differ.
	and := unidb.AndGroup(unidb.Leaf(unidb.Field("a").EQ(unidb.Int(1))))
	or := unidb.OrGroup(unidb.Leaf(unidb.Field("a").EQ(unidb.Int(1))))
	assert.NotEqual(t, and.Hash(), or.Hash())
}

func TestGroupHashObjectKeyOrder(t *testing.T) {
	// Object operands hash by sorted keys, so assembly order is
	// irrelevant.
	g1 := unidb.AndGroup(unidb.Leaf(unidb.Condition{
		Field:    "meta",
		Operator: unidb.OpEQ,
		Value: unidb.Object(map[string]unidb.Value{
			"x": unidb.Int(1),
			"y": unidb.Int(2),
		}),
	}))
	g2 := unidb.AndGroup(unidb.Leaf(unidb.Condition{
		Field:    "meta",
		Operator: unidb.OpEQ,
		Value: unidb.Object(map[string]unidb.Value{
			"y": unidb.Int(2),
			"x": unidb.Int(1),
		}),
	}))
	assert.Equal(t, g1.Hash(), g2.Hash())
}

func TestGroupOf(t *testing.T) {
	g := unidb.GroupOf([]unidb.Condition{
		unidb.Field("a").EQ(unidb.Int(1)),
		unidb.Field("b").EQ(unidb.Int(2)),
	})
	assert.Equal(t, unidb.And, g.Logical)
	require.Len(t, g.Children, 2)
	assert.True(t, g.Children[0].Leaf)

	empty := unidb.GroupOf(nil)
	assert.Empty(t, empty.Children)
}
