package unidb_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/unidb"
)

func sampleValues(t *testing.T) map[string]unidb.Value {
	t.Helper()
	u, err := uuid.Parse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	require.NoError(t, err)
	return map[string]unidb.Value{
		"null":     unidb.Null(),
		"bool":     unidb.Bool(true),
		"int":      unidb.Int(-42),
		"float":    unidb.Float(3.25),
		"string":   unidb.String("héllo"),
		"bytes":    unidb.Bytes([]byte{0x00, 0xff, 0x10}),
		"datetime": unidb.DateTime(time.Date(2024, 5, 1, 12, 30, 45, 123456789, time.UTC)),
		"uuid":     unidb.UUID(u),
		"json":     unidb.JSON(map[string]any{"nested": []any{"a", float64(1)}}),
		"array":    unidb.Array(unidb.Int(1), unidb.String("two")),
		"object":   unidb.Object(map[string]unidb.Value{"k": unidb.Bool(false)}),
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	for name, v := range sampleValues(t) {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(v)
			require.NoError(t, err)
			var back unidb.Value
			require.NoError(t, json.Unmarshal(data, &back))
			assert.True(t, v.Equal(back), "round-trip mismatch: %s vs %s", v, back)
		})
	}
}

func TestValueMsgpackRoundTrip(t *testing.T) {
	for name, v := range sampleValues(t) {
		t.Run(name, func(t *testing.T) {
			data, err := msgpack.Marshal(v)
			require.NoError(t, err)
			var back unidb.Value
			require.NoError(t, msgpack.Unmarshal(data, &back))
			assert.True(t, v.Equal(back), "round-trip mismatch: %s vs %s", v, back)
			assert.Equal(t, v.Type(), back.Type())
		})
	}
}

func TestRecordMsgpackRoundTrip(t *testing.T) {
	rec := unidb.Record{
		"id":     unidb.Int(7),
		"name":   unidb.String("a"),
		"active": unidb.Bool(true),
	}
	data, err := msgpack.Marshal(rec)
	require.NoError(t, err)
	var back unidb.Record
	require.NoError(t, msgpack.Unmarshal(data, &back))
	require.Len(t, back, 3)
	for k, v := range rec {
		assert.True(t, v.Equal(back[k]), "field %s", k)
	}
}

func TestValueEqualWidening(t *testing.T) {
	assert.True(t, unidb.Int(2).Equal(unidb.Float(2.0)))
	assert.True(t, unidb.Float(2.0).Equal(unidb.Int(2)))
	assert.False(t, unidb.Int(2).Equal(unidb.Float(2.5)))
	assert.False(t, unidb.Int(1).Equal(unidb.String("1")))
	assert.False(t, unidb.Bool(false).Equal(unidb.Null()))
}

func TestValueDateTimeNormalisedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	local := time.Date(2024, 5, 1, 20, 0, 0, 0, loc)
	v := unidb.DateTime(local)
	tm, ok := v.AsDateTime()
	require.True(t, ok)
	assert.Equal(t, time.UTC, tm.Location())
	assert.True(t, tm.Equal(local))
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want unidb.ValueType
	}{
		{"nil", nil, unidb.TypeNull},
		{"bool", true, unidb.TypeBool},
		{"whole_float", float64(3), unidb.TypeInt},
		{"fractional_float", 3.5, unidb.TypeFloat},
		{"string", "x", unidb.TypeString},
		{"time", time.Now(), unidb.TypeDateTime},
		{"array", []any{1, 2}, unidb.TypeArray},
		{"map", map[string]any{"a": 1}, unidb.TypeObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unidb.Infer(tt.in).Type())
		})
	}
}

func TestObjectKeysDistinct(t *testing.T) {
	obj, ok := unidb.Object(map[string]unidb.Value{"a": unidb.Int(1), "b": unidb.Int(2)}).AsObject()
	require.True(t, ok)
	assert.Len(t, obj, 2)
}
