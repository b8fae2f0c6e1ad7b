package odm_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unidb/odm"
)

type bridgeReply struct {
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

func callBridge(t *testing.T, b *odm.Bridge, op, payload string) bridgeReply {
	t.Helper()
	raw := b.Call(ctx(t), op, payload)
	var r bridgeReply
	require.NoError(t, json.Unmarshal([]byte(raw), &r), "reply must be valid JSON: %s", raw)
	return r
}

func TestBridgeCreateAndFindByID(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))

	r := callBridge(t, b, "create", `{"table": "users", "data": {"name": "a", "active": true}}`)
	require.Nil(t, r.Error)
	require.True(t, r.Success)
	id, ok := r.Data.(float64)
	require.True(t, ok, "create replies with the numeric id, got %T", r.Data)
	assert.Equal(t, float64(1), id)

	r = callBridge(t, b, "find_by_id", `{"table": "users", "id": 1}`)
	require.True(t, r.Success)
	rec, ok := r.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", rec["name"])
	assert.Equal(t, true, rec["active"])

	// Missing records reply success with null data.
	r = callBridge(t, b, "find_by_id", `{"table": "users", "id": 404}`)
	require.True(t, r.Success)
	assert.Nil(t, r.Data)
}

func TestBridgeFindFlatConditions(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))
	callBridge(t, b, "create", `{"table": "users", "data": {"name": "a"}}`)
	callBridge(t, b, "create", `{"table": "users", "data": {"name": "b"}}`)

	r := callBridge(t, b, "find", `{
		"table": "users",
		"conditions": [{"field": "name", "operator": "contains", "value": "a"}],
		"options": {"limit": 10}
	}`)
	require.True(t, r.Success)
	recs, ok := r.Data.([]any)
	require.True(t, ok)
	require.Len(t, recs, 1)
}

// TestBridgeGroupAutoDetection feeds the group form into the conditions
// position; the bridge detects it by the operator and conditions keys.
func TestBridgeGroupAutoDetection(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))
	callBridge(t, b, "create", `{"table": "items", "data": {"name": "x"}}`)

	find := func(value string) []any {
		r := callBridge(t, b, "find_with_groups", fmt.Sprintf(`{
			"table": "items",
			"conditions": {
				"operator": "or",
				"conditions": [
					{"field": "name", "operator": "eq", "value": %q},
					{"field": "name", "operator": "eq", "value": "zzz"}
				]
			}
		}`, value))
		require.True(t, r.Success, "error: %v", r.Error)
		recs, ok := r.Data.([]any)
		require.True(t, ok)
		return recs
	}

	assert.Len(t, find("x"), 1)
	assert.Empty(t, find("y"))
}

func TestBridgeUpdateAndDelete(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))
	callBridge(t, b, "create", `{"table": "users", "data": {"name": "a", "age": 20}}`)

	r := callBridge(t, b, "update_by_id", `{"table": "users", "id": 1, "updates": {"age": 21}}`)
	require.True(t, r.Success)
	assert.Equal(t, true, r.Data)

	r = callBridge(t, b, "count", `{"table": "users"}`)
	require.True(t, r.Success)
	assert.Equal(t, float64(1), r.Data)

	r = callBridge(t, b, "delete", `{"table": "users", "conditions": [{"field": "age", "operator": "gte", "value": 21}]}`)
	require.True(t, r.Success)
	assert.Equal(t, float64(1), r.Data)

	r = callBridge(t, b, "exists", `{"table": "users"}`)
	require.True(t, r.Success)
	assert.Equal(t, false, r.Data)
}

func TestBridgeTaggedValues(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))

	// The tag-discriminated wire form decodes the same as plain JSON.
	r := callBridge(t, b, "create", `{"table": "users", "data": {
		"name": {"type": "string", "value": "tagged"},
		"age": {"type": "int", "value": 7}
	}}`)
	require.True(t, r.Success, "error: %v", r.Error)

	r = callBridge(t, b, "find", `{"table": "users", "conditions": [
		{"field": "age", "operator": "eq", "value": {"type": "int", "value": 7}}
	]}`)
	require.True(t, r.Success)
	recs := r.Data.([]any)
	require.Len(t, recs, 1)
	assert.Equal(t, "tagged", recs[0].(map[string]any)["name"])
}

func TestBridgeErrors(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))

	r := callBridge(t, b, "create", `{"table": "users"}`)
	assert.False(t, r.Success)
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "data")

	r = callBridge(t, b, "nonsense", `{}`)
	assert.False(t, r.Success)
	require.NotNil(t, r.Error)

	r = callBridge(t, b, "create", `not json`)
	assert.False(t, r.Success)

	// Errors carry the stable taxonomy's message shape.
	r = callBridge(t, b, "find_by_id", `{"table": "users"}`)
	assert.False(t, r.Success)
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "unidb:")
}

func TestBridgeTableExistsAndDrop(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))
	callBridge(t, b, "create", `{"table": "widgets", "data": {"name": "w"}}`)

	r := callBridge(t, b, "table_exists", `{"table": "widgets"}`)
	require.True(t, r.Success)
	assert.Equal(t, true, r.Data)

	r = callBridge(t, b, "drop_table", `{"table": "widgets"}`)
	require.True(t, r.Success)

	r = callBridge(t, b, "table_exists", `{"table": "widgets"}`)
	require.True(t, r.Success)
	assert.Equal(t, false, r.Data)
}

func TestBridgeCreateTableFromFields(t *testing.T) {
	b := odm.NewBridge(newTestODM(t, nil))

	r := callBridge(t, b, "create_table", `{"table": "gadgets", "fields": {
		"name": "string",
		"count": "integer",
		"tags": {"type": "array", "item_type": "string"}
	}}`)
	require.True(t, r.Success, "error: %v", r.Error)

	r = callBridge(t, b, "table_exists", `{"table": "gadgets"}`)
	require.True(t, r.Success)
	assert.Equal(t, true, r.Data)
}
