package odm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/schema/field"
	"github.com/syssam/unidb/schema/index"
)

// Bridge exposes the dispatcher to foreign-language embeddings. Every call
// is two strings, the operation name and a JSON payload; every reply is a
// single JSON object of shape {success, data, error}.
type Bridge struct {
	odm *ODM
}

// NewBridge returns a bridge over the given ODM.
func NewBridge(o *ODM) *Bridge { return &Bridge{odm: o} }

// bridgePayload is the decoded call payload. The conditions position
// accepts both the flat leaf-list form and the group form, auto-detected by
// the presence of operator and conditions keys.
type bridgePayload struct {
	Table      string                     `json:"table"`
	Collection string                     `json:"collection"`
	Alias      string                     `json:"alias"`
	ID         json.RawMessage            `json:"id"`
	Data       map[string]json.RawMessage `json:"data"`
	Updates    map[string]json.RawMessage `json:"updates"`
	Conditions json.RawMessage            `json:"conditions"`
	Fields     map[string]json.RawMessage `json:"fields"`
	Index      *bridgeIndex               `json:"index"`
	Options    *bridgeOptions             `json:"options"`
}

type bridgeIndex struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}

type bridgeOptions struct {
	Skip      int64          `json:"skip"`
	Limit     int64          `json:"limit"`
	Sort      []bridgeSort   `json:"sort"`
	Fields    []string       `json:"fields"`
	TimeoutMS int64          `json:"timeout_ms"`
}

type bridgeSort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

func (p *bridgePayload) table() string {
	if p.Table != "" {
		return p.Table
	}
	return p.Collection
}

func (p *bridgePayload) queryOptions() unidb.QueryOptions {
	if p.Options == nil {
		return unidb.QueryOptions{}
	}
	opts := unidb.QueryOptions{
		Skip:   p.Options.Skip,
		Limit:  p.Options.Limit,
		Fields: p.Options.Fields,
	}
	if p.Options.TimeoutMS > 0 {
		opts.Timeout = time.Duration(p.Options.TimeoutMS) * time.Millisecond
	}
	for _, s := range p.Options.Sort {
		dir := unidb.Asc
		if s.Direction == "desc" {
			dir = unidb.Desc
		}
		opts.Sort = append(opts.Sort, unidb.SortField{Field: s.Field, Direction: dir})
	}
	return opts
}

func (p *bridgePayload) opOptions() *unidb.OperationOptions {
	opts := &unidb.OperationOptions{Alias: p.Alias}
	if p.Options != nil && p.Options.TimeoutMS > 0 {
		opts.Timeout = time.Duration(p.Options.TimeoutMS) * time.Millisecond
	}
	return opts
}

// bridgeReply renders the uniform reply object.
func bridgeReply(data any, err error) string {
	type reply struct {
		Success bool    `json:"success"`
		Data    any     `json:"data"`
		Error   *string `json:"error"`
	}
	r := reply{}
	if err != nil {
		msg := err.Error()
		r.Error = &msg
	} else {
		r.Success = true
		r.Data = data
	}
	out, marshalErr := json.Marshal(r)
	if marshalErr != nil {
		return `{"success":false,"data":null,"error":"reply encoding failed"}`
	}
	return string(out)
}

// decodeValue accepts both the tag-discriminated wire form and plain JSON,
// which is inferred into the value model.
func decodeValue(raw json.RawMessage) (unidb.Value, error) {
	if len(raw) == 0 {
		return unidb.Null(), nil
	}
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Type != nil {
		var v unidb.Value
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return unidb.Null(), unidb.NewSerializationError(fmt.Sprintf("invalid value payload: %v", err), err)
	}
	return unidb.Infer(plain), nil
}

func decodeRecord(raw map[string]json.RawMessage) (unidb.Record, error) {
	rec := make(unidb.Record, len(raw))
	for k, v := range raw {
		val, err := decodeValue(v)
		if err != nil {
			return nil, err
		}
		rec[k] = val
	}
	return rec, nil
}

// decodeConditions parses the conditions position: a leaf list, a single
// group object, or a list of groups.
func decodeConditions(raw json.RawMessage) ([]unidb.Condition, *unidb.Group, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		if isGroupObject(asMap) {
			g, err := decodeGroup(asMap)
			if err != nil {
				return nil, nil, err
			}
			return nil, &g, nil
		}
		// A bare single-leaf object.
		c, err := decodeLeaf(asMap)
		if err != nil {
			return nil, nil, err
		}
		return []unidb.Condition{c}, nil, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, unidb.NewSerializationError(fmt.Sprintf("invalid conditions payload: %v", err), err)
	}
	if len(items) > 0 && isGroupObject(items[0]) {
		g := unidb.Group{Logical: unidb.And}
		for _, item := range items {
			child, err := decodeGroup(item)
			if err != nil {
				return nil, nil, err
			}
			g.Children = append(g.Children, unidb.Nested(child))
		}
		return nil, &g, nil
	}
	var conds []unidb.Condition
	for _, item := range items {
		c, err := decodeLeaf(item)
		if err != nil {
			return nil, nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil, nil
}

func isGroupObject(m map[string]json.RawMessage) bool {
	_, hasOp := m["operator"]
	_, hasConds := m["conditions"]
	return hasOp && hasConds
}

func decodeGroup(m map[string]json.RawMessage) (unidb.Group, error) {
	var opName string
	if err := json.Unmarshal(m["operator"], &opName); err != nil {
		return unidb.Group{}, unidb.NewSerializationError(fmt.Sprintf("invalid group operator: %v", err), err)
	}
	g := unidb.Group{Logical: unidb.And}
	if opName == "or" {
		g.Logical = unidb.Or
	} else if opName != "and" {
		return unidb.Group{}, unidb.NewSerializationError(fmt.Sprintf("unknown logical operator %q", opName), nil)
	}
	var children []map[string]json.RawMessage
	if err := json.Unmarshal(m["conditions"], &children); err != nil {
		return unidb.Group{}, unidb.NewSerializationError(fmt.Sprintf("invalid group conditions: %v", err), err)
	}
	for _, child := range children {
		if isGroupObject(child) {
			sub, err := decodeGroup(child)
			if err != nil {
				return unidb.Group{}, err
			}
			g.Children = append(g.Children, unidb.Nested(sub))
			continue
		}
		leaf, err := decodeLeaf(child)
		if err != nil {
			return unidb.Group{}, err
		}
		g.Children = append(g.Children, unidb.Leaf(leaf))
	}
	return g, nil
}

func decodeLeaf(m map[string]json.RawMessage) (unidb.Condition, error) {
	var fieldName, opName string
	if raw, ok := m["field"]; ok {
		if err := json.Unmarshal(raw, &fieldName); err != nil {
			return unidb.Condition{}, unidb.NewSerializationError(fmt.Sprintf("invalid condition field: %v", err), err)
		}
	}
	if raw, ok := m["operator"]; ok {
		if err := json.Unmarshal(raw, &opName); err != nil {
			return unidb.Condition{}, unidb.NewSerializationError(fmt.Sprintf("invalid condition operator: %v", err), err)
		}
	}
	if fieldName == "" || opName == "" {
		return unidb.Condition{}, unidb.NewValidationError("conditions", "conditions require field and operator")
	}
	op, err := unidb.ParseOperator(opName)
	if err != nil {
		return unidb.Condition{}, unidb.NewSerializationError(err.Error(), err)
	}
	value, err := decodeValue(m["value"])
	if err != nil {
		return unidb.Condition{}, err
	}
	return unidb.Condition{Field: fieldName, Operator: op, Value: value}, nil
}

// decodeFields parses the simple field-definition map used by bridged
// create_table calls: field name to type-name string, or to an object with
// a type key for array forms.
func decodeFields(raw map[string]json.RawMessage) (map[string]*field.Descriptor, error) {
	out := make(map[string]*field.Descriptor, len(raw))
	for name, fraw := range raw {
		b, err := decodeFieldType(name, fraw)
		if err != nil {
			return nil, err
		}
		out[name] = b.Descriptor()
	}
	return out, nil
}

func decodeFieldType(name string, raw json.RawMessage) (*field.Builder, error) {
	var typeName string
	if err := json.Unmarshal(raw, &typeName); err == nil {
		return fieldBuilderFor(name, typeName)
	}
	var obj struct {
		Type     string          `json:"type"`
		ItemType json.RawMessage `json:"item_type"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, unidb.NewSerializationError(fmt.Sprintf("invalid field definition for %q: %v", name, err), err)
	}
	if obj.Type == "array" {
		if len(obj.ItemType) == 0 {
			return nil, unidb.NewValidationError(name, "array field requires item_type")
		}
		elem, err := decodeFieldType(name, obj.ItemType)
		if err != nil {
			return nil, err
		}
		return field.Array(name, elem), nil
	}
	return fieldBuilderFor(name, obj.Type)
}

func fieldBuilderFor(name, typeName string) (*field.Builder, error) {
	switch typeName {
	case "string", "text":
		return field.String(name), nil
	case "integer", "biginteger":
		return field.Int(name), nil
	case "float", "double":
		return field.Float(name), nil
	case "boolean":
		return field.Bool(name), nil
	case "datetime":
		return field.Time(name), nil
	case "uuid":
		return field.UUID(name), nil
	case "json":
		return field.JSON(name), nil
	case "binary":
		return field.Bytes(name), nil
	default:
		return nil, unidb.NewValidationError(name, fmt.Sprintf("unsupported field type %q", typeName))
	}
}

func nativeRecords(recs []unidb.Record) []map[string]any {
	out := make([]map[string]any, len(recs))
	for i, rec := range recs {
		m := make(map[string]any, len(rec))
		for k, v := range rec {
			m[k] = v.Native()
		}
		out[i] = m
	}
	return out
}

// Call executes one bridged operation and returns the reply JSON.
func (b *Bridge) Call(ctx context.Context, operation, payloadJSON string) string {
	var p bridgePayload
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return bridgeReply(nil, unidb.NewSerializationError(fmt.Sprintf("invalid payload: %v", err), err))
		}
	}
	table := p.table()
	switch operation {
	case "create":
		if p.Data == nil {
			return bridgeReply(nil, unidb.NewValidationError("data", "missing data field"))
		}
		rec, err := decodeRecord(p.Data)
		if err != nil {
			return bridgeReply(nil, err)
		}
		id, err := b.odm.Create(ctx, table, rec, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(id.Native(), nil)
	case "find_by_id":
		id, err := decodeValue(p.ID)
		if err != nil {
			return bridgeReply(nil, err)
		}
		if id.IsNull() {
			return bridgeReply(nil, unidb.NewValidationError("id", "missing id field"))
		}
		rec, found, err := b.odm.FindByID(ctx, table, id, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		if !found {
			return bridgeReply(nil, nil)
		}
		return bridgeReply(nativeRecords([]unidb.Record{rec})[0], nil)
	case "find":
		conds, group, err := decodeConditions(p.Conditions)
		if err != nil {
			return bridgeReply(nil, err)
		}
		var recs []unidb.Record
		if group != nil {
			recs, err = b.odm.FindWithGroups(ctx, table, *group, p.queryOptions(), p.opOptions())
		} else {
			recs, err = b.odm.Find(ctx, table, conds, p.queryOptions(), p.opOptions())
		}
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(nativeRecords(recs), nil)
	case "find_with_groups":
		conds, group, err := decodeConditions(p.Conditions)
		if err != nil {
			return bridgeReply(nil, err)
		}
		if group == nil {
			g := unidb.GroupOf(conds)
			group = &g
		}
		recs, err := b.odm.FindWithGroups(ctx, table, *group, p.queryOptions(), p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(nativeRecords(recs), nil)
	case "update":
		if p.Updates == nil {
			return bridgeReply(nil, unidb.NewValidationError("updates", "missing updates field"))
		}
		conds, group, err := decodeConditions(p.Conditions)
		if err != nil {
			return bridgeReply(nil, err)
		}
		if group != nil {
			return bridgeReply(nil, unidb.NewValidationError("conditions", "update requires a flat condition list"))
		}
		updates, err := decodeRecord(p.Updates)
		if err != nil {
			return bridgeReply(nil, err)
		}
		n, err := b.odm.Update(ctx, table, conds, updates, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(n, nil)
	case "update_by_id":
		if p.Updates == nil {
			return bridgeReply(nil, unidb.NewValidationError("updates", "missing updates field"))
		}
		id, err := decodeValue(p.ID)
		if err != nil {
			return bridgeReply(nil, err)
		}
		updates, err := decodeRecord(p.Updates)
		if err != nil {
			return bridgeReply(nil, err)
		}
		ok, err := b.odm.UpdateByID(ctx, table, id, updates, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(ok, nil)
	case "delete":
		conds, group, err := decodeConditions(p.Conditions)
		if err != nil {
			return bridgeReply(nil, err)
		}
		if group != nil {
			return bridgeReply(nil, unidb.NewValidationError("conditions", "delete requires a flat condition list"))
		}
		n, err := b.odm.Delete(ctx, table, conds, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(n, nil)
	case "delete_by_id":
		id, err := decodeValue(p.ID)
		if err != nil {
			return bridgeReply(nil, err)
		}
		ok, err := b.odm.DeleteByID(ctx, table, id, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(ok, nil)
	case "count":
		conds, _, err := decodeConditions(p.Conditions)
		if err != nil {
			return bridgeReply(nil, err)
		}
		n, err := b.odm.Count(ctx, table, conds, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(n, nil)
	case "exists":
		conds, _, err := decodeConditions(p.Conditions)
		if err != nil {
			return bridgeReply(nil, err)
		}
		ok, err := b.odm.Exists(ctx, table, conds, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(ok, nil)
	case "create_table":
		if p.Fields == nil {
			return bridgeReply(nil, unidb.NewValidationError("fields", "missing fields definition"))
		}
		fields, err := decodeFields(p.Fields)
		if err != nil {
			return bridgeReply(nil, err)
		}
		if err := b.odm.CreateTable(ctx, table, fields, p.opOptions()); err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(true, nil)
	case "create_index":
		if p.Index == nil {
			return bridgeReply(nil, unidb.NewValidationError("index", "missing index definition"))
		}
		idx := index.Descriptor{Name: p.Index.Name, Fields: p.Index.Fields, Unique: p.Index.Unique}
		if err := b.odm.CreateIndex(ctx, table, idx, p.opOptions()); err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(true, nil)
	case "table_exists":
		ok, err := b.odm.TableExists(ctx, table, p.opOptions())
		if err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(ok, nil)
	case "drop_table":
		if err := b.odm.DropTable(ctx, table, p.opOptions()); err != nil {
			return bridgeReply(nil, err)
		}
		return bridgeReply(true, nil)
	default:
		return bridgeReply(nil, unidb.NewQueryError(fmt.Sprintf("unknown operation %q", operation), nil))
	}
}
