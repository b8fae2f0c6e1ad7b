package unidb

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValueType identifies the kind held by a Value.
type ValueType int

const (
	// TypeNull is the null value.
	TypeNull ValueType = iota
	// TypeBool is a boolean.
	TypeBool
	// TypeInt is a 64-bit signed integer.
	TypeInt
	// TypeFloat is a 64-bit float.
	TypeFloat
	// TypeString is a UTF-8 string.
	TypeString
	// TypeBytes is an opaque byte slice.
	TypeBytes
	// TypeDateTime is a timestamp, always normalised to UTC.
	TypeDateTime
	// TypeUUID is a UUID.
	TypeUUID
	// TypeJSON holds arbitrary structured data that need not be
	// reshapable into the other kinds.
	TypeJSON
	// TypeArray is an ordered list of values.
	TypeArray
	// TypeObject is a string-keyed mapping of values.
	TypeObject
)

// String returns the lowercase tag name used in the JSON form.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeDateTime:
		return "datetime"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is the universal value kind passed between callers, adapters and the
// cache. The zero Value is null.
type Value struct {
	t   ValueType
	b   bool
	i   int64
	f   float64
	s   string
	by  []byte
	tm  time.Time
	js  any
	arr []Value
	obj map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{t: TypeBool, b: b} }

// Int returns a 64-bit integer value.
func Int(i int64) Value { return Value{t: TypeInt, i: i} }

// Float returns a 64-bit float value.
func Float(f float64) Value { return Value{t: TypeFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{t: TypeString, s: s} }

// Bytes returns an opaque bytes value. The slice is not copied.
func Bytes(b []byte) Value { return Value{t: TypeBytes, by: b} }

// DateTime returns a timestamp value normalised to UTC.
func DateTime(tm time.Time) Value { return Value{t: TypeDateTime, tm: tm.UTC()} }

// UUID returns a UUID value.
func UUID(u uuid.UUID) Value { return Value{t: TypeUUID, s: u.String()} }

// JSON returns a value holding arbitrary structured data.
func JSON(v any) Value { return Value{t: TypeJSON, js: v} }

// Array returns an ordered array value.
func Array(vs ...Value) Value { return Value{t: TypeArray, arr: vs} }

// Object returns a string-keyed object value.
func Object(m map[string]Value) Value { return Value{t: TypeObject, obj: m} }

// Type returns the kind held by v.
func (v Value) Type() ValueType { return v.t }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.t == TypeNull }

// AsBool returns the boolean and whether v holds one.
func (v Value) AsBool() (bool, bool) { return v.b, v.t == TypeBool }

// AsInt returns the integer and whether v holds one.
func (v Value) AsInt() (int64, bool) { return v.i, v.t == TypeInt }

// AsFloat returns the float and whether v holds one. Integers widen.
func (v Value) AsFloat() (float64, bool) {
	switch v.t {
	case TypeFloat:
		return v.f, true
	case TypeInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string and whether v holds a string or UUID.
func (v Value) AsString() (string, bool) {
	return v.s, v.t == TypeString || v.t == TypeUUID
}

// AsBytes returns the bytes and whether v holds bytes.
func (v Value) AsBytes() ([]byte, bool) { return v.by, v.t == TypeBytes }

// AsDateTime returns the timestamp and whether v holds one.
func (v Value) AsDateTime() (time.Time, bool) { return v.tm, v.t == TypeDateTime }

// AsJSON returns the structured data and whether v holds a JSON value.
func (v Value) AsJSON() (any, bool) { return v.js, v.t == TypeJSON }

// AsArray returns the element slice and whether v holds an array.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.t == TypeArray }

// AsObject returns the member map and whether v holds an object.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.t == TypeObject }

// Equal reports whether v and w are equal under the value model.
// Integer/float comparisons widen to float; everything else compares
// kind-then-payload.
func (v Value) Equal(w Value) bool {
	if (v.t == TypeInt || v.t == TypeFloat) && (w.t == TypeInt || w.t == TypeFloat) {
		vf, _ := v.AsFloat()
		wf, _ := w.AsFloat()
		return vf == wf
	}
	if v.t != w.t {
		return false
	}
	switch v.t {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == w.b
	case TypeString, TypeUUID:
		return v.s == w.s
	case TypeBytes:
		return bytes.Equal(v.by, w.by)
	case TypeDateTime:
		return v.tm.Equal(w.tm)
	case TypeJSON:
		vb, err1 := json.Marshal(v.js)
		wb, err2 := json.Marshal(w.js)
		return err1 == nil && err2 == nil && bytes.Equal(vb, wb)
	case TypeArray:
		if len(v.arr) != len(w.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(w.arr[i]) {
				return false
			}
		}
		return true
	case TypeObject:
		if len(v.obj) != len(w.obj) {
			return false
		}
		for k, ve := range v.obj {
			we, ok := w.obj[k]
			if !ok || !ve.Equal(we) {
				return false
			}
		}
		return true
	}
	return false
}

// String implements fmt.Stringer for logging and signatures.
func (v Value) String() string {
	switch v.t {
	case TypeNull:
		return "null"
	case TypeBool:
		return fmt.Sprintf("%t", v.b)
	case TypeInt:
		return fmt.Sprintf("%d", v.i)
	case TypeFloat:
		return fmt.Sprintf("%g", v.f)
	case TypeString, TypeUUID:
		return v.s
	case TypeBytes:
		return base64.StdEncoding.EncodeToString(v.by)
	case TypeDateTime:
		return v.tm.Format(time.RFC3339Nano)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%s>", v.t)
		}
		return string(b)
	}
}

// taggedValue is the wire form of a Value: {"type": "<tag>", "value": …}.
type taggedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes v in the tag-discriminated wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.t {
	case TypeNull:
		return json.Marshal(taggedValue{Type: "null"})
	case TypeBool:
		payload = v.b
	case TypeInt:
		payload = v.i
	case TypeFloat:
		payload = v.f
	case TypeString, TypeUUID:
		payload = v.s
	case TypeBytes:
		payload = base64.StdEncoding.EncodeToString(v.by)
	case TypeDateTime:
		payload = v.tm.Format(time.RFC3339Nano)
	case TypeJSON:
		payload = v.js
	case TypeArray:
		payload = v.arr
	case TypeObject:
		payload = v.obj
	default:
		return nil, fmt.Errorf("unidb: cannot marshal value of type %d", v.t)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedValue{Type: v.t.String(), Value: raw})
}

// UnmarshalJSON decodes the tag-discriminated wire form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	switch tv.Type {
	case "null":
		*v = Null()
	case "bool":
		var b bool
		if err := json.Unmarshal(tv.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case "int":
		var i int64
		if err := json.Unmarshal(tv.Value, &i); err != nil {
			return err
		}
		*v = Int(i)
	case "float":
		var f float64
		if err := json.Unmarshal(tv.Value, &f); err != nil {
			return err
		}
		*v = Float(f)
	case "string":
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case "uuid":
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return err
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		*v = UUID(u)
	case "bytes":
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		*v = Bytes(b)
	case "datetime":
		var s string
		if err := json.Unmarshal(tv.Value, &s); err != nil {
			return err
		}
		tm, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*v = DateTime(tm)
	case "json":
		var js any
		if err := json.Unmarshal(tv.Value, &js); err != nil {
			return err
		}
		*v = JSON(js)
	case "array":
		var arr []Value
		if err := json.Unmarshal(tv.Value, &arr); err != nil {
			return err
		}
		*v = Array(arr...)
	case "object":
		var obj map[string]Value
		if err := json.Unmarshal(tv.Value, &obj); err != nil {
			return err
		}
		*v = Object(obj)
	default:
		return fmt.Errorf("unidb: unknown value tag %q", tv.Type)
	}
	return nil
}

// Infer converts a plain Go value (typically decoded from untagged JSON)
// into a Value. JSON numbers become integers when they have no fractional
// part; objects and arrays recurse.
func Infer(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		if x == float64(int64(x)) {
			return Int(int64(x))
		}
		return Float(x)
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case time.Time:
		return DateTime(x)
	case uuid.UUID:
		return UUID(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		f, _ := x.Float64()
		return Float(f)
	case []any:
		vs := make([]Value, len(x))
		for i, e := range x {
			vs[i] = Infer(e)
		}
		return Array(vs...)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = Infer(e)
		}
		return Object(m)
	default:
		return JSON(x)
	}
}

// Native converts v into a plain Go value suitable for untagged JSON
// encoding or driver parameters. Timestamps render as RFC 3339.
func (v Value) Native() any {
	switch v.t {
	case TypeNull:
		return nil
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString, TypeUUID:
		return v.s
	case TypeBytes:
		return v.by
	case TypeDateTime:
		return v.tm.Format(time.RFC3339Nano)
	case TypeJSON:
		return v.js
	case TypeArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Native()
		}
		return out
	case TypeObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Native()
		}
		return out
	}
	return nil
}

// Record is a single row or document keyed by logical field name.
type Record = map[string]Value
