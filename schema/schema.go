// Package schema manages table schemas: the registry of declared model
// schemas, inference from first writes, and the per-table version registry.
package schema

import (
	"regexp"
	"sync"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/schema/field"
)

// patternCache memoises compiled field patterns; validation runs per write.
var patternCache sync.Map

func compilePattern(p string) (*regexp.Regexp, error) {
	if v, ok := patternCache.Load(p); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

// ColumnType is the physical column vocabulary adapters map to dialect
// types when emitting DDL.
type ColumnType int

const (
	// ColString is a bounded string (VARCHAR-class).
	ColString ColumnType = iota + 1
	// ColText is an unbounded string.
	ColText
	// ColLongText is a very large string.
	ColLongText
	// ColBigInt is a 64-bit integer.
	ColBigInt
	// ColDouble is a 64-bit float.
	ColDouble
	// ColBool is a boolean.
	ColBool
	// ColDateTime is a timestamp.
	ColDateTime
	// ColUUID is a UUID, string-typed on backends without a native kind.
	ColUUID
	// ColJSON is structured data, string-typed on backends without a
	// native kind.
	ColJSON
	// ColBlob is raw bytes.
	ColBlob
)

// Column is one physical column of a table schema.
type Column struct {
	Name          string
	Type          ColumnType
	Length        int // for ColString
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	Comment       string
}

// TableSchema is the physical shape of one table, either declared through
// the registry or inferred from a first write.
type TableSchema struct {
	Table   string
	Columns []Column
}

// Column returns the named column, or nil.
func (s *TableSchema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// InferFromData produces a schema by examining each value's kind. If the
// data carries no id key an auto-increment big-integer primary key named id
// is prepended.
func InferFromData(table string, data unidb.Record) *TableSchema {
	s := &TableSchema{Table: table}
	hasID := false
	for name, value := range data {
		if name == "id" {
			hasID = true
			_, isInt := value.AsInt()
			s.Columns = append(s.Columns, Column{
				Name:          "id",
				Type:          inferColumnType(value),
				Nullable:      false,
				PrimaryKey:    true,
				AutoIncrement: isInt,
				Unique:        true,
			})
			continue
		}
		// Inferred columns stay nullable: later writes to the same table
		// may omit fields the first write carried.
		s.Columns = append(s.Columns, Column{
			Name:     name,
			Type:     inferColumnType(value),
			Length:   inferLength(value),
			Nullable: true,
		})
	}
	if !hasID {
		s.Columns = append([]Column{{
			Name:          "id",
			Type:          ColBigInt,
			Nullable:      false,
			PrimaryKey:    true,
			AutoIncrement: true,
			Unique:        true,
		}}, s.Columns...)
	}
	return s
}

func inferColumnType(v unidb.Value) ColumnType {
	switch v.Type() {
	case unidb.TypeBool:
		return ColBool
	case unidb.TypeInt:
		return ColBigInt
	case unidb.TypeFloat:
		return ColDouble
	case unidb.TypeString:
		s, _ := v.AsString()
		switch {
		case len(s) > 65535:
			return ColLongText
		case len(s) > 255:
			return ColText
		default:
			return ColString
		}
	case unidb.TypeBytes:
		return ColBlob
	case unidb.TypeDateTime:
		return ColDateTime
	case unidb.TypeUUID:
		return ColUUID
	case unidb.TypeJSON, unidb.TypeArray, unidb.TypeObject:
		return ColJSON
	default:
		// Null infers a default-length string.
		return ColString
	}
}

func inferLength(v unidb.Value) int {
	if inferColumnType(v) == ColString {
		return 255
	}
	return 0
}

// FromFields converts declared field definitions into a table schema.
// Field iteration order is not meaningful; adapters sort columns when
// emitting DDL. An id primary key is prepended unless declared.
func FromFields(table string, fields map[string]*field.Descriptor) *TableSchema {
	s := &TableSchema{Table: table}
	hasID := false
	for name, d := range fields {
		col := Column{
			Name:     name,
			Type:     columnTypeOf(d),
			Nullable: !d.Required,
			Unique:   d.Unique,
			Comment:  d.Comment,
		}
		if d.Type == field.TypeString {
			col.Length = 255
			if d.MaxLen != nil && *d.MaxLen > 0 {
				col.Length = *d.MaxLen
			}
			if col.Length > 65535 {
				col.Type = ColLongText
				col.Length = 0
			} else if col.Length > 255 {
				col.Type = ColText
				col.Length = 0
			}
		}
		if name == "id" {
			hasID = true
			col.PrimaryKey = true
			col.Nullable = false
			col.Unique = true
			col.AutoIncrement = d.Type == field.TypeInt
		}
		s.Columns = append(s.Columns, col)
	}
	if !hasID {
		s.Columns = append([]Column{{
			Name:          "id",
			Type:          ColBigInt,
			Nullable:      false,
			PrimaryKey:    true,
			AutoIncrement: true,
			Unique:        true,
		}}, s.Columns...)
	}
	return s
}

func columnTypeOf(d *field.Descriptor) ColumnType {
	switch d.Type {
	case field.TypeInt, field.TypeRef:
		return ColBigInt
	case field.TypeFloat:
		return ColDouble
	case field.TypeBool:
		return ColBool
	case field.TypeString:
		return ColString
	case field.TypeDateTime:
		return ColDateTime
	case field.TypeUUID:
		return ColUUID
	case field.TypeJSON, field.TypeArray, field.TypeObject:
		return ColJSON
	case field.TypeBytes:
		return ColBlob
	default:
		return ColString
	}
}

// Validate checks a record against declared field definitions, returning a
// validation error before any I/O is performed.
func Validate(fields map[string]*field.Descriptor, data unidb.Record) error {
	for name, d := range fields {
		v, present := data[name]
		if !present || v.IsNull() {
			if d.Required && d.Default == nil {
				return unidb.NewValidationError(name, "required field is missing")
			}
			continue
		}
		if err := validateValue(name, d, v); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, d *field.Descriptor, v unidb.Value) error {
	switch d.Type {
	case field.TypeInt:
		n, ok := v.AsInt()
		if !ok {
			return unidb.NewValidationError(name, "expected an integer")
		}
		if d.MinInt != nil && n < *d.MinInt {
			return unidb.NewValidationError(name, "value below minimum")
		}
		if d.MaxInt != nil && n > *d.MaxInt {
			return unidb.NewValidationError(name, "value above maximum")
		}
	case field.TypeFloat:
		f, ok := v.AsFloat()
		if !ok {
			return unidb.NewValidationError(name, "expected a number")
		}
		if d.MinFloat != nil && f < *d.MinFloat {
			return unidb.NewValidationError(name, "value below minimum")
		}
		if d.MaxFloat != nil && f > *d.MaxFloat {
			return unidb.NewValidationError(name, "value above maximum")
		}
	case field.TypeBool:
		if _, ok := v.AsBool(); !ok {
			return unidb.NewValidationError(name, "expected a boolean")
		}
	case field.TypeString:
		s, ok := v.AsString()
		if !ok {
			return unidb.NewValidationError(name, "expected a string")
		}
		if d.MinLen != nil && len(s) < *d.MinLen {
			return unidb.NewValidationError(name, "string shorter than minimum length")
		}
		if d.MaxLen != nil && len(s) > *d.MaxLen {
			return unidb.NewValidationError(name, "string longer than maximum length")
		}
		if d.Pattern != "" {
			re, err := compilePattern(d.Pattern)
			if err != nil {
				return unidb.NewValidationError(name, "invalid field pattern")
			}
			if !re.MatchString(s) {
				return unidb.NewValidationError(name, "string does not match pattern")
			}
		}
	case field.TypeDateTime:
		if _, ok := v.AsDateTime(); !ok {
			return unidb.NewValidationError(name, "expected a datetime")
		}
	case field.TypeUUID:
		if v.Type() != unidb.TypeUUID && v.Type() != unidb.TypeString {
			return unidb.NewValidationError(name, "expected a uuid")
		}
	case field.TypeBytes:
		if _, ok := v.AsBytes(); !ok {
			return unidb.NewValidationError(name, "expected bytes")
		}
	case field.TypeArray:
		arr, ok := v.AsArray()
		if !ok {
			return unidb.NewValidationError(name, "expected an array")
		}
		if d.Elem != nil {
			for _, e := range arr {
				if err := validateValue(name, d.Elem, e); err != nil {
					return err
				}
			}
		}
	case field.TypeObject:
		obj, ok := v.AsObject()
		if !ok {
			return unidb.NewValidationError(name, "expected an object")
		}
		if len(d.Fields) > 0 {
			if err := Validate(d.Fields, obj); err != nil {
				return err
			}
		}
	}
	return nil
}
