// Package field provides fluent builders for the field definitions a model
// registers with the schema manager.
package field

// Type is the logical field type vocabulary shared by all backends.
type Type int

const (
	// TypeInvalid is the zero Type.
	TypeInvalid Type = iota
	// TypeInt is a 64-bit integer with optional bounds.
	TypeInt
	// TypeFloat is a 64-bit float with optional bounds.
	TypeFloat
	// TypeBool is a boolean.
	TypeBool
	// TypeString is a string with optional length bounds and pattern.
	TypeString
	// TypeDateTime is a timestamp.
	TypeDateTime
	// TypeUUID is a UUID.
	TypeUUID
	// TypeJSON is arbitrary structured data.
	TypeJSON
	// TypeBytes is raw binary data.
	TypeBytes
	// TypeArray is an ordered list of one element type.
	TypeArray
	// TypeObject is a named bundle of sub-fields.
	TypeObject
	// TypeRef is a reference to another table's ID.
	TypeRef
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "boolean"
	case TypeString:
		return "string"
	case TypeDateTime:
		return "datetime"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	case TypeBytes:
		return "binary"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	case TypeRef:
		return "reference"
	default:
		return "invalid"
	}
}

// Descriptor is the materialised definition of one field.
type Descriptor struct {
	Name     string
	Type     Type
	Required bool
	Unique   bool
	Indexed  bool
	Default  any
	Comment  string

	// Integer bounds.
	MinInt *int64
	MaxInt *int64
	// Float bounds.
	MinFloat *float64
	MaxFloat *float64
	// String bounds and pattern.
	MinLen  *int
	MaxLen  *int
	Pattern string

	// Elem is the element definition for array fields.
	Elem *Descriptor
	// Fields are the sub-field definitions for object fields.
	Fields map[string]*Descriptor
	// RefTable is the referenced table for reference fields.
	RefTable string
}

// Builder assembles a Descriptor fluently. All field constructors return a
// *Builder; Descriptor() materialises it.
type Builder struct {
	desc Descriptor
}

// Int returns a new integer field with the given name.
func Int(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeInt}}
}

// Float returns a new float field with the given name.
func Float(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeFloat}}
}

// Bool returns a new boolean field with the given name.
func Bool(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeBool}}
}

// String returns a new string field with the given name.
func String(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeString}}
}

// Time returns a new datetime field with the given name.
func Time(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeDateTime}}
}

// UUID returns a new UUID field with the given name.
func UUID(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeUUID}}
}

// JSON returns a new JSON field with the given name.
func JSON(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeJSON}}
}

// Bytes returns a new binary field with the given name.
func Bytes(name string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeBytes}}
}

// Array returns a new array field whose elements follow elem's definition.
func Array(name string, elem *Builder) *Builder {
	e := elem.Descriptor()
	return &Builder{desc: Descriptor{Name: name, Type: TypeArray, Elem: e}}
}

// Object returns a new object field with the given named sub-fields.
func Object(name string, fields ...*Builder) *Builder {
	m := make(map[string]*Descriptor, len(fields))
	for _, f := range fields {
		d := f.Descriptor()
		m[d.Name] = d
	}
	return &Builder{desc: Descriptor{Name: name, Type: TypeObject, Fields: m}}
}

// Ref returns a new reference field pointing at the given table.
func Ref(name, table string) *Builder {
	return &Builder{desc: Descriptor{Name: name, Type: TypeRef, RefTable: table}}
}

// Required marks the field as non-nullable.
func (b *Builder) Required() *Builder {
	b.desc.Required = true
	return b
}

// Unique adds a uniqueness constraint.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Indexed requests a secondary index on the field.
func (b *Builder) Indexed() *Builder {
	b.desc.Indexed = true
	return b
}

// Default sets the field's default value.
func (b *Builder) Default(v any) *Builder {
	b.desc.Default = v
	return b
}

// Comment sets the field's description.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Min sets the integer lower bound.
func (b *Builder) Min(v int64) *Builder {
	b.desc.MinInt = &v
	return b
}

// Max sets the integer upper bound.
func (b *Builder) Max(v int64) *Builder {
	b.desc.MaxInt = &v
	return b
}

// Range sets both integer bounds.
func (b *Builder) Range(min, max int64) *Builder {
	return b.Min(min).Max(max)
}

// MinFloat sets the float lower bound.
func (b *Builder) MinFloat(v float64) *Builder {
	b.desc.MinFloat = &v
	return b
}

// MaxFloat sets the float upper bound.
func (b *Builder) MaxFloat(v float64) *Builder {
	b.desc.MaxFloat = &v
	return b
}

// MinLen sets the minimum string length.
func (b *Builder) MinLen(n int) *Builder {
	b.desc.MinLen = &n
	return b
}

// MaxLen sets the maximum string length.
func (b *Builder) MaxLen(n int) *Builder {
	b.desc.MaxLen = &n
	return b
}

// Match constrains string values to the given regular expression.
func (b *Builder) Match(pattern string) *Builder {
	b.desc.Pattern = pattern
	return b
}

// Descriptor materialises the definition.
func (b *Builder) Descriptor() *Descriptor {
	d := b.desc
	return &d
}
