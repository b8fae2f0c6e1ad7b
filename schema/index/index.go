// Package index provides fluent builders for the secondary indexes a model
// registers with the schema manager.
package index

// Descriptor is the materialised definition of one index.
type Descriptor struct {
	// Name is the index name; empty derives "idx_<table>_<fields>" at
	// creation time.
	Name string
	// Fields are the indexed columns in order.
	Fields []string
	// Unique adds a uniqueness constraint.
	Unique bool
}

// Builder assembles a Descriptor fluently.
type Builder struct {
	desc Descriptor
}

// Fields returns a new index over the given columns.
func Fields(fields ...string) *Builder {
	return &Builder{desc: Descriptor{Fields: fields}}
}

// Unique marks the index unique.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Name overrides the derived index name.
func (b *Builder) Name(name string) *Builder {
	b.desc.Name = name
	return b
}

// Descriptor materialises the definition.
func (b *Builder) Descriptor() Descriptor {
	return b.desc
}
