package unidb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Operator is a backend-agnostic comparison operator. Each adapter
// translates it into its own dialect; the semantics in §operator docs hold
// across backends.
type Operator int

const (
	// OpEQ matches values equal to the operand.
	OpEQ Operator = iota + 1
	// OpNE matches values not equal to the operand.
	OpNE
	// OpGT matches values greater than the operand.
	OpGT
	// OpGTE matches values greater than or equal to the operand.
	OpGTE
	// OpLT matches values less than the operand.
	OpLT
	// OpLTE matches values less than or equal to the operand.
	OpLTE
	// OpContains matches strings containing the operand (case-insensitive)
	// and arrays containing the operand as a member.
	OpContains
	// OpStartsWith matches strings with the operand prefix (case-insensitive).
	OpStartsWith
	// OpEndsWith matches strings with the operand suffix (case-insensitive).
	OpEndsWith
	// OpIn matches values contained in the array operand.
	OpIn
	// OpNotIn matches values not contained in the array operand.
	OpNotIn
	// OpRegex matches strings against the operand as an extended regular
	// expression, case-insensitive by default.
	OpRegex
	// OpExists matches records where the field is present.
	OpExists
	// OpIsNull matches records where the field value is null.
	OpIsNull
	// OpIsNotNull matches records where the field value is not null.
	OpIsNotNull
)

// String returns the operator name used in signatures and the bridge format.
func (o Operator) String() string {
	switch o {
	case OpEQ:
		return "eq"
	case OpNE:
		return "ne"
	case OpGT:
		return "gt"
	case OpGTE:
		return "gte"
	case OpLT:
		return "lt"
	case OpLTE:
		return "lte"
	case OpContains:
		return "contains"
	case OpStartsWith:
		return "starts_with"
	case OpEndsWith:
		return "ends_with"
	case OpIn:
		return "in"
	case OpNotIn:
		return "not_in"
	case OpRegex:
		return "regex"
	case OpExists:
		return "exists"
	case OpIsNull:
		return "is_null"
	case OpIsNotNull:
		return "is_not_null"
	default:
		return "unknown"
	}
}

// ParseOperator returns the operator named by s, accepting both snake_case
// and dash forms.
func ParseOperator(s string) (Operator, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "_") {
	case "eq", "=", "==":
		return OpEQ, nil
	case "ne", "!=", "<>":
		return OpNE, nil
	case "gt", ">":
		return OpGT, nil
	case "gte", ">=":
		return OpGTE, nil
	case "lt", "<":
		return OpLT, nil
	case "lte", "<=":
		return OpLTE, nil
	case "contains":
		return OpContains, nil
	case "starts_with", "startswith":
		return OpStartsWith, nil
	case "ends_with", "endswith":
		return OpEndsWith, nil
	case "in":
		return OpIn, nil
	case "not_in", "notin":
		return OpNotIn, nil
	case "regex":
		return OpRegex, nil
	case "exists":
		return OpExists, nil
	case "is_null", "isnull":
		return OpIsNull, nil
	case "is_not_null", "isnotnull":
		return OpIsNotNull, nil
	}
	return 0, fmt.Errorf("unidb: unknown operator %q", s)
}

// Logical joins the children of a condition group.
type Logical int

const (
	// And requires every child to match. An empty AND group is vacuously true.
	And Logical = iota
	// Or requires at least one child to match. An empty OR group matches nothing.
	Or
)

// String returns "and" or "or".
func (l Logical) String() string {
	if l == Or {
		return "or"
	}
	return "and"
}

// Condition is a leaf predicate: field, operator, operand.
type Condition struct {
	Field    string
	Operator Operator
	Value    Value
}

// Node is a member of a condition group: either a leaf or a nested group.
// Exactly one of Cond and Group is meaningful, discriminated by Leaf.
type Node struct {
	Leaf  bool
	Cond  Condition
	Group Group
}

// Group is an AND/OR tree of conditions. Groups nest arbitrarily.
type Group struct {
	Logical  Logical
	Children []Node
}

// Leaf wraps a single condition as a group node.
func Leaf(c Condition) Node { return Node{Leaf: true, Cond: c} }

// AndGroup returns an AND group over the given nodes.
func AndGroup(children ...Node) Group { return Group{Logical: And, Children: children} }

// OrGroup returns an OR group over the given nodes.
func OrGroup(children ...Node) Group { return Group{Logical: Or, Children: children} }

// Nested wraps a group as a child node of an outer group.
func Nested(g Group) Node { return Node{Group: g} }

// GroupOf wraps a flat condition list in an implicit AND group, the form
// the find operation uses internally.
func GroupOf(conds []Condition) Group {
	g := Group{Logical: And}
	for _, c := range conds {
		g.Children = append(g.Children, Leaf(c))
	}
	return g
}

// Field starts a fluent condition on the named field:
//
//	unidb.Field("name").Contains("a")
//	unidb.Field("age").GTE(unidb.Int(18))
type Field string

// EQ returns a field = value condition.
func (f Field) EQ(v Value) Condition { return Condition{Field: string(f), Operator: OpEQ, Value: v} }

// NE returns a field != value condition.
func (f Field) NE(v Value) Condition { return Condition{Field: string(f), Operator: OpNE, Value: v} }

// GT returns a field > value condition.
func (f Field) GT(v Value) Condition { return Condition{Field: string(f), Operator: OpGT, Value: v} }

// GTE returns a field >= value condition.
func (f Field) GTE(v Value) Condition { return Condition{Field: string(f), Operator: OpGTE, Value: v} }

// LT returns a field < value condition.
func (f Field) LT(v Value) Condition { return Condition{Field: string(f), Operator: OpLT, Value: v} }

// LTE returns a field <= value condition.
func (f Field) LTE(v Value) Condition { return Condition{Field: string(f), Operator: OpLTE, Value: v} }

// Contains returns a substring/membership condition.
func (f Field) Contains(s string) Condition {
	return Condition{Field: string(f), Operator: OpContains, Value: String(s)}
}

// StartsWith returns a prefix condition.
func (f Field) StartsWith(s string) Condition {
	return Condition{Field: string(f), Operator: OpStartsWith, Value: String(s)}
}

// EndsWith returns a suffix condition.
func (f Field) EndsWith(s string) Condition {
	return Condition{Field: string(f), Operator: OpEndsWith, Value: String(s)}
}

// In returns a membership condition over the given values.
func (f Field) In(vs ...Value) Condition {
	return Condition{Field: string(f), Operator: OpIn, Value: Array(vs...)}
}

// NotIn returns a negated membership condition over the given values.
func (f Field) NotIn(vs ...Value) Condition {
	return Condition{Field: string(f), Operator: OpNotIn, Value: Array(vs...)}
}

// Regex returns a regular-expression condition.
func (f Field) Regex(expr string) Condition {
	return Condition{Field: string(f), Operator: OpRegex, Value: String(expr)}
}

// Exists returns a field-presence condition.
func (f Field) Exists() Condition {
	return Condition{Field: string(f), Operator: OpExists, Value: Null()}
}

// IsNull returns a null-value condition.
func (f Field) IsNull() Condition {
	return Condition{Field: string(f), Operator: OpIsNull, Value: Null()}
}

// IsNotNull returns a non-null-value condition.
func (f Field) IsNotNull() Condition {
	return Condition{Field: string(f), Operator: OpIsNotNull, Value: Null()}
}

// Hash returns a stable 64-bit hash of the canonical traversal of the tree,
// used by the cached decorator to address group queries. Equal trees hash
// equal regardless of how they were assembled.
func (g Group) Hash() uint64 {
	d := xxhash.New()
	writeGroup(d, g)
	return d.Sum64()
}

func writeGroup(d *xxhash.Digest, g Group) {
	d.WriteString("(")
	d.WriteString(g.Logical.String())
	for _, n := range g.Children {
		if n.Leaf {
			writeCondition(d, n.Cond)
		} else {
			writeGroup(d, n.Group)
		}
	}
	d.WriteString(")")
}

func writeCondition(d *xxhash.Digest, c Condition) {
	d.WriteString("[")
	d.WriteString(c.Field)
	d.WriteString(":")
	d.WriteString(c.Operator.String())
	d.WriteString(":")
	writeValue(d, c.Value)
	d.WriteString("]")
}

// writeValue serialises a value deterministically; object keys are sorted
// so map iteration order cannot perturb the hash.
func writeValue(d *xxhash.Digest, v Value) {
	d.WriteString(v.Type().String())
	d.WriteString("=")
	switch v.Type() {
	case TypeArray:
		arr, _ := v.AsArray()
		for _, e := range arr {
			writeValue(d, e)
		}
	case TypeObject:
		obj, _ := v.AsObject()
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.WriteString(k)
			d.WriteString(":")
			writeValue(d, obj[k])
		}
	default:
		d.WriteString(v.String())
	}
}
