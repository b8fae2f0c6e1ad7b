package sql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/dialect"
)

// Op is the statement kind a Builder emits.
type Op int

const (
	// OpSelect emits a SELECT statement.
	OpSelect Op = iota
	// OpInsert emits an INSERT statement.
	OpInsert
	// OpUpdate emits an UPDATE statement.
	OpUpdate
	// OpDelete emits a DELETE statement.
	OpDelete
)

// Builder assembles one parameterised statement for one dialect. It is not
// safe for concurrent use; adapters construct one per operation.
//
// Identifiers (table and field names) are emitted unquoted. The builder does
// not defend against untrusted identifier input; callers validate identifier
// shape before building. Values are always parameterised.
type Builder struct {
	dialect   string
	op        Op
	table     string
	columns   []string
	values    map[string]unidb.Value
	group     *unidb.Group
	sort      []unidb.SortField
	skip      int64
	limit     int64
	returning []string
	countAll  bool
}

// New returns a builder for the given dialect tag (dialect.Postgres,
// dialect.MySQL or dialect.SQLite).
func New(dialectTag string) *Builder {
	return &Builder{dialect: dialectTag}
}

// Dialect returns the builder's dialect tag.
func (b *Builder) Dialect() string { return b.dialect }

// Select starts a SELECT against the given table.
func (b *Builder) Select(table string) *Builder {
	b.op, b.table = OpSelect, table
	return b
}

// Insert starts an INSERT into the given table.
func (b *Builder) Insert(table string) *Builder {
	b.op, b.table = OpInsert, table
	return b
}

// Update starts an UPDATE of the given table.
func (b *Builder) Update(table string) *Builder {
	b.op, b.table = OpUpdate, table
	return b
}

// Delete starts a DELETE from the given table.
func (b *Builder) Delete(table string) *Builder {
	b.op, b.table = OpDelete, table
	return b
}

// Columns projects a SELECT to the named fields. Empty means all fields.
func (b *Builder) Columns(fields ...string) *Builder {
	b.columns = fields
	return b
}

// CountAll replaces the SELECT projection with COUNT(*).
func (b *Builder) CountAll() *Builder {
	b.countAll = true
	return b
}

// Values sets the column values for INSERT and UPDATE. Columns are emitted
// in sorted name order so the parameter vector is deterministic.
func (b *Builder) Values(values map[string]unidb.Value) *Builder {
	b.values = values
	return b
}

// Where constrains the statement with a flat condition list, joined by AND.
func (b *Builder) Where(conds []unidb.Condition) *Builder {
	g := unidb.GroupOf(conds)
	b.group = &g
	return b
}

// WhereGroup constrains the statement with a condition group tree.
func (b *Builder) WhereGroup(g unidb.Group) *Builder {
	b.group = &g
	return b
}

// OrderBy appends the sort specification.
func (b *Builder) OrderBy(sorts []unidb.SortField) *Builder {
	b.sort = sorts
	return b
}

// Skip sets the pagination offset.
func (b *Builder) Skip(n int64) *Builder {
	b.skip = n
	return b
}

// Limit caps the number of rows.
func (b *Builder) Limit(n int64) *Builder {
	b.limit = n
	return b
}

// Returning appends a RETURNING clause to INSERT. The mysql dialect cannot
// express RETURNING; Build refuses it and the adapter performs a follow-up
// LAST_INSERT_ID() read instead.
func (b *Builder) Returning(fields ...string) *Builder {
	b.returning = fields
	return b
}

// Build emits the statement and its ordered parameter vector.
func (b *Builder) Build() (string, []unidb.Value, error) {
	switch b.op {
	case OpSelect:
		return b.buildSelect()
	case OpInsert:
		return b.buildInsert()
	case OpUpdate:
		return b.buildUpdate()
	case OpDelete:
		return b.buildDelete()
	}
	return "", nil, fmt.Errorf("dialect/sql: unknown statement kind %d", b.op)
}

func (b *Builder) buildSelect() (string, []unidb.Value, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	switch {
	case b.countAll:
		sb.WriteString("COUNT(*)")
	case len(b.columns) > 0:
		sb.WriteString(strings.Join(b.columns, ", "))
	default:
		sb.WriteString("*")
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	args, err := b.writeWhere(&sb, 1)
	if err != nil {
		return "", nil, err
	}
	if len(b.sort) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, s := range b.sort {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s.Field)
			if s.Direction == unidb.Desc {
				sb.WriteString(" DESC")
			} else {
				sb.WriteString(" ASC")
			}
		}
	}
	switch {
	case b.limit > 0:
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.FormatInt(b.limit, 10))
	case b.skip > 0 && b.dialect == dialect.SQLite:
		// SQLite cannot express OFFSET without LIMIT.
		sb.WriteString(" LIMIT -1")
	case b.skip > 0 && b.dialect == dialect.MySQL:
		// Neither can MySQL; the documented idiom is a huge limit.
		sb.WriteString(" LIMIT 18446744073709551615")
	}
	if b.skip > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.FormatInt(b.skip, 10))
	}
	return sb.String(), args, nil
}

func (b *Builder) buildInsert() (string, []unidb.Value, error) {
	if len(b.values) == 0 {
		return "", nil, fmt.Errorf("dialect/sql: insert into %s with no values", b.table)
	}
	cols := sortedKeys(b.values)
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES (")
	args := make([]unidb.Value, 0, len(cols))
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.placeholder(i + 1))
		args = append(args, b.values[c])
	}
	sb.WriteString(")")
	if len(b.returning) > 0 {
		if b.dialect == dialect.MySQL {
			return "", nil, fmt.Errorf("dialect/sql: RETURNING is not supported by the mysql dialect")
		}
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(b.returning, ", "))
	}
	return sb.String(), args, nil
}

func (b *Builder) buildUpdate() (string, []unidb.Value, error) {
	if len(b.values) == 0 {
		return "", nil, fmt.Errorf("dialect/sql: update %s with no values", b.table)
	}
	cols := sortedKeys(b.values)
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	args := make([]unidb.Value, 0, len(cols))
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c)
		sb.WriteString(" = ")
		sb.WriteString(b.placeholder(i + 1))
		args = append(args, b.values[c])
	}
	whereArgs, err := b.writeWhere(&sb, len(cols)+1)
	if err != nil {
		return "", nil, err
	}
	return sb.String(), append(args, whereArgs...), nil
}

func (b *Builder) buildDelete() (string, []unidb.Value, error) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.table)
	args, err := b.writeWhere(&sb, 1)
	if err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

// writeWhere appends the WHERE clause for the builder's group, numbering
// placeholders from start. An absent or vacuously-true group writes nothing;
// an empty OR group writes a statically false term.
func (b *Builder) writeWhere(sb *strings.Builder, start int) ([]unidb.Value, error) {
	if b.group == nil {
		return nil, nil
	}
	clause, args, _, err := b.groupClause(*b.group, start)
	if err != nil {
		return nil, err
	}
	if clause == "" {
		if b.group.Logical == unidb.Or {
			sb.WriteString(" WHERE 1 = 0")
		}
		return nil, nil
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(clause)
	return args, nil
}

// groupClause emits one group. Children that emit nothing are dropped as
// the group's identity element; a group with a single surviving child emits
// it bare, otherwise the joined children are parenthesised.
func (b *Builder) groupClause(g unidb.Group, start int) (string, []unidb.Value, int, error) {
	var (
		clauses []string
		args    []unidb.Value
		next    = start
	)
	for _, n := range g.Children {
		var (
			clause string
			cargs  []unidb.Value
			err    error
		)
		if n.Leaf {
			clause, cargs, next, err = b.conditionClause(n.Cond, next)
		} else {
			clause, cargs, next, err = b.groupClause(n.Group, next)
		}
		if err != nil {
			return "", nil, 0, err
		}
		if clause == "" {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, cargs...)
	}
	switch len(clauses) {
	case 0:
		return "", nil, next, nil
	case 1:
		return clauses[0], args, next, nil
	}
	sep := " AND "
	if g.Logical == unidb.Or {
		sep = " OR "
	}
	return "(" + strings.Join(clauses, sep) + ")", args, next, nil
}

// conditionClause emits one leaf predicate, numbering placeholders from
// start and returning the next free index.
func (b *Builder) conditionClause(c unidb.Condition, start int) (string, []unidb.Value, int, error) {
	switch c.Operator {
	case unidb.OpEQ:
		return c.Field + " = " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
	case unidb.OpNE:
		return c.Field + " != " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
	case unidb.OpGT:
		return c.Field + " > " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
	case unidb.OpGTE:
		return c.Field + " >= " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
	case unidb.OpLT:
		return c.Field + " < " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
	case unidb.OpLTE:
		return c.Field + " <= " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
	case unidb.OpContains:
		return c.Field + " LIKE " + b.placeholder(start), []unidb.Value{likeValue(c.Value, "%", "%")}, start + 1, nil
	case unidb.OpStartsWith:
		return c.Field + " LIKE " + b.placeholder(start), []unidb.Value{likeValue(c.Value, "", "%")}, start + 1, nil
	case unidb.OpEndsWith:
		return c.Field + " LIKE " + b.placeholder(start), []unidb.Value{likeValue(c.Value, "%", "")}, start + 1, nil
	case unidb.OpIn, unidb.OpNotIn:
		elems, ok := c.Value.AsArray()
		if !ok {
			return "", nil, 0, fmt.Errorf("dialect/sql: %s on %s requires an array operand", c.Operator, c.Field)
		}
		if len(elems) == 0 {
			// Zero-element membership is statically decided.
			if c.Operator == unidb.OpIn {
				return "1 = 0", nil, start, nil
			}
			return "1 = 1", nil, start, nil
		}
		phs := make([]string, len(elems))
		for i := range elems {
			phs[i] = b.placeholder(start + i)
		}
		kw := " IN ("
		if c.Operator == unidb.OpNotIn {
			kw = " NOT IN ("
		}
		return c.Field + kw + strings.Join(phs, ", ") + ")", elems, start + len(elems), nil
	case unidb.OpRegex:
		if b.dialect == dialect.Postgres {
			return c.Field + " ~* " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
		}
		return c.Field + " REGEXP " + b.placeholder(start), []unidb.Value{c.Value}, start + 1, nil
	case unidb.OpExists, unidb.OpIsNotNull:
		return c.Field + " IS NOT NULL", nil, start, nil
	case unidb.OpIsNull:
		return c.Field + " IS NULL", nil, start, nil
	}
	return "", nil, 0, fmt.Errorf("dialect/sql: unknown operator %d", c.Operator)
}

// placeholder renders the n'th parameter marker for the dialect.
func (b *Builder) placeholder(n int) string {
	if b.dialect == dialect.Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// likeValue wraps a string operand with the LIKE wildcards; non-string
// operands pass through untouched.
func likeValue(v unidb.Value, prefix, suffix string) unidb.Value {
	if s, ok := v.AsString(); ok {
		return unidb.String(prefix + s + suffix)
	}
	return v
}

func sortedKeys(m map[string]unidb.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
