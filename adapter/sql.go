package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/dialect"
	xsql "github.com/syssam/unidb/dialect/sql"
	"github.com/syssam/unidb/schema"
)

// booleanColumnNames is the fixed set of boolean-conventional column names.
// Integer columns with one of these names holding 0/1 rehydrate as booleans
// on the embedded backend, whose storage has no boolean affinity.
var booleanColumnNames = map[string]struct{}{
	"is_active":  {},
	"active":     {},
	"enabled":    {},
	"disabled":   {},
	"verified":   {},
	"is_admin":   {},
	"is_deleted": {},
}

// sqlConn owns one database/sql handle restricted to a single underlying
// connection, so a pool worker maps one-to-one onto a driver connection.
type sqlConn struct {
	db   *sql.DB
	conn xsql.Conn
}

// Ping probes the connection.
func (c *sqlConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// Exec exposes raw statement execution for the migration driver.
func (c *sqlConn) Exec(ctx context.Context, query string, args, v any) error {
	return c.conn.Exec(ctx, query, args, v)
}

// Close releases the connection.
func (c *sqlConn) Close() error { return c.db.Close() }

// sqlAdapter implements the Adapter contract for the three SQL dialects.
type sqlAdapter struct {
	dialect string
	// ensured remembers tables the auto-DDL path has handled; after the
	// first creation the path is not retried.
	ensured sync.Map
}

func newSQLAdapter(dialectTag string) *sqlAdapter {
	return &sqlAdapter{dialect: dialectTag}
}

var _ Adapter = (*sqlAdapter)(nil)

// Backend returns the backend tag.
func (a *sqlAdapter) Backend() string { return a.dialect }

// Connect opens one single-connection handle from the configuration.
func (a *sqlAdapter) Connect(ctx context.Context, cfg *unidb.DatabaseConfig) (Conn, error) {
	dsn, driverName, err := a.dsn(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, unidb.NewConnectionError(fmt.Sprintf("open %s: %v", a.dialect, err), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if lt := cfg.Pool.MaxLifetime; lt > 0 {
		db.SetConnMaxLifetime(lt)
	}
	pingCtx := ctx
	if to := cfg.Pool.ConnectionTimeout; to > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, to)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, unidb.NewConnectionError(fmt.Sprintf("ping %s: %v", a.dialect, err), err)
	}
	return &sqlConn{db: db, conn: xsql.Conn{ExecQuerier: db}}, nil
}

func (a *sqlAdapter) dsn(cfg *unidb.DatabaseConfig) (dsn, driverName string, err error) {
	switch a.dialect {
	case dialect.SQLite:
		spec := cfg.Connection.SQLite
		if spec == nil {
			return "", "", unidb.NewConfigError("missing sqlite connection spec")
		}
		if !spec.CreateIfMissing {
			if _, statErr := os.Stat(spec.Path); statErr != nil {
				return "", "", unidb.NewConfigError(fmt.Sprintf("sqlite file %q: %v", spec.Path, statErr))
			}
		}
		return "file:" + spec.Path, "sqlite", nil
	case dialect.Postgres:
		spec := cfg.Connection.Postgres
		if spec == nil {
			return "", "", unidb.NewConfigError("missing postgres connection spec")
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(spec.Username, spec.Password),
			Host:   fmt.Sprintf("%s:%d", spec.Host, spec.Port),
			Path:   "/" + spec.Database,
		}
		q := url.Values{}
		sslmode := spec.SSLMode
		if sslmode == "" {
			sslmode = "disable"
			if spec.TLS != nil && spec.TLS.Enabled {
				sslmode = "require"
			}
		}
		q.Set("sslmode", sslmode)
		if spec.TLS != nil {
			if spec.TLS.CAFile != "" {
				q.Set("sslrootcert", spec.TLS.CAFile)
			}
			if spec.TLS.CertFile != "" {
				q.Set("sslcert", spec.TLS.CertFile)
			}
			if spec.TLS.KeyFile != "" {
				q.Set("sslkey", spec.TLS.KeyFile)
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), "postgres", nil
	case dialect.MySQL:
		spec := cfg.Connection.MySQL
		if spec == nil {
			return "", "", unidb.NewConfigError("missing mysql connection spec")
		}
		mc := gomysql.NewConfig()
		mc.User = spec.Username
		mc.Passwd = spec.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", spec.Host, spec.Port)
		mc.DBName = spec.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		if spec.TLS != nil && spec.TLS.Enabled {
			if spec.TLS.InsecureSkipVerify {
				mc.TLSConfig = "skip-verify"
			} else {
				mc.TLSConfig = "true"
			}
		}
		if mc.Params == nil {
			mc.Params = map[string]string{}
		}
		for k, v := range spec.SSLOptions {
			mc.Params[k] = v
		}
		return mc.FormatDSN(), "mysql", nil
	}
	return "", "", unidb.NewUnsupportedDatabaseError(a.dialect)
}

func (a *sqlAdapter) sqlConn(conn Conn) (*sqlConn, error) {
	c, ok := conn.(*sqlConn)
	if !ok {
		return nil, unidb.NewConnectionError(fmt.Sprintf("expected a %s connection, got %T", a.dialect, conn), nil)
	}
	return c, nil
}

// validateIdentifiers rejects malformed table and field names before any
// statement is built; identifiers are emitted unquoted.
func validateIdentifiers(table string, fields ...string) error {
	if !xsql.ValidIdentifier(table) {
		return unidb.NewValidationError("table", fmt.Sprintf("invalid table name %q", table))
	}
	for _, f := range fields {
		if !xsql.ValidIdentifier(f) {
			return unidb.NewValidationError(f, fmt.Sprintf("invalid field name %q", f))
		}
	}
	return nil
}

func recordFieldNames(data unidb.Record) []string {
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	return names
}

func conditionFieldNames(g unidb.Group) []string {
	var names []string
	var walk func(unidb.Group)
	walk = func(g unidb.Group) {
		for _, n := range g.Children {
			if n.Leaf {
				names = append(names, n.Cond.Field)
			} else {
				walk(n.Group)
			}
		}
	}
	walk(g)
	return names
}

// arg converts a Value into a driver parameter for this dialect.
func (a *sqlAdapter) arg(v unidb.Value) any {
	switch v.Type() {
	case unidb.TypeNull:
		return nil
	case unidb.TypeBool:
		b, _ := v.AsBool()
		if a.dialect == dialect.SQLite {
			if b {
				return int64(1)
			}
			return int64(0)
		}
		return b
	case unidb.TypeInt:
		n, _ := v.AsInt()
		return n
	case unidb.TypeFloat:
		f, _ := v.AsFloat()
		return f
	case unidb.TypeString, unidb.TypeUUID:
		s, _ := v.AsString()
		return s
	case unidb.TypeBytes:
		b, _ := v.AsBytes()
		return b
	case unidb.TypeDateTime:
		tm, _ := v.AsDateTime()
		if a.dialect == dialect.SQLite {
			return tm.Format(time.RFC3339Nano)
		}
		return tm
	default:
		// JSON, arrays and objects are stored in the dialect's JSON or
		// text column as encoded JSON.
		b, err := json.Marshal(v.Native())
		if err != nil {
			return nil
		}
		return string(b)
	}
}

func (a *sqlAdapter) args(vals []unidb.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = a.arg(v)
	}
	return out
}

// Create inserts one record, transparently creating the table on first use,
// and returns the stored ID.
func (a *sqlAdapter) Create(ctx context.Context, conn Conn, table string, data unidb.Record) (unidb.Value, error) {
	c, err := a.sqlConn(conn)
	if err != nil {
		return unidb.Null(), err
	}
	if err := validateIdentifiers(table, recordFieldNames(data)...); err != nil {
		return unidb.Null(), err
	}
	if err := a.ensureTable(ctx, c, table, data); err != nil {
		return unidb.Null(), err
	}
	b := xsql.New(a.dialect).Insert(table).Values(data)
	explicitID, hasID := data["id"]
	if a.dialect != dialect.MySQL {
		b.Returning("id")
		query, vals, err := b.Build()
		if err != nil {
			return unidb.Null(), unidb.NewQueryError(err.Error(), err)
		}
		var rows xsql.Rows
		if err := c.conn.Query(ctx, query, a.args(vals), &rows); err != nil {
			return unidb.Null(), unidb.NewQueryError(fmt.Sprintf("insert into %s: %v", table, err), err)
		}
		defer rows.Close()
		if !rows.Next() {
			return unidb.Null(), unidb.NewQueryError(fmt.Sprintf("insert into %s returned no id", table), nil)
		}
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return unidb.Null(), unidb.NewSerializationError(fmt.Sprintf("scan generated id: %v", err), err)
		}
		return a.idValue(raw), nil
	}
	// The mysql dialect cannot express RETURNING; read LAST_INSERT_ID()
	// on the same connection after the insert.
	query, vals, err := b.Build()
	if err != nil {
		return unidb.Null(), unidb.NewQueryError(err.Error(), err)
	}
	var res xsql.Result
	if err := c.conn.Exec(ctx, query, a.args(vals), &res); err != nil {
		return unidb.Null(), unidb.NewQueryError(fmt.Sprintf("insert into %s: %v", table, err), err)
	}
	if hasID {
		return explicitID, nil
	}
	var rows xsql.Rows
	if err := c.conn.Query(ctx, "SELECT LAST_INSERT_ID()", []any{}, &rows); err != nil {
		return unidb.Null(), unidb.NewQueryError(fmt.Sprintf("read last insert id: %v", err), err)
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return unidb.Null(), unidb.NewSerializationError(fmt.Sprintf("scan last insert id: %v", err), err)
		}
	}
	return unidb.Int(id), nil
}

// idValue normalises a scanned id column into the value model.
func (a *sqlAdapter) idValue(raw any) unidb.Value {
	switch x := raw.(type) {
	case int64:
		return unidb.Int(x)
	case []byte:
		return unidb.String(string(x))
	case string:
		return unidb.String(x)
	case nil:
		return unidb.Null()
	default:
		return unidb.String(fmt.Sprintf("%v", x))
	}
}

// ensureTable runs the auto-DDL path once per table: infer a schema from
// the first write's value kinds and create the table. After the first pass
// the path is not retried; schema divergence is the caller's problem.
func (a *sqlAdapter) ensureTable(ctx context.Context, c *sqlConn, table string, data unidb.Record) error {
	if _, done := a.ensured.Load(table); done {
		return nil
	}
	exists, err := a.tableExists(ctx, c, table)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.createTable(ctx, c, schema.InferFromData(table, data)); err != nil {
			return err
		}
	}
	a.ensured.Store(table, struct{}{})
	return nil
}

// FindByID returns the record with the given id, if present.
func (a *sqlAdapter) FindByID(ctx context.Context, conn Conn, table string, id unidb.Value) (unidb.Record, bool, error) {
	recs, err := a.Find(ctx, conn, table, []unidb.Condition{unidb.Field("id").EQ(id)}, unidb.QueryOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(recs) == 0 {
		return nil, false, nil
	}
	return recs[0], true, nil
}

// Find runs a flat-condition query.
func (a *sqlAdapter) Find(ctx context.Context, conn Conn, table string, conds []unidb.Condition, opts unidb.QueryOptions) ([]unidb.Record, error) {
	return a.FindWithGroups(ctx, conn, table, unidb.GroupOf(conds), opts)
}

// FindWithGroups runs a group-tree query.
func (a *sqlAdapter) FindWithGroups(ctx context.Context, conn Conn, table string, group unidb.Group, opts unidb.QueryOptions) ([]unidb.Record, error) {
	c, err := a.sqlConn(conn)
	if err != nil {
		return nil, err
	}
	fields := append(conditionFieldNames(group), opts.Fields...)
	if err := validateIdentifiers(table, fields...); err != nil {
		return nil, err
	}
	b := xsql.New(a.dialect).Select(table).
		Columns(opts.Fields...).
		WhereGroup(group).
		OrderBy(opts.Sort).
		Skip(opts.Skip).
		Limit(opts.Limit)
	query, vals, err := b.Build()
	if err != nil {
		return nil, unidb.NewQueryError(err.Error(), err)
	}
	var rows xsql.Rows
	if err := c.conn.Query(ctx, query, a.args(vals), &rows); err != nil {
		return nil, unidb.NewQueryError(fmt.Sprintf("query %s: %v", table, err), err)
	}
	defer rows.Close()
	return a.scanRecords(rows)
}

// Update applies the value map to every matching row and returns the
// affected-row count.
func (a *sqlAdapter) Update(ctx context.Context, conn Conn, table string, conds []unidb.Condition, data unidb.Record) (int64, error) {
	c, err := a.sqlConn(conn)
	if err != nil {
		return 0, err
	}
	fields := append(recordFieldNames(data), conditionFieldNames(unidb.GroupOf(conds))...)
	if err := validateIdentifiers(table, fields...); err != nil {
		return 0, err
	}
	query, vals, err := xsql.New(a.dialect).Update(table).Values(data).Where(conds).Build()
	if err != nil {
		return 0, unidb.NewQueryError(err.Error(), err)
	}
	var res xsql.Result
	if err := c.conn.Exec(ctx, query, a.args(vals), &res); err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("update %s: %v", table, err), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("update %s: rows affected: %v", table, err), err)
	}
	return n, nil
}

// UpdateByID applies the value map to the record with the given id.
func (a *sqlAdapter) UpdateByID(ctx context.Context, conn Conn, table string, id unidb.Value, data unidb.Record) (bool, error) {
	n, err := a.Update(ctx, conn, table, []unidb.Condition{unidb.Field("id").EQ(id)}, data)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes every matching row and returns the affected-row count.
func (a *sqlAdapter) Delete(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (int64, error) {
	c, err := a.sqlConn(conn)
	if err != nil {
		return 0, err
	}
	if err := validateIdentifiers(table, conditionFieldNames(unidb.GroupOf(conds))...); err != nil {
		return 0, err
	}
	query, vals, err := xsql.New(a.dialect).Delete(table).Where(conds).Build()
	if err != nil {
		return 0, unidb.NewQueryError(err.Error(), err)
	}
	var res xsql.Result
	if err := c.conn.Exec(ctx, query, a.args(vals), &res); err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("delete from %s: %v", table, err), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("delete from %s: rows affected: %v", table, err), err)
	}
	return n, nil
}

// DeleteByID removes the record with the given id.
func (a *sqlAdapter) DeleteByID(ctx context.Context, conn Conn, table string, id unidb.Value) (bool, error) {
	n, err := a.Delete(ctx, conn, table, []unidb.Condition{unidb.Field("id").EQ(id)})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns the number of matching rows.
func (a *sqlAdapter) Count(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (uint64, error) {
	c, err := a.sqlConn(conn)
	if err != nil {
		return 0, err
	}
	if err := validateIdentifiers(table, conditionFieldNames(unidb.GroupOf(conds))...); err != nil {
		return 0, err
	}
	query, vals, err := xsql.New(a.dialect).Select(table).CountAll().Where(conds).Build()
	if err != nil {
		return 0, unidb.NewQueryError(err.Error(), err)
	}
	var rows xsql.Rows
	if err := c.conn.Query(ctx, query, a.args(vals), &rows); err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("count %s: %v", table, err), err)
	}
	defer rows.Close()
	var n uint64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, unidb.NewSerializationError(fmt.Sprintf("scan count: %v", err), err)
		}
	}
	return n, nil
}

// Exists reports whether any row matches.
func (a *sqlAdapter) Exists(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (bool, error) {
	n, err := a.Count(ctx, conn, table, conds)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateTable emits dialect DDL for the schema.
func (a *sqlAdapter) CreateTable(ctx context.Context, conn Conn, ts *schema.TableSchema) error {
	c, err := a.sqlConn(conn)
	if err != nil {
		return err
	}
	return a.createTable(ctx, c, ts)
}

func (a *sqlAdapter) createTable(ctx context.Context, c *sqlConn, ts *schema.TableSchema) error {
	cols := make([]schema.Column, len(ts.Columns))
	copy(cols, ts.Columns)
	// Deterministic DDL: primary key first, then name order.
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].PrimaryKey != cols[j].PrimaryKey {
			return cols[i].PrimaryKey
		}
		return cols[i].Name < cols[j].Name
	})
	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		if !xsql.ValidIdentifier(col.Name) {
			return unidb.NewValidationError(col.Name, fmt.Sprintf("invalid column name %q", col.Name))
		}
		defs = append(defs, a.columnDef(col))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ts.Table, strings.Join(defs, ", "))
	if err := c.conn.Exec(ctx, stmt, []any{}, nil); err != nil {
		return unidb.NewQueryError(fmt.Sprintf("create table %s: %v", ts.Table, err), err)
	}
	return nil
}

// columnDef renders one column definition in this dialect.
func (a *sqlAdapter) columnDef(col schema.Column) string {
	var sb strings.Builder
	sb.WriteString(col.Name)
	sb.WriteString(" ")
	if col.PrimaryKey && col.AutoIncrement {
		switch a.dialect {
		case dialect.SQLite:
			return col.Name + " INTEGER PRIMARY KEY AUTOINCREMENT"
		case dialect.Postgres:
			return col.Name + " SERIAL PRIMARY KEY"
		case dialect.MySQL:
			return col.Name + " BIGINT AUTO_INCREMENT PRIMARY KEY"
		}
	}
	sb.WriteString(a.columnType(col))
	if col.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	} else {
		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if col.Unique {
			sb.WriteString(" UNIQUE")
		}
	}
	return sb.String()
}

func (a *sqlAdapter) columnType(col schema.Column) string {
	switch a.dialect {
	case dialect.SQLite:
		switch col.Type {
		case schema.ColBigInt, schema.ColBool:
			return "INTEGER"
		case schema.ColDouble:
			return "REAL"
		case schema.ColBlob:
			return "BLOB"
		default:
			return "TEXT"
		}
	case dialect.Postgres:
		switch col.Type {
		case schema.ColString:
			if col.Length > 0 {
				return fmt.Sprintf("VARCHAR(%d)", col.Length)
			}
			return "VARCHAR(255)"
		case schema.ColText, schema.ColLongText:
			return "TEXT"
		case schema.ColBigInt:
			return "BIGINT"
		case schema.ColDouble:
			return "DOUBLE PRECISION"
		case schema.ColBool:
			return "BOOLEAN"
		case schema.ColDateTime:
			return "TIMESTAMPTZ"
		case schema.ColUUID:
			return "UUID"
		case schema.ColJSON:
			return "JSONB"
		case schema.ColBlob:
			return "BYTEA"
		}
	case dialect.MySQL:
		switch col.Type {
		case schema.ColString:
			if col.Length > 0 {
				return fmt.Sprintf("VARCHAR(%d)", col.Length)
			}
			return "VARCHAR(255)"
		case schema.ColText:
			return "TEXT"
		case schema.ColLongText:
			return "LONGTEXT"
		case schema.ColBigInt:
			return "BIGINT"
		case schema.ColDouble:
			return "DOUBLE"
		case schema.ColBool:
			return "TINYINT(1)"
		case schema.ColDateTime:
			return "DATETIME(3)"
		case schema.ColUUID:
			return "CHAR(36)"
		case schema.ColJSON:
			return "JSON"
		case schema.ColBlob:
			return "BLOB"
		}
	}
	return "TEXT"
}

// CreateIndex creates a secondary index.
func (a *sqlAdapter) CreateIndex(ctx context.Context, conn Conn, table, name string, fields []string, unique bool) error {
	c, err := a.sqlConn(conn)
	if err != nil {
		return err
	}
	if err := validateIdentifiers(table, append([]string{name}, fields...)...); err != nil {
		return err
	}
	kw := "INDEX"
	if unique {
		kw = "UNIQUE INDEX"
	}
	stmt := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kw, name, table, strings.Join(fields, ", "))
	if a.dialect == dialect.MySQL {
		// MySQL has no IF NOT EXISTS for indexes; duplicate-name errors
		// are tolerated below.
		stmt = fmt.Sprintf("CREATE %s %s ON %s (%s)", kw, name, table, strings.Join(fields, ", "))
	}
	if err := c.conn.Exec(ctx, stmt, []any{}, nil); err != nil {
		if a.dialect == dialect.MySQL && strings.Contains(err.Error(), "Duplicate key name") {
			return nil
		}
		return unidb.NewQueryError(fmt.Sprintf("create index %s on %s: %v", name, table, err), err)
	}
	return nil
}

// TableExists reports whether the table is present.
func (a *sqlAdapter) TableExists(ctx context.Context, conn Conn, table string) (bool, error) {
	c, err := a.sqlConn(conn)
	if err != nil {
		return false, err
	}
	return a.tableExists(ctx, c, table)
}

func (a *sqlAdapter) tableExists(ctx context.Context, c *sqlConn, table string) (bool, error) {
	if err := validateIdentifiers(table); err != nil {
		return false, err
	}
	var query string
	args := []any{table}
	switch a.dialect {
	case dialect.SQLite:
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?"
	case dialect.Postgres:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	case dialect.MySQL:
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	}
	var rows xsql.Rows
	if err := c.conn.Query(ctx, query, args, &rows); err != nil {
		return false, unidb.NewQueryError(fmt.Sprintf("table existence check for %s: %v", table, err), err)
	}
	defer rows.Close()
	return rows.Next(), nil
}

// DropTable removes the table. The auto-DDL memo is reset so a later create
// re-issues DDL.
func (a *sqlAdapter) DropTable(ctx context.Context, conn Conn, table string) error {
	c, err := a.sqlConn(conn)
	if err != nil {
		return err
	}
	if err := validateIdentifiers(table); err != nil {
		return err
	}
	if err := c.conn.Exec(ctx, "DROP TABLE IF EXISTS "+table, []any{}, nil); err != nil {
		return unidb.NewQueryError(fmt.Sprintf("drop table %s: %v", table, err), err)
	}
	a.ensured.Delete(table)
	return nil
}

// scanRecords converts result rows into value-model records.
func (a *sqlAdapter) scanRecords(rows xsql.Rows) ([]unidb.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, unidb.NewSerializationError(fmt.Sprintf("read columns: %v", err), err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, unidb.NewSerializationError(fmt.Sprintf("read column types: %v", err), err)
	}
	var out []unidb.Record
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, unidb.NewSerializationError(fmt.Sprintf("scan row: %v", err), err)
		}
		rec := make(unidb.Record, len(cols))
		for i, name := range cols {
			rec[name] = a.rehydrate(name, raw[i], types[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unidb.NewQueryError(fmt.Sprintf("iterate rows: %v", err), err)
	}
	return out, nil
}

// rehydrate maps one scanned column back into the value model. The embedded
// backend stores everything as TEXT/INTEGER/REAL/BLOB, so its mapping leans
// on conventions: 0/1 integers under boolean-conventional names become
// booleans, and strings that parse as JSON become JSON values.
func (a *sqlAdapter) rehydrate(name string, raw any, colType *sql.ColumnType) unidb.Value {
	switch x := raw.(type) {
	case nil:
		return unidb.Null()
	case bool:
		return unidb.Bool(x)
	case int64:
		if a.dialect == dialect.SQLite {
			if _, conventional := booleanColumnNames[name]; conventional && (x == 0 || x == 1) {
				return unidb.Bool(x == 1)
			}
		}
		if a.dialect == dialect.MySQL && colType != nil && colType.DatabaseTypeName() == "TINYINT" && (x == 0 || x == 1) {
			if _, conventional := booleanColumnNames[name]; conventional {
				return unidb.Bool(x == 1)
			}
		}
		return unidb.Int(x)
	case float64:
		return unidb.Float(x)
	case time.Time:
		return unidb.DateTime(x)
	case []byte:
		return a.rehydrateText(string(x), colType)
	case string:
		return a.rehydrateText(x, colType)
	default:
		return unidb.String(fmt.Sprintf("%v", x))
	}
}

func (a *sqlAdapter) rehydrateText(s string, colType *sql.ColumnType) unidb.Value {
	if colType != nil {
		switch strings.ToUpper(colType.DatabaseTypeName()) {
		case "JSON", "JSONB":
			var js any
			if err := json.Unmarshal([]byte(s), &js); err == nil {
				return unidb.JSON(js)
			}
		case "BLOB", "BYTEA", "VARBINARY", "BINARY":
			return unidb.Bytes([]byte(s))
		case "TIMESTAMPTZ", "TIMESTAMP", "DATETIME":
			if tm, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return unidb.DateTime(tm)
			}
		}
	}
	if a.dialect == dialect.SQLite {
		// Timestamps are stored as RFC 3339 text.
		if len(s) >= 20 && s[4] == '-' && s[10] == 'T' {
			if tm, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return unidb.DateTime(tm)
			}
		}
		// Strings that parse as JSON documents rehydrate as JSON.
		if len(s) > 1 && (s[0] == '{' || s[0] == '[') {
			var js any
			if err := json.Unmarshal([]byte(s), &js); err == nil {
				return unidb.JSON(js)
			}
		}
	}
	return unidb.String(s)
}
