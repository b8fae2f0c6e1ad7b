package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syssam/unidb"
	"github.com/syssam/unidb/dialect"
	"github.com/syssam/unidb/schema"
)

// mongoConn owns one client handle to the document store.
type mongoConn struct {
	client *mongo.Client
	db     *mongo.Database
}

// Ping probes the connection.
func (c *mongoConn) Ping(ctx context.Context) error { return c.client.Ping(ctx, nil) }

// Close releases the connection.
func (c *mongoConn) Close() error { return c.client.Disconnect(context.Background()) }

// mongoAdapter implements the Adapter contract for the document backend.
// Collections auto-create on first write, so no auto-DDL bookkeeping is
// needed.
type mongoAdapter struct{}

func newMongoAdapter() *mongoAdapter { return &mongoAdapter{} }

var _ Adapter = (*mongoAdapter)(nil)

// Backend returns the backend tag.
func (a *mongoAdapter) Backend() string { return dialect.MongoDB }

// Connect composes the connection URI from the spec pieces and dials.
func (a *mongoAdapter) Connect(ctx context.Context, cfg *unidb.DatabaseConfig) (Conn, error) {
	spec := cfg.Connection.MongoDB
	if spec == nil {
		return nil, unidb.NewConfigError("missing mongodb connection spec")
	}
	uri := composeMongoURI(spec)
	opts := options.Client().ApplyURI(uri)
	if to := cfg.Pool.ConnectionTimeout; to > 0 {
		opts.SetConnectTimeout(to)
	}
	// One logical connection per pool worker.
	opts.SetMaxPoolSize(1)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, unidb.NewConnectionError(fmt.Sprintf("connect mongodb: %v", err), err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, unidb.NewConnectionError(fmt.Sprintf("ping mongodb: %v", err), err)
	}
	return &mongoConn{client: client, db: client.Database(spec.Database)}, nil
}

// composeMongoURI renders mongodb://[user:pass@]host:port/db?… per the
// driver's URI grammar.
func composeMongoURI(spec *unidb.MongoSpec) string {
	var sb strings.Builder
	sb.WriteString("mongodb://")
	if spec.Username != "" && spec.Password != "" {
		sb.WriteString(url.QueryEscape(spec.Username))
		sb.WriteString(":")
		sb.WriteString(url.QueryEscape(spec.Password))
		sb.WriteString("@")
	}
	fmt.Fprintf(&sb, "%s:%d/%s", spec.Host, spec.Port, spec.Database)
	q := url.Values{}
	if spec.AuthSource != "" {
		q.Set("authSource", spec.AuthSource)
	}
	if spec.DirectConnection {
		q.Set("directConnection", "true")
	}
	if spec.TLS != nil && spec.TLS.Enabled {
		q.Set("tls", "true")
		if spec.TLS.InsecureSkipVerify {
			q.Set("tlsInsecure", "true")
		}
		if spec.TLS.CAFile != "" {
			q.Set("tlsCAFile", spec.TLS.CAFile)
		}
	}
	if spec.ZSTD != nil && spec.ZSTD.Enabled {
		q.Set("compressors", "zstd")
		if spec.ZSTD.Level > 0 {
			q.Set("zstdCompressionLevel", fmt.Sprintf("%d", spec.ZSTD.Level))
		}
	}
	for k, v := range spec.Options {
		q.Set(k, v)
	}
	if enc := q.Encode(); enc != "" {
		sb.WriteString("?")
		sb.WriteString(enc)
	}
	return sb.String()
}

func (a *mongoAdapter) mongoConn(conn Conn) (*mongoConn, error) {
	c, ok := conn.(*mongoConn)
	if !ok {
		return nil, unidb.NewConnectionError(fmt.Sprintf("expected a mongodb connection, got %T", conn), nil)
	}
	return c, nil
}

// bsonValue maps a Value into its BSON representation. The logical id key
// maps to _id at the document layer, not here.
func bsonValue(v unidb.Value) any {
	switch v.Type() {
	case unidb.TypeNull:
		return nil
	case unidb.TypeBool:
		b, _ := v.AsBool()
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
		return primitive.Binary{Data: b}
	case unidb.TypeDateTime:
		tm, _ := v.AsDateTime()
		return primitive.NewDateTimeFromTime(tm)
	case unidb.TypeJSON:
		js, _ := v.AsJSON()
		return js
	case unidb.TypeArray:
		arr, _ := v.AsArray()
		out := make(bson.A, len(arr))
		for i, e := range arr {
			out[i] = bsonValue(e)
		}
		return out
	case unidb.TypeObject:
		obj, _ := v.AsObject()
		out := bson.M{}
		for k, e := range obj {
			out[k] = bsonValue(e)
		}
		return out
	}
	return nil
}

// bsonID maps an id value: 24-hex strings parse to ObjectId, everything
// else is stored as-is.
func bsonID(v unidb.Value) any {
	if s, ok := v.AsString(); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
		return s
	}
	return bsonValue(v)
}

// bsonDocument converts a record, mapping the logical id key to _id.
func bsonDocument(data unidb.Record) bson.M {
	doc := bson.M{}
	for k, v := range data {
		if k == "id" {
			doc["_id"] = bsonID(v)
			continue
		}
		doc[k] = bsonValue(v)
	}
	return doc
}

// valueFromBSON maps a decoded BSON value back into the value model.
func valueFromBSON(v any) unidb.Value {
	switch x := v.(type) {
	case nil, primitive.Null:
		return unidb.Null()
	case bool:
		return unidb.Bool(x)
	case int32:
		return unidb.Int(int64(x))
	case int64:
		return unidb.Int(x)
	case float64:
		return unidb.Float(x)
	case string:
		return unidb.String(x)
	case primitive.ObjectID:
		return unidb.String(x.Hex())
	case primitive.DateTime:
		return unidb.DateTime(x.Time())
	case primitive.Binary:
		return unidb.Bytes(x.Data)
	case bson.A:
		vs := make([]unidb.Value, len(x))
		for i, e := range x {
			vs[i] = valueFromBSON(e)
		}
		return unidb.Array(vs...)
	case bson.M:
		m := make(map[string]unidb.Value, len(x))
		for k, e := range x {
			m[k] = valueFromBSON(e)
		}
		return unidb.Object(m)
	case bson.D:
		m := make(map[string]unidb.Value, len(x))
		for _, e := range x {
			m[e.Key] = valueFromBSON(e.Value)
		}
		return unidb.Object(m)
	default:
		return unidb.String(fmt.Sprintf("%v", x))
	}
}

// recordFromBSON converts a decoded document, mapping _id back to id.
func recordFromBSON(doc bson.M) unidb.Record {
	rec := make(unidb.Record, len(doc))
	for k, v := range doc {
		if k == "_id" {
			rec["id"] = valueFromBSON(v)
			continue
		}
		rec[k] = valueFromBSON(v)
	}
	return rec
}

// mongoField maps the logical id key into the document namespace.
func mongoField(f string) string {
	if f == "id" {
		return "_id"
	}
	return f
}

// escapeRegex quotes regex metacharacters when a plain string becomes an
// anchored or substring pattern.
func escapeRegex(s string) string {
	special := `\.+*?()|[]{}^$`
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			sb.WriteString(`\`)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// conditionFilter translates one leaf condition into a filter document.
func conditionFilter(c unidb.Condition) (bson.M, error) {
	f := mongoField(c.Field)
	operand := bsonValue(c.Value)
	if f == "_id" {
		operand = bsonID(c.Value)
	}
	switch c.Operator {
	case unidb.OpEQ:
		return bson.M{f: bson.M{"$eq": operand}}, nil
	case unidb.OpNE:
		return bson.M{f: bson.M{"$ne": operand}}, nil
	case unidb.OpGT:
		return bson.M{f: bson.M{"$gt": operand}}, nil
	case unidb.OpGTE:
		return bson.M{f: bson.M{"$gte": operand}}, nil
	case unidb.OpLT:
		return bson.M{f: bson.M{"$lt": operand}}, nil
	case unidb.OpLTE:
		return bson.M{f: bson.M{"$lte": operand}}, nil
	case unidb.OpContains:
		// A case-insensitive regex covers both substring matching on
		// string fields and membership on arrays of strings, since the
		// server applies it element-wise. Non-string operands fall back
		// to plain membership.
		if s, ok := c.Value.AsString(); ok {
			return bson.M{f: bson.M{"$regex": escapeRegex(s), "$options": "i"}}, nil
		}
		return bson.M{f: bson.M{"$in": bson.A{operand}}}, nil
	case unidb.OpStartsWith:
		s, ok := c.Value.AsString()
		if !ok {
			return nil, unidb.NewQueryError(fmt.Sprintf("starts_with on %s requires a string operand", c.Field), nil)
		}
		return bson.M{f: bson.M{"$regex": "^" + escapeRegex(s), "$options": "i"}}, nil
	case unidb.OpEndsWith:
		s, ok := c.Value.AsString()
		if !ok {
			return nil, unidb.NewQueryError(fmt.Sprintf("ends_with on %s requires a string operand", c.Field), nil)
		}
		return bson.M{f: bson.M{"$regex": escapeRegex(s) + "$", "$options": "i"}}, nil
	case unidb.OpIn, unidb.OpNotIn:
		elems, ok := c.Value.AsArray()
		if !ok {
			return nil, unidb.NewQueryError(fmt.Sprintf("%s on %s requires an array operand", c.Operator, c.Field), nil)
		}
		arr := make(bson.A, len(elems))
		for i, e := range elems {
			if f == "_id" {
				arr[i] = bsonID(e)
			} else {
				arr[i] = bsonValue(e)
			}
		}
		op := "$in"
		if c.Operator == unidb.OpNotIn {
			op = "$nin"
		}
		return bson.M{f: bson.M{op: arr}}, nil
	case unidb.OpRegex:
		s, ok := c.Value.AsString()
		if !ok {
			return nil, unidb.NewQueryError(fmt.Sprintf("regex on %s requires a string operand", c.Field), nil)
		}
		return bson.M{f: bson.M{"$regex": s, "$options": "i"}}, nil
	case unidb.OpExists:
		return bson.M{f: bson.M{"$exists": true}}, nil
	case unidb.OpIsNull:
		return bson.M{f: nil}, nil
	case unidb.OpIsNotNull:
		return bson.M{f: bson.M{"$ne": nil}}, nil
	}
	return nil, unidb.NewQueryError(fmt.Sprintf("unknown operator %d", c.Operator), nil)
}

// groupFilter translates a condition group tree. An AND group with exactly
// one clause emits it directly; empty groups emit an empty document, except
// that an empty OR group matches nothing.
func groupFilter(g unidb.Group) (bson.M, error) {
	var clauses bson.A
	for _, n := range g.Children {
		var (
			m   bson.M
			err error
		)
		if n.Leaf {
			m, err = conditionFilter(n.Cond)
		} else {
			m, err = groupFilter(n.Group)
		}
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			continue
		}
		clauses = append(clauses, m)
	}
	if len(clauses) == 0 {
		if g.Logical == unidb.Or {
			// An OR over nothing matches nothing: $nor over the
			// match-all document.
			return bson.M{"$nor": bson.A{bson.M{}}}, nil
		}
		return bson.M{}, nil
	}
	if g.Logical == unidb.Or {
		return bson.M{"$or": clauses}, nil
	}
	if len(clauses) == 1 {
		return clauses[0].(bson.M), nil
	}
	return bson.M{"$and": clauses}, nil
}

func findOptions(opts unidb.QueryOptions) *options.FindOptions {
	fo := options.Find()
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Sort) > 0 {
		sort := bson.D{}
		for _, s := range opts.Sort {
			dir := 1
			if s.Direction == unidb.Desc {
				dir = -1
			}
			sort = append(sort, bson.E{Key: mongoField(s.Field), Value: dir})
		}
		fo.SetSort(sort)
	}
	if len(opts.Fields) > 0 {
		proj := bson.D{}
		for _, f := range opts.Fields {
			proj = append(proj, bson.E{Key: mongoField(f), Value: 1})
		}
		fo.SetProjection(proj)
	}
	return fo
}

// Create inserts one document and returns the stored ID.
func (a *mongoAdapter) Create(ctx context.Context, conn Conn, table string, data unidb.Record) (unidb.Value, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return unidb.Null(), err
	}
	doc := bsonDocument(data)
	res, err := c.db.Collection(table).InsertOne(ctx, doc)
	if err != nil {
		return unidb.Null(), unidb.NewQueryError(fmt.Sprintf("insert into %s: %v", table, err), err)
	}
	return valueFromBSON(res.InsertedID), nil
}

// FindByID returns the document with the given id, if present.
func (a *mongoAdapter) FindByID(ctx context.Context, conn Conn, table string, id unidb.Value) (unidb.Record, bool, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return nil, false, err
	}
	var doc bson.M
	err = c.db.Collection(table).FindOne(ctx, bson.M{"_id": bsonID(id)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unidb.NewQueryError(fmt.Sprintf("find %s by id: %v", table, err), err)
	}
	return recordFromBSON(doc), true, nil
}

// Find runs a flat-condition query.
func (a *mongoAdapter) Find(ctx context.Context, conn Conn, table string, conds []unidb.Condition, opts unidb.QueryOptions) ([]unidb.Record, error) {
	return a.FindWithGroups(ctx, conn, table, unidb.GroupOf(conds), opts)
}

// FindWithGroups runs a group-tree query.
func (a *mongoAdapter) FindWithGroups(ctx context.Context, conn Conn, table string, group unidb.Group, opts unidb.QueryOptions) ([]unidb.Record, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return nil, err
	}
	filter, err := groupFilter(group)
	if err != nil {
		return nil, err
	}
	cur, err := c.db.Collection(table).Find(ctx, filter, findOptions(opts))
	if err != nil {
		return nil, unidb.NewQueryError(fmt.Sprintf("query %s: %v", table, err), err)
	}
	defer cur.Close(ctx)
	var out []unidb.Record
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, unidb.NewSerializationError(fmt.Sprintf("decode document: %v", err), err)
		}
		out = append(out, recordFromBSON(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, unidb.NewQueryError(fmt.Sprintf("iterate %s: %v", table, err), err)
	}
	return out, nil
}

// Update applies the value map to every matching document.
func (a *mongoAdapter) Update(ctx context.Context, conn Conn, table string, conds []unidb.Condition, data unidb.Record) (int64, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return 0, err
	}
	filter, err := groupFilter(unidb.GroupOf(conds))
	if err != nil {
		return 0, err
	}
	set := bson.M{}
	for k, v := range data {
		if k == "id" {
			// _id is immutable.
			continue
		}
		set[k] = bsonValue(v)
	}
	res, err := c.db.Collection(table).UpdateMany(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("update %s: %v", table, err), err)
	}
	return res.ModifiedCount, nil
}

// UpdateByID applies the value map to the document with the given id.
func (a *mongoAdapter) UpdateByID(ctx context.Context, conn Conn, table string, id unidb.Value, data unidb.Record) (bool, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return false, err
	}
	set := bson.M{}
	for k, v := range data {
		if k == "id" {
			continue
		}
		set[k] = bsonValue(v)
	}
	res, err := c.db.Collection(table).UpdateOne(ctx, bson.M{"_id": bsonID(id)}, bson.M{"$set": set})
	if err != nil {
		return false, unidb.NewQueryError(fmt.Sprintf("update %s by id: %v", table, err), err)
	}
	return res.MatchedCount > 0, nil
}

// Delete removes every matching document.
func (a *mongoAdapter) Delete(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (int64, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return 0, err
	}
	filter, err := groupFilter(unidb.GroupOf(conds))
	if err != nil {
		return 0, err
	}
	res, err := c.db.Collection(table).DeleteMany(ctx, filter)
	if err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("delete from %s: %v", table, err), err)
	}
	return res.DeletedCount, nil
}

// DeleteByID removes the document with the given id.
func (a *mongoAdapter) DeleteByID(ctx context.Context, conn Conn, table string, id unidb.Value) (bool, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return false, err
	}
	res, err := c.db.Collection(table).DeleteOne(ctx, bson.M{"_id": bsonID(id)})
	if err != nil {
		return false, unidb.NewQueryError(fmt.Sprintf("delete %s by id: %v", table, err), err)
	}
	return res.DeletedCount > 0, nil
}

// Count returns the number of matching documents.
func (a *mongoAdapter) Count(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (uint64, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return 0, err
	}
	filter, err := groupFilter(unidb.GroupOf(conds))
	if err != nil {
		return 0, err
	}
	n, err := c.db.Collection(table).CountDocuments(ctx, filter)
	if err != nil {
		return 0, unidb.NewQueryError(fmt.Sprintf("count %s: %v", table, err), err)
	}
	return uint64(n), nil
}

// Exists reports whether any document matches.
func (a *mongoAdapter) Exists(ctx context.Context, conn Conn, table string, conds []unidb.Condition) (bool, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return false, err
	}
	filter, err := groupFilter(unidb.GroupOf(conds))
	if err != nil {
		return false, err
	}
	err = c.db.Collection(table).FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, unidb.NewQueryError(fmt.Sprintf("existence check on %s: %v", table, err), err)
	}
	return true, nil
}

// CreateTable creates the collection. Collections also auto-create on
// first write, so an already-exists error is not surfaced.
func (a *mongoAdapter) CreateTable(ctx context.Context, conn Conn, ts *schema.TableSchema) error {
	c, err := a.mongoConn(conn)
	if err != nil {
		return err
	}
	if err := c.db.CreateCollection(ctx, ts.Table); err != nil {
		if cmdErr, ok := err.(mongo.CommandError); ok && cmdErr.Name == "NamespaceExists" {
			return nil
		}
		return unidb.NewQueryError(fmt.Sprintf("create collection %s: %v", ts.Table, err), err)
	}
	return nil
}

// CreateIndex creates a secondary index on the collection.
func (a *mongoAdapter) CreateIndex(ctx context.Context, conn Conn, table, name string, fields []string, unique bool) error {
	c, err := a.mongoConn(conn)
	if err != nil {
		return err
	}
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: mongoField(f), Value: 1})
	}
	opts := options.Index().SetName(name)
	if unique {
		opts.SetUnique(true)
	}
	_, err = c.db.Collection(table).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts})
	if err != nil {
		return unidb.NewQueryError(fmt.Sprintf("create index %s on %s: %v", name, table, err), err)
	}
	return nil
}

// TableExists reports whether the collection is present.
func (a *mongoAdapter) TableExists(ctx context.Context, conn Conn, table string) (bool, error) {
	c, err := a.mongoConn(conn)
	if err != nil {
		return false, err
	}
	names, err := c.db.ListCollectionNames(ctx, bson.M{"name": table})
	if err != nil {
		return false, unidb.NewQueryError(fmt.Sprintf("list collections: %v", err), err)
	}
	return len(names) > 0, nil
}

// DropTable drops the collection.
func (a *mongoAdapter) DropTable(ctx context.Context, conn Conn, table string) error {
	c, err := a.mongoConn(conn)
	if err != nil {
		return err
	}
	if err := c.db.Collection(table).Drop(ctx); err != nil {
		return unidb.NewQueryError(fmt.Sprintf("drop collection %s: %v", table, err), err)
	}
	return nil
}
