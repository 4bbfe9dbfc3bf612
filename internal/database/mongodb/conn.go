package mongodb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Conn is a database.Connection bound to one mongo database.
type Conn struct {
	client     *mongo.Client
	db         *mongo.Database
	secrets    []string
	sampleSize int64

	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) Engine() database.Engine { return database.EngineMongoDB }

func (c *Conn) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return c.fail(err, database.PhaseConnect, "ping failed")
	}
	return nil
}

// Execute runs one "operation:collection" statement.
func (c *Conn) Execute(ctx context.Context, q database.Query) (*database.ResultSet, error) {
	op, coll, err := parseStatement(q.Statement)
	if err != nil {
		return nil, err
	}
	if len(q.Params.Positional) > 0 {
		return nil, errs.New(errs.ErrKindInvalidInput,
			"mongodb statements take named parameters (filter, update, document, ...)")
	}
	p := params(q.Params.Named)

	start := time.Now()
	collection := c.db.Collection(coll)

	var rs *database.ResultSet
	switch op {
	case opFind:
		rs, err = c.find(ctx, collection, p, q.RowLimit)
	case opFindOne:
		rs, err = c.findOne(ctx, collection, p)
	case opCount:
		rs, err = c.count(ctx, collection, p)
	case opAggregate:
		rs, err = c.aggregate(ctx, collection, p, q.RowLimit)
	case opInsertOne:
		rs, err = c.insertOne(ctx, collection, p)
	case opInsertMany:
		rs, err = c.insertMany(ctx, collection, p)
	case opUpdateOne, opUpdateMany:
		rs, err = c.update(ctx, collection, p, op == opUpdateMany)
	case opDeleteOne, opDeleteMany:
		rs, err = c.delete(ctx, collection, p, op == opDeleteMany)
	}
	if err != nil {
		return nil, c.fail(err, database.PhaseQuery, op+" failed")
	}
	rs.Duration = time.Since(start)
	return rs, nil
}

// FetchSchema infers one table per collection from a sample of documents.
func (c *Conn) FetchSchema(ctx context.Context) (*database.SchemaInfo, error) {
	info, err := database.InspectSchema(ctx, database.EngineMongoDB, introspector{c: c})
	if err != nil {
		return nil, c.fail(err, database.PhaseSchema, "schema inference failed")
	}
	return info, nil
}

func (c *Conn) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if err := c.client.Disconnect(ctx); err != nil {
			c.closeErr = c.fail(err, database.PhaseConnect, "disconnect failed")
		}
	})
	return c.closeErr
}

func (c *Conn) fail(err error, phase database.Phase, msg string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return errs.Redact(e, c.secrets...)
	}
	return errs.Redact(mapError(err, phase, msg), c.secrets...)
}

func (c *Conn) find(ctx context.Context, coll *mongo.Collection, p params, limit int) (*database.ResultSet, error) {
	filter, err := p.document("filter")
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if err := p.applyShape(opts); err != nil {
		return nil, err
	}
	n, err := p.int64("limit")
	if err != nil {
		return nil, err
	}
	if n > 0 && (limit == 0 || int(n) < limit) {
		limit = int(n)
	}
	if limit > 0 {
		// One extra document tells us whether the result was cut short.
		opts.SetLimit(int64(limit) + 1)
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeCursor(ctx, cur, limit)
}

func (c *Conn) findOne(ctx context.Context, coll *mongo.Collection, p params) (*database.ResultSet, error) {
	filter, err := p.document("filter")
	if err != nil {
		return nil, err
	}
	find := options.Find()
	if err := p.applyShape(find); err != nil {
		return nil, err
	}
	opts := options.FindOne()
	if find.Sort != nil {
		opts.SetSort(find.Sort)
	}
	if find.Projection != nil {
		opts.SetProjection(find.Projection)
	}
	if find.Skip != nil {
		opts.SetSkip(*find.Skip)
	}

	var doc bson.D
	err = coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return newResultSet(nil, nil), nil
	}
	if err != nil {
		return nil, err
	}
	fields := newFieldSet()
	fields.observe(doc)
	return newResultSet(fields.resultColumns(), []map[string]any{documentToMap(doc)}), nil
}

func (c *Conn) count(ctx context.Context, coll *mongo.Collection, p params) (*database.ResultSet, error) {
	filter, err := p.document("filter")
	if err != nil {
		return nil, err
	}
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	return summary(map[string]any{"count": n}, "count"), nil
}

func (c *Conn) aggregate(ctx context.Context, coll *mongo.Collection, p params, limit int) (*database.ResultSet, error) {
	pipeline, err := p.documents("pipeline")
	if err != nil {
		return nil, err
	}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return decodeCursor(ctx, cur, limit)
}

func (c *Conn) insertOne(ctx context.Context, coll *mongo.Collection, p params) (*database.ResultSet, error) {
	doc, err := p.required("document")
	if err != nil {
		return nil, err
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	rs := summary(map[string]any{"insertedId": convertFromBSON(res.InsertedID)}, "insertedId")
	rs.RowsAffected = 1
	return rs, nil
}

func (c *Conn) insertMany(ctx context.Context, coll *mongo.Collection, p params) (*database.ResultSet, error) {
	docs, err := p.documents("documents")
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "documents must be a non-empty array")
	}
	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		rows[i] = map[string]any{"insertedId": convertFromBSON(id)}
	}
	rs := newResultSet([]database.ResultColumn{{Name: "insertedId"}}, rows)
	rs.RowsAffected = int64(len(rows))
	return rs, nil
}

func (c *Conn) update(ctx context.Context, coll *mongo.Collection, p params, many bool) (*database.ResultSet, error) {
	filter, err := p.document("filter")
	if err != nil {
		return nil, err
	}
	upd, err := p.update()
	if err != nil {
		return nil, err
	}

	var res *mongo.UpdateResult
	if many {
		res, err = coll.UpdateMany(ctx, filter, upd)
	} else {
		res, err = coll.UpdateOne(ctx, filter, upd)
	}
	if err != nil {
		return nil, err
	}
	rs := summary(map[string]any{
		"matchedCount":  res.MatchedCount,
		"modifiedCount": res.ModifiedCount,
		"upsertedId":    convertFromBSON(res.UpsertedID),
	}, "matchedCount", "modifiedCount", "upsertedId")
	rs.RowsAffected = res.ModifiedCount
	return rs, nil
}

func (c *Conn) delete(ctx context.Context, coll *mongo.Collection, p params, many bool) (*database.ResultSet, error) {
	filter, err := p.document("filter")
	if err != nil {
		return nil, err
	}
	if _, ok := p["filter"]; many && !ok {
		// Deleting everything must be asked for with an explicit {}.
		return nil, errs.New(errs.ErrKindInvalidInput, "deleteMany requires a filter; pass {} to delete every document")
	}

	var res *mongo.DeleteResult
	if many {
		res, err = coll.DeleteMany(ctx, filter)
	} else {
		res, err = coll.DeleteOne(ctx, filter)
	}
	if err != nil {
		return nil, err
	}
	rs := summary(map[string]any{"deletedCount": res.DeletedCount}, "deletedCount")
	rs.RowsAffected = res.DeletedCount
	return rs, nil
}

// decodeCursor reads at most limit documents (0 means all) and closes cur.
func decodeCursor(ctx context.Context, cur *mongo.Cursor, limit int) (*database.ResultSet, error) {
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()

	fields := newFieldSet()
	rows := []map[string]any{}
	truncated := false
	for cur.Next(ctx) {
		if limit > 0 && len(rows) == limit {
			truncated = true
			break
		}
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		fields.observe(doc)
		rows = append(rows, documentToMap(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	rs := newResultSet(fields.resultColumns(), rows)
	rs.Truncated = truncated
	return rs, nil
}

func newResultSet(cols []database.ResultColumn, rows []map[string]any) *database.ResultSet {
	if cols == nil {
		cols = []database.ResultColumn{}
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return &database.ResultSet{Columns: cols, Rows: rows, RowCount: len(rows)}
}

// summary is the one-row result of a command that returns counters.
func summary(row map[string]any, order ...string) *database.ResultSet {
	cols := make([]database.ResultColumn, len(order))
	for i, name := range order {
		cols[i] = database.ResultColumn{Name: name}
	}
	return newResultSet(cols, []map[string]any{row})
}

type introspector struct {
	c *Conn
}

func (i introspector) ListTables(ctx context.Context) ([]database.TableRef, error) {
	specs, err := i.c.db.ListCollectionSpecifications(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	refs := make([]database.TableRef, 0, len(specs))
	for _, s := range specs {
		if strings.HasPrefix(s.Name, "system.") {
			continue
		}
		kind := database.TableKindCollection
		if s.Type == "view" {
			kind = database.TableKindView
		}
		refs = append(refs, database.TableRef{Schema: i.c.db.Name(), Name: s.Name, Kind: kind})
	}
	sortRefs(refs)
	return refs, nil
}

func (i introspector) InspectTable(ctx context.Context, t database.TableRef) ([]database.ColumnInfo, error) {
	cur, err := i.c.db.Collection(t.Name).Find(ctx, bson.D{}, options.Find().SetLimit(i.c.sampleSize))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(context.WithoutCancel(ctx)) }()

	fields := newFieldSet()
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		fields.observe(doc)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return fields.columns(), nil
}
