package mongodb

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	opFind       = "find"
	opFindOne    = "findOne"
	opCount      = "count"
	opAggregate  = "aggregate"
	opInsertOne  = "insertOne"
	opInsertMany = "insertMany"
	opUpdateOne  = "updateOne"
	opUpdateMany = "updateMany"
	opDeleteOne  = "deleteOne"
	opDeleteMany = "deleteMany"
)

var operations = map[string]string{}

func init() {
	for _, op := range []string{
		opFind, opFindOne, opCount, opAggregate, opInsertOne,
		opInsertMany, opUpdateOne, opUpdateMany, opDeleteOne, opDeleteMany,
	} {
		operations[strings.ToLower(op)] = op
	}
}

// parseStatement splits "operation:collection". A bare collection name
// means find. Operation names are case-insensitive.
func parseStatement(stmt string) (op, collection string, err error) {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return "", "", errs.New(errs.ErrKindInvalidInput, "statement is empty")
	}

	op, collection, found := strings.Cut(stmt, ":")
	if !found {
		op, collection = opFind, stmt
	}
	op, collection = strings.TrimSpace(op), strings.TrimSpace(collection)
	if collection == "" {
		return "", "", errs.New(errs.ErrKindInvalidInput, "statement must name a collection: operation:collection")
	}

	canonical, ok := operations[strings.ToLower(op)]
	if !ok {
		return "", "", errs.Newf(errs.ErrKindInvalidInput, "unsupported mongodb operation %q", op).
			WithReason(errs.ReasonSyntax)
	}
	return canonical, collection, nil
}

// params are the named parameters of one statement.
type params map[string]any

// document converts p[name] to a BSON document. A missing value is an empty
// document.
func (p params) document(name string) (bson.D, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return bson.D{}, nil
	}
	doc, err := toDocument(v)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("%s must be a document", name), err)
	}
	return doc, nil
}

// required is document for operands that cannot be omitted.
func (p params) required(name string) (bson.D, error) {
	if v, ok := p[name]; !ok || v == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "parameter %q is required", name)
	}
	return p.document(name)
}

// documents converts p[name], which must be an array, to BSON documents.
func (p params) documents(name string) ([]any, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "parameter %q is required", name)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "%s must be an array of documents", name)
	}
	out := make([]any, len(list))
	for i, item := range list {
		doc, err := toDocument(item)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("%s[%d] must be a document", name, i), err)
		}
		out[i] = doc
	}
	return out, nil
}

// update returns the update operand: an operator document or a pipeline.
func (p params) update() (any, error) {
	v, ok := p["update"]
	if !ok || v == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, `parameter "update" is required`)
	}
	if _, isList := v.([]any); isList {
		return p.documents("update")
	}
	return p.document("update")
}

// int64 reads a numeric parameter. JSON numbers arrive as float64.
func (p params) int64(name string) (int64, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return 0, nil
	}
	var n int64
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return 0, errs.Newf(errs.ErrKindInvalidInput, "%s must be an integer", name)
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case json.Number:
		parsed, err := x.Int64()
		if err != nil {
			return 0, errs.Newf(errs.ErrKindInvalidInput, "%s must be an integer", name)
		}
		n = parsed
	default:
		return 0, errs.Newf(errs.ErrKindInvalidInput, "%s must be a number", name)
	}
	if n < 0 {
		return 0, errs.Newf(errs.ErrKindInvalidInput, "%s must not be negative", name)
	}
	return n, nil
}

// applyShape sets sort, projection and skip on opts.
func (p params) applyShape(opts *options.FindOptions) error {
	if v, ok := p["sort"]; ok && v != nil {
		s, err := sortSpec(v)
		if err != nil {
			return err
		}
		opts.SetSort(s)
	}
	if _, ok := p["projection"]; ok {
		proj, err := p.document("projection")
		if err != nil {
			return err
		}
		opts.SetProjection(proj)
	}
	skip, err := p.int64("skip")
	if err != nil {
		return err
	}
	if skip > 0 {
		opts.SetSkip(skip)
	}
	return nil
}

// sortSpec accepts {"field": 1, ...} or [{"a": 1}, {"b": -1}]. Object keys
// have no reliable order once decoded, so multi-key objects are applied in
// key order; the array form keeps the caller's order.
func sortSpec(v any) (bson.D, error) {
	if list, ok := v.([]any); ok {
		out := bson.D{}
		for _, item := range list {
			doc, err := toDocument(item)
			if err != nil {
				return nil, errs.Wrap(errs.ErrKindInvalidInput, "sort entries must be documents", err)
			}
			out = append(out, doc...)
		}
		return out, nil
	}
	doc, err := toDocument(v)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "sort must be a document or an array of documents", err)
	}
	return doc, nil
}

// toDocument converts a decoded JSON value into bson.D, honoring extended
// JSON wrappers such as {"$oid": "..."} and {"$date": "..."}.
func toDocument(v any) (bson.D, error) {
	switch d := v.(type) {
	case bson.D:
		return d, nil
	case map[string]any, bson.M:
	default:
		return nil, fmt.Errorf("got %T", v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func sortRefs(refs []database.TableRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
}
