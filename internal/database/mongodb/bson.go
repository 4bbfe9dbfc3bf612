package mongodb

import (
	"fmt"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// documentToMap flattens a decoded document into JSON-friendly values.
func documentToMap(doc bson.D) map[string]any {
	out := make(map[string]any, len(doc))
	for _, e := range doc {
		out[e.Key] = convertFromBSON(e.Value)
	}
	return out
}

// convertFromBSON turns driver types into values encoding/json renders
// sensibly: ObjectIDs as hex, dates as UTC times, nested documents as maps.
func convertFromBSON(v any) any {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return map[string]any{"t": val.T, "i": val.I}
	case primitive.Binary:
		return val.Data
	case primitive.Decimal128:
		return val.String()
	case primitive.Regex:
		return val.String()
	case primitive.Null, primitive.Undefined:
		return nil
	case bson.D:
		return documentToMap(val)
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = convertFromBSON(item)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertFromBSON(item)
		}
		return out
	default:
		return val
	}
}

// typeName is the BSON type alias of a decoded value, as used by $type.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Timestamp:
		return "timestamp"
	case primitive.Binary:
		return "binData"
	case primitive.Decimal128:
		return "decimal"
	case primitive.Regex:
		return "regex"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	case nil, primitive.Null, primitive.Undefined:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

type fieldStats struct {
	name     string
	bsonType string
	present  int
	nulls    int
}

// fieldSet accumulates the top-level fields seen across documents, in
// order of first appearance.
type fieldSet struct {
	order  []*fieldStats
	byName map[string]*fieldStats
	docs   int
}

func newFieldSet() *fieldSet {
	return &fieldSet{byName: map[string]*fieldStats{}}
}

func (s *fieldSet) observe(doc bson.D) {
	s.docs++
	for _, e := range doc {
		f, ok := s.byName[e.Key]
		if !ok {
			f = &fieldStats{name: e.Key}
			s.byName[e.Key] = f
			s.order = append(s.order, f)
		}
		f.present++
		if t := typeName(e.Value); t == "null" {
			f.nulls++
		} else if f.bsonType == "" {
			f.bsonType = t
		}
	}
}

// columns reports each field with the type of its first non-null value.
// A field is nullable when some sampled document lacks it or holds null.
func (s *fieldSet) columns() []database.ColumnInfo {
	out := make([]database.ColumnInfo, len(s.order))
	for i, f := range s.order {
		t := f.bsonType
		if t == "" {
			t = "null"
		}
		out[i] = database.ColumnInfo{
			Name:       f.name,
			DataType:   t,
			IsNullable: f.present < s.docs || f.nulls > 0,
		}
	}
	return out
}

func (s *fieldSet) resultColumns() []database.ResultColumn {
	out := make([]database.ResultColumn, len(s.order))
	for i, f := range s.order {
		out[i] = database.ResultColumn{Name: f.name, DatabaseType: f.bsonType}
	}
	return out
}
