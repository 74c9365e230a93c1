package dynamostore

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/grove/store"
)

// timeLayout is fixed width so stored timestamps order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// encode converts store values into attribute-friendly forms: identifiers
// become hex strings and times become fixed-width UTC strings.
func encode(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case time.Time:
		return t.UTC().Format(timeLayout)
	case primitive.DateTime:
		return t.Time().UTC().Format(timeLayout)
	case store.Document:
		return encode(map[string]any(t))
	case bson.M:
		return encode(map[string]any(t))
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = encode(e)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = encode(e.Value)
		}
		return m
	case bson.A:
		return encode([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = encode(e)
		}
		return out
	}
	return v
}

// encodeFilter encodes argument values while keeping operator documents ordered.
func encodeFilter(f bson.D) bson.D {
	out := make(bson.D, len(f))
	for i, e := range f {
		out[i] = bson.E{Key: e.Key, Value: encodeFilterValue(e.Value)}
	}
	return out
}

func encodeFilterValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		return encodeFilter(t)
	case bson.A:
		return encodeFilterValue([]any(t))
	case []any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = encodeFilterValue(e)
		}
		return out
	}
	return encode(v)
}

// marshalDoc converts a document to an item. Null top-level attributes are
// omitted; the ODM treats missing and null alike, and GSI key attributes
// must not be null.
func marshalDoc(doc store.Document) (map[string]types.AttributeValue, error) {
	if doc.ID().IsZero() {
		return nil, fmt.Errorf("%w: document has no _id", store.ErrInvalidDocument)
	}
	enc := encode(doc).(map[string]any)
	for k, v := range enc {
		if v == nil {
			delete(enc, k)
		}
	}
	item, err := attributevalue.MarshalMap(enc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return item, nil
}

// unmarshalRaw converts an item to its encoded map form, dropping the TTL attribute.
func unmarshalRaw(item map[string]types.AttributeValue, ttlAttr string) (map[string]any, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	delete(m, ttlAttr)
	return m, nil
}

// toDocument restores the identifier type of an encoded map.
func toDocument(raw map[string]any) store.Document {
	doc := store.Document(raw)
	if s, ok := raw["_id"].(string); ok {
		if id, err := primitive.ObjectIDFromHex(s); err == nil {
			doc["_id"] = id
		}
	}
	return doc
}

func idKey(id primitive.ObjectID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"_id": &types.AttributeValueMemberS{Value: id.Hex()},
	}
}

// translator builds a DynamoDB filter expression for the clauses it can
// express. Everything else is left to client-side evaluation, so the
// expression selects a superset of the filter.
type translator struct {
	names  map[string]string
	values map[string]types.AttributeValue
	n      int
	list   bool
}

func newTranslator() *translator {
	return &translator{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func translate(f bson.D) (string, map[string]string, map[string]types.AttributeValue) {
	t := newTranslator()
	return t.doc(f), t.names, t.values
}

func (t *translator) doc(f bson.D) string {
	var parts []string
	for _, e := range f {
		switch {
		case e.Key == "$and":
			for _, sub := range toA(e.Value) {
				if d, ok := sub.(bson.D); ok {
					if expr := t.doc(d); expr != "" {
						parts = append(parts, expr)
					}
				}
			}
		case strings.HasPrefix(e.Key, "$") || strings.Contains(e.Key, "."):
		default:
			ops, ok := e.Value.(bson.D)
			if !ok {
				continue
			}
			for _, op := range ops {
				if expr := t.op(e.Key, op); expr != "" {
					parts = append(parts, expr)
				}
			}
		}
	}
	return strings.Join(parts, " AND ")
}

func toA(v any) []any {
	switch t := v.(type) {
	case bson.A:
		return t
	case []any:
		return t
	}
	return nil
}

func scalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	}
	return false
}

func (t *translator) name(field string) string {
	key := fmt.Sprintf("#f%d", len(t.names))
	for k, v := range t.names {
		if v == field {
			return k
		}
	}
	t.names[key] = field
	return key
}

func (t *translator) value(v any) (string, bool) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", false
	}
	key := fmt.Sprintf(":v%d", t.n)
	t.n++
	t.values[key] = av
	return key, true
}

// listType is the operand for attribute_type checks against lists.
func (t *translator) listType() string {
	if !t.list {
		t.list = true
		t.values[":list"] = &types.AttributeValueMemberS{Value: "L"}
	}
	return ":list"
}

func (t *translator) op(field string, op bson.E) string {
	switch op.Key {
	case "$eq":
		if !scalar(op.Value) {
			return ""
		}
		return t.eq(field, op.Value)
	case "$gt", "$gte", "$lt", "$lte":
		if !scalar(op.Value) {
			return ""
		}
		v, ok := t.value(op.Value)
		if !ok {
			return ""
		}
		sym := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op.Key]
		n := t.name(field)
		return fmt.Sprintf("(%s %s %s OR attribute_type(%s, %s))", n, sym, v, n, t.listType())
	case "$in":
		list := toA(op.Value)
		if len(list) == 0 || len(list) > 50 {
			return ""
		}
		var alts []string
		for _, it := range list {
			if !scalar(it) {
				return ""
			}
			alts = append(alts, t.eq(field, it))
		}
		return "(" + strings.Join(alts, " OR ") + ")"
	}
	return ""
}

func (t *translator) eq(field string, arg any) string {
	v, ok := t.value(arg)
	if !ok {
		return ""
	}
	n := t.name(field)
	return fmt.Sprintf("(%s = %s OR contains(%s, %s))", n, v, n, v)
}

// parentRef returns the "_parent" equality argument when f constrains it,
// at top level or inside a top-level $and.
func parentRef(f bson.D) (string, bool) {
	for _, e := range f {
		switch e.Key {
		case "_parent":
			if ops, ok := e.Value.(bson.D); ok && len(ops) == 1 && ops[0].Key == "$eq" {
				if s, ok := ops[0].Value.(string); ok && s != "" {
					return s, true
				}
			}
		case "$and":
			for _, sub := range toA(e.Value) {
				if d, ok := sub.(bson.D); ok {
					if s, ok := parentRef(d); ok {
						return s, true
					}
				}
			}
		}
	}
	return "", false
}
