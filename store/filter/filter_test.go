package filter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/grove/store"
	"github.com/jacentio/grove/store/filter"
)

func eq(field string, op string, v any) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: op, Value: v}}}}
}

func TestMatch_Operators(t *testing.T) {
	id := primitive.NewObjectID()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := map[string]any{
		"_id":     id,
		"status":  "active",
		"views":   int64(10),
		"score":   2.5,
		"tags":    []any{"go", "db"},
		"created": now,
		"options": map[string]any{"color": "red"},
		"_parent": nil,
	}

	tests := []struct {
		name   string
		filter bson.D
		want   bool
	}{
		{"eq string", eq("status", "$eq", "active"), true},
		{"eq mismatch", eq("status", "$eq", "draft"), false},
		{"ne", eq("status", "$ne", "draft"), true},
		{"eq numeric across types", eq("views", "$eq", 10), true},
		{"gt", eq("views", "$gt", int32(5)), true},
		{"gte", eq("views", "$gte", 10.0), true},
		{"lt", eq("score", "$lt", 2), false},
		{"lte", eq("score", "$lte", 2.5), true},
		{"gt ignores other types", eq("status", "$gt", 1), false},
		{"array contains", eq("tags", "$eq", "go"), true},
		{"in", eq("tags", "$in", bson.A{"x", "db"}), true},
		{"nin", eq("tags", "$nin", bson.A{"go"}), false},
		{"object id", eq("_id", "$in", bson.A{id}), true},
		{"date", eq("created", "$lt", now.Add(time.Hour)), true},
		{"dotted path", eq("options.color", "$eq", "red"), true},
		{"null matches explicit null", eq("_parent", "$eq", nil), true},
		{"null matches missing", eq("missing", "$eq", nil), true},
		{"exists", eq("missing", "$exists", false), true},
		{"regex", bson.D{{Key: "status", Value: bson.D{{Key: "$regex", Value: "^ACT"}, {Key: "$options", Value: "i"}}}}, true},
		{"implicit eq", bson.D{{Key: "status", Value: "active"}}, true},
		{"and", bson.D{{Key: "$and", Value: bson.A{eq("status", "$eq", "active"), eq("views", "$gt", 100)}}}, false},
		{"or", bson.D{{Key: "$or", Value: bson.A{eq("status", "$eq", "x"), eq("views", "$gt", 1)}}}, true},
		{"nor", bson.D{{Key: "$nor", Value: bson.A{eq("status", "$eq", "active")}}}, false},
		{"empty filter", bson.D{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filter.Match(doc, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_Errors(t *testing.T) {
	doc := map[string]any{"a": 1}
	_, err := filter.Match(doc, eq("a", "$near", 1))
	require.ErrorIs(t, err, store.ErrInvalidFilter)

	_, err = filter.Match(doc, eq("a", "$in", 1))
	require.ErrorIs(t, err, store.ErrInvalidFilter)

	_, err = filter.Match(doc, bson.D{{Key: "$where", Value: "x"}})
	require.ErrorIs(t, err, store.ErrInvalidFilter)
}

func TestMatch_Text(t *testing.T) {
	doc := map[string]any{"title": "Hello, World", "body": "golang rocks"}
	text := func(s string) bson.D {
		return bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: s}, {Key: "$language", Value: "none"}}}}
	}

	ok, err := filter.Match(doc, text("world"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = filter.Matcher{TextFields: []string{"title"}}.Match(doc, text("golang"))
	require.NoError(t, err)
	assert.False(t, ok, "only indexed fields are searched")

	ok, err = filter.Match(doc, text("python golang"))
	require.NoError(t, err)
	assert.True(t, ok, "any term matches")
}

func TestCompareAndSort(t *testing.T) {
	assert.Equal(t, -1, filter.Compare(nil, 1))
	assert.Equal(t, -1, filter.Compare(1, "a"))
	assert.Equal(t, 0, filter.Compare(int64(2), 2.0))
	assert.True(t, filter.Equal([]any{"a", int64(1)}, bson.A{"a", 1}))
	assert.True(t, filter.Equal(map[string]any{"k": 1}, bson.M{"k": int64(1)}))

	docs := []store.Document{
		{"n": "b", "v": 1},
		{"n": "a", "v": 2},
		{"n": "c", "v": 1},
		{"n": "d"},
	}
	filter.Sort(docs, []store.SortField{{Field: "v", Direction: store.Desc}, {Field: "n", Direction: store.Asc}})
	var names []string
	for _, d := range docs {
		names = append(names, d["n"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}
