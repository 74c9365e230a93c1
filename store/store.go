package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a stored record. Keys are field names; "_id" holds a primitive.ObjectID.
type Document map[string]any

// ID returns the document identifier, or the zero ID when absent.
func (d Document) ID() primitive.ObjectID {
	switch v := d["_id"].(type) {
	case primitive.ObjectID:
		return v
	case string:
		id, _ := primitive.ObjectIDFromHex(v)
		return id
	}
	return primitive.NilObjectID
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(deepCopy(map[string]any(d)).(map[string]any))
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case Document:
		return deepCopy(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case bson.A:
		return deepCopy([]any(t))
	case bson.M:
		return deepCopy(map[string]any(t))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = deepCopy(e.Value)
		}
		return m
	}
	return v
}

// Direction is a sort direction.
type Direction int

const (
	Asc  Direction = 1
	Desc Direction = -1
)

// SortField orders results by one field.
type SortField struct {
	Field     string
	Direction Direction
}

// FindOptions selects documents. Limit 0 means unlimited.
type FindOptions struct {
	Filter bson.D
	Sort   []SortField
	Skip   int64
	Limit  int64
}

// Store is the document store collaborator. Implementations must be safe for
// concurrent use. Writes are single-document and atomic per document.
type Store interface {
	// FindIDs returns the identifiers of matching documents in sort order.
	FindIDs(ctx context.Context, collection string, opts FindOptions) ([]primitive.ObjectID, error)

	// FindOne returns a document by identifier, or ErrNotFound.
	FindOne(ctx context.Context, collection string, id primitive.ObjectID) (Document, error)

	// Count returns the number of matching documents after skip and limit.
	Count(ctx context.Context, collection string, opts FindOptions) (int64, error)

	// Distinct returns the distinct values of field among matching documents.
	Distinct(ctx context.Context, collection, field string, filter bson.D) ([]any, error)

	// Insert stores a new document. A taken identifier or unique key yields ErrDuplicateKey.
	Insert(ctx context.Context, collection string, doc Document) error

	// Replace overwrites the document with the same identifier, or returns ErrNotFound.
	Replace(ctx context.Context, collection string, doc Document) error

	// Delete removes a document by identifier. Missing documents are not an error.
	Delete(ctx context.Context, collection string, id primitive.ObjectID) error

	CreateIndex(ctx context.Context, collection string, idx Index) (string, error)
	Indexes(ctx context.Context, collection string) ([]Index, error)
	DropIndex(ctx context.Context, collection, name string) error

	// Collections lists collection names known to the store.
	Collections(ctx context.Context) ([]string, error)

	Close(ctx context.Context) error
}
