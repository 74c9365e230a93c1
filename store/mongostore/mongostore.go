// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/jacentio/grove/store"
)

// indexNotFoundCode is the server error code for dropping an unknown index.
const indexNotFoundCode = 27

// Store wraps a database handle.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an existing database. Close does not disconnect the client.
func New(db *mongo.Database, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: db.Client(), db: db, logger: logger}
}

// Connect dials uri, pings the server and returns a store owning the client.
func Connect(ctx context.Context, uri, database string, timeout time.Duration, logger *zap.Logger) (*Store, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client.Database(database), logger)
	s.owned = true
	return s, nil
}

func sortDoc(fields []store.SortField) bson.D {
	d := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := int32(1)
		if f.Direction == store.Desc {
			dir = -1
		}
		d = append(d, bson.E{Key: f.Field, Value: dir})
	}
	return d
}

func filterDoc(f bson.D) bson.D {
	if f == nil {
		return bson.D{}
	}
	return f
}

func (s *Store) FindIDs(ctx context.Context, collection string, opts store.FindOptions) ([]primitive.ObjectID, error) {
	fo := options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}})
	if len(opts.Sort) > 0 {
		fo.SetSort(sortDoc(opts.Sort))
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	cur, err := s.db.Collection(collection).Find(ctx, filterDoc(opts.Filter), fo)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}

func (s *Store) FindOne(ctx context.Context, collection string, id primitive.ObjectID) (store.Document, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find one %s: %w", collection, err)
	}
	return store.Document(doc), nil
}

func (s *Store) Count(ctx context.Context, collection string, opts store.FindOptions) (int64, error) {
	co := options.Count()
	if opts.Skip > 0 {
		co.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		co.SetLimit(opts.Limit)
	}
	n, err := s.db.Collection(collection).CountDocuments(ctx, filterDoc(opts.Filter), co)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func (s *Store) Distinct(ctx context.Context, collection, field string, filter bson.D) ([]any, error) {
	values, err := s.db.Collection(collection).Distinct(ctx, field, filterDoc(filter))
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", collection, field, err)
	}
	return values, nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	if doc.ID().IsZero() {
		return fmt.Errorf("%w: document has no _id", store.ErrInvalidDocument)
	}
	_, err := s.db.Collection(collection).InsertOne(ctx, bson.M(doc))
	return mapWriteError(collection, err)
}

func (s *Store) Replace(ctx context.Context, collection string, doc store.Document) error {
	res, err := s.db.Collection(collection).ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.ID()}}, bson.M(doc))
	if err != nil {
		return mapWriteError(collection, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection string, id primitive.ObjectID) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return mapWriteError(collection, err)
}

func mapWriteError(collection string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s: %v", store.ErrDuplicateKey, collection, err)
	}
	return fmt.Errorf("write %s: %w", collection, err)
}

func (s *Store) CreateIndex(ctx context.Context, collection string, idx store.Index) (string, error) {
	if len(idx.Keys) == 0 {
		return "", fmt.Errorf("%w: no keys", store.ErrInvalidIndex)
	}
	keys := make(bson.D, 0, len(idx.Keys))
	for _, k := range idx.Keys {
		keys = append(keys, bson.E{Key: k.Field, Value: k.Kind.Value()})
	}
	io := options.Index().SetName(idx.IndexName())
	if idx.Unique {
		io.SetUnique(true)
	}
	if idx.LanguageOverride != "" {
		io.SetLanguageOverride(idx.LanguageOverride)
	}
	name, err := s.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: io})
	if err != nil {
		return "", fmt.Errorf("create index %s on %s: %w", idx.IndexName(), collection, err)
	}
	s.logger.Debug("index created", zap.String("collection", collection), zap.String("index", name))
	return name, nil
}

// indexSpec is the server's description of an index.
type indexSpec struct {
	Name             string `bson:"name"`
	Key              bson.D `bson:"key"`
	Unique           bool   `bson:"unique"`
	LanguageOverride string `bson:"language_override"`
	Weights          bson.D `bson:"weights"`
}

func (spec indexSpec) index() store.Index {
	idx := store.Index{Name: spec.Name, Unique: spec.Unique, LanguageOverride: spec.LanguageOverride}
	for _, e := range spec.Key {
		switch e.Key {
		case "_fts":
			for _, w := range spec.Weights {
				idx.Keys = append(idx.Keys, store.IndexKey{Field: w.Key, Kind: store.Text})
			}
			continue
		case "_ftsx":
			continue
		}
		kind := store.Ascending
		switch v := e.Value.(type) {
		case string:
			kind = store.IndexKind(v)
		case int32:
			if v < 0 {
				kind = store.Descending
			}
		case int64:
			if v < 0 {
				kind = store.Descending
			}
		case float64:
			if v < 0 {
				kind = store.Descending
			}
		}
		idx.Keys = append(idx.Keys, store.IndexKey{Field: e.Key, Kind: kind})
	}
	return idx
}

func (s *Store) Indexes(ctx context.Context, collection string) ([]store.Index, error) {
	cur, err := s.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var out []store.Index
	for cur.Next(ctx) {
		var spec indexSpec
		if err := cur.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode index: %w", err)
		}
		out = append(out, spec.index())
	}
	return out, cur.Err()
}

func (s *Store) DropIndex(ctx context.Context, collection, name string) error {
	if name == store.IDIndexName {
		return fmt.Errorf("%w: cannot drop %s", store.ErrInvalidIndex, name)
	}
	_, err := s.db.Collection(collection).Indexes().DropOne(ctx, name)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == indexNotFoundCode || strings.Contains(cmdErr.Message, "ns not found")) {
		return store.ErrIndexNotFound
	}
	if err != nil {
		return fmt.Errorf("drop index %s on %s: %w", name, collection, err)
	}
	return nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

// Close disconnects the client when the store dialed it itself.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}
