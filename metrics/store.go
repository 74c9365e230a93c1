package metrics

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/grove/store"
)

// Store decorates a store.Store with operation timing.
type Store struct {
	next store.Store
	c    *Collector
}

var _ store.Store = (*Store)(nil)

// WrapStore instruments s. A nil collector returns s unchanged.
func WrapStore(s store.Store, c *Collector) store.Store {
	if c == nil {
		return s
	}
	return &Store{next: s, c: c}
}

func (s *Store) FindIDs(ctx context.Context, collection string, opts store.FindOptions) (ids []primitive.ObjectID, err error) {
	defer func(start time.Time) { s.c.observeStore("find_ids", collection, start, err) }(time.Now())
	return s.next.FindIDs(ctx, collection, opts)
}

func (s *Store) FindOne(ctx context.Context, collection string, id primitive.ObjectID) (doc store.Document, err error) {
	defer func(start time.Time) { s.c.observeStore("find_one", collection, start, notFoundOK(err)) }(time.Now())
	return s.next.FindOne(ctx, collection, id)
}

func (s *Store) Count(ctx context.Context, collection string, opts store.FindOptions) (n int64, err error) {
	defer func(start time.Time) { s.c.observeStore("count", collection, start, err) }(time.Now())
	return s.next.Count(ctx, collection, opts)
}

func (s *Store) Distinct(ctx context.Context, collection, field string, f bson.D) (values []any, err error) {
	defer func(start time.Time) { s.c.observeStore("distinct", collection, start, err) }(time.Now())
	return s.next.Distinct(ctx, collection, field, f)
}

func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) (err error) {
	defer func(start time.Time) { s.c.observeStore("insert", collection, start, err) }(time.Now())
	return s.next.Insert(ctx, collection, doc)
}

func (s *Store) Replace(ctx context.Context, collection string, doc store.Document) (err error) {
	defer func(start time.Time) { s.c.observeStore("replace", collection, start, err) }(time.Now())
	return s.next.Replace(ctx, collection, doc)
}

func (s *Store) Delete(ctx context.Context, collection string, id primitive.ObjectID) (err error) {
	defer func(start time.Time) { s.c.observeStore("delete", collection, start, err) }(time.Now())
	return s.next.Delete(ctx, collection, id)
}

func (s *Store) CreateIndex(ctx context.Context, collection string, idx store.Index) (name string, err error) {
	defer func(start time.Time) { s.c.observeStore("create_index", collection, start, err) }(time.Now())
	return s.next.CreateIndex(ctx, collection, idx)
}

func (s *Store) Indexes(ctx context.Context, collection string) (idx []store.Index, err error) {
	defer func(start time.Time) { s.c.observeStore("indexes", collection, start, err) }(time.Now())
	return s.next.Indexes(ctx, collection)
}

func (s *Store) DropIndex(ctx context.Context, collection, name string) (err error) {
	defer func(start time.Time) { s.c.observeStore("drop_index", collection, start, err) }(time.Now())
	return s.next.DropIndex(ctx, collection, name)
}

func (s *Store) Collections(ctx context.Context) (names []string, err error) {
	defer func(start time.Time) { s.c.observeStore("collections", "", start, err) }(time.Now())
	return s.next.Collections(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}

// notFoundOK keeps lookups of missing documents out of the error counter.
func notFoundOK(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
