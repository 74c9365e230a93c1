// Package memstore is an in-process implementation of store.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/jacentio/grove/store"
	"github.com/jacentio/grove/store/filter"
)

type collection struct {
	docs       map[primitive.ObjectID]store.Document
	order      []primitive.ObjectID
	indexes    map[string]store.Index
	indexOrder []string
}

func newCollection() *collection {
	return &collection{
		docs:    make(map[primitive.ObjectID]store.Document),
		indexes: make(map[string]store.Index),
	}
}

// Store keeps collections in memory. Documents are deep-copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	logger      *zap.Logger
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		collections: make(map[string]*collection),
		logger:      logger,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = newCollection()
		s.collections[name] = c
	}
	return c
}

func (c *collection) matcher() filter.Matcher {
	var m filter.Matcher
	for _, name := range c.indexOrder {
		for _, k := range c.indexes[name].Keys {
			if k.Kind == store.Text {
				m.TextFields = append(m.TextFields, k.Field)
			}
		}
	}
	return m
}

// match returns matching documents in natural order, sorted and paginated.
func (s *Store) match(name string, opts store.FindOptions) ([]store.Document, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	m := c.matcher()
	var out []store.Document
	for _, id := range c.order {
		doc := c.docs[id]
		ok, err := m.Match(doc, opts.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	filter.Sort(out, opts.Sort)
	return paginate(out, opts.Skip, opts.Limit), nil
}

func paginate(docs []store.Document, skip, limit int64) []store.Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

func (s *Store) FindIDs(_ context.Context, collection string, opts store.FindOptions) ([]primitive.ObjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.match(collection, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids, nil
}

func (s *Store) FindOne(_ context.Context, collection string, id primitive.ObjectID) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, store.ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) Count(_ context.Context, collection string, opts store.FindOptions) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts.Sort = nil
	docs, err := s.match(collection, opts)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (s *Store) Distinct(_ context.Context, collection, field string, f bson.D) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.match(collection, store.FindOptions{Filter: f})
	if err != nil {
		return nil, err
	}
	var out []any
	add := func(v any) {
		for _, seen := range out {
			if filter.Equal(seen, v) {
				return
			}
		}
		out = append(out, v)
	}
	for _, d := range docs {
		values, _ := filter.Lookup(d, field)
		for _, v := range values {
			if list, ok := v.([]any); ok {
				for _, e := range list {
					add(e)
				}
				continue
			}
			add(v)
		}
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, collection string, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID()
	if id.IsZero() {
		return fmt.Errorf("%w: document has no _id", store.ErrInvalidDocument)
	}
	c := s.coll(collection)
	if _, exists := c.docs[id]; exists {
		return fmt.Errorf("%w: _id %s", store.ErrDuplicateKey, id.Hex())
	}
	if err := c.checkUnique(doc, id); err != nil {
		return err
	}
	c.docs[id] = doc.Clone()
	c.order = append(c.order, id)
	return nil
}

func (s *Store) Replace(_ context.Context, collection string, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := doc.ID()
	c, ok := s.collections[collection]
	if !ok {
		return store.ErrNotFound
	}
	if _, exists := c.docs[id]; !exists {
		return store.ErrNotFound
	}
	if err := c.checkUnique(doc, id); err != nil {
		return err
	}
	c.docs[id] = doc.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, collection string, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	if _, exists := c.docs[id]; !exists {
		return nil
	}
	delete(c.docs, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// checkUnique rejects doc when another document shares its key tuple on a unique index.
func (c *collection) checkUnique(doc store.Document, self primitive.ObjectID) error {
	for _, name := range c.indexOrder {
		idx := c.indexes[name]
		if !idx.Unique {
			continue
		}
		want := keyTuple(doc, idx)
		for id, other := range c.docs {
			if id == self {
				continue
			}
			if filter.Equal(keyTuple(other, idx), want) {
				return fmt.Errorf("%w: index %s", store.ErrDuplicateKey, name)
			}
		}
	}
	return nil
}

func keyTuple(doc store.Document, idx store.Index) []any {
	out := make([]any, len(idx.Keys))
	for i, k := range idx.Keys {
		vs, _ := filter.Lookup(doc, k.Field)
		if len(vs) > 0 {
			out[i] = vs[0]
		}
	}
	return out
}

func (s *Store) CreateIndex(_ context.Context, collection string, idx store.Index) (string, error) {
	if len(idx.Keys) == 0 {
		return "", fmt.Errorf("%w: no keys", store.ErrInvalidIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(collection)
	name := idx.IndexName()
	idx.Name = name
	if idx.Unique {
		// Existing documents must already satisfy the constraint.
		seen := make([][]any, 0, len(c.docs))
		for _, id := range c.order {
			t := keyTuple(c.docs[id], idx)
			for _, prev := range seen {
				if filter.Equal(prev, t) {
					return "", fmt.Errorf("%w: index %s", store.ErrDuplicateKey, name)
				}
			}
			seen = append(seen, t)
		}
	}
	if _, exists := c.indexes[name]; !exists {
		c.indexOrder = append(c.indexOrder, name)
	}
	c.indexes[name] = idx
	s.logger.Debug("index created", zap.String("collection", collection), zap.String("index", name))
	return name, nil
}

func (s *Store) Indexes(_ context.Context, collection string) ([]store.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []store.Index{{Name: store.IDIndexName, Keys: []store.IndexKey{{Field: "_id", Kind: store.Ascending}}}}
	c, ok := s.collections[collection]
	if !ok {
		return out, nil
	}
	for _, name := range c.indexOrder {
		out = append(out, c.indexes[name])
	}
	return out, nil
}

func (s *Store) DropIndex(_ context.Context, collection, name string) error {
	if name == store.IDIndexName {
		return fmt.Errorf("%w: cannot drop %s", store.ErrInvalidIndex, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return store.ErrIndexNotFound
	}
	if _, exists := c.indexes[name]; !exists {
		return store.ErrIndexNotFound
	}
	delete(c.indexes, name)
	for i, n := range c.indexOrder {
		if n == name {
			c.indexOrder = append(c.indexOrder[:i], c.indexOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Collections(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for n := range s.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close(context.Context) error { return nil }
