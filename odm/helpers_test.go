package odm_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/grove/cache"
	"github.com/jacentio/grove/field"
	"github.com/jacentio/grove/odm"
	"github.com/jacentio/grove/queue"
	"github.com/jacentio/grove/store"
	"github.com/jacentio/grove/store/memstore"
)

// countingStore records how often each store operation was called.
type countingStore struct {
	store.Store

	mu    sync.Mutex
	calls map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memstore.New(nil), calls: map[string]int{}}
}

func (s *countingStore) inc(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
}

func (s *countingStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *countingStore) FindIDs(ctx context.Context, c string, opts store.FindOptions) ([]primitive.ObjectID, error) {
	s.inc("find")
	return s.Store.FindIDs(ctx, c, opts)
}

func (s *countingStore) FindOne(ctx context.Context, c string, id primitive.ObjectID) (store.Document, error) {
	s.inc("find_one")
	return s.Store.FindOne(ctx, c, id)
}

func (s *countingStore) Count(ctx context.Context, c string, opts store.FindOptions) (int64, error) {
	s.inc("count")
	return s.Store.Count(ctx, c, opts)
}

func (s *countingStore) Distinct(ctx context.Context, c, f string, filter bson.D) ([]any, error) {
	s.inc("distinct")
	return s.Store.Distinct(ctx, c, f, filter)
}

func (s *countingStore) Insert(ctx context.Context, c string, doc store.Document) error {
	s.inc("insert")
	return s.Store.Insert(ctx, c, doc)
}

func (s *countingStore) Replace(ctx context.Context, c string, doc store.Document) error {
	s.inc("replace")
	return s.Store.Replace(ctx, c, doc)
}

func (s *countingStore) Delete(ctx context.Context, c string, id primitive.ObjectID) error {
	s.inc("delete")
	return s.Store.Delete(ctx, c, id)
}

func userSchema() odm.Schema {
	return odm.Schema{
		Model: "user",
		Fields: []field.Spec{
			{Name: "name", Kind: field.KindString, Required: true},
			{Name: "email", Kind: field.KindEmail},
		},
	}
}

func pageSchema() odm.Schema {
	return odm.Schema{
		Model: "page",
		Fields: []field.Spec{
			{Name: "title", Kind: field.KindString},
			{Name: "status", Kind: field.KindEnum, Values: []string{"draft", "active"}, Default: "draft"},
			{Name: "rank", Kind: field.KindInteger},
			{Name: "tags", Kind: field.KindList, Elem: field.KindString, Unique: true},
			{Name: "author", Kind: field.KindRef, Models: []string{"user"}},
			{Name: "editors", Kind: field.KindRefList, Models: []string{"user"}, Unique: true},
		},
		Indexes: []store.Index{
			{Keys: []store.IndexKey{{Field: "title", Kind: store.Text}}},
			{Keys: []store.IndexKey{{Field: "rank", Kind: store.Descending}}},
		},
	}
}

func noteSchema() odm.Schema {
	return odm.Schema{
		Model: "note",
		Fields: []field.Spec{
			{Name: "title", Kind: field.KindString},
		},
	}
}

type fixture struct {
	reg    *odm.Registry
	store  *countingStore
	caches *cache.Manager
	ctx    context.Context
}

func newFixture(t *testing.T, opts ...odm.Option) *fixture {
	t.Helper()
	config := odm.DefaultConfig()
	config.CreateIndexes = true
	return newFixtureConfig(t, config, opts...)
}

func newFixtureConfig(t *testing.T, config odm.Config, opts ...odm.Option) *fixture {
	t.Helper()
	s := newCountingStore()
	q := queue.New(queue.Config{MaxAttempts: 1}, nil)
	caches := cache.NewManager(cache.DefaultConfig())
	reg := odm.NewRegistry(s, caches, q, config, nil, opts...)

	ctx := context.Background()
	for _, schema := range []odm.Schema{userSchema(), pageSchema(), noteSchema()} {
		require.NoError(t, reg.Register(ctx, schema, false))
	}
	return &fixture{reg: reg, store: s, caches: caches, ctx: ctx}
}

// save dispenses an entity of model, assigns values and saves it.
func (f *fixture) save(t *testing.T, model string, values map[string]any) *odm.Entity {
	t.Helper()
	e, err := f.reg.Dispense(f.ctx, model)
	require.NoError(t, err)
	require.NoError(t, e.SetMany(f.ctx, values))
	require.NoError(t, e.Save(f.ctx))
	return e
}

func (f *fixture) reload(t *testing.T, e *odm.Entity) *odm.Entity {
	t.Helper()
	f.reg.InvalidateEntity(e.Model(), e.ID())
	got, err := f.reg.Load(f.ctx, e.Model(), e.ID())
	require.NoError(t, err)
	return got
}
