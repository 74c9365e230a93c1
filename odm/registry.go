// Package odm maps schema-bound entities onto a document store, with an
// entity cache, a finder-result cache and a write queue kept coherent with it.
package odm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jacentio/grove/cache"
	"github.com/jacentio/grove/field"
	"github.com/jacentio/grove/queue"
	"github.com/jacentio/grove/ref"
	"github.com/jacentio/grove/store"
)

// Cache pool names.
const (
	EntityPool       = "odm.entities"
	finderPoolPrefix = "odm.finder."
)

// Queue operation names.
const (
	OpSave   = "entity_save"
	OpDelete = "entity_delete"
)

// FinderPool returns the name of the finder-result pool of model.
func FinderPool(model string) string {
	return finderPoolPrefix + model
}

// Config holds configuration for the Registry.
type Config struct {
	// EntityTTL is how long loaded documents stay in the entity cache.
	// Default: 24h
	EntityTTL time.Duration

	// FinderTTL is the default lifetime of cached finder results.
	// Default: 24h
	FinderTTL time.Duration

	// TextLanguage is the default text-search language tag.
	// Default: "en"
	TextLanguage string

	// DebugFinder logs every finder execution with its filter and source.
	// Default: false
	DebugFinder bool

	// CreateIndexes creates the declared indexes when a model is registered.
	// Default: false
	CreateIndexes bool

	// MaxTreeDepth bounds ancestor walks and depth cascades.
	// Default: 1024
	MaxTreeDepth int
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		EntityTTL:    24 * time.Hour,
		FinderTTL:    24 * time.Hour,
		TextLanguage: "en",
		MaxTreeDepth: 1024,
	}
}

func (c *Config) validate() {
	if c.EntityTTL == 0 {
		c.EntityTTL = 24 * time.Hour
	}
	if c.FinderTTL == 0 {
		c.FinderTTL = 24 * time.Hour
	}
	if c.TextLanguage == "" {
		c.TextLanguage = "en"
	}
	if c.MaxTreeDepth < 1 {
		c.MaxTreeDepth = 1024
	}
}

// FinderRecorder observes finder executions. Source is "cache" or "store".
type FinderRecorder interface {
	FinderQuery(model, kind, source string)
}

type nopFinderRecorder struct{}

func (nopFinderRecorder) FinderQuery(string, string, string) {}

// model is a registered schema with everything derived from it.
type model struct {
	schema     Schema
	collection string
	indexes    []store.Index
	// sanitizers clean finder arguments; they never hold entity state.
	sanitizers map[string]field.Field
}

func (m *model) specs(now time.Time) []field.Spec {
	return append(systemFields(m.schema.Model, now), m.schema.Fields...)
}

// Registry owns the registered models and the collaborators entities use.
// It is safe for concurrent use; entities it dispenses are not.
type Registry struct {
	store    store.Store
	caches   *cache.Manager
	entities *cache.Pool
	queue    *queue.Queue
	config   Config
	logger   *zap.Logger

	now       func() time.Time
	recorder  FinderRecorder
	observers []Observer
	loads     singleflight.Group

	mu          sync.RWMutex
	models      map[string]*model
	order       []string
	collections map[string]string
	relations   *Relations
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithFinderRecorder sets the finder execution recorder.
func WithFinderRecorder(rec FinderRecorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// NewRegistry creates a Registry and registers the save and delete
// handlers on q.
func NewRegistry(s store.Store, caches *cache.Manager, q *queue.Queue, config Config, logger *zap.Logger, opts ...Option) *Registry {
	config.validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:       s,
		caches:      caches,
		entities:    caches.Ensure(EntityPool),
		queue:       q,
		config:      config,
		logger:      logger,
		now:         time.Now,
		recorder:    nopFinderRecorder{},
		models:      make(map[string]*model),
		collections: make(map[string]string),
		relations:   NewRelations(),
	}
	for _, opt := range opts {
		opt(r)
	}
	q.Handle(OpSave, r.handleSave)
	q.Handle(OpDelete, r.handleDelete)
	return r
}

// Store returns the backing store.
func (r *Registry) Store() store.Store { return r.store }

// Logger returns the registry logger.
func (r *Registry) Logger() *zap.Logger { return r.logger }

// Register validates and adds a schema. Registering a model twice fails
// unless replace is set.
func (r *Registry) Register(ctx context.Context, s Schema, replace bool) error {
	indexes, err := s.validate()
	if err != nil {
		return err
	}
	sanitizers := make(map[string]field.Field)
	m := &model{schema: s, collection: s.collection(), indexes: indexes, sanitizers: sanitizers}
	for _, spec := range m.specs(time.Time{}) {
		f, err := field.New(spec)
		if err != nil {
			return &FieldError{Model: s.Model, Field: spec.Name, Err: err}
		}
		sanitizers[spec.Name] = f
	}

	r.mu.Lock()
	if _, ok := r.models[s.Model]; ok && !replace {
		r.mu.Unlock()
		return modelError(s.Model, ErrModelAlreadyRegistered)
	}
	if owner, ok := r.collections[m.collection]; ok && owner != s.Model {
		r.mu.Unlock()
		return fmt.Errorf("%w: collection %s already belongs to model %s", ErrInvalidSchema, m.collection, owner)
	}
	if old, ok := r.models[s.Model]; ok {
		delete(r.collections, old.collection)
	} else {
		r.order = append(r.order, s.Model)
	}
	r.models[s.Model] = m
	r.collections[m.collection] = s.Model
	r.relations.Set(s.Model, relationsOf(s))
	r.mu.Unlock()

	r.caches.Ensure(FinderPool(s.Model))

	if r.config.CreateIndexes {
		for _, idx := range indexes {
			if _, err := r.store.CreateIndex(ctx, m.collection, idx); err != nil {
				return fmt.Errorf("create index %s on %s: %w", idx.IndexName(), m.collection, err)
			}
		}
	}
	r.logger.Debug("model registered",
		zap.String("model", s.Model),
		zap.String("collection", m.collection),
		zap.Int("fields", len(s.Fields)),
	)
	return r.emit(ctx, Event{Type: EventRegister, Model: s.Model})
}

// Unregister removes a model. Its cached finder results are dropped.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	m, ok := r.models[name]
	if !ok {
		r.mu.Unlock()
		return modelError(name, ErrModelNotRegistered)
	}
	delete(r.models, name)
	delete(r.collections, m.collection)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.relations.Remove(name)
	r.mu.Unlock()

	if err := r.caches.Drop(FinderPool(name)); err != nil && !errors.Is(err, cache.ErrPoolNotExist) {
		return err
	}
	return nil
}

// IsRegistered reports whether model is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[name]
	return ok
}

// Models lists registered models in registration order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schema returns the registered schema of model.
func (r *Registry) Schema(name string) (Schema, error) {
	m, err := r.model(name)
	if err != nil {
		return Schema{}, err
	}
	return m.schema, nil
}

// Collection returns the collection name of model.
func (r *Registry) Collection(name string) (string, error) {
	m, err := r.model(name)
	if err != nil {
		return "", err
	}
	return m.collection, nil
}

// ModelOf returns the model stored in collection.
func (r *Registry) ModelOf(collection string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.collections[collection]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return name, nil
}

// Relations returns a snapshot of the reference relations between models.
func (r *Registry) Relations() []Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Relation(nil), r.relations.All()...)
}

func (r *Registry) model(name string) (*model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, modelError(name, ErrModelNotRegistered)
	}
	return m, nil
}

// Dispense returns a new, unsaved entity of model holding default values.
func (r *Registry) Dispense(ctx context.Context, name string) (*Entity, error) {
	m, err := r.model(name)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		reg:    r,
		m:      m,
		fields: make(map[string]field.Field),
		isNew:  true,
	}
	for _, spec := range m.specs(r.now()) {
		f, err := field.New(spec)
		if err != nil {
			return nil, &FieldError{Model: name, Field: spec.Name, Err: err}
		}
		if b, ok := f.(field.Binder); ok {
			b.Bind(r)
		}
		e.fields[spec.Name] = f
		e.order = append(e.order, spec.Name)
	}
	if m.schema.Hooks.Setup != nil {
		if err := m.schema.Hooks.Setup(ctx, e); err != nil {
			return nil, err
		}
	}
	if err := r.emit(ctx, Event{Type: EventSetupFields, Model: name, Entity: e}); err != nil {
		return nil, err
	}
	return e, nil
}

// Load returns the stored entity of model with the given identifier. The
// entity cache is consulted first; misses are loaded from the store once
// per key even under concurrent callers.
func (r *Registry) Load(ctx context.Context, name string, id primitive.ObjectID) (*Entity, error) {
	m, err := r.model(name)
	if err != nil {
		return nil, err
	}
	doc, err := r.document(ctx, m, id)
	if err != nil {
		return nil, err
	}
	e, err := r.Dispense(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := e.load(doc); err != nil {
		return nil, err
	}
	return e, nil
}

func entityKey(model string, id primitive.ObjectID) string {
	return model + "." + id.Hex()
}

func (r *Registry) document(ctx context.Context, m *model, id primitive.ObjectID) (store.Document, error) {
	key := entityKey(m.schema.Model, id)
	if v, ok := r.entities.Get(key); ok {
		if doc, ok := v.(store.Document); ok {
			return doc.Clone(), nil
		}
	}
	v, err, _ := r.loads.Do(key, func() (any, error) {
		doc, err := r.store.FindOne(ctx, m.collection, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &EntityError{Model: m.schema.Model, Ref: ref.New(m.schema.Model, id).String(), Err: ErrEntityNotFound}
			}
			return nil, err
		}
		r.entities.Put(key, doc.Clone(), r.config.EntityTTL)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(store.Document).Clone(), nil
}

// InvalidateEntity drops the cached document of one entity.
func (r *Registry) InvalidateEntity(name string, id primitive.ObjectID) {
	r.entities.Remove(entityKey(name, id))
}

// GetByRef loads the entity a "model:id" reference points to.
func (r *Registry) GetByRef(ctx context.Context, s string) (*Entity, error) {
	rf, err := ref.Parse(s)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, rf.Model, rf.ID)
}

// Resolve implements field.Resolver.
func (r *Registry) Resolve(ctx context.Context, rf ref.Ref) (any, error) {
	e, err := r.Load(ctx, rf.Model, rf.ID)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Check implements field.Resolver.
func (r *Registry) Check(rf ref.Ref) error {
	if !r.IsRegistered(rf.Model) {
		return modelError(rf.Model, ErrModelNotRegistered)
	}
	return nil
}

// CollectionRef is a store-level reference naming a collection instead of a model.
type CollectionRef struct {
	Collection string
	ID         primitive.ObjectID
}

// ResolveRef turns an entity, a reference string, a ref.Ref, a
// {"uid", "model"} map or a CollectionRef into a checked reference.
// Bare identifiers take the implied model.
func (r *Registry) ResolveRef(v any, implied string) (ref.Ref, error) {
	var (
		rf  ref.Ref
		err error
	)
	switch t := v.(type) {
	case string:
		if strings.Contains(t, ":") {
			rf, err = ref.Parse(t)
		} else {
			rf, err = impliedRef(t, implied)
		}
	case primitive.ObjectID:
		rf, err = impliedRef(t, implied)
	case map[string]any:
		name, _ := t["model"].(string)
		if name == "" {
			name = implied
		}
		rf, err = impliedRef(t["uid"], name)
	case CollectionRef:
		return r.ResolveManualRef(t.Collection, t.ID)
	default:
		rf, err = ref.Of(v)
	}
	if err != nil {
		return ref.Ref{}, err
	}
	if err := r.Check(rf); err != nil {
		return ref.Ref{}, err
	}
	return rf, nil
}

func impliedRef(id any, model string) (ref.Ref, error) {
	if model == "" {
		return ref.Ref{}, &ref.Error{Value: id, Reason: "no model given or implied"}
	}
	switch t := id.(type) {
	case primitive.ObjectID:
		return ref.New(model, t), nil
	case string:
		return ref.Parse(model + ":" + t)
	}
	return ref.Ref{}, &ref.Error{Value: id, Reason: fmt.Sprintf("unsupported identifier type %T", id)}
}

// ResolveRefs resolves every value with ResolveRef.
func (r *Registry) ResolveRefs(vs []any, implied string) ([]ref.Ref, error) {
	out := make([]ref.Ref, 0, len(vs))
	for _, v := range vs {
		rf, err := r.ResolveRef(v, implied)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, nil
}

// ResolveManualRef maps a store-level (collection, id) reference to a model reference.
func (r *Registry) ResolveManualRef(collection string, id primitive.ObjectID) (ref.Ref, error) {
	name, err := r.ModelOf(collection)
	if err != nil {
		return ref.Ref{}, err
	}
	return ref.New(name, id), nil
}

// ClearFinderCache drops every cached finder result of model. A missing
// pool means there is nothing to clear.
func (r *Registry) ClearFinderCache(ctx context.Context, name string) error {
	pool, err := r.caches.Pool(FinderPool(name))
	switch {
	case errors.Is(err, cache.ErrPoolNotExist):
	case err != nil:
		return err
	default:
		pool.Clear()
	}
	return r.emit(ctx, Event{Type: EventFinderCacheClear, Model: name})
}

func (r *Registry) finderPool(name string) *cache.Pool {
	return r.caches.Ensure(FinderPool(name))
}

// Reindex drops every index of model except the identifier index and
// creates the declared ones.
func (r *Registry) Reindex(ctx context.Context, name string) error {
	m, err := r.model(name)
	if err != nil {
		return err
	}
	existing, err := r.store.Indexes(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("list indexes of %s: %w", m.collection, err)
	}
	for _, idx := range existing {
		if idx.IndexName() == store.IDIndexName {
			continue
		}
		if err := r.store.DropIndex(ctx, m.collection, idx.IndexName()); err != nil && !errors.Is(err, store.ErrIndexNotFound) {
			return fmt.Errorf("drop index %s on %s: %w", idx.IndexName(), m.collection, err)
		}
	}
	for _, idx := range m.indexes {
		if _, err := r.store.CreateIndex(ctx, m.collection, idx); err != nil {
			return fmt.Errorf("create index %s on %s: %w", idx.IndexName(), m.collection, err)
		}
	}
	r.logger.Info("model reindexed",
		zap.String("model", name),
		zap.Int("dropped", len(existing)),
		zap.Int("created", len(m.indexes)),
	)
	return nil
}

// ReindexAll reindexes every registered model in registration order.
func (r *Registry) ReindexAll(ctx context.Context) error {
	for _, name := range r.Models() {
		if err := r.Reindex(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// IsUnique reports whether no stored entity of model other than the
// excluded ones holds value in the named field.
func (r *Registry) IsUnique(ctx context.Context, name, fieldName string, value any, exclude ...primitive.ObjectID) (bool, error) {
	f := r.Find(name).NoCache().Eq(fieldName, value)
	if len(exclude) > 0 {
		ids := make([]any, len(exclude))
		for i, id := range exclude {
			ids[i] = id
		}
		f = f.NotIn(FieldID, ids)
	}
	n, err := f.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// checkReferrers returns an IntegrityError naming the first entity whose
// reference fields point at e.
func (r *Registry) checkReferrers(ctx context.Context, e *Entity) error {
	target := e.RefString()
	r.mu.RLock()
	if !r.relations.HasReferrers(e.Model()) {
		r.mu.RUnlock()
		return nil
	}
	rels := r.relations.ReferrersOf(e.Model())
	r.mu.RUnlock()
	for _, rel := range rels {
		f := r.Find(rel.Model).NoCache()
		if rel.Kind == field.KindRefList {
			f = f.In(rel.Field, []any{target})
		} else {
			f = f.Eq(rel.Field, target)
		}
		if rel.Model == e.Model() {
			f = f.Ne(FieldID, e.ID())
		}
		referrer, err := f.First(ctx)
		if err != nil {
			return err
		}
		if referrer != nil {
			return &IntegrityError{Ref: target, Referrer: referrer.RefString(), Field: rel.Field}
		}
	}
	return nil
}
