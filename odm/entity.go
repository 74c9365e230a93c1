package odm

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/jacentio/grove/field"
	"github.com/jacentio/grove/ref"
	"github.com/jacentio/grove/store"
)

// Entity is one schema-bound document. It is not safe for concurrent use.
type Entity struct {
	reg    *Registry
	m      *model
	fields map[string]field.Field
	order  []string

	isNew    bool
	deleted  bool
	saving   bool
	deleting bool

	// pending holds reparented or re-depthed entities saved with this one.
	pending []*Entity
}

// Model returns the model name.
func (e *Entity) Model() string { return e.m.schema.Model }

// Collection returns the collection the entity is stored in.
func (e *Entity) Collection() string { return e.m.collection }

// ID returns the identifier, or the zero ID before the first save.
func (e *Entity) ID() primitive.ObjectID {
	id, _ := e.fields[FieldID].StorableValue().(primitive.ObjectID)
	return id
}

// Ref implements ref.Referencer.
func (e *Entity) Ref() (ref.Ref, error) {
	id := e.ID()
	if id.IsZero() {
		return ref.Ref{}, &EntityError{Model: e.Model(), Err: ErrEntityNotStored}
	}
	return ref.New(e.Model(), id), nil
}

// RefString returns the "model:id" reference, or "" before the first save.
func (e *Entity) RefString() string {
	rf, err := e.Ref()
	if err != nil {
		return ""
	}
	return rf.String()
}

func (e *Entity) IsNew() bool          { return e.isNew }
func (e *Entity) IsDeleted() bool      { return e.deleted }
func (e *Entity) IsBeingSaved() bool   { return e.saving }
func (e *Entity) IsBeingDeleted() bool { return e.deleting }

// IsModified reports whether any field changed since the entity was loaded or saved.
func (e *Entity) IsModified() bool {
	for _, name := range e.order {
		if e.fields[name].IsModified() {
			return true
		}
	}
	return false
}

// Equal reports whether both entities are the same stored document.
func (e *Entity) Equal(other *Entity) bool {
	if other == nil {
		return false
	}
	if e == other {
		return true
	}
	a, b := e.RefString(), other.RefString()
	return a != "" && a == b
}

func (e *Entity) String() string {
	if s := e.RefString(); s != "" {
		return s
	}
	return e.Model() + ":<new>"
}

// Fields lists field names in schema order, system fields first.
func (e *Entity) Fields() []string {
	return append([]string(nil), e.order...)
}

// Has reports whether the entity defines the named field.
func (e *Entity) Has(name string) bool {
	_, ok := e.fields[name]
	return ok
}

// Field returns the named field.
func (e *Entity) Field(name string) (field.Field, error) {
	f, ok := e.fields[name]
	if !ok {
		return nil, &FieldError{Model: e.Model(), Field: name, Err: ErrFieldNotDefined}
	}
	return f, nil
}

// Get returns the external value of a field. References come back resolved.
func (e *Entity) Get(ctx context.Context, name string) (any, error) {
	f, err := e.Field(name)
	if err != nil {
		return nil, err
	}
	v, err := f.Get(ctx)
	if err != nil {
		return nil, err
	}
	if h := e.m.schema.Hooks.OnGet; h != nil {
		return h(e, name, v)
	}
	return v, nil
}

// Depth returns the tree depth; roots have depth 0.
func (e *Entity) Depth() int64 {
	d, _ := e.fields[FieldDepth].StorableValue().(int64)
	return d
}

// ParentRef returns the parent reference string, or "" for roots.
func (e *Entity) ParentRef() string {
	s, _ := e.fields[FieldParent].StorableValue().(string)
	return s
}

func (e *Entity) mutable(name string) (field.Field, error) {
	if e.deleted {
		return nil, &EntityError{Model: e.Model(), Ref: e.RefString(), Err: ErrEntityDeleted}
	}
	return e.Field(name)
}

// Set assigns a field value. Assigning the parent validates the tree and
// recomputes depths of this entity and its stored descendants.
func (e *Entity) Set(ctx context.Context, name string, v any, opts ...field.SetOption) error {
	f, err := e.mutable(name)
	if err != nil {
		return err
	}
	if h := e.m.schema.Hooks.OnSet; h != nil {
		if v, err = h(e, name, v); err != nil {
			return err
		}
	}
	switch name {
	case FieldParent:
		return e.setParent(ctx, v)
	case FieldDepth:
		if err := f.Set(v, opts...); err != nil {
			return err
		}
		return e.cascadeDepth(ctx)
	}
	return f.Set(v, opts...)
}

// SetMany assigns several fields in schema order. Unknown names fail before
// anything is assigned.
func (e *Entity) SetMany(ctx context.Context, values map[string]any) error {
	for name := range values {
		if _, err := e.mutable(name); err != nil {
			return err
		}
	}
	for _, name := range e.order {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := e.Set(ctx, name, v); err != nil {
			return err
		}
	}
	return nil
}

// Add applies the field's combination rule, e.g. append for lists.
func (e *Entity) Add(name string, v any) error {
	f, err := e.mutable(name)
	if err != nil {
		return err
	}
	return f.Add(v)
}

// Sub applies the field's subtraction rule.
func (e *Entity) Sub(name string, v any) error {
	f, err := e.mutable(name)
	if err != nil {
		return err
	}
	return f.Subtract(v)
}

func (e *Entity) Inc(name string) error {
	f, err := e.mutable(name)
	if err != nil {
		return err
	}
	return f.Increment()
}

func (e *Entity) Dec(name string) error {
	f, err := e.mutable(name)
	if err != nil {
		return err
	}
	return f.Decrement()
}

// Reset restores a field default. Resetting the parent detaches the entity.
func (e *Entity) Reset(ctx context.Context, name string) error {
	f, err := e.mutable(name)
	if err != nil {
		return err
	}
	if name == FieldParent {
		return e.setParent(ctx, nil)
	}
	return f.Reset()
}

// IsEmpty reports whether a field holds its kind's empty value.
func (e *Entity) IsEmpty(name string) (bool, error) {
	f, err := e.Field(name)
	if err != nil {
		return false, err
	}
	return f.IsEmpty(), nil
}

// Storable returns the store document of the entity. With checkRequired,
// an empty required field fails with ErrRequiredFieldEmpty.
func (e *Entity) Storable(checkRequired bool) (store.Document, error) {
	doc := make(store.Document, len(e.order))
	for _, name := range e.order {
		f := e.fields[name]
		if !f.IsStorable() {
			continue
		}
		if checkRequired && f.IsRequired() && f.IsEmpty() {
			return nil, &FieldError{Model: e.Model(), Field: name, Err: ErrRequiredFieldEmpty}
		}
		doc[name] = f.StorableValue()
	}
	return doc, nil
}

// load distributes a stored document into the fields. Unknown names are
// ignored so documents written under older schemas still load.
func (e *Entity) load(doc store.Document) error {
	for name, v := range doc {
		if name == FieldModel {
			continue
		}
		f, ok := e.fields[name]
		if !ok || !f.IsStorable() {
			continue
		}
		if err := f.SetStorableValue(v); err != nil {
			return &FieldError{Model: e.Model(), Field: name, Err: err}
		}
	}
	if e.fields[FieldRef].IsEmpty() && !e.ID().IsZero() {
		if err := e.fields[FieldRef].SetStorableValue(e.RefString()); err != nil {
			return err
		}
	}
	e.isNew = false
	e.clearModified()
	return nil
}

func (e *Entity) clearModified() {
	for _, name := range e.order {
		e.fields[name].SetModified(false)
	}
}

// SaveOption tunes Save and Delete.
type SaveOption func(*options)

type options struct {
	force       bool
	fast        bool
	noTimestamp bool
}

func newOptions(opts []SaveOption) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Force saves unmodified entities, or deletes despite live referrers.
func Force() SaveOption {
	return func(o *options) { o.force = true }
}

// Fast saves without hooks, events or timestamp update.
func Fast() SaveOption {
	return func(o *options) { o.fast = true }
}

// WithoutTimestamp saves without touching the modified timestamp.
func WithoutTimestamp() SaveOption {
	return func(o *options) { o.noTimestamp = true }
}

// Save persists the entity through the write queue and waits for the
// write. Saved, unmodified entities are skipped unless forced.
func (e *Entity) Save(ctx context.Context, opts ...SaveOption) error {
	o := newOptions(opts)
	if e.deleted {
		return &EntityError{Model: e.Model(), Ref: e.RefString(), Err: ErrEntityDeleted}
	}
	if e.saving {
		return nil
	}
	if !e.isNew && !e.IsModified() && !o.force {
		return e.savePending(ctx)
	}
	e.saving = true
	defer func() { e.saving = false }()

	first := e.isNew
	now := e.reg.now()
	if !o.fast && !o.noTimestamp {
		if err := e.fields[FieldModified].Set(now); err != nil {
			return err
		}
	}
	if first {
		id := primitive.NewObjectIDFromTimestamp(now)
		if err := e.fields[FieldID].Set(id); err != nil {
			return err
		}
		if err := e.fields[FieldRef].Set(ref.New(e.Model(), id).String()); err != nil {
			e.rollbackID()
			return err
		}
	}

	if !o.fast {
		if err := e.preSave(ctx); err != nil {
			if first {
				e.rollbackID()
			}
			return err
		}
	}

	doc, err := e.Storable(true)
	if err == nil {
		err = e.reg.submit(ctx, OpSave, &saveTask{New: first, Model: e.Model(), Collection: e.m.collection, Doc: doc})
	}
	if err != nil {
		if first {
			e.rollbackID()
		}
		return err
	}

	e.clearModified()
	e.isNew = false
	if err := e.savePending(ctx); err != nil {
		return err
	}
	if err := e.reg.ClearFinderCache(ctx, e.Model()); err != nil {
		return err
	}
	if o.fast {
		return nil
	}
	return e.afterSave(ctx, first)
}

func (e *Entity) preSave(ctx context.Context) error {
	if h := e.m.schema.Hooks.PreSave; h != nil {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return e.reg.emit(ctx, Event{Type: EventPreSave, Model: e.Model(), Entity: e})
}

func (e *Entity) afterSave(ctx context.Context, first bool) error {
	if h := e.m.schema.Hooks.AfterSave; h != nil {
		if err := h(ctx, e, first); err != nil {
			return err
		}
	}
	return e.reg.emit(ctx, Event{Type: EventSave, Model: e.Model(), Entity: e, First: first})
}

func (e *Entity) rollbackID() {
	_ = e.fields[FieldID].Set(nil, field.WithReset())
	_ = e.fields[FieldRef].Set("", field.WithReset())
}

func (e *Entity) savePending(ctx context.Context) error {
	for len(e.pending) > 0 {
		p := e.pending[0]
		if err := p.Save(ctx); err != nil {
			return err
		}
		e.pending = e.pending[1:]
	}
	return nil
}

// addPending queues another entity to be saved with this one. Entities
// already queued are replaced by the newer instance.
func (e *Entity) addPending(other *Entity) {
	for i, p := range e.pending {
		if p == other || p.Equal(other) {
			e.pending[i] = other
			return
		}
	}
	e.pending = append(e.pending, other)
}

// Pending returns the entities that will be saved together with this one.
func (e *Entity) Pending() []*Entity {
	return append([]*Entity(nil), e.pending...)
}

// Delete removes the entity through the write queue. Unless forced, it
// fails while other entities still reference it. Children are detached.
func (e *Entity) Delete(ctx context.Context, opts ...SaveOption) error {
	o := newOptions(opts)
	if e.isNew {
		return &EntityError{Model: e.Model(), Err: ErrUnsavedDelete}
	}
	if e.deleted {
		return &EntityError{Model: e.Model(), Ref: e.RefString(), Err: ErrEntityDeleted}
	}
	if e.deleting {
		return nil
	}
	e.deleting = true
	defer func() { e.deleting = false }()

	if !o.force {
		if err := e.reg.checkReferrers(ctx, e); err != nil {
			return err
		}
	}

	if h := e.m.schema.Hooks.PreDelete; h != nil {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	if err := e.reg.emit(ctx, Event{Type: EventPreDelete, Model: e.Model(), Entity: e}); err != nil {
		return err
	}

	self, _ := e.Ref()
	for _, name := range e.order {
		e.fields[name].OnEntityDelete(self)
	}

	children, err := e.Children(ctx)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := c.Set(ctx, FieldParent, nil); err != nil {
			return err
		}
		if err := c.Save(ctx); err != nil {
			return err
		}
	}

	if err := e.reg.submit(ctx, OpDelete, &deleteTask{Model: e.Model(), Collection: e.m.collection, ID: e.ID()}); err != nil {
		return err
	}
	e.deleted = true
	e.pending = nil

	if err := e.reg.ClearFinderCache(ctx, e.Model()); err != nil {
		return err
	}
	if h := e.m.schema.Hooks.AfterDelete; h != nil {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	if err := e.reg.emit(ctx, Event{Type: EventDelete, Model: e.Model(), Entity: e}); err != nil {
		return err
	}
	e.reg.logger.Debug("entity deleted", zap.Stringer("entity", e), zap.Int("detached", len(children)))
	return nil
}
