package field

import (
	"context"

	"github.com/jacentio/grove/ref"
)

// Kind tags a concrete field variant. The set is closed.
type Kind string

const (
	KindObjectID Kind = "object_id"
	KindString   Kind = "string"
	KindEmail    Kind = "email"
	KindInteger  Kind = "integer"
	KindDecimal  Kind = "decimal"
	KindBool     Kind = "bool"
	KindDateTime Kind = "datetime"
	KindEnum     Kind = "enum"
	KindList     Kind = "list"
	KindDict     Kind = "dict"
	KindRef      Kind = "ref"
	KindRefList  Kind = "ref_list"
	KindVirtual  Kind = "virtual"
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{
	KindObjectID, KindString, KindEmail, KindInteger, KindDecimal, KindBool,
	KindDateTime, KindEnum, KindList, KindDict, KindRef, KindRefList, KindVirtual,
}

// Field is a named, typed, self-validating value container.
type Field interface {
	Name() string
	Kind() Kind
	IsRequired() bool
	IsStorable() bool
	IsModified() bool
	SetModified(bool)
	IsEmpty() bool
	Default() any

	// Get returns the externally visible representation of the value.
	// Collections come back as copies; references come back resolved.
	Get(ctx context.Context) (any, error)

	// Set coerces and validates v, then stores it.
	Set(v any, opts ...SetOption) error
	Add(v any) error
	Subtract(v any) error
	Increment() error
	Decrement() error

	// Reset restores the default value, bypassing bound checks.
	Reset() error

	// StorableValue returns the store-safe internal representation.
	StorableValue() any
	PrevStorableValue() any
	// SetStorableValue loads a value previously produced by StorableValue
	// (possibly after a trip through a store) without marking the field modified.
	SetStorableValue(v any) error

	// SanitizeFinderArg converts a query argument into the form the field is stored in.
	SanitizeFinderArg(arg any) (any, error)

	// OnEntityDelete notifies the field that its owning entity is being deleted.
	OnEntityDelete(owner ref.Ref)
}

// Resolver dereferences references for Ref and RefList fields.
type Resolver interface {
	// Resolve loads the entity a reference points to.
	Resolve(ctx context.Context, r ref.Ref) (any, error)

	// Check validates a reference without touching the store
	// (e.g. that its model is registered).
	Check(r ref.Ref) error
}

// Binder is implemented by fields that need a Resolver.
type Binder interface {
	Bind(r Resolver)
}

// SetOption tunes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	reset       bool
	fromStore   bool
	updateState bool
}

func newSetOptions(opts []SetOption) setOptions {
	o := setOptions{updateState: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithReset bypasses bound checks, as done when restoring defaults.
func WithReset() SetOption {
	return func(o *setOptions) { o.reset = true }
}

// FromStore marks the value as coming from the store; it is trusted and
// bound checks are skipped so that schema changes do not break loading.
func FromStore() SetOption {
	return func(o *setOptions) {
		o.fromStore = true
		o.reset = true
	}
}

// WithoutState stores the value without touching the modified flag.
func WithoutState() SetOption {
	return func(o *setOptions) { o.updateState = false }
}

// hooks are the per-kind behaviours plugged into base.
type hooks interface {
	coerce(raw any, o setOptions) (any, error)
	expose(ctx context.Context, v any) (any, error)
	combine(cur, v any, subtract bool) (any, error)
	step(cur any, down bool) (any, error)
	sanitize(arg any) (any, error)
	storable(v any) any
	empty(v any) bool
}

// base carries the state shared by all kinds.
type base struct {
	name     string
	kind     Kind
	required bool
	persist  bool
	modified bool
	def      any
	value    any
	prev     any
	h        hooks
}

func (b *base) init(s Spec, h hooks, fallback any) error {
	b.name = s.Name
	b.kind = s.Kind
	b.required = s.Required
	b.persist = !s.Transient
	b.h = h
	b.def = s.Default
	if b.def == nil {
		b.def = fallback
	}
	return b.set(clone(b.def), setOptions{reset: true})
}

func (b *base) Name() string           { return b.name }
func (b *base) Kind() Kind             { return b.kind }
func (b *base) IsRequired() bool       { return b.required }
func (b *base) IsStorable() bool       { return b.persist }
func (b *base) IsModified() bool       { return b.modified }
func (b *base) SetModified(m bool)     { b.modified = m }
func (b *base) Default() any           { return clone(b.def) }
func (b *base) IsEmpty() bool          { return b.h.empty(b.value) }
func (b *base) OnEntityDelete(ref.Ref) {}

func (b *base) Get(ctx context.Context) (any, error) {
	return b.h.expose(ctx, b.value)
}

func (b *base) Set(v any, opts ...SetOption) error {
	return b.set(v, newSetOptions(opts))
}

func (b *base) set(v any, o setOptions) error {
	nv, err := b.h.coerce(v, o)
	if err != nil {
		return err
	}
	prev := b.value
	b.value = nv
	if o.updateState && !equal(prev, nv) {
		b.prev = prev
		b.modified = true
	} else {
		b.prev = nv
	}
	return nil
}

func (b *base) Add(v any) error {
	nv, err := b.h.combine(clone(b.value), v, false)
	if err != nil {
		return err
	}
	return b.set(nv, setOptions{updateState: true})
}

func (b *base) Subtract(v any) error {
	nv, err := b.h.combine(clone(b.value), v, true)
	if err != nil {
		return err
	}
	return b.set(nv, setOptions{updateState: true})
}

func (b *base) Increment() error {
	nv, err := b.h.step(b.value, false)
	if err != nil {
		return err
	}
	return b.set(nv, setOptions{updateState: true})
}

func (b *base) Decrement() error {
	nv, err := b.h.step(b.value, true)
	if err != nil {
		return err
	}
	return b.set(nv, setOptions{updateState: true})
}

func (b *base) Reset() error {
	return b.set(clone(b.def), setOptions{reset: true, updateState: true})
}

func (b *base) StorableValue() any     { return b.h.storable(b.value) }
func (b *base) PrevStorableValue() any { return b.h.storable(b.prev) }

func (b *base) SetStorableValue(v any) error {
	if err := b.set(normalize(v), setOptions{reset: true, fromStore: true}); err != nil {
		return err
	}
	b.modified = false
	return nil
}

func (b *base) SanitizeFinderArg(arg any) (any, error) {
	return b.h.sanitize(arg)
}

// defaults supplies the behaviour of kinds without a combination rule.
type defaults struct{ owner *string }

func (d defaults) expose(_ context.Context, v any) (any, error) { return clone(v), nil }

func (d defaults) combine(_, _ any, subtract bool) (any, error) {
	if subtract {
		return nil, unsupported(*d.owner, "subtracted")
	}
	return nil, unsupported(*d.owner, "added")
}

func (d defaults) step(_ any, down bool) (any, error) {
	if down {
		return nil, unsupported(*d.owner, "decremented")
	}
	return nil, unsupported(*d.owner, "incremented")
}

func (d defaults) sanitize(arg any) (any, error) { return arg, nil }
func (d defaults) storable(v any) any            { return clone(v) }
func (d defaults) empty(v any) bool              { return isZero(v) }
