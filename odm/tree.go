package odm

import (
	"context"

	"github.com/jacentio/grove/field"
)

// setParent assigns the parent reference and keeps the tree consistent.
// On failure the previous parent, depth and pending saves are restored.
func (e *Entity) setParent(ctx context.Context, v any) error {
	f := e.fields[FieldParent]
	parentState := snapshotField(f)
	depthState := snapshotField(e.fields[FieldDepth])
	pending := e.Pending()
	rollback := func() {
		parentState.restore()
		depthState.restore()
		e.pending = pending
	}

	if err := f.Set(v); err != nil {
		return err
	}
	parentRef := e.ParentRef()
	if parentRef == "" {
		if err := e.setDepth(ctx, 0); err != nil {
			rollback()
			return err
		}
		return nil
	}

	if self := e.RefString(); self != "" && self == parentRef {
		rollback()
		return &EntityError{Model: e.Model(), Ref: self, Err: ErrSelfParent}
	}
	parent, err := e.reg.GetByRef(ctx, parentRef)
	if err != nil {
		rollback()
		return err
	}
	if !e.isNew {
		below, err := parent.IsDescendantOf(ctx, e)
		if err != nil {
			rollback()
			return err
		}
		if below {
			rollback()
			return &EntityError{Model: e.Model(), Ref: e.RefString(), Err: ErrCyclicParent}
		}
	}
	if err := e.setDepth(ctx, parent.Depth()+1); err != nil {
		rollback()
		return err
	}
	return nil
}

func (e *Entity) setDepth(ctx context.Context, depth int64) error {
	if e.Depth() == depth {
		return nil
	}
	if err := e.fields[FieldDepth].Set(depth, field.WithReset()); err != nil {
		return err
	}
	return e.cascadeDepth(ctx)
}

// fieldState is a field value and modified flag to restore after a failed
// tree change.
type fieldState struct {
	f        field.Field
	value    any
	modified bool
}

func snapshotField(f field.Field) fieldState {
	return fieldState{f: f, value: f.StorableValue(), modified: f.IsModified()}
}

func (s fieldState) restore() {
	_ = s.f.Set(s.value, field.WithReset(), field.WithoutState())
	s.f.SetModified(s.modified)
}

// cascadeDepth walks the stored subtree breadth first through the parent
// index and fixes every descendant whose depth no longer matches. Fixed
// descendants are saved together with e. On error every descendant depth
// already changed is restored.
func (e *Entity) cascadeDepth(ctx context.Context) (err error) {
	if e.isNew {
		return nil
	}
	var touched []fieldState
	defer func() {
		if err != nil {
			for i := len(touched) - 1; i >= 0; i-- {
				touched[i].restore()
			}
		}
	}()
	type node struct {
		ref   string
		depth int64
	}
	level := []node{{ref: e.RefString(), depth: e.Depth()}}
	for i := 0; len(level) > 0; i++ {
		if i >= e.reg.config.MaxTreeDepth {
			return &EntityError{Model: e.Model(), Ref: e.RefString(), Err: ErrTreeTooDeep}
		}
		var next []node
		for _, n := range level {
			children, err := e.reg.Find(e.Model()).NoCache().Eq(FieldParent, n.ref).All(ctx)
			if err != nil {
				return err
			}
			for _, c := range children {
				want := n.depth + 1
				if c.Depth() == want {
					continue
				}
				state := snapshotField(c.fields[FieldDepth])
				if err := c.fields[FieldDepth].Set(want, field.WithReset()); err != nil {
					return err
				}
				touched = append(touched, state)
				e.addPending(c)
				next = append(next, node{ref: c.RefString(), depth: want})
			}
		}
		level = next
	}
	return nil
}

// Parent returns the parent entity, or nil for roots.
func (e *Entity) Parent(ctx context.Context) (*Entity, error) {
	s := e.ParentRef()
	if s == "" {
		return nil, nil
	}
	return e.reg.GetByRef(ctx, s)
}

// ChildrenFinder returns a finder over the direct children of e.
func (e *Entity) ChildrenFinder() *Finder {
	f := e.reg.Find(e.Model())
	s := e.RefString()
	if s == "" {
		f.err = &EntityError{Model: e.Model(), Err: ErrEntityNotStored}
		return f
	}
	return f.Eq(FieldParent, s)
}

// Children returns the stored direct children. New entities have none.
func (e *Entity) Children(ctx context.Context) ([]*Entity, error) {
	if e.isNew {
		return nil, nil
	}
	return e.ChildrenFinder().All(ctx)
}

// ChildrenCount returns the number of stored direct children.
func (e *Entity) ChildrenCount(ctx context.Context) (int64, error) {
	if e.isNew {
		return 0, nil
	}
	return e.ChildrenFinder().Count(ctx)
}

// HasChildren reports whether any stored entity has e as parent.
func (e *Entity) HasChildren(ctx context.Context) (bool, error) {
	n, err := e.ChildrenCount(ctx)
	return n > 0, err
}

// Descendants returns the stored subtree below e, breadth first.
func (e *Entity) Descendants(ctx context.Context) ([]*Entity, error) {
	var out []*Entity
	level, err := e.Children(ctx)
	if err != nil {
		return nil, err
	}
	for i := 0; len(level) > 0; i++ {
		if i >= e.reg.config.MaxTreeDepth {
			return nil, &EntityError{Model: e.Model(), Ref: e.RefString(), Err: ErrTreeTooDeep}
		}
		out = append(out, level...)
		var next []*Entity
		for _, c := range level {
			children, err := c.Children(ctx)
			if err != nil {
				return nil, err
			}
			next = append(next, children...)
		}
		level = next
	}
	return out, nil
}

// IsChildOf reports whether other is the direct parent of e.
func (e *Entity) IsChildOf(other *Entity) bool {
	s := other.RefString()
	return s != "" && e.ParentRef() == s
}

// IsParentOf reports whether e is the direct parent of other.
func (e *Entity) IsParentOf(other *Entity) bool {
	return other.IsChildOf(e)
}

// IsDescendantOf reports whether other is an ancestor of e.
func (e *Entity) IsDescendantOf(ctx context.Context, other *Entity) (bool, error) {
	target := other.RefString()
	if target == "" || e.Model() != other.Model() {
		return false, nil
	}
	cur := e
	for i := 0; i < e.reg.config.MaxTreeDepth; i++ {
		p := cur.ParentRef()
		switch p {
		case "":
			return false, nil
		case target:
			return true, nil
		}
		next, err := e.reg.GetByRef(ctx, p)
		if err != nil {
			return false, err
		}
		cur = next
	}
	return false, &EntityError{Model: e.Model(), Ref: e.RefString(), Err: ErrTreeTooDeep}
}

// IsAncestorOf reports whether e is an ancestor of other.
func (e *Entity) IsAncestorOf(ctx context.Context, other *Entity) (bool, error) {
	return other.IsDescendantOf(ctx, e)
}

// AppendChild makes child a child of e. The child is saved with e.
func (e *Entity) AppendChild(ctx context.Context, child *Entity) error {
	if e.isNew {
		return &EntityError{Model: e.Model(), Err: ErrEntityNotStored}
	}
	if err := child.Set(ctx, FieldParent, e); err != nil {
		return err
	}
	e.addPending(child)
	return nil
}

// RemoveChild detaches child from e. The child is saved with e. Entities
// that are not children of e are left alone.
func (e *Entity) RemoveChild(ctx context.Context, child *Entity) error {
	if !e.IsParentOf(child) {
		return nil
	}
	if err := child.Set(ctx, FieldParent, nil); err != nil {
		return err
	}
	e.addPending(child)
	return nil
}
