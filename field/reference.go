package field

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/jacentio/grove/ref"
)

// refs is the reference handling shared by Ref and RefList.
type refs struct {
	owner    *string
	models   []string
	resolver Resolver
}

func (r *refs) Bind(res Resolver) { r.resolver = res }

// canonical turns an entity, Ref or "model:id" string into a checked Ref.
func (r *refs) canonical(v any) (ref.Ref, error) {
	rf, err := ref.Of(v)
	if err != nil {
		if !errors.Is(err, ref.ErrInvalid) {
			return ref.Ref{}, err
		}
		return ref.Ref{}, &Error{Field: *r.owner, Value: v, Reason: err.Error(), Err: ErrTypeMismatch}
	}
	if len(r.models) > 0 && !slices.Contains(r.models, rf.Model) {
		return ref.Ref{}, mismatch(*r.owner, v, "reference to one of "+strings.Join(r.models, ", "))
	}
	if r.resolver != nil {
		if err := r.resolver.Check(rf); err != nil {
			return ref.Ref{}, err
		}
	}
	return rf, nil
}

func (r *refs) resolve(ctx context.Context, s string) (any, error) {
	if r.resolver == nil {
		return nil, &Error{Field: *r.owner, Value: s, Reason: "no resolver bound", Err: ErrNotBound}
	}
	rf, err := ref.Parse(s)
	if err != nil {
		return nil, err
	}
	return r.resolver.Resolve(ctx, rf)
}

// sanitizeAll converts a finder argument into canonical reference strings.
// Comma separated strings are split.
func (r *refs) sanitizeAll(arg any) ([]any, error) {
	if s, ok := arg.(string); ok && strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		arg = items
	}
	items, ok := toSlice(arg)
	if !ok || isReferencer(arg) {
		items = []any{arg}
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		rf, err := ref.Of(it)
		if err != nil {
			return nil, &Error{Field: *r.owner, Value: it, Reason: err.Error(), Err: ErrTypeMismatch}
		}
		out = append(out, rf.String())
	}
	return out, nil
}

func isReferencer(v any) bool {
	switch v.(type) {
	case ref.Referencer, ref.Ref, *ref.Ref:
		return true
	}
	return false
}

// Ref holds a single reference, stored as "model:id".
type Ref struct {
	base
	defaults
	refs
}

func newRef(s Spec) (*Ref, error) {
	f := &Ref{refs: refs{models: s.Models}}
	f.defaults.owner = &f.base.name
	f.refs.owner = &f.base.name
	return f, f.init(s, f, "")
}

func (f *Ref) coerce(raw any, o setOptions) (any, error) {
	if raw == nil {
		return "", nil
	}
	if s, ok := raw.(string); ok {
		if s == "" {
			return "", nil
		}
		if o.fromStore {
			return s, nil
		}
	}
	if items, ok := toSlice(raw); ok && !isReferencer(raw) {
		if len(items) == 0 {
			return "", nil
		}
		raw = items[0]
	}
	rf, err := f.canonical(raw)
	if err != nil {
		return nil, err
	}
	return rf.String(), nil
}

func (f *Ref) expose(ctx context.Context, v any) (any, error) {
	s, _ := v.(string)
	if s == "" {
		return nil, nil
	}
	return f.resolve(ctx, s)
}

func (f *Ref) storable(v any) any {
	if s, _ := v.(string); s != "" {
		return s
	}
	return nil
}

func (f *Ref) sanitize(arg any) (any, error) {
	if arg == nil {
		return nil, nil
	}
	out, err := f.sanitizeAll(arg)
	if err != nil {
		return nil, err
	}
	if _, isList := toSlice(arg); isList || len(out) > 1 {
		return out, nil
	}
	return out[0], nil
}

// RefList holds an ordered list of references, stored as "model:id" strings.
type RefList struct {
	base
	defaults
	refs
	unique bool
	minLen int
	maxLen int
}

func newRefList(s Spec) (*RefList, error) {
	f := &RefList{refs: refs{models: s.Models}, unique: s.Unique, minLen: s.MinLen, maxLen: s.MaxLen}
	f.defaults.owner = &f.base.name
	f.refs.owner = &f.base.name
	return f, f.init(s, f, []any{})
}

func (f *RefList) coerce(raw any, o setOptions) (any, error) {
	if raw == nil {
		return []any{}, nil
	}
	items, ok := toSlice(raw)
	if !ok || isReferencer(raw) {
		items = []any{raw}
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		var s string
		if str, isStr := it.(string); isStr && o.fromStore {
			s = str
		} else {
			rf, err := f.canonical(it)
			if err != nil {
				return nil, err
			}
			s = rf.String()
		}
		if f.unique && contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	if !o.reset {
		if f.minLen > 0 && len(out) < f.minLen {
			return nil, violation(f.name, raw, "list must contain at least %d items", f.minLen)
		}
		if f.maxLen > 0 && len(out) > f.maxLen {
			return nil, violation(f.name, raw, "list must contain at most %d items", f.maxLen)
		}
	}
	return out, nil
}

func (f *RefList) expose(ctx context.Context, v any) (any, error) {
	items, _ := v.([]any)
	out := make([]any, 0, len(items))
	for _, it := range items {
		e, err := f.resolve(ctx, it.(string))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *RefList) combine(cur, raw any, subtract bool) (any, error) {
	items := cur.([]any)
	rf, err := f.canonical(raw)
	if err != nil {
		return nil, err
	}
	s := rf.String()
	if subtract {
		if f.minLen > 0 && len(items) <= f.minLen {
			return nil, violation(f.name, raw, "list must contain at least %d items", f.minLen)
		}
		out := items[:0]
		for _, it := range items {
			if it != s {
				out = append(out, it)
			}
		}
		return out, nil
	}
	if f.maxLen > 0 && len(items) >= f.maxLen {
		return nil, violation(f.name, raw, "list must contain at most %d items", f.maxLen)
	}
	if f.unique && contains(items, s) {
		return items, nil
	}
	return append(items, s), nil
}

func (f *RefList) sanitize(arg any) (any, error) {
	if arg == nil {
		return nil, nil
	}
	return f.sanitizeAll(arg)
}
