package field

import (
	"context"
	"strings"
)

// List holds an ordered []any whose elements are constrained by Elem.
type List struct {
	base
	defaults
	elem    Kind
	unique  bool
	minLen  int
	maxLen  int
	cleanup bool
}

func newList(s Spec) (*List, error) {
	f := &List{
		elem:    s.Elem,
		unique:  s.Unique,
		minLen:  s.MinLen,
		maxLen:  s.MaxLen,
		cleanup: !s.NoCleanup,
	}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, []any{})
}

// element converts a single item to the list's element kind.
func (f *List) element(v any) (any, error) {
	v = normalize(v)
	switch f.elem {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(f.name, v, "string element")
		}
		return s, nil
	case KindInteger:
		if _, ok := v.(bool); ok {
			return nil, mismatch(f.name, v, "integer element")
		}
		n, ok := toInt64(v)
		if !ok {
			return nil, mismatch(f.name, v, "integer element")
		}
		return n, nil
	case KindDecimal:
		n, ok := toFloat64(v)
		if !ok {
			return nil, mismatch(f.name, v, "decimal element")
		}
		return n, nil
	case KindList:
		items, ok := toSlice(v)
		if !ok {
			return nil, mismatch(f.name, v, "list element")
		}
		return normalize(items), nil
	}
	switch v.(type) {
	case nil, string, bool, int64, float64, []any, map[string]any:
		return v, nil
	}
	if n, ok := toInt64(v); ok {
		if _, isFloat := v.(float32); !isFloat {
			return n, nil
		}
	}
	if n, ok := toFloat64(v); ok {
		return n, nil
	}
	if items, ok := toSlice(v); ok {
		return normalize(items), nil
	}
	return nil, mismatch(f.name, v, "scalar, list or dict element")
}

func (f *List) keep(v any) (any, bool) {
	if !f.cleanup {
		return v, true
	}
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	}
	return v, true
}

func contains(items []any, v any) bool {
	for _, it := range items {
		if equal(it, v) {
			return true
		}
	}
	return false
}

func (f *List) coerce(raw any, o setOptions) (any, error) {
	if raw == nil {
		return []any{}, nil
	}
	items, ok := toSlice(raw)
	if !ok {
		return nil, mismatch(f.name, raw, "list")
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		v, err := f.element(it)
		if err != nil {
			return nil, err
		}
		v, ok := f.keep(v)
		if !ok {
			continue
		}
		if f.unique && (isZero(v) || contains(out, v)) {
			continue
		}
		out = append(out, v)
	}
	if !o.reset {
		if err := f.checkLen(raw, len(out)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *List) checkLen(raw any, n int) error {
	if f.minLen > 0 && n < f.minLen {
		return violation(f.name, raw, "list must contain at least %d items", f.minLen)
	}
	if f.maxLen > 0 && n > f.maxLen {
		return violation(f.name, raw, "list must contain at most %d items", f.maxLen)
	}
	return nil
}

func (f *List) combine(cur, raw any, subtract bool) (any, error) {
	items := cur.([]any)
	v, err := f.element(raw)
	if err != nil {
		return nil, err
	}
	if subtract {
		if f.minLen > 0 && len(items) <= f.minLen {
			return nil, violation(f.name, raw, "list must contain at least %d items", f.minLen)
		}
		out := items[:0]
		for _, it := range items {
			if !equal(it, v) {
				out = append(out, it)
			}
		}
		return out, nil
	}
	if f.maxLen > 0 && len(items) >= f.maxLen {
		return nil, violation(f.name, raw, "list must contain at most %d items", f.maxLen)
	}
	v, ok := f.keep(v)
	if !ok {
		return items, nil
	}
	if f.unique && contains(items, v) {
		return items, nil
	}
	return append(items, v), nil
}

func (f *List) sanitize(arg any) (any, error) {
	if f.elem == "" || f.elem == KindList {
		return arg, nil
	}
	if items, ok := toSlice(arg); ok {
		out := make([]any, 0, len(items))
		for _, it := range items {
			v, err := f.element(it)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return f.element(arg)
}

// Dict holds a map[string]any. Dotted keys, when allowed, are stored with
// the dot replaced since document stores reserve it for path traversal.
type Dict struct {
	base
	defaults
	keys         []string
	nonempty     []string
	dotted       bool
	dotReplacing string
}

func newDict(s Spec) (*Dict, error) {
	f := &Dict{
		keys:         s.Keys,
		nonempty:     s.NonemptyKeys,
		dotted:       s.DottedKeys,
		dotReplacing: s.DottedKeysReplacement,
	}
	if f.dotReplacing == "" {
		f.dotReplacing = ":"
	}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, map[string]any{})
}

func (f *Dict) coerce(raw any, o setOptions) (any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	m, ok := toMap(raw)
	if !ok {
		return nil, mismatch(f.name, raw, "dict")
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if strings.Contains(k, ".") {
			if !f.dotted {
				return nil, violation(f.name, raw, "dotted key %q is not allowed", k)
			}
			k = strings.ReplaceAll(k, ".", f.dotReplacing)
		}
		out[k] = v
	}
	if o.reset {
		return out, nil
	}
	for _, k := range f.keys {
		if _, ok := m[k]; !ok {
			return nil, violation(f.name, raw, "key %q is required", k)
		}
	}
	for _, k := range f.nonempty {
		if isZero(m[k]) {
			return nil, violation(f.name, raw, "key %q must not be empty", k)
		}
	}
	return out, nil
}

func (f *Dict) expose(_ context.Context, v any) (any, error) {
	return f.plain(v), nil
}

// plain returns a copy of v with replaced dots restored.
func (f *Dict) plain(v any) map[string]any {
	m := clone(v).(map[string]any)
	if !f.dotted {
		return m
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[strings.ReplaceAll(k, f.dotReplacing, ".")] = e
	}
	return out
}

func (f *Dict) combine(cur, raw any, subtract bool) (any, error) {
	if subtract {
		return f.defaults.combine(cur, raw, subtract)
	}
	m, ok := toMap(raw)
	if !ok {
		return nil, mismatch(f.name, raw, "dict")
	}
	merged := f.plain(cur)
	for k, v := range m {
		merged[k] = v
	}
	return merged, nil
}
