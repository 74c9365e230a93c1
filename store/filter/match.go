// Package filter evaluates compiled filter documents against in-memory documents.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/jacentio/grove/store"
)

// Matcher evaluates filters. TextFields lists the fields searched by $text;
// when empty every string value of the document is searched.
type Matcher struct {
	TextFields []string
}

// Match evaluates filter against doc with a zero Matcher.
func Match(doc map[string]any, filter bson.D) (bool, error) {
	return Matcher{}.Match(doc, filter)
}

// Match reports whether doc satisfies every clause of filter.
func (m Matcher) Match(doc map[string]any, filter bson.D) (bool, error) {
	for _, e := range filter {
		ok, err := m.clause(doc, e.Key, e.Value)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m Matcher) clause(doc map[string]any, key string, val any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		subs, err := subFilters(key, val)
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := m.Match(doc, sub)
			if err != nil {
				return false, err
			}
			switch {
			case key == "$and" && !ok:
				return false, nil
			case key == "$or" && ok:
				return true, nil
			case key == "$nor" && ok:
				return false, nil
			}
		}
		return key != "$or" || len(subs) == 0, nil
	case "$text":
		return m.text(doc, val)
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: unsupported top-level operator %q", store.ErrInvalidFilter, key)
	}
	values, found := Lookup(doc, key)
	ops, isOps := operators(val)
	if !isOps {
		return matchEq(values, found, val), nil
	}
	for _, op := range ops {
		ok, err := m.operator(values, found, op, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func subFilters(key string, val any) ([]bson.D, error) {
	list := items(val)
	if list == nil {
		return nil, fmt.Errorf("%w: %s expects an array", store.ErrInvalidFilter, key)
	}
	out := make([]bson.D, 0, len(list))
	for _, it := range list {
		d, ok := asD(it)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects documents", store.ErrInvalidFilter, key)
		}
		out = append(out, d)
	}
	return out, nil
}

func asD(v any) (bson.D, bool) {
	switch t := v.(type) {
	case bson.D:
		return t, true
	case bson.M:
		return mapToD(t), true
	case map[string]any:
		return mapToD(t), true
	}
	return nil, false
}

func mapToD(m map[string]any) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

// operators returns the operator clauses of val when every key starts with '$'.
func operators(val any) (bson.D, bool) {
	d, ok := asD(val)
	if !ok || len(d) == 0 {
		return nil, false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return d, true
}

func (m Matcher) operator(values []any, found bool, op bson.E, all bson.D) (bool, error) {
	switch op.Key {
	case "$eq":
		return matchEq(values, found, op.Value), nil
	case "$ne":
		return !matchEq(values, found, op.Value), nil
	case "$gt", "$gte", "$lt", "$lte":
		for _, v := range candidates(values) {
			if !Comparable(v, op.Value) {
				continue
			}
			c := Compare(v, op.Value)
			switch op.Key {
			case "$gt":
				if c > 0 {
					return true, nil
				}
			case "$gte":
				if c >= 0 {
					return true, nil
				}
			case "$lt":
				if c < 0 {
					return true, nil
				}
			case "$lte":
				if c <= 0 {
					return true, nil
				}
			}
		}
		return false, nil
	case "$in", "$nin":
		list := items(op.Value)
		if list == nil {
			return false, fmt.Errorf("%w: %s expects an array", store.ErrInvalidFilter, op.Key)
		}
		in := false
		for _, want := range list {
			if matchEq(values, found, want) {
				in = true
				break
			}
		}
		return in == (op.Key == "$in"), nil
	case "$exists":
		want, _ := op.Value.(bool)
		return found == want, nil
	case "$regex":
		pattern, ok := op.Value.(string)
		if !ok {
			return false, fmt.Errorf("%w: $regex expects a string", store.ErrInvalidFilter)
		}
		var opts string
		for _, o := range all {
			if o.Key == "$options" {
				opts, _ = o.Value.(string)
			}
		}
		re, err := compileRegex(pattern, opts)
		if err != nil {
			return false, err
		}
		for _, v := range candidates(values) {
			if s, ok := v.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	case "$options":
		return true, nil
	}
	return false, fmt.Errorf("%w: unsupported operator %q", store.ErrInvalidFilter, op.Key)
}

func compileRegex(pattern, opts string) (*regexp.Regexp, error) {
	var flags string
	for _, o := range opts {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		case 'x':
		default:
			return nil, fmt.Errorf("%w: unsupported regex option %q", store.ErrInvalidFilter, o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidFilter, err)
	}
	return re, nil
}

// matchEq implements equality with array-contains semantics.
func matchEq(values []any, found bool, want any) bool {
	if want == nil && !found {
		return true
	}
	for _, v := range values {
		if Equal(v, want) {
			return true
		}
		for _, e := range items(v) {
			if Equal(e, want) {
				return true
			}
		}
	}
	return false
}

// candidates flattens arrays one level so range operators see elements.
func candidates(values []any) []any {
	var out []any
	for _, v := range values {
		if list := items(v); list != nil {
			out = append(out, list...)
			continue
		}
		out = append(out, v)
	}
	return out
}

// Lookup resolves a dotted path. Arrays along the path fan out to their elements.
func Lookup(doc map[string]any, path string) ([]any, bool) {
	return lookup(doc, strings.Split(path, "."))
}

func lookup(v any, parts []string) ([]any, bool) {
	if len(parts) == 0 {
		return []any{v}, true
	}
	if obj := object(v); obj != nil {
		next, ok := obj[parts[0]]
		if !ok {
			return nil, false
		}
		return lookup(next, parts[1:])
	}
	if list := items(v); list != nil {
		var (
			out   []any
			found bool
		)
		for _, e := range list {
			vs, ok := lookup(e, parts)
			if ok {
				found = true
				out = append(out, vs...)
			}
		}
		return out, found
	}
	return nil, false
}

func (m Matcher) text(doc map[string]any, val any) (bool, error) {
	spec, ok := asD(val)
	if !ok {
		return false, fmt.Errorf("%w: $text expects a document", store.ErrInvalidFilter)
	}
	var search string
	for _, e := range spec {
		if e.Key == "$search" {
			search, _ = e.Value.(string)
		}
	}
	terms := tokenize(search)
	if len(terms) == 0 {
		return false, nil
	}
	var words map[string]bool
	if len(m.TextFields) == 0 {
		words = tokenSet(collectStrings(doc, nil))
	} else {
		var all []string
		for _, f := range m.TextFields {
			vs, _ := Lookup(doc, f)
			for _, v := range vs {
				all = collectStrings(v, all)
			}
		}
		words = tokenSet(all)
	}
	for _, t := range terms {
		if words[t] {
			return true, nil
		}
	}
	return false, nil
}

func collectStrings(v any, out []string) []string {
	switch t := v.(type) {
	case string:
		return append(out, t)
	}
	if obj := object(v); obj != nil {
		for _, e := range obj {
			out = collectStrings(e, out)
		}
		return out
	}
	for _, e := range items(v) {
		out = collectStrings(e, out)
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func tokenSet(texts []string) map[string]bool {
	set := map[string]bool{}
	for _, s := range texts {
		for _, t := range tokenize(s) {
			set[t] = true
		}
	}
	return set
}
