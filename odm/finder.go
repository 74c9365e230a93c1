package odm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/jacentio/grove/field"
	"github.com/jacentio/grove/internal/shard"
	"github.com/jacentio/grove/query"
	"github.com/jacentio/grove/store"
)

// Finder builds a query over one model's collection. Builder errors are
// deferred: the first one is kept and returned by every executing method.
type Finder struct {
	reg   *Registry
	m     *model
	name  string
	q     *query.Query
	sort  []store.SortField
	skip  int64
	limit int64

	ttl     time.Duration
	noCache bool
	err     error
}

// Find returns a finder over model. An unregistered model surfaces as the
// finder's error.
func (r *Registry) Find(name string) *Finder {
	f := &Finder{reg: r, name: name, q: &query.Query{}}
	f.m, f.err = r.model(name)
	return f
}

// Err returns the first builder error.
func (f *Finder) Err() error { return f.err }

// Model returns the model the finder searches.
func (f *Finder) Model() string { return f.name }

// Clone returns an independent copy of f.
func (f *Finder) Clone() *Finder {
	c := *f
	c.q = f.q.Clone()
	c.sort = append([]store.SortField(nil), f.sort...)
	return &c
}

// check fails for names whose top-level segment is not a field of the model.
func (f *Finder) check(name string) error {
	if f.m == nil {
		return f.err
	}
	top, _, _ := strings.Cut(name, ".")
	if _, ok := f.m.sanitizers[top]; !ok {
		return &FieldError{Model: f.name, Field: name, Err: ErrFieldNotDefined}
	}
	return nil
}

func (f *Finder) add(logic query.Logic, name string, op query.Op, v any) *Finder {
	if f.err != nil {
		return f
	}
	if f.err = f.check(name); f.err != nil {
		return f
	}
	f.err = f.q.Add(logic, query.Comparison{Field: name, Op: op, Arg: v})
	return f
}

func (f *Finder) Eq(name string, v any) *Finder  { return f.add(query.And, name, query.Eq, v) }
func (f *Finder) Ne(name string, v any) *Finder  { return f.add(query.And, name, query.Ne, v) }
func (f *Finder) Gt(name string, v any) *Finder  { return f.add(query.And, name, query.Gt, v) }
func (f *Finder) Gte(name string, v any) *Finder { return f.add(query.And, name, query.Gte, v) }
func (f *Finder) Lt(name string, v any) *Finder  { return f.add(query.And, name, query.Lt, v) }
func (f *Finder) Lte(name string, v any) *Finder { return f.add(query.And, name, query.Lte, v) }

// In matches values in list; list-valued fields match on any element.
func (f *Finder) In(name string, v any) *Finder    { return f.add(query.And, name, query.In, v) }
func (f *Finder) NotIn(name string, v any) *Finder { return f.add(query.And, name, query.NotIn, v) }

func (f *Finder) OrEq(name string, v any) *Finder    { return f.add(query.Or, name, query.Eq, v) }
func (f *Finder) OrNe(name string, v any) *Finder    { return f.add(query.Or, name, query.Ne, v) }
func (f *Finder) OrGt(name string, v any) *Finder    { return f.add(query.Or, name, query.Gt, v) }
func (f *Finder) OrGte(name string, v any) *Finder   { return f.add(query.Or, name, query.Gte, v) }
func (f *Finder) OrLt(name string, v any) *Finder    { return f.add(query.Or, name, query.Lt, v) }
func (f *Finder) OrLte(name string, v any) *Finder   { return f.add(query.Or, name, query.Lte, v) }
func (f *Finder) OrIn(name string, v any) *Finder    { return f.add(query.Or, name, query.In, v) }
func (f *Finder) OrNotIn(name string, v any) *Finder { return f.add(query.Or, name, query.NotIn, v) }

func (f *Finder) regex(logic query.Logic, name, pattern string, caseInsensitive bool) *Finder {
	if f.err != nil {
		return f
	}
	if f.err = f.check(name); f.err != nil {
		return f
	}
	f.err = f.q.Add(logic, query.Regex{Field: name, Pattern: pattern, CaseInsensitive: caseInsensitive})
	return f
}

// Regex matches a string field against pattern.
func (f *Finder) Regex(name, pattern string, caseInsensitive bool) *Finder {
	return f.regex(query.And, name, pattern, caseInsensitive)
}

func (f *Finder) OrRegex(name, pattern string, caseInsensitive bool) *Finder {
	return f.regex(query.Or, name, pattern, caseInsensitive)
}

// Text searches the collection's text index. An empty language uses the
// registry default.
func (f *Finder) Text(search, language string) *Finder {
	if f.err != nil {
		return f
	}
	f.err = f.q.Add(query.And, query.Text{Search: search, Language: language})
	return f
}

func (f *Finder) OrText(search, language string) *Finder {
	if f.err != nil {
		return f
	}
	f.err = f.q.Add(query.Or, query.Text{Search: search, Language: language})
	return f
}

// Where adds a predicate with string logic ("and", "or") and operator
// ("=", "gte", "$in", "regex_i", ...).
func (f *Finder) Where(logic, name, op string, v any) *Finder {
	if f.err != nil {
		return f
	}
	if f.err = f.check(name); f.err != nil {
		return f
	}
	f.err = f.q.Where(logic, name, op, v)
	return f
}

// Sort appends a sort key.
func (f *Finder) Sort(name string, dir store.Direction) *Finder {
	return f.AddSort(len(f.sort), name, dir)
}

// AddSort inserts a sort key at position pos, clamped to the current keys.
func (f *Finder) AddSort(pos int, name string, dir store.Direction) *Finder {
	if f.err != nil {
		return f
	}
	if f.err = f.check(name); f.err != nil {
		return f
	}
	if dir != store.Asc && dir != store.Desc {
		f.err = fmt.Errorf("%w: sort direction %d", query.ErrInvalidArgument, dir)
		return f
	}
	pos = max(0, min(pos, len(f.sort)))
	key := store.SortField{Field: name, Direction: dir}
	f.sort = append(f.sort[:pos], append([]store.SortField{key}, f.sort[pos:]...)...)
	return f
}

func (f *Finder) Skip(n int64) *Finder {
	f.skip = max(n, 0)
	return f
}

// Limit bounds the result size. Zero means unlimited.
func (f *Finder) Limit(n int64) *Finder {
	f.limit = max(n, 0)
	return f
}

// Cache sets the lifetime of cached results for this finder.
func (f *Finder) Cache(ttl time.Duration) *Finder {
	f.ttl = ttl
	f.noCache = false
	return f
}

// NoCache bypasses the finder-result cache for reads and writes.
func (f *Finder) NoCache() *Finder {
	f.noCache = true
	return f
}

func (f *Finder) cacheTTL() time.Duration {
	if f.ttl > 0 {
		return f.ttl
	}
	return f.reg.config.FinderTTL
}

// sanitize converts an argument through the target field's own rules.
func (f *Finder) sanitize(name string, arg any) (any, error) {
	s, ok := f.m.sanitizers[name]
	if !ok {
		return nil, &FieldError{Model: f.name, Field: name, Err: ErrFieldNotDefined}
	}
	return s.SanitizeFinderArg(arg)
}

// Filter compiles the finder's predicates.
func (f *Finder) Filter() (bson.D, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.q.Compile(query.Compiler{Sanitize: f.sanitize, Language: f.reg.config.TextLanguage})
}

// String returns the compiled filter as extended JSON.
func (f *Finder) String() string {
	filter, err := f.Filter()
	if err != nil {
		return "error: " + err.Error()
	}
	b, err := bson.MarshalExtJSON(filter, false, false)
	if err != nil {
		return "error: " + err.Error()
	}
	return string(b)
}

// ID derives the cache key of the finder from its filter, pagination and sort.
func (f *Finder) ID() (string, error) {
	filter, err := f.Filter()
	if err != nil {
		return "", err
	}
	return f.key(filter)
}

func (f *Finder) key(filter bson.D) (string, error) {
	b, err := bson.MarshalExtJSON(filter, true, false)
	if err != nil {
		return "", fmt.Errorf("encode filter: %w", err)
	}
	parts := []string{string(b), strconv.FormatInt(f.skip, 10), strconv.FormatInt(f.limit, 10)}
	for _, s := range f.sort {
		parts = append(parts, s.Field+":"+strconv.Itoa(int(s.Direction)))
	}
	return shard.Key(parts...), nil
}

func (f *Finder) options(filter bson.D) store.FindOptions {
	return store.FindOptions{Filter: filter, Sort: f.sort, Skip: f.skip, Limit: f.limit}
}

func (f *Finder) debug(kind, source string, filter bson.D) {
	f.reg.recorder.FinderQuery(f.name, kind, source)
	if !f.reg.config.DebugFinder {
		return
	}
	f.reg.logger.Debug("finder",
		zap.String("model", f.name),
		zap.String("kind", kind),
		zap.String("source", source),
		zap.Any("filter", filter),
		zap.Int64("skip", f.skip),
		zap.Int64("limit", f.limit),
	)
}

// Count returns the number of matching entities after skip and limit.
func (f *Finder) Count(ctx context.Context) (int64, error) {
	filter, err := f.Filter()
	if err != nil {
		return 0, err
	}
	var (
		key  string
		pool = f.reg.finderPool(f.name)
		gen  = pool.Generation()
	)
	if !f.noCache {
		id, err := f.key(filter)
		if err != nil {
			return 0, err
		}
		key = id + "_count"
		if v, ok := pool.Get(key); ok {
			if n, ok := v.(int64); ok {
				f.debug("count", "cache", filter)
				return n, nil
			}
		}
	}
	n, err := f.reg.store.Count(ctx, f.m.collection, f.options(filter))
	if err != nil {
		return 0, err
	}
	f.debug("count", "store", filter)
	if !f.noCache {
		pool.PutAt(gen, key, n, f.cacheTTL())
	}
	return n, nil
}

// Get runs the finder. A cached identifier list is used when present.
// Otherwise the store is queried and the returned Result appends each
// identifier to the cache as it is dispensed. Appends stop once the model's
// finder cache is cleared, so a Result taken before a write never
// repopulates the cache with pre-write identifiers.
func (f *Finder) Get(ctx context.Context) (*Result, error) {
	filter, err := f.Filter()
	if err != nil {
		return nil, err
	}
	if f.noCache {
		ids, err := f.reg.store.FindIDs(ctx, f.m.collection, f.options(filter))
		if err != nil {
			return nil, err
		}
		f.debug("get", "store", filter)
		return newResult(f.reg, f.name, hexes(ids), nil), nil
	}

	key, err := f.key(filter)
	if err != nil {
		return nil, err
	}
	pool := f.reg.finderPool(f.name)
	if cached, ok := pool.List(key); ok {
		ids := make([]string, 0, len(cached))
		for _, v := range cached {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
		f.debug("get", "cache", filter)
		return newResult(f.reg, f.name, ids, nil), nil
	}

	gen := pool.Generation()
	ids, err := f.reg.store.FindIDs(ctx, f.m.collection, f.options(filter))
	if err != nil {
		return nil, err
	}
	f.debug("get", "store", filter)
	ttl := f.cacheTTL()
	if len(ids) == 0 {
		pool.PutListAt(gen, key, nil, ttl)
		return newResult(f.reg, f.name, nil, nil), nil
	}
	pool.Remove(key)
	record := func(id string) {
		if _, err := pool.AppendAt(gen, key, id, ttl); err != nil {
			f.reg.logger.Warn("failed to cache finder result", zap.String("model", f.name), zap.Error(err))
		}
	}
	return newResult(f.reg, f.name, hexes(ids), record), nil
}

func hexes(ids []primitive.ObjectID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	return out
}

// All runs the finder and dispenses every entity.
func (f *Finder) All(ctx context.Context) ([]*Entity, error) {
	res, err := f.Get(ctx)
	if err != nil {
		return nil, err
	}
	return res.All(ctx)
}

// First returns the first matching entity, or nil when nothing matches.
func (f *Finder) First(ctx context.Context) (*Entity, error) {
	res, err := f.Clone().Limit(1).Get(ctx)
	if err != nil {
		return nil, err
	}
	if !res.Next(ctx) {
		return nil, res.Err()
	}
	return res.Entity(), nil
}

// Delete deletes every matching entity and returns how many were deleted.
// It is not atomic: a failure leaves earlier deletions in place.
func (f *Finder) Delete(ctx context.Context, opts ...SaveOption) (int, error) {
	res, err := f.Clone().NoCache().Get(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for res.Next(ctx) {
		if err := res.Entity().Delete(ctx, opts...); err != nil {
			return n, err
		}
		n++
	}
	return n, res.Err()
}

// Distinct returns the distinct values of a field among matching entities.
// Reference values come back as entities.
func (f *Finder) Distinct(ctx context.Context, name string) ([]any, error) {
	if err := f.check(name); err != nil {
		return nil, err
	}
	filter, err := f.Filter()
	if err != nil {
		return nil, err
	}
	values, err := f.reg.store.Distinct(ctx, f.m.collection, name, filter)
	if err != nil {
		return nil, err
	}
	f.debug("distinct", "store", filter)
	sf := f.m.sanitizers[name]
	if sf == nil || (sf.Kind() != field.KindRef && sf.Kind() != field.KindRefList) {
		return values, nil
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		e, err := f.reg.GetByRef(ctx, s)
		if errors.Is(err, ErrEntityNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
