package odm

import (
	"context"
	"errors"
	"time"

	"github.com/jacentio/grove/store"
)

// MultiFinder applies the same predicates to several models. Models lacking
// a field the predicates use are skipped.
type MultiFinder struct {
	reg    *Registry
	models []string
	steps  []func(*Finder) *Finder
	limit  int64
}

// FindMulti returns a finder over several models.
func (r *Registry) FindMulti(models ...string) *MultiFinder {
	return &MultiFinder{reg: r, models: models}
}

func (m *MultiFinder) then(step func(*Finder) *Finder) *MultiFinder {
	m.steps = append(m.steps, step)
	return m
}

func (m *MultiFinder) Eq(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Eq(name, v) })
}

func (m *MultiFinder) Ne(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Ne(name, v) })
}

func (m *MultiFinder) Gt(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Gt(name, v) })
}

func (m *MultiFinder) Gte(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Gte(name, v) })
}

func (m *MultiFinder) Lt(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Lt(name, v) })
}

func (m *MultiFinder) Lte(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Lte(name, v) })
}

func (m *MultiFinder) In(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.In(name, v) })
}

func (m *MultiFinder) NotIn(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.NotIn(name, v) })
}

func (m *MultiFinder) OrEq(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrEq(name, v) })
}

func (m *MultiFinder) OrNe(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrNe(name, v) })
}

func (m *MultiFinder) OrGt(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrGt(name, v) })
}

func (m *MultiFinder) OrGte(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrGte(name, v) })
}

func (m *MultiFinder) OrLt(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrLt(name, v) })
}

func (m *MultiFinder) OrLte(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrLte(name, v) })
}

func (m *MultiFinder) OrIn(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrIn(name, v) })
}

func (m *MultiFinder) OrNotIn(name string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrNotIn(name, v) })
}

func (m *MultiFinder) Regex(name, pattern string, caseInsensitive bool) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Regex(name, pattern, caseInsensitive) })
}

func (m *MultiFinder) Text(search, language string) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Text(search, language) })
}

func (m *MultiFinder) OrRegex(name, pattern string, caseInsensitive bool) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrRegex(name, pattern, caseInsensitive) })
}

func (m *MultiFinder) OrText(search, language string) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.OrText(search, language) })
}

func (m *MultiFinder) Where(logic, name, op string, v any) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Where(logic, name, op, v) })
}

func (m *MultiFinder) Sort(name string, dir store.Direction) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Sort(name, dir) })
}

// Skip applies to every model separately.
func (m *MultiFinder) Skip(n int64) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Skip(n) })
}

// Limit bounds the combined result. Zero means unlimited.
func (m *MultiFinder) Limit(n int64) *MultiFinder {
	m.limit = max(n, 0)
	return m
}

func (m *MultiFinder) Cache(ttl time.Duration) *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.Cache(ttl) })
}

func (m *MultiFinder) NoCache() *MultiFinder {
	return m.then(func(f *Finder) *Finder { return f.NoCache() })
}

// Finders builds the per-model finders, leaving out models that lack a
// field the predicates use.
func (m *MultiFinder) Finders() ([]*Finder, error) {
	var out []*Finder
	for _, name := range m.models {
		f := m.reg.Find(name)
		for _, step := range m.steps {
			f = step(f)
		}
		if m.limit > 0 {
			f = f.Limit(m.limit)
		}
		if err := f.Err(); err != nil {
			if errors.Is(err, ErrFieldNotDefined) {
				continue
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Count sums the counts of every applicable model.
func (m *MultiFinder) Count(ctx context.Context) (int64, error) {
	finders, err := m.Finders()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range finders {
		n, err := f.Count(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if m.limit > 0 && total > m.limit {
		total = m.limit
	}
	return total, nil
}

// Get runs every applicable finder and interleaves their results.
func (m *MultiFinder) Get(ctx context.Context) (*MultiResult, error) {
	finders, err := m.Finders()
	if err != nil {
		return nil, err
	}
	res := &MultiResult{limit: m.limit}
	for _, f := range finders {
		r, err := f.Get(ctx)
		if err != nil {
			return nil, err
		}
		res.results = append(res.results, r)
	}
	return res, nil
}

// MultiResult round-robins over several results up to a combined limit.
type MultiResult struct {
	results []*Result
	next    int
	limit   int64
	n       int64
	cur     *Entity
	err     error
}

// Next loads the next entity, taking one from each model in turn.
func (r *MultiResult) Next(ctx context.Context) bool {
	r.cur = nil
	if r.err != nil || (r.limit > 0 && r.n >= r.limit) {
		return false
	}
	for len(r.results) > 0 {
		i := r.next % len(r.results)
		res := r.results[i]
		if res.Next(ctx) {
			r.cur = res.Entity()
			r.next = i + 1
			r.n++
			return true
		}
		if err := res.Err(); err != nil {
			r.err = err
			return false
		}
		r.results = append(r.results[:i], r.results[i+1:]...)
		r.next = i
	}
	return false
}

func (r *MultiResult) Entity() *Entity { return r.cur }

func (r *MultiResult) Err() error { return r.err }

// All consumes the remaining entities.
func (r *MultiResult) All(ctx context.Context) ([]*Entity, error) {
	var out []*Entity
	for r.Next(ctx) {
		out = append(out, r.cur)
	}
	return out, r.err
}
