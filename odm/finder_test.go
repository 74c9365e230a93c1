package odm_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/grove/odm"
	"github.com/jacentio/grove/store"
)

type finderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *finderLog) FinderQuery(model, kind, source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, model+"/"+kind+"/"+source)
}

func ranks(t *testing.T, f *fixture, entities []*odm.Entity) []int64 {
	t.Helper()
	out := make([]int64, 0, len(entities))
	for _, e := range entities {
		v, err := e.Get(f.ctx, "rank")
		require.NoError(t, err)
		out = append(out, v.(int64))
	}
	return out
}

func seedPages(t *testing.T, f *fixture, n int) []*odm.Entity {
	t.Helper()
	var out []*odm.Entity
	for i := 1; i <= n; i++ {
		out = append(out, f.save(t, "page", map[string]any{"rank": i}))
	}
	return out
}

func TestFinder_GetIsCached(t *testing.T) {
	log := &finderLog{}
	f := newFixture(t, odm.WithFinderRecorder(log))
	seedPages(t, f, 3)

	got, err := f.reg.Find("page").Eq("status", "draft").All(f.ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, f.store.count("find"))

	got, err = f.reg.Find("page").Eq("status", "draft").All(f.ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, f.store.count("find"), "second run is served from the cache")
	assert.Equal(t, []string{"page/get/store", "page/get/cache"}, log.entries)

	f.save(t, "page", map[string]any{"rank": 4})
	got, err = f.reg.Find("page").Eq("status", "draft").All(f.ctx)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 2, f.store.count("find"), "saving clears the finder cache")
}

func TestFinder_PartialConsumptionCachesDispensed(t *testing.T) {
	f := newFixture(t)
	pages := seedPages(t, f, 3)

	finder := f.reg.Find("page").Sort("rank", store.Asc)
	key, err := finder.ID()
	require.NoError(t, err)

	res, err := finder.Get(f.ctx)
	require.NoError(t, err)
	require.True(t, res.Next(f.ctx))

	pool, err := f.caches.Pool(odm.FinderPool("page"))
	require.NoError(t, err)
	cached, ok := pool.List(key)
	require.True(t, ok)
	assert.Equal(t, []any{pages[0].ID().Hex()}, cached)

	got, err := f.reg.Find("page").Sort("rank", store.Asc).All(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ranks(t, f, got))
	assert.Equal(t, 1, f.store.count("find"))

	require.True(t, res.Next(f.ctx))
	cached, _ = pool.List(key)
	assert.Len(t, cached, 2)
}

func TestFinder_ResultAfterSaveDoesNotRepopulate(t *testing.T) {
	f := newFixture(t)
	seedPages(t, f, 2)

	res, err := f.reg.Find("page").Eq("status", "draft").Get(f.ctx)
	require.NoError(t, err)

	f.save(t, "page", map[string]any{"rank": 3})

	stale, err := res.All(f.ctx)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	got, err := f.reg.Find("page").Eq("status", "draft").All(f.ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, f.store.count("find"))
}

func TestFinder_CountAfterClearIsNotCached(t *testing.T) {
	f := newFixture(t)
	seedPages(t, f, 2)

	n, err := f.reg.Find("page").Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	f.save(t, "page", map[string]any{"rank": 3})
	n, err = f.reg.Find("page").Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFinder_EmptyResultIsCached(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		e, err := f.reg.Find("page").Eq("title", "missing").First(f.ctx)
		require.NoError(t, err)
		assert.Nil(t, e)
	}
	assert.Equal(t, 1, f.store.count("find"))
}

func TestFinder_NoCache(t *testing.T) {
	f := newFixture(t)
	seedPages(t, f, 2)

	for i := 0; i < 2; i++ {
		got, err := f.reg.Find("page").NoCache().All(f.ctx)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	assert.Equal(t, 2, f.store.count("find"))
}

func TestFinder_CountIsCached(t *testing.T) {
	f := newFixture(t)
	seedPages(t, f, 3)

	for i := 0; i < 2; i++ {
		n, err := f.reg.Find("page").Gte("rank", 2).Count(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	}
	assert.Equal(t, 1, f.store.count("count"))
}

func TestFinder_SortSkipLimit(t *testing.T) {
	f := newFixture(t)
	seedPages(t, f, 5)

	got, err := f.reg.Find("page").Sort("rank", store.Desc).Skip(1).Limit(2).All(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, ranks(t, f, got))

	n, err := f.reg.Find("page").Skip(4).Limit(3).Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = f.reg.Find("page").Sort("status", store.Asc).AddSort(0, "rank", store.Desc).Limit(1).All(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ranks(t, f, got))
}

func TestFinder_Predicates(t *testing.T) {
	f := newFixture(t)
	f.save(t, "page", map[string]any{"title": "Alpha", "rank": 1, "tags": []any{"go", "db"}})
	f.save(t, "page", map[string]any{"title": "Beta", "rank": 2, "tags": []any{"db"}, "status": "active"})
	f.save(t, "page", map[string]any{"title": "alpine", "rank": 3})

	tests := []struct {
		name   string
		finder *odm.Finder
		want   []int64
	}{
		{"eq", f.reg.Find("page").Eq("status", "active"), []int64{2}},
		{"ne", f.reg.Find("page").Ne("status", "active"), []int64{1, 3}},
		{"range", f.reg.Find("page").Gt("rank", 1).Lte("rank", 3), []int64{2, 3}},
		{"lt", f.reg.Find("page").Lt("rank", 2), []int64{1}},
		{"in list field", f.reg.Find("page").In("tags", []any{"go"}), []int64{1}},
		{"not in", f.reg.Find("page").NotIn("rank", []any{1, 2}), []int64{3}},
		{"or", f.reg.Find("page").OrEq("rank", 1).OrEq("rank", 3), []int64{1, 3}},
		{"regex", f.reg.Find("page").Regex("title", "^al", true), []int64{1, 3}},
		{"regex case sensitive", f.reg.Find("page").Regex("title", "^Al", false), []int64{1}},
		{"where", f.reg.Find("page").Where("and", "rank", "gte", 2), []int64{2, 3}},
		{"text", f.reg.Find("page").Text("beta", ""), []int64{2}},
		{"system field", f.reg.Find("page").Eq("_depth", 0).Gte("rank", 3), []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.finder.All(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ranks(t, f, got))
		})
	}
}

func TestFinder_UnknownField(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Find("page").Eq("rank", 1).Eq("nope", 1).All(f.ctx)
	require.ErrorIs(t, err, odm.ErrFieldNotDefined)
	var fe *odm.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "page", fe.Model)
	assert.Equal(t, "nope", fe.Field)

	_, err = f.reg.Find("page").Sort("nope", store.Asc).Count(f.ctx)
	assert.ErrorIs(t, err, odm.ErrFieldNotDefined)

	_, err = f.reg.Find("ghost").All(f.ctx)
	assert.ErrorIs(t, err, odm.ErrModelNotRegistered)
	assert.Equal(t, 0, f.store.count("find"))
}

func TestFinder_ID(t *testing.T) {
	f := newFixture(t)

	a, err := f.reg.Find("page").Eq("rank", 1).ID()
	require.NoError(t, err)
	b, err := f.reg.Find("page").Eq("rank", 1).ID()
	require.NoError(t, err)
	c, err := f.reg.Find("page").Eq("rank", 1).Skip(1).ID()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, f.reg.Find("page").Eq("status", "draft").String(), "draft")
}

func TestFinder_First(t *testing.T) {
	f := newFixture(t)
	seedPages(t, f, 3)

	e, err := f.reg.Find("page").Sort("rank", store.Desc).First(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []int64{3}, ranks(t, f, []*odm.Entity{e}))
}

func TestFinder_Distinct(t *testing.T) {
	f := newFixture(t)
	ada := f.save(t, "user", map[string]any{"name": "ada"})
	bob := f.save(t, "user", map[string]any{"name": "bob"})
	f.save(t, "page", map[string]any{"author": ada, "status": "active"})
	f.save(t, "page", map[string]any{"author": ada})
	f.save(t, "page", map[string]any{"author": bob})
	f.save(t, "page", nil)

	authors, err := f.reg.Find("page").Distinct(f.ctx, "author")
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.True(t, authors[0].(*odm.Entity).Equal(ada))
	assert.True(t, authors[1].(*odm.Entity).Equal(bob))

	statuses, err := f.reg.Find("page").Distinct(f.ctx, "status")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"draft", "active"}, statuses)
}

func TestFinder_Delete(t *testing.T) {
	f := newFixture(t)
	seedPages(t, f, 3)

	n, err := f.reg.Find("page").Gte("rank", 2).Delete(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := f.reg.Find("page").Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func TestMultiFinder(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"p1", "p2", "p3"} {
		f.save(t, "page", map[string]any{"title": title})
	}
	for _, title := range []string{"n1", "n2"} {
		f.save(t, "note", map[string]any{"title": title})
	}
	f.save(t, "user", map[string]any{"name": "ada"})

	finders, err := f.reg.FindMulti("page", "note", "user").Regex("title", "^[pn]", false).Finders()
	require.NoError(t, err)
	require.Len(t, finders, 2, "user has no title field")

	res, err := f.reg.FindMulti("page", "note", "user").Regex("title", "^[pn]", false).Limit(3).Get(f.ctx)
	require.NoError(t, err)
	got, err := res.All(f.ctx)
	require.NoError(t, err)

	var titles []any
	for _, e := range got {
		v, err := e.Get(f.ctx, "title")
		require.NoError(t, err)
		titles = append(titles, v)
	}
	assert.Equal(t, []any{"p1", "n1", "p2"}, titles)

	n, err := f.reg.FindMulti("page", "note").Regex("title", "^[pn]", false).Limit(3).Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = f.reg.FindMulti("page", "note").Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestMultiFinder_OrPredicates(t *testing.T) {
	f := newFixture(t)
	for i, title := range []string{"p1", "p2", "p3"} {
		f.save(t, "page", map[string]any{"title": title, "rank": i + 1})
	}
	for _, title := range []string{"n1", "n2"} {
		f.save(t, "note", map[string]any{"title": title})
	}

	count := func(m *odm.MultiFinder) int64 {
		t.Helper()
		n, err := m.NoCache().Count(f.ctx)
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, int64(3), count(f.reg.FindMulti("page", "note").OrEq("title", "p1").OrRegex("title", "^n", false)))
	assert.Equal(t, int64(3), count(f.reg.FindMulti("page", "note").OrNotIn("title", []any{"p1", "n1"})))
	assert.Equal(t, int64(4), count(f.reg.FindMulti("page", "note").OrNe("title", "p2")))
	assert.Equal(t, int64(2), count(f.reg.FindMulti("page", "note").OrLt("rank", 2).OrGt("rank", 2)))
	assert.Equal(t, int64(2), count(f.reg.FindMulti("page", "note").OrLte("rank", 1).OrGte("rank", 3)))

	finders, err := f.reg.FindMulti("page", "note").OrGte("rank", 0).Finders()
	require.NoError(t, err)
	assert.Len(t, finders, 1, "note has no rank field")
}
