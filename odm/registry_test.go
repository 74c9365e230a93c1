package odm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/grove/field"
	"github.com/jacentio/grove/odm"
	"github.com/jacentio/grove/ref"
	"github.com/jacentio/grove/store"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"user", "page", "note"}, f.reg.Models())
	assert.True(t, f.reg.IsRegistered("page"))
	assert.False(t, f.reg.IsRegistered("ghost"))

	err := f.reg.Register(f.ctx, userSchema(), false)
	assert.ErrorIs(t, err, odm.ErrModelAlreadyRegistered)

	replaced := userSchema()
	replaced.Fields = append(replaced.Fields, field.Spec{Name: "age", Kind: field.KindInteger})
	require.NoError(t, f.reg.Register(f.ctx, replaced, true))
	assert.Equal(t, []string{"user", "page", "note"}, f.reg.Models(), "replacing keeps the position")

	u, err := f.reg.Dispense(f.ctx, "user")
	require.NoError(t, err)
	assert.True(t, u.Has("age"))

	s, err := f.reg.Schema("user")
	require.NoError(t, err)
	assert.Len(t, s.Fields, 3)
}

func TestRegister_CollectionTaken(t *testing.T) {
	f := newFixture(t)
	err := f.reg.Register(f.ctx, odm.Schema{Model: "leaf", Collection: "pages"}, false)
	assert.ErrorIs(t, err, odm.ErrInvalidSchema)
	assert.False(t, f.reg.IsRegistered("leaf"))
}

func TestUnregister(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Unregister("note"))

	assert.Equal(t, []string{"user", "page"}, f.reg.Models())
	_, err := f.reg.Dispense(f.ctx, "note")
	assert.ErrorIs(t, err, odm.ErrModelNotRegistered)
	_, err = f.reg.ModelOf("notes")
	assert.ErrorIs(t, err, odm.ErrUnknownCollection)
	assert.NoError(t, f.reg.ClearFinderCache(f.ctx, "note"))

	assert.ErrorIs(t, f.reg.Unregister("note"), odm.ErrModelNotRegistered)
}

func TestRelations(t *testing.T) {
	f := newFixture(t)
	var got []string
	for _, rel := range f.reg.Relations() {
		got = append(got, rel.Model+"."+rel.Field)
	}
	assert.Equal(t, []string{"page.author", "page.editors"}, got)
}

func TestResolveRef(t *testing.T) {
	f := newFixture(t)
	u := f.save(t, "user", map[string]any{"name": "ada"})
	want := ref.New("user", u.ID())

	tests := []struct {
		name    string
		v       any
		implied string
	}{
		{"entity", u, ""},
		{"reference string", u.RefString(), ""},
		{"bare hex", u.ID().Hex(), "user"},
		{"object id", u.ID(), "user"},
		{"ref", want, ""},
		{"uid map", map[string]any{"uid": u.ID().Hex(), "model": "user"}, ""},
		{"uid map implied", map[string]any{"uid": u.ID()}, "user"},
		{"collection ref", odm.CollectionRef{Collection: "users", ID: u.ID()}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.reg.ResolveRef(tt.v, tt.implied)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestResolveRef_Errors(t *testing.T) {
	f := newFixture(t)
	id := primitive.NewObjectID()

	_, err := f.reg.ResolveRef(id.Hex(), "")
	assert.ErrorIs(t, err, ref.ErrInvalid)

	_, err = f.reg.ResolveRef("ghost:"+id.Hex(), "")
	assert.ErrorIs(t, err, odm.ErrModelNotRegistered)

	_, err = f.reg.ResolveRef("user:nothex", "")
	assert.ErrorIs(t, err, ref.ErrInvalid)

	_, err = f.reg.ResolveRef(odm.CollectionRef{Collection: "ghosts", ID: id}, "")
	assert.ErrorIs(t, err, odm.ErrUnknownCollection)

	_, err = f.reg.ResolveRefs([]any{id, 42}, "user")
	assert.ErrorIs(t, err, ref.ErrInvalid)
}

func TestGetByRef(t *testing.T) {
	f := newFixture(t)
	u := f.save(t, "user", map[string]any{"name": "ada"})

	got, err := f.reg.GetByRef(f.ctx, u.RefString())
	require.NoError(t, err)
	assert.True(t, got.Equal(u))

	_, err = f.reg.GetByRef(f.ctx, ref.New("user", primitive.NewObjectID()).String())
	assert.ErrorIs(t, err, odm.ErrEntityNotFound)
}

func TestIsUnique(t *testing.T) {
	f := newFixture(t)
	ada := f.save(t, "user", map[string]any{"name": "ada"})

	ok, err := f.reg.IsUnique(f.ctx, "user", "name", "ada")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.reg.IsUnique(f.ctx, "user", "name", "ada", ada.ID())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.reg.IsUnique(f.ctx, "user", "name", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.reg.IsUnique(f.ctx, "user", "nope", "x")
	assert.ErrorIs(t, err, odm.ErrFieldNotDefined)
}

func TestReindex(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateIndex(f.ctx, "pages", store.Index{Keys: []store.IndexKey{{Field: "stale", Kind: store.Ascending}}})
	require.NoError(t, err)

	require.NoError(t, f.reg.ReindexAll(f.ctx))

	indexes, err := f.store.Indexes(f.ctx, "pages")
	require.NoError(t, err)
	var names []string
	for _, idx := range indexes {
		names = append(names, idx.IndexName())
	}
	assert.Equal(t, []string{"_id_", "_parent_1", "title_text", "rank_-1"}, names)

	assert.ErrorIs(t, f.reg.Reindex(f.ctx, "ghost"), odm.ErrModelNotRegistered)
}

func TestLoad_Singleflight(t *testing.T) {
	f := newFixture(t)
	u := f.save(t, "user", map[string]any{"name": "ada"})
	f.reg.InvalidateEntity("user", u.ID())

	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	done := make(chan error, 8)
	for i := 0; i < cap(done); i++ {
		go func() {
			_, err := f.reg.Load(ctx, "user", u.ID())
			done <- err
		}()
	}
	for i := 0; i < cap(done); i++ {
		require.NoError(t, <-done)
	}
	assert.LessOrEqual(t, f.store.count("find_one"), cap(done))
	assert.GreaterOrEqual(t, f.store.count("find_one"), 1)
}

func TestClock(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, odm.WithClock(func() time.Time { return now }))

	e := f.save(t, "note", map[string]any{"title": "x"})
	assert.Equal(t, now.Unix(), e.ID().Timestamp().Unix())

	got, err := f.reload(t, e).Get(f.ctx, odm.FieldModified)
	require.NoError(t, err)
	assert.True(t, now.Equal(got.(time.Time)))
}
