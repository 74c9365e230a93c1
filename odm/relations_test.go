package odm_test

import (
	"testing"

	"github.com/jacentio/grove/field"
	"github.com/jacentio/grove/odm"
)

func TestNewRelations(t *testing.T) {
	r := odm.NewRelations()
	if r == nil {
		t.Fatal("expected non-nil Relations")
	}
	if len(r.All()) != 0 {
		t.Errorf("expected 0 relations, got %d", len(r.All()))
	}
}

func TestRelations_ReferrersOf(t *testing.T) {
	r := odm.NewRelations()

	r.Register(odm.Relation{Model: "comment", Field: "author", Kind: field.KindRef, Targets: []string{"user"}})
	r.Register(odm.Relation{Model: "comment", Field: "page", Kind: field.KindRef, Targets: []string{"page"}})
	r.Register(odm.Relation{Model: "page", Field: "editors", Kind: field.KindRefList, Targets: []string{"user"}})

	users := r.ReferrersOf("user")
	if len(users) != 2 {
		t.Fatalf("expected 2 referrers of user, got %d", len(users))
	}
	if users[0].Field != "author" || users[1].Field != "editors" {
		t.Errorf("expected registration order [author editors], got [%s %s]", users[0].Field, users[1].Field)
	}

	pages := r.ReferrersOf("page")
	if len(pages) != 1 || pages[0].Model != "comment" {
		t.Errorf("expected comment.page to refer to page, got %+v", pages)
	}

	if len(r.ReferrersOf("tag")) != 0 {
		t.Error("expected no referrers of tag")
	}
}

func TestRelations_AnyTarget(t *testing.T) {
	r := odm.NewRelations()
	r.Register(odm.Relation{Model: "bookmark", Field: "target", Kind: field.KindRef})

	if !r.HasReferrers("page") {
		t.Error("expected untargeted relation to refer to page")
	}
	if !r.HasReferrers("user") {
		t.Error("expected untargeted relation to refer to user")
	}
}

func TestRelations_Set_KeepsPosition(t *testing.T) {
	r := odm.NewRelations()
	r.Register(odm.Relation{Model: "comment", Field: "author", Targets: []string{"user"}})
	r.Register(odm.Relation{Model: "page", Field: "owner", Targets: []string{"user"}})

	r.Set("comment", []odm.Relation{
		{Model: "comment", Field: "author", Targets: []string{"user"}},
		{Model: "comment", Field: "reviewer", Targets: []string{"user"}},
	})

	rels := r.ReferrersOf("user")
	want := []string{"author", "reviewer", "owner"}
	if len(rels) != len(want) {
		t.Fatalf("expected %d relations, got %d", len(want), len(rels))
	}
	for i, w := range want {
		if rels[i].Field != w {
			t.Errorf("relation %d: expected %q, got %q", i, w, rels[i].Field)
		}
	}
}

func TestRelations_Set_NewModelAppends(t *testing.T) {
	r := odm.NewRelations()
	r.Register(odm.Relation{Model: "comment", Field: "author"})

	r.Set("page", []odm.Relation{{Model: "page", Field: "owner"}})

	rels := r.All()
	if len(rels) != 2 || rels[1].Model != "page" {
		t.Errorf("expected page relation appended, got %+v", rels)
	}
}

func TestRelations_Remove(t *testing.T) {
	r := odm.NewRelations()
	r.Register(odm.Relation{Model: "comment", Field: "author", Targets: []string{"user"}})
	r.Register(odm.Relation{Model: "page", Field: "owner", Targets: []string{"user"}})

	r.Remove("comment")

	rels := r.ReferrersOf("user")
	if len(rels) != 1 || rels[0].Model != "page" {
		t.Errorf("expected only page.owner left, got %+v", rels)
	}
}

func TestRelations_Remove_Nonexistent(t *testing.T) {
	r := odm.NewRelations()
	r.Register(odm.Relation{Model: "comment", Field: "author"})

	r.Remove("nonexistent")

	if len(r.All()) != 1 {
		t.Errorf("expected 1 relation, got %d", len(r.All()))
	}
}

func TestRelations_HasReferrers_EmptyString(t *testing.T) {
	r := odm.NewRelations()
	r.Register(odm.Relation{Model: "comment", Field: "author", Targets: []string{"user"}})

	if r.HasReferrers("") {
		t.Error("expected false for empty model")
	}
}
