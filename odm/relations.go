package odm

import (
	"slices"

	"github.com/jacentio/grove/field"
)

// Relation records that a field of one model can hold references to
// entities of other models.
type Relation struct {
	// Model is the referring model (e.g., "comment").
	Model string

	// Field is the reference or reference-list field (e.g., "author").
	Field string

	// Kind is field.KindRef or field.KindRefList.
	Kind field.Kind

	// Targets restricts the referenced models. Empty means any model.
	Targets []string
}

// Refers reports whether the relation can point at entities of model.
func (rel Relation) Refers(model string) bool {
	return len(rel.Targets) == 0 || slices.Contains(rel.Targets, model)
}

// Relations holds the reference relations of all registered models, in
// model registration order and then field declaration order.
type Relations struct {
	relations []Relation
}

// NewRelations creates a new empty Relations.
func NewRelations() *Relations {
	return &Relations{relations: []Relation{}}
}

// relationsOf lists the reference fields of a schema. The parent field is
// left out: children are detached on delete, not treated as referrers.
func relationsOf(s Schema) []Relation {
	var out []Relation
	for _, spec := range s.Fields {
		if spec.Kind != field.KindRef && spec.Kind != field.KindRefList {
			continue
		}
		out = append(out, Relation{Model: s.Model, Field: spec.Name, Kind: spec.Kind, Targets: spec.Models})
	}
	return out
}

// Register adds a relation after all existing ones.
func (r *Relations) Register(rel Relation) {
	r.relations = append(r.relations, rel)
}

// Set replaces the relations of model. A model seen before keeps its position.
func (r *Relations) Set(model string, rels []Relation) {
	out := make([]Relation, 0, len(r.relations)+len(rels))
	placed := false
	for _, rel := range r.relations {
		if rel.Model != model {
			out = append(out, rel)
			continue
		}
		if !placed {
			out = append(out, rels...)
			placed = true
		}
	}
	r.relations = out
	if !placed {
		for _, rel := range rels {
			r.Register(rel)
		}
	}
}

// Remove drops every relation whose referring model is model.
func (r *Relations) Remove(model string) {
	r.relations = slices.DeleteFunc(r.relations, func(rel Relation) bool {
		return rel.Model == model
	})
}

// ReferrersOf returns the relations that can point at entities of model.
func (r *Relations) ReferrersOf(model string) []Relation {
	var out []Relation
	for _, rel := range r.relations {
		if rel.Refers(model) {
			out = append(out, rel)
		}
	}
	return out
}

// All returns all registered relations.
func (r *Relations) All() []Relation {
	return r.relations
}

// HasReferrers returns true if any relation can point at entities of model.
func (r *Relations) HasReferrers(model string) bool {
	for _, rel := range r.relations {
		if rel.Refers(model) {
			return true
		}
	}
	return false
}
