package odm

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Result is a single-pass sequence of entities dispensed from identifiers.
//
//	res, err := reg.Find("page").Eq("status", "active").Get(ctx)
//	for res.Next(ctx) {
//		page := res.Entity()
//	}
//	if err := res.Err(); err != nil { ... }
type Result struct {
	reg    *Registry
	model  string
	ids    []string
	pos    int
	cur    *Entity
	err    error
	record func(id string)
}

func newResult(reg *Registry, model string, ids []string, record func(string)) *Result {
	return &Result{reg: reg, model: model, ids: ids, record: record}
}

// Next loads the next entity. Identifiers whose documents have vanished
// since the query ran are skipped.
func (r *Result) Next(ctx context.Context) bool {
	r.cur = nil
	for r.err == nil && r.pos < len(r.ids) {
		hex := r.ids[r.pos]
		r.pos++
		id, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			r.err = err
			return false
		}
		e, err := r.reg.Load(ctx, r.model, id)
		if errors.Is(err, ErrEntityNotFound) {
			r.reg.logger.Debug("skipping vanished entity", zap.String("model", r.model), zap.String("id", hex))
			continue
		}
		if err != nil {
			r.err = err
			return false
		}
		if r.record != nil {
			r.record(hex)
		}
		r.cur = e
		return true
	}
	return false
}

// Entity returns the entity loaded by the last successful Next.
func (r *Result) Entity() *Entity { return r.cur }

// Err returns the error that stopped iteration.
func (r *Result) Err() error { return r.err }

// Model returns the model of the dispensed entities.
func (r *Result) Model() string { return r.model }

// Len returns the number of identifiers the result was built from.
func (r *Result) Len() int { return len(r.ids) }

// IDs returns the identifiers in result order.
func (r *Result) IDs() []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(r.ids))
	for _, s := range r.ids {
		if id, err := primitive.ObjectIDFromHex(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// All consumes the remaining entities.
func (r *Result) All(ctx context.Context) ([]*Entity, error) {
	var out []*Entity
	for r.Next(ctx) {
		out = append(out, r.cur)
	}
	return out, r.err
}
