package odm

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/jacentio/grove/queue"
	"github.com/jacentio/grove/store"
)

// ErrInvalidTask is returned when a queue payload has the wrong type.
var ErrInvalidTask = errors.New("grove: invalid write task")

// saveTask is the payload of an OpSave task.
type saveTask struct {
	New        bool
	Model      string
	Collection string
	Doc        store.Document
}

// deleteTask is the payload of an OpDelete task.
type deleteTask struct {
	Model      string
	Collection string
	ID         primitive.ObjectID
}

// handleSave writes the document, then refreshes the entity cache. New
// documents are inserted; existing ones are replaced, or inserted again
// when they have vanished from the store.
func (r *Registry) handleSave(ctx context.Context, payload any) error {
	t, ok := payload.(*saveTask)
	if !ok {
		return queue.Permanent(fmt.Errorf("%w: %T", ErrInvalidTask, payload))
	}

	var err error
	if t.New {
		err = r.store.Insert(ctx, t.Collection, t.Doc)
	} else {
		err = r.store.Replace(ctx, t.Collection, t.Doc)
		if errors.Is(err, store.ErrNotFound) {
			err = r.store.Insert(ctx, t.Collection, t.Doc)
		}
	}
	if err != nil {
		r.logger.Error("failed to save document",
			zap.String("model", t.Model),
			zap.String("collection", t.Collection),
			zap.Any("document", t.Doc),
			zap.Error(err),
		)
		return permanentIf(err)
	}

	r.entities.Put(entityKey(t.Model, t.Doc.ID()), t.Doc.Clone(), r.config.EntityTTL)
	return nil
}

// handleDelete removes the document, then its entity cache entry.
func (r *Registry) handleDelete(ctx context.Context, payload any) error {
	t, ok := payload.(*deleteTask)
	if !ok {
		return queue.Permanent(fmt.Errorf("%w: %T", ErrInvalidTask, payload))
	}

	if err := r.store.Delete(ctx, t.Collection, t.ID); err != nil {
		r.logger.Error("failed to delete document",
			zap.String("model", t.Model),
			zap.String("collection", t.Collection),
			zap.String("id", t.ID.Hex()),
			zap.Error(err),
		)
		return permanentIf(err)
	}

	r.entities.Remove(entityKey(t.Model, t.ID))
	return nil
}

// permanentIf stops retries for errors another attempt cannot fix.
func permanentIf(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicateKey),
		errors.Is(err, store.ErrInvalidDocument),
		errors.Is(err, store.ErrNotFound):
		return queue.Permanent(err)
	}
	return err
}

// submit enqueues a write and waits for it to be applied.
func (r *Registry) submit(ctx context.Context, op string, payload any) error {
	task, err := r.queue.Put(op, payload)
	if err != nil {
		return err
	}
	return task.Execute(ctx, true)
}
