package odm

import "context"

// EventType names a lifecycle event.
type EventType string

const (
	EventRegister         EventType = "register"
	EventSetupFields      EventType = "setup_fields"
	EventPreSave          EventType = "pre_save"
	EventSave             EventType = "save"
	EventPreDelete        EventType = "pre_delete"
	EventDelete           EventType = "delete"
	EventFinderCacheClear EventType = "finder_cache.clear"
)

// Event is delivered to observers. Entity is nil for model-level events.
type Event struct {
	Type   EventType
	Model  string
	Entity *Entity
	// First is set on the save event following an entity's first save.
	First bool
}

// Observer receives lifecycle events. An error from a pre_* event aborts
// the operation; errors from other events are returned to the caller after
// the operation has completed.
type Observer interface {
	OnEvent(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// emit delivers ev to every observer in order and stops at the first error.
func (r *Registry) emit(ctx context.Context, ev Event) error {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		if err := o.OnEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
