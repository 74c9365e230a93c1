package odm

import (
	"errors"
	"fmt"
)

var (
	// Schema errors
	ErrModelNotRegistered     = errors.New("grove: model is not registered")
	ErrModelAlreadyRegistered = errors.New("grove: model is already registered")
	ErrFieldNotDefined        = errors.New("grove: field is not defined")
	ErrInvalidSchema          = errors.New("grove: invalid schema")

	// Reference errors
	ErrUnknownCollection = errors.New("grove: no model registered for collection")
	ErrEntityNotFound    = errors.New("grove: entity not found")

	// State errors
	ErrEntityDeleted   = errors.New("grove: entity was deleted")
	ErrEntityNotStored = errors.New("grove: entity must be stored first")
	ErrSelfParent      = errors.New("grove: entity cannot be its own parent")
	ErrCyclicParent    = errors.New("grove: entity cannot be a child of its descendant")
	ErrUnsavedDelete   = errors.New("grove: cannot delete unsaved entity")
	ErrTreeTooDeep     = errors.New("grove: tree exceeds maximum depth")

	// ErrReferenced is returned when deleting an entity other entities still point at.
	ErrReferenced = errors.New("grove: entity is referenced")

	// ErrRequiredFieldEmpty is returned by Save when a required field has no value.
	ErrRequiredFieldEmpty = errors.New("grove: required field is empty")
)

// FieldError ties a failure to a model field.
type FieldError struct {
	Model string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Model, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// EntityError ties a failure to an entity. Ref is empty for entities that were never stored.
type EntityError struct {
	Model string
	Ref   string
	Err   error
}

func (e *EntityError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%v (model %s)", e.Err, e.Model)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Ref)
}

func (e *EntityError) Unwrap() error { return e.Err }

// IntegrityError names the first referrer found when deleting a referenced entity.
type IntegrityError struct {
	// Ref is the entity being deleted.
	Ref string
	// Referrer is the entity holding the reference.
	Referrer string
	// Field is the referrer's field holding the reference.
	Field string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("grove: %s.%s refers to %s", e.Referrer, e.Field, e.Ref)
}

func (e *IntegrityError) Unwrap() error { return ErrReferenced }

func modelError(model string, err error) error {
	return fmt.Errorf("%w: %s", err, model)
}
