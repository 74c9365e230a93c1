package field

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch is returned when a value cannot be coerced to the field's domain.
	ErrTypeMismatch = errors.New("grove: type mismatch")

	// ErrDomain is returned when a value has the right type but violates a bound
	// (length, range, enum membership, required dict keys).
	ErrDomain = errors.New("grove: value violates field constraints")

	// ErrUnsupported is returned by Add/Subtract/Increment/Decrement on fields
	// that define no combination rule.
	ErrUnsupported = errors.New("grove: unsupported field operation")

	// ErrNotBound is returned when a reference field is dereferenced without a resolver.
	ErrNotBound = errors.New("grove: reference field is not bound to a resolver")

	// ErrInvalidSpec is returned by New for malformed field specs.
	ErrInvalidSpec = errors.New("grove: invalid field spec")
)

// Error carries the field name and offending value for a rejected operation.
type Error struct {
	Field  string
	Value  any
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("grove: field %q: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func mismatch(name string, v any, want string) error {
	return &Error{
		Field:  name,
		Value:  v,
		Reason: fmt.Sprintf("%s expected, got %T", want, v),
		Err:    ErrTypeMismatch,
	}
}

func violation(name string, v any, format string, args ...any) error {
	return &Error{
		Field:  name,
		Value:  v,
		Reason: fmt.Sprintf(format, args...),
		Err:    ErrDomain,
	}
}

func unsupported(name, op string) error {
	return &Error{
		Field:  name,
		Reason: fmt.Sprintf("value cannot be %s", op),
		Err:    ErrUnsupported,
	}
}
