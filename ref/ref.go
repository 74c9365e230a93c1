// Package ref implements manual entity references of the form "<model>:<identifier>".
package ref

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalid is returned when a value cannot be interpreted as a reference.
var ErrInvalid = errors.New("grove: invalid reference")

// Error describes why a reference value was rejected.
type Error struct {
	Value  any
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("grove: invalid reference %v: %s", e.Value, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalid }

// Ref is a weak pointer to an entity: a model name plus the entity identifier.
// It never owns the referenced entity; resolution is always a lookup.
type Ref struct {
	Model string
	ID    primitive.ObjectID
}

// Referencer is implemented by values that can produce a reference to themselves.
// Entities return an error until they have been stored.
type Referencer interface {
	Ref() (Ref, error)
}

// New builds a reference from its parts.
func New(model string, id primitive.ObjectID) Ref {
	return Ref{Model: model, ID: id}
}

// Parse parses a manual reference string.
// The string must split on ':' into exactly two non-empty parts and the
// second part must be a valid hex object identifier. Whether the model is
// registered is checked by the registry, not here.
func Parse(s string) (Ref, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Ref{}, &Error{Value: s, Reason: "expected exactly one ':' separator"}
	}
	if parts[0] == "" || parts[1] == "" {
		return Ref{}, &Error{Value: s, Reason: "model and identifier must be non-empty"}
	}
	id, err := primitive.ObjectIDFromHex(parts[1])
	if err != nil {
		return Ref{}, &Error{Value: s, Reason: "identifier is not a valid object id"}
	}
	return Ref{Model: parts[0], ID: id}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Ref {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the canonical "<model>:<hex>" form.
func (r Ref) String() string {
	return r.Model + ":" + r.ID.Hex()
}

// IsZero reports whether r is the empty reference.
func (r Ref) IsZero() bool {
	return r.Model == "" && r.ID.IsZero()
}

// Of extracts a reference from a Ref, a *Ref, a manual reference string or a Referencer.
func Of(v any) (Ref, error) {
	switch x := v.(type) {
	case Ref:
		if x.IsZero() {
			return Ref{}, &Error{Value: v, Reason: "empty reference"}
		}
		return x, nil
	case *Ref:
		if x == nil {
			return Ref{}, &Error{Value: v, Reason: "nil reference"}
		}
		return Of(*x)
	case string:
		return Parse(x)
	case Referencer:
		return x.Ref()
	default:
		return Ref{}, &Error{Value: v, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}
