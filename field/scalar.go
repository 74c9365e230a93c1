package field

import (
	"context"
	"math"
	"math/big"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID holds a primitive.ObjectID. The zero ID is stored as null.
type ObjectID struct {
	base
	defaults
}

func newObjectID(s Spec) (*ObjectID, error) {
	f := &ObjectID{}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, primitive.NilObjectID)
}

func (f *ObjectID) coerce(raw any, o setOptions) (any, error) {
	switch v := raw.(type) {
	case nil:
		return primitive.NilObjectID, nil
	case primitive.ObjectID:
		return v, nil
	case string:
		if o.fromStore {
			id, err := primitive.ObjectIDFromHex(v)
			if err != nil {
				return nil, mismatch(f.name, raw, "object id")
			}
			return id, nil
		}
	}
	return nil, mismatch(f.name, raw, "object id")
}

func (f *ObjectID) storable(v any) any {
	id, _ := v.(primitive.ObjectID)
	if id.IsZero() {
		return nil
	}
	return id
}

func (f *ObjectID) sanitize(arg any) (any, error) {
	switch v := arg.(type) {
	case primitive.ObjectID:
		return v, nil
	case string:
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, mismatch(f.name, arg, "object id")
		}
		return id, nil
	}
	if items, ok := toSlice(arg); ok {
		out := make([]any, 0, len(items))
		for _, it := range items {
			id, err := f.sanitize(it)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	}
	return arg, nil
}

// String holds trimmed text with optional length bounds.
// With kind email the value must also parse as an address.
type String struct {
	base
	defaults
	minLength int
	maxLength int
	email     bool
}

func newString(s Spec) (*String, error) {
	f := &String{minLength: s.MinLength, maxLength: s.MaxLength, email: s.Kind == KindEmail}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, "")
}

func (f *String) coerce(raw any, o setOptions) (any, error) {
	var v string
	switch t := raw.(type) {
	case nil:
	case string:
		v = strings.TrimSpace(t)
	default:
		return nil, mismatch(f.name, raw, "string")
	}
	if o.reset {
		return v, nil
	}
	n := utf8.RuneCountInString(v)
	if f.minLength > 0 && n < f.minLength {
		return nil, violation(f.name, raw, "length %d is below minimum %d", n, f.minLength)
	}
	if f.maxLength > 0 && n > f.maxLength {
		return nil, violation(f.name, raw, "length %d exceeds maximum %d", n, f.maxLength)
	}
	if f.email && v != "" {
		addr, err := mail.ParseAddress(v)
		if err != nil || addr.Address != v {
			return nil, violation(f.name, raw, "%q is not a valid email address", v)
		}
	}
	return v, nil
}

// numeric bounds shared by Integer and Decimal.
type bounds struct {
	min, max *float64
}

func (b bounds) check(name string, raw any, v float64) error {
	if b.min != nil && v < *b.min {
		return violation(name, raw, "%v is below minimum %v", v, *b.min)
	}
	if b.max != nil && v > *b.max {
		return violation(name, raw, "%v exceeds maximum %v", v, *b.max)
	}
	return nil
}

// Integer holds an int64. Floats are truncated on set.
type Integer struct {
	base
	defaults
	bounds
	stepBy int64
}

func newInteger(s Spec) (*Integer, error) {
	f := &Integer{bounds: bounds{min: s.Minimum, max: s.Maximum}, stepBy: 1}
	if s.Step != nil {
		f.stepBy = int64(*s.Step)
	}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, int64(0))
}

func (f *Integer) coerce(raw any, o setOptions) (any, error) {
	if raw == nil {
		return int64(0), nil
	}
	if _, ok := raw.(bool); ok {
		return nil, mismatch(f.name, raw, "integer")
	}
	n, ok := toInt64(raw)
	if !ok {
		return nil, mismatch(f.name, raw, "integer")
	}
	if !o.reset {
		if err := f.check(f.name, raw, float64(n)); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (f *Integer) combine(cur, v any, subtract bool) (any, error) {
	n, ok := toInt64(v)
	if !ok {
		return nil, mismatch(f.name, v, "integer")
	}
	if subtract {
		n = -n
	}
	return cur.(int64) + n, nil
}

func (f *Integer) step(cur any, down bool) (any, error) {
	if down {
		return cur.(int64) - f.stepBy, nil
	}
	return cur.(int64) + f.stepBy, nil
}

func (f *Integer) sanitize(arg any) (any, error) {
	if items, ok := toSlice(arg); ok {
		out := make([]any, 0, len(items))
		for _, it := range items {
			n, err := f.sanitize(it)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}
	n, ok := toInt64(arg)
	if !ok {
		return nil, mismatch(f.name, arg, "integer")
	}
	return n, nil
}

// Decimal holds a float64 with optional rounding. Arithmetic runs on the
// shortest decimal representation of each operand, so 0.1+0.2 yields 0.3.
type Decimal struct {
	base
	defaults
	bounds
	round  *int
	stepBy *float64
}

func newDecimal(s Spec) (*Decimal, error) {
	f := &Decimal{bounds: bounds{min: s.Minimum, max: s.Maximum}, round: s.Round, stepBy: s.Step}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, float64(0))
}

func (f *Decimal) coerce(raw any, o setOptions) (any, error) {
	if raw == nil {
		return float64(0), nil
	}
	if _, ok := raw.(bool); ok {
		return nil, mismatch(f.name, raw, "decimal")
	}
	v, ok := toFloat64(raw)
	if !ok || math.IsNaN(v) {
		return nil, mismatch(f.name, raw, "decimal")
	}
	if f.round != nil {
		p := math.Pow10(*f.round)
		v = math.Round(v*p) / p
	}
	if !o.reset {
		if err := f.check(f.name, raw, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func decimalSum(a, b float64, subtract bool) float64 {
	x, okA := new(big.Rat).SetString(strconv.FormatFloat(a, 'f', -1, 64))
	y, okB := new(big.Rat).SetString(strconv.FormatFloat(b, 'f', -1, 64))
	if !okA || !okB {
		if subtract {
			return a - b
		}
		return a + b
	}
	if subtract {
		x.Sub(x, y)
	} else {
		x.Add(x, y)
	}
	out, _ := x.Float64()
	return out
}

func (f *Decimal) combine(cur, v any, subtract bool) (any, error) {
	n, ok := toFloat64(v)
	if !ok {
		return nil, mismatch(f.name, v, "decimal")
	}
	return decimalSum(cur.(float64), n, subtract), nil
}

func (f *Decimal) step(cur any, down bool) (any, error) {
	if f.stepBy == nil {
		return f.defaults.step(cur, down)
	}
	return decimalSum(cur.(float64), *f.stepBy, down), nil
}

func (f *Decimal) sanitize(arg any) (any, error) {
	if items, ok := toSlice(arg); ok {
		out := make([]any, 0, len(items))
		for _, it := range items {
			n, err := f.sanitize(it)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}
	n, ok := toFloat64(arg)
	if !ok {
		return nil, mismatch(f.name, arg, "decimal")
	}
	return n, nil
}

// Bool holds a boolean. Numbers are truthy when non-zero.
type Bool struct {
	base
	defaults
}

func newBool(s Spec) (*Bool, error) {
	f := &Bool{}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, false)
}

func (f *Bool) coerce(raw any, _ setOptions) (any, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, mismatch(f.name, raw, "bool")
		}
		return b, nil
	}
	if n, ok := toFloat64(raw); ok {
		return n != 0, nil
	}
	return nil, mismatch(f.name, raw, "bool")
}

func (f *Bool) sanitize(arg any) (any, error) {
	switch v := arg.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		}
		return false, nil
	}
	return f.coerce(arg, setOptions{})
}

// DateTime holds a UTC time truncated to milliseconds, the precision
// documents are stored with. The zero time is stored as null.
type DateTime struct {
	base
	defaults
}

func newDateTime(s Spec) (*DateTime, error) {
	f := &DateTime{}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, time.Time{})
}

func (f *DateTime) coerce(raw any, _ setOptions) (any, error) {
	if raw == nil {
		return time.Time{}, nil
	}
	t, ok := toTime(raw)
	if !ok {
		return nil, mismatch(f.name, raw, "datetime")
	}
	return t, nil
}

func (f *DateTime) combine(cur, v any, subtract bool) (any, error) {
	d, ok := v.(time.Duration)
	if !ok {
		return nil, mismatch(f.name, v, "duration")
	}
	if subtract {
		d = -d
	}
	return cur.(time.Time).Add(d), nil
}

func (f *DateTime) storable(v any) any {
	t, _ := v.(time.Time)
	if t.IsZero() {
		return nil
	}
	return t
}

func (f *DateTime) sanitize(arg any) (any, error) {
	if items, ok := toSlice(arg); ok {
		out := make([]any, 0, len(items))
		for _, it := range items {
			t, err := f.sanitize(it)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	t, ok := toTime(arg)
	if !ok {
		return nil, mismatch(f.name, arg, "datetime")
	}
	return t, nil
}

// Enum holds one string out of a fixed set. The empty string means unset.
type Enum struct {
	base
	defaults
	values []string
}

func newEnum(s Spec) (*Enum, error) {
	f := &Enum{values: s.Values}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, "")
}

func (f *Enum) coerce(raw any, _ setOptions) (any, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		if v == "" {
			return "", nil
		}
		for _, allowed := range f.values {
			if v == allowed {
				return v, nil
			}
		}
		return nil, violation(f.name, raw, "%q is not one of %v", v, f.values)
	}
	return nil, mismatch(f.name, raw, "string")
}

// Virtual holds an arbitrary value that is never stored.
type Virtual struct {
	base
	defaults
}

func newVirtual(s Spec) (*Virtual, error) {
	s.Transient = true
	f := &Virtual{}
	f.defaults.owner = &f.base.name
	return f, f.init(s, f, nil)
}

func (f *Virtual) coerce(raw any, _ setOptions) (any, error) { return raw, nil }

func (f *Virtual) expose(_ context.Context, v any) (any, error) { return v, nil }
