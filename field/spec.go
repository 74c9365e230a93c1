package field

import "fmt"

// Spec declares a field. Schemas are lists of specs, usually loaded from YAML.
type Spec struct {
	Name      string `yaml:"name"`
	Kind      Kind   `yaml:"kind"`
	Required  bool   `yaml:"required,omitempty"`
	Transient bool   `yaml:"transient,omitempty"`
	Default   any    `yaml:"default,omitempty"`

	// string, email
	MinLength int `yaml:"min_length,omitempty"`
	MaxLength int `yaml:"max_length,omitempty"`

	// integer, decimal
	Minimum *float64 `yaml:"minimum,omitempty"`
	Maximum *float64 `yaml:"maximum,omitempty"`
	Step    *float64 `yaml:"step,omitempty"`
	Round   *int     `yaml:"round,omitempty"`

	// enum
	Values []string `yaml:"values,omitempty"`

	// list, ref_list
	Elem      Kind `yaml:"elem,omitempty"`
	Unique    bool `yaml:"unique,omitempty"`
	MinLen    int  `yaml:"min_len,omitempty"`
	MaxLen    int  `yaml:"max_len,omitempty"`
	NoCleanup bool `yaml:"no_cleanup,omitempty"`

	// dict
	Keys                  []string `yaml:"keys,omitempty"`
	NonemptyKeys          []string `yaml:"nonempty_keys,omitempty"`
	DottedKeys            bool     `yaml:"dotted_keys,omitempty"`
	DottedKeysReplacement string   `yaml:"dotted_keys_replacement,omitempty"`

	// ref, ref_list
	Models []string `yaml:"models,omitempty"`
}

// Validate checks the spec for structural errors.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidSpec)
	}
	switch s.Kind {
	case KindEnum:
		if len(s.Values) == 0 {
			return fmt.Errorf("%w: enum field %q has no values", ErrInvalidSpec, s.Name)
		}
	case KindList:
		switch s.Elem {
		case "", KindString, KindInteger, KindDecimal, KindList:
		default:
			return fmt.Errorf("%w: list field %q has unsupported element kind %q", ErrInvalidSpec, s.Name, s.Elem)
		}
	case "":
		return fmt.Errorf("%w: field %q has no kind", ErrInvalidSpec, s.Name)
	}
	for _, k := range Kinds {
		if k == s.Kind {
			if s.MinLen > 0 && s.MaxLen > 0 && s.MinLen > s.MaxLen {
				return fmt.Errorf("%w: field %q min_len exceeds max_len", ErrInvalidSpec, s.Name)
			}
			if s.Minimum != nil && s.Maximum != nil && *s.Minimum > *s.Maximum {
				return fmt.Errorf("%w: field %q minimum exceeds maximum", ErrInvalidSpec, s.Name)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: field %q has unknown kind %q", ErrInvalidSpec, s.Name, s.Kind)
}

// New builds a field from its spec. The field starts out holding its default.
func New(s Spec) (Field, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var (
		f   Field
		err error
	)
	switch s.Kind {
	case KindObjectID:
		f, err = newObjectID(s)
	case KindString, KindEmail:
		f, err = newString(s)
	case KindInteger:
		f, err = newInteger(s)
	case KindDecimal:
		f, err = newDecimal(s)
	case KindBool:
		f, err = newBool(s)
	case KindDateTime:
		f, err = newDateTime(s)
	case KindEnum:
		f, err = newEnum(s)
	case KindList:
		f, err = newList(s)
	case KindDict:
		f, err = newDict(s)
	case KindRef:
		f, err = newRef(s)
	case KindRefList:
		f, err = newRefList(s)
	case KindVirtual:
		f, err = newVirtual(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: default of %q: %v", ErrInvalidSpec, s.Name, err)
	}
	return f, nil
}

// MustNew is New that panics on error. Intended for static schema declarations.
func MustNew(s Spec) Field {
	f, err := New(s)
	if err != nil {
		panic(err)
	}
	return f
}
