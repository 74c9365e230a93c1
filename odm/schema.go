package odm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/grove/field"
	"github.com/jacentio/grove/store"
)

// System field names present on every entity.
const (
	FieldID       = "_id"
	FieldRef      = "_ref"
	FieldModel    = "_model"
	FieldParent   = "_parent"
	FieldDepth    = "_depth"
	FieldCreated  = "_created"
	FieldModified = "_modified"
)

// TextLanguageField is the per-document field text indexes read the search language from.
const TextLanguageField = "language_db"

// Schema describes one model. Schemas are data: an ordered list of field
// specs plus index definitions, optionally with hooks.
type Schema struct {
	Model string `yaml:"model"`

	// Collection defaults to the pluralised model name.
	Collection string `yaml:"collection,omitempty"`

	Fields  []field.Spec  `yaml:"fields"`
	Indexes []store.Index `yaml:"indexes,omitempty"`

	Hooks Hooks `yaml:"-"`
}

// Hooks customise entity behaviour per model. All are optional.
type Hooks struct {
	// Setup runs on every dispensed entity after its fields exist.
	Setup func(ctx context.Context, e *Entity) error

	// OnSet may rewrite a value before it reaches the field.
	OnSet func(e *Entity, field string, v any) (any, error)
	// OnGet may rewrite a value read from a field.
	OnGet func(e *Entity, field string, v any) (any, error)

	PreSave     func(ctx context.Context, e *Entity) error
	AfterSave   func(ctx context.Context, e *Entity, first bool) error
	PreDelete   func(ctx context.Context, e *Entity) error
	AfterDelete func(ctx context.Context, e *Entity) error
}

// CollectionName derives the default collection name of a model.
func CollectionName(model string) string {
	switch {
	case strings.HasSuffix(model, "s"), strings.HasSuffix(model, "h"):
		return model + "es"
	case strings.HasSuffix(model, "y"):
		return model[:len(model)-1] + "ies"
	default:
		return model + "s"
	}
}

// systemFields returns the specs every entity starts with.
func systemFields(model string, now time.Time) []field.Spec {
	return []field.Spec{
		{Name: FieldID, Kind: field.KindObjectID, Required: true},
		{Name: FieldRef, Kind: field.KindString, Required: true},
		{Name: FieldModel, Kind: field.KindString, Required: true, Default: model},
		{Name: FieldParent, Kind: field.KindRef, Models: []string{model}},
		{Name: FieldDepth, Kind: field.KindInteger, Default: int64(0)},
		{Name: FieldCreated, Kind: field.KindDateTime, Default: now},
		{Name: FieldModified, Kind: field.KindDateTime, Default: now},
	}
}

// collection returns the configured or derived collection name.
func (s *Schema) collection() string {
	if s.Collection != "" {
		return s.Collection
	}
	return CollectionName(s.Model)
}

// hasField reports whether name is a system or declared field.
func (s *Schema) hasField(name string) bool {
	for _, spec := range systemFields(s.Model, time.Time{}) {
		if spec.Name == name {
			return true
		}
	}
	for _, spec := range s.Fields {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// spec returns the declared or system spec for name.
func (s *Schema) spec(name string) (field.Spec, bool) {
	for _, spec := range systemFields(s.Model, time.Time{}) {
		if spec.Name == name {
			return spec, true
		}
	}
	for _, spec := range s.Fields {
		if spec.Name == name {
			return spec, true
		}
	}
	return field.Spec{}, false
}

// validate checks field specs and index definitions and returns the
// complete index list, starting with the implicit parent index.
func (s *Schema) validate() ([]store.Index, error) {
	if s.Model == "" {
		return nil, fmt.Errorf("%w: empty model name", ErrInvalidSchema)
	}
	if strings.Contains(s.Model, ":") {
		return nil, fmt.Errorf("%w: model name %q contains ':'", ErrInvalidSchema, s.Model)
	}

	seen := map[string]bool{}
	for _, spec := range systemFields(s.Model, time.Time{}) {
		seen[spec.Name] = true
	}
	for _, spec := range s.Fields {
		if seen[spec.Name] {
			return nil, &FieldError{Model: s.Model, Field: spec.Name, Err: fmt.Errorf("%w: field defined twice", ErrInvalidSchema)}
		}
		seen[spec.Name] = true
		if err := spec.Validate(); err != nil {
			return nil, &FieldError{Model: s.Model, Field: spec.Name, Err: err}
		}
	}

	indexes := []store.Index{{Keys: []store.IndexKey{{Field: FieldParent, Kind: store.Ascending}}}}
	for _, idx := range s.Indexes {
		if len(idx.Keys) == 0 {
			return nil, fmt.Errorf("%w: model %s declares an index without keys", ErrInvalidSchema, s.Model)
		}
		for _, k := range idx.Keys {
			if !seen[strings.Split(k.Field, ".")[0]] {
				return nil, &FieldError{Model: s.Model, Field: k.Field, Err: fmt.Errorf("%w: index on undefined field", ErrFieldNotDefined)}
			}
			if _, err := store.ParseIndexKind(string(k.Kind)); err != nil {
				return nil, fmt.Errorf("%w: model %s: %v", ErrInvalidSchema, s.Model, err)
			}
		}
		if idx.HasKind(store.Text) && idx.LanguageOverride == "" {
			idx.LanguageOverride = TextLanguageField
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// schemaFile is the YAML layout of a schema file.
type schemaFile struct {
	Models []Schema `yaml:"models"`
}

// LoadSchemas decodes schemas from YAML:
//
//	models:
//	  - model: page
//	    fields:
//	      - {name: title, kind: string, required: true}
//	    indexes:
//	      - keys: [{field: title, kind: text}]
func LoadSchemas(r io.Reader) ([]Schema, error) {
	var f schemaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	for i := range f.Models {
		if _, err := f.Models[i].validate(); err != nil {
			return nil, err
		}
	}
	return f.Models, nil
}
