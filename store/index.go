package store

import (
	"fmt"
	"strings"
)

// IndexKind is the kind of a single index key.
type IndexKind string

const (
	Ascending  IndexKind = "asc"
	Descending IndexKind = "desc"
	Text       IndexKind = "text"
	Geo2D      IndexKind = "2d"
	GeoSphere  IndexKind = "2dsphere"
)

// ParseIndexKind accepts the kind names plus the numeric forms 1 and -1.
func ParseIndexKind(s string) (IndexKind, error) {
	switch strings.ToLower(s) {
	case "asc", "ascending", "1":
		return Ascending, nil
	case "desc", "descending", "-1":
		return Descending, nil
	case "text":
		return Text, nil
	case "2d", "geo2d":
		return Geo2D, nil
	case "2dsphere", "geosphere":
		return GeoSphere, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidIndex, s)
}

// Value is the key value in a native index specification.
func (k IndexKind) Value() any {
	switch k {
	case Ascending:
		return int32(1)
	case Descending:
		return int32(-1)
	}
	return string(k)
}

// IndexKey is one (field, kind) pair of an index.
type IndexKey struct {
	Field string    `yaml:"field"`
	Kind  IndexKind `yaml:"kind"`
}

// Index describes a secondary index.
type Index struct {
	Keys   []IndexKey `yaml:"keys"`
	Name   string     `yaml:"name,omitempty"`
	Unique bool       `yaml:"unique,omitempty"`

	// LanguageOverride names the per-document field holding the text-search language.
	LanguageOverride string `yaml:"language_override,omitempty"`
}

// DefaultName derives a name in the conventional "field_1_other_-1" form.
func (i Index) DefaultName() string {
	parts := make([]string, 0, len(i.Keys)*2)
	for _, k := range i.Keys {
		parts = append(parts, k.Field, fmt.Sprint(k.Kind.Value()))
	}
	return strings.Join(parts, "_")
}

// IndexName returns Name, or DefaultName when unset.
func (i Index) IndexName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.DefaultName()
}

// HasKind reports whether any key of the index has kind k.
func (i Index) HasKind(k IndexKind) bool {
	for _, key := range i.Keys {
		if key.Kind == k {
			return true
		}
	}
	return false
}

// IDIndexName is the name of the implicit identifier index, which is never dropped.
const IDIndexName = "_id_"
