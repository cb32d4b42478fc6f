// Package schema describes the per-field layout of a memory index:
// collection type, whether postings carry interleaved counters, and
// the grouping of URI sub-fields.
package schema

import (
	"errors"
	"fmt"
)

// Collection describes how a field's values are combined into postings.
type Collection int

const (
	// Single means the field carries exactly one value per document.
	Single Collection = iota
	// Array means the field carries an ordered list of values.
	Array
	// WeightedSet means the field carries values with explicit element weights.
	WeightedSet
)

func (c Collection) String() string {
	switch c {
	case Single:
		return "single"
	case Array:
		return "array"
	case WeightedSet:
		return "weighted_set"
	default:
		return "unknown"
	}
}

// Schema limits.
const (
	MaxFieldsPerSchema = 256
	MaxFieldNameLength = 255
)

var reservedFieldNames = map[string]bool{
	"_id":     true,
	"_score":  true,
	"_source": true,
}

var (
	ErrFieldLimit        = errors.New("schema exceeds maximum field count")
	ErrReservedField     = errors.New("field name is reserved")
	ErrDuplicateField    = errors.New("duplicate field name")
	ErrFieldNameTooLong  = errors.New("field name exceeds maximum length")
	ErrUnknownURISubname = errors.New("unknown URI sub-field name")
)

// URISubfields names the seven sub-streams a URI field group fans out to,
// plus the sandwiched hostname stream (§4.4.2).
type URISubfields struct {
	All      string
	Scheme   string
	Host     string
	Port     string
	Path     string
	Query    string
	Fragment string
	Hostname string
}

// FieldDef is one field descriptor (§6 Schema).
type FieldDef struct {
	Name                   string
	Collection             Collection
	UseInterleavedFeatures bool

	// URI is non-nil when this field is a URI field group; when set, Name
	// names the group and URI enumerates its seven sub-field ids plus the
	// hostname stream.
	URI *URISubfields
}

// IsURIGroup reports whether this field is a URI field group.
func (f FieldDef) IsURIGroup() bool {
	return f.URI != nil
}

// Schema is an ordered list of field descriptors.
type Schema struct {
	Fields []FieldDef
}

// FieldID returns the index into Fields for the given name, or -1.
func (s *Schema) FieldID(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field returns the field descriptor for name and whether it was found.
func (s *Schema) Field(name string) (FieldDef, bool) {
	i := s.FieldID(name)
	if i < 0 {
		return FieldDef{}, false
	}
	return s.Fields[i], true
}

// Validate checks the schema for correctness: field count, reserved and
// duplicate names, name length, and well-formed URI field groups.
func (s *Schema) Validate() error {
	if len(s.Fields) > MaxFieldsPerSchema {
		return fmt.Errorf("%w: %d fields (max %d)", ErrFieldLimit, len(s.Fields), MaxFieldsPerSchema)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if reservedFieldNames[f.Name] {
			return fmt.Errorf("%w: %q", ErrReservedField, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		seen[f.Name] = true

		if len(f.Name) > MaxFieldNameLength {
			return fmt.Errorf("%w: %q (%d bytes, max %d)", ErrFieldNameTooLong, f.Name, len(f.Name), MaxFieldNameLength)
		}

		if f.IsURIGroup() {
			if err := f.URI.validate(); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	}

	return nil
}

func (u *URISubfields) validate() error {
	for _, name := range []string{u.All, u.Scheme, u.Host, u.Port, u.Path, u.Query, u.Fragment, u.Hostname} {
		if name == "" {
			return fmt.Errorf("%w: empty sub-field name", ErrUnknownURISubname)
		}
	}
	return nil
}
