package datastore

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/andreyvit/datastore/field"
)

// IDKey is the reserved key under which serialized records carry their id.
const IDKey = "$id"

// Schema declares the fields of the records of one table. Schemas are
// immutable once defined.
type Schema struct {
	id     string
	fields map[string]field.Field
	names  []string
}

// NewSchema returns a schema with the given fields. Validation happens when
// the schema is handed to a datastore.
func NewSchema(id string, fields map[string]field.Field) *Schema {
	return &Schema{
		id:     id,
		fields: maps.Clone(fields),
		names:  slices.Sorted(maps.Keys(fields)),
	}
}

func (scm *Schema) ID() string {
	return scm.id
}

func (scm *Schema) String() string {
	return scm.id
}

// Field returns the named field, or nil.
func (scm *Schema) Field(name string) field.Field {
	return scm.fields[name]
}

// FieldNames returns field names in sorted order.
func (scm *Schema) FieldNames() []string {
	return slices.Clone(scm.names)
}

func reservedFieldName(name string) bool {
	return name == IDKey || strings.HasPrefix(name, "$") || strings.HasPrefix(name, "@")
}

// ValidateSchemas checks a set of schemas for use in one datastore and returns
// every problem found, or nil.
func ValidateSchemas(schemas []*Schema) []string {
	var errs []string
	seen := make(map[string]bool)
	for i, scm := range schemas {
		if scm == nil {
			errs = append(errs, fmt.Sprintf("schema #%d is nil", i))
			continue
		}
		if scm.id == "" {
			errs = append(errs, fmt.Sprintf("schema #%d has an empty id", i))
		} else if seen[scm.id] {
			errs = append(errs, fmt.Sprintf("duplicate schema id %q", scm.id))
		}
		seen[scm.id] = true

		for _, name := range scm.names {
			f := scm.fields[name]
			switch {
			case name == "":
				errs = append(errs, fmt.Sprintf("%s: empty field name", scm.id))
			case reservedFieldName(name):
				errs = append(errs, fmt.Sprintf("%s: field name %q is reserved", scm.id, name))
			}
			if f == nil {
				errs = append(errs, fmt.Sprintf("%s.%s: field is nil", scm.id, name))
				continue
			}
			for _, msg := range f.Validate() {
				errs = append(errs, fmt.Sprintf("%s.%s: %s", scm.id, name, msg))
			}
		}
	}
	return errs
}
