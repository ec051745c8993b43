package datastore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andreyvit/datastore/field"
)

// SchemaFile is the document format accepted by LoadSchemas. JSON documents
// are valid YAML and load the same way.
type SchemaFile []SchemaConfig

type SchemaConfig struct {
	ID     string                 `yaml:"id" json:"id"`
	Fields map[string]FieldConfig `yaml:"fields" json:"fields"`
}

type FieldConfig struct {
	Type  string `yaml:"type" json:"type"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"` // initial register value
}

// LoadSchemas parses schema definitions and validates them as a set, reporting
// every problem in a single *SchemaValidationError.
func LoadSchemas(data []byte) ([]*Schema, error) {
	var file SchemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schemas: %w", err)
	}

	var errs []string
	schemas := make([]*Schema, 0, len(file))
	for i, sc := range file {
		fields := make(map[string]field.Field, len(sc.Fields))
		for name, fc := range sc.Fields {
			f, err := fc.build()
			if err != nil {
				errs = append(errs, fmt.Sprintf("schema #%d (%s) field %q: %v", i, sc.ID, name, err))
				continue
			}
			fields[name] = f
		}
		schemas = append(schemas, NewSchema(sc.ID, fields))
	}
	errs = append(errs, ValidateSchemas(schemas)...)
	if len(errs) > 0 {
		return nil, &SchemaValidationError{errs}
	}
	return schemas, nil
}

// LoadSchemaFile reads and parses a schema definition file.
func LoadSchemaFile(path string) ([]*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schemas: %w", err)
	}
	return LoadSchemas(data)
}

func (fc FieldConfig) build() (field.Field, error) {
	kind, ok := field.ParseKind(fc.Type)
	if !ok {
		return nil, fmt.Errorf("unknown field type %q", fc.Type)
	}
	if fc.Value != nil && kind != field.KindRegister {
		return nil, fmt.Errorf("%v fields do not take an initial value", kind)
	}
	switch kind {
	case field.KindRegister:
		return &field.Register{Initial: fc.Value}, nil
	case field.KindList:
		return &field.List{}, nil
	case field.KindText:
		return &field.Text{}, nil
	case field.KindMap:
		return &field.Map{}, nil
	default:
		panic("unreachable")
	}
}
