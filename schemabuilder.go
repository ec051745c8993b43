package datastore

import (
	"github.com/andreyvit/datastore/field"
)

type SchemaBuilder struct {
	fields map[string]field.Field
}

// DefineSchema builds a schema by calling f with a builder:
//
//	var todos = datastore.DefineSchema("todos", func(b *datastore.SchemaBuilder) {
//		b.Register("title", "")
//		b.Text("notes")
//		b.List("tags")
//	})
func DefineSchema(id string, f func(b *SchemaBuilder)) *Schema {
	b := &SchemaBuilder{
		fields: make(map[string]field.Field),
	}
	f(b)
	return NewSchema(id, b.fields)
}

func (b *SchemaBuilder) Register(name string, initial any) {
	b.fields[name] = &field.Register{Initial: initial}
}

func (b *SchemaBuilder) List(name string) {
	b.fields[name] = &field.List{}
}

// ListFunc defines a list whose splices skip replacing elements that equal
// their replacement.
func (b *SchemaBuilder) ListFunc(name string, equal func(a, b any) bool) {
	b.fields[name] = &field.List{Equal: equal}
}

func (b *SchemaBuilder) Text(name string) {
	b.fields[name] = &field.Text{}
}

func (b *SchemaBuilder) Map(name string) {
	b.fields[name] = &field.Map{}
}

// Field defines a field with an arbitrary implementation.
func (b *SchemaBuilder) Field(name string, f field.Field) {
	b.fields[name] = f
}
