package datastore

import (
	"maps"

	"github.com/andreyvit/datastore/field"
)

// Record is the observable value of one record, keyed by field name. Values
// are shared with the datastore and must not be mutated.
type Record map[string]any

// recordState is the stored form of a record. States are replaced, never
// mutated, once stored in a table.
type recordState struct {
	values map[string]any
	meta   map[string]field.Metadata

	// refs counts the applied transactions that touched the record. A record
	// exists while refs > 0 or while it is pinned by restored state.
	refs   int
	pinned bool
}

func newRecordState(scm *Schema) *recordState {
	rs := &recordState{
		values: make(map[string]any, len(scm.names)),
		meta:   make(map[string]field.Metadata, len(scm.names)),
	}
	for _, name := range scm.names {
		f := scm.fields[name]
		rs.values[name] = f.CreateValue()
		rs.meta[name] = f.CreateMetadata()
	}
	return rs
}

func (rs *recordState) clone() *recordState {
	return &recordState{
		values: maps.Clone(rs.values),
		meta:   maps.Clone(rs.meta),
		refs:   rs.refs,
		pinned: rs.pinned,
	}
}

func (rs *recordState) live() bool {
	return rs.refs > 0 || rs.pinned
}

func (rs *recordState) record() Record {
	return Record(maps.Clone(rs.values))
}
