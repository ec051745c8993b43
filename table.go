package datastore

import (
	"iter"
	"maps"
	"slices"

	"github.com/andreyvit/datastore/field"
	"github.com/andreyvit/datastore/index"
)

type (
	// TableUpdate maps record id to the updates of that record.
	TableUpdate map[string]RecordUpdate
	// RecordUpdate maps field name to an update of the field's kind:
	// a value for registers, field.ListSplice for lists, field.TextSplice
	// for text, field.MapUpdate for maps.
	RecordUpdate map[string]any
)

// Table holds the records of one schema.
type Table struct {
	ds      *Datastore
	schema  *Schema
	records *index.Map[string, *recordState]
}

func newTable(ds *Datastore, scm *Schema) *Table {
	return &Table{
		ds:      ds,
		schema:  scm,
		records: index.New[string, *recordState](),
	}
}

func (tbl *Table) Schema() *Schema {
	return tbl.schema
}

func (tbl *Table) ID() string {
	return tbl.schema.id
}

func (tbl *Table) Len() int {
	tbl.ds.mu.Lock()
	defer tbl.ds.mu.Unlock()
	return tbl.records.Len()
}

func (tbl *Table) Has(id string) bool {
	tbl.ds.mu.Lock()
	defer tbl.ds.mu.Unlock()
	return tbl.records.Has(id)
}

// Get returns the record with the given id, or nil.
func (tbl *Table) Get(id string) Record {
	tbl.ds.mu.Lock()
	defer tbl.ds.mu.Unlock()
	rs, ok := tbl.records.Get(id)
	if !ok {
		return nil
	}
	return rs.record()
}

// All iterates over a snapshot of the records in id order.
func (tbl *Table) All() iter.Seq2[string, Record] {
	tbl.ds.mu.Lock()
	ids := slices.Collect(tbl.records.Keys())
	states := slices.Collect(tbl.records.Values())
	tbl.ds.mu.Unlock()

	return func(yield func(string, Record) bool) {
		for i, id := range ids {
			if !yield(id, states[i].record()) {
				return
			}
		}
	}
}

// Update applies local updates within the open transaction. Either every
// update of the call is applied or, on error, none is.
func (tbl *Table) Update(upd TableUpdate) error {
	ds := tbl.ds
	ds.mu.Lock()
	defer ds.mu.Unlock()
	tc := ds.tx
	if tc == nil {
		return txStateErr("Update", ErrNoTransactionInProgress)
	}

	type staged struct {
		id      string
		state   *recordState
		changes map[string]field.Change
		patches map[string]field.Patch
	}
	var pending []staged
	for _, recordID := range slices.Sorted(maps.Keys(upd)) {
		if recordID == "" {
			return recordErrf(tbl.schema.id, "", "", nil, "empty record id")
		}
		var rs *recordState
		if old, ok := tbl.records.Get(recordID); ok {
			rs = old.clone()
		} else {
			rs = newRecordState(tbl.schema)
		}

		st := staged{
			id:      recordID,
			state:   rs,
			changes: make(map[string]field.Change),
			patches: make(map[string]field.Patch),
		}
		ru := upd[recordID]
		for _, name := range slices.Sorted(maps.Keys(ru)) {
			f := tbl.schema.fields[name]
			if f == nil {
				return recordErrf(tbl.schema.id, recordID, name, nil, "unknown field")
			}
			r, err := f.ApplyUpdate(field.UpdateArgs{
				Previous: rs.values[name],
				Update:   ru[name],
				Metadata: rs.meta[name],
				Clock:    tc.clock,
			})
			if err != nil {
				return recordErrf(tbl.schema.id, recordID, name, err, "")
			}
			rs.values[name] = r.Value
			rs.meta[name] = r.Metadata
			st.changes[name] = r.Change
			st.patches[name] = r.Patch
		}
		pending = append(pending, st)
	}

	for _, st := range pending {
		touched := false
		for name, p := range st.patches {
			if p != nil && !p.IsEmpty() {
				touched = true
			}
			tc.change.add(tbl.schema.id, st.id, name, tbl.schema.fields[name], st.changes[name])
		}
		if !touched {
			continue
		}
		if _, seen := tc.patch[tbl.schema.id][st.id]; !seen {
			st.state.refs++
		}
		for name, p := range st.patches {
			tc.patch.add(tbl.schema.id, st.id, name, tbl.schema.fields[name], p)
		}
		tc.save(tbl, st.id)
		tbl.records.Set(st.id, st.state)
	}
	return nil
}

// applyPatch applies or unapplies a table patch, accumulating the resulting
// change. The patch must have passed check.
func (tbl *Table) applyPatch(tp TablePatch, version uint64, undo bool, change TransactionChange) {
	for _, recordID := range slices.Sorted(maps.Keys(tp)) {
		var rs *recordState
		if old, ok := tbl.records.Get(recordID); ok {
			rs = old.clone()
		} else {
			rs = newRecordState(tbl.schema)
		}

		rp := tp[recordID]
		for _, name := range slices.Sorted(maps.Keys(rp)) {
			f := tbl.schema.fields[name]
			args := field.PatchArgs{
				Previous: rs.values[name],
				Metadata: rs.meta[name],
				Patch:    rp[name],
				Version:  version,
			}
			var r field.PatchResult
			if undo {
				r = f.UnapplyPatch(args)
			} else {
				r = f.ApplyPatch(args)
			}
			rs.values[name] = r.Value
			rs.meta[name] = r.Metadata
			change.add(tbl.schema.id, recordID, name, f, r.Change)
		}

		if undo {
			rs.refs--
		} else {
			rs.refs++
		}
		if rs.live() {
			tbl.records.Set(recordID, rs)
		} else {
			tbl.records.Delete(recordID)
		}
	}
}

// check verifies that every field patch belongs to a field of this table.
func (tbl *Table) check(tp TablePatch) error {
	for recordID, rp := range tp {
		if recordID == "" {
			return recordErrf(tbl.schema.id, "", "", nil, "empty record id")
		}
		for name, p := range rp {
			f := tbl.schema.fields[name]
			switch {
			case f == nil:
				return recordErrf(tbl.schema.id, recordID, name, nil, "unknown field")
			case p == nil:
				return recordErrf(tbl.schema.id, recordID, name, nil, "missing patch")
			case p.Kind() != f.Kind():
				return recordErrf(tbl.schema.id, recordID, name, nil, "%v patch for %v field", p.Kind(), f.Kind())
			}
		}
	}
	return nil
}
