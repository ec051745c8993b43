package datastore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// String serializes the observable state as a JSON object mapping schema id
// to the array of its records; each record carries its id under IDKey. The
// output can be passed as Options.RestoreState.
func (ds *Datastore) String() string {
	return string(ds.appendState(nil))
}

// MarshalJSON returns the same document as String.
func (ds *Datastore) MarshalJSON() ([]byte, error) {
	return ds.appendState(nil), nil
}

// Fingerprint hashes the observable state. Converged replicas have equal
// fingerprints.
func (ds *Datastore) Fingerprint() uint64 {
	return xxhash.Sum64(ds.appendState(nil))
}

func (ds *Datastore) appendState(buf []byte) []byte {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	b := bytes.NewBuffer(buf)
	b.WriteByte('{')
	first := true
	for schemaID, tbl := range ds.tables.All() {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.Write(must(json.Marshal(schemaID)))
		b.WriteString(":[")
		i := 0
		for id, rs := range tbl.records.All() {
			if i > 0 {
				b.WriteByte(',')
			}
			i++
			obj := rs.record()
			obj[IDKey] = id
			b.Write(must(json.Marshal(map[string]any(obj))))
		}
		b.WriteByte(']')
	}
	b.WriteByte('}')
	return b.Bytes()
}

// restore loads serialized state into empty tables. Restored metadata is
// derived deterministically from the values, so replicas restoring the same
// state can exchange patches.
func (ds *Datastore) restore(state string) error {
	var doc map[string][]map[string]any
	dec := json.NewDecoder(strings.NewReader(state))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return dataErrf([]byte(state), err, "failed to decode restore state")
	}

	for _, schemaID := range slices.Sorted(maps.Keys(doc)) {
		tbl, ok := ds.tables.Get(schemaID)
		if !ok {
			return fmt.Errorf("restore state: %w", &UnknownSchemaError{schemaID})
		}
		for i, obj := range doc[schemaID] {
			id, _ := obj[IDKey].(string)
			if id == "" {
				return recordErrf(schemaID, "", "", nil, "restore state: record #%d has no %s", i, IDKey)
			}
			if tbl.records.Has(id) {
				return recordErrf(schemaID, id, "", nil, "restore state: duplicate record")
			}
			rs := newRecordState(tbl.schema)
			rs.pinned = true
			for name, v := range obj {
				if name == IDKey {
					continue
				}
				f := tbl.schema.fields[name]
				if f == nil {
					return recordErrf(schemaID, id, name, nil, "restore state: unknown field")
				}
				value, md, err := f.Restore(v)
				if err != nil {
					return recordErrf(schemaID, id, name, err, "restore state")
				}
				rs.values[name] = value
				rs.meta[name] = md
			}
			tbl.records.Set(id, rs)
		}
	}
	return nil
}
