package datastore

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpMetadata
	DumpStats
	DumpCemetery

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump describes the internal state for debugging and tests.
func (ds *Datastore) Dump(f DumpFlags) string {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var buf strings.Builder
	if f.Contains(DumpStats) {
		fmt.Fprintf(&buf, "store %d: version = %d, horizon = %d, transactions = %d\n", ds.storeID, ds.version, ds.horizon, len(ds.cem))
	}
	for _, tbl := range ds.tables.All() {
		tbl.dumpLocked(&buf, f)
	}
	if f.Contains(DumpCemetery) && len(ds.cem) > 0 {
		fmt.Fprintln(&buf, dumpSep1)
		for _, id := range slices.Sorted(maps.Keys(ds.cem)) {
			e := ds.cem[id]
			fmt.Fprintf(&buf, "tx %s: count = %d, seen = %v, version = %d\n", id, e.Count, e.Seen, e.Version)
		}
	}
	return buf.String()
}

func (tbl *Table) dumpLocked(w *strings.Builder, f DumpFlags) {
	prefix := tbl.schema.id
	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", prefix, tbl.records.Len())
	}
	if f.Contains(DumpStats) {
		s := tbl.statsLocked()
		fmt.Fprintf(w, "%s.stats: pinned = %d, elements = %d, tombstones = %d, history = %d, oldest = %d\n", prefix, s.Pinned, s.Elements, s.Tombstones, s.HistoryEntries, s.OldestVersion)
	}
	if !f.Contains(DumpRecords) {
		return
	}
	if f.Contains(DumpStats) {
		fmt.Fprintln(w, dumpSep2)
	}
	for id, rs := range tbl.records.All() {
		var pin string
		if rs.pinned {
			pin = " pinned"
		}
		fmt.Fprintf(w, "%s.%s = (r%d%s) %s\n", prefix, id, rs.refs, pin, loggableRecord(rs.record()))
		if f.Contains(DumpMetadata) {
			for _, name := range tbl.schema.names {
				md := rs.meta[name]
				if md.IsEmpty() {
					continue
				}
				fmt.Fprintf(w, "%s.%s.%s.meta = %s\n", prefix, id, name, must(json.Marshal(md)))
			}
		}
	}
}
