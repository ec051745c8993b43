package datastore

import (
	"encoding/json"

	"github.com/andreyvit/datastore/field"
)

type TableStats struct {
	Records int
	Pinned  int

	// Elements counts visible list and text elements.
	Elements int
	// Tombstones counts element cemetery entries.
	Tombstones int
	// HistoryEntries counts register and map writes kept for undo.
	HistoryEntries int

	// OldestVersion is the lowest transaction version still referenced by
	// element ids, tombstones or histories, or 0 when nothing is referenced.
	OldestVersion uint64
}

// Bookkeeping returns the number of entries Compact could eventually drop.
func (ts *TableStats) Bookkeeping() int {
	return ts.Tombstones + ts.HistoryEntries
}

type Stats struct {
	StoreID uint32
	Version uint64
	Horizon uint64

	// Transactions counts cemetery entries; Undone counts those currently
	// not in effect.
	Transactions int
	Undone       int

	Tables map[string]TableStats
}

func (ds *Datastore) Stats() Stats {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	s := Stats{
		StoreID:      ds.storeID,
		Version:      ds.version,
		Horizon:      ds.horizon,
		Transactions: len(ds.cem),
		Tables:       make(map[string]TableStats, ds.tables.Len()),
	}
	for _, e := range ds.cem {
		if e.Count != 1 {
			s.Undone++
		}
	}
	for id, tbl := range ds.tables.All() {
		s.Tables[id] = tbl.statsLocked()
	}
	return s
}

func (ds *Datastore) TableStats(tbl *Table) TableStats {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return tbl.statsLocked()
}

func (tbl *Table) statsLocked() TableStats {
	var ts TableStats
	seen := func(v uint64) {
		if v != 0 && (ts.OldestVersion == 0 || v < ts.OldestVersion) {
			ts.OldestVersion = v
		}
	}
	history := func(md *field.RegisterMetadata) {
		ts.HistoryEntries += len(md.IDs)
		for _, id := range md.IDs {
			v, _, _ := field.ParseDuplexID(id)
			seen(v)
		}
	}
	sequence := func(ids []string, cem field.Cemetery) {
		ts.Elements += len(ids)
		ts.Tombstones += len(cem)
		for _, id := range ids {
			seen(field.IDVersion(id))
		}
		for _, t := range cem {
			seen(t.Version)
		}
	}

	for rs := range tbl.records.Values() {
		ts.Records++
		if rs.pinned {
			ts.Pinned++
		}
		for _, md := range rs.meta {
			if md.IsEmpty() {
				continue
			}
			switch md := md.(type) {
			case *field.RegisterMetadata:
				history(md)
			case *field.MapMetadata:
				for _, kmd := range md.Keys {
					history(kmd)
				}
			case *field.ListMetadata:
				sequence(md.IDs, md.Cemetery)
			case *field.TextMetadata:
				sequence(md.IDs, md.Cemetery)
			}
		}
	}
	return ts
}

func loggableRecord(rec Record) string {
	if rec == nil {
		return "<none>"
	}
	return string(must(json.Marshal(map[string]any(rec))))
}
