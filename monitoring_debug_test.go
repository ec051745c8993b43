package datastore

import (
	"strings"
	"testing"

	"github.com/andreyvit/datastore/field"
)

func TestStats(t *testing.T) {
	ds := must(New(Options{
		Schemas:      []*Schema{notesSchema},
		StoreID:      1,
		RestoreState: `{"notes":[{"$id":"r","body":"ab"}]}`,
	}))
	write(t, ds, "notes", TableUpdate{"n1": {"body": field.TextSplice{Text: "xyz"}, "title": "t"}})

	s := ds.Stats()
	deepEqual(t, s.StoreID, uint32(1))
	deepEqual(t, s.Version, uint64(1))
	deepEqual(t, s.Transactions, 1)
	deepEqual(t, s.Undone, 0)
	ts := s.Tables["notes"]
	deepEqual(t, ts.Records, 2)
	deepEqual(t, ts.Pinned, 1)
	deepEqual(t, ts.Elements, 5)
	deepEqual(t, ts.HistoryEntries, 1)
	deepEqual(t, ts.OldestVersion, uint64(1))
	deepEqual(t, ts.Bookkeeping(), 1)
	deepEqual(t, ds.TableStats(ds.Table(notesSchema)), ts)
}

func TestDumpFlagsAndDump(t *testing.T) {
	ds := setup(t, notesSchema)
	write(t, ds, "notes", TableUpdate{"n1": {"title": "hello"}})

	if !DumpTableHeaders.Contains(DumpTableHeaders) || DumpTableHeaders.Contains(DumpRecords) {
		t.Fatalf("DumpFlags.Contains returned unexpected results")
	}

	out := ds.Dump(DumpAll)
	for _, s := range []string{"notes (1 records)", `notes.n1 = (r1) `, `"title":"hello"`, "notes.n1.title.meta", "tx " + field.DuplexID(1, 1)} {
		if !strings.Contains(out, s) {
			t.Errorf("** Dump output missing %q; got:\n%s", s, out)
		}
	}
	out = ds.Dump(DumpTableHeaders)
	if strings.Contains(out, "hello") {
		t.Errorf("** Dump(DumpTableHeaders) includes records:\n%s", out)
	}
}
