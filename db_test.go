package datastore

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"testing"

	"github.com/andreyvit/datastore/field"
)

var (
	notesSchema = DefineSchema("notes", func(b *SchemaBuilder) {
		b.Register("title", "")
		b.Text("body")
		b.List("tags")
		b.Map("attrs")
	})
	todosSchema = DefineSchema("todos", func(b *SchemaBuilder) {
		b.Register("done", false)
	})
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func TestDatastore_fieldKinds(t *testing.T) {
	ds := setup(t, notesSchema)
	write(t, ds, "notes", TableUpdate{
		"n1": {
			"title": "Groceries",
			"body":  field.TextSplice{Text: "milk, eggs"},
			"tags":  field.ListSplice{Values: []any{"home", "food"}},
			"attrs": field.MapUpdate{"color": "red"},
		},
	})
	write(t, ds, "notes", TableUpdate{
		"n1": {
			"body":  []field.TextSplice{{Index: 4, Remove: 6}, {Index: 4, Text: " and bread"}},
			"tags":  field.ListSplice{Index: 0, Remove: 1},
			"attrs": field.MapUpdate{"color": nil, "pinned": true},
		},
	})

	deepEqual(t, ds.Table(notesSchema).Get("n1"), Record{
		"title": "Groceries",
		"body":  "milk and bread",
		"tags":  []any{"food"},
		"attrs": map[string]any{"pinned": true},
	})
	deepEqual(t, ds.Table(notesSchema).Len(), 1)
	isnil(t, ds.Table(notesSchema).Get("n2"))
}

func TestDatastore_transactionState(t *testing.T) {
	ds := setup(t, notesSchema)

	err := ds.Table(notesSchema).Update(TableUpdate{"n1": {"title": "x"}})
	iserr(t, err, ErrNoTransactionInProgress)
	iserr(t, ds.EndTransaction(), ErrNoTransactionInProgress)
	iserr(t, ds.AbortTransaction(), ErrNoTransactionInProgress)

	id := must(ds.BeginTransaction())
	if id == "" {
		t.Fatalf("** BeginTransaction returned empty id")
	}
	deepEqual(t, ds.InTransaction(), true)
	_, err = ds.BeginTransaction()
	iserr(t, err, ErrTransactionInProgress)
	_, err = ds.Compact(1)
	iserr(t, err, ErrTransactionInProgress)

	var tse *TransactionStateError
	if !errors.As(err, &tse) || tse.Op != "Compact" {
		t.Errorf("** got %v, wanted *TransactionStateError for Compact", err)
	}
	ensure(ds.EndTransaction())
	deepEqual(t, ds.InTransaction(), false)
}

func TestDatastore_versions(t *testing.T) {
	ds := setup(t, notesSchema)
	deepEqual(t, ds.Version(), uint64(0))
	id1 := write(t, ds, "notes", TableUpdate{"n1": {"title": "a"}})
	id2 := write(t, ds, "notes", TableUpdate{"n1": {"title": "b"}})
	deepEqual(t, ds.Version(), uint64(2))
	deepEqual(t, id1, field.DuplexID(1, 1))
	deepEqual(t, id2, field.DuplexID(2, 1))
}

func TestDatastore_abortRestoresRecords(t *testing.T) {
	ds := setup(t, notesSchema)
	write(t, ds, "notes", TableUpdate{"n1": {"title": "kept"}})
	before := ds.String()

	must(ds.BeginTransaction())
	tbl := ds.Table(notesSchema)
	ensure(tbl.Update(TableUpdate{"n1": {"title": "changed", "body": field.TextSplice{Text: "x"}}}))
	ensure(tbl.Update(TableUpdate{"n2": {"title": "new"}}))
	deepEqual(t, tbl.Get("n1")["title"], any("changed"))
	ensure(ds.AbortTransaction())

	deepEqual(t, ds.String(), before)
	deepEqual(t, tbl.Has("n2"), false)

	// the aborted transaction's bookkeeping must not leak into later edits
	write(t, ds, "notes", TableUpdate{"n1": {"body": field.TextSplice{Text: "y"}}})
	deepEqual(t, tbl.Get("n1")["body"], any("y"))
}

func TestDatastore_writeRollsBack(t *testing.T) {
	rec := &recorder{}
	ds := must(New(Options{Schemas: []*Schema{notesSchema}, StoreID: 3, Adapter: rec}))
	tbl := ds.Table(notesSchema)

	boom := errors.New("boom")
	err := ds.Write(func(tx *Tx) error {
		ensure(tx.Update("notes", TableUpdate{"n1": {"title": "x"}}))
		return boom
	})
	iserr(t, err, boom)
	deepEqual(t, tbl.Has("n1"), false)

	err = ds.Write(func(tx *Tx) error {
		ensure(tx.Update("notes", TableUpdate{"n1": {"title": "x"}}))
		panic("kaboom")
	})
	var p panicked
	if !errors.As(err, &p) || p.reason != "kaboom" {
		t.Errorf("** got %v, wanted panic error", err)
	}
	deepEqual(t, tbl.Has("n1"), false)
	deepEqual(t, ds.InTransaction(), false)
	deepEqual(t, len(rec.txs), 0)
}

func TestDatastore_updateIsAllOrNothing(t *testing.T) {
	ds := setup(t, notesSchema)
	must(ds.BeginTransaction())
	defer ds.AbortTransaction()

	tbl := ds.Table(notesSchema)
	err := tbl.Update(TableUpdate{
		"a": {"title": "fine"},
		"b": {"nope": 1},
	})
	var re *RecordError
	if !errors.As(err, &re) || re.RecordID != "b" || re.Field != "nope" {
		t.Fatalf("** got %v, wanted RecordError for b.nope", err)
	}
	deepEqual(t, tbl.Has("a"), false)

	err = tbl.Update(TableUpdate{"a": {"body": 42}})
	var ue *field.UpdateError
	if !errors.As(err, &ue) || !errors.Is(err, field.ErrInvalidUpdate) {
		t.Fatalf("** got %v, wanted field.UpdateError", err)
	}
	err = tbl.Update(TableUpdate{"": {"title": "x"}})
	if !errors.As(err, &re) {
		t.Fatalf("** got %v, wanted RecordError for empty id", err)
	}
}

func TestDatastore_rejectsValuesWithoutJSONForm(t *testing.T) {
	ds := setup(t, notesSchema)
	write(t, ds, "notes", TableUpdate{"n1": {"title": "ok"}})
	before := ds.String()

	for _, upd := range []RecordUpdate{
		{"title": math.NaN()},
		{"title": math.Inf(-1)},
		{"title": func() {}},
		{"title": uint64(math.MaxUint64)},
		{"tags": field.ListSplice{Values: []any{"a", make(chan int)}}},
		{"attrs": field.MapUpdate{"k": map[int]string{1: "x"}}},
	} {
		err := ds.Write(func(tx *Tx) error {
			return tx.Update("notes", TableUpdate{"n1": upd})
		})
		var re *RecordError
		if !errors.As(err, &re) || !errors.Is(err, field.ErrUnsupportedValue) {
			t.Errorf("** Update(%v) = %v, wanted RecordError wrapping ErrUnsupportedValue", upd, err)
		}
	}
	deepEqual(t, ds.String(), before)
}

func TestDatastore_emptyTransactionBroadcastsNothing(t *testing.T) {
	rec := &recorder{}
	ds := must(New(Options{Schemas: []*Schema{notesSchema}, StoreID: 3, Adapter: rec}))
	ensure(ds.Write(func(tx *Tx) error {
		return tx.Update("notes", TableUpdate{"n1": {"body": field.TextSplice{Index: 3}}})
	}))
	deepEqual(t, len(rec.txs), 0)
	deepEqual(t, ds.Table(notesSchema).Has("n1"), false)

	write(t, ds, "notes", TableUpdate{"n1": {"title": "x"}})
	tx := rec.last(t)
	deepEqual(t, tx.StoreID, uint32(3))
	deepEqual(t, tx.Version, uint64(2))
	deepEqual(t, tx.Patch["notes"]["n1"]["title"], field.Patch(&field.RegisterPatch{ID: field.DuplexID(2, 3), Value: "x"}))
}

func TestDatastore_notifications(t *testing.T) {
	ds := setup(t, notesSchema)
	var got []Notification
	cancel := ds.OnChange(func(n Notification) {
		got = append(got, n)
	})

	id := write(t, ds, "notes", TableUpdate{"n1": {"body": field.TextSplice{Text: "hello"}}})
	deepEqual(t, got, []Notification{{
		StoreID:       1,
		TransactionID: id,
		Type:          TypeTransaction,
		Change: TransactionChange{"notes": {"n1": {
			"body": field.TextChange{{Index: 0, Inserted: "hello"}},
		}}},
	}})

	cancel()
	write(t, ds, "notes", TableUpdate{"n1": {"title": "x"}})
	deepEqual(t, len(got), 1)
}

func TestNew_validation(t *testing.T) {
	_, err := New(Options{Schemas: []*Schema{notesSchema, notesSchema}, StoreID: 1})
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("** got %v, wanted SchemaValidationError", err)
	}
	deepEqual(t, sve.Errors, []string{`duplicate schema id "notes"`})

	_, err = New(Options{Schemas: []*Schema{notesSchema}})
	iserr(t, err, ErrReservedStoreID)

	_, err = Create(context.Background(), Options{Schemas: []*Schema{notesSchema}})
	iserr(t, err, ErrNoAdapter)
}

func TestDatastore_tables(t *testing.T) {
	ds := setup(t, todosSchema, notesSchema)
	_, err := ds.Get("missing")
	var use *UnknownSchemaError
	if !errors.As(err, &use) || use.SchemaID != "missing" {
		t.Errorf("** got %v, wanted UnknownSchemaError", err)
	}
	var ids []string
	for _, tbl := range ds.Tables() {
		ids = append(ids, tbl.ID())
	}
	deepEqual(t, ids, []string{"notes", "todos"})

	write(t, ds, "todos", TableUpdate{"b": {"done": true}, "a": {"done": false}})
	var keys []string
	for id := range ds.Table(todosSchema).All() {
		keys = append(keys, id)
	}
	deepEqual(t, keys, []string{"a", "b"})
}

func TestDatastore_undoWithoutAdapter(t *testing.T) {
	ds := setup(t, notesSchema)
	iserr(t, ds.Undo(context.Background(), "x"), ErrNoAdapter)
	iserr(t, ds.Redo(context.Background(), "x"), ErrNoAdapter)
}

func TestDatastore_closed(t *testing.T) {
	ds := setup(t, notesSchema)
	ds.Close()
	_, err := ds.BeginTransaction()
	iserr(t, err, ErrClosed)
}

func setup(t testing.TB, schemas ...*Schema) *Datastore {
	t.Helper()
	ds := must(New(Options{
		Schemas: schemas,
		StoreID: 1,
		Verbose: true,
	}))
	t.Cleanup(ds.Close)
	return ds
}

func write(t testing.TB, ds *Datastore, schemaID string, upd TableUpdate) string {
	t.Helper()
	var id string
	err := ds.Write(func(tx *Tx) error {
		id = tx.ID()
		return tx.Update(schemaID, upd)
	})
	if err != nil {
		t.Fatalf("** Write failed: %v", err)
	}
	return id
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil[M ~map[K]V, K comparable, V any](t testing.TB, a M) {
	if a != nil {
		t.Helper()
		t.Errorf("** got %v, wanted nil", a)
	}
}

func iserr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}
