package datastore

import (
	"errors"
	"testing"

	"github.com/andreyvit/datastore/field"
)

func TestEncoding_roundTrip(t *testing.T) {
	for _, enc := range []Encoding{MsgPack, JSON} {
		t.Run(enc.String(), func(t *testing.T) {
			rec := &recorder{}
			src := must(New(Options{Schemas: []*Schema{notesSchema, todosSchema}, StoreID: 1, Adapter: rec}))
			dst := setupStore(t, 2, notesSchema, todosSchema)

			ensure(src.Write(func(tx *Tx) error {
				ensure(tx.Update("todos", TableUpdate{"t1": {"done": true}}))
				return tx.Update("notes", TableUpdate{"n1": {
					"title": "hello",
					"body":  field.TextSplice{Text: "héllo wörld"},
					"tags":  field.ListSplice{Values: []any{"a", "b", "c"}},
					"attrs": field.MapUpdate{"k": "v", "gone": nil},
				}})
			}))
			write(t, src, "notes", TableUpdate{"n1": {
				"body": field.TextSplice{Index: 1, Remove: 1, Text: "e"},
				"tags": field.ListSplice{Index: 1, Remove: 1},
			}})

			for _, tx := range rec.txs {
				data := must(EncodeTransaction(tx, enc))
				decoded := must(dst.DecodeTransaction(data, enc))
				deepEqual(t, decoded.ID, tx.ID)
				deepEqual(t, decoded.StoreID, tx.StoreID)
				deepEqual(t, decoded.Version, tx.Version)
				dst.Receive(decoded, TypeTransaction)
			}
			converged(t, src, dst)

			data := must(EncodeTransaction(rec.txs[0], enc))
			dst.Receive(must(dst.DecodeTransaction(data, enc)), TypeUndo)
			deepEqual(t, dst.Table(todosSchema).Has("t1"), false)
		})
	}
}

func TestEncoding_msgpackIsDeterministic(t *testing.T) {
	rec := &recorder{}
	src := must(New(Options{Schemas: []*Schema{notesSchema}, StoreID: 1, Adapter: rec}))
	write(t, src, "notes", TableUpdate{"n1": {"attrs": field.MapUpdate{"b": "1", "a": "2", "c": "3"}}})
	tx := rec.last(t)
	first := must(EncodeTransaction(tx, MsgPack))
	for range 10 {
		deepEqual(t, must(EncodeTransaction(tx, MsgPack)), first)
	}
}

func TestEncoding_unknownFieldsDiscardTransaction(t *testing.T) {
	dst := setupStore(t, 2, notesSchema)
	id := field.DuplexID(5, 9)
	data := []byte(`{"id":"` + id + `","storeId":9,"version":5,"patch":{"notes":{"n1":{"color":{"id":"` + id + `","value":"red"},"title":{"id":"` + id + `","value":"x"}}}}}`)

	tx := must(DecodeTransaction(data, JSON, notesSchema))
	if p, ok := tx.Patch["notes"]["n1"]["color"]; !ok || p != nil {
		t.Fatalf("** got %v, wanted nil patch for unknown field", p)
	}
	dst.Receive(tx, TypeTransaction)
	deepEqual(t, dst.Table(notesSchema).Has("n1"), false)
	deepEqual(t, dst.Version(), uint64(5))

	tx = must(DecodeTransaction(data, JSON))
	deepEqual(t, tx.Patch["notes"]["n1"]["title"], nil)
}

func TestEncoding_malformed(t *testing.T) {
	tests := []struct {
		enc  Encoding
		data string
	}{
		{MsgPack, "\xc1"},
		{JSON, `{"id":`},
		{JSON, `{"id":"x","patch":{"notes":{"n1":{"title":"plain"}}}}`},
		{JSON, `{"id":"x","patch":{"notes":{"n1":{"title":{"id":"bad id","value":1}}}}}`},
		{JSON, `{"id":"x","patch":{"notes":{"n1":{"tags":{}}}}}`},
	}
	for _, tt := range tests {
		_, err := DecodeTransaction([]byte(tt.data), tt.enc, notesSchema)
		var de *DataError
		if !errors.As(err, &de) {
			t.Errorf("** DecodeTransaction(%q) = %v, wanted DataError", tt.data, err)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	deepEqual(t, must(ParseEncoding("json")), JSON)
	deepEqual(t, must(ParseEncoding("msgpack")), MsgPack)
	deepEqual(t, must(ParseEncoding("")), DefaultEncoding)
	_, err := ParseEncoding("xml")
	if err == nil {
		t.Errorf("** ParseEncoding(xml) succeeded")
	}
}
