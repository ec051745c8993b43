package datastore

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := dataErrf([]byte{1, 2, 3}, base, "cannot decode")
	if !errors.Is(err, base) {
		t.Fatalf("errors.Is(DataError, base) = false, wanted true")
	}
	deepEqual(t, err.Error(), "cannot decode: boom: (3) 010203")

	long := make([]byte, 200)
	msg := dataErrf(long, nil, "x").Error()
	if !strings.HasPrefix(msg, "x: (200) ") || !strings.Contains(msg, "...") {
		t.Fatalf("DataError = %q, wanted truncated data", msg)
	}
}

func TestRecordError(t *testing.T) {
	base := errors.New("boom")
	deepEqual(t, recordErrf("notes", "n1", "title", base, "bad").Error(), "notes/n1.title: bad: boom")
	deepEqual(t, recordErrf("notes", "n1", "title", base, "").Error(), "notes/n1.title: boom")
	deepEqual(t, recordErrf("notes", "", "", nil, "empty record id").Error(), "notes: empty record id")
	if !errors.Is(recordErrf("notes", "n1", "", base, "x"), base) {
		t.Errorf("** RecordError does not unwrap")
	}
}

func TestSchemaValidationError(t *testing.T) {
	deepEqual(t, (&SchemaValidationError{[]string{"a"}}).Error(), "invalid schema: a")
	deepEqual(t, (&SchemaValidationError{[]string{"a", "b"}}).Error(), "2 schema errors: a; b")
}
