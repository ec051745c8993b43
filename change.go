package datastore

import (
	"fmt"

	"github.com/andreyvit/datastore/field"
)

type (
	// TransactionPatch maps schema id to the patches of that table.
	TransactionPatch map[string]TablePatch
	// TablePatch maps record id to the patches of that record.
	TablePatch map[string]RecordPatch
	// RecordPatch maps field name to the field's patch.
	RecordPatch map[string]field.Patch

	TransactionChange map[string]TableChange
	TableChange       map[string]RecordChange
	RecordChange      map[string]field.Change

	TransactionType int
)

const (
	TypeTransaction TransactionType = iota
	TypeUndo
	TypeRedo
)

// Transaction is the unit exchanged between peers.
type Transaction struct {
	ID      string           `json:"id" msgpack:"id"`
	StoreID uint32           `json:"storeId" msgpack:"storeId"`
	Version uint64           `json:"version" msgpack:"version"`
	Patch   TransactionPatch `json:"patch" msgpack:"patch"`
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("%s(v%d@%d)", tx.ID, tx.Version, tx.StoreID)
}

// Notification is emitted once per local or remote transaction that changed
// something observable.
type Notification struct {
	StoreID       uint32            `json:"storeId"`
	TransactionID string            `json:"transactionId"`
	Type          TransactionType   `json:"type"`
	Change        TransactionChange `json:"change"`
}

func (v TransactionType) String() string {
	switch v {
	case TypeTransaction:
		return "transaction"
	case TypeUndo:
		return "undo"
	case TypeRedo:
		return "redo"
	default:
		return fmt.Sprintf("invalid transaction type %d", int(v))
	}
}

func (v TransactionType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *TransactionType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "transaction":
		*v = TypeTransaction
	case "undo":
		*v = TypeUndo
	case "redo":
		*v = TypeRedo
	default:
		return fmt.Errorf("invalid transaction type %q", b)
	}
	return nil
}

func (p TransactionPatch) IsEmpty() bool {
	return len(p) == 0
}

func (c TransactionChange) IsEmpty() bool {
	return len(c) == 0
}

// add merges fp into the accumulated patch of one field.
func (p TransactionPatch) add(schemaID, recordID, name string, f field.Field, fp field.Patch) {
	if fp == nil || fp.IsEmpty() {
		return
	}
	tp := p[schemaID]
	if tp == nil {
		tp = make(TablePatch)
		p[schemaID] = tp
	}
	rp := tp[recordID]
	if rp == nil {
		rp = make(RecordPatch)
		tp[recordID] = rp
	}
	if prev, ok := rp[name]; ok {
		fp = f.MergePatch(prev, fp)
	}
	rp[name] = fp
}

func (c TransactionChange) add(schemaID, recordID, name string, f field.Field, fc field.Change) {
	if fc == nil || fc.IsEmpty() {
		return
	}
	tc := c[schemaID]
	if tc == nil {
		tc = make(TableChange)
		c[schemaID] = tc
	}
	rc := tc[recordID]
	if rc == nil {
		rc = make(RecordChange)
		tc[recordID] = rc
	}
	if prev, ok := rc[name]; ok {
		fc = f.MergeChange(prev, fc)
	}
	rc[name] = fc
}
