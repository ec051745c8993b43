package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"

	"github.com/andreyvit/datastore/field"
)

// txContext is the bookkeeping of the open local transaction.
type txContext struct {
	id      string
	version uint64
	clock   *field.Clock
	change  TransactionChange
	patch   TransactionPatch

	// saved holds the state of every modified record from before the
	// transaction; nil means the record did not exist.
	saved map[*Table]map[string]*recordState
}

func (tc *txContext) save(tbl *Table, recordID string) {
	m := tc.saved[tbl]
	if m == nil {
		m = make(map[string]*recordState)
		tc.saved[tbl] = m
	}
	if _, ok := m[recordID]; ok {
		return
	}
	old, _ := tbl.records.Get(recordID)
	m[recordID] = old
}

// Tx is handed to the function passed to Write.
type Tx struct {
	ds *Datastore
	id string
}

func (tx *Tx) ID() string {
	return tx.id
}

func (tx *Tx) Datastore() *Datastore {
	return tx.ds
}

func (tx *Tx) Table(schemaID string) (*Table, error) {
	return tx.ds.Get(schemaID)
}

// Update applies updates to the records of the given table.
func (tx *Tx) Update(schemaID string, upd TableUpdate) error {
	tbl, err := tx.ds.Get(schemaID)
	if err != nil {
		return err
	}
	return tbl.Update(upd)
}

// Write runs f in a transaction. If f returns an error or panics, everything
// it did is discarded and nothing is broadcast.
func (ds *Datastore) Write(f func(tx *Tx) error) error {
	id, err := ds.BeginTransaction()
	if err != nil {
		return err
	}
	err = safelyCall(f, &Tx{ds, id})
	if err != nil {
		ensure(ds.AbortTransaction())
		return err
	}
	return ds.EndTransaction()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

// BeginTransaction opens a local transaction and returns its id.
func (ds *Datastore) BeginTransaction() (string, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return "", ErrClosed
	}
	if ds.tx != nil {
		return "", txStateErr("BeginTransaction", ErrTransactionInProgress)
	}
	ds.version++
	ds.tx = &txContext{
		id:      ds.idFactory(ds.version, ds.storeID),
		version: ds.version,
		clock:   field.NewClock(ds.version, ds.storeID),
		change:  make(TransactionChange),
		patch:   make(TransactionPatch),
		saved:   make(map[*Table]map[string]*recordState),
	}
	return ds.tx.id, nil
}

// EndTransaction commits the open transaction: broadcasts its patch, emits
// its notification, then processes remote transactions queued meanwhile.
func (ds *Datastore) EndTransaction() error {
	ds.mu.Lock()
	tc := ds.tx
	if tc == nil {
		ds.mu.Unlock()
		return txStateErr("EndTransaction", ErrNoTransactionInProgress)
	}
	ds.tx = nil

	var txn *Transaction
	if !tc.patch.IsEmpty() {
		txn = &Transaction{
			ID:      tc.id,
			StoreID: ds.storeID,
			Version: tc.version,
			Patch:   tc.patch,
		}
		e := ds.cem.entry(tc.id, tc.version)
		e.Seen = true
		e.Count = 1
	}
	var notifs []Notification
	if !tc.change.IsEmpty() {
		notifs = append(notifs, Notification{
			StoreID:       ds.storeID,
			TransactionID: tc.id,
			Type:          TypeTransaction,
			Change:        tc.change,
		})
	}
	notifs = append(notifs, ds.flushQueueLocked()...)
	adapter := ds.adapter
	ds.mu.Unlock()

	if txn != nil {
		if ds.verbose {
			ds.logf(slog.LevelDebug, "datastore: committed", slog.String("tx", txn.ID), slog.Uint64("version", txn.Version))
		}
		if adapter != nil {
			adapter.Broadcast(txn)
		}
	}
	ds.notify(notifs)
	return nil
}

// AbortTransaction discards the open transaction. Nothing is broadcast.
func (ds *Datastore) AbortTransaction() error {
	ds.mu.Lock()
	tc := ds.tx
	if tc == nil {
		ds.mu.Unlock()
		return txStateErr("AbortTransaction", ErrNoTransactionInProgress)
	}
	ds.tx = nil
	for tbl, saved := range tc.saved {
		for id, old := range saved {
			if old == nil {
				tbl.records.Delete(id)
			} else {
				tbl.records.Set(id, old)
			}
		}
	}
	notifs := ds.flushQueueLocked()
	ds.mu.Unlock()

	ds.notify(notifs)
	return nil
}

// Undo asks the adapter to undo a transaction on every peer. The datastore
// changes once the adapter delivers the undo back. Transactions made final by
// Compact fail with ErrFinalTransaction and never reach the adapter.
func (ds *Datastore) Undo(ctx context.Context, transactionID string) error {
	if ds.adapter == nil {
		return ErrNoAdapter
	}
	if err := ds.checkNotFinal("Undo", transactionID); err != nil {
		return err
	}
	return ds.adapter.Undo(ctx, transactionID)
}

// Redo asks the adapter to redo an undone transaction on every peer.
func (ds *Datastore) Redo(ctx context.Context, transactionID string) error {
	if ds.adapter == nil {
		return ErrNoAdapter
	}
	if err := ds.checkNotFinal("Redo", transactionID); err != nil {
		return err
	}
	return ds.adapter.Redo(ctx, transactionID)
}

func (ds *Datastore) checkNotFinal(op, transactionID string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.final[transactionID]; ok {
		return txStateErr(op, fmt.Errorf("%w: %s", ErrFinalTransaction, transactionID))
	}
	return nil
}

// Receive processes a transaction delivered by a peer. The adapter passed in
// Options calls it automatically.
func (ds *Datastore) Receive(txn *Transaction, typ TransactionType) {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return
	}
	if ds.tx != nil {
		ds.queue = append(ds.queue, queuedTx{txn, typ})
		ds.mu.Unlock()
		return
	}
	n, ok := ds.processLocked(txn, typ)
	ds.mu.Unlock()

	if ok {
		ds.notify([]Notification{n})
	}
}

func (ds *Datastore) flushQueueLocked() []Notification {
	var notifs []Notification
	for len(ds.queue) > 0 {
		q := ds.queue[0]
		ds.queue = ds.queue[1:]
		if n, ok := ds.processLocked(q.tx, q.typ); ok {
			notifs = append(notifs, n)
		}
	}
	ds.queue = nil
	return notifs
}

// processLocked merges a remote transaction into the tables. The transaction
// is either applied to every table it references or discarded.
func (ds *Datastore) processLocked(txn *Transaction, typ TransactionType) (Notification, bool) {
	ds.version = max(ds.version, txn.Version)

	if txn.Version <= ds.horizon {
		ds.logf(slog.LevelWarn, "datastore: discarding final transaction",
			slog.String("tx", txn.ID), slog.String("type", typ.String()), slog.Uint64("version", txn.Version), slog.Uint64("horizon", ds.horizon))
		return Notification{}, false
	}

	schemaIDs := slices.Sorted(maps.Keys(txn.Patch))
	tables := make([]*Table, len(schemaIDs))
	for i, schemaID := range schemaIDs {
		tbl, ok := ds.tables.Get(schemaID)
		if !ok {
			err := &MissingTableError{txn.ID, schemaID}
			ds.logf(slog.LevelWarn, "datastore: discarding remote transaction", slog.String("type", typ.String()), slog.Any("err", err))
			return Notification{}, false
		}
		if err := tbl.check(txn.Patch[schemaID]); err != nil {
			ds.logf(slog.LevelWarn, "datastore: discarding remote transaction",
				slog.String("tx", txn.ID), slog.String("type", typ.String()), slog.Any("err", err))
			return Notification{}, false
		}
		tables[i] = tbl
	}

	var undo bool
	switch ds.cem.transition(txn.ID, txn.Version, typ) {
	case 1:
		undo = false
	case -1:
		undo = true
	default:
		if ds.verbose {
			ds.logf(slog.LevelDebug, "datastore: remote transaction has no effect",
				slog.String("tx", txn.ID), slog.String("type", typ.String()), slog.Int("count", ds.cem[txn.ID].Count))
		}
		return Notification{}, false
	}

	change := make(TransactionChange)
	for i, tbl := range tables {
		tbl.applyPatch(txn.Patch[schemaIDs[i]], txn.Version, undo, change)
	}
	if ds.verbose {
		ds.logf(slog.LevelDebug, "datastore: remote transaction processed",
			slog.String("tx", txn.ID), slog.String("type", typ.String()), slog.Uint64("version", txn.Version), slog.Bool("undo", undo))
	}
	if change.IsEmpty() {
		return Notification{}, false
	}
	return Notification{
		StoreID:       txn.StoreID,
		TransactionID: txn.ID,
		Type:          typ,
		Change:        change,
	}, true
}
