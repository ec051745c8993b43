package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/andreyvit/datastore/field"
	"github.com/andreyvit/datastore/index"
)

// Datastore owns the tables of a set of schemas and replicates changes to
// them through an Adapter.
//
// All methods are safe for concurrent use, but at most one transaction can be
// open at a time, and remote transactions that arrive while one is open are
// processed right after it ends.
type Datastore struct {
	mu        sync.Mutex
	logger    *slog.Logger
	verbose   bool
	adapter   Adapter
	idFactory func(version uint64, storeID uint32) string

	schemas []*Schema
	tables  *index.Map[string, *Table]
	storeID uint32
	version uint64
	horizon uint64
	cem     txCemetery
	final   map[string]struct{}

	tx     *txContext
	queue  []queuedTx
	closed bool

	listenersLock sync.Mutex
	listeners     []listener
	lastListener  int
}

type Options struct {
	Schemas []*Schema

	// StoreID identifies this peer; it must be unique among peers and
	// non-zero. Create obtains one from the adapter.
	StoreID uint32

	// RestoreState is the output of String of some datastore with the same
	// schemas.
	RestoreState string

	Adapter Adapter

	// TransactionIDFactory derives transaction ids. Defaults to
	// field.DuplexID.
	TransactionIDFactory func(version uint64, storeID uint32) string

	Logger  *slog.Logger
	Verbose bool
}

type queuedTx struct {
	tx  *Transaction
	typ TransactionType
}

type listener struct {
	id int
	fn func(n Notification)
}

func New(opt Options) (*Datastore, error) {
	if errs := ValidateSchemas(opt.Schemas); len(errs) > 0 {
		return nil, &SchemaValidationError{errs}
	}
	if opt.StoreID == 0 {
		return nil, ErrReservedStoreID
	}

	ds := &Datastore{
		logger:    opt.Logger,
		verbose:   opt.Verbose,
		adapter:   opt.Adapter,
		idFactory: opt.TransactionIDFactory,
		schemas:   slices.Clone(opt.Schemas),
		tables:    index.New[string, *Table](),
		storeID:   opt.StoreID,
		cem:       make(txCemetery),
		final:     make(map[string]struct{}),
	}
	if ds.logger == nil {
		ds.logger = slog.Default()
	}
	if ds.idFactory == nil {
		ds.idFactory = field.DuplexID
	}
	ds.tables.Assign(func(yield func(string, *Table) bool) {
		for _, scm := range ds.schemas {
			if !yield(scm.id, newTable(ds, scm)) {
				return
			}
		}
	})

	if opt.RestoreState != "" {
		if err := ds.restore(opt.RestoreState); err != nil {
			return nil, err
		}
	}
	if ds.adapter != nil {
		ds.adapter.OnReceived(ds.Receive)
	}
	return ds, nil
}

// Create obtains a fresh store id from the adapter and returns a new
// datastore using it.
func Create(ctx context.Context, opt Options) (*Datastore, error) {
	if opt.Adapter == nil {
		return nil, ErrNoAdapter
	}
	storeID, err := opt.Adapter.CreateStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("create store id: %w", err)
	}
	opt.StoreID = storeID
	return New(opt)
}

func (ds *Datastore) StoreID() uint32 {
	return ds.storeID
}

func (ds *Datastore) Version() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.version
}

// Horizon returns the highest version passed to Compact.
func (ds *Datastore) Horizon() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.horizon
}

func (ds *Datastore) InTransaction() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.tx != nil
}

func (ds *Datastore) Schemas() []*Schema {
	return slices.Clone(ds.schemas)
}

// Get returns the table of the given schema id.
func (ds *Datastore) Get(schemaID string) (*Table, error) {
	tbl, ok := ds.tables.Get(schemaID)
	if !ok {
		return nil, &UnknownSchemaError{schemaID}
	}
	return tbl, nil
}

// Table returns the table of scm, panicking if the datastore does not have it.
func (ds *Datastore) Table(scm *Schema) *Table {
	return must(ds.Get(scm.id))
}

// Tables returns all tables ordered by schema id.
func (ds *Datastore) Tables() []*Table {
	return slices.Collect(ds.tables.Values())
}

// OnChange registers f to be called with every notification. Calls happen
// outside of any transaction, in registration order. The returned function
// unregisters f.
func (ds *Datastore) OnChange(f func(n Notification)) (cancel func()) {
	ds.listenersLock.Lock()
	defer ds.listenersLock.Unlock()
	ds.lastListener++
	id := ds.lastListener
	ds.listeners = append(ds.listeners, listener{id, f})
	return func() {
		ds.listenersLock.Lock()
		defer ds.listenersLock.Unlock()
		ds.listeners = slices.DeleteFunc(ds.listeners, func(l listener) bool {
			return l.id == id
		})
	}
}

func (ds *Datastore) notify(notifs []Notification) {
	if len(notifs) == 0 {
		return
	}
	ds.listenersLock.Lock()
	listeners := slices.Clone(ds.listeners)
	ds.listenersLock.Unlock()

	for _, n := range notifs {
		for _, l := range listeners {
			l.fn(n)
		}
	}
}

// Compact declares every transaction with a version at or below horizon final:
// such transactions can no longer be undone or redone, and the bookkeeping
// that only served them is dropped. Every peer must compact with the same
// horizon, and only once all transactions up to it have reached every peer.
// Returns the number of dropped entries.
func (ds *Datastore) Compact(horizon uint64) (int, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.tx != nil {
		return 0, txStateErr("Compact", ErrTransactionInProgress)
	}
	if horizon <= ds.horizon {
		return 0, nil
	}
	ds.horizon = horizon

	n := ds.cem.compact(horizon, ds.final)
	for tbl := range ds.tables.Values() {
		n += tbl.compact(horizon)
	}
	if ds.verbose {
		ds.logf(slog.LevelDebug, "datastore: compacted", slog.Uint64("horizon", horizon), slog.Int("dropped", n))
	}
	return n, nil
}

func (tbl *Table) compact(horizon uint64) int {
	var n int
	var updated []*recordState
	var ids []string
	for id, rs := range tbl.records.All() {
		var out *recordState
		for _, name := range tbl.schema.names {
			md, k := tbl.schema.fields[name].Compact(rs.meta[name], horizon)
			if k == 0 {
				continue
			}
			if out == nil {
				out = rs.clone()
			}
			out.meta[name] = md
			n += k
		}
		if out != nil {
			ids = append(ids, id)
			updated = append(updated, out)
		}
	}
	for i, id := range ids {
		tbl.records.Set(id, updated[i])
	}
	return n
}

// Close detaches the datastore from its adapter. Transactions delivered later
// are ignored.
func (ds *Datastore) Close() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.closed = true
}

func (ds *Datastore) logf(level slog.Level, msg string, attrs ...slog.Attr) {
	ds.logger.LogAttrs(context.Background(), level, msg, append(attrs, slog.Uint64("store", uint64(ds.storeID)))...)
}
