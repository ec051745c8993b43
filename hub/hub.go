// Package hub is a reference server adapter for package datastore. It keeps
// an append-only log of transactions and undo/redo requests, in Bolt or in
// memory, and replays the log to every connected peer.
//
// A peer sees every logged event exactly once, in log order, except for its
// own transactions. Undo and redo requests go to every peer, including the
// one that asked. Peers that connect late replay the whole log, so a fresh
// datastore catches up with the others.
package hub

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/datastore"
)

var (
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrClosed             = errors.New("hub closed")
	ErrDisconnected       = errors.New("peer disconnected")
)

const (
	metaBucket   = "meta"
	txBucket     = "tx"
	eventsBucket = "events"
)

type Options struct {
	// Path of the Bolt file. Empty keeps the log in memory.
	Path string

	Encoding datastore.Encoding

	// Manual disables delivery on Broadcast, Undo and Redo; peers only
	// receive events when Fetch is called.
	Manual bool

	Logger  *slog.Logger
	Verbose bool

	// IsTesting relaxes durability of the Bolt file.
	IsTesting bool
}

type Hub struct {
	store   storage
	enc     datastore.Encoding
	manual  bool
	logger  *slog.Logger
	verbose bool

	mu     sync.Mutex
	peers  []*Peer
	closed bool
}

type event struct {
	Type   datastore.TransactionType `msgpack:"t"`
	TxID   string                    `msgpack:"id"`
	Origin uint32                    `msgpack:"o"`
}

func Open(opt Options) (*Hub, error) {
	h := &Hub{
		enc:     opt.Encoding,
		manual:  opt.Manual,
		logger:  opt.Logger,
		verbose: opt.Verbose,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if opt.Path == "" {
		h.store = newMemStorage()
	} else {
		var err error
		h.store, err = openBoltStorage(opt.Path, opt.IsTesting)
		if err != nil {
			return nil, err
		}
	}

	err := update(h.store, func(tx storageTx) error {
		for _, name := range []string{metaBucket, txBucket, eventsBucket} {
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.store.Close()
		return nil, fmt.Errorf("hub: preparing buckets: %w", err)
	}
	return h, nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.peers = nil
	h.mu.Unlock()
	return h.store.Close()
}

// Connect registers a peer that decodes transactions with the given schemas.
// The peer starts at the beginning of the log.
func (h *Hub) Connect(schemas ...*datastore.Schema) *Peer {
	p := &Peer{hub: h, schemas: slices.Clone(schemas)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.peers = append(h.peers, p)
	}
	return p
}

type Stats struct {
	Transactions int
	Events       int
	Peers        int
}

func (h *Hub) Stats() (Stats, error) {
	h.mu.Lock()
	s := Stats{Peers: len(h.peers)}
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return s, ErrClosed
	}
	err := view(h.store, func(tx storageTx) error {
		s.Transactions = tx.Bucket(txBucket).KeyCount()
		s.Events = tx.Bucket(eventsBucket).KeyCount()
		return nil
	})
	return s, err
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) allocateStoreID() (uint32, error) {
	var id uint64
	err := update(h.store, func(tx storageTx) error {
		var err error
		id, err = tx.Bucket(metaBucket).NextSequence()
		return err
	})
	if err != nil {
		return 0, err
	}
	if id > uint64(^uint32(0)) {
		return 0, errors.New("hub: store ids exhausted")
	}
	return uint32(id), nil
}

// logEvent logs an event, storing data as the transaction body when non-nil.
// Undo and redo of unknown transactions fail with ErrUnknownTransaction.
func (h *Hub) logEvent(ev event, data []byte) (uint64, error) {
	var seq uint64
	err := update(h.store, func(tx storageTx) error {
		txb := tx.Bucket(txBucket)
		if data != nil {
			if err := txb.Put([]byte(ev.TxID), data); err != nil {
				return err
			}
		} else if txb.Get([]byte(ev.TxID)) == nil {
			return fmt.Errorf("%w %s", ErrUnknownTransaction, ev.TxID)
		}

		evb := tx.Bucket(eventsBucket)
		var err error
		seq, err = evb.NextSequence()
		if err != nil {
			return err
		}
		raw, err := msgpack.Marshal(&ev)
		if err != nil {
			return err
		}
		return evb.Put(seqKey(seq), raw)
	})
	return seq, err
}

type pending struct {
	seq  uint64
	ev   event
	data []byte
}

// load returns the events after seq together with their transaction bodies.
func (h *Hub) load(after uint64) ([]pending, error) {
	var result []pending
	err := view(h.store, func(tx storageTx) error {
		txb := tx.Bucket(txBucket)
		c := tx.Bucket(eventsBucket).Cursor()
		for k, v := c.Seek(seqKey(after + 1)); k != nil; k, v = c.Next() {
			var ev event
			if err := msgpack.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("hub: corrupted event %x: %w", k, err)
			}
			data := txb.Get([]byte(ev.TxID))
			if data == nil {
				return fmt.Errorf("hub: event %x references missing transaction %s", k, ev.TxID)
			}
			result = append(result, pending{
				seq:  binary.BigEndian.Uint64(k),
				ev:   ev,
				data: slices.Clone(data),
			})
		}
		return nil
	})
	return result, err
}

// deliverAll fetches for every connected peer.
func (h *Hub) deliverAll() {
	h.mu.Lock()
	peers := slices.Clone(h.peers)
	h.mu.Unlock()
	for _, p := range peers {
		if _, err := p.Fetch(context.Background()); err != nil && !errors.Is(err, ErrDisconnected) && !errors.Is(err, ErrClosed) {
			h.logger.LogAttrs(context.Background(), slog.LevelError, "hub: delivery failed", slog.Uint64("peer", uint64(p.StoreID())), slog.Any("err", err))
		}
	}
}

func (h *Hub) request(ctx context.Context, id string, typ datastore.TransactionType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.isClosed() {
		return ErrClosed
	}
	seq, err := h.logEvent(event{Type: typ, TxID: id}, nil)
	if err != nil {
		return err
	}
	if h.verbose {
		h.logger.LogAttrs(ctx, slog.LevelDebug, "hub: logged", slog.String("type", typ.String()), slog.String("tx", id), slog.Uint64("seq", seq))
	}
	if !h.manual {
		h.deliverAll()
	}
	return nil
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}
