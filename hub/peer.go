package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/andreyvit/datastore"
)

// Peer is the datastore.Adapter of one connected datastore.
type Peer struct {
	hub     *Hub
	schemas []*datastore.Schema

	mu           sync.Mutex
	storeID      uint32
	handler      func(*datastore.Transaction, datastore.TransactionType)
	cursor       uint64
	disconnected bool
}

var _ datastore.Adapter = (*Peer)(nil)

func (p *Peer) StoreID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storeID
}

func (p *Peer) CreateStoreID(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.hub.isClosed() {
		return 0, ErrClosed
	}
	id, err := p.hub.allocateStoreID()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	if p.storeID == 0 {
		p.storeID = id
	}
	p.mu.Unlock()
	return id, nil
}

// UseStoreID tells the hub which store id the peer's datastore uses, for
// datastores created with an explicit id.
func (p *Peer) UseStoreID(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storeID = id
}

func (p *Peer) OnReceived(handler func(*datastore.Transaction, datastore.TransactionType)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

func (p *Peer) Broadcast(tx *datastore.Transaction) {
	h := p.hub
	log := func(msg string, err error) {
		h.logger.LogAttrs(context.Background(), slog.LevelError, msg, slog.String("tx", tx.ID), slog.Any("err", err))
	}
	if h.isClosed() {
		log("hub: broadcast after close", ErrClosed)
		return
	}
	data, err := datastore.EncodeTransaction(tx, h.enc)
	if err != nil {
		log("hub: cannot encode transaction", err)
		return
	}
	seq, err := h.logEvent(event{Type: datastore.TypeTransaction, TxID: tx.ID, Origin: tx.StoreID}, data)
	if err != nil {
		log("hub: cannot log transaction", err)
		return
	}
	if h.verbose {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "hub: logged", slog.String("type", "transaction"), slog.String("tx", tx.ID), slog.Uint64("seq", seq), slog.Int("size", len(data)))
	}
	if !h.manual {
		h.deliverAll()
	}
}

func (p *Peer) Undo(ctx context.Context, id string) error {
	return p.hub.request(ctx, id, datastore.TypeUndo)
}

func (p *Peer) Redo(ctx context.Context, id string) error {
	return p.hub.request(ctx, id, datastore.TypeRedo)
}

// Fetch delivers the events logged since the previous fetch and returns how
// many reached the datastore. The peer's own transactions are skipped. Once
// loaded, a batch is delivered in full even if ctx is cancelled meanwhile.
func (p *Peer) Fetch(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.hub.isClosed() {
		return 0, ErrClosed
	}

	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return 0, ErrDisconnected
	}
	if p.handler == nil {
		p.mu.Unlock()
		return 0, nil
	}
	events, err := p.hub.load(p.cursor)
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	if len(events) > 0 {
		p.cursor = events[len(events)-1].seq
	}
	handler, storeID := p.handler, p.storeID
	p.mu.Unlock()

	var n int
	for i, e := range events {
		if e.ev.Type == datastore.TypeTransaction && storeID != 0 && e.ev.Origin == storeID {
			continue
		}
		tx, err := datastore.DecodeTransaction(e.data, p.hub.enc, p.schemas...)
		if err != nil {
			p.hub.logger.LogAttrs(ctx, slog.LevelWarn, "hub: skipping undecodable transaction", slog.String("tx", e.ev.TxID), slog.Any("err", err))
			continue
		}
		if p.hub.verbose {
			p.hub.logger.LogAttrs(ctx, slog.LevelDebug, "hub: delivering", slog.Uint64("peer", uint64(storeID)), slog.String("type", e.ev.Type.String()), slog.String("tx", tx.ID), slog.Int("remaining", len(events)-i-1))
		}
		handler(tx, e.ev.Type)
		n++
	}
	return n, nil
}

// Pending returns the number of logged events the peer has not fetched yet.
func (p *Peer) Pending() (int, error) {
	p.mu.Lock()
	cursor := p.cursor
	p.mu.Unlock()
	events, err := p.hub.load(cursor)
	return len(events), err
}

// Disconnect detaches the peer; later fetches fail with ErrDisconnected.
func (p *Peer) Disconnect() {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()

	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, q := range h.peers {
		if q == p {
			h.peers = append(h.peers[:i:i], h.peers[i+1:]...)
			break
		}
	}
}
