package datastore

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
)

var errUnknownTx = errors.New("unknown transaction")

// testBus connects datastores in memory. Every transaction travels encoded, so
// peers see exactly what a real transport would hand them.
type testBus struct {
	t      testing.TB
	enc    Encoding
	manual bool

	mu          sync.Mutex
	lastStoreID uint32
	txs         map[string][]byte
	peers       []*testPeer
}

type delivery struct {
	data []byte
	typ  TransactionType
}

type testPeer struct {
	bus     *testBus
	schemas []*Schema
	handler func(*Transaction, TransactionType)
	inbox   []delivery
}

func newBus(t testing.TB, manual bool) *testBus {
	return &testBus{t: t, enc: MsgPack, manual: manual, txs: make(map[string][]byte)}
}

func (bus *testBus) peer(schemas ...*Schema) *testPeer {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	p := &testPeer{bus: bus, schemas: schemas}
	bus.peers = append(bus.peers, p)
	return p
}

// open creates a datastore connected to the bus.
func (bus *testBus) open(schemas ...*Schema) *Datastore {
	bus.t.Helper()
	return must(Create(context.Background(), Options{
		Schemas: schemas,
		Adapter: bus.peer(schemas...),
	}))
}

func (p *testPeer) CreateStoreID(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.bus.lastStoreID++
	return p.bus.lastStoreID, nil
}

func (p *testPeer) Broadcast(tx *Transaction) {
	data := must(EncodeTransaction(tx, p.bus.enc))
	bus := p.bus
	bus.mu.Lock()
	bus.txs[tx.ID] = data
	for _, q := range bus.peers {
		if q != p {
			q.inbox = append(q.inbox, delivery{data, TypeTransaction})
		}
	}
	bus.mu.Unlock()
	if !bus.manual {
		bus.flush()
	}
}

func (p *testPeer) OnReceived(handler func(*Transaction, TransactionType)) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.handler = handler
}

func (p *testPeer) Undo(ctx context.Context, id string) error {
	return p.bus.publish(ctx, id, TypeUndo)
}

func (p *testPeer) Redo(ctx context.Context, id string) error {
	return p.bus.publish(ctx, id, TypeRedo)
}

func (bus *testBus) publish(ctx context.Context, id string, typ TransactionType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bus.mu.Lock()
	data, ok := bus.txs[id]
	if ok {
		for _, q := range bus.peers {
			q.inbox = append(q.inbox, delivery{data, typ})
		}
	}
	bus.mu.Unlock()
	if !ok {
		return errUnknownTx
	}
	if !bus.manual {
		bus.flush()
	}
	return nil
}

// flush delivers everything pending, peer by peer, in send order.
func (bus *testBus) flush() {
	for bus.step(func(n int) int { return 0 }, func(n int) int { return 0 }) {
	}
}

// shuffle delivers everything pending in a random order across and within
// peers.
func (bus *testBus) shuffle(rnd *rand.Rand) {
	for bus.step(rnd.IntN, rnd.IntN) {
	}
}

func (bus *testBus) step(pickPeer, pickMsg func(n int) int) bool {
	bus.mu.Lock()
	var ready []*testPeer
	for _, p := range bus.peers {
		if p.handler != nil && len(p.inbox) > 0 {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		bus.mu.Unlock()
		return false
	}
	p := ready[pickPeer(len(ready))]
	i := pickMsg(len(p.inbox))
	d := p.inbox[i]
	p.inbox = append(p.inbox[:i:i], p.inbox[i+1:]...)
	handler := p.handler
	bus.mu.Unlock()

	tx, err := DecodeTransaction(d.data, bus.enc, p.schemas...)
	if err != nil {
		bus.t.Fatalf("** failed to decode delivered transaction: %v", err)
	}
	handler(tx, d.typ)
	return true
}

// recorder is an adapter that only records broadcasts and undo/redo requests.
type recorder struct {
	txs      []*Transaction
	requests []string
	handler  func(*Transaction, TransactionType)
}

func (r *recorder) CreateStoreID(ctx context.Context) (uint32, error) { return 7, nil }
func (r *recorder) Broadcast(tx *Transaction) { r.txs = append(r.txs, tx) }

func (r *recorder) Undo(ctx context.Context, id string) error {
	r.requests = append(r.requests, "undo "+id)
	return nil
}

func (r *recorder) Redo(ctx context.Context, id string) error {
	r.requests = append(r.requests, "redo "+id)
	return nil
}

func (r *recorder) OnReceived(handler func(*Transaction, TransactionType)) {
	r.handler = handler
}

func (r *recorder) last(t testing.TB) *Transaction {
	t.Helper()
	if len(r.txs) == 0 {
		t.Fatalf("** no transaction broadcast")
	}
	return r.txs[len(r.txs)-1]
}
