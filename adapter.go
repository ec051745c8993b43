package datastore

import (
	"context"
)

// Adapter is the contract a transport must satisfy to connect a datastore to
// its peers.
//
// Implementations may invoke the received handler from any goroutine,
// including synchronously from within Broadcast, Undo or Redo; the datastore
// never holds its lock while calling the adapter.
type Adapter interface {
	// CreateStoreID allocates a store id that no other peer uses. Ids are
	// never 0.
	CreateStoreID(ctx context.Context) (uint32, error)

	// Broadcast sends a locally committed transaction to the other peers.
	// Delivery is best-effort; failures are the adapter's to report.
	Broadcast(tx *Transaction)

	// OnReceived registers the handler for transactions delivered by peers,
	// with the type telling whether to apply, undo or redo them.
	OnReceived(handler func(tx *Transaction, typ TransactionType))

	// Undo asks every peer, including this one, to undo a transaction.
	Undo(ctx context.Context, transactionID string) error

	// Redo asks every peer, including this one, to redo an undone transaction.
	Redo(ctx context.Context, transactionID string) error
}
