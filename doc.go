/*
Package datastore implements a replicated in-memory datastore whose records
are made of conflict-free fields.

A Datastore holds one Table per Schema. A schema maps field names to field
kinds from package field: last-writer-wins registers and maps, and ordered
lists and text. Local edits happen inside a transaction and produce two
things: a positional change, delivered to OnChange listeners, and an
identity-based patch, broadcast to other peers through an Adapter.

# Transactions

At most one local transaction is open at a time. BeginTransaction bumps the
Lamport version, EndTransaction broadcasts the accumulated patch, and
AbortTransaction restores every touched record. Write wraps the three.

Remote transactions arrive through Receive with a type: transaction, undo or
redo. A transaction that arrives while a local one is open is queued and
processed when the local one ends. A remote transaction is applied to every
table it references or, if any table or field is missing, discarded whole.

**Transaction cemetery.**
Each transaction id has a count: the original delivery adds one, redo adds
one, undo takes one away. The patch is in effect exactly while the count is 1,
so undo and redo commute and can arrive in any order.

**Record existence.**
A record exists while at least one applied transaction touches it, or while
it is pinned by restored state.

**Compaction.**
Compact declares every version at or below a horizon final. Final
transactions cannot be undone or redone: Undo and Redo fail with
ErrFinalTransaction, and the tombstones and write histories that only served
them are dropped.

**Values.**
Register, list and map values are stored in the form field.Normalize
produces: nil, bool, string, int64, float64, []any and map[string]any.
A value reads back with the same Go type on every replica and after a
restore. Updates carrying anything else, such as NaN or a func, fail with a
RecordError.

# State

String returns a JSON document mapping schema id to its records; each record
carries its id under "$id". Passing it as Options.RestoreState rebuilds the
same observable state with deterministic metadata, so replicas restored from
the same document agree on element ids.

# Wire format

EncodeTransaction and DecodeTransaction convert transactions to MsgPack (the
default) or JSON. Patches are decoded field by field using the receiving
schemas.
*/
package datastore
