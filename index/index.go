// Package index provides the ordered associative container used for the
// table index of a datastore and for the records of each table.
package index

import (
	"cmp"
	"iter"

	"github.com/google/btree"
)

const degree = 16

type entry[K cmp.Ordered, V any] struct {
	key   K
	value V
}

// Map is an ordered map with logarithmic lookup, insertion and removal and
// in-order iteration. The zero value is not usable; call New.
//
// Map is not safe for concurrent mutation.
type Map[K cmp.Ordered, V any] struct {
	tree *btree.BTreeG[entry[K, V]]
}

func New[K cmp.Ordered, V any]() *Map[K, V] {
	return &Map[K, V]{
		tree: btree.NewG(degree, func(a, b entry[K, V]) bool {
			return a.key < b.key
		}),
	}
}

// From builds a map from a sequence of pairs; later pairs win over earlier
// pairs with the same key.
func From[K cmp.Ordered, V any](seq iter.Seq2[K, V]) *Map[K, V] {
	m := New[K, V]()
	m.Assign(seq)
	return m
}

func (m *Map[K, V]) Len() int {
	return m.tree.Len()
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	e, ok := m.tree.Get(entry[K, V]{key: key})
	return e.value, ok
}

func (m *Map[K, V]) Has(key K) bool {
	return m.tree.Has(entry[K, V]{key: key})
}

// Set stores value under key and reports whether the key already existed.
func (m *Map[K, V]) Set(key K, value V) bool {
	_, replaced := m.tree.ReplaceOrInsert(entry[K, V]{key, value})
	return replaced
}

// Delete removes key, returning the removed value.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	e, ok := m.tree.Delete(entry[K, V]{key: key})
	return e.value, ok
}

// Assign replaces the contents of the map with the pairs of seq.
func (m *Map[K, V]) Assign(seq iter.Seq2[K, V]) {
	m.tree.Clear(false)
	for k, v := range seq {
		m.tree.ReplaceOrInsert(entry[K, V]{k, v})
	}
}

func (m *Map[K, V]) Clear() {
	m.tree.Clear(false)
}

func (m *Map[K, V]) Min() (K, V, bool) {
	e, ok := m.tree.Min()
	return e.key, e.value, ok
}

func (m *Map[K, V]) Max() (K, V, bool) {
	e, ok := m.tree.Max()
	return e.key, e.value, ok
}

// All iterates over the map in ascending key order. The map must not be
// mutated during iteration.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.tree.Ascend(func(e entry[K, V]) bool {
			return yield(e.key, e.value)
		})
	}
}

// From iterates over keys greater than or equal to start in ascending order.
func (m *Map[K, V]) From(start K) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.tree.AscendGreaterOrEqual(entry[K, V]{key: start}, func(e entry[K, V]) bool {
			return yield(e.key, e.value)
		})
	}
}

// Backward iterates over the map in descending key order.
func (m *Map[K, V]) Backward() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.tree.Descend(func(e entry[K, V]) bool {
			return yield(e.key, e.value)
		})
	}
}

func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		m.tree.Ascend(func(e entry[K, V]) bool {
			return yield(e.key)
		})
	}
}

func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		m.tree.Ascend(func(e entry[K, V]) bool {
			return yield(e.value)
		})
	}
}

// Clone returns a copy of the map. Values are copied shallowly.
func (m *Map[K, V]) Clone() *Map[K, V] {
	return &Map[K, V]{tree: m.tree.Clone()}
}
