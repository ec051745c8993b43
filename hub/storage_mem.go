package hub

import (
	"bytes"
	"errors"
	"slices"
	"sync"

	"github.com/google/btree"
)

var errStorageClosed = errors.New("storage closed")

type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
	}
	if s.closed {
		return nil, errStorageClosed
	}
	if writable {
		s.writer = true
	}

	// btree clones are copy-on-write, so snapshots are cheap
	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = &memBucket{items: b.items.Clone(), seq: b.seq}
	}
	return &memTx{base: s, writable: writable, buckets: snap}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Bucket(name string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[name]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx, b}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, errNotWritable
	}
	b := tx.buckets[name]
	if b == nil {
		b = &memBucket{items: btree.NewG(16, memLess)}
		tx.buckets[name] = b
	}
	return memBucketHandle{tx, b}, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return errNotWritable
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	defer tx.closeLocked()
	if tx.base.closed {
		return errStorageClosed
	}
	tx.base.buckets = tx.buckets
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

type memKV struct {
	key   []byte
	value []byte
}

func memLess(a, b memKV) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type memBucket struct {
	items *btree.BTreeG[memKV]
	seq   uint64
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) Get(key []byte) []byte {
	kv, ok := b.b.items.Get(memKV{key: key})
	if !ok {
		return nil
	}
	return kv.value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return errNotWritable
	}
	b.b.items.ReplaceOrInsert(memKV{slices.Clone(key), slices.Clone(value)})
	return nil
}

func (b memBucketHandle) NextSequence() (uint64, error) {
	if !b.tx.writable {
		return 0, errNotWritable
	}
	b.b.seq++
	return b.b.seq, nil
}

func (b memBucketHandle) KeyCount() int {
	return b.b.items.Len()
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{items: b.b.items}
}

// memCursor remembers the last key and re-seeks on every move.
type memCursor struct {
	items *btree.BTreeG[memKV]
	last  []byte
	done  bool
}

func (c *memCursor) First() ([]byte, []byte) {
	var found *memKV
	c.items.Ascend(func(kv memKV) bool {
		found = &kv
		return false
	})
	return c.land(found)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	var found *memKV
	c.items.AscendGreaterOrEqual(memKV{key: seek}, func(kv memKV) bool {
		found = &kv
		return false
	})
	return c.land(found)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.done {
		return nil, nil
	}
	var found *memKV
	c.items.AscendGreaterOrEqual(memKV{key: c.last}, func(kv memKV) bool {
		if bytes.Equal(kv.key, c.last) {
			return true
		}
		found = &kv
		return false
	})
	return c.land(found)
}

func (c *memCursor) land(kv *memKV) ([]byte, []byte) {
	if kv == nil {
		c.done = true
		return nil, nil
	}
	c.last = kv.key
	return kv.key, kv.value
}
