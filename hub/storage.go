package hub

import "errors"

var errNotWritable = errors.New("storage tx not writable")

// storage is the key-value backend of the hub log: Bolt on disk, or an
// in-memory copy-on-write tree.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error
}

type storageBucket interface {
	// Get returns nil if the key is not found.
	Get(key []byte) []byte
	Put(key, value []byte) error

	// NextSequence returns a persistent per-bucket counter, starting at 1.
	NextSequence() (uint64, error)

	Cursor() storageCursor
	KeyCount() int
}

type storageCursor interface {
	First() (key, value []byte)
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}

func view(s storage, f func(tx storageTx) error) error {
	tx, err := s.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func update(s storage, f func(tx storageTx) error) error {
	tx, err := s.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}
