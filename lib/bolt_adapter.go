package lib

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltDBAdapter backs the low-churn, mostly-append-only stable stores
// (settings, users, tokens, messages — see store.go's OpenStores split)
// behind the KVStore interface store.go defines.
type BoltDBAdapter struct {
	db         *bolt.DB
	bucketName []byte
}

var errBoltBucketMissing = fmt.Errorf("%w: default bucket missing", ErrInvariant)

// NewBoltDBAdapter opens (or creates) a BoltDB-backed store at dbPath.
// BoltDB flocks the file itself, so there is no separate stale-lock check
// the way BadgerDBAdapter needs one.
func NewBoltDBAdapter(dbPath string) (*BoltDBAdapter, error) {
	fmt.Printf("[BoltDB] Opening database at %s...\n", dbPath)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db at %s: %w", dbPath, err)
	}

	bucketName := []byte("default")
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create default bucket in %s: %w", dbPath, err)
	}

	fmt.Printf("[BoltDB] Successfully opened database at %s\n", dbPath)
	return &BoltDBAdapter{db: db, bucketName: bucketName}, nil
}

// Get implements KVStore.
func (b *BoltDBAdapter) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucketName)
		if bucket == nil {
			return errBoltBucketMissing
		}
		if val := bucket.Get(key); val != nil {
			// bolt's slice is only valid for the life of the transaction
			value = make([]byte, len(val))
			copy(value, val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set implements KVStore.
func (b *BoltDBAdapter) Set(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucketName)
		if bucket == nil {
			return errBoltBucketMissing
		}
		return bucket.Put(key, value)
	})
}

// Iterator implements KVStore, returning the keys in [start, end), or every
// key with prefix start when end is nil.
func (b *BoltDBAdapter) Iterator(start, end []byte) (Iterator, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, err
	}
	bucket := tx.Bucket(b.bucketName)
	if bucket == nil {
		tx.Rollback()
		return nil, errBoltBucketMissing
	}

	return &BoltIterator{tx: tx, cursor: bucket.Cursor(), start: start, end: end, first: true}, nil
}

// Close implements KVStore.
func (b *BoltDBAdapter) Close() error {
	return b.db.Close()
}

// BoltIterator adapts bolt's bucket cursor to the Iterator interface
// store.go's PrefixStore.Range drives.
type BoltIterator struct {
	tx     *bolt.Tx
	cursor *bolt.Cursor
	start  []byte
	end    []byte
	key    []byte
	value  []byte
	first  bool
	valid  bool
}

// Valid implements Iterator.
func (bi *BoltIterator) Valid() bool {
	if bi.first {
		bi.first = false
		if bi.start == nil {
			bi.key, bi.value = bi.cursor.First()
		} else {
			bi.key, bi.value = bi.cursor.Seek(bi.start)
		}
		bi.valid = bi.key != nil
	}

	if !bi.valid {
		return false
	}
	if bi.end != nil && bi.key != nil && string(bi.key) >= string(bi.end) {
		return false
	}
	if bi.end == nil && bi.start != nil && bi.key != nil && !bytes.HasPrefix(bi.key, bi.start) {
		return false
	}
	return bi.key != nil
}

// Next implements Iterator.
func (bi *BoltIterator) Next() {
	bi.key, bi.value = bi.cursor.Next()
	bi.valid = bi.key != nil
}

// Key implements Iterator.
func (bi *BoltIterator) Key() []byte {
	if bi.key == nil {
		return nil
	}
	keyCopy := make([]byte, len(bi.key))
	copy(keyCopy, bi.key)
	return keyCopy
}

// Value implements Iterator.
func (bi *BoltIterator) Value() []byte {
	if bi.value == nil {
		return nil
	}
	valCopy := make([]byte, len(bi.value))
	copy(valCopy, bi.value)
	return valCopy
}

// Close implements Iterator, rolling back the read-only transaction the
// iterator was opened against.
func (bi *BoltIterator) Close() error {
	return bi.tx.Rollback()
}
