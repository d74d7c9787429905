package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDBAdapter backs the high-churn stable stores (pools, txs, requests,
// transfers, claims, LP ledger — see store.go's OpenStores split) behind
// the KVStore interface store.go defines.
type BadgerDBAdapter struct {
	db *badger.DB
}

// cleanStaleLock removes the LOCK file left behind by a crashed process, so
// a restart after a hard kill doesn't get stuck behind its own old lock.
func cleanStaleLock(dbPath string) error {
	lockFile := filepath.Join(dbPath, "LOCK")
	data, err := os.ReadFile(lockFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		fmt.Printf("[BadgerDB] Warning: Invalid PID in LOCK file: %s\n", string(data))
		return os.Remove(lockFile)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Printf("[BadgerDB] Removing stale lock for dead process %d\n", pid)
		return os.Remove(lockFile)
	}

	// Signal 0 sends nothing; it only reports whether pid still exists.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		fmt.Printf("[BadgerDB] Removing stale lock for dead process %d\n", pid)
		return os.Remove(lockFile)
	}

	fmt.Printf("[BadgerDB] Lock is held by running process %d\n", pid)
	return fmt.Errorf("%w: database at %s is locked by running process %d", ErrInvariant, dbPath, pid)
}

// NewBadgerDBAdapter opens (or creates) a BadgerDB-backed store at dbPath.
func NewBadgerDBAdapter(dbPath string) (*BadgerDBAdapter, error) {
	fmt.Printf("[BadgerDB] Opening database at %s...\n", dbPath)

	if err := cleanStaleLock(dbPath); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil
	opts.BypassLockGuard = false
	opts.DetectConflicts = false // no cross-transaction conflicts: PrefixStore serializes writes itself
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db at %s: %w", dbPath, err)
	}
	fmt.Printf("[BadgerDB] Successfully opened database at %s\n", dbPath)

	return &BadgerDBAdapter{db: db}, nil
}

// Get implements KVStore.
func (b *BadgerDBAdapter) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set implements KVStore.
func (b *BadgerDBAdapter) Set(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Iterator implements KVStore, returning keys from start onward in
// ascending order. end is not checked here: PrefixStore.Range stops at the
// first key outside its prefix.
func (b *BadgerDBAdapter) Iterator(start, end []byte) (Iterator, error) {
	txn := b.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	it.Seek(start)

	return &BadgerIterator{txn: txn, it: it, end: end}, nil
}

// Close implements KVStore.
func (b *BadgerDBAdapter) Close() error {
	return b.db.Close()
}

// BadgerIterator adapts badger's transaction-scoped iterator to the
// Iterator interface store.go's PrefixStore.Range drives.
type BadgerIterator struct {
	txn *badger.Txn
	it  *badger.Iterator
	end []byte
}

// Valid implements Iterator.
func (bi *BadgerIterator) Valid() bool {
	return bi.it.Valid()
}

// Next implements Iterator.
func (bi *BadgerIterator) Next() {
	bi.it.Next()
}

// Key implements Iterator.
func (bi *BadgerIterator) Key() []byte {
	if !bi.it.Valid() {
		return nil
	}
	return bi.it.Item().KeyCopy(nil)
}

// Value implements Iterator.
func (bi *BadgerIterator) Value() []byte {
	if !bi.it.Valid() {
		return nil
	}
	val, err := bi.it.Item().ValueCopy(nil)
	if err != nil {
		return nil
	}
	return val
}

// Close implements Iterator, releasing both the iterator and its
// read-only transaction.
func (bi *BadgerIterator) Close() error {
	bi.it.Close()
	bi.txn.Discard()
	return nil
}

// Iterator is the cursor contract both backend adapters satisfy; see
// KVStore in store.go for the store-level contract it is paired with.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}
