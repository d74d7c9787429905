package lib

import (
	"bytes"
	"sort"
	"sync"
)

// memKV is an in-memory KVStore, grounded on the teacher's tendermint.go use
// of cometbft-db's db.NewMemDB() for tests — since that dependency was
// dropped (DESIGN.md), this reimplements the same "just a sorted map" test
// double against the narrower KVStore interface this module defines.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *memKV) Close() error { return nil }

func (m *memKV) Iterator(start, end []byte) (Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		b := []byte(k)
		if start != nil && bytes.Compare(b, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(b, end) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([][2][]byte, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, [2][]byte{[]byte(k), m.data[k]})
	}
	return &memIterator{entries: entries}, nil
}

type memIterator struct {
	entries [][2][]byte
	pos     int
}

func (it *memIterator) Valid() bool { return it.pos < len(it.entries) }
func (it *memIterator) Next()       { it.pos++ }
func (it *memIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos][0]
}
func (it *memIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos][1]
}
func (it *memIterator) Close() error { return nil }

// newTestStores builds a full Stores bundle over two independent in-memory
// backends, mirroring OpenStores' primary/secondary split without touching
// disk — the fixture every engine test in this package builds on.
func newTestStores() *Stores {
	primary := newMemKV()
	secondary := newMemKV()
	return &Stores{
		Settings:  NewPrefixStore(secondary, byte(MemIDSettings)),
		Users:     NewPrefixStore(secondary, byte(MemIDUsers)),
		Tokens:    NewPrefixStore(secondary, byte(MemIDTokens)),
		Pools:     NewPrefixStore(primary, byte(MemIDPools)),
		Txs:       NewPrefixStore(primary, byte(MemIDTxs)),
		Requests:  NewPrefixStore(primary, byte(MemIDRequests)),
		Transfers: NewPrefixStore(primary, byte(MemIDTransfers)),
		Claims:    NewPrefixStore(primary, byte(MemIDClaims)),
		LPLedger:  NewPrefixStore(primary, byte(MemIDLPLedger)),
		Messages:  NewPrefixStore(secondary, byte(MemIDMessages)),
	}
}
