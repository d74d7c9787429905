package lib

import (
	"encoding/json"
	"fmt"
	"sync"
)

// PoolStore persists Pool records keyed by pool id, with a per-pool mutex
// held only across the in-memory mutation itself — never across a call
// into the LedgerClient — per §5's concurrency model. Adapts the teacher's
// in-memory pool_registry.go onto durable storage plus per-pool locking.
type PoolStore struct {
	store *PrefixStore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPoolStore wraps the pools prefix store.
func NewPoolStore(store *PrefixStore) *PoolStore {
	return &PoolStore{store: store, locks: make(map[string]*sync.Mutex)}
}

func (ps *PoolStore) lockFor(poolID string) *sync.Mutex {
	ps.locksMu.Lock()
	defer ps.locksMu.Unlock()
	l, ok := ps.locks[poolID]
	if !ok {
		l = &sync.Mutex{}
		ps.locks[poolID] = l
	}
	return l
}

// Register persists a brand new pool, rejecting a duplicate pool id or an
// existing pool for the same unordered token pair.
func (ps *PoolStore) Register(p *Pool) error {
	var existing Pool
	if err := ps.store.Get(p.PoolID, &existing); err == nil {
		return fmt.Errorf("%w: pool id %s already registered", ErrDedup, p.PoolID)
	} else if err != ErrNotFound {
		return fmt.Errorf("check existing pool %s: %w", p.PoolID, err)
	}

	if dup, err := ps.FindByTokens(p.Token0ID, p.Token1ID); err == nil && dup != nil {
		return fmt.Errorf("%w: pool for %s/%s already exists as %s", ErrDedup, p.Token0ID, p.Token1ID, dup.PoolID)
	}

	return ps.store.Put(p.PoolID, p)
}

// Get loads a pool by id.
func (ps *PoolStore) Get(poolID string) (*Pool, error) {
	var p Pool
	if err := ps.store.Get(poolID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByTokens scans for a pool holding the given unordered token pair.
func (ps *PoolStore) FindByTokens(tokenA, tokenB string) (*Pool, error) {
	var found *Pool
	err := ps.store.Range("", 0, func(id string, raw json.RawMessage) error {
		var p Pool
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if (p.Token0ID == tokenA && p.Token1ID == tokenB) || (p.Token0ID == tokenB && p.Token1ID == tokenA) {
			found = &p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns up to count pools, starting after the given pool id.
func (ps *PoolStore) List(after string, count int) ([]*Pool, error) {
	var out []*Pool
	err := ps.store.Range(after, count, func(id string, raw json.RawMessage) error {
		var p Pool
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}

// WithPool re-reads the authoritative pool state, runs mutate while holding
// the pool's mutex, and writes the result back — the narrow, single-pool
// critical section described in §5: never held across an external call,
// only across the in-memory read-mutate-write.
func (ps *PoolStore) WithPool(poolID string, mutate func(p *Pool) error) (*Pool, error) {
	lock := ps.lockFor(poolID)
	lock.Lock()
	defer lock.Unlock()

	p, err := ps.Get(poolID)
	if err != nil {
		return nil, err
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := ps.store.Put(p.PoolID, p); err != nil {
		return nil, fmt.Errorf("write back pool %s: %w", poolID, err)
	}
	return p, nil
}
