package lib

import (
	"encoding/json"
	"fmt"
)

// TxKind tags which of the five operations a Tx records, matching §3's
// tagged Tx variant.
type TxKind string

const (
	TxKindAddPool         TxKind = "add_pool"
	TxKindAddLiquidity    TxKind = "add_liquidity"
	TxKindRemoveLiquidity TxKind = "remove_liquidity"
	TxKindSwap            TxKind = "swap"
	TxKindSend            TxKind = "send"
)

// Tx is the §3 Tx entity: one immutable, monotonically-keyed record of a
// completed operation, independent of the Request that triggered it and
// the Transfers that carried out its external movements. This is the
// record the replication worker (§4.11) drains into Postgres.
type Tx struct {
	TxID      string  `json:"tx_id"`
	Kind      TxKind  `json:"kind"`
	RequestID string  `json:"request_id"`
	PoolID    string  `json:"pool_id,omitempty"`
	Token0ID  string  `json:"token_0_id,omitempty"`
	Token1ID  string  `json:"token_1_id,omitempty"`
	Amount0   BigNat  `json:"amount_0"`
	Amount1   BigNat  `json:"amount_1"`
	// LPFee0/LPFee1 record, for remove_liquidity only, the portion of each
	// amount drawn from the pool's accumulated LP fees rather than its raw
	// balance (§4.3 step 1: "record both parts ... as amount_i and
	// lp_fee_i"). Zero for every other Tx kind.
	LPFee0    BigNat    `json:"lp_fee_0,omitempty"`
	LPFee1    BigNat    `json:"lp_fee_1,omitempty"`
	LPAmount  BigNat  `json:"lp_amount"`
	Legs      []SwapLeg `json:"legs,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// TxStore persists Tx records keyed by tx id.
type TxStore struct {
	store *PrefixStore
}

// NewTxStore wraps the txs prefix store.
func NewTxStore(store *PrefixStore) *TxStore {
	return &TxStore{store: store}
}

// Create persists a brand new tx record. A tx id collision is an invariant
// violation: tx ids are allocated by a single monotonic counter and are
// never reused.
func (ts *TxStore) Create(tx *Tx) error {
	var existing Tx
	if err := ts.store.Get(tx.TxID, &existing); err == nil {
		return fmt.Errorf("%w: tx id %s already recorded", ErrInvariant, tx.TxID)
	} else if err != ErrNotFound {
		return fmt.Errorf("check existing tx %s: %w", tx.TxID, err)
	}
	return ts.store.Put(tx.TxID, tx)
}

// Get loads a tx record by id.
func (ts *TxStore) Get(txID string) (*Tx, error) {
	var tx Tx
	if err := ts.store.Get(txID, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// List returns up to count tx records, starting after the given tx id —
// the read path the replication worker drains on each tick.
func (ts *TxStore) List(after string, count int) ([]*Tx, error) {
	var out []*Tx
	err := ts.store.Range(after, count, func(id string, raw json.RawMessage) error {
		var tx Tx
		if err := json.Unmarshal(raw, &tx); err != nil {
			return err
		}
		out = append(out, &tx)
		return nil
	})
	return out, err
}
