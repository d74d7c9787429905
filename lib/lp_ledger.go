package lib

import (
	"encoding/json"
	"fmt"
)

// LPLedgerEntry is the §3 LP ledger entry: a per-(user, LP token) balance
// row. At most one row exists per (user_id, token_id) pair; the row is
// never deleted once created, only zeroed, so a caller's remove-to-zero
// still leaves a historical balance row behind (§8 boundary behavior).
type LPLedgerEntry struct {
	UserID    Principal `json:"user_id"`
	TokenID   string    `json:"token_id"`
	Amount    BigNat    `json:"amount"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// LPLedgerStore persists LPLedgerEntry rows keyed by "user:token", adapting
// the teacher's TokenRegistry single-prefix-store shape to the LP-ledger's
// composite key.
type LPLedgerStore struct {
	store *PrefixStore
}

// NewLPLedgerStore wraps the lp-ledger prefix store.
func NewLPLedgerStore(store *PrefixStore) *LPLedgerStore {
	return &LPLedgerStore{store: store}
}

func lpLedgerKey(userID Principal, tokenID string) string {
	return fmt.Sprintf("%s:%s", userID.String(), tokenID)
}

// Get loads a user's LP-ledger row for tokenID, returning a zero-amount
// entry (not an error) if the user has never held this LP token.
func (ls *LPLedgerStore) Get(userID Principal, tokenID string) (*LPLedgerEntry, error) {
	var e LPLedgerEntry
	err := ls.store.Get(lpLedgerKey(userID, tokenID), &e)
	switch err {
	case nil:
		return &e, nil
	case ErrNotFound:
		return &LPLedgerEntry{UserID: userID, TokenID: tokenID, Amount: ZeroNat()}, nil
	default:
		return nil, err
	}
}

// Credit increases userID's balance of tokenID by amount, creating the row
// on first credit, and returns the new balance.
func (ls *LPLedgerStore) Credit(userID Principal, tokenID string, amount BigNat) (BigNat, error) {
	e, err := ls.Get(userID, tokenID)
	if err != nil {
		return BigNat{}, err
	}
	now := CurrentTimestampNanos()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.Amount = e.Amount.Add(amount)
	e.UpdatedAt = now
	if err := ls.store.Put(lpLedgerKey(userID, tokenID), e); err != nil {
		return BigNat{}, err
	}
	return e.Amount, nil
}

// Debit decreases userID's balance of tokenID by amount, returning an
// invariant error if the balance would go negative — the row is retained
// with amount zero, never deleted (§8 boundary behavior).
func (ls *LPLedgerStore) Debit(userID Principal, tokenID string, amount BigNat) (BigNat, error) {
	e, err := ls.Get(userID, tokenID)
	if err != nil {
		return BigNat{}, err
	}
	newAmount, err := e.Amount.Sub(amount)
	if err != nil {
		return BigNat{}, fmt.Errorf("%w: user %s LP balance of %s underflows", ErrInvariant, userID, tokenID)
	}
	e.Amount = newAmount
	e.UpdatedAt = CurrentTimestampNanos()
	if err := ls.store.Put(lpLedgerKey(userID, tokenID), e); err != nil {
		return BigNat{}, err
	}
	return e.Amount, nil
}

// TotalSupply sums every ledger row's amount for the given LP token —
// S_tracked from §8's LP-supply invariant, used by tests and admin tooling
// to cross-check Pool.LPTotalSupply against the ledger it is derived from.
func (ls *LPLedgerStore) TotalSupply(tokenID string) (BigNat, error) {
	total := ZeroNat()
	err := ls.store.Range("", 0, func(id string, raw json.RawMessage) error {
		var e LPLedgerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if e.TokenID == tokenID {
			total = total.Add(e.Amount)
		}
		return nil
	})
	if err != nil {
		return BigNat{}, err
	}
	return total, nil
}
