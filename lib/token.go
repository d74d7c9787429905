package lib

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// TokenKind distinguishes a token backed by an external ledger canister
// from an LP token minted internally by a pool (§3 Token).
type TokenKind int

const (
	// TokenKindIC is a token whose balances live on an external IC ledger
	// canister, reached through the LedgerClient collaborator.
	TokenKindIC TokenKind = iota
	// TokenKindLP is an LP token minted and burned entirely by the
	// liquidity engine; it never leaves this process.
	TokenKindLP
)

func (k TokenKind) String() string {
	if k == TokenKindLP {
		return "LP"
	}
	return "IC"
}

// Token is the tagged variant from §3: every token in the system is either
// an IC-ledger-backed token or an LP token for some pool.
type Token struct {
	TokenID    string    `json:"token_id"`
	Kind       TokenKind `json:"kind"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Decimals   int       `json:"decimals"`
	Fee        BigNat    `json:"fee"`
	LedgerID   string    `json:"ledger_id,omitempty"`   // canister id, TokenKindIC only
	PoolID     string    `json:"pool_id,omitempty"`      // owning pool, TokenKindLP only
	TotalMint  BigNat    `json:"total_mint,omitempty"`   // TokenKindLP only; not updated by the engines, Pool.LPTotalSupply holds the live LP supply
}

// Validate checks the structural invariants every token must satisfy
// regardless of kind.
func (t *Token) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: token symbol is required", ErrInputValidation)
	}
	if t.Decimals < 0 || t.Decimals > 18 {
		return fmt.Errorf("%w: token decimals %d out of range", ErrInputValidation, t.Decimals)
	}
	switch t.Kind {
	case TokenKindIC:
		if t.LedgerID == "" {
			return fmt.Errorf("%w: IC token %s missing ledger id", ErrInputValidation, t.Symbol)
		}
	case TokenKindLP:
		if t.PoolID == "" {
			return fmt.Errorf("%w: LP token %s missing owning pool", ErrInputValidation, t.Symbol)
		}
	default:
		return fmt.Errorf("%w: unknown token kind %d", ErrInputValidation, t.Kind)
	}
	return nil
}

// CalculateTokenID derives a deterministic id for t from all of its fields
// other than TokenID, hashed with SHAKE256 — the exact
// technique the teacher's CalculateTokenID uses over a JSON-marshaled
// struct with the id field blanked out first.
func CalculateTokenID(t Token) (string, error) {
	t.TokenID = ""
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal token for id derivation: %w", err)
	}

	h := make([]byte, 16)
	sha3.ShakeSum256(h, payload)
	return fmt.Sprintf("%x", h), nil
}

// NewICToken constructs and ids a ledger-backed token.
func NewICToken(symbol, name string, decimals int, fee BigNat, ledgerID string) (*Token, error) {
	t := &Token{Kind: TokenKindIC, Symbol: symbol, Name: name, Decimals: decimals, Fee: fee, LedgerID: ledgerID}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	id, err := CalculateTokenID(*t)
	if err != nil {
		return nil, err
	}
	t.TokenID = id
	return t, nil
}

// NewLPToken constructs and ids the LP token for a newly created pool,
// matching §4.3's "pool name + LP" naming convention.
func NewLPToken(poolID, poolName string, decimals int) (*Token, error) {
	t := &Token{
		Kind:     TokenKindLP,
		Symbol:   poolName + "_LP",
		Name:     poolName + " Liquidity Provider Token",
		Decimals: decimals,
		Fee:      ZeroNat(),
		PoolID:   poolID,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	id, err := CalculateTokenID(*t)
	if err != nil {
		return nil, err
	}
	t.TokenID = id
	return t, nil
}

// TokenStore persists Token records keyed by token id, on top of the
// generic prefix store — adapting the teacher's TokenRegistry (which kept
// an in-memory map) onto durable storage.
type TokenStore struct {
	store *PrefixStore
}

// NewTokenStore wraps the tokens prefix store.
func NewTokenStore(store *PrefixStore) *TokenStore {
	return &TokenStore{store: store}
}

// Register persists a new token, rejecting a duplicate token id.
func (ts *TokenStore) Register(t *Token) error {
	var existing Token
	if err := ts.store.Get(t.TokenID, &existing); err == nil {
		return fmt.Errorf("%w: token id %s already registered", ErrDedup, t.TokenID)
	} else if err != ErrNotFound {
		return fmt.Errorf("check existing token %s: %w", t.TokenID, err)
	}
	return ts.store.Put(t.TokenID, t)
}

// Get loads a token by id.
func (ts *TokenStore) Get(tokenID string) (*Token, error) {
	var t Token
	if err := ts.store.Get(tokenID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetBySymbol scans the store for a token with the given symbol. The
// teacher's registry kept a parallel ticker->id index for this; we scan
// instead since the token set is small and this call is not on any hot
// path (only used by admin tooling and tests).
func (ts *TokenStore) GetBySymbol(symbol string) (*Token, error) {
	var found *Token
	err := ts.store.Range("", 0, func(id string, raw json.RawMessage) error {
		var t Token
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		if t.Symbol == symbol {
			found = &t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// List returns up to count tokens, starting after the given token id.
func (ts *TokenStore) List(after string, count int) ([]*Token, error) {
	var out []*Token
	err := ts.store.Range(after, count, func(id string, raw json.RawMessage) error {
		var t Token
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	})
	return out, err
}
