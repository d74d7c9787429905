package lib

import "errors"

// Sentinel error categories from §7. They are wrapped with %w so callers can
// test for them with errors.Is; the engines do not branch on them when
// choosing a compensation path. ErrLiquidityMath is
// declared in bignat.go alongside the arithmetic it guards.
var (
	// ErrInputValidation marks a request that failed validation before any
	// external call was made — safe to reject outright, nothing to unwind.
	ErrInputValidation = errors.New("input validation")

	// ErrExternalTransfer marks a failure returned by (or in communicating
	// with) the token-ledger client — the point at which a claim may need
	// to be recorded.
	ErrExternalTransfer = errors.New("external transfer")

	// ErrInvariant marks a violation of an internal invariant (pool
	// balances, LP supply, status-machine transition) that should never
	// happen if the engine is correct; surfaced distinctly from ordinary
	// validation failures so it can be alerted on.
	ErrInvariant = errors.New("invariant violation")

	// ErrDedup marks a rejected duplicate: a request/transfer/tx that
	// collides with one already recorded under the same dedup key.
	ErrDedup = errors.New("duplicate request")
)
