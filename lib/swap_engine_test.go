package lib

import (
	"context"
	"testing"
)

// newTestSwapEngine sets up a SwapEngine plus a single AAA/BBB pool with
// 1_000_000/1_000_000 reserves and a 30bps LP fee, 10bps protocol fee.
func newTestSwapEngine(t *testing.T) (*SwapEngine, *Pool, *FakeLedgerClient, *Token, *Token) {
	t.Helper()
	liq, _, ledger, tokenA, tokenB := newTestLiquidityEngine(t)

	owner := testPrincipal(9)
	ledger.Credit(tokenA.TokenID, owner.DefaultAccount(), nat(1_000_000))
	ledger.Credit(tokenB.TokenID, owner.DefaultAccount(), nat(1_000_000))
	_, pool, err := liq.AddPool(context.Background(), owner, tokenA.TokenID, tokenB.TokenID, nat(1_000_000), nat(1_000_000), 30, 10)
	if err != nil {
		t.Fatalf("AddPool: %v", err)
	}

	swap := &SwapEngine{
		Pools:     liq.Pools,
		Tokens:    liq.Tokens,
		Requests:  liq.Requests,
		Transfers: liq.Transfers,
		Claims:    liq.Claims,
		Txs:       liq.Txs,
		Settings:  liq.Settings,
		Ledger:    ledger,
	}
	return swap, pool, ledger, tokenA, tokenB
}

func TestSwapSingleLegSplitsFeesIntoPool(t *testing.T) {
	swap, pool, ledger, tokenA, tokenB := newTestSwapEngine(t)
	trader := testPrincipal(3)
	ledger.Credit(tokenA.TokenID, trader.DefaultAccount(), nat(10_000))

	req, legs, err := swap.Swap(context.Background(), trader, []string{tokenA.TokenID, tokenB.TokenID}, nat(10_000), nat(1))
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if req.Status != RequestStatusSuccess {
		t.Fatalf("request status: got %s, want success", req.Status)
	}
	if len(legs) != 1 {
		t.Fatalf("expected 1 leg, got %d", len(legs))
	}
	leg := legs[0]
	if want := "30"; leg.LPFee.String() != want { // 10_000 * 30bps = 30
		t.Errorf("LPFee: got %s, want %s", leg.LPFee.String(), want)
	}
	if want := "10"; leg.ProtocolFee.String() != want { // 10_000 * 10bps = 10
		t.Errorf("ProtocolFee: got %s, want %s", leg.ProtocolFee.String(), want)
	}

	updated, err := swap.Pools.Get(pool.PoolID)
	if err != nil {
		t.Fatalf("Pools.Get: %v", err)
	}
	// balance_0 should only have grown by (amountIn - totalFee), the fee
	// itself tracked separately in lp_fee_0, not folded into balance_0.
	wantBalance0 := nat(1_000_000).Add(nat(10_000)).SaturatingSub(nat(40))
	if updated.Balance0.Cmp(wantBalance0) != 0 {
		t.Errorf("Balance0: got %s, want %s", updated.Balance0.String(), wantBalance0.String())
	}
	if got := updated.LPFee0.String(); got != "30" {
		t.Errorf("LPFee0: got %s, want 30", got)
	}
	// reserve0 (balance+fee) grows by amountIn minus the protocol-fee share
	// that leaves the pool entirely: 10_000 - 10 = 9_990.
	if got := updated.Reserve0().String(); got != "1009990" {
		t.Errorf("Reserve0: got %s, want 1009990", got)
	}

	if got := ledger.Balance(tokenB.TokenID, trader.DefaultAccount()); got.IsZero() {
		t.Error("trader should have received nonzero output")
	}
}

func TestSwapRejectsBelowMinAmountOutAndRefunds(t *testing.T) {
	swap, _, ledger, tokenA, tokenB := newTestSwapEngine(t)
	trader := testPrincipal(3)
	ledger.Credit(tokenA.TokenID, trader.DefaultAccount(), nat(10_000))

	// Ask for an absurdly high minimum; the swap must be rejected and the
	// caller's input refunded rather than stranded in the pool vault.
	req, _, err := swap.Swap(context.Background(), trader, []string{tokenA.TokenID, tokenB.TokenID}, nat(10_000), nat(1_000_000))
	if err == nil {
		t.Fatal("expected error when output falls below minAmountOut")
	}
	if req.Status != RequestStatusFailed {
		t.Fatalf("request status: got %s, want failed", req.Status)
	}
	if got := ledger.Balance(tokenA.TokenID, trader.DefaultAccount()); got.String() != "10000" {
		t.Errorf("trader balance after refund: got %s, want 10000 (fully refunded)", got.String())
	}
}

func TestSwapRejectsUnknownPath(t *testing.T) {
	swap, _, ledger, tokenA, _ := newTestSwapEngine(t)
	trader := testPrincipal(3)
	ledger.Credit(tokenA.TokenID, trader.DefaultAccount(), nat(10_000))

	_, _, err := swap.Swap(context.Background(), trader, []string{tokenA.TokenID, "no-such-token"}, nat(10_000), nat(1))
	if err == nil {
		t.Fatal("expected error for a path with no matching pool")
	}
	// No funds should have been pulled since path validation happens before
	// any ledger call.
	if got := ledger.Balance(tokenA.TokenID, trader.DefaultAccount()); got.String() != "10000" {
		t.Errorf("trader balance: got %s, want untouched 10000", got.String())
	}
}

// TestSwapRollsBackAndRefundsOnPayoutFailure covers §4.4's rollback rule: a
// payout transfer failure must reverse the pool mutations the swap already
// made and refund the trader's original input, with no claim recorded when
// that refund succeeds.
func TestSwapRollsBackAndRefundsOnPayoutFailure(t *testing.T) {
	swap, pool, ledger, tokenA, tokenB := newTestSwapEngine(t)
	trader := testPrincipal(3)
	ledger.Credit(tokenA.TokenID, trader.DefaultAccount(), nat(10_000))

	ledger.FailNext("Transfer:"+tokenB.TokenID, errSimulatedLedgerFailure)

	req, _, err := swap.Swap(context.Background(), trader, []string{tokenA.TokenID, tokenB.TokenID}, nat(10_000), nat(1))
	if err == nil {
		t.Fatal("expected error when the payout transfer fails")
	}
	if req.Status != RequestStatusFailed {
		t.Fatalf("request status: got %s, want failed", req.Status)
	}

	// The pay-side input comes back to the trader in full (the test tokens
	// carry a zero ledger fee), since the refund itself succeeds.
	if got := ledger.Balance(tokenA.TokenID, trader.DefaultAccount()); got.String() != "10000" {
		t.Errorf("trader tokenA balance after rollback: got %s, want 10000 (fully refunded)", got.String())
	}
	if got := ledger.Balance(tokenB.TokenID, trader.DefaultAccount()); !got.IsZero() {
		t.Errorf("trader tokenB balance: got %s, want 0 (payout never landed)", got.String())
	}

	claims, listErr := swap.Claims.ListUnclaimed()
	if listErr != nil {
		t.Fatalf("ListUnclaimed: %v", listErr)
	}
	if len(claims) != 0 {
		t.Fatalf("expected no claim when the refund itself succeeds, got %d", len(claims))
	}

	updated, err := swap.Pools.Get(pool.PoolID)
	if err != nil {
		t.Fatalf("Pools.Get: %v", err)
	}
	if updated.Balance0.Cmp(nat(1_000_000)) != 0 || updated.Balance1.Cmp(nat(1_000_000)) != 0 {
		t.Errorf("pool balances: got (%s,%s), want rolled back to (1000000,1000000)", updated.Balance0, updated.Balance1)
	}
	if !updated.LPFee0.IsZero() {
		t.Errorf("LPFee0: got %s, want 0 (rolled back)", updated.LPFee0)
	}
}
