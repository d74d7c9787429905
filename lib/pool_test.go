package lib

import "testing"

func nat(n uint64) BigNat { return NatFromUint64(n) }

func TestCalculateBootstrapLiquidity(t *testing.T) {
	// Equal decimals: sqrt(100 * 400) = sqrt(40000) = 200.
	liq, err := CalculateBootstrapLiquidity(nat(100), nat(400), 8, 8, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "200"; liq.LPMinted.String() != want {
		t.Errorf("LPMinted: got %s, want %s", liq.LPMinted.String(), want)
	}
}

func TestCalculateBootstrapLiquidityRescalesAcrossDecimals(t *testing.T) {
	// token0 at 6 decimals, token1 at 8 decimals, LP at 8 decimals:
	// amount0 rescaled 6->8 multiplies by 100, so the product must use the
	// rescaled values, not the raw ones.
	liq, err := CalculateBootstrapLiquidity(nat(1_000_000), nat(1_000_000_00), 6, 8, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rescaled0 = 1_000_000 * 100 = 100_000_000; rescaled1 = 100_000_000
	// sqrt(100_000_000 * 100_000_000) = 100_000_000
	if want := "100000000"; liq.LPMinted.String() != want {
		t.Errorf("LPMinted: got %s, want %s", liq.LPMinted.String(), want)
	}
}

func TestCalculateBootstrapLiquidityRejectsZero(t *testing.T) {
	if _, err := CalculateBootstrapLiquidity(ZeroNat(), nat(100), 8, 8, 8); err == nil {
		t.Fatal("expected error for zero amount0")
	}
	if _, err := CalculateBootstrapLiquidity(nat(100), ZeroNat(), 8, 8, 8); err == nil {
		t.Fatal("expected error for zero amount1")
	}
}

func basePool() *Pool {
	return &Pool{
		PoolID:        "pool-1",
		Token0ID:      "tok0",
		Token1ID:      "tok1",
		Balance0:      nat(1000),
		Balance1:      nat(2000),
		LPTokenID:     "lp-1",
		LPTotalSupply: nat(1000),
	}
}

func TestReserveIncludesAccumulatedFee(t *testing.T) {
	p := basePool()
	p.LPFee0 = nat(50)
	p.LPFee1 = nat(25)
	if got := p.Reserve0().String(); got != "1050" {
		t.Errorf("Reserve0: got %s, want 1050", got)
	}
	if got := p.Reserve1().String(); got != "2025" {
		t.Errorf("Reserve1: got %s, want 2025", got)
	}
}

func TestCalculateMatchedLiquidityA1Excess(t *testing.T) {
	p := basePool() // ratio 1000:2000 = 1:2
	// Offer 100 token0 (needs 200 token1) and 500 token1 (more than enough):
	// a1-excess, take only 200 of the offered 500.
	add, err := CalculateMatchedLiquidity(p, nat(100), nat(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := add.Amount0.String(); got != "100" {
		t.Errorf("Amount0: got %s, want 100", got)
	}
	if got := add.Amount1.String(); got != "200" {
		t.Errorf("Amount1: got %s, want 200", got)
	}
	// lpMinted = amount0 * totalSupply / reserve0 = 100 * 1000 / 1000 = 100
	if got := add.LPMinted.String(); got != "100" {
		t.Errorf("LPMinted: got %s, want 100", got)
	}
}

func TestCalculateMatchedLiquidityA0Excess(t *testing.T) {
	p := basePool() // ratio 1000:2000 = 1:2
	// Offer 1000 token0 (would need 2000 token1) but only 100 token1 offered:
	// a0-excess, token0 gets reduced to match.
	add, err := CalculateMatchedLiquidity(p, nat(1000), nat(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// amount0Required = amount1Max * reserve0 / reserve1 = 100 * 1000 / 2000 = 50
	if got := add.Amount0.String(); got != "50" {
		t.Errorf("Amount0: got %s, want 50", got)
	}
	if got := add.Amount1.String(); got != "100" {
		t.Errorf("Amount1: got %s, want 100", got)
	}
}

func TestCalculateMatchedLiquidityRejectsBootstrapPool(t *testing.T) {
	p := basePool()
	p.Balance0 = ZeroNat()
	if _, err := CalculateMatchedLiquidity(p, nat(10), nat(10)); err == nil {
		t.Fatal("expected error matching against an empty pool")
	}
}

func TestCalculateMatchedLiquidityRejectsZeroRequired(t *testing.T) {
	p := basePool()
	p.Balance0 = nat(1_000_000_000)
	p.Balance1 = nat(1)
	// amount0Max=1 against a 1e9:1 ratio requires amount1 = 1*1/1e9, which
	// truncates to zero — the deposit must be rejected, not silently
	// accepted at a skewed ratio.
	if _, err := CalculateMatchedLiquidity(p, nat(1), nat(1)); err == nil {
		t.Fatal("expected rejection when required token1 amount rounds to zero")
	}
}

func TestRemoveLiquidityDrawsFeeBeforeBalance(t *testing.T) {
	p := basePool()
	p.LPFee0 = nat(100) // reserve0 = 1100
	p.LPFee1 = nat(0)   // reserve1 = 2000

	// Burn half the supply: withdraw0 = 500 * 1100 / 1000 = 550
	result, err := RemoveLiquidity(p, nat(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.FromFee0.String(); got != "100" {
		t.Errorf("FromFee0: got %s, want 100 (full fee drawn first)", got)
	}
	if got := result.FromBalance0.String(); got != "450" {
		t.Errorf("FromBalance0: got %s, want 450", got)
	}
	if got := result.Total0().String(); got != "550" {
		t.Errorf("Total0: got %s, want 550", got)
	}
	if got := result.FromFee1.String(); got != "0" {
		t.Errorf("FromFee1: got %s, want 0", got)
	}
	if got := result.Total1().String(); got != "1000" {
		t.Errorf("Total1: got %s, want 1000", got)
	}
}

func TestRemoveLiquidityRejectsZeroAndExcess(t *testing.T) {
	p := basePool()
	if _, err := RemoveLiquidity(p, ZeroNat()); err == nil {
		t.Fatal("expected error burning zero LP")
	}
	if _, err := RemoveLiquidity(p, nat(1_000_001)); err == nil {
		t.Fatal("expected error burning more than total supply")
	}
}

func TestCalculateSwapOutputSplitsFees(t *testing.T) {
	quote, err := CalculateSwapOutput(nat(1_000_000), nat(1_000_000), nat(10_000), 20, 10) // 0.2% lp + 0.1% protocol
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "20"; quote.LPFee.String() != want {
		t.Errorf("LPFee: got %s, want %s", quote.LPFee.String(), want)
	}
	if want := "10"; quote.ProtocolFee.String() != want {
		t.Errorf("ProtocolFee: got %s, want %s", quote.ProtocolFee.String(), want)
	}
	if quote.AmountOut.IsZero() {
		t.Error("expected nonzero amount out")
	}
	if quote.AmountOut.GreaterThan(nat(1_000_000)) {
		t.Error("amount out must not exceed the opposing reserve")
	}
}

func TestCalculateSwapOutputRejectsEmptyPool(t *testing.T) {
	if _, err := CalculateSwapOutput(ZeroNat(), nat(100), nat(10), 30, 0); err == nil {
		t.Fatal("expected error swapping against an empty pool")
	}
}

func TestMidPriceUsesReserves(t *testing.T) {
	p := basePool()
	p.LPFee0 = nat(0)
	p.LPFee1 = nat(0)
	r := MidPrice(p)
	// big.Rat reduces to lowest terms: 2000/1000 -> 2/1.
	if r.Num().Int64() != 2 || r.Denom().Int64() != 1 {
		t.Errorf("MidPrice: got %s, want 2/1", r.String())
	}
}
