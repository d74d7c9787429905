package lib

import (
	"fmt"
	"math/big"
)

// BasisPoints is a fee or rate expressed in hundredths of a percent
// (10000 = 100%), the unit the LP-fee/protocol-fee split is specified in.
type BasisPoints uint32

const basisPointsDenominator = 10000

// Pool is the §3 Pool entity: a constant-product reserve of two tokens
// plus the LP token that represents a share of it. LPFee0/LPFee1 are the
// accumulated, reinvested LP-fee shares per §3: the invariant's effective
// reserve is balance_i + lp_fee_i, not balance_i alone.
type Pool struct {
	PoolID         string      `json:"pool_id"`
	Token0ID       string      `json:"token_0_id"`
	Token1ID       string      `json:"token_1_id"`
	Balance0       BigNat      `json:"balance_0"`
	Balance1       BigNat      `json:"balance_1"`
	LPFee0         BigNat      `json:"lp_fee_0"`
	LPFee1         BigNat      `json:"lp_fee_1"`
	LPTokenID      string      `json:"lp_token_id"`
	LPTotalSupply  BigNat      `json:"lp_total_supply"`
	LPFeeBps       BasisPoints `json:"lp_fee_bps"`
	ProtocolFeeBps BasisPoints `json:"protocol_fee_bps"`
}

// Reserve0 returns the effective reserve of token0 used by the constant
// product invariant: balance_0 + lp_fee_0 (§3 — accumulated LP fees are
// reinvested liquidity).
func (p *Pool) Reserve0() BigNat { return p.Balance0.Add(p.LPFee0) }

// Reserve1 is the token1 analogue of Reserve0.
func (p *Pool) Reserve1() BigNat { return p.Balance1.Add(p.LPFee1) }

// PoolName renders the conventional "TOKEN0_TOKEN1" pool name used to derive
// the LP token's symbol, matching the teacher's GetPoolName/GetLPTokenName
// helpers.
func PoolName(symbol0, symbol1 string) string {
	return fmt.Sprintf("%s_%s", symbol0, symbol1)
}

// K returns the pool's constant-product invariant reserve_0 * reserve_1,
// where reserve_i = balance_i + lp_fee_i (§3).
func (p *Pool) K() *big.Int {
	return new(big.Int).Mul(p.Reserve0().big(), p.Reserve1().big())
}

// IsBootstrap reports whether the pool has no liquidity yet — the case
// where there is no existing ratio to match against.
func (p *Pool) IsBootstrap() bool {
	return p.Balance0.IsZero() || p.Balance1.IsZero()
}

// ValidateFeeBps checks that a fee is within [0, 10000].
func ValidateFeeBps(bps BasisPoints) error {
	if bps > basisPointsDenominator {
		return fmt.Errorf("%w: fee %d bps exceeds 100%%", ErrInputValidation, bps)
	}
	return nil
}

// LiquidityAdd is the result of matching a caller's two proposed deposit
// amounts against the pool's current ratio.
type LiquidityAdd struct {
	Amount0  BigNat // actually accepted into the pool
	Amount1  BigNat
	LPMinted BigNat
}

// CalculateBootstrapLiquidity computes the LP tokens minted for the very
// first deposit into an empty pool: sqrt(rescale(amount0, d0->dL) *
// rescale(amount1, d1->dL)), matching the teacher's CalculateLPTokens
// square-root bootstrap formula generalized from float64/uint64 to BigNat,
// with §4.1's decimal-rescale precision contract applied before the two
// token amounts (which live at different native precisions) are combined
// into one LP-token-denominated quantity.
func CalculateBootstrapLiquidity(amount0, amount1 BigNat, decimals0, decimals1, lpDecimals int) (LiquidityAdd, error) {
	if amount0.IsZero() || amount1.IsZero() {
		return LiquidityAdd{}, fmt.Errorf("%w: bootstrap deposit requires both amounts to be nonzero", ErrLiquidityMath)
	}
	rescaled0 := amount0.Rescale(decimals0, lpDecimals)
	rescaled1 := amount1.Rescale(decimals1, lpDecimals)
	lp := rescaled0.Mul(rescaled1).Sqrt()
	if lp.IsZero() {
		return LiquidityAdd{}, fmt.Errorf("%w: bootstrap deposit too small to mint any LP tokens", ErrLiquidityMath)
	}
	return LiquidityAdd{Amount0: amount0, Amount1: amount1, LPMinted: lp}, nil
}

// CalculateMatchedLiquidity matches a caller's two maximum deposit amounts
// against an existing pool's ratio. Three cases, mirroring the teacher's
// ValidatePoolRatio/CalculateProportionalAmount pair generalized to
// BigNat:
//
//   - a1-excess: amount1Max covers more than its share of the ratio, so
//     amount1 is reduced to match amount0Max exactly.
//   - a0-excess: the symmetric case, amount0 is reduced to match
//     amount1Max.
//   - neither suffices: the reduced amount rounds down to zero at the
//     pool's ratio; the deposit is rejected.
func CalculateMatchedLiquidity(p *Pool, amount0Max, amount1Max BigNat) (LiquidityAdd, error) {
	if p.IsBootstrap() {
		return LiquidityAdd{}, fmt.Errorf("%w: pool has no liquidity yet, use bootstrap", ErrLiquidityMath)
	}
	if amount0Max.IsZero() || amount1Max.IsZero() {
		return LiquidityAdd{}, fmt.Errorf("%w: matched deposit requires both maximums to be nonzero", ErrLiquidityMath)
	}

	reserve0, reserve1 := p.Reserve0(), p.Reserve1()

	// amount1 required to match amount0Max at the pool's current ratio:
	// amount1 = amount0Max * reserve1 / reserve0
	amount1Required, err := amount0Max.MulDiv(reserve1, reserve0)
	if err != nil {
		return LiquidityAdd{}, err
	}

	var amount0, amount1 BigNat
	switch {
	case amount1Required.IsZero():
		// rescaling/truncation drove the required amount to zero while the
		// caller still offered a nonzero amount0 — reject rather than
		// accept a skewed (effectively free) deposit (§8 boundary case).
		return LiquidityAdd{}, fmt.Errorf("%w: required token1 amount rounds to zero at the pool's ratio", ErrLiquidityMath)
	case amount1Required.LessThan(amount1Max) || amount1Required.Cmp(amount1Max) == 0:
		// a1-excess: caller offered more token1 than needed; take only what
		// the ratio requires and leave the rest with the caller.
		amount0, amount1 = amount0Max, amount1Required
	default:
		// a0-excess: token1 is the binding constraint; reduce amount0 to
		// match amount1Max instead.
		amount0Required, err := amount1Max.MulDiv(reserve0, reserve1)
		if err != nil {
			return LiquidityAdd{}, err
		}
		if amount0Required.IsZero() {
			return LiquidityAdd{}, fmt.Errorf("%w: neither proposed amount suffices at the pool's ratio", ErrLiquidityMath)
		}
		amount0, amount1 = amount0Required, amount1Max
	}

	lpMinted, err := amount0.MulDiv(p.LPTotalSupply, reserve0)
	if err != nil {
		return LiquidityAdd{}, err
	}
	if lpMinted.IsZero() {
		return LiquidityAdd{}, fmt.Errorf("%w: matched deposit too small to mint any LP tokens", ErrLiquidityMath)
	}

	return LiquidityAdd{Amount0: amount0, Amount1: amount1, LPMinted: lpMinted}, nil
}

// RemovalResult is the result of burning LP tokens for a share of a pool's
// reserves, split per §4.3 step 1 into the portion returned from
// accumulated LP fees (returned first) and the remainder from the raw
// balance — the two parts a remove_liquidity Tx records separately as
// amount_i and lp_fee_i.
type RemovalResult struct {
	FromBalance0, FromBalance1 BigNat
	FromFee0, FromFee1         BigNat
}

// Total0 is the full amount of token0 owed to the caller (fee share plus
// balance share).
func (r RemovalResult) Total0() BigNat { return r.FromBalance0.Add(r.FromFee0) }

// Total1 is the token1 analogue of Total0.
func (r RemovalResult) Total1() BigNat { return r.FromBalance1.Add(r.FromFee1) }

// RemoveLiquidity computes the two token amounts returned for burning
// lpAmount LP tokens: each side's effective reserve (balance_i + lp_fee_i)
// times lpAmount / totalSupply, then split so the accumulated LP fee is
// drawn down before the raw balance (§4.3 step 1).
func RemoveLiquidity(p *Pool, lpAmount BigNat) (RemovalResult, error) {
	if lpAmount.IsZero() {
		return RemovalResult{}, fmt.Errorf("%w: cannot remove zero LP tokens", ErrInputValidation)
	}
	if lpAmount.GreaterThan(p.LPTotalSupply) {
		return RemovalResult{}, fmt.Errorf("%w: burn amount exceeds LP total supply", ErrInputValidation)
	}

	withdraw0, err := lpAmount.MulDiv(p.Reserve0(), p.LPTotalSupply)
	if err != nil {
		return RemovalResult{}, err
	}
	withdraw1, err := lpAmount.MulDiv(p.Reserve1(), p.LPTotalSupply)
	if err != nil {
		return RemovalResult{}, err
	}

	fromFee0 := withdraw0.Min(p.LPFee0)
	fromBalance0, err := withdraw0.Sub(fromFee0)
	if err != nil {
		return RemovalResult{}, err
	}
	fromFee1 := withdraw1.Min(p.LPFee1)
	fromBalance1, err := withdraw1.Sub(fromFee1)
	if err != nil {
		return RemovalResult{}, err
	}

	return RemovalResult{
		FromBalance0: fromBalance0,
		FromBalance1: fromBalance1,
		FromFee0:     fromFee0,
		FromFee1:     fromFee1,
	}, nil
}

// SwapQuote is the result of pricing a single-leg swap.
type SwapQuote struct {
	AmountOut    BigNat
	LPFee        BigNat
	ProtocolFee  BigNat
	MidPrice     *big.Rat // reserveOut / reserveIn, pre-trade marginal price
	Price        *big.Rat // amountOut / amountIn (the original, pre-fee pay amount)
	Slippage     *big.Rat // (mid - price) / mid, clamped to [0, 1]
}

// CalculateSwapOutput prices a swap of amountIn of the "in" token for the
// "out" token using the constant-product formula with the fee taken out of
// the input amount before the invariant is applied, matching the teacher's
// CalculateSwapOutput generalized from uint64 to BigNat and split into an
// explicit lp/protocol fee pair per §4.4's fee split.
func CalculateSwapOutput(reserveIn, reserveOut BigNat, amountIn BigNat, lpFeeBps, protocolFeeBps BasisPoints) (SwapQuote, error) {
	if amountIn.IsZero() {
		return SwapQuote{}, fmt.Errorf("%w: swap input amount must be nonzero", ErrInputValidation)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return SwapQuote{}, fmt.Errorf("%w: pool has no liquidity to swap against", ErrLiquidityMath)
	}

	totalFeeBps := BasisPoints(uint32(lpFeeBps) + uint32(protocolFeeBps))
	if err := ValidateFeeBps(totalFeeBps); err != nil {
		return SwapQuote{}, err
	}

	totalFee, err := amountIn.MulDiv(NatFromUint64(uint64(totalFeeBps)), NatFromUint64(basisPointsDenominator))
	if err != nil {
		return SwapQuote{}, err
	}
	lpFee, err := amountIn.MulDiv(NatFromUint64(uint64(lpFeeBps)), NatFromUint64(basisPointsDenominator))
	if err != nil {
		return SwapQuote{}, err
	}
	protocolFee := totalFee.SaturatingSub(lpFee)

	amountInAfterFee, err := amountIn.Sub(totalFee)
	if err != nil {
		return SwapQuote{}, err
	}

	// §4.2 step 3: receive = reserveOut * amountInAfterFee / (reserveIn +
	// amountInAfterFee), computed as one direct floor division — matching
	// both the spec's literal formula and the teacher's CalculateSwapOutput
	// numerator/denominator shape. The equivalent k-difference form
	// (reserveOut - reserveIn*reserveOut/(reserveIn+amountInAfterFee))
	// truncates on the opposite side of the division and overpays by the
	// remainder whenever it is nonzero, so it is deliberately not used here.
	denominator := reserveIn.Add(amountInAfterFee)
	amountOut, err := reserveOut.MulDiv(amountInAfterFee, denominator)
	if err != nil {
		return SwapQuote{}, err
	}
	if amountOut.IsZero() {
		return SwapQuote{}, fmt.Errorf("%w: swap would not produce positive output", ErrLiquidityMath)
	}
	if amountOut.GreaterThan(reserveOut) {
		return SwapQuote{}, fmt.Errorf("%w: swap output exceeds pool reserve", ErrInvariant)
	}

	// §4.2 step 4/5: mid-price is the pool's pre-trade marginal price
	// (reserveOut/reserveIn); price is the effective realised price using
	// the original, pre-fee pay amount (receive / p), not the fee-adjusted
	// amountInAfterFee used to size the trade itself.
	midPrice := new(big.Rat).SetFrac(reserveOut.big(), reserveIn.big())
	price := new(big.Rat)
	if !amountIn.IsZero() {
		price.SetFrac(amountOut.big(), amountIn.big())
	}
	slippage := slippageOf(midPrice, price)

	return SwapQuote{
		AmountOut:   amountOut,
		LPFee:       lpFee,
		ProtocolFee: protocolFee,
		MidPrice:    midPrice,
		Price:       price,
		Slippage:    slippage,
	}, nil
}

// MidPrice returns the pool's current mid-price of token1 denominated in
// token0 (reserve1 / reserve0) as an exact rational.
func MidPrice(p *Pool) *big.Rat {
	reserve0 := p.Reserve0()
	if reserve0.IsZero() {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(p.Reserve1().big(), reserve0.big())
}

// slippageOf computes (mid - price) / mid, clamped to [0, 1] per §4.2 step
// 6 — a price strictly better than mid (possible only in degenerate cases)
// clamps to zero rather than reporting negative slippage.
func slippageOf(midPrice, price *big.Rat) *big.Rat {
	if midPrice.Sign() == 0 {
		return new(big.Rat)
	}
	diff := new(big.Rat).Sub(midPrice, price)
	s := new(big.Rat).Quo(diff, midPrice)
	zero := new(big.Rat)
	one := big.NewRat(1, 1)
	if s.Cmp(zero) < 0 {
		return zero
	}
	if s.Cmp(one) > 0 {
		return one
	}
	return s
}
