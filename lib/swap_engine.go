package lib

import (
	"context"
	"fmt"
	"math/big"
)

// SwapEngine implements §4.4: single and multi-leg swaps along a
// caller-supplied path of token ids, pre-transfer validation, and a
// compensating rollback if the ledger pull succeeds but the swap itself
// cannot complete. Grounded on the teacher's liquidity.go
// CalculateSwapOutput generalized to BigNat, orchestrated in the style of
// the osmosis balancer amm.go math/orchestration split noted in DESIGN.md:
// pool.go stays pure, this file does the I/O and bookkeeping.
type SwapEngine struct {
	Pools     *PoolStore
	Tokens    *TokenStore
	Requests  *RequestStore
	Transfers *TransferStore
	Claims    *ClaimStore
	Txs       *TxStore
	Settings  *SettingsStore
	Ledger    LedgerClient

	// ProtocolTreasury receives each swap leg's protocol-fee share. A
	// zero value means the protocol fee is simply retained in the pool
	// vault rather than swept out.
	ProtocolTreasury AccountID
}

// SwapLeg describes one pool hop executed as part of a swap.
type SwapLeg struct {
	PoolID      string
	TokenIn     string
	TokenOut    string
	AmountIn    BigNat
	AmountOut   BigNat
	LPFee       BigNat
	ProtocolFee BigNat
}

// Swap is the no-slippage-limit convenience form of SwapWithSlippage,
// matching the §6 add_liquidity-style optional-argument shape where
// max_slippage is left unset.
func (e *SwapEngine) Swap(ctx context.Context, userID Principal, path []string, amountIn, minAmountOut BigNat) (*Request, []SwapLeg, error) {
	return e.SwapWithSlippage(ctx, userID, path, amountIn, minAmountOut, nil)
}

// SwapWithSlippage executes a swap of amountIn of the first token in path to
// the last token in path, hopping through one pool per consecutive pair.
// path must list token ids; every consecutive pair must have a registered
// pool. The whole swap either completes in full or is rolled back: the
// input pull from the caller is refunded if any leg fails validation or
// execution. maxSlippage is the §4.4 step 4 per-leg slippage ceiling; a nil
// maxSlippage means no slippage check beyond minAmountOut.
func (e *SwapEngine) SwapWithSlippage(ctx context.Context, userID Principal, path []string, amountIn, minAmountOut BigNat, maxSlippage *big.Rat) (*Request, []SwapLeg, error) {
	if len(path) < 2 {
		return nil, nil, fmt.Errorf("%w: swap path must name at least two tokens", ErrInputValidation)
	}

	requestID, err := e.Settings.NextRequestID()
	if err != nil {
		return nil, nil, err
	}
	req := NewRequest(requestID, userID, RequestKindSwap)
	if err := e.Requests.Create(req); err != nil {
		return nil, nil, err
	}

	// Pre-transfer validation (§4.4): resolve every pool in the path and
	// make sure it exists before pulling any funds from the caller, so an
	// invalid path never costs the caller an external call.
	pools := make([]*Pool, 0, len(path)-1)
	for i := 0; i < len(path)-1; i++ {
		pool, err := e.Pools.FindByTokens(path[i], path[i+1])
		if err != nil {
			req.Fail(err)
			e.Requests.Save(req)
			return req, nil, err
		}
		if pool == nil {
			err := fmt.Errorf("%w: no pool for %s/%s", ErrInputValidation, path[i], path[i+1])
			req.Fail(err)
			e.Requests.Save(req)
			return req, nil, err
		}
		pools = append(pools, pool)
	}

	userAccount := userID.DefaultAccount()
	vault := poolVault(userID)

	transferID, err := e.Settings.NextTransferID()
	if err != nil {
		return req, nil, err
	}
	req.Step(StepPullSwapInput, "")
	pullTransfer := NewTransfer(transferID, requestID, path[0], TransferDirectionIn, userAccount, vault, amountIn, requestID+":in")
	if err := e.Transfers.Create(pullTransfer); err != nil {
		return req, nil, err
	}
	ref, err := e.Ledger.TransferFrom(ctx, path[0], userAccount, vault, amountIn)
	if err != nil {
		pullTransfer.Fail(err)
		e.Transfers.Save(pullTransfer)
		wrapped := fmt.Errorf("pull swap input: %w", err)
		req.Step(StepPullSwapInputFailed, wrapped.Error())
		req.Fail(wrapped)
		e.Requests.Save(req)
		return req, nil, wrapped
	}
	pullTransfer.Succeed(ref)
	e.Transfers.Save(pullTransfer)
	req.Step(StepPullSwapInputSuccess, "")

	req.Step(StepExecuteSwapLegs, "")
	legs, amountOut, snapshots, err := e.executeLegs(ctx, pools, path, amountIn, maxSlippage)
	if err != nil {
		// The swap itself failed after the pull succeeded: reverse every
		// pool mutation a completed leg made, then refund the caller's
		// (fee-adjusted) input rather than leaving it stranded in the
		// vault or claiming the wrong side of the trade.
		req.Step(StepExecuteSwapLegsFailed, err.Error())
		req.Step(StepRollbackSwap, "")
		e.restorePools(snapshots)
		e.refundOrClaim(ctx, userID, requestID, path[0], userAccount, amountIn)
		req.Fail(err)
		e.Requests.Save(req)
		return req, legs, err
	}

	// §4.4 step 3: gas_fee is the receiving token's ledger fee, charged on
	// the outbound transfer; step 4's minAmountOut check is against the
	// amount the caller actually nets, not the pre-fee leg output.
	receiveToken, err := e.Tokens.Get(path[len(path)-1])
	if err != nil {
		req.Step(StepRollbackSwap, "")
		e.restorePools(snapshots)
		e.refundOrClaim(ctx, userID, requestID, path[0], userAccount, amountIn)
		req.Fail(err)
		e.Requests.Save(req)
		return req, legs, err
	}
	netOut, subErr := amountOut.Sub(receiveToken.Fee)
	if subErr != nil {
		netOut = ZeroNat()
	}

	if netOut.LessThan(minAmountOut) {
		err := fmt.Errorf("%w: net output %s below minimum %s", ErrLiquidityMath, netOut, minAmountOut)
		req.Step(StepRollbackSwap, err.Error())
		e.restorePools(snapshots)
		e.refundOrClaim(ctx, userID, requestID, path[0], userAccount, amountIn)
		req.Fail(err)
		e.Requests.Save(req)
		return req, legs, err
	}

	req.Step(StepPayoutSwap, "")
	if _, err := e.transferOut(ctx, requestID, path[len(path)-1], userAccount, netOut, "out"); err != nil {
		// The outbound transfer is the last step of the swap; a failure
		// here is treated the same as any other post-pull failure per
		// §4.4's rollback rule: every pool touched by executeLegs is
		// restored to its pre-swap state and the caller's original input
		// is refunded, falling back to a claim only if the refund itself
		// cannot be completed.
		req.Step(StepPayoutSwapFailed, err.Error())
		req.Step(StepRollbackSwap, "")
		e.restorePools(snapshots)
		e.refundOrClaim(ctx, userID, requestID, path[0], userAccount, amountIn)
		req.Fail(err)
		e.Requests.Save(req)
		return req, legs, err
	}
	req.Step(StepPayoutSwapSuccess, "")
	amountOut = netOut

	txID, err := e.Settings.NextTxID()
	if err != nil {
		return req, legs, err
	}
	if err := e.Txs.Create(&Tx{
		TxID:      txID,
		Kind:      TxKindSwap,
		RequestID: requestID,
		Token0ID:  path[0],
		Token1ID:  path[len(path)-1],
		Amount0:   amountIn,
		Amount1:   amountOut,
		Legs:      legs,
		Timestamp: CurrentTimestampNanos(),
	}); err != nil {
		return req, legs, err
	}
	if err := req.Succeed(txID); err != nil {
		return req, legs, err
	}
	return req, legs, e.Requests.Save(req)
}

// poolSnapshot captures the four fields a swap leg can mutate, so a later
// leg failure or payout failure can put them back. The restore writes these
// absolute values, so any write to the same pool made after the snapshot is
// overwritten as well.
type poolSnapshot struct {
	PoolID             string
	Balance0, Balance1 BigNat
	LPFee0, LPFee1     BigNat
}

func snapshotPool(p *Pool) poolSnapshot {
	return poolSnapshot{
		PoolID:   p.PoolID,
		Balance0: p.Balance0,
		Balance1: p.Balance1,
		LPFee0:   p.LPFee0,
		LPFee1:   p.LPFee1,
	}
}

// restorePools writes every captured snapshot back, undoing the in-memory
// mutations executeLegs committed for those pools. Best-effort: a restore
// failure here means the pool is left in its (fee-accounted-for) mutated
// state rather than compounding one failure into a second, since there is
// no further fallback below a pool write.
func (e *SwapEngine) restorePools(snapshots []poolSnapshot) {
	for _, snap := range snapshots {
		snap := snap
		e.Pools.WithPool(snap.PoolID, func(p *Pool) error {
			p.Balance0 = snap.Balance0
			p.Balance1 = snap.Balance1
			p.LPFee0 = snap.LPFee0
			p.LPFee1 = snap.LPFee1
			return nil
		})
	}
}

// feeAdjustedAmount returns amount minus tokenID's ledger fee, the §4.3/§4.4
// convention for what a compensating transfer actually pays out (floored at
// zero rather than erroring, since a refund smaller than the fee is still
// better recorded as a zero-amount compensation than treated as fatal).
func (e *SwapEngine) feeAdjustedAmount(tokenID string, amount BigNat) BigNat {
	token, err := e.Tokens.Get(tokenID)
	if err != nil {
		return amount
	}
	net, err := amount.Sub(token.Fee)
	if err != nil {
		return ZeroNat()
	}
	return net
}

// refundOrClaim returns the (fee-adjusted) amount to the caller, recording a
// claim only if the compensating transfer itself fails — the §4.4 fallback
// of last resort, never the first move.
func (e *SwapEngine) refundOrClaim(ctx context.Context, userID Principal, requestID, tokenID string, to AccountID, amount BigNat) {
	net := e.feeAdjustedAmount(tokenID, amount)
	if _, err := e.refund(ctx, requestID, tokenID, to, net); err != nil {
		e.recordSwapClaim(userID, to, tokenID, net, requestID)
	}
}

func (e *SwapEngine) executeLegs(ctx context.Context, pools []*Pool, path []string, amountIn BigNat, maxSlippage *big.Rat) ([]SwapLeg, BigNat, []poolSnapshot, error) {
	legs := make([]SwapLeg, 0, len(pools))
	snapshots := make([]poolSnapshot, 0, len(pools))
	currentAmount := amountIn

	for i, pool := range pools {
		tokenIn, tokenOut := path[i], path[i+1]
		var leg SwapLeg
		var snap poolSnapshot
		_, err := e.Pools.WithPool(pool.PoolID, func(p *Pool) error {
			snap = snapshotPool(p)
			reserveIn, reserveOut := p.Reserve0(), p.Reserve1()
			in0 := p.Token0ID == tokenIn
			if !in0 {
				reserveIn, reserveOut = p.Reserve1(), p.Reserve0()
			}

			quote, err := CalculateSwapOutput(reserveIn, reserveOut, currentAmount, p.LPFeeBps, p.ProtocolFeeBps)
			if err != nil {
				return err
			}
			if maxSlippage != nil && quote.Slippage.Cmp(maxSlippage) > 0 {
				return fmt.Errorf("%w: slippage %s exceeds maximum %s", ErrLiquidityMath, quote.Slippage.RatString(), maxSlippage.RatString())
			}

			// §4.2: balance_P += p' (amount after total fee), lp_fee_P +=
			// f_lp tracked separately so remove_liquidity can return
			// accumulated fees to liquidity providers; balance_R -=
			// amount_out on the receiving side.
			amountInAfterFee, err := currentAmount.Sub(quote.ProtocolFee)
			if err != nil {
				return fmt.Errorf("%w: swap input smaller than protocol fee", ErrInvariant)
			}
			amountInAfterFee, err = amountInAfterFee.Sub(quote.LPFee)
			if err != nil {
				return fmt.Errorf("%w: swap input smaller than total fee", ErrInvariant)
			}
			if in0 {
				p.Balance0 = p.Balance0.Add(amountInAfterFee)
				p.LPFee0 = p.LPFee0.Add(quote.LPFee)
				p.Balance1, err = p.Balance1.Sub(quote.AmountOut)
			} else {
				p.Balance1 = p.Balance1.Add(amountInAfterFee)
				p.LPFee1 = p.LPFee1.Add(quote.LPFee)
				p.Balance0, err = p.Balance0.Sub(quote.AmountOut)
			}
			if err != nil {
				return fmt.Errorf("%w: swap would drain pool reserve", ErrInvariant)
			}

			leg = SwapLeg{
				PoolID:      p.PoolID,
				TokenIn:     tokenIn,
				TokenOut:    tokenOut,
				AmountIn:    currentAmount,
				AmountOut:   quote.AmountOut,
				LPFee:       quote.LPFee,
				ProtocolFee: quote.ProtocolFee,
			}
			return nil
		})
		if err != nil {
			return legs, BigNat{}, snapshots, fmt.Errorf("swap leg %s -> %s: %w", tokenIn, tokenOut, err)
		}
		snapshots = append(snapshots, snap)

		if !leg.ProtocolFee.IsZero() && e.ProtocolTreasury != (AccountID{}) {
			if _, err := e.Ledger.Transfer(ctx, tokenIn, e.ProtocolTreasury, leg.ProtocolFee); err != nil {
				// Sweeping the protocol fee is best-effort: it is not
				// owed to the caller, so a failure here does not unwind
				// the swap. The error is dropped and not recorded.
			}
		}

		legs = append(legs, leg)
		currentAmount = leg.AmountOut
	}

	return legs, currentAmount, snapshots, nil
}

func (e *SwapEngine) refund(ctx context.Context, requestID, tokenID string, to AccountID, amount BigNat) (*Transfer, error) {
	return e.transferOut(ctx, requestID, tokenID, to, amount, "refund")
}

func (e *SwapEngine) transferOut(ctx context.Context, requestID, tokenID string, to AccountID, amount BigNat, legID string) (*Transfer, error) {
	transferID, err := e.Settings.NextTransferID()
	if err != nil {
		return nil, err
	}
	t := NewTransfer(transferID, requestID, tokenID, TransferDirectionOut, AccountID{}, to, amount, requestID+":"+legID)
	if err := e.Transfers.Create(t); err != nil {
		return nil, err
	}
	ref, err := e.Ledger.Transfer(ctx, tokenID, to, amount)
	if err != nil {
		t.Fail(err)
		e.Transfers.Save(t)
		return t, fmt.Errorf("%w: %v", ErrExternalTransfer, err)
	}
	t.Succeed(ref)
	return t, e.Transfers.Save(t)
}

func (e *SwapEngine) recordSwapClaim(userID Principal, to AccountID, tokenID string, amount BigNat, requestID string) error {
	claimID, err := e.Settings.NextClaimID()
	if err != nil {
		return err
	}
	return e.Claims.Create(NewClaim(claimID, userID, to, tokenID, amount, requestID))
}
