package lib

import (
	"context"
	"errors"
	"fmt"
)

// LiquidityEngine implements §4.3: add_pool, add_liquidity_transfer_from
// and remove_liquidity. Its orchestration shape — resolve pool, validate,
// pull/push funds through the ledger, mutate in-memory state, build a tx
// record, wrap every error with fmt.Errorf("...: %w", err) — is grounded
// directly on the teacher's liquidity_tx.go transaction builders, with the
// UTXO input-selection mechanics replaced by calls into a LedgerClient.
type LiquidityEngine struct {
	Pools     *PoolStore
	Tokens    *TokenStore
	Requests  *RequestStore
	Transfers *TransferStore
	Claims    *ClaimStore
	Txs       *TxStore
	Settings  *SettingsStore
	Ledger    LedgerClient
	LPLedger  *LPLedgerStore
}

// stepSuccess/stepFailed pick the right granular status-log code for a
// pull-or-verify leg, depending on which compensation mode (§4.3) it used.
func stepSuccess(verified bool, leg int) string {
	switch {
	case leg == 0 && verified:
		return StepVerifyToken0Success
	case leg == 0 && !verified:
		return StepSendToken0Success
	case leg == 1 && verified:
		return StepVerifyToken1Success
	default:
		return StepSendToken1Success
	}
}

func stepFailed(verified bool, leg int) string {
	switch {
	case leg == 0 && verified:
		return StepVerifyToken0Failed
	case leg == 0 && !verified:
		return StepSendToken0Failed
	case leg == 1 && verified:
		return StepVerifyToken1Failed
	default:
		return StepSendToken1Failed
	}
}

// poolVault is the account this process holds pool reserves in — every
// pool shares one vault account per token, matching the canister's
// "this canister's own account" role in §6. The vault is owned by the zero
// principal and is the same for every caller; the caller's principal is not
// part of it.
var poolVaultSubaccount = [32]byte{}

func poolVault(_ Principal) AccountID {
	return Principal{}.Account(poolVaultSubaccount)
}

// transferIn pulls amount of tokenID from the user's account into the pool
// vault, recording a Transfer row first so the call is individually
// retryable and dedup-checked.
func (e *LiquidityEngine) transferIn(ctx context.Context, requestID, tokenID string, from, to AccountID, amount BigNat, legID string) (*Transfer, error) {
	transferID, err := e.Settings.NextTransferID()
	if err != nil {
		return nil, err
	}
	t := NewTransfer(transferID, requestID, tokenID, TransferDirectionIn, from, to, amount, requestID+":"+legID)
	if err := e.Transfers.Create(t); err != nil {
		return nil, err
	}

	ref, err := e.Ledger.TransferFrom(ctx, tokenID, from, to, amount)
	if err != nil {
		t.Fail(err)
		e.Transfers.Save(t)
		return t, fmt.Errorf("pull %s from caller: %w", tokenID, err)
	}
	t.Succeed(ref)
	if err := e.Transfers.Save(t); err != nil {
		return t, err
	}
	return t, nil
}

// transferOut pushes amount of tokenID from the pool vault to the user's
// account. If the ledger call fails, the caller is responsible for
// recording a Claim — the funds have already left the pool's accounting
// and must not be silently lost.
func (e *LiquidityEngine) transferOut(ctx context.Context, requestID, tokenID string, to AccountID, amount BigNat, legID string) (*Transfer, error) {
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
		return t, fmt.Errorf("return %s to caller: %w", tokenID, err)
	}
	t.Succeed(ref)
	if err := e.Transfers.Save(t); err != nil {
		return t, err
	}
	return t, nil
}

// recordClaim records an IOU for a transferOut that failed, so the claims
// processor can retry it later (§4.5).
func (e *LiquidityEngine) recordClaim(userID Principal, to AccountID, tokenID string, amount BigNat, requestID string) error {
	claimID, err := e.Settings.NextClaimID()
	if err != nil {
		return err
	}
	claim := NewClaim(claimID, userID, to, tokenID, amount, requestID)
	return e.Claims.Create(claim)
}

// feeAdjustedAmount returns amount minus tokenID's ledger fee — §4.3 step 4's
// "return a0 (minus token_0.fee)" convention for every compensating
// transfer, floored at zero rather than erroring.
func (e *LiquidityEngine) feeAdjustedAmount(tokenID string, amount BigNat) BigNat {
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

// verifyTransferIn confirms a caller-supplied ledgerTxID already credited
// the pool vault with amount of tokenID, rather than pulling it via
// TransferFrom. The Transfer row's dedup key is the (token, tx) pair itself
// so a replayed tx id is rejected before ever reaching the ledger.
func (e *LiquidityEngine) verifyTransferIn(ctx context.Context, requestID, tokenID, ledgerTxID string, from, to AccountID, amount BigNat, legID string) (*Transfer, error) {
	transferID, err := e.Settings.NextTransferID()
	if err != nil {
		return nil, err
	}
	t := NewTransfer(transferID, requestID, tokenID, TransferDirectionIn, from, to, amount, "verify:"+tokenID+":"+ledgerTxID)
	if err := e.Transfers.Create(t); err != nil {
		return nil, err
	}

	ok, err := e.Ledger.VerifyTransfer(ctx, tokenID, ledgerTxID)
	if err != nil {
		t.Fail(err)
		e.Transfers.Save(t)
		return t, fmt.Errorf("verify %s deposit %s: %w", tokenID, ledgerTxID, err)
	}
	if !ok {
		verr := fmt.Errorf("%w: verify_transfer did not confirm %s for %s", ErrExternalTransfer, ledgerTxID, tokenID)
		t.Fail(verr)
		e.Transfers.Save(t)
		return t, verr
	}
	t.Succeed(ledgerTxID)
	if err := e.Transfers.Save(t); err != nil {
		return t, err
	}
	return t, nil
}

// ensureTokenRegistered auto-registers tokenID as an IC-ledger-backed token
// if it is not already known — §4.3's "token_0 may be auto-registered if it
// is an IC canister". tokenID doubles as the ledger lookup key throughout
// this codebase (see LedgerClient), so the new Token keeps tokenID as its
// TokenID rather than re-deriving one, so every subsequent ledger call
// still addresses the right canister.
func (e *LiquidityEngine) ensureTokenRegistered(tokenID string) error {
	if _, err := e.Tokens.Get(tokenID); err == nil {
		return nil
	} else if err != ErrNotFound {
		return fmt.Errorf("look up token %s: %w", tokenID, err)
	}

	token := &Token{
		TokenID:  tokenID,
		Kind:     TokenKindIC,
		Symbol:   tokenID,
		Name:     tokenID,
		Decimals: 8,
		Fee:      ZeroNat(),
		LedgerID: tokenID,
	}
	if err := e.Tokens.Register(token); err != nil {
		return fmt.Errorf("auto-register token %s: %w", tokenID, err)
	}
	return nil
}

// AddPool is the no-verification convenience form of AddPoolWithTx, pulling
// both legs from the caller via TransferFrom.
func (e *LiquidityEngine) AddPool(ctx context.Context, userID Principal, token0ID, token1ID string, amount0, amount1 BigNat, lpFeeBps, protocolFeeBps BasisPoints) (*Request, *Pool, error) {
	return e.AddPoolWithTx(ctx, userID, token0ID, token1ID, amount0, amount1, lpFeeBps, protocolFeeBps, "", "")
}

// AddPoolWithTx creates a new pool from a bootstrap deposit. Either leg may
// be pulled normally (txID == "") or confirmed via a caller-supplied
// ledger tx id (txID != ""), per §4.3's add_pool verify_transfer path.
// token_1 must be the pool system's designated quote token; token_0 is
// auto-registered if it is not yet a known token.
func (e *LiquidityEngine) AddPoolWithTx(ctx context.Context, userID Principal, token0ID, token1ID string, amount0, amount1 BigNat, lpFeeBps, protocolFeeBps BasisPoints, txID0, txID1 string) (*Request, *Pool, error) {
	if err := ValidateFeeBps(BasisPoints(uint32(lpFeeBps) + uint32(protocolFeeBps))); err != nil {
		return nil, nil, err
	}
	if quoteID := e.Settings.Current().QuoteTokenID; quoteID != "" && quoteID != token1ID {
		return nil, nil, fmt.Errorf("%w: token_1 %s is not the designated quote token %s", ErrInputValidation, token1ID, quoteID)
	}
	if existing, err := e.Pools.FindByTokens(token0ID, token1ID); err == nil && existing != nil {
		return nil, nil, fmt.Errorf("%w: pool for %s/%s already exists", ErrDedup, token0ID, token1ID)
	}
	if err := e.ensureTokenRegistered(token0ID); err != nil {
		return nil, nil, err
	}

	requestID, err := e.Settings.NextRequestID()
	if err != nil {
		return nil, nil, err
	}
	req := NewRequest(requestID, userID, RequestKindAddPool)
	if err := e.Requests.Create(req); err != nil {
		return nil, nil, err
	}

	userAccount := userID.DefaultAccount()
	vault := poolVault(userID)

	leg0Verified := txID0 != ""
	leg1Verified := txID1 != ""

	var t0Err error
	if leg0Verified {
		req.Step(StepVerifyToken0, "")
		_, t0Err = e.verifyTransferIn(ctx, requestID, token0ID, txID0, userAccount, vault, amount0, "0")
	} else {
		req.Step(StepSendToken0, "")
		_, t0Err = e.transferIn(ctx, requestID, token0ID, userAccount, vault, amount0, "0")
	}
	if t0Err != nil {
		req.Step(stepFailed(leg0Verified, 0), t0Err.Error())
		req.Fail(t0Err)
		e.Requests.Save(req)
		return req, nil, t0Err
	}
	req.Step(stepSuccess(leg0Verified, 0), "")

	var t1Err error
	if leg1Verified {
		req.Step(StepVerifyToken1, "")
		_, t1Err = e.verifyTransferIn(ctx, requestID, token1ID, txID1, userAccount, vault, amount1, "1")
	} else {
		req.Step(StepSendToken1, "")
		_, t1Err = e.transferIn(ctx, requestID, token1ID, userAccount, vault, amount1, "1")
	}
	if t1Err != nil {
		req.Step(stepFailed(leg1Verified, 1), t1Err.Error())
		if leg0Verified {
			// §4.3: a verify_transfer leg must not be rolled back on
			// failure of the other leg — the engine cannot be sure its
			// own transfer caused that deposit. Compensation is left for
			// manual reconciliation instead of an automatic refund.
			req.Step(StepCompensationSkipped, "token_0 leg used verify_transfer; owed manually")
		} else {
			net := e.feeAdjustedAmount(token0ID, amount0)
			if _, refundErr := e.transferOut(ctx, requestID, token0ID, userAccount, net, "0-refund"); refundErr != nil {
				req.Step(StepReturnToken0Failed, refundErr.Error())
				if claimErr := e.recordClaim(userID, userAccount, token0ID, net, requestID); claimErr != nil {
					err := fmt.Errorf("refund %s and claim both failed: %v / %w", token0ID, refundErr, claimErr)
					req.Fail(err)
					e.Requests.Save(req)
					return req, nil, err
				}
			} else {
				req.Step(StepReturnToken0Success, "")
			}
		}
		req.Fail(t1Err)
		e.Requests.Save(req)
		return req, nil, t1Err
	}
	req.Step(stepSuccess(leg1Verified, 1), "")

	poolID, err := e.Settings.NextPoolID()
	if err != nil {
		return req, nil, err
	}
	token0, err := e.Tokens.Get(token0ID)
	if err != nil {
		return req, nil, fmt.Errorf("look up token0: %w", err)
	}
	token1, err := e.Tokens.Get(token1ID)
	if err != nil {
		return req, nil, fmt.Errorf("look up token1: %w", err)
	}

	// LP tokens always have 8 decimals (§3), independent of either
	// underlying token's native precision.
	const lpDecimals = 8
	req.Step(StepCalculatePoolAmounts, "")
	liq, err := CalculateBootstrapLiquidity(amount0, amount1, token0.Decimals, token1.Decimals, lpDecimals)
	if err != nil {
		req.Step(StepCalculatePoolAmountsFailed, err.Error())
		req.Fail(err)
		e.Requests.Save(req)
		return req, nil, err
	}

	lpToken, err := NewLPToken(poolID, PoolName(token0.Symbol, token1.Symbol), lpDecimals)
	if err != nil {
		return req, nil, err
	}
	if err := e.Tokens.Register(lpToken); err != nil {
		return req, nil, err
	}

	pool := &Pool{
		PoolID:         poolID,
		Token0ID:       token0ID,
		Token1ID:       token1ID,
		Balance0:       liq.Amount0,
		Balance1:       liq.Amount1,
		LPTokenID:      lpToken.TokenID,
		LPTotalSupply:  liq.LPMinted,
		LPFeeBps:       lpFeeBps,
		ProtocolFeeBps: protocolFeeBps,
	}
	req.Step(StepUpdatePoolAmounts, "")
	if err := e.Pools.Register(pool); err != nil {
		req.Step(StepUpdatePoolAmountsFailed, err.Error())
		return req, nil, err
	}
	req.Step(StepUpdatePoolAmountsSuccess, "")
	req.Step(StepUpdateUserLPTokenAmount, "")
	if _, err := e.LPLedger.Credit(userID, lpToken.TokenID, liq.LPMinted); err != nil {
		req.Step(StepUpdateUserLPTokenAmountFailed, err.Error())
		return req, pool, fmt.Errorf("credit bootstrap LP ledger row: %w", err)
	}
	req.Step(StepUpdateUserLPTokenAmountSuccess, "")

	txID, err := e.Settings.NextTxID()
	if err != nil {
		return req, pool, err
	}
	if err := e.Txs.Create(&Tx{
		TxID:      txID,
		Kind:      TxKindAddPool,
		RequestID: requestID,
		PoolID:    poolID,
		Token0ID:  token0ID,
		Token1ID:  token1ID,
		Amount0:   amount0,
		Amount1:   amount1,
		LPAmount:  liq.LPMinted,
		Timestamp: CurrentTimestampNanos(),
	}); err != nil {
		return req, pool, err
	}
	if err := req.Succeed(txID); err != nil {
		return req, pool, err
	}
	if err := e.Requests.Save(req); err != nil {
		return req, pool, err
	}

	return req, pool, nil
}

// AddLiquidityTransferFrom implements add_liquidity_transfer_from: pulls
// amount0Max and amount1Max from the caller in full, then matches them
// against the pool's current ratio and mints LP tokens proportional to the
// accepted amounts. No ratio match runs before the pulls, so the part of
// either maximum beyond the matched ratio is pulled as well; it stays in
// the pool and is not refunded.
//
// Per the §9 Open Question decision: if, after both pulls land, the ratio
// match requires less of a token than was pulled, the surplus is kept by
// the pool rather than refunded — this is the spec's documented behavior,
// not a bug to be silently fixed here.
func (e *LiquidityEngine) AddLiquidityTransferFrom(ctx context.Context, userID Principal, poolID string, amount0Max, amount1Max BigNat) (*Request, BigNat, error) {
	requestID, err := e.Settings.NextRequestID()
	if err != nil {
		return nil, BigNat{}, err
	}
	req := NewRequest(requestID, userID, RequestKindAddLiquidity)
	if err := e.Requests.Create(req); err != nil {
		return nil, BigNat{}, err
	}

	pool, err := e.Pools.Get(poolID)
	if err != nil {
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, err
	}

	userAccount := userID.DefaultAccount()
	vault := poolVault(userID)

	req.Step(StepSendToken0, "")
	if _, err := e.transferIn(ctx, requestID, pool.Token0ID, userAccount, vault, amount0Max, "0"); err != nil {
		req.Step(StepSendToken0Failed, err.Error())
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, err
	}
	req.Step(StepSendToken0Success, "")

	req.Step(StepSendToken1, "")
	if _, err := e.transferIn(ctx, requestID, pool.Token1ID, userAccount, vault, amount1Max, "1"); err != nil {
		req.Step(StepSendToken1Failed, err.Error())
		// §4.3 step 4: return a0 minus token_0's ledger fee, not the full
		// amount pulled.
		net := e.feeAdjustedAmount(pool.Token0ID, amount0Max)
		if _, refundErr := e.transferOut(ctx, requestID, pool.Token0ID, userAccount, net, "0-refund"); refundErr != nil {
			req.Step(StepReturnToken0Failed, refundErr.Error())
			e.recordClaim(userID, userAccount, pool.Token0ID, net, requestID)
		} else {
			req.Step(StepReturnToken0Success, "")
		}
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, err
	}
	req.Step(StepSendToken1Success, "")

	// Re-read pool state now that both external calls have returned —
	// the pool's ratio may have moved while we were suspended on the
	// ledger calls (§5).
	req.Step(StepCalculatePoolAmounts, "")
	var lpMinted BigNat
	_, err = e.Pools.WithPool(poolID, func(p *Pool) error {
		add, err := CalculateMatchedLiquidity(p, amount0Max, amount1Max)
		if err != nil {
			return err
		}
		p.Balance0 = p.Balance0.Add(amount0Max) // surplus retained per Open Question decision
		p.Balance1 = p.Balance1.Add(amount1Max)
		p.LPTotalSupply = p.LPTotalSupply.Add(add.LPMinted)
		lpMinted = add.LPMinted
		return nil
	})
	if err != nil {
		req.Step(StepCalculatePoolAmountsFailed, err.Error())
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, err
	}
	req.Step(StepUpdateUserLPTokenAmount, "")
	if _, err := e.LPLedger.Credit(userID, pool.LPTokenID, lpMinted); err != nil {
		req.Step(StepUpdateUserLPTokenAmountFailed, err.Error())
		return req, lpMinted, fmt.Errorf("credit LP ledger row: %w", err)
	}
	req.Step(StepUpdateUserLPTokenAmountSuccess, "")

	txID, err := e.Settings.NextTxID()
	if err != nil {
		return req, lpMinted, err
	}
	if err := e.Txs.Create(&Tx{
		TxID:      txID,
		Kind:      TxKindAddLiquidity,
		RequestID: requestID,
		PoolID:    poolID,
		Amount0:   amount0Max,
		Amount1:   amount1Max,
		LPAmount:  lpMinted,
		Timestamp: CurrentTimestampNanos(),
	}); err != nil {
		return req, lpMinted, err
	}
	if err := req.Succeed(txID); err != nil {
		return req, lpMinted, err
	}
	return req, lpMinted, e.Requests.Save(req)
}

// RemoveLiquidity implements remove_liquidity: burns lpAmount LP tokens
// and returns the corresponding share of each reserve to the caller. Once
// the pool's balances are reduced, the two return transfers are no longer
// reversible as a unit — a failed leg becomes a Claim, not a rollback.
func (e *LiquidityEngine) RemoveLiquidity(ctx context.Context, userID Principal, poolID string, lpAmount BigNat) (*Request, BigNat, BigNat, error) {
	requestID, err := e.Settings.NextRequestID()
	if err != nil {
		return nil, BigNat{}, BigNat{}, err
	}
	req := NewRequest(requestID, userID, RequestKindRemoveLiquidity)
	if err := e.Requests.Create(req); err != nil {
		return nil, BigNat{}, BigNat{}, err
	}

	pool, err := e.Pools.Get(poolID)
	if err != nil {
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, BigNat{}, err
	}

	// §4.3 step 1: clamp the requested burn to the caller's own LP balance
	// before touching the pool — a caller can never burn more than they
	// hold, regardless of how much LP total supply exists.
	lpRow, err := e.LPLedger.Get(userID, pool.LPTokenID)
	if err != nil {
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, BigNat{}, err
	}
	if lpAmount.GreaterThan(lpRow.Amount) {
		lpAmount = lpRow.Amount
	}
	if lpAmount.IsZero() {
		err := fmt.Errorf("%w: caller holds no LP tokens for pool %s", ErrInputValidation, poolID)
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, BigNat{}, err
	}

	var result RemovalResult
	_, err = e.Pools.WithPool(poolID, func(p *Pool) error {
		r, err := RemoveLiquidity(p, lpAmount)
		if err != nil {
			return err
		}
		p.LPFee0, err = p.LPFee0.Sub(r.FromFee0)
		if err != nil {
			return fmt.Errorf("%w: pool lp_fee_0 underflow on remove", ErrInvariant)
		}
		p.LPFee1, err = p.LPFee1.Sub(r.FromFee1)
		if err != nil {
			return fmt.Errorf("%w: pool lp_fee_1 underflow on remove", ErrInvariant)
		}
		p.Balance0, err = p.Balance0.Sub(r.FromBalance0)
		if err != nil {
			return fmt.Errorf("%w: pool balance_0 underflow on remove", ErrInvariant)
		}
		p.Balance1, err = p.Balance1.Sub(r.FromBalance1)
		if err != nil {
			return fmt.Errorf("%w: pool balance_1 underflow on remove", ErrInvariant)
		}
		p.LPTotalSupply, err = p.LPTotalSupply.Sub(lpAmount)
		if err != nil {
			return fmt.Errorf("%w: LP total supply underflow on burn", ErrInvariant)
		}
		result = r
		return nil
	})
	if err != nil {
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, BigNat{}, err
	}
	if _, err := e.LPLedger.Debit(userID, pool.LPTokenID, lpAmount); err != nil {
		req.Fail(err)
		e.Requests.Save(req)
		return req, BigNat{}, BigNat{}, err
	}

	amount0, amount1 := result.Total0(), result.Total1()
	userAccount := userID.DefaultAccount()

	var firstErr error
	req.Step(StepReturnToken0, "")
	if _, err := e.transferOut(ctx, requestID, pool.Token0ID, userAccount, amount0, "0"); err != nil {
		req.Step(StepReturnToken0Failed, err.Error())
		if claimErr := e.recordClaim(userID, userAccount, pool.Token0ID, amount0, requestID); claimErr != nil {
			firstErr = fmt.Errorf("return token0 failed and claim failed: %v / %w", err, claimErr)
		} else {
			firstErr = err
		}
	} else {
		req.Step(StepReturnToken0Success, "")
	}
	req.Step(StepReturnToken1, "")
	if _, err := e.transferOut(ctx, requestID, pool.Token1ID, userAccount, amount1, "1"); err != nil {
		req.Step(StepReturnToken1Failed, err.Error())
		if claimErr := e.recordClaim(userID, userAccount, pool.Token1ID, amount1, requestID); claimErr != nil {
			firstErr = errors.Join(firstErr, fmt.Errorf("return token1 failed and claim failed: %v / %w", err, claimErr))
		} else if firstErr == nil {
			firstErr = err
		}
	} else {
		req.Step(StepReturnToken1Success, "")
	}

	txID, txErr := e.Settings.NextTxID()
	if txErr != nil {
		return req, amount0, amount1, txErr
	}
	if txErr := e.Txs.Create(&Tx{
		TxID:      txID,
		Kind:      TxKindRemoveLiquidity,
		RequestID: requestID,
		PoolID:    poolID,
		Amount0:   amount0,
		Amount1:   amount1,
		LPFee0:    result.FromFee0,
		LPFee1:    result.FromFee1,
		LPAmount:  lpAmount,
		Timestamp: CurrentTimestampNanos(),
	}); txErr != nil {
		return req, amount0, amount1, txErr
	}

	if firstErr != nil {
		// The pool mutation already committed: this is a partial-success
		// outcome (LP burned, claim(s) recorded) not a clean failure, but
		// the request ledger only has Success/Failed — record Success
		// with the tx id so the claim's provenance is traceable, and
		// surface firstErr to the caller separately.
		now := CurrentTimestampNanos()
		req.TxID = txID
		req.Status = RequestStatusSuccess
		req.UpdatedAt = now
		req.StatusLog = append(req.StatusLog, StatusEntry{Status: RequestStatusSuccess, Message: txID, Ts: now})
		e.Requests.Save(req)
		return req, amount0, amount1, firstErr
	}

	if err := req.Succeed(txID); err != nil {
		return req, amount0, amount1, err
	}
	return req, amount0, amount1, e.Requests.Save(req)
}
