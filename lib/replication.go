package lib

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SQLExecutor is the narrow slice of *sql.DB this worker actually calls,
// so tests can swap in a fake without a live Postgres connection —
// grounded on the open-rgs-go ledger_postgres.go upsert pattern, adapted
// from a single ledger table to the five per-kind tx tables §4.11 names.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ReplicationWorker drains Tx records onto a Postgres replica on its own
// ticker, independent of the claims processor. A zero-value DSN means
// replication is disabled: Run returns immediately without starting a
// ticker, so the binary never blocks on a database that was never
// configured.
type ReplicationWorker struct {
	Txs      *TxStore
	Tokens   *TokenStore
	DB       SQLExecutor
	Interval time.Duration

	cursor string

	// OnTick, if set, is called after each tick with the number of tx
	// records replicated — used by tests to observe progress without a
	// real ticker.
	OnTick func(replicated int)
}

// Run starts the ticker loop and blocks until ctx is cancelled. If w.DB is
// nil (no DSN configured), Run returns immediately.
func (w *ReplicationWorker) Run(ctx context.Context) {
	if w.DB == nil {
		return
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ReplicationWorker) tick(ctx context.Context) {
	txs, err := w.Txs.List(w.cursor, 500)
	if err != nil || len(txs) == 0 {
		return
	}

	replicated := 0
	for _, tx := range txs {
		if err := w.replicateOne(ctx, tx); err == nil {
			replicated++
		}
		w.cursor = tx.TxID
	}

	if w.OnTick != nil {
		w.OnTick(replicated)
	}
}

// decimalScale converts a BigNat smallest-unit amount to a human-scaled
// decimal.Decimal for the token identified by tokenID, dividing by
// 10^decimals and rounding half-away-from-zero to decimals places, exactly
// as §4.11/§6 specify.
func (w *ReplicationWorker) decimalScale(tokenID string, amount BigNat) decimal.Decimal {
	decimals := 8
	if tok, err := w.Tokens.Get(tokenID); err == nil {
		decimals = tok.Decimals
	}
	raw, err := decimal.NewFromString(amount.String())
	if err != nil {
		return decimal.Zero
	}
	scale := decimal.New(1, int32(decimals))
	return raw.DivRound(scale, int32(decimals))
}

func secondsFromNanos(nanos int64) int64 {
	return nanos / int64(time.Second)
}

// replicateOne upserts a single Tx into the txs table and its kind-specific
// companion table, matching §4.11's table list exactly.
func (w *ReplicationWorker) replicateOne(ctx context.Context, tx *Tx) error {
	ts := secondsFromNanos(tx.Timestamp)

	if _, err := w.DB.ExecContext(ctx,
		`INSERT INTO txs (tx_id, kind, request_id, ts) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tx_id) DO UPDATE SET kind = EXCLUDED.kind, request_id = EXCLUDED.request_id, ts = EXCLUDED.ts`,
		tx.TxID, string(tx.Kind), tx.RequestID, ts); err != nil {
		return fmt.Errorf("upsert txs row for %s: %w", tx.TxID, err)
	}

	switch tx.Kind {
	case TxKindAddPool:
		amount0 := w.decimalScale(tx.Token0ID, tx.Amount0)
		amount1 := w.decimalScale(tx.Token1ID, tx.Amount1)
		_, err := w.DB.ExecContext(ctx,
			`INSERT INTO add_pool_tx (tx_id, pool_id, token_0_id, token_1_id, amount_0, amount_1, lp_amount, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (tx_id) DO UPDATE SET amount_0 = EXCLUDED.amount_0, amount_1 = EXCLUDED.amount_1, lp_amount = EXCLUDED.lp_amount`,
			tx.TxID, tx.PoolID, tx.Token0ID, tx.Token1ID, amount0, amount1, tx.LPAmount.String(), ts)
		return err

	case TxKindAddLiquidity:
		amount0 := w.decimalScale(tx.Token0ID, tx.Amount0)
		amount1 := w.decimalScale(tx.Token1ID, tx.Amount1)
		_, err := w.DB.ExecContext(ctx,
			`INSERT INTO add_liquidity_tx (tx_id, pool_id, amount_0, amount_1, lp_amount, ts)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (tx_id) DO UPDATE SET amount_0 = EXCLUDED.amount_0, amount_1 = EXCLUDED.amount_1, lp_amount = EXCLUDED.lp_amount`,
			tx.TxID, tx.PoolID, amount0, amount1, tx.LPAmount.String(), ts)
		return err

	case TxKindRemoveLiquidity:
		amount0 := w.decimalScale(tx.Token0ID, tx.Amount0)
		amount1 := w.decimalScale(tx.Token1ID, tx.Amount1)
		lpFee0 := w.decimalScale(tx.Token0ID, tx.LPFee0)
		lpFee1 := w.decimalScale(tx.Token1ID, tx.LPFee1)
		_, err := w.DB.ExecContext(ctx,
			`INSERT INTO remove_liquidity_tx (tx_id, pool_id, amount_0, amount_1, lp_fee_0, lp_fee_1, lp_amount, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (tx_id) DO UPDATE SET amount_0 = EXCLUDED.amount_0, amount_1 = EXCLUDED.amount_1, lp_fee_0 = EXCLUDED.lp_fee_0, lp_fee_1 = EXCLUDED.lp_fee_1, lp_amount = EXCLUDED.lp_amount`,
			tx.TxID, tx.PoolID, amount0, amount1, lpFee0, lpFee1, tx.LPAmount.String(), ts)
		return err

	case TxKindSwap:
		amountIn := w.decimalScale(tx.Token0ID, tx.Amount0)
		amountOut := w.decimalScale(tx.Token1ID, tx.Amount1)
		if _, err := w.DB.ExecContext(ctx,
			`INSERT INTO swap_tx (tx_id, pay_token_id, receive_token_id, pay_amount, receive_amount, ts)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (tx_id) DO UPDATE SET pay_amount = EXCLUDED.pay_amount, receive_amount = EXCLUDED.receive_amount`,
			tx.TxID, tx.Token0ID, tx.Token1ID, amountIn, amountOut, ts); err != nil {
			return fmt.Errorf("upsert swap_tx row for %s: %w", tx.TxID, err)
		}
		for i, leg := range tx.Legs {
			legID := fmt.Sprintf("%s:%d", tx.TxID, i)
			payAmount := w.decimalScale(leg.TokenIn, leg.AmountIn)
			receiveAmount := w.decimalScale(leg.TokenOut, leg.AmountOut)
			lpFee := w.decimalScale(leg.TokenIn, leg.LPFee)
			gasFee := w.decimalScale(leg.TokenIn, leg.ProtocolFee)
			if _, err := w.DB.ExecContext(ctx,
				`INSERT INTO swap_tx_txs (leg_id, tx_id, pool_id, pay_token_id, pay_amount, receive_token_id, receive_amount, lp_fee, gas_fee)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (leg_id) DO UPDATE SET pay_amount = EXCLUDED.pay_amount, receive_amount = EXCLUDED.receive_amount`,
				legID, tx.TxID, leg.PoolID, leg.TokenIn, payAmount, leg.TokenOut, receiveAmount, lpFee, gasFee); err != nil {
				return fmt.Errorf("upsert swap_tx_txs leg %s: %w", legID, err)
			}
		}
		return nil

	case TxKindSend:
		amount := w.decimalScale(tx.Token0ID, tx.Amount0)
		_, err := w.DB.ExecContext(ctx,
			`INSERT INTO send_tx (tx_id, token_id, amount, ts) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (tx_id) DO UPDATE SET amount = EXCLUDED.amount`,
			tx.TxID, tx.Token0ID, amount, ts)
		return err

	default:
		return nil
	}
}
