package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"tidalswap/lib"
)

// conditionalPrintf prints only if not in quiet mode, matching the
// teacher's own startup banner helpers.
func conditionalPrintf(config *lib.Config, format string, args ...interface{}) {
	if !config.Quiet {
		fmt.Printf(format, args...)
	}
}

func main() {
	config, err := lib.ParseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command line: %v\n", err)
		lib.PrintUsage()
		os.Exit(1)
	}

	if !config.Quiet {
		fmt.Println("tidalswap - automated market maker exchange backend")
		fmt.Println("=====================================================")
	}

	stores, closeStores, err := lib.OpenStores(config.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open stores: %v\n", err)
		os.Exit(1)
	}
	defer closeStores()

	settings, err := lib.NewSettingsStore(stores.Settings, lib.Settings{
		ClaimsIntervalSeconds: config.ClaimsInterval,
		ClaimsMaxAttempts:     config.ClaimsMaxAttempts,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	tokens := lib.NewTokenStore(stores.Tokens)
	pools := lib.NewPoolStore(stores.Pools)
	requests := lib.NewRequestStore(stores.Requests)
	transfers := lib.NewTransferStore(stores.Transfers)
	claims := lib.NewClaimStore(stores.Claims)
	txs := lib.NewTxStore(stores.Txs)
	lpLedger := lib.NewLPLedgerStore(stores.LPLedger)

	ledger := lib.NewFakeLedgerClient()

	liquidity := &lib.LiquidityEngine{
		Pools:     pools,
		Tokens:    tokens,
		Requests:  requests,
		Transfers: transfers,
		Claims:    claims,
		Txs:       txs,
		Settings:  settings,
		Ledger:    ledger,
		LPLedger:  lpLedger,
	}
	swap := &lib.SwapEngine{
		Pools:     pools,
		Tokens:    tokens,
		Requests:  requests,
		Transfers: transfers,
		Claims:    claims,
		Txs:       txs,
		Settings:  settings,
		Ledger:    ledger,
	}

	claimsInterval := time.Duration(config.ClaimsInterval) * time.Second
	claimsProcessor := &lib.ClaimsProcessor{
		Claims:   claims,
		Tokens:   tokens,
		Settings: settings,
		Requests: requests,
		Ledger:   ledger,
		Interval: claimsInterval,
	}

	api := &lib.API{
		Liquidity:       liquidity,
		Swap:            swap,
		Pools:           pools,
		Requests:        requests,
		Claims:          claims,
		ClaimsProcessor: claimsProcessor,
		Settings:        settings,
		Stores:          stores,
		AdminKey:        config.APIKey,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go claimsProcessor.Run(ctx)
	conditionalPrintf(config, "   Claims processor: ticking every %s\n", claimsInterval)

	if config.ReplicationEnabled && config.ReplicationDSN != "" {
		db, err := sql.Open("postgres", config.ReplicationDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open replication database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		replication := &lib.ReplicationWorker{
			Txs:      txs,
			Tokens:   tokens,
			DB:       db,
			Interval: 10 * time.Second,
		}
		go replication.Run(ctx)
		conditionalPrintf(config, "   Replication worker: enabled\n")
	} else {
		conditionalPrintf(config, "   Replication worker: disabled (no DSN configured)\n")
	}

	addr := fmt.Sprintf(":%d", config.APIPort)
	server := &http.Server{Addr: addr, Handler: api.Mux()}

	go func() {
		conditionalPrintf(config, "   HTTP API listening on %s\n", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "HTTP server failed: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	conditionalPrintf(config, "Shutting down...\n")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}
