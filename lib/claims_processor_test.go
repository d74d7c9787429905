package lib

import (
	"context"
	"testing"
)

func newTestClaimsProcessor(t *testing.T) (*ClaimsProcessor, *ClaimStore, *FakeLedgerClient) {
	t.Helper()
	stores := newTestStores()
	claims := NewClaimStore(stores.Claims)
	ledger := NewFakeLedgerClient()
	cp := &ClaimsProcessor{Claims: claims, Ledger: ledger}
	return cp, claims, ledger
}

func TestClaimsProcessorResolvesUnclaimed(t *testing.T) {
	cp, claims, _ := newTestClaimsProcessor(t)
	user := testPrincipal(1)
	claim := NewClaim("claim-1", user, user.DefaultAccount(), "tok", nat(100), "req-1")
	if err := claims.Create(claim); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cp.tick(context.Background())

	got, err := claims.Get("claim-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ClaimStatusClaimed {
		t.Fatalf("claim status: got %s, want claimed", got.Status)
	}
}

func TestClaimsProcessorRetriesThenAbandons(t *testing.T) {
	cp, claims, ledger := newTestClaimsProcessor(t)
	user := testPrincipal(1)
	claim := NewClaim("claim-1", user, user.DefaultAccount(), "tok", nat(100), "req-1")
	if err := claims.Create(claim); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < MaxClaimAttempts; i++ {
		ledger.FailNext("Transfer:tok", errSimulatedLedgerFailure)
		cp.tick(context.Background())
	}

	got, err := claims.Get("claim-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ClaimStatusAbandoned {
		t.Fatalf("claim status after %d failures: got %s, want abandoned", MaxClaimAttempts, got.Status)
	}
}

func TestClaimsProcessorAbortsAfterConsecutiveFailures(t *testing.T) {
	cp, claims, ledger := newTestClaimsProcessor(t)
	user := testPrincipal(1)
	// Five distinct claims against five distinct tokens so each can be
	// independently failed without exhausting MaxClaimAttempts on any one
	// of them, isolating the tick-level abort from the per-claim one.
	tokenIDs := []string{"t0", "t1", "t2", "t3", "t4"}
	for i, tok := range tokenIDs {
		c := NewClaim(claimIDFor(i), user, user.DefaultAccount(), tok, nat(10), "req")
		if err := claims.Create(c); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ledger.FailNext("Transfer:"+tok, errSimulatedLedgerFailure)
	}

	var processed, succeeded, failed int
	cp.OnTick = func(p, s, f int) { processed, succeeded, failed = p, s, f }
	cp.tick(context.Background())

	if succeeded != 0 {
		t.Errorf("succeeded: got %d, want 0", succeeded)
	}
	if failed != maxConsecutiveClaimFailures {
		t.Errorf("failed: got %d, want %d (tick should abort after consecutive failures)", failed, maxConsecutiveClaimFailures)
	}
	if processed != maxConsecutiveClaimFailures {
		t.Errorf("processed: got %d, want %d", processed, maxConsecutiveClaimFailures)
	}

	// The four failed claims went back to Unclaimed after one attempt each;
	// the fifth was never attempted this tick and is still unclaimed too.
	unclaimed, err := claims.ListUnclaimed()
	if err != nil {
		t.Fatalf("ListUnclaimed: %v", err)
	}
	if len(unclaimed) != len(tokenIDs) {
		t.Fatalf("expected all %d claims unclaimed, got %d", len(tokenIDs), len(unclaimed))
	}
	untouched := 0
	for _, c := range unclaimed {
		if c.Attempts == 0 {
			untouched++
		}
	}
	if untouched != 1 {
		t.Fatalf("expected exactly 1 claim left untouched, got %d", untouched)
	}
}

func claimIDFor(i int) string {
	return "claim-" + string(rune('a'+i))
}
