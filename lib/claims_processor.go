package lib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ClaimsProcessor implements §4.5: a periodic retry loop over every
// Unclaimed claim, moving each through Claiming and back to
// Claimed/Unclaimed (or Abandoned after MaxClaimAttempts consecutive
// failures). The ticker loop shape is grounded directly on the teacher's
// consensus.go leaderElection/blockProposalLoop pattern
// (time.NewTicker + select on ctx.Done()/ticker.C), generalized from block
// production to claim retries.
type ClaimsProcessor struct {
	Claims   *ClaimStore
	Tokens   *TokenStore
	Settings *SettingsStore
	Requests *RequestStore
	Ledger   LedgerClient
	Interval time.Duration

	// OnTick, if set, is called after each tick completes processing —
	// used by tests to observe progress without a real ticker.
	OnTick func(processed, succeeded, failed int)
}

// Run starts the ticker loop and blocks until ctx is cancelled.
func (cp *ClaimsProcessor) Run(ctx context.Context) {
	interval := cp.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp.tick(ctx)
		}
	}
}

// maxConsecutiveClaimFailures aborts the entire tick once this many claims
// in a row fail, rather than burning through every remaining claim against
// what is likely a down ledger (§4.5).
const maxConsecutiveClaimFailures = 4

func (cp *ClaimsProcessor) tick(ctx context.Context) {
	// §4.5 step 1: refuse to run entirely while maintenance mode is on.
	if cp.Settings != nil && cp.Settings.Current().MaintenanceMode {
		return
	}

	claims, err := cp.Claims.ListUnclaimed()
	if err != nil {
		return
	}
	// §4.5 step 2: process oldest claims first.
	sort.Slice(claims, func(i, j int) bool { return claims[i].CreatedAt < claims[j].CreatedAt })

	succeeded, failed, processed := 0, 0, 0
	consecutiveFailures := 0
	for _, claim := range claims {
		processed++
		if cp.processOne(ctx, claim) {
			succeeded++
			consecutiveFailures = 0
		} else {
			failed++
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveClaimFailures {
				break
			}
		}
	}

	if cp.OnTick != nil {
		cp.OnTick(processed, succeeded, failed)
	}
}

// processOne attempts a single claim, returning true if it was resolved
// (moved to Claimed) on this attempt. Per §4.5 step 3, the attempt opens
// its own Request — distinct from the Request that originally recorded
// the claim — so the claim's attempt_request_ids/transfer_ids sequences
// trace every retry back to the request-ledger row that carried it out.
// Requests is optional: a nil RequestStore (as in tests built before this
// wiring existed) falls back to the old ledger-only behavior.
func (cp *ClaimsProcessor) processOne(ctx context.Context, claim *Claim) bool {
	if err := claim.BeginAttempt(); err != nil {
		return false
	}
	if err := cp.Claims.Save(claim); err != nil {
		return false
	}

	var req *Request
	if cp.Requests != nil && cp.Settings != nil {
		if requestID, idErr := cp.Settings.NextRequestID(); idErr == nil {
			candidate := NewRequest(requestID, claim.UserID, RequestKindClaim)
			if cp.Requests.Create(candidate) == nil {
				req = candidate
				claim.RecordAttempt(requestID)
				req.Step(StepAttemptTransfer, claim.ClaimID)
			}
		}
	}

	// §4.5 step 3: transfer amount - token.fee, never the full face value.
	payout := claim.Amount
	if cp.Tokens != nil {
		if token, tokErr := cp.Tokens.Get(claim.TokenID); tokErr == nil {
			if reduced, subErr := claim.Amount.Sub(token.Fee); subErr == nil {
				payout = reduced
			}
		}
	}

	ref, err := cp.Ledger.Transfer(ctx, claim.TokenID, claim.To, payout)
	if err == nil {
		ok, verifyErr := cp.Ledger.VerifyTransfer(ctx, claim.TokenID, ref)
		if verifyErr != nil || !ok {
			err = fmt.Errorf("%w: transfer could not be verified", ErrExternalTransfer)
		}
	}

	if err != nil {
		if req != nil {
			req.Step(StepAttemptTransferFailed, err.Error())
			req.Fail(err)
			cp.Requests.Save(req)
		}
		if failErr := claim.FailAttempt(err); failErr != nil {
			return false
		}
		cp.Claims.Save(claim)
		return false
	}

	claim.RecordTransfer(ref)
	if req != nil {
		req.Step(StepAttemptTransferSuccess, "")
		req.Succeed(ref)
		cp.Requests.Save(req)
	}

	if err := claim.Succeed(); err != nil {
		return false
	}
	return cp.Claims.Save(claim) == nil
}

// Claim is the user-triggered equivalent of a processor tick on one claim
// (§6's claim(claim_id) operation): it runs exactly one processing attempt
// immediately rather than waiting for the next ticker fire, reusing the
// same compensation and dedup machinery as the background loop.
func (cp *ClaimsProcessor) Claim(ctx context.Context, claimID string) (*Claim, error) {
	claim, err := cp.Claims.Get(claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != ClaimStatusUnclaimed {
		return claim, fmt.Errorf("%w: claim %s is %s, not unclaimed", ErrInvariant, claimID, claim.Status)
	}
	cp.processOne(ctx, claim)
	return cp.Claims.Get(claimID)
}

// ErrClaimsProcessorStopped names a clean context cancellation as distinct
// from a processing error; no function in this package returns it. It is
// kept distinct from the sentinel categories in errors.go since it is a
// control-flow signal, not a failure category.
var ErrClaimsProcessorStopped = errors.New("claims processor stopped")
