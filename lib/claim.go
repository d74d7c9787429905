package lib

import (
	"encoding/json"
	"fmt"
)

// ClaimStatus is the claims-ledger status machine from §3/§4.5: an
// Unclaimed claim is picked up by the claims processor, moved to Claiming
// for the duration of the retry attempt, and moved back to either Claimed
// (terminal, success) or Unclaimed (retry later) depending on the outcome.
type ClaimStatus string

const (
	ClaimStatusUnclaimed ClaimStatus = "unclaimed"
	ClaimStatusClaiming  ClaimStatus = "claiming"
	ClaimStatusClaimed   ClaimStatus = "claimed"
	// ClaimStatusAbandoned is reached after MaxClaimAttempts consecutive
	// failures; the claim is no longer retried automatically and needs
	// operator intervention (§4.5).
	ClaimStatusAbandoned ClaimStatus = "abandoned"
)

// MaxClaimAttempts is the number of consecutive failures the claims
// processor tolerates before abandoning a claim, per §4.5.
const MaxClaimAttempts = 4

// Claim is the §3 Claim entity: an IOU recorded whenever a Transfer that
// should have returned funds to a user could not be completed
// synchronously, so the funds are not silently lost.
type Claim struct {
	ClaimID   string      `json:"claim_id"`
	UserID    Principal   `json:"user_id"`
	To        AccountID   `json:"to"`
	TokenID   string      `json:"token_id"`
	Amount    BigNat      `json:"amount"`
	RequestID string      `json:"request_id"`
	Status    ClaimStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at"`

	LastAttempt int64 `json:"last_attempt,omitempty"`

	// AttemptRequestIDs and TransferIDs record, in order, the Request and
	// Transfer rows opened by each processing attempt (§3's
	// attempt_request_ids/transfer_ids sequences) — the audit trail behind
	// the single Attempts counter.
	AttemptRequestIDs []string `json:"attempt_request_ids,omitempty"`
	TransferIDs       []string `json:"transfer_ids,omitempty"`
}

// NewClaim records a new unclaimed IOU.
func NewClaim(claimID string, userID Principal, to AccountID, tokenID string, amount BigNat, requestID string) *Claim {
	now := CurrentTimestampNanos()
	return &Claim{
		ClaimID:   claimID,
		UserID:    userID,
		To:        to,
		TokenID:   tokenID,
		Amount:    amount,
		RequestID: requestID,
		Status:    ClaimStatusUnclaimed,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BeginAttempt transitions Unclaimed -> Claiming. Returns an error if the
// claim is not currently Unclaimed (already being processed, already
// resolved, or abandoned).
func (c *Claim) BeginAttempt() error {
	if c.Status != ClaimStatusUnclaimed {
		return fmt.Errorf("%w: claim %s is %s, not unclaimed", ErrInvariant, c.ClaimID, c.Status)
	}
	c.Status = ClaimStatusClaiming
	c.LastAttempt = CurrentTimestampNanos()
	c.UpdatedAt = c.LastAttempt
	return nil
}

// RecordAttempt appends the id of the Request opened for this processing
// attempt, so every retry is traceable to the request that carried it out.
func (c *Claim) RecordAttempt(requestID string) {
	c.AttemptRequestIDs = append(c.AttemptRequestIDs, requestID)
}

// RecordTransfer appends the reference a successful ledger call produced for
// this claim; failed attempts are not recorded here.
func (c *Claim) RecordTransfer(transferID string) {
	c.TransferIDs = append(c.TransferIDs, transferID)
}

// Succeed transitions Claiming -> Claimed, terminal.
func (c *Claim) Succeed() error {
	if c.Status != ClaimStatusClaiming {
		return fmt.Errorf("%w: claim %s is %s, not claiming", ErrInvariant, c.ClaimID, c.Status)
	}
	c.Status = ClaimStatusClaimed
	c.Attempts++
	c.UpdatedAt = CurrentTimestampNanos()
	return nil
}

// FailAttempt transitions Claiming back to Unclaimed and increments the
// failure count, or to Abandoned once MaxClaimAttempts consecutive
// failures have accumulated.
func (c *Claim) FailAttempt(cause error) error {
	if c.Status != ClaimStatusClaiming {
		return fmt.Errorf("%w: claim %s is %s, not claiming", ErrInvariant, c.ClaimID, c.Status)
	}
	c.Attempts++
	c.LastError = cause.Error()
	c.UpdatedAt = CurrentTimestampNanos()
	if c.Attempts >= MaxClaimAttempts {
		c.Status = ClaimStatusAbandoned
		return nil
	}
	c.Status = ClaimStatusUnclaimed
	return nil
}

// ClaimStore persists Claim records keyed by claim id.
type ClaimStore struct {
	store *PrefixStore
}

// NewClaimStore wraps the claims prefix store.
func NewClaimStore(store *PrefixStore) *ClaimStore {
	return &ClaimStore{store: store}
}

// Create persists a brand new claim.
func (cs *ClaimStore) Create(c *Claim) error {
	return cs.store.Put(c.ClaimID, c)
}

// Save writes back a claim already known to exist.
func (cs *ClaimStore) Save(c *Claim) error {
	return cs.store.Put(c.ClaimID, c)
}

// Get loads a claim by id.
func (cs *ClaimStore) Get(claimID string) (*Claim, error) {
	var c Claim
	if err := cs.store.Get(claimID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListUnclaimed returns every claim currently Unclaimed — the work list
// the claims processor's ticker loop pulls from each tick.
func (cs *ClaimStore) ListUnclaimed() ([]*Claim, error) {
	var out []*Claim
	err := cs.store.Range("", 0, func(id string, raw json.RawMessage) error {
		var c Claim
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		if c.Status == ClaimStatusUnclaimed {
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}
