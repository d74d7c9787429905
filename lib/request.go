package lib

import "fmt"

// RequestKind identifies which user-facing operation a Request records.
type RequestKind string

const (
	RequestKindAddPool         RequestKind = "add_pool"
	RequestKindAddLiquidity    RequestKind = "add_liquidity"
	RequestKindRemoveLiquidity RequestKind = "remove_liquidity"
	RequestKindSwap            RequestKind = "swap"
	RequestKindClaim           RequestKind = "claim"
)

// Granular, non-terminal status-log codes per §4.3: one request's
// StatusLog can contain any number of these between its opening Pending
// entry and its single closing Success/Failed entry, so a partial failure
// (e.g. token_0 pulled, token_1 pull failed) is diagnosable after the fact
// instead of collapsing to a bare [Pending, Failed].
const (
	StepSendToken0         = "send_token_0"
	StepSendToken0Success  = "send_token_0_success"
	StepSendToken0Failed   = "send_token_0_failed"
	StepVerifyToken0       = "verify_token_0"
	StepVerifyToken0Success = "verify_token_0_success"
	StepVerifyToken0Failed  = "verify_token_0_failed"

	StepSendToken1         = "send_token_1"
	StepSendToken1Success  = "send_token_1_success"
	StepSendToken1Failed   = "send_token_1_failed"
	StepVerifyToken1       = "verify_token_1"
	StepVerifyToken1Success = "verify_token_1_success"
	StepVerifyToken1Failed  = "verify_token_1_failed"

	StepCalculatePoolAmounts       = "calculate_pool_amounts"
	StepCalculatePoolAmountsFailed = "calculate_pool_amounts_failed"

	StepUpdatePoolAmounts        = "update_pool_amounts"
	StepUpdatePoolAmountsSuccess = "update_pool_amounts_success"
	StepUpdatePoolAmountsFailed  = "update_pool_amounts_failed"

	StepUpdateUserLPTokenAmount        = "update_user_lp_token_amount"
	StepUpdateUserLPTokenAmountSuccess = "update_user_lp_token_amount_success"
	StepUpdateUserLPTokenAmountFailed  = "update_user_lp_token_amount_failed"

	StepReturnToken0        = "return_token_0"
	StepReturnToken0Success = "return_token_0_success"
	StepReturnToken0Failed  = "return_token_0_failed"
	StepReturnToken1        = "return_token_1"
	StepReturnToken1Success = "return_token_1_success"
	StepReturnToken1Failed  = "return_token_1_failed"

	StepCompensationSkipped = "compensation_skipped_owed_manually"

	StepAttemptTransfer        = "attempt_transfer"
	StepAttemptTransferSuccess = "attempt_transfer_success"
	StepAttemptTransferFailed  = "attempt_transfer_failed"

	StepPullSwapInput        = "pull_swap_input"
	StepPullSwapInputSuccess = "pull_swap_input_success"
	StepPullSwapInputFailed  = "pull_swap_input_failed"

	StepExecuteSwapLegs       = "execute_swap_legs"
	StepExecuteSwapLegsFailed = "execute_swap_legs_failed"

	StepPayoutSwap        = "payout_swap"
	StepPayoutSwapSuccess = "payout_swap_success"
	StepPayoutSwapFailed  = "payout_swap_failed"

	StepRollbackSwap = "rollback_swap"
)

// RequestStatus is the request-ledger status machine from §3: every
// request starts Pending and ends exactly once in Success or Failed.
type RequestStatus string

const (
	RequestStatusPending RequestStatus = "pending"
	RequestStatusSuccess RequestStatus = "success"
	RequestStatusFailed  RequestStatus = "failed"
)

// StatusEntry is one row of a Request's append-only status log: the
// (StatusCode, Option<message>, ts) triple from §3. Rows are never
// rewritten or removed, only appended to.
type StatusEntry struct {
	Status  RequestStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Ts      int64         `json:"ts"`
}

// Request is the §3 Request entity: the outer, idempotent record of one
// user-facing operation, independent of however many Transfers and Txs it
// took to carry out. Status is kept alongside StatusLog purely as a
// convenience accessor for "what is it now" callers; StatusLog is the
// authoritative, monotone history and is what §3 actually specifies.
type Request struct {
	RequestID string        `json:"request_id"`
	UserID    Principal     `json:"user_id"`
	Kind      RequestKind   `json:"kind"`
	Status    RequestStatus `json:"status"`
	StatusLog []StatusEntry `json:"status_log"`
	TxID      string        `json:"tx_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
}

// NewRequest creates a Pending request for the given user and kind.
func NewRequest(requestID string, userID Principal, kind RequestKind) *Request {
	now := CurrentTimestampNanos()
	return &Request{
		RequestID: requestID,
		UserID:    userID,
		Kind:      kind,
		Status:    RequestStatusPending,
		StatusLog: []StatusEntry{{Status: RequestStatusPending, Ts: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Succeed transitions a Pending request to Success, recording the tx that
// carried it out. Transitioning a request that is not Pending is an
// invariant violation: every request ends exactly once.
func (r *Request) Succeed(txID string) error {
	if r.Status != RequestStatusPending {
		return fmt.Errorf("%w: request %s already resolved as %s", ErrInvariant, r.RequestID, r.Status)
	}
	now := CurrentTimestampNanos()
	r.Status = RequestStatusSuccess
	r.TxID = txID
	r.UpdatedAt = now
	r.StatusLog = append(r.StatusLog, StatusEntry{Status: RequestStatusSuccess, Message: txID, Ts: now})
	return nil
}

// Fail transitions a Pending request to Failed, recording the error.
func (r *Request) Fail(cause error) error {
	if r.Status != RequestStatusPending {
		return fmt.Errorf("%w: request %s already resolved as %s", ErrInvariant, r.RequestID, r.Status)
	}
	now := CurrentTimestampNanos()
	r.Status = RequestStatusFailed
	r.Error = cause.Error()
	r.UpdatedAt = now
	r.StatusLog = append(r.StatusLog, StatusEntry{Status: RequestStatusFailed, Message: r.Error, Ts: now})
	return nil
}

// Step appends a granular, non-terminal status-log entry identified by one
// of the Step* codes, without touching the request's terminal Status — the
// single Pending→Success|Failed transition stays the job of Succeed/Fail.
func (r *Request) Step(code, message string) {
	now := CurrentTimestampNanos()
	r.StatusLog = append(r.StatusLog, StatusEntry{Status: RequestStatus(code), Message: message, Ts: now})
	r.UpdatedAt = now
}

// RequestStore persists Request records keyed by request id.
type RequestStore struct {
	store *PrefixStore
}

// NewRequestStore wraps the requests prefix store.
func NewRequestStore(store *PrefixStore) *RequestStore {
	return &RequestStore{store: store}
}

// Create persists a brand new request, rejecting a duplicate request id —
// the dedup boundary that makes retried client calls safe to resubmit.
func (rs *RequestStore) Create(r *Request) error {
	var existing Request
	if err := rs.store.Get(r.RequestID, &existing); err == nil {
		return fmt.Errorf("%w: request id %s already exists", ErrDedup, r.RequestID)
	} else if err != ErrNotFound {
		return fmt.Errorf("check existing request %s: %w", r.RequestID, err)
	}
	return rs.store.Put(r.RequestID, r)
}

// Save writes back a request already known to exist (after a status
// transition).
func (rs *RequestStore) Save(r *Request) error {
	return rs.store.Put(r.RequestID, r)
}

// Get loads a request by id.
func (rs *RequestStore) Get(requestID string) (*Request, error) {
	var r Request
	if err := rs.store.Get(requestID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
