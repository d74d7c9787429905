package lib

import "fmt"

// TransferDirection distinguishes funds moving from the caller into the
// pool from funds moving from the pool back out to the caller.
type TransferDirection string

const (
	TransferDirectionIn  TransferDirection = "in"
	TransferDirectionOut TransferDirection = "out"
)

// TransferStatus is the transfer-ledger status machine from §3.
type TransferStatus string

const (
	TransferStatusPending TransferStatus = "pending"
	TransferStatusSuccess TransferStatus = "success"
	TransferStatusFailed  TransferStatus = "failed"
)

// Transfer is the §3 Transfer record: one leg of external movement through
// the token-ledger client, individually retryable and individually
// dedup-checked so a re-run of the engine after a crash can never double
// spend or double credit.
type Transfer struct {
	TransferID string            `json:"transfer_id"`
	RequestID  string            `json:"request_id"`
	TokenID    string            `json:"token_id"`
	Direction  TransferDirection `json:"direction"`
	From       AccountID         `json:"from"`
	To         AccountID         `json:"to"`
	Amount     BigNat            `json:"amount"`
	DedupKey   string            `json:"dedup_key"`
	Status     TransferStatus    `json:"status"`
	LedgerRef  string            `json:"ledger_ref,omitempty"` // block index / tx hash returned by the ledger
	Error      string            `json:"error,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// NewTransfer creates a Pending transfer. dedupKey must uniquely identify
// this exact movement (typically request id + leg index + direction) so a
// retried engine run recognizes it rather than moving funds twice.
func NewTransfer(transferID, requestID, tokenID string, direction TransferDirection, from, to AccountID, amount BigNat, dedupKey string) *Transfer {
	now := CurrentTimestampNanos()
	return &Transfer{
		TransferID: transferID,
		RequestID:  requestID,
		TokenID:    tokenID,
		Direction:  direction,
		From:       from,
		To:         to,
		Amount:     amount,
		DedupKey:   dedupKey,
		Status:     TransferStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Succeed records a successful ledger call.
func (t *Transfer) Succeed(ledgerRef string) {
	t.Status = TransferStatusSuccess
	t.LedgerRef = ledgerRef
	t.UpdatedAt = CurrentTimestampNanos()
}

// Fail records a failed ledger call.
func (t *Transfer) Fail(cause error) {
	t.Status = TransferStatusFailed
	t.Error = cause.Error()
	t.UpdatedAt = CurrentTimestampNanos()
}

// TransferStore persists Transfer records keyed by transfer id, with a
// secondary dedup index keyed by dedup key.
type TransferStore struct {
	store *PrefixStore
}

// NewTransferStore wraps the transfers prefix store.
func NewTransferStore(store *PrefixStore) *TransferStore {
	return &TransferStore{store: store}
}

func dedupIndexKey(dedupKey string) string {
	return "dedup:" + dedupKey
}

// Create persists a brand new transfer, rejecting a collision on dedup key.
func (ts *TransferStore) Create(t *Transfer) error {
	existingID, err := ts.lookupDedup(t.DedupKey)
	if err != nil {
		return err
	}
	if existingID != "" {
		return fmt.Errorf("%w: dedup key %s already used by transfer %s", ErrDedup, t.DedupKey, existingID)
	}
	if err := ts.store.Put(t.TransferID, t); err != nil {
		return err
	}
	return ts.store.Put(dedupIndexKey(t.DedupKey), t.TransferID)
}

func (ts *TransferStore) lookupDedup(dedupKey string) (string, error) {
	var id string
	err := ts.store.Get(dedupIndexKey(dedupKey), &id)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("check dedup key %s: %w", dedupKey, err)
	}
	return id, nil
}

// Save writes back a transfer already known to exist.
func (ts *TransferStore) Save(t *Transfer) error {
	return ts.store.Put(t.TransferID, t)
}

// Get loads a transfer by id.
func (ts *TransferStore) Get(transferID string) (*Transfer, error) {
	var t Transfer
	if err := ts.store.Get(transferID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
