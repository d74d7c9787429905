package lib

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

const settingsRecordID = "singleton"

// Settings is the in-memory, process-wide record analogous to the
// teacher's own process configuration: monotonic id counters plus the few
// operator-tunable flags the admin `kong_settings` endpoint can patch.
type Settings struct {
	NextUserID            uint64 `json:"next_user_id"`
	NextPoolID             uint64 `json:"next_pool_id"`
	NextLPTokenID          uint64 `json:"next_lp_token_id"`
	NextRequestID          uint64 `json:"next_request_id"`
	NextTxID               uint64 `json:"next_tx_id"`
	NextTransferID         uint64 `json:"next_transfer_id"`
	NextClaimID            uint64 `json:"next_claim_id"`
	ClaimsIntervalSeconds  int    `json:"claims_interval_seconds"`
	ClaimsMaxAttempts      int    `json:"claims_max_attempts"`
	MaintenanceMode        bool   `json:"maintenance_mode"`
	QuoteTokenID           string `json:"quote_token_id"`
}

// SettingsStore guards the single Settings row and exposes the monotonic
// id allocators every engine uses to mint new entity ids.
type SettingsStore struct {
	mu    sync.Mutex
	store *PrefixStore
	cur   Settings
}

// NewSettingsStore loads (or initializes) the settings record.
func NewSettingsStore(store *PrefixStore, defaults Settings) (*SettingsStore, error) {
	ss := &SettingsStore{store: store}
	var existing Settings
	err := store.Get(settingsRecordID, &existing)
	switch err {
	case nil:
		ss.cur = existing
	case ErrNotFound:
		ss.cur = defaults
		if err := store.Put(settingsRecordID, ss.cur); err != nil {
			return nil, fmt.Errorf("initialize settings: %w", err)
		}
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return ss, nil
}

// Current returns a copy of the current settings.
func (ss *SettingsStore) Current() Settings {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.cur
}

func (ss *SettingsStore) save() error {
	return ss.store.Put(settingsRecordID, ss.cur)
}

func (ss *SettingsStore) nextID(field *uint64, prefix string) (string, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	*field++
	id := prefix + "-" + strconv.FormatUint(*field, 10)
	if err := ss.save(); err != nil {
		return "", err
	}
	return id, nil
}

// NextUserID allocates the next monotonic user id.
func (ss *SettingsStore) NextUserID() (string, error) { return ss.nextID(&ss.cur.NextUserID, "user") }

// NextPoolID allocates the next monotonic pool id.
func (ss *SettingsStore) NextPoolID() (string, error) { return ss.nextID(&ss.cur.NextPoolID, "pool") }

// NextLPTokenID allocates the next monotonic LP token id.
func (ss *SettingsStore) NextLPTokenID() (string, error) {
	return ss.nextID(&ss.cur.NextLPTokenID, "lp")
}

// NextRequestID allocates the next monotonic request id.
func (ss *SettingsStore) NextRequestID() (string, error) {
	return ss.nextID(&ss.cur.NextRequestID, "req")
}

// NextTxID allocates the next monotonic tx id.
func (ss *SettingsStore) NextTxID() (string, error) { return ss.nextID(&ss.cur.NextTxID, "tx") }

// NextTransferID allocates the next monotonic transfer id.
func (ss *SettingsStore) NextTransferID() (string, error) {
	return ss.nextID(&ss.cur.NextTransferID, "xfer")
}

// NextClaimID allocates the next monotonic claim id.
func (ss *SettingsStore) NextClaimID() (string, error) {
	return ss.nextID(&ss.cur.NextClaimID, "claim")
}

// ApplyPatch merges a JSON object into the settings record — the
// `set_kong_settings`-style admin endpoint, implemented as an
// encoding/json merge onto the existing struct so unset fields in the
// patch are left untouched.
func (ss *SettingsStore) ApplyPatch(patch json.RawMessage) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err := json.Unmarshal(patch, &ss.cur); err != nil {
		return fmt.Errorf("%w: invalid settings patch: %v", ErrInputValidation, err)
	}
	return ss.save()
}
