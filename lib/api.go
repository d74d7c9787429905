package lib

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
)

// API is the HTTP surface from §4.10/§6: user-facing operation endpoints
// plus an admin surface gated by a shared-secret header, grounded on the
// teacher's node.go net/http + http.NewServeMux pattern.
type API struct {
	Liquidity       *LiquidityEngine
	Swap            *SwapEngine
	Pools           *PoolStore
	Requests        *RequestStore
	Claims          *ClaimStore
	ClaimsProcessor *ClaimsProcessor
	Settings        *SettingsStore
	Stores          *Stores
	AdminKey        string
}

// Mux builds the http.ServeMux for the API, the equivalent of the
// teacher's startHTTPServer route table.
func (a *API) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/add_pool", a.handleAddPool)
	mux.HandleFunc("/api/add_liquidity", a.handleAddLiquidity)
	mux.HandleFunc("/api/remove_liquidity", a.handleRemoveLiquidity)
	mux.HandleFunc("/api/swap", a.handleSwap)
	mux.HandleFunc("/api/pools", a.handleListPools)
	mux.HandleFunc("/api/pools/", a.handleGetPool)
	mux.HandleFunc("/api/requests/", a.handleGetRequest)
	mux.HandleFunc("/api/claims/", a.handleGetClaim)
	mux.HandleFunc("/api/claim", a.handleClaim)

	mux.HandleFunc("/admin/backup/", a.withAdminAuth(a.handleBackup))
	mux.HandleFunc("/admin/restore/", a.withAdminAuth(a.handleRestore))
	mux.HandleFunc("/admin/kong_settings", a.withAdminAuth(a.handleSettingsPatch))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func (a *API) withAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.AdminKey == "" || r.Header.Get("X-Admin-Key") != a.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parsePrincipalHeader(r *http.Request) (Principal, error) {
	raw := r.Header.Get("X-Principal")
	if raw == "" {
		return Principal{}, fmt.Errorf("%w: missing X-Principal header", ErrInputValidation)
	}
	return ParsePrincipal(raw)
}

type addPoolRequest struct {
	Token0ID       string `json:"token_0_id"`
	Token1ID       string `json:"token_1_id"`
	Amount0        string `json:"amount_0"`
	Amount1        string `json:"amount_1"`
	LPFeeBps       uint32 `json:"lp_fee_bps"`
	ProtocolFeeBps uint32 `json:"protocol_fee_bps"`
	// TxID0 and TxID1 are optional ledger transaction ids the caller
	// already submitted directly to a token's ledger out of band; when
	// set, the corresponding leg is confirmed via verify_transfer instead
	// of pulled with transfer_from (§4.3's two supported add_pool paths).
	TxID0 string `json:"tx_id_0,omitempty"`
	TxID1 string `json:"tx_id_1,omitempty"`
}

func (a *API) handleAddPool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := parsePrincipalHeader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req addPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInputValidation, err))
		return
	}
	amount0, err := NatFromString(req.Amount0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount1, err := NatFromString(req.Amount1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reqRecord, pool, err := a.Liquidity.AddPoolWithTx(r.Context(), userID, req.Token0ID, req.Token1ID, amount0, amount1, BasisPoints(req.LPFeeBps), BasisPoints(req.ProtocolFeeBps), req.TxID0, req.TxID1)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "pool": pool})
}

type addLiquidityRequest struct {
	PoolID     string `json:"pool_id"`
	Amount0Max string `json:"amount_0_max"`
	Amount1Max string `json:"amount_1_max"`
}

func (a *API) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := parsePrincipalHeader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req addLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInputValidation, err))
		return
	}
	amount0Max, err := NatFromString(req.Amount0Max)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount1Max, err := NatFromString(req.Amount1Max)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reqRecord, lpMinted, err := a.Liquidity.AddLiquidityTransferFrom(r.Context(), userID, req.PoolID, amount0Max, amount1Max)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "lp_minted": lpMinted})
}

type removeLiquidityRequest struct {
	PoolID string `json:"pool_id"`
	Amount string `json:"lp_amount"`
}

func (a *API) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := parsePrincipalHeader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req removeLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInputValidation, err))
		return
	}
	lpAmount, err := NatFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reqRecord, amount0, amount1, err := a.Liquidity.RemoveLiquidity(r.Context(), userID, req.PoolID, lpAmount)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "amount_0": amount0, "amount_1": amount1})
}

type swapRequest struct {
	Path         []string `json:"path"`
	AmountIn     string   `json:"amount_in"`
	MinAmountOut string   `json:"min_amount_out"`
	MaxSlippage  string   `json:"max_slippage,omitempty"` // decimal fraction, e.g. "0.01" for 1%; omitted means no limit
}

func (a *API) handleSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := parsePrincipalHeader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInputValidation, err))
		return
	}
	amountIn, err := NatFromString(req.AmountIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minOut, err := NatFromString(req.MinAmountOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var maxSlippage *big.Rat
	if req.MaxSlippage != "" {
		r, ok := new(big.Rat).SetString(req.MaxSlippage)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid max_slippage %q", ErrInputValidation, req.MaxSlippage))
			return
		}
		maxSlippage = r
	}

	reqRecord, legs, err := a.Swap.SwapWithSlippage(r.Context(), userID, req.Path, amountIn, minOut, maxSlippage)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "legs": legs, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"request": reqRecord, "legs": legs})
}

func (a *API) handleListPools(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	count := 100
	if c := r.URL.Query().Get("count"); c != "" {
		if parsed, err := strconv.Atoi(c); err == nil {
			count = parsed
		}
	}
	pools, err := a.Pools.List(after, count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
}

func (a *API) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/pools/")
	pool, err := a.Pools.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (a *API) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	req, err := a.Requests.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/claims/")
	claim, err := a.Claims.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type claimRequest struct {
	ClaimID string `json:"claim_id"`
}

// handleClaim implements POST /api/claim (§6's user-triggered claim(claim_id)
// operation): runs one processing attempt immediately instead of waiting for
// the next ClaimsProcessor tick.
func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.ClaimsProcessor == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: claims processor not configured", ErrInvariant))
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInputValidation, err))
		return
	}
	claim, err := a.ClaimsProcessor.Claim(r.Context(), req.ClaimID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"claim": claim, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"claim": claim})
}

func (a *API) storeByName(name string) *PrefixStore {
	switch name {
	case "settings":
		return a.Stores.Settings
	case "users":
		return a.Stores.Users
	case "tokens":
		return a.Stores.Tokens
	case "pools":
		return a.Stores.Pools
	case "txs":
		return a.Stores.Txs
	case "requests":
		return a.Stores.Requests
	case "transfers":
		return a.Stores.Transfers
	case "claims":
		return a.Stores.Claims
	case "lp_ledger":
		return a.Stores.LPLedger
	case "messages":
		return a.Stores.Messages
	default:
		return nil
	}
}

// handleBackup implements GET /admin/backup/{store}?start=&count=: pages
// through a store's keys in ≤1000-key chunks, JSON-array encoded as
// {id, value} records, the shape handleRestore reads back.
func (a *API) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/admin/backup/")
	store := a.storeByName(name)
	if store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown store %q", name))
		return
	}

	count := 1000
	if c := r.URL.Query().Get("count"); c != "" {
		if parsed, err := strconv.Atoi(c); err == nil && parsed > 0 && parsed <= 1000 {
			count = parsed
		}
	}
	start := r.URL.Query().Get("start")

	type backupRecord struct {
		ID    string          `json:"id"`
		Value json.RawMessage `json:"value"`
	}
	var records []backupRecord
	err := store.Range(start, count, func(id string, raw json.RawMessage) error {
		records = append(records, backupRecord{ID: id, Value: raw})
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"store": name, "records": records})
}

type restoreRequest struct {
	Records []struct {
		ID    string          `json:"id"`
		Value json.RawMessage `json:"value"`
	} `json:"records"`
}

// handleRestore implements POST /admin/restore/{store}: replays a backup
// payload produced by handleBackup back into the named store.
func (a *API) handleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/admin/restore/")
	store := a.storeByName(name)
	if store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown store %q", name))
		return
	}

	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInputValidation, err))
		return
	}

	restored := 0
	for _, rec := range req.Records {
		if err := store.Put(rec.ID, rec.Value); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		restored++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"store": name, "restored": restored})
}

// handleSettingsPatch implements POST /admin/kong_settings: a JSON
// merge-patch onto the process-wide settings record.
func (a *API) handleSettingsPatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.Settings.ApplyPatch(body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Settings.Current())
}

func readAll(r *http.Request) (json.RawMessage, error) {
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := r.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return json.RawMessage(buf), nil
}
