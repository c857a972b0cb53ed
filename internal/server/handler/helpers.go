package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/server/middleware"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps ledger sentinels to HTTP status codes. It returns
// false when err was not a known sentinel so the handler can log and 500.
func writeDomainError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrMarketClosed):
		writeError(w, http.StatusConflict, "market is already closed")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "only the market owner may do this")
	case errors.Is(err, domain.ErrZeroAmount):
		writeError(w, http.StatusUnprocessableEntity, "amount must be nonzero")
	case errors.Is(err, domain.ErrAmountTooLarge):
		writeError(w, http.StatusUnprocessableEntity, "amount exceeds the maximum stake")
	case errors.Is(err, domain.ErrAmountMismatch):
		writeError(w, http.StatusUnprocessableEntity, "amount must equal the offer amount")
	case errors.Is(err, domain.ErrSelfMatch):
		writeError(w, http.StatusUnprocessableEntity, "cannot accept your own offer")
	case errors.Is(err, domain.ErrNoBalance):
		writeError(w, http.StatusNotFound, "no credit balance to withdraw")
	default:
		return false
	}
	return true
}

// requireCaller resolves the authenticated caller or writes a 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.AccountID, bool) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return caller, ok
}

// pathID parses a numeric path parameter into a uint32 id.
func pathID(r *http.Request, name string) (uint32, bool) {
	raw := r.PathValue(name)
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// parseAmount parses a decimal-string amount and enforces the stake bound.
// The zero check itself belongs to the ledger.
func parseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	if amount.BitLen() > domain.MaxStakeBits {
		return nil, domain.ErrAmountTooLarge
	}
	return amount, nil
}
