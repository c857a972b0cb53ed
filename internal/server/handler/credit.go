package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
)

// CreditService defines the methods that the credit handler requires from
// the service layer.
type CreditService interface {
	Balance(caller domain.AccountID) *uint256.Int
	Withdraw(ctx context.Context, caller domain.AccountID) (*uint256.Int, error)
}

// CreditHandler serves credit ledger HTTP endpoints.
type CreditHandler struct {
	credits CreditService
	logger  *slog.Logger
}

// NewCreditHandler creates a CreditHandler with the given service and logger.
func NewCreditHandler(credits CreditService, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{
		credits: credits,
		logger:  logger,
	}
}

type balanceResponse struct {
	Account domain.AccountID `json:"account"`
	Balance string           `json:"balance"`
}

// GetBalance returns the caller's current credit balance.
// GET /api/credits/balance
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	balance := h.credits.Balance(caller)
	writeJSON(w, http.StatusOK, balanceResponse{
		Account: caller,
		Balance: balance.Dec(),
	})
}

type withdrawResponse struct {
	Account domain.AccountID `json:"account"`
	Amount  string           `json:"amount"`
}

// Withdraw drains the caller's credit balance and initiates the payout.
// POST /api/credits/withdraw
func (h *CreditHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.credits.Withdraw(r.Context(), caller)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: withdraw failed",
			slog.String("account", string(caller)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to withdraw")
		return
	}

	writeJSON(w, http.StatusOK, withdrawResponse{
		Account: caller,
		Amount:  amount.Dec(),
	})
}
