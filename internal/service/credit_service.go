package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/engine"
)

// transferTimeout bounds the detached withdrawal transfer.
const transferTimeout = 60 * time.Second

// CreditService exposes the credit ledger and dispatches withdrawal payouts
// through the bank.
type CreditService struct {
	engine *engine.Engine
	bank   domain.Bank
	logger *slog.Logger
}

// NewCreditService creates a CreditService.
func NewCreditService(eng *engine.Engine, bank domain.Bank, logger *slog.Logger) *CreditService {
	return &CreditService{
		engine: eng,
		bank:   bank,
		logger: logger.With(slog.String("component", "credit_service")),
	}
}

// Balance returns the caller's current credit balance.
func (s *CreditService) Balance(caller domain.AccountID) *uint256.Int {
	return s.engine.CreditBalance(caller)
}

// Withdraw drains the caller's credit balance and initiates the payout
// transfer as a detached follow-up. The ledger entry is already cleared when
// the transfer is requested; a transfer failure is an operator incident and
// the balance is never restored.
func (s *CreditService) Withdraw(ctx context.Context, caller domain.AccountID) (*uint256.Int, error) {
	amount, err := s.engine.Withdraw(ctx, caller)
	if err != nil {
		return nil, err
	}

	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
		defer cancel()

		ref, err := s.bank.Transfer(tctx, caller, amount.Clone())
		if err != nil {
			s.logger.Error("withdrawal transfer failed; manual payout required",
				slog.String("account", string(caller)),
				slog.String("amount", amount.Dec()),
				slog.String("bank", s.bank.Name()),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("withdrawal transfer initiated",
			slog.String("account", string(caller)),
			slog.String("amount", amount.Dec()),
			slog.String("ref", ref),
		)
	}()

	return amount, nil
}
