// Package banklog is a log-only domain.Bank for dev deployments and tests:
// transfers are recorded, not executed.
package banklog

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
)

// Bank logs every transfer and reports success.
type Bank struct {
	logger *slog.Logger
}

// New creates a log-only Bank.
func New(logger *slog.Logger) *Bank {
	return &Bank{logger: logger.With(slog.String("component", "bank_log"))}
}

// Transfer records the requested payout and returns a synthetic reference.
func (b *Bank) Transfer(ctx context.Context, to domain.AccountID, amount *uint256.Int) (string, error) {
	ref := uuid.NewString()
	b.logger.InfoContext(ctx, "transfer recorded",
		slog.String("to", string(to)),
		slog.String("amount", amount.Dec()),
		slog.String("ref", ref),
	)
	return ref, nil
}

// Name identifies the bank implementation.
func (b *Bank) Name() string { return "log" }

// Compile-time interface check.
var _ domain.Bank = (*Bank)(nil)
