package domain

import (
	"context"

	"github.com/holiman/uint256"
)

// Bank moves real funds out of the system. Withdraw clears the caller's
// credit entry first and then requests the transfer; a transfer failure is
// reported by the bank but never rolls the ledger back, so implementations
// must surface failures loudly (logs, alerts) for operator follow-up.
type Bank interface {
	// Transfer sends amount to the given account and returns an opaque
	// reference (e.g. a transaction hash) for the operator trail.
	Transfer(ctx context.Context, to AccountID, amount *uint256.Int) (ref string, err error)
	// Name identifies the bank implementation.
	Name() string
}
