package domain

import (
	"context"

	"github.com/holiman/uint256"
)

// Snapshot is the full persisted ledger state, read once at startup to
// rehydrate the engine.
type Snapshot struct {
	Markets     []Market
	Offers      []Offer
	Credits     map[AccountID]*uint256.Int
	NextOfferID uint32
}

// LedgerStore persists ledger state transitions. Each method is the complete
// write set of one engine operation and must apply atomically: either every
// row change in the call commits, or none do. The engine only mutates its
// in-memory state after the store call returns nil, which is what makes each
// public operation all-or-nothing.
type LedgerStore interface {
	// Load reads the entire persisted state.
	Load(ctx context.Context) (Snapshot, error)

	// InsertMarket stores a newly created market (no shares yet).
	InsertMarket(ctx context.Context, m Market) error

	// InsertOffer stores a newly posted offer and advances the persisted
	// offer-id counter past o.ID.
	InsertOffer(ctx context.Context, o Offer) error

	// MatchOffer deletes the offer row and appends the resulting share pair
	// to the offer's market, as one transaction. seq is the pair's position
	// in the market's share history.
	MatchOffer(ctx context.Context, offerID uint32, marketID uint32, seq uint32, pair SharePair) error

	// SettleMarket marks the market closed and applies all credit
	// increments from its settlement, as one transaction.
	SettleMarket(ctx context.Context, marketID uint32, credits []CreditDelta) error

	// ClearCredit removes the account's credit entry. The caller already
	// knows the drained amount from engine state.
	ClearCredit(ctx context.Context, account AccountID) error
}
