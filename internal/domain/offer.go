package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// MaxStakeBits bounds escrowed amounts to the u128 range. Settlement pays
// the winner twice the stake, so a bounded stake keeps every payout and
// running balance far inside 256-bit arithmetic.
const MaxStakeBits = 128

// Offer is an open, unmatched proposal to take one side of a market with
// Amount escrowed. Offer ids are globally monotonic, independent of market.
// An Offer is never mutated: it is created by the offer book and deleted when
// matched, which is what makes acceptance at-most-once.
type Offer struct {
	ID        uint32
	MarketID  uint32
	IsLong    bool
	Account   AccountID
	Amount    *uint256.Int
	CreatedAt time.Time
}

// OfferView renders an offer with its amount as a decimal string.
type OfferView struct {
	ID       uint32    `json:"id"`
	MarketID uint32    `json:"market_id"`
	IsLong   bool      `json:"is_long"`
	Account  AccountID `json:"account_id"`
	Amount   string    `json:"amount"`
}

// View renders the offer for the API boundary.
func (o Offer) View() OfferView {
	return OfferView{
		ID:       o.ID,
		MarketID: o.MarketID,
		IsLong:   o.IsLong,
		Account:  o.Account,
		Amount:   o.Amount.Dec(),
	}
}
