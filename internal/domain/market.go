package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// Market is a binary-outcome prediction market. Ids are dense, 0-based and
// insertion-ordered; IsOpen starts true and flips to false exactly once at
// settlement. Shares is the append-only history of matched positions and is
// frozen once the market closes.
type Market struct {
	ID          uint32
	Owner       AccountID
	Description string
	IsOpen      bool
	Shares      []SharePair
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

// SharePair is one matched long/short position. Both sides escrowed the same
// Amount at match time; settlement pays Amount*2 to the winning side.
// SharePairs are immutable and never deleted.
type SharePair struct {
	Long   AccountID
	Short  AccountID
	Amount *uint256.Int
}

// MarketView is the read-only projection returned to callers. It carries the
// share count rather than the full share history so responses stay small and
// counterparty identities are not exposed on casual reads.
type MarketView struct {
	ID          uint32    `json:"id"`
	IsOpen      bool      `json:"is_open"`
	Description string    `json:"description"`
	Owner       AccountID `json:"owner"`
	Shares      uint32    `json:"shares"`
}

// View computes the projection from the stored entity. It is derived on
// demand and never cached.
func (m *Market) View() MarketView {
	return MarketView{
		ID:          m.ID,
		IsOpen:      m.IsOpen,
		Description: m.Description,
		Owner:       m.Owner,
		Shares:      uint32(len(m.Shares)),
	}
}

// SharePairView renders a share pair with its amount as a decimal string.
type SharePairView struct {
	Long   AccountID `json:"long"`
	Short  AccountID `json:"short"`
	Amount string    `json:"amount"`
}

// View renders the pair for the API boundary.
func (p SharePair) View() SharePairView {
	return SharePairView{
		Long:   p.Long,
		Short:  p.Short,
		Amount: p.Amount.Dec(),
	}
}
