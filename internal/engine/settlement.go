package engine

import (
	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
)

// settle computes the payouts for a market's full share history. For every
// pair the winning side receives twice the pair's escrowed amount: its own
// stake back plus the equal stake the losing side escrowed at match time.
// Stakes are bounded to MaxStakeBits at offer creation, so the doubling
// cannot wrap. The share history is read-only here; one delta is produced
// per pair.
func settle(shares []domain.SharePair, longWins bool) []domain.CreditDelta {
	credits := make([]domain.CreditDelta, 0, len(shares))
	for _, pair := range shares {
		winner := pair.Short
		if longWins {
			winner = pair.Long
		}
		credits = append(credits, domain.CreditDelta{
			Account: winner,
			Amount:  new(uint256.Int).Add(pair.Amount, pair.Amount),
		})
	}
	return credits
}
