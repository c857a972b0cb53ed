package domain

import "github.com/holiman/uint256"

// CreditDelta is a single settlement payout: Amount owed to Account. The
// settlement of one market produces one delta per share pair, each equal to
// twice the pair's escrowed amount.
type CreditDelta struct {
	Account AccountID
	Amount  *uint256.Int
}
