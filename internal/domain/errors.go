package domain

import "errors"

// Ledger operation failures. Every precondition is checked before any
// mutation begins, so an error always means the call had no effect.
var (
	ErrNotFound       = errors.New("not found")
	ErrMarketClosed   = errors.New("market is already closed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrZeroAmount     = errors.New("amount must be nonzero")
	ErrAmountTooLarge = errors.New("amount exceeds the maximum stake")
	ErrAmountMismatch = errors.New("amount must equal the offer amount")
	ErrSelfMatch      = errors.New("cannot accept your own offer")
	ErrNoBalance      = errors.New("no credit balance to withdraw")
)
