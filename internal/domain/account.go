package domain

import "strings"

// AccountID identifies a participant account. Values are 0x-prefixed,
// lowercased Ethereum addresses as produced by the identity middleware.
type AccountID string

// NormalizeAccount lowercases an address string so that AccountID values
// compare consistently regardless of the checksum casing a client sent.
func NormalizeAccount(s string) AccountID {
	return AccountID(strings.ToLower(strings.TrimSpace(s)))
}
