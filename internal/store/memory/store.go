// Package memory implements domain.LedgerStore with in-process maps. It
// backs the dev mode and the engine test suite; writes are trivially atomic
// because each method mutates under one lock.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
)

// Store holds ledger state in memory.
type Store struct {
	mu          sync.Mutex
	markets     map[uint32]*domain.Market
	offers      map[uint32]domain.Offer
	credits     map[domain.AccountID]*uint256.Int
	nextOfferID uint32
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		markets: make(map[uint32]*domain.Market),
		offers:  make(map[uint32]domain.Offer),
		credits: make(map[domain.AccountID]*uint256.Int),
	}
}

// Load returns a deep copy of the current state.
func (s *Store) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{
		Credits:     make(map[domain.AccountID]*uint256.Int, len(s.credits)),
		NextOfferID: s.nextOfferID,
	}
	for _, m := range s.markets {
		c := *m
		c.Shares = make([]domain.SharePair, len(m.Shares))
		for i, p := range m.Shares {
			c.Shares[i] = domain.SharePair{Long: p.Long, Short: p.Short, Amount: p.Amount.Clone()}
		}
		snap.Markets = append(snap.Markets, c)
	}
	for _, o := range s.offers {
		o.Amount = o.Amount.Clone()
		snap.Offers = append(snap.Offers, o)
	}
	for acct, amt := range s.credits {
		snap.Credits[acct] = amt.Clone()
	}
	return snap, nil
}

// InsertMarket stores a newly created market.
func (s *Store) InsertMarket(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: market %d already exists", m.ID)
	}
	m.Shares = nil
	s.markets[m.ID] = &m
	return nil
}

// InsertOffer stores a new offer and advances the offer-id counter.
func (s *Store) InsertOffer(_ context.Context, o domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[o.ID]; ok {
		return fmt.Errorf("memory: offer %d already exists", o.ID)
	}
	o.Amount = o.Amount.Clone()
	s.offers[o.ID] = o
	if o.ID >= s.nextOfferID {
		s.nextOfferID = o.ID + 1
	}
	return nil
}

// MatchOffer deletes the offer and appends the share pair in one step.
func (s *Store) MatchOffer(_ context.Context, offerID uint32, marketID uint32, seq uint32, pair domain.SharePair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.offers[offerID]; !ok {
		return fmt.Errorf("memory: match offer %d: %w", offerID, domain.ErrNotFound)
	}
	m, ok := s.markets[marketID]
	if !ok {
		return fmt.Errorf("memory: match offer %d: market %d: %w", offerID, marketID, domain.ErrNotFound)
	}
	if int(seq) != len(m.Shares) {
		return fmt.Errorf("memory: match offer %d: share seq %d out of order (have %d)", offerID, seq, len(m.Shares))
	}

	delete(s.offers, offerID)
	m.Shares = append(m.Shares, domain.SharePair{
		Long:   pair.Long,
		Short:  pair.Short,
		Amount: pair.Amount.Clone(),
	})
	return nil
}

// SettleMarket marks the market closed and applies the credit increments.
func (s *Store) SettleMarket(_ context.Context, marketID uint32, credits []domain.CreditDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return fmt.Errorf("memory: settle market %d: %w", marketID, domain.ErrNotFound)
	}
	if !m.IsOpen {
		return fmt.Errorf("memory: settle market %d: %w", marketID, domain.ErrMarketClosed)
	}

	m.IsOpen = false
	for _, c := range credits {
		if bal, ok := s.credits[c.Account]; ok {
			bal.Add(bal, c.Amount)
		} else {
			s.credits[c.Account] = c.Amount.Clone()
		}
	}
	return nil
}

// ClearCredit removes the account's credit entry.
func (s *Store) ClearCredit(_ context.Context, account domain.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credits[account]; !ok {
		return fmt.Errorf("memory: clear credit %s: %w", account, domain.ErrNoBalance)
	}
	delete(s.credits, account)
	return nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*Store)(nil)
