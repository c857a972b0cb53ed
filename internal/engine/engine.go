// Package engine implements the market/offer/credit state machine: market
// lifecycle, offer escrow and matching, settlement at closure, and the credit
// ledger. The Engine is the exclusive owner of all mutable ledger state; a
// single mutex serializes operations so there is exactly one logical writer
// at a time.
//
// Every public operation follows the same shape: validate with no mutation,
// persist the operation's full write set in one store transaction, then apply
// the change to memory and emit events. A store failure aborts before any
// in-memory mutation, so each call is all-or-nothing. Events are emitted
// after the mutex is released; sinks may do network I/O and must never stall
// ledger operations.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
)

// Engine owns the market registry, the offer book, the share ledger and the
// credit ledger.
type Engine struct {
	mu sync.Mutex

	store  domain.LedgerStore
	sink   domain.EventSink
	logger *slog.Logger

	markets     []*domain.Market
	offers      map[uint32]domain.Offer
	credits     map[domain.AccountID]*uint256.Int
	nextOfferID uint32
}

// New rehydrates an Engine from the store's persisted snapshot.
func New(ctx context.Context, store domain.LedgerStore, sink domain.EventSink, logger *slog.Logger) (*Engine, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: load snapshot: %w", err)
	}

	sort.Slice(snap.Markets, func(i, j int) bool { return snap.Markets[i].ID < snap.Markets[j].ID })
	markets := make([]*domain.Market, 0, len(snap.Markets))
	for i := range snap.Markets {
		m := snap.Markets[i]
		if m.ID != uint32(len(markets)) {
			return nil, fmt.Errorf("engine: market ids not dense: found %d at position %d", m.ID, len(markets))
		}
		markets = append(markets, &m)
	}

	offers := make(map[uint32]domain.Offer, len(snap.Offers))
	nextOfferID := snap.NextOfferID
	for _, o := range snap.Offers {
		offers[o.ID] = o
		if o.ID >= nextOfferID {
			nextOfferID = o.ID + 1
		}
	}

	credits := make(map[domain.AccountID]*uint256.Int, len(snap.Credits))
	for acct, amt := range snap.Credits {
		if amt == nil || amt.IsZero() {
			continue
		}
		credits[acct] = amt.Clone()
	}

	if sink == nil {
		sink = domain.NopSink{}
	}

	logger.Info("engine: ledger rehydrated",
		slog.Int("markets", len(markets)),
		slog.Int("open_offers", len(offers)),
		slog.Int("credit_accounts", len(credits)),
	)

	return &Engine{
		store:       store,
		sink:        sink,
		logger:      logger.With(slog.String("component", "engine")),
		markets:     markets,
		offers:      offers,
		credits:     credits,
		nextOfferID: nextOfferID,
	}, nil
}

// CreateMarket allocates the next dense market id and stores a new open
// market with an empty share history.
func (e *Engine) CreateMarket(ctx context.Context, owner domain.AccountID, description string) (domain.MarketView, error) {
	var events []domain.Event
	defer e.emitQueued(ctx, &events)

	e.mu.Lock()
	defer e.mu.Unlock()

	m := domain.Market{
		ID:          uint32(len(e.markets)),
		Owner:       owner,
		Description: description,
		IsOpen:      true,
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.store.InsertMarket(ctx, m); err != nil {
		return domain.MarketView{}, fmt.Errorf("engine: create market: %w", err)
	}
	e.markets = append(e.markets, &m)

	events = append(events, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID,
		Account:  owner,
	})

	return m.View(), nil
}

// emitQueued publishes the queued events of one operation. It is deferred
// before the engine lock is taken, so the deferred unlock has already run by
// the time the sink sees anything.
func (e *Engine) emitQueued(ctx context.Context, events *[]domain.Event) {
	for _, ev := range *events {
		e.sink.Emit(ctx, ev)
	}
}

// Market returns the read-only projection of a single market.
func (e *Engine) Market(id uint32) (domain.MarketView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(id) >= len(e.markets) {
		return domain.MarketView{}, domain.ErrNotFound
	}
	return e.markets[id].View(), nil
}

// Markets returns projections of every market in id order.
func (e *Engine) Markets() []domain.MarketView {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]domain.MarketView, len(e.markets))
	for i, m := range e.markets {
		views[i] = m.View()
	}
	return views
}

// Shares returns the full share history of a market. The history remains
// queryable after closure.
func (e *Engine) Shares(marketID uint32) ([]domain.SharePair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(marketID) >= len(e.markets) {
		return nil, domain.ErrNotFound
	}
	m := e.markets[marketID]
	shares := make([]domain.SharePair, len(m.Shares))
	copy(shares, m.Shares)
	return shares, nil
}

// CreateOffer escrows amount against one side of a market and posts the
// offer to the book. The market must exist and be open; validating here
// rather than at acceptance keeps orphaned offers out of the book.
func (e *Engine) CreateOffer(ctx context.Context, caller domain.AccountID, marketID uint32, isLong bool, amount *uint256.Int) (domain.OfferView, error) {
	if amount == nil || amount.IsZero() {
		return domain.OfferView{}, domain.ErrZeroAmount
	}
	if amount.BitLen() > domain.MaxStakeBits {
		return domain.OfferView{}, domain.ErrAmountTooLarge
	}

	var events []domain.Event
	defer e.emitQueued(ctx, &events)

	e.mu.Lock()
	defer e.mu.Unlock()

	if int(marketID) >= len(e.markets) {
		return domain.OfferView{}, domain.ErrNotFound
	}
	if !e.markets[marketID].IsOpen {
		return domain.OfferView{}, domain.ErrMarketClosed
	}

	o := domain.Offer{
		ID:        e.nextOfferID,
		MarketID:  marketID,
		IsLong:    isLong,
		Account:   caller,
		Amount:    amount.Clone(),
		CreatedAt: time.Now().UTC(),
	}

	if err := e.store.InsertOffer(ctx, o); err != nil {
		return domain.OfferView{}, fmt.Errorf("engine: create offer: %w", err)
	}
	e.offers[o.ID] = o
	e.nextOfferID++

	events = append(events, domain.Event{
		Type:     domain.EventOfferCreated,
		OfferID:  o.ID,
		MarketID: marketID,
		Account:  caller,
		Amount:   o.Amount.Clone(),
		IsLong:   isLong,
	})

	return o.View(), nil
}

// Offers returns the open offers for a market, ordered by offer id.
func (e *Engine) Offers(marketID uint32) []domain.OfferView {
	e.mu.Lock()
	defer e.mu.Unlock()

	var views []domain.OfferView
	for _, o := range e.offers {
		if o.MarketID == marketID {
			views = append(views, o.View())
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// AcceptOffer matches the caller against an open offer at exactly the
// offer's escrowed amount, consuming the offer and appending a share pair to
// the market's history. The offer row is deleted in the same transaction
// that appends the pair: a second acceptance of the same id always observes
// ErrNotFound.
func (e *Engine) AcceptOffer(ctx context.Context, caller domain.AccountID, offerID uint32, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}

	var events []domain.Event
	defer e.emitQueued(ctx, &events)

	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.offers[offerID]
	if !ok {
		// Never existed, or already consumed by an earlier acceptance.
		return domain.ErrNotFound
	}
	if !amount.Eq(o.Amount) {
		return domain.ErrAmountMismatch
	}
	if caller == o.Account {
		return domain.ErrSelfMatch
	}
	if int(o.MarketID) >= len(e.markets) {
		return domain.ErrNotFound
	}
	m := e.markets[o.MarketID]
	if !m.IsOpen {
		// A closed market's share history is frozen.
		return domain.ErrMarketClosed
	}

	long, short := o.Account, caller
	if !o.IsLong {
		long, short = caller, o.Account
	}
	pair := domain.SharePair{
		Long:   long,
		Short:  short,
		Amount: o.Amount.Clone(),
	}

	if err := e.store.MatchOffer(ctx, offerID, o.MarketID, uint32(len(m.Shares)), pair); err != nil {
		return fmt.Errorf("engine: accept offer: %w", err)
	}
	delete(e.offers, offerID)
	m.Shares = append(m.Shares, pair)

	events = append(events, domain.Event{
		Type:     domain.EventOfferAccepted,
		OfferID:  offerID,
		MarketID: o.MarketID,
		Account:  caller,
		Amount:   pair.Amount.Clone(),
	})

	return nil
}

// CloseMarket settles a market: only the owner may close, exactly once. The
// winning side of every share pair is credited twice the pair's escrowed
// amount (its own stake plus the matched counterparty stake), conserving the
// market's total collateral.
func (e *Engine) CloseMarket(ctx context.Context, caller domain.AccountID, marketID uint32, longWins bool) error {
	var events []domain.Event
	defer e.emitQueued(ctx, &events)

	e.mu.Lock()
	defer e.mu.Unlock()

	if int(marketID) >= len(e.markets) {
		return domain.ErrNotFound
	}
	m := e.markets[marketID]
	if !m.IsOpen {
		return domain.ErrMarketClosed
	}
	if caller != m.Owner {
		return domain.ErrUnauthorized
	}

	credits := settle(m.Shares, longWins)

	if err := e.store.SettleMarket(ctx, marketID, credits); err != nil {
		return fmt.Errorf("engine: close market %d: %w", marketID, err)
	}

	m.IsOpen = false
	now := time.Now().UTC()
	m.ClosedAt = &now
	for _, c := range credits {
		e.creditAccount(c.Account, c.Amount)
	}

	events = append(events, domain.Event{
		Type:     domain.EventMarketClosed,
		MarketID: marketID,
		Account:  caller,
		IsLong:   longWins,
	})
	for _, c := range credits {
		events = append(events, domain.Event{
			Type:     domain.EventCredited,
			MarketID: marketID,
			Account:  c.Account,
			Amount:   c.Amount.Clone(),
		})
	}

	e.logger.InfoContext(ctx, "market settled",
		slog.Uint64("market_id", uint64(marketID)),
		slog.Bool("long_wins", longWins),
		slog.Int("share_pairs", len(m.Shares)),
		slog.Int("payouts", len(credits)),
	)

	return nil
}

// creditAccount adds amount to the account's balance, creating the entry if
// absent. Caller holds the engine lock.
func (e *Engine) creditAccount(account domain.AccountID, amount *uint256.Int) {
	if bal, ok := e.credits[account]; ok {
		bal.Add(bal, amount)
		return
	}
	e.credits[account] = amount.Clone()
}

// CreditBalance returns the caller's current credit balance. A missing entry
// and a zero balance are the same thing.
func (e *Engine) CreditBalance(account domain.AccountID) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if bal, ok := e.credits[account]; ok {
		return bal.Clone()
	}
	return uint256.NewInt(0)
}

// Withdraw drains the caller's full credit balance and removes the entry.
// The entry is cleared before any external transfer is requested, so a
// failed transfer can never be retried into a double payment; the caller of
// Withdraw owns dispatching the transfer as a follow-up.
func (e *Engine) Withdraw(ctx context.Context, caller domain.AccountID) (*uint256.Int, error) {
	var events []domain.Event
	defer e.emitQueued(ctx, &events)

	e.mu.Lock()
	defer e.mu.Unlock()

	bal, ok := e.credits[caller]
	if !ok {
		return nil, domain.ErrNoBalance
	}

	if err := e.store.ClearCredit(ctx, caller); err != nil {
		return nil, fmt.Errorf("engine: withdraw: %w", err)
	}
	delete(e.credits, caller)

	events = append(events, domain.Event{
		Type:    domain.EventWithdrawn,
		Account: caller,
		Amount:  bal.Clone(),
	})

	return bal, nil
}
