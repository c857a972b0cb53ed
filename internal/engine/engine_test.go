package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	eng, err := New(context.Background(), store, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, store
}

func amt(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

func TestCreateMarketAssignsDenseIDs(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		view, err := eng.CreateMarket(ctx, "alice", "will it rain")
		if err != nil {
			t.Fatalf("CreateMarket: %v", err)
		}
		if view.ID != uint32(i) {
			t.Errorf("market id = %d, want %d", view.ID, i)
		}
		if !view.IsOpen {
			t.Errorf("market %d not open after creation", view.ID)
		}
	}

	if got := len(eng.Markets()); got != 3 {
		t.Errorf("Markets() returned %d, want 3", got)
	}
}

func TestMarketNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)

	if _, err := eng.Market(0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Market(0) on empty ledger = %v, want ErrNotFound", err)
	}
	if _, err := eng.Shares(7); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Shares(7) = %v, want ErrNotFound", err)
	}
}

func TestCreateOfferValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(0)); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("zero amount = %v, want ErrZeroAmount", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, nil); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("nil amount = %v, want ErrZeroAmount", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing market = %v, want ErrNotFound", err)
	}

	if _, err := eng.CreateMarket(ctx, "alice", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := eng.CloseMarket(ctx, "alice", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "bob", 0, false, amt(100)); !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("offer on closed market = %v, want ErrMarketClosed", err)
	}
}

func TestCreateOfferStakeBound(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "alice", "bounded stakes"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	// A 255-bit stake would double to a payout that wraps to near zero.
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, huge); !errors.Is(err, domain.ErrAmountTooLarge) {
		t.Fatalf("oversized offer = %v, want ErrAmountTooLarge", err)
	}
	if got := eng.Offers(0); len(got) != 0 {
		t.Fatalf("rejected offer reached the book: %d open", len(got))
	}

	// The largest admissible stake, 2^128 - 1, settles to exactly double.
	maxStake := new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	view, err := eng.CreateOffer(ctx, "alice", 0, true, maxStake)
	if err != nil {
		t.Fatalf("CreateOffer(max stake): %v", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", view.ID, maxStake); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := eng.CloseMarket(ctx, "alice", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	want := new(uint256.Int).Add(maxStake, maxStake)
	bal := eng.CreditBalance("alice")
	if bal.IsZero() || !bal.Eq(want) {
		t.Errorf("winner balance = %s, want %s", bal.Dec(), want.Dec())
	}
}

func TestOfferLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	view, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100))
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if view.ID != 0 || view.Amount != "100" || !view.IsLong {
		t.Errorf("offer view = %+v", view)
	}

	offers := eng.Offers(0)
	if len(offers) != 1 || offers[0].ID != 0 {
		t.Fatalf("Offers(0) = %+v, want one offer with id 0", offers)
	}

	if err := eng.AcceptOffer(ctx, "bob", 0, amt(100)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}

	if offers := eng.Offers(0); len(offers) != 0 {
		t.Errorf("offer still listed after acceptance: %+v", offers)
	}

	shares, err := eng.Shares(0)
	if err != nil {
		t.Fatalf("Shares: %v", err)
	}
	if len(shares) != 1 {
		t.Fatalf("shares = %d, want 1", len(shares))
	}
	pair := shares[0]
	if pair.Long != "alice" || pair.Short != "bob" {
		t.Errorf("pair sides = long %q short %q, want alice/bob", pair.Long, pair.Short)
	}
	if !pair.Amount.Eq(amt(100)) {
		t.Errorf("pair amount = %s, want 100", pair.Amount.Dec())
	}
}

func TestAcceptOfferShortSide(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, false, amt(50)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(50)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}

	shares, _ := eng.Shares(0)
	if shares[0].Long != "bob" || shares[0].Short != "alice" {
		t.Errorf("pair sides = long %q short %q, want bob/alice", shares[0].Long, shares[0].Short)
	}
}

func TestAcceptOfferValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	if err := eng.AcceptOffer(ctx, "bob", 0, amt(0)); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("zero amount = %v, want ErrZeroAmount", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", 99, amt(100)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing offer = %v, want ErrNotFound", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(99)); !errors.Is(err, domain.ErrAmountMismatch) {
		t.Errorf("wrong amount = %v, want ErrAmountMismatch", err)
	}
	if err := eng.AcceptOffer(ctx, "alice", 0, amt(100)); !errors.Is(err, domain.ErrSelfMatch) {
		t.Errorf("self match = %v, want ErrSelfMatch", err)
	}

	// Failed attempts leave the offer standing.
	if offers := eng.Offers(0); len(offers) != 1 {
		t.Errorf("offer count after failed accepts = %d, want 1", len(offers))
	}

	// Second acceptance of a consumed offer observes ErrNotFound.
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(100)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := eng.AcceptOffer(ctx, "carol", 0, amt(100)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double accept = %v, want ErrNotFound", err)
	}
}

func TestAcceptOfferAtMostOnceConcurrent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	const takers = 16
	var wg sync.WaitGroup
	errs := make([]error, takers)
	for i := 0; i < takers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = eng.AcceptOffer(ctx, domain.AccountID(string(rune('b'+i))), 0, amt(100))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrNotFound):
		default:
			t.Errorf("unexpected acceptance error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("offer accepted %d times, want exactly 1", won)
	}

	shares, _ := eng.Shares(0)
	if len(shares) != 1 {
		t.Errorf("share pairs = %d, want 1", len(shares))
	}
}

func TestCloseMarketSettlement(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(100)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}

	if err := eng.CloseMarket(ctx, "intruder", 0, true); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("close by non-owner = %v, want ErrUnauthorized", err)
	}
	if err := eng.CloseMarket(ctx, "owner", 9, true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("close missing market = %v, want ErrNotFound", err)
	}

	if err := eng.CloseMarket(ctx, "owner", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	// Winner receives both stakes, loser nothing.
	if bal := eng.CreditBalance("alice"); !bal.Eq(amt(200)) {
		t.Errorf("alice balance = %s, want 200", bal.Dec())
	}
	if bal := eng.CreditBalance("bob"); !bal.IsZero() {
		t.Errorf("bob balance = %s, want 0", bal.Dec())
	}

	// Closure is exactly-once and freezes the share history.
	if err := eng.CloseMarket(ctx, "owner", 0, false); !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("second close = %v, want ErrMarketClosed", err)
	}
	shares, err := eng.Shares(0)
	if err != nil || len(shares) != 1 {
		t.Errorf("share history after close: %v, %d pairs", err, len(shares))
	}
}

func TestCloseMarketShortWins(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(100)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := eng.CloseMarket(ctx, "owner", 0, false); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	if bal := eng.CreditBalance("bob"); !bal.Eq(amt(200)) {
		t.Errorf("bob balance = %s, want 200", bal.Dec())
	}
	if bal := eng.CreditBalance("alice"); !bal.IsZero() {
		t.Errorf("alice balance = %s, want 0", bal.Dec())
	}
}

func TestSettlementConservesCollateral(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	stakes := []uint64{100, 250, 7}
	escrowed := uint256.NewInt(0)
	for i, s := range stakes {
		if _, err := eng.CreateOffer(ctx, "alice", 0, i%2 == 0, amt(s)); err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
		if err := eng.AcceptOffer(ctx, "bob", uint32(i), amt(s)); err != nil {
			t.Fatalf("AcceptOffer: %v", err)
		}
		escrowed.Add(escrowed, amt(s))
		escrowed.Add(escrowed, amt(s))
	}

	if err := eng.CloseMarket(ctx, "owner", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	paid := new(uint256.Int).Add(eng.CreditBalance("alice"), eng.CreditBalance("bob"))
	if !paid.Eq(escrowed) {
		t.Errorf("total paid %s != total escrowed %s", paid.Dec(), escrowed.Dec())
	}
}

func TestOpenOffersNotSettled(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := eng.CloseMarket(ctx, "owner", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	// An unmatched offer holds no opposing stake, so it pays nothing.
	if bal := eng.CreditBalance("alice"); !bal.IsZero() {
		t.Errorf("alice balance = %s, want 0", bal.Dec())
	}
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(100)); !errors.Is(err, domain.ErrMarketClosed) {
		t.Errorf("accept after close = %v, want ErrMarketClosed", err)
	}
}

func TestWithdrawDrainsOnce(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Withdraw(ctx, "alice"); !errors.Is(err, domain.ErrNoBalance) {
		t.Errorf("withdraw with no balance = %v, want ErrNoBalance", err)
	}

	if _, err := eng.CreateMarket(ctx, "owner", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(100)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := eng.CloseMarket(ctx, "owner", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}

	got, err := eng.Withdraw(ctx, "alice")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !got.Eq(amt(200)) {
		t.Errorf("withdrawn = %s, want 200", got.Dec())
	}
	if bal := eng.CreditBalance("alice"); !bal.IsZero() {
		t.Errorf("balance after withdraw = %s, want 0", bal.Dec())
	}
	if _, err := eng.Withdraw(ctx, "alice"); !errors.Is(err, domain.ErrNoBalance) {
		t.Errorf("second withdraw = %v, want ErrNoBalance", err)
	}
}

func TestRehydration(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	eng, err := New(ctx, store, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := eng.CreateMarket(ctx, "owner", "settled"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateMarket(ctx, "owner", "live"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", 0, amt(100)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := eng.CloseMarket(ctx, "owner", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	if _, err := eng.CreateOffer(ctx, "carol", 1, false, amt(40)); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	// A fresh engine over the same store sees identical state.
	eng2, err := New(ctx, store, nil, testLogger())
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	if got := len(eng2.Markets()); got != 2 {
		t.Fatalf("markets after rehydration = %d, want 2", got)
	}
	m0, _ := eng2.Market(0)
	if m0.IsOpen {
		t.Errorf("market 0 open after rehydration, want closed")
	}
	shares, _ := eng2.Shares(0)
	if len(shares) != 1 {
		t.Errorf("market 0 shares = %d, want 1", len(shares))
	}
	if bal := eng2.CreditBalance("alice"); !bal.Eq(amt(200)) {
		t.Errorf("alice balance after rehydration = %s, want 200", bal.Dec())
	}
	offers := eng2.Offers(1)
	if len(offers) != 1 || offers[0].Account != "carol" {
		t.Fatalf("open offers after rehydration = %+v", offers)
	}

	// New offers must not reuse persisted ids.
	view, err := eng2.CreateOffer(ctx, "dave", 1, true, amt(10))
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if view.ID != 2 {
		t.Errorf("next offer id after rehydration = %d, want 2", view.ID)
	}
}

// reentrantSink reads engine state from inside Emit, as a sink that enriches
// events with a balance lookup would. It deadlocks if events are emitted
// while the engine lock is still held.
type reentrantSink struct {
	eng  *Engine
	seen int
}

func (s *reentrantSink) Emit(ctx context.Context, ev domain.Event) {
	s.eng.CreditBalance("observer")
	s.seen++
}

func TestEventsEmittedOutsideLock(t *testing.T) {
	store := memory.New()
	sink := &reentrantSink{}
	eng, err := New(context.Background(), store, sink, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink.eng = eng
	ctx := context.Background()

	if _, err := eng.CreateMarket(ctx, "alice", "m"); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	view, err := eng.CreateOffer(ctx, "alice", 0, true, amt(100))
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := eng.AcceptOffer(ctx, "bob", view.ID, amt(100)); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := eng.CloseMarket(ctx, "alice", 0, true); err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	if _, err := eng.Withdraw(ctx, "alice"); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	// created, offer, accepted, closed, credited, withdrawn.
	if sink.seen != 6 {
		t.Errorf("events emitted = %d, want 6", sink.seen)
	}
}
