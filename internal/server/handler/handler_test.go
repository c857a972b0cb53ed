package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/engine"
	"github.com/peerstake/peerstake/internal/server/middleware"
	"github.com/peerstake/peerstake/internal/service"
	"github.com/peerstake/peerstake/internal/store/memory"
)

// newTestMux builds the handler set over a memory-backed engine and returns
// a mux with the same route patterns the server registers.
func newTestMux(t *testing.T) (*http.ServeMux, *engine.Engine) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(context.Background(), memory.New(), nil, logger)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	markets := NewMarketHandler(service.NewMarketService(eng, nil, logger), logger)
	offers := NewOfferHandler(service.NewOfferService(eng, logger), logger)
	credits := NewCreditHandler(creditNoBank{eng}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/shares", markets.ListShares)
	mux.HandleFunc("POST /api/markets/{id}/close", markets.CloseMarket)
	mux.HandleFunc("POST /api/markets/{id}/offers", offers.CreateOffer)
	mux.HandleFunc("GET /api/markets/{id}/offers", offers.ListOffers)
	mux.HandleFunc("POST /api/offers/{id}/accept", offers.AcceptOffer)
	mux.HandleFunc("GET /api/credits/balance", credits.GetBalance)
	mux.HandleFunc("POST /api/credits/withdraw", credits.Withdraw)
	return mux, eng
}

// creditNoBank adapts the engine to CreditService without dispatching payout
// transfers, keeping tests free of detached goroutines.
type creditNoBank struct {
	eng *engine.Engine
}

func (c creditNoBank) Balance(caller domain.AccountID) *uint256.Int {
	return c.eng.CreditBalance(caller)
}

func (c creditNoBank) Withdraw(ctx context.Context, caller domain.AccountID) (*uint256.Int, error) {
	return c.eng.Withdraw(ctx, caller)
}

// do performs a request against the mux as the given caller. An empty caller
// sends the request unauthenticated.
func do(mux *http.ServeMux, caller domain.AccountID, method, target, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if caller != "" {
		req = req.WithContext(middleware.WithCaller(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestMarketEndpoints(t *testing.T) {
	mux, _ := newTestMux(t)

	// Creation requires a caller.
	if rec := do(mux, "", http.MethodPost, "/api/markets", `{"description":"x"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated create = %d, want 401", rec.Code)
	}

	rec := do(mux, "alice", http.MethodPost, "/api/markets", `{"description":"will it rain"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market = %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[domain.MarketView](t, rec)
	if created.ID != 0 || created.Owner != "alice" || !created.IsOpen {
		t.Errorf("created market = %+v", created)
	}

	if rec := do(mux, "alice", http.MethodPost, "/api/markets", `{"description":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank description = %d, want 400", rec.Code)
	}

	rec = do(mux, "", http.MethodGet, "/api/markets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list markets = %d", rec.Code)
	}
	list := decode[listMarketsResponse](t, rec)
	if list.Total != 1 || len(list.Markets) != 1 {
		t.Errorf("list = %+v", list)
	}

	if rec := do(mux, "", http.MethodGet, "/api/markets/7", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing market = %d, want 404", rec.Code)
	}
	if rec := do(mux, "", http.MethodGet, "/api/markets/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", rec.Code)
	}
}

func TestOfferAndSettlementFlow(t *testing.T) {
	mux, _ := newTestMux(t)

	do(mux, "owner", http.MethodPost, "/api/markets", `{"description":"m"}`)

	rec := do(mux, "alice", http.MethodPost, "/api/markets/0/offers", `{"is_long":true,"amount":"100"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create offer = %d: %s", rec.Code, rec.Body.String())
	}
	offer := decode[domain.OfferView](t, rec)
	if offer.ID != 0 || offer.Amount != "100" {
		t.Errorf("offer = %+v", offer)
	}

	if rec := do(mux, "alice", http.MethodPost, "/api/markets/0/offers", `{"is_long":true,"amount":"0"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero amount = %d, want 422", rec.Code)
	}
	if rec := do(mux, "alice", http.MethodPost, "/api/markets/0/offers", `{"is_long":true,"amount":"12.5"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("non-integer amount = %d, want 400", rec.Code)
	}
	oversized := new(uint256.Int).Lsh(uint256.NewInt(1), 255).Dec()
	if rec := do(mux, "alice", http.MethodPost, "/api/markets/0/offers", `{"is_long":true,"amount":"`+oversized+`"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("oversized amount = %d, want 422", rec.Code)
	}
	if rec := do(mux, "bob", http.MethodPost, "/api/offers/0/accept", `{"amount":"`+oversized+`"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("oversized accept amount = %d, want 422", rec.Code)
	}
	if rec := do(mux, "alice", http.MethodPost, "/api/markets/0/offers", `{"amount":"10"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing is_long = %d, want 400", rec.Code)
	}

	if rec := do(mux, "alice", http.MethodPost, "/api/offers/0/accept", `{"amount":"100"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("self match = %d, want 422", rec.Code)
	}
	if rec := do(mux, "bob", http.MethodPost, "/api/offers/0/accept", `{"amount":"70"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("amount mismatch = %d, want 422", rec.Code)
	}

	rec = do(mux, "bob", http.MethodPost, "/api/offers/0/accept", `{"amount":"100"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(mux, "carol", http.MethodPost, "/api/offers/0/accept", `{"amount":"100"}`); rec.Code != http.StatusNotFound {
		t.Errorf("double accept = %d, want 404", rec.Code)
	}

	rec = do(mux, "", http.MethodGet, "/api/markets/0/shares", "")
	shares := decode[listSharesResponse](t, rec)
	if shares.Total != 1 || shares.Shares[0].Long != "alice" || shares.Shares[0].Short != "bob" {
		t.Errorf("shares = %+v", shares)
	}

	// Close: owner only, exactly once.
	if rec := do(mux, "mallory", http.MethodPost, "/api/markets/0/close", `{"long_wins":true}`); rec.Code != http.StatusForbidden {
		t.Errorf("close by non-owner = %d, want 403", rec.Code)
	}
	if rec := do(mux, "owner", http.MethodPost, "/api/markets/0/close", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("close without outcome = %d, want 400", rec.Code)
	}
	if rec := do(mux, "owner", http.MethodPost, "/api/markets/0/close", `{"long_wins":true}`); rec.Code != http.StatusOK {
		t.Errorf("close = %d", rec.Code)
	}
	if rec := do(mux, "owner", http.MethodPost, "/api/markets/0/close", `{"long_wins":false}`); rec.Code != http.StatusConflict {
		t.Errorf("second close = %d, want 409", rec.Code)
	}

	// Winner balance and withdrawal.
	rec = do(mux, "alice", http.MethodGet, "/api/credits/balance", "")
	bal := decode[balanceResponse](t, rec)
	if bal.Balance != "200" {
		t.Errorf("alice balance = %q, want 200", bal.Balance)
	}

	rec = do(mux, "alice", http.MethodPost, "/api/credits/withdraw", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw = %d: %s", rec.Code, rec.Body.String())
	}
	wd := decode[withdrawResponse](t, rec)
	if wd.Amount != "200" {
		t.Errorf("withdrawn = %q, want 200", wd.Amount)
	}
	if rec := do(mux, "alice", http.MethodPost, "/api/credits/withdraw", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second withdraw = %d, want 404", rec.Code)
	}
	if rec := do(mux, "bob", http.MethodPost, "/api/credits/withdraw", ""); rec.Code != http.StatusNotFound {
		t.Errorf("loser withdraw = %d, want 404", rec.Code)
	}
}
