package postgres

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerstake/peerstake/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Every mutation
// method runs in a single transaction so one engine operation is one commit.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// parseAmount converts a NUMERIC(78,0) rendered as text into a uint256.
func parseAmount(s string) (*uint256.Int, error) {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return u, nil
}

// Load reads the entire persisted ledger state.
func (s *LedgerStore) Load(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{
		Credits: make(map[domain.AccountID]*uint256.Int),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, description, is_open, created_at, closed_at
		   FROM markets ORDER BY id`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load markets: %w", err)
	}
	byID := make(map[uint32]int)
	for rows.Next() {
		var m domain.Market
		if err := rows.Scan(&m.ID, &m.Owner, &m.Description, &m.IsOpen, &m.CreatedAt, &m.ClosedAt); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: scan market: %w", err)
		}
		byID[m.ID] = len(snap.Markets)
		snap.Markets = append(snap.Markets, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load markets rows: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT market_id, long_account, short_account, amount::text
		   FROM shares ORDER BY market_id, seq`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load shares: %w", err)
	}
	for rows.Next() {
		var (
			marketID uint32
			pair     domain.SharePair
			amt      string
		)
		if err := rows.Scan(&marketID, &pair.Long, &pair.Short, &amt); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: scan share: %w", err)
		}
		if pair.Amount, err = parseAmount(amt); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: share amount: %w", err)
		}
		idx, ok := byID[marketID]
		if !ok {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: share references unknown market %d", marketID)
		}
		snap.Markets[idx].Shares = append(snap.Markets[idx].Shares, pair)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load shares rows: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, market_id, is_long, account_id, amount::text, created_at
		   FROM offers ORDER BY id`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load offers: %w", err)
	}
	for rows.Next() {
		var (
			o   domain.Offer
			amt string
		)
		if err := rows.Scan(&o.ID, &o.MarketID, &o.IsLong, &o.Account, &amt, &o.CreatedAt); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: scan offer: %w", err)
		}
		if o.Amount, err = parseAmount(amt); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: offer amount: %w", err)
		}
		snap.Offers = append(snap.Offers, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load offers rows: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT account_id, amount::text FROM credits`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load credits: %w", err)
	}
	for rows.Next() {
		var (
			acct domain.AccountID
			amt  string
		)
		if err := rows.Scan(&acct, &amt); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: scan credit: %w", err)
		}
		bal, err := parseAmount(amt)
		if err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("postgres: credit amount: %w", err)
		}
		snap.Credits[acct] = bal
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load credits rows: %w", err)
	}

	var next int64
	err = s.pool.QueryRow(ctx,
		`SELECT value FROM counters WHERE name = 'next_offer_id'`).Scan(&next)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: load offer counter: %w", err)
	}
	snap.NextOfferID = uint32(next)

	return snap, nil
}

// InsertMarket stores a newly created market.
func (s *LedgerStore) InsertMarket(ctx context.Context, m domain.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, owner, description, is_open, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Owner, m.Description, m.IsOpen, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %d: %w", m.ID, err)
	}
	return nil
}

// InsertOffer stores a new offer and advances the persisted offer-id counter
// in the same transaction.
func (s *LedgerStore) InsertOffer(ctx context.Context, o domain.Offer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: insert offer %d: begin: %w", o.ID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO offers (id, market_id, is_long, account_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		o.ID, o.MarketID, o.IsLong, o.Account, o.Amount.Dec(), o.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert offer %d: %w", o.ID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE counters SET value = GREATEST(value, $1) WHERE name = 'next_offer_id'`,
		int64(o.ID)+1,
	); err != nil {
		return fmt.Errorf("postgres: insert offer %d: counter: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: insert offer %d: commit: %w", o.ID, err)
	}
	return nil
}

// MatchOffer deletes the offer row and appends the share pair in one
// transaction. The delete is issued first and must hit exactly one row: a
// concurrent acceptance of the same id fails here without touching shares.
func (s *LedgerStore) MatchOffer(ctx context.Context, offerID uint32, marketID uint32, seq uint32, pair domain.SharePair) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: match offer %d: begin: %w", offerID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM offers WHERE id = $1`, offerID)
	if err != nil {
		return fmt.Errorf("postgres: match offer %d: delete: %w", offerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: match offer %d: %w", offerID, domain.ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO shares (market_id, seq, long_account, short_account, amount)
		 VALUES ($1, $2, $3, $4, $5::numeric)`,
		marketID, seq, pair.Long, pair.Short, pair.Amount.Dec(),
	); err != nil {
		return fmt.Errorf("postgres: match offer %d: insert share: %w", offerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: match offer %d: commit: %w", offerID, err)
	}
	return nil
}

// SettleMarket marks the market closed and applies all credit increments in
// one transaction.
func (s *LedgerStore) SettleMarket(ctx context.Context, marketID uint32, credits []domain.CreditDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: settle market %d: begin: %w", marketID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE markets SET is_open = FALSE, closed_at = NOW()
		  WHERE id = $1 AND is_open`,
		marketID,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle market %d: close: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle market %d: %w", marketID, domain.ErrMarketClosed)
	}

	for _, c := range credits {
		if _, err := tx.Exec(ctx,
			`INSERT INTO credits (account_id, amount) VALUES ($1, $2::numeric)
			 ON CONFLICT (account_id) DO UPDATE
			    SET amount = credits.amount + EXCLUDED.amount`,
			c.Account, c.Amount.Dec(),
		); err != nil {
			return fmt.Errorf("postgres: settle market %d: credit %s: %w", marketID, c.Account, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: settle market %d: commit: %w", marketID, err)
	}
	return nil
}

// ClearCredit removes the account's credit entry.
func (s *LedgerStore) ClearCredit(ctx context.Context, account domain.AccountID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credits WHERE account_id = $1`, account)
	if err != nil {
		return fmt.Errorf("postgres: clear credit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: clear credit %s: %w", account, domain.ErrNoBalance)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
