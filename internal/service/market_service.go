// Package service wraps the ledger engine with the follow-up actions that
// live outside the per-call atomic unit: settlement report archival and
// withdrawal fund transfers. Local state always commits first; a follow-up
// failure is logged and alerted, never rolled back.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/engine"
)

// archiveTimeout bounds the detached settlement report upload.
const archiveTimeout = 30 * time.Second

// MarketService exposes market lifecycle operations.
type MarketService struct {
	engine  *engine.Engine
	archive domain.BlobWriter // optional
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. archive may be nil, in which
// case settlement reports are not exported.
func NewMarketService(eng *engine.Engine, archive domain.BlobWriter, logger *slog.Logger) *MarketService {
	return &MarketService{
		engine:  eng,
		archive: archive,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// Create opens a new market owned by the caller.
func (s *MarketService) Create(ctx context.Context, caller domain.AccountID, description string) (domain.MarketView, error) {
	return s.engine.CreateMarket(ctx, caller, description)
}

// Get returns a single market projection.
func (s *MarketService) Get(id uint32) (domain.MarketView, error) {
	return s.engine.Market(id)
}

// List returns all market projections in id order.
func (s *MarketService) List() []domain.MarketView {
	return s.engine.Markets()
}

// Shares returns a market's full share history.
func (s *MarketService) Shares(id uint32) ([]domain.SharePairView, error) {
	shares, err := s.engine.Shares(id)
	if err != nil {
		return nil, err
	}
	views := make([]domain.SharePairView, len(shares))
	for i, p := range shares {
		views[i] = p.View()
	}
	return views, nil
}

// Close settles the market and, once settlement has committed, exports a
// settlement report to object storage as a detached best-effort follow-up.
func (s *MarketService) Close(ctx context.Context, caller domain.AccountID, id uint32, longWins bool) error {
	if err := s.engine.CloseMarket(ctx, caller, id, longWins); err != nil {
		return err
	}

	if s.archive != nil {
		go s.archiveReport(id, longWins)
	}
	return nil
}

// settlementReport is the archived record of one market's settlement.
type settlementReport struct {
	MarketID    uint32           `json:"market_id"`
	Description string           `json:"description"`
	Owner       domain.AccountID `json:"owner"`
	LongWins    bool             `json:"long_wins"`
	SettledAt   time.Time        `json:"settled_at"`
	Pairs       []reportPair     `json:"pairs"`
	TotalPaid   string           `json:"total_paid"`
}

type reportPair struct {
	Long   domain.AccountID `json:"long"`
	Short  domain.AccountID `json:"short"`
	Amount string           `json:"amount"`
	Winner domain.AccountID `json:"winner"`
	Payout string           `json:"payout"`
}

// archiveReport builds and uploads the settlement report. It runs detached
// from the closing call with its own deadline.
func (s *MarketService) archiveReport(id uint32, longWins bool) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	view, err := s.engine.Market(id)
	if err != nil {
		s.logger.Error("archive: market lookup failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		return
	}
	shares, err := s.engine.Shares(id)
	if err != nil {
		s.logger.Error("archive: share lookup failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		return
	}

	report := settlementReport{
		MarketID:    id,
		Description: view.Description,
		Owner:       view.Owner,
		LongWins:    longWins,
		SettledAt:   time.Now().UTC(),
		Pairs:       make([]reportPair, 0, len(shares)),
	}
	total := uint256.NewInt(0)
	for _, p := range shares {
		winner := p.Short
		if longWins {
			winner = p.Long
		}
		payout := new(uint256.Int).Add(p.Amount, p.Amount)
		total.Add(total, payout)
		report.Pairs = append(report.Pairs, reportPair{
			Long:   p.Long,
			Short:  p.Short,
			Amount: p.Amount.Dec(),
			Winner: winner,
			Payout: payout.Dec(),
		})
	}
	report.TotalPaid = total.Dec()

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.logger.Error("archive: marshal report failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		return
	}

	path := fmt.Sprintf("settlements/market-%06d.json", id)
	if err := s.archive.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		s.logger.Error("archive: upload failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("settlement report archived",
		slog.Uint64("market_id", uint64(id)),
		slog.String("path", path),
	)
}
