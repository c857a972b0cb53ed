package service

import (
	"context"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/engine"
)

// OfferService exposes the offer book operations.
type OfferService struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewOfferService creates an OfferService.
func NewOfferService(eng *engine.Engine, logger *slog.Logger) *OfferService {
	return &OfferService{
		engine: eng,
		logger: logger.With(slog.String("component", "offer_service")),
	}
}

// Create posts an offer escrowing amount against one side of a market.
func (s *OfferService) Create(ctx context.Context, caller domain.AccountID, marketID uint32, isLong bool, amount *uint256.Int) (domain.OfferView, error) {
	return s.engine.CreateOffer(ctx, caller, marketID, isLong, amount)
}

// List returns the open offers for a market.
func (s *OfferService) List(marketID uint32) []domain.OfferView {
	return s.engine.Offers(marketID)
}

// Accept matches the caller against an open offer at exactly its amount.
func (s *OfferService) Accept(ctx context.Context, caller domain.AccountID, offerID uint32, amount *uint256.Int) error {
	return s.engine.AcceptOffer(ctx, caller, offerID, amount)
}
