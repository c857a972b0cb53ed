package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/holiman/uint256"

	"github.com/peerstake/peerstake/internal/domain"
)

// OfferService defines the methods that the offer handler requires from the
// service layer.
type OfferService interface {
	Create(ctx context.Context, caller domain.AccountID, marketID uint32, isLong bool, amount *uint256.Int) (domain.OfferView, error)
	List(marketID uint32) []domain.OfferView
	Accept(ctx context.Context, caller domain.AccountID, offerID uint32, amount *uint256.Int) error
}

// OfferHandler serves offer book HTTP endpoints.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler with the given service and logger.
func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{
		offers: offers,
		logger: logger,
	}
}

type createOfferRequest struct {
	IsLong *bool  `json:"is_long"`
	Amount string `json:"amount"`
}

// CreateOffer posts a new offer on a market, escrowing the attached amount.
// POST /api/markets/{id}/offers
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	marketID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IsLong == nil {
		writeError(w, http.StatusBadRequest, "is_long is required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	view, err := h.offers.Create(r.Context(), caller, marketID, *req.IsLong, amount)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create offer failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create offer")
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// listOffersResponse wraps a market's open offers.
type listOffersResponse struct {
	MarketID uint32             `json:"market_id"`
	Offers   []domain.OfferView `json:"offers"`
	Total    int                `json:"total"`
}

// ListOffers returns the open offers on a market in id order.
// GET /api/markets/{id}/offers
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	marketID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	offers := h.offers.List(marketID)
	writeJSON(w, http.StatusOK, listOffersResponse{
		MarketID: marketID,
		Offers:   offers,
		Total:    len(offers),
	})
}

type acceptOfferRequest struct {
	Amount string `json:"amount"`
}

// AcceptOffer matches the caller against an open offer. The attached amount
// must equal the offer amount exactly.
// POST /api/offers/{id}/accept
func (h *OfferHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	offerID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	var req acceptOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := h.offers.Accept(r.Context(), caller, offerID, amount); err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: accept offer failed",
			slog.Uint64("offer_id", uint64(offerID)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to accept offer")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"offer_id": offerID,
		"matched":  true,
	})
}
