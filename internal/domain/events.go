package domain

import (
	"context"

	"github.com/holiman/uint256"
)

// EventType names a ledger state transition.
type EventType string

const (
	EventMarketCreated EventType = "market_created"
	EventOfferCreated  EventType = "offer_created"
	EventOfferAccepted EventType = "offer_accepted"
	EventMarketClosed  EventType = "market_closed"
	EventCredited      EventType = "credited"
	EventWithdrawn     EventType = "withdrawn"
)

// Event is one ledger state transition. Fields are populated as relevant for
// the event type; Amount is nil when the event carries no amount.
type Event struct {
	Type     EventType
	MarketID uint32
	OfferID  uint32
	Account  AccountID
	Amount   *uint256.Int
	IsLong   bool
}

// EventSink receives one event per committed state transition. Emission
// happens after the transition is durable; sink failures are an observer
// concern and never affect ledger state.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
