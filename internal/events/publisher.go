// Package events turns committed ledger state transitions into structured
// notifications: a durable Redis stream entry, an ephemeral pub/sub publish
// for live observers, and operator alerts through the notifier. Delivery is
// best-effort; a failed publish is logged and never affects ledger state.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/peerstake/peerstake/internal/domain"
	"github.com/peerstake/peerstake/internal/notify"
)

const (
	// Stream is the durable Redis stream ledger events are appended to.
	Stream = "stream:ledger"
	// Channel is the pub/sub channel live observers subscribe on.
	Channel = "ch:ledger"
)

// envelope is the wire format of a published event.
type envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	MarketID  *uint32   `json:"market_id,omitempty"`
	OfferID   *uint32   `json:"offer_id,omitempty"`
	Account   string    `json:"account_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	IsLong    *bool     `json:"is_long,omitempty"`
}

// Publisher implements domain.EventSink. Both bus and notifier are optional;
// a nil dependency simply skips that delivery path.
type Publisher struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Emit publishes one state transition to all configured delivery paths.
func (p *Publisher) Emit(ctx context.Context, ev domain.Event) {
	env := envelope{
		ID:        uuid.NewString(),
		Type:      string(ev.Type),
		Timestamp: time.Now().UTC(),
	}
	if ev.Account != "" {
		env.Account = string(ev.Account)
	}
	if ev.Amount != nil {
		env.Amount = ev.Amount.Dec()
	}

	switch ev.Type {
	case domain.EventMarketCreated:
		env.MarketID = &ev.MarketID
	case domain.EventOfferCreated:
		env.MarketID = &ev.MarketID
		env.OfferID = &ev.OfferID
		isLong := ev.IsLong
		env.IsLong = &isLong
	case domain.EventOfferAccepted:
		env.MarketID = &ev.MarketID
		env.OfferID = &ev.OfferID
	case domain.EventMarketClosed:
		env.MarketID = &ev.MarketID
		longWins := ev.IsLong
		env.IsLong = &longWins
	case domain.EventCredited:
		env.MarketID = &ev.MarketID
	case domain.EventWithdrawn:
		// Account and amount only.
	}

	payload, err := json.Marshal(env)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal event failed",
			slog.String("type", env.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	if p.bus != nil {
		if err := p.bus.StreamAppend(ctx, Stream, payload); err != nil {
			p.logger.WarnContext(ctx, "stream append failed",
				slog.String("type", env.Type),
				slog.String("error", err.Error()),
			)
		}
		if err := p.bus.Publish(ctx, Channel, payload); err != nil {
			p.logger.WarnContext(ctx, "publish failed",
				slog.String("type", env.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if p.notifier != nil {
		title, message := describe(ev)
		if err := p.notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
			p.logger.WarnContext(ctx, "notify failed",
				slog.String("type", env.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// describe renders a human-readable alert for operator channels.
func describe(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventMarketCreated:
		return "Market created",
			fmt.Sprintf("market %d opened by %s", ev.MarketID, ev.Account)
	case domain.EventOfferCreated:
		side := "short"
		if ev.IsLong {
			side = "long"
		}
		return "Offer posted",
			fmt.Sprintf("offer %d on market %d: %s %s by %s", ev.OfferID, ev.MarketID, side, ev.Amount.Dec(), ev.Account)
	case domain.EventOfferAccepted:
		return "Offer matched",
			fmt.Sprintf("offer %d on market %d accepted by %s", ev.OfferID, ev.MarketID, ev.Account)
	case domain.EventMarketClosed:
		side := "short"
		if ev.IsLong {
			side = "long"
		}
		return "Market settled",
			fmt.Sprintf("market %d closed, %s side wins", ev.MarketID, side)
	case domain.EventCredited:
		return "Settlement credit",
			fmt.Sprintf("%s credited %s from market %d", ev.Account, ev.Amount.Dec(), ev.MarketID)
	case domain.EventWithdrawn:
		return "Withdrawal",
			fmt.Sprintf("%s withdrew %s", ev.Account, ev.Amount.Dec())
	default:
		return string(ev.Type), ""
	}
}

// Compile-time interface check.
var _ domain.EventSink = (*Publisher)(nil)
