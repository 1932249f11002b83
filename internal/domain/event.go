package domain

import (
	"context"
	"time"
)

// EventType names a boundary event emitted after a state change commits.
type EventType string

const (
	EventAssetRegistered      EventType = "asset_registered"
	EventSettlementOpened     EventType = "settlement_opened"
	EventPaymentAssetUpdated  EventType = "payment_asset_updated"
	EventOfferCreated         EventType = "offer_created"
	EventOfferFilled          EventType = "offer_filled"
	EventOfferCancelled       EventType = "offer_cancelled"
	EventOrderCreated         EventType = "order_created"
	EventOrderSettleFilled    EventType = "order_settle_filled"
	EventOrderSettleCancelled EventType = "order_settle_cancelled"
	EventOrderCancelRequested EventType = "order_cancel_requested"
	EventOrderCancelled       EventType = "order_cancelled"
)

// Event is a committed state change. Data holds string-encoded fields so the
// event serializes the same way on every transport.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"event"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data"`
}

// EventPublisher receives events after the state change that produced them
// has committed. Publishing is best effort and never undoes the change.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event)
}
