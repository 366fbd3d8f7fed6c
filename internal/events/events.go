// internal/events/events.go
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Domain events emitted by the auction and order core after a commit
// point. Delivery is best effort and at least once; consumers must be
// idempotent. A failed publish never rolls back the committed state.

const (
	TypeBidAccepted    = "bid.accepted"
	TypeAuctionEnded   = "auction.ended"
	TypeOrderCreated   = "order.created"
	TypeOrderCancelled = "order.cancelled"
)

// Envelope wraps every event with an id and emission time so sinks and
// consumers can deduplicate redeliveries.
type Envelope struct {
	EventID    string      `json:"event_id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

type BidAccepted struct {
	LotID            uuid.UUID       `json:"lot_id"`
	BidderID         uuid.UUID       `json:"bidder_id"`
	Amount           decimal.Decimal `json:"amount"`
	PreviousBidderID *uuid.UUID      `json:"previous_bidder_id,omitempty"`
	BidTime          time.Time       `json:"bid_time"`
}

type AuctionEnded struct {
	LotID    uuid.UUID        `json:"lot_id"`
	WinnerID *uuid.UUID       `json:"winner_id,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	EndedAt  time.Time        `json:"ended_at"`
}

type OrderCreatedItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	SkuID     *uuid.UUID      `json:"sku_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreated struct {
	OrderID   uuid.UUID          `json:"order_id"`
	BuyerID   uuid.UUID          `json:"buyer_id"`
	SellerIDs []uuid.UUID        `json:"seller_ids"`
	Total     decimal.Decimal    `json:"total"`
	Items     []OrderCreatedItem `json:"items"`
}

type OrderCancelled struct {
	OrderID uuid.UUID `json:"order_id"`
	BuyerID uuid.UUID `json:"buyer_id"`
}

// Publisher is the narrow interface the core emits through. The
// subject is a routing hint ("bid.accepted", "order.created", ...).
type Publisher interface {
	Publish(eventType string, payload interface{})
	Close() error
}

// Wrap builds the envelope for a payload.
func Wrap(eventType string, payload interface{}) Envelope {
	return Envelope{
		EventID:    uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}
