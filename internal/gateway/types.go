package gateway

import (
	"time"

	"github.com/google/uuid"
)

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened with s
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the execution style of an order
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// OrderSpec describes an order to be placed at the broker
type OrderSpec struct {
	UserID        string    `json:"user_id"`
	Instrument    string    `json:"instrument"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      int       `json:"quantity"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	ClientOrderID string    `json:"client_order_id"`
	Tag           string    `json:"tag,omitempty"` // entry, exit, reentry
}

// NewClientOrderID returns a fresh broker-side idempotency key
func NewClientOrderID() string {
	return "hma-" + uuid.New().String()
}

// OrderAck is the broker's synchronous response to a placement
type OrderAck struct {
	OrderID string    `json:"order_id"`
	Status  string    `json:"status"`
	PlacedAt time.Time `json:"placed_at"`
}

// EventType classifies an asynchronous order event
type EventType string

const (
	EventFilled    EventType = "FILLED"
	EventRejected  EventType = "REJECTED"
	EventCancelled EventType = "CANCELLED"
	EventOpen      EventType = "OPEN"
)

// OrderEvent is an asynchronous order status change, arriving from the
// push stream or from a recovery sweep. Both paths produce the same
// shape so the state machine applies them identically.
type OrderEvent struct {
	UserID     string    `json:"user_id"`
	OrderID    string    `json:"order_id"`
	Instrument string    `json:"instrument"`
	Type       EventType `json:"type"`
	FillPrice  float64   `json:"fill_price,omitempty"`
	FilledQty  int       `json:"filled_qty,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
