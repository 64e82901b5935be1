package gateway

import "context"

// OrderGateway is the broker-facing order surface. Implementations return
// *TradeError for classified failures; callers never see raw panics.
type OrderGateway interface {
	// PlaceOrder submits a new order and returns the broker order id
	PlaceOrder(ctx context.Context, spec OrderSpec) (OrderAck, error)

	// CancelOrder cancels an open order. Cancelling an order that is
	// already terminal is not an error at this layer; the broker's
	// terminal event still arrives through the usual channels.
	CancelOrder(ctx context.Context, userID, orderID string) error

	// RecoverOrderStatuses polls the terminal/open status of the given
	// orders, for reconciliation when the push stream was down
	RecoverOrderStatuses(ctx context.Context, userID string, orderIDs []string) ([]OrderEvent, error)
}
