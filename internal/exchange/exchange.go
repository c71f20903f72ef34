package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"swarmtrade/internal/models"
)

// OrderRequest is a market order to place. Limit support is carried on the
// wire model but adapters currently execute market orders only.
type OrderRequest struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// Ack is the immediate submit response.
type Ack struct {
	ExchangeOrderID string
	Status          string
}

// FillEvent is one execution report. FillID is stable across redeliveries
// of the same state, which is what makes downstream application idempotent.
type FillEvent struct {
	FillID   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Fee      decimal.Decimal
	Time     time.Time
}

// OrderState is the polled view of a working order.
type OrderState struct {
	ExchangeOrderID string
	Status          string
	Fills           []FillEvent
}

// Adapter abstracts the execution venue. Both implementations map venue
// statuses onto the models.Order status set.
type Adapter interface {
	Name() string
	SubmitOrder(ctx context.Context, req OrderRequest) (Ack, error)
	QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderState, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}

// Terminal mirrors models.Order.Terminal for venue-reported statuses.
func Terminal(status string) bool {
	switch status {
	case models.OrderFilled, models.OrderCancelled, models.OrderRejected, models.OrderExpired, models.OrderFailed:
		return true
	}
	return false
}
