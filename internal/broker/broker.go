// Package broker provides the broker gateway and bar source interfaces and
// their paper and replay implementations.
package broker

import (
	"context"
	"time"

	"fxsim/internal/models"
)

// Router routes order submit and cancel requests to a venue.
type Router interface {
	Submit(ctx context.Context, req OrderRequest) error
	Cancel(ctx context.Context, orderID string) error
}

// FillListener is a Router that is told about fills decided by the simulator,
// so its resting orders track the engine's book.
type FillListener interface {
	MarkFilled(ctx context.Context, orderID string) error
}

// BarSource yields the most recent completed bar of a symbol.
type BarSource interface {
	LatestBar(ctx context.Context, symbol string) (models.Bar, error)
}

// OrderRequest is an order submission keyed by symbol, side, kind, price and size.
type OrderRequest struct {
	OrderID string
	TradeID string
	Symbol  string
	Side    models.OrderSide
	Kind    models.OrderKind
	Price   float64
	Size    int64
}

// FillReport is a fill reported back by the gateway.
type FillReport struct {
	OrderID   string
	Price     float64
	Timestamp time.Time
}
