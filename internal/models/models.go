// Package models provides domain models for the FX execution simulator.
package models

import (
	"time"
)

// OrderSide represents the side of an order or trade.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Valid reports whether s is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderKind represents how an order is filled against a bar.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindStop   OrderKind = "STOP"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	switch k {
	case OrderKindMarket, OrderKindLimit, OrderKindStop:
		return true
	}
	return false
}

// Bar represents OHLCV data for one period of one instrument.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// BarSet is one synchronized step: a bar per tracked symbol, all sharing a timestamp.
type BarSet map[string]Bar

// Timestamp returns the shared timestamp of the set, or the zero time when empty.
func (bs BarSet) Timestamp() time.Time {
	for _, b := range bs {
		return b.Timestamp
	}
	return time.Time{}
}

// ExecutionCostParams holds spread and slippage expressed in instrument price units.
type ExecutionCostParams struct {
	SpreadPrice   float64
	SlippagePrice float64
}

// HalfSpread returns half the spread, the cost applied on each leg.
func (p ExecutionCostParams) HalfSpread() float64 {
	return p.SpreadPrice / 2
}

// Account represents the simulated account balance.
type Account struct {
	Cash   float64
	Equity float64
}

// AccountSnapshot is the validated account state taken once per simulation step.
type AccountSnapshot struct {
	Cash          float64
	Equity        float64
	UnrealizedPnL float64
	OpenPositions int
	Timestamp     time.Time
}
