package models

import "time"

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether the order can no longer change status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// OrderRole identifies which slot of a bracket trade an order occupies.
type OrderRole string

const (
	OrderRoleEntry      OrderRole = "ENTRY"
	OrderRoleTakeProfit OrderRole = "TAKE_PROFIT"
	OrderRoleStopLoss   OrderRole = "STOP_LOSS"
)

// Order represents a simulated order. It belongs to exactly one bracket trade
// and refers to it by id only.
type Order struct {
	ID             string
	TradeID        string
	Symbol         string
	Role           OrderRole
	Side           OrderSide
	Kind           OrderKind
	RequestedPrice float64
	Size           int64
	Status         OrderStatus
	ExecutedPrice  float64
	FilledAt       time.Time
	FilledBar      int
	CreatedAt      time.Time
}

// ExecutionLogEntry records one fill. Entries are append-only.
type ExecutionLogEntry struct {
	OrderID         string    `json:"order_id"`
	TradeID         string    `json:"trade_id"`
	Symbol          string    `json:"symbol"`
	OrderKind       OrderKind `json:"order_kind"`
	Side            OrderSide `json:"side"`
	RequestedPrice  float64   `json:"requested_price"`
	ExecutedPrice   float64   `json:"executed_price"`
	SlippageApplied float64   `json:"slippage_applied"`
	SpreadApplied   float64   `json:"spread_applied"`
	BarIndex        int       `json:"bar_index"`
	Timestamp       time.Time `json:"timestamp"`
}

// ExecutionStats aggregates the execution log.
type ExecutionStats struct {
	TotalExecutions int     `json:"total_executions"`
	TotalSlippage   float64 `json:"total_slippage"`
	AvgSlippage     float64 `json:"avg_slippage"`
	MaxSlippage     float64 `json:"max_slippage"`
	SpreadPips      float64 `json:"spread_pips"`
	SlippagePips    float64 `json:"slippage_pips"`
}
