package models

import "time"

// TradeState represents the state of a bracket trade.
type TradeState string

const (
	TradePending  TradeState = "PENDING"
	TradeRunning  TradeState = "RUNNING"
	TradeTPHit    TradeState = "TP_HIT"
	TradeSLHit    TradeState = "SL_HIT"
	TradeCanceled TradeState = "CANCELED"
)

// Terminal reports whether the state is final.
func (s TradeState) Terminal() bool {
	return s == TradeTPHit || s == TradeSLHit || s == TradeCanceled
}

// CanTransition reports whether moving from s to next is a legal forward move.
func (s TradeState) CanTransition(next TradeState) bool {
	switch s {
	case TradePending:
		return next == TradeRunning || next == TradeCanceled
	case TradeRunning:
		return next == TradeTPHit || next == TradeSLHit || next == TradeCanceled
	}
	return false
}

// Close reasons recorded on terminal trades.
const (
	CloseReasonTakeProfit  = "take_profit"
	CloseReasonStopLoss    = "stop_loss"
	CloseReasonInvalidated = "invalidated"
	CloseReasonCanceled    = "canceled"
)

// BracketTrade links an entry order with a take-profit/stop-loss OCO pair.
type BracketTrade struct {
	ID                 string
	Symbol             string
	Side               OrderSide
	EntryOrderID       string
	TPOrderID          string
	SLOrderID          string
	State              TradeState
	EntryPrice         float64
	ExecutedEntryPrice float64
	Size               int64
	SLPrice            float64
	TPPrice            float64
	AnchorLevel        float64
	CreatedAt          time.Time
	OpenedAt           time.Time
	ClosedAt           time.Time
	ExitPrice          float64
	RealizedPnL        *float64
	CloseReason        string
}

// TradeProposal is a trade suggested by the external signal source.
type TradeProposal struct {
	Symbol       string
	Side         OrderSide
	EntryKind    OrderKind // defaults to LIMIT
	EntryPrice   float64
	SLPrice      float64
	TPPrice      float64
	RiskFraction float64
	AnchorLevel  float64 // support/resistance level the entry is anchored to, 0 if none
}

// Invalidation revokes pending trades, either by id or by the level they were anchored to.
type Invalidation struct {
	TradeID     string
	Symbol      string
	AnchorLevel float64
	NewLevel    float64
}

// LedgerRecord is the flat export record of a closed trade.
type LedgerRecord struct {
	TradeID            string     `json:"trade_id"`
	Symbol             string     `json:"symbol"`
	Side               OrderSide  `json:"side"`
	State              TradeState `json:"state"`
	EntryPrice         float64    `json:"entry_price"`
	ExecutedEntryPrice float64    `json:"executed_entry_price"`
	Size               int64      `json:"size"`
	SLPrice            float64    `json:"sl"`
	TPPrice            float64    `json:"tp"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           time.Time  `json:"closed_at"`
	ExitPrice          float64    `json:"exit_price"`
	PnL                *float64   `json:"pnl"`
	CloseReason        string     `json:"close_reason"`
}

// RecordFromTrade builds the ledger record of a terminal trade.
func RecordFromTrade(t *BracketTrade) LedgerRecord {
	rec := LedgerRecord{
		TradeID:            t.ID,
		Symbol:             t.Symbol,
		Side:               t.Side,
		State:              t.State,
		EntryPrice:         t.EntryPrice,
		ExecutedEntryPrice: t.ExecutedEntryPrice,
		Size:               t.Size,
		SLPrice:            t.SLPrice,
		TPPrice:            t.TPPrice,
		OpenedAt:           t.OpenedAt,
		ClosedAt:           t.ClosedAt,
		ExitPrice:          t.ExitPrice,
		CloseReason:        t.CloseReason,
	}
	if t.RealizedPnL != nil {
		pnl := *t.RealizedPnL
		rec.PnL = &pnl
	}
	return rec
}
