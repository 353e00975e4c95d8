// Package trading provides the bar-driven execution simulator: cost model,
// position sizing, the order book and fill engine, the bracket trade manager,
// the trade ledger and the backtest runner.
package trading

import (
	"time"

	"fxsim/internal/models"
)

// SignalSource proposes and revokes trades. OnBar is called after each step
// with the bars just processed; its output is evaluated from the next bar.
type SignalSource interface {
	OnBar(index int, bars models.BarSet) ([]models.TradeProposal, []models.Invalidation)
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(index int, bars models.BarSet) ([]models.TradeProposal, []models.Invalidation)

// OnBar calls f.
func (f SignalFunc) OnBar(index int, bars models.BarSet) ([]models.TradeProposal, []models.Invalidation) {
	return f(index, bars)
}

// BacktestResult represents backtesting results.
type BacktestResult struct {
	Symbols        []string                   `json:"symbols"`
	Bars           int                        `json:"bars"`
	StartedAt      time.Time                  `json:"started_at"`
	EndedAt        time.Time                  `json:"ended_at"`
	InitialCapital float64                    `json:"initial_capital"`
	FinalEquity    float64                    `json:"final_equity"`
	TotalReturn    float64                    `json:"total_return"`
	WinRate        float64                    `json:"win_rate"`
	MaxDrawdown    float64                    `json:"max_drawdown"`
	SharpeRatio    float64                    `json:"sharpe_ratio"`
	TotalTrades    int                        `json:"total_trades"`
	WinningTrades  int                        `json:"winning_trades"`
	LosingTrades   int                        `json:"losing_trades"`
	CanceledTrades int                        `json:"canceled_trades"`
	OpenTrades     int                        `json:"open_trades"`
	Rejections     int                        `json:"rejections"`
	AvgWin         float64                    `json:"avg_win"`
	AvgLoss        float64                    `json:"avg_loss"`
	ProfitFactor   float64                    `json:"profit_factor"`
	EquityCurve    []EquityPoint              `json:"equity_curve"`
	Records        []models.LedgerRecord      `json:"records"`
	Executions     []models.ExecutionLogEntry `json:"executions"`
	Stats          models.ExecutionStats      `json:"stats"`
}

// EquityPoint represents a point on the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}
