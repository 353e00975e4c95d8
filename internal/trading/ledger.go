package trading

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"fxsim/internal/errors"
	"fxsim/internal/logging"
	"fxsim/internal/models"
)

// LedgerSink receives every ledger append, typically for persistence or metrics.
type LedgerSink interface {
	RecordTrade(ctx context.Context, rec models.LedgerRecord) error
	RecordExecution(ctx context.Context, entry models.ExecutionLogEntry) error
}

// Ledger is the append-only record of closed trades and executions.
type Ledger struct {
	records    []models.LedgerRecord
	seen       map[string]bool
	executions []models.ExecutionLogEntry
	sinks      []LedgerSink
	costs      *CostModel
	logger     zerolog.Logger
}

// NewLedger creates an empty ledger. costs supplies the configured pips
// reported by Stats and may be nil.
func NewLedger(costs *CostModel, logger zerolog.Logger) *Ledger {
	return &Ledger{
		records:    make([]models.LedgerRecord, 0),
		seen:       make(map[string]bool),
		executions: make([]models.ExecutionLogEntry, 0),
		costs:      costs,
		logger:     logging.WithComponent(logger, "ledger"),
	}
}

// AddSink registers a sink for subsequent appends.
func (l *Ledger) AddSink(sink LedgerSink) {
	if sink != nil {
		l.sinks = append(l.sinks, sink)
	}
}

// Append records a terminal trade. A trade id is accepted at most once.
func (l *Ledger) Append(ctx context.Context, rec models.LedgerRecord) error {
	if l.seen[rec.TradeID] {
		return errors.Wrapf(errors.ErrDuplicateTrade, "trade %s", rec.TradeID)
	}
	l.seen[rec.TradeID] = true
	l.records = append(l.records, rec)

	for _, sink := range l.sinks {
		if err := sink.RecordTrade(ctx, rec); err != nil {
			l.logger.Error().Err(err).Str("trade_id", rec.TradeID).Msg("Ledger sink failed to record trade")
		}
	}
	return nil
}

// AppendExecution records one fill.
func (l *Ledger) AppendExecution(ctx context.Context, entry models.ExecutionLogEntry) {
	l.executions = append(l.executions, entry)

	for _, sink := range l.sinks {
		if err := sink.RecordExecution(ctx, entry); err != nil {
			l.logger.Error().Err(err).Str("order_id", entry.OrderID).Msg("Ledger sink failed to record execution")
		}
	}
}

// Has reports whether a trade id has been recorded.
func (l *Ledger) Has(tradeID string) bool {
	return l.seen[tradeID]
}

// Records returns a copy of the trade records in append order.
func (l *Ledger) Records() []models.LedgerRecord {
	out := make([]models.LedgerRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Executions returns a copy of the execution log in append order.
func (l *Ledger) Executions() []models.ExecutionLogEntry {
	out := make([]models.ExecutionLogEntry, len(l.executions))
	copy(out, l.executions)
	return out
}

// Stats scans the execution log.
func (l *Ledger) Stats() models.ExecutionStats {
	stats := models.ExecutionStats{TotalExecutions: len(l.executions)}
	for _, e := range l.executions {
		stats.TotalSlippage += e.SlippageApplied
		stats.MaxSlippage = math.Max(stats.MaxSlippage, e.SlippageApplied)
	}
	if stats.TotalExecutions > 0 {
		stats.AvgSlippage = stats.TotalSlippage / float64(stats.TotalExecutions)
	}
	if l.costs != nil {
		stats.SpreadPips, stats.SlippagePips = l.costs.Pips("")
	}
	return stats
}
