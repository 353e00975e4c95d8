// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"fxsim/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Bars
	SaveBars(ctx context.Context, symbol, timeframe string, bars []models.Bar) error
	GetBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error)
	GetBarsFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error)

	// Runs
	CreateRun(ctx context.Context, mode string, symbols []string) (*Run, error)
	FinishRun(ctx context.Context, runID string, summary RunSummary) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	GetRuns(ctx context.Context, limit int) ([]Run, error)

	// Ledger
	LogTrade(ctx context.Context, runID string, rec models.LedgerRecord) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.LedgerRecord, error)
	LogExecution(ctx context.Context, runID string, entry models.ExecutionLogEntry) error
	GetExecutions(ctx context.Context, runID string) ([]models.ExecutionLogEntry, error)

	// Lifecycle
	Close() error
}

// Run is one backtest or live session.
type Run struct {
	ID          string
	Mode        string
	Symbols     []string
	StartedAt   time.Time
	FinishedAt  *time.Time
	FinalEquity *float64
	Trades      int
}

// RunSummary is written when a run finishes.
type RunSummary struct {
	FinishedAt  time.Time
	FinalEquity float64
	Trades      int
}

// TradeFilter represents filters for querying ledger records.
type TradeFilter struct {
	RunID  string
	Symbol string
	State  models.TradeState
	Limit  int
}

// RunSink records one run's ledger appends into a DataStore.
type RunSink struct {
	store DataStore
	runID string
}

// NewRunSink creates a ledger sink writing under runID.
func NewRunSink(store DataStore, runID string) *RunSink {
	return &RunSink{store: store, runID: runID}
}

// RunID returns the run the sink writes to.
func (s *RunSink) RunID() string {
	return s.runID
}

// RecordTrade persists a ledger record.
func (s *RunSink) RecordTrade(ctx context.Context, rec models.LedgerRecord) error {
	return s.store.LogTrade(ctx, s.runID, rec)
}

// RecordExecution persists an execution log entry.
func (s *RunSink) RecordExecution(ctx context.Context, entry models.ExecutionLogEntry) error {
	return s.store.LogExecution(ctx, s.runID, entry)
}
