package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"fxsim/internal/errors"
	"fxsim/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Bars table for recorded OHLCV data
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Runs table, one row per backtest or live session
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		symbols TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		final_equity REAL,
		trades INTEGER DEFAULT 0
	);

	-- Ledger table for terminal bracket trades
	CREATE TABLE IF NOT EXISTS ledger (
		run_id TEXT NOT NULL,
		trade_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		state TEXT NOT NULL,
		entry_price REAL NOT NULL,
		executed_entry_price REAL NOT NULL,
		size INTEGER NOT NULL,
		sl REAL NOT NULL,
		tp REAL NOT NULL,
		opened_at DATETIME,
		closed_at DATETIME,
		exit_price REAL,
		pnl REAL,
		close_reason TEXT,
		PRIMARY KEY (run_id, trade_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- Execution log, one row per fill
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		trade_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		order_kind TEXT NOT NULL,
		side TEXT NOT NULL,
		requested_price REAL NOT NULL,
		executed_price REAL NOT NULL,
		slippage_applied REAL NOT NULL,
		spread_applied REAL NOT NULL,
		bar_index INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_bars_symbol_tf ON bars(symbol, timeframe, timestamp);
	CREATE INDEX IF NOT EXISTS idx_ledger_run ON ledger(run_id, seq);
	CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Bars Methods
// ============================================================================

// SaveBars saves bars to the database, replacing bars with the same timestamp.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBars retrieves bars in timestamp order. A zero to means no upper bound.
func (s *SQLiteStore) GetBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error) {
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// GetBarsFreshness returns the timestamp of the most recent bar, or the zero
// time when none is stored.
func (s *SQLiteStore) GetBarsFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var timestamp time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp FROM bars WHERE symbol = ? AND timeframe = ?
		ORDER BY timestamp DESC LIMIT 1
	`, symbol, timeframe).Scan(&timestamp)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get bars freshness: %w", err)
	}
	return timestamp.UTC(), nil
}

// ============================================================================
// Runs Methods
// ============================================================================

// CreateRun registers a new run under a fresh id.
func (s *SQLiteStore) CreateRun(ctx context.Context, mode string, symbols []string) (*Run, error) {
	syms, err := json.Marshal(symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run symbols: %w", err)
	}
	run := &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Symbols:   symbols,
		StartedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, symbols, started_at) VALUES (?, ?, ?, ?)
	`, run.ID, run.Mode, string(syms), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// FinishRun records a run's summary.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, summary RunSummary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, final_equity = ?, trades = ? WHERE id = ?
	`, summary.FinishedAt.UTC(), summary.FinalEquity, summary.Trades, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewDataError("run", runID, "not found", errors.ErrDataNotFound)
	}
	return nil
}

// GetRun returns one run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, symbols, started_at, finished_at, final_equity, trades FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewDataError("run", runID, "not found", errors.ErrDataNotFound)
	}
	if errors.Is(err, errors.ErrDatabaseError) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRuns returns the most recent runs first.
func (s *SQLiteStore) GetRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, mode, symbols, started_at, finished_at, final_equity, trades FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var syms string
	var finished sql.NullTime
	var equity sql.NullFloat64
	if err := row.Scan(&run.ID, &run.Mode, &syms, &run.StartedAt, &finished, &equity, &run.Trades); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(syms), &run.Symbols); err != nil {
		return nil, errors.NewDataError("run", run.ID, "corrupt symbols column", fmt.Errorf("%w: %v", errors.ErrDatabaseError, err))
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if equity.Valid {
		e := equity.Float64
		run.FinalEquity = &e
	}
	return &run, nil
}

// ============================================================================
// Ledger Methods
// ============================================================================

// LogTrade appends a ledger record for a run. A trade id is stored at most
// once per run.
func (s *SQLiteStore) LogTrade(ctx context.Context, runID string, rec models.LedgerRecord) error {
	var pnl sql.NullFloat64
	if rec.PnL != nil {
		pnl = sql.NullFloat64{Float64: *rec.PnL, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (run_id, trade_id, seq, symbol, side, state, entry_price, executed_entry_price,
			size, sl, tp, opened_at, closed_at, exit_price, pnl, close_reason)
		VALUES (?, ?, (SELECT COUNT(*) FROM ledger WHERE run_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, rec.TradeID, runID, rec.Symbol, string(rec.Side), string(rec.State), rec.EntryPrice, rec.ExecutedEntryPrice,
		rec.Size, rec.SLPrice, rec.TPPrice, rec.OpenedAt.UTC(), rec.ClosedAt.UTC(), rec.ExitPrice, pnl, rec.CloseReason)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return errors.Wrapf(errors.ErrDuplicateTrade, "trade %s", rec.TradeID)
		}
		return fmt.Errorf("%w: failed to log trade: %v", errors.ErrDatabaseError, err)
	}
	return nil
}

// GetTrades retrieves ledger records in append order.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.LedgerRecord, error) {
	query := `SELECT trade_id, symbol, side, state, entry_price, executed_entry_price, size, sl, tp,
		opened_at, closed_at, exit_price, pnl, close_reason FROM ledger WHERE 1=1`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}

	query += " ORDER BY run_id, seq"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var records []models.LedgerRecord
	for rows.Next() {
		var rec models.LedgerRecord
		var side, state string
		var pnl sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&rec.TradeID, &rec.Symbol, &side, &state, &rec.EntryPrice, &rec.ExecutedEntryPrice,
			&rec.Size, &rec.SLPrice, &rec.TPPrice, &rec.OpenedAt, &rec.ClosedAt, &rec.ExitPrice, &pnl, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		rec.Side = models.OrderSide(side)
		rec.State = models.TradeState(state)
		rec.CloseReason = reason.String
		if pnl.Valid {
			v := pnl.Float64
			rec.PnL = &v
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// LogExecution appends an execution log entry for a run.
func (s *SQLiteStore) LogExecution(ctx context.Context, runID string, e models.ExecutionLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (run_id, order_id, trade_id, symbol, order_kind, side, requested_price,
			executed_price, slippage_applied, spread_applied, bar_index, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, e.OrderID, e.TradeID, e.Symbol, string(e.OrderKind), string(e.Side), e.RequestedPrice,
		e.ExecutedPrice, e.SlippageApplied, e.SpreadApplied, e.BarIndex, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to log execution: %v", errors.ErrDatabaseError, err)
	}
	return nil
}

// GetExecutions retrieves a run's execution log in append order.
func (s *SQLiteStore) GetExecutions(ctx context.Context, runID string) ([]models.ExecutionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, trade_id, symbol, order_kind, side, requested_price, executed_price,
			slippage_applied, spread_applied, bar_index, timestamp
		FROM executions WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var entries []models.ExecutionLogEntry
	for rows.Next() {
		var e models.ExecutionLogEntry
		var kind, side string
		if err := rows.Scan(&e.OrderID, &e.TradeID, &e.Symbol, &kind, &side, &e.RequestedPrice, &e.ExecutedPrice,
			&e.SlippageApplied, &e.SpreadApplied, &e.BarIndex, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.OrderKind = models.OrderKind(kind)
		e.Side = models.OrderSide(side)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
