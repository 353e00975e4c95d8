package trading

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/broker"
	"fxsim/internal/config"
	"fxsim/internal/errors"
	"fxsim/internal/logging"
	"fxsim/internal/models"
)

// StepObserver is notified after every simulation step and every rejection.
type StepObserver interface {
	OnAccount(snap models.AccountSnapshot)
	OnRejection(p models.TradeProposal, err error)
}

// Engine composes the execution components into one step function. Its
// public methods are serialized by a mutex; the step itself is sequential.
type Engine struct {
	cfg     *config.Config
	costs   *CostModel
	sizer   *PositionSizer
	book    *OrderBook
	ledger  *Ledger
	fills   *FillEngine
	manager *BracketManager

	router       broker.Router
	observers    []StepObserver
	gatewayFills bool

	barIndex int
	mu       sync.Mutex
	logger   zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRouter sends order submit and cancel requests to a broker gateway.
func WithRouter(r broker.Router) EngineOption {
	return func(e *Engine) { e.router = r }
}

// WithGatewayFills disables simulated fills; fills arrive through
// ApplyGatewayFill instead.
func WithGatewayFills() EngineOption {
	return func(e *Engine) { e.gatewayFills = true }
}

// WithSink adds a ledger sink.
func WithSink(s LedgerSink) EngineOption {
	return func(e *Engine) { e.ledger.AddSink(s) }
}

// WithObserver adds a step observer.
func WithObserver(o StepObserver) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// NewEngine builds an engine from configuration.
func NewEngine(cfg *config.Config, logger zerolog.Logger, opts ...EngineOption) *Engine {
	costs := NewCostModel(cfg.Execution)
	ledger := NewLedger(costs, logger)
	book := NewOrderBook()

	e := &Engine{
		cfg:      cfg,
		costs:    costs,
		sizer:    NewPositionSizer(cfg.Risk),
		book:     book,
		ledger:   ledger,
		fills:    NewFillEngine(book, costs, ledger, cfg.Account.InitialCash, logger),
		barIndex: -1,
		logger:   logging.WithComponent(logger, "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.manager = NewBracketManager(cfg.Risk, book, e.fills, e.sizer, costs, ledger, e.router, logger)
	return e
}

// Propose submits a trade proposal sized against current equity.
func (e *Engine) Propose(ctx context.Context, p models.TradeProposal) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.manager.Submit(ctx, p, e.fills.Account().Equity, e.now(p.Symbol))
	if err != nil {
		logging.LogRejection(e.logger, p, err)
		for _, o := range e.observers {
			o.OnRejection(p, err)
		}
		return "", err
	}
	return id, nil
}

// Invalidate applies an invalidation signal, by trade id or by anchor level.
// It returns the ids of trades canceled as a result.
func (e *Engine) Invalidate(ctx context.Context, inv models.Invalidation) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if inv.TradeID != "" {
		t, ok := e.manager.Trade(inv.TradeID)
		if !ok {
			return nil, errors.Wrapf(errors.ErrTradeNotFound, "trade %s", inv.TradeID)
		}
		wasPending := t.State == models.TradePending
		if err := e.manager.Invalidate(ctx, inv.TradeID, e.now(t.Symbol)); err != nil {
			return nil, err
		}
		if wasPending {
			return []string{inv.TradeID}, nil
		}
		return nil, nil
	}
	if inv.Symbol == "" {
		return nil, errors.NewValidationError("invalidation", inv, "trade id or symbol and anchor level required")
	}
	return e.manager.InvalidateLevel(ctx, inv.Symbol, inv.AnchorLevel, inv.NewLevel, e.now(inv.Symbol)), nil
}

// Cancel cancels a PENDING or RUNNING trade.
func (e *Engine) Cancel(ctx context.Context, tradeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.manager.Trade(tradeID)
	if !ok {
		return errors.Wrapf(errors.ErrTradeNotFound, "trade %s", tradeID)
	}
	return e.manager.Cancel(ctx, tradeID, e.barIndex, e.now(t.Symbol))
}

// Step runs one synchronized simulation step over bars, one per symbol.
func (e *Engine) Step(ctx context.Context, bars models.BarSet) (models.AccountSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.barIndex++
	symbols := make([]string, 0, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		bar := bars[sym]
		if e.gatewayFills {
			e.fills.Observe(sym, bar)
			continue
		}
		e.fills.Process(ctx, sym, bar, e.barIndex, e.onSimulatedFill)
	}

	snap, err := e.fills.SyncAccount(bars.Timestamp())
	if err != nil {
		return snap, errors.Wrapf(err, "bar %d", e.barIndex)
	}
	for _, o := range e.observers {
		o.OnAccount(snap)
	}
	return snap, nil
}

// ApplySignals feeds the bars of the last step to src and applies what it
// emits, invalidations before proposals. It returns the number of rejected
// proposals.
func (e *Engine) ApplySignals(ctx context.Context, src SignalSource, bars models.BarSet) int {
	if src == nil {
		return 0
	}
	proposals, invalidations := src.OnBar(e.BarIndex(), bars)
	for _, inv := range invalidations {
		if _, err := e.Invalidate(ctx, inv); err != nil {
			e.logger.Warn().Err(err).Str("trade_id", inv.TradeID).Str("symbol", inv.Symbol).Msg("Invalidation not applied")
		}
	}

	rejected := 0
	for _, p := range proposals {
		if _, err := e.Propose(ctx, p); err != nil {
			rejected++
		}
	}
	return rejected
}

// ApplyGatewayFill applies a fill reported by the broker gateway through the
// same path as a simulated fill.
func (e *Engine) ApplyGatewayFill(ctx context.Context, report broker.FillReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fill, err := e.fills.ExecuteAt(ctx, report.OrderID, report.Price, e.barIndex, report.Timestamp)
	if err != nil {
		return err
	}
	e.manager.OnFill(ctx, fill)
	return nil
}

// onSimulatedFill mirrors a simulated fill to a listening router, then
// advances the trade.
func (e *Engine) onSimulatedFill(ctx context.Context, fill Fill) {
	if l, ok := e.router.(broker.FillListener); ok {
		if err := l.MarkFilled(ctx, fill.Order.ID); err != nil {
			e.logger.Warn().Err(err).Str("order_id", fill.Order.ID).Msg("Gateway fill notice failed")
		}
	}
	e.manager.OnFill(ctx, fill)
}

// now returns the timestamp of the last bar seen for symbol.
func (e *Engine) now(symbol string) time.Time {
	if bar, ok := e.fills.LastBar(symbol); ok {
		return bar.Timestamp
	}
	return time.Time{}
}

// Ledger returns the trade ledger.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Trades returns copies of all trades in creation order.
func (e *Engine) Trades() []models.BracketTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Trades()
}

// Trade returns a copy of a trade.
func (e *Engine) Trade(id string) (models.BracketTrade, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Trade(id)
}

// Order returns a copy of an order.
func (e *Engine) Order(id string) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Order(id)
}

// OpenTrades returns the number of PENDING and RUNNING trades.
func (e *Engine) OpenTrades() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.OpenTrades()
}

// Account returns the latest account balances.
func (e *Engine) Account() models.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fills.Account()
}

// BarIndex returns the index of the last processed step, -1 before the first.
func (e *Engine) BarIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.barIndex
}

// Costs returns the cost model.
func (e *Engine) Costs() *CostModel {
	return e.costs
}
