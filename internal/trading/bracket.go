package trading

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/broker"
	"fxsim/internal/config"
	"fxsim/internal/errors"
	"fxsim/internal/logging"
	"fxsim/internal/models"
)

// BracketManager owns the bracket trade state machine. All three orders of a
// trade live in the order book and are addressed by id.
type BracketManager struct {
	cfg    config.RiskConfig
	book   *OrderBook
	fills  *FillEngine
	sizer  *PositionSizer
	costs  *CostModel
	ledger *Ledger
	router broker.Router

	trades map[string]*models.BracketTrade
	order  []string
	seq    int

	logger zerolog.Logger
}

// NewBracketManager creates a bracket manager. router may be nil.
func NewBracketManager(cfg config.RiskConfig, book *OrderBook, fills *FillEngine, sizer *PositionSizer,
	costs *CostModel, ledger *Ledger, router broker.Router, logger zerolog.Logger) *BracketManager {
	return &BracketManager{
		cfg:    cfg,
		book:   book,
		fills:  fills,
		sizer:  sizer,
		costs:  costs,
		ledger: ledger,
		router: router,
		trades: make(map[string]*models.BracketTrade),
		order:  make([]string, 0),
		logger: logging.WithComponent(logger, "bracket_manager"),
	}
}

// Validate checks positivity and the price relationship of a proposal:
// BUY requires tp > entry > sl, SELL requires sl > entry > tp.
func Validate(p models.TradeProposal) error {
	if p.Symbol == "" {
		return errors.NewValidationError("symbol", p.Symbol, "symbol is required")
	}
	if !p.Side.Valid() {
		return errors.NewValidationError("side", p.Side, "side must be BUY or SELL")
	}
	if p.EntryKind != "" && !p.EntryKind.Valid() {
		return errors.NewValidationError("entry_kind", p.EntryKind, "unknown order kind")
	}

	prices := []struct {
		field string
		value float64
	}{
		{"entry_price", p.EntryPrice},
		{"sl_price", p.SLPrice},
		{"tp_price", p.TPPrice},
	}
	for _, pr := range prices {
		if math.IsNaN(pr.value) || math.IsInf(pr.value, 0) || pr.value <= 0 {
			return errors.NewValidationError(pr.field, pr.value, "must be a positive price")
		}
	}

	if p.RiskFraction < 0 || p.RiskFraction > 1 || math.IsNaN(p.RiskFraction) {
		return errors.NewValidationError("risk_fraction", p.RiskFraction, "must be between 0 and 1")
	}

	switch p.Side {
	case models.OrderSideBuy:
		if !(p.TPPrice > p.EntryPrice && p.EntryPrice > p.SLPrice) {
			return errors.NewValidationError("prices", fmt.Sprintf("tp=%g entry=%g sl=%g", p.TPPrice, p.EntryPrice, p.SLPrice),
				"BUY bracket requires tp > entry > sl")
		}
	case models.OrderSideSell:
		if !(p.SLPrice > p.EntryPrice && p.EntryPrice > p.TPPrice) {
			return errors.NewValidationError("prices", fmt.Sprintf("sl=%g entry=%g tp=%g", p.SLPrice, p.EntryPrice, p.TPPrice),
				"SELL bracket requires sl > entry > tp")
		}
	}
	return nil
}

// Submit validates and sizes a proposal and creates a PENDING bracket trade.
// On rejection no order is created.
func (m *BracketManager) Submit(ctx context.Context, p models.TradeProposal, equity float64, now time.Time) (string, error) {
	if err := Validate(p); err != nil {
		return "", err
	}

	risk := p.RiskFraction
	if risk == 0 {
		risk = m.sizer.RiskFraction()
	}
	stopDistance := math.Abs(p.EntryPrice - p.SLPrice)
	expectedSlippage := m.costs.Params(p.Symbol).SlippagePrice
	size := m.sizer.Size(equity, risk, stopDistance, expectedSlippage)
	if size <= 0 {
		return "", errors.NewSizingError(equity, risk, stopDistance, size)
	}

	kind := p.EntryKind
	if kind == "" {
		kind = models.OrderKindLimit
	}

	m.seq++
	t := &models.BracketTrade{
		ID:          fmt.Sprintf("T-%06d", m.seq),
		Symbol:      p.Symbol,
		Side:        p.Side,
		State:       models.TradePending,
		EntryPrice:  p.EntryPrice,
		Size:        size,
		SLPrice:     p.SLPrice,
		TPPrice:     p.TPPrice,
		AnchorLevel: p.AnchorLevel,
		CreatedAt:   now,
	}

	entry := m.newOrder(t, models.OrderRoleEntry, p.Side, kind, p.EntryPrice, models.OrderStatusAccepted, now)
	tp := m.newOrder(t, models.OrderRoleTakeProfit, p.Side.Opposite(), models.OrderKindLimit, p.TPPrice, models.OrderStatusSubmitted, now)
	sl := m.newOrder(t, models.OrderRoleStopLoss, p.Side.Opposite(), models.OrderKindStop, p.SLPrice, models.OrderStatusSubmitted, now)
	t.EntryOrderID, t.TPOrderID, t.SLOrderID = entry.ID, tp.ID, sl.ID

	m.book.Add(entry)
	m.book.Add(tp)
	m.book.Add(sl)
	m.trades[t.ID] = t
	m.order = append(m.order, t.ID)

	m.route(ctx, entry)

	m.logger.Info().
		Str("trade_id", t.ID).
		Str("symbol", t.Symbol).
		Str("side", string(t.Side)).
		Str("entry_kind", string(kind)).
		Float64("entry", t.EntryPrice).
		Float64("sl", t.SLPrice).
		Float64("tp", t.TPPrice).
		Int64("size", t.Size).
		Msg("Bracket trade created")

	return t.ID, nil
}

func (m *BracketManager) newOrder(t *models.BracketTrade, role models.OrderRole, side models.OrderSide,
	kind models.OrderKind, price float64, status models.OrderStatus, now time.Time) *models.Order {
	return &models.Order{
		ID:             m.book.NextID(),
		TradeID:        t.ID,
		Symbol:         t.Symbol,
		Role:           role,
		Side:           side,
		Kind:           kind,
		RequestedPrice: price,
		Size:           t.Size,
		Status:         status,
		CreatedAt:      now,
	}
}

// OnFill advances the trade owning a filled order.
func (m *BracketManager) OnFill(ctx context.Context, fill Fill) {
	o := fill.Order
	t, ok := m.trades[o.TradeID]
	if !ok {
		m.logger.Error().Str("order_id", o.ID).Str("trade_id", o.TradeID).Msg("Fill for unknown trade")
		return
	}
	if t.State.Terminal() {
		m.stale(t, "fill "+string(o.Role))
		return
	}

	switch o.Role {
	case models.OrderRoleEntry:
		if t.State != models.TradePending {
			m.stale(t, "entry fill")
			return
		}
		t.ExecutedEntryPrice = o.ExecutedPrice
		t.OpenedAt = o.FilledAt
		m.transition(t, models.TradeRunning)
		for _, id := range []string{t.TPOrderID, t.SLOrderID} {
			if err := m.book.Activate(id); err != nil {
				m.logger.Error().Err(err).Str("order_id", id).Msg("Failed to activate exit order")
				continue
			}
			if child, ok := m.book.Get(id); ok {
				m.route(ctx, child)
			}
		}

	case models.OrderRoleTakeProfit:
		m.cancelOrder(ctx, t.SLOrderID)
		m.close(ctx, t, models.TradeTPHit, o.ExecutedPrice, o.FilledAt, models.CloseReasonTakeProfit)

	case models.OrderRoleStopLoss:
		m.cancelOrder(ctx, t.TPOrderID)
		m.close(ctx, t, models.TradeSLHit, o.ExecutedPrice, o.FilledAt, models.CloseReasonStopLoss)
	}
}

// Invalidate cancels a PENDING trade whose anchoring level has been revoked.
// Repeated calls on a canceled trade are no-ops.
func (m *BracketManager) Invalidate(ctx context.Context, tradeID string, now time.Time) error {
	t, ok := m.trades[tradeID]
	if !ok {
		return errors.Wrapf(errors.ErrTradeNotFound, "trade %s", tradeID)
	}
	switch {
	case t.State == models.TradePending:
		m.cancelPending(ctx, t, now, models.CloseReasonInvalidated)
	case t.State.Terminal():
		m.stale(t, "invalidate")
	default:
		m.logger.Debug().Str("trade_id", t.ID).Msg("Invalidation ignored for running trade")
	}
	return nil
}

// InvalidateLevel cancels every PENDING trade of symbol anchored to anchorLevel
// once the level has moved past the configured threshold. It returns the ids
// of the canceled trades.
func (m *BracketManager) InvalidateLevel(ctx context.Context, symbol string, anchorLevel, newLevel float64, now time.Time) []string {
	threshold := PipsToPrice(symbol, m.cfg.InvalidationThresholdPips)
	if math.Abs(newLevel-anchorLevel) <= threshold {
		return nil
	}

	tolerance := PipSize(symbol) / 10
	sym := normalizeSymbol(symbol)
	canceled := make([]string, 0)
	for _, id := range m.order {
		t := m.trades[id]
		if t.State != models.TradePending || normalizeSymbol(t.Symbol) != sym {
			continue
		}
		if t.AnchorLevel == 0 || math.Abs(t.AnchorLevel-anchorLevel) > tolerance {
			continue
		}
		m.cancelPending(ctx, t, now, models.CloseReasonInvalidated)
		canceled = append(canceled, t.ID)
	}
	return canceled
}

// Cancel cancels a trade explicitly. A RUNNING trade is flattened at market
// against the last bar seen for its symbol.
func (m *BracketManager) Cancel(ctx context.Context, tradeID string, barIndex int, now time.Time) error {
	t, ok := m.trades[tradeID]
	if !ok {
		return errors.Wrapf(errors.ErrTradeNotFound, "trade %s", tradeID)
	}

	switch t.State {
	case models.TradePending:
		m.cancelPending(ctx, t, now, models.CloseReasonCanceled)
	case models.TradeRunning:
		m.cancelOrder(ctx, t.TPOrderID)
		m.cancelOrder(ctx, t.SLOrderID)
		exit, err := m.fills.Flatten(ctx, t.ID, barIndex, now)
		if err != nil {
			return errors.Wrapf(err, "flatten trade %s", t.ID)
		}
		m.close(ctx, t, models.TradeCanceled, exit, now, models.CloseReasonCanceled)
	default:
		m.stale(t, "cancel")
	}
	return nil
}

func (m *BracketManager) cancelPending(ctx context.Context, t *models.BracketTrade, now time.Time, reason string) {
	m.cancelOrder(ctx, t.EntryOrderID)
	m.cancelOrder(ctx, t.TPOrderID)
	m.cancelOrder(ctx, t.SLOrderID)

	t.ClosedAt = now
	t.CloseReason = reason
	m.transition(t, models.TradeCanceled)
	m.record(ctx, t)
}

func (m *BracketManager) close(ctx context.Context, t *models.BracketTrade, state models.TradeState, exit float64, at time.Time, reason string) {
	if !t.State.CanTransition(state) {
		m.stale(t, "close "+string(state))
		return
	}
	pnl := RealizedPnL(t.Side, t.ExecutedEntryPrice, exit, t.Size)
	t.ExitPrice = exit
	t.RealizedPnL = &pnl
	t.ClosedAt = at
	t.CloseReason = reason
	m.transition(t, state)
	m.record(ctx, t)
}

func (m *BracketManager) record(ctx context.Context, t *models.BracketTrade) {
	if err := m.ledger.Append(ctx, models.RecordFromTrade(t)); err != nil {
		m.logger.Error().Err(err).Str("trade_id", t.ID).Msg("Failed to append trade to ledger")
	}
	m.book.Archive(t.EntryOrderID, t.TPOrderID, t.SLOrderID)
}

func (m *BracketManager) transition(t *models.BracketTrade, next models.TradeState) {
	from := t.State
	t.State = next
	logging.LogTransition(m.logger, t.ID, from, next)
}

func (m *BracketManager) cancelOrder(ctx context.Context, orderID string) {
	changed, wasActive := m.book.Cancel(orderID)
	if !changed || !wasActive || m.router == nil {
		return
	}
	if err := m.router.Cancel(ctx, orderID); err != nil {
		m.logger.Error().Err(err).Str("order_id", orderID).Msg("Gateway cancel failed")
	}
}

func (m *BracketManager) route(ctx context.Context, o *models.Order) {
	if m.router == nil {
		return
	}
	req := broker.OrderRequest{
		OrderID: o.ID,
		TradeID: o.TradeID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Kind:    o.Kind,
		Price:   o.RequestedPrice,
		Size:    o.Size,
	}
	if err := m.router.Submit(ctx, req); err != nil {
		m.logger.Error().Err(err).Str("order_id", o.ID).Msg("Gateway submit failed")
	}
}

func (m *BracketManager) stale(t *models.BracketTrade, action string) {
	err := errors.NewStaleTransitionError(t.ID, string(t.State), action)
	m.logger.Warn().Err(err).Str("trade_id", t.ID).Msg("Ignoring transition on terminal trade")
}

// Trade returns a copy of the trade with id.
func (m *BracketManager) Trade(id string) (models.BracketTrade, bool) {
	t, ok := m.trades[id]
	if !ok {
		return models.BracketTrade{}, false
	}
	return *t, true
}

// Trades returns copies of all trades in creation order.
func (m *BracketManager) Trades() []models.BracketTrade {
	out := make([]models.BracketTrade, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.trades[id])
	}
	return out
}

// OpenTrades returns the number of PENDING and RUNNING trades.
func (m *BracketManager) OpenTrades() int {
	n := 0
	for _, t := range m.trades {
		if !t.State.Terminal() {
			n++
		}
	}
	return n
}

// Order returns a copy of the order with id.
func (m *BracketManager) Order(id string) (models.Order, bool) {
	o, ok := m.book.Get(id)
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}
