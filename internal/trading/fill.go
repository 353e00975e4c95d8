package trading

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/errors"
	"fxsim/internal/logging"
	"fxsim/internal/models"
)

// Fill is one executed order together with its execution log entry.
type Fill struct {
	Order *models.Order
	Entry models.ExecutionLogEntry
}

// FillHandler is notified of each fill, in execution order, while a bar is processed.
type FillHandler func(ctx context.Context, fill Fill)

// position is the open exposure of one running bracket trade.
type position struct {
	symbol string
	side   models.OrderSide
	size   int64
	entry  float64
	mark   float64
}

func (p *position) unrealized() float64 {
	return RealizedPnL(p.side, p.entry, p.mark, p.size)
}

// RealizedPnL returns (exit-entry)*size for BUY and (entry-exit)*size for SELL.
func RealizedPnL(side models.OrderSide, entry, exit float64, size int64) float64 {
	if side == models.OrderSideSell {
		return (entry - exit) * float64(size)
	}
	return (exit - entry) * float64(size)
}

// FillEngine decides, bar by bar, which pending orders execute and at what
// price. It is the only component that mutates the account.
type FillEngine struct {
	book      *OrderBook
	costs     *CostModel
	ledger    *Ledger
	account   models.Account
	positions map[string]*position
	lastBars  map[string]models.Bar
	logger    zerolog.Logger
}

// NewFillEngine creates a fill engine over the given book.
func NewFillEngine(book *OrderBook, costs *CostModel, ledger *Ledger, initialCash float64, logger zerolog.Logger) *FillEngine {
	return &FillEngine{
		book:      book,
		costs:     costs,
		ledger:    ledger,
		account:   models.Account{Cash: initialCash, Equity: initialCash},
		positions: make(map[string]*position),
		lastBars:  make(map[string]models.Bar),
		logger:    logging.WithComponent(logger, "fill_engine"),
	}
}

// Process evaluates every active order of symbol against bar. Orders activated
// by a fill during this call are first evaluated on the next bar.
func (fe *FillEngine) Process(ctx context.Context, symbol string, bar models.Bar, barIndex int, onFill FillHandler) int {
	fe.lastBars[symbol] = bar
	params := fe.costs.Params(symbol)

	filled := 0
	for _, o := range fe.book.Active(symbol) {
		// A sibling filled earlier in this bar may have canceled o.
		if o.Status != models.OrderStatusAccepted {
			continue
		}
		price, slippage, spread, ok := fe.evaluate(o, bar, params)
		if !ok {
			continue
		}
		fill, err := fe.execute(ctx, o, price, slippage, spread, barIndex, bar.Timestamp)
		if err != nil {
			fe.logger.Error().Err(err).Str("order_id", o.ID).Msg("Failed to execute order")
			continue
		}
		filled++
		if onFill != nil {
			onFill(ctx, fill)
		}
	}

	fe.MarkToMarket(symbol, bar.Close)
	return filled
}

// evaluate applies the fill rule of the order's kind to bar.
func (fe *FillEngine) evaluate(o *models.Order, bar models.Bar, p models.ExecutionCostParams) (price, slippage, spread float64, ok bool) {
	perfect := fe.costs.CostFree()
	half := p.HalfSpread()
	buy := o.Side == models.OrderSideBuy
	req := o.RequestedPrice

	switch o.Kind {
	case models.OrderKindLimit:
		// An open already beyond the limit fills at the open.
		if buy {
			switch {
			case bar.Open <= req:
				return bar.Open + half, 0, half, true
			case bar.Low <= req:
				return req + half, 0, half, true
			}
		} else {
			switch {
			case bar.Open >= req:
				return bar.Open - half, 0, half, true
			case bar.High >= req:
				return req - half, 0, half, true
			}
		}
		return 0, 0, 0, false

	case models.OrderKindStop:
		if buy {
			if bar.High < req {
				return 0, 0, 0, false
			}
			if perfect {
				return math.Max(req, bar.Open), 0, 0, true
			}
			worst := math.Max(req, bar.High)
			return worst + p.SlippagePrice, worst - req + p.SlippagePrice, 0, true
		}
		if bar.Low > req {
			return 0, 0, 0, false
		}
		if perfect {
			return math.Min(req, bar.Open), 0, 0, true
		}
		worst := math.Min(req, bar.Low)
		return worst - p.SlippagePrice, req - worst + p.SlippagePrice, 0, true

	case models.OrderKindMarket:
		if buy {
			return bar.Close + half + p.SlippagePrice, p.SlippagePrice, half, true
		}
		return bar.Close - half - p.SlippagePrice, p.SlippagePrice, half, true
	}

	return 0, 0, 0, false
}

// ExecuteAt fills an active order at a price reported by the broker gateway.
// The fill takes the same log and account path as a simulated one.
func (fe *FillEngine) ExecuteAt(ctx context.Context, orderID string, price float64, barIndex int, ts time.Time) (Fill, error) {
	o, ok := fe.book.Get(orderID)
	if !ok {
		return Fill{}, errors.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusAccepted {
		return Fill{}, errors.NewOrderError(orderID, o.Symbol, "gateway fill", string(o.Status), errors.ErrOrderNotActive)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Fill{}, errors.NewOrderError(orderID, o.Symbol, "gateway fill", "non-positive price", errors.ErrInvalidProposal)
	}
	adverse := price - o.RequestedPrice
	if o.Side == models.OrderSideSell {
		adverse = -adverse
	}
	return fe.execute(ctx, o, price, math.Max(adverse, 0), 0, barIndex, ts)
}

func (fe *FillEngine) execute(ctx context.Context, o *models.Order, price, slippage, spread float64, barIndex int, ts time.Time) (Fill, error) {
	if err := fe.book.MarkFilled(o.ID, price, barIndex, ts); err != nil {
		return Fill{}, err
	}

	entry := models.ExecutionLogEntry{
		OrderID:         o.ID,
		TradeID:         o.TradeID,
		Symbol:          o.Symbol,
		OrderKind:       o.Kind,
		Side:            o.Side,
		RequestedPrice:  o.RequestedPrice,
		ExecutedPrice:   price,
		SlippageApplied: slippage,
		SpreadApplied:   spread,
		BarIndex:        barIndex,
		Timestamp:       ts,
	}
	fe.ledger.AppendExecution(ctx, entry)
	logging.LogFill(fe.logger, entry)

	switch o.Role {
	case models.OrderRoleEntry:
		fe.positions[o.TradeID] = &position{
			symbol: o.Symbol,
			side:   o.Side,
			size:   o.Size,
			entry:  price,
			mark:   price,
		}
	default:
		fe.closePosition(o.TradeID, price)
	}

	return Fill{Order: o, Entry: entry}, nil
}

// Flatten closes the open position of a running trade at market against the
// last bar seen for its symbol. It returns the executed exit price.
func (fe *FillEngine) Flatten(ctx context.Context, tradeID string, barIndex int, ts time.Time) (float64, error) {
	pos, ok := fe.positions[tradeID]
	if !ok {
		return 0, errors.NewOrderError(tradeID, "", "flatten", "no open position", errors.ErrTradeNotFound)
	}

	params := fe.costs.Params(pos.symbol)
	ref := pos.mark
	if bar, ok := fe.lastBars[pos.symbol]; ok {
		ref = bar.Close
	}
	half := params.HalfSpread()
	exitSide := pos.side.Opposite()
	price := ref - half - params.SlippagePrice
	if exitSide == models.OrderSideBuy {
		price = ref + half + params.SlippagePrice
	}

	entry := models.ExecutionLogEntry{
		OrderID:         tradeID + "-FLAT",
		TradeID:         tradeID,
		Symbol:          pos.symbol,
		OrderKind:       models.OrderKindMarket,
		Side:            exitSide,
		RequestedPrice:  ref,
		ExecutedPrice:   price,
		SlippageApplied: params.SlippagePrice,
		SpreadApplied:   half,
		BarIndex:        barIndex,
		Timestamp:       ts,
	}
	fe.ledger.AppendExecution(ctx, entry)
	logging.LogFill(fe.logger, entry)

	fe.closePosition(tradeID, price)
	return price, nil
}

func (fe *FillEngine) closePosition(tradeID string, exit float64) {
	pos, ok := fe.positions[tradeID]
	if !ok {
		return
	}
	fe.account.Cash += RealizedPnL(pos.side, pos.entry, exit, pos.size)
	delete(fe.positions, tradeID)
}

// MarkToMarket revalues open positions of symbol at price.
func (fe *FillEngine) MarkToMarket(symbol string, price float64) {
	for _, pos := range fe.positions {
		if pos.symbol == symbol {
			pos.mark = price
		}
	}
}

// Observe records bar as the latest for symbol and marks positions to its
// close without evaluating any order.
func (fe *FillEngine) Observe(symbol string, bar models.Bar) {
	fe.lastBars[symbol] = bar
	fe.MarkToMarket(symbol, bar.Close)
}

// LastBar returns the most recent bar processed for symbol.
func (fe *FillEngine) LastBar(symbol string) (models.Bar, bool) {
	bar, ok := fe.lastBars[symbol]
	return bar, ok
}

// SyncAccount recomputes equity from cash and open positions and returns a
// validated snapshot. It is called once per simulation step.
func (fe *FillEngine) SyncAccount(ts time.Time) (models.AccountSnapshot, error) {
	// Sum in trade-id order so equity is bit-for-bit reproducible.
	ids := make([]string, 0, len(fe.positions))
	for id := range fe.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var unrealized float64
	for _, id := range ids {
		unrealized += fe.positions[id].unrealized()
	}
	fe.account.Equity = fe.account.Cash + unrealized

	snap := models.AccountSnapshot{
		Cash:          fe.account.Cash,
		Equity:        fe.account.Equity,
		UnrealizedPnL: unrealized,
		OpenPositions: len(fe.positions),
		Timestamp:     ts,
	}
	if !finite(snap.Cash, snap.Equity, snap.UnrealizedPnL) {
		return snap, errors.ErrInvalidAccount
	}
	return snap, nil
}

// Account returns the current account balances.
func (fe *FillEngine) Account() models.Account {
	return fe.account
}
