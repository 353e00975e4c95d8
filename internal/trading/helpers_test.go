package trading

import (
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/config"
	"fxsim/internal/models"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig(model string) *config.Config {
	cfg, err := config.Default()
	if err != nil {
		panic(err)
	}
	cfg.Execution = config.ExecutionConfig{Model: model, SpreadPips: 2, SlippagePips: 2}
	cfg.Risk = config.RiskConfig{RiskFraction: 0.01, InvalidationThresholdPips: 5}
	cfg.Account.InitialCash = 100000
	return cfg
}

func bar(i int, open, high, low, close float64) models.Bar {
	return models.Bar{
		Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
	}
}

func step(i int, b models.Bar) models.BarSet {
	b.Timestamp = baseTime.Add(time.Duration(i) * time.Hour)
	return models.BarSet{"EURUSD": b}
}

type fillFixture struct {
	book   *OrderBook
	ledger *Ledger
	fills  *FillEngine
}

func newFillFixture(model string) *fillFixture {
	costs := NewCostModel(testConfig(model).Execution)
	book := NewOrderBook()
	ledger := NewLedger(costs, zerolog.Nop())
	return &fillFixture{
		book:   book,
		ledger: ledger,
		fills:  NewFillEngine(book, costs, ledger, 100000, zerolog.Nop()),
	}
}

func (f *fillFixture) add(side models.OrderSide, kind models.OrderKind, price float64) *models.Order {
	o := &models.Order{
		ID:             f.book.NextID(),
		TradeID:        "T-test",
		Symbol:         "EURUSD",
		Role:           models.OrderRoleEntry,
		Side:           side,
		Kind:           kind,
		RequestedPrice: price,
		Size:           1000,
		Status:         models.OrderStatusAccepted,
	}
	f.book.Add(o)
	return o
}

func buyProposal() models.TradeProposal {
	return models.TradeProposal{
		Symbol:       "EURUSD",
		Side:         models.OrderSideBuy,
		EntryKind:    models.OrderKindLimit,
		EntryPrice:   1.1000,
		SLPrice:      1.0980,
		TPPrice:      1.1040,
		RiskFraction: 0.01,
		AnchorLevel:  1.0995,
	}
}
