package trading

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fxsim/internal/config"
	"fxsim/internal/models"
)

func TestFillRules(t *testing.T) {
	tests := []struct {
		name     string
		side     models.OrderSide
		kind     models.OrderKind
		price    float64
		bar      models.Bar
		filled   bool
		want     float64
		wantSlip float64
	}{
		{"buy limit touched", models.OrderSideBuy, models.OrderKindLimit, 1.1000, bar(0, 1.1010, 1.1020, 1.0995, 1.1005), true, 1.1001, 0},
		{"buy limit gap", models.OrderSideBuy, models.OrderKindLimit, 1.1000, bar(0, 1.0990, 1.1005, 1.0985, 1.1000), true, 1.0991, 0},
		{"buy limit untouched", models.OrderSideBuy, models.OrderKindLimit, 1.1000, bar(0, 1.1010, 1.1020, 1.1001, 1.1005), false, 0, 0},
		{"sell limit touched", models.OrderSideSell, models.OrderKindLimit, 1.1000, bar(0, 1.0995, 1.1003, 1.0990, 1.0998), true, 1.0999, 0},
		{"sell limit gap", models.OrderSideSell, models.OrderKindLimit, 1.1000, bar(0, 1.1010, 1.1015, 1.1005, 1.1010), true, 1.1009, 0},
		{"buy stop", models.OrderSideBuy, models.OrderKindStop, 1.1000, bar(0, 1.0990, 1.1015, 1.0985, 1.1010), true, 1.1017, 0.0017},
		{"buy stop untouched", models.OrderSideBuy, models.OrderKindStop, 1.1000, bar(0, 1.0990, 1.0999, 1.0985, 1.0995), false, 0, 0},
		{"sell stop", models.OrderSideSell, models.OrderKindStop, 1.1000, bar(0, 1.1005, 1.1010, 1.0990, 1.0995), true, 1.0988, 0.0012},
		{"buy market", models.OrderSideBuy, models.OrderKindMarket, 0, bar(0, 1.1000, 1.1010, 1.0990, 1.1005), true, 1.1008, 0.0002},
		{"sell market", models.OrderSideSell, models.OrderKindMarket, 0, bar(0, 1.1000, 1.1010, 1.0990, 1.1005), true, 1.1002, 0.0002},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFillFixture(config.ModelRealistic)
			price := tt.price
			if price == 0 {
				price = tt.bar.Close
			}
			o := f.add(tt.side, tt.kind, price)

			n := f.fills.Process(context.Background(), "EURUSD", tt.bar, 0, nil)
			if tt.filled != (n == 1) {
				t.Fatalf("filled = %d orders, want filled=%v", n, tt.filled)
			}
			if !tt.filled {
				if o.Status != models.OrderStatusAccepted {
					t.Errorf("status = %s, want ACCEPTED", o.Status)
				}
				return
			}

			if o.Status != models.OrderStatusFilled {
				t.Errorf("status = %s, want FILLED", o.Status)
			}
			if !near(o.ExecutedPrice, tt.want) {
				t.Errorf("executed = %.6f, want %.6f", o.ExecutedPrice, tt.want)
			}
			execs := f.ledger.Executions()
			if len(execs) != 1 {
				t.Fatalf("executions = %d, want 1", len(execs))
			}
			if !near(execs[0].SlippageApplied, tt.wantSlip) {
				t.Errorf("slippage = %.6f, want %.6f", execs[0].SlippageApplied, tt.wantSlip)
			}
			if execs[0].BarIndex != 0 || !execs[0].Timestamp.Equal(tt.bar.Timestamp) {
				t.Errorf("execution bar/time = %d/%v", execs[0].BarIndex, execs[0].Timestamp)
			}
		})
	}
}

func TestPerfectModelFillsAtRequestedPrice(t *testing.T) {
	f := newFillFixture(config.ModelPerfect)
	limit := f.add(models.OrderSideBuy, models.OrderKindLimit, 1.0995)
	stop := f.add(models.OrderSideBuy, models.OrderKindStop, 1.1010)

	f.fills.Process(context.Background(), "EURUSD", bar(0, 1.1000, 1.1020, 1.0990, 1.1010), 0, nil)

	if limit.ExecutedPrice != 1.0995 {
		t.Errorf("limit executed = %v, want 1.0995", limit.ExecutedPrice)
	}
	if stop.ExecutedPrice != 1.1010 {
		t.Errorf("stop executed = %v, want 1.1010", stop.ExecutedPrice)
	}
	for _, e := range f.ledger.Executions() {
		if e.SlippageApplied != 0 || e.SpreadApplied != 0 {
			t.Errorf("perfect model applied costs: %+v", e)
		}
	}
}

func TestPerfectModelStopGapFillsAtOpen(t *testing.T) {
	f := newFillFixture(config.ModelPerfect)
	stop := f.add(models.OrderSideSell, models.OrderKindStop, 1.1000)

	f.fills.Process(context.Background(), "EURUSD", bar(0, 1.0980, 1.0990, 1.0970, 1.0985), 0, nil)

	if stop.ExecutedPrice != 1.0980 {
		t.Errorf("stop executed = %v, want open 1.0980", stop.ExecutedPrice)
	}
}

func TestProcessEvaluatesStopsFirst(t *testing.T) {
	f := newFillFixture(config.ModelRealistic)
	limit := f.add(models.OrderSideSell, models.OrderKindLimit, 1.1040)
	stop := f.add(models.OrderSideSell, models.OrderKindStop, 1.0980)

	var order []string
	f.fills.Process(context.Background(), "EURUSD", bar(0, 1.1000, 1.1050, 1.0970, 1.1000), 0,
		func(_ context.Context, fill Fill) {
			order = append(order, fill.Order.ID)
		})

	if len(order) != 2 || order[0] != stop.ID || order[1] != limit.ID {
		t.Errorf("fill order = %v, want [%s %s]", order, stop.ID, limit.ID)
	}
}

func TestProcessRechecksStatusBeforeEvaluating(t *testing.T) {
	f := newFillFixture(config.ModelRealistic)
	stop := f.add(models.OrderSideSell, models.OrderKindStop, 1.0980)
	limit := f.add(models.OrderSideSell, models.OrderKindLimit, 1.1040)

	n := f.fills.Process(context.Background(), "EURUSD", bar(0, 1.1000, 1.1050, 1.0970, 1.1000), 0,
		func(_ context.Context, fill Fill) {
			if fill.Order.ID == stop.ID {
				f.book.Cancel(limit.ID)
			}
		})

	if n != 1 {
		t.Errorf("filled = %d, want 1", n)
	}
	if limit.Status != models.OrderStatusCanceled {
		t.Errorf("limit status = %s, want CANCELED", limit.Status)
	}
}

func TestProcessIgnoresOtherSymbols(t *testing.T) {
	f := newFillFixture(config.ModelRealistic)
	o := f.add(models.OrderSideBuy, models.OrderKindMarket, 1.1000)

	if n := f.fills.Process(context.Background(), "GBPUSD", bar(0, 1.2, 1.3, 1.1, 1.25), 0, nil); n != 0 {
		t.Errorf("filled = %d on another symbol", n)
	}
	if o.Status != models.OrderStatusAccepted {
		t.Errorf("status = %s, want ACCEPTED", o.Status)
	}
}

func TestExecuteAtRequiresActiveOrder(t *testing.T) {
	f := newFillFixture(config.ModelRealistic)
	o := f.add(models.OrderSideBuy, models.OrderKindLimit, 1.1000)

	if _, err := f.fills.ExecuteAt(context.Background(), "O-missing", 1.1, 0, baseTime); err == nil {
		t.Error("expected error for unknown order")
	}
	if _, err := f.fills.ExecuteAt(context.Background(), o.ID, -1, 0, baseTime); err == nil {
		t.Error("expected error for non-positive price")
	}

	fill, err := f.fills.ExecuteAt(context.Background(), o.ID, 1.1003, 0, baseTime)
	if err != nil {
		t.Fatalf("ExecuteAt: %v", err)
	}
	if fill.Order.ExecutedPrice != 1.1003 || !near(fill.Entry.SlippageApplied, 0.0003) {
		t.Errorf("fill = %+v", fill.Entry)
	}
	if _, err := f.fills.ExecuteAt(context.Background(), o.ID, 1.1003, 0, baseTime); err == nil {
		t.Error("expected error filling a FILLED order")
	}
}

func TestSyncAccountMarksOpenPosition(t *testing.T) {
	f := newFillFixture(config.ModelPerfect)
	f.add(models.OrderSideBuy, models.OrderKindLimit, 1.1000)

	f.fills.Process(context.Background(), "EURUSD", bar(0, 1.1005, 1.1010, 1.0995, 1.1010), 0, nil)
	snap, err := f.fills.SyncAccount(baseTime)
	if err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}
	if snap.OpenPositions != 1 {
		t.Errorf("open positions = %d, want 1", snap.OpenPositions)
	}
	if snap.Cash != 100000 {
		t.Errorf("cash = %v, want unchanged 100000", snap.Cash)
	}
	if !near(snap.UnrealizedPnL, 1.0) || !near(snap.Equity, 100001) {
		t.Errorf("unrealized/equity = %v/%v, want 1/100001", snap.UnrealizedPnL, snap.Equity)
	}
}

func TestRealizedPnL(t *testing.T) {
	if got := RealizedPnL(models.OrderSideBuy, 1.1000, 1.1010, 10000); !near(got, 10) {
		t.Errorf("buy pnl = %v, want 10", got)
	}
	if got := RealizedPnL(models.OrderSideSell, 1.1000, 1.1010, 10000); !near(got, -10) {
		t.Errorf("sell pnl = %v, want -10", got)
	}
}

// Property: a BUY limit never fills worse than limit plus half the spread,
// and a BUY stop never fills better than stop plus slippage.
func TestProperty_FillPriceBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("fill price bounds", prop.ForAll(
		func(low, rangePips, openFrac, levelFrac float64) bool {
			high := low + rangePips*0.0001
			open := low + (high-low)*openFrac
			level := low - 0.0010 + (high-low+0.0020)*levelFrac
			b := bar(0, open, high, low, open)

			f := newFillFixture(config.ModelRealistic)
			limit := f.add(models.OrderSideBuy, models.OrderKindLimit, level)
			stop := f.add(models.OrderSideBuy, models.OrderKindStop, level)
			f.fills.Process(context.Background(), "EURUSD", b, 0, nil)

			if limit.Status == models.OrderStatusFilled && limit.ExecutedPrice > level+0.0001+eps {
				return false
			}
			if limit.Status != models.OrderStatusFilled && low <= level {
				return false
			}
			if stop.Status == models.OrderStatusFilled && stop.ExecutedPrice < level+0.0002-eps {
				return false
			}
			if stop.Status != models.OrderStatusFilled && high >= level {
				return false
			}
			return true
		},
		gen.Float64Range(0.9, 1.5),
		gen.Float64Range(0, 50),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
