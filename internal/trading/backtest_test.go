package trading

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/config"
	"fxsim/internal/models"
)

func series(symbol string, n int, base float64) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		open := base + 0.0030*math.Sin(float64(i)/5)
		close := base + 0.0030*math.Sin(float64(i+1)/5)
		bars[i] = models.Bar{
			Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, close) + 0.0005,
			Low:       math.Min(open, close) - 0.0005,
			Close:     close,
		}
	}
	return bars
}

func TestBacktestTakeProfitScenario(t *testing.T) {
	bt := NewBacktester(testConfig(config.ModelRealistic), zerolog.Nop())
	bars := map[string][]models.Bar{
		"EURUSD": {
			step(0, barQuiet)["EURUSD"],
			step(1, barEntry)["EURUSD"],
			step(2, barTP)["EURUSD"],
		},
	}
	signals := SignalFunc(func(index int, _ models.BarSet) ([]models.TradeProposal, []models.Invalidation) {
		if index == 0 {
			return []models.TradeProposal{buyProposal()}, nil
		}
		return nil, nil
	})

	result, err := bt.Run(context.Background(), bars, signals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Bars != 3 || len(result.EquityCurve) != 3 {
		t.Fatalf("bars = %d, curve = %d", result.Bars, len(result.EquityCurve))
	}
	if result.TotalTrades != 1 || result.WinningTrades != 1 || result.WinRate != 100 {
		t.Errorf("trades = %d, wins = %d, win rate = %v", result.TotalTrades, result.WinningTrades, result.WinRate)
	}
	if result.FinalEquity <= result.InitialCapital || result.TotalReturn <= 0 {
		t.Errorf("final equity = %v, return = %v", result.FinalEquity, result.TotalReturn)
	}
	if result.Stats.TotalExecutions != 2 {
		t.Errorf("executions = %d, want 2", result.Stats.TotalExecutions)
	}
	if result.Duration() != 2*time.Hour {
		t.Errorf("duration = %v", result.Duration())
	}
}

func TestBacktestIsDeterministic(t *testing.T) {
	bars := map[string][]models.Bar{
		"EURUSD": series("EURUSD", 80, 1.1000),
		"GBPUSD": series("GBPUSD", 80, 1.2700),
	}
	rows := []SignalRow{
		{Timestamp: "2024-01-01T01:00:00Z", Action: ActionPropose, Symbol: "EURUSD", Side: "BUY", Kind: "LIMIT",
			Entry: 1.0985, SL: 1.0950, TP: 1.1025, Anchor: 1.0980},
		{Timestamp: "2024-01-01T03:00:00Z", Action: ActionPropose, Symbol: "GBPUSD", Side: "SELL", Kind: "LIMIT",
			Entry: 1.2725, SL: 1.2760, TP: 1.2680},
		{Timestamp: "2024-01-01T05:00:00Z", Action: ActionPropose, Symbol: "EURUSD", Side: "SELL", Kind: "STOP",
			Entry: 1.0990, SL: 1.1030, TP: 1.0975},
		{Timestamp: "2024-01-01T20:00:00Z", Action: ActionPropose, Symbol: "EURUSD", Side: "BUY", Kind: "MARKET",
			Entry: 1.1000, SL: 1.0960, TP: 1.1020},
	}

	run := func() *BacktestResult {
		signals, err := NewScheduledSignals(rows)
		if err != nil {
			t.Fatalf("NewScheduledSignals: %v", err)
		}
		result, err := NewBacktester(testConfig(config.ModelRealistic), zerolog.Nop()).Run(context.Background(), bars, signals)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return result
	}

	first, second := run(), run()
	if len(first.Executions) == 0 {
		t.Fatal("scenario produced no executions")
	}
	if !reflect.DeepEqual(first.Records, second.Records) {
		t.Error("ledger records differ between runs")
	}
	if !reflect.DeepEqual(first.Executions, second.Executions) {
		t.Error("execution logs differ between runs")
	}
	if !reflect.DeepEqual(first.EquityCurve, second.EquityCurve) || first.FinalEquity != second.FinalEquity {
		t.Error("equity differs between runs")
	}
	if !reflect.DeepEqual(first.Symbols, []string{"EURUSD", "GBPUSD"}) {
		t.Errorf("symbols = %v", first.Symbols)
	}
}

func TestBacktestCountsRejections(t *testing.T) {
	bad := buyProposal()
	bad.TPPrice = 1.0900
	signals := SignalFunc(func(index int, _ models.BarSet) ([]models.TradeProposal, []models.Invalidation) {
		return []models.TradeProposal{bad}, nil
	})

	result, err := NewBacktester(testConfig(config.ModelRealistic), zerolog.Nop()).
		Run(context.Background(), map[string][]models.Bar{"EURUSD": series("EURUSD", 5, 1.1)}, signals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Rejections != 5 || len(result.Records) != 0 {
		t.Errorf("rejections = %d, records = %d", result.Rejections, len(result.Records))
	}
}

func TestBacktestHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBacktester(testConfig(config.ModelRealistic), zerolog.Nop()).
		Run(ctx, map[string][]models.Bar{"EURUSD": series("EURUSD", 5, 1.1)}, nil)
	if err == nil {
		t.Error("expected context error")
	}
}

func TestAlignBars(t *testing.T) {
	eur := series("EURUSD", 3, 1.1)
	gbp := series("GBPUSD", 4, 1.27)[1:]

	steps, symbols, err := AlignBars(map[string][]models.Bar{"GBPUSD": gbp, "EURUSD": eur})
	if err != nil {
		t.Fatalf("AlignBars: %v", err)
	}
	if !reflect.DeepEqual(symbols, []string{"EURUSD", "GBPUSD"}) {
		t.Errorf("symbols = %v", symbols)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2 common timestamps", len(steps))
	}
	for i, set := range steps {
		want := baseTime.Add(time.Duration(i+1) * time.Hour)
		if len(set) != 2 || !set.Timestamp().Equal(want) {
			t.Errorf("step %d = %v at %v", i, len(set), set.Timestamp())
		}
		if !set["EURUSD"].Timestamp.Equal(set["GBPUSD"].Timestamp) {
			t.Errorf("step %d mixes timestamps", i)
		}
	}

	if _, _, err := AlignBars(nil); err == nil {
		t.Error("expected error for no symbols")
	}
	if _, _, err := AlignBars(map[string][]models.Bar{"EURUSD": nil}); err == nil {
		t.Error("expected error for an empty series")
	}
	late := series("USDJPY", 3, 150)
	for i := range late {
		late[i].Timestamp = late[i].Timestamp.Add(30 * time.Minute)
	}
	if _, _, err := AlignBars(map[string][]models.Bar{"EURUSD": eur, "USDJPY": late}); err == nil {
		t.Error("expected error when no timestamp is shared")
	}
}

func TestSharpeRatio(t *testing.T) {
	if got := sharpeRatio(nil); got != 0 {
		t.Errorf("empty = %v", got)
	}
	flat := []EquityPoint{{Equity: 100}, {Equity: 100}, {Equity: 100}}
	if got := sharpeRatio(flat); got != 0 {
		t.Errorf("flat = %v", got)
	}
	rising := []EquityPoint{{Equity: 100}, {Equity: 101}, {Equity: 103}, {Equity: 104}}
	if got := sharpeRatio(rising); got <= 0 {
		t.Errorf("rising = %v, want positive", got)
	}
}

func TestEquityCurveASCII(t *testing.T) {
	if got := EquityCurveASCII(nil, 10, 5); got != "No data to display" {
		t.Errorf("empty = %q", got)
	}
	curve := []EquityPoint{{Equity: 100}, {Equity: 110}, {Equity: 105}}
	out := EquityCurveASCII(curve, 3, 4)
	if !strings.HasPrefix(out, "Equity Curve") || strings.Count(out, "█") != 3 {
		t.Errorf("chart = %q", out)
	}
}
