package trading

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fxsim/internal/config"
	"fxsim/internal/errors"
	"fxsim/internal/logging"
	"fxsim/internal/models"
)

// periodsPerYear annualizes per-step returns in the Sharpe ratio.
const periodsPerYear = 252

// Backtester replays recorded bars through a fresh Engine.
type Backtester struct {
	cfg    *config.Config
	opts   []EngineOption
	logger zerolog.Logger
}

// NewBacktester creates a backtester. opts are applied to every engine it builds.
func NewBacktester(cfg *config.Config, logger zerolog.Logger, opts ...EngineOption) *Backtester {
	return &Backtester{
		cfg:    cfg,
		opts:   opts,
		logger: logging.WithComponent(logger, "backtest"),
	}
}

// Run steps through every timestamp present in all series of bars. Signals
// emitted after a step are evaluated from the following bar. Identical
// inputs produce identical results.
func (b *Backtester) Run(ctx context.Context, bars map[string][]models.Bar, signals SignalSource) (*BacktestResult, error) {
	steps, symbols, err := AlignBars(bars)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(b.cfg, b.logger, b.opts...)
	result := &BacktestResult{
		Symbols:        symbols,
		InitialCapital: b.cfg.Account.InitialCash,
		EquityCurve:    make([]EquityPoint, 0, len(steps)),
	}

	peak := b.cfg.Account.InitialCash
	for _, set := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := engine.Step(ctx, set)
		if err != nil {
			return nil, err
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: snap.Timestamp, Equity: snap.Equity})
		if snap.Equity > peak {
			peak = snap.Equity
		}
		if peak > 0 {
			result.MaxDrawdown = math.Max(result.MaxDrawdown, (peak-snap.Equity)/peak*100)
		}

		result.Rejections += engine.ApplySignals(ctx, signals, set)
	}

	result.Bars = len(steps)
	result.StartedAt = steps[0].Timestamp()
	result.EndedAt = steps[len(steps)-1].Timestamp()
	result.FinalEquity = engine.Account().Equity
	result.OpenTrades = engine.OpenTrades()
	result.Records = engine.Ledger().Records()
	result.Executions = engine.Ledger().Executions()
	result.Stats = engine.Ledger().Stats()
	calculateMetrics(result)

	b.logger.Info().
		Int("bars", result.Bars).
		Int("trades", result.TotalTrades).
		Int("open", result.OpenTrades).
		Float64("final_equity", result.FinalEquity).
		Msg("Backtest complete")

	return result, nil
}

// AlignBars groups bars by timestamp and keeps only timestamps present for
// every symbol, in ascending order. It also returns the sorted symbol list.
func AlignBars(bars map[string][]models.Bar) ([]models.BarSet, []string, error) {
	if len(bars) == 0 {
		return nil, nil, errors.Wrap(errors.ErrInsufficientData, "no symbols")
	}

	symbols := make([]string, 0, len(bars))
	for sym, series := range bars {
		if len(series) == 0 {
			return nil, nil, errors.NewDataError("bars", sym, "empty series", errors.ErrInsufficientData)
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	bySymbol := make(map[string]map[int64]models.Bar, len(symbols))
	for _, sym := range symbols {
		m := make(map[int64]models.Bar, len(bars[sym]))
		for _, bar := range bars[sym] {
			m[bar.Timestamp.UnixNano()] = bar
		}
		bySymbol[sym] = m
	}

	stamps := make([]int64, 0, len(bySymbol[symbols[0]]))
	for ts := range bySymbol[symbols[0]] {
		present := true
		for _, sym := range symbols[1:] {
			if _, ok := bySymbol[sym][ts]; !ok {
				present = false
				break
			}
		}
		if present {
			stamps = append(stamps, ts)
		}
	}
	if len(stamps) == 0 {
		return nil, nil, errors.Wrap(errors.ErrInsufficientData, "no timestamp common to all symbols")
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	steps := make([]models.BarSet, 0, len(stamps))
	for _, ts := range stamps {
		set := make(models.BarSet, len(symbols))
		for _, sym := range symbols {
			set[sym] = bySymbol[sym][ts]
		}
		steps = append(steps, set)
	}
	return steps, symbols, nil
}

func calculateMetrics(result *BacktestResult) {
	var wins, losses []float64
	for _, rec := range result.Records {
		if rec.State == models.TradeCanceled {
			result.CanceledTrades++
		}
		if rec.PnL == nil {
			continue
		}
		result.TotalTrades++
		if *rec.PnL > 0 {
			result.WinningTrades++
			wins = append(wins, *rec.PnL)
		} else {
			result.LosingTrades++
			losses = append(losses, *rec.PnL)
		}
	}

	if result.InitialCapital > 0 {
		result.TotalReturn = (result.FinalEquity - result.InitialCapital) / result.InitialCapital * 100
	}
	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	}

	var totalWins, totalLosses float64
	for _, w := range wins {
		totalWins += w
	}
	for _, l := range losses {
		totalLosses += math.Abs(l)
	}
	if len(wins) > 0 {
		result.AvgWin = totalWins / float64(len(wins))
	}
	if len(losses) > 0 {
		result.AvgLoss = -totalLosses / float64(len(losses))
	}
	if totalLosses > 0 {
		result.ProfitFactor = totalWins / totalLosses
	}

	result.SharpeRatio = sharpeRatio(result.EquityCurve)
}

func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Equity == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-curve[i-1].Equity)/curve[i-1].Equity)
	}
	if len(returns) == 0 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(periodsPerYear)
}

// EquityCurveASCII renders the equity curve as a text chart.
func EquityCurveASCII(curve []EquityPoint, width, height int) string {
	if len(curve) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	minEquity, maxEquity := curve[0].Equity, curve[0].Equity
	for _, point := range curve {
		minEquity = math.Min(minEquity, point.Equity)
		maxEquity = math.Max(maxEquity, point.Equity)
	}

	equityRange := maxEquity - minEquity
	if equityRange == 0 {
		equityRange = 1
	}
	minEquity -= equityRange * 0.05
	maxEquity += equityRange * 0.05
	equityRange = maxEquity - minEquity

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	step := len(curve) / width
	if step == 0 {
		step = 1
	}
	for x := 0; x < width && x*step < len(curve); x++ {
		y := int((curve[x*step].Equity - minEquity) / equityRange * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity Curve (%.0f - %.0f)\n", minEquity, maxEquity))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteRune('│')
		sb.WriteRune('\n')
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	return sb.String()
}

// Duration returns the wall span covered by the replay.
func (r *BacktestResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
