package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fxsim/internal/store"
	"fxsim/internal/trading"
)

// addBacktestCommands adds the backtest command.
func addBacktestCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBacktestCmd(app))
}

func newBacktestCmd(app *App) *cobra.Command {
	var (
		barsPath    string
		signalsPath string
		symbols     []string
		timeframe   string
		fromFlag    string
		toFlag      string
		model       string
		noSave      bool
		chart       bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay recorded bars through the fill engine",
		Long: `Replay recorded bars of one or more symbols through the execution engine.

Bars come from a CSV file (--bars) or from the local store. Proposals and
invalidations come from a scheduled signals CSV (--signals). Only timestamps
present for every symbol are stepped. Identical inputs give identical results.`,
		Example: `  fxsim backtest --bars eurusd_1h.csv --signals signals.csv
  fxsim backtest --symbols EURUSD,GBPUSD --timeframe 1h --from 2024-01-01 --signals signals.csv
  fxsim backtest --bars eurusd_1h.csv --signals signals.csv --model perfect --chart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			cfg := *app.Config
			if model != "" {
				cfg.Execution.Model = model
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if barsPath == "" && len(symbols) == 0 {
				symbols = cfg.Feed.Symbols
			}
			if timeframe == "" {
				timeframe = cfg.Feed.Timeframe
			}
			from, err := parseTimeFlag(fromFlag)
			if err != nil {
				return err
			}
			to, err := parseTimeFlag(toFlag)
			if err != nil {
				return err
			}

			bars, err := loadBars(cmd, app, barsPath, symbols, timeframe, from, to)
			if err != nil {
				return err
			}

			var signals trading.SignalSource
			if signalsPath != "" {
				scheduled, err := trading.LoadScheduledSignals(signalsPath)
				if err != nil {
					return err
				}
				signals = scheduled
			} else if !output.IsJSON() {
				output.Warning("No --signals given; replaying bars without proposals.")
			}

			var (
				opts []trading.EngineOption
				st   store.DataStore
				run  *store.Run
			)
			if !noSave {
				st, err = app.OpenStore()
				if err != nil {
					return err
				}
				run, err = st.CreateRun(ctx, "backtest", sortedKeys(bars))
				if err != nil {
					return err
				}
				opts = append(opts, trading.WithSink(store.NewRunSink(st, run.ID)))
			}

			result, err := trading.NewBacktester(&cfg, app.Logger, opts...).Run(ctx, bars, signals)
			if err != nil {
				return err
			}

			runID := ""
			if run != nil {
				runID = run.ID
				summary := store.RunSummary{
					FinishedAt:  time.Now().UTC(),
					FinalEquity: result.FinalEquity,
					Trades:      len(result.Records),
				}
				if err := st.FinishRun(ctx, run.ID, summary); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"run_id": runID,
					"result": result,
				})
			}
			printBacktestResult(output, result, runID)
			if chart {
				output.Println()
				output.Println(trading.EquityCurveASCII(result.EquityCurve, 60, 12))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&barsPath, "bars", "", "bars CSV file (default: read from the store)")
	cmd.Flags().StringVar(&signalsPath, "signals", "", "scheduled signals CSV file")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to replay (default: feed.symbols, or all in --bars)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "bar timeframe for store reads (default: feed.timeframe)")
	cmd.Flags().StringVar(&fromFlag, "from", "", "first bar time, RFC3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&toFlag, "to", "", "last bar time, RFC3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&model, "model", "", "execution model override: realistic or perfect")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not record the run in the store")
	cmd.Flags().BoolVar(&chart, "chart", false, "print an equity curve chart")

	return cmd
}

func printBacktestResult(output *Output, r *trading.BacktestResult, runID string) {
	lines := []string{
		fmt.Sprintf("Period:        %s to %s (%s)", FormatDateTime(r.StartedAt), FormatDateTime(r.EndedAt), FormatDuration(r.Duration())),
		fmt.Sprintf("Symbols:       %v over %d bars", r.Symbols, r.Bars),
		fmt.Sprintf("Initial:       %s", FormatMoney(r.InitialCapital)),
		fmt.Sprintf("Final Equity:  %s", FormatMoney(r.FinalEquity)),
		fmt.Sprintf("Return:        %s", output.FormatPercent(r.TotalReturn)),
		fmt.Sprintf("Max Drawdown:  %.2f%%", r.MaxDrawdown),
		fmt.Sprintf("Sharpe:        %.2f", r.SharpeRatio),
		fmt.Sprintf("Trades:        %d closed (%d won, %d lost), %d canceled, %d open",
			r.TotalTrades, r.WinningTrades, r.LosingTrades, r.CanceledTrades, r.OpenTrades),
		fmt.Sprintf("Win Rate:      %.1f%%", r.WinRate),
		fmt.Sprintf("Avg Win/Loss:  %s / %s", FormatMoney(r.AvgWin), FormatMoney(r.AvgLoss)),
		fmt.Sprintf("Profit Factor: %.2f", r.ProfitFactor),
		fmt.Sprintf("Rejections:    %d", r.Rejections),
	}
	if runID != "" {
		lines = append(lines, fmt.Sprintf("Run:           %s", runID))
	}
	output.Box("Backtest Results", lines)
	output.Println()

	if len(r.Records) > 0 {
		printLedgerTable(output, r.Records)
		output.Println()
	}
	printExecutionStats(output, r.Stats)
}
