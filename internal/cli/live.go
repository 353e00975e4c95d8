package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fxsim/internal/broker"
	"fxsim/internal/errors"
	"fxsim/internal/metrics"
	"fxsim/internal/models"
	"fxsim/internal/resilience"
	"fxsim/internal/store"
	"fxsim/internal/stream"
	"fxsim/internal/trading"
)

// addLiveCommands adds the live command.
func addLiveCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLiveCmd(app))
}

func newLiveCmd(app *App) *cobra.Command {
	var (
		barsPath      string
		signalsPath   string
		paper         bool
		metricsListen string
		pollInterval  time.Duration
		noSave        bool
	)

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Drive the engine from per-symbol bar feeds",
		Long: `Run the execution engine in live mode. One poller per symbol pushes new
bars into a timestamp barrier; the engine steps once every symbol has a bar
for the same time.

Feeds are replayed from a bars CSV (--bars) or from the local store, and the
run stops once every feed is exhausted. With --paper, order submissions and
cancellations are mirrored to an in-memory paper gateway.`,
		Example: `  fxsim live --bars eurusd_gbpusd_1m.csv --signals signals.csv
  fxsim live --signals signals.csv --paper --metrics-listen :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := *app.Config

			bars, err := loadBars(cmd, app, barsPath, cfg.Feed.Symbols, cfg.Feed.Timeframe, time.Time{}, time.Time{})
			if err != nil {
				return err
			}
			cfg.Feed.Symbols = sortedKeys(bars)
			if pollInterval > 0 {
				cfg.Feed.PollInterval = pollInterval
				cfg.Feed.BarrierPollInterval = pollInterval
			}
			if metricsListen == "" && cfg.Metrics.Enabled {
				metricsListen = cfg.Metrics.Listen
			}

			var signals trading.SignalSource
			if signalsPath != "" {
				scheduled, err := trading.LoadScheduledSignals(signalsPath)
				if err != nil {
					return err
				}
				signals = scheduled
			}

			recorder := metrics.NewRecorder()
			opts := []trading.EngineOption{
				trading.WithObserver(recorder),
				trading.WithSink(recorder),
			}
			var router *broker.PaperRouter
			if paper {
				router = broker.NewPaperRouter()
				opts = append(opts, trading.WithRouter(router))
			}

			var (
				st  store.DataStore
				run *store.Run
			)
			if !noSave {
				st, err = app.OpenStore()
				if err != nil {
					return err
				}
				run, err = st.CreateRun(cmd.Context(), "live", cfg.Feed.Symbols)
				if err != nil {
					return err
				}
				opts = append(opts, trading.WithSink(store.NewRunSink(st, run.ID)))
			}

			engine := trading.NewEngine(&cfg, app.Logger, opts...)
			source := broker.NewReplaySource(bars)

			var (
				last       models.AccountSnapshot
				rejections int
			)
			step := func(ctx context.Context, set models.BarSet) error {
				snap, err := engine.Step(ctx, set)
				if err != nil {
					return err
				}
				last = snap
				rejections += engine.ApplySignals(ctx, signals, set)
				return nil
			}

			guarded := resilience.NewGuardedSource(source, cfg.Feed, app.Logger)
			runner := stream.NewLiveRunner(guarded, cfg.Feed, step, app.Logger)
			runner.StopWhen(source.Exhausted)
			runner.Synchronizer().OnGap(func(gap *errors.FeedGapError) {
				recorder.OnFeedGap(gap)
				if !output.IsJSON() {
					output.Warning("⚠ %s", gap.Error())
				}
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer cancel()
				return runner.Run(gctx)
			})
			if metricsListen != "" {
				g.Go(func() error {
					err := recorder.Serve(gctx, metricsListen)
					if err != nil && gctx.Err() != nil {
						app.Logger.Warn().Err(err).Msg("Metrics server did not shut down cleanly")
						return nil
					}
					return err
				})
				if !output.IsJSON() {
					output.Info("Serving metrics on %s/metrics", metricsListen)
				}
			}
			if err := g.Wait(); err != nil {
				return err
			}

			records := engine.Ledger().Records()
			runID := ""
			if run != nil {
				runID = run.ID
				summary := store.RunSummary{
					FinishedAt:  time.Now().UTC(),
					FinalEquity: last.Equity,
					Trades:      len(records),
				}
				if err := st.FinishRun(cmd.Context(), run.ID, summary); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"run_id":     runID,
					"steps":      engine.BarIndex() + 1,
					"account":    last,
					"rejections": rejections,
					"records":    records,
					"stats":      engine.Ledger().Stats(),
					"feeds":      guarded.Stats(),
				})
			}

			lines := []string{
				fmt.Sprintf("Steps:        %d", engine.BarIndex()+1),
				fmt.Sprintf("Equity:       %s", FormatMoney(last.Equity)),
				fmt.Sprintf("Cash:         %s", FormatMoney(last.Cash)),
				fmt.Sprintf("Open Trades:  %d", engine.OpenTrades()),
				fmt.Sprintf("Rejections:   %d", rejections),
			}
			if router != nil {
				lines = append(lines, fmt.Sprintf("Gateway:      %d submitted, %d filled, %d canceled, %d resting",
					len(router.History()), len(router.Filled()), len(router.Canceled()), len(router.Open())))
			}
			if runID != "" {
				lines = append(lines, "Run:          "+runID)
			}
			output.Box("Live Session", lines)
			output.Println()
			if len(records) > 0 {
				printLedgerTable(output, records)
				output.Println()
			}
			printExecutionStats(output, engine.Ledger().Stats())
			return nil
		},
	}

	cmd.Flags().StringVar(&barsPath, "bars", "", "bars CSV file to replay (default: read feed.symbols from the store)")
	cmd.Flags().StringVar(&signalsPath, "signals", "", "scheduled signals CSV file")
	cmd.Flags().BoolVar(&paper, "paper", false, "mirror orders to a paper gateway")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (default: metrics.listen when enabled)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 10*time.Millisecond, "feed and barrier poll interval (0 = use config)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not record the run in the store")

	return cmd
}
