package cli

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"fxsim/internal/models"
	"fxsim/internal/store"
	"fxsim/internal/trading"
	"fxsim/pkg/utils"
)

// LedgerCSVRow is the CSV form of a ledger record.
type LedgerCSVRow struct {
	TradeID            string  `csv:"trade_id"`
	Symbol             string  `csv:"symbol"`
	Side               string  `csv:"side"`
	State              string  `csv:"state"`
	EntryPrice         float64 `csv:"entry_price"`
	ExecutedEntryPrice float64 `csv:"executed_entry_price"`
	Size               int64   `csv:"size"`
	SLPrice            float64 `csv:"sl"`
	TPPrice            float64 `csv:"tp"`
	OpenedAt           string  `csv:"opened_at"`
	ClosedAt           string  `csv:"closed_at"`
	ExitPrice          float64 `csv:"exit_price"`
	PnL                string  `csv:"pnl"`
	CloseReason        string  `csv:"close_reason"`
}

// NewLedgerCSVRow flattens rec. Unset times and a missing P&L are empty.
func NewLedgerCSVRow(rec models.LedgerRecord) LedgerCSVRow {
	row := LedgerCSVRow{
		TradeID:            rec.TradeID,
		Symbol:             rec.Symbol,
		Side:               string(rec.Side),
		State:              string(rec.State),
		EntryPrice:         rec.EntryPrice,
		ExecutedEntryPrice: rec.ExecutedEntryPrice,
		Size:               rec.Size,
		SLPrice:            rec.SLPrice,
		TPPrice:            rec.TPPrice,
		OpenedAt:           csvTime(rec.OpenedAt),
		ClosedAt:           csvTime(rec.ClosedAt),
		ExitPrice:          rec.ExitPrice,
		CloseReason:        rec.CloseReason,
	}
	if rec.PnL != nil {
		row.PnL = strconv.FormatFloat(*rec.PnL, 'f', -1, 64)
	}
	return row
}

func csvTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteLedgerCSV writes records as CSV with a header row.
func WriteLedgerCSV(w io.Writer, records []models.LedgerRecord) error {
	rows := make([]LedgerCSVRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, NewLedgerCSVRow(rec))
	}
	return gocsv.Marshal(rows, w)
}

// addLedgerCommands adds ledger and execution statistics commands.
func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Recorded runs and trade ledgers",
		Long:  "List recorded runs and show or export their trade ledgers.",
	}

	cmd.AddCommand(newLedgerRunsCmd(app))
	cmd.AddCommand(newLedgerShowCmd(app))
	cmd.AddCommand(newLedgerExportCmd(app))

	rootCmd.AddCommand(cmd)
	rootCmd.AddCommand(newStatsCmd(app))
}

func newLedgerRunsCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore()
			if err != nil {
				return err
			}
			runs, err := st.GetRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No runs recorded yet.")
				return nil
			}
			table := NewTable(output, "Run", "Mode", "Symbols", "Started", "Finished", "Trades", "Final Equity")
			for _, r := range runs {
				finished, equity := "-", "-"
				if r.FinishedAt != nil {
					finished = FormatDateTime(*r.FinishedAt)
				}
				if r.FinalEquity != nil {
					equity = FormatMoney(*r.FinalEquity)
				}
				table.AddRow(r.ID, r.Mode, TruncateString(strings.Join(r.Symbols, ","), 24),
					FormatDateTime(r.StartedAt), finished, strconv.Itoa(r.Trades), equity)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newLedgerShowCmd(app *App) *cobra.Command {
	var filter store.TradeFilter

	cmd := &cobra.Command{
		Use:     "show <run-id>",
		Short:   "Show the trade ledger of a run",
		Example: `  fxsim ledger show 2f1c... --state SL_HIT`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			records, err := fetchLedger(cmd, app, args[0], filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No trades recorded for run %s.", args[0])
				return nil
			}
			printLedgerTable(output, records)
			return nil
		},
	}

	addTradeFilterFlags(cmd, &filter)
	return cmd
}

func newLedgerExportCmd(app *App) *cobra.Command {
	var (
		filter  store.TradeFilter
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export the trade ledger of a run as CSV",
		Long:  "Export a run's ledger records as CSV, or as JSON with --json.",
		Example: `  fxsim ledger export 2f1c... --out trades.csv
  fxsim ledger export 2f1c... --json > trades.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			records, err := fetchLedger(cmd, app, args[0], filter)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			if output.IsJSON() {
				return output.To(w).JSON(records)
			}
			if err := WriteLedgerCSV(w, records); err != nil {
				return err
			}
			if outPath != "" {
				output.Success("✓ Exported %d trades to %s", len(records), outPath)
			}
			return nil
		},
	}

	addTradeFilterFlags(cmd, &filter)
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default: stdout)")
	return cmd
}

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <run-id>",
		Short: "Execution statistics of a run",
		Long:  "Summarize slippage over a run's execution log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore()
			if err != nil {
				return err
			}
			if _, err := st.GetRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			executions, err := st.GetExecutions(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			ledger := trading.NewLedger(trading.NewCostModel(app.Config.Execution), app.Logger)
			for _, e := range executions {
				ledger.AppendExecution(cmd.Context(), e)
			}
			stats := ledger.Stats()

			if output.IsJSON() {
				return output.JSON(stats)
			}
			printExecutionStats(output, stats)
			return nil
		},
	}
}

func fetchLedger(cmd *cobra.Command, app *App, runID string, filter store.TradeFilter) ([]models.LedgerRecord, error) {
	st, err := app.OpenStore()
	if err != nil {
		return nil, err
	}
	if _, err := st.GetRun(cmd.Context(), runID); err != nil {
		return nil, err
	}
	filter.RunID = runID
	return st.GetTrades(cmd.Context(), filter)
}

func addTradeFilterFlags(cmd *cobra.Command, filter *store.TradeFilter) {
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only trades of this symbol")
	cmd.Flags().StringVar((*string)(&filter.State), "state", "", "only trades in this state (TP_HIT, SL_HIT, CANCELED)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum trades (0 = all)")
}

func printLedgerTable(output *Output, records []models.LedgerRecord) {
	output.Bold("Trades")
	table := NewTable(output, "Trade", "Symbol", "Side", "State", "Size", "Entry", "Exit", "R:R", "P&L", "Reason").
		AlignRight(4, 5, 6, 8)
	var total float64
	for _, rec := range records {
		pnl := "-"
		if rec.PnL != nil {
			total += *rec.PnL
			pnl = output.FormatPnL(*rec.PnL)
		}
		table.AddRow(
			rec.TradeID,
			rec.Symbol,
			string(rec.Side),
			output.State(rec.State),
			utils.FormatUnits(rec.Size),
			FormatSymbolPrice(rec.Symbol, rec.ExecutedEntryPrice),
			FormatSymbolPrice(rec.Symbol, rec.ExitPrice),
			FormatRiskReward(rec.EntryPrice, rec.SLPrice, rec.TPPrice),
			pnl,
			rec.CloseReason,
		)
	}
	table.Render()
	output.Printf("  Realized P&L: %s\n", output.FormatPnL(total))
}

func printExecutionStats(output *Output, stats models.ExecutionStats) {
	output.Bold("Execution Statistics")
	output.Printf("  Executions:      %d\n", stats.TotalExecutions)
	output.Printf("  Total Slippage:  %.5f\n", stats.TotalSlippage)
	output.Printf("  Avg Slippage:    %.5f\n", stats.AvgSlippage)
	output.Printf("  Max Slippage:    %.5f\n", stats.MaxSlippage)
	output.Printf("  Configured:      spread %.2f pips, slippage %.2f pips\n", stats.SpreadPips, stats.SlippagePips)
}
