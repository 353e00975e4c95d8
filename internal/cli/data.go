package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"fxsim/internal/errors"
	"fxsim/internal/models"
)

// BarRow is one line of a bars CSV file.
type BarRow struct {
	Symbol    string  `csv:"symbol"`
	Timestamp string  `csv:"timestamp"`
	Open      float64 `csv:"open"`
	High      float64 `csv:"high"`
	Low       float64 `csv:"low"`
	Close     float64 `csv:"close"`
	Volume    int64   `csv:"volume"`
}

// ReadBarsCSV parses bars grouped by symbol, each series in timestamp order.
// When symbols is non-empty only those symbols are kept.
func ReadBarsCSV(r io.Reader, symbols []string) (map[string][]models.Bar, error) {
	var rows []BarRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "parsing bars")
	}

	keep := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		keep[strings.ToUpper(s)] = true
	}

	bars := make(map[string][]models.Bar)
	for i, row := range rows {
		sym := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if len(keep) > 0 && !keep[sym] {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row.Timestamp))
		if err != nil {
			return nil, errors.Wrapf(err, "bar row %d", i+1)
		}
		if row.High < row.Low || row.Open <= 0 || row.Close <= 0 {
			return nil, errors.NewDataError("bars", sym, fmt.Sprintf("row %d: inconsistent OHLC", i+1), errors.ErrInsufficientData)
		}
		bars[sym] = append(bars[sym], models.Bar{
			Timestamp: ts.UTC(),
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}

	for _, series := range bars {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	}
	return bars, nil
}

func readBarsFile(path string, symbols []string) (map[string][]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bars %s", path)
	}
	defer f.Close()
	return ReadBarsCSV(f, symbols)
}

// loadBars reads bars from a CSV file when path is set, otherwise from the store.
func loadBars(cmd *cobra.Command, app *App, path string, symbols []string, timeframe string, from, to time.Time) (map[string][]models.Bar, error) {
	if path != "" {
		return readBarsFile(path, symbols)
	}

	st, err := app.OpenStore()
	if err != nil {
		return nil, err
	}
	bars := make(map[string][]models.Bar, len(symbols))
	for _, sym := range symbols {
		series, err := st.GetBars(cmd.Context(), sym, timeframe, from, to)
		if err != nil {
			return nil, err
		}
		if len(series) == 0 {
			return nil, errors.NewDataError("bars", sym, "no bars stored for "+timeframe+"; run 'fxsim data import'", errors.ErrDataNotFound)
		}
		bars[sym] = series
	}
	return bars, nil
}

// parseTimeFlag accepts RFC3339 or a plain date. Empty means unbounded.
func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (use RFC3339 or YYYY-MM-DD)", value)
	}
	return t, nil
}

// addDataCommands adds recorded bar management commands.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Recorded bar management",
		Long:  "Import recorded bars into the local store and inspect what is stored.",
	}

	cmd.AddCommand(newDataImportCmd(app))
	cmd.AddCommand(newDataStatusCmd(app))

	rootCmd.AddCommand(cmd)
}

func newDataImportCmd(app *App) *cobra.Command {
	var timeframe string

	cmd := &cobra.Command{
		Use:   "import <bars.csv>",
		Short: "Import bars from a CSV file",
		Long: `Import OHLCV bars from a CSV file with the header
symbol,timestamp,open,high,low,close,volume (timestamps in RFC3339).`,
		Example: `  fxsim data import eurusd_1h.csv --timeframe 1h`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if timeframe == "" {
				timeframe = app.Config.Feed.Timeframe
			}

			bars, err := readBarsFile(args[0], nil)
			if err != nil {
				return err
			}
			st, err := app.OpenStore()
			if err != nil {
				return err
			}

			symbols := sortedKeys(bars)
			counts := make(map[string]int, len(symbols))
			for i, sym := range symbols {
				if err := st.SaveBars(cmd.Context(), sym, timeframe, bars[sym]); err != nil {
					return err
				}
				counts[sym] = len(bars[sym])
				if !output.IsJSON() {
					output.Progress(i+1, len(symbols), "Importing")
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"timeframe": timeframe, "bars": counts})
			}
			for _, sym := range symbols {
				output.Success("✓ %s: %d bars (%s)", sym, counts[sym], timeframe)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&timeframe, "timeframe", "", "bar timeframe (default: feed.timeframe)")
	return cmd
}

func newDataStatusCmd(app *App) *cobra.Command {
	var (
		symbols   []string
		timeframe string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest stored bar per symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if len(symbols) == 0 {
				symbols = app.Config.Feed.Symbols
			}
			if timeframe == "" {
				timeframe = app.Config.Feed.Timeframe
			}
			st, err := app.OpenStore()
			if err != nil {
				return err
			}

			latest := make(map[string]time.Time, len(symbols))
			for _, sym := range symbols {
				ts, err := st.GetBarsFreshness(cmd.Context(), sym, timeframe)
				if err != nil {
					return err
				}
				latest[sym] = ts
			}

			if output.IsJSON() {
				return output.JSON(latest)
			}
			table := NewTable(output, "Symbol", "Timeframe", "Latest Bar")
			for _, sym := range symbols {
				table.AddRow(sym, timeframe, FormatDateTime(latest[sym]))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to check (default: feed.symbols)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "bar timeframe (default: feed.timeframe)")
	return cmd
}

func sortedKeys(bars map[string][]models.Bar) []string {
	keys := make([]string, 0, len(bars))
	for k := range bars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
