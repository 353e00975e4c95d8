// Package cli provides the command-line interface for the simulator.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fxsim/internal/config"
	"fxsim/internal/logging"
	"fxsim/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.DataStore
	ConfigDir string
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// before any subcommand runs; the store is opened on first use.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "fxsim",
		Short: "Bar-driven FX execution simulator",
		Long: `fxsim simulates how a broker fills FX orders bar by bar, including spread
and slippage, and manages bracket trades (entry + take profit + stop loss).

Backtests replay recorded bars; live mode drives the same engine from
per-instrument feeds joined by a timestamp barrier.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir
			app.Logger = logging.NewLoggerWithConfig(logging.FromConfig(cfg.Log))

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.Store != nil {
				return app.Store.Close()
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/fxsim)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addBacktestCommands(rootCmd, app)
	addLiveCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)

	return rootCmd
}

// OpenStore returns the SQLite store, opening it at the configured path on
// first use.
func (a *App) OpenStore() (store.DataStore, error) {
	if a.Store != nil {
		return a.Store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Store.DBPath)
	if err != nil {
		return nil, err
	}
	a.Store = s
	a.Logger.Debug().Str("path", a.Config.Store.DBPath).Msg("SQLite store initialized")
	return s, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("fxsim v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Execution")
	output.Printf("  Model:           %s\n", cfg.Execution.Model)
	output.Printf("  Spread:          %.2f pips\n", cfg.Execution.EffectiveSpreadPips())
	output.Printf("  Slippage:        %.2f pips\n", cfg.Execution.EffectiveSlippagePips())
	for sym, sc := range cfg.Execution.Symbols {
		output.Printf("  %-16s spread %.2f / slippage %.2f pips\n", sym+":", sc.SpreadPips, sc.SlippagePips)
	}
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk Fraction:   %.2f%%\n", cfg.Risk.RiskFraction*100)
	output.Printf("  Invalidation:    %.1f pips\n", cfg.Risk.InvalidationThresholdPips)
	if cfg.Risk.MaxUnits > 0 {
		output.Printf("  Max Units:       %d\n", cfg.Risk.MaxUnits)
	} else {
		output.Printf("  Max Units:       uncapped\n")
	}
	output.Printf("  Initial Cash:    %s\n", FormatMoney(cfg.Account.InitialCash))
	output.Println()

	output.Bold("Feed")
	output.Printf("  Symbols:         %v\n", cfg.Feed.Symbols)
	output.Printf("  Timeframe:       %s\n", cfg.Feed.Timeframe)
	output.Printf("  Poll Interval:   %s\n", cfg.Feed.PollInterval)
	output.Printf("  Barrier Poll:    %s\n", cfg.Feed.BarrierPollInterval)
	output.Printf("  Gap Warn After:  %d waits\n", cfg.Feed.GapWarnAfter)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Store.DBPath)
	output.Printf("  Metrics:         %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Listen)
}
