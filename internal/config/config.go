// Package config provides configuration management for the simulator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fxsim/internal/errors"
)

// Execution models.
const (
	ModelRealistic = "realistic"
	ModelPerfect   = "perfect" // cost-free fills at requested price
)

// Config holds all application configuration.
type Config struct {
	Mode      string          `mapstructure:"mode"` // "backtest", "live"
	Execution ExecutionConfig `mapstructure:"execution"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Account   AccountConfig   `mapstructure:"account"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ExecutionConfig holds the execution cost model configuration.
type ExecutionConfig struct {
	Model             string                      `mapstructure:"model"`
	SpreadPips        float64                     `mapstructure:"spread_pips"`
	SlippagePips      float64                     `mapstructure:"slippage_pips"`
	SpreadMicropips   float64                     `mapstructure:"spread_micropips"`   // used when spread_pips is 0
	SlippageMicropips float64                     `mapstructure:"slippage_micropips"` // used when slippage_pips is 0
	Symbols           map[string]SymbolCostConfig `mapstructure:"symbols"`
}

// SymbolCostConfig overrides spread and slippage for one symbol.
type SymbolCostConfig struct {
	SpreadPips   float64 `mapstructure:"spread_pips"`
	SlippagePips float64 `mapstructure:"slippage_pips"`
}

// IsCostFree returns true when fills ignore spread and slippage.
func (e ExecutionConfig) IsCostFree() bool {
	return strings.EqualFold(e.Model, ModelPerfect)
}

// EffectiveSpreadPips returns the configured spread in pips, falling back to micropips.
func (e ExecutionConfig) EffectiveSpreadPips() float64 {
	if e.SpreadPips > 0 {
		return e.SpreadPips
	}
	return e.SpreadMicropips / 10
}

// EffectiveSlippagePips returns the configured slippage in pips, falling back to micropips.
func (e ExecutionConfig) EffectiveSlippagePips() float64 {
	if e.SlippagePips > 0 {
		return e.SlippagePips
	}
	return e.SlippageMicropips / 10
}

// RiskConfig holds sizing and invalidation configuration.
type RiskConfig struct {
	RiskFraction              float64 `mapstructure:"risk_fraction"`
	InvalidationThresholdPips float64 `mapstructure:"invalidation_threshold_pips"`
	MaxUnits                  int64   `mapstructure:"max_units"` // 0 = uncapped
}

// AccountConfig holds the simulated account configuration.
type AccountConfig struct {
	InitialCash float64 `mapstructure:"initial_cash"`
}

// FeedConfig holds live/replay feed configuration.
type FeedConfig struct {
	Symbols             []string      `mapstructure:"symbols"`
	Timeframe           string        `mapstructure:"timeframe"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	BarrierPollInterval time.Duration `mapstructure:"barrier_poll_interval"`
	GapWarnAfter        int           `mapstructure:"gap_warn_after"`
	BreakerFailures     int           `mapstructure:"breaker_failures"`
	BreakerCooldown     time.Duration `mapstructure:"breaker_cooldown"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/fxsim"
	}
	return filepath.Join(home, ".config", "fxsim")
}

// Default returns the configuration used when no file overrides a key.
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("mode", "backtest")

	v.SetDefault("execution.model", ModelRealistic)
	v.SetDefault("execution.spread_pips", 2.0)
	v.SetDefault("execution.slippage_pips", 2.0)
	v.SetDefault("execution.spread_micropips", 0.0)
	v.SetDefault("execution.slippage_micropips", 0.0)

	v.SetDefault("risk.risk_fraction", 0.01)
	v.SetDefault("risk.invalidation_threshold_pips", 5.0)
	v.SetDefault("risk.max_units", 0)

	v.SetDefault("account.initial_cash", 100000.0)

	v.SetDefault("feed.symbols", []string{"EURUSD"})
	v.SetDefault("feed.timeframe", "1min")
	v.SetDefault("feed.poll_interval", "5s")
	v.SetDefault("feed.barrier_poll_interval", "250ms")
	v.SetDefault("feed.gap_warn_after", 40)
	v.SetDefault("feed.breaker_failures", 5)
	v.SetDefault("feed.breaker_cooldown", "30s")

	v.SetDefault("store.db_path", filepath.Join(configDir, "fxsim.db"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", false)
	v.SetDefault("log.file_path", filepath.Join(configDir, "logs", "fxsim.log"))
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")
}

// Load loads configuration from config.toml in the specified directory.
// If configDir is empty, uses the default config directory. A missing file
// is replaced by the commented template and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	setDefaults(v, configDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FXSIM_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("FXSIM_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("FXSIM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FXSIM_EXECUTION_MODEL"); v != "" {
		cfg.Execution.Model = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Mode != "" && c.Mode != "backtest" && c.Mode != "live" {
		return fmt.Errorf("invalid mode: %s (must be 'backtest' or 'live')", c.Mode)
	}

	model := strings.ToLower(c.Execution.Model)
	if model != ModelRealistic && model != ModelPerfect {
		return fmt.Errorf("invalid execution model: %s (must be '%s' or '%s')", c.Execution.Model, ModelRealistic, ModelPerfect)
	}
	if c.Execution.SpreadPips < 0 || c.Execution.SlippagePips < 0 ||
		c.Execution.SpreadMicropips < 0 || c.Execution.SlippageMicropips < 0 {
		return fmt.Errorf("spread and slippage must be non-negative")
	}
	for sym, sc := range c.Execution.Symbols {
		if sc.SpreadPips < 0 || sc.SlippagePips < 0 {
			return fmt.Errorf("execution.symbols.%s: spread and slippage must be non-negative", sym)
		}
	}

	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		return fmt.Errorf("risk_fraction must be in (0, 1]")
	}
	if c.Risk.InvalidationThresholdPips < 0 {
		return fmt.Errorf("invalidation_threshold_pips must be non-negative")
	}
	if c.Risk.MaxUnits < 0 {
		return fmt.Errorf("max_units must be non-negative")
	}

	if c.Account.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be positive")
	}

	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must list at least one symbol")
	}
	if c.Feed.PollInterval <= 0 || c.Feed.BarrierPollInterval <= 0 {
		return fmt.Errorf("feed intervals must be positive")
	}
	if c.Feed.BreakerFailures < 0 || c.Feed.BreakerCooldown < 0 {
		return fmt.Errorf("feed breaker settings must be non-negative")
	}

	return nil
}

// IsLiveMode returns true if live mode is configured.
func (c *Config) IsLiveMode() bool {
	return c.Mode == "live"
}
