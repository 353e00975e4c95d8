package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# fxsim configuration

# Run mode: "backtest" or "live"
mode = "backtest"

[execution]
# Execution model: "realistic" (spread + slippage) or "perfect" (fill at requested price)
model = "realistic"
# Spread and slippage in pips (metals 0.001, JPY pairs 0.01, other FX 0.0001 per pip)
spread_pips = 2.0
slippage_pips = 2.0
# Micropip alternatives, used when the pip value above is 0 (10 micropips = 1 pip)
spread_micropips = 0.0
slippage_micropips = 0.0

# Per-symbol overrides
# [execution.symbols.XAUUSD]
# spread_pips = 30.0
# slippage_pips = 10.0

[risk]
# Fraction of equity risked per trade
risk_fraction = 0.01
# Distance in pips an anchor level may move before pending trades are invalidated
invalidation_threshold_pips = 5.0
# Hard cap on units per trade (0 = uncapped)
max_units = 0

[account]
initial_cash = 100000.0

[feed]
symbols = ["EURUSD"]
timeframe = "1min"
# How often each instrument feed is polled
poll_interval = "5s"
# How often the barrier re-checks queues while waiting
barrier_poll_interval = "250ms"
# Barrier waits before a feed gap is reported
gap_warn_after = 40
# Consecutive fetch failures before a feed is paused, and for how long
breaker_failures = 5
breaker_cooldown = "30s"

[store]
# db_path = "~/.config/fxsim/fxsim.db"

[log]
level = "info"
console = true
file = false
max_size = 100
max_backups = 7
max_age = 30

[metrics]
enabled = false
listen = ":9464"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
