package trading

import (
	"math"

	"github.com/shopspring/decimal"

	"fxsim/internal/config"
)

// PositionSizer converts a risk budget into an order size.
type PositionSizer struct {
	cfg config.RiskConfig
}

// NewPositionSizer creates a sizer from the risk configuration.
func NewPositionSizer(cfg config.RiskConfig) *PositionSizer {
	return &PositionSizer{cfg: cfg}
}

// Size returns floor(equity*riskFraction / (stopDistance+expectedSlippage)).
// It returns 0 for non-positive equity, risk or stop distance and for
// non-finite inputs, never a negative size.
func (s *PositionSizer) Size(equity, riskFraction, stopDistance, expectedSlippage float64) int64 {
	if !finite(equity, riskFraction, stopDistance, expectedSlippage) {
		return 0
	}
	if equity <= 0 || riskFraction <= 0 || stopDistance <= 0 {
		return 0
	}
	if expectedSlippage < 0 {
		expectedSlippage = 0
	}

	riskAmount := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(riskFraction))
	adjusted := decimal.NewFromFloat(stopDistance).Add(decimal.NewFromFloat(expectedSlippage))
	units := riskAmount.Div(adjusted).Floor()

	if !units.IsPositive() {
		return 0
	}
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt64 / 2)) {
		units = decimal.NewFromInt(math.MaxInt64 / 2)
	}
	size := units.IntPart()
	if s.cfg.MaxUnits > 0 && size > s.cfg.MaxUnits {
		size = s.cfg.MaxUnits
	}
	return size
}

// RiskFraction returns the configured default risk per trade.
func (s *PositionSizer) RiskFraction() float64 {
	return s.cfg.RiskFraction
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
