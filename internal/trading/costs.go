package trading

import (
	"strings"

	"github.com/shopspring/decimal"

	"fxsim/internal/config"
	"fxsim/internal/models"
)

// Pip sizes per symbol class.
var (
	pipMetal    = decimal.New(1, -3) // 0.001
	pipJPY      = decimal.New(1, -2) // 0.01
	pipStandard = decimal.New(1, -4) // 0.0001
)

var metalBases = map[string]bool{
	"XAU": true,
	"XAG": true,
	"XPT": true,
	"XPD": true,
}

// normalizeSymbol uppercases a symbol and drops separators ("eur_usd" -> "EURUSD").
func normalizeSymbol(symbol string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(symbol) {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func pipDecimal(symbol string) decimal.Decimal {
	s := normalizeSymbol(symbol)
	if len(s) >= 3 && metalBases[s[:3]] {
		return pipMetal
	}
	if len(s) >= 6 && strings.HasSuffix(s, "JPY") {
		return pipJPY
	}
	return pipStandard
}

// PipSize returns the price value of one pip for symbol. Unknown symbols use
// standard FX scaling.
func PipSize(symbol string) float64 {
	return pipDecimal(symbol).InexactFloat64()
}

// PipsToPrice converts a pip distance into price units for symbol.
func PipsToPrice(symbol string, pips float64) float64 {
	return decimal.NewFromFloat(pips).Mul(pipDecimal(symbol)).InexactFloat64()
}

// SpreadPrice converts a spread in pips into price units.
func SpreadPrice(symbol string, spreadPips float64) float64 {
	return PipsToPrice(symbol, spreadPips)
}

// SlippagePrice converts a slippage in pips into price units.
func SlippagePrice(symbol string, slippagePips float64) float64 {
	return PipsToPrice(symbol, slippagePips)
}

// CostModel resolves execution costs per symbol from an explicit execution config.
type CostModel struct {
	cfg       config.ExecutionConfig
	overrides map[string]config.SymbolCostConfig
}

// NewCostModel creates a cost model from the execution configuration.
func NewCostModel(cfg config.ExecutionConfig) *CostModel {
	overrides := make(map[string]config.SymbolCostConfig, len(cfg.Symbols))
	for sym, sc := range cfg.Symbols {
		overrides[normalizeSymbol(sym)] = sc
	}
	return &CostModel{
		cfg:       cfg,
		overrides: overrides,
	}
}

// CostFree reports whether fills ignore spread and slippage.
func (m *CostModel) CostFree() bool {
	return m.cfg.IsCostFree()
}

// Pips returns the spread and slippage in pips applied to symbol.
func (m *CostModel) Pips(symbol string) (spreadPips, slippagePips float64) {
	if m.CostFree() {
		return 0, 0
	}
	spreadPips = m.cfg.EffectiveSpreadPips()
	slippagePips = m.cfg.EffectiveSlippagePips()
	if sc, ok := m.overrides[normalizeSymbol(symbol)]; ok {
		if sc.SpreadPips > 0 {
			spreadPips = sc.SpreadPips
		}
		if sc.SlippagePips > 0 {
			slippagePips = sc.SlippagePips
		}
	}
	return spreadPips, slippagePips
}

// Params returns the execution costs for symbol in price units.
func (m *CostModel) Params(symbol string) models.ExecutionCostParams {
	spreadPips, slippagePips := m.Pips(symbol)
	return models.ExecutionCostParams{
		SpreadPrice:   SpreadPrice(symbol, spreadPips),
		SlippagePrice: SlippagePrice(symbol, slippagePips),
	}
}
