// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatCurrency formats an account amount with thousands separators.
func FormatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	result := groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var sb strings.Builder
	lead := n % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}

// FormatPrice formats a price with one more decimal than the pip size,
// e.g. 5 decimals for a 0.0001 pip and 3 for a 0.01 pip.
func FormatPrice(price, pipSize float64) string {
	decimals := 5
	if pipSize > 0 {
		decimals = int(math.Round(-math.Log10(pipSize))) + 1
		if decimals < 0 {
			decimals = 0
		}
	}
	return fmt.Sprintf("%.*f", decimals, price)
}

// FormatPips formats a price distance in pips.
func FormatPips(distance, pipSize float64) string {
	if pipSize <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f pips", distance/pipSize)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats P&L with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatCurrency(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatUnits formats an order size with thousands separators.
func FormatUnits(units int64) string {
	if units < 0 {
		return "-" + groupThousands(fmt.Sprintf("%d", -units))
	}
	return groupThousands(fmt.Sprintf("%d", units))
}
