package cli

import (
	"fmt"
	"strings"
	"time"

	"fxsim/internal/models"
	"fxsim/internal/trading"
	"fxsim/pkg/utils"
)

// FormatMoney formats an account amount.
func FormatMoney(amount float64) string {
	return utils.FormatCurrency(amount)
}

// FormatSymbolPrice formats a price with the precision of symbol's pip.
func FormatSymbolPrice(symbol string, price float64) string {
	if price == 0 {
		return "-"
	}
	return utils.FormatPrice(price, trading.PipSize(symbol))
}

// FormatOHLC formats a bar of symbol.
func FormatOHLC(symbol string, bar models.Bar) string {
	return fmt.Sprintf("O: %s  H: %s  L: %s  C: %s",
		FormatSymbolPrice(symbol, bar.Open), FormatSymbolPrice(symbol, bar.High),
		FormatSymbolPrice(symbol, bar.Low), FormatSymbolPrice(symbol, bar.Close))
}

// FormatOptionalPnL formats a realized P&L, "-" when none was realized.
func FormatOptionalPnL(pnl *float64) string {
	if pnl == nil {
		return "-"
	}
	return utils.FormatPnL(*pnl)
}

// FormatTime formats a bar timestamp in UTC.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("15:04:05")
}

// FormatDate formats a date.
func FormatDate(t time.Time) string {
	return t.UTC().Format("02-Jan-2006")
}

// FormatDateTime formats a datetime.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatRiskReward formats the reward to risk ratio of a bracket.
func FormatRiskReward(entry, sl, tp float64) string {
	risk := entry - sl
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 {
		return "-"
	}
	reward := tp - entry
	if reward < 0 {
		reward = -reward
	}
	return fmt.Sprintf("1:%.2f", reward/risk)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}
