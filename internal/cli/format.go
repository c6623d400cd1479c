// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"USD": "$", "CAD": "$", "AUD": "$", "NZD": "$",
	"EUR": "€", "GBP": "£", "JPY": "¥", "INR": "₹",
}

// FormatMilliunits renders an amount in milliunits (1000 = one currency
// unit) as a currency string, e.g. -1234560 with "USD" -> "-$1,234.56".
// Unknown currency codes are appended instead of prefixed.
func FormatMilliunits(m int64, currency string) string {
	d := decimal.New(m, -3).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}

	whole := d.IntPart()
	cents := d.Sub(decimal.NewFromInt(whole)).Shift(2).IntPart()
	amount := fmt.Sprintf("%s.%02d", FormatNumber(whole), cents)

	if sym, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return sign + sym + amount
	}
	if currency == "" {
		return sign + amount
	}
	return sign + amount + " " + strings.ToUpper(currency)
}

// MilliunitsToFloat converts milliunits to currency units for charting.
func MilliunitsToFloat(m int64) float64 {
	f, _ := decimal.New(m, -3).Float64()
	return f
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatPercent formats a 0-1 float as a percentage string.
func FormatPercent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

// FormatAgo renders how long ago t was, e.g. "3h 12m ago". The zero time
// renders as "never".
func FormatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < time.Minute {
		return "just now"
	}
	return FormatDuration(d) + " ago"
}

// FormatDuration formats a duration at minute granularity.
// e.g., 26h5m -> "1d 2h", 62m -> "1h 2m", 90s -> "1m"
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// FormatMonth renders a budget month as "Mar 2024".
func FormatMonth(t time.Time) string {
	return t.Format("Jan 2006")
}
