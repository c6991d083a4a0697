package insight

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// count formats an integer with thousands separators.
func count(n int) string {
	return printer.Sprintf("%d", n)
}

// dec converts v to a decimal. Non-finite values become zero.
func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(domain.Finite(v))
}

// fixed rounds half away from zero to places decimals.
func fixed(v float64, places int32) string {
	return dec(v).StringFixed(places)
}

// pct formats a ratio in [0,1] as a percentage with the given precision.
func pct(ratio float64, places int32) string {
	return dec(ratio).Mul(decimal.NewFromInt(100)).StringFixed(places)
}

// share formats n/total as a percentage with one decimal, 0.0 on an empty total.
func share(n, total int) string {
	if total == 0 {
		return "0.0"
	}
	return decimal.NewFromInt(int64(n)).Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).StringFixed(1)
}

// thousands abbreviates an amount as $…K with no decimals.
func thousands(v float64) string {
	return "$" + dec(v).Div(decimal.NewFromInt(1000)).StringFixed(0) + "K"
}

// millions abbreviates an amount as $…M with one decimal.
func millions(v float64) string {
	return "$" + dec(v).Div(decimal.NewFromInt(1_000_000)).StringFixed(1) + "M"
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
