package notify

import (
	"strings"

	"github.com/shopspring/decimal"
)

var shortUnits = []struct {
	suffix string
	size   decimal.Decimal
}{
	{"T", decimal.New(1, 12)},
	{"B", decimal.New(1, 9)},
	{"M", decimal.New(1, 6)},
	{"k", decimal.New(1, 3)},
}

// FormatShort renders v as 999, 1.23k, 1.2M, 3.45B or 7.89T. Digits past the
// second decimal are dropped, never rounded.
func FormatShort(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Abs()
	}
	for _, u := range shortUnits {
		if v.GreaterThanOrEqual(u.size) {
			return sign + plain(v.DivRound(u.size, 16).Truncate(2)) + u.suffix
		}
	}
	return sign + plain(v.Truncate(2))
}

// FormatFull is the amount with two fixed decimals.
func FormatFull(v decimal.Decimal) string {
	return v.Truncate(2).StringFixed(2)
}

func plain(v decimal.Decimal) string {
	s := v.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// Render replaces %name% placeholders in template with vars.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "%"+k+"%", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
