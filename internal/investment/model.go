package investment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("amount must be a positive number")
	ErrBelowMinimum   = errors.New("amount below minimum investment")
	ErrSlotLimit      = errors.New("maximum number of investments reached")
	ErrPrincipalLimit = errors.New("maximum total invested amount reached")
	ErrNoInvestments  = errors.New("no investments")
)

var amountSuffixes = map[byte]decimal.Decimal{
	'k': decimal.NewFromInt(1_000),
	'm': decimal.NewFromInt(1_000_000),
	'b': decimal.NewFromInt(1_000_000_000),
}

// maxAmountLen bounds the digits a caller can make us carry around.
const maxAmountLen = 40

// ParseAmount accepts plain decimals ("10000", "12.5") and k/m/b suffixed
// shorthands ("10k", "1.5m", "2B"). Zero and negative results are rejected,
// as is exponent notation and anything longer than maxAmountLen.
func ParseAmount(input string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" || len(s) > maxAmountLen || strings.ContainsRune(s, 'e') {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, truncateInput(input))
	}
	factor := decimal.NewFromInt(1)
	if f, ok := amountSuffixes[s[len(s)-1]]; ok {
		factor = f
		s = strings.TrimSpace(s[:len(s)-1])
	}
	base, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	out := base.Mul(factor)
	if !out.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return out, nil
}

func truncateInput(s string) string {
	if len(s) > maxAmountLen {
		return s[:maxAmountLen] + "..."
	}
	return s
}

// Floor2 truncates toward zero at two decimal places.
func Floor2(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(2)
}

// InterestOn is the interest a principal earns in one interval at ratePercent.
// Shift(-2) divides by 100 exactly, so truncation never sees a rounded value.
func InterestOn(principal, ratePercent decimal.Decimal) decimal.Decimal {
	if !principal.IsPositive() || !ratePercent.IsPositive() {
		return decimal.Zero
	}
	return Floor2(principal.Mul(ratePercent).Shift(-2))
}
