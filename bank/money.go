package bank

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred        = decimal.NewFromInt(100)
	daysPerYear    = decimal.NewFromInt(365)
	quartersInYear = decimal.NewFromInt(4)
)

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// QuarterlyInterest is round2(balance × rate% / 4).
func QuarterlyInterest(balance, annualRatePct decimal.Decimal) decimal.Decimal {
	return Round2(balance.Mul(annualRatePct).Div(hundred.Mul(quartersInYear)))
}

// SimpleInterest is round2(principal × rate% × days / 365).
func SimpleInterest(principal, annualRatePct decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	num := principal.Mul(annualRatePct).Mul(decimal.NewFromInt(int64(days)))
	return Round2(num.Div(hundred.Mul(daysPerYear)))
}

// ParseAmount parses a monetary amount with at most 2 fractional digits.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, Errorf(ErrValidation, CodeInvalidAmount, "invalid amount %q", s)
	}
	if !d.Equal(Round2(d)) {
		return decimal.Zero, Errorf(ErrValidation, CodeInvalidAmount, "amount %s has more than 2 decimal places", s)
	}
	return d, nil
}
