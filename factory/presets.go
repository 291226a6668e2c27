package factory

import (
	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
)

// SavingsProduct returns a quarterly minimum-balance savings product.
func SavingsProduct(code, name, annualRate string) bank.Product {
	rate := decimal.RequireFromString(annualRate)
	return bank.Product{
		Code:           code,
		Name:           name,
		Category:       bank.CategoryDeposit,
		InterestMethod: bank.MethodQuarterlyMinBalance,
		AnnualRate:     &rate,
		MinBalance:     decimal.Zero,
		Active:         true,
	}
}

// FixedDepositProduct returns an FD product whose rate table has one row per
// tier, in the order given.
func FixedDepositProduct(code, name string, tiers ...bank.RateTier) bank.Product {
	cfg := bank.ProductConfig{
		RateTable:                tiers,
		DefaultTenorDays:         DefaultTenorDays,
		PrematureThresholdMonths: DefaultPrematureThresholdMonths,
		PrematureAnnualRate:      DefaultPrematureAnnualRate,
	}
	if len(tiers) > 0 {
		cfg.DefaultTenorDays = tiers[0].TenorDays
	}
	return bank.Product{
		Code:           code,
		Name:           name,
		Category:       bank.CategoryDeposit,
		InterestMethod: bank.MethodFDMaturity,
		MinBalance:     decimal.Zero,
		Active:         true,
		ConfigJSON:     ToJSON(cfg),
	}
}

// Tier is shorthand for a rate table row.
func Tier(tenorDays int, annualRate string) bank.RateTier {
	return bank.RateTier{TenorDays: tenorDays, AnnualRate: decimal.RequireFromString(annualRate)}
}
