/*
Package catalog resolves product terms.

RATE RESOLUTION:
  Resolve(config, preferredTenor) -> (tenorDays, annualRate)

    1. Exact tenor match in the rate table with a positive rate.
       A nil preference means the product's default tenor.
    2. Otherwise the first row of the table.
    3. If the first row has no positive rate either, the product is
       misconfigured (ErrRateUnresolvable).

SELF-HEALING:
  EnsureConfigured reads the product's configuration document through
  factory.Inspect. When anything had to be defaulted, the healed document is
  written back before resolution continues, so the next read finds no gaps
  and the write happens once per gap.
*/
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/metrics"
)

type RateResolver struct {
	products bank.ProductStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewRateResolver(products bank.ProductStore, logger *slog.Logger, m *metrics.Metrics) *RateResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateResolver{products: products, logger: logger, metrics: m}
}

// EnsureConfigured returns the product's typed configuration, persisting
// defaults for any gap first. p.Config and p.ConfigJSON are updated in place.
func (r *RateResolver) EnsureConfigured(ctx context.Context, p *bank.Product) (bank.ProductConfig, error) {
	cfg, gaps := factory.Inspect(p.ConfigJSON)
	if len(gaps) > 0 {
		p.ConfigJSON = factory.ToJSON(cfg)
		if err := r.products.UpdateProduct(ctx, *p); err != nil {
			return bank.ProductConfig{}, fmt.Errorf("persist healed config for %s: %w", p.Code, err)
		}
		names := make([]string, len(gaps))
		for i, g := range gaps {
			names[i] = string(g)
		}
		r.logger.Warn("product configuration healed",
			slog.String("product", p.Code),
			slog.Any("gaps", names))
		r.metrics.ConfigHealed(p.Code)
	}
	p.Config = &cfg
	return cfg, nil
}

// Resolve picks the tenor and rate for a term.
func Resolve(cfg bank.ProductConfig, preferredTenorDays *int) (int, decimal.Decimal, error) {
	want := cfg.DefaultTenorDays
	if preferredTenorDays != nil {
		want = *preferredTenorDays
	}
	for _, tier := range cfg.RateTable {
		if tier.TenorDays == want && tier.AnnualRate.IsPositive() {
			return tier.TenorDays, tier.AnnualRate, nil
		}
	}
	if len(cfg.RateTable) > 0 && cfg.RateTable[0].AnnualRate.IsPositive() && cfg.RateTable[0].TenorDays > 0 {
		return cfg.RateTable[0].TenorDays, cfg.RateTable[0].AnnualRate, nil
	}
	return 0, decimal.Zero, bank.Errorf(bank.ErrConfiguration, bank.CodeRateUnresolvable,
		"no positive rate for tenor %d days and no usable fallback row", want)
}

// ResolveFor heals the product and resolves in one step.
func (r *RateResolver) ResolveFor(ctx context.Context, p *bank.Product, preferredTenorDays *int) (int, decimal.Decimal, bank.ProductConfig, error) {
	cfg, err := r.EnsureConfigured(ctx, p)
	if err != nil {
		return 0, decimal.Zero, cfg, err
	}
	tenor, rate, err := Resolve(cfg, preferredTenorDays)
	if err != nil {
		return 0, decimal.Zero, cfg, fmt.Errorf("product %s: %w", p.Code, err)
	}
	return tenor, rate, cfg, nil
}
