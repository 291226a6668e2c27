package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// TotalsAggregator maintains per-product running totals (aggregate balance
// and cumulative interest paid).
type TotalsAggregator struct {
	products ProductStore
	logger   *slog.Logger
}

func NewTotalsAggregator(products ProductStore, logger *slog.Logger) *TotalsAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TotalsAggregator{products: products, logger: logger}
}

// ApplyDelta increments both totals. When the stored totals are in a legacy
// representation the increment fails with ErrTotalsCorrupt; both fields are
// then reset to zero and the increment is retried exactly once.
func (a *TotalsAggregator) ApplyDelta(ctx context.Context, productCode string, balanceDelta, interestDelta decimal.Decimal) error {
	err := a.products.IncrementProductTotals(ctx, productCode, balanceDelta, interestDelta)
	if err == nil || !errors.Is(err, ErrTotalsCorrupt) {
		return err
	}

	a.logger.Warn("product totals unreadable, resetting",
		slog.String("product", productCode),
		slog.Any("error", err))
	if err := a.products.ResetProductTotals(ctx, productCode); err != nil {
		return fmt.Errorf("reset totals for %s: %w", productCode, err)
	}
	return a.products.IncrementProductTotals(ctx, productCode, balanceDelta, interestDelta)
}
