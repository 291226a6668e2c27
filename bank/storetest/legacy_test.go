package storetest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/store"
	"github.com/warp/deposit-engine/bank/storetest"
	"github.com/warp/deposit-engine/factory"
)

func TestLegacyTotals_UnreadableUntilReset(t *testing.T) {
	// GIVEN: SAV with totals, wrapped as a legacy row
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateProduct(ctx, factory.SavingsProduct("SAV", "Savings", "4")))
	require.NoError(t, mem.CreateProduct(ctx, factory.SavingsProduct("RD", "Recurring", "5")))
	require.NoError(t, mem.IncrementProductTotals(ctx, "SAV", decimal.NewFromInt(50), decimal.Zero))
	st := storetest.LegacyTotals(mem, "SAV")

	// THEN: reads show nothing and increments fail
	p, err := st.GetProduct(ctx, "SAV")
	require.NoError(t, err)
	assert.True(t, p.TotalBalance.IsZero())
	assert.ErrorIs(t, st.IncrementProductTotals(ctx, "SAV", decimal.NewFromInt(1), decimal.Zero), bank.ErrTotalsCorrupt)
	assert.ErrorIs(t, st.IncrementProductTotals(ctx, "NOPE", decimal.NewFromInt(1), decimal.Zero), bank.ErrProductNotFound)
	require.NoError(t, st.IncrementProductTotals(ctx, "RD", decimal.NewFromInt(1), decimal.Zero))

	// WHEN: a reset is rolled back
	err = st.WithTx(ctx, func(tx bank.Store) error {
		require.NoError(t, tx.ResetProductTotals(ctx, "SAV"))
		require.NoError(t, tx.IncrementProductTotals(ctx, "SAV", decimal.NewFromInt(1), decimal.Zero))
		return errors.New("abort")
	})

	// THEN: the corruption comes back with it
	require.Error(t, err)
	assert.ErrorIs(t, st.IncrementProductTotals(ctx, "SAV", decimal.NewFromInt(1), decimal.Zero), bank.ErrTotalsCorrupt)

	// WHEN: a reset commits
	require.NoError(t, st.ResetProductTotals(ctx, "SAV"))
	require.NoError(t, st.IncrementProductTotals(ctx, "SAV", decimal.NewFromInt(7), decimal.Zero))

	// THEN: totals are readable again
	p, err = st.GetProduct(ctx, "SAV")
	require.NoError(t, err)
	assert.Equal(t, "7.00", p.TotalBalance.StringFixed(2))
}
