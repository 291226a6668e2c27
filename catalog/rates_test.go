package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/store"
	"github.com/warp/deposit-engine/factory"
)

// countingProducts counts configuration writes.
type countingProducts struct {
	bank.ProductStore
	updates int
}

func (c *countingProducts) UpdateProduct(ctx context.Context, p bank.Product) error {
	c.updates++
	return c.ProductStore.UpdateProduct(ctx, p)
}

func seedProduct(t *testing.T, configJSON string) (*countingProducts, *bank.Product) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	p := factory.FixedDepositProduct("FD", "Fixed Deposit")
	p.ConfigJSON = configJSON
	require.NoError(t, mem.CreateProduct(ctx, p))
	got, err := mem.GetProduct(ctx, "FD")
	require.NoError(t, err)
	return &countingProducts{ProductStore: mem}, got
}

func TestEnsureConfigured_HealsEmptyConfigOnce(t *testing.T) {
	ctx := context.Background()
	products, p := seedProduct(t, "")
	r := NewRateResolver(products, nil, nil)

	// GIVEN: a product with no configuration document
	// WHEN: configuration is ensured twice, re-reading the product between
	cfg, err := r.EnsureConfigured(ctx, p)
	require.NoError(t, err)

	reloaded, err := products.GetProduct(ctx, "FD")
	require.NoError(t, err)
	_, err = r.EnsureConfigured(ctx, reloaded)
	require.NoError(t, err)

	// THEN: defaults were written exactly once
	assert.Equal(t, 1, products.updates)
	assert.Len(t, cfg.RateTable, 3)
	assert.Equal(t, factory.DefaultTenorDays, cfg.DefaultTenorDays)
	assert.Equal(t, factory.DefaultPrematureThresholdMonths, cfg.PrematureThresholdMonths)
	assert.NotEmpty(t, reloaded.ConfigJSON)
	require.NotNil(t, reloaded.Config)
}

func TestEnsureConfigured_MalformedDocumentIsReplaced(t *testing.T) {
	ctx := context.Background()
	products, p := seedProduct(t, `{"rate_table": "oops"`)
	r := NewRateResolver(products, nil, nil)

	cfg, err := r.EnsureConfigured(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, 1, products.updates)
	assert.Equal(t, factory.DefaultRateTable(), cfg.RateTable)
}

func TestEnsureConfigured_CompleteConfigIsNotRewritten(t *testing.T) {
	ctx := context.Background()
	products, p := seedProduct(t,
		`{"rate_table":[{"tenor_days":180,"annual_rate":"5.5"}],"default_tenor_days":180,"premature_policy":{"threshold_months":6,"annual_rate":"2.5"}}`)
	r := NewRateResolver(products, nil, nil)

	cfg, err := r.EnsureConfigured(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, 0, products.updates)
	assert.Equal(t, 6, cfg.PrematureThresholdMonths)
	assert.True(t, cfg.PrematureAnnualRate.Equal(decimal.RequireFromString("2.5")))
}

func TestEnsureConfigured_PartialPolicyKeepsKnownFields(t *testing.T) {
	ctx := context.Background()
	products, p := seedProduct(t,
		`{"rate_table":[{"tenor_days":90,"annual_rate":4}],"default_tenor_days":90,"premature_policy":{"threshold_months":2}}`)
	r := NewRateResolver(products, nil, nil)

	cfg, err := r.EnsureConfigured(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, 1, products.updates)
	assert.Equal(t, 2, cfg.PrematureThresholdMonths)
	assert.True(t, cfg.PrematureAnnualRate.Equal(factory.DefaultPrematureAnnualRate))
}

func TestResolve(t *testing.T) {
	tenor := func(d int) *int { return &d }
	cfg := bank.ProductConfig{
		RateTable: []bank.RateTier{
			factory.Tier(90, "5.00"),
			factory.Tier(180, "5.50"),
			factory.Tier(270, "0"),
			factory.Tier(365, "6.00"),
		},
		DefaultTenorDays: 365,
	}

	tests := []struct {
		name      string
		preferred *int
		wantTenor int
		wantRate  string
	}{
		{"exact match", tenor(180), 180, "5.5"},
		{"default tenor when no preference", nil, 365, "6"},
		{"unknown tenor falls back to first row", tenor(45), 90, "5"},
		{"non-positive match falls back to first row", tenor(270), 90, "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTenor, gotRate, err := Resolve(cfg, tt.preferred)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTenor, gotTenor)
			assert.True(t, gotRate.Equal(decimal.RequireFromString(tt.wantRate)), "rate %s", gotRate)
		})
	}
}

func TestResolve_UnresolvableIsConfigurationError(t *testing.T) {
	cfg := bank.ProductConfig{
		RateTable:        []bank.RateTier{factory.Tier(90, "0"), factory.Tier(180, "5")},
		DefaultTenorDays: 365,
	}

	_, _, err := Resolve(cfg, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, bank.ErrRateUnresolvable)
	assert.True(t, bank.IsConfiguration(err))
}
