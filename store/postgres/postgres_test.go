package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/storetest"
	"github.com/warp/deposit-engine/factory"
)

// PG_TEST_DSN points at a disposable database; every test truncates it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx := context.Background()
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, st.Reset(ctx))
	t.Cleanup(func() { st.Close() })
	return st
}

func corruptTotals(t *testing.T, st bank.TxStore, code string) {
	t.Helper()
	_, err := st.(*Store).pool.Exec(context.Background(),
		`UPDATE products SET total_balance = 'INR 1,00,000.00' WHERE code = $1`, code)
	require.NoError(t, err)
}

func TestPostgres_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) bank.TxStore { return newTestStore(t) }, corruptTotals)
}

func TestPostgres_LedgerIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateProduct(ctx, factory.SavingsProduct("SAV", "Savings", "4")))
	require.NoError(t, st.CreateAccount(ctx, bank.Account{
		ID: "a", PartyID: "p", ProductCode: "SAV", Category: bank.CategoryDeposit, Status: bank.AccountActive,
	}))
	_, _, err := bank.NewPoster(st, nil).Post(ctx, bank.Posting{
		AccountID: "a", Kind: bank.EntryDeposit, Amount: decimal.NewFromInt(10), Actor: "teller",
	})
	require.NoError(t, err)

	_, errUpdate := st.pool.Exec(ctx, `UPDATE ledger_entries SET narration = 'edited'`)
	_, errDelete := st.pool.Exec(ctx, `DELETE FROM ledger_entries`)

	require.Error(t, errUpdate)
	assert.Contains(t, errUpdate.Error(), "immutable")
	require.Error(t, errDelete)
}
