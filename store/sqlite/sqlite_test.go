package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/storetest"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/interest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// corruptTotals stores the totals the way a legacy row would hold them.
func corruptTotals(t *testing.T, st bank.TxStore, code string) {
	t.Helper()
	_, err := st.(*Store).db.ExecContext(context.Background(),
		`UPDATE products SET total_balance = 'INR 1,00,000.00' WHERE code = ?`, code)
	require.NoError(t, err)
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) bank.TxStore { return newTestStore(t) }, corruptTotals)
}

func TestSQLite_LedgerIsAppendOnly(t *testing.T) {
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

	// WHEN: something tries to rewrite history
	_, errUpdate := st.db.ExecContext(ctx, `UPDATE ledger_entries SET amount_cents = 1`)
	_, errDelete := st.db.ExecContext(ctx, `DELETE FROM ledger_entries`)

	// THEN: the triggers refuse
	require.Error(t, errUpdate)
	assert.Contains(t, errUpdate.Error(), "immutable")
	require.Error(t, errDelete)

	entries, err := st.EntriesForAccount(ctx, "a", bank.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.00", entries[0].Amount.StringFixed(2))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bank.db")

	st, err := New(path)
	require.NoError(t, err)
	require.NoError(t, st.CreateProduct(ctx, factory.SavingsProduct("SAV", "Savings", "4")))
	require.NoError(t, st.CreateBatch(ctx, bank.InterestBatch{
		ID:            "b-1",
		ProductCode:   "SAV",
		QuarterKey:    "2024Q1",
		PeriodStart:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2024, 9, 30, 23, 59, 59, 999999999, time.UTC),
		PostedAt:      time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC),
		TotalInterest: decimal.RequireFromString("12.5"),
		Actor:         "ops",
	}))
	require.NoError(t, st.Close())

	st, err = New(path)
	require.NoError(t, err)
	defer st.Close()

	b, err := st.GetActiveBatch(ctx, "SAV", "2024Q1")
	require.NoError(t, err)
	assert.Equal(t, 999999999, b.PeriodEnd.Nanosecond())
	assert.Equal(t, "12.50", b.TotalInterest.StringFixed(2))
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateProduct(ctx, factory.SavingsProduct("SAV", "Savings", "4")))

	require.NoError(t, st.Reset(ctx))

	_, err := st.GetProduct(ctx, "SAV")
	assert.ErrorIs(t, err, bank.ErrProductNotFound)
	require.NoError(t, st.CreateProduct(ctx, factory.SavingsProduct("SAV", "Savings", "4")))
}

// End to end on SQLite: post a quarter, reverse it, post again.
func TestSQLite_InterestRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateProduct(ctx, factory.SavingsProduct("SAV", "Savings", "12")))
	require.NoError(t, st.SaveParty(ctx, bank.Party{ID: "p", Name: "Asha", Type: bank.PartyMember, Status: bank.PartyActive}))
	require.NoError(t, st.CreateAccount(ctx, bank.Account{
		ID: "a", PartyID: "p", ProductCode: "SAV", Category: bank.CategoryDeposit, Status: bank.AccountActive,
	}))
	_, _, err := bank.NewPoster(st, nil).Post(ctx, bank.Posting{
		AccountID: "a", Kind: bank.EntryDeposit, Amount: decimal.NewFromInt(10000),
		EffectiveAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Actor: "teller",
	})
	require.NoError(t, err)

	now := time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC)
	eng := interest.NewEngine(st, nil, interest.DefaultConfig(), nil, nil).WithNow(func() time.Time { return now })

	sum, err := eng.Run(ctx, "SAV", "2024Q1", "ops")
	require.NoError(t, err)
	assert.Equal(t, "300.00", sum.Batch.TotalInterest.StringFixed(2))

	_, err = eng.Run(ctx, "SAV", "2024Q1", "ops")
	assert.ErrorIs(t, err, bank.ErrBatchAlreadyActive)

	rev, err := eng.Reverse(ctx, "SAV", "2024Q1", "supervisor")
	require.NoError(t, err)
	assert.Equal(t, "300.00", rev.TotalReversed.StringFixed(2))

	acct, err := st.GetAccountByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "10000.00", acct.Balance.StringFixed(2))

	_, err = eng.Run(ctx, "SAV", "2024Q1", "ops")
	require.NoError(t, err)
}
