// Package storetest is a conformance suite every bank.TxStore implementation
// runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deposit-engine/bank"
)

// Factory returns an empty store. Cleanup is the factory's business.
type Factory func(t *testing.T) bank.TxStore

// TotalsCorrupter rewrites a product's stored totals into a value the store
// cannot read back as decimals, the way a legacy row would hold them.
type TotalsCorrupter func(t *testing.T, st bank.TxStore, code string)

var t0 = time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Run executes the whole suite against stores built by newStore. corrupt is
// nil for stores with no raw representation of totals.
func Run(t *testing.T, newStore Factory, corrupt TotalsCorrupter) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore) })
	t.Run("AdjustBalance", func(t *testing.T) { testAdjustBalance(t, newStore) })
	t.Run("Ledger", func(t *testing.T) { testLedger(t, newStore) })
	t.Run("Products", func(t *testing.T) { testProducts(t, newStore, corrupt) })
	t.Run("Parties", func(t *testing.T) { testParties(t, newStore) })
	t.Run("Batches", func(t *testing.T) { testBatches(t, newStore) })
	t.Run("WithTx", func(t *testing.T) { testWithTx(t, newStore) })
}

func seed(t *testing.T, st bank.Store) {
	t.Helper()
	ctx := context.Background()
	rate := dec("4")
	require.NoError(t, st.CreateProduct(ctx, bank.Product{
		Code: "SAV", Name: "Savings", Category: bank.CategoryDeposit,
		InterestMethod: bank.MethodQuarterlyMinBalance, AnnualRate: &rate,
		MinBalance: dec("100"), Active: true,
		TotalBalance: decimal.Zero, TotalInterestPaid: decimal.Zero,
	}))
	require.NoError(t, st.SaveParty(ctx, bank.Party{
		ID: "m-1", Name: "Asha", Type: bank.PartyMember, Status: bank.PartyActive, JoinedAt: t0,
	}))
	require.NoError(t, st.CreateAccount(ctx, bank.Account{
		ID: "acc-1", PartyID: "m-1", ProductCode: "SAV", Category: bank.CategoryDeposit,
		Status: bank.AccountActive, Balance: decimal.Zero, OpenedAt: t0,
	}))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func testAccounts(t *testing.T, newStore Factory) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	// GIVEN: an account with a maturity date and attributes
	maturity := t0.AddDate(0, 0, 180)
	acct := bank.Account{
		ID: "fd-1", PartyID: "m-1", ProductCode: "SAV", Category: bank.CategoryDeposit,
		Status: bank.AccountActive, OpenedAt: t0, MaturityAt: &maturity, PayoutAccountID: "acc-1",
	}
	acct.SetTermSnapshot(bank.TermSnapshot{TenorDays: 180, AnnualRate: dec("5.5"), OpenPrincipal: dec("1000")})
	require.NoError(t, st.CreateAccount(ctx, bank.Account{
		ID: "other", PartyID: "m-2", ProductCode: "SAV", Category: bank.CategoryDeposit, Status: bank.AccountActive,
	}))

	// WHEN: the party already holds the product
	err := st.CreateAccount(ctx, acct)

	// THEN: the holding is rejected
	assert.ErrorIs(t, err, bank.ErrDuplicateAccount)

	acct.PartyID = "m-3"
	require.NoError(t, st.CreateAccount(ctx, acct))

	got, err := st.GetAccountByID(ctx, "fd-1")
	require.NoError(t, err)
	assert.Equal(t, "m-3", got.PartyID)
	assert.True(t, got.OpenedAt.Equal(t0))
	require.NotNil(t, got.MaturityAt)
	assert.True(t, got.MaturityAt.Equal(maturity))
	assert.Equal(t, "acc-1", got.PayoutAccountID)
	terms, ok := got.TermSnapshot()
	require.True(t, ok)
	assert.Equal(t, 180, terms.TenorDays)
	assert.Equal(t, "5.5", terms.AnnualRate.String())

	byHolding, err := st.GetAccount(ctx, "m-3", "SAV")
	require.NoError(t, err)
	assert.Equal(t, "fd-1", byHolding.ID)

	_, err = st.GetAccount(ctx, "m-9", "SAV")
	assert.ErrorIs(t, err, bank.ErrAccountNotFound)
	_, err = st.GetAccountByID(ctx, "missing")
	assert.True(t, bank.IsNotFound(err))

	// UpdateAccount never moves the balance.
	_, err = st.AdjustBalance(ctx, "fd-1", dec("500"))
	require.NoError(t, err)
	got.Balance = dec("999999")
	got.PayoutAccountID = "other"
	got.MaturityAt = nil
	require.NoError(t, st.UpdateAccount(ctx, *got))
	got, err = st.GetAccountByID(ctx, "fd-1")
	require.NoError(t, err)
	assert.Equal(t, "500.00", got.Balance.StringFixed(2))
	assert.Equal(t, "other", got.PayoutAccountID)
	assert.Nil(t, got.MaturityAt)

	require.NoError(t, st.SetAccountStatus(ctx, "fd-1", bank.AccountClosed))
	got, err = st.GetAccountByID(ctx, "fd-1")
	require.NoError(t, err)
	assert.Equal(t, bank.AccountClosed, got.Status)

	assert.ErrorIs(t, st.SetAccountStatus(ctx, "missing", bank.AccountClosed), bank.ErrAccountNotFound)
	assert.ErrorIs(t, st.UpdateAccount(ctx, bank.Account{ID: "missing"}), bank.ErrAccountNotFound)
}

func testAdjustBalance(t *testing.T, newStore Factory) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	acct, err := st.AdjustBalance(ctx, "acc-1", dec("120.50"))
	require.NoError(t, err)
	assert.Equal(t, "120.50", acct.Balance.StringFixed(2))

	acct, err = st.AdjustBalance(ctx, "acc-1", dec("-20.25"))
	require.NoError(t, err)
	assert.Equal(t, "100.25", acct.Balance.StringFixed(2))

	// WHEN: the result would be negative
	_, err = st.AdjustBalance(ctx, "acc-1", dec("-100.26"))

	// THEN: nothing moves
	assert.ErrorIs(t, err, bank.ErrInsufficientFunds)
	acct, err = st.GetAccountByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "100.25", acct.Balance.StringFixed(2))

	acct, err = st.AdjustBalance(ctx, "acc-1", dec("-100.25"))
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())

	_, err = st.AdjustBalance(ctx, "missing", dec("1"))
	assert.ErrorIs(t, err, bank.ErrAccountNotFound)
}

// =============================================================================
// LEDGER
// =============================================================================

func entry(id string, kind bank.EntryKind, amount string, at time.Time, batch string) bank.LedgerEntry {
	return bank.LedgerEntry{
		ID: id, AccountID: "acc-1", PartyID: "m-1", ProductCode: "SAV", Kind: kind,
		Amount: dec(amount), Narration: id, EffectiveAt: at, Actor: "teller",
		BalanceAfter: decimal.Zero, BatchID: batch, CreatedAt: t0,
	}
}

func testLedger(t *testing.T, newStore Factory) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	// GIVEN: entries appended out of effective order, two sharing an instant
	later := t0.Add(48 * time.Hour)
	first, err := st.AppendEntry(ctx, entry("e-late", bank.EntryDeposit, "10", later, ""))
	require.NoError(t, err)
	second, err := st.AppendEntry(ctx, entry("e-early", bank.EntryDeposit, "20", t0, ""))
	require.NoError(t, err)
	third, err := st.AppendEntry(ctx, entry("e-late-2", bank.EntryInterestCredit, "1.25", later, "batch-1"))
	require.NoError(t, err)
	assert.Less(t, first.Seq, second.Seq)
	assert.Less(t, second.Seq, third.Seq)

	// WHEN: reading the account's history
	all, err := st.EntriesForAccount(ctx, "acc-1", bank.LedgerQuery{})
	require.NoError(t, err)

	// THEN: ordered by effective time, ties by insertion
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e-early", "e-late", "e-late-2"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "1.25", all[2].Amount.StringFixed(2))
	assert.Equal(t, "batch-1", all[2].BatchID)
	assert.True(t, all[0].EffectiveAt.Equal(t0))

	from := t0.Add(time.Hour)
	ranged, err := st.EntriesForAccount(ctx, "acc-1", bank.LedgerQuery{From: &from})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	to := t0
	ranged, err = st.EntriesForAccount(ctx, "acc-1", bank.LedgerQuery{To: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "e-early", ranged[0].ID)

	credits, err := st.EntriesForAccount(ctx, "acc-1", bank.LedgerQuery{Kind: bank.EntryInterestCredit})
	require.NoError(t, err)
	require.Len(t, credits, 1)

	tagged, err := st.EntriesForBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "e-late-2", tagged[0].ID)

	none, err := st.EntriesForBatch(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func testProducts(t *testing.T, newStore Factory, corrupt TotalsCorrupter) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	p, err := st.GetProduct(ctx, "SAV")
	require.NoError(t, err)
	require.NotNil(t, p.AnnualRate)
	assert.Equal(t, "4", p.AnnualRate.String())
	assert.Equal(t, "100", p.MinBalance.String())
	assert.True(t, p.Active)

	require.NoError(t, st.IncrementProductTotals(ctx, "SAV", dec("1000.10"), dec("0")))
	require.NoError(t, st.IncrementProductTotals(ctx, "SAV", dec("12.34"), dec("12.34")))

	// UpdateProduct leaves the totals alone.
	p.Name = "Savings Plus"
	p.ConfigJSON = `{"default_tenor_days":90}`
	p.AnnualRate = nil
	p.TotalBalance = dec("1")
	require.NoError(t, st.UpdateProduct(ctx, *p))

	p, err = st.GetProduct(ctx, "SAV")
	require.NoError(t, err)
	assert.Equal(t, "Savings Plus", p.Name)
	assert.Equal(t, `{"default_tenor_days":90}`, p.ConfigJSON)
	assert.Nil(t, p.AnnualRate)
	assert.Equal(t, "1012.44", p.TotalBalance.StringFixed(2))
	assert.Equal(t, "12.34", p.TotalInterestPaid.StringFixed(2))

	list, err := st.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, st.ResetProductTotals(ctx, "SAV"))
	p, err = st.GetProduct(ctx, "SAV")
	require.NoError(t, err)
	assert.True(t, p.TotalBalance.IsZero())
	assert.True(t, p.TotalInterestPaid.IsZero())

	_, err = st.GetProduct(ctx, "NOPE")
	assert.ErrorIs(t, err, bank.ErrProductNotFound)
	assert.ErrorIs(t, st.IncrementProductTotals(ctx, "NOPE", dec("1"), dec("0")), bank.ErrProductNotFound)
	assert.ErrorIs(t, st.UpdateProduct(ctx, bank.Product{Code: "NOPE"}), bank.ErrProductNotFound)

	if corrupt == nil {
		return
	}
	// GIVEN: totals held in a legacy representation
	corrupt(t, st, "SAV")

	// WHEN: incrementing
	err = st.IncrementProductTotals(ctx, "SAV", dec("1"), dec("0"))

	// THEN: the corruption is reported, and a reset clears it
	assert.ErrorIs(t, err, bank.ErrTotalsCorrupt)
	require.NoError(t, st.ResetProductTotals(ctx, "SAV"))
	require.NoError(t, st.IncrementProductTotals(ctx, "SAV", dec("1"), dec("0")))
}

// =============================================================================
// PARTIES
// =============================================================================

func testParties(t *testing.T, newStore Factory) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	require.NoError(t, st.SaveParty(ctx, bank.Party{ID: "a-1", Name: "Ravi", Type: bank.PartyAssociate, Status: bank.PartyActive, JoinedAt: t0}))
	require.NoError(t, st.SaveParty(ctx, bank.Party{ID: "m-0", Name: "Old", Type: bank.PartyMember, Status: bank.PartyInactive, JoinedAt: t0}))

	p, err := st.GetParty(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, bank.PartyAssociate, p.Type)
	assert.True(t, p.JoinedAt.Equal(t0))

	// SaveParty overwrites.
	p.Status = bank.PartyInactive
	require.NoError(t, st.SaveParty(ctx, *p))

	active, err := st.ListActiveParties(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "m-1", active[0].ID)

	_, err = st.GetParty(ctx, "ghost")
	assert.ErrorIs(t, err, bank.ErrPartyNotFound)
}

// =============================================================================
// BATCHES
// =============================================================================

func batch(id string, posted time.Time) bank.InterestBatch {
	return bank.InterestBatch{
		ID:            id,
		ProductCode:   "SAV",
		QuarterKey:    "2024Q1",
		PeriodStart:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond),
		PostedAt:      posted,
		AccountCount:  2,
		TotalInterest: dec("375.02"),
		Actor:         "ops",
	}
}

func testBatches(t *testing.T, newStore Factory) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	_, err := st.GetActiveBatch(ctx, "SAV", "2024Q1")
	assert.ErrorIs(t, err, bank.ErrBatchNotFound)

	require.NoError(t, st.CreateBatch(ctx, batch("b-1", t0.AddDate(0, 3, 5))))

	// WHEN: a second active batch for the same quarter is written
	err = st.CreateBatch(ctx, batch("b-2", t0.AddDate(0, 3, 6)))

	// THEN: the uniqueness guard rejects it
	assert.ErrorIs(t, err, bank.ErrBatchAlreadyActive)

	active, err := st.GetActiveBatch(ctx, "SAV", "2024Q1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", active.ID)
	assert.Equal(t, "375.02", active.TotalInterest.StringFixed(2))
	assert.True(t, active.PeriodEnd.Equal(batch("", t0).PeriodEnd))
	assert.False(t, active.Reversed)

	reversedAt := t0.AddDate(0, 3, 7)
	require.NoError(t, st.MarkBatchReversed(ctx, "b-1", reversedAt, "supervisor"))
	assert.ErrorIs(t, st.MarkBatchReversed(ctx, "b-1", reversedAt, "supervisor"), bank.ErrBatchAlreadyReversed)
	assert.ErrorIs(t, st.MarkBatchReversed(ctx, "ghost", reversedAt, "supervisor"), bank.ErrBatchNotFound)

	got, err := st.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, got.Reversed)
	assert.Equal(t, "supervisor", got.ReversedBy)
	require.NotNil(t, got.ReversedAt)
	assert.True(t, got.ReversedAt.Equal(reversedAt))

	// A reversed batch frees the quarter for a new one.
	require.NoError(t, st.CreateBatch(ctx, batch("b-2", t0.AddDate(0, 3, 8))))
	latest, err := st.LatestBatch(ctx, "SAV", "2024Q1")
	require.NoError(t, err)
	assert.Equal(t, "b-2", latest.ID)

	other := batch("b-3", t0.AddDate(0, 6, 5))
	other.QuarterKey = "2024Q2"
	require.NoError(t, st.CreateBatch(ctx, other))

	list, err := st.ListBatches(ctx, "SAV")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b-3", list[0].ID)
	assert.Equal(t, "b-1", list[2].ID)

	none, err := st.ListBatches(ctx, "FD")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = st.GetBatch(ctx, "ghost")
	assert.True(t, bank.IsNotFound(err))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testWithTx(t *testing.T, newStore Factory) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)
	boom := errors.New("boom")

	// WHEN: fn fails after writing
	err := st.WithTx(ctx, func(tx bank.Store) error {
		if _, err := tx.AdjustBalance(ctx, "acc-1", dec("50")); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, entry("e-1", bank.EntryDeposit, "50", t0, "")); err != nil {
			return err
		}
		if err := tx.CreateBatch(ctx, batch("b-tx", t0)); err != nil {
			return err
		}
		return boom
	})

	// THEN: every write is rolled back
	assert.ErrorIs(t, err, boom)
	acct, err := st.GetAccountByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
	entries, err := st.EntriesForAccount(ctx, "acc-1", bank.LedgerQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = st.GetBatch(ctx, "b-tx")
	assert.ErrorIs(t, err, bank.ErrBatchNotFound)

	// AND: a successful fn commits
	require.NoError(t, st.WithTx(ctx, func(tx bank.Store) error {
		_, err := tx.AdjustBalance(ctx, "acc-1", dec("50"))
		return err
	}))
	acct, err = st.GetAccountByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "50.00", acct.Balance.StringFixed(2))
}
