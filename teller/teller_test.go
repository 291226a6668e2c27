package teller

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/store"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/lock"
)

var now = time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (context.Context, *store.Memory, *Service) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	sav := factory.SavingsProduct("SAV", "Savings", "4")
	sav.MinBalance = amt("500")
	require.NoError(t, mem.CreateProduct(ctx, sav))
	require.NoError(t, mem.CreateProduct(ctx, factory.FixedDepositProduct("FD", "Fixed Deposit", factory.Tier(180, "5.5"))))
	for _, a := range []bank.Account{
		{ID: "sav-1", PartyID: "m-1", ProductCode: "SAV", Category: bank.CategoryDeposit, Status: bank.AccountActive},
		{ID: "fd-1", PartyID: "m-1", ProductCode: "FD", Category: bank.CategoryDeposit, Status: bank.AccountActive},
		{ID: "sav-2", PartyID: "m-2", ProductCode: "SAV", Category: bank.CategoryDeposit, Status: bank.AccountInactive},
	} {
		require.NoError(t, mem.CreateAccount(ctx, a))
	}
	svc := NewService(mem, lock.NewLocal(), nil, nil).WithNow(func() time.Time { return now })
	return ctx, mem, svc
}

func TestDeposit_PostsEntry(t *testing.T) {
	ctx, mem, svc := setup(t)

	r, err := svc.Deposit(ctx, Movement{AccountID: "sav-1", Amount: amt("1200.50"), Actor: "teller-1"})

	require.NoError(t, err)
	assert.Equal(t, "1200.50", r.Account.Balance.StringFixed(2))
	assert.Equal(t, bank.EntryDeposit, r.Entry.Kind)
	assert.True(t, r.Entry.EffectiveAt.Equal(now))
	assert.Equal(t, "Counter deposit", r.Entry.Narration)

	p, err := mem.GetProduct(ctx, "SAV")
	require.NoError(t, err)
	assert.Equal(t, "1200.50", p.TotalBalance.StringFixed(2))
}

func TestWithdraw_RespectsMinimumBalance(t *testing.T) {
	ctx, _, svc := setup(t)
	_, err := svc.Deposit(ctx, Movement{AccountID: "sav-1", Amount: amt("1000"), Actor: "teller-1"})
	require.NoError(t, err)

	// WHEN: the withdrawal would leave 499.99 against a 500.00 minimum
	_, err = svc.Withdraw(ctx, Movement{AccountID: "sav-1", Amount: amt("500.01"), Actor: "teller-1"})

	// THEN: it is refused as a minimum-balance breach
	assert.ErrorIs(t, err, bank.ErrMinimumBalance)
	assert.True(t, bank.IsConflict(err))
	assert.Contains(t, err.Error(), "500.00")

	// AND: exactly the minimum may remain
	r, err := svc.Withdraw(ctx, Movement{AccountID: "sav-1", Amount: amt("500"), Actor: "teller-1"})
	require.NoError(t, err)
	assert.Equal(t, "500.00", r.Account.Balance.StringFixed(2))
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	ctx, _, svc := setup(t)

	_, err := svc.Withdraw(ctx, Movement{AccountID: "sav-1", Amount: amt("1"), Actor: "teller-1"})

	assert.ErrorIs(t, err, bank.ErrInsufficientFunds)
}

func TestMovement_Rejections(t *testing.T) {
	ctx, _, svc := setup(t)

	tests := []struct {
		name  string
		m     Movement
		check func(error) bool
	}{
		{"missing actor", Movement{AccountID: "sav-1", Amount: amt("1")}, bank.IsValidation},
		{"zero amount", Movement{AccountID: "sav-1", Amount: decimal.Zero, Actor: "t"}, bank.IsValidation},
		{"three decimals", Movement{AccountID: "sav-1", Amount: amt("1.005"), Actor: "t"}, bank.IsValidation},
		{"unknown account", Movement{AccountID: "ghost", Amount: amt("1"), Actor: "t"}, bank.IsNotFound},
		{"inactive account", Movement{AccountID: "sav-2", Amount: amt("1"), Actor: "t"}, bank.IsConflict},
		{"fixed deposit", Movement{AccountID: "fd-1", Amount: amt("1"), Actor: "t"}, bank.IsConflict},
		{"future dated", Movement{AccountID: "sav-1", Amount: amt("1"), EffectiveAt: now.Add(time.Second), Actor: "t"}, bank.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deposit(ctx, tt.m)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
}

func TestDeposit_BackdatedIsAccepted(t *testing.T) {
	ctx, _, svc := setup(t)

	r, err := svc.Deposit(ctx, Movement{AccountID: "sav-1", Amount: amt("700"), EffectiveAt: now.AddDate(0, 0, -10), Actor: "t"})

	require.NoError(t, err)
	assert.True(t, r.Entry.EffectiveAt.Equal(now.AddDate(0, 0, -10)))
}

func TestDeposit_FutureDatedLeavesNothingToWithdraw(t *testing.T) {
	ctx, mem, svc := setup(t)

	// WHEN: a deposit is dated far in the future
	_, err := svc.Deposit(ctx, Movement{AccountID: "sav-1", Amount: amt("1000"), EffectiveAt: time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC), Actor: "t"})

	// THEN: it is refused and no money appears
	assert.True(t, bank.IsValidation(err))
	_, err = svc.Withdraw(ctx, Movement{AccountID: "sav-1", Amount: amt("400"), Actor: "t"})
	assert.ErrorIs(t, err, bank.ErrInsufficientFunds)
	acct, err := mem.GetAccountByID(ctx, "sav-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
}

func TestWithdraw_UsesLedgerWhenCacheRunsAhead(t *testing.T) {
	// GIVEN: 1000 on the ledger, but a cached balance inflated to 5000
	ctx, mem, svc := setup(t)
	_, err := svc.Deposit(ctx, Movement{AccountID: "sav-1", Amount: amt("1000"), Actor: "t"})
	require.NoError(t, err)
	_, err = mem.AdjustBalance(ctx, "sav-1", amt("4000"))
	require.NoError(t, err)

	// WHEN: withdrawing more than the ledger supports
	_, err = svc.Withdraw(ctx, Movement{AccountID: "sav-1", Amount: amt("600"), Actor: "t"})

	// THEN: the ledger balance governs the minimum-balance check
	assert.ErrorIs(t, err, bank.ErrMinimumBalance)
	assert.Contains(t, err.Error(), "400.00")

	_, err = svc.Withdraw(ctx, Movement{AccountID: "sav-1", Amount: amt("500"), Actor: "t"})
	assert.NoError(t, err)
}

func TestMovement_LockHeld(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateProduct(ctx, factory.SavingsProduct("SAV", "Savings", "4")))
	require.NoError(t, mem.CreateAccount(ctx, bank.Account{
		ID: "sav-1", PartyID: "m-1", ProductCode: "SAV", Category: bank.CategoryDeposit, Status: bank.AccountActive,
	}))
	locker := lock.NewLocal()
	release, err := locker.Acquire(ctx, bank.AccountLockKey("sav-1"))
	require.NoError(t, err)
	defer release()

	_, err = NewService(mem, locker, nil, nil).Deposit(ctx, Movement{AccountID: "sav-1", Amount: amt("1"), Actor: "t"})

	assert.ErrorIs(t, err, bank.ErrOperationInProgress)
}
