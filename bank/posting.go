/*
posting.go - Credit/debit primitives shared by interest batches and fixed deposits

PURPOSE:
  Every balance change goes through Poster.Post, which performs the three
  writes that must stay together:
    1. atomic balance increment on the account (AccountStore.AdjustBalance)
    2. append of the matching ledger entry
    3. delta applied to the product's running totals

  Interest credits and reversals also move the product's interest-paid
  total; every other kind only moves the aggregate balance.

  Poster holds the Store it writes through. Inside a transaction, build it
  from the transactional Store passed to WithTx.
*/
package bank

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Posting describes one ledger movement.
type Posting struct {
	AccountID   string
	Kind        EntryKind
	Amount      decimal.Decimal // non-negative; sign comes from Kind
	Narration   string
	EffectiveAt time.Time // zero means now
	Actor       string
	BatchID     string
}

// Poster applies postings.
type Poster struct {
	store  Store
	totals *TotalsAggregator
	now    func() time.Time
}

func NewPoster(store Store, logger *slog.Logger) *Poster {
	return &Poster{
		store:  store,
		totals: NewTotalsAggregator(store, logger),
		now:    time.Now,
	}
}

// WithNow overrides the clock for testing.
func (p *Poster) WithNow(now func() time.Time) *Poster {
	if now != nil {
		p.now = now
	}
	return p
}

// Post applies a single posting and returns the written entry and the
// updated account.
func (p *Poster) Post(ctx context.Context, in Posting) (LedgerEntry, *Account, error) {
	if !in.Kind.Valid() {
		return LedgerEntry{}, nil, Errorf(ErrValidation, CodeInvalidInput, "unknown entry kind %q", in.Kind)
	}
	amount := Round2(in.Amount)
	if !amount.IsPositive() {
		return LedgerEntry{}, nil, Errorf(ErrValidation, CodeInvalidAmount, "posting amount must be positive, got %s", in.Amount)
	}

	delta := in.Kind.Signed(amount)
	acct, err := p.store.AdjustBalance(ctx, in.AccountID, delta)
	if err != nil {
		return LedgerEntry{}, nil, fmt.Errorf("%s %s on %s: %w", in.Kind, amount, in.AccountID, err)
	}

	now := p.now().UTC()
	effective := in.EffectiveAt
	if effective.IsZero() {
		effective = now
	}
	entry, err := p.store.AppendEntry(ctx, LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    acct.ID,
		PartyID:      acct.PartyID,
		ProductCode:  acct.ProductCode,
		Kind:         in.Kind,
		Amount:       amount,
		Narration:    in.Narration,
		EffectiveAt:  effective.UTC(),
		Actor:        in.Actor,
		BalanceAfter: acct.Balance,
		BatchID:      in.BatchID,
		CreatedAt:    now,
	})
	if err != nil {
		return LedgerEntry{}, nil, fmt.Errorf("append %s entry: %w", in.Kind, err)
	}

	interestDelta := decimal.Zero
	switch in.Kind {
	case EntryInterestCredit:
		interestDelta = amount
	case EntryInterestReversal:
		interestDelta = amount.Neg()
	}
	if err := p.totals.ApplyDelta(ctx, acct.ProductCode, delta, interestDelta); err != nil {
		return LedgerEntry{}, nil, fmt.Errorf("apply totals for %s: %w", acct.ProductCode, err)
	}
	return entry, acct, nil
}

// Transfer debits from and credits to with the same amount.
func (p *Poster) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, narration, actor string) error {
	if _, _, err := p.Post(ctx, Posting{
		AccountID: fromID,
		Kind:      EntryWithdrawal,
		Amount:    amount,
		Narration: narration,
		Actor:     actor,
	}); err != nil {
		return err
	}
	_, _, err := p.Post(ctx, Posting{
		AccountID: toID,
		Kind:      EntryDeposit,
		Amount:    amount,
		Narration: narration,
		Actor:     actor,
	})
	return err
}
