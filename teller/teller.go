/*
Package teller moves cash in and out of savings-style accounts.

RULES:
  - amounts are positive with at most 2 decimals
  - the account must be active and its product must not be a fixed deposit
    (fixed-deposit money moves only through package fixeddeposit)
  - movements may be backdated but never dated in the future
  - a withdrawal is checked against the lesser of the cached balance and
    the balance replayed from the ledger as of now, and may not leave less
    than the product's minimum balance

Each movement is one Poster.Post inside WithTx, under the account lock.
*/
package teller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/metrics"
)

type Movement struct {
	AccountID   string
	Amount      decimal.Decimal
	Narration   string
	EffectiveAt time.Time // zero means now
	Actor       string
}

type Receipt struct {
	Entry   bank.LedgerEntry `json:"entry"`
	Account bank.Account     `json:"account"`
}

type Service struct {
	store   bank.TxStore
	locker  bank.Locker
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store bank.TxStore, locker bank.Locker, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = bank.NoopLocker{}
	}
	return &Service{
		store:   store,
		locker:  locker,
		logger:  logger.With(slog.String("component", "teller")),
		metrics: m,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Deposit credits the account.
func (s *Service) Deposit(ctx context.Context, m Movement) (Receipt, error) {
	track := s.metrics.Track("teller_deposit")
	r, err := s.move(ctx, m, bank.EntryDeposit)
	return r, track.End(err)
}

// Withdraw debits the account, keeping at least the product minimum.
func (s *Service) Withdraw(ctx context.Context, m Movement) (Receipt, error) {
	track := s.metrics.Track("teller_withdraw")
	r, err := s.move(ctx, m, bank.EntryWithdrawal)
	return r, track.End(err)
}

func (s *Service) move(ctx context.Context, m Movement, kind bank.EntryKind) (Receipt, error) {
	if m.Actor == "" || m.AccountID == "" {
		return Receipt{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "account and actor are required")
	}
	amount := bank.Round2(m.Amount)
	if !amount.IsPositive() || !amount.Equal(m.Amount) {
		return Receipt{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidAmount,
			"amount must be positive with at most 2 decimals, got %s", m.Amount)
	}
	now := s.now().UTC()
	if m.EffectiveAt.After(now) {
		return Receipt{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput,
			"effective date %s is in the future", m.EffectiveAt.UTC().Format(time.RFC3339))
	}

	release, err := s.locker.Acquire(ctx, bank.AccountLockKey(m.AccountID))
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var receipt Receipt
	err = s.store.WithTx(ctx, func(tx bank.Store) error {
		acct, err := tx.GetAccountByID(ctx, m.AccountID)
		if err != nil {
			return err
		}
		if !acct.IsActive() {
			return bank.Errorf(bank.ErrStateConflict, bank.CodeInactiveAccount, "account %s is %s", acct.ID, acct.Status)
		}
		product, err := tx.GetProduct(ctx, acct.ProductCode)
		if err != nil {
			return err
		}
		if product.InterestMethod == bank.MethodFDMaturity {
			return bank.Errorf(bank.ErrStateConflict, bank.CodeIneligible,
				"account %s is a fixed deposit; use the fixed deposit operations", acct.ID)
		}
		if kind == bank.EntryWithdrawal {
			available, err := bank.NewReconstructor(tx).BalanceAt(ctx, acct.ID, now)
			if err != nil {
				return err
			}
			if acct.Balance.LessThan(available) {
				available = acct.Balance
			}
			if available.LessThan(amount) {
				return bank.Errorf(bank.ErrStateConflict, bank.CodeInsufficientFunds,
					"account %s holds %s, cannot withdraw %s", acct.ID, available.StringFixed(2), amount.StringFixed(2))
			}
			if after := available.Sub(amount); after.LessThan(product.MinBalance) {
				return &bank.Error{
					Kind: bank.ErrStateConflict,
					Code: bank.CodeMinimumBalance,
					Message: fmt.Sprintf("withdrawing %s would leave %s in %s, below the %s minimum of %s",
						amount.StringFixed(2), after.StringFixed(2), acct.ID, product.Code, product.MinBalance.StringFixed(2)),
				}
			}
		}

		narration := m.Narration
		if narration == "" {
			narration = "Counter " + string(kind)
		}
		entry, updated, err := bank.NewPoster(tx, s.logger).WithNow(s.now).Post(ctx, bank.Posting{
			AccountID:   acct.ID,
			Kind:        kind,
			Amount:      amount,
			Narration:   narration,
			EffectiveAt: m.EffectiveAt,
			Actor:       m.Actor,
		})
		if err != nil {
			return err
		}
		receipt = Receipt{Entry: entry, Account: *updated}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.logger.Info("teller "+string(kind),
		slog.String("account_id", receipt.Account.ID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("balance", receipt.Account.Balance.StringFixed(2)),
		slog.String("actor", m.Actor))
	return receipt, nil
}
