package fixeddeposit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/catalog"
)

// =============================================================================
// PREMATURE CLOSE
// =============================================================================

// PrematureClose ends a deposit early at the reduced premature rate and
// pays everything to the payout account.
func (e *Engine) PrematureClose(ctx context.Context, accountID, actor string) (Outcome, error) {
	track := e.metrics.Track("fd_premature_close")
	out, err := e.prematureClose(ctx, accountID, actor)
	return out, track.End(err)
}

func (e *Engine) prematureClose(ctx context.Context, accountID, actor string) (Outcome, error) {
	if actor == "" {
		return Outcome{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "actor is required")
	}
	release, err := e.locker.Acquire(ctx, bank.AccountLockKey(accountID))
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	var out Outcome
	err = e.store.WithTx(ctx, func(tx bank.Store) error {
		l, err := e.load(ctx, tx, accountID, true)
		if err != nil {
			return err
		}
		payout, err := checkPayout(ctx, tx, l.account.PayoutAccountID)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		elapsed := ElapsedDays(l.account.OpenedAt, now)
		interest, _ := PrematureInterest(l.principal, l.terms, elapsed)
		narration := fmt.Sprintf("Premature closure interest, %d days @ %s%% p.a.", elapsed, l.terms.PrematureAnnualRate)

		paid, err := e.payOut(ctx, tx, l, payout.ID, interest, narration, actor)
		if err != nil {
			return err
		}
		closed, err := e.close(ctx, tx, l.account.ID)
		if err != nil {
			return err
		}
		out = Outcome{
			Action:          ActionPrematureClosed,
			Account:         *closed,
			Terms:           l.terms,
			Principal:       l.principal,
			Interest:        interest,
			PaidOut:         paid,
			PayoutAccountID: payout.ID,
			ElapsedDays:     elapsed,
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	e.logTransition(out)
	e.metrics.FDTransition(out.Account.ProductCode, ActionPrematureClosed)
	return out, nil
}

// =============================================================================
// MATURE OR RENEW
// =============================================================================

// MatureOrRenew settles a matured deposit: either pays everything out and
// closes it, or starts a new term.
func (e *Engine) MatureOrRenew(ctx context.Context, req MatureRequest) (Outcome, error) {
	track := e.metrics.Track("fd_mature")
	out, err := e.matureOrRenew(ctx, req)
	return out, track.End(err)
}

func (e *Engine) matureOrRenew(ctx context.Context, req MatureRequest) (Outcome, error) {
	if req.Actor == "" {
		return Outcome{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "actor is required")
	}
	if req.Renew {
		if req.NewTenorDays <= 0 {
			return Outcome{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "renewal requires a positive tenor")
		}
		if req.Mode != PrincipalOnly && req.Mode != PrincipalPlusInterest {
			return Outcome{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput,
				"renewal mode must be %q or %q", PrincipalOnly, PrincipalPlusInterest)
		}
	}

	release, err := e.locker.Acquire(ctx, bank.AccountLockKey(req.AccountID))
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	var out Outcome
	err = e.store.WithTx(ctx, func(tx bank.Store) error {
		l, err := e.load(ctx, tx, req.AccountID, true)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if now.Before(*l.account.MaturityAt) {
			return &bank.Error{
				Kind: bank.ErrStateConflict,
				Code: bank.CodeNotMatured,
				Message: fmt.Sprintf("fixed deposit %s matures %s; use premature close before then",
					l.account.ID, l.account.MaturityAt.Format(time.RFC3339)),
			}
		}

		interest := MaturityInterest(l.principal, l.terms)
		narration := fmt.Sprintf("Maturity interest, %d days @ %s%% p.a.", l.terms.TenorDays, l.terms.AnnualRate)

		if !req.Renew {
			payout, err := checkPayout(ctx, tx, l.account.PayoutAccountID)
			if err != nil {
				return err
			}
			paid, err := e.payOut(ctx, tx, l, payout.ID, interest, narration, req.Actor)
			if err != nil {
				return err
			}
			closed, err := e.close(ctx, tx, l.account.ID)
			if err != nil {
				return err
			}
			out = Outcome{
				Action:          ActionMaturedWithdraw,
				Account:         *closed,
				Terms:           l.terms,
				Principal:       l.principal,
				Interest:        interest,
				PaidOut:         paid,
				PayoutAccountID: payout.ID,
			}
			return nil
		}

		renewed, err := e.renew(ctx, tx, l, req, interest, narration)
		if err != nil {
			return err
		}
		out = renewed
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	e.logTransition(out)
	e.metrics.FDTransition(out.Account.ProductCode, out.Action)
	return out, nil
}

func (e *Engine) renew(ctx context.Context, tx bank.Store, l *loaded, req MatureRequest, interest decimal.Decimal, narration string) (Outcome, error) {
	poster := bank.NewPoster(tx, e.logger).WithNow(e.now)
	if interest.IsPositive() {
		if _, _, err := poster.Post(ctx, bank.Posting{
			AccountID: l.account.ID,
			Kind:      bank.EntryInterestCredit,
			Amount:    interest,
			Narration: narration,
			Actor:     req.Actor,
		}); err != nil {
			return Outcome{}, err
		}
	}

	paid := decimal.Zero
	payoutID := ""
	if req.Mode == PrincipalOnly && interest.IsPositive() {
		payout, err := checkPayout(ctx, tx, l.account.PayoutAccountID)
		if err != nil {
			return Outcome{}, err
		}
		if err := poster.Transfer(ctx, l.account.ID, payout.ID, interest, "Renewal interest payout", req.Actor); err != nil {
			return Outcome{}, err
		}
		paid, payoutID = interest, payout.ID
	}

	tenor := req.NewTenorDays
	newTenor, rate, cfg, err := catalog.NewRateResolver(tx, e.logger, e.metrics).ResolveFor(ctx, l.product, &tenor)
	if err != nil {
		return Outcome{}, err
	}

	acct, err := tx.GetAccountByID(ctx, l.account.ID)
	if err != nil {
		return Outcome{}, err
	}
	now := e.now().UTC()
	maturity := now.AddDate(0, 0, newTenor)
	terms := bank.TermSnapshot{
		TenorDays:                newTenor,
		AnnualRate:               rate,
		PrematureThresholdMonths: l.terms.PrematureThresholdMonths,
		PrematureAnnualRate:      l.terms.PrematureAnnualRate,
		OpenPrincipal:            acct.Balance,
	}
	if terms.PrematureThresholdMonths <= 0 {
		// No policy was ever locked; take the product's.
		terms.PrematureThresholdMonths = cfg.PrematureThresholdMonths
		terms.PrematureAnnualRate = cfg.PrematureAnnualRate
	}
	acct.OpenedAt = now
	acct.MaturityAt = &maturity
	acct.SetTermSnapshot(terms)
	if err := tx.UpdateAccount(ctx, *acct); err != nil {
		return Outcome{}, fmt.Errorf("renew %s: %w", acct.ID, err)
	}

	return Outcome{
		Action:          ActionRenewed,
		Account:         *acct,
		Terms:           terms,
		Principal:       l.principal,
		Interest:        interest,
		PaidOut:         paid,
		PayoutAccountID: payoutID,
	}, nil
}

// =============================================================================
// SHARED STEPS
// =============================================================================

// payOut credits interest to the deposit, then moves principal plus interest
// to the payout account. Returns the amount paid.
func (e *Engine) payOut(ctx context.Context, tx bank.Store, l *loaded, payoutID string, interest decimal.Decimal, narration, actor string) (decimal.Decimal, error) {
	poster := bank.NewPoster(tx, e.logger).WithNow(e.now)
	if interest.IsPositive() {
		if _, _, err := poster.Post(ctx, bank.Posting{
			AccountID: l.account.ID,
			Kind:      bank.EntryInterestCredit,
			Amount:    interest,
			Narration: narration,
			Actor:     actor,
		}); err != nil {
			return decimal.Zero, err
		}
	}
	total := l.principal.Add(interest)
	if !total.IsPositive() {
		return decimal.Zero, nil
	}
	if err := poster.Transfer(ctx, l.account.ID, payoutID,
		total, fmt.Sprintf("Fixed deposit %s payout", l.account.ID), actor); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// close marks the deposit closed. The balance must already be zero.
func (e *Engine) close(ctx context.Context, tx bank.Store, accountID string) (*bank.Account, error) {
	acct, err := tx.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.Balance.IsZero() {
		return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeInvalidAmount,
			"fixed deposit %s still holds %s after payout", acct.ID, acct.Balance.StringFixed(2))
	}
	if err := tx.SetAccountStatus(ctx, accountID, bank.AccountClosed); err != nil {
		return nil, err
	}
	acct.Status = bank.AccountClosed
	return acct, nil
}

func (e *Engine) logTransition(out Outcome) {
	e.logger.Info("fixed deposit "+out.Action,
		slog.String("account_id", out.Account.ID),
		slog.String("product", out.Account.ProductCode),
		slog.String("principal", out.Principal.StringFixed(2)),
		slog.String("interest", out.Interest.StringFixed(2)),
		slog.String("paid_out", out.PaidOut.StringFixed(2)),
		slog.Int("elapsed_days", out.ElapsedDays))
}
