package fixeddeposit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/catalog"
	"github.com/warp/deposit-engine/factory"
)

const daysPerMonth = 30

// =============================================================================
// FORMULAS
// =============================================================================

// ElapsedDays is the number of whole days from opened to now, never negative.
func ElapsedDays(opened, now time.Time) int {
	if !now.After(opened) {
		return 0
	}
	return int(now.Sub(opened) / (24 * time.Hour))
}

// MaturityInterest is simple interest over the full locked tenor.
func MaturityInterest(principal decimal.Decimal, terms bank.TermSnapshot) decimal.Decimal {
	return bank.SimpleInterest(principal, terms.AnnualRate, terms.TenorDays)
}

// PrematureInterest is zero below the holding threshold and simple interest
// at the premature rate for the elapsed days from the threshold onwards.
func PrematureInterest(principal decimal.Decimal, terms bank.TermSnapshot, elapsedDays int) (decimal.Decimal, bool) {
	if elapsedDays < terms.PrematureThresholdMonths*daysPerMonth {
		return decimal.Zero, false
	}
	return bank.SimpleInterest(principal, terms.PrematureAnnualRate, elapsedDays), true
}

// =============================================================================
// TERM SNAPSHOT RECOVERY
// =============================================================================

// loaded is an FD account with everything a transition needs.
type loaded struct {
	account   *bank.Account
	product   *bank.Product
	terms     bank.TermSnapshot
	principal decimal.Decimal
}

// load reads the account, its product, its terms and its replayed principal.
// With persist set, a rebuilt snapshot is written back; previews leave the
// store untouched.
func (e *Engine) load(ctx context.Context, st bank.Store, accountID string, persist bool) (*loaded, error) {
	acct, err := st.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive() {
		return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeInactiveAccount,
			"fixed deposit %s is %s", acct.ID, acct.Status)
	}
	product, err := st.GetProduct(ctx, acct.ProductCode)
	if err != nil {
		return nil, err
	}
	if product.InterestMethod != bank.MethodFDMaturity {
		return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeIneligible,
			"account %s is not a fixed deposit", acct.ID)
	}

	terms, ok := acct.TermSnapshot()
	if !ok {
		terms, err = e.rebuildTerms(ctx, st, acct, product, persist)
		if err != nil {
			return nil, err
		}
	}
	if acct.MaturityAt == nil {
		if err := e.restoreMaturity(ctx, st, acct, terms, persist); err != nil {
			return nil, err
		}
	}

	principal, err := bank.NewReconstructor(st).BalanceAt(ctx, acct.ID, e.now().UTC())
	if err != nil {
		return nil, err
	}
	return &loaded{account: acct, product: product, terms: terms, principal: principal}, nil
}

// rebuildTerms reconstructs a missing snapshot. acct is updated in place.
func (e *Engine) rebuildTerms(ctx context.Context, st bank.Store, acct *bank.Account, product *bank.Product, persist bool) (bank.TermSnapshot, error) {
	var cfg bank.ProductConfig
	if persist {
		healed, err := catalog.NewRateResolver(st, e.logger, e.metrics).EnsureConfigured(ctx, product)
		if err != nil {
			return bank.TermSnapshot{}, err
		}
		cfg = healed
	} else {
		cfg, _ = factory.Inspect(product.ConfigJSON)
	}

	entries, err := st.EntriesForAccount(ctx, acct.ID, bank.LedgerQuery{})
	if err != nil {
		return bank.TermSnapshot{}, fmt.Errorf("load entries for %s: %w", acct.ID, err)
	}

	opened := acct.OpenedAt
	openedFrom := "account"
	if opened.IsZero() && len(entries) > 0 {
		opened = entries[0].EffectiveAt
		for _, en := range entries[1:] {
			if en.EffectiveAt.Before(opened) {
				opened = en.EffectiveAt
			}
		}
		openedFrom = "ledger"
	}
	if opened.IsZero() {
		opened = e.now().UTC()
		openedFrom = "now"
	}

	tenor := cfg.DefaultTenorDays
	if acct.MaturityAt != nil {
		if days := ElapsedDays(opened, *acct.MaturityAt); days > 0 {
			tenor = days
		}
	}
	_, rate, err := catalog.Resolve(cfg, &tenor)
	if err != nil {
		return bank.TermSnapshot{}, fmt.Errorf("product %s: %w", product.Code, err)
	}

	terms := bank.TermSnapshot{
		TenorDays:                tenor,
		AnnualRate:               rate,
		PrematureThresholdMonths: cfg.PrematureThresholdMonths,
		PrematureAnnualRate:      cfg.PrematureAnnualRate,
		OpenPrincipal:            bank.Replay(entries),
	}
	acct.OpenedAt = opened
	if acct.MaturityAt == nil {
		maturity := opened.AddDate(0, 0, tenor)
		acct.MaturityAt = &maturity
	}
	acct.SetTermSnapshot(terms)

	if persist {
		if err := st.UpdateAccount(ctx, *acct); err != nil {
			return bank.TermSnapshot{}, fmt.Errorf("persist rebuilt terms for %s: %w", acct.ID, err)
		}
		e.logger.Warn("fixed deposit term snapshot rebuilt",
			slog.String("account_id", acct.ID),
			slog.String("opened_from", openedFrom),
			slog.Int("tenor_days", tenor),
			slog.String("rate", rate.String()))
	}
	return terms, nil
}

// restoreMaturity derives a missing maturity date from the opening date and
// the locked tenor. An account without an opening date matures a full tenor
// from now.
func (e *Engine) restoreMaturity(ctx context.Context, st bank.Store, acct *bank.Account, terms bank.TermSnapshot, persist bool) error {
	opened := acct.OpenedAt
	if opened.IsZero() {
		opened = e.now().UTC()
		acct.OpenedAt = opened
	}
	maturity := opened.AddDate(0, 0, terms.TenorDays)
	acct.MaturityAt = &maturity

	if persist {
		if err := st.UpdateAccount(ctx, *acct); err != nil {
			return fmt.Errorf("persist maturity for %s: %w", acct.ID, err)
		}
		e.logger.Warn("fixed deposit maturity date restored",
			slog.String("account_id", acct.ID),
			slog.Int("tenor_days", terms.TenorDays),
			slog.Time("maturity_at", maturity))
	}
	return nil
}

// =============================================================================
// PREVIEWS
// =============================================================================

type MaturityPreview struct {
	AccountID  string          `json:"account_id"`
	Principal  decimal.Decimal `json:"principal"`
	TenorDays  int             `json:"tenor_days"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
	Interest   decimal.Decimal `json:"interest"`
	Total      decimal.Decimal `json:"total"`
	MaturityAt *time.Time      `json:"maturity_at,omitempty"`
	Matured    bool            `json:"matured"`
}

type PrematurePreview struct {
	AccountID           string          `json:"account_id"`
	Principal           decimal.Decimal `json:"principal"`
	ElapsedDays         int             `json:"elapsed_days"`
	ThresholdDays       int             `json:"threshold_days"`
	PrematureAnnualRate decimal.Decimal `json:"premature_annual_rate"`
	InterestEligible    bool            `json:"interest_eligible"`
	Interest            decimal.Decimal `json:"interest"`
	Total               decimal.Decimal `json:"total"`
}

// PreviewMaturity computes the full-term payout without writing anything.
func (e *Engine) PreviewMaturity(ctx context.Context, accountID string) (MaturityPreview, error) {
	l, err := e.load(ctx, e.store, accountID, false)
	if err != nil {
		return MaturityPreview{}, err
	}
	interest := MaturityInterest(l.principal, l.terms)
	matured := !e.now().Before(*l.account.MaturityAt)
	return MaturityPreview{
		AccountID:  l.account.ID,
		Principal:  l.principal,
		TenorDays:  l.terms.TenorDays,
		AnnualRate: l.terms.AnnualRate,
		Interest:   interest,
		Total:      l.principal.Add(interest),
		MaturityAt: l.account.MaturityAt,
		Matured:    matured,
	}, nil
}

// PreviewPremature computes what closing today would pay without writing
// anything.
func (e *Engine) PreviewPremature(ctx context.Context, accountID string) (PrematurePreview, error) {
	l, err := e.load(ctx, e.store, accountID, false)
	if err != nil {
		return PrematurePreview{}, err
	}
	elapsed := ElapsedDays(l.account.OpenedAt, e.now().UTC())
	interest, eligible := PrematureInterest(l.principal, l.terms, elapsed)
	return PrematurePreview{
		AccountID:           l.account.ID,
		Principal:           l.principal,
		ElapsedDays:         elapsed,
		ThresholdDays:       l.terms.PrematureThresholdMonths * daysPerMonth,
		PrematureAnnualRate: l.terms.PrematureAnnualRate,
		InterestEligible:    eligible,
		Interest:            interest,
		Total:               l.principal.Add(interest),
	}, nil
}
