/*
Package fixeddeposit manages fixed-deposit accounts.

LIFECYCLE:
  Open -> Active (pre-maturity)
       -> PrematureClose -> Closed
       -> matured -> MatureOrRenew(withdraw) -> Closed
                  -> MatureOrRenew(renew)    -> Active (new term)

TERMS:
  Tenor, rate and premature policy are resolved from the product's rate
  table at open and locked into the account's term snapshot. Later edits to
  the product never change an existing deposit's terms. Renewal replaces the
  snapshot wholesale.

MONEY MOVEMENT:
  The principal is the balance replayed from the ledger, never the cached
  account field. Interest is always credited to the deposit first so the
  audit trail shows it, then moved to the payout account:

    maturity interest  = round2(principal * rate * tenorDays / 36500)
    premature interest = round2(principal * prematureRate * elapsedDays / 36500)
                         when elapsedDays >= thresholdMonths * 30, else 0

  Elapsed days are whole days (floored). A month is 30 days.

ATOMICITY:
  Each transition runs in one store transaction under the lock fd:<account>.
*/
package fixeddeposit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/catalog"
	"github.com/warp/deposit-engine/metrics"
)

// =============================================================================
// TYPES
// =============================================================================

type Config struct {
	// EligiblePartyTypes lists party types that may hold fixed deposits.
	EligiblePartyTypes []bank.PartyType
}

func DefaultConfig() Config {
	return Config{EligiblePartyTypes: []bank.PartyType{bank.PartyMember}}
}

type RenewalMode string

const (
	PrincipalOnly         RenewalMode = "principal_only"
	PrincipalPlusInterest RenewalMode = "principal_plus_interest"
)

type OpenRequest struct {
	PartyID         string
	ProductCode     string
	Principal       decimal.Decimal
	TenorDays       *int // nil means the product default
	PayoutAccountID string
	Actor           string
}

type MatureRequest struct {
	AccountID    string
	Renew        bool
	NewTenorDays int // required when renewing
	Mode         RenewalMode
	Actor        string
}

// Transition actions reported in Outcome.Action.
const (
	ActionOpened          = "open"
	ActionPrematureClosed = "premature_close"
	ActionMaturedWithdraw = "matured_withdraw"
	ActionRenewed         = "renew"
)

// Outcome reports what a transition did.
type Outcome struct {
	Action          string            `json:"action"`
	Account         bank.Account      `json:"account"`
	Terms           bank.TermSnapshot `json:"terms"`
	Principal       decimal.Decimal   `json:"principal"`
	Interest        decimal.Decimal   `json:"interest"`
	PaidOut         decimal.Decimal   `json:"paid_out"`
	PayoutAccountID string            `json:"payout_account_id,omitempty"`
	ElapsedDays     int               `json:"elapsed_days,omitempty"`
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store   bank.TxStore
	locker  bank.Locker
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(store bank.TxStore, locker bank.Locker, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = bank.NoopLocker{}
	}
	if len(cfg.EligiblePartyTypes) == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		store:   store,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "fixeddeposit")),
		metrics: m,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// =============================================================================
// OPEN
// =============================================================================

// Open creates a fixed deposit funded with the full principal.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (Outcome, error) {
	track := e.metrics.Track("fd_open")
	out, err := e.open(ctx, req)
	return out, track.End(err)
}

func (e *Engine) open(ctx context.Context, req OpenRequest) (Outcome, error) {
	principal := bank.Round2(req.Principal)
	if !principal.IsPositive() || !principal.Equal(req.Principal) {
		return Outcome{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidAmount,
			"principal must be positive with at most 2 decimals, got %s", req.Principal)
	}
	if req.Actor == "" || req.PartyID == "" || req.ProductCode == "" || req.PayoutAccountID == "" {
		return Outcome{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput,
			"party, product, payout account and actor are required")
	}
	if req.TenorDays != nil && *req.TenorDays <= 0 {
		return Outcome{}, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "tenor must be positive")
	}

	release, err := e.locker.Acquire(ctx, bank.AccountLockKey(req.PartyID+":"+req.ProductCode))
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	var out Outcome
	err = e.store.WithTx(ctx, func(tx bank.Store) error {
		party, err := tx.GetParty(ctx, req.PartyID)
		if err != nil {
			return err
		}
		if !party.IsActive() {
			return bank.Errorf(bank.ErrStateConflict, bank.CodeInactiveParty, "party %s is not active", party.ID)
		}
		if !e.eligibleParty(party.Type) {
			return bank.Errorf(bank.ErrStateConflict, bank.CodeIneligible,
				"party type %q cannot hold fixed deposits", party.Type)
		}

		product, err := tx.GetProduct(ctx, req.ProductCode)
		if err != nil {
			return err
		}
		if err := checkFDProduct(product); err != nil {
			return err
		}
		if _, err := tx.GetAccount(ctx, req.PartyID, req.ProductCode); err == nil {
			return bank.ErrDuplicateAccount
		} else if !bank.IsNotFound(err) {
			return err
		}
		if _, err := checkPayout(ctx, tx, req.PayoutAccountID); err != nil {
			return err
		}

		resolver := catalog.NewRateResolver(tx, e.logger, e.metrics)
		tenor, rate, cfg, err := resolver.ResolveFor(ctx, product, req.TenorDays)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		maturity := now.AddDate(0, 0, tenor)
		terms := bank.TermSnapshot{
			TenorDays:                tenor,
			AnnualRate:               rate,
			PrematureThresholdMonths: cfg.PrematureThresholdMonths,
			PrematureAnnualRate:      cfg.PrematureAnnualRate,
			OpenPrincipal:            principal,
		}
		acct := bank.Account{
			ID:              uuid.NewString(),
			PartyID:         party.ID,
			ProductCode:     product.Code,
			Category:        product.Category,
			Status:          bank.AccountActive,
			Balance:         decimal.Zero,
			OpenedAt:        now,
			MaturityAt:      &maturity,
			PayoutAccountID: req.PayoutAccountID,
		}
		acct.SetTermSnapshot(terms)
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return fmt.Errorf("create fixed deposit: %w", err)
		}

		poster := bank.NewPoster(tx, e.logger).WithNow(e.now)
		_, funded, err := poster.Post(ctx, bank.Posting{
			AccountID:   acct.ID,
			Kind:        bank.EntryDeposit,
			Amount:      principal,
			Narration:   fmt.Sprintf("Fixed deposit principal, %d days @ %s%% p.a.", tenor, rate),
			EffectiveAt: now,
			Actor:       req.Actor,
		})
		if err != nil {
			return err
		}
		out = Outcome{
			Action:          ActionOpened,
			Account:         *funded,
			Terms:           terms,
			Principal:       principal,
			Interest:        decimal.Zero,
			PaidOut:         decimal.Zero,
			PayoutAccountID: req.PayoutAccountID,
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	e.logger.Info("fixed deposit opened",
		slog.String("account_id", out.Account.ID),
		slog.String("party_id", req.PartyID),
		slog.String("product", req.ProductCode),
		slog.String("principal", out.Principal.StringFixed(2)),
		slog.Int("tenor_days", out.Terms.TenorDays),
		slog.String("rate", out.Terms.AnnualRate.String()))
	e.metrics.FDTransition(req.ProductCode, ActionOpened)
	return out, nil
}

func (e *Engine) eligibleParty(t bank.PartyType) bool {
	for _, allowed := range e.cfg.EligiblePartyTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// checkFDProduct requires an active deposit product on the FD maturity method.
func checkFDProduct(p *bank.Product) error {
	if !p.Active {
		return bank.Errorf(bank.ErrStateConflict, bank.CodeInactiveProduct, "product %s is inactive", p.Code)
	}
	if p.Category != bank.CategoryDeposit || p.InterestMethod != bank.MethodFDMaturity {
		return bank.Errorf(bank.ErrStateConflict, bank.CodeIneligible,
			"product %s is not a fixed deposit product", p.Code)
	}
	return nil
}

// checkPayout verifies the payout path: an active deposit account whose
// product does not itself mature (savings or current style).
func checkPayout(ctx context.Context, st bank.Store, accountID string) (*bank.Account, error) {
	if accountID == "" {
		return nil, bank.Errorf(bank.ErrValidation, bank.CodeInvalidInput, "fixed deposit has no payout account")
	}
	acct, err := st.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("payout account %s: %w", accountID, err)
	}
	if !acct.IsActive() {
		return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeInactiveAccount, "payout account %s is not active", acct.ID)
	}
	if acct.Category != bank.CategoryDeposit {
		return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeIneligible,
			"payout account %s is in category %q, not deposit", acct.ID, acct.Category)
	}
	product, err := st.GetProduct(ctx, acct.ProductCode)
	if err != nil {
		return nil, fmt.Errorf("payout product %s: %w", acct.ProductCode, err)
	}
	switch product.InterestMethod {
	case bank.MethodQuarterlyMinBalance, bank.MethodNone:
		return acct, nil
	}
	return nil, bank.Errorf(bank.ErrStateConflict, bank.CodeIneligible,
		"payout account %s uses interest method %q and cannot receive payouts", acct.ID, product.InterestMethod)
}
