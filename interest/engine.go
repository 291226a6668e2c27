/*
Package interest computes and posts quarterly minimum-balance interest.

PREVIEW:
  For a (product, quarter) whose fiscal period has ended:
    for each active party holding an active account under the product:
      skip mid-quarter joiners when they are not allowed
      min      := minimum reconstructed balance in [start, end]
      interest := round2(min * rate / 400)         (rate is percent p.a.)
      emit when min > 0 and interest > 0

  Run posts exactly what Preview computes, so a preview taken against
  unchanged state always equals the posted batch.

RUN:
  1. lock interest:<product>:<quarter>
  2. refuse if a non-reversed batch exists (the store also enforces this
     with a partial unique constraint)
  3. preview
  4. in one transaction: re-read each previewed account, skip those that
     are gone or inactive, credit the rest effective at period end with the
     batch id, then record the batch with the realized count and total

REVERSE:
  In one transaction, every InterestCredit entry carrying the batch id is
  offset by an InterestReversal effective at the same instant, and the
  batch is marked reversed. Any failure (e.g. the interest was already
  withdrawn) rolls the whole reversal back. A reversed batch no longer
  blocks a fresh Run.
*/
package interest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/metrics"
)

// =============================================================================
// TYPES
// =============================================================================

// Config holds engine policy switches.
type Config struct {
	// AllowMidQuarterJoiners keeps accounts opened after the period start.
	AllowMidQuarterJoiners bool
}

func DefaultConfig() Config {
	return Config{AllowMidQuarterJoiners: true}
}

// Item is one account's interest for the quarter.
type Item struct {
	AccountID   string          `json:"account_id"`
	PartyID     string          `json:"party_id"`
	ProductCode string          `json:"product_code"`
	MinBalance  decimal.Decimal `json:"min_balance"`
	Interest    decimal.Decimal `json:"interest"`
}

// PreviewResult is the computed interest for a product and quarter.
type PreviewResult struct {
	ProductCode   string          `json:"product_code"`
	QuarterKey    string          `json:"quarter"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	AnnualRate    decimal.Decimal `json:"annual_rate"`
	Items         []Item          `json:"items"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	AccountCount  int             `json:"account_count"`
}

// SkippedAccount is a previewed account that was not credited.
type SkippedAccount struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

const (
	SkipMissing  = "account_missing"
	SkipInactive = "account_inactive"
)

// BatchSummary reports a posting run.
type BatchSummary struct {
	Batch          bank.InterestBatch `json:"batch"`
	Posted         []Item             `json:"posted"`
	Skipped        []SkippedAccount   `json:"skipped"`
	SkippedCount   int                `json:"skipped_count"`
	PreviewedCount int                `json:"previewed_count"`
	PreviewedTotal decimal.Decimal    `json:"previewed_total"`
}

// ReversalSummary reports a reversal.
type ReversalSummary struct {
	Batch         bank.InterestBatch `json:"batch"`
	EntryCount    int                `json:"entry_count"`
	TotalReversed decimal.Decimal    `json:"total_reversed"`
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    bank.TxStore
	locker   bank.Locker
	quarters *bank.QuarterResolver
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(store bank.TxStore, locker bank.Locker, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = bank.NoopLocker{}
	}
	return &Engine{
		store:    store,
		locker:   locker,
		quarters: bank.NewQuarterResolver(),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "interest")),
		metrics:  m,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
		e.quarters.WithNow(now)
	}
	return e
}

// Preview computes the quarter's interest without writing anything.
func (e *Engine) Preview(ctx context.Context, productCode, quarterKey string) (PreviewResult, error) {
	return e.preview(ctx, e.store, productCode, quarterKey)
}

func (e *Engine) preview(ctx context.Context, st bank.Store, productCode, quarterKey string) (PreviewResult, error) {
	period, err := e.quarters.Resolve(quarterKey)
	if err != nil {
		return PreviewResult{}, err
	}
	product, err := st.GetProduct(ctx, productCode)
	if err != nil {
		return PreviewResult{}, err
	}
	rate, err := eligibleRate(product)
	if err != nil {
		return PreviewResult{}, err
	}
	if err := e.quarters.EnsureEnded(quarterKey, period.End); err != nil {
		return PreviewResult{}, err
	}

	parties, err := st.ListActiveParties(ctx)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("list active parties: %w", err)
	}

	result := PreviewResult{
		ProductCode:   productCode,
		QuarterKey:    quarterKey,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		AnnualRate:    rate,
		Items:         []Item{},
		TotalInterest: decimal.Zero,
	}
	recon := bank.NewReconstructor(st)
	for _, party := range parties {
		acct, err := st.GetAccount(ctx, party.ID, productCode)
		if bank.IsNotFound(err) {
			continue
		}
		if err != nil {
			return PreviewResult{}, fmt.Errorf("account for party %s: %w", party.ID, err)
		}
		if !acct.IsActive() {
			continue
		}
		if !e.cfg.AllowMidQuarterJoiners && acct.OpenedAt.After(period.Start) {
			continue
		}

		minBal, err := recon.MinBalanceInWindow(ctx, acct.ID, period.Start, period.End)
		if err != nil {
			return PreviewResult{}, err
		}
		if !minBal.IsPositive() {
			continue
		}
		amount := bank.QuarterlyInterest(minBal, rate)
		if !amount.IsPositive() {
			continue
		}
		result.Items = append(result.Items, Item{
			AccountID:   acct.ID,
			PartyID:     party.ID,
			ProductCode: productCode,
			MinBalance:  minBal,
			Interest:    amount,
		})
		result.TotalInterest = result.TotalInterest.Add(amount)
	}
	result.AccountCount = len(result.Items)
	return result, nil
}

// eligibleRate checks the product can earn quarterly interest and returns
// its annual rate.
func eligibleRate(p *bank.Product) (decimal.Decimal, error) {
	if !p.Active {
		return decimal.Zero, bank.Errorf(bank.ErrStateConflict, bank.CodeInactiveProduct, "product %s is inactive", p.Code)
	}
	if p.InterestMethod != bank.MethodQuarterlyMinBalance {
		return decimal.Zero, bank.Errorf(bank.ErrValidation, bank.CodeIneligible,
			"product %s uses interest method %q, not %q", p.Code, p.InterestMethod, bank.MethodQuarterlyMinBalance)
	}
	if p.AnnualRate == nil || !p.AnnualRate.IsPositive() {
		return decimal.Zero, bank.Errorf(bank.ErrConfiguration, bank.CodeRateUnresolvable,
			"product %s has no positive annual rate", p.Code)
	}
	return *p.AnnualRate, nil
}
