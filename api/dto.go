/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the bank domain model from the external API contract: money is always a
  string with exactly two decimals, timestamps are RFC 3339 in UTC, and
  field names are snake_case.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Accounts:
    AccountDTO, AccountDetailDTO, EntryDTO, MovementRequest, ReceiptDTO

  Products:
    ProductDTO

  Interest:
    PreviewDTO, BatchDTO, BatchSummaryDTO, ReversalSummaryDTO

  Fixed deposits:
    ActorRequest, OpenFDRequest, MatureFDRequest, FDOutcomeDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry `validate` tags checked by go-playground/validator in
  decodeRequest. Business rules (amount precision, renewal mode when
  renewing) stay in the engines so every caller gets them.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/fixeddeposit"
	"github.com/warp/deposit-engine/interest"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ActorRequest is the body of operations that only need an audit actor:
// interest run and reverse, premature close.
type ActorRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// MovementRequest is a teller deposit or withdrawal.
type MovementRequest struct {
	Amount      string `json:"amount" validate:"required,numeric"`
	Narration   string `json:"narration" validate:"max=200"`
	EffectiveAt string `json:"effective_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Actor       string `json:"actor" validate:"required"`
}

// OpenFDRequest opens a fixed deposit. TenorDays nil means the product
// default.
type OpenFDRequest struct {
	PartyID         string `json:"party_id" validate:"required"`
	ProductCode     string `json:"product_code" validate:"required"`
	Principal       string `json:"principal" validate:"required,numeric"`
	TenorDays       *int   `json:"tenor_days,omitempty" validate:"omitempty,gt=0"`
	PayoutAccountID string `json:"payout_account_id" validate:"required"`
	Actor           string `json:"actor" validate:"required"`
}

// MatureFDRequest settles a matured fixed deposit.
type MatureFDRequest struct {
	Renew        bool   `json:"renew"`
	NewTenorDays int    `json:"new_tenor_days,omitempty" validate:"gte=0"`
	Mode         string `json:"mode,omitempty" validate:"omitempty,oneof=principal_only principal_plus_interest"`
	Actor        string `json:"actor" validate:"required"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every non-2xx response. Code is the stable
// machine-readable error code when the failure is classified.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type AccountDTO struct {
	ID              string            `json:"id"`
	PartyID         string            `json:"party_id"`
	ProductCode     string            `json:"product_code"`
	Category        string            `json:"category"`
	Status          string            `json:"status"`
	Balance         string            `json:"balance"`
	OpenedAt        string            `json:"opened_at,omitempty"`
	MaturityAt      string            `json:"maturity_at,omitempty"`
	PayoutAccountID string            `json:"payout_account_id,omitempty"`
	Terms           *TermsDTO         `json:"terms,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// AccountDetailDTO adds the ledger-replayed balance to the cached one.
// Drift is true when they disagree.
type AccountDetailDTO struct {
	AccountDTO
	LedgerBalance string `json:"ledger_balance"`
	Drift         bool   `json:"drift"`
}

type TermsDTO struct {
	TenorDays                int    `json:"tenor_days"`
	AnnualRate               string `json:"annual_rate"`
	PrematureThresholdMonths int    `json:"premature_threshold_months"`
	PrematureAnnualRate      string `json:"premature_annual_rate"`
	OpenPrincipal            string `json:"open_principal"`
}

type EntryDTO struct {
	ID           string `json:"id"`
	Seq          int64  `json:"seq"`
	AccountID    string `json:"account_id"`
	Kind         string `json:"kind"`
	Amount       string `json:"amount"`
	SignedAmount string `json:"signed_amount"`
	Narration    string `json:"narration"`
	EffectiveAt  string `json:"effective_at"`
	Actor        string `json:"actor"`
	BalanceAfter string `json:"balance_after"`
	BatchID      string `json:"batch_id,omitempty"`
}

type ReceiptDTO struct {
	Entry   EntryDTO   `json:"entry"`
	Account AccountDTO `json:"account"`
}

type ProductDTO struct {
	Code              string  `json:"code"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	InterestMethod    string  `json:"interest_method"`
	AnnualRate        *string `json:"annual_rate,omitempty"`
	MinBalance        string  `json:"min_balance"`
	Active            bool    `json:"active"`
	Config            string  `json:"config,omitempty"`
	TotalBalance      string  `json:"total_balance"`
	TotalInterestPaid string  `json:"total_interest_paid"`
}

type BatchDTO struct {
	ID            string `json:"id"`
	ProductCode   string `json:"product_code"`
	Quarter       string `json:"quarter"`
	PeriodStart   string `json:"period_start"`
	PeriodEnd     string `json:"period_end"`
	PostedAt      string `json:"posted_at"`
	AccountCount  int    `json:"account_count"`
	TotalInterest string `json:"total_interest"`
	Actor         string `json:"actor"`
	Reversed      bool   `json:"reversed"`
	ReversedAt    string `json:"reversed_at,omitempty"`
	ReversedBy    string `json:"reversed_by,omitempty"`
}

type ItemDTO struct {
	AccountID  string `json:"account_id"`
	PartyID    string `json:"party_id"`
	MinBalance string `json:"min_balance"`
	Interest   string `json:"interest"`
}

type PreviewDTO struct {
	ProductCode   string    `json:"product_code"`
	Quarter       string    `json:"quarter"`
	PeriodStart   string    `json:"period_start"`
	PeriodEnd     string    `json:"period_end"`
	AnnualRate    string    `json:"annual_rate"`
	Items         []ItemDTO `json:"items"`
	TotalInterest string    `json:"total_interest"`
	AccountCount  int       `json:"account_count"`
}

type BatchSummaryDTO struct {
	Batch          BatchDTO                  `json:"batch"`
	Posted         []ItemDTO                 `json:"posted"`
	Skipped        []interest.SkippedAccount `json:"skipped"`
	PreviewedCount int                       `json:"previewed_count"`
	PreviewedTotal string                    `json:"previewed_total"`
}

type ReversalSummaryDTO struct {
	Batch         BatchDTO `json:"batch"`
	EntryCount    int      `json:"entry_count"`
	TotalReversed string   `json:"total_reversed"`
}

type FDOutcomeDTO struct {
	Action          string     `json:"action"`
	Account         AccountDTO `json:"account"`
	Terms           TermsDTO   `json:"terms"`
	Principal       string     `json:"principal"`
	Interest        string     `json:"interest"`
	PaidOut         string     `json:"paid_out"`
	PayoutAccountID string     `json:"payout_account_id,omitempty"`
	ElapsedDays     int        `json:"elapsed_days,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timestamp(*t)
}

func toTermsDTO(s bank.TermSnapshot) TermsDTO {
	return TermsDTO{
		TenorDays:                s.TenorDays,
		AnnualRate:               s.AnnualRate.String(),
		PrematureThresholdMonths: s.PrematureThresholdMonths,
		PrematureAnnualRate:      s.PrematureAnnualRate.String(),
		OpenPrincipal:            money(s.OpenPrincipal),
	}
}

func toAccountDTO(a bank.Account) AccountDTO {
	dto := AccountDTO{
		ID:              a.ID,
		PartyID:         a.PartyID,
		ProductCode:     a.ProductCode,
		Category:        string(a.Category),
		Status:          string(a.Status),
		Balance:         money(a.Balance),
		OpenedAt:        timestamp(a.OpenedAt),
		MaturityAt:      optionalTimestamp(a.MaturityAt),
		PayoutAccountID: a.PayoutAccountID,
	}
	// The terms snapshot is surfaced typed; everything else passes through.
	for k, v := range a.Attributes {
		if k == bank.AttrTermSnapshot {
			continue
		}
		if dto.Attributes == nil {
			dto.Attributes = make(map[string]string)
		}
		dto.Attributes[k] = v
	}
	if terms, ok := a.TermSnapshot(); ok {
		t := toTermsDTO(terms)
		dto.Terms = &t
	}
	return dto
}

func toEntryDTO(e bank.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:           e.ID,
		Seq:          e.Seq,
		AccountID:    e.AccountID,
		Kind:         string(e.Kind),
		Amount:       money(e.Amount),
		SignedAmount: money(e.SignedAmount()),
		Narration:    e.Narration,
		EffectiveAt:  timestamp(e.EffectiveAt),
		Actor:        e.Actor,
		BalanceAfter: money(e.BalanceAfter),
		BatchID:      e.BatchID,
	}
}

func toEntryDTOs(entries []bank.LedgerEntry) []EntryDTO {
	out := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	return out
}

func toProductDTO(p bank.Product) ProductDTO {
	dto := ProductDTO{
		Code:              p.Code,
		Name:              p.Name,
		Category:          string(p.Category),
		InterestMethod:    string(p.InterestMethod),
		MinBalance:        money(p.MinBalance),
		Active:            p.Active,
		Config:            p.ConfigJSON,
		TotalBalance:      money(p.TotalBalance),
		TotalInterestPaid: money(p.TotalInterestPaid),
	}
	if p.AnnualRate != nil {
		rate := p.AnnualRate.String()
		dto.AnnualRate = &rate
	}
	return dto
}

func toBatchDTO(b bank.InterestBatch) BatchDTO {
	return BatchDTO{
		ID:            b.ID,
		ProductCode:   b.ProductCode,
		Quarter:       b.QuarterKey,
		PeriodStart:   timestamp(b.PeriodStart),
		PeriodEnd:     timestamp(b.PeriodEnd),
		PostedAt:      timestamp(b.PostedAt),
		AccountCount:  b.AccountCount,
		TotalInterest: money(b.TotalInterest),
		Actor:         b.Actor,
		Reversed:      b.Reversed,
		ReversedAt:    optionalTimestamp(b.ReversedAt),
		ReversedBy:    b.ReversedBy,
	}
}

func toBatchDTOs(batches []bank.InterestBatch) []BatchDTO {
	out := make([]BatchDTO, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchDTO(b))
	}
	return out
}

func toItemDTOs(items []interest.Item) []ItemDTO {
	out := make([]ItemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, ItemDTO{
			AccountID:  it.AccountID,
			PartyID:    it.PartyID,
			MinBalance: money(it.MinBalance),
			Interest:   money(it.Interest),
		})
	}
	return out
}

func toPreviewDTO(p interest.PreviewResult) PreviewDTO {
	return PreviewDTO{
		ProductCode:   p.ProductCode,
		Quarter:       p.QuarterKey,
		PeriodStart:   timestamp(p.PeriodStart),
		PeriodEnd:     timestamp(p.PeriodEnd),
		AnnualRate:    p.AnnualRate.String(),
		Items:         toItemDTOs(p.Items),
		TotalInterest: money(p.TotalInterest),
		AccountCount:  p.AccountCount,
	}
}

func toBatchSummaryDTO(s interest.BatchSummary) BatchSummaryDTO {
	skipped := s.Skipped
	if skipped == nil {
		skipped = []interest.SkippedAccount{}
	}
	return BatchSummaryDTO{
		Batch:          toBatchDTO(s.Batch),
		Posted:         toItemDTOs(s.Posted),
		Skipped:        skipped,
		PreviewedCount: s.PreviewedCount,
		PreviewedTotal: money(s.PreviewedTotal),
	}
}

func toReversalSummaryDTO(s interest.ReversalSummary) ReversalSummaryDTO {
	return ReversalSummaryDTO{
		Batch:         toBatchDTO(s.Batch),
		EntryCount:    s.EntryCount,
		TotalReversed: money(s.TotalReversed),
	}
}

func toFDOutcomeDTO(o fixeddeposit.Outcome) FDOutcomeDTO {
	return FDOutcomeDTO{
		Action:          o.Action,
		Account:         toAccountDTO(o.Account),
		Terms:           toTermsDTO(o.Terms),
		Principal:       money(o.Principal),
		Interest:        money(o.Interest),
		PaidOut:         money(o.PaidOut),
		PayoutAccountID: o.PayoutAccountID,
		ElapsedDays:     o.ElapsedDays,
	}
}
