/*
Package bank provides the core deposit engine.

PURPOSE:
  This package contains the types and algorithms every other package builds
  on: accounts, the append-only ledger, product catalog entries, interest
  batches, and the primitives that move money (credit/debit/transfer).
  Interest posting (package interest) and fixed deposits (package
  fixeddeposit) are thin domain layers on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a product holding for a party; Balance is a cache of the ledger
  - LedgerEntry: an immutable, signed record of a balance-affecting event
  - Product: catalog entry with interest method, rate and running totals
  - InterestBatch: one record per interest posting event
  - TermSnapshot: fixed-deposit terms locked onto an account at open/renew

DESIGN PRINCIPLES:
  1. Immutability: ledger entries are never modified, only offset
  2. Precision: decimal.Decimal everywhere, 2 places, half away from zero
  3. Derived truth: balances can always be rebuilt by replaying the ledger
  4. Auditability: every entry names its actor, narration and (for postings)
     the batch that wrote it

SEE ALSO:
  - store.go: persistence interfaces
  - ledger.go: balance reconstruction
  - posting.go: credit/debit primitives
*/
package bank

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountClosed   AccountStatus = "closed"
)

type Category string

const (
	CategoryDeposit Category = "deposit" // savings and fixed deposits
	CategoryShare   Category = "share"
	CategoryLoan    Category = "loan"
)

type InterestMethod string

const (
	MethodNone                InterestMethod = "none"
	MethodQuarterlyMinBalance InterestMethod = "quarterly_min_balance"
	MethodFDMaturity          InterestMethod = "fd_maturity"
	MethodDividendLike        InterestMethod = "dividend"
)

type PartyType string

const (
	PartyMember    PartyType = "member"
	PartyAssociate PartyType = "associate"
)

type PartyStatus string

const (
	PartyActive   PartyStatus = "active"
	PartyInactive PartyStatus = "inactive"
)

// =============================================================================
// LEDGER ENTRY - Immutable, signed record
// =============================================================================

type EntryKind string

const (
	EntryDeposit          EntryKind = "deposit"
	EntryWithdrawal       EntryKind = "withdrawal"
	EntryInterestCredit   EntryKind = "interest_credit"
	EntryAdjustment       EntryKind = "adjustment"
	EntryInterestReversal EntryKind = "interest_reversal"
)

// IsCredit reports whether entries of this kind add to the balance.
func (k EntryKind) IsCredit() bool {
	switch k {
	case EntryDeposit, EntryInterestCredit, EntryAdjustment:
		return true
	}
	return false
}

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryDeposit, EntryWithdrawal, EntryInterestCredit, EntryAdjustment, EntryInterestReversal:
		return true
	}
	return false
}

// Signed maps a non-negative amount to its effect on the balance.
func (k EntryKind) Signed(amount decimal.Decimal) decimal.Decimal {
	if k.IsCredit() {
		return amount
	}
	return amount.Neg()
}

// LedgerEntry is one transaction. Amount is always non-negative; the sign is
// implied by Kind. BalanceAfter is for display only and is never used to
// recompute anything.
type LedgerEntry struct {
	ID           string
	Seq          int64 // insertion order, assigned by the store
	AccountID    string
	PartyID      string
	ProductCode  string
	Kind         EntryKind
	Amount       decimal.Decimal
	Narration    string
	EffectiveAt  time.Time
	Actor        string
	BalanceAfter decimal.Decimal
	BatchID      string // set on entries written by an interest batch
	CreatedAt    time.Time
}

// SignedAmount returns the entry's effect on the balance.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	return e.Kind.Signed(e.Amount)
}

// =============================================================================
// ACCOUNT
// =============================================================================

// AttrTermSnapshot is the attribute key holding a fixed deposit's locked terms.
const AttrTermSnapshot = "fd_terms"

// Account is a product holding for a party. At most one per (party, product).
type Account struct {
	ID              string
	PartyID         string
	ProductCode     string
	Category        Category
	Status          AccountStatus
	Balance         decimal.Decimal
	OpenedAt        time.Time // zero when unknown
	MaturityAt      *time.Time
	PayoutAccountID string
	Attributes      map[string]string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Account) IsActive() bool { return a.Status == AccountActive }

// TermSnapshot is the fixed-deposit terms captured at open or renewal. Later
// edits to the product's rate table never change it.
type TermSnapshot struct {
	TenorDays                int             `json:"tenor_days"`
	AnnualRate               decimal.Decimal `json:"annual_rate"`
	PrematureThresholdMonths int             `json:"premature_threshold_months"`
	PrematureAnnualRate      decimal.Decimal `json:"premature_annual_rate"`
	OpenPrincipal            decimal.Decimal `json:"open_principal"`
}

// TermSnapshot returns the locked FD terms. A missing or unreadable snapshot
// reports false so callers can rebuild it.
func (a *Account) TermSnapshot() (TermSnapshot, bool) {
	raw, ok := a.Attributes[AttrTermSnapshot]
	if !ok || raw == "" {
		return TermSnapshot{}, false
	}
	var s TermSnapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return TermSnapshot{}, false
	}
	if s.TenorDays <= 0 || !s.AnnualRate.IsPositive() {
		return TermSnapshot{}, false
	}
	return s, true
}

// SetTermSnapshot replaces the locked FD terms wholesale.
func (a *Account) SetTermSnapshot(s TermSnapshot) {
	raw, _ := json.Marshal(s)
	if a.Attributes == nil {
		a.Attributes = make(map[string]string)
	}
	a.Attributes[AttrTermSnapshot] = string(raw)
}

// =============================================================================
// PRODUCT - Catalog entry
// =============================================================================

// RateTier is one row of a product's tenor -> rate table.
type RateTier struct {
	TenorDays  int
	AnnualRate decimal.Decimal // percent per annum, e.g. 5.5
}

// ProductConfig is the typed view of a product's configuration document.
type ProductConfig struct {
	RateTable                []RateTier
	DefaultTenorDays         int
	PrematureThresholdMonths int
	PrematureAnnualRate      decimal.Decimal
}

// Product is an account type in the catalog. Code is immutable and unique.
type Product struct {
	Code           string
	Name           string
	Category       Category
	InterestMethod InterestMethod
	AnnualRate     *decimal.Decimal // percent per annum; nil when unset
	MinBalance     decimal.Decimal
	Active         bool

	// ConfigJSON is the stored configuration document (rate table, default
	// tenor, premature policy). Config is its parsed form, filled in by
	// catalog.RateResolver.EnsureConfigured.
	ConfigJSON string
	Config     *ProductConfig

	// Running totals, maintained by TotalsAggregator.
	TotalBalance      decimal.Decimal
	TotalInterestPaid decimal.Decimal

	UpdatedAt time.Time
}

// =============================================================================
// PARTY
// =============================================================================

type Party struct {
	ID       string
	Name     string
	Type     PartyType
	Status   PartyStatus
	JoinedAt time.Time
}

func (p *Party) IsActive() bool { return p.Status == PartyActive }

// =============================================================================
// INTEREST BATCH
// =============================================================================

// InterestBatch records one posting event. Among batches sharing
// (ProductCode, QuarterKey) at most one has Reversed == false.
type InterestBatch struct {
	ID            string
	ProductCode   string
	QuarterKey    string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	PostedAt      time.Time
	AccountCount  int
	TotalInterest decimal.Decimal
	Actor         string
	Reversed      bool
	ReversedAt    *time.Time
	ReversedBy    string
}
