/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the narrow contracts between the engine and the database.
  Member/account CRUD, catalog administration and authentication live
  elsewhere; the engine only needs the operations below.

KEY INTERFACES:
  AccountStore:  accounts, with an atomic balance increment
  LedgerStore:   append-only entries (no Update, no Delete)
  ProductStore:  catalog entries and their running totals
  PartyStore:    account holders
  BatchStore:    interest batches, unique per (product, quarter) while active
  TxStore:       all of the above plus WithTx for atomic units of work

ATOMICITY:
  AdjustBalance is a storage-level increment guarded by balance+delta >= 0.
  CreateBatch is guarded by a uniqueness constraint scoped to non-reversed
  rows. Everything else is composed inside WithTx by the engines.

IMPLEMENTATIONS:
  - bank/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - bank/storetest: conformance suite every implementation runs
*/
package bank

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountStore interface {
	// GetAccount returns the party's account for a product, or ErrAccountNotFound.
	GetAccount(ctx context.Context, partyID, productCode string) (*Account, error)

	GetAccountByID(ctx context.Context, id string) (*Account, error)

	// CreateAccount fails with ErrDuplicateAccount if the party already holds
	// the product.
	CreateAccount(ctx context.Context, a Account) error

	// UpdateAccount persists everything except Balance, which only moves
	// through AdjustBalance.
	UpdateAccount(ctx context.Context, a Account) error

	SetAccountStatus(ctx context.Context, id string, status AccountStatus) error

	// AdjustBalance atomically adds delta to the balance and returns the
	// updated account. Fails with ErrInsufficientFunds if the result would be
	// negative.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*Account, error)
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

// LedgerQuery filters EntriesForAccount. Nil bounds are open; bounds are
// inclusive. An empty Kind matches every kind.
type LedgerQuery struct {
	From *time.Time
	To   *time.Time
	Kind EntryKind
}

type LedgerStore interface {
	// AppendEntry writes an entry and returns it with Seq assigned.
	AppendEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error)

	// EntriesForAccount returns entries ordered by EffectiveAt, then Seq.
	EntriesForAccount(ctx context.Context, accountID string, q LedgerQuery) ([]LedgerEntry, error)

	// EntriesForBatch returns every entry carrying the batch id, ordered by Seq.
	EntriesForBatch(ctx context.Context, batchID string) ([]LedgerEntry, error)
}

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductStore interface {
	GetProduct(ctx context.Context, code string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// UpdateProduct persists everything except the running totals.
	UpdateProduct(ctx context.Context, p Product) error

	// IncrementProductTotals adds the deltas to the running totals. Returns
	// ErrTotalsCorrupt if the stored totals cannot be read.
	IncrementProductTotals(ctx context.Context, code string, balanceDelta, interestDelta decimal.Decimal) error

	// ResetProductTotals sets both running totals to zero.
	ResetProductTotals(ctx context.Context, code string) error
}

// =============================================================================
// PARTIES
// =============================================================================

type PartyStore interface {
	GetParty(ctx context.Context, id string) (*Party, error)
	ListActiveParties(ctx context.Context) ([]Party, error)
}

// =============================================================================
// BATCHES
// =============================================================================

type BatchStore interface {
	// GetActiveBatch returns the non-reversed batch, or ErrBatchNotFound.
	GetActiveBatch(ctx context.Context, productCode, quarterKey string) (*InterestBatch, error)

	// LatestBatch returns the most recently posted batch, reversed or not.
	LatestBatch(ctx context.Context, productCode, quarterKey string) (*InterestBatch, error)

	// CreateBatch fails with ErrBatchAlreadyActive if a non-reversed batch
	// exists for the same (product, quarter).
	CreateBatch(ctx context.Context, b InterestBatch) error

	MarkBatchReversed(ctx context.Context, id string, at time.Time, actor string) error

	// ListBatches returns batches newest first; empty productCode lists all.
	ListBatches(ctx context.Context, productCode string) ([]InterestBatch, error)

	GetBatch(ctx context.Context, id string) (*InterestBatch, error)
}

// =============================================================================
// CATALOG SEEDING
// =============================================================================

// CatalogStore creates the reference data the engine reads. Used by demo
// scenarios and tests; production catalogs are administered elsewhere.
type CatalogStore interface {
	SaveParty(ctx context.Context, p Party) error
	CreateProduct(ctx context.Context, p Product) error
}

// =============================================================================
// COMPOSITE STORES
// =============================================================================

type Store interface {
	AccountStore
	LedgerStore
	ProductStore
	PartyStore
	BatchStore
	CatalogStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error,
	// every write made through the Store passed to fn is rolled back.
	// fn must not use the outer store.
	WithTx(ctx context.Context, fn func(Store) error) error
}
