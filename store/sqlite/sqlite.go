/*
Package sqlite provides a SQLite-backed implementation of bank.TxStore.

KEY TABLES:
  parties:          Account holders
  products:         Catalog entries with config document and running totals
  accounts:         One row per (party, product); balance in integer cents
  ledger_entries:   Immutable, append-only; seq gives insertion order
  interest_batches: One row per posting run

APPEND-ONLY ENFORCEMENT:
  Triggers reject UPDATE and DELETE on ledger_entries. Corrections are new
  entries (interest reversals, adjustments).

BATCH UNIQUENESS:
  idx_batches_active is a partial unique index on (product_code, quarter_key)
  over rows with reversed = 0. Two concurrent runs for the same quarter can
  never both commit; the loser gets bank.ErrBatchAlreadyActive.

MONEY:
  Balances and entry amounts are integer cents. Product totals are decimal
  text so a legacy row holding something else is detectable
  (bank.ErrTotalsCorrupt) rather than silently coerced.

TIME:
  Timestamps are stored as fixed-width UTC text (nanosecond precision), so
  string order is chronological order.

CONCURRENCY:
  The pool is limited to one connection and transactions begin IMMEDIATE,
  so SQLite serializes writers. Inside WithTx every call must go through the
  Store passed to fn; the outer Store would wait for the held connection.

USAGE:
  store, err := sqlite.New("./data/bank.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
)

var _ bank.TxStore = (*Store)(nil)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements bank.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
	CREATE TABLE IF NOT EXISTS parties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		party_type TEXT NOT NULL,
		status TEXT NOT NULL,
		joined_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_parties_status ON parties(status);

	CREATE TABLE IF NOT EXISTS products (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		interest_method TEXT NOT NULL,
		annual_rate TEXT,
		min_balance TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 1,
		config_json TEXT NOT NULL DEFAULT '',
		total_balance TEXT NOT NULL DEFAULT '0',
		total_interest_paid TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		party_id TEXT NOT NULL,
		product_code TEXT NOT NULL REFERENCES products(code),
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		balance_cents INTEGER NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
		opened_at TEXT NOT NULL DEFAULT '',
		maturity_at TEXT,
		payout_account_id TEXT NOT NULL DEFAULT '',
		attributes_json TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(party_id, product_code)
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		party_id TEXT NOT NULL,
		product_code TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents >= 0),
		narration TEXT NOT NULL DEFAULT '',
		effective_at TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		balance_after_cents INTEGER NOT NULL,
		batch_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Replay order for reconstruction (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_account_effective
		ON ledger_entries(account_id, effective_at, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_batch
		ON ledger_entries(batch_id) WHERE batch_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are immutable'); END;
	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are immutable'); END;

	CREATE TABLE IF NOT EXISTS interest_batches (
		id TEXT PRIMARY KEY,
		product_code TEXT NOT NULL,
		quarter_key TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		posted_at TEXT NOT NULL,
		account_count INTEGER NOT NULL,
		total_interest TEXT NOT NULL,
		actor TEXT NOT NULL,
		reversed INTEGER NOT NULL DEFAULT 0,
		reversed_at TEXT,
		reversed_by TEXT NOT NULL DEFAULT ''
	);

	-- CRITICAL: at most one non-reversed batch per product and quarter
	CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_active
		ON interest_batches(product_code, quarter_key) WHERE reversed = 0;
	CREATE INDEX IF NOT EXISTS idx_batches_product
		ON interest_batches(product_code, posted_at);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset drops every table and recreates the schema. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"ledger_entries", "interest_batches", "accounts", "products", "parties"} {
		if _, err := s.q.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return s.migrate(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (bank.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Nested calls join the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store bank.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, inTx: true}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, party_id, product_code, category, status, balance_cents, opened_at,
	maturity_at, payout_account_id, attributes_json, version, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, partyID, productCode string) (*bank.Account, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE party_id = ? AND product_code = ?`, partyID, productCode)
	return scanAccount(row)
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*bank.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *Store) CreateAccount(ctx context.Context, a bank.Account) error {
	attrs, err := encodeAttributes(a.Attributes)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		a.ID, a.PartyID, a.ProductCode, string(a.Category), string(a.Status), toCents(a.Balance),
		formatOptionalTime(a.OpenedAt), formatTimePtr(a.MaturityAt), a.PayoutAccountID, attrs,
		now, now,
	)
	if isUniqueConstraintError(err) {
		return bank.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// UpdateAccount never touches balance_cents, party_id or product_code.
func (s *Store) UpdateAccount(ctx context.Context, a bank.Account) error {
	attrs, err := encodeAttributes(a.Attributes)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts
		SET category = ?, status = ?, opened_at = ?, maturity_at = ?, payout_account_id = ?,
			attributes_json = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		string(a.Category), string(a.Status), formatOptionalTime(a.OpenedAt), formatTimePtr(a.MaturityAt),
		a.PayoutAccountID, attrs, formatTime(time.Now()), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return requireRow(res, bank.ErrAccountNotFound)
}

func (s *Store) SetAccountStatus(ctx context.Context, id string, status bank.AccountStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	return requireRow(res, bank.ErrAccountNotFound)
}

// AdjustBalance is a single guarded UPDATE, so concurrent adjustments can
// never drive the balance below zero.
func (s *Store) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*bank.Account, error) {
	cents := toCents(delta)
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents + ?, version = version + 1, updated_at = ?
		WHERE id = ? AND balance_cents + ? >= 0`,
		cents, formatTime(time.Now()), id, cents,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetAccountByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, bank.ErrInsufficientFunds
	}
	return s.GetAccountByID(ctx, id)
}

// =============================================================================
// LEDGER
// =============================================================================

const entryColumns = `seq, id, account_id, party_id, product_code, kind, amount_cents, narration,
	effective_at, actor, balance_after_cents, batch_id, created_at`

func (s *Store) AppendEntry(ctx context.Context, e bank.LedgerEntry) (bank.LedgerEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, party_id, product_code, kind, amount_cents, narration,
			effective_at, actor, balance_after_cents, batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.PartyID, e.ProductCode, string(e.Kind), toCents(e.Amount), e.Narration,
		formatTime(e.EffectiveAt), e.Actor, toCents(e.BalanceAfter), nullString(e.BatchID),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return bank.LedgerEntry{}, fmt.Errorf("failed to append entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return bank.LedgerEntry{}, fmt.Errorf("failed to read entry seq: %w", err)
	}
	e.Seq = seq
	return e, nil
}

func (s *Store) EntriesForAccount(ctx context.Context, accountID string, q bank.LedgerQuery) ([]bank.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = ?`
	args := []any{accountID}
	if q.From != nil {
		query += ` AND effective_at >= ?`
		args = append(args, formatTime(*q.From))
	}
	if q.To != nil {
		query += ` AND effective_at <= ?`
		args = append(args, formatTime(*q.To))
	}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}
	query += ` ORDER BY effective_at, seq`
	return s.queryEntries(ctx, query, args...)
}

func (s *Store) EntriesForBatch(ctx context.Context, batchID string) ([]bank.LedgerEntry, error) {
	if batchID == "" {
		return []bank.LedgerEntry{}, nil
	}
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE batch_id = ? ORDER BY seq`, batchID)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]bank.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []bank.LedgerEntry
	for rows.Next() {
		var (
			e                        bank.LedgerEntry
			kind, effective, created string
			amount, after            int64
			batchID                  sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.AccountID, &e.PartyID, &e.ProductCode, &kind, &amount,
			&e.Narration, &effective, &e.Actor, &after, &batchID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Kind = bank.EntryKind(kind)
		e.Amount = fromCents(amount)
		e.BalanceAfter = fromCents(after)
		e.BatchID = batchID.String
		if e.EffectiveAt, err = parseTime(effective); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = `code, name, category, interest_method, annual_rate, min_balance, active,
	config_json, total_balance, total_interest_paid, updated_at`

func (s *Store) CreateProduct(ctx context.Context, p bank.Product) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Code, p.Name, string(p.Category), string(p.InterestMethod), nullDecimal(p.AnnualRate),
		p.MinBalance.String(), p.Active, p.ConfigJSON,
		p.TotalBalance.String(), p.TotalInterestPaid.String(), formatTime(time.Now()),
	)
	if isUniqueConstraintError(err) {
		return bank.Errorf(bank.ErrStateConflict, bank.CodeInvalidInput, "product %s already exists", p.Code)
	}
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, code string) (*bank.Product, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE code = ?`, code)
	return scanProduct(row)
}

func (s *Store) ListProducts(ctx context.Context) ([]bank.Product, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	out := []bank.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateProduct leaves the running totals alone.
func (s *Store) UpdateProduct(ctx context.Context, p bank.Product) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE products
		SET name = ?, category = ?, interest_method = ?, annual_rate = ?, min_balance = ?,
			active = ?, config_json = ?, updated_at = ?
		WHERE code = ?`,
		p.Name, string(p.Category), string(p.InterestMethod), nullDecimal(p.AnnualRate),
		p.MinBalance.String(), p.Active, p.ConfigJSON, formatTime(time.Now()), p.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return requireRow(res, bank.ErrProductNotFound)
}

// IncrementProductTotals reads the totals and writes them back with a
// compare-and-swap on the values read, retrying when another writer got
// there first.
func (s *Store) IncrementProductTotals(ctx context.Context, code string, balanceDelta, interestDelta decimal.Decimal) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var rawBalance, rawInterest string
		err := s.q.QueryRowContext(ctx,
			`SELECT total_balance, total_interest_paid FROM products WHERE code = ?`, code,
		).Scan(&rawBalance, &rawInterest)
		if errors.Is(err, sql.ErrNoRows) {
			return bank.ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read product totals: %w", err)
		}
		balance, err1 := decimal.NewFromString(rawBalance)
		interest, err2 := decimal.NewFromString(rawInterest)
		if err1 != nil || err2 != nil {
			return bank.ErrTotalsCorrupt
		}

		res, err := s.q.ExecContext(ctx, `
			UPDATE products SET total_balance = ?, total_interest_paid = ?
			WHERE code = ? AND total_balance = ? AND total_interest_paid = ?`,
			balance.Add(balanceDelta).String(), interest.Add(interestDelta).String(),
			code, rawBalance, rawInterest,
		)
		if err != nil {
			return fmt.Errorf("failed to update product totals: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}
	return fmt.Errorf("product %s totals changed concurrently %d times", code, maxAttempts)
}

func (s *Store) ResetProductTotals(ctx context.Context, code string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE products SET total_balance = '0', total_interest_paid = '0' WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to reset product totals: %w", err)
	}
	return requireRow(res, bank.ErrProductNotFound)
}

// =============================================================================
// PARTIES
// =============================================================================

func (s *Store) SaveParty(ctx context.Context, p bank.Party) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO parties (id, name, party_type, status, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, party_type = excluded.party_type,
			status = excluded.status, joined_at = excluded.joined_at`,
		p.ID, p.Name, string(p.Type), string(p.Status), formatOptionalTime(p.JoinedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save party: %w", err)
	}
	return nil
}

func (s *Store) GetParty(ctx context.Context, id string) (*bank.Party, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, party_type, status, joined_at FROM parties WHERE id = ?`, id)
	p, err := scanParty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.ErrPartyNotFound
	}
	return p, err
}

func (s *Store) ListActiveParties(ctx context.Context) ([]bank.Party, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, party_type, status, joined_at FROM parties WHERE status = ? ORDER BY id`,
		string(bank.PartyActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list parties: %w", err)
	}
	defer rows.Close()

	var out []bank.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// =============================================================================
// BATCHES
// =============================================================================

const batchColumns = `id, product_code, quarter_key, period_start, period_end, posted_at,
	account_count, total_interest, actor, reversed, reversed_at, reversed_by`

func (s *Store) GetActiveBatch(ctx context.Context, productCode, quarterKey string) (*bank.InterestBatch, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM interest_batches
		WHERE product_code = ? AND quarter_key = ? AND reversed = 0`, productCode, quarterKey)
	return scanBatch(row)
}

func (s *Store) LatestBatch(ctx context.Context, productCode, quarterKey string) (*bank.InterestBatch, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM interest_batches
		WHERE product_code = ? AND quarter_key = ?
		ORDER BY posted_at DESC, rowid DESC LIMIT 1`, productCode, quarterKey)
	return scanBatch(row)
}

func (s *Store) CreateBatch(ctx context.Context, b bank.InterestBatch) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO interest_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProductCode, b.QuarterKey, formatTime(b.PeriodStart), formatTime(b.PeriodEnd),
		formatTime(b.PostedAt), b.AccountCount, b.TotalInterest.String(), b.Actor,
		b.Reversed, formatTimePtr(b.ReversedAt), b.ReversedBy,
	)
	if isUniqueConstraintError(err) {
		return bank.ErrBatchAlreadyActive
	}
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (s *Store) MarkBatchReversed(ctx context.Context, id string, at time.Time, actor string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE interest_batches SET reversed = 1, reversed_at = ?, reversed_by = ?
		WHERE id = ? AND reversed = 0`,
		formatTime(at), actor, id)
	if err != nil {
		return fmt.Errorf("failed to mark batch reversed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetBatch(ctx, id); err != nil {
		return err
	}
	return bank.ErrBatchAlreadyReversed
}

func (s *Store) ListBatches(ctx context.Context, productCode string) ([]bank.InterestBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM interest_batches`
	var args []any
	if productCode != "" {
		query += ` WHERE product_code = ?`
		args = append(args, productCode)
	}
	query += ` ORDER BY posted_at DESC, rowid DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	out := []bank.InterestBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) GetBatch(ctx context.Context, id string) (*bank.InterestBatch, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM interest_batches WHERE id = ?`, id)
	return scanBatch(row)
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*bank.Account, error) {
	var (
		a                        bank.Account
		category, status         string
		cents                    int64
		opened, created, updated string
		maturity                 sql.NullString
		attrs                    string
	)
	err := row.Scan(&a.ID, &a.PartyID, &a.ProductCode, &category, &status, &cents, &opened,
		&maturity, &a.PayoutAccountID, &attrs, &a.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Category = bank.Category(category)
	a.Status = bank.AccountStatus(status)
	a.Balance = fromCents(cents)
	if a.OpenedAt, err = parseOptionalTime(opened); err != nil {
		return nil, err
	}
	if a.MaturityAt, err = parseTimePtr(maturity); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &a.Attributes); err != nil {
			return nil, fmt.Errorf("account %s attributes: %w", a.ID, err)
		}
	}
	return &a, nil
}

// scanProduct reads unparseable totals as zero; IncrementProductTotals is
// where they are reported.
func scanProduct(row scanner) (*bank.Product, error) {
	var (
		p                           bank.Product
		category, method            string
		rate                        sql.NullString
		minBalance, total, interest string
		updated                     string
	)
	err := row.Scan(&p.Code, &p.Name, &category, &method, &rate, &minBalance, &p.Active,
		&p.ConfigJSON, &total, &interest, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	p.Category = bank.Category(category)
	p.InterestMethod = bank.InterestMethod(method)
	if rate.Valid {
		r, err := decimal.NewFromString(rate.String)
		if err != nil {
			return nil, fmt.Errorf("product %s annual rate %q: %w", p.Code, rate.String, err)
		}
		p.AnnualRate = &r
	}
	if p.MinBalance, err = decimal.NewFromString(minBalance); err != nil {
		return nil, fmt.Errorf("product %s min balance %q: %w", p.Code, minBalance, err)
	}
	p.TotalBalance, _ = decimal.NewFromString(total)
	p.TotalInterestPaid, _ = decimal.NewFromString(interest)
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanParty(row scanner) (*bank.Party, error) {
	var (
		p                 bank.Party
		partyType, status string
		joined            string
	)
	if err := row.Scan(&p.ID, &p.Name, &partyType, &status, &joined); err != nil {
		return nil, err
	}
	p.Type = bank.PartyType(partyType)
	p.Status = bank.PartyStatus(status)
	var err error
	if p.JoinedAt, err = parseOptionalTime(joined); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanBatch(row scanner) (*bank.InterestBatch, error) {
	var (
		b                  bank.InterestBatch
		start, end, posted string
		total              string
		reversedAt         sql.NullString
	)
	err := row.Scan(&b.ID, &b.ProductCode, &b.QuarterKey, &start, &end, &posted,
		&b.AccountCount, &total, &b.Actor, &b.Reversed, &reversedAt, &b.ReversedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bank.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	if b.PeriodStart, err = parseTime(start); err != nil {
		return nil, err
	}
	if b.PeriodEnd, err = parseTime(end); err != nil {
		return nil, err
	}
	if b.PostedAt, err = parseTime(posted); err != nil {
		return nil, err
	}
	if b.ReversedAt, err = parseTimePtr(reversedAt); err != nil {
		return nil, err
	}
	if b.TotalInterest, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("batch %s total %q: %w", b.ID, total, err)
	}
	return &b, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func toCents(d decimal.Decimal) int64 {
	return bank.Round2(d).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// formatOptionalTime stores the zero time as the empty string.
func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return parseTime(s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(raw), nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
