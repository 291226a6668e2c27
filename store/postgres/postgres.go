/*
Package postgres provides a PostgreSQL-backed implementation of bank.TxStore
using pgx.

The schema mirrors the SQLite store:
  - balances and entry amounts are NUMERIC(20,2), read back as text
  - product totals are TEXT so a legacy representation is detectable
  - timestamps are fixed-width UTC text; TIMESTAMPTZ would round the
    quarter end (one nanosecond before the next quarter) up into the
    next quarter
  - idx_batches_active enforces one non-reversed batch per quarter
  - a trigger rejects UPDATE and DELETE on ledger_entries

Transactions run at READ COMMITTED so the guarded balance UPDATE re-checks
its predicate against the latest committed row instead of failing with a
serialization error.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
)

var _ bank.TxStore = (*Store)(nil)

const (
	timeLayout      = "2006-01-02T15:04:05.000000000Z"
	uniqueViolation = "23505"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements bank.TxStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{pool: pool, q: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS parties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		party_type TEXT NOT NULL,
		status TEXT NOT NULL,
		joined_at TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		interest_method TEXT NOT NULL,
		annual_rate NUMERIC(9,4),
		min_balance NUMERIC(20,2) NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		config_json TEXT NOT NULL DEFAULT '',
		total_balance TEXT NOT NULL DEFAULT '0',
		total_interest_paid TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		party_id TEXT NOT NULL,
		product_code TEXT NOT NULL REFERENCES products(code),
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		opened_at TEXT NOT NULL DEFAULT '',
		maturity_at TEXT,
		payout_account_id TEXT NOT NULL DEFAULT '',
		attributes JSONB NOT NULL DEFAULT '{}',
		version BIGINT NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (party_id, product_code)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		party_id TEXT NOT NULL,
		product_code TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount NUMERIC(20,2) NOT NULL CHECK (amount >= 0),
		narration TEXT NOT NULL DEFAULT '',
		effective_at TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		balance_after NUMERIC(20,2) NOT NULL,
		batch_id TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_account_effective ON ledger_entries(account_id, effective_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_batch ON ledger_entries(batch_id) WHERE batch_id IS NOT NULL`,
	`CREATE OR REPLACE FUNCTION ledger_entries_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'ledger entries are immutable';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS ledger_entries_append_only ON ledger_entries`,
	`CREATE TRIGGER ledger_entries_append_only
		BEFORE UPDATE OR DELETE ON ledger_entries
		FOR EACH ROW EXECUTE FUNCTION ledger_entries_immutable()`,
	`CREATE TABLE IF NOT EXISTS interest_batches (
		ord BIGSERIAL,
		id TEXT PRIMARY KEY,
		product_code TEXT NOT NULL,
		quarter_key TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		posted_at TEXT NOT NULL,
		account_count INTEGER NOT NULL,
		total_interest NUMERIC(20,2) NOT NULL,
		actor TEXT NOT NULL,
		reversed BOOLEAN NOT NULL DEFAULT FALSE,
		reversed_at TEXT,
		reversed_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_active
		ON interest_batches(product_code, quarter_key) WHERE NOT reversed`,
	`CREATE INDEX IF NOT EXISTS idx_batches_product ON interest_batches(product_code, posted_at)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Reset truncates every table. Row triggers do not fire on TRUNCATE.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.q.Exec(ctx,
		`TRUNCATE ledger_entries, interest_batches, accounts, products, parties RESTART IDENTITY`)
	return err
}

// WithTx runs fn in a READ COMMITTED transaction. Nested calls join it.
func (s *Store) WithTx(ctx context.Context, fn func(bank.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&Store{pool: s.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountSelect = `SELECT id, party_id, product_code, category, status, balance::text, opened_at,
	maturity_at, payout_account_id, attributes::text, version, created_at, updated_at FROM accounts`

func (s *Store) GetAccount(ctx context.Context, partyID, productCode string) (*bank.Account, error) {
	return scanAccount(s.q.QueryRow(ctx, accountSelect+` WHERE party_id = $1 AND product_code = $2`, partyID, productCode))
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*bank.Account, error) {
	return scanAccount(s.q.QueryRow(ctx, accountSelect+` WHERE id = $1`, id))
}

func (s *Store) CreateAccount(ctx context.Context, a bank.Account) error {
	attrs, err := encodeAttributes(a.Attributes)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())
	_, err = s.q.Exec(ctx, `
		INSERT INTO accounts (id, party_id, product_code, category, status, balance, opened_at,
			maturity_at, payout_account_id, attributes, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10::jsonb, 1, $11, $11)`,
		a.ID, a.PartyID, a.ProductCode, string(a.Category), string(a.Status), bank.Round2(a.Balance).String(),
		formatOptionalTime(a.OpenedAt), formatTimePtr(a.MaturityAt), a.PayoutAccountID, attrs, now,
	)
	if isUniqueViolation(err) {
		return bank.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("postgres: create account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, a bank.Account) error {
	attrs, err := encodeAttributes(a.Attributes)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE accounts
		SET category = $1, status = $2, opened_at = $3, maturity_at = $4, payout_account_id = $5,
			attributes = $6::jsonb, version = version + 1, updated_at = $7
		WHERE id = $8`,
		string(a.Category), string(a.Status), formatOptionalTime(a.OpenedAt), formatTimePtr(a.MaturityAt),
		a.PayoutAccountID, attrs, formatTime(time.Now()), a.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bank.ErrAccountNotFound
	}
	return nil
}

func (s *Store) SetAccountStatus(ctx context.Context, id string, status bank.AccountStatus) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE accounts SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("postgres: set account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bank.ErrAccountNotFound
	}
	return nil
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*bank.Account, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE accounts
		SET balance = balance + $1::numeric, version = version + 1, updated_at = $2
		WHERE id = $3 AND balance + $1::numeric >= 0`,
		bank.Round2(delta).String(), formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("postgres: adjust balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

const entrySelect = `SELECT seq, id, account_id, party_id, product_code, kind, amount::text, narration,
	effective_at, actor, balance_after::text, batch_id, created_at FROM ledger_entries`

func (s *Store) AppendEntry(ctx context.Context, e bank.LedgerEntry) (bank.LedgerEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var batchID *string
	if e.BatchID != "" {
		batchID = &e.BatchID
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, party_id, product_code, kind, amount, narration,
			effective_at, actor, balance_after, batch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10::numeric, $11, $12)
		RETURNING seq`,
		e.ID, e.AccountID, e.PartyID, e.ProductCode, string(e.Kind), bank.Round2(e.Amount).String(), e.Narration,
		formatTime(e.EffectiveAt), e.Actor, bank.Round2(e.BalanceAfter).String(), batchID, formatTime(e.CreatedAt),
	).Scan(&e.Seq)
	if err != nil {
		return bank.LedgerEntry{}, fmt.Errorf("postgres: append entry: %w", err)
	}
	return e, nil
}

func (s *Store) EntriesForAccount(ctx context.Context, accountID string, q bank.LedgerQuery) ([]bank.LedgerEntry, error) {
	query := entrySelect + ` WHERE account_id = $1`
	args := []any{accountID}
	if q.From != nil {
		args = append(args, formatTime(*q.From))
		query += fmt.Sprintf(` AND effective_at >= $%d`, len(args))
	}
	if q.To != nil {
		args = append(args, formatTime(*q.To))
		query += fmt.Sprintf(` AND effective_at <= $%d`, len(args))
	}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	query += ` ORDER BY effective_at, seq`
	return s.queryEntries(ctx, query, args...)
}

func (s *Store) EntriesForBatch(ctx context.Context, batchID string) ([]bank.LedgerEntry, error) {
	if batchID == "" {
		return []bank.LedgerEntry{}, nil
	}
	return s.queryEntries(ctx, entrySelect+` WHERE batch_id = $1 ORDER BY seq`, batchID)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]bank.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query entries: %w", err)
	}
	defer rows.Close()

	var out []bank.LedgerEntry
	for rows.Next() {
		var (
			e                        bank.LedgerEntry
			kind, effective, created string
			amount, after            string
			batchID                  *string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.AccountID, &e.PartyID, &e.ProductCode, &kind, &amount,
			&e.Narration, &effective, &e.Actor, &after, &batchID, &created); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		e.Kind = bank.EntryKind(kind)
		if batchID != nil {
			e.BatchID = *batchID
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, err
		}
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

const productSelect = `SELECT code, name, category, interest_method, annual_rate::text, min_balance::text,
	active, config_json, total_balance, total_interest_paid, updated_at FROM products`

func (s *Store) CreateProduct(ctx context.Context, p bank.Product) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO products (code, name, category, interest_method, annual_rate, min_balance, active,
			config_json, total_balance, total_interest_paid, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11)`,
		p.Code, p.Name, string(p.Category), string(p.InterestMethod), nullDecimal(p.AnnualRate),
		p.MinBalance.String(), p.Active, p.ConfigJSON,
		p.TotalBalance.String(), p.TotalInterestPaid.String(), formatTime(time.Now()),
	)
	if isUniqueViolation(err) {
		return bank.Errorf(bank.ErrStateConflict, bank.CodeInvalidInput, "product %s already exists", p.Code)
	}
	if err != nil {
		return fmt.Errorf("postgres: create product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, code string) (*bank.Product, error) {
	return scanProduct(s.q.QueryRow(ctx, productSelect+` WHERE code = $1`, code))
}

func (s *Store) ListProducts(ctx context.Context) ([]bank.Product, error) {
	rows, err := s.q.Query(ctx, productSelect+` ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list products: %w", err)
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

func (s *Store) UpdateProduct(ctx context.Context, p bank.Product) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE products
		SET name = $1, category = $2, interest_method = $3, annual_rate = $4::numeric,
			min_balance = $5::numeric, active = $6, config_json = $7, updated_at = $8
		WHERE code = $9`,
		p.Name, string(p.Category), string(p.InterestMethod), nullDecimal(p.AnnualRate),
		p.MinBalance.String(), p.Active, p.ConfigJSON, formatTime(time.Now()), p.Code,
	)
	if err != nil {
		return fmt.Errorf("postgres: update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bank.ErrProductNotFound
	}
	return nil
}

// IncrementProductTotals is a compare-and-swap on the text values read.
func (s *Store) IncrementProductTotals(ctx context.Context, code string, balanceDelta, interestDelta decimal.Decimal) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var rawBalance, rawInterest string
		err := s.q.QueryRow(ctx,
			`SELECT total_balance, total_interest_paid FROM products WHERE code = $1`, code,
		).Scan(&rawBalance, &rawInterest)
		if errors.Is(err, pgx.ErrNoRows) {
			return bank.ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: read product totals: %w", err)
		}
		balance, err1 := decimal.NewFromString(rawBalance)
		interest, err2 := decimal.NewFromString(rawInterest)
		if err1 != nil || err2 != nil {
			return bank.ErrTotalsCorrupt
		}

		tag, err := s.q.Exec(ctx, `
			UPDATE products SET total_balance = $1, total_interest_paid = $2
			WHERE code = $3 AND total_balance = $4 AND total_interest_paid = $5`,
			balance.Add(balanceDelta).String(), interest.Add(interestDelta).String(),
			code, rawBalance, rawInterest,
		)
		if err != nil {
			return fmt.Errorf("postgres: update product totals: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
	}
	return fmt.Errorf("postgres: product %s totals changed concurrently %d times", code, maxAttempts)
}

func (s *Store) ResetProductTotals(ctx context.Context, code string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE products SET total_balance = '0', total_interest_paid = '0' WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("postgres: reset product totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bank.ErrProductNotFound
	}
	return nil
}

// =============================================================================
// PARTIES
// =============================================================================

const partySelect = `SELECT id, name, party_type, status, joined_at FROM parties`

func (s *Store) SaveParty(ctx context.Context, p bank.Party) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO parties (id, name, party_type, status, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, party_type = EXCLUDED.party_type,
			status = EXCLUDED.status, joined_at = EXCLUDED.joined_at`,
		p.ID, p.Name, string(p.Type), string(p.Status), formatOptionalTime(p.JoinedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: save party: %w", err)
	}
	return nil
}

func (s *Store) GetParty(ctx context.Context, id string) (*bank.Party, error) {
	p, err := scanParty(s.q.QueryRow(ctx, partySelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bank.ErrPartyNotFound
	}
	return p, err
}

func (s *Store) ListActiveParties(ctx context.Context) ([]bank.Party, error) {
	rows, err := s.q.Query(ctx, partySelect+` WHERE status = $1 ORDER BY id`, string(bank.PartyActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: list parties: %w", err)
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

const batchSelect = `SELECT id, product_code, quarter_key, period_start, period_end, posted_at,
	account_count, total_interest::text, actor, reversed, reversed_at, reversed_by FROM interest_batches`

func (s *Store) GetActiveBatch(ctx context.Context, productCode, quarterKey string) (*bank.InterestBatch, error) {
	return scanBatch(s.q.QueryRow(ctx,
		batchSelect+` WHERE product_code = $1 AND quarter_key = $2 AND NOT reversed`, productCode, quarterKey))
}

func (s *Store) LatestBatch(ctx context.Context, productCode, quarterKey string) (*bank.InterestBatch, error) {
	return scanBatch(s.q.QueryRow(ctx,
		batchSelect+` WHERE product_code = $1 AND quarter_key = $2 ORDER BY posted_at DESC, ord DESC LIMIT 1`,
		productCode, quarterKey))
}

func (s *Store) CreateBatch(ctx context.Context, b bank.InterestBatch) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO interest_batches (id, product_code, quarter_key, period_start, period_end, posted_at,
			account_count, total_interest, actor, reversed, reversed_at, reversed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)`,
		b.ID, b.ProductCode, b.QuarterKey, formatTime(b.PeriodStart), formatTime(b.PeriodEnd),
		formatTime(b.PostedAt), b.AccountCount, bank.Round2(b.TotalInterest).String(), b.Actor,
		b.Reversed, formatTimePtr(b.ReversedAt), b.ReversedBy,
	)
	if isUniqueViolation(err) {
		return bank.ErrBatchAlreadyActive
	}
	if err != nil {
		return fmt.Errorf("postgres: create batch: %w", err)
	}
	return nil
}

func (s *Store) MarkBatchReversed(ctx context.Context, id string, at time.Time, actor string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE interest_batches SET reversed = TRUE, reversed_at = $1, reversed_by = $2
		WHERE id = $3 AND NOT reversed`,
		formatTime(at), actor, id)
	if err != nil {
		return fmt.Errorf("postgres: mark batch reversed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetBatch(ctx, id); err != nil {
		return err
	}
	return bank.ErrBatchAlreadyReversed
}

func (s *Store) ListBatches(ctx context.Context, productCode string) ([]bank.InterestBatch, error) {
	query := batchSelect
	var args []any
	if productCode != "" {
		query += ` WHERE product_code = $1`
		args = append(args, productCode)
	}
	query += ` ORDER BY posted_at DESC, ord DESC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list batches: %w", err)
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
	return scanBatch(s.q.QueryRow(ctx, batchSelect+` WHERE id = $1`, id))
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
		balance, attrs           string
		opened, created, updated string
		maturity                 *string
	)
	err := row.Scan(&a.ID, &a.PartyID, &a.ProductCode, &category, &status, &balance, &opened,
		&maturity, &a.PayoutAccountID, &attrs, &a.Version, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bank.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan account: %w", err)
	}
	a.Category = bank.Category(category)
	a.Status = bank.AccountStatus(status)
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
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
			return nil, fmt.Errorf("postgres: account %s attributes: %w", a.ID, err)
		}
	}
	return &a, nil
}

func scanProduct(row scanner) (*bank.Product, error) {
	var (
		p                bank.Product
		category, method string
		rate             *string
		minBalance       string
		total, interest  string
		updated          string
	)
	err := row.Scan(&p.Code, &p.Name, &category, &method, &rate, &minBalance, &p.Active,
		&p.ConfigJSON, &total, &interest, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bank.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan product: %w", err)
	}
	p.Category = bank.Category(category)
	p.InterestMethod = bank.InterestMethod(method)
	if rate != nil {
		r, err := decimal.NewFromString(*rate)
		if err != nil {
			return nil, err
		}
		p.AnnualRate = &r
	}
	if p.MinBalance, err = decimal.NewFromString(minBalance); err != nil {
		return nil, err
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
		reversedAt         *string
	)
	err := row.Scan(&b.ID, &b.ProductCode, &b.QuarterKey, &start, &end, &posted,
		&b.AccountCount, &total, &b.Actor, &b.Reversed, &reversedAt, &b.ReversedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bank.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan batch: %w", err)
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
		return nil, err
	}
	return &b, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return parseTime(s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("postgres: encode attributes: %w", err)
	}
	return string(raw), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
