// Package store provides an in-memory bank.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ bank.TxStore = (*Memory)(nil)

type Memory struct {
	mu   *sync.Mutex
	data *memoryData
	inTx bool
}

type memoryData struct {
	accounts  map[string]bank.Account
	byHolding map[holdingKey]string
	entries   map[string][]bank.LedgerEntry // by account, ordered
	seq       int64
	products  map[string]bank.Product
	parties   map[string]bank.Party
	batches   []bank.InterestBatch // insertion order
}

type holdingKey struct {
	PartyID     string
	ProductCode string
}

func NewMemory() *Memory {
	return &Memory{mu: &sync.Mutex{}, data: newMemoryData()}
}

func newMemoryData() *memoryData {
	return &memoryData{
		accounts:  make(map[string]bank.Account),
		byHolding: make(map[holdingKey]string),
		entries:   make(map[string][]bank.LedgerEntry),
		products:  make(map[string]bank.Product),
		parties:   make(map[string]bank.Party),
	}
}

// Reset discards everything. Used by demo scenarios.
func (m *Memory) Reset(_ context.Context) error {
	defer m.lock()()
	*m.data = *newMemoryData()
	return nil
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(bank.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	view := &Memory{mu: m.mu, data: m.data, inTx: true}
	if err := fn(view); err != nil {
		*m.data = *snapshot
		return err
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, partyID, productCode string) (*bank.Account, error) {
	defer m.lock()()
	id, ok := m.data.byHolding[holdingKey{partyID, productCode}]
	if !ok {
		return nil, bank.ErrAccountNotFound
	}
	a := cloneAccount(m.data.accounts[id])
	return &a, nil
}

func (m *Memory) GetAccountByID(_ context.Context, id string) (*bank.Account, error) {
	defer m.lock()()
	a, ok := m.data.accounts[id]
	if !ok {
		return nil, bank.ErrAccountNotFound
	}
	a = cloneAccount(a)
	return &a, nil
}

func (m *Memory) CreateAccount(_ context.Context, a bank.Account) error {
	defer m.lock()()
	k := holdingKey{a.PartyID, a.ProductCode}
	if _, exists := m.data.byHolding[k]; exists {
		return bank.ErrDuplicateAccount
	}
	if _, exists := m.data.accounts[a.ID]; exists {
		return bank.ErrDuplicateAccount
	}
	now := time.Now().UTC()
	a.Balance = bank.Round2(a.Balance)
	a.Version = 1
	a.CreatedAt, a.UpdatedAt = now, now
	m.data.accounts[a.ID] = cloneAccount(a)
	m.data.byHolding[k] = a.ID
	return nil
}

func (m *Memory) UpdateAccount(_ context.Context, a bank.Account) error {
	defer m.lock()()
	cur, ok := m.data.accounts[a.ID]
	if !ok {
		return bank.ErrAccountNotFound
	}
	a.Balance = cur.Balance
	a.PartyID, a.ProductCode = cur.PartyID, cur.ProductCode
	a.CreatedAt = cur.CreatedAt
	a.Version = cur.Version + 1
	a.UpdatedAt = time.Now().UTC()
	m.data.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (m *Memory) SetAccountStatus(_ context.Context, id string, status bank.AccountStatus) error {
	defer m.lock()()
	a, ok := m.data.accounts[id]
	if !ok {
		return bank.ErrAccountNotFound
	}
	a.Status = status
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	m.data.accounts[id] = a
	return nil
}

func (m *Memory) AdjustBalance(_ context.Context, id string, delta decimal.Decimal) (*bank.Account, error) {
	defer m.lock()()
	a, ok := m.data.accounts[id]
	if !ok {
		return nil, bank.ErrAccountNotFound
	}
	next := bank.Round2(a.Balance.Add(delta))
	if next.IsNegative() {
		return nil, bank.ErrInsufficientFunds
	}
	a.Balance = next
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	m.data.accounts[id] = a
	out := cloneAccount(a)
	return &out, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e bank.LedgerEntry) (bank.LedgerEntry, error) {
	defer m.lock()()
	m.data.seq++
	e.Seq = m.data.seq
	entries := m.data.entries[e.AccountID]

	// Binary search for insertion point; equal timestamps keep insertion order.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].EffectiveAt.After(e.EffectiveAt)
	})
	entries = append(entries, bank.LedgerEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.data.entries[e.AccountID] = entries
	return e, nil
}

func (m *Memory) EntriesForAccount(_ context.Context, accountID string, q bank.LedgerQuery) ([]bank.LedgerEntry, error) {
	defer m.lock()()
	var out []bank.LedgerEntry
	for _, e := range m.data.entries[accountID] {
		if q.From != nil && e.EffectiveAt.Before(*q.From) {
			continue
		}
		if q.To != nil && e.EffectiveAt.After(*q.To) {
			continue
		}
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) EntriesForBatch(_ context.Context, batchID string) ([]bank.LedgerEntry, error) {
	defer m.lock()()
	var out []bank.LedgerEntry
	if batchID == "" {
		return out, nil
	}
	for _, entries := range m.data.entries {
		for _, e := range entries {
			if e.BatchID == batchID {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) CreateProduct(_ context.Context, p bank.Product) error {
	defer m.lock()()
	if _, exists := m.data.products[p.Code]; exists {
		return bank.Errorf(bank.ErrStateConflict, bank.CodeInvalidInput, "product %s already exists", p.Code)
	}
	p.Config = nil
	p.UpdatedAt = time.Now().UTC()
	m.data.products[p.Code] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, code string) (*bank.Product, error) {
	defer m.lock()()
	p, ok := m.data.products[code]
	if !ok {
		return nil, bank.ErrProductNotFound
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]bank.Product, error) {
	defer m.lock()()
	out := make([]bank.Product, 0, len(m.data.products))
	for _, p := range m.data.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) UpdateProduct(_ context.Context, p bank.Product) error {
	defer m.lock()()
	cur, ok := m.data.products[p.Code]
	if !ok {
		return bank.ErrProductNotFound
	}
	p.TotalBalance, p.TotalInterestPaid = cur.TotalBalance, cur.TotalInterestPaid
	p.Config = nil
	p.UpdatedAt = time.Now().UTC()
	m.data.products[p.Code] = p
	return nil
}

func (m *Memory) IncrementProductTotals(_ context.Context, code string, balanceDelta, interestDelta decimal.Decimal) error {
	defer m.lock()()
	p, ok := m.data.products[code]
	if !ok {
		return bank.ErrProductNotFound
	}
	p.TotalBalance = p.TotalBalance.Add(balanceDelta)
	p.TotalInterestPaid = p.TotalInterestPaid.Add(interestDelta)
	m.data.products[code] = p
	return nil
}

func (m *Memory) ResetProductTotals(_ context.Context, code string) error {
	defer m.lock()()
	p, ok := m.data.products[code]
	if !ok {
		return bank.ErrProductNotFound
	}
	p.TotalBalance, p.TotalInterestPaid = decimal.Zero, decimal.Zero
	m.data.products[code] = p
	return nil
}

// =============================================================================
// PARTIES
// =============================================================================

func (m *Memory) SaveParty(_ context.Context, p bank.Party) error {
	defer m.lock()()
	m.data.parties[p.ID] = p
	return nil
}

func (m *Memory) GetParty(_ context.Context, id string) (*bank.Party, error) {
	defer m.lock()()
	p, ok := m.data.parties[id]
	if !ok {
		return nil, bank.ErrPartyNotFound
	}
	return &p, nil
}

func (m *Memory) ListActiveParties(_ context.Context) ([]bank.Party, error) {
	defer m.lock()()
	var out []bank.Party
	for _, p := range m.data.parties {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) GetActiveBatch(_ context.Context, productCode, quarterKey string) (*bank.InterestBatch, error) {
	defer m.lock()()
	for _, b := range m.data.batches {
		if b.ProductCode == productCode && b.QuarterKey == quarterKey && !b.Reversed {
			return &b, nil
		}
	}
	return nil, bank.ErrBatchNotFound
}

func (m *Memory) LatestBatch(_ context.Context, productCode, quarterKey string) (*bank.InterestBatch, error) {
	defer m.lock()()
	for i := len(m.data.batches) - 1; i >= 0; i-- {
		b := m.data.batches[i]
		if b.ProductCode == productCode && b.QuarterKey == quarterKey {
			return &b, nil
		}
	}
	return nil, bank.ErrBatchNotFound
}

// CreateBatch enforces the same partial uniqueness as the SQL stores.
func (m *Memory) CreateBatch(_ context.Context, b bank.InterestBatch) error {
	defer m.lock()()
	for _, existing := range m.data.batches {
		if existing.ProductCode == b.ProductCode && existing.QuarterKey == b.QuarterKey && !existing.Reversed {
			return bank.ErrBatchAlreadyActive
		}
	}
	m.data.batches = append(m.data.batches, b)
	return nil
}

func (m *Memory) MarkBatchReversed(_ context.Context, id string, at time.Time, actor string) error {
	defer m.lock()()
	for i, b := range m.data.batches {
		if b.ID != id {
			continue
		}
		if b.Reversed {
			return bank.ErrBatchAlreadyReversed
		}
		at := at.UTC()
		b.Reversed, b.ReversedAt, b.ReversedBy = true, &at, actor
		m.data.batches[i] = b
		return nil
	}
	return bank.ErrBatchNotFound
}

func (m *Memory) ListBatches(_ context.Context, productCode string) ([]bank.InterestBatch, error) {
	defer m.lock()()
	out := []bank.InterestBatch{}
	for i := len(m.data.batches) - 1; i >= 0; i-- {
		b := m.data.batches[i]
		if productCode == "" || b.ProductCode == productCode {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (*bank.InterestBatch, error) {
	defer m.lock()()
	for _, b := range m.data.batches {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, bank.ErrBatchNotFound
}

// =============================================================================
// SNAPSHOT HELPERS
// =============================================================================

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		accounts:  make(map[string]bank.Account, len(d.accounts)),
		byHolding: make(map[holdingKey]string, len(d.byHolding)),
		entries:   make(map[string][]bank.LedgerEntry, len(d.entries)),
		seq:       d.seq,
		products:  make(map[string]bank.Product, len(d.products)),
		parties:   make(map[string]bank.Party, len(d.parties)),
		batches:   append([]bank.InterestBatch(nil), d.batches...),
	}
	for k, v := range d.accounts {
		c.accounts[k] = cloneAccount(v)
	}
	for k, v := range d.byHolding {
		c.byHolding[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = append([]bank.LedgerEntry(nil), v...)
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.parties {
		c.parties[k] = v
	}
	return c
}

func cloneAccount(a bank.Account) bank.Account {
	if a.Attributes != nil {
		attrs := make(map[string]string, len(a.Attributes))
		for k, v := range a.Attributes {
			attrs[k] = v
		}
		a.Attributes = attrs
	}
	if a.MaturityAt != nil {
		t := *a.MaturityAt
		a.MaturityAt = &t
	}
	return a
}
