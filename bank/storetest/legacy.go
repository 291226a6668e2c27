package storetest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
)

// LegacyTotals wraps st so the named products behave like rows whose totals
// were written in a representation the engine cannot parse: reads report zero
// totals and IncrementProductTotals fails with bank.ErrTotalsCorrupt until
// ResetProductTotals clears the product. A rolled-back transaction restores
// the corruption it cleared.
func LegacyTotals(st bank.TxStore, codes ...string) bank.TxStore {
	raw := &rawTotals{codes: make(map[string]bool, len(codes))}
	for _, c := range codes {
		raw.codes[c] = true
	}
	return &legacyTotals{TxStore: st, raw: raw}
}

type rawTotals struct {
	mu    sync.Mutex
	codes map[string]bool
}

func (r *rawTotals) has(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[code]
}

func (r *rawTotals) clear(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, code)
}

func (r *rawTotals) snapshot() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.codes))
	for k, v := range r.codes {
		out[k] = v
	}
	return out
}

func (r *rawTotals) restore(codes map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = codes
}

type legacyTotals struct {
	bank.TxStore
	raw *rawTotals
}

func (l *legacyTotals) WithTx(ctx context.Context, fn func(bank.Store) error) error {
	before := l.raw.snapshot()
	err := l.TxStore.WithTx(ctx, func(tx bank.Store) error {
		return fn(legacyView{Store: tx, raw: l.raw})
	})
	if err != nil {
		l.raw.restore(before)
	}
	return err
}

func (l *legacyTotals) view() legacyView { return legacyView{Store: l.TxStore, raw: l.raw} }

func (l *legacyTotals) GetProduct(ctx context.Context, code string) (*bank.Product, error) {
	return l.view().GetProduct(ctx, code)
}

func (l *legacyTotals) ListProducts(ctx context.Context) ([]bank.Product, error) {
	return l.view().ListProducts(ctx)
}

func (l *legacyTotals) IncrementProductTotals(ctx context.Context, code string, balanceDelta, interestDelta decimal.Decimal) error {
	return l.view().IncrementProductTotals(ctx, code, balanceDelta, interestDelta)
}

func (l *legacyTotals) ResetProductTotals(ctx context.Context, code string) error {
	return l.view().ResetProductTotals(ctx, code)
}

// legacyView applies the corruption to one store handle, inside or outside a
// transaction.
type legacyView struct {
	bank.Store
	raw *rawTotals
}

func (v legacyView) GetProduct(ctx context.Context, code string) (*bank.Product, error) {
	p, err := v.Store.GetProduct(ctx, code)
	if err != nil {
		return nil, err
	}
	if v.raw.has(code) {
		p.TotalBalance, p.TotalInterestPaid = decimal.Zero, decimal.Zero
	}
	return p, nil
}

func (v legacyView) ListProducts(ctx context.Context) ([]bank.Product, error) {
	ps, err := v.Store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		if v.raw.has(ps[i].Code) {
			ps[i].TotalBalance, ps[i].TotalInterestPaid = decimal.Zero, decimal.Zero
		}
	}
	return ps, nil
}

func (v legacyView) IncrementProductTotals(ctx context.Context, code string, balanceDelta, interestDelta decimal.Decimal) error {
	if v.raw.has(code) {
		if _, err := v.Store.GetProduct(ctx, code); err != nil {
			return err
		}
		return bank.ErrTotalsCorrupt
	}
	return v.Store.IncrementProductTotals(ctx, code, balanceDelta, interestDelta)
}

func (v legacyView) ResetProductTotals(ctx context.Context, code string) error {
	if err := v.Store.ResetProductTotals(ctx, code); err != nil {
		return err
	}
	v.raw.clear(code)
	return nil
}
