/*
ledger.go - Balance reconstruction from the append-only ledger

PURPOSE:
  The ledger is the source of truth. Quarter computations replay entries
  from zero instead of trusting the cached Account.Balance or the
  BalanceAfter snapshot on each entry, so out-of-band corrections can never
  make interest drift.

ORDERING:
  Entries are replayed by EffectiveAt ascending, ties broken by Seq
  (insertion order). A quarter-end interest credit and a same-day
  withdrawal therefore always resolve the same way.

MINIMUM BALANCE IN A WINDOW:
  running := 0
  for each entry with EffectiveAt <= end:
    before start:  running += signed(entry)
    first at/after start: opening := running; min := opening
    within window: running += signed(entry); min = min(min, running)
  no entry reached start: result = running (the balance held all window)
  result clamped to >= 0, rounded to 2 places

EXAMPLE:
  [+10000 @ Jun 1] [-4000 @ Aug 10] [+2000 @ Sep 1], window Jul 1–Sep 30
  opening 10000, then 6000, then 8000 -> min 6000
*/
package bank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Reconstructor rebuilds balance trajectories from ledger entries.
type Reconstructor struct {
	entries LedgerStore
}

func NewReconstructor(entries LedgerStore) *Reconstructor {
	return &Reconstructor{entries: entries}
}

// MinBalanceInWindow returns the lowest balance the account held within
// [start, end].
func (r *Reconstructor) MinBalanceInWindow(ctx context.Context, accountID string, start, end time.Time) (decimal.Decimal, error) {
	entries, err := r.entries.EntriesForAccount(ctx, accountID, LedgerQuery{To: &end})
	if err != nil {
		return decimal.Zero, fmt.Errorf("load entries for %s: %w", accountID, err)
	}
	return MinBalance(entries, start, end), nil
}

// BalanceAt replays every entry effective at or before at.
func (r *Reconstructor) BalanceAt(ctx context.Context, accountID string, at time.Time) (decimal.Decimal, error) {
	entries, err := r.entries.EntriesForAccount(ctx, accountID, LedgerQuery{To: &at})
	if err != nil {
		return decimal.Zero, fmt.Errorf("load entries for %s: %w", accountID, err)
	}
	return Replay(entries), nil
}

// MinBalance computes the window minimum over entries. Entries after end
// are ignored.
func MinBalance(entries []LedgerEntry, start, end time.Time) decimal.Decimal {
	ordered := sortedEntries(entries)

	running := decimal.Zero
	var minimum decimal.Decimal
	reached := false
	for _, e := range ordered {
		if e.EffectiveAt.After(end) {
			break
		}
		if e.EffectiveAt.Before(start) {
			running = running.Add(e.SignedAmount())
			continue
		}
		if !reached {
			reached = true
			minimum = running
		}
		running = running.Add(e.SignedAmount())
		if running.LessThan(minimum) {
			minimum = running
		}
	}
	if !reached {
		minimum = running
	}
	if minimum.IsNegative() {
		minimum = decimal.Zero
	}
	return Round2(minimum)
}

// Replay sums every entry's signed amount.
func Replay(entries []LedgerEntry) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.SignedAmount())
	}
	return Round2(balance)
}

func sortedEntries(entries []LedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EffectiveAt.Equal(out[j].EffectiveAt) {
			return out[i].EffectiveAt.Before(out[j].EffectiveAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}
