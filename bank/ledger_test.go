package bank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func entry(seq int64, kind EntryKind, amount string, at time.Time) LedgerEntry {
	return LedgerEntry{Seq: seq, Kind: kind, Amount: d(amount), EffectiveAt: at}
}

var (
	winStart = utc(2024, time.July, 1)
	winEnd   = utc(2024, time.October, 1).Add(-time.Nanosecond)
)

func TestMinBalance(t *testing.T) {
	tests := []struct {
		name    string
		entries []LedgerEntry
		want    string
	}{
		{
			name:    "no entries",
			entries: nil,
			want:    "0",
		},
		{
			name: "balance carried through the whole window",
			entries: []LedgerEntry{
				entry(1, EntryDeposit, "10000", utc(2024, time.June, 1)),
			},
			want: "10000",
		},
		{
			name: "dip inside the window",
			entries: []LedgerEntry{
				entry(1, EntryDeposit, "10000", utc(2024, time.June, 1)),
				entry(2, EntryWithdrawal, "4000", utc(2024, time.August, 10)),
				entry(3, EntryDeposit, "2000", utc(2024, time.September, 1)),
			},
			want: "6000",
		},
		{
			name: "opening balance is the minimum",
			entries: []LedgerEntry{
				entry(1, EntryDeposit, "500", utc(2024, time.June, 1)),
				entry(2, EntryDeposit, "700", utc(2024, time.August, 1)),
			},
			want: "500",
		},
		{
			name: "entries after the window are ignored",
			entries: []LedgerEntry{
				entry(1, EntryDeposit, "800", utc(2024, time.June, 1)),
				entry(2, EntryWithdrawal, "800", utc(2024, time.October, 2)),
			},
			want: "800",
		},
		{
			name: "joined mid-window starts from zero",
			entries: []LedgerEntry{
				entry(1, EntryDeposit, "5000", utc(2024, time.August, 1)),
			},
			want: "0",
		},
		{
			name: "negative trajectory clamps to zero",
			entries: []LedgerEntry{
				entry(1, EntryAdjustment, "100", utc(2024, time.June, 1)),
				entry(2, EntryInterestReversal, "300", utc(2024, time.July, 5)),
			},
			want: "0",
		},
		{
			name: "same instant resolves by insertion order",
			entries: []LedgerEntry{
				entry(1, EntryDeposit, "1000", utc(2024, time.June, 1)),
				entry(3, EntryDeposit, "50", winEnd),
				entry(2, EntryWithdrawal, "400", winEnd),
			},
			want: "600",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinBalance(tt.entries, winStart, winEnd)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestMinBalance_IgnoresCachedBalanceAfter(t *testing.T) {
	e := entry(1, EntryDeposit, "1000", utc(2024, time.June, 1))
	e.BalanceAfter = d("999999")

	got := MinBalance([]LedgerEntry{e}, winStart, winEnd)

	assert.True(t, got.Equal(d("1000")))
}

func TestReplay(t *testing.T) {
	got := Replay([]LedgerEntry{
		entry(1, EntryDeposit, "100.10", utc(2024, time.June, 1)),
		entry(2, EntryInterestCredit, "3.00", utc(2024, time.June, 2)),
		entry(3, EntryWithdrawal, "50.05", utc(2024, time.June, 3)),
		entry(4, EntryInterestReversal, "3.00", utc(2024, time.June, 4)),
	})
	assert.Equal(t, "50.05", got.StringFixed(2))
}
