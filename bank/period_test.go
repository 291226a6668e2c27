package bank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarterPeriod_FiscalMapping(t *testing.T) {
	tests := []struct {
		key        string
		start, end time.Time
	}{
		{"2024Q1", utc(2024, time.July, 1), utc(2024, time.October, 1)},
		{"2024Q2", utc(2024, time.October, 1), utc(2025, time.January, 1)},
		{"2024Q3", utc(2025, time.January, 1), utc(2025, time.April, 1)},
		{"2024Q4", utc(2025, time.April, 1), utc(2025, time.July, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			p, err := QuarterPeriod(tt.key)
			require.NoError(t, err)

			assert.Equal(t, tt.start, p.Start)
			assert.Equal(t, tt.end.Add(-time.Nanosecond), p.End)
			assert.True(t, p.End.After(p.Start))
			assert.Equal(t, tt.key, QuarterFor(p.Start))
			assert.Equal(t, tt.key, QuarterFor(p.End))
		})
	}
}

func TestQuarterPeriod_RejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{"", "2024", "2024Q0", "2024Q5", "24Q1", "2024q1", "2024-Q1", " 2024Q1"} {
		_, err := QuarterPeriod(key)
		require.Error(t, err, key)
		assert.True(t, IsValidation(err), key)
		assert.Equal(t, CodeInvalidQuarter, CodeOf(err))
	}
}

func TestPreviousQuarter(t *testing.T) {
	prev, err := PreviousQuarter("2024Q1")
	require.NoError(t, err)
	assert.Equal(t, "2023Q4", prev)

	prev, err = PreviousQuarter("2024Q3")
	require.NoError(t, err)
	assert.Equal(t, "2024Q2", prev)
}

func TestEnsureEnded(t *testing.T) {
	p, err := QuarterPeriod("2024Q1")
	require.NoError(t, err)
	r := NewQuarterResolver()

	r.WithNow(func() time.Time { return p.End.Add(-time.Second) })
	err = r.EnsureEnded("2024Q1", p.End)
	assert.ErrorIs(t, err, ErrQuarterNotEnded)
	assert.True(t, IsConflict(err))

	r.WithNow(func() time.Time { return p.End })
	assert.NoError(t, r.EnsureEnded("2024Q1", p.End))
}

func utc(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
