package bank

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive time window [Start, End]. End is the last instant of
// the period's final day.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// =============================================================================
// QUARTER RESOLVER - Fiscal quarters (year starts July 1)
// =============================================================================

// Fiscal mapping for key YYYYQn:
//
//	Q1 = Jul 1 – Sep 30 of YYYY
//	Q2 = Oct 1 – Dec 31 of YYYY
//	Q3 = Jan 1 – Mar 31 of YYYY+1
//	Q4 = Apr 1 – Jun 30 of YYYY+1
var quarterKeyPattern = regexp.MustCompile(`^(\d{4})Q([1-4])$`)

// QuarterResolver maps quarter keys to fiscal periods and gates operations
// on period closure.
type QuarterResolver struct {
	now func() time.Time
}

func NewQuarterResolver() *QuarterResolver {
	return &QuarterResolver{now: time.Now}
}

// WithNow overrides the clock for testing.
func (r *QuarterResolver) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Resolve returns the fiscal period for a quarter key.
func (r *QuarterResolver) Resolve(quarterKey string) (Period, error) {
	return QuarterPeriod(quarterKey)
}

// EnsureEnded fails with ErrQuarterNotEnded unless now >= periodEnd.
func (r *QuarterResolver) EnsureEnded(quarterKey string, periodEnd time.Time) error {
	if r.now().Before(periodEnd) {
		return Errorf(ErrStateConflict, CodeQuarterNotEnded,
			"quarter %s has not ended (ends %s)", quarterKey, periodEnd.Format(time.RFC3339))
	}
	return nil
}

// QuarterPeriod parses a quarter key into its fiscal period.
func QuarterPeriod(quarterKey string) (Period, error) {
	m := quarterKeyPattern.FindStringSubmatch(quarterKey)
	if m == nil {
		return Period{}, Errorf(ErrValidation, CodeInvalidQuarter,
			"invalid quarter key %q: expected YYYYQ1-YYYYQ4", quarterKey)
	}
	year, _ := strconv.Atoi(m[1])
	q, _ := strconv.Atoi(m[2])

	// Q1 starts in July; each quarter advances three months.
	start := time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 3*(q-1), 0)
	end := start.AddDate(0, 3, 0).Add(-time.Nanosecond)
	return Period{Start: start, End: end}, nil
}

// QuarterFor returns the key of the fiscal quarter containing t.
func QuarterFor(t time.Time) string {
	t = t.UTC()
	year, month := t.Year(), t.Month()
	var q int
	switch {
	case month >= time.July && month <= time.September:
		q = 1
	case month >= time.October:
		q = 2
	case month <= time.March:
		q, year = 3, year-1
	default:
		q, year = 4, year-1
	}
	return fmt.Sprintf("%04dQ%d", year, q)
}

// PreviousQuarter returns the key of the quarter before quarterKey.
func PreviousQuarter(quarterKey string) (string, error) {
	p, err := QuarterPeriod(quarterKey)
	if err != nil {
		return "", err
	}
	return QuarterFor(p.Start.Add(-time.Nanosecond)), nil
}
