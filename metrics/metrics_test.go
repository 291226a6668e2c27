package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.BatchPosted("SAV", 3, 1, decimal.NewFromInt(10))
		m.BatchReversed("SAV", decimal.NewFromInt(10))
		m.FDTransition("FD", "open")
		m.ConfigHealed("FD")
		_ = m.Track("run").End(nil)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDomainCounters(t *testing.T) {
	m := NewMetrics()

	m.BatchPosted("SAV", 4, 1, decimal.RequireFromString("300.50"))
	m.BatchReversed("SAV", decimal.RequireFromString("300.50"))
	m.FDTransition("FD", "renew")
	err := m.Track("interest_run").End(errors.New("boom"))

	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batches.WithLabelValues("SAV", "posted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batches.WithLabelValues("SAV", "reversed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.batchAccounts.WithLabelValues("SAV")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.skippedAccounts.WithLabelValues("SAV")))
	assert.InDelta(t, 300.50, testutil.ToFloat64(m.interestPosted.WithLabelValues("SAV", "posted")), 0.001)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.fdTransitions.WithLabelValues("FD", "renew")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deposit_interest_batches_total")
}
