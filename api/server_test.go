package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_SecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestRouter_ProductionRedirectsPlainHTTP(t *testing.T) {
	s := newTestServerWith(t, RouterConfig{Production: true})

	rec := s.do(http.MethodGet, "/api/scenarios", nil)

	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://"))
}

func TestRouter_RateLimitsMutations(t *testing.T) {
	// GIVEN: One mutating call per minute
	s := newTestServerWith(t, RouterConfig{RateLimitPerMinute: 1})

	// WHEN: Two loads from the same client
	first := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "quarter-end"})
	second := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "quarter-end"})

	// THEN: The second is refused, reads are not limited
	assert.Equal(t, http.StatusOK, first.Code)
	requireError(t, second, http.StatusTooManyRequests, "rate_limited")
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/products", nil).Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/products", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deposit_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/api/products`)
}
