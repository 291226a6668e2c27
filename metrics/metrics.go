// Package metrics collects Prometheus metrics for the HTTP surface and for
// the posting engines. Every method is safe on a nil *Metrics so engines can
// be built without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	batches          *prometheus.CounterVec
	batchAccounts    *prometheus.CounterVec
	interestPosted   *prometheus.CounterVec
	skippedAccounts  *prometheus.CounterVec
	fdTransitions    *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	configHeals      *prometheus.CounterVec
}

// NewMetrics builds a private registry with all collectors registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deposit_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_interest_batches_total",
			Help: "Interest batches by product and action (posted, reversed).",
		}, []string{"product", "action"}),
		batchAccounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_interest_batch_accounts_total",
			Help: "Accounts credited by interest batches.",
		}, []string{"product"}),
		interestPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_interest_amount_total",
			Help: "Interest amount moved by batches, by action.",
		}, []string{"product", "action"}),
		skippedAccounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_interest_skipped_accounts_total",
			Help: "Previewed accounts skipped at posting time.",
		}, []string{"product"}),
		fdTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_fd_transitions_total",
			Help: "Fixed deposit lifecycle transitions.",
		}, []string{"product", "transition"}),
		operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deposit_operation_duration_seconds",
			Help:    "Engine operation duration by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		configHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_product_config_heals_total",
			Help: "Product configuration documents rewritten with defaults.",
		}, []string{"product"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.batches, m.batchAccounts, m.interestPosted, m.skippedAccounts,
		m.fdTransitions, m.operationSeconds, m.configHeals,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// =============================================================================
// DOMAIN COUNTERS
// =============================================================================

func (m *Metrics) BatchPosted(product string, accounts, skipped int, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(product, "posted").Inc()
	m.batchAccounts.WithLabelValues(product).Add(float64(accounts))
	m.interestPosted.WithLabelValues(product, "posted").Add(total.InexactFloat64())
	if skipped > 0 {
		m.skippedAccounts.WithLabelValues(product).Add(float64(skipped))
	}
}

func (m *Metrics) BatchReversed(product string, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(product, "reversed").Inc()
	m.interestPosted.WithLabelValues(product, "reversed").Add(total.InexactFloat64())
}

// FDTransition counts open, premature_close, matured_withdraw and renew.
func (m *Metrics) FDTransition(product, transition string) {
	if m == nil {
		return
	}
	m.fdTransitions.WithLabelValues(product, transition).Inc()
}

func (m *Metrics) ConfigHealed(product string) {
	if m == nil {
		return
	}
	m.configHeals.WithLabelValues(product).Inc()
}

// Tracker times one engine operation.
type Tracker struct {
	metrics   *Metrics
	operation string
	start     time.Time
}

func (m *Metrics) Track(operation string) *Tracker {
	return &Tracker{metrics: m, operation: operation, start: time.Now()}
}

// End records the duration and outcome, returning err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.operationSeconds.WithLabelValues(t.operation, status).Observe(time.Since(t.start).Seconds())
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
