/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Secure:     Security headers (unrolled/secure); HTTPS redirect in production
  5. Metrics:    Request count and latency per route pattern
  6. CORS:       Cross-origin requests for a browser console

  Mutating routes additionally pass through a per-IP rate limit (httprate).

ROUTE GROUPS:
  /api/interest/*       Quarterly interest preview, run, reverse
  /api/batches/*        Batch history
  /api/fd/*             Fixed deposit lifecycle
  /api/accounts/*       Account view, ledger, teller movements
  /api/products/*       Catalog (read only)
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. Put the service behind an authenticating
  gateway before exposing it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/warp/deposit-engine/metrics"
)

// RouterConfig carries the router's environment-dependent settings.
type RouterConfig struct {
	Production         bool
	RateLimitPerMinute int // 0 disables the limit
	AllowedOrigins     []string
	Metrics            *metrics.Metrics
	Logger             *slog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders(cfg.Production, logger))
	r.Use(cfg.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	limit := rateLimit(cfg.RateLimitPerMinute)

	r.Handle("/metrics", cfg.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Interest routes
		r.Route("/interest/{product}/{quarter}", func(r chi.Router) {
			r.Get("/preview", h.PreviewInterest)
			r.With(limit).Post("/run", h.RunInterest)
			r.With(limit).Post("/reverse", h.ReverseBatch)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Get("/{id}", h.GetBatch)
		})

		// Fixed deposit routes
		r.Route("/fd", func(r chi.Router) {
			r.With(limit).Post("/", h.OpenFD)
			r.Route("/{accountID}", func(r chi.Router) {
				r.With(limit).Post("/premature-close", h.PrematureCloseFD)
				r.With(limit).Post("/mature", h.MatureOrRenewFD)
				r.Get("/preview/maturity", h.PreviewFDMaturity)
				r.Get("/preview/premature", h.PreviewFDPremature)
			})
		})

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/entries", h.ListEntries)
			r.With(limit).Post("/deposit", h.Deposit)
			r.With(limit).Post("/withdraw", h.Withdraw)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{code}", h.GetProduct)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(limit).Post("/load", h.LoadScenario)
		})
	})

	return r
}

// secureHeaders sets the standard security headers on every response.
func secureHeaders(production bool, logger *slog.Logger) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				// Process has already written the redirect or rejection.
				logger.Warn("secure headers blocked request",
					slog.String("path", r.URL.Path),
					slog.Any("error", err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit limits mutating calls per client IP.
func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited", nil)
		}))
}
