/*
handlers.go - HTTP API handlers for the deposit engine

PURPOSE:
  Exposes the interest, fixed deposit and teller engines via REST API.
  Handles HTTP request/response, JSON serialization and validation, and
  delegates every rule to the engines.

ENDPOINTS:
  Interest:
    GET    /api/interest/{product}/{quarter}/preview   Preview (read only)
    POST   /api/interest/{product}/{quarter}/run       Post the quarter
    POST   /api/interest/{product}/{quarter}/reverse   Reverse the active batch
    GET    /api/batches?product=                       Batch history
    GET    /api/batches/{id}                           One batch

  Fixed deposits:
    POST   /api/fd                                     Open
    POST   /api/fd/{accountID}/premature-close         Close early
    POST   /api/fd/{accountID}/mature                  Withdraw or renew
    GET    /api/fd/{accountID}/preview/maturity        Full-term payout
    GET    /api/fd/{accountID}/preview/premature       Close-today payout

  Accounts and catalog:
    GET    /api/accounts/{id}                          Cached vs ledger balance
    GET    /api/accounts/{id}/entries                  Ledger (from, to, kind)
    POST   /api/accounts/{id}/deposit                  Teller deposit
    POST   /api/accounts/{id}/withdraw                 Teller withdrawal
    GET    /api/products, /api/products/{code}

ERROR HANDLING:
  Errors are returned as JSON ({"error", "code", "details"}) with the HTTP
  status taken from the error kind:
  - 400: ErrValidation (bad quarter key, amount, body)
  - 404: ErrNotFound
  - 409: ErrStateConflict (already posted, not matured, lock held, ...)
  - 422: ErrConfiguration (rate table unresolvable, corrupt totals)
  - 500: anything else; the cause is logged, not returned

PREVIEW COALESCING:
  Concurrent previews of the same (product, quarter) share one computation
  through a singleflight group. A caller whose request is cancelled stops
  waiting without cancelling the shared work for the others.

SECURITY NOTE:
  No authentication middleware. The actor in each request body is recorded
  for audit only.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/fixeddeposit"
	"github.com/warp/deposit-engine/interest"
	"github.com/warp/deposit-engine/teller"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter empties a store. Only demo scenarios use it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Store    bank.TxStore
	Interest *interest.Engine
	Deposits *fixeddeposit.Engine
	Teller   *teller.Service
	Logger   *slog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    bank.TxStore
	Interest *interest.Engine
	Deposits *fixeddeposit.Engine
	Teller   *teller.Service

	logger   *slog.Logger
	validate *validator.Validate
	previews singleflight.Group
	now      func() time.Time

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler over the given engines.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:    d.Store,
		Interest: d.Interest,
		Deposits: d.Deposits,
		Teller:   d.Teller,
		logger:   logger.With(slog.String("component", "api")),
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithNow overrides the clock scenarios use to place their history.
func (h *Handler) WithNow(now func() time.Time) *Handler {
	if now != nil {
		h.now = now
	}
	return h
}

// =============================================================================
// INTEREST ENDPOINTS
// =============================================================================

// PreviewInterest computes the quarter's interest without writing anything.
func (h *Handler) PreviewInterest(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	quarter := chi.URLParam(r, "quarter")

	res, err := h.sharedPreview(r.Context(), product, quarter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(res))
}

// sharedPreview coalesces identical in-flight previews. The shared call
// runs detached from any single request so one client hanging up does not
// fail the others.
func (h *Handler) sharedPreview(ctx context.Context, product, quarter string) (interest.PreviewResult, error) {
	ch := h.previews.DoChan(product+"|"+quarter, func() (any, error) {
		return h.Interest.Preview(context.WithoutCancel(ctx), product, quarter)
	})
	select {
	case <-ctx.Done():
		return interest.PreviewResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return interest.PreviewResult{}, res.Err
		}
		return res.Val.(interest.PreviewResult), nil
	}
}

// RunInterest posts the quarter's interest for a product.
func (h *Handler) RunInterest(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	summary, err := h.Interest.Run(r.Context(), chi.URLParam(r, "product"), chi.URLParam(r, "quarter"), req.Actor)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchSummaryDTO(summary))
}

// ReverseBatch reverses the quarter's active batch.
func (h *Handler) ReverseBatch(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	summary, err := h.Interest.Reverse(r.Context(), chi.URLParam(r, "product"), chi.URLParam(r, "quarter"), req.Actor)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReversalSummaryDTO(summary))
}

// ListBatches returns batch history, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Interest.ListBatches(r.Context(), r.URL.Query().Get("product"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches))
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Interest.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(*b))
}

// =============================================================================
// FIXED DEPOSIT ENDPOINTS
// =============================================================================

// OpenFD opens a fixed deposit for a party.
func (h *Handler) OpenFD(w http.ResponseWriter, r *http.Request) {
	var req OpenFDRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	principal, err := bank.ParseAmount(req.Principal)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out, err := h.Deposits.Open(r.Context(), fixeddeposit.OpenRequest{
		PartyID:         req.PartyID,
		ProductCode:     req.ProductCode,
		Principal:       principal,
		TenorDays:       req.TenorDays,
		PayoutAccountID: req.PayoutAccountID,
		Actor:           req.Actor,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFDOutcomeDTO(out))
}

func (h *Handler) PrematureCloseFD(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	out, err := h.Deposits.PrematureClose(r.Context(), chi.URLParam(r, "accountID"), req.Actor)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFDOutcomeDTO(out))
}

// MatureOrRenewFD settles a matured deposit. Renewing requires a tenor and a
// mode.
func (h *Handler) MatureOrRenewFD(w http.ResponseWriter, r *http.Request) {
	var req MatureFDRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	out, err := h.Deposits.MatureOrRenew(r.Context(), fixeddeposit.MatureRequest{
		AccountID:    chi.URLParam(r, "accountID"),
		Renew:        req.Renew,
		NewTenorDays: req.NewTenorDays,
		Mode:         fixeddeposit.RenewalMode(req.Mode),
		Actor:        req.Actor,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFDOutcomeDTO(out))
}

func (h *Handler) PreviewFDMaturity(w http.ResponseWriter, r *http.Request) {
	p, err := h.Deposits.PreviewMaturity(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) PreviewFDPremature(w http.ResponseWriter, r *http.Request) {
	p, err := h.Deposits.PreviewPremature(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// GetAccount returns the account with its balance replayed from the ledger
// next to the cached one.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acct, err := h.Store.GetAccountByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	entries, err := h.Store.EntriesForAccount(ctx, acct.ID, bank.LedgerQuery{})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	replayed := bank.Replay(entries)
	drift := !replayed.Equal(acct.Balance)
	if drift {
		h.logger.Warn("cached balance differs from ledger",
			slog.String("account_id", acct.ID),
			slog.String("cached", money(acct.Balance)),
			slog.String("ledger", money(replayed)))
	}
	writeJSON(w, http.StatusOK, AccountDetailDTO{
		AccountDTO:    toAccountDTO(*acct),
		LedgerBalance: money(replayed),
		Drift:         drift,
	})
}

// ListEntries returns the account's ledger. Optional query parameters:
// from and to (RFC 3339, inclusive) and kind.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseLedgerQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", bank.CodeInvalidInput, err)
		return
	}
	acct, err := h.Store.GetAccountByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	entries, err := h.Store.EntriesForAccount(ctx, acct.ID, q)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func parseLedgerQuery(r *http.Request) (bank.LedgerQuery, error) {
	var q bank.LedgerQuery
	values := r.URL.Query()
	if s := values.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("from: %w", err)
		}
		q.From = &t
	}
	if s := values.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("to: %w", err)
		}
		q.To = &t
	}
	if s := values.Get("kind"); s != "" {
		kind := bank.EntryKind(s)
		if !kind.Valid() {
			return q, fmt.Errorf("unknown entry kind %q", s)
		}
		q.Kind = kind
	}
	return q, nil
}

// Deposit credits a non-FD account over the counter.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Teller.Deposit)
}

// Withdraw debits a non-FD account, keeping the product minimum balance.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Teller.Withdraw)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op func(context.Context, teller.Movement) (teller.Receipt, error)) {
	var req MovementRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	amount, err := bank.ParseAmount(req.Amount)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	var effective time.Time
	if req.EffectiveAt != "" {
		// Already checked by the datetime validator.
		effective, _ = time.Parse(time.RFC3339, req.EffectiveAt)
	}
	receipt, err := op(r.Context(), teller.Movement{
		AccountID:   chi.URLParam(r, "id"),
		Amount:      amount,
		Narration:   req.Narration,
		EffectiveAt: effective,
		Actor:       req.Actor,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReceiptDTO{
		Entry:   toEntryDTO(receipt.Entry),
		Account: toAccountDTO(receipt.Account),
	})
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		out = append(out, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProduct(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeRequest reads and validates a JSON body. On failure it writes the
// 400 response and returns false.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", bank.CodeInvalidInput, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", bank.CodeInvalidInput, err)
		return false
	}
	return true
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case bank.IsValidation(err):
		return http.StatusBadRequest
	case bank.IsNotFound(err):
		return http.StatusNotFound
	case bank.IsConflict(err):
		return http.StatusConflict
	case bank.IsConfiguration(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		writeError(w, status, http.StatusText(status), "", nil)
		return
	}
	var classified *bank.Error
	message := err.Error()
	if errors.As(err, &classified) {
		message = classified.Message
	}
	writeError(w, status, message, bank.CodeOf(err), detailsOf(err, message))
}

// detailsOf keeps the wrapped context when it adds something to message.
func detailsOf(err error, message string) error {
	if err.Error() == message {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
