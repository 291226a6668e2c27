/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Interest preview, run, duplicate run, reverse and re-run over HTTP
- Error kind to status mapping (400/404/409/422)
- Account view with ledger replay and drift detection
- Ledger filters
- Teller deposit and withdrawal validation
- Fixed deposit open, previews, premature close and maturity
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/store"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/fixeddeposit"
	"github.com/warp/deposit-engine/interest"
	"github.com/warp/deposit-engine/lock"
	"github.com/warp/deposit-engine/metrics"
	"github.com/warp/deposit-engine/teller"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// testNow falls in 2024Q2 (Oct-Dec), so 2024Q1 (Jul-Sep) has ended.
var testNow = time.Date(2024, time.October, 15, 10, 0, 0, 0, time.UTC)

const endedQuarter = "2024Q1"

type testServer struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Memory
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, RouterConfig{})
}

func newTestServerWith(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	st := store.NewMemory()
	clock := func() time.Time { return testNow }
	locker := lock.NewLocal()
	m := metrics.NewMetrics()

	h := NewHandler(Deps{
		Store:    st,
		Interest: interest.NewEngine(st, locker, interest.DefaultConfig(), nil, m).WithNow(clock),
		Deposits: fixeddeposit.NewEngine(st, locker, fixeddeposit.DefaultConfig(), nil, m).WithNow(clock),
		Teller:   teller.NewService(st, locker, nil, m).WithNow(clock),
	}).WithNow(clock)

	cfg.Metrics = m
	return &testServer{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		handler: h,
		router:  NewRouter(h, cfg),
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) load(scenario string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: scenario})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, code, resp.Code)
	assert.NotEmpty(t, resp.Error)
	return resp
}

func interestPath(product, quarter, op string) string {
	return "/api/interest/" + product + "/" + quarter + "/" + op
}

// =============================================================================
// INTEREST
// =============================================================================

func TestInterest_PreviewRunReverseCycle(t *testing.T) {
	// GIVEN: The quarter-end scenario (m-1 min 10,000; m-2 min 2,000; 4% p.a.)
	s := newTestServer(t)
	s.load("quarter-end")

	// WHEN: Previewing the ended quarter
	rec := s.do(http.MethodGet, interestPath("SAV", endedQuarter, "preview"), nil)

	// THEN: Two accounts earn interest, the joiner and inactive member do not
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[PreviewDTO](t, rec)
	assert.Equal(t, 2, preview.AccountCount)
	assert.Equal(t, "120.00", preview.TotalInterest)
	byAccount := map[string]ItemDTO{}
	for _, it := range preview.Items {
		byAccount[it.AccountID] = it
	}
	assert.Equal(t, "100.00", byAccount["sav-m-1"].Interest)
	assert.Equal(t, "2000.00", byAccount["sav-m-2"].MinBalance)
	assert.Equal(t, "20.00", byAccount["sav-m-2"].Interest)

	// WHEN: Running it
	rec = s.do(http.MethodPost, interestPath("SAV", endedQuarter, "run"), ActorRequest{Actor: "ops"})

	// THEN: The batch matches the preview
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	summary := decode[BatchSummaryDTO](t, rec)
	assert.Equal(t, 2, summary.Batch.AccountCount)
	assert.Equal(t, "120.00", summary.Batch.TotalInterest)
	assert.Equal(t, "ops", summary.Batch.Actor)
	assert.False(t, summary.Batch.Reversed)

	// WHEN: Running again
	rec = s.do(http.MethodPost, interestPath("SAV", endedQuarter, "run"), ActorRequest{Actor: "ops"})

	// THEN: Conflict, nothing double-posted
	requireError(t, rec, http.StatusConflict, bank.CodeBatchAlreadyActive)

	// WHEN: Reversing
	rec = s.do(http.MethodPost, interestPath("SAV", endedQuarter, "reverse"), ActorRequest{Actor: "auditor"})

	// THEN: Every credit is offset
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reversal := decode[ReversalSummaryDTO](t, rec)
	assert.Equal(t, 2, reversal.EntryCount)
	assert.Equal(t, "120.00", reversal.TotalReversed)
	assert.True(t, reversal.Batch.Reversed)
	assert.Equal(t, "auditor", reversal.Batch.ReversedBy)

	// AND: A fresh run is accepted
	rec = s.do(http.MethodPost, interestPath("SAV", endedQuarter, "run"), ActorRequest{Actor: "ops"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// AND: History lists both batches, newest first
	rec = s.do(http.MethodGet, "/api/batches?product=SAV", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batches := decode[[]BatchDTO](t, rec)
	require.Len(t, batches, 2)
	assert.False(t, batches[0].Reversed)
	assert.True(t, batches[1].Reversed)

	rec = s.do(http.MethodGet, "/api/batches/"+batches[1].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, batches[1].ID, decode[BatchDTO](t, rec).ID)
}

func TestInterest_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	unrated := factory.SavingsProduct("NORATE", "No Rate", "1")
	unrated.AnnualRate = nil
	require.NoError(t, s.store.CreateProduct(s.ctx, unrated))
	require.NoError(t, s.store.CreateProduct(s.ctx, factory.FixedDepositProduct("FD", "Term", factory.Tier(90, "5"))))

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"malformed quarter", interestPath("SAV", "2024Q9", "preview"), http.StatusBadRequest, bank.CodeInvalidQuarter},
		{"quarter not ended", interestPath("SAV", "2024Q2", "preview"), http.StatusConflict, bank.CodeQuarterNotEnded},
		{"unknown product", interestPath("NOPE", endedQuarter, "preview"), http.StatusNotFound, bank.CodeProductNotFound},
		{"wrong method", interestPath("FD", endedQuarter, "preview"), http.StatusBadRequest, bank.CodeIneligible},
		{"missing rate", interestPath("NORATE", endedQuarter, "preview"), http.StatusUnprocessableEntity, bank.CodeRateUnresolvable},
		{"unknown batch", "/api/batches/missing", http.StatusNotFound, bank.CodeBatchNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, s.do(http.MethodGet, tt.path, nil), tt.status, tt.code)
		})
	}
}

func TestInterest_RunRequiresActor(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	rec := s.do(http.MethodPost, interestPath("SAV", endedQuarter, "run"), map[string]string{})

	requireError(t, rec, http.StatusBadRequest, bank.CodeInvalidInput)
	_, err := s.store.GetActiveBatch(s.ctx, "SAV", endedQuarter)
	assert.ErrorIs(t, err, bank.ErrBatchNotFound)
}

func TestInterest_ReverseWithoutBatch(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	rec := s.do(http.MethodPost, interestPath("SAV", endedQuarter, "reverse"), ActorRequest{Actor: "ops"})

	requireError(t, rec, http.StatusNotFound, bank.CodeBatchNotFound)
}

func TestInterest_ConcurrentPreviewsAgree(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	const callers = 8
	totals := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, interestPath("SAV", endedQuarter, "preview"), nil)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			if rec.Code == http.StatusOK {
				var p PreviewDTO
				if json.Unmarshal(rec.Body.Bytes(), &p) == nil {
					totals[i] = p.TotalInterest
				}
			}
		}(i)
	}
	wg.Wait()

	for i, total := range totals {
		assert.Equal(t, "120.00", total, "caller %d", i)
	}
}

// =============================================================================
// ACCOUNTS AND TELLER
// =============================================================================

func TestGetAccount_ReportsLedgerBalance(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	rec := s.do(http.MethodGet, "/api/accounts/sav-m-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	acct := decode[AccountDetailDTO](t, rec)
	assert.Equal(t, "10500.00", acct.Balance)
	assert.Equal(t, "10500.00", acct.LedgerBalance)
	assert.False(t, acct.Drift)
	assert.Equal(t, "m-1", acct.PartyID)
}

func TestGetAccount_FlagsDrift(t *testing.T) {
	// GIVEN: A cached balance moved without a ledger entry
	s := newTestServer(t)
	s.load("quarter-end")
	_, err := s.store.AdjustBalance(s.ctx, "sav-m-1", decimal.NewFromInt(1))
	require.NoError(t, err)

	// WHEN: Viewing the account
	rec := s.do(http.MethodGet, "/api/accounts/sav-m-1", nil)

	// THEN: The ledger wins and the mismatch is reported
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decode[AccountDetailDTO](t, rec)
	assert.Equal(t, "10501.00", acct.Balance)
	assert.Equal(t, "10500.00", acct.LedgerBalance)
	assert.True(t, acct.Drift)
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newTestServer(t)

	requireError(t, s.do(http.MethodGet, "/api/accounts/nope", nil), http.StatusNotFound, bank.CodeAccountNotFound)
}

func TestListEntries_Filters(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	// All of m-2's history
	rec := s.do(http.MethodGet, "/api/accounts/sav-m-2/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]EntryDTO](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, "withdrawal", entries[1].Kind)
	assert.Equal(t, "-3000.00", entries[1].SignedAmount)
	assert.Equal(t, "2000.00", entries[1].BalanceAfter)

	// Only withdrawals
	rec = s.do(http.MethodGet, "/api/accounts/sav-m-2/entries?kind=withdrawal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EntryDTO](t, rec), 1)

	// Only inside the quarter
	rec = s.do(http.MethodGet, "/api/accounts/sav-m-2/entries?from=2024-07-01T00:00:00Z&to=2024-09-30T23:59:59Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EntryDTO](t, rec), 2)

	requireError(t, s.do(http.MethodGet, "/api/accounts/sav-m-2/entries?kind=bonus", nil),
		http.StatusBadRequest, bank.CodeInvalidInput)
	requireError(t, s.do(http.MethodGet, "/api/accounts/sav-m-2/entries?from=yesterday", nil),
		http.StatusBadRequest, bank.CodeInvalidInput)
}

func TestTeller_DepositAndWithdraw(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	rec := s.do(http.MethodPost, "/api/accounts/sav-m-2/deposit", MovementRequest{Amount: "250.50", Actor: "teller-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[ReceiptDTO](t, rec)
	assert.Equal(t, "6250.50", receipt.Account.Balance)
	assert.Equal(t, "deposit", receipt.Entry.Kind)
	assert.Equal(t, "teller-1", receipt.Entry.Actor)

	rec = s.do(http.MethodPost, "/api/accounts/sav-m-2/withdraw", MovementRequest{
		Amount:      "6150.50",
		Narration:   "Closing out",
		EffectiveAt: "2024-10-14T09:00:00Z",
		Actor:       "teller-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt = decode[ReceiptDTO](t, rec)
	assert.Equal(t, "100.00", receipt.Account.Balance)
	assert.Equal(t, "Closing out", receipt.Entry.Narration)
	assert.Equal(t, "2024-10-14T09:00:00Z", receipt.Entry.EffectiveAt)
}

func TestTeller_Rejections(t *testing.T) {
	s := newTestServer(t)
	s.load("quarter-end")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"non-numeric amount", "/api/accounts/sav-m-2/deposit", MovementRequest{Amount: "ten", Actor: "t"}, http.StatusBadRequest, bank.CodeInvalidInput},
		{"three decimals", "/api/accounts/sav-m-2/deposit", MovementRequest{Amount: "1.005", Actor: "t"}, http.StatusBadRequest, bank.CodeInvalidAmount},
		{"zero amount", "/api/accounts/sav-m-2/deposit", MovementRequest{Amount: "0", Actor: "t"}, http.StatusBadRequest, bank.CodeInvalidAmount},
		{"missing actor", "/api/accounts/sav-m-2/deposit", MovementRequest{Amount: "10"}, http.StatusBadRequest, bank.CodeInvalidInput},
		{"bad effective time", "/api/accounts/sav-m-2/deposit", MovementRequest{Amount: "10", EffectiveAt: "14/10/2024", Actor: "t"}, http.StatusBadRequest, bank.CodeInvalidInput},
		{"future effective time", "/api/accounts/sav-m-2/deposit", MovementRequest{Amount: "10", EffectiveAt: "2024-10-16T00:00:00Z", Actor: "t"}, http.StatusBadRequest, bank.CodeInvalidInput},
		{"unknown field", "/api/accounts/sav-m-2/deposit", map[string]string{"amount": "10", "actor": "t", "memo": "x"}, http.StatusBadRequest, bank.CodeInvalidInput},
		{"unknown account", "/api/accounts/nope/deposit", MovementRequest{Amount: "10", Actor: "t"}, http.StatusNotFound, bank.CodeAccountNotFound},
		{"below minimum", "/api/accounts/sav-m-2/withdraw", MovementRequest{Amount: "5900.01", Actor: "t"}, http.StatusConflict, bank.CodeMinimumBalance},
		{"insufficient", "/api/accounts/sav-m-2/withdraw", MovementRequest{Amount: "6000.01", Actor: "t"}, http.StatusConflict, bank.CodeInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, s.do(http.MethodPost, tt.path, tt.body), tt.status, tt.code)
		})
	}

	// Nothing moved.
	acct, err := s.store.GetAccountByID(s.ctx, "sav-m-2")
	require.NoError(t, err)
	assert.Equal(t, "6000.00", acct.Balance.StringFixed(2))
}

// =============================================================================
// FIXED DEPOSITS
// =============================================================================

func fdAccountID(t *testing.T, s *testServer, partyID string) string {
	t.Helper()
	acct, err := s.store.GetAccount(s.ctx, partyID, "FD")
	require.NoError(t, err)
	return acct.ID
}

func TestFD_OpenAndPreview(t *testing.T) {
	// GIVEN: The ladder scenario; m-5 joins with a savings account
	s := newTestServer(t)
	s.load("fd-ladder")
	require.NoError(t, s.handler.seedParty(s.ctx, "m-5", "Eve", bank.PartyMember, bank.PartyActive, testNow))
	payout, err := s.handler.openSavings(s.ctx, "m-5", "SAV", testNow)
	require.NoError(t, err)

	// WHEN: Opening for 180 days
	tenor := 180
	rec := s.do(http.MethodPost, "/api/fd", OpenFDRequest{
		PartyID:         "m-5",
		ProductCode:     "FD",
		Principal:       "12000.00",
		TenorDays:       &tenor,
		PayoutAccountID: payout,
		Actor:           "branch-7",
	})

	// THEN: Terms are locked from the rate table
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[FDOutcomeDTO](t, rec)
	assert.Equal(t, fixeddeposit.ActionOpened, out.Action)
	assert.Equal(t, "12000.00", out.Account.Balance)
	require.NotNil(t, out.Account.Terms)
	assert.Equal(t, 180, out.Terms.TenorDays)
	assert.Equal(t, "6.25", out.Terms.AnnualRate)
	assert.Equal(t, "12000.00", out.Terms.OpenPrincipal)
	assert.Equal(t, testNow.AddDate(0, 0, 180).Format(time.RFC3339Nano), out.Account.MaturityAt)

	// AND: Opening a second one for the same party conflicts
	rec = s.do(http.MethodPost, "/api/fd", OpenFDRequest{
		PartyID: "m-5", ProductCode: "FD", Principal: "1.00", PayoutAccountID: payout, Actor: "branch-7",
	})
	requireError(t, rec, http.StatusConflict, bank.CodeDuplicateAccount)

	// WHEN: Previewing maturity
	rec = s.do(http.MethodGet, "/api/fd/"+out.Account.ID+"/preview/maturity", nil)

	// THEN: 12,000 x 6.25% x 180/365 = 369.86
	require.Equal(t, http.StatusOK, rec.Code)
	maturity := decode[fixeddeposit.MaturityPreview](t, rec)
	assert.Equal(t, "369.86", maturity.Interest.StringFixed(2))
	assert.False(t, maturity.Matured)

	// WHEN: Previewing a same-day premature close
	rec = s.do(http.MethodGet, "/api/fd/"+out.Account.ID+"/preview/premature", nil)

	// THEN: Below the threshold, principal only
	require.Equal(t, http.StatusOK, rec.Code)
	premature := decode[fixeddeposit.PrematurePreview](t, rec)
	assert.False(t, premature.InterestEligible)
	assert.True(t, premature.Interest.IsZero())
	assert.Equal(t, "12000.00", premature.Total.StringFixed(2))
}

func TestFD_OpenValidation(t *testing.T) {
	s := newTestServer(t)
	s.load("fd-ladder")

	zero := 0
	tests := []struct {
		name   string
		body   OpenFDRequest
		status int
		code   string
	}{
		{"missing party", OpenFDRequest{ProductCode: "FD", Principal: "10", PayoutAccountID: "sav-m-1", Actor: "a"}, http.StatusBadRequest, bank.CodeInvalidInput},
		{"zero tenor", OpenFDRequest{PartyID: "m-1", ProductCode: "FD", Principal: "10", TenorDays: &zero, PayoutAccountID: "sav-m-1", Actor: "a"}, http.StatusBadRequest, bank.CodeInvalidInput},
		{"negative principal", OpenFDRequest{PartyID: "m-1", ProductCode: "FD", Principal: "-10", PayoutAccountID: "sav-m-1", Actor: "a"}, http.StatusBadRequest, bank.CodeInvalidAmount},
		{"unknown party", OpenFDRequest{PartyID: "ghost", ProductCode: "FD", Principal: "10", PayoutAccountID: "sav-m-1", Actor: "a"}, http.StatusNotFound, bank.CodePartyNotFound},
		{"savings is not FD", OpenFDRequest{PartyID: "m-1", ProductCode: "SAV", Principal: "10", PayoutAccountID: "sav-m-1", Actor: "a"}, http.StatusConflict, bank.CodeIneligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, s.do(http.MethodPost, "/api/fd", tt.body), tt.status, tt.code)
		})
	}
}

func TestFD_PrematureClosePaysPrincipal(t *testing.T) {
	s := newTestServer(t)
	s.load("fd-ladder")
	id := fdAccountID(t, s, "m-1")

	rec := s.do(http.MethodPost, "/api/fd/"+id+"/premature-close", ActorRequest{Actor: "branch-7"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[FDOutcomeDTO](t, rec)
	assert.Equal(t, fixeddeposit.ActionPrematureClosed, out.Action)
	assert.Equal(t, "closed", out.Account.Status)
	assert.Equal(t, "0.00", out.Account.Balance)
	assert.Equal(t, "10000.00", out.PaidOut)

	payout, err := s.store.GetAccountByID(s.ctx, "sav-m-1")
	require.NoError(t, err)
	assert.Equal(t, "11000.00", payout.Balance.StringFixed(2))

	// Closed deposits cannot be closed twice.
	rec = s.do(http.MethodPost, "/api/fd/"+id+"/premature-close", ActorRequest{Actor: "branch-7"})
	requireError(t, rec, http.StatusConflict, bank.CodeInactiveAccount)
}

func TestFD_MatureBeforeMaturityConflicts(t *testing.T) {
	s := newTestServer(t)
	s.load("fd-ladder")

	rec := s.do(http.MethodPost, "/api/fd/"+fdAccountID(t, s, "m-3")+"/mature", MatureFDRequest{Actor: "ops"})

	requireError(t, rec, http.StatusConflict, bank.CodeNotMatured)
}

func TestFD_MatureWithdraw(t *testing.T) {
	// GIVEN: fd-m-4 opened 95 days ago for 90 days at 5.50% on 20,000
	s := newTestServer(t)
	s.load("fd-ladder")

	rec := s.do(http.MethodGet, "/api/fd/fd-m-4/preview/maturity", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[fixeddeposit.MaturityPreview](t, rec)
	assert.True(t, preview.Matured)
	assert.Equal(t, "271.23", preview.Interest.StringFixed(2))

	// WHEN: Withdrawing at maturity
	rec = s.do(http.MethodPost, "/api/fd/fd-m-4/mature", MatureFDRequest{Actor: "ops"})

	// THEN: Principal plus interest reach the payout account
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[FDOutcomeDTO](t, rec)
	assert.Equal(t, fixeddeposit.ActionMaturedWithdraw, out.Action)
	assert.Equal(t, "20271.23", out.PaidOut)
	payout, err := s.store.GetAccountByID(s.ctx, "sav-m-4")
	require.NoError(t, err)
	assert.Equal(t, "21271.23", payout.Balance.StringFixed(2))
}

func TestFD_MatureRenewCompounds(t *testing.T) {
	s := newTestServer(t)
	s.load("fd-ladder")

	rec := s.do(http.MethodPost, "/api/fd/fd-m-4/mature", MatureFDRequest{
		Renew: true, NewTenorDays: 365, Mode: string(fixeddeposit.PrincipalPlusInterest), Actor: "ops",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[FDOutcomeDTO](t, rec)
	assert.Equal(t, fixeddeposit.ActionRenewed, out.Action)
	assert.Equal(t, "20271.23", out.Account.Balance)
	assert.Equal(t, 365, out.Terms.TenorDays)
	assert.Equal(t, "7", out.Terms.AnnualRate)
	assert.Equal(t, "20271.23", out.Terms.OpenPrincipal)
	assert.Equal(t, "0.00", out.PaidOut)
}

func TestFD_RenewRejectsUnknownMode(t *testing.T) {
	s := newTestServer(t)
	s.load("fd-ladder")

	rec := s.do(http.MethodPost, "/api/fd/fd-m-4/mature", MatureFDRequest{Renew: true, NewTenorDays: 90, Mode: "everything", Actor: "ops"})

	requireError(t, rec, http.StatusBadRequest, bank.CodeInvalidInput)
}

func TestFD_RenewRequiresMode(t *testing.T) {
	s := newTestServer(t)
	s.load("fd-ladder")

	rec := s.do(http.MethodPost, "/api/fd/fd-m-4/mature", MatureFDRequest{Renew: true, NewTenorDays: 365, Actor: "ops"})

	requireError(t, rec, http.StatusBadRequest, bank.CodeInvalidInput)
	acct, err := s.store.GetAccountByID(s.ctx, "fd-m-4")
	require.NoError(t, err)
	assert.Equal(t, bank.AccountActive, acct.Status)
	assert.Equal(t, "20000.00", acct.Balance.StringFixed(2))
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestProducts_ListAndGet(t *testing.T) {
	s := newTestServer(t)
	s.load("fd-ladder")

	rec := s.do(http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decode[[]ProductDTO](t, rec)
	assert.Len(t, products, 2)

	rec = s.do(http.MethodGet, "/api/products/SAV", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sav := decode[ProductDTO](t, rec)
	assert.Equal(t, string(bank.MethodQuarterlyMinBalance), sav.InterestMethod)
	require.NotNil(t, sav.AnnualRate)
	assert.Equal(t, "4", *sav.AnnualRate)
	// Four members funded with 1,000 each.
	assert.Equal(t, "4000.00", sav.TotalBalance)

	requireError(t, s.do(http.MethodGet, "/api/products/NOPE", nil), http.StatusNotFound, bank.CodeProductNotFound)
}
