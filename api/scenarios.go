/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates products, parties and accounts,
	then drives the teller and fixed deposit engines so every balance is
	backed by ledger entries.

AVAILABLE SCENARIOS:

	quarter-end:    Savings accounts with history in the quarter that just
	                ended: steady saver, a dip below the opening balance,
	                a mid-quarter joiner and an inactive member
	fd-ladder:      Fixed deposits at 90/180/365 days plus one that has
	                already matured and is ready to withdraw or renew
	unconfigured-fd: A fixed deposit product with no rate table; the first
	                open heals its configuration

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create products via factory presets
 3. Create parties and their savings accounts
 4. Post history through the teller, backdated relative to "now"
 5. Open fixed deposits through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "quarter-end"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: engine endpoints to try after loading
  - factory/presets.go: product definitions
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/factory"
	"github.com/warp/deposit-engine/fixeddeposit"
	"github.com/warp/deposit-engine/teller"
)

const scenarioActor = "scenario"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "quarter-end",
		Name:        "Quarter End",
		Description: "Savings history in the quarter that just ended, ready to preview, run and reverse",
	},
	{
		ID:          "fd-ladder",
		Name:        "Fixed Deposit Ladder",
		Description: "Fixed deposits across three tenors plus one matured deposit",
	},
	{
		ID:          "unconfigured-fd",
		Name:        "Unconfigured Fixed Deposit",
		Description: "Fixed deposit product with no rate table, healed on first open",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "quarter-end":
		load = h.loadQuarterEndScenario
	case "fd-ladder":
		load = h.loadFDLadderScenario
	case "unconfigured-fd":
		load = h.loadUnconfiguredFDScenario
	default:
		writeError(w, http.StatusBadRequest, "unknown scenario", bank.CodeInvalidInput,
			fmt.Errorf("scenario %q not found", req.ScenarioID))
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID, load); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// LoadScenarioByID resets the store and runs load. Loads are serialized so
// two concurrent requests cannot interleave their seeding.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string, load func(context.Context) error) error {
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return bank.Errorf(bank.ErrStateConflict, bank.CodeIneligible, "store does not support reset")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := resetter.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""
	if err := load(ctx); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	h.logger.Info("scenario loaded", slog.String("scenario", id))
	return nil
}

// =============================================================================
// QUARTER END
// =============================================================================

// loadQuarterEndScenario seeds SAV history around the previous quarter.
// At 4% p.a. the expected batch is: m-1 100.00 on 10,000.00, m-2 20.00 on a
// 2,000.00 minimum, m-3 nothing (joined mid-quarter, minimum 0), m-4
// excluded (inactive).
func (h *Handler) loadQuarterEndScenario(ctx context.Context) error {
	period, err := h.previousQuarter()
	if err != nil {
		return err
	}
	sav := factory.SavingsProduct("SAV", "Member Savings", "4")
	sav.MinBalance = decimal.NewFromInt(100)
	if err := h.Store.CreateProduct(ctx, sav); err != nil {
		return err
	}

	before := period.Start.AddDate(0, 0, -30)
	members := []struct {
		id, name string
		status   bank.PartyStatus
		opened   time.Time
	}{
		{"m-1", "Asha Raman", bank.PartyActive, before},
		{"m-2", "Bilal Okafor", bank.PartyActive, before},
		{"m-3", "Chen Wei", bank.PartyActive, period.Start.AddDate(0, 0, 45)},
		{"m-4", "Dara Novak", bank.PartyInactive, before},
	}
	for _, m := range members {
		if err := h.seedParty(ctx, m.id, m.name, bank.PartyMember, m.status, m.opened); err != nil {
			return err
		}
		if _, err := h.openSavings(ctx, m.id, "SAV", m.opened); err != nil {
			return err
		}
	}

	steps := []struct {
		withdraw bool
		account  string
		amount   string
		at       time.Time
	}{
		{false, "sav-m-1", "10000.00", before},
		{false, "sav-m-2", "5000.00", before},
		{true, "sav-m-2", "3000.00", period.Start.AddDate(0, 0, 20)},
		{false, "sav-m-2", "4000.00", period.Start.AddDate(0, 0, 40)},
		{false, "sav-m-3", "8000.00", period.Start.AddDate(0, 0, 45)},
		{false, "sav-m-4", "7500.00", before},
		// Today, after the quarter closed; never affects its interest.
		{false, "sav-m-1", "500.00", time.Time{}},
	}
	for _, s := range steps {
		if err := h.move(ctx, s.withdraw, s.account, s.amount, s.at); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// FIXED DEPOSIT LADDER
// =============================================================================

func (h *Handler) loadFDLadderScenario(ctx context.Context) error {
	if err := h.Store.CreateProduct(ctx, factory.SavingsProduct("SAV", "Member Savings", "4")); err != nil {
		return err
	}
	fd := factory.FixedDepositProduct("FD", "Term Deposit",
		factory.Tier(90, "5.50"),
		factory.Tier(180, "6.25"),
		factory.Tier(365, "7.00"),
	)
	if err := h.Store.CreateProduct(ctx, fd); err != nil {
		return err
	}

	now := h.now().UTC()
	ladder := []struct {
		id, name  string
		tenor     int
		principal string
	}{
		{"m-1", "Asha Raman", 90, "10000.00"},
		{"m-2", "Bilal Okafor", 180, "25000.00"},
		{"m-3", "Chen Wei", 365, "50000.00"},
	}
	for _, l := range ladder {
		payout, err := h.memberWithSavings(ctx, l.id, l.name, now.AddDate(-1, 0, 0), "1000.00")
		if err != nil {
			return err
		}
		tenor := l.tenor
		if _, err := h.Deposits.Open(ctx, fixeddeposit.OpenRequest{
			PartyID:         l.id,
			ProductCode:     "FD",
			Principal:       decimal.RequireFromString(l.principal),
			TenorDays:       &tenor,
			PayoutAccountID: payout,
			Actor:           scenarioActor,
		}); err != nil {
			return err
		}
	}

	// m-4 opened 95 days ago for 90 days, so it has matured.
	payout, err := h.memberWithSavings(ctx, "m-4", "Dara Novak", now.AddDate(-1, 0, 0), "1000.00")
	if err != nil {
		return err
	}
	opened := now.AddDate(0, 0, -95)
	return h.seedMaturedDeposit(ctx, "fd-m-4", "m-4", fd, payout, opened, 90, "5.50", "20000.00")
}

// seedMaturedDeposit writes a backdated fixed deposit directly: the engine
// always opens at the current instant.
func (h *Handler) seedMaturedDeposit(ctx context.Context, id, partyID string, fd bank.Product, payoutID string, opened time.Time, tenor int, rate, principal string) error {
	amount := decimal.RequireFromString(principal)
	maturity := opened.AddDate(0, 0, tenor)
	acct := bank.Account{
		ID:              id,
		PartyID:         partyID,
		ProductCode:     fd.Code,
		Category:        fd.Category,
		Status:          bank.AccountActive,
		Balance:         decimal.Zero,
		OpenedAt:        opened,
		MaturityAt:      &maturity,
		PayoutAccountID: payoutID,
	}
	acct.SetTermSnapshot(bank.TermSnapshot{
		TenorDays:                tenor,
		AnnualRate:               decimal.RequireFromString(rate),
		PrematureThresholdMonths: factory.DefaultPrematureThresholdMonths,
		PrematureAnnualRate:      factory.DefaultPrematureAnnualRate,
		OpenPrincipal:            amount,
	})
	return h.Store.WithTx(ctx, func(tx bank.Store) error {
		if err := tx.CreateAccount(ctx, acct); err != nil {
			return err
		}
		_, _, err := bank.NewPoster(tx, h.logger).WithNow(h.now).Post(ctx, bank.Posting{
			AccountID:   id,
			Kind:        bank.EntryDeposit,
			Amount:      amount,
			Narration:   fmt.Sprintf("Fixed deposit principal, %d days @ %s%% p.a.", tenor, rate),
			EffectiveAt: opened,
			Actor:       scenarioActor,
		})
		return err
	})
}

// =============================================================================
// UNCONFIGURED FIXED DEPOSIT
// =============================================================================

func (h *Handler) loadUnconfiguredFDScenario(ctx context.Context) error {
	if err := h.Store.CreateProduct(ctx, factory.SavingsProduct("SAV", "Member Savings", "4")); err != nil {
		return err
	}
	legacy := factory.FixedDepositProduct("FD-LEGACY", "Legacy Term Deposit")
	legacy.ConfigJSON = ""
	if err := h.Store.CreateProduct(ctx, legacy); err != nil {
		return err
	}

	now := h.now().UTC()
	payout, err := h.memberWithSavings(ctx, "m-1", "Asha Raman", now.AddDate(-1, 0, 0), "2500.00")
	if err != nil {
		return err
	}
	if err := h.seedParty(ctx, "m-2", "Bilal Okafor", bank.PartyMember, bank.PartyActive, now.AddDate(-1, 0, 0)); err != nil {
		return err
	}
	if _, err := h.openSavings(ctx, "m-2", "SAV", now.AddDate(-1, 0, 0)); err != nil {
		return err
	}

	// The first open resolves against the healed default table.
	_, err = h.Deposits.Open(ctx, fixeddeposit.OpenRequest{
		PartyID:         "m-1",
		ProductCode:     "FD-LEGACY",
		Principal:       decimal.RequireFromString("15000.00"),
		PayoutAccountID: payout,
		Actor:           scenarioActor,
	})
	return err
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

func (h *Handler) previousQuarter() (bank.Period, error) {
	key, err := bank.PreviousQuarter(bank.QuarterFor(h.now().UTC()))
	if err != nil {
		return bank.Period{}, err
	}
	return bank.QuarterPeriod(key)
}

func (h *Handler) seedParty(ctx context.Context, id, name string, typ bank.PartyType, status bank.PartyStatus, joined time.Time) error {
	return h.Store.SaveParty(ctx, bank.Party{
		ID:       id,
		Name:     name,
		Type:     typ,
		Status:   status,
		JoinedAt: joined,
	})
}

// openSavings creates the party's account for a savings product. The id is
// derived from the party so scenarios can address it.
func (h *Handler) openSavings(ctx context.Context, partyID, productCode string, opened time.Time) (string, error) {
	id := "sav-" + partyID
	err := h.Store.CreateAccount(ctx, bank.Account{
		ID:          id,
		PartyID:     partyID,
		ProductCode: productCode,
		Category:    bank.CategoryDeposit,
		Status:      bank.AccountActive,
		Balance:     decimal.Zero,
		OpenedAt:    opened,
	})
	return id, err
}

func (h *Handler) memberWithSavings(ctx context.Context, id, name string, joined time.Time, opening string) (string, error) {
	if err := h.seedParty(ctx, id, name, bank.PartyMember, bank.PartyActive, joined); err != nil {
		return "", err
	}
	acct, err := h.openSavings(ctx, id, "SAV", joined)
	if err != nil {
		return "", err
	}
	return acct, h.move(ctx, false, acct, opening, joined)
}

func (h *Handler) move(ctx context.Context, withdraw bool, accountID, amount string, at time.Time) error {
	m := teller.Movement{
		AccountID:   accountID,
		Amount:      decimal.RequireFromString(amount),
		EffectiveAt: at,
		Actor:       scenarioActor,
	}
	var err error
	if withdraw {
		_, err = h.Teller.Withdraw(ctx, m)
	} else {
		_, err = h.Teller.Deposit(ctx, m)
	}
	return err
}
