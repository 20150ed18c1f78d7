/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that seed a freshly deployed contract with
	realistic packages, funded stakers and a funded reserve.

AVAILABLE SCENARIOS:

	standard-packages: 30/90/365 day packages at 6/9/15 percent
	demo-stakers:      Mint and approve tokens for three demo stakers
	funded-reserve:    Link the registered reserve and fund it
	full-demo:         All of the above, then each staker deposits

HOW SCENARIOS WORK:
 1. Caller must be the contract owner
 2. Loaders go through the engine and the token, never the store
 3. Loaders are additive: loading twice adds another set of packages

Nothing is reset. The ledger is append-only and a stake cannot be undone,
so a clean slate means a fresh database.

USAGE VIA API:

	POST /api/scenarios/load
	X-Caller-Address: <owner>
	{"scenario_id": "full-demo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, owner)
 3. Add case to scenarioLoader

NOTE:

	Demo stakers' approvals are granted server-side. Only use in
	development/demo environments.

SEE ALSO:
  - handlers.go: Handler and request helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/stake-ledger/staking"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-packages",
		Name:        "Standard Packages",
		Description: "30, 90 and 365 day packages at 6%, 9% and 15% per year",
	},
	{
		ID:          "demo-stakers",
		Name:        "Demo Stakers",
		Description: "Three stakers with 1000 tokens each, approved for the contract",
	},
	{
		ID:          "funded-reserve",
		Name:        "Funded Reserve",
		Description: "Registered reserve linked to the contract and funded with 100000 tokens",
	},
	{
		ID:          "full-demo",
		Name:        "Full Demo",
		Description: "Packages, funded reserve and stakers with open positions",
	},
}

// DemoStakers are the accounts funded by the demo-stakers scenario.
var DemoStakers = []staking.Address{
	staking.MustParseAddress("0x00000000000000000000000000000000000000d1"),
	staking.MustParseAddress("0x00000000000000000000000000000000000000d2"),
	staking.MustParseAddress("0x00000000000000000000000000000000000000d3"),
}

var standardPackages = []staking.PackageParams{
	{Rate: 6, RateDecimals: 2, MinStakeAmount: staking.EtherFraction(1, 10), LockDuration: uint64(30 * 24 * time.Hour / time.Second)},
	{Rate: 9, RateDecimals: 2, MinStakeAmount: staking.Ether(1), LockDuration: uint64(90 * 24 * time.Hour / time.Second)},
	{Rate: 15, RateDecimals: 2, MinStakeAmount: staking.Ether(10), LockDuration: uint64(365 * 24 * time.Hour / time.Second)},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario. Owner only.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	load := h.scenarioLoader(req.ScenarioID)
	if load == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if !h.requireOwner(w, r, caller) {
		return
	}

	if err := load(r.Context(), caller); err != nil {
		h.respondError(w, r, fmt.Errorf("scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Log.WithField("scenario", req.ScenarioID).Info("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) scenarioLoader(id string) func(ctx context.Context, owner staking.Address) error {
	switch id {
	case "standard-packages":
		return h.loadStandardPackagesScenario
	case "demo-stakers":
		return h.loadDemoStakersScenario
	case "funded-reserve":
		return h.loadFundedReserveScenario
	case "full-demo":
		return h.loadFullDemoScenario
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardPackagesScenario(ctx context.Context, owner staking.Address) error {
	_, err := h.addStandardPackages(ctx, owner)
	return err
}

func (h *Handler) addStandardPackages(ctx context.Context, owner staking.Address) ([]staking.StakePackage, error) {
	out := make([]staking.StakePackage, 0, len(standardPackages))
	for _, params := range standardPackages {
		pkg, err := h.Engine.AddStakePackage(ctx, owner, params)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, nil
}

func (h *Handler) loadDemoStakersScenario(ctx context.Context, _ staking.Address) error {
	allowance := staking.Ether(1000)
	for _, staker := range DemoStakers {
		if err := h.Token.Mint(ctx, staker, staking.Ether(1000)); err != nil {
			return err
		}
		if err := h.Token.Approve(ctx, staker, h.Engine.Address(), allowance); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadFundedReserveScenario(ctx context.Context, owner staking.Address) error {
	current, err := h.Engine.Reserve(ctx)
	if err != nil {
		return err
	}

	if staking.IsZeroAddress(current) {
		if h.Reserves == nil {
			return staking.ErrReserveNotConfigured
		}
		for _, res := range h.Reserves.List() {
			if res.IsLinked(h.Engine.Address(), h.Engine.TokenAddress()) {
				current = res.Address()
				break
			}
		}
		if staking.IsZeroAddress(current) {
			return staking.ErrReserveNotConfigured
		}
		if err := h.Engine.SetReserve(ctx, owner, current); err != nil {
			return err
		}
	}

	return h.Token.Mint(ctx, current, staking.Ether(100_000))
}

func (h *Handler) loadFullDemoScenario(ctx context.Context, owner staking.Address) error {
	pkgs, err := h.addStandardPackages(ctx, owner)
	if err != nil {
		return err
	}
	if err := h.loadFundedReserveScenario(ctx, owner); err != nil {
		return err
	}
	if err := h.loadDemoStakersScenario(ctx, owner); err != nil {
		return err
	}

	// Staker i deposits 10*(i+1) tokens into package i
	for i, staker := range DemoStakers {
		pkg := pkgs[i%len(pkgs)]
		if _, err := h.Engine.Stake(ctx, staker, pkg.ID, staking.Ether(int64(10*(i+1)))); err != nil {
			return err
		}
	}
	return nil
}
