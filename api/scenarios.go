/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a program,
	contributors, contributions and claims that demonstrate specific
	engine behavior. Every step goes through the engine, so the audit
	trail of a scenario is the same as if a client had made the calls.

AVAILABLE SCENARIOS:

	caps:          Per-type and monthly caps clamping awards
	distribution:  Two contributors splitting a 250-token pool
	multi-period:  Claims, a rollover and a fresh period
	unverified:    A claim rejected until the authority verifies

HOW SCENARIOS WORK:
 1. Refuse unless the store is empty or the caller is its program authority
 2. Reset store (clear all data)
 3. Initialize the program as ScenarioAuthority
 4. Create and verify contributors
 5. Record contributions and claim

Points depend on the rules the server runs with; the descriptions assume
one point per unit of magnitude.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "distribution"}

NOTE:

	Scenarios reset the store. The routes are only mounted when the router
	is built with DemoScenarios (config: server.demo_scenarios).

SEE ALSO:
  - handlers.go: Handler struct
  - rewards/policies.go: Rule presets
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
)

// ScenarioAuthority is the program authority of every demo scenario.
const ScenarioAuthority generic.Identity = "demo-authority"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "caps",
		Name:        "Caps",
		Description: "500 pull_request points clamped to 400 by the per-type cap, a second pull_request awarded 0, then 300 code_review points",
	},
	{
		ID:          "distribution",
		Name:        "Distribution",
		Description: "Reserve 1000 at 25% gives a 250-token pool; two contributors with 500 points each, the first claims 125",
	},
	{
		ID:          "multi-period",
		Name:        "Multi-Period",
		Description: "Both contributors claim in period 1, the period is advanced and new points are recorded in period 2",
	},
	{
		ID:          "unverified",
		Name:        "Unverified Contributor",
		Description: "A contributor with points who has not been verified yet and cannot claim",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"caps":         (*Handler).loadCapsScenario,
	"distribution": (*Handler).loadDistributionScenario,
	"multi-period": (*Handler).loadMultiPeriodScenario,
	"unverified":   (*Handler).loadUnverifiedScenario,
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, map[string]any{"scenario": s})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
}

// LoadScenario resets the store and loads a scenario. Once a program exists
// only its authority may replace it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if _, known := scenarioLoaders[req.ScenarioID]; !known {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("unknown scenario: %s", req.ScenarioID))
		return
	}
	if err := h.loadScenario(r.Context(), ActorFrom(r.Context()), req.ScenarioID); err != nil {
		if generic.IsAuthError(err) {
			writeEngineError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

func (h *Handler) loadScenario(ctx context.Context, actor generic.Identity, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return fmt.Errorf("unknown scenario: %s", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, err := h.Engine.Config(ctx)
	switch {
	case err == nil:
		if !cfg.Authority.Matches(actor) {
			return generic.NewOperationError("load_scenario", generic.ErrUnauthorized, actor)
		}
	case !errors.Is(err, generic.ErrNotInitialized):
		return err
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.currentScenario = ""
	if err := load(h, ctx); err != nil {
		return err
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadCapsScenario(ctx context.Context) error {
	if err := h.setupProgram(ctx, 1000, 400, 5000, 1000); err != nil {
		return err
	}
	if err := h.addContributor(ctx, "alice", true); err != nil {
		return err
	}
	return h.record(ctx, "alice",
		contribution{rewards.TypePullRequest, 500},
		contribution{rewards.TypePullRequest, 100},
		contribution{rewards.TypeCodeReview, 300},
	)
}

func (h *Handler) loadDistributionScenario(ctx context.Context) error {
	if err := h.setupProgram(ctx, 1000, 400, 2500, 1000); err != nil {
		return err
	}
	for _, id := range []generic.Identity{"alice", "bob"} {
		if err := h.addContributor(ctx, id, true); err != nil {
			return err
		}
		if err := h.record(ctx, id,
			contribution{rewards.TypePullRequest, 250},
			contribution{rewards.TypeCodeReview, 250},
		); err != nil {
			return err
		}
	}
	return h.claim(ctx, "alice")
}

func (h *Handler) loadMultiPeriodScenario(ctx context.Context) error {
	if err := h.loadDistributionScenario(ctx); err != nil {
		return err
	}
	if err := h.claim(ctx, "bob"); err != nil {
		return err
	}
	if _, err := h.Engine.AdvancePeriod(ctx, ScenarioAuthority); err != nil {
		return err
	}
	if err := h.record(ctx, "alice", contribution{rewards.TypeDocumentation, 120}); err != nil {
		return err
	}
	return h.record(ctx, "bob", contribution{rewards.TypeBugReport, 40})
}

func (h *Handler) loadUnverifiedScenario(ctx context.Context) error {
	if err := h.setupProgram(ctx, 1000, 400, 5000, 1000); err != nil {
		return err
	}
	if err := h.addContributor(ctx, "carol", false); err != nil {
		return err
	}
	return h.record(ctx, "carol", contribution{rewards.TypeCommunitySupport, 200})
}

// =============================================================================
// HELPERS
// =============================================================================

type contribution struct {
	Type      rewards.ContributionType
	Magnitude int64
}

func (h *Handler) setupProgram(ctx context.Context, threshold, perType uint64, ratio uint16, reserve uint64) error {
	_, err := h.Engine.Initialize(ctx, ScenarioAuthority, rewards.InitializeArgs{
		MonthlyThreshold: threshold,
		ReserveRatio:     ratio,
		MaxPointsPerType: perType,
		InitialReserve:   reserve,
		Schedule:         generic.PeriodConfig{Type: generic.PeriodManual},
	})
	return err
}

// addContributor creates a contributor owned by an identity of the same name.
func (h *Handler) addContributor(ctx context.Context, id generic.Identity, verified bool) error {
	if _, err := h.Engine.CreateContributor(ctx, id, id); err != nil {
		return err
	}
	if !verified {
		return nil
	}
	_, err := h.Engine.SetVerified(ctx, ScenarioAuthority, id, true)
	return err
}

func (h *Handler) record(ctx context.Context, id generic.Identity, contributions ...contribution) error {
	for _, c := range contributions {
		if _, err := h.Engine.Record(ctx, rewards.RecordInput{
			ContributorID: id,
			Actor:         id,
			Type:          c.Type,
			Magnitude:     c.Magnitude,
		}); err != nil {
			return fmt.Errorf("record %s for %s: %w", c.Type, id, err)
		}
	}
	return nil
}

func (h *Handler) claim(ctx context.Context, id generic.Identity) error {
	_, err := h.Engine.Distribute(ctx, rewards.DistributeInput{ContributorID: id, Actor: id})
	return err
}
