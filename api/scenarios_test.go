package api

import (
	"net/http"
	"testing"
)

func newDemoAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPI(t, RouterOptions{DemoScenarios: true})
}

func TestLoadScenario_AllScenariosKeepInvariants(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			a := newDemoAPI(t)

			rec := a.do("POST", "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: s.ID})
			expectStatus(t, rec, http.StatusOK)

			report := decode[InvariantReportDTO](t, a.do("GET", "/api/admin/invariants", "", nil))
			if !report.OK {
				t.Errorf("Scenario %s violates invariants: %v", s.ID, report.Violations)
			}

			current := decode[map[string]ScenarioDTO](t, a.do("GET", "/api/scenarios/current", "", nil))
			if current["scenario"].ID != s.ID {
				t.Errorf("Expected current scenario %s, got %+v", s.ID, current)
			}
		})
	}
}

func TestLoadScenario_Caps(t *testing.T) {
	a := newDemoAPI(t)
	expectStatus(t, a.do("POST", "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "caps"}), http.StatusOK)

	c := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if c.CurrentMonthPoints != 700 || c.TypePoints["pull_request"] != 400 || c.TypePoints["code_review"] != 300 {
		t.Errorf("Unexpected caps scenario state: %+v", c)
	}
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	// GIVEN: The distribution scenario is loaded (alice and bob)
	a := newDemoAPI(t)
	expectStatus(t, a.do("POST", "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "distribution"}), http.StatusOK)
	alice := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if alice.TokensClaimed != 125 {
		t.Fatalf("Expected alice to have claimed 125, got %d", alice.TokensClaimed)
	}

	// WHEN: The scenario authority loads the unverified scenario
	expectStatus(t, a.do("POST", "/api/scenarios/load", string(ScenarioAuthority), LoadScenarioRequest{ScenarioID: "unverified"}), http.StatusOK)

	// THEN: Only carol exists and she cannot claim
	contributors := decode[[]ContributorDTO](t, a.do("GET", "/api/contributors", "", nil))
	if len(contributors) != 1 || contributors[0].ID != "carol" {
		t.Fatalf("Expected only carol, got %+v", contributors)
	}
	rec := a.do("POST", "/api/contributors/carol/claims", "carol", nil)
	expectStatus(t, rec, http.StatusForbidden)
}

func TestLoadScenario_OnlyAuthorityMayReplaceProgram(t *testing.T) {
	// GIVEN: A live program in period 2 with a claim on record
	a := newDemoAPI(t)
	a.setupProgram(5000, 1000)
	expectStatus(t, a.record("alice", "pull_request", 100), http.StatusCreated)
	expectStatus(t, a.do("POST", "/api/contributors/alice/claims", "alice", nil), http.StatusOK)
	expectStatus(t, a.do("POST", "/api/admin/period/advance", "authority", nil), http.StatusOK)

	// WHEN: Someone other than the authority loads a scenario
	rec := a.do("POST", "/api/scenarios/load", "mallory", LoadScenarioRequest{ScenarioID: "unverified"})

	// THEN: It is refused and nothing is wiped
	expectStatus(t, rec, http.StatusForbidden)
	if code := decode[ErrorResponse](t, rec).Code; code != "Unauthorized" {
		t.Errorf("Expected Unauthorized, got %s", code)
	}
	program := decode[ProgramDTO](t, a.do("GET", "/api/program", "", nil))
	if program.CurrentPeriod != 2 || program.Authority != "authority" || program.TotalDistributed != 500 {
		t.Errorf("Program must be untouched, got %+v", program)
	}
	alice := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if alice.TokensClaimed != 500 {
		t.Errorf("alice must keep her claim, got %d", alice.TokensClaimed)
	}

	// AND: The well-known scenario authority gained nothing
	expectStatus(t, a.do("POST", "/api/admin/reserve", string(ScenarioAuthority), ReserveRequest{TopUp: 1}), http.StatusForbidden)

	// AND: The real authority may still replace the program
	expectStatus(t, a.do("POST", "/api/scenarios/load", "authority", LoadScenarioRequest{ScenarioID: "unverified"}), http.StatusOK)
}

func TestScenarioRoutes_OffByDefault(t *testing.T) {
	// GIVEN: A router built without DemoScenarios, and a live program
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)

	// WHEN: Any caller tries the scenario routes
	load := a.do("POST", "/api/scenarios/load", "authority", LoadScenarioRequest{ScenarioID: "unverified"})
	list := a.do("GET", "/api/scenarios", "", nil)

	// THEN: They do not exist and the program is untouched
	expectStatus(t, load, http.StatusNotFound)
	expectStatus(t, list, http.StatusNotFound)
	program := decode[ProgramDTO](t, a.do("GET", "/api/program", "", nil))
	if program.Authority != "authority" {
		t.Errorf("Program must be untouched, got authority %s", program.Authority)
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	a := newDemoAPI(t)

	rec := a.do("POST", "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "does-not-exist"})

	expectStatus(t, rec, http.StatusBadRequest)
}
