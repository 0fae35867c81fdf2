/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Program, contributor, contribution and claim round trips
- Engine error to HTTP status mapping
- Transfer failure after a committed claim
- Signature and rate limit middleware
- Period scheduler
*/
package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/observability"
	"github.com/warp/contributor-rewards/rewards"
	"github.com/warp/contributor-rewards/signing"
	"github.com/warp/contributor-rewards/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testAPI struct {
	t       *testing.T
	router  http.Handler
	engine  *rewards.Engine
	store   *memory.Memory
	clock   *generic.FixedClock
	handler *Handler
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()
	store := memory.New()
	clock := generic.NewFixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	engine := rewards.NewEngine(store)
	engine.Clock = clock
	engine.Transfers = store

	h := NewHandler(engine, store)
	return &testAPI{
		t:       t,
		router:  NewRouter(h, opts),
		engine:  engine,
		store:   store,
		clock:   clock,
		handler: h,
	}
}

func (a *testAPI) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != "" {
		req.Header.Set(HeaderActor, actor)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// setupProgram initializes a manual-period program owned by "authority"
// with alice and bob registered and verified.
func (a *testAPI) setupProgram(ratio uint64, reserve uint64) {
	a.t.Helper()
	expectStatus(a.t, a.do("POST", "/api/program", "authority", InitializeProgramRequest{
		MonthlyThreshold: 1000,
		MaxPointsPerType: 400,
		ReserveRatioBps:  ratio,
		InitialReserve:   reserve,
		PeriodType:       "manual",
	}), http.StatusCreated)

	for _, id := range []string{"alice", "bob"} {
		expectStatus(a.t, a.do("POST", "/api/contributors", id, CreateContributorRequest{ID: id}), http.StatusCreated)
		expectStatus(a.t, a.do("POST", "/api/admin/contributors/"+id+"/verify", "authority", nil), http.StatusOK)
	}
}

func (a *testAPI) record(id, typ string, magnitude int64) *httptest.ResponseRecorder {
	return a.do("POST", "/api/contributors/"+id+"/contributions", id, RecordContributionRequest{Type: typ, Magnitude: magnitude})
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestClaim_SplitsPoolByShare(t *testing.T) {
	// GIVEN: Reserve 1000 at 25% (pool 250), alice and bob with 500 points each
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(2500, 1000)
	for _, id := range []string{"alice", "bob"} {
		expectStatus(t, a.record(id, "pull_request", 250), http.StatusCreated)
		expectStatus(t, a.record(id, "code_review", 250), http.StatusCreated)
	}

	// WHEN: alice claims
	rec := a.do("POST", "/api/contributors/alice/claims", "alice", nil)

	// THEN: She receives half the pool
	expectStatus(t, rec, http.StatusOK)
	claim := decode[ClaimDTO](t, rec)
	if claim.Tokens != 125 || claim.Pool != 250 || claim.Share != "0.5" {
		t.Errorf("Expected 125 tokens of a 250 pool at share 0.5, got %+v", claim)
	}

	// AND: The program shows the pool fixed and the reserve reduced
	program := decode[ProgramDTO](t, a.do("GET", "/api/program", "", nil))
	if !program.PoolFixed || program.DistributedThisPeriod != 125 || program.ReserveBalance != 875 {
		t.Errorf("Unexpected program state after claim: %+v", program)
	}
	if program.ReserveRatio != "0.25" {
		t.Errorf("Expected reserve ratio 0.25, got %s", program.ReserveRatio)
	}

	// AND: A payout was queued for alice's authority
	payouts := decode[[]PayoutDTO](t, a.do("GET", "/api/admin/payouts", "authority", nil))
	if len(payouts) != 1 || payouts[0].Recipient != "alice" || payouts[0].Tokens != 125 {
		t.Fatalf("Expected one 125-token payout to alice, got %+v", payouts)
	}
	if payouts[0].Reference != claim.EventID {
		t.Errorf("Payout reference %s should be the claim event %s", payouts[0].Reference, claim.EventID)
	}
}

func TestRecordContribution_ReportsCaps(t *testing.T) {
	// GIVEN: Per-type cap 400, monthly threshold 1000
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)

	// WHEN: alice records 500, then 100 more pull_request units, then 300 code_review
	first := decode[RecordResultDTO](t, a.record("alice", "pull_request", 500))
	second := decode[RecordResultDTO](t, a.record("alice", "pull_request", 100))
	third := decode[RecordResultDTO](t, a.record("alice", "code_review", 300))

	// THEN: The per-type cap clamps the first two awards
	if first.BasePoints != 500 || first.PointsAwarded != 400 || first.CappedBy != "per_type" {
		t.Errorf("First award: expected 500 -> 400 per_type, got %+v", first)
	}
	if second.PointsAwarded != 0 || second.CappedBy != "per_type" {
		t.Errorf("Second award: expected 0 per_type, got %+v", second)
	}
	if third.PointsAwarded != 300 || third.CappedBy != "" || third.CurrentMonthPoints != 700 {
		t.Errorf("Third award: expected 300 uncapped for 700 total, got %+v", third)
	}

	// AND: The contributor view agrees
	c := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if c.CurrentMonthPoints != 700 || c.TypePoints["pull_request"] != 400 || c.ContributionCount != 3 {
		t.Errorf("Unexpected contributor: %+v", c)
	}
	if c.Share != "1" {
		t.Errorf("Sole contributor should hold share 1, got %s", c.Share)
	}
}

func TestContributorEvents_FiltersByKind(t *testing.T) {
	// GIVEN: alice with two contributions
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)
	expectStatus(t, a.record("alice", "pull_request", 10), http.StatusCreated)
	expectStatus(t, a.record("alice", "bug_report", 1), http.StatusCreated)

	// WHEN: Querying only contribution events
	rec := a.do("GET", "/api/contributors/alice/events?kind=contribution_recorded", "", nil)

	// THEN: Both contributions are returned, nothing else
	expectStatus(t, rec, http.StatusOK)
	evts := decode[[]EventDTO](t, rec)
	if len(evts) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(evts))
	}
	for _, e := range evts {
		if e.Kind != "contribution_recorded" || e.Account != "alice" {
			t.Errorf("Unexpected event %+v", e)
		}
	}

	// AND: limit is honored
	limited := decode[[]EventDTO](t, a.do("GET", "/api/contributors/alice/events?limit=1", "", nil))
	if len(limited) != 1 {
		t.Errorf("Expected 1 event with limit=1, got %d", len(limited))
	}
}

func TestAdvancePeriod_ListsClosedPeriod(t *testing.T) {
	// GIVEN: A claim in period 1
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(2500, 1000)
	expectStatus(t, a.record("alice", "pull_request", 100), http.StatusCreated)
	expectStatus(t, a.record("bob", "pull_request", 300), http.StatusCreated)
	expectStatus(t, a.do("POST", "/api/contributors/alice/claims", "alice", nil), http.StatusOK)

	// WHEN: The authority advances
	rec := a.do("POST", "/api/admin/period/advance", "authority", nil)

	// THEN: The summary keeps bob's unclaimed share in the reserve
	expectStatus(t, rec, http.StatusOK)
	summary := decode[PeriodSummaryDTO](t, rec)
	if summary.Period != 1 || summary.Pool != 250 || summary.Distributed != 62 || summary.Remainder != 188 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	periods := decode[[]PeriodSummaryDTO](t, a.do("GET", "/api/periods", "", nil))
	if len(periods) != 1 {
		t.Fatalf("Expected 1 closed period, got %d", len(periods))
	}

	// AND: alice's counters are reset lazily in the view
	c := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if c.CurrentMonthPoints != 0 || c.TotalPoints != 100 || c.TokensClaimed != 62 {
		t.Errorf("Unexpected contributor after rollover: %+v", c)
	}
}

func TestAdminCapsAndReserve(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)

	// Lowering a cap is staged until the next period
	lower := uint64(200)
	program := decode[ProgramDTO](t, a.do("POST", "/api/admin/caps", "authority", CapsRequest{MaxPointsPerType: &lower}))
	if program.MaxPointsPerType != 400 || program.PendingMaxPointsPerType == nil || *program.PendingMaxPointsPerType != 200 {
		t.Errorf("Expected cap reduction to be staged, got %+v", program)
	}

	ratio := uint64(1000)
	program = decode[ProgramDTO](t, a.do("POST", "/api/admin/reserve", "authority", ReserveRequest{RatioBps: &ratio, TopUp: 500}))
	if program.ReserveBalance != 1500 || program.ReserveRatioBps != 1000 || program.PeriodPool != 150 {
		t.Errorf("Unexpected reserve update result: %+v", program)
	}

	report := decode[InvariantReportDTO](t, a.do("GET", "/api/admin/invariants", "authority", nil))
	if !report.OK || len(report.Violations) != 0 {
		t.Errorf("Expected clean invariant report, got %+v", report)
	}
}

func TestListContributionTypes(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	types := decode[[]ContributionTypeDTO](t, a.do("GET", "/api/contribution-types", "", nil))
	if len(types) != len(rewards.DefaultRules()) {
		t.Fatalf("Expected %d types, got %d", len(rewards.DefaultRules()), len(types))
	}
	if types[0].Type != "bug_report" {
		t.Errorf("Types should be sorted, first is %s", types[0].Type)
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	// Before initialization
	rec := a.do("GET", "/api/program", "", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if code := decode[ErrorResponse](t, rec).Code; code != "NotInitialized" {
		t.Errorf("Expected NotInitialized, got %s", code)
	}

	a.setupProgram(5000, 1000)
	expectStatus(t, a.do("POST", "/api/contributors", "carol", CreateContributorRequest{ID: "carol"}), http.StatusCreated)
	expectStatus(t, a.record("carol", "pull_request", 10), http.StatusCreated)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
		code   string
	}{
		{"initialize twice", "POST", "/api/program", "authority", InitializeProgramRequest{ReserveRatioBps: 1}, http.StatusConflict, "AlreadyInitialized"},
		{"invalid ratio", "POST", "/api/admin/reserve", "authority", map[string]any{"ratio_bps": 10001}, http.StatusBadRequest, "InvalidRatio"},
		{"ratio beyond 16 bits", "POST", "/api/admin/reserve", "authority", map[string]any{"ratio_bps": 70000}, http.StatusBadRequest, "InvalidRatio"},
		{"initialize with ratio beyond 16 bits", "POST", "/api/program", "authority", map[string]any{"reserve_ratio_bps": 70000}, http.StatusBadRequest, "InvalidRatio"},
		{"unknown contributor", "GET", "/api/contributors/nobody", "", nil, http.StatusNotFound, "ContributorNotFound"},
		{"duplicate contributor", "POST", "/api/contributors", "alice", CreateContributorRequest{ID: "alice"}, http.StatusConflict, "ContributorExists"},
		{"unknown type", "POST", "/api/contributors/alice/contributions", "alice", RecordContributionRequest{Type: "karaoke", Magnitude: 1}, http.StatusBadRequest, "InvalidContributionType"},
		{"negative magnitude", "POST", "/api/contributors/alice/contributions", "alice", RecordContributionRequest{Type: "pull_request", Magnitude: -5}, http.StatusBadRequest, "InvalidMagnitude"},
		{"record for someone else", "POST", "/api/contributors/alice/contributions", "bob", RecordContributionRequest{Type: "pull_request", Magnitude: 1}, http.StatusForbidden, "Unauthorized"},
		{"unverified claim", "POST", "/api/contributors/carol/claims", "carol", nil, http.StatusForbidden, "NotVerified"},
		{"claim for someone else", "POST", "/api/contributors/alice/claims", "bob", nil, http.StatusForbidden, "Unauthorized"},
		{"advance by non-authority", "POST", "/api/admin/period/advance", "alice", nil, http.StatusForbidden, "Unauthorized"},
		{"verify by non-authority", "POST", "/api/admin/contributors/carol/verify", "carol", nil, http.StatusForbidden, "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(tt.method, tt.path, tt.actor, tt.body)
			expectStatus(t, rec, tt.status)
			if code := decode[ErrorResponse](t, rec).Code; code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestErrorDetails_NameAccounts(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)

	// WHEN: bob records on alice's account
	rec := a.do("POST", "/api/contributors/alice/contributions", "bob", RecordContributionRequest{Type: "pull_request", Magnitude: 1})

	// THEN: The failure names the operation and both identities
	expectStatus(t, rec, http.StatusForbidden)
	resp := decode[struct {
		Code    string `json:"code"`
		Details struct {
			Op       string   `json:"op"`
			Accounts []string `json:"accounts"`
		} `json:"details"`
	}](t, rec)
	if resp.Code != "Unauthorized" || resp.Details.Op != "record" {
		t.Errorf("Unexpected error response: %+v", resp)
	}
	if len(resp.Details.Accounts) != 2 || resp.Details.Accounts[0] != "alice" || resp.Details.Accounts[1] != "bob" {
		t.Errorf("Expected accounts [alice bob], got %v", resp.Details.Accounts)
	}
}

func TestRecordContribution_DuplicateIdempotencyKey(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)
	body := RecordContributionRequest{Type: "pull_request", Magnitude: 50, IdempotencyKey: "pr-1234"}

	expectStatus(t, a.do("POST", "/api/contributors/alice/contributions", "alice", body), http.StatusCreated)
	rec := a.do("POST", "/api/contributors/alice/contributions", "alice", body)

	expectStatus(t, rec, http.StatusConflict)
	c := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if c.CurrentMonthPoints != 50 {
		t.Errorf("Retry must not award twice, got %d points", c.CurrentMonthPoints)
	}
}

func TestClaim_EmptyPeriodConflict(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)

	rec := a.do("POST", "/api/contributors/alice/claims", "alice", nil)

	expectStatus(t, rec, http.StatusConflict)
	if code := decode[ErrorResponse](t, rec).Code; code != "EmptyPeriod" {
		t.Errorf("Expected EmptyPeriod, got %s", code)
	}
}

func TestClaim_TransferFailureStillReportsClaim(t *testing.T) {
	// GIVEN: A transfer sink that rejects every payout
	a := newTestAPI(t, RouterOptions{})
	a.setupProgram(5000, 1000)
	expectStatus(t, a.record("alice", "pull_request", 100), http.StatusCreated)
	a.engine.Transfers = rewards.TransferFunc(func(context.Context, generic.Identity, uint64, string) error {
		return errors.New("custody offline")
	})

	// WHEN: alice claims
	rec := a.do("POST", "/api/contributors/alice/claims", "alice", nil)

	// THEN: 502 with the committed claim in the body
	expectStatus(t, rec, http.StatusBadGateway)
	claim := decode[ClaimDTO](t, rec)
	if claim.Tokens != 500 || !strings.Contains(claim.TransferError, "custody offline") {
		t.Errorf("Unexpected claim body: %+v", claim)
	}

	c := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if c.TokensClaimed != 500 {
		t.Errorf("Claim should be committed, tokens_claimed=%d", c.TokensClaimed)
	}
}

func TestInvalidJSON(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	req := httptest.NewRequest("POST", "/api/program", strings.NewReader("{not json"))
	req.Header.Set(HeaderActor, "authority")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	expectStatus(t, rec, http.StatusBadRequest)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// signedRequest builds a request signed by signer at signedAt. A nil signer
// leaves the signature headers off.
func signedRequest(t *testing.T, signer *ecdsa.PrivateKey, actor, method, path string, body []byte, signedAt time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(HeaderActor, actor)
	if signer == nil {
		return req
	}
	stamp := signing.Timestamp(signedAt)
	sig, err := signing.Sign(signer, signing.RequestPayload(method, path, stamp, body))
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderSignatureTimestamp, stamp)
	return req
}

func (a *testAPI) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func newSignedAPI(t *testing.T) (*testAPI, *ecdsa.PrivateKey) {
	t.Helper()
	auth := NewAuthenticator(true, 5*time.Minute)
	a := newTestAPI(t, RouterOptions{Auth: auth})
	auth.Now = a.clock.Now
	key, err := signing.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return a, key
}

func TestAuthMiddleware_RequiresSignatures(t *testing.T) {
	a, key := newSignedAPI(t)
	other, err := signing.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	address := signing.Address(key)
	body := []byte(`{"monthly_threshold":1000,"max_points_per_type":400,"reserve_ratio_bps":5000}`)
	now := a.clock.Now()

	// Unsigned and wrongly signed requests are rejected
	expectStatus(t, a.serve(signedRequest(t, nil, address, "POST", "/api/program", body, now)), http.StatusUnauthorized)
	expectStatus(t, a.serve(signedRequest(t, other, address, "POST", "/api/program", body, now)), http.StatusUnauthorized)

	// A signature without its timestamp header does not verify
	req := signedRequest(t, key, address, "POST", "/api/program", body, now)
	req.Header.Del(HeaderSignatureTimestamp)
	expectStatus(t, a.serve(req), http.StatusUnauthorized)

	// A valid signature reaches the handler with the body intact
	rec := a.serve(signedRequest(t, key, address, "POST", "/api/program", body, now))
	expectStatus(t, rec, http.StatusCreated)
	program := decode[ProgramDTO](t, rec)
	if program.Authority != address || program.MonthlyThreshold != 1000 {
		t.Errorf("Unexpected program: %+v", program)
	}

	// Reads need no signature
	expectStatus(t, a.do("GET", "/api/program", "", nil), http.StatusOK)
}

func TestAuthMiddleware_RejectsReplayedAndStaleRequests(t *testing.T) {
	// GIVEN: A program and a verified contributor owned by a signing key
	a, key := newSignedAPI(t)
	address := signing.Address(key)
	if _, err := a.engine.Initialize(context.Background(), "authority", rewards.InitializeArgs{
		MonthlyThreshold: 1000, MaxPointsPerType: 400, ReserveRatio: 5000,
	}); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	if _, err := a.engine.CreateContributor(context.Background(), "alice", generic.Identity(address)); err != nil {
		t.Fatalf("Failed to create contributor: %v", err)
	}
	path := "/api/contributors/alice/contributions"
	body := []byte(`{"type":"pull_request","magnitude":50}`)
	signedAt := a.clock.Now()

	// WHEN: One signed contribution is sent five times unchanged
	expectStatus(t, a.serve(signedRequest(t, key, address, "POST", path, body, signedAt)), http.StatusCreated)
	for i := 0; i < 4; i++ {
		rec := a.serve(signedRequest(t, key, address, "POST", path, body, signedAt))
		// THEN: Every copy after the first is refused
		expectStatus(t, rec, http.StatusUnauthorized)
	}
	c := decode[ContributorDTO](t, a.do("GET", "/api/contributors/alice", "", nil))
	if c.ContributionCount != 1 || c.CurrentMonthPoints != 50 {
		t.Errorf("Replays must not be recorded, got count=%d points=%d", c.ContributionCount, c.CurrentMonthPoints)
	}

	// AND: A fresh signature of the same body a second later is a new request
	a.clock.Advance(time.Second)
	expectStatus(t, a.serve(signedRequest(t, key, address, "POST", path, body, a.clock.Now())), http.StatusCreated)

	// AND: Timestamps outside the window are refused even when never seen
	expectStatus(t, a.serve(signedRequest(t, key, address, "POST", path, body, a.clock.Now().Add(-6*time.Minute))), http.StatusUnauthorized)
	expectStatus(t, a.serve(signedRequest(t, key, address, "POST", path, body, a.clock.Now().Add(6*time.Minute))), http.StatusUnauthorized)
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	a := newTestAPI(t, RouterOptions{RateLimiter: NewRateLimiter(60, 2)})
	from := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/contribution-types", nil)
		req.RemoteAddr = addr
		return a.serve(req)
	}

	expectStatus(t, from("10.0.0.1:5000"), http.StatusOK)
	expectStatus(t, from("10.0.0.1:5001"), http.StatusOK)
	rec := from("10.0.0.1:5002")
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// Another address has its own bucket
	expectStatus(t, from("10.0.0.2:5000"), http.StatusOK)
}

func TestRateLimiter_IgnoresClaimedActor(t *testing.T) {
	// GIVEN: A burst of two per client
	limiter := NewRateLimiter(60, 2)
	a := newTestAPI(t, RouterOptions{RateLimiter: limiter})

	// WHEN: One address rotates X-Actor on every request
	var codes []int
	for _, actor := range []string{"alice", "bob", "carol", "dave"} {
		codes = append(codes, a.do("GET", "/api/contribution-types", actor, nil).Code)
	}

	// THEN: The rotation does not buy extra requests
	if codes[2] != http.StatusTooManyRequests || codes[3] != http.StatusTooManyRequests {
		t.Errorf("Expected the third and fourth requests to be limited, got %v", codes)
	}
	limiter.mu.Lock()
	visitors := len(limiter.visitors)
	limiter.mu.Unlock()
	if visitors != 1 {
		t.Errorf("Expected one bucket for the address, got %d", visitors)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, RouterOptions{Metrics: observability.NewMetrics("rewards")})
	a.setupProgram(5000, 1000)

	rec := a.do("GET", "/metrics", "", nil)

	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "rewards_http_requests_total") {
		t.Error("Expected HTTP request metrics in scrape output")
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	status := decode[map[string]any](t, a.do("GET", "/healthz", "", nil))
	if status["status"] != "ok" || status["initialized"] != false {
		t.Errorf("Unexpected health: %v", status)
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestPeriodScheduler_AdvancesOnlyWhenDue(t *testing.T) {
	// GIVEN: A fixed one-day period
	a := newTestAPI(t, RouterOptions{})
	expectStatus(t, a.do("POST", "/api/program", "authority", InitializeProgramRequest{
		MonthlyThreshold: 1000,
		MaxPointsPerType: 400,
		ReserveRatioBps:  5000,
		PeriodType:       "fixed",
		PeriodLength:     "24h",
	}), http.StatusCreated)
	scheduler := NewPeriodScheduler(a.engine)
	ctx := context.Background()

	// WHEN: Checked before the period elapsed
	if summary := scheduler.RunNow(ctx); summary != nil {
		t.Fatalf("Period should not advance early, got %+v", summary)
	}

	// WHEN: Checked after it elapsed
	a.clock.Advance(25 * time.Hour)
	summary := scheduler.RunNow(ctx)

	// THEN: Period 1 is closed by the system identity, once
	if summary == nil || summary.Period != 1 || summary.ClosedBy != rewards.SystemIdentity {
		t.Fatalf("Expected period 1 closed by system, got %+v", summary)
	}
	if again := scheduler.RunNow(ctx); again != nil {
		t.Errorf("Period 2 just started and should not advance, got %+v", again)
	}
	program := decode[ProgramDTO](t, a.do("GET", "/api/program", "", nil))
	if program.CurrentPeriod != 2 {
		t.Errorf("Expected current period 2, got %d", program.CurrentPeriod)
	}
}

func TestPeriodScheduler_IdleWithoutProgram(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	scheduler := NewPeriodScheduler(a.engine)
	scheduler.CheckInterval = 10 * time.Millisecond

	scheduler.Start()
	scheduler.Stop()

	if summary := scheduler.RunNow(context.Background()); summary != nil {
		t.Errorf("Nothing to advance without a program, got %+v", summary)
	}
}
