/*
handlers.go - HTTP API handlers for the contributor rewards engine

PURPOSE:
  Exposes the rewards engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every state change to rewards.Engine.

ENDPOINTS:
  Program:
    GET    /api/program                         Config with projected pool
    POST   /api/program                         Initialize (caller becomes authority)

  Contributors:
    GET    /api/contributors                    List contributors
    POST   /api/contributors                    Create contributor
    GET    /api/contributors/{id}               Contributor as of the active period
    POST   /api/contributors/{id}/contributions Record a contribution
    POST   /api/contributors/{id}/claims        Claim tokens
    GET    /api/contributors/{id}/events        Audit events

  Admin (authority):
    POST   /api/admin/period/advance            Advance the period
    POST   /api/admin/reserve                   Change ratio / top up reserve
    POST   /api/admin/caps                      Change caps
    POST   /api/admin/contributors/{id}/verify  Set verification
    GET    /api/admin/invariants                Full-state invariant scan
    GET    /api/admin/payouts                   Payout outbox

  Reference:
    GET    /api/periods                         Closed period summaries
    GET    /api/contribution-types              Types and their rules

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: Every operation, atomic per request
  - Store: Reset for demo scenarios
  - Payouts: Outbox the engine's transfers are written to
  - Factory: Period schedule parsing

IDENTITY:
  The caller is resolved by the auth middleware (auth.go) and read with
  ActorFrom. Handlers never decide authorization themselves.

ERROR HANDLING:
  Engine errors are mapped by kind (see writeEngineError):
  - 400: InvalidContributionType, InvalidRatio, InvalidMagnitude, bad JSON
  - 403: Unauthorized, NotVerified
  - 404: ContributorNotFound, NotInitialized
  - 409: EmptyPeriod, AlreadyInitialized, ContributorExists, duplicate key
  - 422: ArithmeticOverflow
  - 502: TransferFailed (the claim itself committed)
  - 500: Internal errors

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
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/contributor-rewards/factory"
	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// ResettableStore is a store that demo scenarios can wipe.
type ResettableStore interface {
	rewards.Store
	Reset(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Engine  *rewards.Engine
	Store   ResettableStore
	Payouts rewards.PayoutOutbox
	Factory *factory.ProgramFactory

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store. The engine's transfers are
// recorded in the store's payout outbox when it has one.
func NewHandler(engine *rewards.Engine, store ResettableStore) *Handler {
	h := &Handler{
		Engine:  engine,
		Store:   store,
		Factory: factory.NewProgramFactory(),
	}
	if outbox, ok := store.(rewards.PayoutOutbox); ok {
		h.Payouts = outbox
	}
	return h
}

// =============================================================================
// PROGRAM
// =============================================================================

// GetProgram returns the program config.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Engine.Config(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(cfg))
}

// InitializeProgram creates the program with the caller as authority.
func (h *Handler) InitializeProgram(w http.ResponseWriter, r *http.Request) {
	var req InitializeProgramRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	actor := ActorFrom(r.Context())
	ratio, err := ratioBps(req.ReserveRatioBps)
	if err != nil {
		writeEngineError(w, generic.NewOperationError("initialize", err, actor))
		return
	}
	schedule, err := h.Factory.ParsePeriod(factory.PeriodJSON{Type: req.PeriodType, Length: req.PeriodLength})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	cfg, err := h.Engine.Initialize(r.Context(), actor, rewards.InitializeArgs{
		MonthlyThreshold: req.MonthlyThreshold,
		ReserveRatio:     ratio,
		MaxPointsPerType: req.MaxPointsPerType,
		InitialReserve:   req.InitialReserve,
		Schedule:         schedule,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProgramDTO(cfg))
}

// =============================================================================
// CONTRIBUTORS
// =============================================================================

// ListContributors returns every contributor as of the active period.
func (h *Handler) ListContributors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.Engine.Config(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	contributors, err := h.Engine.Contributors(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]ContributorDTO, 0, len(contributors))
	for _, c := range contributors {
		c.RollTo(cfg.CurrentPeriod)
		dtos = append(dtos, toContributorDTO(c, cfg))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContributor registers a contributor.
func (h *Handler) CreateContributor(w http.ResponseWriter, r *http.Request) {
	var req CreateContributorRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	authority := generic.Identity(req.Authority)
	if authority.IsZero() {
		authority = ActorFrom(r.Context())
	}

	c, err := h.Engine.CreateContributor(r.Context(), generic.Identity(req.ID), authority)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	cfg, err := h.Engine.Config(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContributorDTO(c, cfg))
}

// GetContributor returns a contributor as of the active period.
func (h *Handler) GetContributor(w http.ResponseWriter, r *http.Request) {
	c, cfg, err := h.Engine.View(r.Context(), pathID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContributorDTO(c, cfg))
}

// RecordContribution records a contribution for the contributor.
func (h *Handler) RecordContribution(w http.ResponseWriter, r *http.Request) {
	var req RecordContributionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	id, actor := pathID(r), ActorFrom(r.Context())
	typ, err := rewards.ParseContributionType(strings.TrimSpace(req.Type))
	if err != nil {
		writeEngineError(w, generic.NewOperationError("record", err, id, actor))
		return
	}
	result, err := h.Engine.Record(r.Context(), rewards.RecordInput{
		ContributorID:  id,
		Actor:          actor,
		Type:           typ,
		Magnitude:      req.Magnitude,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResultDTO(result))
}

// Claim distributes the contributor's unclaimed share of the period pool.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Distribute(r.Context(), rewards.DistributeInput{
		ContributorID: pathID(r),
		Actor:         ActorFrom(r.Context()),
	})
	if err != nil {
		if result != nil && errors.Is(err, generic.ErrTransferFailed) {
			dto := toClaimDTO(result)
			dto.TransferError = err.Error()
			writeJSON(w, http.StatusBadGateway, dto)
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(result))
}

// ContributorEvents returns the contributor's audit trail.
// Query: kind (repeatable), period, limit.
func (h *Handler) ContributorEvents(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := h.Engine.Contributor(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	filter.Account = &id

	evts, err := h.Engine.Events(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(evts))
}

// =============================================================================
// ADMIN
// =============================================================================

// AdvancePeriod closes the active period.
func (h *Handler) AdvancePeriod(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.AdvancePeriod(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodSummaryDTO(*summary))
}

// UpdateReserve changes the reserve ratio and/or tops up the balance.
func (h *Handler) UpdateReserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	actor := ActorFrom(r.Context())
	update := rewards.ReserveUpdate{TopUp: req.TopUp}
	if req.RatioBps != nil {
		ratio, err := ratioBps(*req.RatioBps)
		if err != nil {
			writeEngineError(w, generic.NewOperationError("update_reserve", err, rewards.ProgramAccount, actor))
			return
		}
		update.Ratio = &ratio
	}
	cfg, err := h.Engine.UpdateReserve(r.Context(), actor, update)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(cfg))
}

// UpdateCaps changes the monthly threshold and/or per-type cap.
func (h *Handler) UpdateCaps(w http.ResponseWriter, r *http.Request) {
	var req CapsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	cfg, err := h.Engine.UpdateCaps(r.Context(), ActorFrom(r.Context()), rewards.CapsUpdate{
		MonthlyThreshold: req.MonthlyThreshold,
		MaxPointsPerType: req.MaxPointsPerType,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(cfg))
}

// VerifyContributor sets the verification flag. An empty body verifies.
func (h *Handler) VerifyContributor(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	verified := true
	if req.Verified != nil {
		verified = *req.Verified
	}

	ctx := r.Context()
	c, err := h.Engine.SetVerified(ctx, ActorFrom(ctx), pathID(r), verified)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	cfg, err := h.Engine.Config(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	c.RollTo(cfg.CurrentPeriod)
	writeJSON(w, http.StatusOK, toContributorDTO(c, cfg))
}

// CheckInvariants runs the full-state scan.
func (h *Handler) CheckInvariants(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.CheckInvariants(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	violations := report.Violations
	if violations == nil {
		violations = []string{}
	}
	writeJSON(w, http.StatusOK, InvariantReportDTO{
		OK:                report.OK(),
		Period:            report.Period,
		PeriodTotalPoints: report.PeriodTotalPoints,
		SumActivePoints:   report.SumActivePoints,
		Contributors:      report.Contributors,
		Violations:        violations,
	})
}

// ListPayouts returns the payout outbox.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	if h.Payouts == nil {
		writeJSON(w, http.StatusOK, []PayoutDTO{})
		return
	}
	payouts, err := h.Payouts.Payouts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payouts", err)
		return
	}
	dtos := make([]PayoutDTO, 0, len(payouts))
	for _, p := range payouts {
		dtos = append(dtos, PayoutDTO{
			ID:        p.ID,
			Recipient: p.Recipient.String(),
			Tokens:    p.Tokens,
			Reference: p.Reference,
			Status:    p.Status,
			CreatedAt: p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REFERENCE
// =============================================================================

// ListPeriods returns the closed period summaries, oldest first.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Engine.PeriodSummaries(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]PeriodSummaryDTO, 0, len(summaries))
	for _, s := range summaries {
		dtos = append(dtos, toPeriodSummaryDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListContributionTypes returns the types the engine has rules for.
func (h *Handler) ListContributionTypes(w http.ResponseWriter, r *http.Request) {
	rules := h.Engine.Calculator.Rules
	dtos := make([]ContributionTypeDTO, 0, len(rules))
	for t, rule := range rules {
		dtos = append(dtos, ContributionTypeDTO{Type: string(t), Rule: rule.Describe()})
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Type < dtos[j].Type })
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness and whether the program exists.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "initialized": true}
	if _, err := h.Engine.Config(r.Context()); err != nil {
		if !errors.Is(err, generic.ErrNotInitialized) {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
		status["initialized"] = false
	}
	writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(r *http.Request) generic.Identity {
	return generic.Identity(chi.URLParam(r, "id"))
}

// decodeJSON decodes the body into dst and writes a 400 on failure.
// With allowEmpty an empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid JSON", err)
	return false
}

func parseEventFilter(r *http.Request) (generic.EventFilter, error) {
	q := r.URL.Query()
	var filter generic.EventFilter
	for _, k := range q["kind"] {
		filter.Kinds = append(filter.Kinds, generic.EventKind(k))
	}
	if v := q.Get("period"); v != "" {
		p, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("period: %w", err)
		}
		filter.Period = &p
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

// ratioBps narrows a requested ratio, rejecting anything above 100%.
func ratioBps(v uint64) (uint16, error) {
	if v > uint64(rewards.MaxReserveRatio) {
		return 0, fmt.Errorf("%w: %d bps", generic.ErrInvalidRatio, v)
	}
	return uint16(v), nil
}

// engineStatus maps an engine error to its HTTP status.
func engineStatus(err error) int {
	switch {
	case generic.IsAuthError(err):
		return http.StatusForbidden
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, generic.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := engineStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: generic.KindOf(err)}
	var opErr *generic.OperationError
	if errors.As(err, &opErr) {
		accounts := make([]string, 0, len(opErr.Accounts))
		for _, a := range opErr.Accounts {
			if !a.IsZero() {
				accounts = append(accounts, a.String())
			}
		}
		resp.Details = map[string]any{"op": opErr.Op, "accounts": accounts}
	}
	if status == http.StatusInternalServerError {
		resp.Error = "Internal error"
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
