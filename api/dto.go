/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMBERS:
  Counters are uint64 and serialized as JSON numbers. Ratios and shares are
  derived for display only and serialized as decimal strings ("0.5",
  "0.3125") so clients never see float rounding.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/program.go: ProgramJSON
*/
package api

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
)

// =============================================================================
// PROGRAM
// =============================================================================

// InitializeProgramRequest is the body of POST /api/program.
// The authority is the caller (X-Actor).
type InitializeProgramRequest struct {
	MonthlyThreshold uint64 `json:"monthly_threshold"`
	MaxPointsPerType uint64 `json:"max_points_per_type"`
	ReserveRatioBps  uint64 `json:"reserve_ratio_bps"` // Range-checked against 10000
	InitialReserve   uint64 `json:"initial_reserve"`
	PeriodType       string `json:"period_type,omitempty"`   // manual, calendar_month, fixed
	PeriodLength     string `json:"period_length,omitempty"` // Go duration, fixed only
}

// ProgramDTO represents the program config in API responses.
type ProgramDTO struct {
	Authority        string `json:"authority"`
	MonthlyThreshold uint64 `json:"monthly_threshold"`
	MaxPointsPerType uint64 `json:"max_points_per_type"`
	ReserveRatioBps  uint16 `json:"reserve_ratio_bps"`
	ReserveRatio     string `json:"reserve_ratio"` // Fraction of the reserve, e.g. "0.5"

	CurrentPeriod     uint64     `json:"current_period"`
	PeriodTotalPoints uint64     `json:"period_total_points"`
	PeriodStartedAt   time.Time  `json:"period_started_at"`
	PeriodEndsAt      *time.Time `json:"period_ends_at,omitempty"`
	Schedule          string     `json:"schedule"`

	ReserveBalance        uint64 `json:"reserve_balance"`
	PeriodPool            uint64 `json:"period_pool"`
	PoolFixed             bool   `json:"pool_fixed"`
	DistributedThisPeriod uint64 `json:"distributed_this_period"`
	TotalDistributed      uint64 `json:"total_distributed"`

	PendingMonthlyThreshold *uint64 `json:"pending_monthly_threshold,omitempty"`
	PendingMaxPointsPerType *uint64 `json:"pending_max_points_per_type,omitempty"`
}

// ReserveRequest is the body of POST /api/admin/reserve.
type ReserveRequest struct {
	RatioBps *uint64 `json:"ratio_bps,omitempty"`
	TopUp    uint64  `json:"top_up,omitempty"`
}

// CapsRequest is the body of POST /api/admin/caps.
type CapsRequest struct {
	MonthlyThreshold *uint64 `json:"monthly_threshold,omitempty"`
	MaxPointsPerType *uint64 `json:"max_points_per_type,omitempty"`
}

// =============================================================================
// CONTRIBUTORS
// =============================================================================

// CreateContributorRequest is the body of POST /api/contributors.
// Authority defaults to the caller.
type CreateContributorRequest struct {
	ID        string `json:"id"`
	Authority string `json:"authority,omitempty"`
}

// VerifyRequest is the body of POST /api/admin/contributors/{id}/verify.
type VerifyRequest struct {
	Verified *bool `json:"verified,omitempty"` // Defaults to true
}

// ContributorDTO represents a contributor as of the active period.
type ContributorDTO struct {
	ID                  string            `json:"id"`
	Authority           string            `json:"authority"`
	TotalPoints         uint64            `json:"total_points"`
	CurrentMonthPoints  uint64            `json:"current_month_points"`
	TypePoints          map[string]uint64 `json:"type_points"`
	TokensClaimed       uint64            `json:"tokens_claimed"`
	PeriodTokensClaimed uint64            `json:"period_tokens_claimed"`
	LastClaimTime       *time.Time        `json:"last_claim_time,omitempty"`
	ContributionCount   uint64            `json:"contribution_count"`
	IsVerified          bool              `json:"is_verified"`
	PeriodMarker        uint64            `json:"period_marker"`
	CreatedAt           time.Time         `json:"created_at"`

	// Derived for the active period
	Share         string `json:"share"`          // current_month_points / period_total_points
	ClaimableNow  uint64 `json:"claimable_now"`  // What a claim would release right now
	EntitledSoFar uint64 `json:"entitled_so_far"`
}

// =============================================================================
// CONTRIBUTIONS AND CLAIMS
// =============================================================================

// RecordContributionRequest is the body of POST /api/contributors/{id}/contributions.
type RecordContributionRequest struct {
	Type           string `json:"type"`
	Magnitude      int64  `json:"magnitude"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RecordResultDTO reports an award.
type RecordResultDTO struct {
	ContributorID      string `json:"contributor_id"`
	Type               string `json:"type"`
	Magnitude          uint64 `json:"magnitude"`
	BasePoints         uint64 `json:"base_points"`
	PointsAwarded      uint64 `json:"points_awarded"`
	CappedBy           string `json:"capped_by,omitempty"`
	Period             uint64 `json:"period"`
	CurrentMonthPoints uint64 `json:"current_month_points"`
	TotalPoints        uint64 `json:"total_points"`
	EventID            string `json:"event_id"`
}

// ClaimDTO reports a distribution.
type ClaimDTO struct {
	ContributorID  string    `json:"contributor_id"`
	Period         uint64    `json:"period"`
	Tokens         uint64    `json:"tokens"`
	Pool           uint64    `json:"pool"`
	Entitled       uint64    `json:"entitled"`
	AlreadyClaimed uint64    `json:"already_claimed"`
	Points         uint64    `json:"points"`
	PeriodTotal    uint64    `json:"period_total"`
	Share          string    `json:"share"`
	ClaimedAt      time.Time `json:"claimed_at"`
	EventID        string    `json:"event_id"`
	TransferError  string    `json:"transfer_error,omitempty"`
}

// =============================================================================
// AUDIT
// =============================================================================

// EventDTO represents a ledger event.
type EventDTO struct {
	ID             string            `json:"id"`
	Kind           string            `json:"kind"`
	Account        string            `json:"account"`
	Actor          string            `json:"actor"`
	Period         uint64            `json:"period"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// PeriodSummaryDTO represents a closed period.
type PeriodSummaryDTO struct {
	Period      uint64    `json:"period"`
	TotalPoints uint64    `json:"total_points"`
	Pool        uint64    `json:"pool"`
	Distributed uint64    `json:"distributed"`
	Remainder   uint64    `json:"remainder"`
	StartedAt   time.Time `json:"started_at"`
	ClosedAt    time.Time `json:"closed_at"`
	ClosedBy    string    `json:"closed_by"`
}

// InvariantReportDTO is the result of GET /api/admin/invariants.
type InvariantReportDTO struct {
	OK                bool     `json:"ok"`
	Period            uint64   `json:"period"`
	PeriodTotalPoints uint64   `json:"period_total_points"`
	SumActivePoints   uint64   `json:"sum_active_points"`
	Contributors      int      `json:"contributors"`
	Violations        []string `json:"violations"`
}

// PayoutDTO represents a recorded transfer request.
type PayoutDTO struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Tokens    uint64    `json:"tokens"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ContributionTypeDTO describes a contribution type and its rule.
type ContributionTypeDTO struct {
	Type string `json:"type"`
	Rule string `json:"rule"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toProgramDTO(cfg *rewards.PointsConfig) ProgramDTO {
	pool, _ := cfg.ProjectedPool()
	dto := ProgramDTO{
		Authority:               cfg.Authority.String(),
		MonthlyThreshold:        cfg.MonthlyThreshold,
		MaxPointsPerType:        cfg.MaxPointsPerType,
		ReserveRatioBps:         cfg.ReserveRatio,
		ReserveRatio:            ratio(uint64(cfg.ReserveRatio), generic.BasisPoints).String(),
		CurrentPeriod:           cfg.CurrentPeriod,
		PeriodTotalPoints:       cfg.PeriodTotalPoints,
		PeriodStartedAt:         cfg.PeriodStartedAt,
		Schedule:                cfg.Schedule.String(),
		ReserveBalance:          cfg.ReserveBalance,
		PeriodPool:              pool,
		PoolFixed:               cfg.PoolFixed(),
		DistributedThisPeriod:   cfg.DistributedThisPeriod,
		TotalDistributed:        cfg.TotalDistributed,
		PendingMonthlyThreshold: cfg.PendingMonthlyThreshold,
		PendingMaxPointsPerType: cfg.PendingMaxPointsPerType,
	}
	if !cfg.PoolFixed() {
		dto.DistributedThisPeriod = 0
	}
	if end, ok := cfg.Schedule.EndOf(cfg.PeriodStartedAt); ok {
		dto.PeriodEndsAt = &end
	}
	return dto
}

// toContributorDTO expects c already rolled to cfg.CurrentPeriod.
func toContributorDTO(c *rewards.Contributor, cfg *rewards.PointsConfig) ContributorDTO {
	dto := ContributorDTO{
		ID:                  c.ID.String(),
		Authority:           c.Authority.String(),
		TotalPoints:         c.TotalPoints,
		CurrentMonthPoints:  c.CurrentMonthPoints,
		TypePoints:          make(map[string]uint64, len(c.TypePoints)),
		TokensClaimed:       c.TokensClaimed,
		PeriodTokensClaimed: c.PeriodTokensClaimed,
		ContributionCount:   c.ContributionCount,
		IsVerified:          c.IsVerified,
		PeriodMarker:        c.PeriodMarker,
		CreatedAt:           c.CreatedAt,
		Share:               ratio(c.CurrentMonthPoints, cfg.PeriodTotalPoints).String(),
	}
	for _, t := range c.SortedTypes() {
		dto.TypePoints[string(t)] = c.TypePoints[t]
	}
	if !c.LastClaimTime.IsZero() {
		t := c.LastClaimTime
		dto.LastClaimTime = &t
	}

	if cfg.PeriodTotalPoints > 0 {
		pool, err := cfg.ProjectedPool()
		if err == nil {
			entitled, err := generic.MulDivFloor(pool, c.CurrentMonthPoints, cfg.PeriodTotalPoints)
			if err == nil {
				dto.EntitledSoFar = entitled
				remaining := pool
				if cfg.PoolFixed() {
					remaining = generic.SaturatingSub(pool, cfg.DistributedThisPeriod)
				}
				dto.ClaimableNow = min(generic.SaturatingSub(entitled, c.PeriodTokensClaimed), remaining)
			}
		}
	}
	return dto
}

func toRecordResultDTO(r *rewards.RecordResult) RecordResultDTO {
	return RecordResultDTO{
		ContributorID:      r.ContributorID.String(),
		Type:               string(r.Type),
		Magnitude:          r.Magnitude,
		BasePoints:         r.BasePoints,
		PointsAwarded:      r.PointsAwarded,
		CappedBy:           string(r.CappedBy),
		Period:             r.Period,
		CurrentMonthPoints: r.CurrentMonthPoints,
		TotalPoints:        r.TotalPoints,
		EventID:            string(r.EventID),
	}
}

func toClaimDTO(r *rewards.DistributeResult) ClaimDTO {
	return ClaimDTO{
		ContributorID:  r.ContributorID.String(),
		Period:         r.Period,
		Tokens:         r.Tokens,
		Pool:           r.Pool,
		Entitled:       r.Entitled,
		AlreadyClaimed: r.AlreadyClaimed,
		Points:         r.Points,
		PeriodTotal:    r.PeriodTotal,
		Share:          ratio(r.Points, r.PeriodTotal).String(),
		ClaimedAt:      r.ClaimedAt,
		EventID:        string(r.EventID),
	}
}

func toEventDTOs(evts []generic.Event) []EventDTO {
	out := make([]EventDTO, 0, len(evts))
	for _, e := range evts {
		out = append(out, EventDTO{
			ID:             string(e.ID),
			Kind:           string(e.Kind),
			Account:        e.Account.String(),
			Actor:          e.Actor.String(),
			Period:         e.Period,
			Attributes:     e.Attributes,
			IdempotencyKey: e.IdempotencyKey,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}

func toPeriodSummaryDTO(s rewards.PeriodSummary) PeriodSummaryDTO {
	return PeriodSummaryDTO{
		Period:      s.Period,
		TotalPoints: s.TotalPoints,
		Pool:        s.Pool,
		Distributed: s.Distributed,
		Remainder:   s.Remainder,
		StartedAt:   s.StartedAt,
		ClosedAt:    s.ClosedAt,
		ClosedBy:    s.ClosedBy.String(),
	}
}

// ratio returns num/denom rounded down to 8 places, or 0 when denom is 0.
func ratio(num, denom uint64) decimal.Decimal {
	if denom == 0 {
		return decimal.Zero
	}
	n := decimal.NewFromBigInt(new(big.Int).SetUint64(num), 0)
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(denom), 0)
	return n.DivRound(d, 16).Truncate(8)
}
