/*
Package rewards implements the contributor points accrual and
reserve-constrained token distribution engine.

PURPOSE:
  Contributors record contributions, which become points under per-type
  and per-period caps. Periodically the program rolls over to a new
  period, and contributors claim a share of a token pool bounded by the
  program's reserve ratio.

RECORDS:
  PointsConfig: The single program-wide configuration and period aggregate.
  Contributor:  One per participant, holds accrued points and claim history.

  Records never point at each other. A contributor is looked up by its
  account key, the program config is a singleton.

LAZY ROLLOVER:
  Advancing the period only touches PointsConfig. Each contributor carries
  the number of the last period it was touched in (PeriodMarker), and the
  first operation on it after a rollover resets its period-scoped counters.
  There is never a sweep over all contributors.

EXAMPLE FLOW:
  1. Authority initializes: monthly threshold 1000, per-type cap 400, ratio 50%
  2. Contributor records a pull request worth 500 points -> awarded 400 (type cap)
  3. Contributor records a code review worth 300 points -> awarded 300
  4. Reserve holds 1000 tokens -> period pool is 500
  5. Contributor (verified) claims 700/700 of the period points -> 500 tokens

SEE ALSO:
  - calculator.go: Points formula and per-type cap
  - recorder.go: Contribution recording
  - period.go: Period rollover and reserve management
  - distributor.go: Token distribution
*/
package rewards

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/contributor-rewards/generic"
)

// =============================================================================
// CONTRIBUTION TYPE
// =============================================================================

// ContributionType is the concrete kind for the rewards domain.
// Implements generic.Kind.
type ContributionType string

func (t ContributionType) KindID() string     { return string(t) }
func (t ContributionType) KindDomain() string { return Domain }

// Compile-time check that ContributionType implements generic.Kind
var _ generic.Kind = ContributionType("")

// Domain is the registry domain of contribution types.
const Domain = "rewards"

// Built-in contribution types
const (
	TypeCodeCommit       ContributionType = "code_commit"
	TypePullRequest      ContributionType = "pull_request"
	TypeCodeReview       ContributionType = "code_review"
	TypeBugReport        ContributionType = "bug_report"
	TypeDocumentation    ContributionType = "documentation"
	TypeCommunitySupport ContributionType = "community_support"
	TypeDatasetLabel     ContributionType = "dataset_label"
	TypeModelTraining    ContributionType = "model_training"
)

func init() {
	for _, t := range []ContributionType{
		TypeCodeCommit, TypePullRequest, TypeCodeReview, TypeBugReport,
		TypeDocumentation, TypeCommunitySupport, TypeDatasetLabel, TypeModelTraining,
	} {
		generic.RegisterKind(t)
	}
}

// ParseContributionType returns the registered type with the given name.
func ParseContributionType(s string) (ContributionType, error) {
	k := generic.LookupKind(s)
	if k == nil || k.KindDomain() != Domain {
		return "", fmt.Errorf("%w: %q", generic.ErrInvalidContributionType, s)
	}
	return ContributionType(k.KindID()), nil
}

// ContributionTypes lists all registered contribution types.
func ContributionTypes() []ContributionType {
	kinds := generic.ListKindsByDomain(Domain)
	out := make([]ContributionType, len(kinds))
	for i, k := range kinds {
		out[i] = ContributionType(k.KindID())
	}
	return out
}

// =============================================================================
// POINTS CONFIG - Program singleton
// =============================================================================

// MaxReserveRatio is 100% in basis points.
const MaxReserveRatio uint16 = 10_000

type PointsConfig struct {
	Authority        generic.Identity
	MonthlyThreshold uint64 // Max points per contributor per period
	ReserveRatio     uint16 // Basis points of the reserve distributable per period
	MaxPointsPerType uint64 // Max points per contributor per type per period

	CurrentPeriod     uint64 // Starts at 1, never decreases
	PeriodTotalPoints uint64 // Sum of current-period points of all contributors
	PeriodStartedAt   time.Time
	Schedule          generic.PeriodConfig

	ReserveBalance        uint64 // Tokens held in reserve
	PoolPeriod            uint64 // Period the pool below was fixed for (0 = not fixed)
	PeriodPool            uint64 // ReserveBalance * ReserveRatio / 10000 when fixed
	DistributedThisPeriod uint64 // Released against PeriodPool
	TotalDistributed      uint64 // Lifetime released tokens

	// Cap reductions are staged until the next rollover so the per-period
	// caps never shrink below points already awarded in the active period.
	PendingMonthlyThreshold *uint64
	PendingMaxPointsPerType *uint64
}

// Validate checks the record-level invariants.
func (c *PointsConfig) Validate() error {
	if c == nil {
		return generic.ErrNotInitialized
	}
	if c.ReserveRatio > MaxReserveRatio {
		return fmt.Errorf("%w: %d bps", generic.ErrInvalidRatio, c.ReserveRatio)
	}
	if c.CurrentPeriod == 0 {
		return fmt.Errorf("current period must start at 1")
	}
	if c.PoolPeriod == c.CurrentPeriod && c.DistributedThisPeriod > c.PeriodPool {
		return fmt.Errorf("distributed %d exceeds period pool %d", c.DistributedThisPeriod, c.PeriodPool)
	}
	return c.Schedule.Validate()
}

// Clone returns a deep copy.
func (c *PointsConfig) Clone() *PointsConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.PendingMonthlyThreshold != nil {
		v := *c.PendingMonthlyThreshold
		clone.PendingMonthlyThreshold = &v
	}
	if c.PendingMaxPointsPerType != nil {
		v := *c.PendingMaxPointsPerType
		clone.PendingMaxPointsPerType = &v
	}
	return &clone
}

// PoolFixed reports whether the distributable pool has been fixed for the
// active period.
func (c *PointsConfig) PoolFixed() bool {
	return c.PoolPeriod == c.CurrentPeriod
}

// ProjectedPool is the pool the active period has, or would have if the
// first claim happened now.
func (c *PointsConfig) ProjectedPool() (uint64, error) {
	if c.PoolFixed() {
		return c.PeriodPool, nil
	}
	return generic.MulDivFloor(c.ReserveBalance, uint64(c.ReserveRatio), generic.BasisPoints)
}

// =============================================================================
// CONTRIBUTOR - Per-participant account
// =============================================================================

type Contributor struct {
	ID        generic.Identity // Account key
	Authority generic.Identity // Owning identity

	TotalPoints        uint64 // Lifetime, non-decreasing
	CurrentMonthPoints uint64 // Points in the marked period
	TokensClaimed      uint64 // Lifetime, non-decreasing
	LastClaimTime      time.Time
	ContributionCount  uint64
	IsVerified         bool

	PeriodMarker        uint64                      // Last period this record was touched in
	TypePoints          map[ContributionType]uint64 // Per-type points in the marked period
	PeriodTokensClaimed uint64                      // Tokens released for the marked period

	CreatedAt time.Time
}

// Clone returns a deep copy.
func (c *Contributor) Clone() *Contributor {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TypePoints = make(map[ContributionType]uint64, len(c.TypePoints))
	for k, v := range c.TypePoints {
		clone.TypePoints[k] = v
	}
	return &clone
}

// RollTo lazily applies a period rollover. If the record is tagged with an
// older period its period-scoped counters are reset before use. Returns true
// if a reset happened.
func (c *Contributor) RollTo(period uint64) bool {
	if c.PeriodMarker == period {
		if c.TypePoints == nil {
			c.TypePoints = make(map[ContributionType]uint64)
		}
		return false
	}
	c.PeriodMarker = period
	c.CurrentMonthPoints = 0
	c.TypePoints = make(map[ContributionType]uint64)
	c.PeriodTokensClaimed = 0
	return true
}

// ActivePoints returns the contributor's points counted in the given period.
// A stale record contributes nothing to the active period.
func (c *Contributor) ActivePoints(period uint64) uint64 {
	if c.PeriodMarker != period {
		return 0
	}
	return c.CurrentMonthPoints
}

// SortedTypes returns the contribution types with points, sorted by name.
func (c *Contributor) SortedTypes() []ContributionType {
	types := make([]ContributionType, 0, len(c.TypePoints))
	for t := range c.TypePoints {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// =============================================================================
// PERIOD SUMMARY - Audit record of a closed period
// =============================================================================

type PeriodSummary struct {
	Period      uint64
	TotalPoints uint64
	Pool        uint64 // 0 when nobody claimed during the period
	Distributed uint64
	Remainder   uint64 // Pool - Distributed, stays in the reserve
	StartedAt   time.Time
	ClosedAt    time.Time
	ClosedBy    generic.Identity
}

// =============================================================================
// EVENTS
// =============================================================================

const (
	EventProgramInitialized   generic.EventKind = "program_initialized"
	EventContributorCreated   generic.EventKind = "contributor_created"
	EventContributionRecorded generic.EventKind = "contribution_recorded"
	EventPeriodAdvanced       generic.EventKind = "period_advanced"
	EventReserveUpdated       generic.EventKind = "reserve_updated"
	EventCapsUpdated          generic.EventKind = "caps_updated"
	EventContributorVerified  generic.EventKind = "contributor_verified"
	EventTokensDistributed    generic.EventKind = "tokens_distributed"
)

// ProgramAccount is the account identity used for program-wide events.
const ProgramAccount generic.Identity = "program"
