package rewards

import (
	"context"
	"time"

	"github.com/warp/contributor-rewards/generic"
)

// =============================================================================
// STORE - Account persistence
// =============================================================================

// Accounts reads and writes the two record types.
// Config returns generic.ErrNotInitialized when the program does not exist,
// Contributor returns generic.ErrContributorNotFound for unknown IDs.
// Returned records are copies; mutations are persisted only by Save*.
type Accounts interface {
	Config(ctx context.Context) (*PointsConfig, error)
	SaveConfig(ctx context.Context, cfg *PointsConfig) error

	Contributor(ctx context.Context, id generic.Identity) (*Contributor, error)
	SaveContributor(ctx context.Context, c *Contributor) error
	Contributors(ctx context.Context) ([]*Contributor, error)

	SavePeriodSummary(ctx context.Context, s PeriodSummary) error
	PeriodSummaries(ctx context.Context) ([]PeriodSummary, error)
}

// Tx is the view of the store inside an atomic unit.
type Tx interface {
	Accounts
	Events() generic.EventStore
}

// Store wraps Tx with transaction support. Every engine operation runs in
// WithTx: if fn returns an error nothing it wrote is visible, otherwise all
// of it commits together. Implementations serialize writers, which gives the
// single-writer discipline on the shared PointsConfig.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Authorizer is the identity collaborator. It answers whether an already
// verified caller identity may act on an account owned by owner.
type Authorizer interface {
	Authorized(ctx context.Context, actor, owner generic.Identity) bool
}

// SignerMatch authorizes only the owner itself.
type SignerMatch struct{}

func (SignerMatch) Authorized(_ context.Context, actor, owner generic.Identity) bool {
	return actor.Matches(owner)
}

// TransferSink is the ledger/transfer collaborator. The engine only computes
// amounts; the sink moves value. It is invoked after the state change has
// committed, with the event ID as a reference for downstream deduplication.
type TransferSink interface {
	Transfer(ctx context.Context, to generic.Identity, tokens uint64, reference string) error
}

// TransferFunc adapts a function to TransferSink.
type TransferFunc func(ctx context.Context, to generic.Identity, tokens uint64, reference string) error

func (f TransferFunc) Transfer(ctx context.Context, to generic.Identity, tokens uint64, reference string) error {
	return f(ctx, to, tokens, reference)
}

// Metrics receives operation outcomes. observability.Metrics implements it.
type Metrics interface {
	ObserveContribution(contributionType string, base, awarded uint64, cappedBy string)
	ObserveDistribution(tokens uint64)
	ObservePeriod(period uint64)
	ObserveReserve(balance, pool uint64)
	ObserveFailure(op, kind string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveContribution(string, uint64, uint64, string) {}
func (noopMetrics) ObserveDistribution(uint64)                         {}
func (noopMetrics) ObservePeriod(uint64)                               {}
func (noopMetrics) ObserveReserve(uint64, uint64)                      {}
func (noopMetrics) ObserveFailure(string, string)                      {}

// =============================================================================
// PAYOUT OUTBOX
// =============================================================================

// PayoutPending is the status of a payout not yet picked up by custody.
const PayoutPending = "pending"

// Payout is a transfer request recorded for the custody system.
type Payout struct {
	ID        string
	Recipient generic.Identity
	Tokens    uint64
	Reference string // tokens_distributed event ID
	Status    string
	CreatedAt time.Time
}

// PayoutOutbox is a TransferSink that records payouts instead of moving value.
type PayoutOutbox interface {
	TransferSink
	Payouts(ctx context.Context) ([]Payout, error)
}
