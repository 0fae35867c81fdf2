/*
engine.go - Operation wiring for the rewards engine

PURPOSE:
  The Engine ties the account store, the event ledger and the external
  collaborators (identity, clock, transfers) together and runs every
  operation as one atomic unit.

ATOMICITY:
  Each operation:
    1. Reads the accounts it touches inside Store.WithTx
    2. Validates and computes on copies
    3. Saves the changed records and appends its event
    4. Commits everything, or nothing if any step failed

  The transfer collaborator and metrics run only after commit.

ERRORS:
  Every failure is returned as *generic.OperationError carrying the
  operation name and the accounts involved, and unwraps to one of the
  sentinels in generic/errors.go.

SEE ALSO:
  - store.go: Store, Authorizer, TransferSink, Metrics interfaces
  - recorder.go, period.go, distributor.go, setup.go: The operations
*/
package rewards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/contributor-rewards/generic"
)

// SystemIdentity is the identity the scheduler uses for time-triggered rollover.
const SystemIdentity generic.Identity = "system"

// Engine runs the points accrual and distribution operations.
type Engine struct {
	Store      Store
	Calculator Calculator
	Clock      generic.Clock
	Auth       Authorizer
	Transfers  TransferSink
	Metrics    Metrics
	Logger     *slog.Logger
}

// NewEngine creates an engine with default collaborators: the built-in
// rule set, the system clock, owner-only authorization, no-op transfers
// and metrics, and the default slog logger.
func NewEngine(store Store) *Engine {
	return &Engine{
		Store:      store,
		Calculator: Calculator{Rules: DefaultRules()},
		Clock:      generic.SystemClock{},
		Auth:       SignerMatch{},
		Transfers: TransferFunc(func(context.Context, generic.Identity, uint64, string) error {
			return nil
		}),
		Metrics: noopMetrics{},
		Logger:  slog.Default(),
	}
}

// WithRules replaces the rule set and returns the engine.
func (e *Engine) WithRules(rules RuleSet) *Engine {
	e.Calculator = Calculator{Rules: rules}
	return e
}

func (e *Engine) now() generic.Clock {
	if e.Clock == nil {
		return generic.SystemClock{}
	}
	return e.Clock
}

func (e *Engine) metrics() Metrics {
	if e.Metrics == nil {
		return noopMetrics{}
	}
	return e.Metrics
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) authorized(ctx context.Context, actor, owner generic.Identity) bool {
	if e.Auth == nil {
		return SignerMatch{}.Authorized(ctx, actor, owner)
	}
	return e.Auth.Authorized(ctx, actor, owner)
}

// fail wraps err, records the failure and logs it.
func (e *Engine) fail(op string, err error, accounts ...generic.Identity) error {
	wrapped := generic.NewOperationError(op, err, accounts...)
	kind := generic.KindOf(err)
	e.metrics().ObserveFailure(op, kind)
	e.logger().Warn("operation failed", "op", op, "kind", kind, "error", err)
	return wrapped
}

// appendEvent writes evt through a ledger over the transaction's event store.
func (e *Engine) appendEvent(ctx context.Context, tx Tx, evt generic.Event) (generic.Event, error) {
	ledger := generic.NewLedger(tx.Events())
	ledger.Now = e.now().Now
	evt = ledger.Stamp(evt)
	if err := ledger.Append(ctx, evt); err != nil {
		return generic.Event{}, err
	}
	return evt, nil
}

// appendEvents writes evts as one batch.
func (e *Engine) appendEvents(ctx context.Context, tx Tx, evts []generic.Event) error {
	ledger := generic.NewLedger(tx.Events())
	ledger.Now = e.now().Now
	return ledger.AppendBatch(ctx, evts)
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Config returns the program config.
func (e *Engine) Config(ctx context.Context) (*PointsConfig, error) {
	cfg, err := e.Store.Config(ctx)
	if err != nil {
		return nil, generic.NewOperationError("config", err, ProgramAccount)
	}
	return cfg, nil
}

// Contributor returns a contributor as stored. Period-scoped counters of a
// stale record are as of its marked period; use View for the current state.
func (e *Engine) Contributor(ctx context.Context, id generic.Identity) (*Contributor, error) {
	c, err := e.Store.Contributor(ctx, id)
	if err != nil {
		return nil, generic.NewOperationError("contributor", err, id)
	}
	return c, nil
}

// View returns the contributor as it would look after a lazy rollover,
// without writing anything.
func (e *Engine) View(ctx context.Context, id generic.Identity) (*Contributor, *PointsConfig, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return nil, nil, err
	}
	c, err := e.Contributor(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	c.RollTo(cfg.CurrentPeriod)
	return c, cfg, nil
}

// Contributors returns every contributor.
func (e *Engine) Contributors(ctx context.Context) ([]*Contributor, error) {
	return e.Store.Contributors(ctx)
}

// Events returns audit events matching filter.
func (e *Engine) Events(ctx context.Context, filter generic.EventFilter) ([]generic.Event, error) {
	return generic.NewLedger(e.Store.Events()).Events(ctx, filter)
}

// PeriodSummaries returns the audit records of closed periods.
func (e *Engine) PeriodSummaries(ctx context.Context) ([]PeriodSummary, error) {
	return e.Store.PeriodSummaries(ctx)
}

// =============================================================================
// INVARIANT SCAN
// =============================================================================

// InvariantReport is the result of a full-state scan.
type InvariantReport struct {
	Period            uint64
	PeriodTotalPoints uint64
	SumActivePoints   uint64
	Contributors      int
	Violations        []string
}

// OK returns true when no invariant is violated.
func (r InvariantReport) OK() bool { return len(r.Violations) == 0 }

// CheckInvariants scans the whole state and reports every violated invariant:
// period_total_points equals the sum of active contributor points, caps hold,
// lifetime totals dominate period counters and the pool is never overdrawn.
func (e *Engine) CheckInvariants(ctx context.Context) (InvariantReport, error) {
	var report InvariantReport
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		contributors, err := tx.Contributors(ctx)
		if err != nil {
			return err
		}
		report.Period = cfg.CurrentPeriod
		report.PeriodTotalPoints = cfg.PeriodTotalPoints
		report.Contributors = len(contributors)

		if err := cfg.Validate(); err != nil {
			report.Violations = append(report.Violations, err.Error())
		}

		var sum uint64
		for _, c := range contributors {
			active := c.ActivePoints(cfg.CurrentPeriod)
			if sum, err = generic.CheckedAdd(sum, active); err != nil {
				return err
			}
			if c.PeriodMarker > cfg.CurrentPeriod {
				report.Violations = append(report.Violations,
					fmt.Sprintf("%s: marked period %d is ahead of current period %d", c.ID, c.PeriodMarker, cfg.CurrentPeriod))
			}
			if c.TotalPoints < c.CurrentMonthPoints {
				report.Violations = append(report.Violations,
					fmt.Sprintf("%s: total points %d below current period points %d", c.ID, c.TotalPoints, c.CurrentMonthPoints))
			}
			if c.PeriodMarker == cfg.CurrentPeriod && active > cfg.MonthlyThreshold {
				report.Violations = append(report.Violations,
					fmt.Sprintf("%s: %d points exceeds monthly threshold %d", c.ID, active, cfg.MonthlyThreshold))
			}
			var typeSum uint64
			for _, t := range c.SortedTypes() {
				pts := c.TypePoints[t]
				typeSum += pts
				if c.PeriodMarker == cfg.CurrentPeriod && pts > cfg.MaxPointsPerType {
					report.Violations = append(report.Violations,
						fmt.Sprintf("%s: %d points of type %s exceeds per-type cap %d", c.ID, pts, t, cfg.MaxPointsPerType))
				}
			}
			if typeSum != c.CurrentMonthPoints {
				report.Violations = append(report.Violations,
					fmt.Sprintf("%s: per-type points %d do not add up to period points %d", c.ID, typeSum, c.CurrentMonthPoints))
			}
			if c.PeriodTokensClaimed > c.TokensClaimed {
				report.Violations = append(report.Violations,
					fmt.Sprintf("%s: period claims %d exceed lifetime claims %d", c.ID, c.PeriodTokensClaimed, c.TokensClaimed))
			}
		}
		report.SumActivePoints = sum
		if sum != cfg.PeriodTotalPoints {
			report.Violations = append(report.Violations,
				fmt.Sprintf("period_total_points %d != sum of contributor points %d", cfg.PeriodTotalPoints, sum))
		}
		return nil
	})
	if err != nil {
		return report, generic.NewOperationError("check_invariants", err, ProgramAccount)
	}
	return report, nil
}
