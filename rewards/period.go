/*
period.go - Period rollover and reserve management

PURPOSE:
  Owns the period counter, the reserve balance and ratio, and the caps.
  All of it lives on PointsConfig; nothing here touches contributors.

ROLLOVER POLICY:
  The program authority may advance at any time. Once the schedule says the
  active period has elapsed (calendar month or fixed length), any actor may
  advance it, which is how the scheduler rolls periods as SystemIdentity.
  Manual schedules never elapse.

  Advancing:
    1. Closes the active period into a PeriodSummary (pool, distributed,
       remainder that stays in the reserve)
    2. current_period += 1, period_total_points = 0
    3. Starts the next period at the scheduled boundary when the period was
       due, or at the advance time when the authority closed it early
    4. Unfixes the pool, so the next period's pool is fixed on its first claim
    5. Applies staged cap reductions, recorded as a caps_updated event in
       the same batch as period_advanced

RESERVE:
  The pool of a period is fixed the first time it is drawn on. A reserve
  update made before anything was released re-fixes it on the next claim;
  after the first release it only affects the next period.

SEE ALSO:
  - distributor.go: Fixes and draws on the pool
  - api/scheduler.go: Time-triggered rollover
*/
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/contributor-rewards/generic"
)

// =============================================================================
// ADVANCE PERIOD
// =============================================================================

// AdvancePeriod closes the active period and opens the next one.
func (e *Engine) AdvancePeriod(ctx context.Context, actor generic.Identity) (*PeriodSummary, error) {
	const op = "advance_period"
	now := e.now().Now()

	var (
		summary PeriodSummary
		cfg     *PointsConfig
	)
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		cfg, err = tx.Config(ctx)
		if err != nil {
			return err
		}
		if !e.mayAdvance(ctx, actor, cfg, now) {
			return generic.ErrUnauthorized
		}

		next, err := generic.CheckedAdd(cfg.CurrentPeriod, 1)
		if err != nil {
			return err
		}

		summary = closePeriod(cfg, actor, now)
		old := cfg.CurrentPeriod

		cfg.CurrentPeriod = next
		cfg.PeriodTotalPoints = 0
		cfg.PeriodStartedAt = nextPeriodStart(cfg, now)
		cfg.PoolPeriod = 0
		cfg.PeriodPool = 0
		cfg.DistributedThisPeriod = 0
		capsApplied := applyStagedCaps(cfg)

		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		if err := tx.SavePeriodSummary(ctx, summary); err != nil {
			return err
		}
		evts := []generic.Event{{
			Kind:    EventPeriodAdvanced,
			Account: ProgramAccount,
			Actor:   actor,
			Period:  next,
			Attributes: map[string]string{
				"old_period":   generic.FormatUint(old),
				"new_period":   generic.FormatUint(next),
				"total_points": generic.FormatUint(summary.TotalPoints),
				"pool":         generic.FormatUint(summary.Pool),
				"distributed":  generic.FormatUint(summary.Distributed),
				"remainder":    generic.FormatUint(summary.Remainder),
				"started_at":   cfg.PeriodStartedAt.UTC().Format(time.RFC3339),
			},
		}}
		if capsApplied {
			evts = append(evts, generic.Event{
				Kind:    EventCapsUpdated,
				Account: ProgramAccount,
				Actor:   actor,
				Period:  next,
				Attributes: map[string]string{
					"monthly_threshold":   generic.FormatUint(cfg.MonthlyThreshold),
					"max_points_per_type": generic.FormatUint(cfg.MaxPointsPerType),
					"applied_at_rollover": "true",
				},
			})
		}
		return e.appendEvents(ctx, tx, evts)
	})
	if err != nil {
		return nil, e.fail(op, err, ProgramAccount, actor)
	}

	e.metrics().ObservePeriod(cfg.CurrentPeriod)
	e.metrics().ObserveReserve(cfg.ReserveBalance, 0)
	e.logger().Info("period advanced",
		"old_period", summary.Period,
		"new_period", cfg.CurrentPeriod,
		"total_points", summary.TotalPoints,
		"distributed", summary.Distributed,
		"remainder", summary.Remainder,
		"actor", actor)
	return &summary, nil
}

// PeriodDue reports whether the active period has elapsed under the
// program's schedule.
func (e *Engine) PeriodDue(ctx context.Context) (bool, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return false, err
	}
	return cfg.Schedule.Elapsed(cfg.PeriodStartedAt, e.now().Now()), nil
}

// nextPeriodStart returns the boundary of the closed period when it was due,
// so fixed-length and monthly periods do not drift with the scheduler's
// check interval. An early advance starts the next period at now.
func nextPeriodStart(cfg *PointsConfig, now time.Time) time.Time {
	end, ok := cfg.Schedule.EndOf(cfg.PeriodStartedAt)
	if !ok || now.Before(end) {
		return now
	}
	return end
}

// applyStagedCaps moves staged cap reductions into effect. It reports
// whether anything changed.
func applyStagedCaps(cfg *PointsConfig) bool {
	applied := false
	if cfg.PendingMonthlyThreshold != nil {
		cfg.MonthlyThreshold = *cfg.PendingMonthlyThreshold
		cfg.PendingMonthlyThreshold = nil
		applied = true
	}
	if cfg.PendingMaxPointsPerType != nil {
		cfg.MaxPointsPerType = *cfg.PendingMaxPointsPerType
		cfg.PendingMaxPointsPerType = nil
		applied = true
	}
	return applied
}

func (e *Engine) mayAdvance(ctx context.Context, actor generic.Identity, cfg *PointsConfig, now time.Time) bool {
	if e.authorized(ctx, actor, cfg.Authority) {
		return true
	}
	return !actor.IsZero() && cfg.Schedule.Elapsed(cfg.PeriodStartedAt, now)
}

// closePeriod builds the audit record of the active period.
func closePeriod(cfg *PointsConfig, actor generic.Identity, now time.Time) PeriodSummary {
	s := PeriodSummary{
		Period:      cfg.CurrentPeriod,
		TotalPoints: cfg.PeriodTotalPoints,
		StartedAt:   cfg.PeriodStartedAt,
		ClosedAt:    now,
		ClosedBy:    actor,
	}
	if cfg.PoolFixed() {
		s.Pool = cfg.PeriodPool
		s.Distributed = cfg.DistributedThisPeriod
		s.Remainder = generic.SaturatingSub(cfg.PeriodPool, cfg.DistributedThisPeriod)
	}
	return s
}

// =============================================================================
// RESERVE
// =============================================================================

// ReserveUpdate changes the ratio, tops up the balance, or both.
type ReserveUpdate struct {
	Ratio *uint16
	TopUp uint64
}

// UpdateReserve applies a reserve change. Authority only.
func (e *Engine) UpdateReserve(ctx context.Context, actor generic.Identity, update ReserveUpdate) (*PointsConfig, error) {
	const op = "update_reserve"
	if update.Ratio != nil && *update.Ratio > MaxReserveRatio {
		return nil, e.fail(op, fmt.Errorf("%w: %d bps", generic.ErrInvalidRatio, *update.Ratio), ProgramAccount, actor)
	}

	var cfg *PointsConfig
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		cfg, err = tx.Config(ctx)
		if err != nil {
			return err
		}
		if !e.authorized(ctx, actor, cfg.Authority) {
			return generic.ErrUnauthorized
		}

		balance, err := generic.CheckedAdd(cfg.ReserveBalance, update.TopUp)
		if err != nil {
			return err
		}
		cfg.ReserveBalance = balance
		if update.Ratio != nil {
			cfg.ReserveRatio = *update.Ratio
		}
		if cfg.PoolFixed() && cfg.DistributedThisPeriod == 0 {
			cfg.PoolPeriod = 0
			cfg.PeriodPool = 0
		}

		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		_, err = e.appendEvent(ctx, tx, generic.Event{
			Kind:    EventReserveUpdated,
			Account: ProgramAccount,
			Actor:   actor,
			Period:  cfg.CurrentPeriod,
			Attributes: map[string]string{
				"new_ratio":   generic.FormatUint(uint64(cfg.ReserveRatio)),
				"new_balance": generic.FormatUint(cfg.ReserveBalance),
				"top_up":      generic.FormatUint(update.TopUp),
			},
		})
		return err
	})
	if err != nil {
		return nil, e.fail(op, err, ProgramAccount, actor)
	}

	pool, _ := cfg.ProjectedPool()
	e.metrics().ObserveReserve(cfg.ReserveBalance, pool)
	e.logger().Info("reserve updated",
		"ratio", cfg.ReserveRatio,
		"balance", cfg.ReserveBalance,
		"top_up", update.TopUp,
		"actor", actor)
	return cfg.Clone(), nil
}

// =============================================================================
// CAPS
// =============================================================================

// CapsUpdate changes the monthly threshold, the per-type cap, or both.
type CapsUpdate struct {
	MonthlyThreshold *uint64
	MaxPointsPerType *uint64
}

// UpdateCaps changes the caps. Authority only. Raising a cap applies at once;
// lowering one is staged until the next rollover so no contributor ends up
// above a cap with points already awarded.
func (e *Engine) UpdateCaps(ctx context.Context, actor generic.Identity, update CapsUpdate) (*PointsConfig, error) {
	const op = "update_caps"
	var cfg *PointsConfig
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		cfg, err = tx.Config(ctx)
		if err != nil {
			return err
		}
		if !e.authorized(ctx, actor, cfg.Authority) {
			return generic.ErrUnauthorized
		}

		if v := update.MonthlyThreshold; v != nil {
			cfg.MonthlyThreshold, cfg.PendingMonthlyThreshold = stageCap(cfg.MonthlyThreshold, *v)
		}
		if v := update.MaxPointsPerType; v != nil {
			cfg.MaxPointsPerType, cfg.PendingMaxPointsPerType = stageCap(cfg.MaxPointsPerType, *v)
		}

		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		attrs := map[string]string{
			"monthly_threshold":   generic.FormatUint(cfg.MonthlyThreshold),
			"max_points_per_type": generic.FormatUint(cfg.MaxPointsPerType),
		}
		if cfg.PendingMonthlyThreshold != nil {
			attrs["pending_monthly_threshold"] = generic.FormatUint(*cfg.PendingMonthlyThreshold)
		}
		if cfg.PendingMaxPointsPerType != nil {
			attrs["pending_max_points_per_type"] = generic.FormatUint(*cfg.PendingMaxPointsPerType)
		}
		_, err = e.appendEvent(ctx, tx, generic.Event{
			Kind:       EventCapsUpdated,
			Account:    ProgramAccount,
			Actor:      actor,
			Period:     cfg.CurrentPeriod,
			Attributes: attrs,
		})
		return err
	})
	if err != nil {
		return nil, e.fail(op, err, ProgramAccount, actor)
	}

	e.logger().Info("caps updated",
		"monthly_threshold", cfg.MonthlyThreshold,
		"max_points_per_type", cfg.MaxPointsPerType,
		"actor", actor)
	return cfg.Clone(), nil
}

// stageCap returns the cap to apply now and the one staged for rollover.
func stageCap(current, requested uint64) (uint64, *uint64) {
	if requested >= current {
		return requested, nil
	}
	return current, &requested
}
