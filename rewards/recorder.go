/*
recorder.go - Contribution recording

PURPOSE:
  Validates a contribution event and converts it to points under the
  per-type and monthly caps, updating the contributor and the program's
  period aggregate together.

ALGORITHM:
  1. Magnitude must be non-negative, caller must own the contributor
  2. Contribution type must have a rule in the program
  3. Lazy rollover: a contributor tagged with an older period has its
     period-scoped counters reset first
  4. awarded = Calculator.Points(...) clamped by the per-type cap,
     then clamped to the monthly headroom
  5. Increment total, period and per-type points, the contribution count,
     and the program's period_total_points (checked arithmetic)
  6. Append a contribution_recorded event with the final award

CAPS:
  Caps reduce the award, never the outcome. A contribution beyond both
  caps is still accepted, counted and recorded with points_awarded=0.
*/
package rewards

import (
	"context"
	"fmt"

	"github.com/warp/contributor-rewards/generic"
)

// RecordInput describes one contribution event.
type RecordInput struct {
	ContributorID  generic.Identity
	Actor          generic.Identity
	Type           ContributionType
	Magnitude      int64
	IdempotencyKey string
}

// RecordResult reports what the contribution was worth.
type RecordResult struct {
	ContributorID      generic.Identity
	Type               ContributionType
	Magnitude          uint64
	BasePoints         uint64
	PointsAwarded      uint64
	CappedBy           Cap
	Period             uint64
	CurrentMonthPoints uint64
	TotalPoints        uint64
	EventID            generic.EventID
}

// Record validates and records a contribution.
func (e *Engine) Record(ctx context.Context, in RecordInput) (*RecordResult, error) {
	const op = "record"
	if in.Magnitude < 0 {
		return nil, e.fail(op, fmt.Errorf("%w: %d", generic.ErrInvalidMagnitude, in.Magnitude), in.ContributorID, in.Actor)
	}
	magnitude := uint64(in.Magnitude)

	var result *RecordResult
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		c, err := tx.Contributor(ctx, in.ContributorID)
		if err != nil {
			return err
		}
		if !e.authorized(ctx, in.Actor, c.Authority) {
			return generic.ErrUnauthorized
		}

		c.RollTo(cfg.CurrentPeriod)

		calc, err := e.Calculator.Points(in.Type, magnitude, c.TypePoints[in.Type], cfg.MaxPointsPerType)
		if err != nil {
			return err
		}
		calc = ClampMonthly(calc, c.CurrentMonthPoints, cfg.MonthlyThreshold)

		if err := applyAward(cfg, c, in.Type, calc.Awarded); err != nil {
			return err
		}
		if err := tx.SaveContributor(ctx, c); err != nil {
			return err
		}
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}

		evt, err := e.appendEvent(ctx, tx, generic.Event{
			Kind:           EventContributionRecorded,
			Account:        c.ID,
			Actor:          in.Actor,
			Period:         cfg.CurrentPeriod,
			IdempotencyKey: in.IdempotencyKey,
			Attributes: map[string]string{
				"type":           string(in.Type),
				"magnitude":      generic.FormatUint(magnitude),
				"base_points":    generic.FormatUint(calc.Base),
				"points_awarded": generic.FormatUint(calc.Awarded),
				"capped_by":      string(calc.CappedBy),
			},
		})
		if err != nil {
			return err
		}

		result = &RecordResult{
			ContributorID:      c.ID,
			Type:               in.Type,
			Magnitude:          magnitude,
			BasePoints:         calc.Base,
			PointsAwarded:      calc.Awarded,
			CappedBy:           calc.CappedBy,
			Period:             cfg.CurrentPeriod,
			CurrentMonthPoints: c.CurrentMonthPoints,
			TotalPoints:        c.TotalPoints,
			EventID:            evt.ID,
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err, in.ContributorID, in.Actor)
	}

	e.metrics().ObserveContribution(string(in.Type), result.BasePoints, result.PointsAwarded, string(result.CappedBy))
	e.logger().Info("contribution recorded",
		"contributor", result.ContributorID,
		"type", in.Type,
		"magnitude", magnitude,
		"base_points", result.BasePoints,
		"points_awarded", result.PointsAwarded,
		"capped_by", string(result.CappedBy),
		"period", result.Period)
	return result, nil
}

// applyAward increments every counter an award touches. Nothing is written
// to cfg or c unless all additions succeed.
func applyAward(cfg *PointsConfig, c *Contributor, t ContributionType, awarded uint64) error {
	total, err := generic.CheckedAdd(c.TotalPoints, awarded)
	if err != nil {
		return err
	}
	month, err := generic.CheckedAdd(c.CurrentMonthPoints, awarded)
	if err != nil {
		return err
	}
	perType, err := generic.CheckedAdd(c.TypePoints[t], awarded)
	if err != nil {
		return err
	}
	count, err := generic.CheckedAdd(c.ContributionCount, 1)
	if err != nil {
		return err
	}
	periodTotal, err := generic.CheckedAdd(cfg.PeriodTotalPoints, awarded)
	if err != nil {
		return err
	}

	c.TotalPoints = total
	c.CurrentMonthPoints = month
	c.TypePoints[t] = perType
	c.ContributionCount = count
	cfg.PeriodTotalPoints = periodTotal
	return nil
}
