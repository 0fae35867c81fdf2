/*
distributor.go - Reserve-constrained token distribution

PURPOSE:
  Converts a contributor's share of the period's points into tokens drawn
  from the period pool.

FORMULA (integer only, always rounded down):
  pool     = reserve_balance * reserve_ratio / 10000   (fixed on first claim)
  entitled = pool * current_month_points / period_total_points
  owed     = max(0, entitled - period_tokens_claimed)
  tokens   = min(owed, pool - distributed_this_period)

  The truncation remainder of every share stays in the reserve. Because the
  pool is fixed once per period, the sum of all releases in a period never
  exceeds it, whatever the order of claims.

REPEAT CLAIMS:
  period_tokens_claimed is the per-period "already claimed" marker. A second
  claim with no new points is owed 0 and succeeds with tokens=0. A claim
  after new points were recorded releases only the difference.

TRANSFER:
  The engine decides the amount. The TransferSink moves it, after commit,
  referenced by the tokens_distributed event ID.
*/
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/contributor-rewards/generic"
)

// DistributeInput identifies the claiming contributor.
type DistributeInput struct {
	ContributorID generic.Identity
	Actor         generic.Identity
}

// DistributeResult reports the claim.
type DistributeResult struct {
	ContributorID  generic.Identity
	Period         uint64
	Tokens         uint64
	Pool           uint64
	Entitled       uint64
	AlreadyClaimed uint64 // Released to this contributor in the period before this claim
	Points         uint64
	PeriodTotal    uint64
	ClaimedAt      time.Time
	EventID        generic.EventID
}

// Distribute releases the contributor's unclaimed share of the period pool.
func (e *Engine) Distribute(ctx context.Context, in DistributeInput) (*DistributeResult, error) {
	const op = "distribute"
	now := e.now().Now()

	var (
		result    *DistributeResult
		recipient generic.Identity
		cfg       *PointsConfig
	)
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		cfg, err = tx.Config(ctx)
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
		if !c.IsVerified {
			return generic.ErrNotVerified
		}
		c.RollTo(cfg.CurrentPeriod)
		if cfg.PeriodTotalPoints == 0 {
			return generic.ErrEmptyPeriod
		}

		if !cfg.PoolFixed() {
			pool, err := generic.MulDivFloor(cfg.ReserveBalance, uint64(cfg.ReserveRatio), generic.BasisPoints)
			if err != nil {
				return err
			}
			cfg.PoolPeriod = cfg.CurrentPeriod
			cfg.PeriodPool = pool
			cfg.DistributedThisPeriod = 0
		}

		entitled, err := generic.MulDivFloor(cfg.PeriodPool, c.CurrentMonthPoints, cfg.PeriodTotalPoints)
		if err != nil {
			return err
		}
		owed := generic.SaturatingSub(entitled, c.PeriodTokensClaimed)
		tokens := min(owed, generic.SaturatingSub(cfg.PeriodPool, cfg.DistributedThisPeriod))

		if err := applyRelease(cfg, c, tokens); err != nil {
			return err
		}
		if tokens > 0 {
			c.LastClaimTime = now
		}

		if err := tx.SaveContributor(ctx, c); err != nil {
			return err
		}
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		evt, err := e.appendEvent(ctx, tx, generic.Event{
			Kind:    EventTokensDistributed,
			Account: c.ID,
			Actor:   in.Actor,
			Period:  cfg.CurrentPeriod,
			Attributes: map[string]string{
				"tokens":       generic.FormatUint(tokens),
				"pool":         generic.FormatUint(cfg.PeriodPool),
				"entitled":     generic.FormatUint(entitled),
				"points":       generic.FormatUint(c.CurrentMonthPoints),
				"period_total": generic.FormatUint(cfg.PeriodTotalPoints),
			},
		})
		if err != nil {
			return err
		}

		recipient = c.Authority
		result = &DistributeResult{
			ContributorID:  c.ID,
			Period:         cfg.CurrentPeriod,
			Tokens:         tokens,
			Pool:           cfg.PeriodPool,
			Entitled:       entitled,
			AlreadyClaimed: c.PeriodTokensClaimed - tokens,
			Points:         c.CurrentMonthPoints,
			PeriodTotal:    cfg.PeriodTotalPoints,
			ClaimedAt:      now,
			EventID:        evt.ID,
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(op, err, in.ContributorID, in.Actor)
	}

	e.metrics().ObserveDistribution(result.Tokens)
	e.metrics().ObserveReserve(cfg.ReserveBalance, cfg.PeriodPool)
	e.logger().Info("tokens distributed",
		"contributor", result.ContributorID,
		"tokens", result.Tokens,
		"entitled", result.Entitled,
		"pool", result.Pool,
		"period", result.Period)

	if result.Tokens > 0 && e.Transfers != nil {
		if err := e.Transfers.Transfer(ctx, recipient, result.Tokens, string(result.EventID)); err != nil {
			return result, e.fail(op, fmt.Errorf("%w: %v", generic.ErrTransferFailed, err), in.ContributorID, recipient)
		}
	}
	return result, nil
}

// applyRelease books tokens against the contributor and the reserve.
// Nothing is written unless every counter update succeeds.
func applyRelease(cfg *PointsConfig, c *Contributor, tokens uint64) error {
	claimed, err := generic.CheckedAdd(c.TokensClaimed, tokens)
	if err != nil {
		return err
	}
	periodClaimed, err := generic.CheckedAdd(c.PeriodTokensClaimed, tokens)
	if err != nil {
		return err
	}
	distributed, err := generic.CheckedAdd(cfg.DistributedThisPeriod, tokens)
	if err != nil {
		return err
	}
	total, err := generic.CheckedAdd(cfg.TotalDistributed, tokens)
	if err != nil {
		return err
	}
	balance, err := generic.CheckedSub(cfg.ReserveBalance, tokens)
	if err != nil {
		return err
	}

	c.TokensClaimed = claimed
	c.PeriodTokensClaimed = periodClaimed
	cfg.DistributedThisPeriod = distributed
	cfg.TotalDistributed = total
	cfg.ReserveBalance = balance
	return nil
}
