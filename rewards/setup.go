package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/contributor-rewards/generic"
)

// InitializeArgs are the program parameters chosen by the authority.
type InitializeArgs struct {
	MonthlyThreshold uint64
	ReserveRatio     uint16
	MaxPointsPerType uint64
	InitialReserve   uint64
	Schedule         generic.PeriodConfig
}

// Initialize creates the program config. The caller becomes its authority.
func (e *Engine) Initialize(ctx context.Context, authority generic.Identity, args InitializeArgs) (*PointsConfig, error) {
	const op = "initialize"
	if authority.IsZero() {
		return nil, e.fail(op, generic.ErrUnauthorized, authority)
	}
	if args.ReserveRatio > MaxReserveRatio {
		return nil, e.fail(op, fmt.Errorf("%w: %d bps", generic.ErrInvalidRatio, args.ReserveRatio), authority)
	}
	if err := args.Schedule.Validate(); err != nil {
		return nil, e.fail(op, err, authority)
	}
	if args.Schedule.Type == "" {
		args.Schedule.Type = generic.PeriodManual
	}

	now := e.now().Now()
	var cfg *PointsConfig
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.Config(ctx)
		if err == nil {
			return generic.ErrAlreadyInitialized
		}
		if !errors.Is(err, generic.ErrNotInitialized) {
			return err
		}

		cfg = &PointsConfig{
			Authority:        authority,
			MonthlyThreshold: args.MonthlyThreshold,
			ReserveRatio:     args.ReserveRatio,
			MaxPointsPerType: args.MaxPointsPerType,
			CurrentPeriod:    1,
			PeriodStartedAt:  now,
			Schedule:         args.Schedule,
			ReserveBalance:   args.InitialReserve,
		}
		if err := tx.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		_, err = e.appendEvent(ctx, tx, generic.Event{
			Kind:    EventProgramInitialized,
			Account: ProgramAccount,
			Actor:   authority,
			Period:  cfg.CurrentPeriod,
			Attributes: map[string]string{
				"authority":           authority.String(),
				"monthly_threshold":   generic.FormatUint(args.MonthlyThreshold),
				"reserve_ratio":       generic.FormatUint(uint64(args.ReserveRatio)),
				"max_points_per_type": generic.FormatUint(args.MaxPointsPerType),
				"reserve_balance":     generic.FormatUint(args.InitialReserve),
				"schedule":            args.Schedule.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, e.fail(op, err, authority)
	}

	e.metrics().ObservePeriod(cfg.CurrentPeriod)
	e.metrics().ObserveReserve(cfg.ReserveBalance, 0)
	e.logger().Info("program initialized",
		"authority", authority,
		"monthly_threshold", args.MonthlyThreshold,
		"reserve_ratio", args.ReserveRatio,
		"max_points_per_type", args.MaxPointsPerType,
		"schedule", args.Schedule.String())
	return cfg.Clone(), nil
}

// CreateContributor creates a contributor account with all counters zeroed
// and is_verified=false, owned by authority.
func (e *Engine) CreateContributor(ctx context.Context, id, authority generic.Identity) (*Contributor, error) {
	const op = "create_contributor"
	if id.IsZero() || authority.IsZero() {
		return nil, e.fail(op, generic.ErrUnauthorized, id, authority)
	}

	now := e.now().Now()
	var c *Contributor
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		_, err = tx.Contributor(ctx, id)
		if err == nil {
			return generic.ErrContributorExists
		}
		if !errors.Is(err, generic.ErrContributorNotFound) {
			return err
		}

		c = &Contributor{
			ID:           id,
			Authority:    authority,
			PeriodMarker: cfg.CurrentPeriod,
			TypePoints:   make(map[ContributionType]uint64),
			CreatedAt:    now,
		}
		if err := tx.SaveContributor(ctx, c); err != nil {
			return err
		}
		_, err = e.appendEvent(ctx, tx, generic.Event{
			Kind:       EventContributorCreated,
			Account:    id,
			Actor:      authority,
			Period:     cfg.CurrentPeriod,
			Attributes: map[string]string{"authority": authority.String()},
		})
		return err
	})
	if err != nil {
		return nil, e.fail(op, err, id, authority)
	}

	e.logger().Info("contributor created", "contributor", id, "authority", authority)
	return c.Clone(), nil
}

// SetVerified sets the verification gate of a contributor. Authority only.
func (e *Engine) SetVerified(ctx context.Context, actor, id generic.Identity, verified bool) (*Contributor, error) {
	const op = "set_verified"
	var c *Contributor
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		cfg, err := tx.Config(ctx)
		if err != nil {
			return err
		}
		if !e.authorized(ctx, actor, cfg.Authority) {
			return generic.ErrUnauthorized
		}
		c, err = tx.Contributor(ctx, id)
		if err != nil {
			return err
		}
		c.IsVerified = verified
		if err := tx.SaveContributor(ctx, c); err != nil {
			return err
		}
		_, err = e.appendEvent(ctx, tx, generic.Event{
			Kind:       EventContributorVerified,
			Account:    id,
			Actor:      actor,
			Period:     cfg.CurrentPeriod,
			Attributes: map[string]string{"verified": fmt.Sprint(verified)},
		})
		return err
	})
	if err != nil {
		return nil, e.fail(op, err, id, actor)
	}

	e.logger().Info("contributor verification changed", "contributor", id, "verified", verified, "actor", actor)
	return c.Clone(), nil
}
