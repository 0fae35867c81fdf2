/*
calculator.go - Points formula and per-type cap

PURPOSE:
  Maps (contribution type, magnitude, per-type points so far, per-type cap)
  to the points awarded. Pure: no state is read or written here, the
  Recorder owns all mutation.

FORMULA:
  base    = rule(type).Points(magnitude)        // linear weight or flat constant, rounded down
  room    = max(0, maxPerType - perTypeSoFar)
  awarded = min(base, room)

  Reaching the cap is not an error. Contributions beyond it are accepted
  and award 0, so legitimate over-activity is never rejected.

SEE ALSO:
  - generic/accrual.go: LinearAccrual, FlatAccrual
  - policies.go: Preset rule sets
  - recorder.go: Applies the monthly threshold on top of this result
*/
package rewards

import (
	"fmt"

	"github.com/warp/contributor-rewards/generic"
)

// RuleSet maps each recognized contribution type to its accrual rule.
type RuleSet map[ContributionType]generic.AccrualRule

// Rule returns the rule for t or ErrInvalidContributionType.
func (rs RuleSet) Rule(t ContributionType) (generic.AccrualRule, error) {
	rule, ok := rs[t]
	if !ok || rule == nil {
		return nil, fmt.Errorf("%w: %q", generic.ErrInvalidContributionType, t)
	}
	return rule, nil
}

// Cap names which ceiling reduced an award.
type Cap string

const (
	CapNone    Cap = ""
	CapPerType Cap = "per_type"
	CapMonthly Cap = "monthly"
)

// Calculation is the outcome of the points formula.
type Calculation struct {
	Base     uint64 // Theoretical points before caps
	Awarded  uint64 // Points after the per-type cap
	CappedBy Cap
}

// Calculator is the pure points function over a rule set.
type Calculator struct {
	Rules RuleSet
}

// Points computes the award for one contribution.
func (c Calculator) Points(t ContributionType, magnitude, perTypeSoFar, maxPointsPerType uint64) (Calculation, error) {
	rule, err := c.Rules.Rule(t)
	if err != nil {
		return Calculation{}, err
	}
	base, err := rule.Points(magnitude)
	if err != nil {
		return Calculation{}, err
	}

	room := generic.SaturatingSub(maxPointsPerType, perTypeSoFar)
	if base > room {
		return Calculation{Base: base, Awarded: room, CappedBy: CapPerType}, nil
	}
	return Calculation{Base: base, Awarded: base}, nil
}

// ClampMonthly further limits an award to the remaining monthly headroom.
func ClampMonthly(calc Calculation, currentMonthPoints, monthlyThreshold uint64) Calculation {
	headroom := generic.SaturatingSub(monthlyThreshold, currentMonthPoints)
	if calc.Awarded > headroom {
		calc.Awarded = headroom
		calc.CappedBy = CapMonthly
	}
	return calc
}
