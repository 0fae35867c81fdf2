package generic

import "fmt"

// =============================================================================
// ACCRUAL RULE - How a contribution's magnitude becomes points
// =============================================================================

// AccrualRule converts a magnitude into a base point value.
// Implementations must be total, monotonic in magnitude and round down.
// They never wrap: an unrepresentable result is ErrArithmeticOverflow.
type AccrualRule interface {
	// Points returns the base points for the given magnitude.
	Points(magnitude uint64) (uint64, error)

	// Describe returns a short human-readable form of the rule.
	Describe() string
}

// AccrualRuleType names the rule families a program definition may use.
type AccrualRuleType string

const (
	RuleLinear AccrualRuleType = "linear"
	RuleFlat   AccrualRuleType = "flat"
)

// =============================================================================
// LINEAR ACCRUAL - weight × magnitude
// =============================================================================

// LinearAccrual awards floor(magnitude * WeightBps / 10000) points.
// A weight of 10000 bps is one point per unit of magnitude.
type LinearAccrual struct {
	WeightBps uint64
}

func (a LinearAccrual) Points(magnitude uint64) (uint64, error) {
	return MulDivFloor(magnitude, a.WeightBps, BasisPoints)
}

func (a LinearAccrual) Describe() string {
	return fmt.Sprintf("linear(%d bps)", a.WeightBps)
}

// =============================================================================
// FLAT ACCRUAL - fixed per-event constant
// =============================================================================

// FlatAccrual awards a fixed number of points for any positive magnitude.
// A zero magnitude awards nothing, which keeps the rule monotonic.
type FlatAccrual struct {
	PointsPerEvent uint64
}

func (a FlatAccrual) Points(magnitude uint64) (uint64, error) {
	if magnitude == 0 {
		return 0, nil
	}
	return a.PointsPerEvent, nil
}

func (a FlatAccrual) Describe() string {
	return fmt.Sprintf("flat(%d)", a.PointsPerEvent)
}
