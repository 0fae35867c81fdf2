package generic

import (
	"github.com/holiman/uint256"
)

// =============================================================================
// CHECKED ARITHMETIC - uint64 counters, overflow is an error
// =============================================================================

// BasisPoints is the fixed-point denominator for ratios and weights.
const BasisPoints uint64 = 10_000

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return sum.Uint64(), nil
}

// CheckedSub returns a-b or ErrArithmeticOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// MulDivFloor returns floor(a*b/denom). The product is computed in 256 bits so
// only a quotient that does not fit in 64 bits is an overflow. A zero
// denominator is reported as an overflow as well.
func MulDivFloor(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, ErrArithmeticOverflow
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quotient := product.Div(product, uint256.NewInt(denom))
	if !quotient.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return quotient.Uint64(), nil
}

// SaturatingSub returns a-b, or 0 when b >= a.
func SaturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
