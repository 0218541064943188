package calc

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// MaxU128 is the largest amount representable on the wire (2^128 - 1).
	MaxU128 = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)

	// FeeDenominator scales swap fees: 1 = 0.01%, 10000 = 100%.
	FeeDenominator = decimal.NewFromInt(10_000)

	one = decimal.NewFromInt(1)
)

// DivFloor returns floor(a / b) for non-negative integers. b must be non-zero.
func DivFloor(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, 0)
	return q
}

// DivCeil returns ceil(a / b) for non-negative integers. b must be non-zero.
func DivCeil(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, 0)
	if !r.IsZero() {
		q = q.Add(one)
	}
	return q
}

// MulDiv returns floor(a * b / c).
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	return DivFloor(a.Mul(b), c)
}

// MulDivCeil returns ceil(a * b / c).
func MulDivCeil(a, b, c decimal.Decimal) decimal.Decimal {
	return DivCeil(a.Mul(b), c)
}

// FeeOf returns the basis-point fee charged on amount, rounded down.
func FeeOf(amount, feeBps decimal.Decimal) decimal.Decimal {
	return MulDiv(amount, feeBps, FeeDenominator)
}

// GrossUpFee returns amount * 10000 / (10000 - feeBps), the pre-fee value
// whose net is amount. feeBps must be below FeeDenominator.
func GrossUpFee(amount, feeBps decimal.Decimal) decimal.Decimal {
	return MulDiv(amount, FeeDenominator, FeeDenominator.Sub(feeBps))
}

// Max returns the largest value, or zero for an empty slice.
func Max(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Max(values[0], values[1:]...)
}

// Sum adds all values.
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Pow10 returns 10^exp as an integer decimal.
func Pow10(exp int32) decimal.Decimal {
	return decimal.New(1, exp)
}

// SaturatingSub returns a - b, or zero when b exceeds a.
func SaturatingSub(a, b decimal.Decimal) decimal.Decimal {
	if b.GreaterThanOrEqual(a) {
		return decimal.Zero
	}
	return a.Sub(b)
}
