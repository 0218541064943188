package resolution

import (
	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/calc"
)

// ScalarPayout interpolates answer between the lower and upper bound and
// returns [short, long] where short+long equals denomination. Answers
// outside the range are clamped to it. The bounds must already satisfy the
// market creation rules (lower < upper, no (pos, neg) pair).
func ScalarPayout(lower, upper, answer Number, denomination decimal.Decimal) []decimal.Decimal {
	lb, ub, ans := commonScale(lower, upper, answer)

	switch {
	case lower.Negative && upper.Negative:
		span := lb.Sub(ub)
		switch {
		case answer.Negative && ans.GreaterThan(lb):
			ans = decimal.Zero
		case !answer.Negative || ans.IsZero():
			ans = span
		default:
			ans = lb.Sub(ans)
		}
		lb, ub = decimal.Zero, span
	case lower.Negative:
		ub = ub.Add(lb)
		if answer.Negative {
			if ans.GreaterThan(lb) {
				ans = decimal.Zero
			} else {
				ans = lb.Sub(ans)
			}
		} else {
			ans = ans.Add(lb)
		}
		lb = decimal.Zero
	default:
		if answer.Negative && !ans.IsZero() {
			ans = lb
		}
	}

	if ans.LessThan(lb) {
		ans = lb
	}
	if ans.GreaterThan(ub) {
		ans = ub
	}

	short := calc.MulDiv(ub.Sub(ans), denomination, ub.Sub(lb))
	return []decimal.Decimal{short, denomination.Sub(short)}
}

// ValidateScalarBounds checks a lower/upper bound pair for a scalar market:
// no negative zero, no (non-negative, negative) pair and a non-empty range.
func ValidateScalarBounds(lower, upper Number) error {
	if err := lower.Validate(); err != nil {
		return err
	}
	if err := upper.Validate(); err != nil {
		return err
	}
	if lower.IsNegativeZero() || upper.IsNegativeZero() {
		return ErrNegativeZero
	}
	lb, ub, _ := commonScale(lower, upper, Number{Value: decimal.Zero, Multiplier: decimal.NewFromInt(1)})
	switch {
	case !lower.Negative && upper.Negative:
		return ErrBoundSigns
	case lower.Negative && upper.Negative:
		if !lb.GreaterThan(ub) {
			return ErrBoundOrder
		}
	case !lower.Negative && !upper.Negative:
		if !lb.LessThan(ub) {
			return ErrBoundOrder
		}
	}
	return nil
}

// commonScale brings three magnitudes onto the product of their multipliers
// so they can be compared as integers.
func commonScale(lower, upper, answer Number) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	if lower.Multiplier.Equal(upper.Multiplier) && upper.Multiplier.Equal(answer.Multiplier) {
		return lower.Value, upper.Value, answer.Value
	}
	lb := lower.Value.Mul(upper.Multiplier).Mul(answer.Multiplier)
	ub := upper.Value.Mul(lower.Multiplier).Mul(answer.Multiplier)
	ans := answer.Value.Mul(lower.Multiplier).Mul(upper.Multiplier)
	return lb, ub, ans
}
