// Package resolution turns an oracle answer into a payout vector over a
// market's outcomes.
package resolution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

var (
	ErrOutcomeNotFound = fmt.Errorf("%w: answer matches no outcome", apperr.ErrNotFound)
	ErrAnswerMismatch  = fmt.Errorf("%w: answer type does not fit the market", apperr.ErrValidation)
	ErrScalarBounds    = fmt.Errorf("%w: scalar market needs exactly two numeric bounds", apperr.ErrValidation)
	ErrNegativeZero    = fmt.Errorf("%w: negative zero is not a valid bound", apperr.ErrValidation)
	ErrBoundSigns      = fmt.Errorf("%w: lower bound cannot be positive while upper bound is negative", apperr.ErrValidation)
	ErrBoundOrder      = fmt.Errorf("%w: lower bound must be below upper bound", apperr.ErrValidation)
)

// Resolve maps an answer onto a payout for the given outcome tags.
// Scalar markets interpolate between their two numeric bounds; all other
// markets pay the whole denomination to the matching tag.
func Resolve(answer Answer, tags []OutcomeTag, isScalar bool, denomination decimal.Decimal) (Payout, error) {
	switch a := answer.(type) {
	case InvalidAnswer:
		return Invalid(), nil
	case CategoricalAnswer:
		if isScalar {
			return Payout{}, fmt.Errorf("%w: scalar market got label %q", ErrAnswerMismatch, a.Label)
		}
		return oneHot(tags, denomination, func(tag OutcomeTag) bool {
			t, ok := tag.(CategoricalTag)
			return ok && t.Label == a.Label
		})
	case NumericAnswer:
		if err := a.Validate(); err != nil {
			return Payout{}, err
		}
		if isScalar {
			lower, upper, err := scalarBounds(tags)
			if err != nil {
				return Payout{}, err
			}
			return Valid(ScalarPayout(lower, upper, a.Number, denomination)), nil
		}
		return oneHot(tags, denomination, func(tag OutcomeTag) bool {
			t, ok := tag.(NumericTag)
			return ok && sameNumber(t.Number, a.Number)
		})
	default:
		return Payout{}, fmt.Errorf("%w: unknown answer %T", apperr.ErrValidation, answer)
	}
}

func oneHot(tags []OutcomeTag, denomination decimal.Decimal, match func(OutcomeTag) bool) (Payout, error) {
	for i, tag := range tags {
		if !match(tag) {
			continue
		}
		numerator := make([]decimal.Decimal, len(tags))
		for j := range numerator {
			numerator[j] = decimal.Zero
		}
		numerator[i] = denomination
		return Valid(numerator), nil
	}
	return Payout{}, ErrOutcomeNotFound
}

func scalarBounds(tags []OutcomeTag) (Number, Number, error) {
	if len(tags) != 2 {
		return Number{}, Number{}, ErrScalarBounds
	}
	lower, ok := tags[0].(NumericTag)
	if !ok {
		return Number{}, Number{}, ErrScalarBounds
	}
	upper, ok := tags[1].(NumericTag)
	if !ok {
		return Number{}, Number{}, ErrScalarBounds
	}
	if err := ValidateScalarBounds(lower.Number, upper.Number); err != nil {
		return Number{}, Number{}, err
	}
	return lower.Number, upper.Number, nil
}

// sameNumber compares two signed values across multipliers.
func sameNumber(a, b Number) bool {
	if a.Value.IsZero() && b.Value.IsZero() {
		return true
	}
	return a.Negative == b.Negative && a.Value.Mul(b.Multiplier).Equal(b.Value.Mul(a.Multiplier))
}
