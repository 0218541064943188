package resolution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

var denom = decimal.New(1, 24)

func num(value int64, negative bool) Number {
	return Number{Value: decimal.NewFromInt(value), Multiplier: decimal.NewFromInt(100), Negative: negative}
}

func scalarTags(lower, upper Number) []OutcomeTag {
	return []OutcomeTag{NumericTag{Number: lower}, NumericTag{Number: upper}}
}

func assertVector(t *testing.T, expected []decimal.Decimal, p Payout) {
	t.Helper()
	require.Equal(t, PayoutValid, p.State())
	got := p.Numerator()
	require.Len(t, got, len(expected))
	for i := range expected {
		assert.True(t, expected[i].Equal(got[i]), "index %d: expected %s, got %s", i, expected[i], got[i])
	}
}

func TestResolveCategorical(t *testing.T) {
	tags := []OutcomeTag{CategoricalTag{Label: "YES"}, CategoricalTag{Label: "NO"}}

	p, err := Resolve(CategoricalAnswer{Label: "NO"}, tags, false, denom)
	require.NoError(t, err)
	assertVector(t, []decimal.Decimal{decimal.Zero, denom}, p)

	_, err = Resolve(CategoricalAnswer{Label: "MAYBE"}, tags, false, denom)
	assert.ErrorIs(t, err, ErrOutcomeNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolveNumericCategorical(t *testing.T) {
	tags := []OutcomeTag{NumericTag{Number: num(100, false)}, NumericTag{Number: num(200, false)}, NumericTag{Number: num(300, false)}}
	answer := NumericAnswer{Number: Number{Value: decimal.NewFromInt(2), Multiplier: decimal.NewFromInt(1)}}

	p, err := Resolve(answer, tags, false, denom)
	require.NoError(t, err)
	assertVector(t, []decimal.Decimal{decimal.Zero, denom, decimal.Zero}, p)
}

func TestResolveScalar(t *testing.T) {
	half := decimal.New(5, 23)

	tests := []struct {
		name     string
		lower    Number
		upper    Number
		answer   Number
		expected []decimal.Decimal
	}{
		{"symmetric positive range midpoint", num(0, false), num(500, false), num(250, false), []decimal.Decimal{half, half}},
		{"mixed sign range midpoint", num(50, true), num(50, false), num(0, false), []decimal.Decimal{half, half}},
		{"both negative below range", num(200, true), num(100, true), num(201, true), []decimal.Decimal{denom, decimal.Zero}},
		{"above range", num(0, false), num(50, false), num(55, false), []decimal.Decimal{decimal.Zero, denom}},
		{"both negative midpoint", num(200, true), num(100, true), num(150, true), []decimal.Decimal{half, half}},
		{"both negative positive answer", num(200, true), num(100, true), num(10, false), []decimal.Decimal{decimal.Zero, denom}},
		{"both negative above range", num(200, true), num(100, true), num(50, true), []decimal.Decimal{decimal.Zero, denom}},
		{"mixed sign below range", num(50, true), num(50, false), num(60, true), []decimal.Decimal{denom, decimal.Zero}},
		{"mixed sign negative inside", num(100, true), num(100, false), num(50, true), []decimal.Decimal{decimal.New(75, 22), decimal.New(25, 22)}},
		{"positive range negative answer", num(10, false), num(20, false), num(5, true), []decimal.Decimal{denom, decimal.Zero}},
		{"lower bound exactly", num(10, false), num(20, false), num(10, false), []decimal.Decimal{denom, decimal.Zero}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve(NumericAnswer{Number: tt.answer}, scalarTags(tt.lower, tt.upper), true, denom)
			require.NoError(t, err)
			assertVector(t, tt.expected, p)
		})
	}
}

func TestResolveScalarMixedMultipliers(t *testing.T) {
	lower := Number{Value: decimal.Zero, Multiplier: decimal.NewFromInt(1)}
	upper := Number{Value: decimal.NewFromInt(5), Multiplier: decimal.NewFromInt(1)}
	answer := Number{Value: decimal.NewFromInt(250), Multiplier: decimal.NewFromInt(100)}

	p, err := Resolve(NumericAnswer{Number: answer}, scalarTags(lower, upper), true, denom)
	require.NoError(t, err)
	assertVector(t, []decimal.Decimal{decimal.New(5, 23), decimal.New(5, 23)}, p)
}

func TestScalarPayoutSumsToDenomination(t *testing.T) {
	odd := decimal.NewFromInt(1_000_003)
	for ans := int64(0); ans <= 30; ans++ {
		out := ScalarPayout(num(0, false), num(7, false), num(ans, false), odd)
		assert.True(t, odd.Equal(out[0].Add(out[1])), "answer %d", ans)
	}
}

func TestResolveInvalidAndMismatch(t *testing.T) {
	p, err := Resolve(InvalidAnswer{}, scalarTags(num(0, false), num(10, false)), true, denom)
	require.NoError(t, err)
	assert.Equal(t, PayoutInvalid, p.State())
	assert.Nil(t, p.Numerator())

	_, err = Resolve(CategoricalAnswer{Label: "YES"}, scalarTags(num(0, false), num(10, false)), true, denom)
	assert.ErrorIs(t, err, ErrAnswerMismatch)

	_, err = Resolve(NumericAnswer{Number: num(5, false)}, []OutcomeTag{CategoricalTag{Label: "A"}, CategoricalTag{Label: "B"}}, true, denom)
	assert.ErrorIs(t, err, ErrScalarBounds)
}

func TestValidateScalarBounds(t *testing.T) {
	tests := []struct {
		name  string
		lower Number
		upper Number
		want  error
	}{
		{"positive ordered", num(0, false), num(10, false), nil},
		{"negative ordered", num(10, true), num(5, true), nil},
		{"mixed", num(10, true), num(0, false), nil},
		{"positive equal", num(10, false), num(10, false), ErrBoundOrder},
		{"positive crossed", num(11, false), num(10, false), ErrBoundOrder},
		{"negative crossed", num(5, true), num(10, true), ErrBoundOrder},
		{"positive then negative", num(5, false), num(10, true), ErrBoundSigns},
		{"negative zero lower", num(0, true), num(10, false), ErrNegativeZero},
		{"negative zero upper", num(10, true), num(0, true), ErrNegativeZero},
		{"zero multiplier", Number{Value: decimal.Zero, Multiplier: decimal.Zero}, num(10, false), apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScalarBounds(tt.lower, tt.upper)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
