package calc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDivRounding(t *testing.T) {
	tests := []struct {
		name      string
		a, b      decimal.Decimal
		wantFloor decimal.Decimal
		wantCeil  decimal.Decimal
	}{
		{"exact", d(100), d(4), d(25), d(25)},
		{"remainder", d(10), d(3), d(3), d(4)},
		{"smaller numerator", d(1), d(3), d(0), d(1)},
		{"zero numerator", d(0), d(7), d(0), d(0)},
		{"beyond 16 significant digits", decimal.New(1, 40).Add(d(1)), d(3),
			decimal.RequireFromString("3333333333333333333333333333333333333333"),
			decimal.RequireFromString("3333333333333333333333333333333333333334")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			floor := DivFloor(tt.a, tt.b)
			ceil := DivCeil(tt.a, tt.b)
			assert.True(t, tt.wantFloor.Equal(floor), "expected floor %s, got %s", tt.wantFloor, floor)
			assert.True(t, tt.wantCeil.Equal(ceil), "expected ceil %s, got %s", tt.wantCeil, ceil)
		})
	}
}

func TestMulDiv(t *testing.T) {
	assert.True(t, d(33).Equal(MulDiv(d(10), d(10), d(3))))
	assert.True(t, d(34).Equal(MulDivCeil(d(10), d(10), d(3))))

	big := decimal.New(1, 24)
	result := MulDiv(big, big, big)
	assert.True(t, big.Equal(result), "expected %s, got %s", big, result)
}

func TestFeeOf(t *testing.T) {
	tests := []struct {
		name     string
		amount   decimal.Decimal
		feeBps   decimal.Decimal
		expected decimal.Decimal
	}{
		{"one percent", d(10_000), d(100), d(100)},
		{"rounds down", d(999), d(100), d(9)},
		{"zero fee", d(10_000), d(0), d(0)},
		{"one basis point", d(1_000_000), d(1), d(100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FeeOf(tt.amount, tt.feeBps)
			assert.True(t, tt.expected.Equal(result), "expected %s, got %s", tt.expected, result)
		})
	}
}

func TestGrossUpFee(t *testing.T) {
	// 990 net at 1% -> 1000 gross
	assert.True(t, d(1000).Equal(GrossUpFee(d(990), d(100))))
	assert.True(t, d(990).Equal(GrossUpFee(d(990), d(0))))
}

func TestHelpers(t *testing.T) {
	values := []decimal.Decimal{d(3), d(9), d(4)}
	assert.True(t, d(9).Equal(Max(values)))
	assert.True(t, decimal.Zero.Equal(Max(nil)))
	assert.True(t, d(16).Equal(Sum(values)))
	assert.True(t, decimal.RequireFromString("1000000000000000000").Equal(Pow10(18)))
	assert.True(t, d(0).Equal(SaturatingSub(d(3), d(5))))
	assert.True(t, d(2).Equal(SaturatingSub(d(5), d(3))))
}
