package amm

import (
	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/calc"
)

// oddsWeights returns, for every outcome j, the product of all other
// reserves. An outcome's price is its weight over the sum of weights.
func (p *Pool) oddsWeights() []decimal.Decimal {
	n := len(p.reserves)
	prefix := make([]decimal.Decimal, n+1)
	suffix := make([]decimal.Decimal, n+1)
	prefix[0] = decimal.NewFromInt(1)
	suffix[n] = decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		prefix[i+1] = prefix[i].Mul(p.reserves[i])
	}
	for i := n - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1].Mul(p.reserves[i])
	}

	weights := make([]decimal.Decimal, n)
	for j := range weights {
		weights[j] = prefix[j].Mul(suffix[j+1])
	}
	return weights
}

// SpotPriceSansFee is the marginal price of one outcome share in collateral
// units, scaled by the collateral denomination. Prices over all outcomes sum
// to the denomination up to rounding.
func (p *Pool) SpotPriceSansFee(outcome int) (decimal.Decimal, error) {
	if err := p.checkOutcome(outcome); err != nil {
		return decimal.Zero, err
	}
	if p.isEmpty() {
		return decimal.Zero, ErrPoolEmpty
	}
	weights := p.oddsWeights()
	return calc.MulDiv(p.denomination, weights[outcome], calc.Sum(weights)), nil
}

// SpotPrice is SpotPriceSansFee with the swap fee added on top.
func (p *Pool) SpotPrice(outcome int) (decimal.Decimal, error) {
	price, err := p.SpotPriceSansFee(outcome)
	if err != nil {
		return decimal.Zero, err
	}
	return calc.GrossUpFee(price, p.swapFee), nil
}

// CalcBuyAmount returns how many target shares collateralIn buys.
func (p *Pool) CalcBuyAmount(collateralIn decimal.Decimal, outcome int) (decimal.Decimal, error) {
	q, err := p.quoteBuy(collateralIn, outcome)
	if err != nil {
		return decimal.Zero, err
	}
	return q.shares, nil
}

type buyQuote struct {
	fee    decimal.Decimal
	net    decimal.Decimal
	shares decimal.Decimal
}

func (p *Pool) quoteBuy(collateralIn decimal.Decimal, outcome int) (buyQuote, error) {
	if err := p.checkOutcome(outcome); err != nil {
		return buyQuote{}, err
	}
	if err := calc.ValidateAmount(collateralIn, "buy"); err != nil {
		return buyQuote{}, err
	}
	if p.isEmpty() {
		return buyQuote{}, ErrPoolEmpty
	}

	fee := calc.FeeOf(collateralIn, p.swapFee)
	net := collateralIn.Sub(fee)
	target := p.reserves[outcome]

	// every other reserve grows by net; the target shrinks to keep the
	// product, rounded in the pool's favour
	newTarget := target
	for i, r := range p.reserves {
		if i == outcome {
			continue
		}
		newTarget = calc.MulDivCeil(newTarget, r, r.Add(net))
	}

	shares := target.Add(net).Sub(newTarget)
	if !shares.IsPositive() {
		return buyQuote{}, ErrTradeTooSmall
	}
	return buyQuote{fee: fee, net: net, shares: shares}, nil
}

// CalcSellCollateralOut returns how many target shares must be sold to
// release collateralOut from the pool.
func (p *Pool) CalcSellCollateralOut(collateralOut decimal.Decimal, outcome int) (decimal.Decimal, error) {
	if err := p.checkOutcome(outcome); err != nil {
		return decimal.Zero, err
	}
	if err := calc.ValidateAmount(collateralOut, "sell"); err != nil {
		return decimal.Zero, err
	}
	if p.isEmpty() {
		return decimal.Zero, ErrPoolEmpty
	}

	target := p.reserves[outcome]
	newTarget := target
	for i, r := range p.reserves {
		if i == outcome {
			continue
		}
		if r.LessThanOrEqual(collateralOut) {
			return decimal.Zero, ErrInsufficientLiquidity
		}
		newTarget = calc.MulDivCeil(newTarget, r, r.Sub(collateralOut))
	}
	return collateralOut.Add(newTarget).Sub(target), nil
}
