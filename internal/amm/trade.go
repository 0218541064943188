package amm

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/calc"
	"github.com/leafsii/outcome-amm/internal/resolution"
)

// Trade describes a completed buy or sell.
type Trade struct {
	Outcome    int
	Collateral decimal.Decimal
	Shares     decimal.Decimal
	Fee        decimal.Decimal
}

// Buy spends collateralIn on the target outcome. The collateral net of the
// swap fee is minted as complete sets into the reserves and the bought
// shares move from the target reserve to sender.
func (p *Pool) Buy(sender string, collateralIn decimal.Decimal, outcome int, minSharesOut decimal.Decimal) (Trade, error) {
	q, err := p.quoteBuy(collateralIn, outcome)
	if err != nil {
		return Trade{}, err
	}
	if err := calc.ValidateMinReceived(q.shares, minSharesOut, "buy"); err != nil {
		return Trade{}, err
	}

	for i := range p.reserves {
		p.reserves[i] = p.reserves[i].Add(q.net)
	}
	p.reserves[outcome] = p.reserves[outcome].Sub(q.shares)
	p.creditShares(sender, outcome, q.shares)
	p.feePoolWeight = p.feePoolWeight.Add(q.fee)

	return Trade{Outcome: outcome, Collateral: collateralIn, Shares: q.shares, Fee: q.fee}, nil
}

// Sell returns shares of the target outcome to the pool and burns
// collateralOut complete sets. The swap fee on collateralOut stays in the
// pool and is reported as Trade.Fee; the seller is owed Collateral - Fee.
func (p *Pool) Sell(sender string, collateralOut decimal.Decimal, outcome int, maxSharesIn decimal.Decimal) (Trade, error) {
	sharesIn, err := p.CalcSellCollateralOut(collateralOut, outcome)
	if err != nil {
		return Trade{}, err
	}
	if err := calc.ValidateMaxSpent(sharesIn, maxSharesIn, "sell"); err != nil {
		return Trade{}, err
	}
	held, _ := p.ShareBalance(sender, outcome)
	if held.LessThan(sharesIn) {
		return Trade{}, fmt.Errorf("%w: holds %s, needs %s", ErrInsufficientShares, held, sharesIn)
	}

	fee := calc.FeeOf(collateralOut, p.swapFee)

	p.debitShares(sender, outcome, sharesIn)
	p.reserves[outcome] = p.reserves[outcome].Add(sharesIn)
	for i := range p.reserves {
		p.reserves[i] = p.reserves[i].Sub(collateralOut)
	}
	p.feePoolWeight = p.feePoolWeight.Add(fee)

	return Trade{Outcome: outcome, Collateral: collateralOut, Shares: sharesIn, Fee: fee}, nil
}

// BurnOutcomeTokensRedeemCollateral burns toBurn of every outcome held by
// sender and returns the collateral owed for the complete sets.
func (p *Pool) BurnOutcomeTokensRedeemCollateral(sender string, toBurn decimal.Decimal) (decimal.Decimal, error) {
	if err := calc.ValidateAmount(toBurn, "burn"); err != nil {
		return decimal.Zero, err
	}
	bals := p.ShareBalances(sender)
	for i, b := range bals {
		if b.LessThan(toBurn) {
			return decimal.Zero, fmt.Errorf("%w: outcome %d holds %s, needs %s", ErrInsufficientShares, i, b, toBurn)
		}
	}

	for i := range bals {
		p.debitShares(sender, i, toBurn)
	}
	return toBurn, nil
}

// Payout redeems every outcome share held by account against a resolved
// payout and zeroes the balances, so a second call returns zero. Invalid
// payouts are redeemed through the pool's invalid policy.
func (p *Pool) Payout(account string, payout resolution.Payout) (decimal.Decimal, error) {
	numerator, err := p.ResolvedNumerator(payout)
	if err != nil {
		return decimal.Zero, err
	}
	if len(numerator) != p.outcomes {
		return decimal.Zero, fmt.Errorf("%w: got %d entries for %d outcomes", apperr.ErrPayoutLengthMismatch, len(numerator), p.outcomes)
	}

	owed := p.PayoutPreview(account, numerator)
	delete(p.shares, account)
	return owed, nil
}

// PayoutPreview computes what account would receive for a payout
// numerator without redeeming anything.
func (p *Pool) PayoutPreview(account string, numerator []decimal.Decimal) decimal.Decimal {
	bals, ok := p.shares[account]
	if !ok || len(numerator) != len(bals) {
		return decimal.Zero
	}
	weighted := decimal.Zero
	for i, b := range bals {
		weighted = weighted.Add(b.Mul(numerator[i]))
	}
	return calc.DivFloor(weighted, p.denomination)
}

// ResolvedNumerator is the vector Payout would redeem against.
func (p *Pool) ResolvedNumerator(payout resolution.Payout) ([]decimal.Decimal, error) {
	switch payout.State() {
	case resolution.PayoutValid:
		return payout.Numerator(), nil
	case resolution.PayoutInvalid:
		return p.invalidPolicy(p.outcomes, p.denomination).Numerator(), nil
	default:
		return nil, ErrPayoutUnresolved
	}
}
