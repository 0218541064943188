package amm

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/calc"
)

// LiquidityChange describes an AddLiquidity or ExitPool call.
type LiquidityChange struct {
	PoolTokens decimal.Decimal
	// Shares are the outcome shares credited to the provider.
	Shares     []decimal.Decimal
	FeesEarned decimal.Decimal
}

// AddLiquidity deposits totalIn collateral as complete sets. The first
// deposit must carry a weight indication that shapes the initial odds;
// later deposits follow the current reserve ratios. Whatever part of each
// set does not fit the ratio is credited to sender as outcome shares.
func (p *Pool) AddLiquidity(sender string, totalIn decimal.Decimal, weights []decimal.Decimal) (LiquidityChange, error) {
	if err := calc.ValidateAmount(totalIn, "add liquidity"); err != nil {
		return LiquidityChange{}, err
	}

	var added []decimal.Decimal
	var minted decimal.Decimal
	if p.isEmpty() {
		if len(weights) == 0 {
			return LiquidityChange{}, ErrWeightsRequired
		}
		if len(weights) != p.outcomes {
			return LiquidityChange{}, fmt.Errorf("%w: got %d weights for %d outcomes", ErrInvalidWeights, len(weights), p.outcomes)
		}
		for i, w := range weights {
			if err := calc.ValidateAmount(w, fmt.Sprintf("weight %d", i)); err != nil {
				return LiquidityChange{}, fmt.Errorf("%w: %v", ErrInvalidWeights, err)
			}
		}
		added = proportional(totalIn, weights)
		minted = totalIn
	} else {
		if len(weights) != 0 {
			return LiquidityChange{}, ErrWeightsNotAllowed
		}
		added = proportional(totalIn, p.reserves)
		minted = calc.MulDiv(totalIn, p.lpSupply, calc.Max(p.reserves))
	}

	for i, a := range added {
		if !a.IsPositive() {
			return LiquidityChange{}, fmt.Errorf("%w: outcome %d receives no reserve", ErrTradeTooSmall, i)
		}
	}
	if !minted.IsPositive() {
		return LiquidityChange{}, ErrTradeTooSmall
	}

	returned := make([]decimal.Decimal, p.outcomes)
	for i, a := range added {
		p.reserves[i] = p.reserves[i].Add(a)
		returned[i] = totalIn.Sub(a)
		if returned[i].IsPositive() {
			p.creditShares(sender, i, returned[i])
		}
	}
	p.mint(sender, minted)

	return LiquidityChange{PoolTokens: minted, Shares: returned, FeesEarned: decimal.Zero}, nil
}

// proportional scales amount by each ratio over the largest ratio.
func proportional(amount decimal.Decimal, ratios []decimal.Decimal) []decimal.Decimal {
	top := calc.Max(ratios)
	out := make([]decimal.Decimal, len(ratios))
	for i, r := range ratios {
		out[i] = calc.MulDiv(amount, r, top)
	}
	return out
}

// ExitPool burns lpIn pool tokens, moves the matching fraction of every
// reserve to sender as outcome shares and pays out all fees sender has
// accrued.
func (p *Pool) ExitPool(sender string, lpIn decimal.Decimal) (LiquidityChange, error) {
	if err := calc.ValidateAmount(lpIn, "exit pool"); err != nil {
		return LiquidityChange{}, err
	}
	if held := p.LPBalance(sender); held.LessThan(lpIn) {
		return LiquidityChange{}, fmt.Errorf("%w: holds %s, needs %s", ErrInsufficientLPTokens, held, lpIn)
	}

	fees := p.withdrawFees(sender)

	out := make([]decimal.Decimal, p.outcomes)
	for i, r := range p.reserves {
		out[i] = calc.MulDiv(r, lpIn, p.lpSupply)
		p.reserves[i] = r.Sub(out[i])
		if out[i].IsPositive() {
			p.creditShares(sender, i, out[i])
		}
	}
	p.burn(sender, lpIn)

	return LiquidityChange{PoolTokens: lpIn, Shares: out, FeesEarned: fees}, nil
}

// FeesWithdrawable is account's unclaimed share of the fee pool.
func (p *Pool) FeesWithdrawable(account string) decimal.Decimal {
	if p.isEmpty() {
		return decimal.Zero
	}
	entitled := calc.MulDiv(p.feePoolWeight, p.LPBalance(account), p.lpSupply)
	return calc.SaturatingSub(entitled, p.withdrawnFees[account])
}

func (p *Pool) withdrawFees(account string) decimal.Decimal {
	fees := p.FeesWithdrawable(account)
	if fees.IsPositive() {
		p.withdrawnFees[account] = p.withdrawnFees[account].Add(fees)
		p.totalWithdrawnFees = p.totalWithdrawnFees.Add(fees)
	}
	return fees
}

// mint issues pool tokens. The fee weight the new tokens would otherwise
// claim is added to the pool and booked as already withdrawn by the
// minter, so existing providers keep their accrued fees.
func (p *Pool) mint(to string, amount decimal.Decimal) {
	if !p.isEmpty() {
		ineligible := calc.MulDiv(p.feePoolWeight, amount, p.lpSupply)
		p.feePoolWeight = p.feePoolWeight.Add(ineligible)
		p.withdrawnFees[to] = p.withdrawnFees[to].Add(ineligible)
		p.totalWithdrawnFees = p.totalWithdrawnFees.Add(ineligible)
	}
	p.lpBalances[to] = p.LPBalance(to).Add(amount)
	p.lpSupply = p.lpSupply.Add(amount)
}

// burn retires pool tokens together with their slice of the fee weight.
func (p *Pool) burn(from string, amount decimal.Decimal) {
	removed := calc.MulDiv(p.feePoolWeight, amount, p.lpSupply)
	p.feePoolWeight = p.feePoolWeight.Sub(removed)
	p.withdrawnFees[from] = calc.SaturatingSub(p.withdrawnFees[from], removed)
	p.totalWithdrawnFees = calc.SaturatingSub(p.totalWithdrawnFees, removed)

	remaining := p.LPBalance(from).Sub(amount)
	if remaining.IsZero() {
		delete(p.lpBalances, from)
		delete(p.withdrawnFees, from)
	} else {
		p.lpBalances[from] = remaining
	}
	p.lpSupply = p.lpSupply.Sub(amount)
}
