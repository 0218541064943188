// Package amm implements the fixed-product market maker that backs every
// market: outcome reserves, the liquidity-provider ledger, outcome share
// balances and swap-fee accrual.
//
// All amounts are integer decimals. Every mutating method validates its
// inputs before touching state, so a returned error leaves the pool as it
// was.
package amm

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/calc"
	"github.com/leafsii/outcome-amm/internal/resolution"
)

// InvalidPolicy decides how collateral is redeemed when a market resolves
// as invalid.
type InvalidPolicy func(outcomes int, denomination decimal.Decimal) resolution.Payout

type Option func(*Pool)

// WithInvalidPolicy overrides the default even split for invalid markets.
func WithInvalidPolicy(policy InvalidPolicy) Option {
	return func(p *Pool) {
		if policy != nil {
			p.invalidPolicy = policy
		}
	}
}

type Pool struct {
	outcomes     int
	denomination decimal.Decimal
	swapFee      decimal.Decimal

	reserves []decimal.Decimal

	lpSupply   decimal.Decimal
	lpBalances map[string]decimal.Decimal

	feePoolWeight      decimal.Decimal
	totalWithdrawnFees decimal.Decimal
	withdrawnFees      map[string]decimal.Decimal

	shares map[string][]decimal.Decimal

	invalidPolicy InvalidPolicy
}

// NewPool creates an empty pool. swapFee is in basis points.
func NewPool(outcomes int, denomination, swapFee decimal.Decimal, opts ...Option) (*Pool, error) {
	if outcomes < 2 || outcomes > 0xFFFF {
		return nil, ErrInvalidOutcomeCount
	}
	if err := calc.ValidateAmount(denomination, "collateral denomination"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDenomination, err)
	}
	if err := calc.ValidateFee(swapFee); err != nil {
		return nil, err
	}

	p := &Pool{
		outcomes:           outcomes,
		denomination:       denomination,
		swapFee:            swapFee,
		reserves:           zeros(outcomes),
		lpSupply:           decimal.Zero,
		lpBalances:         make(map[string]decimal.Decimal),
		feePoolWeight:      decimal.Zero,
		totalWithdrawnFees: decimal.Zero,
		withdrawnFees:      make(map[string]decimal.Decimal),
		shares:             make(map[string][]decimal.Decimal),
		invalidPolicy:      resolution.EvenSplit,
	}
	p.Apply(opts...)
	return p, nil
}

// Apply sets options on an existing pool, typically one just restored from
// storage.
func (p *Pool) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(p)
	}
}

func zeros(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}

func copySlice(in []decimal.Decimal) []decimal.Decimal {
	return append([]decimal.Decimal(nil), in...)
}

func (p *Pool) Outcomes() int { return p.outcomes }
func (p *Pool) CollateralDenomination() decimal.Decimal { return p.denomination }
func (p *Pool) SwapFee() decimal.Decimal { return p.swapFee }
func (p *Pool) FeePoolWeight() decimal.Decimal { return p.feePoolWeight }
func (p *Pool) TotalWithdrawnFees() decimal.Decimal { return p.totalWithdrawnFees }
func (p *Pool) LPSupply() decimal.Decimal { return p.lpSupply }

// Reserves returns a copy of the pool's outcome token balances.
func (p *Pool) Reserves() []decimal.Decimal { return copySlice(p.reserves) }

func (p *Pool) LPBalance(account string) decimal.Decimal {
	if bal, ok := p.lpBalances[account]; ok {
		return bal
	}
	return decimal.Zero
}

func (p *Pool) ShareBalance(account string, outcome int) (decimal.Decimal, error) {
	if err := p.checkOutcome(outcome); err != nil {
		return decimal.Zero, err
	}
	if bals, ok := p.shares[account]; ok {
		return bals[outcome], nil
	}
	return decimal.Zero, nil
}

// ShareBalances returns a copy of every outcome balance held by account.
func (p *Pool) ShareBalances(account string) []decimal.Decimal {
	if bals, ok := p.shares[account]; ok {
		return copySlice(bals)
	}
	return zeros(p.outcomes)
}

// Accounts lists every account holding outcome shares or pool tokens.
func (p *Pool) Accounts() []string {
	seen := make(map[string]struct{}, len(p.shares)+len(p.lpBalances))
	out := make([]string, 0, len(p.shares)+len(p.lpBalances))
	for acct := range p.shares {
		seen[acct] = struct{}{}
		out = append(out, acct)
	}
	for acct := range p.lpBalances {
		if _, ok := seen[acct]; !ok {
			out = append(out, acct)
		}
	}
	return out
}

func (p *Pool) checkOutcome(outcome int) error {
	if outcome < 0 || outcome >= p.outcomes {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidOutcome, outcome, p.outcomes)
	}
	return nil
}

func (p *Pool) isEmpty() bool {
	return p.lpSupply.IsZero()
}

func (p *Pool) creditShares(account string, outcome int, amount decimal.Decimal) {
	bals, ok := p.shares[account]
	if !ok {
		bals = zeros(p.outcomes)
		p.shares[account] = bals
	}
	bals[outcome] = bals[outcome].Add(amount)
}

func (p *Pool) debitShares(account string, outcome int, amount decimal.Decimal) {
	bals := p.shares[account]
	bals[outcome] = bals[outcome].Sub(amount)
	p.pruneShares(account)
}

func (p *Pool) pruneShares(account string) {
	for _, b := range p.shares[account] {
		if !b.IsZero() {
			return
		}
	}
	delete(p.shares, account)
}

// Clone returns a deep copy.
func (p *Pool) Clone() *Pool {
	restored, _ := Restore(p.Snapshot(), WithInvalidPolicy(p.invalidPolicy))
	return restored
}
