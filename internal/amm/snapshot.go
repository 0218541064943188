package amm

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

// Snapshot is the serializable state of a pool.
type Snapshot struct {
	Outcomes               int                          `json:"outcomes"`
	CollateralDenomination decimal.Decimal              `json:"collateralDenomination"`
	SwapFee                decimal.Decimal              `json:"swapFee"`
	Reserves               []decimal.Decimal            `json:"reserves"`
	LPSupply               decimal.Decimal              `json:"lpSupply"`
	LPBalances             map[string]decimal.Decimal   `json:"lpBalances,omitempty"`
	FeePoolWeight          decimal.Decimal              `json:"feePoolWeight"`
	TotalWithdrawnFees     decimal.Decimal              `json:"totalWithdrawnFees"`
	WithdrawnFees          map[string]decimal.Decimal   `json:"withdrawnFees,omitempty"`
	Shares                 map[string][]decimal.Decimal `json:"shares,omitempty"`
}

func (p *Pool) Snapshot() Snapshot {
	s := Snapshot{
		Outcomes:               p.outcomes,
		CollateralDenomination: p.denomination,
		SwapFee:                p.swapFee,
		Reserves:               copySlice(p.reserves),
		LPSupply:               p.lpSupply,
		LPBalances:             make(map[string]decimal.Decimal, len(p.lpBalances)),
		FeePoolWeight:          p.feePoolWeight,
		TotalWithdrawnFees:     p.totalWithdrawnFees,
		WithdrawnFees:          make(map[string]decimal.Decimal, len(p.withdrawnFees)),
		Shares:                 make(map[string][]decimal.Decimal, len(p.shares)),
	}
	for k, v := range p.lpBalances {
		s.LPBalances[k] = v
	}
	for k, v := range p.withdrawnFees {
		s.WithdrawnFees[k] = v
	}
	for k, v := range p.shares {
		s.Shares[k] = copySlice(v)
	}
	return s
}

// Restore rebuilds a pool from a snapshot, checking its shape.
func Restore(s Snapshot, opts ...Option) (*Pool, error) {
	p, err := NewPool(s.Outcomes, s.CollateralDenomination, s.SwapFee, opts...)
	if err != nil {
		return nil, err
	}
	if len(s.Reserves) != s.Outcomes {
		return nil, fmt.Errorf("%w: snapshot has %d reserves for %d outcomes", apperr.ErrValidation, len(s.Reserves), s.Outcomes)
	}
	p.reserves = copySlice(s.Reserves)
	p.lpSupply = s.LPSupply
	p.feePoolWeight = s.FeePoolWeight
	p.totalWithdrawnFees = s.TotalWithdrawnFees
	for k, v := range s.LPBalances {
		p.lpBalances[k] = v
	}
	for k, v := range s.WithdrawnFees {
		p.withdrawnFees[k] = v
	}
	for k, v := range s.Shares {
		if len(v) != s.Outcomes {
			return nil, fmt.Errorf("%w: snapshot shares for %s have %d entries", apperr.ErrValidation, k, len(v))
		}
		p.shares[k] = copySlice(v)
	}
	return p, nil
}
