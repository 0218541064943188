package resolution

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/calc"
)

// PayoutState distinguishes a market that has not been resolved from one
// resolved as invalid and one resolved with a payout vector.
type PayoutState uint8

const (
	PayoutUnresolved PayoutState = iota
	PayoutInvalid
	PayoutValid
)

func (s PayoutState) String() string {
	switch s {
	case PayoutInvalid:
		return "invalid"
	case PayoutValid:
		return "valid"
	default:
		return "unresolved"
	}
}

// Payout is the resolution of a market. The zero value is unresolved.
type Payout struct {
	state     PayoutState
	numerator []decimal.Decimal
}

func Unresolved() Payout { return Payout{} }

func Invalid() Payout { return Payout{state: PayoutInvalid} }

// Valid wraps a payout numerator. The slice is copied.
func Valid(numerator []decimal.Decimal) Payout {
	return Payout{state: PayoutValid, numerator: append([]decimal.Decimal(nil), numerator...)}
}

func (p Payout) State() PayoutState { return p.state }

func (p Payout) IsResolved() bool { return p.state != PayoutUnresolved }

// Numerator returns a copy of the payout vector, or nil unless valid.
func (p Payout) Numerator() []decimal.Decimal {
	if p.state != PayoutValid {
		return nil
	}
	return append([]decimal.Decimal(nil), p.numerator...)
}

// Validate checks a valid payout has one entry per outcome summing to the
// collateral denomination. Unresolved and invalid payouts always pass.
func (p Payout) Validate(outcomes int, denomination decimal.Decimal) error {
	if p.state != PayoutValid {
		return nil
	}
	if len(p.numerator) != outcomes {
		return fmt.Errorf("%w: got %d entries for %d outcomes", apperr.ErrPayoutLengthMismatch, len(p.numerator), outcomes)
	}
	for i, n := range p.numerator {
		if err := calc.ValidateWireAmount(n, fmt.Sprintf("payout numerator %d", i)); err != nil {
			return err
		}
	}
	if sum := calc.Sum(p.numerator); !sum.Equal(denomination) {
		return fmt.Errorf("%w: numerator sums to %s, expected %s", apperr.ErrPayoutSumMismatch, sum, denomination)
	}
	return nil
}

// EvenSplit returns a valid payout sharing the denomination equally, with
// the indivisible remainder spread one unit at a time from index 0.
func EvenSplit(outcomes int, denomination decimal.Decimal) Payout {
	if outcomes <= 0 {
		return Unresolved()
	}
	n := decimal.NewFromInt(int64(outcomes))
	share, rem := denomination.QuoRem(n, 0)
	extra := int(rem.IntPart())
	numerator := make([]decimal.Decimal, outcomes)
	for i := range numerator {
		numerator[i] = share
		if i < extra {
			numerator[i] = share.Add(decimal.NewFromInt(1))
		}
	}
	return Valid(numerator)
}

type payoutJSON struct {
	State     string            `json:"state"`
	Numerator []decimal.Decimal `json:"numerator,omitempty"`
}

func (p Payout) MarshalJSON() ([]byte, error) {
	return json.Marshal(payoutJSON{State: p.state.String(), Numerator: p.numerator})
}

func (p *Payout) UnmarshalJSON(data []byte) error {
	var raw payoutJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.State {
	case "", "unresolved":
		*p = Unresolved()
	case "invalid":
		*p = Invalid()
	case "valid":
		*p = Valid(raw.Numerator)
	default:
		return fmt.Errorf("%w: unknown payout state %q", apperr.ErrValidation, raw.State)
	}
	return nil
}
