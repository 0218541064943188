// Package apperr holds the error categories shared by the pool, resolver and
// market layers. Package-level sentinels wrap one of these with %w so callers
// can classify any failure with errors.Is.
package apperr

import "errors"

var (
	ErrValidation           = errors.New("validation error")
	ErrState                = errors.New("state error")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrSlippageExceeded     = errors.New("slippage exceeded")
	ErrPayoutSumMismatch    = errors.New("payout sum mismatch")
	ErrPayoutLengthMismatch = errors.New("payout length mismatch")
	ErrNotFound             = errors.New("not found")
	ErrNoPayout             = errors.New("no payout")
	ErrInsufficientBalance  = errors.New("insufficient balance")
)

// Kind is the machine readable name of an error category.
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindState                Kind = "state_error"
	KindUnauthorized         Kind = "unauthorized"
	KindSlippageExceeded     Kind = "slippage_exceeded"
	KindPayoutSumMismatch    Kind = "payout_sum_mismatch"
	KindPayoutLengthMismatch Kind = "payout_length_mismatch"
	KindNotFound             Kind = "not_found"
	KindNoPayout             Kind = "no_payout"
	KindInsufficientBalance  Kind = "insufficient_balance"
	KindInternal             Kind = "internal_error"
)

var categories = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrPayoutSumMismatch, KindPayoutSumMismatch},
	{ErrPayoutLengthMismatch, KindPayoutLengthMismatch},
	{ErrUnauthorized, KindUnauthorized},
	{ErrSlippageExceeded, KindSlippageExceeded},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrNoPayout, KindNoPayout},
	{ErrNotFound, KindNotFound},
	{ErrState, KindState},
}

// KindOf classifies err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindInternal
}
