package amm

import (
	"fmt"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

var (
	ErrInvalidOutcome        = fmt.Errorf("%w: outcome index out of range", apperr.ErrValidation)
	ErrInvalidOutcomeCount   = fmt.Errorf("%w: a pool needs at least two outcomes", apperr.ErrValidation)
	ErrInvalidDenomination   = fmt.Errorf("%w: collateral denomination must be positive", apperr.ErrValidation)
	ErrWeightsRequired       = fmt.Errorf("%w: weight indication required for the first liquidity", apperr.ErrValidation)
	ErrWeightsNotAllowed     = fmt.Errorf("%w: weight indication only allowed on an empty pool", apperr.ErrValidation)
	ErrInvalidWeights        = fmt.Errorf("%w: invalid weight indication", apperr.ErrValidation)
	ErrTradeTooSmall         = fmt.Errorf("%w: amount too small to trade", apperr.ErrValidation)
	ErrPoolEmpty             = fmt.Errorf("%w: pool has no liquidity", apperr.ErrState)
	ErrInsufficientLiquidity = fmt.Errorf("%w: pool reserves cannot cover the trade", apperr.ErrState)
	ErrPayoutUnresolved      = fmt.Errorf("%w: payout is not resolved", apperr.ErrState)
	ErrInsufficientShares    = fmt.Errorf("%w: not enough outcome shares", apperr.ErrInsufficientBalance)
	ErrInsufficientLPTokens  = fmt.Errorf("%w: not enough pool tokens", apperr.ErrInsufficientBalance)
)
