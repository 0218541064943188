package markets

import (
	"errors"
	"fmt"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

var (
	ErrMarketNotFound = fmt.Errorf("%w: market", apperr.ErrNotFound)

	ErrUnknownCollateral   = fmt.Errorf("%w: collateral token is not whitelisted", apperr.ErrValidation)
	ErrTagCount            = fmt.Errorf("%w: outcome tag count must match outcomes", apperr.ErrValidation)
	ErrDuplicateTag        = fmt.Errorf("%w: outcome tags must be distinct", apperr.ErrValidation)
	ErrEmptyTag            = fmt.Errorf("%w: outcome tag label is empty", apperr.ErrValidation)
	ErrTagMarkup           = fmt.Errorf("%w: outcome tag label cannot contain markup", apperr.ErrValidation)
	ErrEndTimeInPast       = fmt.Errorf("%w: end time must be in the future", apperr.ErrValidation)
	ErrResolutionBeforeEnd = fmt.Errorf("%w: resolution time must not precede end time", apperr.ErrValidation)
	ErrScalarMultiplier    = fmt.Errorf("%w: scalar market requires a positive multiplier", apperr.ErrValidation)
	ErrScalarTags          = fmt.Errorf("%w: scalar market requires exactly two numeric outcome tags", apperr.ErrValidation)
	ErrEmptyDescription    = fmt.Errorf("%w: description is required", apperr.ErrValidation)
	ErrValidityBond        = fmt.Errorf("%w: validity bond below the required amount", apperr.ErrValidation)
	ErrMissingCaller       = fmt.Errorf("%w: caller account is required", apperr.ErrValidation)
	ErrChallengePeriod     = fmt.Errorf("%w: challenge period cannot be negative", apperr.ErrValidation)
	ErrNoLedger            = errors.New("deposits are not enabled")

	ErrMarketClosed            = fmt.Errorf("%w: market is not open for trading", apperr.ErrState)
	ErrAlreadyFinalized        = fmt.Errorf("%w: market is already finalized", apperr.ErrState)
	ErrNotFinalized            = fmt.Errorf("%w: market is not finalized", apperr.ErrState)
	ErrNotEnded                = fmt.Errorf("%w: market has not reached its resolution time", apperr.ErrState)
	ErrDataRequestNotFinalized = fmt.Errorf("%w: no oracle answer has been submitted", apperr.ErrState)
	ErrChallengeWindowOpen     = fmt.Errorf("%w: oracle answer is still inside its challenge window", apperr.ErrState)
	ErrNotGovernance           = fmt.Errorf("%w: caller is not governance", apperr.ErrUnauthorized)
	ErrNotOracle               = fmt.Errorf("%w: caller is not the oracle", apperr.ErrUnauthorized)
	ErrNotCustodian            = fmt.Errorf("%w: caller is not the custodian", apperr.ErrUnauthorized)
	ErrNoPayout                = fmt.Errorf("%w: nothing to claim", apperr.ErrNoPayout)
)
