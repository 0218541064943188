package markets

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

type DepositRequest struct {
	// ReceiptID is the custodian's id for the inbound transfer.
	ReceiptID string
	Account   string
	Token     string
	Amount    decimal.Decimal
}

type DepositResult struct {
	Deposit settlement.Deposit
	// Credited is false when the receipt had already been applied.
	Credited bool
	Balance  decimal.Decimal
}

// Deposit credits collateral the custodian received for an account. Only
// the custodian may call it and replaying a receipt is a no-op.
func (s *Service) Deposit(ctx context.Context, caller string, req DepositRequest) (DepositResult, error) {
	if s.ledger == nil {
		return DepositResult{}, ErrNoLedger
	}
	if s.cfg.Roles.Custodian == "" || caller != s.cfg.Roles.Custodian {
		return DepositResult{}, ErrNotCustodian
	}
	if _, ok := s.cfg.Collateral[req.Token]; !ok {
		return DepositResult{}, fmt.Errorf("%w: %q", ErrUnknownCollateral, req.Token)
	}
	d, err := settlement.NewDeposit(req.ReceiptID, req.Account, req.Token, req.Amount, s.now())
	if err != nil {
		return DepositResult{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	credited, err := s.ledger.Credit(ctx, d)
	if err != nil {
		s.record(ctx, "deposit", false)
		s.logger.Errorw("Failed to credit deposit", "receipt", d.ID, "account", d.Account, "error", err)
		return DepositResult{}, fmt.Errorf("credit deposit %s: %w", d.ID, err)
	}
	s.record(ctx, "deposit", true)
	if credited {
		s.logger.Infow("Deposit credited", "receipt", d.ID, "account", d.Account, "token", d.Token, "amount", d.Amount)
	} else {
		s.logger.Debugw("Deposit receipt already credited", "receipt", d.ID)
	}

	bal, err := s.ledger.Balance(ctx, d.Account, d.Token)
	if err != nil {
		return DepositResult{}, err
	}
	return DepositResult{Deposit: d, Credited: credited, Balance: bal}, nil
}

// Balances lists the collateral account holds in escrow.
func (s *Service) Balances(ctx context.Context, account string) ([]settlement.Balance, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return s.ledger.Balances(ctx, account)
}
