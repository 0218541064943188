package markets

import (
	"context"
	"fmt"
	"time"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/resolution"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

const (
	pathGovernance = "governance"
	pathOracle     = "oracle"
)

// ResolveMarket finalizes a market with a payout chosen by governance. The
// market must have ended or been disabled first.
func (s *Service) ResolveMarket(ctx context.Context, caller string, id uint64, payout resolution.Payout) (*Market, error) {
	if caller != s.cfg.Roles.Governance {
		return nil, ErrNotGovernance
	}
	if !payout.IsResolved() {
		return nil, fmt.Errorf("%w: payout must be valid or invalid", apperr.ErrValidation)
	}
	return s.mutate(ctx, "resolve", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		switch m.State(now) {
		case StateFinalized:
			return nil, ErrAlreadyFinalized
		case StateOpen:
			return nil, fmt.Errorf("%w: market %d is still open", apperr.ErrState, m.ID)
		}
		if err := payout.Validate(m.Pool.Outcomes(), m.Pool.CollateralDenomination()); err != nil {
			return nil, err
		}
		if err := s.finalize(m, fx, payout, now); err != nil {
			return nil, err
		}
		s.logger.Infow("Market resolved by governance", "market", id, "payout", payout.State().String())
		s.recordResolution(ctx, pathGovernance, payout)
		return &Event{Type: EventResolved, Account: caller, Data: payout}, nil
	})
}

// SubmitOracleAnswer records the oracle's answer once the resolution time
// has passed. The derived payout stays pending until FinalizeMarket; the
// oracle may correct its answer while the challenge window is open.
func (s *Service) SubmitOracleAnswer(ctx context.Context, caller string, id uint64, answer resolution.Answer) (*Market, error) {
	if caller != s.cfg.Roles.Oracle {
		return nil, ErrNotOracle
	}
	return s.mutate(ctx, "oracle_answer", id, func(m *Market, _ *effects, now time.Time) (*Event, error) {
		if m.Finalized {
			return nil, ErrAlreadyFinalized
		}
		if now.Before(m.ResolutionTime) {
			return nil, fmt.Errorf("%w: resolves at %s", ErrNotEnded, m.ResolutionTime.Format(time.RFC3339))
		}
		if m.DataRequestFinalized && !now.Before(m.AnsweredAt.Add(m.ChallengePeriod)) {
			return nil, fmt.Errorf("%w: challenge window closed", apperr.ErrState)
		}
		payout, err := resolution.Resolve(answer, m.OutcomeTags, m.IsScalar, m.Pool.CollateralDenomination())
		if err != nil {
			return nil, err
		}
		m.OracleAnswer = answer
		m.PendingPayout = payout
		m.DataRequestFinalized = true
		m.AnsweredAt = now
		s.logger.Infow("Oracle answer recorded", "market", id, "payout", payout.State().String())
		doc, _ := resolution.EncodeAnswer(answer)
		return &Event{Type: EventOracleAnswer, Account: caller, Data: doc}, nil
	})
}

// FinalizeMarket applies the pending oracle payout after the challenge
// window. Anyone may call it.
func (s *Service) FinalizeMarket(ctx context.Context, caller string, id uint64) (*Market, error) {
	return s.mutate(ctx, "finalize", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		if m.Finalized {
			return nil, ErrAlreadyFinalized
		}
		if !m.DataRequestFinalized {
			return nil, ErrDataRequestNotFinalized
		}
		if now.Before(m.AnsweredAt.Add(m.ChallengePeriod)) {
			return nil, ErrChallengeWindowOpen
		}
		payout := m.PendingPayout
		if err := s.finalize(m, fx, payout, now); err != nil {
			return nil, err
		}
		s.logger.Infow("Market finalized from oracle answer", "market", id, "payout", payout.State().String())
		s.recordResolution(ctx, pathOracle, payout)
		return &Event{Type: EventResolved, Account: caller, Data: payout}, nil
	})
}

// finalize fixes the payout and releases the validity bond: back to the
// creator for a valid market, to the treasury otherwise.
func (s *Service) finalize(m *Market, fx *effects, payout resolution.Payout, now time.Time) error {
	m.Payout = payout
	m.Finalized = true

	if m.ValidityBondSettled || !m.ValidityBond.IsPositive() {
		return nil
	}
	recipient := m.Creator
	if payout.State() != resolution.PayoutValid {
		recipient = s.cfg.Roles.Treasury
		if recipient == "" {
			recipient = s.cfg.Roles.Governance
		}
	}
	if _, err := s.pay(m, fx, recipient, m.ValidityBond, settlement.KindValidityBond, now); err != nil {
		return err
	}
	m.ValidityBondSettled = true
	return nil
}

func (s *Service) recordResolution(ctx context.Context, path string, payout resolution.Payout) {
	if s.recorder != nil {
		s.recorder.RecordResolution(ctx, path, payout.State().String())
	}
}
