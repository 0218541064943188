package markets

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/amm"
	"github.com/leafsii/outcome-amm/internal/resolution"
)

// record is the persisted JSON form of a Market.
type record struct {
	ID                   uint64               `json:"id"`
	Creator              string               `json:"creator"`
	Description          string               `json:"description"`
	ExtraInfo            string               `json:"extraInfo,omitempty"`
	Categories           []string             `json:"categories,omitempty"`
	Sources              []Source             `json:"sources,omitempty"`
	CollateralToken      string               `json:"collateralToken"`
	EndTime              time.Time            `json:"endTime"`
	ResolutionTime       time.Time            `json:"resolutionTime"`
	Pool                 amm.Snapshot         `json:"pool"`
	OutcomeTags          resolution.Tags      `json:"outcomeTags"`
	IsScalar             bool                 `json:"isScalar"`
	ScalarMultiplier     decimal.Decimal      `json:"scalarMultiplier"`
	Payout               resolution.Payout    `json:"payout"`
	Finalized            bool                 `json:"finalized"`
	Enabled              bool                 `json:"enabled"`
	DataRequestFinalized bool                 `json:"dataRequestFinalized"`
	OracleAnswer         *resolution.Document `json:"oracleAnswer,omitempty"`
	PendingPayout        resolution.Payout    `json:"pendingPayout"`
	AnsweredAt           time.Time            `json:"answeredAt"`
	ChallengePeriodNanos int64                `json:"challengePeriodNanos"`
	ValidityBond         decimal.Decimal      `json:"validityBond"`
	ValidityBondSettled  bool                 `json:"validityBondSettled"`
	Nonce                uint64               `json:"nonce"`
	CreatedAt            time.Time            `json:"createdAt"`
}

// EncodeMarket serializes a market for storage.
func EncodeMarket(m *Market) ([]byte, error) {
	r := record{
		ID:                   m.ID,
		Creator:              m.Creator,
		Description:          m.Description,
		ExtraInfo:            m.ExtraInfo,
		Categories:           m.Categories,
		Sources:              m.Sources,
		CollateralToken:      m.CollateralToken,
		EndTime:              m.EndTime,
		ResolutionTime:       m.ResolutionTime,
		Pool:                 m.Pool.Snapshot(),
		OutcomeTags:          m.OutcomeTags,
		IsScalar:             m.IsScalar,
		ScalarMultiplier:     m.ScalarMultiplier,
		Payout:               m.Payout,
		Finalized:            m.Finalized,
		Enabled:              m.Enabled,
		DataRequestFinalized: m.DataRequestFinalized,
		PendingPayout:        m.PendingPayout,
		AnsweredAt:           m.AnsweredAt,
		ChallengePeriodNanos: int64(m.ChallengePeriod),
		ValidityBond:         m.ValidityBond,
		ValidityBondSettled:  m.ValidityBondSettled,
		Nonce:                m.Nonce,
		CreatedAt:            m.CreatedAt,
	}
	if m.OracleAnswer != nil {
		doc, err := resolution.EncodeAnswer(m.OracleAnswer)
		if err != nil {
			return nil, err
		}
		r.OracleAnswer = &doc
	}
	return json.Marshal(r)
}

// DecodeMarket rebuilds a market from its stored form.
func DecodeMarket(data []byte) (*Market, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	pool, err := amm.Restore(r.Pool)
	if err != nil {
		return nil, fmt.Errorf("restore pool for market %d: %w", r.ID, err)
	}
	m := &Market{
		ID:                   r.ID,
		Creator:              r.Creator,
		Description:          r.Description,
		ExtraInfo:            r.ExtraInfo,
		Categories:           r.Categories,
		Sources:              r.Sources,
		CollateralToken:      r.CollateralToken,
		EndTime:              r.EndTime,
		ResolutionTime:       r.ResolutionTime,
		Pool:                 pool,
		OutcomeTags:          r.OutcomeTags,
		IsScalar:             r.IsScalar,
		ScalarMultiplier:     r.ScalarMultiplier,
		Payout:               r.Payout,
		Finalized:            r.Finalized,
		Enabled:              r.Enabled,
		DataRequestFinalized: r.DataRequestFinalized,
		PendingPayout:        r.PendingPayout,
		AnsweredAt:           r.AnsweredAt,
		ChallengePeriod:      time.Duration(r.ChallengePeriodNanos),
		ValidityBond:         r.ValidityBond,
		ValidityBondSettled:  r.ValidityBondSettled,
		Nonce:                r.Nonce,
		CreatedAt:            r.CreatedAt,
	}
	if r.OracleAnswer != nil {
		answer, err := resolution.DecodeAnswer(*r.OracleAnswer)
		if err != nil {
			return nil, err
		}
		m.OracleAnswer = answer
	}
	return m, nil
}
