package markets

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/amm"
	"github.com/leafsii/outcome-amm/internal/resolution"
)

// State is where a market sits in its lifecycle at a given time.
type State string

const (
	StateOpen               State = "open"
	StateDisabled           State = "disabled"
	StateAwaitingResolution State = "awaiting_resolution"
	StateFinalized          State = "finalized"
)

// Source is a place the oracle should consult to answer the market.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Market is one prediction market and the pool that backs it. Markets are
// never deleted; ID is the arena index assigned at creation.
type Market struct {
	ID          uint64
	Creator     string
	Description string
	ExtraInfo   string
	Categories  []string
	Sources     []Source

	CollateralToken string
	EndTime         time.Time
	ResolutionTime  time.Time

	Pool             *amm.Pool
	OutcomeTags      resolution.Tags
	IsScalar         bool
	ScalarMultiplier decimal.Decimal

	Payout    resolution.Payout
	Finalized bool
	Enabled   bool

	// oracle path
	DataRequestFinalized bool
	OracleAnswer         resolution.Answer
	PendingPayout        resolution.Payout
	AnsweredAt           time.Time
	ChallengePeriod      time.Duration

	ValidityBond        decimal.Decimal
	ValidityBondSettled bool

	// Nonce numbers the settlement transfers this market has emitted.
	Nonce     uint64
	CreatedAt time.Time
}

// State derives the lifecycle state at now.
func (m *Market) State(now time.Time) State {
	return stateAt(m.Finalized, m.Enabled, m.EndTime, now)
}

func stateAt(finalized, enabled bool, endTime, now time.Time) State {
	switch {
	case finalized:
		return StateFinalized
	case !now.Before(endTime):
		return StateAwaitingResolution
	case !enabled:
		return StateDisabled
	default:
		return StateOpen
	}
}

func (m *Market) nextNonce() uint64 {
	m.Nonce++
	return m.Nonce
}

// View is the read model served to clients.
type View struct {
	ID                   uint64            `json:"id"`
	Creator              string            `json:"creator"`
	Description          string            `json:"description"`
	ExtraInfo            string            `json:"extraInfo,omitempty"`
	Categories           []string          `json:"categories,omitempty"`
	Sources              []Source          `json:"sources,omitempty"`
	CollateralToken      string            `json:"collateralToken"`
	EndTime              time.Time         `json:"endTime"`
	ResolutionTime       time.Time         `json:"resolutionTime"`
	State                State             `json:"state"`
	OutcomeTags          resolution.Tags   `json:"outcomeTags"`
	IsScalar             bool              `json:"isScalar"`
	ScalarMultiplier     *decimal.Decimal  `json:"scalarMultiplier,omitempty"`
	SwapFee              decimal.Decimal   `json:"swapFee"`
	Reserves             []decimal.Decimal `json:"reserves"`
	LPSupply             decimal.Decimal   `json:"lpSupply"`
	FeePoolWeight        decimal.Decimal   `json:"feePoolWeight"`
	SpotPrices           []decimal.Decimal `json:"spotPrices,omitempty"`
	Payout               resolution.Payout `json:"payout"`
	Enabled              bool              `json:"enabled"`
	DataRequestFinalized bool              `json:"dataRequestFinalized"`
	CreatedAt            time.Time         `json:"createdAt"`
}

// At re-derives the time dependent state of a stored view. Finalization
// and enabling always go through a commit, which drops cached views.
func (v View) At(now time.Time) View {
	v.State = stateAt(v.State == StateFinalized, v.Enabled, v.EndTime, now)
	return v
}

func (m *Market) View(now time.Time) View {
	v := View{
		ID:                   m.ID,
		Creator:              m.Creator,
		Description:          m.Description,
		ExtraInfo:            m.ExtraInfo,
		Categories:           m.Categories,
		Sources:              m.Sources,
		CollateralToken:      m.CollateralToken,
		EndTime:              m.EndTime,
		ResolutionTime:       m.ResolutionTime,
		State:                m.State(now),
		OutcomeTags:          m.OutcomeTags,
		IsScalar:             m.IsScalar,
		SwapFee:              m.Pool.SwapFee(),
		Reserves:             m.Pool.Reserves(),
		LPSupply:             m.Pool.LPSupply(),
		FeePoolWeight:        m.Pool.FeePoolWeight(),
		Payout:               m.Payout,
		Enabled:              m.Enabled,
		DataRequestFinalized: m.DataRequestFinalized,
		CreatedAt:            m.CreatedAt,
	}
	if m.IsScalar {
		mult := m.ScalarMultiplier
		v.ScalarMultiplier = &mult
	}
	if m.Pool.LPSupply().IsPositive() {
		for i := 0; i < m.Pool.Outcomes(); i++ {
			price, err := m.Pool.SpotPrice(i)
			if err != nil {
				v.SpotPrices = nil
				break
			}
			v.SpotPrices = append(v.SpotPrices, price)
		}
	}
	return v
}

// Position is one account's holdings in a market.
type Position struct {
	MarketID         uint64            `json:"marketId"`
	Account          string            `json:"account"`
	Shares           []decimal.Decimal `json:"shares"`
	PoolTokens       decimal.Decimal   `json:"poolTokens"`
	FeesWithdrawable decimal.Decimal   `json:"feesWithdrawable"`
}
