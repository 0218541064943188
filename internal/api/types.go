package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/amm"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/resolution"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

// Amounts travel as decimal strings of unsigned 128-bit integers and are
// checked by the "amount" validation tag.

type SourceDTO struct {
	Name string `json:"name" validate:"required,max=128"`
	URL  string `json:"url,omitempty" validate:"omitempty,url,max=512"`
}

type CreateMarketRequest struct {
	Description        string          `json:"description" validate:"required,max=4096"`
	ExtraInfo          string          `json:"extraInfo,omitempty" validate:"max=8192"`
	Categories         []string        `json:"categories,omitempty" validate:"max=16,dive,max=64"`
	Sources            []SourceDTO     `json:"sources,omitempty" validate:"max=16,dive"`
	Outcomes           int             `json:"outcomes" validate:"gte=2,lte=256"`
	OutcomeTags        resolution.Tags `json:"outcomeTags" validate:"required"`
	IsScalar           bool            `json:"isScalar"`
	ScalarMultiplier   string          `json:"scalarMultiplier,omitempty" validate:"omitempty,amount"`
	CollateralToken    string          `json:"collateralToken" validate:"required,max=128"`
	SwapFee            string          `json:"swapFee" validate:"required,amount"`
	EndTime            time.Time       `json:"endTime" validate:"required"`
	ResolutionTime     time.Time       `json:"resolutionTime" validate:"required"`
	ChallengePeriodSec int64           `json:"challengePeriodSec,omitempty" validate:"gte=0"`
	ValidityBond       string          `json:"validityBond,omitempty" validate:"omitempty,amount"`
}

type BuyRequest struct {
	Outcome      int    `json:"outcome" validate:"gte=0"`
	CollateralIn string `json:"collateralIn" validate:"required,amount"`
	MinSharesOut string `json:"minSharesOut" validate:"required,amount"`
}

type SellRequest struct {
	Outcome       int    `json:"outcome" validate:"gte=0"`
	CollateralOut string `json:"collateralOut" validate:"required,amount"`
	MaxSharesIn   string `json:"maxSharesIn" validate:"required,amount"`
}

type AddLiquidityRequest struct {
	Amount  string   `json:"amount" validate:"required,amount"`
	Weights []string `json:"weights,omitempty" validate:"omitempty,max=256,dive,amount"`
}

type ExitPoolRequest struct {
	PoolTokens string `json:"poolTokens" validate:"required,amount"`
}

type RedeemRequest struct {
	Amount string `json:"amount" validate:"required,amount"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type ResolveRequest struct {
	Payout resolution.Payout `json:"payout"`
}

type OracleAnswerRequest struct {
	Answer resolution.Document `json:"answer"`
}

// DepositRequest is a custodian receipt for collateral received on an
// account's behalf.
type DepositRequest struct {
	ReceiptID string `json:"receiptId" validate:"required,max=128"`
	Account   string `json:"account" validate:"required,max=128"`
	Token     string `json:"token" validate:"required,max=128"`
	Amount    string `json:"amount" validate:"required,amount"`
}

type DepositDTO struct {
	settlement.Deposit
	Credited bool            `json:"credited"`
	Balance  decimal.Decimal `json:"balance"`
}

type BalancesDTO struct {
	Account  string               `json:"account"`
	Balances []settlement.Balance `json:"balances"`
}

type TradeDTO struct {
	Outcome    int             `json:"outcome"`
	Collateral decimal.Decimal `json:"collateral"`
	Shares     decimal.Decimal `json:"shares"`
	Fee        decimal.Decimal `json:"fee"`
}

func newTradeDTO(t amm.Trade) TradeDTO {
	return TradeDTO{Outcome: t.Outcome, Collateral: t.Collateral, Shares: t.Shares, Fee: t.Fee}
}

type SellDTO struct {
	TradeDTO
	Payable    decimal.Decimal `json:"payable"`
	TransferID string          `json:"transferId,omitempty"`
}

type LiquidityDTO struct {
	PoolTokens decimal.Decimal   `json:"poolTokens"`
	Shares     []decimal.Decimal `json:"shares,omitempty"`
	FeesEarned decimal.Decimal   `json:"feesEarned"`
	TransferID string            `json:"transferId,omitempty"`
}

func newLiquidityDTO(res markets.LiquidityResult) LiquidityDTO {
	return LiquidityDTO{
		PoolTokens: res.Change.PoolTokens,
		Shares:     res.Change.Shares,
		FeesEarned: res.Change.FeesEarned,
		TransferID: res.TransferID,
	}
}

type RedeemDTO struct {
	Collateral decimal.Decimal `json:"collateral"`
	TransferID string          `json:"transferId"`
}

type ClaimDTO struct {
	Payout     decimal.Decimal `json:"payout"`
	Fees       decimal.Decimal `json:"fees"`
	Total      decimal.Decimal `json:"total"`
	TransferID string          `json:"transferId"`
}

type QuoteDTO struct {
	MarketID uint64          `json:"marketId"`
	Outcome  int             `json:"outcome"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   decimal.Decimal `json:"shares"`
	AsOf     int64           `json:"asOf"`
}

type MarketListDTO struct {
	Markets []markets.View `json:"markets"`
	Total   uint64         `json:"total"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
}

type TransferListDTO struct {
	Transfers []settlement.Transfer `json:"transfers"`
}

type RolesDTO struct {
	Governance string `json:"governance"`
	Oracle     string `json:"oracle"`
	Treasury   string `json:"treasury,omitempty"`
	Custodian  string `json:"custodian,omitempty"`
}

type HealthDTO struct {
	Status  string   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
