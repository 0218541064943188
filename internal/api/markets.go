package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/calc"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/resolution"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	offset, limit := 0, defaultPageSize
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid offset")
			return
		}
		offset = n
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid limit")
			return
		}
		limit = min(n, maxPageSize)
	}

	views, total, err := h.markets.ListMarkets(r.Context(), offset, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MarketListDTO{Markets: views, Total: total, Offset: offset, Limit: limit})
}

func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	view, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateMarketRequest
	if !h.decode(w, r, &req) {
		return
	}

	fee, err := calc.ParseAmount(req.SwapFee, "swapFee")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	multiplier, err := optionalAmount(req.ScalarMultiplier, "scalarMultiplier")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bond, err := optionalAmount(req.ValidityBond, "validityBond")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	sources := make([]markets.Source, 0, len(req.Sources))
	for _, s := range req.Sources {
		sources = append(sources, markets.Source{Name: s.Name, URL: s.URL})
	}

	m, err := h.markets.CreateMarket(r.Context(), account, markets.CreateMarketRequest{
		Description:      req.Description,
		ExtraInfo:        req.ExtraInfo,
		Categories:       req.Categories,
		Sources:          sources,
		Outcomes:         req.Outcomes,
		OutcomeTags:      req.OutcomeTags,
		IsScalar:         req.IsScalar,
		ScalarMultiplier: multiplier,
		CollateralToken:  req.CollateralToken,
		SwapFee:          fee,
		EndTime:          req.EndTime,
		ResolutionTime:   req.ResolutionTime,
		ChallengePeriod:  time.Duration(req.ChallengePeriodSec) * time.Second,
		ValidityBond:     bond,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m.View(h.now()))
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	pos, err := h.markets.Position(r.Context(), id, chi.URLParam(r, "account"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *Handler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, h.markets.QuoteBuy)
}

func (h *Handler) QuoteSell(w http.ResponseWriter, r *http.Request) {
	h.quote(w, r, h.markets.QuoteSell)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uint64, outcome int, amount decimal.Decimal) (decimal.Decimal, error)) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	outcome, err := strconv.Atoi(r.URL.Query().Get("outcome"))
	if err != nil || outcome < 0 {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid outcome")
		return
	}
	amount, err := calc.ParseAmount(r.URL.Query().Get("amount"), "amount")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	shares, err := fn(r.Context(), id, outcome, amount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteDTO{MarketID: id, Outcome: outcome, Amount: amount, Shares: shares, AsOf: h.now().Unix()})
}

func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req BuyRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, ok := h.amount(w, r, req.CollateralIn, "collateralIn")
	if !ok {
		return
	}
	minOut, ok := h.amount(w, r, req.MinSharesOut, "minSharesOut")
	if !ok {
		return
	}

	trade, err := h.markets.Buy(r.Context(), account, id, markets.BuyRequest{Outcome: req.Outcome, CollateralIn: in, MinSharesOut: minOut})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeDTO(trade))
}

func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req SellRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, ok := h.amount(w, r, req.CollateralOut, "collateralOut")
	if !ok {
		return
	}
	maxIn, ok := h.amount(w, r, req.MaxSharesIn, "maxSharesIn")
	if !ok {
		return
	}

	res, err := h.markets.Sell(r.Context(), account, id, markets.SellRequest{Outcome: req.Outcome, CollateralOut: out, MaxSharesIn: maxIn})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SellDTO{TradeDTO: newTradeDTO(res.Trade), Payable: res.Payable, TransferID: res.TransferID})
}

func (h *Handler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req AddLiquidityRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.amount(w, r, req.Amount, "amount")
	if !ok {
		return
	}
	var weights []decimal.Decimal
	for _, raw := range req.Weights {
		weight, ok := h.amount(w, r, raw, "weights")
		if !ok {
			return
		}
		weights = append(weights, weight)
	}

	res, err := h.markets.AddLiquidity(r.Context(), account, id, amount, weights)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidityDTO(res))
}

func (h *Handler) ExitPool(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req ExitPoolRequest
	if !h.decode(w, r, &req) {
		return
	}
	lpIn, ok := h.amount(w, r, req.PoolTokens, "poolTokens")
	if !ok {
		return
	}

	res, err := h.markets.ExitPool(r.Context(), account, id, lpIn)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidityDTO(res))
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req RedeemRequest
	if !h.decode(w, r, &req) {
		return
	}
	toBurn, ok := h.amount(w, r, req.Amount, "amount")
	if !ok {
		return
	}

	res, err := h.markets.BurnOutcomeTokensRedeemCollateral(r.Context(), account, id, toBurn)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RedeemDTO{Collateral: res.Collateral, TransferID: res.TransferID})
}

func (h *Handler) ClaimEarnings(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	res, err := h.markets.ClaimEarnings(r.Context(), account, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimDTO{Payout: res.Payout, Fees: res.Fees, Total: res.Total, TransferID: res.TransferID})
}

func (h *Handler) SetMarketEnabled(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req SetEnabledRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.markets.SetMarketEnabled(r.Context(), account, id, *req.Enabled)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.View(h.now()))
}

func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.markets.ResolveMarket(r.Context(), account, id, req.Payout)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.View(h.now()))
}

func (h *Handler) SubmitOracleAnswer(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	var req OracleAnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	answer, err := resolution.DecodeAnswer(req.Answer)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	m, err := h.markets.SubmitOracleAnswer(r.Context(), account, id, answer)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.View(h.now()))
}

func (h *Handler) FinalizeMarket(w http.ResponseWriter, r *http.Request) {
	id, account, ok := h.marketCall(w, r)
	if !ok {
		return
	}
	m, err := h.markets.FinalizeMarket(r.Context(), account, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.View(h.now()))
}

func (h *Handler) marketCall(w http.ResponseWriter, r *http.Request) (uint64, string, bool) {
	account, ok := caller(w, r)
	if !ok {
		return 0, "", false
	}
	id, ok := marketID(w, r)
	if !ok {
		return 0, "", false
	}
	return id, account, true
}

// amount parses a body field the validator has already accepted; a
// failure still answers 400 rather than trading a zero.
func (h *Handler) amount(w http.ResponseWriter, r *http.Request, raw, field string) (decimal.Decimal, bool) {
	v, err := calc.ParseAmount(raw, field)
	if err != nil {
		h.writeServiceError(w, r, err)
		return decimal.Zero, false
	}
	return v, true
}

func optionalAmount(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return calc.ParseAmount(raw, field)
}
