package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

// Deposit applies a custodian receipt. Replays answer 200 with
// credited=false; a new credit answers 201.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.amount(w, r, req.Amount, "amount")
	if !ok {
		return
	}

	res, err := h.markets.Deposit(r.Context(), account, markets.DepositRequest{
		ReceiptID: req.ReceiptID,
		Account:   req.Account,
		Token:     req.Token,
		Amount:    amount,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Credited {
		status = http.StatusCreated
	}
	writeJSON(w, status, DepositDTO{Deposit: res.Deposit, Credited: res.Credited, Balance: res.Balance})
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balances, err := h.markets.Balances(r.Context(), account)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if balances == nil {
		balances = []settlement.Balance{}
	}
	writeJSON(w, http.StatusOK, BalancesDTO{Account: account, Balances: balances})
}
