package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(corsOrigins))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		// Live updates; long-lived, so outside the timeout
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(m.Timeout(15 * time.Second))
			r.Use(m.RateLimit(rateLimitRPM))
			r.Use(m.Authenticate)

			r.Get("/roles", h.GetRoles)
			r.Get("/transfers/{transferID}", h.GetTransfer)
			r.Post("/deposits", h.Deposit)
			r.Get("/accounts/{account}/balances", h.GetBalances)

			r.Route("/markets", func(r chi.Router) {
				r.Get("/", h.ListMarkets)
				r.Post("/", h.CreateMarket)

				r.Route("/{marketID}", func(r chi.Router) {
					r.Get("/", h.GetMarket)
					r.Get("/positions/{account}", h.GetPosition)
					r.Get("/quotes/buy", h.QuoteBuy)
					r.Get("/quotes/sell", h.QuoteSell)
					r.Get("/transfers", h.ListMarketTransfers)

					// Trading
					r.Post("/buy", h.Buy)
					r.Post("/sell", h.Sell)
					r.Post("/liquidity", h.AddLiquidity)
					r.Post("/exit", h.ExitPool)
					r.Post("/redeem", h.Redeem)
					r.Post("/claim", h.ClaimEarnings)

					// Resolution
					r.Post("/status", h.SetMarketEnabled)
					r.Post("/resolve", h.ResolveMarket)
					r.Post("/answer", h.SubmitOracleAnswer)
					r.Post("/finalize", h.FinalizeMarket)
				})
			})
		})
	})

	return r
}
