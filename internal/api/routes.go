package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5, "application/json"))
			r.Use(m.Timeout(15 * time.Second))

			r.Post("/jsonrpc", h.HandleJSONRPC)

			r.Route("/loans", func(r chi.Router) {
				r.Get("/", h.ListLoans)
				r.Get("/{address}", h.GetLoan)
				r.Get("/{address}/events", h.GetLoanEvents)
			})
			r.Get("/events", h.ListEvents)
			r.Get("/accounts/{address}", h.GetAccount)

			r.Get("/price-history", h.GetPriceHistory)
			r.Get("/system", h.GetSystem)
			r.Get("/oracle/prices", h.GetOraclePrices)
		})

		// Live updates
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)
	})

	return r
}
