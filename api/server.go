/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for back-office frontends

ROUTE GROUPS:
  /api/accounts/*       Account lifecycle, money movement, maturity
  /api/penalties/*      Penalty waivers
  /api/jobs/*           On-demand batch jobs
  /api/products/*       Product definitions
  /api/health           Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Post("/approve", h.ApproveAccount)
				r.Post("/close", h.CloseAccount)

				r.Post("/deposits", h.Deposit)
				r.Post("/withdrawals", h.Withdraw)
				r.Get("/interest", h.CalculateInterest)
				r.Post("/interest", h.PostInterest)

				r.Post("/maturity", h.ProcessMaturity)
				r.Post("/renew", h.RenewAccount)
				r.Get("/premature-closure", h.QuotePrematureClosure)
				r.Post("/premature-closure", h.ProcessPrematureClosure)
				r.Put("/maturity-instructions", h.UpdateMaturityInstructions)
				r.Put("/maturity-options", h.UpdateMaturityOptions)

				r.Get("/installments", h.ListInstallments)
				r.Get("/transactions", h.ListTransactions)
				r.Get("/penalties", h.ListPenalties)
			})
		})

		// Penalty routes
		r.Route("/penalties", func(r chi.Router) {
			r.Post("/{id}/waive", h.WaivePenalty)
		})

		// Batch job routes
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/track-installments", h.TrackInstallments)
			r.Post("/apply-penalties", h.ApplyPenalties)
			r.Get("/last-run", h.LastJobRun)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/{id}", h.GetProduct)
		})
	})

	return r
}
