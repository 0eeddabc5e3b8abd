/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RealIP:         Client address behind a proxy
  3. RequestLogger:  zap request logging, request logger in context
  4. Recoverer:      Panic recovery (500 instead of crash)
  5. CORS:           Cross-origin requests for the frontend
  6. Actor:          X-User-ID into the context for audit and created_by

ROUTE GROUPS:
  /api/health           Storage health
  /api/contracts/*      Contract management
  /api/pricing/*        Pricing resolution
  /api/entries/*        Receivables and payables
  /api/installments/*   Payments and installment cancellation
  /api/products/*       Products and balances
  /api/movements/*      Stock movements
  /api/collections/*    Collection lifecycle
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. The caller's gateway authenticates and
  forwards the user id in X-User-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	r.Use(Actor)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		// Pricing routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.SaveContract)
			r.Get("/{id}", h.GetContract)
		})
		r.Get("/pricing/resolve", h.ResolvePricing)

		// Ledger routes
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Get("/summary", h.EntrySummary)
			r.Post("/schedule-preview", h.PreviewSchedule)
			r.Get("/{id}", h.GetEntry)
			r.Put("/{id}/schedule", h.ReplaceSchedule)
			r.Post("/{id}/cancel", h.CancelEntry)
		})
		r.Route("/installments", func(r chi.Router) {
			r.Get("/{id}", h.GetInstallment)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RegisterPayment)
			r.Post("/{id}/cancel", h.CancelInstallment)
		})

		// Stock routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
			r.Get("/{id}/balance", h.ProductBalance)
		})
		r.Route("/movements", func(r chi.Router) {
			r.Get("/", h.ListMovements)
			r.Post("/", h.CreateMovement)
			r.Get("/summary", h.MovementSummary)
			r.Get("/{id}", h.GetMovement)
			r.Put("/{id}", h.UpdateMovement)
			r.Delete("/{id}", h.DeleteMovement)
		})

		// Collection routes
		r.Route("/collections", func(r chi.Router) {
			r.Get("/", h.ListCollections)
			r.Post("/", h.RegisterCollection)
			r.Get("/{id}", h.GetCollection)
			r.Put("/{id}", h.EditCollection)
			r.Delete("/{id}", h.DeleteCollection)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
