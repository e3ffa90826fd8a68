/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for internal dashboards

ROUTE GROUPS:
  /api/events/*     Inbound business events (signup, order, redemption)
  /api/referrals/*  Referral edge lifecycle
  /api/accounts/*   Balance, statement, summary reads
  /api/admin/*      Adjustments and reconciliation audits
  /api/health       Liveness

SECURITY NOTE:
  No authentication middleware. The subsystem is deployed behind the
  platform gateway, which terminates auth.

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
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Inbound business events
		r.Route("/events", func(r chi.Router) {
			r.Post("/signup", h.HandleSignupEvent)
			r.Post("/order", h.HandleOrderEvent)
			r.Post("/redemption", h.HandleRedemptionEvent)
		})

		// Referral lifecycle
		r.Route("/referrals", func(r chi.Router) {
			r.Post("/", h.HandleRecordReferral)
			r.Post("/qualify", h.HandleQualifyReferral)
		})

		// Account reads
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", h.HandleGetAccount)
			r.Get("/{id}/balance", h.HandleGetBalance)
			r.Get("/{id}/statement", h.HandleGetStatement)
			r.Get("/{id}/referrals", h.HandleGetReferrals)
		})

		// Admin operations
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.HandleCreateAdjustment)
			r.Post("/audits/run", h.HandleRunAudit)
			r.Get("/audits", h.HandleListAudits)
		})

		r.Get("/health", h.HandleHealth)
	})

	return r
}
