/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the kiosk / web clients
  5. Authenticate (under /api only): bearer JWT -> generic.Actor

ROUTE GROUPS:
  /healthz              Liveness + database ping (public)
  /api/reservations/*   Booking lifecycle
  /api/checkin/qr       QR check-in
  /api/waitlist/*       Waitlist
  /api/series/*         Recurring bookings
  /api/resources/*      Catalog and availability
  /api/admin/*          Sweep, sweep history, demo seed

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token validation
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. secret is the
// HS256 key bearer tokens are signed with.
func NewRouter(h *Handler, secret []byte) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(secret))

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", h.ListReservations)
			r.Post("/", h.CreateReservation)
			r.Post("/decisions", h.DecideBulk)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Post("/{id}/decision", h.Decide)
			r.Post("/{id}/escalate", h.Escalate)
			r.Post("/{id}/checkin", h.CheckIn)
			r.Post("/{id}/checkout", h.Checkout)
			r.Post("/{id}/extend", h.Extend)
			r.Post("/{id}/participants", h.InviteParticipants)
			r.Post("/{id}/invitation", h.RespondInvitation)
		})

		r.Post("/checkin/qr", h.CheckInByQR)

		// Waitlist routes
		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", h.JoinWaitlist)
			r.Post("/{id}/accept", h.AcceptOffer)
			r.Post("/{id}/decline", h.DeclineOffer)
			r.Delete("/{id}", h.LeaveWaitlist)
		})

		// Series routes
		r.Route("/series", func(r chi.Router) {
			r.Post("/", h.CreateSeries)
			r.Post("/{id}/generate", h.GenerateSeries)
			r.Delete("/{id}", h.CancelSeries)
		})

		// Resource routes
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", h.ListResources)
			r.Get("/{id}/availability", h.Availability)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Get("/sweeps", h.ListSweepRuns)
			r.Post("/seed", h.SeedDemo)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
