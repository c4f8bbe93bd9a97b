/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions,
  and gates the administrator routes behind a bearer token.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for transport clients

ADMIN GATE:
  Routes under requireAdmin compare the Authorization header against
  the configured token (the single designated administrator). An empty
  token disables those routes.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, adminToken string) *chi.Mux {
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
		r.Get("/thresholds", h.ResolveThreshold)

		r.Route("/offs", func(r chi.Router) {
			r.Post("/", h.RequestOff)
			r.Delete("/{id}", h.CancelOff)
			r.With(requireAdmin(adminToken)).Get("/", h.DayReport)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(requireAdmin(adminToken)).Post("/", h.CreateUser)
			r.With(requireAdmin(adminToken)).Get("/", h.ListUsers)
			r.Get("/{handle}", h.Status)
			r.Get("/{handle}/offs", h.ListOffs)
			r.With(requireAdmin(adminToken)).Get("/{handle}/payments", h.ListPayments)
			r.With(requireAdmin(adminToken)).Post("/{handle}/payments", h.AddPayment)
			r.With(requireAdmin(adminToken)).Post("/{handle}/credits", h.AdjustCredits)
		})

		r.Route("/identity", func(r chi.Router) {
			r.Post("/link", h.LinkIdentity)
			r.Get("/by-phone/{phone}", h.UserByPhone)
			r.Get("/by-chat/{chatID}", h.UserByChat)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin(adminToken))
			r.Post("/convert", h.ConvertAll)
		})
	})

	return r
}

// requireAdmin rejects requests whose bearer token does not match.
func requireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusForbidden, "Admin endpoints are disabled", nil)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
