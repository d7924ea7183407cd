/**
 * @description
 * This file sets up the HTTP router for the finance service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// FinanceRoutes creates and returns a new router for the finance service.
func FinanceRoutes(h *FinanceHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint, at the root and under the /api prefix.
	health := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	}
	r.Get("/health", health)

	// The whole JSON surface lives under /api.
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)

		// Unauthenticated auth endpoints.
		r.Post("/auth/login", h.LoginHandler)
		r.Post("/auth/forgot-password", h.ForgotPasswordHandler)

		// Group routes that require authentication.
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(jwtSecret))

			r.Get("/auth/me", h.MeHandler)
			r.Post("/auth/change-password", h.ChangePasswordHandler)

			r.Get("/users", h.ListUsersHandler)
			r.Post("/users", h.CreateUserHandler)
			r.Delete("/users/{id}", h.DeleteUserHandler)
			r.Put("/users/{id}/permissions", h.UpdateUserPermissionsHandler)
			r.Put("/users/{id}/profile", h.UpdateProfileHandler)

			r.Get("/chart-of-accounts", h.ListCategoriesHandler)
			r.Post("/chart-of-accounts", h.CreateCategoryHandler)

			r.Get("/transactions", h.ListTransactionsHandler)
			r.Post("/transactions", h.CreateTransactionHandler)
			r.Delete("/transactions/{id}", h.DeleteTransactionHandler)
			r.Get("/project-tags", h.ListProjectTagsHandler)

			r.Get("/grants", h.ListGrantsHandler)
			r.Post("/grants", h.CreateGrantHandler)
			r.Put("/grants/{id}/received", h.UpdateGrantReceivedHandler)

			r.Get("/investors", h.ListInvestorsHandler)
			r.Post("/investors", h.CreateInvestorHandler)
			r.Delete("/investors/{id}", h.DeleteInvestorHandler)

			r.Get("/headcount", h.ListHeadcountHandler)
			r.Post("/headcount", h.CreateHeadcountHandler)
			r.Put("/headcount/{id}", h.UpdateHeadcountHandler)

			r.Get("/dashboard/metrics", h.DashboardMetricsHandler)
			r.Get("/dashboard/breakdown", h.CategoryBreakdownHandler)

			r.Post("/agent", h.AgentChatHandler)
		})
	})

	return r
}
