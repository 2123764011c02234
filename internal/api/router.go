/**
 * @description
 * This file sets up the HTTP router for the billing-service. It defines the API
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

// BillingRoutes creates and returns the router for the billing service.
func BillingRoutes(h *Handlers, wh *WebhookHandler, jwtSecret, jwtIssuer string, apiKeys APIKeyAuthenticator) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public plan catalog
	r.Get("/plans", h.ListPlansHandler)
	r.Get("/plans/{planID}", h.GetPlanHandler)

	// Vendor webhook, authenticated by HMAC signature rather than a token.
	r.Post("/webhooks/billing", wh.HandleBillingWebhook)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret, jwtIssuer, apiKeys))

		r.Get("/users/me", h.GetMeHandler)
		r.Patch("/users/me", h.UpdateMeHandler)

		r.Post("/subscriptions", h.CreateSubscriptionHandler)
		r.Get("/subscriptions/me", h.GetMySubscriptionHandler)
		r.Post("/subscriptions/me/cancel", h.CancelMySubscriptionHandler)
		r.Get("/subscriptions/me/history", h.ListMyHistoryHandler)

		r.Post("/api-keys", h.CreateAPIKeyHandler)
		r.Get("/api-keys", h.ListAPIKeysHandler)
		r.Delete("/api-keys/{keyID}", h.RevokeAPIKeyHandler)

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(RequireServiceRole)
			r.Get("/billing-events", h.ListBillingEventsHandler)
			r.Post("/billing-events/{eventID}/reprocess", h.ReprocessBillingEventHandler)
		})
	})

	return r
}
