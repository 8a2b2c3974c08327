/**
 * @description
 * This file sets up the HTTP router for the oracle service. It defines the
 * API endpoints, associates them with their handlers, and applies middleware
 * for logging, panic recovery, timeouts, authentication, and rate limiting.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the knobs the router needs.
type RouterConfig struct {
	APIKey          string
	RateLimit       int
	RateLimitWindow time.Duration
}

// PaymentRoutes creates and returns the router for the oracle service.
func PaymentRoutes(h *PaymentHandlers, limiter RateLimiter, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint: no auth, no throttle.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","timestamp":%q}`, time.Now().UTC().Format(time.RFC3339))
	})

	r.Route("/api/payment", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, cfg.RateLimit, cfg.RateLimitWindow))

		// Status lookup needs no key; payment ids are unguessable.
		r.Get("/{id}", h.GetPaymentHandler)

		r.Group(func(r chi.Router) {
			r.Use(APIKeyMiddleware(cfg.APIKey))
			r.Post("/create", h.CreatePaymentHandler)
			r.Post("/verify", h.VerifyPaymentHandler)
		})
	})

	return r
}
