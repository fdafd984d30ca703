/**
 * @description
 * This file sets up the HTTP router for the payout-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PayoutRoutes creates and returns a new router for the payout service.
func PayoutRoutes(h *PayoutHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider callbacks carry their own references and no user token.
	r.Post("/webhooks/{gateway}", h.GatewayWebhookHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/payouts", h.SubmitPayoutHandler)
		r.Get("/payouts", h.ListTransactionsHandler)
		r.Get("/payouts/{transactionID}", h.GetTransactionHandler)
	})

	// Operator and service-to-service endpoints sit behind the internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/payouts/{transactionID}/reconcile", h.ReconcileTransactionHandler)
		r.Post("/internal/balance-requests/{requestID}/approve", h.ApproveBalanceRequestHandler)
		r.Post("/internal/charge-rules", h.CreateChargeRuleHandler)
		r.Post("/internal/beneficiaries/{beneficiaryID}/verify", h.VerifyBeneficiaryHandler)
	})

	return r
}
