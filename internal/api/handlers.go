/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the settlement logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/app"
	"github.com/wepaysam/payout-service/internal/domain"
	"github.com/wepaysam/payout-service/internal/store"
)

// RateLimitSettings bounds how many payout submissions a single account may
// make within a rolling window, enforced at the edge via Redis.
type RateLimitSettings struct {
	Limit  int
	Window time.Duration
}

// PayoutHandlers holds the application services that handlers will use.
type PayoutHandlers struct {
	service    *app.Service
	reconciler *app.StatusReconciler
	limiter    *app.RedisPayoutRateLimiter
	rateLimit  RateLimitSettings
}

// NewPayoutHandlers creates a new instance of PayoutHandlers.
func NewPayoutHandlers(service *app.Service, reconciler *app.StatusReconciler, limiter *app.RedisPayoutRateLimiter, rateLimit RateLimitSettings) *PayoutHandlers {
	return &PayoutHandlers{
		service:    service,
		reconciler: reconciler,
		limiter:    limiter,
		rateLimit:  rateLimit,
	}
}

// payoutResponse is the envelope returned for a submitted or fetched payout.
type payoutResponse struct {
	TransactionID        string  `json:"transaction_id"`
	Status               string  `json:"status"`
	Message              string  `json:"message,omitempty"`
	Amount               int64   `json:"amount"`
	Charge               int64   `json:"charge"`
	Network              string  `json:"network"`
	Gateway              string  `json:"gateway"`
	ReferenceID          string  `json:"reference_id"`
	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty"`
	UTR                  *string `json:"utr,omitempty"`
	FailureReason        *string `json:"failure_reason,omitempty"`
}

func buildPayoutResponse(tx *domain.Transaction, message string) payoutResponse {
	return payoutResponse{
		TransactionID:        tx.ID.String(),
		Status:               string(tx.Status),
		Message:              message,
		Amount:               tx.Amount,
		Charge:               tx.Charge,
		Network:              string(tx.NetworkType),
		Gateway:              tx.GatewayName,
		ReferenceID:          tx.ReferenceID,
		GatewayTransactionID: tx.GatewayTransactionID,
		UTR:                  tx.UTR,
		FailureReason:        tx.FailureReason,
	}
}

// resolveAccountID pulls the authenticated user from the context and maps it
// to the wallet account, writing the error response itself on failure.
func (h *PayoutHandlers) resolveAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return uuid.Nil, false
	}
	accountID, err := h.service.ResolveAccountID(r.Context(), userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=account_resolution_failed user_id=%s err=%v", userIDStr, err)
		http.Error(w, "Account not found", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return accountID, true
}

// SubmitPayoutHandler handles requests to initiate a payout.
func (h *PayoutHandlers) SubmitPayoutHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolveAccountID(w, r)
	if !ok {
		return
	}

	var req domain.PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_payout outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if h.limiter != nil && h.rateLimit.Limit > 0 {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "payout_submit", accountID.String(), h.rateLimit.Limit, h.rateLimit.Window)
		if err != nil {
			// Redis being down must not block settlements.
			log.Printf("level=warn component=api endpoint=submit_payout msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > h.rateLimit.Limit {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many payout submissions, slow down")
			return
		}
	}

	log.Printf("level=info component=api endpoint=submit_payout outcome=accepted account_id=%s gateway=%s network=%s amount=%d reference=%s", accountID, req.Gateway, req.NetworkType, req.Amount, req.ReferenceID)

	result, err := h.service.SubmitPayout(r.Context(), accountID, req)
	if err != nil {
		h.writeSubmitError(w, accountID, result, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, buildPayoutResponse(result.Transaction, result.GatewayMessage))
}

// writeSubmitError maps settlement errors onto HTTP status codes. A gateway
// failure still carries the failed transaction so the caller sees the final
// record, not just an error string.
func (h *PayoutHandlers) writeSubmitError(w http.ResponseWriter, accountID uuid.UUID, result *domain.PayoutResult, err error) {
	log.Printf("level=warn component=api endpoint=submit_payout outcome=failed account_id=%s err=%v", accountID, err)

	switch {
	case errors.Is(err, app.ErrGatewayFailure):
		if result != nil && result.Transaction != nil {
			h.writeJSON(w, http.StatusBadGateway, buildPayoutResponse(result.Transaction, result.GatewayMessage))
			return
		}
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient wallet balance")
	case errors.Is(err, store.ErrDuplicateReference):
		h.writeError(w, http.StatusConflict, "A transaction with this reference already exists")
	case errors.Is(err, app.ErrCooldownActive):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrAccountDisabled),
		errors.Is(err, app.ErrNetworkNotPermitted),
		errors.Is(err, app.ErrGatewayNotPermitted),
		errors.Is(err, app.ErrBeneficiaryNotVerified):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrBeneficiaryNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidNetwork),
		errors.Is(err, app.ErrMissingReference),
		errors.Is(err, app.ErrMissingBeneficiary),
		errors.Is(err, app.ErrUnknownGateway),
		errors.Is(err, app.ErrNetworkNotSupported):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// GetTransactionHandler returns a single transaction owned by the caller.
func (h *PayoutHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolveAccountID(w, r)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), accountID, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, buildPayoutResponse(tx, ""))
}

// ListTransactionsHandler returns the caller's transaction history, newest
// first, with optional status filtering and limit/offset pagination.
func (h *PayoutHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolveAccountID(w, r)
	if !ok {
		return
	}

	opts := domain.TransactionListOptions{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= 200 {
			opts.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset >= 0 {
			opts.Offset = offset
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		opts.Status = domain.TransactionStatus(raw)
	}

	transactions, err := h.service.ListTransactions(r.Context(), accountID, opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transactions account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	responses := make([]payoutResponse, 0, len(transactions))
	for i := range transactions {
		responses = append(responses, buildPayoutResponse(&transactions[i], ""))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": responses,
		"count":        len(responses),
	})
}

// ReconcileTransactionHandler triggers an on-demand status poll for a single
// transaction. It sits behind the internal API key, not user auth.
func (h *PayoutHandlers) ReconcileTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	tx, err := h.reconciler.Reconcile(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=warn component=api endpoint=reconcile transaction_id=%s err=%v", transactionID, err)
		// The poll failed but the transaction may still be pending; report
		// the current record alongside the gateway problem.
		if tx != nil {
			h.writeJSON(w, http.StatusBadGateway, buildPayoutResponse(tx, err.Error()))
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, buildPayoutResponse(tx, ""))
}

// GatewayWebhookHandler ingests provider status callbacks. The gateway name
// comes from the URL; the payload carries the transaction references. The
// response is always 200 for processable payloads so providers stop
// retrying; unmatched events are logged and dropped.
func (h *PayoutHandlers) GatewayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	var event domain.GatewayStatusEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Printf("level=warn component=api endpoint=webhook gateway=%s reason=invalid_json err=%v", gatewayName, err)
		h.writeError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}
	event.Gateway = gatewayName

	tx, err := h.reconciler.ApplyStatusEvent(r.Context(), event)
	if err != nil {
		if errors.Is(err, app.ErrEventUnmatched) {
			log.Printf("level=warn component=api endpoint=webhook gateway=%s msg=\"event matches no transaction\" reference=%s gateway_txn=%s", gatewayName, event.ReferenceID, event.GatewayTransactionID)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Printf("level=error component=api endpoint=webhook gateway=%s err=%v", gatewayName, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":         "processed",
		"transaction_id": tx.ID.String(),
		"final_status":   string(tx.Status),
	})
}

func (h *PayoutHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *PayoutHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
