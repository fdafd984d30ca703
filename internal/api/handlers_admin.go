package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/app"
	"github.com/wepaysam/payout-service/internal/domain"
	"github.com/wepaysam/payout-service/internal/store"
)

// ApproveBalanceRequestHandler approves a pending wallet top-up and credits
// the account. Repeat calls on the same request return 409.
func (h *PayoutHandlers) ApproveBalanceRequestHandler(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid balance request id")
		return
	}

	request, err := h.service.ApproveBalanceRequest(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, store.ErrBalanceRequestNotFound) {
			h.writeError(w, http.StatusNotFound, "Balance request not found")
			return
		}
		log.Printf("level=warn component=api endpoint=approve_balance_request request_id=%s err=%v", requestID, err)
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// CreateChargeRuleHandler adds a fee tier. Account-scoped rule values are
// percentages; global rule values are flat fees in paise.
func (h *PayoutHandlers) CreateChargeRuleHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.CreateChargeRulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule, err := h.service.CreateChargeRule(r.Context(), payload)
	if err != nil {
		if errors.Is(err, store.ErrChargeRuleOverlap) {
			h.writeError(w, http.StatusConflict, "An overlapping charge rule already exists for this scope and network")
			return
		}
		if errors.Is(err, app.ErrInvalidNetwork) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=warn component=api endpoint=create_charge_rule err=%v", err)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, rule)
}

type verifyBeneficiaryRequest struct {
	AccountID uuid.UUID `json:"account_id"`
}

// VerifyBeneficiaryHandler marks a saved beneficiary as verified, unlocking
// it for bank and DMT payouts.
func (h *PayoutHandlers) VerifyBeneficiaryHandler(w http.ResponseWriter, r *http.Request) {
	beneficiaryID, err := uuid.Parse(chi.URLParam(r, "beneficiaryID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid beneficiary id")
		return
	}

	var req verifyBeneficiaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.VerifyBeneficiary(r.Context(), req.AccountID, beneficiaryID); err != nil {
		if errors.Is(err, store.ErrBeneficiaryNotFound) {
			h.writeError(w, http.StatusNotFound, "Beneficiary not found")
			return
		}
		log.Printf("level=warn component=api endpoint=verify_beneficiary beneficiary_id=%s err=%v", beneficiaryID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
