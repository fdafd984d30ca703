/**
 * @description
 * This file contains the core business logic for the payout-service. The `Service`
 * struct orchestrates payout settlement, coordinating between the database
 * repository, the payout gateway adapters, and the message broker.
 *
 * Key features:
 * - Implements the settle-then-confirm flow: funds are atomically reserved
 *   before the gateway call, and reverted in full when the gateway fails.
 * - Resolves per-account or global charges before reservation.
 * - Enforces account, network and gateway permission checks.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/gateway, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/domain"
	"github.com/wepaysam/payout-service/internal/store"
	"github.com/wepaysam/payout-service/pkg/gateway"
	"github.com/wepaysam/payout-service/pkg/rabbitmq"
)

// DefaultGatewayTimeout bounds a single provider call. A payout whose
// provider call exceeds this stays FAILED and refunded, never in limbo.
const DefaultGatewayTimeout = 45 * time.Second

var (
	ErrInvalidAmount          = errors.New("payout amount must be a positive number of paise")
	ErrInvalidNetwork         = errors.New("unsupported transfer network")
	ErrMissingReference       = errors.New("a reference id is required")
	ErrMissingBeneficiary     = errors.New("a beneficiary id or UPI address is required")
	ErrUnknownGateway         = errors.New("unknown payout gateway")
	ErrNetworkNotSupported    = errors.New("gateway does not support the requested network")
	ErrAccountDisabled        = errors.New("account is disabled")
	ErrNetworkNotPermitted    = errors.New("network is not enabled for this account")
	ErrGatewayNotPermitted    = errors.New("gateway is not enabled for this account")
	ErrBeneficiaryNotVerified = errors.New("beneficiary is not verified")
	ErrGatewayFailure         = errors.New("gateway rejected the payout")
)

// gatewayNetworks maps each gateway to the networks it can settle on.
var gatewayNetworks = map[string][]domain.NetworkType{
	"aeronpay": {domain.NetworkUPI},
	"sevapay":  {domain.NetworkIMPS, domain.NetworkNEFT},
	"katla":    {domain.NetworkDMT},
	"p2i":      {domain.NetworkUPI},
}

// Service provides the core business logic for payouts.
type Service struct {
	repo           store.Repository
	gateways       *gateway.Registry
	guard          *IdempotencyGuard
	charges        *ChargeResolver
	eventProducer  rabbitmq.Publisher
	gatewayTimeout time.Duration
}

// NewService creates a new payout service instance.
func NewService(repo store.Repository, gateways *gateway.Registry, guard *IdempotencyGuard, charges *ChargeResolver, producer rabbitmq.Publisher, gatewayTimeout time.Duration) *Service {
	if gatewayTimeout <= 0 {
		gatewayTimeout = DefaultGatewayTimeout
	}
	return &Service{
		repo:           repo,
		gateways:       gateways,
		guard:          guard,
		charges:        charges,
		eventProducer:  producer,
		gatewayTimeout: gatewayTimeout,
	}
}

// SubmitPayout runs the full settlement flow for a single payout request:
// validation, idempotency checks, permission checks, charge resolution,
// atomic balance reservation, the gateway call, and finalization. Funds are
// reserved before the provider is contacted and reverted in full when the
// provider definitively fails.
func (s *Service) SubmitPayout(ctx context.Context, accountID uuid.UUID, req domain.PayoutRequest) (*domain.PayoutResult, error) {
	log.Printf("SubmitPayout: Starting payout for account %s via %s/%s for amount %d", accountID, req.Gateway, req.NetworkType, req.Amount)

	// 1. Structural validation. Nothing has been read or written yet.
	gw, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	// 2. Idempotency checks. All read-only; the unique constraints at
	// reservation time close any race between concurrent duplicates.
	if err := s.guard.CheckReference(ctx, req.ReferenceID); err != nil {
		return nil, err
	}
	if err := s.guard.CheckWebsiteURL(ctx, req.WebsiteURL); err != nil {
		return nil, err
	}
	if err := s.guard.CheckCooldown(ctx, accountID); err != nil {
		return nil, err
	}

	// 3. Account and permission checks.
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		log.Printf("SubmitPayout: Failed to find account %s: %v", accountID, err)
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account.IsDisabled {
		return nil, ErrAccountDisabled
	}
	if !account.NetworkEnabled(req.NetworkType) {
		return nil, ErrNetworkNotPermitted
	}
	if !account.GatewayEnabled(gw.Name()) {
		return nil, ErrGatewayNotPermitted
	}

	// 4. Beneficiary resolution.
	beneficiary, err := s.resolveBeneficiary(ctx, account, req)
	if err != nil {
		return nil, err
	}

	// 5. Charge resolution.
	charge, err := s.charges.Resolve(ctx, account.ID, req.NetworkType, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve charge: %w", err)
	}

	// 6. Atomic reservation: debit amount+charge and insert the PENDING
	// record in one transaction. Insufficient funds and duplicate races
	// surface here as typed errors.
	txRecord := &domain.Transaction{
		ID:            uuid.New(),
		AccountID:     account.ID,
		BeneficiaryID: beneficiary.ID,
		NetworkType:   req.NetworkType,
		GatewayName:   gw.Name(),
		Status:        domain.StatusPending,
		Amount:        req.Amount,
		Charge:        charge,
		ReferenceID:   req.ReferenceID,
		WebsiteURL:    optionalString(req.WebsiteURL),
	}
	if err := s.repo.ReservePayout(ctx, txRecord); err != nil {
		return nil, err
	}
	log.Printf("SubmitPayout: Reserved %d paise (amount %d + charge %d) for transaction %s", txRecord.TotalDebit(), txRecord.Amount, txRecord.Charge, txRecord.ID)

	// 7. Gateway call, outside any database lock and with a bounded timeout.
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, gwErr := gw.Payout(gwCtx, gateway.NormalizedPayoutRequest{
		Network:         string(req.NetworkType),
		BeneficiaryName: beneficiary.Name,
		AccountNumber:   beneficiary.AccountNumber,
		IFSC:            beneficiary.IFSC,
		VPA:             beneficiary.VPA,
		Amount:          req.Amount,
		Remark:          req.Remark,
		ReferenceID:     req.ReferenceID,
	})

	// 8. Finalize based on the normalized outcome. A transport error or
	// timeout is indistinguishable from a rejection at this point, so it
	// is treated as FAILED; the reconciler can resurrect a payout the
	// provider actually accepted.
	if gwErr != nil {
		log.Printf("SubmitPayout: Gateway %s call failed for transaction %s: %v", gw.Name(), txRecord.ID, gwErr)
		return s.failPayout(ctx, txRecord, gwErr.Error())
	}

	switch result.Outcome {
	case gateway.OutcomeSuccess:
		if err := s.repo.MarkTransactionCompleted(ctx, txRecord.ID, result.GatewayTransactionID, result.UTR); err != nil {
			// The provider moved the money; the record must not stay
			// PENDING silently. Surface loudly for operators.
			log.Printf("CRITICAL: Failed to mark transaction %s completed after gateway success (gateway_txn=%s utr=%s): %v", txRecord.ID, result.GatewayTransactionID, result.UTR, err)
		}
		txRecord.Status = domain.StatusCompleted
		txRecord.GatewayTransactionID = optionalString(result.GatewayTransactionID)
		txRecord.UTR = optionalString(result.UTR)
		s.publishPayoutEvent(ctx, txRecord)
		return &domain.PayoutResult{Transaction: txRecord, GatewayMessage: result.RawMessage}, nil

	case gateway.OutcomePending:
		if err := s.repo.UpdateTransactionPending(ctx, txRecord.ID, result.GatewayTransactionID); err != nil {
			log.Printf("WARN: Failed to attach gateway transaction id to pending transaction %s: %v", txRecord.ID, err)
		}
		txRecord.GatewayTransactionID = optionalString(result.GatewayTransactionID)
		s.publishPayoutEvent(ctx, txRecord)
		return &domain.PayoutResult{Transaction: txRecord, GatewayMessage: result.RawMessage}, nil

	default:
		return s.failPayout(ctx, txRecord, result.RawMessage)
	}
}

// failPayout reverts the reservation for a definitively failed payout and
// returns the failed transaction alongside an ErrGatewayFailure.
func (s *Service) failPayout(ctx context.Context, txRecord *domain.Transaction, reason string) (*domain.PayoutResult, error) {
	reverted, err := s.repo.RevertPayout(ctx, txRecord.ID, reason)
	if err != nil {
		log.Printf("CRITICAL: Failed to revert reservation for transaction %s after gateway failure; funds are debited with no settlement: %v", txRecord.ID, err)
	} else if !reverted {
		// Another path (webhook, reconciler) already finalized this
		// transaction; nothing left to undo.
		log.Printf("SubmitPayout: Transaction %s already finalized, skipping revert", txRecord.ID)
	}
	txRecord.Status = domain.StatusFailed
	txRecord.FailureReason = optionalString(reason)
	s.publishPayoutEvent(ctx, txRecord)
	if reason == "" {
		return &domain.PayoutResult{Transaction: txRecord}, ErrGatewayFailure
	}
	return &domain.PayoutResult{Transaction: txRecord, GatewayMessage: reason}, fmt.Errorf("%w: %s", ErrGatewayFailure, reason)
}

// validateRequest checks the structural fields of a payout request and
// resolves the gateway adapter.
func (s *Service) validateRequest(req domain.PayoutRequest) (gateway.PayoutGateway, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !domain.ValidNetwork(req.NetworkType) {
		return nil, ErrInvalidNetwork
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		return nil, ErrMissingReference
	}
	gw, ok := s.gateways.Lookup(req.Gateway)
	if !ok {
		return nil, ErrUnknownGateway
	}
	supported := false
	for _, n := range gatewayNetworks[gw.Name()] {
		if n == req.NetworkType {
			supported = true
			break
		}
	}
	if !supported {
		return nil, ErrNetworkNotSupported
	}
	return gw, nil
}

// resolveBeneficiary loads the payout target. Bank and DMT payouts require a
// previously verified saved beneficiary. UPI payouts may instead name a VPA
// directly; an unknown VPA is saved on the fly as a verified UPI beneficiary
// so repeat payouts reuse it.
func (s *Service) resolveBeneficiary(ctx context.Context, account *domain.Account, req domain.PayoutRequest) (*domain.Beneficiary, error) {
	wantKind := domain.KindForNetwork(req.NetworkType)

	if req.BeneficiaryID != nil {
		beneficiary, err := s.repo.FindBeneficiaryByID(ctx, *req.BeneficiaryID, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find beneficiary: %w", err)
		}
		if beneficiary.Kind != wantKind {
			return nil, fmt.Errorf("beneficiary %s is a %s target, not usable on %s: %w", beneficiary.ID, beneficiary.Kind, req.NetworkType, store.ErrBeneficiaryNotFound)
		}
		if !beneficiary.IsVerified {
			return nil, ErrBeneficiaryNotVerified
		}
		return beneficiary, nil
	}

	if req.NetworkType == domain.NetworkUPI && strings.TrimSpace(req.VPA) != "" {
		beneficiary, err := s.repo.FindBeneficiaryByVPA(ctx, account.ID, req.VPA)
		if err == nil {
			return beneficiary, nil
		}
		if !errors.Is(err, store.ErrBeneficiaryNotFound) {
			return nil, fmt.Errorf("failed to find beneficiary by VPA: %w", err)
		}
		beneficiary = &domain.Beneficiary{
			ID:         uuid.New(),
			AccountID:  account.ID,
			Kind:       domain.BeneficiaryUPI,
			Name:       req.BeneficiaryName,
			VPA:        req.VPA,
			IsVerified: true,
		}
		if err := s.repo.CreateBeneficiary(ctx, beneficiary); err != nil {
			return nil, fmt.Errorf("failed to save UPI beneficiary: %w", err)
		}
		log.Printf("SubmitPayout: Saved new UPI beneficiary %s for account %s", beneficiary.ID, account.ID)
		return beneficiary, nil
	}

	return nil, ErrMissingBeneficiary
}

// publishPayoutEvent publishes a lifecycle event. Publishing is best-effort;
// the settlement itself never fails on a broker problem.
func (s *Service) publishPayoutEvent(ctx context.Context, txRecord *domain.Transaction) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.PayoutEvent{
		TransactionID: txRecord.ID,
		AccountID:     txRecord.AccountID,
		Status:        string(txRecord.Status),
		Network:       string(txRecord.NetworkType),
		Gateway:       txRecord.GatewayName,
		Amount:        txRecord.Amount,
		Charge:        txRecord.Charge,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.eventProducer.PublishPayoutEvent(ctx, event); err != nil {
		log.Printf("WARN: Failed to publish payout event for transaction %s: %v", txRecord.ID, err)
	}
}

// ResolveAccountID converts an authenticated user id (the JWT subject) into
// the wallet account UUID used by the repositories.
func (s *Service) ResolveAccountID(ctx context.Context, userID string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id: %w", err)
	}
	account, err := s.repo.FindAccountByUserID(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return account.ID, nil
}

// GetTransaction retrieves a single transaction, scoped to its owner.
func (s *Service) GetTransaction(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, error) {
	txRecord, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txRecord.AccountID != accountID {
		return nil, store.ErrTransactionNotFound
	}
	return txRecord, nil
}

// ListTransactions retrieves an account's transaction history, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByAccountID(ctx, accountID, opts)
}

// ApproveBalanceRequest approves a pending top-up request and credits the
// account, exactly once; a request already processed is reported as such.
func (s *Service) ApproveBalanceRequest(ctx context.Context, requestID uuid.UUID) (*domain.BalanceRequest, error) {
	request, err := s.repo.FindBalanceRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	approved, err := s.repo.ApproveBalanceRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to approve balance request: %w", err)
	}
	if !approved {
		return nil, fmt.Errorf("balance request %s is already %s", requestID, request.Status)
	}
	request.Status = domain.BalanceRequestApproved
	log.Printf("ApproveBalanceRequest: Credited %d paise to account %s for request %s", request.Amount, request.AccountID, request.ID)
	return request, nil
}

// CreateChargeRule validates and persists a new charge rule. Overlapping
// amount bands within the same scope and network are rejected so resolution
// stays deterministic.
func (s *Service) CreateChargeRule(ctx context.Context, payload domain.CreateChargeRulePayload) (*domain.ChargeRule, error) {
	if !domain.ValidNetwork(payload.NetworkType) {
		return nil, ErrInvalidNetwork
	}
	if payload.MinAmount < 0 || payload.MaxAmount < payload.MinAmount {
		return nil, errors.New("charge rule amount band is invalid")
	}
	if payload.Value < 0 {
		return nil, errors.New("charge rule value must not be negative")
	}

	overlaps, err := s.repo.CountOverlappingChargeRules(ctx, payload.AccountID, payload.NetworkType, payload.MinAmount, payload.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to check charge rule overlap: %w", err)
	}
	if overlaps > 0 {
		return nil, store.ErrChargeRuleOverlap
	}

	rule := &domain.ChargeRule{
		ID:          uuid.New(),
		AccountID:   payload.AccountID,
		NetworkType: payload.NetworkType,
		MinAmount:   payload.MinAmount,
		MaxAmount:   payload.MaxAmount,
		Value:       payload.Value,
	}
	if err := s.repo.CreateChargeRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create charge rule: %w", err)
	}
	return rule, nil
}

// VerifyBeneficiary marks a saved beneficiary as verified so it becomes
// usable for bank and DMT payouts.
func (s *Service) VerifyBeneficiary(ctx context.Context, accountID, beneficiaryID uuid.UUID) error {
	if _, err := s.repo.FindBeneficiaryByID(ctx, beneficiaryID, accountID); err != nil {
		return err
	}
	return s.repo.MarkBeneficiaryVerified(ctx, beneficiaryID)
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
