/**
 * @description
 * This file contains the status reconciler: the single convergence point for
 * every asynchronous status signal about a payout. Provider webhooks, broker
 * events, operator-triggered polls and the scheduled stale-payout sweep all
 * funnel into the same apply step, so a transaction can only move PENDING ->
 * COMPLETED or PENDING -> FAILED once, regardless of how many signals arrive
 * or in what order.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/gateway, pkg/rabbitmq: For provider polling and event publication.
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

// ErrEventUnmatched is returned when a status event names no transaction we
// know about. Such events are dropped, not retried.
var ErrEventUnmatched = errors.New("status event matches no known transaction")

// StatusReconciler drives pending payouts to a terminal state from
// asynchronous provider signals and on-demand polls.
type StatusReconciler struct {
	repo          store.Repository
	gateways      *gateway.Registry
	eventProducer rabbitmq.Publisher
}

// NewStatusReconciler creates a reconciler instance.
func NewStatusReconciler(repo store.Repository, gateways *gateway.Registry, producer rabbitmq.Publisher) *StatusReconciler {
	return &StatusReconciler{
		repo:          repo,
		gateways:      gateways,
		eventProducer: producer,
	}
}

// Reconcile polls the owning gateway for the current state of a transaction
// and applies the result. Terminal transactions are returned untouched; a
// failed status check leaves the transaction PENDING for a later attempt.
func (r *StatusReconciler) Reconcile(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	txRecord, err := r.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txRecord.Terminal() {
		return txRecord, nil
	}

	gw, ok := r.gateways.Lookup(txRecord.GatewayName)
	if !ok {
		return nil, fmt.Errorf("transaction %s names unknown gateway %q", txRecord.ID, txRecord.GatewayName)
	}

	result, err := gw.CheckStatus(ctx, txRecord.ReferenceID)
	if err != nil {
		// A status-check failure says nothing about the payout itself.
		// Leave the transaction pending; the poller will come back.
		return txRecord, fmt.Errorf("status check failed for transaction %s: %w", txRecord.ID, err)
	}

	return r.apply(ctx, txRecord, result.Outcome, result.GatewayTransactionID, result.UTR, result.RawMessage)
}

// ApplyStatusEvent applies an asynchronous status update delivered by a
// provider webhook or over the message broker.
func (r *StatusReconciler) ApplyStatusEvent(ctx context.Context, event domain.GatewayStatusEvent) (*domain.Transaction, error) {
	txRecord, err := r.findEventTransaction(ctx, event)
	if err != nil {
		return nil, err
	}
	if txRecord.Terminal() {
		log.Printf("reconciler: transaction %s already %s, dropping %s event from %s", txRecord.ID, txRecord.Status, event.Status, event.Gateway)
		return txRecord, nil
	}

	outcome := normalizeEventStatus(event.Status)
	return r.apply(ctx, txRecord, outcome, event.GatewayTransactionID, event.UTR, event.Reason)
}

// apply moves a pending transaction according to a normalized outcome. The
// revert path is guarded by the store's status predicate, so a signal that
// lost a race with another finalizer becomes a no-op instead of a double
// refund.
func (r *StatusReconciler) apply(ctx context.Context, txRecord *domain.Transaction, outcome gateway.Outcome, gatewayTxnID, utr, message string) (*domain.Transaction, error) {
	switch outcome {
	case gateway.OutcomeSuccess:
		if err := r.repo.MarkTransactionCompleted(ctx, txRecord.ID, gatewayTxnID, utr); err != nil {
			return nil, fmt.Errorf("mark completed: %w", err)
		}
		txRecord.Status = domain.StatusCompleted
		txRecord.GatewayTransactionID = optionalString(gatewayTxnID)
		txRecord.UTR = optionalString(utr)
		log.Printf("reconciler: transaction %s completed (utr=%s)", txRecord.ID, utr)
		r.publish(ctx, txRecord)
		return txRecord, nil

	case gateway.OutcomeFailed:
		reverted, err := r.repo.RevertPayout(ctx, txRecord.ID, message)
		if err != nil {
			return nil, fmt.Errorf("revert payout: %w", err)
		}
		if !reverted {
			// Lost the race with another finalizer; re-read for the
			// caller rather than reporting a stale status.
			return r.repo.FindTransactionByID(ctx, txRecord.ID)
		}
		txRecord.Status = domain.StatusFailed
		txRecord.FailureReason = optionalString(message)
		log.Printf("reconciler: transaction %s failed and refunded (reason=%q)", txRecord.ID, message)
		r.publish(ctx, txRecord)
		return txRecord, nil

	default:
		if gatewayTxnID != "" && txRecord.GatewayTransactionID == nil {
			if err := r.repo.UpdateTransactionPending(ctx, txRecord.ID, gatewayTxnID); err != nil {
				log.Printf("reconciler: failed to attach gateway transaction id to %s: %v", txRecord.ID, err)
			}
			txRecord.GatewayTransactionID = optionalString(gatewayTxnID)
		}
		return txRecord, nil
	}
}

// findEventTransaction locates the transaction an event refers to, trying
// the internal id first, then the caller reference, then the gateway's own
// transaction id.
func (r *StatusReconciler) findEventTransaction(ctx context.Context, event domain.GatewayStatusEvent) (*domain.Transaction, error) {
	if id, err := uuid.Parse(strings.TrimSpace(event.TransactionID)); err == nil {
		txRecord, err := r.repo.FindTransactionByID(ctx, id)
		if err == nil {
			return txRecord, nil
		}
		if !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, err
		}
	}
	if ref := strings.TrimSpace(event.ReferenceID); ref != "" {
		txRecord, err := r.repo.FindTransactionByReference(ctx, ref)
		if err == nil {
			return txRecord, nil
		}
		if !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, err
		}
	}
	if gwID := strings.TrimSpace(event.GatewayTransactionID); gwID != "" {
		txRecord, err := r.repo.FindTransactionByGatewayTransactionID(ctx, gwID)
		if err == nil {
			return txRecord, nil
		}
		if !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, err
		}
	}
	return nil, ErrEventUnmatched
}

func (r *StatusReconciler) publish(ctx context.Context, txRecord *domain.Transaction) {
	if r.eventProducer == nil {
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
	if err := r.eventProducer.PublishPayoutEvent(ctx, event); err != nil {
		log.Printf("WARN: Failed to publish payout event for transaction %s: %v", txRecord.ID, err)
	}
}

// normalizeEventStatus folds the status vocabulary used across provider
// webhooks and broker events onto the tri-state outcome. Anything not
// recognizably successful or in flight is a failure.
func normalizeEventStatus(status string) gateway.Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED", "SETTLED", "TXN_SUCCESS":
		return gateway.OutcomeSuccess
	case "PENDING", "PROCESSING", "INPROGRESS", "IN_PROGRESS", "INITIATED", "QUEUED", "ACCEPTED", "TXN_PENDING":
		return gateway.OutcomePending
	default:
		return gateway.OutcomeFailed
	}
}
