/**
 * @description
 * This file defines the core domain models for the payout-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (paise), which avoids floating-point inaccuracies with financial data.
 * - A Transaction row is append-mostly: after creation only the status, gateway
 *   references and failure reason may change.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// NetworkType identifies the payout rail a transaction settles over.
type NetworkType string

const (
	NetworkIMPS NetworkType = "IMPS"
	NetworkNEFT NetworkType = "NEFT"
	NetworkUPI  NetworkType = "UPI"
	NetworkDMT  NetworkType = "DMT"
)

// ValidNetwork reports whether the given string names a supported payout rail.
func ValidNetwork(n NetworkType) bool {
	switch n {
	case NetworkIMPS, NetworkNEFT, NetworkUPI, NetworkDMT:
		return true
	}
	return false
}

// TransactionStatus is the settlement state of a payout transaction.
// `pending` is the only non-terminal state; it is owned by the status
// reconciler once the initial gateway call has returned.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction represents the central ledger record for any outbound money
// movement. This struct maps directly to the `transactions` table.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	AccountID            uuid.UUID         `json:"account_id"`
	BeneficiaryID        uuid.UUID         `json:"beneficiary_id"`
	NetworkType          NetworkType       `json:"network_type"`
	GatewayName          string            `json:"gateway_name"`
	Status               TransactionStatus `json:"status"`
	Amount               int64             `json:"amount"` // in paise
	Charge               int64             `json:"charge"` // in paise
	ReferenceID          string            `json:"reference_id"`
	WebsiteURL           *string           `json:"website_url,omitempty"`
	GatewayTransactionID *string           `json:"gateway_transaction_id,omitempty"`
	UTR                  *string           `json:"utr,omitempty"`
	FailureReason        *string           `json:"failure_reason,omitempty"`
	PreviousBalance      int64             `json:"previous_balance"`
	ClosingBalance       int64             `json:"closing_balance"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// TotalDebit is the full amount reserved from the sender's wallet for this
// transaction: principal plus resolved charge.
func (t *Transaction) TotalDebit() int64 {
	return t.Amount + t.Charge
}

// Terminal reports whether the transaction has reached a final settlement state.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// PayoutRequest is the DTO for incoming payout submissions. Exactly one of
// BeneficiaryID or VPA must be supplied; VPA submissions are only valid for
// the UPI network and auto-register the destination as a verified beneficiary.
type PayoutRequest struct {
	BeneficiaryID   *uuid.UUID  `json:"beneficiary_id,omitempty"`
	VPA             string      `json:"vpa,omitempty"`
	BeneficiaryName string      `json:"beneficiary_name,omitempty"`
	Amount          int64       `json:"amount"` // in paise
	NetworkType     NetworkType `json:"network_type"`
	Gateway         string      `json:"gateway"`
	ReferenceID     string      `json:"reference_id"`
	WebsiteURL      string      `json:"website_url,omitempty"`
	Remark          string      `json:"remark,omitempty"`
}

// PayoutResult is returned to the caller after a submission has been settled
// or parked pending. GatewayMessage carries the provider's message verbatim
// so the UI can surface actionable feedback.
type PayoutResult struct {
	Transaction    *Transaction `json:"transaction"`
	GatewayMessage string       `json:"gateway_message,omitempty"`
}

// TransactionListOptions controls pagination for payout history queries.
type TransactionListOptions struct {
	Limit  int
	Offset int
	Status TransactionStatus
}
