/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payout-service. By defining an interface,
 * we decouple the settlement logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	CreditWallet(ctx context.Context, accountID uuid.UUID, amount int64) error

	// Beneficiary methods
	FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID, accountID uuid.UUID) (*domain.Beneficiary, error)
	FindBeneficiaryByVPA(ctx context.Context, accountID uuid.UUID, vpa string) (*domain.Beneficiary, error)
	CreateBeneficiary(ctx context.Context, beneficiary *domain.Beneficiary) error
	MarkBeneficiaryVerified(ctx context.Context, beneficiaryID uuid.UUID) error

	// Charge rule methods
	FindAccountChargeRule(ctx context.Context, accountID uuid.UUID, network domain.NetworkType, amount int64) (*domain.ChargeRule, error)
	FindGlobalChargeRule(ctx context.Context, network domain.NetworkType, amount int64) (*domain.ChargeRule, error)
	CountOverlappingChargeRules(ctx context.Context, accountID *uuid.UUID, network domain.NetworkType, minAmount, maxAmount int64) (int, error)
	CreateChargeRule(ctx context.Context, rule *domain.ChargeRule) error

	// Transaction methods
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, referenceID string) (*domain.Transaction, error)
	FindTransactionByWebsiteURL(ctx context.Context, websiteURL string) (*domain.Transaction, error)
	FindTransactionByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Transaction, error)
	FindLatestTransactionByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.Transaction, error)
	FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)

	// ReservePayout atomically debits the sender's wallet by the transaction's
	// total debit and inserts the PENDING transaction row, recording balance
	// snapshots on the passed struct. It fails with ErrInsufficientFunds
	// without any partial effect when the wallet cannot cover the debit.
	ReservePayout(ctx context.Context, tx *domain.Transaction) error

	MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID, utr string) error
	UpdateTransactionPending(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID string) error

	// RevertPayout atomically moves a PENDING transaction to FAILED and credits
	// the reserved amount back to the wallet. It reports false without touching
	// the balance when the transaction is no longer PENDING, which makes
	// repeated reversal attempts safe.
	RevertPayout(ctx context.Context, transactionID uuid.UUID, reason string) (bool, error)

	ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)

	// Balance request methods
	FindBalanceRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BalanceRequest, error)
	ApproveBalanceRequest(ctx context.Context, requestID uuid.UUID) (bool, error)
}
