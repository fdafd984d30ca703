/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to accounts, beneficiaries, charge rules, transactions and balance
 * requests. Balance mutations use row-level locks so that concurrent payouts
 * against the same wallet can never over-spend it.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wepaysam/payout-service/internal/domain"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrBeneficiaryNotFound    = errors.New("beneficiary not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrDuplicateReference     = errors.New("duplicate transaction reference")
	ErrBalanceRequestNotFound = errors.New("balance request not found")
	ErrChargeRuleOverlap      = errors.New("charge rule range overlaps an existing rule")
)

const transactionColumns = `
	id, account_id, beneficiary_id, network_type, gateway_name, status,
	amount, charge, reference_id, website_url, gateway_transaction_id, utr,
	failure_reason, previous_balance, closing_balance, created_at, updated_at
`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAccount(row pgx.Row, account *domain.Account) error {
	return row.Scan(
		&account.ID,
		&account.UserID,
		&account.Balance,
		&account.IsDisabled,
		&account.IMPSEnabled,
		&account.NEFTEnabled,
		&account.UPIEnabled,
		&account.DMTEnabled,
		&account.AeronpayEnabled,
		&account.SevapayEnabled,
		&account.KatlaEnabled,
		&account.P2IEnabled,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
}

const accountColumns = `
	id, user_id, balance, is_disabled,
	imps_enabled, neft_enabled, upi_enabled, dmt_enabled,
	aeronpay_enabled, sevapay_enabled, katla_enabled, p2i_enabled,
	created_at, updated_at
`

// FindAccountByID retrieves a wallet account by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if err := scanAccount(r.db.QueryRow(ctx, query, accountID), &account); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountByUserID retrieves a wallet account by its owning user.
func (r *PostgresRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	if err := scanAccount(r.db.QueryRow(ctx, query, userID), &account); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreditWallet performs an atomic credit operation on a wallet account.
func (r *PostgresRepository) CreditWallet(ctx context.Context, accountID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2", amount, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const beneficiaryColumns = `id, account_id, kind, name, account_number, ifsc, vpa, is_verified, created_at`

func scanBeneficiary(row pgx.Row, b *domain.Beneficiary) error {
	return row.Scan(
		&b.ID,
		&b.AccountID,
		&b.Kind,
		&b.Name,
		&b.AccountNumber,
		&b.IFSC,
		&b.VPA,
		&b.IsVerified,
		&b.CreatedAt,
	)
}

// FindBeneficiaryByID retrieves a beneficiary scoped to its owning account.
func (r *PostgresRepository) FindBeneficiaryByID(ctx context.Context, beneficiaryID uuid.UUID, accountID uuid.UUID) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE id = $1 AND account_id = $2`
	if err := scanBeneficiary(r.db.QueryRow(ctx, query, beneficiaryID, accountID), &b); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &b, nil
}

// FindBeneficiaryByVPA retrieves a UPI beneficiary by its VPA for one account.
func (r *PostgresRepository) FindBeneficiaryByVPA(ctx context.Context, accountID uuid.UUID, vpa string) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE account_id = $1 AND kind = 'upi' AND lower(btrim(vpa)) = lower(btrim($2))`
	if err := scanBeneficiary(r.db.QueryRow(ctx, query, accountID, vpa), &b); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &b, nil
}

// CreateBeneficiary inserts a new beneficiary row.
func (r *PostgresRepository) CreateBeneficiary(ctx context.Context, beneficiary *domain.Beneficiary) error {
	query := `
		INSERT INTO beneficiaries (id, account_id, kind, name, account_number, ifsc, vpa, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		beneficiary.ID,
		beneficiary.AccountID,
		beneficiary.Kind,
		beneficiary.Name,
		beneficiary.AccountNumber,
		beneficiary.IFSC,
		beneficiary.VPA,
		beneficiary.IsVerified,
	).Scan(&beneficiary.CreatedAt)
}

// MarkBeneficiaryVerified flips the verification flag on a beneficiary.
func (r *PostgresRepository) MarkBeneficiaryVerified(ctx context.Context, beneficiaryID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "UPDATE beneficiaries SET is_verified = TRUE WHERE id = $1", beneficiaryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}

const chargeRuleColumns = `id, account_id, network_type, min_amount, max_amount, value, created_at`

func scanChargeRule(row pgx.Row, rule *domain.ChargeRule) error {
	return row.Scan(
		&rule.ID,
		&rule.AccountID,
		&rule.NetworkType,
		&rule.MinAmount,
		&rule.MaxAmount,
		&rule.Value,
		&rule.CreatedAt,
	)
}

// FindAccountChargeRule returns the account-scoped fee tier matching the
// network and amount, or nil when no tier matches.
func (r *PostgresRepository) FindAccountChargeRule(ctx context.Context, accountID uuid.UUID, network domain.NetworkType, amount int64) (*domain.ChargeRule, error) {
	var rule domain.ChargeRule
	query := `
		SELECT ` + chargeRuleColumns + `
		FROM charge_rules
		WHERE account_id = $1 AND network_type = $2 AND min_amount <= $3 AND max_amount >= $3
		LIMIT 1
	`
	if err := scanChargeRule(r.db.QueryRow(ctx, query, accountID, network, amount), &rule); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// FindGlobalChargeRule returns the global fee tier matching the network and
// amount, or nil when no tier matches.
func (r *PostgresRepository) FindGlobalChargeRule(ctx context.Context, network domain.NetworkType, amount int64) (*domain.ChargeRule, error) {
	var rule domain.ChargeRule
	query := `
		SELECT ` + chargeRuleColumns + `
		FROM charge_rules
		WHERE account_id IS NULL AND network_type = $1 AND min_amount <= $2 AND max_amount >= $2
		LIMIT 1
	`
	if err := scanChargeRule(r.db.QueryRow(ctx, query, network, amount), &rule); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// CountOverlappingChargeRules counts existing rules in the same scope whose
// amount range intersects [minAmount, maxAmount].
func (r *PostgresRepository) CountOverlappingChargeRules(ctx context.Context, accountID *uuid.UUID, network domain.NetworkType, minAmount, maxAmount int64) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM charge_rules
		WHERE network_type = $1
		  AND ((account_id IS NULL AND $2::uuid IS NULL) OR account_id = $2)
		  AND min_amount <= $4 AND max_amount >= $3
	`
	err := r.db.QueryRow(ctx, query, network, accountID, minAmount, maxAmount).Scan(&count)
	return count, err
}

// CreateChargeRule inserts a new fee tier.
func (r *PostgresRepository) CreateChargeRule(ctx context.Context, rule *domain.ChargeRule) error {
	query := `
		INSERT INTO charge_rules (id, account_id, network_type, min_amount, max_amount, value)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		rule.ID,
		rule.AccountID,
		rule.NetworkType,
		rule.MinAmount,
		rule.MaxAmount,
		rule.Value,
	).Scan(&rule.CreatedAt)
}

func scanTransaction(row pgx.Row, tx *domain.Transaction) error {
	return row.Scan(
		&tx.ID,
		&tx.AccountID,
		&tx.BeneficiaryID,
		&tx.NetworkType,
		&tx.GatewayName,
		&tx.Status,
		&tx.Amount,
		&tx.Charge,
		&tx.ReferenceID,
		&tx.WebsiteURL,
		&tx.GatewayTransactionID,
		&tx.UTR,
		&tx.FailureReason,
		&tx.PreviousBalance,
		&tx.ClosingBalance,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
}

// FindTransactionByID retrieves a transaction by its internal ID.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if err := scanTransaction(r.db.QueryRow(ctx, query, transactionID), &tx); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByReference retrieves a transaction by the caller-supplied
// idempotency reference, regardless of status.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, referenceID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference_id = $1`
	if err := scanTransaction(r.db.QueryRow(ctx, query, referenceID), &tx); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByWebsiteURL retrieves a transaction by the secondary
// caller-supplied dedupe token.
func (r *PostgresRepository) FindTransactionByWebsiteURL(ctx context.Context, websiteURL string) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE website_url = $1`
	if err := scanTransaction(r.db.QueryRow(ctx, query, websiteURL), &tx); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByGatewayTransactionID retrieves a transaction by the
// network-assigned id, used when applying webhook status events.
func (r *PostgresRepository) FindTransactionByGatewayTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE gateway_transaction_id = $1`
	if err := scanTransaction(r.db.QueryRow(ctx, query, gatewayTransactionID), &tx); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindLatestTransactionByAccountID returns the account's most recent
// transaction of any network and status, used by the cooldown check.
func (r *PostgresRepository) FindLatestTransactionByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := scanTransaction(r.db.QueryRow(ctx, query, accountID), &tx); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindTransactionsByAccountID lists an account's payout history, newest first.
func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1`
	args := []interface{}{accountID}
	if opts.Status != "" {
		query += ` AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, opts.Status, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := scanTransaction(rows, &tx); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ReservePayout is the single synchronization point of the settlement
// pipeline. Inside one database transaction it locks the account row,
// verifies the balance covers amount+charge, debits the wallet and inserts
// the PENDING transaction with balance snapshots. Concurrent payouts against
// the same account serialize on the row lock, so the wallet can never go
// negative.
func (r *PostgresRepository) ReservePayout(ctx context.Context, payout *domain.Transaction) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	totalDebit := payout.TotalDebit()

	var balance int64
	err = dbTx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", payout.AccountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	if balance < totalDebit {
		return ErrInsufficientFunds
	}

	_, err = dbTx.Exec(ctx, "UPDATE accounts SET balance = balance - $1, updated_at = NOW() WHERE id = $2", totalDebit, payout.AccountID)
	if err != nil {
		return err
	}

	payout.Status = domain.StatusPending
	payout.PreviousBalance = balance
	payout.ClosingBalance = balance - totalDebit

	insert := `
		INSERT INTO transactions (
			id, account_id, beneficiary_id, network_type, gateway_name, status,
			amount, charge, reference_id, website_url, previous_balance, closing_balance
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err = dbTx.QueryRow(ctx, insert,
		payout.ID,
		payout.AccountID,
		payout.BeneficiaryID,
		payout.NetworkType,
		payout.GatewayName,
		payout.Status,
		payout.Amount,
		payout.Charge,
		payout.ReferenceID,
		payout.WebsiteURL,
		payout.PreviousBalance,
		payout.ClosingBalance,
	).Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		// The unique constraints on reference_id and website_url close the race
		// between the guard's read-only check and the insert.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}

	return dbTx.Commit(ctx)
}

// MarkTransactionCompleted records the terminal success state and gateway references.
func (r *PostgresRepository) MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID, utr string) error {
	query := `
		UPDATE transactions
		SET status = 'completed',
		    gateway_transaction_id = COALESCE(NULLIF($2, ''), gateway_transaction_id),
		    utr = COALESCE(NULLIF($3, ''), utr),
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, transactionID, gatewayTransactionID, utr)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// UpdateTransactionPending stores the gateway reference while the payout
// remains in flight at the provider.
func (r *PostgresRepository) UpdateTransactionPending(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID string) error {
	query := `
		UPDATE transactions
		SET gateway_transaction_id = COALESCE(NULLIF($2, ''), gateway_transaction_id),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	_, err := r.db.Exec(ctx, query, transactionID, gatewayTransactionID)
	return err
}

// RevertPayout moves a PENDING transaction to FAILED and credits amount+charge
// back to the wallet in one database transaction. The status predicate on the
// update makes the credit fire at most once no matter how many times the
// reversal is attempted.
func (r *PostgresRepository) RevertPayout(ctx context.Context, transactionID uuid.UUID, reason string) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	var accountID uuid.UUID
	var totalDebit int64
	query := `
		UPDATE transactions
		SET status = 'failed',
		    failure_reason = COALESCE(NULLIF($2, ''), failure_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING account_id, amount + charge
	`
	err = dbTx.QueryRow(ctx, query, transactionID, reason).Scan(&accountID, &totalDebit)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Already terminal; nothing to reverse.
			return false, nil
		}
		return false, err
	}

	_, err = dbTx.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2", totalDebit, accountID)
	if err != nil {
		return false, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListStalePendingTransactions returns PENDING transactions created before
// the cutoff, oldest first, for the reconciliation poller.
func (r *PostgresRepository) ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := scanTransaction(rows, &tx); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// FindBalanceRequestByID retrieves a wallet top-up request.
func (r *PostgresRepository) FindBalanceRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BalanceRequest, error) {
	var req domain.BalanceRequest
	query := `SELECT id, account_id, amount, status, created_at, updated_at FROM balance_requests WHERE id = $1`
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&req.ID,
		&req.AccountID,
		&req.Amount,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBalanceRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ApproveBalanceRequest flips a pending request to approved and credits the
// wallet in one database transaction. The status predicate guarantees the
// credit happens exactly once even under concurrent approvals.
func (r *PostgresRepository) ApproveBalanceRequest(ctx context.Context, requestID uuid.UUID) (bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback(ctx)

	var accountID uuid.UUID
	var amount int64
	query := `
		UPDATE balance_requests
		SET status = 'approved', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING account_id, amount
	`
	err = dbTx.QueryRow(ctx, query, requestID).Scan(&accountID, &amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	_, err = dbTx.Exec(ctx, "UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2", amount, accountID)
	if err != nil {
		return false, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
