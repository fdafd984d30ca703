package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a user's wallet. Balance is mutated only by the payout
// reservation/revert paths and by admin balance-request approval.
type Account struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Balance    int64     `json:"balance"` // in paise
	IsDisabled bool      `json:"is_disabled"`

	// Per-network permission flags.
	IMPSEnabled bool `json:"imps_enabled"`
	NEFTEnabled bool `json:"neft_enabled"`
	UPIEnabled  bool `json:"upi_enabled"`
	DMTEnabled  bool `json:"dmt_enabled"`

	// Per-gateway sub-flags. A payout requires both the network flag and the
	// flag of the gateway it is routed through.
	AeronpayEnabled bool `json:"aeronpay_enabled"`
	SevapayEnabled  bool `json:"sevapay_enabled"`
	KatlaEnabled    bool `json:"katla_enabled"`
	P2IEnabled      bool `json:"p2i_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NetworkEnabled reports whether the account may send over the given rail.
func (a *Account) NetworkEnabled(n NetworkType) bool {
	switch n {
	case NetworkIMPS:
		return a.IMPSEnabled
	case NetworkNEFT:
		return a.NEFTEnabled
	case NetworkUPI:
		return a.UPIEnabled
	case NetworkDMT:
		return a.DMTEnabled
	}
	return false
}

// GatewayEnabled reports whether the account may route through the named gateway.
func (a *Account) GatewayEnabled(gateway string) bool {
	switch gateway {
	case "aeronpay":
		return a.AeronpayEnabled
	case "sevapay":
		return a.SevapayEnabled
	case "katla":
		return a.KatlaEnabled
	case "p2i":
		return a.P2IEnabled
	}
	return false
}

// BeneficiaryKind tags the variant of a beneficiary destination.
type BeneficiaryKind string

const (
	BeneficiaryBank BeneficiaryKind = "bank"
	BeneficiaryUPI  BeneficiaryKind = "upi"
	BeneficiaryDMT  BeneficiaryKind = "dmt"
)

// Beneficiary is a payee known to an account. It is a single sum type over
// the bank/upi/dmt variants: bank and dmt destinations carry an account
// number and IFSC, upi destinations carry a VPA.
type Beneficiary struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Kind          BeneficiaryKind `json:"kind"`
	Name          string          `json:"name"`
	AccountNumber string          `json:"account_number,omitempty"`
	IFSC          string          `json:"ifsc,omitempty"`
	VPA           string          `json:"vpa,omitempty"`
	IsVerified    bool            `json:"is_verified"`
	CreatedAt     time.Time       `json:"created_at"`
}

// KindForNetwork maps a payout rail to the beneficiary variant it requires.
func KindForNetwork(n NetworkType) BeneficiaryKind {
	switch n {
	case NetworkUPI:
		return BeneficiaryUPI
	case NetworkDMT:
		return BeneficiaryDMT
	default:
		return BeneficiaryBank
	}
}

// ChargeRule is a fee tier for a payout rail. AccountID scopes the rule to a
// single account; a nil AccountID makes the rule global. Account-scoped rule
// values are percentages of the payout amount, global rule values are flat
// fees in paise. The asymmetry is deliberate and must be preserved.
type ChargeRule struct {
	ID          uuid.UUID   `json:"id"`
	AccountID   *uuid.UUID  `json:"account_id,omitempty"`
	NetworkType NetworkType `json:"network_type"`
	MinAmount   int64       `json:"min_amount"` // in paise, inclusive
	MaxAmount   int64       `json:"max_amount"` // in paise, inclusive
	Value       float64     `json:"value"`
	CreatedAt   time.Time   `json:"created_at"`
}

// BalanceRequestStatus is the lifecycle state of a wallet top-up request.
type BalanceRequestStatus string

const (
	BalanceRequestPending  BalanceRequestStatus = "pending"
	BalanceRequestApproved BalanceRequestStatus = "approved"
	BalanceRequestRejected BalanceRequestStatus = "rejected"
)

// BalanceRequest is a user-submitted wallet top-up awaiting admin approval.
// Approval credits the wallet atomically, exactly once.
type BalanceRequest struct {
	ID        uuid.UUID            `json:"id"`
	AccountID uuid.UUID            `json:"account_id"`
	Amount    int64                `json:"amount"` // in paise
	Status    BalanceRequestStatus `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// CreateChargeRulePayload defines the admin request for adding a fee tier.
type CreateChargeRulePayload struct {
	AccountID   *uuid.UUID  `json:"account_id,omitempty"`
	NetworkType NetworkType `json:"network_type"`
	MinAmount   int64       `json:"min_amount"`
	MaxAmount   int64       `json:"max_amount"`
	Value       float64     `json:"value"`
}
