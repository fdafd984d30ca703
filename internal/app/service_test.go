package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/domain"
	"github.com/wepaysam/payout-service/internal/store"
	"github.com/wepaysam/payout-service/pkg/gateway"
)

type serviceRepoStub struct {
	store.Repository

	account     *domain.Account
	beneficiary *domain.Beneficiary
	vpaMatch    *domain.Beneficiary
	accountRule *domain.ChargeRule
	globalRule  *domain.ChargeRule

	reserveErr error

	reservedTx        *domain.Transaction
	createdBene       *domain.Beneficiary
	markCompletedArgs []string
	pendingGatewayID  string
	revertedID        uuid.UUID
	revertReason      string
	revertCalled      bool
}

func (s *serviceRepoStub) FindTransactionByReference(ctx context.Context, referenceID string) (*domain.Transaction, error) {
	return nil, store.ErrTransactionNotFound
}

func (s *serviceRepoStub) FindTransactionByWebsiteURL(ctx context.Context, websiteURL string) (*domain.Transaction, error) {
	return nil, store.ErrTransactionNotFound
}

func (s *serviceRepoStub) FindLatestTransactionByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.Transaction, error) {
	return nil, store.ErrTransactionNotFound
}

func (s *serviceRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if s.account == nil {
		return nil, store.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *serviceRepoStub) FindBeneficiaryByID(ctx context.Context, beneficiaryID, accountID uuid.UUID) (*domain.Beneficiary, error) {
	if s.beneficiary == nil {
		return nil, store.ErrBeneficiaryNotFound
	}
	return s.beneficiary, nil
}

func (s *serviceRepoStub) FindBeneficiaryByVPA(ctx context.Context, accountID uuid.UUID, vpa string) (*domain.Beneficiary, error) {
	if s.vpaMatch == nil {
		return nil, store.ErrBeneficiaryNotFound
	}
	return s.vpaMatch, nil
}

func (s *serviceRepoStub) CreateBeneficiary(ctx context.Context, beneficiary *domain.Beneficiary) error {
	s.createdBene = beneficiary
	return nil
}

func (s *serviceRepoStub) FindAccountChargeRule(ctx context.Context, accountID uuid.UUID, network domain.NetworkType, amount int64) (*domain.ChargeRule, error) {
	return s.accountRule, nil
}

func (s *serviceRepoStub) FindGlobalChargeRule(ctx context.Context, network domain.NetworkType, amount int64) (*domain.ChargeRule, error) {
	return s.globalRule, nil
}

func (s *serviceRepoStub) ReservePayout(ctx context.Context, tx *domain.Transaction) error {
	if s.reserveErr != nil {
		return s.reserveErr
	}
	s.reservedTx = tx
	return nil
}

func (s *serviceRepoStub) MarkTransactionCompleted(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID, utr string) error {
	s.markCompletedArgs = []string{transactionID.String(), gatewayTransactionID, utr}
	return nil
}

func (s *serviceRepoStub) UpdateTransactionPending(ctx context.Context, transactionID uuid.UUID, gatewayTransactionID string) error {
	s.pendingGatewayID = gatewayTransactionID
	return nil
}

func (s *serviceRepoStub) RevertPayout(ctx context.Context, transactionID uuid.UUID, reason string) (bool, error) {
	s.revertCalled = true
	s.revertedID = transactionID
	s.revertReason = reason
	return true, nil
}

// fakeGateway is a configurable PayoutGateway for orchestration tests.
type fakeGateway struct {
	name       string
	result     *gateway.NormalizedPayoutResult
	err        error
	payoutReqs []gateway.NormalizedPayoutRequest
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) Payout(ctx context.Context, req gateway.NormalizedPayoutRequest) (*gateway.NormalizedPayoutResult, error) {
	f.payoutReqs = append(f.payoutReqs, req)
	return f.result, f.err
}

func (f *fakeGateway) CheckStatus(ctx context.Context, referenceID string) (*gateway.NormalizedPayoutResult, error) {
	return f.result, f.err
}

func enabledAccount() *domain.Account {
	return &domain.Account{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Balance:         1_000_000,
		IMPSEnabled:     true,
		NEFTEnabled:     true,
		UPIEnabled:      true,
		DMTEnabled:      true,
		AeronpayEnabled: true,
		SevapayEnabled:  true,
		KatlaEnabled:    true,
		P2IEnabled:      true,
	}
}

func newTestService(repo *serviceRepoStub, gw gateway.PayoutGateway) *Service {
	return NewService(
		repo,
		gateway.NewRegistry(gw),
		NewIdempotencyGuard(repo, 10*time.Second),
		NewChargeResolver(repo),
		nil,
		time.Second,
	)
}

func bankPayoutRequest(beneficiaryID uuid.UUID) domain.PayoutRequest {
	return domain.PayoutRequest{
		BeneficiaryID: &beneficiaryID,
		Amount:        10000,
		NetworkType:   domain.NetworkIMPS,
		Gateway:       "sevapay",
		ReferenceID:   "ref-123",
		Remark:        "vendor settlement",
	}
}

func TestSubmitPayout_SuccessSettlesAndCompletes(t *testing.T) {
	account := enabledAccount()
	beneficiary := &domain.Beneficiary{
		ID:            uuid.New(),
		AccountID:     account.ID,
		Kind:          domain.BeneficiaryBank,
		Name:          "Asha Traders",
		AccountNumber: "1234567890",
		IFSC:          "HDFC0001234",
		IsVerified:    true,
	}
	percent := 1.0
	repo := &serviceRepoStub{
		account:     account,
		beneficiary: beneficiary,
		accountRule: &domain.ChargeRule{AccountID: &account.ID, Value: percent},
	}
	gw := &fakeGateway{
		name: "sevapay",
		result: &gateway.NormalizedPayoutResult{
			Outcome:              gateway.OutcomeSuccess,
			GatewayTransactionID: "SEVA-9",
			UTR:                  "UTR123",
			RawMessage:           "Transaction successful",
		},
	}
	svc := newTestService(repo, gw)

	result, err := svc.SubmitPayout(context.Background(), account.ID, bankPayoutRequest(beneficiary.ID))
	if err != nil {
		t.Fatalf("SubmitPayout returned error: %v", err)
	}
	if result.Transaction.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", result.Transaction.Status)
	}
	if repo.reservedTx == nil {
		t.Fatal("expected reservation to have been made")
	}
	if repo.reservedTx.Charge != 100 {
		t.Fatalf("expected 1%% charge of 100 paise, got %d", repo.reservedTx.Charge)
	}
	if repo.reservedTx.TotalDebit() != 10100 {
		t.Fatalf("expected total debit of 10100, got %d", repo.reservedTx.TotalDebit())
	}
	if len(gw.payoutReqs) != 1 {
		t.Fatalf("expected exactly one gateway call, got %d", len(gw.payoutReqs))
	}
	if gw.payoutReqs[0].Amount != 10000 {
		t.Fatalf("gateway must receive the principal only, got %d", gw.payoutReqs[0].Amount)
	}
	if len(repo.markCompletedArgs) == 0 || repo.markCompletedArgs[2] != "UTR123" {
		t.Fatalf("expected completion with UTR123, got %v", repo.markCompletedArgs)
	}
	if repo.revertCalled {
		t.Fatal("revert must not run on a successful settlement")
	}
}

func TestSubmitPayout_InsufficientFundsNeverCallsGateway(t *testing.T) {
	account := enabledAccount()
	beneficiary := &domain.Beneficiary{
		ID: uuid.New(), AccountID: account.ID, Kind: domain.BeneficiaryBank, IsVerified: true,
	}
	repo := &serviceRepoStub{
		account:     account,
		beneficiary: beneficiary,
		reserveErr:  store.ErrInsufficientFunds,
	}
	gw := &fakeGateway{name: "sevapay"}
	svc := newTestService(repo, gw)

	_, err := svc.SubmitPayout(context.Background(), account.ID, bankPayoutRequest(beneficiary.ID))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(gw.payoutReqs) != 0 {
		t.Fatal("gateway must not be called when the reservation fails")
	}
}

func TestSubmitPayout_GatewayRejectionRevertsReservation(t *testing.T) {
	account := enabledAccount()
	beneficiary := &domain.Beneficiary{
		ID: uuid.New(), AccountID: account.ID, Kind: domain.BeneficiaryBank, IsVerified: true,
	}
	repo := &serviceRepoStub{account: account, beneficiary: beneficiary}
	gw := &fakeGateway{
		name: "sevapay",
		result: &gateway.NormalizedPayoutResult{
			Outcome:    gateway.OutcomeFailed,
			RawMessage: "Beneficiary bank unreachable",
		},
	}
	svc := newTestService(repo, gw)

	result, err := svc.SubmitPayout(context.Background(), account.ID, bankPayoutRequest(beneficiary.ID))
	if !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}
	if !repo.revertCalled {
		t.Fatal("expected reservation to be reverted after gateway rejection")
	}
	if repo.revertReason != "Beneficiary bank unreachable" {
		t.Fatalf("expected provider message as revert reason, got %q", repo.revertReason)
	}
	if result == nil || result.Transaction.Status != domain.StatusFailed {
		t.Fatal("expected the failed transaction in the result")
	}
	if result.GatewayMessage != "Beneficiary bank unreachable" {
		t.Fatalf("expected provider message surfaced to caller, got %q", result.GatewayMessage)
	}
}

func TestSubmitPayout_TransportErrorTreatedAsFailure(t *testing.T) {
	account := enabledAccount()
	beneficiary := &domain.Beneficiary{
		ID: uuid.New(), AccountID: account.ID, Kind: domain.BeneficiaryBank, IsVerified: true,
	}
	repo := &serviceRepoStub{account: account, beneficiary: beneficiary}
	gw := &fakeGateway{name: "sevapay", err: errors.New("dial tcp: i/o timeout")}
	svc := newTestService(repo, gw)

	_, err := svc.SubmitPayout(context.Background(), account.ID, bankPayoutRequest(beneficiary.ID))
	if !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure on transport error, got %v", err)
	}
	if !repo.revertCalled {
		t.Fatal("expected reservation to be reverted after transport error")
	}
}

func TestSubmitPayout_PendingOutcomeKeepsReservation(t *testing.T) {
	account := enabledAccount()
	beneficiary := &domain.Beneficiary{
		ID: uuid.New(), AccountID: account.ID, Kind: domain.BeneficiaryBank, IsVerified: true,
	}
	repo := &serviceRepoStub{account: account, beneficiary: beneficiary}
	gw := &fakeGateway{
		name: "sevapay",
		result: &gateway.NormalizedPayoutResult{
			Outcome:              gateway.OutcomePending,
			GatewayTransactionID: "SEVA-PEND-1",
			RawMessage:           "Transaction queued",
		},
	}
	svc := newTestService(repo, gw)

	result, err := svc.SubmitPayout(context.Background(), account.ID, bankPayoutRequest(beneficiary.ID))
	if err != nil {
		t.Fatalf("SubmitPayout returned error: %v", err)
	}
	if result.Transaction.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", result.Transaction.Status)
	}
	if repo.pendingGatewayID != "SEVA-PEND-1" {
		t.Fatalf("expected gateway transaction id attached, got %q", repo.pendingGatewayID)
	}
	if repo.revertCalled {
		t.Fatal("pending payouts must keep their reservation")
	}
}

func TestSubmitPayout_PermissionChecks(t *testing.T) {
	beneficiaryID := uuid.New()

	tests := []struct {
		name    string
		mutate  func(a *domain.Account)
		req     func(a *domain.Account) domain.PayoutRequest
		wantErr error
	}{
		{
			name:    "disabled account",
			mutate:  func(a *domain.Account) { a.IsDisabled = true },
			req:     func(a *domain.Account) domain.PayoutRequest { return bankPayoutRequest(beneficiaryID) },
			wantErr: ErrAccountDisabled,
		},
		{
			name:    "network flag disabled",
			mutate:  func(a *domain.Account) { a.IMPSEnabled = false },
			req:     func(a *domain.Account) domain.PayoutRequest { return bankPayoutRequest(beneficiaryID) },
			wantErr: ErrNetworkNotPermitted,
		},
		{
			name:    "gateway sub-flag disabled",
			mutate:  func(a *domain.Account) { a.SevapayEnabled = false },
			req:     func(a *domain.Account) domain.PayoutRequest { return bankPayoutRequest(beneficiaryID) },
			wantErr: ErrGatewayNotPermitted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := enabledAccount()
			tt.mutate(account)
			repo := &serviceRepoStub{
				account: account,
				beneficiary: &domain.Beneficiary{
					ID: beneficiaryID, AccountID: account.ID, Kind: domain.BeneficiaryBank, IsVerified: true,
				},
			}
			gw := &fakeGateway{name: "sevapay"}
			svc := newTestService(repo, gw)

			_, err := svc.SubmitPayout(context.Background(), account.ID, tt.req(account))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if repo.reservedTx != nil {
				t.Fatal("no reservation may happen when permission checks fail")
			}
			if len(gw.payoutReqs) != 0 {
				t.Fatal("gateway must not be called when permission checks fail")
			}
		})
	}
}

func TestSubmitPayout_ValidationErrors(t *testing.T) {
	account := enabledAccount()
	beneficiaryID := uuid.New()

	tests := []struct {
		name    string
		req     domain.PayoutRequest
		wantErr error
	}{
		{
			name: "zero amount",
			req: domain.PayoutRequest{
				BeneficiaryID: &beneficiaryID, Amount: 0,
				NetworkType: domain.NetworkIMPS, Gateway: "sevapay", ReferenceID: "r1",
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "negative amount",
			req: domain.PayoutRequest{
				BeneficiaryID: &beneficiaryID, Amount: -5,
				NetworkType: domain.NetworkIMPS, Gateway: "sevapay", ReferenceID: "r1",
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "unknown network",
			req: domain.PayoutRequest{
				BeneficiaryID: &beneficiaryID, Amount: 100,
				NetworkType: "RTGS", Gateway: "sevapay", ReferenceID: "r1",
			},
			wantErr: ErrInvalidNetwork,
		},
		{
			name: "missing reference",
			req: domain.PayoutRequest{
				BeneficiaryID: &beneficiaryID, Amount: 100,
				NetworkType: domain.NetworkIMPS, Gateway: "sevapay", ReferenceID: "  ",
			},
			wantErr: ErrMissingReference,
		},
		{
			name: "unknown gateway",
			req: domain.PayoutRequest{
				BeneficiaryID: &beneficiaryID, Amount: 100,
				NetworkType: domain.NetworkIMPS, Gateway: "cashfree", ReferenceID: "r1",
			},
			wantErr: ErrUnknownGateway,
		},
		{
			name: "gateway does not serve the network",
			req: domain.PayoutRequest{
				BeneficiaryID: &beneficiaryID, Amount: 100,
				NetworkType: domain.NetworkUPI, Gateway: "sevapay", ReferenceID: "r1",
			},
			wantErr: ErrNetworkNotSupported,
		},
		{
			name: "no beneficiary or vpa",
			req: domain.PayoutRequest{
				Amount:      100,
				NetworkType: domain.NetworkIMPS, Gateway: "sevapay", ReferenceID: "r1",
			},
			wantErr: ErrMissingBeneficiary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &serviceRepoStub{account: account}
			svc := newTestService(repo, &fakeGateway{name: "sevapay"})

			_, err := svc.SubmitPayout(context.Background(), account.ID, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSubmitPayout_UnverifiedBankBeneficiaryRejected(t *testing.T) {
	account := enabledAccount()
	beneficiary := &domain.Beneficiary{
		ID: uuid.New(), AccountID: account.ID, Kind: domain.BeneficiaryBank, IsVerified: false,
	}
	repo := &serviceRepoStub{account: account, beneficiary: beneficiary}
	svc := newTestService(repo, &fakeGateway{name: "sevapay"})

	_, err := svc.SubmitPayout(context.Background(), account.ID, bankPayoutRequest(beneficiary.ID))
	if !errors.Is(err, ErrBeneficiaryNotVerified) {
		t.Fatalf("expected ErrBeneficiaryNotVerified, got %v", err)
	}
}

func TestSubmitPayout_AdhocVPACreatesVerifiedBeneficiary(t *testing.T) {
	account := enabledAccount()
	repo := &serviceRepoStub{account: account}
	gw := &fakeGateway{
		name:   "aeronpay",
		result: &gateway.NormalizedPayoutResult{Outcome: gateway.OutcomeSuccess, UTR: "UTR-UPI-1"},
	}
	svc := newTestService(repo, gw)

	result, err := svc.SubmitPayout(context.Background(), account.ID, domain.PayoutRequest{
		VPA:             "asha@upi",
		BeneficiaryName: "Asha",
		Amount:          5000,
		NetworkType:     domain.NetworkUPI,
		Gateway:         "aeronpay",
		ReferenceID:     "ref-upi-1",
	})
	if err != nil {
		t.Fatalf("SubmitPayout returned error: %v", err)
	}
	if repo.createdBene == nil {
		t.Fatal("expected an ad-hoc UPI beneficiary to be saved")
	}
	if !repo.createdBene.IsVerified || repo.createdBene.Kind != domain.BeneficiaryUPI {
		t.Fatalf("expected a verified UPI beneficiary, got %+v", repo.createdBene)
	}
	if gw.payoutReqs[0].VPA != "asha@upi" {
		t.Fatalf("expected VPA forwarded to gateway, got %q", gw.payoutReqs[0].VPA)
	}
	if result.Transaction.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", result.Transaction.Status)
	}
}

func TestSubmitPayout_DuplicateReferenceRejectedBeforeReservation(t *testing.T) {
	account := enabledAccount()
	beneficiary := &domain.Beneficiary{
		ID: uuid.New(), AccountID: account.ID, Kind: domain.BeneficiaryBank, IsVerified: true,
	}
	repo := &duplicateRefRepoStub{serviceRepoStub: serviceRepoStub{account: account, beneficiary: beneficiary}}
	gw := &fakeGateway{name: "sevapay"}
	svc := newTestService(&repo.serviceRepoStub, gw)
	svc.guard = NewIdempotencyGuard(repo, 10*time.Second)

	_, err := svc.SubmitPayout(context.Background(), account.ID, bankPayoutRequest(beneficiary.ID))
	if !errors.Is(err, store.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
	if repo.reservedTx != nil {
		t.Fatal("duplicate submissions must not reach the reservation")
	}
	if len(gw.payoutReqs) != 0 {
		t.Fatal("gateway must not be called for a duplicate submission")
	}
}

type duplicateRefRepoStub struct {
	serviceRepoStub
}

func (s *duplicateRefRepoStub) FindTransactionByReference(ctx context.Context, referenceID string) (*domain.Transaction, error) {
	return &domain.Transaction{ID: uuid.New(), ReferenceID: referenceID}, nil
}
