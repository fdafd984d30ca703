package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/domain"
	"github.com/wepaysam/payout-service/internal/store"
)

type guardRepoStub struct {
	store.Repository

	byReference *domain.Transaction
	byWebsite   *domain.Transaction
	latest      *domain.Transaction
}

func (s *guardRepoStub) FindTransactionByReference(ctx context.Context, referenceID string) (*domain.Transaction, error) {
	if s.byReference == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.byReference, nil
}

func (s *guardRepoStub) FindTransactionByWebsiteURL(ctx context.Context, websiteURL string) (*domain.Transaction, error) {
	if s.byWebsite == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.byWebsite, nil
}

func (s *guardRepoStub) FindLatestTransactionByAccountID(ctx context.Context, accountID uuid.UUID) (*domain.Transaction, error) {
	if s.latest == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.latest, nil
}

func TestCheckReference_RejectsExistingReference(t *testing.T) {
	guard := NewIdempotencyGuard(&guardRepoStub{
		byReference: &domain.Transaction{ID: uuid.New(), Status: domain.StatusFailed},
	}, 10*time.Second)

	err := guard.CheckReference(context.Background(), "ref-001")
	if !errors.Is(err, store.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestCheckReference_FailedTransactionStillBlocksReference(t *testing.T) {
	// A reference is burned forever, even when the payout it named failed.
	guard := NewIdempotencyGuard(&guardRepoStub{
		byReference: &domain.Transaction{ID: uuid.New(), Status: domain.StatusFailed},
	}, 0)

	if err := guard.CheckReference(context.Background(), "ref-002"); !errors.Is(err, store.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference for failed transaction's reference, got %v", err)
	}
}

func TestCheckReference_AllowsUnknownReference(t *testing.T) {
	guard := NewIdempotencyGuard(&guardRepoStub{}, 10*time.Second)
	if err := guard.CheckReference(context.Background(), "ref-fresh"); err != nil {
		t.Fatalf("expected nil error for fresh reference, got %v", err)
	}
}

func TestCheckWebsiteURL_EmptyTokenPasses(t *testing.T) {
	guard := NewIdempotencyGuard(&guardRepoStub{
		byWebsite: &domain.Transaction{ID: uuid.New()},
	}, 10*time.Second)

	if err := guard.CheckWebsiteURL(context.Background(), "   "); err != nil {
		t.Fatalf("expected blank website url to pass, got %v", err)
	}
}

func TestCheckWebsiteURL_RejectsExistingToken(t *testing.T) {
	guard := NewIdempotencyGuard(&guardRepoStub{
		byWebsite: &domain.Transaction{ID: uuid.New()},
	}, 10*time.Second)

	err := guard.CheckWebsiteURL(context.Background(), "https://merchant.example/order/9")
	if !errors.Is(err, store.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestCheckCooldown_RejectsRecentTransaction(t *testing.T) {
	now := time.Now()
	guard := NewIdempotencyGuard(&guardRepoStub{
		latest: &domain.Transaction{ID: uuid.New(), CreatedAt: now.Add(-3 * time.Second)},
	}, 10*time.Second)
	guard.now = func() time.Time { return now }

	err := guard.CheckCooldown(context.Background(), uuid.New())
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
}

func TestCheckCooldown_AllowsAfterWindow(t *testing.T) {
	now := time.Now()
	guard := NewIdempotencyGuard(&guardRepoStub{
		latest: &domain.Transaction{ID: uuid.New(), CreatedAt: now.Add(-11 * time.Second)},
	}, 10*time.Second)
	guard.now = func() time.Time { return now }

	if err := guard.CheckCooldown(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected nil error after window elapsed, got %v", err)
	}
}

func TestCheckCooldown_NoHistoryPasses(t *testing.T) {
	guard := NewIdempotencyGuard(&guardRepoStub{}, 10*time.Second)
	if err := guard.CheckCooldown(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected nil error for account with no history, got %v", err)
	}
}

func TestCheckCooldown_DisabledWhenZero(t *testing.T) {
	now := time.Now()
	guard := NewIdempotencyGuard(&guardRepoStub{
		latest: &domain.Transaction{ID: uuid.New(), CreatedAt: now},
	}, 0)

	if err := guard.CheckCooldown(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected cooldown disabled with zero window, got %v", err)
	}
}
