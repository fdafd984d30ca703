package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/store"
)

// ErrCooldownActive is returned when an account submits a payout before the
// inter-transaction cooldown window has elapsed.
var ErrCooldownActive = errors.New("another transaction was submitted too recently")

// IdempotencyGuard performs the read-only admission checks that run before
// any payout reservation: duplicate detection on both caller-supplied dedupe
// tokens, and the per-account cooldown. It never mutates state; the unique
// constraints enforced at reservation time close the check-then-insert race.
type IdempotencyGuard struct {
	repo     store.Repository
	cooldown time.Duration
	now      func() time.Time
}

// NewIdempotencyGuard creates a guard with the given cooldown window.
func NewIdempotencyGuard(repo store.Repository, cooldown time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{
		repo:     repo,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// CheckReference rejects the submission when any transaction, in any status,
// already carries the caller's reference id.
func (g *IdempotencyGuard) CheckReference(ctx context.Context, referenceID string) error {
	_, err := g.repo.FindTransactionByReference(ctx, referenceID)
	if err == nil {
		return store.ErrDuplicateReference
	}
	if errors.Is(err, store.ErrTransactionNotFound) {
		return nil
	}
	return fmt.Errorf("reference lookup: %w", err)
}

// CheckWebsiteURL rejects the submission when the secondary caller-supplied
// dedupe token has already been used. An empty token passes.
func (g *IdempotencyGuard) CheckWebsiteURL(ctx context.Context, websiteURL string) error {
	if strings.TrimSpace(websiteURL) == "" {
		return nil
	}
	_, err := g.repo.FindTransactionByWebsiteURL(ctx, websiteURL)
	if err == nil {
		return store.ErrDuplicateReference
	}
	if errors.Is(err, store.ErrTransactionNotFound) {
		return nil
	}
	return fmt.Errorf("website url lookup: %w", err)
}

// CheckCooldown rejects the submission when the account's most recent
// transaction (any network, any status) is younger than the cooldown window.
// A single recent transaction resets the clock; this is a fat-finger guard,
// not a sliding-window rate limiter.
func (g *IdempotencyGuard) CheckCooldown(ctx context.Context, accountID uuid.UUID) error {
	if g.cooldown <= 0 {
		return nil
	}
	latest, err := g.repo.FindLatestTransactionByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil
		}
		return fmt.Errorf("latest transaction lookup: %w", err)
	}
	if g.now().Sub(latest.CreatedAt) < g.cooldown {
		return ErrCooldownActive
	}
	return nil
}
