package app

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/wepaysam/payout-service/internal/domain"
	"github.com/wepaysam/payout-service/internal/store"
)

/**
 * @description
 * ChargeResolver computes the fee applied on top of a payout amount. Charge
 * rules live in the database and come in two tiers with different value
 * semantics:
 *
 *   - Account-scoped rules: the rule value is a PERCENTAGE of the payout
 *     amount (value 1.5 on a 10,000 paise payout yields a 150 paise charge).
 *   - Global rules: the rule value is a FLAT fee in paise.
 *
 * An account-scoped rule whose amount band matches always wins over a global
 * rule. When neither tier matches, the charge is zero.
 */

// ChargeResolver resolves the fee for a payout from the tiered rule tables.
type ChargeResolver struct {
	repo store.Repository
}

// NewChargeResolver creates a resolver backed by the given repository.
func NewChargeResolver(repo store.Repository) *ChargeResolver {
	return &ChargeResolver{repo: repo}
}

// Resolve returns the charge in paise for the given account, network and
// amount. The account tier is consulted first; its value is a percentage of
// the amount. The global tier is the fallback; its value is a flat fee.
func (c *ChargeResolver) Resolve(ctx context.Context, accountID uuid.UUID, network domain.NetworkType, amount int64) (int64, error) {
	rule, err := c.repo.FindAccountChargeRule(ctx, accountID, network, amount)
	if err != nil {
		return 0, fmt.Errorf("account charge rule lookup: %w", err)
	}
	if rule != nil {
		return int64(math.Round(rule.Value * float64(amount) / 100)), nil
	}

	rule, err = c.repo.FindGlobalChargeRule(ctx, network, amount)
	if err != nil {
		return 0, fmt.Errorf("global charge rule lookup: %w", err)
	}
	if rule != nil {
		return int64(math.Round(rule.Value)), nil
	}

	return 0, nil
}
