/**
 * @description
 * Cron-driven sweep that reconciles payouts stuck in PENDING. Providers
 * occasionally drop their callback, so any transaction pending longer than
 * the staleness threshold gets polled against its gateway on a schedule.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wepaysam/payout-service/internal/domain"
	"github.com/wepaysam/payout-service/internal/store"
)

const (
	defaultStaleAfter = 5 * time.Minute
	pollerBatchSize   = 100
	pollerRunTimeout  = 2 * time.Minute
)

// PendingPoller periodically reconciles stale pending transactions.
type PendingPoller struct {
	repo       store.Repository
	reconciler *StatusReconciler
	cron       *cron.Cron
	schedule   string
	staleAfter time.Duration
}

// NewPendingPoller creates a poller. The schedule is a cron expression
// (e.g. "@every 2m"); staleAfter is how long a transaction must have been
// pending before it is swept.
func NewPendingPoller(repo store.Repository, reconciler *StatusReconciler, schedule string, staleAfter time.Duration) *PendingPoller {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &PendingPoller{
		repo:       repo,
		reconciler: reconciler,
		cron:       cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		schedule:   schedule,
		staleAfter: staleAfter,
	}
}

// Start registers the sweep job and starts the scheduler.
func (p *PendingPoller) Start() error {
	if _, err := p.cron.AddFunc(p.schedule, p.runOnce); err != nil {
		return err
	}
	p.cron.Start()
	log.Printf("poller: scheduled pending payout sweep (schedule=%q stale_after=%s)", p.schedule, p.staleAfter)
	return nil
}

// Stop stops the scheduler and returns a context that is done once any
// in-flight sweep has finished.
func (p *PendingPoller) Stop() context.Context {
	return p.cron.Stop()
}

func (p *PendingPoller) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), pollerRunTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-p.staleAfter)
	stale, err := p.repo.ListStalePendingTransactions(ctx, cutoff, pollerBatchSize)
	if err != nil {
		log.Printf("poller: failed to list stale pending transactions: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	var completed, failed, stillPending, errored int
	for _, txRecord := range stale {
		updated, err := p.reconciler.Reconcile(ctx, txRecord.ID)
		if err != nil {
			errored++
			log.Printf("poller: reconcile error for transaction %s: %v", txRecord.ID, err)
			continue
		}
		switch updated.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		default:
			stillPending++
		}
	}

	log.Printf("poller: sweep finished (candidates=%d completed=%d failed=%d still_pending=%d errors=%d)", len(stale), completed, failed, stillPending, errored)
}
