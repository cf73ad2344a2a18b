// workers/reconciliation_worker.go
package workers

import (
	"context"
	"errors"
	"log"
	"math/big"
	"time"

	"dare-settlement-system/chain"
	"dare-settlement-system/models"
	"dare-settlement-system/services"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Tuning defaults. MinAge keeps the worker from racing a transaction that is
// still propagating; MaxPerRun bounds ledger writes per tick so one run
// cannot monopolize gas budget.
const (
	DefaultInterval   = 3 * time.Minute
	DefaultMinAge     = 5 * time.Minute
	DefaultMaxPerRun  = 25
	DefaultMaxRetries = 8
)

// Operator gas floor: below this the worker skips settlement attempts and
// logs, rather than burning the last reserve on transactions that may land
// anyway.
var defaultMinGasReserve = big.NewInt(10_000_000_000_000_000) // 0.01 ether

// ReconciliationWorker is the scheduled repair loop. Stateless between runs:
// selection is always "outstanding and old enough", so an aborted batch is
// simply re-selected next tick. Runs single-flight — overlapping runs would
// risk double-submitting the same settlement transaction.
type ReconciliationWorker struct {
	db       *gorm.DB
	bounties *services.BountyService
	ledger   chain.Ledger

	Interval      time.Duration
	MinAge        time.Duration
	MaxPerRun     int
	MaxRetries    int
	MinGasReserve *big.Int

	nowFn func() time.Time
}

func NewReconciliationWorker(db *gorm.DB, bounties *services.BountyService, ledger chain.Ledger) *ReconciliationWorker {
	return &ReconciliationWorker{
		db:            db,
		bounties:      bounties,
		ledger:        ledger,
		Interval:      DefaultInterval,
		MinAge:        DefaultMinAge,
		MaxPerRun:     DefaultMaxPerRun,
		MaxRetries:    DefaultMaxRetries,
		MinGasReserve: defaultMinGasReserve,
		nowFn:         time.Now,
	}
}

// Start schedules the loop. Singleton mode: a tick that fires while the
// previous run is still working is rescheduled, never overlapped.
func (w *ReconciliationWorker) Start(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.Interval),
		gocron.NewTask(func() {
			w.RunOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Printf("🔁 Reconciliation worker scheduled (every %s, max %d per run)", w.Interval, w.MaxPerRun)
	return sched, nil
}

// RunOnce performs a single reconciliation pass: stuck settlements first,
// then the binding-decay batch flip (independent of settlement, on its own
// cutoff).
func (w *ReconciliationWorker) RunOnce(ctx context.Context) {
	processed := w.sweepOutstanding(ctx)
	if processed > 0 {
		log.Printf("[Reconciler] Processed %d outstanding bounty(ies)", processed)
	}

	flipped, err := w.DecayBindings()
	if err != nil {
		log.Printf("[Reconciler] Binding decay pass failed: %v", err)
	} else if flipped > 0 {
		log.Printf("[Reconciler] Unbound %d stale scout binding(s)", flipped)
	}
}

// sweepOutstanding selects bounties whose status indicates an on-chain
// action is outstanding and whose age clears MinAge, bounded to MaxPerRun,
// and re-drives each through the same idempotent settlement paths as the
// interactive handlers.
func (w *ReconciliationWorker) sweepOutstanding(ctx context.Context) int {
	now := w.nowFn().UTC()
	ageCutoff := now.Add(-w.MinAge)

	var candidates []models.Bounty
	err := w.db.
		Where(
			w.db.Where("status = ? AND oracle_approved = ? AND updated_at < ?",
				models.BountyStatusPendingReview, true, ageCutoff).
				Or("status = ? AND refunded_at IS NULL AND tx_hash IS NOT NULL AND updated_at < ?",
					models.BountyStatusFailed, ageCutoff).
				Or("status IN ? AND expires_at < ?",
					[]models.BountyStatus{models.BountyStatusPending, models.BountyStatusPendingReview}, now).
				Or("status = ? AND claim_deadline < ?",
					models.BountyStatusAwaitingClaim, now),
		).
		Order("updated_at ASC").
		Limit(w.MaxPerRun).
		Find(&candidates).Error
	if err != nil {
		log.Printf("[Reconciler] DB error selecting candidates: %v", err)
		return 0
	}
	if len(candidates) == 0 {
		return 0
	}

	processed := 0
	for i := range candidates {
		// Abort the remaining batch on shutdown; in-flight calls finish on
		// their own timeouts and the selection re-finds the rest next run.
		select {
		case <-ctx.Done():
			log.Printf("[Reconciler] Pass aborted with %d candidate(s) remaining", len(candidates)-i)
			return processed
		default:
		}

		w.reconcile(ctx, &candidates[i])
		processed++
	}
	return processed
}

func (w *ReconciliationWorker) reconcile(ctx context.Context, bounty *models.Bounty) {
	now := w.nowFn().UTC()

	switch {
	case bounty.Status == models.BountyStatusPendingReview && bounty.OracleApproved != nil && *bounty.OracleApproved:
		if bounty.RetryCount >= w.MaxRetries {
			log.Printf("[Reconciler] Bounty %s exhausted its retry budget (%d) — failing", bounty.ID, bounty.RetryCount)
			if err := w.bounties.FailAndRefund(ctx, bounty.ID, "settlement retry budget exhausted"); err != nil && !errors.Is(err, services.ErrNothingToSettle) {
				log.Printf("[Reconciler] Failed to terminal-state bounty %s: %v", bounty.ID, err)
			}
			return
		}
		if !w.checkPrerequisites(ctx) {
			log.Printf("[Reconciler] Skipping bounty %s: ledger prerequisites not met", bounty.ID)
			return
		}
		w.bumpRetry(bounty.ID)
		if err := w.bounties.Settle(ctx, bounty.ID); err != nil && !errors.Is(err, services.ErrNothingToSettle) {
			log.Printf("[Reconciler] Settlement retry for bounty %s failed: %v", bounty.ID, err)
		}

	case bounty.Status == models.BountyStatusFailed:
		if !w.checkPrerequisites(ctx) {
			log.Printf("[Reconciler] Skipping refund for bounty %s: ledger prerequisites not met", bounty.ID)
			return
		}
		if err := w.bounties.FailAndRefund(ctx, bounty.ID, bounty.FailReason); err != nil && !errors.Is(err, services.ErrNothingToSettle) {
			log.Printf("[Reconciler] Refund retry for bounty %s failed: %v", bounty.ID, err)
		}

	case bounty.Status == models.BountyStatusAwaitingClaim && bounty.ClaimDeadline != nil && bounty.ClaimDeadline.Before(now):
		if err := w.bounties.FailAndRefund(ctx, bounty.ID, "claim deadline expired"); err != nil && !errors.Is(err, services.ErrNothingToSettle) {
			log.Printf("[Reconciler] Claim expiry for bounty %s failed: %v", bounty.ID, err)
		}

	case bounty.ExpiresAt.Before(now):
		if err := w.bounties.FailAndRefund(ctx, bounty.ID, "bounty expired"); err != nil && !errors.Is(err, services.ErrNothingToSettle) {
			log.Printf("[Reconciler] Expiry for bounty %s failed: %v", bounty.ID, err)
		}
	}
}

// checkPrerequisites verifies ledger-side requirements before each ledger
// write: the escrow contract holds funds at all and the operator retains a
// gas reserve. Re-read per candidate so a reserve drained mid-batch stops
// further attempts immediately. A failed read skips the candidate rather
// than erroring the run — the next tick re-checks.
func (w *ReconciliationWorker) checkPrerequisites(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	escrowBalance, err := w.ledger.EscrowBalance(callCtx)
	if err != nil {
		log.Printf("[Reconciler] Could not read escrow balance: %v", err)
		return false
	}
	if escrowBalance.Sign() == 0 {
		log.Printf("[Reconciler] Escrow contract holds no funds — skipping settlements this run")
		return false
	}

	gasBalance, err := w.ledger.OperatorGasBalance(callCtx)
	if err != nil {
		log.Printf("[Reconciler] Could not read operator gas balance: %v", err)
		return false
	}
	if gasBalance.Cmp(w.MinGasReserve) < 0 {
		log.Printf("[Reconciler] Operator gas reserve below floor (%s < %s) — skipping settlements this run",
			gasBalance, w.MinGasReserve)
		return false
	}
	return true
}

func (w *ReconciliationWorker) bumpRetry(bountyID string) {
	if err := w.db.Model(&models.Bounty{}).
		Where("id = ?", bountyID).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error; err != nil {
		log.Printf("[Reconciler] Failed to bump retry count for bounty %s: %v", bountyID, err)
	}
}

// DecayBindings flips every bound scout-creator binding whose last activity
// is older than the decay cutoff to unbound, in one atomic batch. No
// per-request code path unbinds opportunistically; this is the only writer.
func (w *ReconciliationWorker) DecayBindings() (int64, error) {
	now := w.nowFn().UTC()
	cutoff := now.AddDate(0, 0, -services.DefaultDecayDays)

	res := w.db.Model(&models.ScoutCreatorBinding{}).
		Where("binding_status = ? AND last_active_at < ?", models.BindingStatusBound, cutoff).
		Updates(map[string]interface{}{
			"binding_status": models.BindingStatusUnbound,
			"unbound_at":     now,
		})
	return res.RowsAffected, res.Error
}
