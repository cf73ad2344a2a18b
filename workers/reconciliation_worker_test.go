package workers

import (
	"context"
	"math/big"
	"testing"
	"time"

	"dare-settlement-system/chain"
	"dare-settlement-system/models"
	"dare-settlement-system/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeLedger struct {
	payoutCalls int
	refundCalls int

	escrowBalance *big.Int
	gasBalance    *big.Int

	// When set, the gas balance drops to dust after this many reads,
	// simulating a reserve drained while a batch is in flight.
	gasReads      int
	drainGasAfter int
}

func healthyLedger() *fakeLedger {
	return &fakeLedger{
		escrowBalance: big.NewInt(1_000_000),
		gasBalance:    new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)),
	}
}

func (f *fakeLedger) VerifyFunding(ctx context.Context, txHash string, expectedID, expectedAmount *big.Int) (*chain.FundingEvent, error) {
	return &chain.FundingEvent{BountyID: expectedID, Amount: expectedAmount, TxHash: txHash}, nil
}

func (f *fakeLedger) VerifyAndPayout(ctx context.Context, id *big.Int) (string, error) {
	f.payoutCalls++
	return "0xpayout", nil
}

func (f *fakeLedger) Refund(ctx context.Context, id *big.Int, backer common.Address) (string, error) {
	f.refundCalls++
	return "0xrefund", nil
}

func (f *fakeLedger) GetBounty(ctx context.Context, id *big.Int) (*chain.OnChainBounty, error) {
	return &chain.OnChainBounty{Amount: big.NewInt(1), State: chain.SlotStateFunded}, nil
}

func (f *fakeLedger) EscrowBalance(ctx context.Context) (*big.Int, error) {
	return f.escrowBalance, nil
}

func (f *fakeLedger) OperatorGasBalance(ctx context.Context) (*big.Int, error) {
	f.gasReads++
	if f.drainGasAfter > 0 && f.gasReads > f.drainGasAfter {
		return big.NewInt(1), nil
	}
	return f.gasBalance, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Bounty{},
		&models.CampaignSlot{},
		&models.ScoutStats{},
		&models.ScoutCreatorBinding{},
	))
	return db
}

func newTestWorker(t *testing.T, db *gorm.DB, ledger chain.Ledger) *ReconciliationWorker {
	t.Helper()
	svc := &services.BountyService{
		DB:                  db,
		Ledger:              ledger,
		Reputation:          services.NewReputationService(db),
		Notifier:            &services.Notifier{},
		PlatformReferrer:    "0x00000000000000000000000000000000000000ff",
		PlatformRakePercent: decimal.NewFromInt(5),
		ClaimWindow:         72 * time.Hour,
	}
	return NewReconciliationWorker(db, svc, ledger)
}

func seedBounty(t *testing.T, db *gorm.DB, status models.BountyStatus, age time.Duration, mutate func(*models.Bounty)) *models.Bounty {
	t.Helper()
	id := uuid.NewString()
	txHash := "0x" + id[:8]
	bounty := &models.Bounty{
		ID:        id,
		OnChainID: chain.DeriveBountyIDHex(id),
		Title:     "Test dare",
		CreatorID: "creator-1",
		Amount:    decimal.NewFromInt(100),
		Status:    status,
		TxHash:    &txHash,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if mutate != nil {
		mutate(bounty)
	}
	require.NoError(t, db.Create(bounty).Error)

	// Backdate past the worker's MinAge guard without touching auto-times.
	stale := time.Now().UTC().Add(-age)
	require.NoError(t, db.Model(&models.Bounty{}).
		Where("id = ?", bounty.ID).
		UpdateColumn("updated_at", stale).Error)
	return bounty
}

func boolPtr(b bool) *bool { return &b }

func TestSweepRetriesApprovedSettlements(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	w := newTestWorker(t, db, ledger)

	submitted := time.Now().UTC().Add(-time.Hour)
	bounty := seedBounty(t, db, models.BountyStatusPendingReview, 10*time.Minute, func(b *models.Bounty) {
		b.OracleApproved = boolPtr(true)
		b.ProofSubmittedAt = &submitted
	})

	w.RunOnce(context.Background())

	var got models.Bounty
	require.NoError(t, db.First(&got, "id = ?", bounty.ID).Error)
	assert.Equal(t, models.BountyStatusVerified, got.Status)
	assert.Equal(t, 1, ledger.payoutCalls)
	assert.Equal(t, 1, got.RetryCount)
}

func TestSweepIgnoresYoungRecords(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	w := newTestWorker(t, db, ledger)

	// One minute old: still inside MinAge, the interactive path may land yet.
	seedBounty(t, db, models.BountyStatusPendingReview, time.Minute, func(b *models.Bounty) {
		b.OracleApproved = boolPtr(true)
	})

	w.RunOnce(context.Background())
	assert.Equal(t, 0, ledger.payoutCalls)
}

func TestSweepBoundedPerRun(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	w := newTestWorker(t, db, ledger)
	w.MaxPerRun = 3

	for i := 0; i < 8; i++ {
		seedBounty(t, db, models.BountyStatusFailed, 10*time.Minute, func(b *models.Bounty) {
			b.FailReason = "oracle rejected proof"
		})
	}

	w.RunOnce(context.Background())
	assert.Equal(t, 3, ledger.refundCalls)

	// The rest are re-selected next run.
	w.RunOnce(context.Background())
	assert.Equal(t, 6, ledger.refundCalls)
}

func TestSweepExhaustedRetryBudgetFails(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	w := newTestWorker(t, db, ledger)

	bounty := seedBounty(t, db, models.BountyStatusPendingReview, 10*time.Minute, func(b *models.Bounty) {
		b.OracleApproved = boolPtr(true)
		b.RetryCount = DefaultMaxRetries
	})

	w.RunOnce(context.Background())

	var got models.Bounty
	require.NoError(t, db.First(&got, "id = ?", bounty.ID).Error)
	assert.Equal(t, models.BountyStatusFailed, got.Status)
	assert.Equal(t, "settlement retry budget exhausted", got.FailReason)
	assert.Equal(t, 0, ledger.payoutCalls)
	assert.Equal(t, 1, ledger.refundCalls)
}

func TestSweepSkipsSettlementsWithoutGasReserve(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	ledger.gasBalance = big.NewInt(1) // below the reserve floor
	w := newTestWorker(t, db, ledger)

	seedBounty(t, db, models.BountyStatusPendingReview, 10*time.Minute, func(b *models.Bounty) {
		b.OracleApproved = boolPtr(true)
	})

	w.RunOnce(context.Background())
	assert.Equal(t, 0, ledger.payoutCalls)
}

func TestSweepStopsWhenGasDrainsMidBatch(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	ledger.drainGasAfter = 1
	w := newTestWorker(t, db, ledger)

	submitted := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seedBounty(t, db, models.BountyStatusPendingReview, 10*time.Minute, func(b *models.Bounty) {
			b.OracleApproved = boolPtr(true)
			b.ProofSubmittedAt = &submitted
		})
	}

	// Prerequisites are re-read per candidate: the first attempt sees a
	// healthy reserve, the drain stops the remaining two in the same run.
	w.RunOnce(context.Background())
	assert.Equal(t, 1, ledger.payoutCalls)

	var settled int64
	require.NoError(t, db.Model(&models.Bounty{}).
		Where("status = ?", models.BountyStatusVerified).
		Count(&settled).Error)
	assert.Equal(t, int64(1), settled)
}

func TestSweepExpiresClaimDeadline(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	w := newTestWorker(t, db, ledger)

	deadline := time.Now().UTC().Add(-time.Hour)
	bounty := seedBounty(t, db, models.BountyStatusAwaitingClaim, 10*time.Minute, func(b *models.Bounty) {
		b.Open = true
		b.ClaimDeadline = &deadline
	})

	w.RunOnce(context.Background())

	var got models.Bounty
	require.NoError(t, db.First(&got, "id = ?", bounty.ID).Error)
	assert.Equal(t, models.BountyStatusFailed, got.Status)
	assert.Equal(t, "claim deadline expired", got.FailReason)
	assert.NotNil(t, got.RefundedAt)
}

func TestSweepExpiresOverdueBounties(t *testing.T) {
	db := newTestDB(t)
	ledger := healthyLedger()
	w := newTestWorker(t, db, ledger)

	bounty := seedBounty(t, db, models.BountyStatusPending, 10*time.Minute, func(b *models.Bounty) {
		b.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	})

	w.RunOnce(context.Background())

	var got models.Bounty
	require.NoError(t, db.First(&got, "id = ?", bounty.ID).Error)
	assert.Equal(t, models.BountyStatusFailed, got.Status)
	assert.Equal(t, "bounty expired", got.FailReason)
}

func TestDecayBindings(t *testing.T) {
	db := newTestDB(t)
	w := newTestWorker(t, db, healthyLedger())

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	w.nowFn = func() time.Time { return now }

	stale := &models.ScoutCreatorBinding{
		ID:            uuid.NewString(),
		CreatorID:     "creator-stale",
		ActiveScoutID: "scout-1",
		BindingStatus: models.BindingStatusBound,
		LastActiveAt:  now.AddDate(0, 0, -91),
	}
	fresh := &models.ScoutCreatorBinding{
		ID:            uuid.NewString(),
		CreatorID:     "creator-fresh",
		ActiveScoutID: "scout-2",
		BindingStatus: models.BindingStatusBound,
		LastActiveAt:  now.AddDate(0, 0, -89),
	}
	require.NoError(t, db.Create(stale).Error)
	require.NoError(t, db.Create(fresh).Error)

	flipped, err := w.DecayBindings()
	require.NoError(t, err)
	assert.Equal(t, int64(1), flipped)

	var got models.ScoutCreatorBinding
	require.NoError(t, db.First(&got, "creator_id = ?", "creator-stale").Error)
	assert.Equal(t, models.BindingStatusUnbound, got.BindingStatus)
	require.NotNil(t, got.UnboundAt)
	assert.True(t, got.UnboundAt.Equal(now))

	var gotFresh models.ScoutCreatorBinding
	require.NoError(t, db.First(&gotFresh, "creator_id = ?", "creator-fresh").Error)
	assert.Equal(t, models.BindingStatusBound, gotFresh.BindingStatus)
	assert.Nil(t, gotFresh.UnboundAt)

	// Second pass is a no-op.
	flipped, err = w.DecayBindings()
	require.NoError(t, err)
	assert.Zero(t, flipped)
}
