// services/bounty_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"dare-settlement-system/chain"
	"dare-settlement-system/models"
	"dare-settlement-system/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ledgerCallTimeout bounds every escrow RPC. A timeout is an unknown
// outcome, not a failure: state is only advanced from confirmed results and
// the reconciliation worker re-reads the ledger before retrying.
const ledgerCallTimeout = 15 * time.Second

const defaultClaimWindowHours = 72

// ErrNothingToSettle is returned when a settlement call finds the record
// already in a terminal state — the expected outcome of a duplicate retry.
var ErrNothingToSettle = errors.New("bounty already settled")

type BountyService struct {
	DB         *gorm.DB
	Ledger     chain.Ledger
	Reputation *ReputationService
	Notifier   *Notifier
	Oracle     *OracleClient

	PlatformReferrer    string
	PlatformRakePercent decimal.Decimal
	ClaimWindow         time.Duration
}

func NewBountyService(db *gorm.DB, ledger chain.Ledger, reputation *ReputationService, notifier *Notifier, oracle *OracleClient) *BountyService {
	referrer := os.Getenv("PLATFORM_REFERRER_ADDRESS")
	if !common.IsHexAddress(referrer) {
		log.Fatal("PLATFORM_REFERRER_ADDRESS environment variable is missing or not a valid address")
	}

	rakePercent := decimal.NewFromInt(5)
	if raw := os.Getenv("PLATFORM_RAKE_PERCENT"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() || parsed.GreaterThan(decimal.NewFromInt(100)) {
			log.Fatal("PLATFORM_RAKE_PERCENT must be a decimal between 0 and 100")
		}
		rakePercent = parsed
	}

	return &BountyService{
		DB:                  db,
		Ledger:              ledger,
		Reputation:          reputation,
		Notifier:            notifier,
		Oracle:              oracle,
		PlatformReferrer:    referrer,
		PlatformRakePercent: rakePercent,
		ClaimWindow:         defaultClaimWindowHours * time.Hour,
	}
}

// --- Handlers ---

// CreateBounty creates a new bounty record in funding state. The on-chain
// identifier is derived once here and never recomputed ad hoc.
func (s *BountyService) CreateBounty(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	var req struct {
		Title               string     `json:"title"`
		Description         string     `json:"description"`
		Amount              string     `json:"amount"`
		CounterpartyAddress string     `json:"counterparty_address"`
		ReferrerAddress     string     `json:"referrer_address"`
		ExpiresAt           time.Time  `json:"expires_at"`
		Open                bool       `json:"open"`
		ScoutID             *string    `json:"scout_id"`
		ActiveScoutID       *string    `json:"active_scout_id"`
		CampaignSlot        *struct {
			SyncTime            *time.Time `json:"sync_time"`
			WindowHours         float64    `json:"window_hours"`
			StrikeWindowMinutes int        `json:"strike_window_minutes"`
			PrecisionMultiplier string     `json:"precision_multiplier"`
		} `json:"campaign_slot"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Title is required"})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must be a positive decimal"})
	}
	// The ledger denominates in wei (18 decimals). Sub-wei precision could
	// never match a funding event, so it is rejected up front.
	if !amount.Equal(amount.Truncate(18)) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must have at most 18 decimal places"})
	}
	if req.ExpiresAt.IsZero() || req.ExpiresAt.Before(time.Now()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expires_at must be in the future"})
	}
	if !req.Open && !common.IsHexAddress(req.CounterpartyAddress) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "counterparty_address is required for assigned bounties"})
	}

	// Referrer defaults to the platform address when absent or zero.
	referrer := req.ReferrerAddress
	if !common.IsHexAddress(referrer) || common.HexToAddress(referrer) == (common.Address{}) {
		referrer = s.PlatformReferrer
	}

	internalID := uuid.NewString()
	bounty := &models.Bounty{
		ID:                  internalID,
		OnChainID:           chain.DeriveBountyIDHex(internalID),
		Title:               req.Title,
		Slug:                slug.Make(req.Title),
		Description:         req.Description,
		CreatorID:           userID,
		CounterpartyAddress: req.CounterpartyAddress,
		ReferrerAddress:     referrer,
		Amount:              amount,
		Status:              models.BountyStatusFunding,
		Open:                req.Open,
		ExpiresAt:           req.ExpiresAt.UTC(),
		ScoutID:             req.ScoutID,
		ActiveScoutID:       req.ActiveScoutID,
	}

	if req.CampaignSlot != nil {
		multiplier := decimal.NewFromInt(1)
		if req.CampaignSlot.PrecisionMultiplier != "" {
			multiplier, err = decimal.NewFromString(req.CampaignSlot.PrecisionMultiplier)
			if err != nil || multiplier.LessThan(decimal.NewFromInt(1)) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "precision_multiplier must be a decimal >= 1"})
			}
		}
		bounty.CampaignSlot = &models.CampaignSlot{
			ID:                  uuid.NewString(),
			BountyID:            internalID,
			SyncTime:            req.CampaignSlot.SyncTime,
			WindowHours:         req.CampaignSlot.WindowHours,
			StrikeWindowMinutes: req.CampaignSlot.StrikeWindowMinutes,
			PrecisionMultiplier: multiplier,
		}
	}

	if err := s.DB.Create(bounty).Error; err != nil {
		log.Printf("DB Error creating bounty: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create bounty"})
	}

	log.Printf("🆕 Bounty %s created (on-chain id %s), awaiting funding", bounty.ID, bounty.OnChainID)
	return c.Status(fiber.StatusCreated).JSON(bounty)
}

// RegisterFunding verifies a funding transaction against the stored on-chain
// identifier and flips funding → pending. Safe to call repeatedly with the
// same transaction hash.
func (s *BountyService) RegisterFunding(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid bounty ID"})
	}

	var req struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.TxHash) != 66 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tx_hash (0x + 64 hex chars) is required"})
	}

	var bounty models.Bounty
	if err := s.DB.First(&bounty, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Bounty not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	// Retry of an already-registered funding: no-op success.
	if bounty.Status != models.BountyStatusFunding {
		if bounty.TxHash != nil && *bounty.TxHash == req.TxHash {
			return c.JSON(bounty)
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Bounty is not awaiting funding"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), ledgerCallTimeout)
	defer cancel()

	// The stored identifier is authoritative. It may only be adopted from the
	// event when the record has none, and even then it must equal our own
	// derivation — a mismatched identifier is never silently accepted.
	expectedID := bounty.OnChainIDBig()
	derived := chain.DeriveBountyID(bounty.ID)
	if expectedID == nil {
		expectedID = derived
	} else if expectedID.Cmp(derived) != 0 {
		log.Printf("❌ Bounty %s stored on-chain id diverges from derivation — refusing registration", bounty.ID)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "verification failed: stored identifier inconsistent"})
	}

	event, err := s.Ledger.VerifyFunding(ctx, req.TxHash, expectedID, chain.ToWei(bounty.Amount))
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrTxNotFound):
			// Likely still propagating; the client may retry.
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Transaction not found yet — retry shortly"})
		case errors.Is(err, chain.ErrTxFailed),
			errors.Is(err, chain.ErrFundingEventMissing),
			errors.Is(err, chain.ErrIDMismatch),
			errors.Is(err, chain.ErrAmountMismatch):
			log.Printf("❌ Funding verification failed for bounty %s: %v", bounty.ID, err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": fmt.Sprintf("verification failed: %v", err)})
		default:
			log.Printf("⚠️ Ledger error verifying funding for bounty %s: %v", bounty.ID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Ledger temporarily unavailable"})
		}
	}

	// Status-guarded flip: a concurrent registration loses cleanly. Open
	// bounties park directly in awaiting_claim until a counterparty accepts;
	// the deadline lands in the same write so a crash cannot leave an open
	// record in pending without one.
	updates := map[string]interface{}{
		"status":      models.BountyStatusPending,
		"on_chain_id": chain.IDToHash(event.BountyID).Hex(),
		"tx_hash":     event.TxHash,
	}
	if bounty.Open && bounty.CounterpartyAddress == "" {
		deadline := time.Now().UTC().Add(s.ClaimWindow)
		if deadline.After(bounty.ExpiresAt) {
			deadline = bounty.ExpiresAt
		}
		updates["status"] = models.BountyStatusAwaitingClaim
		updates["claim_deadline"] = deadline
	}
	res := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND status = ?", bounty.ID, models.BountyStatusFunding).
		Updates(updates)
	if res.Error != nil {
		log.Printf("DB error registering funding for bounty %s: %v", bounty.ID, res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to register funding"})
	}
	if res.RowsAffected == 0 {
		// Lost the race; reload and report whatever won.
		s.DB.First(&bounty, "id = ?", bounty.ID)
		return c.JSON(bounty)
	}

	s.DB.Preload("CampaignSlot").First(&bounty, "id = ?", bounty.ID)
	log.Printf("✅ Bounty %s funded via %s → %s", bounty.ID, event.TxHash, bounty.Status)

	s.Notifier.Notify("bounty.funded", fiber.Map{"bounty_id": bounty.ID, "amount": bounty.Amount})
	return c.JSON(bounty)
}

// InjectCapital raises the escrowed amount. Amounts only ever grow outside
// settlement.
func (s *BountyService) InjectCapital(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		Amount string `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	delta, err := decimal.NewFromString(req.Amount)
	if err != nil || !delta.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must be a positive decimal"})
	}
	if !delta.Equal(delta.Truncate(18)) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Amount must have at most 18 decimal places"})
	}

	res := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND status IN ?", id, []models.BountyStatus{
			models.BountyStatusFunding,
			models.BountyStatusPending,
			models.BountyStatusAwaitingClaim,
		}).
		Update("amount", gorm.Expr("amount + ?", delta))
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to inject capital"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Bounty not found or not open to capital injections"})
	}

	var bounty models.Bounty
	s.DB.First(&bounty, "id = ?", id)
	return c.JSON(bounty)
}

// ClaimBounty accepts an open bounty on behalf of a counterparty:
// awaiting_claim → pending.
func (s *BountyService) ClaimBounty(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		CounterpartyAddress string `json:"counterparty_address"`
	}
	if err := c.BodyParser(&req); err != nil || !common.IsHexAddress(req.CounterpartyAddress) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "counterparty_address is required"})
	}

	res := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND status = ?", id, models.BountyStatusAwaitingClaim).
		Updates(map[string]interface{}{
			"status":               models.BountyStatusPending,
			"counterparty_address": req.CounterpartyAddress,
		})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to claim bounty"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Bounty is not claimable"})
	}

	var bounty models.Bounty
	s.DB.First(&bounty, "id = ?", id)
	log.Printf("🤝 Bounty %s claimed by %s", id, req.CounterpartyAddress)

	s.Notifier.Notify("bounty.claimed", fiber.Map{"bounty_id": id})
	return c.JSON(bounty)
}

// SubmitProof attaches completion proof and moves pending → pending_review.
// Campaign bounties pass the submission gate first; a submission outside the
// broad window is rejected here before any state moves.
func (s *BountyService) SubmitProof(c *fiber.Ctx) error {
	id := c.Params("id")

	var bounty models.Bounty
	if err := s.DB.Preload("CampaignSlot").First(&bounty, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Bounty not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if bounty.Status != models.BountyStatusPending {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Bounty is not accepting proof submissions"})
	}

	if bounty.CampaignSlot != nil {
		gate := CanSubmit(bounty.CampaignSlot.SyncTime, bounty.CampaignSlot.WindowHours, time.Now().UTC())
		if !gate.CanSubmit {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":          gate.Reason,
				"time_remaining": gate.TimeRemaining.String(),
			})
		}
	}

	proofRef := c.FormValue("proof_ref")
	if file, err := c.FormFile("proof"); err == nil {
		key := fmt.Sprintf("proofs/%s/%s", bounty.ID, file.Filename)
		url, err := utils.UploadProofToR2(file, key)
		if err != nil {
			log.Printf("❌ Proof upload failed for bounty %s: %v", bounty.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to archive proof"})
		}
		proofRef = url
	}
	if proofRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "proof file or proof_ref is required"})
	}

	now := time.Now().UTC()
	res := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND status = ?", bounty.ID, models.BountyStatusPending).
		Updates(map[string]interface{}{
			"status":             models.BountyStatusPendingReview,
			"proof_ref":          proofRef,
			"proof_submitted_at": now,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Bounty is not accepting proof submissions"})
	}

	// Hand off to the referee. Failure is transient: the record stays in
	// pending_review and the submission can be re-sent.
	if s.Oracle != nil {
		if _, err := s.Oracle.SubmitForReview(bounty.ID, proofRef); err != nil {
			log.Printf("⚠️ Oracle hand-off failed for bounty %s (will be re-sent): %v", bounty.ID, err)
		}
	}

	s.Notifier.Notify("bounty.proof_submitted", fiber.Map{"bounty_id": bounty.ID, "proof_ref": proofRef})

	s.DB.Preload("CampaignSlot").First(&bounty, "id = ?", bounty.ID)
	return c.JSON(bounty)
}

// OracleDecision is the webhook the verification service calls with its
// approve/reject outcome. The engine does not second-guess the decision.
func (s *BountyService) OracleDecision(c *fiber.Ctx) error {
	var req struct {
		BountyID string `json:"bounty_id"`
		Decision string `json:"decision"`
	}
	if err := c.BodyParser(&req); err != nil || req.BountyID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bounty_id and decision are required"})
	}

	switch req.Decision {
	case "approve":
		if err := s.Settle(c.Context(), req.BountyID); err != nil && !errors.Is(err, ErrNothingToSettle) {
			log.Printf("⚠️ Settlement deferred for bounty %s: %v", req.BountyID, err)
			// Approved but not yet settled on-chain; the reconciliation
			// worker picks it up. This is a legitimate in-flight state.
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "settlement pending"})
		}
		return c.JSON(fiber.Map{"status": "settled"})
	case "reject":
		if err := s.FailAndRefund(c.Context(), req.BountyID, "oracle rejected proof"); err != nil && !errors.Is(err, ErrNothingToSettle) {
			log.Printf("⚠️ Refund deferred for bounty %s: %v", req.BountyID, err)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "refund pending"})
		}
		return c.JSON(fiber.Map{"status": "failed"})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "decision must be approve or reject"})
	}
}

// GetBounty returns the authoritative record. "In flight" states are normal
// and may be observed for extended periods.
func (s *BountyService) GetBounty(c *fiber.Ctx) error {
	id := c.Params("id")

	var bounty models.Bounty
	if err := s.DB.Preload("CampaignSlot").First(&bounty, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Bounty not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(bounty)
}

// ListBounties returns bounties filtered by status and/or creator.
func (s *BountyService) ListBounties(c *fiber.Ctx) error {
	query := s.DB.Model(&models.Bounty{}).Preload("CampaignSlot")

	if status := c.Query("status"); status != "" {
		if !models.BountyStatus(status).Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown status filter"})
		}
		query = query.Where("status = ?", status)
	}
	if creator := c.Query("creator_id"); creator != "" {
		query = query.Where("creator_id = ?", creator)
	}
	if c.QueryBool("open") {
		query = query.Where("open = ? AND status = ?", true, models.BountyStatusAwaitingClaim)
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var bounties []models.Bounty
	if err := query.Order("created_at DESC").Limit(limit).Offset(c.QueryInt("offset", 0)).Find(&bounties).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(fiber.Map{"bounties": bounties, "count": len(bounties)})
}

// --- Settlement core (shared by the oracle webhook and the reconciliation worker) ---

// Settle drives an approved bounty to verified: ledger payout, fee split
// bookkeeping, scout counters, binding touch. Idempotent — a duplicate
// invocation finds either a terminal record (ErrNothingToSettle) or an
// already-verified ledger slot, and applies no second fee split.
func (s *BountyService) Settle(ctx context.Context, bountyID string) error {
	var bounty models.Bounty
	if err := s.DB.Preload("CampaignSlot").First(&bounty, "id = ?", bountyID).Error; err != nil {
		return fmt.Errorf("load bounty %s: %w", bountyID, err)
	}
	if bounty.Status.Terminal() {
		return ErrNothingToSettle
	}
	if bounty.Status != models.BountyStatusPendingReview {
		return fmt.Errorf("bounty %s not in review (status %s)", bountyID, bounty.Status)
	}

	// Record the approval before touching the ledger so a payout that dies
	// mid-flight is retried by the reconciliation worker.
	if bounty.OracleApproved == nil || !*bounty.OracleApproved {
		now := time.Now().UTC()
		if err := s.DB.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", bounty.ID, models.BountyStatusPendingReview).
			Updates(map[string]interface{}{"oracle_approved": true, "oracle_decided_at": now}).Error; err != nil {
			return fmt.Errorf("record approval: %w", err)
		}
	}

	submittedAt := time.Now().UTC()
	if bounty.ProofSubmittedAt != nil {
		submittedAt = *bounty.ProofSubmittedAt
	}
	payout := CalculatePayout(submittedAt, bounty.Amount, bounty.CampaignSlot)
	if payout.Status == PayoutStatusForfeited {
		// Hard cutoff: approved but outside the broad window pays nothing.
		return s.failLocked(ctx, &bounty, "campaign window forfeited", string(payout.Status))
	}

	callCtx, cancel := context.WithTimeout(ctx, ledgerCallTimeout)
	defer cancel()
	txHash, err := s.Ledger.VerifyAndPayout(callCtx, bounty.OnChainIDBig())
	if err != nil && !errors.Is(err, chain.ErrAlreadySettled) {
		return fmt.Errorf("ledger payout for bounty %s: %w", bounty.ID, err)
	}
	if errors.Is(err, chain.ErrAlreadySettled) {
		log.Printf("♻️ Ledger already settled bounty %s — repairing record only", bounty.ID)
	}

	split := SplitRake(payout.TotalPayout, s.PlatformRakePercent)
	now := time.Now().UTC()

	var hooks []func()
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", bounty.ID, models.BountyStatusPendingReview).
			Updates(map[string]interface{}{
				"status":         models.BountyStatusVerified,
				"settled_at":     now,
				"creator_payout": split.CreatorPayout,
				"discovery_rake": split.DiscoveryRake,
				"active_rake":    split.ActiveRake,
				"platform_rake":  split.PlatformRake,
				"gross_total":    split.GrossTotal,
				"payout_status":  string(payout.Status),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent settlement won; fees were applied exactly once.
			return ErrNothingToSettle
		}

		if bounty.ActiveScoutID != nil {
			if err := s.Reputation.RecordSlotOutcome(tx, *bounty.ActiveScoutID, true, split.DiscoveryRake, split.ActiveRake); err != nil {
				return fmt.Errorf("record scout outcome: %w", err)
			}
			if err := s.Reputation.TouchBinding(tx, bounty.CreatorID, *bounty.ActiveScoutID, now); err != nil {
				return fmt.Errorf("touch binding: %w", err)
			}
		}

		hooks = append(hooks, func() {
			s.Notifier.Notify("bounty.verified", fiber.Map{
				"bounty_id":      bounty.ID,
				"tx_hash":        txHash,
				"creator_payout": split.CreatorPayout,
				"gross_total":    split.GrossTotal,
				"payout_status":  payout.Status,
			})
		})
		return nil
	})
	if err != nil {
		return err
	}

	// Post-commit hooks only: a notification failure cannot unwind state.
	for _, hook := range hooks {
		hook()
	}

	log.Printf("💰 Bounty %s verified and settled (%s, gross %s)", bounty.ID, payout.Status, split.GrossTotal)
	return nil
}

// FailAndRefund moves a bounty to failed and triggers the ledger refund.
// Used for oracle rejections, expiries and exhausted retries; a normal
// terminal outcome, not a crash.
func (s *BountyService) FailAndRefund(ctx context.Context, bountyID, reason string) error {
	var bounty models.Bounty
	if err := s.DB.First(&bounty, "id = ?", bountyID).Error; err != nil {
		return fmt.Errorf("load bounty %s: %w", bountyID, err)
	}
	if bounty.Status == models.BountyStatusFailed {
		return s.refundIfOutstanding(ctx, &bounty)
	}
	if bounty.Status.Terminal() {
		return ErrNothingToSettle
	}
	if !bounty.Status.CanTransition(models.BountyStatusFailed) {
		return fmt.Errorf("bounty %s cannot fail from status %s", bountyID, bounty.Status)
	}
	return s.failLocked(ctx, &bounty, reason, "")
}

func (s *BountyService) failLocked(ctx context.Context, bounty *models.Bounty, reason, payoutStatus string) error {
	prior := bounty.Status

	updates := map[string]interface{}{
		"status":      models.BountyStatusFailed,
		"fail_reason": reason,
	}
	if payoutStatus != "" {
		updates["payout_status"] = payoutStatus
	}

	var hooks []func()
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Bounty{}).
			Where("id = ? AND status = ?", bounty.ID, prior).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNothingToSettle
		}

		if bounty.ActiveScoutID != nil && prior == models.BountyStatusPendingReview {
			if err := s.Reputation.RecordSlotOutcome(tx, *bounty.ActiveScoutID, false, decimal.Zero, decimal.Zero); err != nil {
				return fmt.Errorf("record scout failure: %w", err)
			}
		}

		hooks = append(hooks, func() {
			s.Notifier.Notify("bounty.failed", fiber.Map{"bounty_id": bounty.ID, "reason": reason})
		})
		return nil
	})
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}

	log.Printf("🪦 Bounty %s failed: %s", bounty.ID, reason)
	return s.refundIfOutstanding(ctx, bounty)
}

// refundIfOutstanding pushes the refund for a failed bounty whose funds are
// still on the ledger. Idempotent; retried by the reconciliation worker.
func (s *BountyService) refundIfOutstanding(ctx context.Context, bounty *models.Bounty) error {
	if bounty.RefundedAt != nil || bounty.TxHash == nil {
		// Never funded on-chain or already refunded: nothing to return.
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, ledgerCallTimeout)
	defer cancel()

	// The refund recipient comes from the ledger slot, never guessed. A
	// failed read aborts here; the reconciliation worker re-finds the failed
	// record next tick.
	slot, err := s.Ledger.GetBounty(callCtx, bounty.OnChainIDBig())
	if err != nil {
		return fmt.Errorf("read bounty slot for refund %s: %w", bounty.ID, err)
	}

	_, err = s.Ledger.Refund(callCtx, bounty.OnChainIDBig(), slot.Staker)
	if err != nil {
		if errors.Is(err, chain.ErrAlreadyRefunded) || errors.Is(err, chain.ErrSlotNotFunded) {
			// Ledger already returned the funds; just repair the record.
		} else {
			return fmt.Errorf("ledger refund for bounty %s: %w", bounty.ID, err)
		}
	}

	now := time.Now().UTC()
	if err := s.DB.Model(&models.Bounty{}).
		Where("id = ? AND refunded_at IS NULL", bounty.ID).
		Update("refunded_at", now).Error; err != nil {
		return fmt.Errorf("record refund for bounty %s: %w", bounty.ID, err)
	}

	log.Printf("↩️ Bounty %s refunded to backer", bounty.ID)
	return nil
}
