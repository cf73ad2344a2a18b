// services/reputation_service.go
package services

import (
	"errors"
	"log"
	"math"
	"time"

	"dare-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ScoutTier buckets scouts by campaign volume. Tier is a pure function of
// TotalCampaigns and independent of score.
type ScoutTier string

const (
	TierEntry ScoutTier = "entry"
	TierMid   ScoutTier = "mid"
	TierTop   ScoutTier = "top"
)

// Tier thresholds (campaigns placed).
const (
	midTierThreshold = 25
	topTierThreshold = 100
)

// autoAcceptScore is the trust score at which a scout's placements skip
// manual review.
const autoAcceptScore = 70

// Binding decay defaults: a binding goes stale after 90 days of inactivity,
// with a warning surfaced for the last 14.
const (
	DefaultDecayDays   = 90
	DefaultWarningDays = 14
)

// ReputationBreakdown itemizes the score components.
type ReputationBreakdown struct {
	Base           int `json:"base"`
	SuccessRate    int `json:"success_rate"`
	Volume         int `json:"volume"`
	FailurePenalty int `json:"failure_penalty"` // subtracted
}

// NextTierInfo reports how far a scout is from the next tier. Nil at top.
type NextTierInfo struct {
	Tier               ScoutTier `json:"tier"`
	CampaignsRemaining int64     `json:"campaigns_remaining"`
}

// Reputation is the derived trust profile of a scout.
type Reputation struct {
	Score      int                 `json:"score"`
	Tier       ScoutTier           `json:"tier"`
	AutoAccept bool                `json:"auto_accept"`
	Breakdown  ReputationBreakdown `json:"breakdown"`
	NextTier   *NextTierInfo       `json:"next_tier,omitempty"`
}

// CalculateReputation derives the trust score from historical counters:
// base 50, up to +40 from slot success rate, up to +10 from campaign volume
// (one point per 10 campaigns), up to −20 from failures (5 per failed slot).
// Clamped to [0, 100].
func CalculateReputation(stats models.ScoutStats) Reputation {
	breakdown := ReputationBreakdown{Base: 50}

	totalSlots := stats.SuccessfulSlots + stats.FailedSlots
	if totalSlots > 0 {
		ratio := float64(stats.SuccessfulSlots) / float64(totalSlots)
		breakdown.SuccessRate = int(math.Round(40 * ratio))
	}

	volume := stats.TotalCampaigns / 10
	if volume > 10 {
		volume = 10
	}
	breakdown.Volume = int(volume)

	penalty := stats.FailedSlots * 5
	if penalty > 20 {
		penalty = 20
	}
	breakdown.FailurePenalty = int(penalty)

	score := breakdown.Base + breakdown.SuccessRate + breakdown.Volume - breakdown.FailurePenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	tier := tierForCampaigns(stats.TotalCampaigns)

	return Reputation{
		Score:      score,
		Tier:       tier,
		AutoAccept: score >= autoAcceptScore,
		Breakdown:  breakdown,
		NextTier:   nextTierInfo(stats.TotalCampaigns, tier),
	}
}

func tierForCampaigns(totalCampaigns int64) ScoutTier {
	switch {
	case totalCampaigns >= topTierThreshold:
		return TierTop
	case totalCampaigns >= midTierThreshold:
		return TierMid
	default:
		return TierEntry
	}
}

func nextTierInfo(totalCampaigns int64, tier ScoutTier) *NextTierInfo {
	switch tier {
	case TierEntry:
		return &NextTierInfo{Tier: TierMid, CampaignsRemaining: midTierThreshold - totalCampaigns}
	case TierMid:
		return &NextTierInfo{Tier: TierTop, CampaignsRemaining: topTierThreshold - totalCampaigns}
	default:
		return nil
	}
}

// DecayCheck is the read-only view of a binding's decay state. The actual
// BOUND→UNBOUND flip happens only in the reconciliation worker's batch pass.
type DecayCheck struct {
	IsActive       bool `json:"is_active"`
	DaysUntilDecay int  `json:"days_until_decay"`
	WarningActive  bool `json:"warning_active"`
}

// CheckBindingDecay evaluates whether a binding is still inside its decay
// window at the given instant.
func CheckBindingDecay(lastActiveAt time.Time, decayDays, warningDays int, now time.Time) DecayCheck {
	cutoff := lastActiveAt.AddDate(0, 0, decayDays)
	if !now.Before(cutoff) {
		return DecayCheck{IsActive: false, DaysUntilDecay: 0, WarningActive: false}
	}
	daysLeft := int(cutoff.Sub(now).Hours() / 24)
	return DecayCheck{
		IsActive:       true,
		DaysUntilDecay: daysLeft,
		WarningActive:  daysLeft <= warningDays,
	}
}

type ReputationService struct {
	DB *gorm.DB
}

func NewReputationService(db *gorm.DB) *ReputationService {
	return &ReputationService{DB: db}
}

// EnsureStatsRecord ensures a ScoutStats row exists (idempotent)
func (s *ReputationService) EnsureStatsRecord(tx *gorm.DB, scoutID string) (*models.ScoutStats, error) {
	var stats models.ScoutStats
	err := tx.Where("scout_id = ?", scoutID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stats = models.ScoutStats{
			ID:      uuid.NewString(),
			ScoutID: scoutID,
		}
		if err := tx.Create(&stats).Error; err != nil {
			return nil, err
		}
		return &stats, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// RecordSlotOutcome increments a scout's counters from a settlement outcome.
// Called inside the settlement transaction so counters and bounty state move
// together.
func (s *ReputationService) RecordSlotOutcome(tx *gorm.DB, scoutID string, success bool, discoveryRake, activeRake decimal.Decimal) error {
	stats, err := s.EnsureStatsRecord(tx, scoutID)
	if err != nil {
		return err
	}

	stats.TotalCampaigns++
	if success {
		stats.SuccessfulSlots++
		stats.LifetimeDiscoveryRake = stats.LifetimeDiscoveryRake.Add(discoveryRake)
		stats.LifetimeActiveRake = stats.LifetimeActiveRake.Add(activeRake)
	} else {
		stats.FailedSlots++
	}

	return tx.Save(stats).Error
}

// TouchBinding refreshes the creator's binding activity timestamp after a
// successful settlement. Creates the binding on first touch.
func (s *ReputationService) TouchBinding(tx *gorm.DB, creatorID, scoutID string, at time.Time) error {
	var binding models.ScoutCreatorBinding
	err := tx.Where("creator_id = ?", creatorID).First(&binding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		binding = models.ScoutCreatorBinding{
			ID:            uuid.NewString(),
			CreatorID:     creatorID,
			ActiveScoutID: scoutID,
			BindingStatus: models.BindingStatusBound,
			LastActiveAt:  at,
		}
		return tx.Create(&binding).Error
	}
	if err != nil {
		return err
	}

	binding.ActiveScoutID = scoutID
	binding.LastActiveAt = at
	binding.BindingStatus = models.BindingStatusBound
	binding.UnboundAt = nil
	return tx.Save(&binding).Error
}

// --- Handlers ---

// GetScoutReputation returns the derived reputation for a scout.
func (s *ReputationService) GetScoutReputation(c *fiber.Ctx) error {
	scoutID := c.Params("scout_id")
	if scoutID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scout_id is required"})
	}

	var stats models.ScoutStats
	if err := s.DB.Where("scout_id = ?", scoutID).First(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No history yet: derived profile of a fresh scout.
			stats = models.ScoutStats{ScoutID: scoutID}
		} else {
			log.Printf("DB error loading scout stats for %s: %v", scoutID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load scout stats"})
		}
	}

	return c.JSON(fiber.Map{
		"scout_id":   scoutID,
		"stats":      stats,
		"reputation": CalculateReputation(stats),
	})
}

// GetBindingStatus returns the creator's binding and its decay outlook.
// Read-only: a stale binding is reported as decayed but not flipped here.
func (s *ReputationService) GetBindingStatus(c *fiber.Ctx) error {
	creatorID := c.Params("creator_id")
	if creatorID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "creator_id is required"})
	}

	var binding models.ScoutCreatorBinding
	if err := s.DB.Where("creator_id = ?", creatorID).First(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No binding for creator"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	return c.JSON(fiber.Map{
		"binding": binding,
		"decay":   CheckBindingDecay(binding.LastActiveAt, DefaultDecayDays, DefaultWarningDays, time.Now().UTC()),
	})
}
