// services/campaign_service.go
package services

import (
	"time"

	"dare-settlement-system/models"

	"github.com/shopspring/decimal"
)

// PayoutStatus classifies where a campaign submission landed relative to its
// timing windows.
type PayoutStatus string

const (
	PayoutStatusOnTime      PayoutStatus = "on_time"
	PayoutStatusStrikeBonus PayoutStatus = "strike_bonus"
	PayoutStatusLate        PayoutStatus = "late"
	PayoutStatusForfeited   PayoutStatus = "forfeited"
)

// PayoutResult is the computed award for a campaign submission.
type PayoutResult struct {
	BasePayout     decimal.Decimal `json:"base_payout"`
	PrecisionBonus decimal.Decimal `json:"precision_bonus"`
	TotalPayout    decimal.Decimal `json:"total_payout"`
	Status         PayoutStatus    `json:"status"`
}

// CalculatePayout applies the campaign timing rules to a submission.
//
//  1. No sync time → timing rules waived, full base payout.
//  2. Outside the broad window (half-width windowHours/2) → zero, forfeited.
//     Hard cutoff, never a partial payout.
//  3. Inside the strike window with a multiplier above 1 → precision bonus.
//  4. Otherwise base payout only (late but eligible).
func CalculatePayout(submittedAt time.Time, basePayoutAmount decimal.Decimal, slot *models.CampaignSlot) PayoutResult {
	if slot == nil || slot.SyncTime == nil {
		return PayoutResult{
			BasePayout:     basePayoutAmount,
			PrecisionBonus: decimal.Zero,
			TotalPayout:    basePayoutAmount,
			Status:         PayoutStatusOnTime,
		}
	}

	diff := submittedAt.Sub(*slot.SyncTime)
	if diff < 0 {
		diff = -diff
	}

	broadHalfWidth := time.Duration(slot.WindowHours * float64(time.Hour) / 2)
	strikeHalfWidth := time.Duration(slot.StrikeWindowMinutes) * time.Minute

	if diff > broadHalfWidth {
		return PayoutResult{
			BasePayout:     basePayoutAmount,
			PrecisionBonus: decimal.Zero,
			TotalPayout:    decimal.Zero,
			Status:         PayoutStatusForfeited,
		}
	}

	if diff <= strikeHalfWidth && slot.PrecisionMultiplier.GreaterThan(decimal.NewFromInt(1)) {
		bonus := basePayoutAmount.Mul(slot.PrecisionMultiplier.Sub(decimal.NewFromInt(1)))
		return PayoutResult{
			BasePayout:     basePayoutAmount,
			PrecisionBonus: bonus,
			TotalPayout:    basePayoutAmount.Add(bonus),
			Status:         PayoutStatusStrikeBonus,
		}
	}

	return PayoutResult{
		BasePayout:     basePayoutAmount,
		PrecisionBonus: decimal.Zero,
		TotalPayout:    basePayoutAmount,
		Status:         PayoutStatusLate,
	}
}

// SubmitGate is the result of the pre-submission eligibility check.
type SubmitGate struct {
	CanSubmit     bool          `json:"can_submit"`
	Reason        string        `json:"reason"`
	TimeRemaining time.Duration `json:"time_remaining"`
}

// CanSubmit gates whether a submission is accepted at all. This is a
// separate, earlier check from payout calculation: a late-but-within-window
// submission is still accepted even though it only earns base payout.
func CanSubmit(syncTime *time.Time, windowHours float64, now time.Time) SubmitGate {
	if syncTime == nil {
		return SubmitGate{CanSubmit: true, Reason: "no sync window set"}
	}

	halfWidth := time.Duration(windowHours * float64(time.Hour) / 2)
	opensAt := syncTime.Add(-halfWidth)
	closesAt := syncTime.Add(halfWidth)

	if now.Before(opensAt) {
		return SubmitGate{
			CanSubmit:     false,
			Reason:        "submission window not open yet",
			TimeRemaining: opensAt.Sub(now),
		}
	}
	if now.After(closesAt) {
		return SubmitGate{CanSubmit: false, Reason: "submission window closed"}
	}
	return SubmitGate{
		CanSubmit:     true,
		Reason:        "submission window open",
		TimeRemaining: closesAt.Sub(now),
	}
}
