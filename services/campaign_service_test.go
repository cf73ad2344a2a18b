package services

import (
	"testing"
	"time"

	"dare-settlement-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func campaignSlot(sync time.Time) *models.CampaignSlot {
	return &models.CampaignSlot{
		SyncTime:            &sync,
		WindowHours:         2,
		StrikeWindowMinutes: 10,
		PrecisionMultiplier: decimal.RequireFromString("1.3"),
	}
}

func TestCalculatePayoutTimingWindows(t *testing.T) {
	sync := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := decimal.NewFromInt(100)

	cases := []struct {
		name       string
		submitted  time.Time
		wantTotal  string
		wantStatus PayoutStatus
	}{
		{"inside strike window", sync.Add(5 * time.Minute), "130", PayoutStatusStrikeBonus},
		{"inside strike window before sync", sync.Add(-5 * time.Minute), "130", PayoutStatusStrikeBonus},
		{"at strike boundary", sync.Add(10 * time.Minute), "130", PayoutStatusStrikeBonus},
		{"inside broad window only", sync.Add(50 * time.Minute), "100", PayoutStatusLate},
		{"at broad boundary", sync.Add(60 * time.Minute), "100", PayoutStatusLate},
		{"outside broad window", sync.Add(90 * time.Minute), "0", PayoutStatusForfeited},
		{"outside broad window before sync", sync.Add(-90 * time.Minute), "0", PayoutStatusForfeited},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := CalculatePayout(tc.submitted, base, campaignSlot(sync))
			assert.Equal(t, tc.wantStatus, result.Status)
			assert.Truef(t, decimal.RequireFromString(tc.wantTotal).Equal(result.TotalPayout),
				"want %s got %s", tc.wantTotal, result.TotalPayout)
		})
	}
}

func TestCalculatePayoutNoSyncTime(t *testing.T) {
	base := decimal.NewFromInt(100)

	result := CalculatePayout(time.Now(), base, nil)
	assert.Equal(t, PayoutStatusOnTime, result.Status)
	assert.True(t, base.Equal(result.TotalPayout))

	slot := &models.CampaignSlot{WindowHours: 2, StrikeWindowMinutes: 10, PrecisionMultiplier: decimal.RequireFromString("1.3")}
	result = CalculatePayout(time.Now(), base, slot)
	assert.Equal(t, PayoutStatusOnTime, result.Status)
	assert.True(t, base.Equal(result.TotalPayout))
	assert.True(t, result.PrecisionBonus.IsZero())
}

// A multiplier of exactly 1 never produces a bonus, even dead on sync time.
func TestCalculatePayoutUnitMultiplier(t *testing.T) {
	sync := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slot := campaignSlot(sync)
	slot.PrecisionMultiplier = decimal.NewFromInt(1)

	result := CalculatePayout(sync, decimal.NewFromInt(100), slot)
	assert.Equal(t, PayoutStatusLate, result.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(result.TotalPayout))
}

func TestCanSubmit(t *testing.T) {
	sync := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	gate := CanSubmit(&sync, 2, sync.Add(-2*time.Hour))
	assert.False(t, gate.CanSubmit)
	assert.Equal(t, time.Hour, gate.TimeRemaining)

	gate = CanSubmit(&sync, 2, sync.Add(30*time.Minute))
	assert.True(t, gate.CanSubmit)
	assert.Equal(t, 30*time.Minute, gate.TimeRemaining)

	gate = CanSubmit(&sync, 2, sync.Add(2*time.Hour))
	assert.False(t, gate.CanSubmit)

	gate = CanSubmit(nil, 2, time.Now())
	assert.True(t, gate.CanSubmit)
}
