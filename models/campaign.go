package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignSlot is the optional timing contract attached to a sponsored
// settlement. A nil SyncTime waives timing rules entirely: the submission is
// always eligible and earns no precision bonus.
type CampaignSlot struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID string `gorm:"uniqueIndex;not null" json:"bounty_id"`

	SyncTime            *time.Time      `json:"sync_time,omitempty"`
	WindowHours         float64         `gorm:"default:2" json:"window_hours"`           // broad eligibility window, centered on SyncTime
	StrikeWindowMinutes int             `gorm:"default:10" json:"strike_window_minutes"` // narrow bonus window
	PrecisionMultiplier decimal.Decimal `gorm:"type:numeric(10,4);default:1" json:"precision_multiplier"`

	Timestamps
}
