package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScoutStats tracks running settlement counters per scout (denormalized for
// performance). Counters are only incremented by settlement outcomes, never
// written directly by request handlers.
type ScoutStats struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	ScoutID string `gorm:"uniqueIndex;not null" json:"scout_id"` // external user ID of the scout

	SuccessfulSlots int64 `json:"successful_slots" gorm:"default:0"`
	FailedSlots     int64 `json:"failed_slots" gorm:"default:0"`
	TotalCampaigns  int64 `json:"total_campaigns" gorm:"default:0"`

	// Lifetime rake totals (bookkeeping mirrors of ledger payouts).
	LifetimeDiscoveryRake decimal.Decimal `gorm:"type:numeric(30,8);default:0" json:"lifetime_discovery_rake"`
	LifetimeActiveRake    decimal.Decimal `gorm:"type:numeric(30,8);default:0" json:"lifetime_active_rake"`

	Timestamps
}

// BindingStatus is the state of a scout-creator relationship.
type BindingStatus string

const (
	BindingStatusBound   BindingStatus = "bound"
	BindingStatusUnbound BindingStatus = "unbound"
)

// ScoutCreatorBinding pairs a creator with their active scout. A bound
// binding requires LastActiveAt within the decay window; stale bindings are
// flipped to unbound only by the reconciliation worker's batch pass, never
// opportunistically on a request path.
type ScoutCreatorBinding struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	CreatorID string `gorm:"uniqueIndex;not null" json:"creator_id"`

	ActiveScoutID string        `gorm:"index;not null" json:"active_scout_id"`
	BindingStatus BindingStatus `gorm:"type:varchar(10);not null;default:'bound';index" json:"binding_status"`
	LastActiveAt  time.Time     `gorm:"not null;index" json:"last_active_at"`
	UnboundAt     *time.Time    `json:"unbound_at,omitempty"`

	Timestamps
}

// ScoutProfile is a local snapshot of scout/creator profile data needed for
// search and display. Owned solely by this service; populated by the profile
// sync worker from the upstream profile service.
type ScoutProfile struct {
	ID             string  `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string  `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Username       string  `gorm:"index;not null" json:"username"`
	DisplayName    *string `json:"display_name,omitempty"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
	Bio            *string `json:"bio,omitempty"`

	// Chain-native payout address mirrored from the custody service; used to
	// resolve counterparty/referrer addresses at bounty creation.
	WalletAddress *string `gorm:"type:varchar(64);index" json:"wallet_address,omitempty"`

	IsScout  bool `gorm:"default:false;index" json:"is_scout"`
	IsBanned bool `gorm:"default:false" json:"is_banned"`

	LastSeen *time.Time `json:"last_seen,omitempty"`

	Timestamps
}
