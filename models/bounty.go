package models

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BountyStatus is the lifecycle state of a bounty record. The store is
// authoritative: handlers and the reconciliation worker only move records
// through AllowedTransitions, never by ad hoc string writes.
type BountyStatus string

const (
	BountyStatusFunding       BountyStatus = "funding"
	BountyStatusPending       BountyStatus = "pending"
	BountyStatusPendingReview BountyStatus = "pending_review"
	BountyStatusAwaitingClaim BountyStatus = "awaiting_claim"
	BountyStatusVerified      BountyStatus = "verified"
	BountyStatusFailed        BountyStatus = "failed"
)

// AllowedTransitions is the closed transition table. verified and failed are
// terminal; records are never deleted, only terminal-stated, for audit.
var AllowedTransitions = map[BountyStatus][]BountyStatus{
	BountyStatusFunding:       {BountyStatusPending, BountyStatusAwaitingClaim},
	BountyStatusPending:       {BountyStatusPendingReview, BountyStatusAwaitingClaim, BountyStatusFailed},
	BountyStatusAwaitingClaim: {BountyStatusPending, BountyStatusFailed},
	BountyStatusPendingReview: {BountyStatusVerified, BountyStatusFailed},
	BountyStatusVerified:      {},
	BountyStatusFailed:        {},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func (s BountyStatus) CanTransition(to BountyStatus) bool {
	for _, next := range AllowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the record has reached an end state.
func (s BountyStatus) Terminal() bool {
	return s == BountyStatusVerified || s == BountyStatusFailed
}

// Valid reports whether the value is one of the closed set.
func (s BountyStatus) Valid() bool {
	_, ok := AllowedTransitions[s]
	return ok
}

// Bounty is the unit of escrow. ID is the internal identifier assigned at
// creation; OnChainID is the keccak-derived ledger slot, stored as a
// 0x-prefixed 32-byte hex string and immutable once set.
type Bounty struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	OnChainID string `gorm:"type:varchar(66);uniqueIndex" json:"on_chain_id"`

	Title       string `gorm:"not null" json:"title"`
	Slug        string `gorm:"index" json:"slug"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	CreatorID           string  `gorm:"index;not null" json:"creator_id"` // external user ID of the backer
	CounterpartyAddress string  `gorm:"type:varchar(64)" json:"counterparty_address"`
	ReferrerAddress     string  `gorm:"type:varchar(64)" json:"referrer_address"` // platform address when absent

	// Amount only grows outside settlement (capital injections).
	Amount decimal.Decimal `gorm:"type:numeric(30,8);not null" json:"amount"`

	Status BountyStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Open   bool         `gorm:"default:false" json:"open"` // open/unassigned bounty, claimable by any counterparty

	TxHash    *string   `gorm:"type:varchar(66)" json:"tx_hash,omitempty"` // set once funding registration succeeds
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`

	ClaimDeadline *time.Time `json:"claim_deadline,omitempty"`
	ActiveScoutID *string    `gorm:"index" json:"active_scout_id,omitempty"`
	ScoutID       *string    `gorm:"index" json:"scout_id,omitempty"` // discovery scout

	ProofRef         *string    `gorm:"type:text" json:"proof_ref,omitempty"`
	ProofSubmittedAt *time.Time `json:"proof_submitted_at,omitempty"`

	// Oracle decision is recorded before the on-chain settlement lands so the
	// reconciliation worker can retry a payout that timed out mid-flight.
	OracleApproved  *bool      `json:"oracle_approved,omitempty"`
	OracleDecidedAt *time.Time `json:"oracle_decided_at,omitempty"`

	SettledAt  *time.Time `json:"settled_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	RetryCount int        `gorm:"default:0" json:"retry_count"`
	FailReason string     `json:"fail_reason,omitempty"`

	// Settlement bookkeeping, filled from the fee split when payout lands.
	// The ledger performs the literal transfer; these are for reporting.
	CreatorPayout decimal.Decimal `gorm:"type:numeric(30,8);default:0" json:"creator_payout"`
	DiscoveryRake decimal.Decimal `gorm:"type:numeric(30,8);default:0" json:"discovery_rake"`
	ActiveRake    decimal.Decimal `gorm:"type:numeric(30,8);default:0" json:"active_rake"`
	PlatformRake  decimal.Decimal `gorm:"type:numeric(30,8);default:0" json:"platform_rake"`
	GrossTotal    decimal.Decimal `gorm:"type:numeric(30,8);default:0" json:"gross_total"`
	PayoutStatus  string          `gorm:"type:varchar(20)" json:"payout_status,omitempty"` // on_time / strike_bonus / late / forfeited

	CampaignSlot *CampaignSlot `gorm:"foreignKey:BountyID" json:"campaign_slot,omitempty"`

	Timestamps
}

// OnChainIDBig parses the stored hex identifier. Returns nil when unset.
func (b *Bounty) OnChainIDBig() *big.Int {
	trimmed := strings.TrimPrefix(b.OnChainID, "0x")
	if trimmed == "" {
		return nil
	}
	id, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil
	}
	return id
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
