// services/fee_service.go
package services

import (
	"github.com/shopspring/decimal"
)

// Scout rakes are a fixed 0.5% each, computed on the base payout and added
// on top of it. The platform rake is then computed on payout+scout rakes —
// platform revenue scales with total outflow, not just the base award. This
// ordering is product-confirmed behavior; do not "fix" it to rake the raw
// payout alone.
var scoutRakePercent = decimal.RequireFromString("0.5")

var oneHundred = decimal.NewFromInt(100)

// RakeSplit is the full breakdown of a settlement amount.
type RakeSplit struct {
	CreatorPayout decimal.Decimal `json:"creator_payout"`
	DiscoveryRake decimal.Decimal `json:"discovery_rake"`
	ActiveRake    decimal.Decimal `json:"active_rake"`
	PlatformRake  decimal.Decimal `json:"platform_rake"`
	GrossTotal    decimal.Decimal `json:"gross_total"`
}

// SplitRake computes the rake/payout breakdown for a settlement amount.
// Conservation holds exactly: GrossTotal == CreatorPayout + DiscoveryRake +
// ActiveRake + PlatformRake.
func SplitRake(totalPayout, platformRakePercent decimal.Decimal) RakeSplit {
	discoveryRake := totalPayout.Mul(scoutRakePercent).Div(oneHundred)
	activeRake := totalPayout.Mul(scoutRakePercent).Div(oneHundred)

	payoutPlusScoutRakes := totalPayout.Add(discoveryRake).Add(activeRake)
	platformRake := payoutPlusScoutRakes.Mul(platformRakePercent).Div(oneHundred)

	return RakeSplit{
		CreatorPayout: totalPayout,
		DiscoveryRake: discoveryRake,
		ActiveRake:    activeRake,
		PlatformRake:  platformRake,
		GrossTotal:    payoutPlusScoutRakes.Add(platformRake),
	}
}
