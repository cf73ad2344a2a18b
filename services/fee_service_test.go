package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitRakeBreakdown(t *testing.T) {
	split := SplitRake(decimal.RequireFromString("1000"), decimal.NewFromInt(5))

	assert.True(t, decimal.RequireFromString("1000").Equal(split.CreatorPayout))
	assert.True(t, decimal.RequireFromString("5").Equal(split.DiscoveryRake))
	assert.True(t, decimal.RequireFromString("5").Equal(split.ActiveRake))
	// Platform rake is taken on payout+scout rakes (1010), not the raw payout.
	assert.True(t, decimal.RequireFromString("50.5").Equal(split.PlatformRake))
	assert.True(t, decimal.RequireFromString("1060.5").Equal(split.GrossTotal))
}

func TestSplitRakeConservation(t *testing.T) {
	amounts := []string{"0.00000001", "1", "33.33", "1000", "99999999.99999999"}
	rates := []string{"0", "2.5", "5", "100"}

	for _, a := range amounts {
		for _, r := range rates {
			split := SplitRake(decimal.RequireFromString(a), decimal.RequireFromString(r))
			sum := split.CreatorPayout.
				Add(split.DiscoveryRake).
				Add(split.ActiveRake).
				Add(split.PlatformRake)
			assert.Truef(t, sum.Equal(split.GrossTotal),
				"amount %s rate %s: parts %s != gross %s", a, r, sum, split.GrossTotal)
		}
	}
}

func TestSplitRakeZeroPayout(t *testing.T) {
	split := SplitRake(decimal.Zero, decimal.NewFromInt(5))
	assert.True(t, split.GrossTotal.IsZero())
	assert.True(t, split.DiscoveryRake.IsZero())
	assert.True(t, split.ActiveRake.IsZero())
	assert.True(t, split.PlatformRake.IsZero())
}

func TestSplitRakeScoutRakesEqual(t *testing.T) {
	split := SplitRake(decimal.RequireFromString("777.77"), decimal.NewFromInt(3))
	assert.True(t, split.DiscoveryRake.Equal(split.ActiveRake))
}
