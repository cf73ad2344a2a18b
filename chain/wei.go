package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// The escrow contract denominates amounts in wei (18 decimals). The store
// keeps token-unit decimals; conversion happens only at the chain boundary.

var weiPerToken = decimal.New(1, 18)

// ToWei converts a token-unit decimal amount to its wei representation.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Mul(weiPerToken).BigInt()
}

// FromWei converts a wei amount to token units.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerToken)
}
