package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveBountyID maps an internal record identifier to its ledger slot:
// the keccak256 hash of the raw UTF-8 bytes, read as a big-endian uint256.
// The escrow contract computes the same hash on its side, so both systems
// address the same slot without ever exchanging the internal identifier.
// Any divergence here strands funds; derive_test.go pins golden fixtures.
func DeriveBountyID(internalID string) *big.Int {
	return new(big.Int).SetBytes(crypto.Keccak256([]byte(internalID)))
}

// DeriveBountyIDHex returns the derived identifier as a 0x-prefixed 32-byte
// hex string, the storage form used by the bounty record.
func DeriveBountyIDHex(internalID string) string {
	return crypto.Keccak256Hash([]byte(internalID)).Hex()
}

// IDToHash converts a derived identifier back to its 32-byte hash form for
// event topic comparison.
func IDToHash(id *big.Int) common.Hash {
	return common.BigToHash(id)
}
