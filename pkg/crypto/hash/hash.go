/*
Package hash contains the hash functions used by the node.
*/
package hash

import (
	"github.com/neohex/chit/pkg/util"
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the incoming byte slice using the legacy Keccak-256
// algorithm (the one used by Ethereum, not the standardized SHA3-256).
func Keccak256(data []byte) util.Uint256 {
	var h util.Uint256
	hasher := sha3.NewLegacyKeccak256()
	_, _ = hasher.Write(data)
	hasher.Sum(h[:0])
	return h
}
