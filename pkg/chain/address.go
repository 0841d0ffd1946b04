package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the mint/burn sentinel; the ledger ignores it as a user.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Canonical normalizes an identifier: hex addresses become lowercase 0x-prefixed
// 20-byte strings, anything else is trimmed and lowercased.
func Canonical(id string) string {
	s := strings.TrimSpace(id)
	if common.IsHexAddress(s) {
		return strings.ToLower(common.HexToAddress(s).Hex())
	}
	return strings.ToLower(s)
}

// IsZero reports whether id is the zero address in any spelling.
func IsZero(id string) bool {
	return Canonical(id) == ZeroAddress
}
