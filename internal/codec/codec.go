// Package codec implements the reversible mapping between mixed-case wallet
// addresses and protocol-legal lowercase identifiers.
//
// Messaging-network node names are case-insensitive, so the case pattern of
// an address is carried in a side channel: the address is lowercased and a
// base-36 case mask is appended after a separator. The mask holds one bit per
// alphabetic character, walking the address from the end (least-significant
// bit first); non-alphabetic characters do not consume a bit. The suffix is
// only present when at least one character was uppercase.
package codec

import (
	"math/big"
	"strings"

	"github.com/wallet-gateway/internal/errors"
)

// Separator divides the lowercased address from the case-mask suffix. It is
// absent from the base58 alphabet wallet addresses are drawn from, so the
// split is unambiguous for every valid address.
const Separator = "-"

const encodingBase = 36

// Encode derives the protocol identifier for a wallet address. Addresses
// without uppercase characters are returned lowercased with no suffix.
// Encode is deterministic and injective over valid wallet addresses.
func Encode(address string) string {
	mask := new(big.Int)
	slot := 0
	for i := len(address) - 1; i >= 0; i-- {
		c := address[i]
		switch {
		case c >= 'A' && c <= 'Z':
			mask.SetBit(mask, slot, 1)
			slot++
		case c >= 'a' && c <= 'z':
			slot++
		}
	}
	lowered := strings.ToLower(address)
	if mask.Sign() == 0 {
		return lowered
	}
	return lowered + Separator + mask.Text(encodingBase)
}

// Decode reverses Encode. An identifier without a separator is returned
// as-is. A suffix that does not parse as a base-36 integer yields
// ErrMalformedIdentifier.
func Decode(identifier string) (string, error) {
	prefix, suffix, found := strings.Cut(identifier, Separator)
	if !found {
		return identifier, nil
	}
	mask, ok := new(big.Int).SetString(suffix, encodingBase)
	if !ok || mask.Sign() < 0 {
		return "", errors.WithMessage(errors.ErrMalformedIdentifier, "bad case-mask suffix %q", suffix)
	}
	out := []byte(prefix)
	for i := len(out) - 1; i >= 0; i-- {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z':
			if mask.Bit(0) == 1 {
				out[i] = c - ('a' - 'A')
			}
			mask.Rsh(mask, 1)
		case c >= 'A' && c <= 'Z':
			mask.Rsh(mask, 1)
		}
	}
	return string(out), nil
}
