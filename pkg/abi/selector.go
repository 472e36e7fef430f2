package abi

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// unresolvedPrefix marks functions whose selector was recovered from the
// dispatch table but whose signature could not be resolved.
const unresolvedPrefix = "Unresolved_"

// SelectorFromSignature computes the 4-byte dispatch selector for a canonical
// function signature such as "transfer(address,uint256)".
func SelectorFromSignature(sig string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
	return sel
}

// SelectorForFunction returns the selector to store for a function with the
// given name and signature. Unresolved functions carry their true selector in
// the name suffix, which takes precedence over hashing the synthetic
// signature.
func SelectorForFunction(name, signature string) [4]byte {
	if hexPart, ok := strings.CutPrefix(name, unresolvedPrefix); ok {
		if raw, err := hex.DecodeString(hexPart); err == nil && len(raw) == 4 {
			var sel [4]byte
			copy(sel[:], raw)
			return sel
		}
	}
	return SelectorFromSignature(signature)
}

// UnresolvedName synthesizes the conventional name for a function known only
// by its selector.
func UnresolvedName(sel [4]byte) string {
	return unresolvedPrefix + hex.EncodeToString(sel[:])
}

// Signature builds the canonical signature string for a name and input types.
func Signature(name string, inputTypes []string) string {
	return fmt.Sprintf("%s(%s)", name, strings.Join(inputTypes, ","))
}
