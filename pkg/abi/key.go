package abi

import (
	"strings"

	"lukechampine.com/blake3"
)

// Mode suffixes distinguishing the two processing modes. The same bytecode
// analyzed with and without signature resolution yields two independent cache
// entries.
const (
	suffixUnresolved = "_unresolved"
	suffixResolved   = "_resolved"
)

// CacheKey derives the content-addressed cache key for a bytecode string.
//
// The bytecode is normalized by stripping an optional "0x" prefix; the
// remaining hex text is hashed as-is (no decoding), and the mode suffix is
// appended to the 32-byte digest. The derivation is a pure function and must
// never change: external bindings derive the same keys independently.
func CacheKey(bytecode string, skipResolving bool) []byte {
	clean := strings.TrimPrefix(bytecode, "0x")
	digest := blake3.Sum256([]byte(clean))

	suffix := suffixResolved
	if skipResolving {
		suffix = suffixUnresolved
	}

	key := make([]byte, 0, len(digest)+len(suffix))
	key = append(key, digest[:]...)
	key = append(key, suffix...)
	return key
}
