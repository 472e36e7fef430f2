package abi

import (
	"bytes"
	"testing"
)

func TestCacheKey_PrefixNormalization(t *testing.T) {
	withPrefix := CacheKey("0x6080604052", true)
	without := CacheKey("6080604052", true)

	if !bytes.Equal(withPrefix, without) {
		t.Errorf("keys differ for same normalized bytecode:\n  %x\n  %x", withPrefix, without)
	}
}

func TestCacheKey_ModeSeparation(t *testing.T) {
	unresolved := CacheKey("6080604052", true)
	resolved := CacheKey("6080604052", false)

	if bytes.Equal(unresolved, resolved) {
		t.Error("expected different keys for different modes")
	}

	// Same digest, different suffix.
	if !bytes.Equal(unresolved[:32], resolved[:32]) {
		t.Error("expected identical digests for identical bytecode")
	}
	if string(unresolved[32:]) != "_unresolved" {
		t.Errorf("unexpected suffix %q", unresolved[32:])
	}
	if string(resolved[32:]) != "_resolved" {
		t.Errorf("unexpected suffix %q", resolved[32:])
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	a := CacheKey("0xdeadbeef", true)
	b := CacheKey("0xdeadbeef", true)
	if !bytes.Equal(a, b) {
		t.Error("key derivation is not deterministic")
	}

	c := CacheKey("0xdeadbeee", true)
	if bytes.Equal(a, c) {
		t.Error("different bytecode produced identical keys")
	}
}
