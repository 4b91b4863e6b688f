package main

import (
	"crypto/sha256"
	"encoding/hex"
)

// sha256Hex is the production digest function injected into every
// component that takes an idkey.HashFunc — tests inject their own stub,
// cmd/tenon always wires the real thing.
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
