// Package shard provides key hashing for sharded in-process structures.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
)

// Index picks the shard a key belongs to.
// With numShards=1 every key goes to shard 0.
// With numShards>1 keys are distributed by their FNV-1a hash.
func Index(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(numShards))
}

// Key computes a stable, fixed-width digest for a composite key.
// Parts are joined with '#' before hashing, so ("a#b") and ("a", "b") collide;
// callers pass parts whose own encoding is unambiguous.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "#")))
	return hex.EncodeToString(h[:16]) // 128-bit hash as hex
}
