package utils

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hasher computes blake3 digests for cache validators
type Hasher struct{}

// NewHasher creates a new hasher
func NewHasher() *Hasher {
	return &Hasher{}
}

// Hash computes a hex digest of the input data
func (h *Hasher) Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}
