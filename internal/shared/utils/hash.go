package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// Hasher produces stable hex digests for storage names
type Hasher struct {
	algorithm HashAlgorithm
	size      int
}

// NewHasher creates a hasher. size truncates the digest to that many bytes;
// zero keeps the full digest.
func NewHasher(algorithm HashAlgorithm, size int) *Hasher {
	return &Hasher{
		algorithm: algorithm,
		size:      size,
	}
}

// Hash computes a hash of the input data
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	digest := sum[:]
	if h.size > 0 && h.size < len(digest) {
		digest = digest[:h.size]
	}
	return hex.EncodeToString(digest)
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}
