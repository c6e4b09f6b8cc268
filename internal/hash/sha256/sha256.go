// Package sha256 provides the SHA-256 content hasher used for exact-duplicate
// detection and URL cache change tracking.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements corpus.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumString is Sum for text.
func SumString(text string) string {
	return Sum([]byte(text))
}
