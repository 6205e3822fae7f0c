// Package sha256 provides the SHA-256 digests used for cache keys and archive paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements dossier.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. The result is always 64 characters.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString is Hash for string input.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}
