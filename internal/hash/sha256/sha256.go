// Package sha256 provides SHA-256 content hashing.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

// Hasher hashes image bytes into content hashes.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) pipeline.ContentHash {
	return Sum(data)
}

// Sum returns the lowercase hex digest of data.
func Sum(data []byte) pipeline.ContentHash {
	sum := sha256.Sum256(data)
	return pipeline.ContentHash(hex.EncodeToString(sum[:]))
}
