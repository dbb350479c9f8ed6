// Package sha256 content-addresses archived source payloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Hasher implements records.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. Empty payloads are rejected
// since they would all share one archive path.
func (Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("sha256: empty payload")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
