// Package hasher computes the per-chunk cryptographic fingerprint chosen by
// the pipeline's SecurityLevel.
package hasher

import (
	"crypto/md5"
	"crypto/sha256"
	"fmt"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/constants"
)

// Hasher writes chunk.FP for every chunk it processes.
type Hasher struct {
	level constants.SecurityLevel
}

// New creates a Hasher for the given security level.
func New(level constants.SecurityLevel) *Hasher {
	return &Hasher{level: level}
}

// Sum returns the fingerprint of data under the configured security level.
func (h *Hasher) Sum(data []byte) []byte {
	switch h.level {
	case constants.High:
		sum := sha256.Sum256(data)
		return sum[:]
	default:
		sum := md5.Sum(data)
		return sum[:]
	}
}

// HashChunk computes and stores the fingerprint on the chunk, returning it.
func (h *Hasher) HashChunk(c *chunker.Chunk) []byte {
	fp := h.Sum(c.Payload)
	c.FP = fp
	return fp
}

// Size returns the digest size in bytes for the level (32 for SHA-256, 16 for MD5).
func Size(level constants.SecurityLevel) int {
	return level.HashSize()
}

// Validate checks that an externally-supplied fingerprint matches the
// expected size for the security level, returning a descriptive error
// otherwise (used when verifying shares/recipes read back from disk).
func Validate(level constants.SecurityLevel, fp []byte) error {
	if len(fp) != Size(level) {
		return fmt.Errorf("hasher: fingerprint size %d does not match security level %s (want %d)",
			len(fp), level, Size(level))
	}
	return nil
}
