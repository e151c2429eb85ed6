// Package segment implements the content-defined segmentation boundary
// rules and per-segment state tracked while chunks stream through the
// pipeline.
package segment

import (
	"bytes"
	"fmt"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/constants"
)

// Config parameterizes the boundary rules.
type Config struct {
	PatternBits uint
	Pattern     uint32
	MinSegSize  uint64
	MaxSegSize  uint64
}

// DefaultConfig returns the default segmentation thresholds.
func DefaultConfig() Config {
	return Config{
		PatternBits: constants.PatternBits,
		Pattern:     constants.Pattern,
		MinSegSize:  constants.MinSegSize,
		MaxSegSize:  constants.MaxSegSize,
	}
}

// zeroASCIIRun is the 9-byte ASCII '0' run checked by boundary rule (c).
var zeroASCIIRun = bytes.Repeat([]byte("0"), 9)

// Segmenter accumulates hashed chunks and reports segment boundaries.
type Segmenter struct {
	cfg       Config
	buffer    []*chunker.Chunk
	size      uint64
	minFP     []byte
	nextSegID uint64
}

// New creates a Segmenter.
func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// resetMinFP resets the running minimum fingerprint to all-0xFF.
func (s *Segmenter) resetMinFP(fpLen int) {
	s.minFP = bytes.Repeat([]byte{0xFF}, fpLen)
}

// Add appends a hashed chunk to the open segment and reports whether a
// boundary fired. When it did, it returns the segment's chunks (already
// removed from internal state) and the segment's minimum fingerprint,
// which is the MLE key source.
func (s *Segmenter) Add(c *chunker.Chunk) (ready bool, segChunks []*chunker.Chunk, minFP []byte, err error) {
	if len(c.FP) == 0 {
		return false, nil, nil, fmt.Errorf("segment: chunk %d has no fingerprint; run the hasher first", c.ID)
	}
	if s.minFP == nil {
		s.resetMinFP(len(c.FP))
	}

	s.buffer = append(s.buffer, c)
	s.size += uint64(len(c.Payload))
	if bytes.Compare(c.FP, s.minFP) < 0 {
		s.minFP = append([]byte(nil), c.FP...)
	}

	boundary := s.isBoundary(c)
	if !boundary {
		return false, nil, nil, nil
	}

	out := s.buffer
	minOut := s.minFP
	for i, ch := range out {
		ch.SegID = s.nextSegID
		_ = i
	}
	s.nextSegID++
	s.buffer = nil
	s.size = 0
	s.minFP = nil

	return true, out, minOut, nil
}

func (s *Segmenter) isBoundary(c *chunker.Chunk) bool {
	if c.End {
		return true // rule (d): end-of-stream
	}
	if s.size > s.cfg.MaxSegSize {
		return true // rule (b)
	}
	if s.size >= s.cfg.MinSegSize && lowBitsMatch(c.FP, s.cfg.PatternBits, s.cfg.Pattern) {
		return true // rule (a)
	}
	if len(c.FP) >= len(zeroASCIIRun) && bytes.Equal(c.FP[len(c.FP)-len(zeroASCIIRun):], zeroASCIIRun) {
		return true // rule (c)
	}
	return false
}

// lowBitsMatch reports whether the low `bits` bits of fp (its trailing
// bytes read as a big-endian integer, last byte least significant) equal
// pattern.
func lowBitsMatch(fp []byte, bits uint, pattern uint32) bool {
	if bits == 0 {
		return false
	}
	var v uint32
	n := (bits + 7) / 8
	for i := uint(0); i < n && i < uint(len(fp)); i++ {
		v |= uint32(fp[len(fp)-1-int(i)]) << (8 * i)
	}
	mask := uint32(1)<<bits - 1
	return v&mask == pattern&mask
}
