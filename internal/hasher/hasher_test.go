package hasher

import (
	"bytes"
	"testing"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/constants"
)

func TestSumSizes(t *testing.T) {
	h := New(constants.High)
	if got := len(h.Sum([]byte("data"))); got != 32 {
		t.Errorf("HIGH fingerprint size: got %d, want 32", got)
	}
	h = New(constants.Low)
	if got := len(h.Sum([]byte("data"))); got != 16 {
		t.Errorf("LOW fingerprint size: got %d, want 16", got)
	}
}

func TestHashChunkDeterministic(t *testing.T) {
	h := New(constants.High)
	c1 := &chunker.Chunk{Payload: []byte("same content")}
	c2 := &chunker.Chunk{Payload: []byte("same content")}
	h.HashChunk(c1)
	h.HashChunk(c2)
	if !bytes.Equal(c1.FP, c2.FP) {
		t.Errorf("identical payloads produced different fingerprints")
	}
}
