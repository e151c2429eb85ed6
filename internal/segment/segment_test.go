package segment

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/keyexchange"
)

func hashedChunk(id uint64, fp []byte, size int, end bool) *chunker.Chunk {
	return &chunker.Chunk{ID: id, FP: fp, Payload: make([]byte, size), End: end}
}

func TestBoundaryRuleMaxSize(t *testing.T) {
	cfg := Config{PatternBits: 12, Pattern: 0, MinSegSize: 1 << 30, MaxSegSize: 100}
	s := New(cfg)

	fp := bytes.Repeat([]byte{0x01}, 32)
	ready, _, _, err := s.Add(hashedChunk(0, fp, 50, false))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if ready {
		t.Fatalf("boundary fired too early")
	}
	ready, segChunks, _, err := s.Add(hashedChunk(1, fp, 60, false))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !ready {
		t.Fatalf("expected MAX_SEG boundary after exceeding 100 bytes")
	}
	if len(segChunks) != 2 {
		t.Fatalf("expected 2 chunks in segment, got %d", len(segChunks))
	}
}

func TestBoundaryRuleEndOfStream(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg)
	fp := bytes.Repeat([]byte{0x01}, 32)
	ready, segChunks, _, err := s.Add(hashedChunk(0, fp, 10, true))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !ready || len(segChunks) != 1 {
		t.Fatalf("end-of-stream must always close the segment")
	}
}

func TestBoundaryRuleZeroRun(t *testing.T) {
	cfg := Config{PatternBits: 12, Pattern: 0xFFF, MinSegSize: 1 << 30, MaxSegSize: 1 << 30}
	s := New(cfg)
	fp := append(bytes.Repeat([]byte{0x01}, 23), []byte("000000000")...) // last 9 bytes ASCII '0'
	ready, _, _, err := s.Add(hashedChunk(0, fp, 10, false))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !ready {
		t.Fatalf("expected zero-run boundary rule to fire")
	}
}

func TestMinFPTracking(t *testing.T) {
	cfg := Config{PatternBits: 12, Pattern: 0xFFF, MinSegSize: 1 << 30, MaxSegSize: 1 << 30}
	s := New(cfg)
	high := bytes.Repeat([]byte{0xFE}, 32)
	low := bytes.Repeat([]byte{0x01}, 32)
	if _, _, _, err := s.Add(hashedChunk(0, high, 10, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	_, _, minFP, err := s.Add(hashedChunk(1, low, 10, true))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !bytes.Equal(minFP, low) {
		t.Errorf("expected min_fp to track the lower fingerprint")
	}
}

func TestKeyRouterConvergence(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, constants.RSAModulusBytes*8)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	priv, err := keyexchange.NewPrivateKey(raw)
	if err != nil {
		t.Fatalf("NewPrivateKey failed: %v", err)
	}
	signer := keyexchange.NewSigner(priv)
	pub := priv.Public()

	client, err := keyexchange.NewClient([]*keyexchange.PublicKey{pub}, 8)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	router := NewKeyRouter(client, constants.Static, 32, 1, false)

	sendFor := func(uint8) keyexchange.Transport {
		return func(blinded []byte) ([]byte, error) {
			_, out, err := signer.SignBatch(1, blinded)
			return out, err
		}
	}

	minFP := bytes.Repeat([]byte{0x03}, 32)
	segA := []*chunker.Chunk{hashedChunk(0, minFP, 10, false), hashedChunk(1, minFP, 10, true)}
	segB := []*chunker.Chunk{hashedChunk(2, minFP, 10, true)}

	if err := router.Route(segA, minFP, sendFor); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if err := router.Route(segB, minFP, sendFor); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if !bytes.Equal(segA[0].Key, segB[0].Key) {
		t.Errorf("key convergence: equal min_fp segments produced different keys")
	}
	for _, c := range segA {
		if !bytes.Equal(c.Key, segA[0].Key) {
			t.Errorf("all chunks in a segment must share the same key")
		}
	}
}
