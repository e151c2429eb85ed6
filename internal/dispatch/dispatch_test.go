package dispatch

import (
	"bytes"
	"testing"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/erasure"
	"github.com/metadedup/metadedup/internal/hasher"
)

func TestEncoderProducesNMinus1Shares(t *testing.T) {
	enc, err := NewEncoder(erasure.CAONTRS, constants.High, 5, 1)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	c := &chunker.Chunk{ID: 1, SegID: 0, Payload: []byte("hello world, this is a chunk payload"), Key: bytes.Repeat([]byte{0x11}, 32)}
	ec, err := enc.Encode(1, c, false)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(ec.Shares) != 4 {
		t.Fatalf("expected N-1=4 shares, got %d", len(ec.Shares))
	}
	for _, s := range ec.Shares {
		if len(s.FP) != 32 {
			t.Errorf("expected 32-byte share fp for HIGH security, got %d", len(s.FP))
		}
	}
}

func TestCollectorSkipsKMCloud(t *testing.T) {
	h := hasher.New(constants.High)
	numClouds := 5
	c := NewCollector(numClouds, h)

	kmIdx := uint8(2)
	ec := &EncodedChunk{
		SegID:        0,
		SecretID:     1,
		SecretSize:   10,
		ShareSize:    20,
		KMCloudIndex: kmIdx,
		Shares: []Share{
			{Body: []byte("a"), FP: bytes.Repeat([]byte{1}, 32)},
			{Body: []byte("b"), FP: bytes.Repeat([]byte{2}, 32)},
			{Body: []byte("c"), FP: bytes.Repeat([]byte{3}, 32)},
			{Body: []byte("d"), FP: bytes.Repeat([]byte{4}, 32)},
		},
		End: true,
	}
	if err := c.Add(ec); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if len(c.Cloud(int(kmIdx)).Data) != 0 {
		t.Errorf("KM cloud %d must receive no data shares", kmIdx)
	}
	total := 0
	for i := 0; i < numClouds; i++ {
		total += len(c.Cloud(i).Data)
	}
	if total != 4 {
		t.Errorf("expected all 4 shares distributed to non-KM clouds, got %d", total)
	}

	// Rotation starts at the cloud after km_cloud_index: 3, 4, 0, 1.
	wantOrder := []int{3, 4, 0, 1}
	for i, cloud := range wantOrder {
		got := c.Cloud(cloud).Data[0]
		if !bytes.Equal(got.Body, ec.Shares[i].Body) {
			t.Errorf("rotation slot %d: expected cloud %d to get share %d", i, cloud, i)
		}
	}
}

func TestCollectorFinalizesMetaOnSegmentChange(t *testing.T) {
	h := hasher.New(constants.High)
	c := NewCollector(3, h)

	mkChunk := func(segID uint64, secretID int64, end bool) *EncodedChunk {
		return &EncodedChunk{
			SegID: segID, SecretID: secretID, SecretSize: 5, ShareSize: 5,
			KMCloudIndex: 0,
			Shares: []Share{
				{Body: []byte("x"), FP: bytes.Repeat([]byte{1}, 32)},
				{Body: []byte("y"), FP: bytes.Repeat([]byte{2}, 32)},
			},
			End: end,
		}
	}

	if err := c.Add(mkChunk(0, 1, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if len(c.Cloud(i).MetaChunks) != 0 {
			t.Fatalf("no meta chunk should be finalized before a segment boundary")
		}
	}

	if err := c.Add(mkChunk(1, 2, true)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// Segment 0's meta chunk finalizes on the segment change to segment 1,
	// and segment 1's meta chunk finalizes on End.
	for _, cloud := range []int{1, 2} {
		if len(c.Cloud(cloud).MetaChunks) != 2 {
			t.Fatalf("cloud %d: expected 2 finalized meta chunks, got %d", cloud, len(c.Cloud(cloud).MetaChunks))
		}
		if c.Cloud(cloud).MetaChunks[0].SecretID != -1 || c.Cloud(cloud).MetaChunks[1].SecretID != -2 {
			t.Errorf("cloud %d: meta secret ids must be negative and strictly decreasing", cloud)
		}
	}
}
