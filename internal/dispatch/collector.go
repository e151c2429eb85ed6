package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/metadedup/metadedup/internal/hasher"
)

// CloudQueues is where one cloud's data shares and finalized MetaChunks
// land, ready for an Uploader to drain.
type CloudQueues struct {
	Data       []Share
	MetaChunks []MetaChunk
}

// Collector implements the per-segment rotation of shares across clouds
// and assembly of per-cloud metadata chunks. It is not itself a
// goroutine; callers run it as a single-threaded pipeline stage, feeding
// one EncodedChunk at a time from a pipeline.Queue.
type Collector struct {
	numClouds int
	h         *hasher.Hasher

	clouds []CloudQueues

	previousSegID uint64
	haveSegID     bool
	metaChunkID   []int64      // next negative secret_id, per cloud
	pendingMeta   [][]MetaNode // buffered MetaNodes per cloud, for the open segment
}

// NewCollector builds a Collector for a deployment of numClouds clouds.
func NewCollector(numClouds int, h *hasher.Hasher) *Collector {
	c := &Collector{
		numClouds:   numClouds,
		h:           h,
		clouds:      make([]CloudQueues, numClouds),
		metaChunkID: make([]int64, numClouds),
		pendingMeta: make([][]MetaNode, numClouds),
	}
	return c
}

// Cloud returns the accumulated queues for cloud i, for use by an
// Uploader once the upload pass is complete (or periodically, in a
// streaming wiring).
func (c *Collector) Cloud(i int) *CloudQueues { return &c.clouds[i] }

// Add ingests one encoded chunk: detects a segment boundary and
// finalizes the previous segment's metadata chunks, then rotates the
// chunk's shares across the non-KM clouds starting after km_cloud_index.
// On End it finalizes the open segment's metadata chunks; no end marker
// is added to the queues.
func (c *Collector) Add(ec *EncodedChunk) error {
	if !c.haveSegID {
		c.previousSegID = ec.SegID
		c.haveSegID = true
	}
	if ec.SegID != c.previousSegID {
		if err := c.finalizeSegmentMeta(c.previousSegID); err != nil {
			return err
		}
		c.previousSegID = ec.SegID
	}

	order := rotationOrder(c.numClouds, int(ec.KMCloudIndex))
	if len(order) != len(ec.Shares) {
		return fmt.Errorf("dispatch: chunk %d has %d shares, expected %d non-KM clouds", ec.SecretID, len(ec.Shares), len(order))
	}

	for i, cloud := range order {
		share := ec.Shares[i]
		// shareID is this chunk's rotation position among the N-1
		// non-KM clouds (0-indexed), matching the row this cloud's
		// body occupies in the distribution matrix. It resets every
		// chunk and is therefore constant across a whole segment for a
		// given cloud, since km_cloud_index does not change mid-segment
		// (grounded on original_source/client/coding/encoder.cc, where
		// shareIndex[] is reset to 0 at the top of each chunk's rotation
		// and carried forward unchanged between chunks of one segment).
		shareID := int32(i)

		c.clouds[cloud].Data = append(c.clouds[cloud].Data, share)
		c.pendingMeta[cloud] = append(c.pendingMeta[cloud], MetaNode{
			ShareFP:    share.FP,
			SecretID:   ec.SecretID,
			SecretSize: ec.SecretSize,
			ShareSize:  ec.ShareSize,
			SegID:      ec.SegID,
			ShareID:    shareID,
		})
	}

	if ec.End {
		if err := c.finalizeSegmentMeta(ec.SegID); err != nil {
			return err
		}
	}
	return nil
}

// rotationOrder returns the non-KM cloud indices in rotation order,
// starting at the cloud immediately after kmCloudIndex.
func rotationOrder(numClouds, kmCloudIndex int) []int {
	order := make([]int, 0, numClouds-1)
	for i := 1; i < numClouds; i++ {
		cloud := (kmCloudIndex + i) % numClouds
		order = append(order, cloud)
	}
	return order
}

// finalizeSegmentMeta packs each cloud's pending MetaNodes for segID
// into one MetaChunk, hashes the body, and clears the pending buffer.
func (c *Collector) finalizeSegmentMeta(segID uint64) error {
	for cloud := 0; cloud < c.numClouds; cloud++ {
		nodes := c.pendingMeta[cloud]
		if len(nodes) == 0 {
			continue
		}
		body, err := marshalMetaBody(nodes)
		if err != nil {
			return err
		}
		c.metaChunkID[cloud]--
		mc := MetaChunk{
			CloudIndex: cloud,
			SegID:      segID,
			SecretID:   c.metaChunkID[cloud],
			Nodes:      nodes,
			Body:       body,
			FP:         c.h.Sum(body),
		}
		c.clouds[cloud].MetaChunks = append(c.clouds[cloud].MetaChunks, mc)
		c.pendingMeta[cloud] = nil
	}
	return nil
}

// marshalMetaBody serializes count:i32 ‖ MetaNode[count] in the little
// endian wire format shared with internal/wire.
func marshalMetaBody(nodes []MetaNode) ([]byte, error) {
	buf := make([]byte, 0, 4+len(nodes)*64)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(nodes)))
	buf = append(buf, countBuf[:]...)
	for _, n := range nodes {
		if len(n.ShareFP) == 0 {
			return nil, fmt.Errorf("dispatch: meta node missing share fp")
		}
		buf = append(buf, n.ShareFP...)
		buf = appendI64(buf, n.SecretID)
		buf = appendI32(buf, n.SecretSize)
		buf = appendI32(buf, n.ShareSize)
		buf = appendI64(buf, int64(n.SegID))
		buf = appendI32(buf, n.ShareID)
	}
	return buf, nil
}

func appendI32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendI64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
