// Package dispatch implements the Encoder's wiring into shares and the
// Collector/Dispatcher that orders those shares across clouds, builds
// per-segment metadata chunks, and hands both to per-cloud queues.
package dispatch

// Share is one erasure-coded, fingerprinted piece of an encoded chunk.
type Share struct {
	Body []byte
	FP   []byte
}

// EncodedChunk is a data chunk after CAONT+RS encoding: N-1 shares, one
// per non-KM cloud, plus the metadata needed to build a MetaNode for
// each.
type EncodedChunk struct {
	SegID        uint64
	SecretID     int64 // positive, monotonically increasing per data chunk
	SecretSize   int32 // plaintext chunk size before alignment
	ShareSize    int32 // size of one share body
	KMCloudIndex uint8
	Shares       []Share // length N-1, share i belongs to rotation slot i
	End          bool
}

// MetaNode describes one stored share, as carried in a metadata chunk or
// a recipe entry.
type MetaNode struct {
	ShareFP    []byte
	SecretID   int64
	SecretSize int32
	ShareSize  int32
	SegID      uint64
	ShareID    int32
}

// MetaChunk is a packed batch of MetaNodes destined for one (segment,
// cloud) pair, with a negative synthetic secret ID so it never collides
// with a positive data secret_id.
type MetaChunk struct {
	CloudIndex int
	SegID      uint64
	SecretID   int64 // negative, strictly decreasing per cloud
	Nodes      []MetaNode
	Body       []byte // serialized Nodes, the blob actually uploaded
	FP         []byte // hash of Body
}
