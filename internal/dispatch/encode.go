package dispatch

import (
	"fmt"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/erasure"
	"github.com/metadedup/metadedup/internal/hasher"
)

// Encoder turns a keyed, routed chunk into its N-1 erasure-coded,
// fingerprinted shares. Encoder holds no mutable state and is safe to
// call concurrently from a worker pool: the caller supplies each chunk's
// secret_id explicitly rather than Encoder assigning one from an
// internal counter, since concurrent workers would otherwise hand out
// secret_ids in completion order instead of the chunk's true position in
// the stream.
type Encoder struct {
	codec  erasure.Codec
	h      *hasher.Hasher
	level  constants.SecurityLevel
	total  int // N - 1 (the KM cloud stores no shares)
	parity int
}

// NewEncoder builds an Encoder for a deployment with numClouds clouds
// (one of which acts as KM per segment and is excluded from sharing)
// and the given erasure parity count.
func NewEncoder(variant erasure.Variant, level constants.SecurityLevel, numClouds, parity int) (*Encoder, error) {
	codec, err := erasure.New(variant)
	if err != nil {
		return nil, err
	}
	total := numClouds - 1
	if total-parity <= 0 {
		return nil, fmt.Errorf("dispatch: numClouds=%d parity=%d leaves no data shards", numClouds, parity)
	}
	return &Encoder{
		codec:  codec,
		h:      hasher.New(level),
		level:  level,
		total:  total,
		parity: parity,
	}, nil
}

// Encode runs CAONT+RS on one chunk's payload and hashes each resulting
// share. secretID is the chunk's positive, strictly-increasing secret_id
// (assigned by the caller from the chunk's position in the stream, not
// by Encode). isHeader requests self-deriving key derivation for a
// file-name/header chunk.
func (e *Encoder) Encode(secretID int64, c *chunker.Chunk, isHeader bool) (*EncodedChunk, error) {
	params := erasure.Params{Total: e.total, Parity: e.parity, HashSize: e.level.HashSize()}
	bodies, err := e.codec.Encode(params, c.Key, c.Payload, isHeader)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode chunk %d failed: %w", c.ID, err)
	}

	shares := make([]Share, len(bodies))
	var shareSize int32
	for i, body := range bodies {
		shares[i] = Share{Body: body, FP: e.h.Sum(body)}
		shareSize = int32(len(body))
	}

	return &EncodedChunk{
		SegID:        c.SegID,
		SecretID:     secretID,
		SecretSize:   int32(len(c.Payload)),
		ShareSize:    shareSize,
		KMCloudIndex: c.KMCloudIdx,
		Shares:       shares,
		End:          c.End,
	}, nil
}
