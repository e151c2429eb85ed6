package downloader

import (
	"sort"

	"github.com/metadedup/metadedup/internal/erasure"
)

// ValidateMetaListAscending checks that the end_secret_id values
// returned for one cloud are strictly ascending.
func ValidateMetaListAscending(cloudIndex int, entries []MetaListEntry) error {
	var prev int64 = -1
	first := true
	for _, e := range entries {
		if !first && e.EndSecretID <= prev {
			return &ErrMetaListNotAscending{CloudIndex: cloudIndex, Prev: prev, Got: e.EndSecretID}
		}
		prev = e.EndSecretID
		first = false
	}
	return nil
}

// ShareIDForSecret looks up which share_id a cloud's shares use for
// secretID by finding the first MetaListEntry whose EndSecretID covers
// it. Returns ok=false if no entry covers
// secretID (this cloud contributed nothing for that chunk).
func ShareIDForSecret(entries []MetaListEntry, secretID int64) (shareID int32, segID uint64, ok bool) {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].EndSecretID >= secretID })
	if idx == len(entries) {
		return 0, 0, false
	}
	return entries[idx].ShareID, entries[idx].SegID, true
}

// Decoder runs the erasure decode step of the download pipeline.
type Decoder struct {
	params Params
	codec  erasure.Codec
}

// NewDecoder builds a Decoder for the given deployment parameters and
// codec variant (must match the variant used to upload).
func NewDecoder(params Params, variant erasure.Variant) (*Decoder, error) {
	codec, err := erasure.New(variant)
	if err != nil {
		return nil, err
	}
	return &Decoder{params: params, codec: codec}, nil
}

// DecodeSecret reconstructs one chunk's plaintext from the shares
// collected across clouds for secretID. Shares with ShareID == -1 (this
// cloud was the segment's KM, or was marked "last-share special") are
// not usable and must already be excluded by the caller.
func (d *Decoder) DecodeSecret(secretID int64, secretSize int, shares []CloudShare, isHeader bool) ([]byte, error) {
	k := d.params.k()
	if len(shares) < k {
		return nil, &ErrInsufficientClouds{SecretID: secretID, Have: len(shares), Need: k}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].ShareID < shares[j].ShareID })

	ids := make([]int, k)
	bodies := make([][]byte, k)
	for i := 0; i < k; i++ {
		ids[i] = int(shares[i].ShareID)
		bodies[i] = shares[i].Body
	}
	return d.codec.Decode(d.params.erasureParams(), ids, bodies, secretSize)
}

// SelectSpecialCloud picks, among the clouds that contributed a usable
// share for a secret ID, the one that can be served as a placeholder
// because the other shares already suffice to decode. Returns -1 if every contributing cloud's bytes are
// needed (len(available) <= k).
func SelectSpecialCloud(available []int, k int) int {
	if len(available) <= k {
		return -1
	}
	return available[len(available)-1]
}
