package erasure

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// rsEncoder builds a klauspost/reedsolomon encoder for k data / m parity
// shards using a Cauchy matrix, the library's analogue of the
// hand-rolled matrix in matrix.go (grounded on the erasure-coded
// multi-cloud storage systems in the retrieval pack that use this
// library for exactly this purpose; see DESIGN.md).
func rsEncoder(k, m int) (reedsolomon.Encoder, error) {
	enc, err := reedsolomon.New(k, m, reedsolomon.WithCauchyMatrix())
	if err != nil {
		return nil, fmt.Errorf("erasure: reedsolomon.New failed: %w", err)
	}
	return enc, nil
}

// aontRS is the Resch-Plank AONT-RS scheme: a fresh random (non
// convergent) key every encode, an indexed-ECB mask, and RS shares from
// klauspost/reedsolomon rather than the hand-rolled matrix.
type aontRS struct{}

func (aontRS) Encode(p Params, _ []byte, secret []byte, _ bool) ([][]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	key, err := randomKey(p.HashSize)
	if err != nil {
		return nil, err
	}

	a := alignSize(len(secret), p.HashSize, k)
	aligned := make([]byte, a)
	copy(aligned, secret)

	mask, err := indexedECBMask(key, a)
	if err != nil {
		return nil, err
	}
	main := xorBytes(aligned, mask)

	hash, err := hashForWidth(p.HashSize)
	if err != nil {
		return nil, err
	}
	tail := xorBytes(hash(main), key)
	pkg := append(main, tail...)

	return rsSplitEncode(pkg, k, p.Parity)
}

func (aontRS) Decode(p Params, shareIDs []int, shares [][]byte, secretSize int) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	pkgBytes, err := rsReconstruct(shareIDs, shares, k, p.Parity)
	if err != nil {
		return nil, err
	}
	if len(pkgBytes) < p.HashSize {
		return nil, fmt.Errorf("erasure: recovered package too short for tail")
	}
	main := pkgBytes[:len(pkgBytes)-p.HashSize]
	tail := pkgBytes[len(pkgBytes)-p.HashSize:]

	hash, err := hashForWidth(p.HashSize)
	if err != nil {
		return nil, err
	}
	key := xorBytes(hash(main), tail)
	mask, err := indexedECBMask(key, len(main))
	if err != nil {
		return nil, err
	}
	aligned := xorBytes(main, mask)
	if secretSize > len(aligned) {
		return nil, fmt.Errorf("erasure: secretSize %d exceeds aligned package %d", secretSize, len(aligned))
	}
	return aligned[:secretSize], nil
}

// crsss is Rabin's Information Dispersal Algorithm: no AONT masking, the
// secret is split directly across k data shares and m parity shares via
// klauspost/reedsolomon, with H(secret) embedded as a trailing "group
// hash" in the first r=k-1 shares so a decode can check integrity when
// at least one hash-bearing share was used.
type crsss struct{}

func (crsss) Encode(p Params, _ []byte, secret []byte, _ bool) ([][]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	r := k - 1

	hash, err := hashForWidth(p.HashSize)
	if err != nil {
		return nil, err
	}
	digest := hash(secret)

	shards, err := rsSplitEncode(secret, k, p.Parity)
	if err != nil {
		return nil, err
	}
	for i := 0; i < r && i < len(shards); i++ {
		shards[i] = append(append([]byte(nil), shards[i]...), digest...)
	}
	return shards, nil
}

func (crsss) Decode(p Params, shareIDs []int, shares [][]byte, secretSize int) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	r := k - 1

	var digest []byte
	stripped := make([][]byte, len(shares))
	hashSize := p.HashSize
	for i, id := range shareIDs {
		s := shares[i]
		if id < r && len(s) >= hashSize {
			body := s[:len(s)-hashSize]
			tail := s[len(s)-hashSize:]
			if digest == nil {
				digest = tail
			}
			stripped[i] = body
		} else {
			stripped[i] = s
		}
	}

	secret, err := rsReconstructToSize(shareIDs, stripped, k, p.Parity, secretSize)
	if err != nil {
		return nil, err
	}

	if digest != nil {
		hash, err := hashForWidth(hashSize)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(hash(secret), digest) {
			return nil, fmt.Errorf("erasure: CRSSS integrity check failed: H(secret) mismatch")
		}
	}
	return secret, nil
}

// rsSplitEncode pads pkg to a multiple of k, splits it into k data
// shards, and appends m parity shards computed by klauspost/reedsolomon.
func rsSplitEncode(pkg []byte, k, m int) ([][]byte, error) {
	enc, err := rsEncoder(k, m)
	if err != nil {
		return nil, err
	}
	shards, err := enc.Split(pkg)
	if err != nil {
		return nil, fmt.Errorf("erasure: reedsolomon Split failed: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure: reedsolomon Encode failed: %w", err)
	}
	return shards, nil
}

// rsReconstruct recovers the full padded package from any k of the
// Total shards, given as parallel shareIDs/shares slices.
func rsReconstruct(shareIDs []int, shares [][]byte, k, m int) ([]byte, error) {
	enc, err := rsEncoder(k, m)
	if err != nil {
		return nil, err
	}
	all := make([][]byte, k+m)
	for i, id := range shareIDs {
		all[id] = shares[i]
	}
	if err := enc.ReconstructData(all); err != nil {
		return nil, fmt.Errorf("erasure: reedsolomon Reconstruct failed: %w", err)
	}
	var out []byte
	for i := 0; i < k; i++ {
		out = append(out, all[i]...)
	}
	return out, nil
}

// rsReconstructToSize reconstructs and truncates to the known plaintext
// length (CRSSS has no AONT tail to carry the aligned size implicitly).
func rsReconstructToSize(shareIDs []int, shares [][]byte, k, m, size int) ([]byte, error) {
	full, err := rsReconstruct(shareIDs, shares, k, m)
	if err != nil {
		return nil, err
	}
	if size > len(full) {
		return nil, fmt.Errorf("erasure: secretSize %d exceeds reconstructed size %d", size, len(full))
	}
	return full[:size], nil
}
