package erasure

import (
	"crypto/rand"
	"fmt"
)

// Variant selects one of the four encoding schemes behind the Codec
// interface.
type Variant int

const (
	// CAONTRS is the default convergent scheme: externally-supplied or
	// self-deriving key, AES-CBC CAONT mask, Cauchy-RS distribution.
	CAONTRS Variant = iota
	// OldCAONTRS is convergent like CAONTRS but always self-derives its
	// key from the aligned secret and verifies H(aligned_secret)==key
	// after decode (an older, integrity-checked iteration of the same
	// idea), using the indexed-ECB mask construction instead of CBC.
	OldCAONTRS
	// AONTRS is the non-convergent Resch-Plank construction: a fresh
	// random key every encode, indexed-ECB mask, Reed-Solomon via
	// klauspost/reedsolomon.
	AONTRS
	// CRSSS is Rabin's Information Dispersal Algorithm over GF(2^8): no
	// AONT masking step, a secret hash embedded in a subset of shares
	// for integrity checking after decode.
	CRSSS
)

// Params describes one encode/decode operation's share geometry. Total
// is the number of shares actually produced for this chunk, and Parity is the number of redundant shares.
type Params struct {
	Total    int
	Parity   int
	HashSize int // 32 for HIGH security, 16 for LOW
}

func (p Params) k() int { return p.Total - p.Parity }

func (p Params) validate() error {
	if p.Parity < 0 || p.k() <= 0 {
		return fmt.Errorf("erasure: invalid params total=%d parity=%d", p.Total, p.Parity)
	}
	if p.HashSize != 16 && p.HashSize != 32 {
		return fmt.Errorf("erasure: invalid hash size %d", p.HashSize)
	}
	return nil
}

// Codec encodes a secret into Total erasure-coded shares and decodes any
// k of them back into the secret.
type Codec interface {
	// Encode splits secret into Params.Total shares. key is the
	// convergent key for convergent variants; isHeader requests
	// self-derivation of the key from the secret itself (used for a
	// file's name/header chunk).
	Encode(p Params, key, secret []byte, isHeader bool) (shares [][]byte, err error)
	// Decode reconstructs secret from any k of the Total shares, given
	// by their share IDs (0-indexed row positions in the
	// distribution matrix) and the original secret length.
	Decode(p Params, shareIDs []int, shares [][]byte, secretSize int) (secret []byte, err error)
}

// New returns the Codec implementing the requested variant.
func New(v Variant) (Codec, error) {
	switch v {
	case CAONTRS:
		return caontRS{}, nil
	case OldCAONTRS:
		return oldCAONTRS{}, nil
	case AONTRS:
		return aontRS{}, nil
	case CRSSS:
		return crsss{}, nil
	default:
		return nil, fmt.Errorf("erasure: unknown codec variant %d", v)
	}
}

// caontRS is the primary CAONT-RS codec: AES-CBC CAONT mask, followed by
// a systematic Cauchy-RS split built from our own GF(2^8) matrix.
type caontRS struct{}

func (caontRS) Encode(p Params, key, secret []byte, isHeader bool) ([][]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	effectiveKey := key
	if isHeader {
		hash, err := hashForWidth(p.HashSize)
		if err != nil {
			return nil, err
		}
		aligned := make([]byte, alignSize(len(secret), p.HashSize, k))
		copy(aligned, secret)
		effectiveKey = hash(aligned)
	}

	pkg, err := encodeCAONT(effectiveKey, secret, p.HashSize, k)
	if err != nil {
		return nil, err
	}
	return distributeCauchy(append(append([]byte(nil), pkg.Main...), pkg.Tail...), k, p.Parity)
}

func (caontRS) Decode(p Params, shareIDs []int, shares [][]byte, secretSize int) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	pkgBytes, err := recoverCauchy(shareIDs, shares, k, p.Parity)
	if err != nil {
		return nil, err
	}
	if len(pkgBytes) < p.HashSize {
		return nil, fmt.Errorf("erasure: recovered package too short for tail")
	}
	pkg := caontPackage{Main: pkgBytes[:len(pkgBytes)-p.HashSize], Tail: pkgBytes[len(pkgBytes)-p.HashSize:]}
	secret, _, err := decodeCAONT(pkg, p.HashSize, secretSize)
	return secret, err
}

// distributeCauchy splits package (already a multiple of k in length)
// into k data shares plus m Cauchy parity shares.
func distributeCauchy(pkg []byte, k, m int) ([][]byte, error) {
	if len(pkg)%k != 0 {
		padded := make([]byte, (len(pkg)/k+1)*k)
		copy(padded, pkg)
		pkg = padded
	}
	shardSize := len(pkg) / k
	data := make([][]byte, k)
	for i := 0; i < k; i++ {
		data[i] = pkg[i*shardSize : (i+1)*shardSize]
	}
	if m == 0 {
		return data, nil
	}
	mat, err := BuildDistributionMatrix(k, m)
	if err != nil {
		return nil, err
	}
	parityRows := mat[k:]
	parity := Multiply(parityRows, data)
	return append(data, parity...), nil
}

// recoverCauchy rebuilds the original k*shardSize package from any k of
// the Total shares via Gauss-Jordan inversion of the matching submatrix
// of the Cauchy distribution matrix.
func recoverCauchy(shareIDs []int, shares [][]byte, k, m int) ([]byte, error) {
	if len(shareIDs) < k {
		return nil, fmt.Errorf("erasure: need %d shares to decode, got %d", k, len(shareIDs))
	}
	shareIDs = shareIDs[:k]
	shares = shares[:k]

	mat, err := BuildDistributionMatrix(k, m)
	if err != nil {
		return nil, err
	}
	sub := SubMatrix(mat, shareIDs)
	inv, err := Invert(sub)
	if err != nil {
		return nil, fmt.Errorf("erasure: cannot decode, submatrix singular: %w", err)
	}
	data := Multiply(inv, shares)

	out := make([]byte, 0, len(data)*len(data[0]))
	for _, d := range data {
		out = append(out, d...)
	}
	return out, nil
}

// oldCAONTRS always self-derives its key and verifies it on decode,
// using the indexed-ECB mask rather than CBC.
type oldCAONTRS struct{}

func (oldCAONTRS) Encode(p Params, _ []byte, secret []byte, _ bool) ([][]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	hash, err := hashForWidth(p.HashSize)
	if err != nil {
		return nil, err
	}
	a := alignSize(len(secret), p.HashSize, k)
	aligned := make([]byte, a)
	copy(aligned, secret)
	key := hash(aligned)

	mask, err := indexedECBMask(key, a)
	if err != nil {
		return nil, err
	}
	main := xorBytes(aligned, mask)
	tail := xorBytes(hash(main), key)
	return distributeCauchy(append(main, tail...), k, p.Parity)
}

func (oldCAONTRS) Decode(p Params, shareIDs []int, shares [][]byte, secretSize int) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	k := p.k()
	pkgBytes, err := recoverCauchy(shareIDs, shares, k, p.Parity)
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

	if string(hash(aligned)) != string(key) {
		return nil, fmt.Errorf("erasure: old CAONT-RS integrity check failed: H(aligned_secret) != key")
	}
	if secretSize > len(aligned) {
		return nil, fmt.Errorf("erasure: secretSize %d exceeds aligned package %d", secretSize, len(aligned))
	}
	return aligned[:secretSize], nil
}

// randomKey generates a fresh non-convergent key, used by AONT-RS.
func randomKey(w int) ([]byte, error) {
	key := make([]byte, w)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("erasure: random key generation failed: %w", err)
	}
	return key, nil
}
