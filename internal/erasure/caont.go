package erasure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"fmt"
)

// hashForWidth returns the hash function matching a key width, mirroring
// the security-level-driven hash selection used throughout the module.
func hashForWidth(w int) (func([]byte) []byte, error) {
	switch w {
	case 32:
		return func(b []byte) []byte { h := sha256.Sum256(b); return h[:] }, nil
	case 16:
		return func(b []byte) []byte { h := md5.Sum(b); return h[:] }, nil
	default:
		return nil, fmt.Errorf("erasure: unsupported key width %d", w)
	}
}

// alignSize returns the smallest A >= size such that (A+w) is a multiple
// of w*k, which guarantees A is itself a multiple of w (and therefore a
// multiple of the AES block size, since w is 16 or 32) so the CBC mask
// can be generated without padding.
func alignSize(size, w, k int) int {
	block := w * k
	if block <= 0 {
		block = w
	}
	target := size + w
	t := (target + block - 1) / block // ceiling division: smallest t with t*block >= target
	return t*block - w
}

// constantBuffer fills a buffer of length n with i mod 256, the fixed
// plaintext masked under the CAONT key.
func constantBuffer(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

// cbcMask encrypts a constant buffer of length n under key with a zero
// IV using AES-CBC, producing the CAONT mask. n must be a multiple of
// the AES block size.
func cbcMask(key []byte, n int) ([]byte, error) {
	block, err := newAESBlock(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	mode := cipher.NewCBCEncrypter(block, iv)
	src := constantBuffer(n)
	dst := make([]byte, n)
	mode.CryptBlocks(dst, src)
	return dst, nil
}

// newAESBlock builds an AES cipher for keys of width 16 or 32 bytes; a
// 32-byte key selects AES-256, a 16-byte key selects AES-128.
func newAESBlock(key []byte) (cipher.Block, error) {
	return aes.NewCipher(key)
}

// ecbMaskBlock encrypts a single 16-byte block under key with ECB (no
// chaining), used by the indexed-ECB construction in the old CAONT-RS
// and AONT-RS variants.
func ecbMaskBlock(key []byte, block []byte) ([]byte, error) {
	c, err := newAESBlock(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aes.BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// indexedECBMask produces an n-byte mask as the concatenation of
// AES_ECB(key, LE64(blockIndex) ‖ zero-pad) for successive block indices.
// The Resch-Plank family of AONT codecs masks with this construction
// instead of CAONT-RS's single CBC pass.
func indexedECBMask(key []byte, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for i := 0; len(out) < n; i++ {
		block := make([]byte, aes.BlockSize)
		v := uint64(i)
		for b := 0; b < 8; b++ {
			block[b] = byte(v >> (8 * b))
		}
		m, err := ecbMaskBlock(key, block)
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	return out[:n], nil
}

// caontPackage bundles the masked package body and integrity tail
// produced by the AONT step, prior to Cauchy-RS distribution.
type caontPackage struct {
	Main []byte // aligned_secret XOR mask, length A
	Tail []byte // H(package_main) XOR key, length w
}

// encodeCAONT runs the forward CAONT transform: pad the secret to the
// aligned size, mask it under key with an AES-CBC keystream, and append
// an integrity tail that lets the key be recovered from the package
// alone.
func encodeCAONT(key, secret []byte, w, k int) (caontPackage, error) {
	if len(key) != w {
		return caontPackage{}, fmt.Errorf("erasure: key width %d does not match w=%d", len(key), w)
	}
	hash, err := hashForWidth(w)
	if err != nil {
		return caontPackage{}, err
	}

	a := alignSize(len(secret), w, k)
	aligned := make([]byte, a)
	copy(aligned, secret)

	mask, err := cbcMask(key, a)
	if err != nil {
		return caontPackage{}, fmt.Errorf("erasure: caont mask failed: %w", err)
	}
	main := xorBytes(aligned, mask)

	h := hash(main)
	tail := xorBytes(h, key)

	return caontPackage{Main: main, Tail: tail}, nil
}

// decodeCAONT reverses encodeCAONT given the package, the word size w,
// and the plaintext's true (unpadded) length; the aligned size is
// len(pkg.Main).
func decodeCAONT(pkg caontPackage, w int, secretSize int) (secret, key []byte, err error) {
	hash, err := hashForWidth(w)
	if err != nil {
		return nil, nil, err
	}
	h := hash(pkg.Main)
	key = xorBytes(h, pkg.Tail)

	mask, err := cbcMask(key, len(pkg.Main))
	if err != nil {
		return nil, nil, fmt.Errorf("erasure: caont unmask failed: %w", err)
	}
	aligned := xorBytes(pkg.Main, mask)
	if secretSize > len(aligned) {
		return nil, nil, fmt.Errorf("erasure: secretSize %d exceeds aligned package %d", secretSize, len(aligned))
	}
	return aligned[:secretSize], key, nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i%len(b)]
	}
	return out
}
