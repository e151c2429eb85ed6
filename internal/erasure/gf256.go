// Package erasure implements the Convergent All-Or-Nothing Transform and
// systematic Cauchy Reed-Solomon coding over GF(2^8), plus three
// alternative codecs (AONT-RS, old CAONT-RS, CRSSS) behind one Codec
// interface.
//
// The primary CAONT-RS path builds its own GF(2^8) field and Cauchy
// distribution matrix to match the exact identity-on-top-of-Cauchy
// construction and Gauss-Jordan inversion its decode side depends on;
// the alternative codecs delegate their Reed-Solomon layer to
// github.com/klauspost/reedsolomon (see DESIGN.md).
package erasure

// field is GF(2^8) with the irreducible polynomial x^8+x^4+x^3+x^2+1
// (0x11D) — the standard Reed-Solomon field polynomial (also used by QR
// codes and CCSDS, and distinct from AES's own field, which uses 0x11B).
// github.com/klauspost/reedsolomon builds its tables over the same
// polynomial, so values computed here and values computed by the
// alternative codecs' RS layer are interoperable. See DESIGN.md for how
// this was chosen absent the original gf_complete source in the
// retrieval pack.
const poly = 0x11D

var expTable [512]byte
var logTable [256]byte

func init() {
	x := byte(1)
	for i := 0; i < 255; i++ {
		expTable[i] = x
		logTable[x] = byte(i)
		hi := x & 0x80
		x <<= 1
		if hi != 0 {
			x ^= byte(poly)
		}
	}
	for i := 255; i < 512; i++ {
		expTable[i] = expTable[i-255]
	}
}

// gfMul multiplies two GF(2^8) elements.
func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return expTable[int(logTable[a])+int(logTable[b])]
}

// gfInv returns the multiplicative inverse of a non-zero GF(2^8) element.
func gfInv(a byte) byte {
	if a == 0 {
		panic("erasure: gfInv(0) is undefined")
	}
	return expTable[255-int(logTable[a])]
}

// gfDiv computes a/b in GF(2^8).
func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return expTable[(int(logTable[a])-int(logTable[b])+255)%255]
}
