// Package keyexchange implements the blinded RSA convergent-key exchange
// between the client and a Key Manager. The only
// arithmetic needed is modexp/modmul/modinv over a fixed 1024-bit modulus,
// so this package depends on crypto/rsa and math/big directly rather than
// a third-party bignum library (see DESIGN.md).
package keyexchange

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/metadedup/metadedup/internal/constants"
)

// PublicKey is the KM's RSA public key, fixed at a 128-byte modulus.
type PublicKey struct {
	N *big.Int
	E *big.Int
}

// NewPublicKey wraps a stdlib RSA public key, validating the fixed modulus width.
func NewPublicKey(pub *rsa.PublicKey) (*PublicKey, error) {
	n := pub.N
	if (n.BitLen()+7)/8 != constants.RSAModulusBytes {
		return nil, fmt.Errorf("keyexchange: modulus is %d bytes, want %d", (n.BitLen()+7)/8, constants.RSAModulusBytes)
	}
	return &PublicKey{N: n, E: big.NewInt(int64(pub.E))}, nil
}

// PrivateKey is the KM's RSA private exponent, used only server-side.
type PrivateKey struct {
	N *big.Int
	D *big.Int
	E *big.Int
}

// NewPrivateKey wraps a stdlib RSA private key.
func NewPrivateKey(priv *rsa.PrivateKey) (*PrivateKey, error) {
	if (priv.N.BitLen()+7)/8 != constants.RSAModulusBytes {
		return nil, fmt.Errorf("keyexchange: modulus is %d bytes, want %d", (priv.N.BitLen()+7)/8, constants.RSAModulusBytes)
	}
	return &PrivateKey{N: priv.N, D: priv.D, E: big.NewInt(int64(priv.E))}, nil
}

// Public returns the corresponding public key.
func (p *PrivateKey) Public() *PublicKey {
	return &PublicKey{N: p.N, E: p.E}
}

// FixedWidthBytes serializes v as big-endian, left-zero-padded to
// constants.RSAModulusBytes.
func FixedWidthBytes(v *big.Int) []byte {
	out := make([]byte, constants.RSAModulusBytes)
	b := v.Bytes()
	if len(b) > constants.RSAModulusBytes {
		b = b[len(b)-constants.RSAModulusBytes:]
	}
	copy(out[constants.RSAModulusBytes-len(b):], b)
	return out
}

// randomBlind draws a random blinding factor r in [2, n-1], 256 bits wide,
// and its modular inverse mod n.
func randomBlind(n *big.Int) (r, rInv *big.Int, err error) {
	for {
		r, err = rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 256))
		if err != nil {
			return nil, nil, fmt.Errorf("keyexchange: rng failure: %w", err)
		}
		if r.Cmp(big.NewInt(2)) < 0 {
			continue
		}
		if r.Cmp(n) >= 0 {
			r.Mod(r, n)
			if r.Cmp(big.NewInt(2)) < 0 {
				continue
			}
		}
		inv := new(big.Int).ModInverse(r, n)
		if inv == nil {
			continue // r shares a factor with n; vanishingly rare, retry
		}
		return r, inv, nil
	}
}

// Sign computes s = blinded^d mod n on the KM side, fixed-width encoded.
func (p *PrivateKey) Sign(blinded []byte) ([]byte, error) {
	if len(blinded) != constants.RSAModulusBytes {
		return nil, fmt.Errorf("keyexchange: blinded value must be %d bytes, got %d", constants.RSAModulusBytes, len(blinded))
	}
	m := new(big.Int).SetBytes(blinded)
	s := new(big.Int).Exp(m, p.D, p.N)
	return FixedWidthBytes(s), nil
}
