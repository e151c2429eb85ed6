package keyexchange

import (
	"fmt"

	"github.com/metadedup/metadedup/internal/constants"
)

// Signer is the stateless per-request KM core: for each
// 128-byte blinded value it returns blinded^d mod n, fixed-width encoded.
type Signer struct {
	priv *PrivateKey
}

// NewSigner wraps a KM private key.
func NewSigner(priv *PrivateKey) *Signer {
	return &Signer{priv: priv}
}

// SignBatch signs num concatenated 128-byte blinded values read from buf.
// num == constants.ExitKMThread signals the caller to terminate the
// handling goroutine without processing any values.
func (s *Signer) SignBatch(num int32, buf []byte) (exit bool, out []byte, err error) {
	if num == constants.ExitKMThread {
		return true, nil, nil
	}
	if num < 0 {
		return false, nil, fmt.Errorf("keyexchange: invalid batch count %d", num)
	}
	want := int(num) * constants.RSAModulusBytes
	if len(buf) != want {
		return false, nil, fmt.Errorf("keyexchange: batch buffer is %d bytes, want %d for %d values", len(buf), want, num)
	}

	out = make([]byte, 0, want)
	for i := 0; i < int(num); i++ {
		chunk := buf[i*constants.RSAModulusBytes : (i+1)*constants.RSAModulusBytes]
		signed, err := s.priv.Sign(chunk)
		if err != nil {
			return false, nil, fmt.Errorf("keyexchange: sign value %d: %w", i, err)
		}
		out = append(out, signed...)
	}
	return false, out, nil
}
