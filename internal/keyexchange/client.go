package keyexchange

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/metadedup/metadedup/internal/constants"
)

// Transport performs one KM round trip: send the 128-byte blinded value,
// return the KM's 128-byte response. Implemented over TLS by
// internal/server/km's client counterpart; kept abstract here so the
// exchange protocol is independently testable.
type Transport func(blinded []byte) ([]byte, error)

// Client runs the blinded RSA key exchange against N KM endpoints,
// selecting one per segment by min-hash routing.
type Client struct {
	pubKeys []*PublicKey
	cache   *lru.Cache[string, []byte]
}

// NewClient builds a key-exchange client for N KM public keys, with an
// optional LRU cache of `cacheSize` recent segment keys keyed by min_fp.
// cacheSize <= 0 disables caching.
func NewClient(pubKeys []*PublicKey, cacheSize int) (*Client, error) {
	c := &Client{pubKeys: pubKeys}
	if cacheSize > 0 {
		cache, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("keyexchange: failed to build LRU cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// KMCloudIndex computes the routing target for a segment's minimum
// fingerprint under the DYNAMIC policy:
// km_cloud_index = u64_le(min_fp[0..8]) mod N.
func KMCloudIndex(minFP []byte, n int) (uint8, error) {
	if len(minFP) < 8 {
		return 0, fmt.Errorf("keyexchange: min_fp too short: %d bytes", len(minFP))
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(minFP[i]) << (8 * i)
	}
	return uint8(v % uint64(n)), nil
}

// Exchange performs the blinded RSA round trip for a segment and returns
// the 32-byte (or hashSize-byte) convergent key. policy selects STATIC
// (always KM #0) or DYNAMIC (min-hash routed).
func (c *Client) Exchange(minFP []byte, policy constants.KMPolicy, hashSize int, send Transport) (key []byte, kmIndex uint8, err error) {
	kmIndex = 0
	if policy == constants.Dynamic {
		kmIndex, err = KMCloudIndex(minFP, len(c.pubKeys))
		if err != nil {
			return nil, 0, err
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(string(minFP)); ok {
			return cached, kmIndex, nil
		}
	}

	key, err = c.exchangeWith(minFP, kmIndex, hashSize, send, false)
	if err != nil {
		return nil, 0, err
	}

	if c.cache != nil {
		c.cache.Add(string(minFP), key)
	}
	return key, kmIndex, nil
}

// ExchangeVerified behaves like Exchange but neither reads nor fills the
// cache, and checks the KM's response against its own public key
// (s^e mod n == m) before trusting it; on any failed attempt, transport
// error or failed verification, it retries the exchange once.
func (c *Client) ExchangeVerified(minFP []byte, policy constants.KMPolicy, hashSize int, send Transport) (key []byte, kmIndex uint8, err error) {
	kmIndex = 0
	if policy == constants.Dynamic {
		kmIndex, err = KMCloudIndex(minFP, len(c.pubKeys))
		if err != nil {
			return nil, 0, err
		}
	}

	key, err = c.exchangeWith(minFP, kmIndex, hashSize, send, true)
	if err != nil {
		key, err = c.exchangeWith(minFP, kmIndex, hashSize, send, true)
		if err != nil {
			return nil, 0, err
		}
	}
	return key, kmIndex, nil
}

func (c *Client) exchangeWith(minFP []byte, kmIndex uint8, hashSize int, send Transport, verify bool) ([]byte, error) {
	if int(kmIndex) >= len(c.pubKeys) {
		return nil, fmt.Errorf("keyexchange: km index %d out of range (%d KMs)", kmIndex, len(c.pubKeys))
	}
	pub := c.pubKeys[kmIndex]

	r, rInv, err := randomBlind(pub.N)
	if err != nil {
		return nil, err
	}

	h := sha256.Sum256(minFP)
	hInt := new(big.Int).SetBytes(h[:])
	hInt.Mod(hInt, pub.N)

	rE := new(big.Int).Exp(r, pub.E, pub.N)
	m := new(big.Int).Mul(hInt, rE)
	m.Mod(m, pub.N)

	blinded := FixedWidthBytes(m)
	resp, err := send(blinded)
	if err != nil {
		return nil, fmt.Errorf("keyexchange: KM round trip failed: %w", err)
	}
	if len(resp) != constants.RSAModulusBytes {
		return nil, fmt.Errorf("keyexchange: KM response is %d bytes, want %d", len(resp), constants.RSAModulusBytes)
	}
	s := new(big.Int).SetBytes(resp)

	if verify {
		check := new(big.Int).Exp(s, pub.E, pub.N)
		if check.Cmp(m) != 0 {
			return nil, fmt.Errorf("keyexchange: KM response failed blind verification")
		}
	}

	t := new(big.Int).Mul(s, rInv)
	t.Mod(t, pub.N)

	tBytes := FixedWidthBytes(t)
	digest := sha256.Sum256(tBytes)
	return deriveKeySize(digest[:], hashSize), nil
}

// deriveKeySize truncates or zero-extends a digest to the security level's
// key size.
func deriveKeySize(digest []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, digest)
	return out
}
