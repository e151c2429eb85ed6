package segment

import (
	"fmt"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/keyexchange"
)

// SendFor resolves the wire transport to use for a particular KM endpoint
// index, so the router can be tested without a live network connection.
type SendFor func(kmIndex uint8) keyexchange.Transport

// KeyRouter performs the blinded key exchange for a finished segment and
// stamps the resulting key and KM routing index onto every chunk in the
// segment; the segment ID is stamped earlier, by Segmenter.Add.
type KeyRouter struct {
	client   *keyexchange.Client
	policy   constants.KMPolicy
	hashSize int
	verify   bool
	kmCount  int
}

// NewKeyRouter builds a KeyRouter for a deployment of kmCount KM
// endpoints. verify enables ExchangeVerified's blind-signature check and
// single retry.
func NewKeyRouter(client *keyexchange.Client, policy constants.KMPolicy, hashSize int, kmCount int, verify bool) *KeyRouter {
	return &KeyRouter{client: client, policy: policy, hashSize: hashSize, kmCount: kmCount, verify: verify}
}

// Route runs the key exchange for minFP and writes key/km_cloud_index into
// every chunk of segChunks.
func (r *KeyRouter) Route(segChunks []*chunker.Chunk, minFP []byte, sendFor SendFor) error {
	kmIndex := uint8(0)
	if r.policy == constants.Dynamic {
		idx, err := keyexchange.KMCloudIndex(minFP, r.kmCount)
		if err != nil {
			return fmt.Errorf("segment: km routing failed: %w", err)
		}
		kmIndex = idx
	}

	send := sendFor(kmIndex)

	var (
		key []byte
		err error
	)
	if r.verify {
		key, kmIndex, err = r.client.ExchangeVerified(minFP, r.policy, r.hashSize, send)
	} else {
		key, kmIndex, err = r.client.Exchange(minFP, r.policy, r.hashSize, send)
	}
	if err != nil {
		return fmt.Errorf("segment: key exchange failed: %w", err)
	}

	for _, c := range segChunks {
		c.Key = key
		c.KMCloudIdx = kmIndex
	}
	return nil
}
