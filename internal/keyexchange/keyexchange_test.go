package keyexchange

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/metadedup/metadedup/internal/constants"
)

func testKeyPair(t *testing.T) (*PrivateKey, *PublicKey) {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, constants.RSAModulusBytes*8)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	priv, err := NewPrivateKey(raw)
	if err != nil {
		t.Fatalf("NewPrivateKey failed: %v", err)
	}
	return priv, priv.Public()
}

func TestBlindedExchangeRoundTrip(t *testing.T) {
	priv, pub := testKeyPair(t)
	signer := NewSigner(priv)

	client, err := NewClient([]*PublicKey{pub}, 0)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	send := func(blinded []byte) ([]byte, error) {
		_, out, err := signer.SignBatch(1, blinded)
		return out, err
	}

	minFP := []byte("0123456789abcdef0123456789abcdef")
	key1, kmIdx, err := client.Exchange(minFP, constants.Static, 32, send)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if kmIdx != 0 {
		t.Errorf("STATIC policy must route to KM 0, got %d", kmIdx)
	}
	if len(key1) != 32 {
		t.Fatalf("key size: got %d, want 32", len(key1))
	}

	key2, _, err := client.Exchange(minFP, constants.Static, 32, send)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if string(key1) != string(key2) {
		t.Errorf("key convergence: two exchanges for the same min_fp produced different keys")
	}
}

func TestExchangeCaching(t *testing.T) {
	priv, pub := testKeyPair(t)
	signer := NewSigner(priv)
	client, err := NewClient([]*PublicKey{pub}, 16)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	calls := 0
	send := func(blinded []byte) ([]byte, error) {
		calls++
		_, out, err := signer.SignBatch(1, blinded)
		return out, err
	}

	minFP := []byte("segment-min-fingerprint-32bytes!")
	if _, _, err := client.Exchange(minFP, constants.Static, 32, send); err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if _, _, err := client.Exchange(minFP, constants.Static, 32, send); err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cache hit to avoid second KM round trip, got %d calls", calls)
	}
}

func TestKMCloudIndexRouting(t *testing.T) {
	minFP := make([]byte, 32)
	minFP[0] = 7 // u64_le low byte
	idx, err := KMCloudIndex(minFP, 5)
	if err != nil {
		t.Fatalf("KMCloudIndex failed: %v", err)
	}
	if idx != 7%5 {
		t.Errorf("routing: got %d, want %d", idx, 7%5)
	}
}

func TestVerifiedExchangeDetectsTampering(t *testing.T) {
	priv, pub := testKeyPair(t)
	client, err := NewClient([]*PublicKey{pub}, 0)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_ = priv

	attempts := 0
	send := func(blinded []byte) ([]byte, error) {
		attempts++
		bad := make([]byte, len(blinded))
		copy(bad, blinded)
		bad[0] ^= 0xff
		return bad, nil
	}

	_, _, err = client.ExchangeVerified([]byte("min-fp-bytes-of-some-length-here"), constants.Static, 32, send)
	if err == nil {
		t.Fatalf("expected verification failure on tampered response")
	}
	if attempts != 2 {
		t.Errorf("expected exactly one retry (2 attempts total), got %d", attempts)
	}
}

func TestSignBatchExitMarker(t *testing.T) {
	priv, _ := testKeyPair(t)
	signer := NewSigner(priv)
	exit, out, err := signer.SignBatch(constants.ExitKMThread, nil)
	if err != nil {
		t.Fatalf("SignBatch failed: %v", err)
	}
	if !exit || out != nil {
		t.Errorf("expected exit=true and nil output for exit marker")
	}
}
