package downloader

import (
	"bytes"
	"testing"

	"github.com/metadedup/metadedup/internal/erasure"
)

func TestValidateMetaListAscending(t *testing.T) {
	good := []MetaListEntry{{EndSecretID: 3}, {EndSecretID: 7}, {EndSecretID: 20}}
	if err := ValidateMetaListAscending(0, good); err != nil {
		t.Errorf("expected ascending list to validate, got %v", err)
	}
	bad := []MetaListEntry{{EndSecretID: 7}, {EndSecretID: 7}}
	if err := ValidateMetaListAscending(0, bad); err == nil {
		t.Errorf("expected non-strictly-ascending list to fail validation")
	}
}

func TestShareIDForSecretLookup(t *testing.T) {
	entries := []MetaListEntry{
		{SegID: 0, ShareID: 2, EndSecretID: 5},
		{SegID: 1, ShareID: -1, EndSecretID: 9},
		{SegID: 2, ShareID: 0, EndSecretID: 30},
	}
	id, seg, ok := ShareIDForSecret(entries, 3)
	if !ok || id != 2 || seg != 0 {
		t.Errorf("secret 3: got id=%d seg=%d ok=%v, want 2,0,true", id, seg, ok)
	}
	id, _, ok = ShareIDForSecret(entries, 8)
	if !ok || id != -1 {
		t.Errorf("secret 8: expected KM placeholder share_id -1, got %d ok=%v", id, ok)
	}
	_, _, ok = ShareIDForSecret(entries, 31)
	if ok {
		t.Errorf("secret 31: expected no covering entry")
	}
}

func TestDecodeSecretFaultTolerance(t *testing.T) {
	// N=5 -> 4 non-KM shares, m=1 parity, k=3.
	params := Params{NumClouds: 5, Parity: 1, HashSize: 32}
	codec, err := erasure.New(erasure.CAONTRS)
	if err != nil {
		t.Fatalf("erasure.New failed: %v", err)
	}
	secret := bytes.Repeat([]byte("fault-tolerant-chunk-body"), 3)
	key := bytes.Repeat([]byte{0x5A}, 32)
	allShares, err := codec.Encode(params.erasureParams(), key, secret, false)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(allShares) != 4 {
		t.Fatalf("expected 4 shares, got %d", len(allShares))
	}

	d, err := NewDecoder(params, erasure.CAONTRS)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}

	// Simulate cloud index 1 (share_id 1) being down; only 3 of 4 remain.
	available := []CloudShare{
		{CloudIndex: 0, SecretID: 1, ShareID: 0, Body: allShares[0]},
		{CloudIndex: 2, SecretID: 1, ShareID: 2, Body: allShares[2]},
		{CloudIndex: 3, SecretID: 1, ShareID: 3, Body: allShares[3]},
	}
	got, err := d.DecodeSecret(1, len(secret), available, false)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("decoded secret mismatch")
	}
}

func TestDecodeSecretInsufficientClouds(t *testing.T) {
	params := Params{NumClouds: 5, Parity: 1, HashSize: 32}
	d, err := NewDecoder(params, erasure.CAONTRS)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	_, err = d.DecodeSecret(1, 10, []CloudShare{{ShareID: 0, Body: []byte("x")}}, false)
	var insufficient *ErrInsufficientClouds
	if err == nil {
		t.Fatalf("expected ErrInsufficientClouds")
	}
	if !asInsufficient(err, &insufficient) {
		t.Errorf("expected *ErrInsufficientClouds, got %T: %v", err, err)
	}
}

func asInsufficient(err error, target **ErrInsufficientClouds) bool {
	e, ok := err.(*ErrInsufficientClouds)
	if ok {
		*target = e
	}
	return ok
}

func TestSelectSpecialCloud(t *testing.T) {
	if got := SelectSpecialCloud([]int{0, 1, 2}, 3); got != -1 {
		t.Errorf("expected no special cloud when exactly k available, got %d", got)
	}
	if got := SelectSpecialCloud([]int{0, 1, 2, 3}, 3); got != 3 {
		t.Errorf("expected the last available cloud to be special, got %d", got)
	}
}
