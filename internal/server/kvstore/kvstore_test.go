package kvstore

import (
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), "shares")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	key := []byte{0x01, 0xAA, 0xBB}
	val := []byte("container-head-bytes")
	if err := s.Put("shares", key, val); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get("shares", key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(val) {
		t.Errorf("Get: got %q, want %q", got, val)
	}

	missing, err := s.Get("shares", []byte("nope"))
	if err != nil {
		t.Fatalf("Get missing key failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing key, got %v", missing)
	}
}

func TestWriteBatchIsAtomic(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), "idx")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	batches := []Batch{
		{Bucket: "idx", Key: []byte("a"), Value: []byte("1")},
		{Bucket: "idx", Key: []byte("b"), Value: []byte("2")},
	}
	if err := s.WriteBatch(batches); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	for _, want := range batches {
		got, err := s.Get(want.Bucket, want.Key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != string(want.Value) {
			t.Errorf("key %s: got %q, want %q", want.Key, got, want.Value)
		}
	}

	bad := []Batch{
		{Bucket: "idx", Key: []byte("c"), Value: []byte("3")},
		{Bucket: "missing", Key: []byte("d"), Value: []byte("4")},
	}
	if err := s.WriteBatch(bad); err == nil {
		t.Fatalf("WriteBatch into an unknown bucket succeeded")
	}
	got, err := s.Get("idx", []byte("c"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("failed batch left key c written: %q", got)
	}
}

func TestForEachOrdering(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), "names")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"b", "a", "c"} {
		if err := s.Put("names", []byte(k), []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	var order []string
	err = s.ForEach("names", func(k, v []byte) error {
		order = append(order, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if order[i] != k {
			t.Errorf("ForEach order[%d]: got %s, want %s", i, order[i], k)
		}
	}
}
