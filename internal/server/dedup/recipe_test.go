package dedup

import (
	"bytes"
	"testing"
)

func TestRecipeAppendAndReadRoundTrip(t *testing.T) {
	store, err := NewRecipeStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRecipeStore failed: %v", err)
	}
	defer store.Close()

	var name Name
	entries := []RecipeEntry{
		{ShareFP: bytes.Repeat([]byte{1}, 32), SecretID: 1, SecretSize: 100, SegID: 5, ShareID: 0},
		{ShareFP: bytes.Repeat([]byte{2}, 32), SecretID: 2, SecretSize: 100, SegID: 5, ShareID: 1},
	}
	head := RecipeHead{UserID: 42, FileSize: 200, NumShares: int32(len(entries))}

	offset, err := store.Append(name, head, "/backup/file.bin", entries)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected first record at offset 0, got %d", offset)
	}

	gotHead, gotPath, gotEntries, err := store.ReadRecord(name, offset)
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if gotHead != head {
		t.Errorf("head mismatch: got %+v, want %+v", gotHead, head)
	}
	if gotPath != "/backup/file.bin" {
		t.Errorf("path mismatch: got %q", gotPath)
	}
	if len(gotEntries) != 2 || gotEntries[1].SecretID != 2 {
		t.Errorf("entries mismatch: %+v", gotEntries)
	}
}

func TestRecipeMultipleVersionsAppendOnly(t *testing.T) {
	store, err := NewRecipeStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewRecipeStore failed: %v", err)
	}
	defer store.Close()

	var name Name
	entries1 := []RecipeEntry{{ShareFP: bytes.Repeat([]byte{1}, 32), SecretID: 1, SegID: 0, ShareID: 0}}
	off1, err := store.Append(name, RecipeHead{UserID: 1, FileSize: 10, NumShares: 1}, "/f", entries1)
	if err != nil {
		t.Fatalf("Append v1 failed: %v", err)
	}

	entries2 := []RecipeEntry{
		{ShareFP: bytes.Repeat([]byte{1}, 32), SecretID: 1, SegID: 0, ShareID: 0},
		{ShareFP: bytes.Repeat([]byte{2}, 32), SecretID: 2, SegID: 0, ShareID: 1},
	}
	off2, err := store.Append(name, RecipeHead{UserID: 1, FileSize: 20, NumShares: 2}, "/f", entries2)
	if err != nil {
		t.Fatalf("Append v2 failed: %v", err)
	}
	if off2 <= off1 {
		t.Fatalf("expected second version offset to be after the first")
	}

	// Both versions remain independently readable.
	_, _, e1, err := store.ReadRecord(name, off1)
	if err != nil || len(e1) != 1 {
		t.Fatalf("expected v1 still readable with 1 entry, err=%v entries=%v", err, e1)
	}
	_, _, e2, err := store.ReadRecord(name, off2)
	if err != nil || len(e2) != 2 {
		t.Fatalf("expected v2 readable with 2 entries, err=%v entries=%v", err, e2)
	}
}
