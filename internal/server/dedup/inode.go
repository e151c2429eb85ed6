package dedup

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/metadedup/metadedup/internal/server/kvstore"
)

const inodeBucket = "inodes"

// InodeEntry is the latest (recipe_name, offset) pointer for one user's
// file. Versions are append-only: every flush
// rewrites this entry to the tail, and prior versions remain reachable
// by walking the recipe file's own history.
type InodeEntry struct {
	RecipeName Name
	Offset     int32
}

// InodeIndex maps H(userID||path) to the current InodeEntry for that
// user's file.
type InodeIndex struct {
	store *kvstore.Store
}

// NewInodeIndex builds an InodeIndex over store.
func NewInodeIndex(store *kvstore.Store) *InodeIndex {
	return &InodeIndex{store: store}
}

// InodeKey computes H(userID‖full_path), the inode index's key.
func InodeKey(userID int32, path string) []byte {
	h := sha256.New()
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(userID))
	h.Write(idBuf[:])
	h.Write([]byte(path))
	return h.Sum(nil)
}

// Lookup returns the latest InodeEntry for (userID, path).
func (idx *InodeIndex) Lookup(userID int32, path string) (InodeEntry, bool, error) {
	raw, err := idx.store.Get(inodeBucket, InodeKey(userID, path))
	if err != nil {
		return InodeEntry{}, false, err
	}
	if raw == nil {
		return InodeEntry{}, false, nil
	}
	if len(raw) < 20 {
		return InodeEntry{}, false, fmt.Errorf("dedup: inode entry too short")
	}
	var e InodeEntry
	copy(e.RecipeName[:], raw[0:16])
	e.Offset = int32(binary.LittleEndian.Uint32(raw[16:20]))
	return e, true, nil
}

// Update rewrites the inode entry to point at the tail of the file's
// most recent recipe write.
func (idx *InodeIndex) Update(userID int32, path string, e InodeEntry) error {
	var buf bytes.Buffer
	buf.Write(e.RecipeName[:])
	writeI32(&buf, e.Offset)
	return idx.store.Put(inodeBucket, InodeKey(userID, path), buf.Bytes())
}
