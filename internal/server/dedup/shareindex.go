package dedup

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/metadedup/metadedup/internal/server/kvstore"
)

const shareBucket = "shares"

// shareIndexKeyType prefixes every share-fp index key, leaving room for
// other key families to share the same bucket namespace.
const shareIndexKeyType = 0x01

// UserRef is one user's reference count on a stored share.
type UserRef struct {
	UserID int32
	RefCnt int32
}

// ShareIndexValue is the value stored for one share fingerprint: where
// its body lives, and which users reference it.
type ShareIndexValue struct {
	ContainerName Name
	ContainerOff  int32
	ShareSize     int32
	Refs          []UserRef
}

func shareIndexKey(fp []byte) []byte {
	return append([]byte{shareIndexKeyType}, fp...)
}

// ShareIndex wraps a kvstore.Store bucket for lookups and atomic updates
// on the share-fp index.
type ShareIndex struct {
	store *kvstore.Store
}

// NewShareIndex builds a ShareIndex over store.
func NewShareIndex(store *kvstore.Store) *ShareIndex {
	return &ShareIndex{store: store}
}

// Lookup returns the stored value for fp, or ok=false if fp is unseen.
func (idx *ShareIndex) Lookup(fp []byte) (ShareIndexValue, bool, error) {
	raw, err := idx.store.Get(shareBucket, shareIndexKey(fp))
	if err != nil {
		return ShareIndexValue{}, false, err
	}
	if raw == nil {
		return ShareIndexValue{}, false, nil
	}
	v, err := decodeShareIndexValue(raw)
	return v, true, err
}

// AddUserRef appends a new user reference on an existing share, or
// bumps ref_cnt when the user already references it.
func (idx *ShareIndex) AddUserRef(fp []byte, userID int32) error {
	v, ok, err := idx.Lookup(fp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dedup: AddUserRef on unknown share fp")
	}
	found := false
	for i := range v.Refs {
		if v.Refs[i].UserID == userID {
			v.Refs[i].RefCnt++
			found = true
			break
		}
	}
	if !found {
		v.Refs = append(v.Refs, UserRef{UserID: userID, RefCnt: 1})
	}
	return idx.store.Put(shareBucket, shareIndexKey(fp), encodeShareIndexValue(v))
}

// Create inserts a brand-new share entry with a single user reference.
func (idx *ShareIndex) Create(fp []byte, v ShareIndexValue, userID int32) error {
	v.Refs = []UserRef{{UserID: userID, RefCnt: 1}}
	return idx.store.Put(shareBucket, shareIndexKey(fp), encodeShareIndexValue(v))
}

func encodeShareIndexValue(v ShareIndexValue) []byte {
	var buf bytes.Buffer
	buf.Write(v.ContainerName[:])
	writeI32(&buf, v.ContainerOff)
	writeI32(&buf, v.ShareSize)
	writeI32(&buf, int32(len(v.Refs)))
	for _, r := range v.Refs {
		writeI32(&buf, r.UserID)
		writeI32(&buf, r.RefCnt)
	}
	return buf.Bytes()
}

func decodeShareIndexValue(raw []byte) (ShareIndexValue, error) {
	const head = 16 + 4 + 4 + 4
	if len(raw) < head {
		return ShareIndexValue{}, fmt.Errorf("dedup: share index value too short")
	}
	var v ShareIndexValue
	copy(v.ContainerName[:], raw[0:16])
	v.ContainerOff = int32(binary.LittleEndian.Uint32(raw[16:20]))
	v.ShareSize = int32(binary.LittleEndian.Uint32(raw[20:24]))
	numUsers := int32(binary.LittleEndian.Uint32(raw[24:28]))
	off := 28
	for i := int32(0); i < numUsers; i++ {
		if off+8 > len(raw) {
			return ShareIndexValue{}, fmt.Errorf("dedup: share index value truncated user refs")
		}
		v.Refs = append(v.Refs, UserRef{
			UserID: int32(binary.LittleEndian.Uint32(raw[off : off+4])),
			RefCnt: int32(binary.LittleEndian.Uint32(raw[off+4 : off+8])),
		})
		off += 8
	}
	return v, nil
}

func writeI32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}
