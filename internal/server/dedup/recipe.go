package dedup

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RecipeHead opens one versioned record within a recipe file.
type RecipeHead struct {
	UserID    int32
	FileSize  int64
	NumShares int32
}

// RecipeEntry is one share reference within a recipe record.
type RecipeEntry struct {
	ShareFP    []byte
	SecretID   int64
	SecretSize int32
	SegID      uint64
	ShareID    int32
}

// RecipeStore manages the per-user append-only recipe files in one
// directory, one file per recipe Name (named by Name.String()).
type RecipeStore struct {
	dir string
	mu  sync.Mutex
	fds map[Name]*os.File
}

// NewRecipeStore opens a RecipeStore rooted at dir, creating it if absent.
func NewRecipeStore(dir string) (*RecipeStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dedup: mkdir recipe dir failed: %w", err)
	}
	return &RecipeStore{dir: dir, fds: make(map[Name]*os.File)}, nil
}

func (s *RecipeStore) fileFor(name Name) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.fds[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name.String()), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dedup: open recipe file failed: %w", err)
	}
	s.fds[name] = f
	return f, nil
}

// Append writes head ‖ path ‖ entries as one record at the current end
// of file name, returning the byte offset the record starts at (what
// InodeEntry.Offset points to).
func (s *RecipeStore) Append(name Name, head RecipeHead, path string, entries []RecipeEntry) (int64, error) {
	f, err := s.fileFor(name)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("dedup: seek recipe file failed: %w", err)
	}

	buf := marshalRecipeRecord(head, path, entries)
	if _, err := f.Write(buf); err != nil {
		return 0, fmt.Errorf("dedup: write recipe record failed: %w", err)
	}
	return offset, nil
}

// ReadRecord reads back one record at offset within name.
func (s *RecipeStore) ReadRecord(name Name, offset int64) (RecipeHead, string, []RecipeEntry, error) {
	f, err := s.fileFor(name)
	if err != nil {
		return RecipeHead{}, "", nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return RecipeHead{}, "", nil, fmt.Errorf("dedup: seek recipe file failed: %w", err)
	}
	return readRecipeRecord(f)
}

// Close closes every open recipe file handle.
func (s *RecipeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, f := range s.fds {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func marshalRecipeRecord(head RecipeHead, path string, entries []RecipeEntry) []byte {
	buf := make([]byte, 0, 16+4+len(path)+len(entries)*56)
	buf = appendI32(buf, head.UserID)
	buf = appendI64(buf, head.FileSize)
	buf = appendI32(buf, int32(len(entries)))
	buf = appendU32(buf, uint32(len(path)))
	buf = append(buf, path...)
	for _, e := range entries {
		buf = append(buf, e.ShareFP...)
		buf = appendI64(buf, e.SecretID)
		buf = appendI32(buf, e.SecretSize)
		buf = appendI64(buf, int64(e.SegID))
		buf = appendI32(buf, e.ShareID)
	}
	return buf
}

func readRecipeRecord(r io.Reader) (RecipeHead, string, []RecipeEntry, error) {
	var head RecipeHead
	if err := binary.Read(r, binary.LittleEndian, &head.UserID); err != nil {
		return head, "", nil, fmt.Errorf("dedup: read recipe head failed: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &head.FileSize); err != nil {
		return head, "", nil, fmt.Errorf("dedup: read recipe head failed: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &head.NumShares); err != nil {
		return head, "", nil, fmt.Errorf("dedup: read recipe head failed: %w", err)
	}
	var pathLen uint32
	if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
		return head, "", nil, fmt.Errorf("dedup: read recipe path length failed: %w", err)
	}
	pathBuf := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBuf); err != nil {
		return head, "", nil, fmt.Errorf("dedup: read recipe path failed: %w", err)
	}

	entries := make([]RecipeEntry, head.NumShares)
	for i := range entries {
		fp := make([]byte, 32)
		if _, err := io.ReadFull(r, fp); err != nil {
			return head, "", nil, fmt.Errorf("dedup: read recipe entry fp failed: %w", err)
		}
		var secretID, segID int64
		var secretSize, shareID int32
		if err := binary.Read(r, binary.LittleEndian, &secretID); err != nil {
			return head, "", nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &secretSize); err != nil {
			return head, "", nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &segID); err != nil {
			return head, "", nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &shareID); err != nil {
			return head, "", nil, err
		}
		entries[i] = RecipeEntry{ShareFP: fp, SecretID: secretID, SecretSize: secretSize, SegID: uint64(segID), ShareID: shareID}
	}
	return head, string(pathBuf), entries, nil
}

func appendI64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendI32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
