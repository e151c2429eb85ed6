package frontend

import (
	"encoding/binary"
	"fmt"

	"github.com/metadedup/metadedup/internal/server/dedup"
)

// fileHead is the parsed form of one META frame payload: the running
// numPastSecrets, this container's entries, and the path they belong to.
type fileHead struct {
	NumPastSecrets   int32
	NumComingSecrets int32
	Path             string
	Entries          []dedup.ShareMeta
}

// unmarshalFileHead parses the byte-exact counterpart of
// uploader.marshalFileHead: numPast:i32, numComing:i32, pathLen:u32, path,
// numNodes:u32, [ShareFP(fpSize) + SecretID:i64 + SecretSize:i32 +
// ShareSize:i32 + SegID:i64 + ShareID:i32]*.
func unmarshalFileHead(buf []byte, fpSize int) (fileHead, error) {
	r := &reader{buf: buf}

	numPast, err := r.i32()
	if err != nil {
		return fileHead{}, fmt.Errorf("frontend: read numPastSecrets: %w", err)
	}
	numComing, err := r.i32()
	if err != nil {
		return fileHead{}, fmt.Errorf("frontend: read numComingSecrets: %w", err)
	}
	pathLen, err := r.u32()
	if err != nil {
		return fileHead{}, fmt.Errorf("frontend: read pathLen: %w", err)
	}
	pathBytes, err := r.bytes(int(pathLen))
	if err != nil {
		return fileHead{}, fmt.Errorf("frontend: read path: %w", err)
	}
	numNodes, err := r.u32()
	if err != nil {
		return fileHead{}, fmt.Errorf("frontend: read numNodes: %w", err)
	}

	entries := make([]dedup.ShareMeta, numNodes)
	for i := range entries {
		fp, err := r.bytes(fpSize)
		if err != nil {
			return fileHead{}, fmt.Errorf("frontend: read entry %d ShareFP: %w", i, err)
		}
		secretID, err := r.i64()
		if err != nil {
			return fileHead{}, fmt.Errorf("frontend: read entry %d SecretID: %w", i, err)
		}
		secretSize, err := r.i32()
		if err != nil {
			return fileHead{}, fmt.Errorf("frontend: read entry %d SecretSize: %w", i, err)
		}
		shareSize, err := r.i32()
		if err != nil {
			return fileHead{}, fmt.Errorf("frontend: read entry %d ShareSize: %w", i, err)
		}
		segID, err := r.i64()
		if err != nil {
			return fileHead{}, fmt.Errorf("frontend: read entry %d SegID: %w", i, err)
		}
		shareID, err := r.i32()
		if err != nil {
			return fileHead{}, fmt.Errorf("frontend: read entry %d ShareID: %w", i, err)
		}
		entries[i] = dedup.ShareMeta{
			ShareFP:    fp,
			SecretID:   secretID,
			SecretSize: secretSize,
			ShareSize:  shareSize,
			SegID:      uint64(segID),
			ShareID:    shareID,
		}
	}

	if !r.exhausted() {
		return fileHead{}, fmt.Errorf("frontend: %d trailing bytes after META payload", len(r.buf)-r.pos)
	}

	return fileHead{
		NumPastSecrets:   numPast,
		NumComingSecrets: numComing,
		Path:             string(pathBytes),
		Entries:          entries,
	}, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) exhausted() bool { return r.pos == len(r.buf) }

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("short read: want %d bytes, %d remain", n, len(r.buf)-r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) i64() (int64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}
