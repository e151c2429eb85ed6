// Package uploader implements the per-cloud, per-channel two-stage
// deduplication upload protocol. One Uploader drives either
// a cloud's meta connection or its data connection; both sub-streams
// run the identical META/STAT/DATA exchange, just over different share
// populations (the metadata chunks themselves are sharable, dedup-able
// blobs on the meta connection; the content shares are the payload on
// the data connection).
package uploader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/dispatch"
	"github.com/metadedup/metadedup/internal/wire"
)

// Entry pairs a MetaNode with the share body it describes, the unit an
// Uploader batches into containers.
type Entry struct {
	Node dispatch.MetaNode
	Body []byte
}

// Uploader batches Entries into containers no larger than Capacity,
// running the META/STAT/DATA protocol once per container, and tracks
// the accuData/accuUnique counters.
type Uploader struct {
	conn     io.ReadWriter
	path     string
	capacity int

	numPastSecrets int32

	AccuData   uint64
	AccuUnique uint64

	pending    []Entry
	pendingLen int
}

// New builds an Uploader writing file path's entries over conn, batching
// up to capacity bytes of metadata+body per container.
func New(conn io.ReadWriter, path string, capacity int) *Uploader {
	if capacity <= 0 {
		capacity = int(constants.ShareContainerCapacity)
	}
	return &Uploader{conn: conn, path: path, capacity: capacity}
}

// Add buffers one entry, flushing the current container first if the
// entry would overflow it.
func (u *Uploader) Add(e Entry) error {
	size := entryWireSize(e.Node) + len(e.Body)
	if u.pendingLen > 0 && u.pendingLen+size > u.capacity {
		if err := u.flush(false); err != nil {
			return err
		}
	}
	u.pending = append(u.pending, e)
	u.pendingLen += size
	return nil
}

// Flush sends any buffered entries as a final container. metaEnd marks
// the end of metadata for this file on the meta sub-stream; callers on
// the data sub-stream always pass false.
func (u *Uploader) Flush(metaEnd bool) error {
	return u.flush(metaEnd)
}

func (u *Uploader) flush(metaEnd bool) error {
	if len(u.pending) == 0 {
		if metaEnd {
			return u.sendEmptyMetaEnd()
		}
		return nil
	}
	entries := u.pending
	u.pending = nil
	u.pendingLen = 0
	return u.sendContainer(entries, metaEnd)
}

// sendContainer runs one META/STAT/DATA round for entries.
func (u *Uploader) sendContainer(entries []Entry, metaEnd bool) error {
	nodes := make([]dispatch.MetaNode, len(entries))
	for i, e := range entries {
		nodes[i] = e.Node
	}
	metaBytes := marshalFileHead(u.numPastSecrets, int32(len(entries)), u.path, nodes)

	if err := wire.WriteFrame(u.conn, wire.Frame{Indicator: constants.IndicatorMeta, Payload: metaBytes}); err != nil {
		return fmt.Errorf("uploader: send META failed: %w", err)
	}

	ind, err := wire.ReadIndicator(u.conn)
	if err != nil {
		return fmt.Errorf("uploader: read STAT indicator failed: %w", err)
	}
	if ind != constants.IndicatorStat {
		return fmt.Errorf("uploader: expected STAT indicator, got %d", ind)
	}
	stat, err := wire.ReadStatFrameBody(u.conn)
	if err != nil {
		return fmt.Errorf("uploader: read STAT body failed: %w", err)
	}
	if len(stat.Duplicate) != len(entries) {
		return fmt.Errorf("uploader: STAT bitmap length %d != %d entries", len(stat.Duplicate), len(entries))
	}

	var nonDup bytes.Buffer
	for i, e := range entries {
		u.AccuData += uint64(len(e.Body))
		if stat.Duplicate[i] {
			continue
		}
		nonDup.Write(e.Body)
		u.AccuUnique += uint64(len(e.Body))
	}

	if err := wire.WriteDataFrame(u.conn, wire.DataFrame{MetaEnd: metaEnd, Payload: nonDup.Bytes()}); err != nil {
		return fmt.Errorf("uploader: send DATA failed: %w", err)
	}

	u.numPastSecrets += int32(len(entries))
	return nil
}

// sendEmptyMetaEnd signals the end of metadata on the meta sub-stream
// for a file that had no data chunks at all.
func (u *Uploader) sendEmptyMetaEnd() error {
	metaBytes := marshalFileHead(u.numPastSecrets, 0, u.path, nil)
	if err := wire.WriteFrame(u.conn, wire.Frame{Indicator: constants.IndicatorMeta, Payload: metaBytes}); err != nil {
		return fmt.Errorf("uploader: send empty META failed: %w", err)
	}
	ind, err := wire.ReadIndicator(u.conn)
	if err != nil {
		return fmt.Errorf("uploader: read STAT indicator failed: %w", err)
	}
	if ind != constants.IndicatorStat {
		return fmt.Errorf("uploader: expected STAT indicator, got %d", ind)
	}
	if _, err := wire.ReadStatFrameBody(u.conn); err != nil {
		return fmt.Errorf("uploader: read STAT body failed: %w", err)
	}
	return wire.WriteDataFrame(u.conn, wire.DataFrame{MetaEnd: true})
}

// entryWireSize is the serialized size of one MetaEntry, not counting its
// body, used for container-capacity accounting.
func entryWireSize(n dispatch.MetaNode) int {
	return len(n.ShareFP) + 8 + 4 + 4 + 8 + 4
}

// marshalFileHead builds file_header ‖ path ‖ MetaEntry[]. file_header carries the running numOfPastSecrets and this
// container's numOfComingSecrets.
func marshalFileHead(numPast, numComing int32, path string, nodes []dispatch.MetaNode) []byte {
	var buf bytes.Buffer
	writeI32(&buf, numPast)
	writeI32(&buf, numComing)
	writeU32(&buf, uint32(len(path)))
	buf.WriteString(path)
	writeU32(&buf, uint32(len(nodes)))
	for _, n := range nodes {
		buf.Write(n.ShareFP)
		writeI64(&buf, n.SecretID)
		writeI32(&buf, n.SecretSize)
		writeI32(&buf, n.ShareSize)
		writeI64(&buf, int64(n.SegID))
		writeI32(&buf, n.ShareID)
	}
	return buf.Bytes()
}

func writeI32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}
