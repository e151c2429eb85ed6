package frontend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/server/dedup"
	"github.com/metadedup/metadedup/internal/wire"
)

// handleInitRequest services one INIT_REQUEST(-9) on the meta connection:
// look up the file's recipe and reply with a SEND_META_LIST describing
// every (segment, share) run, or END_DOWNLOAD_INDICATOR if the user has
// no such path. The caller has already consumed the -9 indicator.
func (s *Server) handleInitRequest(conn io.ReadWriter, userID int32) error {
	specialFlag, err := wire.ReadIndicator(conn)
	if err != nil {
		return fmt.Errorf("read special_flag: %w", err)
	}
	// name is accepted but unused; only plain_name drives the inode lookup.
	if _, err := wire.ReadBytes(conn); err != nil {
		return fmt.Errorf("read name: %w", err)
	}
	plainName, err := wire.ReadBytes(conn)
	if err != nil {
		return fmt.Errorf("read plain_name: %w", err)
	}
	path := string(plainName)

	_, entries, err := s.MetaCore.Restore(userID, path)
	if err != nil {
		if errors.Is(err, dedup.ErrNoDataChunksFound) {
			return wire.WriteFrame(conn, wire.Frame{Indicator: constants.IndicatorEndDownload})
		}
		return fmt.Errorf("restore: %w", err)
	}
	if specialFlag == constants.LastShareSpecialFlag {
		for i := range entries {
			entries[i].ShareID = -1
		}
	}

	listBytes := marshalMetaList(entries)
	if err := wire.WriteFrame(conn, wire.Frame{Indicator: constants.IndicatorSendMetaList, Payload: listBytes}); err != nil {
		return fmt.Errorf("write SEND_META_LIST: %w", err)
	}
	return wire.WriteFrame(conn, wire.Frame{Indicator: constants.IndicatorFileRecipeSuccess})
}

// marshalMetaList groups consecutive recipe entries sharing a (SegID,
// ShareID) pair into MetaListEntry runs, each carrying the last SecretID
// covered by that run, matching the "strictly ascending end_secret_id"
// server-order property.
func marshalMetaList(entries []dedup.RecipeEntry) []byte {
	type run struct {
		SegID       uint64
		ShareID     int32
		EndSecretID int64
	}
	var runs []run
	for _, e := range entries {
		if n := len(runs); n > 0 && runs[n-1].SegID == e.SegID && runs[n-1].ShareID == e.ShareID {
			runs[n-1].EndSecretID = e.SecretID
			continue
		}
		runs = append(runs, run{SegID: e.SegID, ShareID: e.ShareID, EndSecretID: e.SecretID})
	}

	buf := make([]byte, 4, 4+len(runs)*20)
	binary.LittleEndian.PutUint32(buf, uint32(len(runs)))
	for _, r := range runs {
		var tmp [20]byte
		binary.LittleEndian.PutUint64(tmp[0:8], r.SegID)
		binary.LittleEndian.PutUint32(tmp[8:12], uint32(r.ShareID))
		binary.LittleEndian.PutUint64(tmp[12:20], uint64(r.EndSecretID))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// downloadFrameSize batches shareEntry‖body pairs up to this many bytes
// per frame before flushing, the restore-path counterpart of the
// upload-side 4 MiB container capacity.
const downloadFrameSize = 4 * 1024 * 1024

// handleDownloadRequest services one DOWNLOAD(-7) on the data connection:
// name is the plaintext file path, resolved through the data service's
// own recipe (the meta connection's SEND_META_LIST is a summary for the
// client's bookkeeping, not the data source). Entries are streamed as
// shareEntry‖body pairs in batches, the final batch carrying
// END_OF_DATA_CHUNKS instead of IndicatorContinue. The caller has already
// consumed the -7 indicator.
func (s *Server) handleDownloadRequest(conn io.ReadWriter, userID int32) error {
	nameBytes, err := wire.ReadBytes(conn)
	if err != nil {
		return fmt.Errorf("read name: %w", err)
	}
	path := string(nameBytes)

	_, entries, err := s.DataCore.Restore(userID, path)
	if err != nil && !errors.Is(err, dedup.ErrNoDataChunksFound) {
		return fmt.Errorf("restore: %w", err)
	}
	if errors.Is(err, dedup.ErrNoDataChunksFound) || len(entries) == 0 {
		return wire.WriteFrame(conn, wire.Frame{Indicator: constants.IndicatorNoDataChunksFound})
	}

	var batch []byte
	for i, e := range entries {
		body, err := s.DataCore.ReadShareBody(e.ShareFP)
		if err != nil {
			return fmt.Errorf("read share body for entry %d: %w", i, err)
		}
		batch = append(batch, marshalShareEntry(e, body)...)

		last := i == len(entries)-1
		if len(batch) >= downloadFrameSize || last {
			ind := constants.IndicatorContinue
			if last {
				ind = constants.IndicatorEndOfDataChunks
			}
			if err := wire.WriteFrame(conn, wire.Frame{Indicator: ind, Payload: batch}); err != nil {
				return fmt.Errorf("write data batch: %w", err)
			}
			batch = nil
		}
	}
	return nil
}

// marshalShareEntry serializes one recipe entry and its body as
// ShareFP ‖ SecretID:i64 ‖ SecretSize:i32 ‖ SegID:i64 ‖ ShareID:i32 ‖
// bodyLen:u32 ‖ body, the unit the restore-side decoder reassembles.
func marshalShareEntry(e dedup.RecipeEntry, body []byte) []byte {
	out := make([]byte, 0, len(e.ShareFP)+8+4+8+4+4+len(body))
	out = append(out, e.ShareFP...)
	out = appendI64(out, e.SecretID)
	out = appendI32(out, e.SecretSize)
	out = appendI64(out, int64(e.SegID))
	out = appendI32(out, e.ShareID)
	out = appendI32(out, int32(len(body)))
	out = append(out, body...)
	return out
}

func appendI32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendI64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
