package downloader

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/wire"
)

// ShareRecord is one entry‖body pair read back from a cloud's data
// connection during restore.
type ShareRecord struct {
	ShareFP    []byte
	SecretID   int64
	SecretSize int32
	SegID      uint64
	ShareID    int32
	Body       []byte
}

// FetchMetaList runs one INIT_REQUEST/SEND_META_LIST round trip on a
// cloud's meta connection. ok is false if the cloud has no such path.
func FetchMetaList(conn io.ReadWriter, specialFlag int32, name, plainName string) (entries []MetaListEntry, ok bool, err error) {
	if err := wire.WriteIndicator(conn, constants.IndicatorInitRequest); err != nil {
		return nil, false, fmt.Errorf("downloader: write INIT_REQUEST indicator: %w", err)
	}
	if err := wire.WriteIndicator(conn, specialFlag); err != nil {
		return nil, false, fmt.Errorf("downloader: write special_flag: %w", err)
	}
	if err := wire.WriteBytes(conn, []byte(name)); err != nil {
		return nil, false, fmt.Errorf("downloader: write name: %w", err)
	}
	if err := wire.WriteBytes(conn, []byte(plainName)); err != nil {
		return nil, false, fmt.Errorf("downloader: write plain_name: %w", err)
	}

	ind, err := wire.ReadIndicator(conn)
	if err != nil {
		return nil, false, fmt.Errorf("downloader: read INIT_REQUEST response indicator: %w", err)
	}
	if ind == constants.IndicatorEndDownload {
		return nil, false, nil
	}
	if ind != constants.IndicatorSendMetaList {
		return nil, false, fmt.Errorf("downloader: expected SEND_META_LIST, got indicator %d", ind)
	}

	payload, err := wire.ReadBytes(conn)
	if err != nil {
		return nil, false, fmt.Errorf("downloader: read SEND_META_LIST payload: %w", err)
	}
	entries, err = parseMetaList(payload)
	if err != nil {
		return nil, false, err
	}

	successInd, err := wire.ReadIndicator(conn)
	if err != nil {
		return nil, false, fmt.Errorf("downloader: read FILE_RECIPE_SUCCESS: %w", err)
	}
	if successInd != constants.IndicatorFileRecipeSuccess {
		return nil, false, fmt.Errorf("downloader: expected FILE_RECIPE_SUCCESS, got indicator %d", successInd)
	}
	return entries, true, nil
}

func parseMetaList(buf []byte) ([]MetaListEntry, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("downloader: meta list payload too short")
	}
	count := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	entries := make([]MetaListEntry, count)
	for i := range entries {
		if len(buf) < 20 {
			return nil, fmt.Errorf("downloader: meta list entry %d truncated", i)
		}
		entries[i] = MetaListEntry{
			SegID:       binary.LittleEndian.Uint64(buf[0:8]),
			ShareID:     int32(binary.LittleEndian.Uint32(buf[8:12])),
			EndSecretID: int64(binary.LittleEndian.Uint64(buf[12:20])),
		}
		buf = buf[20:]
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("downloader: %d trailing bytes in meta list payload", len(buf))
	}
	return entries, nil
}

// FetchShares runs one DOWNLOAD round trip on a cloud's data connection,
// returning every ShareRecord for path in recipe order, or ok=false if
// the cloud has no such path.
func FetchShares(conn io.ReadWriter, path string, fpSize int) (records []ShareRecord, ok bool, err error) {
	if err := wire.WriteFrame(conn, wire.Frame{Indicator: constants.IndicatorDownload, Payload: []byte(path)}); err != nil {
		return nil, false, fmt.Errorf("downloader: write DOWNLOAD request: %w", err)
	}

	for {
		f, err := wire.ReadFrame(conn)
		if err != nil {
			return nil, false, fmt.Errorf("downloader: read data frame: %w", err)
		}
		switch f.Indicator {
		case constants.IndicatorNoDataChunksFound:
			return nil, false, nil
		case constants.IndicatorContinue, constants.IndicatorEndOfDataChunks:
			recs, err := parseShareEntries(f.Payload, fpSize)
			if err != nil {
				return nil, false, err
			}
			records = append(records, recs...)
			if f.Indicator == constants.IndicatorEndOfDataChunks {
				return records, true, nil
			}
		default:
			return nil, false, fmt.Errorf("downloader: unexpected data indicator %d", f.Indicator)
		}
	}
}

// parseShareEntries walks a batch of shareEntry‖body records: ShareFP
// (fpSize) ‖ SecretID:i64 ‖ SecretSize:i32 ‖ SegID:i64 ‖ ShareID:i32 ‖
// bodyLen:u32 ‖ body, repeated to the end of buf.
func parseShareEntries(buf []byte, fpSize int) ([]ShareRecord, error) {
	var out []ShareRecord
	for len(buf) > 0 {
		need := fpSize + 8 + 4 + 8 + 4 + 4
		if len(buf) < need {
			return nil, fmt.Errorf("downloader: share entry header truncated")
		}
		fp := append([]byte(nil), buf[:fpSize]...)
		buf = buf[fpSize:]
		secretID := int64(binary.LittleEndian.Uint64(buf[:8]))
		buf = buf[8:]
		secretSize := int32(binary.LittleEndian.Uint32(buf[:4]))
		buf = buf[4:]
		segID := binary.LittleEndian.Uint64(buf[:8])
		buf = buf[8:]
		shareID := int32(binary.LittleEndian.Uint32(buf[:4]))
		buf = buf[4:]
		bodyLen := binary.LittleEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < bodyLen {
			return nil, fmt.Errorf("downloader: share entry body truncated")
		}
		body := buf[:bodyLen]
		buf = buf[bodyLen:]

		out = append(out, ShareRecord{
			ShareFP:    fp,
			SecretID:   secretID,
			SecretSize: secretSize,
			SegID:      segID,
			ShareID:    shareID,
			Body:       body,
		})
	}
	return out, nil
}
