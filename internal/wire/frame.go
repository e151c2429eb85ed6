// Package wire implements the metadedup per-cloud binary framing protocol:
// fixed-width little-endian integers on every channel except the
// connection-opening userID, which is big-endian network order. That
// asymmetry is a long-standing protocol quirk, honored rather than
// normalized.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/metadedup/metadedup/internal/constants"
)

// WriteUserID writes the connection-opening userID in big-endian network order.
func WriteUserID(w io.Writer, userID uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], userID)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write userID: %w", err)
	}
	return nil
}

// ReadUserID reads the connection-opening userID in big-endian network order.
func ReadUserID(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read userID: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteIndicator writes a 4-byte little-endian frame indicator/size field.
func WriteIndicator(w io.Writer, v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write indicator: %w", err)
	}
	return nil
}

// ReadIndicator reads a 4-byte little-endian frame indicator/size field.
func ReadIndicator(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read indicator: %w", err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteU32 writes a 4-byte little-endian unsigned size/count field.
func WriteU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write u32: %w", err)
	}
	return nil
}

// ReadU32 reads a 4-byte little-endian unsigned size/count field.
func ReadU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read u32: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteBytes writes a u32-size-prefixed byte blob.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteU32(w, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write bytes: %w", err)
	}
	return nil
}

// ReadBytes reads a u32-size-prefixed byte blob.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read bytes: %w", err)
	}
	return buf, nil
}

// Frame is a single length-prefixed protocol message: a 4-byte indicator
// (negative for control frames, non-negative as a continuation indicator
// on the data channel) followed by a u32 size and that many payload bytes.
type Frame struct {
	Indicator int32
	Payload   []byte
}

// WriteFrame writes indicator ‖ size ‖ payload.
func WriteFrame(w io.Writer, f Frame) error {
	if err := WriteIndicator(w, f.Indicator); err != nil {
		return err
	}
	return WriteBytes(w, f.Payload)
}

// ReadFrame reads indicator ‖ size ‖ payload.
func ReadFrame(r io.Reader) (Frame, error) {
	ind, err := ReadIndicator(r)
	if err != nil {
		return Frame{}, err
	}
	payload, err := ReadBytes(r)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Indicator: ind, Payload: payload}, nil
}

// DataFrame is the DATA(-2) meta-channel frame, which additionally carries
// the meta_end_flag ahead of the usual size/payload pair.
type DataFrame struct {
	MetaEnd bool
	Payload []byte
}

// WriteDataFrame writes DATA(-2) ‖ i32 meta_end ‖ size ‖ payload.
func WriteDataFrame(w io.Writer, f DataFrame) error {
	if err := WriteIndicator(w, constants.IndicatorData); err != nil {
		return err
	}
	flag := int32(0)
	if f.MetaEnd {
		flag = 1
	}
	if err := WriteIndicator(w, flag); err != nil {
		return err
	}
	return WriteBytes(w, f.Payload)
}

// ReadDataFrameBody reads the meta_end flag and payload after the caller has
// already consumed the DATA(-2) indicator.
func ReadDataFrameBody(r io.Reader) (DataFrame, error) {
	flag, err := ReadIndicator(r)
	if err != nil {
		return DataFrame{}, err
	}
	payload, err := ReadBytes(r)
	if err != nil {
		return DataFrame{}, err
	}
	return DataFrame{MetaEnd: flag != 0, Payload: payload}, nil
}

// StatFrame is the server's STAT(-3) duplicate bitmap response.
type StatFrame struct {
	Duplicate []bool
}

// WriteStatFrame writes STAT(-3) ‖ u32 num ‖ bool[num].
func WriteStatFrame(w io.Writer, f StatFrame) error {
	if err := WriteIndicator(w, constants.IndicatorStat); err != nil {
		return err
	}
	if err := WriteU32(w, uint32(len(f.Duplicate))); err != nil {
		return err
	}
	buf := make([]byte, len(f.Duplicate))
	for i, b := range f.Duplicate {
		if b {
			buf[i] = 1
		}
	}
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write stat bitmap: %w", err)
		}
	}
	return nil
}

// ReadStatFrameBody reads the bitmap after the STAT indicator has been consumed.
func ReadStatFrameBody(r io.Reader) (StatFrame, error) {
	n, err := ReadU32(r)
	if err != nil {
		return StatFrame{}, err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return StatFrame{}, fmt.Errorf("read stat bitmap: %w", err)
		}
	}
	out := make([]bool, n)
	for i, b := range buf {
		out[i] = b != 0
	}
	return StatFrame{Duplicate: out}, nil
}
