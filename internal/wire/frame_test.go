package wire

import (
	"bytes"
	"testing"
)

func TestUserIDRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteUserID(&buf, 0xdeadbeef); err != nil {
		t.Fatalf("WriteUserID failed: %v", err)
	}
	// Big-endian: first byte should be 0xde.
	if buf.Bytes()[0] != 0xde {
		t.Fatalf("userID not big-endian: got %x", buf.Bytes())
	}
	got, err := ReadUserID(&buf)
	if err != nil {
		t.Fatalf("ReadUserID failed: %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("userID round-trip: got %x, want %x", got, 0xdeadbeef)
	}
}

func TestIndicatorLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteIndicator(&buf, -2); err != nil {
		t.Fatalf("WriteIndicator failed: %v", err)
	}
	got, err := ReadIndicator(&buf)
	if err != nil {
		t.Fatalf("ReadIndicator failed: %v", err)
	}
	if got != -2 {
		t.Errorf("indicator round-trip: got %d, want -2", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", nil},
		{"small payload", []byte("hello")},
		{"binary payload", []byte{0x00, 0xff, 0x10, 0x00, 0x01}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			want := Frame{Indicator: -1, Payload: tc.payload}
			if err := WriteFrame(&buf, want); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			got, err := ReadFrame(&buf)
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if got.Indicator != want.Indicator {
				t.Errorf("indicator: got %d, want %d", got.Indicator, want.Indicator)
			}
			if !bytes.Equal(got.Payload, want.Payload) {
				t.Errorf("payload: got %x, want %x", got.Payload, want.Payload)
			}
		})
	}
}

func TestDataFrameMetaEndFlag(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDataFrame(&buf, DataFrame{MetaEnd: true, Payload: []byte("x")}); err != nil {
		t.Fatalf("WriteDataFrame failed: %v", err)
	}
	ind, err := ReadIndicator(&buf)
	if err != nil {
		t.Fatalf("ReadIndicator failed: %v", err)
	}
	if ind != -2 {
		t.Fatalf("expected DATA indicator -2, got %d", ind)
	}
	got, err := ReadDataFrameBody(&buf)
	if err != nil {
		t.Fatalf("ReadDataFrameBody failed: %v", err)
	}
	if !got.MetaEnd {
		t.Errorf("expected MetaEnd=true")
	}
	if string(got.Payload) != "x" {
		t.Errorf("payload: got %q, want %q", got.Payload, "x")
	}
}

func TestStatFrameBitmap(t *testing.T) {
	var buf bytes.Buffer
	want := StatFrame{Duplicate: []bool{true, false, true, true, false}}
	if err := WriteStatFrame(&buf, want); err != nil {
		t.Fatalf("WriteStatFrame failed: %v", err)
	}
	ind, err := ReadIndicator(&buf)
	if err != nil {
		t.Fatalf("ReadIndicator failed: %v", err)
	}
	if ind != -3 {
		t.Fatalf("expected STAT indicator -3, got %d", ind)
	}
	got, err := ReadStatFrameBody(&buf)
	if err != nil {
		t.Fatalf("ReadStatFrameBody failed: %v", err)
	}
	if len(got.Duplicate) != len(want.Duplicate) {
		t.Fatalf("bitmap length: got %d, want %d", len(got.Duplicate), len(want.Duplicate))
	}
	for i := range want.Duplicate {
		if got.Duplicate[i] != want.Duplicate[i] {
			t.Errorf("bitmap[%d]: got %v, want %v", i, got.Duplicate[i], want.Duplicate[i])
		}
	}
}
