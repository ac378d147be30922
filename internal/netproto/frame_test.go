package netproto

import (
	"bytes"
	"testing"
)

func TestFrameRoundTripWithMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	payload := []byte{1, 2, 3, 4, 5}
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(&buf, true)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %v, want %v", got, payload)
	}
}

func TestFrameRoundTripWithoutMagic(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("reply body")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(&buf, false)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %v, want %v", got, payload)
	}
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("BADBAD")
	if err := WriteFrame(&buf, []byte("x")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := ReadFrame(&buf, true); err == nil {
		t.Fatalf("expected bad-magic error, got nil")
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x00, 0x10, 0x00}) // little-endian maxFrameSize+1
	if _, err := ReadFrame(&buf, false); err == nil {
		t.Fatalf("expected oversized-length error, got nil")
	}
}
