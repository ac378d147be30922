// Package netproto implements the control wire protocol's connection
// handling: the magic+length frame codec and the TCP accept loop that
// drives internal/control.Executor over it (spec.md §6).
package netproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the 6-byte preamble sent once per connection before the first
// request's length-prefixed payload.
var Magic = [6]byte{'R', 'A', 'S', 'C', 'S', 'I'}

const maxFrameSize = 1 << 20

// ReadFrame reads one length-prefixed protobuf payload from r. first
// indicates whether the 6-byte magic must be consumed before the length
// prefix, per spec.md §6's "framing only on the first request" rule.
func ReadFrame(r io.Reader, first bool) ([]byte, error) {
	if first {
		var magic [6]byte
		if _, err := io.ReadFull(r, magic[:]); err != nil {
			return nil, fmt.Errorf("read magic: %w", err)
		}
		if magic != Magic {
			return nil, fmt.Errorf("bad magic %q", magic)
		}
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return buf, nil
}

// WriteFrame writes a length-prefixed payload, always without the magic
// preamble: replies never carry it, per spec.md §6.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
