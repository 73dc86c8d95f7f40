// Package protocol defines the wire format spoken between the chat server
// and its clients: a length-framed transport layer carrying encrypted
// envelope payloads.
//
// The transport layer is content-agnostic. Every steady-state message,
// including the username handshake, is a 4-byte big-endian unsigned
// payload length followed by that many payload bytes. What the payload
// contains (ciphertext wrapping a JSON envelope) is the concern of the
// layers above.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFraming reports a stream that violated the framing contract: a
// truncated header, a truncated body, or a declared length larger than
// the reader's limit.
var ErrFraming = errors.New("protocol: malformed frame")

// headerLength is the fixed size of the length prefix.
const headerLength = 4

// DefaultMaxFrameSize bounds payload allocation for readers that do not
// supply their own limit. 64 KiB is generous for chat envelopes.
const DefaultMaxFrameSize = 64 * 1024

// Frame returns payload prefixed with its 4-byte big-endian length.
// An empty payload produces a header-only frame.
func Frame(payload []byte) []byte {
	framed := make([]byte, headerLength+len(payload))
	binary.BigEndian.PutUint32(framed[:headerLength], uint32(len(payload)))
	copy(framed[headerLength:], payload)
	return framed
}

// WriteFrame writes payload to w as a single length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(Frame(payload)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its payload. It blocks
// until the full declared length has been read, looping over partial
// reads. A clean close before any header byte arrives returns io.EOF so
// callers can tell an orderly disconnect from a protocol violation; a
// stream that ends mid-header or mid-body returns ErrFraming, as does a
// declared length exceeding max. A max of zero selects
// DefaultMaxFrameSize.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	if max == 0 {
		max = DefaultMaxFrameSize
	}

	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated header: %w", ErrFraming, err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > max {
		return nil, fmt.Errorf("%w: declared length %d exceeds limit %d", ErrFraming, length, max)
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: stream closed before %d byte body completed: %w", ErrFraming, length, err)
	}
	return payload, nil
}
